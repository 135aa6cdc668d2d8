package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/nancy-core/nancy/pkg/brains"
)

// maxPromptChars bounds the assembled prompt. Bundles beyond this are
// rejected with ErrContextOverflow so the caller can shrink and retry.
const maxPromptChars = 48000

var citationPattern = regexp.MustCompile(`\[cite:([^\]\s]+)\]`)

// Brain is the LLM adapter: synthesis with enforced citations and intent
// classification for the query analyzer's fallback path.
type Brain struct {
	gen     Generator
	tracker *brains.LatencyTracker
	logger  *slog.Logger
}

// NewBrain wraps a generator as the LLM brain.
func NewBrain(gen Generator, logger *slog.Logger) *Brain {
	return &Brain{
		gen:     gen,
		tracker: brains.NewLatencyTracker(),
		logger:  logger.With("brain", brains.BrainLLM),
	}
}

// Synthesize answers question from the evidence bundle. The returned answer
// cites only ids present in the bundle; fabricated citations are dropped.
func (b *Brain) Synthesize(ctx context.Context, question string, evidence []brains.EvidenceItem, style string) (*brains.Answer, error) {
	start := time.Now()

	system := synthesisInstruction(style)
	user := synthesisPrompt(question, evidence)
	if len(system)+len(user) > maxPromptChars {
		return nil, fmt.Errorf("%w: prompt is %d chars", brains.ErrContextOverflow, len(system)+len(user))
	}

	text, err := b.gen.Generate(ctx, system, user)
	b.tracker.Observe(time.Since(start), err)
	if err != nil {
		return nil, err
	}

	known := make(map[string]bool, len(evidence))
	for _, item := range evidence {
		known[item.CitationID] = true
	}
	var cited []string
	seen := make(map[string]bool)
	for _, m := range citationPattern.FindAllStringSubmatch(text, -1) {
		id := m[1]
		if known[id] && !seen[id] {
			seen[id] = true
			cited = append(cited, id)
		} else if !known[id] {
			b.logger.Warn("model cited unknown evidence", "citation_id", id)
			text = strings.ReplaceAll(text, "[cite:"+id+"]", "")
		}
	}
	return &brains.Answer{Text: strings.TrimSpace(text), CitationIDs: cited}, nil
}

// ClassifyIntent asks the model for a single intent label with confidence.
func (b *Brain) ClassifyIntent(ctx context.Context, question string) (*brains.IntentGuess, error) {
	start := time.Now()

	text, err := b.gen.Generate(ctx, intentInstruction, "Question: "+question)
	b.tracker.Observe(time.Since(start), err)
	if err != nil {
		return nil, err
	}

	var guess brains.IntentGuess
	if err := json.Unmarshal([]byte(stripCodeFence(text)), &guess); err != nil {
		return nil, fmt.Errorf("decode intent classification: %w", err)
	}
	if guess.Confidence < 0 {
		guess.Confidence = 0
	}
	if guess.Confidence > 1 {
		guess.Confidence = 1
	}
	return &guess, nil
}

// Health folds recent call latency and errors into the common shape.
func (b *Brain) Health(_ context.Context) brains.Health {
	return brains.HealthFrom(b.tracker, nil)
}

func synthesisInstruction(style string) string {
	var sb strings.Builder
	sb.WriteString("You answer questions strictly from the provided evidence. ")
	sb.WriteString("Cite every claim with the evidence id in the form [cite:ID]. ")
	sb.WriteString("If the evidence does not answer the question, say so.")
	switch style {
	case brains.SynthesisExtractive:
		sb.WriteString(" Quote the evidence verbatim; do not paraphrase.")
	case brains.SynthesisTabular:
		sb.WriteString(" Present the answer as a markdown table.")
	}
	return sb.String()
}

func synthesisPrompt(question string, evidence []brains.EvidenceItem) string {
	var sb strings.Builder
	sb.WriteString("Evidence:\n")
	for _, item := range evidence {
		fmt.Fprintf(&sb, "[%s] (%s) %s\n", item.CitationID, item.SourceKind, item.Excerpt)
	}
	sb.WriteString("\nQuestion: ")
	sb.WriteString(question)
	return sb.String()
}

const intentInstruction = `Classify the question into exactly one of:
semantic, structured, relational, hybrid, author_attribution, timeline, causal.
Respond with only a JSON object:
{"kind": "...", "confidence": 0.0, "entities": ["..."]}
entities lists proper names mentioned in the question.`

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx >= 0 {
			s = s[idx+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}

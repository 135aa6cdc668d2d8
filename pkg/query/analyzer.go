// Package query turns natural-language questions into brain sub-queries and
// merges the results into one cited answer.
package query

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/nancy-core/nancy/pkg/brains"
	"github.com/nancy-core/nancy/pkg/packet"
)

// Intent kinds.
const (
	IntentSemantic   = "semantic"
	IntentStructured = "structured"
	IntentRelational = "relational"
	IntentHybrid     = "hybrid"
	IntentAuthor     = "author_attribution"
	IntentTimeline   = "timeline"
	IntentCausal     = "causal"
)

// llmFallbackThreshold is the rule confidence below which the analyzer asks
// the LLM to classify instead.
const llmFallbackThreshold = 0.6

// Analysis is the analyzer's plan for a question.
type Analysis struct {
	Intent        string             `json:"intent"`
	Confidence    float64            `json:"confidence"`
	Entities      []packet.EntityRef `json:"entities,omitempty"`
	Brains        []string           `json:"brains"`
	SynthesisMode string             `json:"synthesis_mode"`
	// UsedLLM records that rule-based classification was inconclusive and the
	// LLM fallback decided the intent.
	UsedLLM bool `json:"used_llm,omitempty"`
}

type intentRule struct {
	pattern    *regexp.Regexp
	intent     string
	confidence float64
}

// Each rule is one cue family. A single matching family decides the intent;
// two or more matching families mean the question spans brains and the
// intent becomes hybrid.
var intentRules = []intentRule{
	{regexp.MustCompile(`(?i)\b(?:who\s+(?:wrote|authored|made|created)|authored\s+by|written\s+by)\b`), IntentAuthor, 0.9},
	{regexp.MustCompile(`(?i)\b(?:when|timeline|sequence\s+of|chronolog\w*|before|after)\b`), IntentTimeline, 0.85},
	{regexp.MustCompile(`(?i)\b(?:because|why|led\s+to|caused?|cause\s+of|resulted\s+in)\b`), IntentCausal, 0.85},
	{regexp.MustCompile(`(?i)\b(?:related\s+to|connected\s+(?:to|with)|relationship|path\s+between|depends\s+on|works\s+with|who\s+(?:attended|knows|owns|leads))\b`), IntentRelational, 0.9},
	{regexp.MustCompile(`(?i)\b(?:how\s+many|count|total|average|avg|sum\s+of|minimum|maximum|median)\b`), IntentStructured, 0.9},
}

// conjunctionCue marks a second, open-ended clause riding on a specific
// question ("who wrote X and what did it define"), which widens a single
// cue family into a hybrid plan.
var conjunctionCue = regexp.MustCompile(`(?i)\band\s+(?:what|which|where|how)\b`)

// capitalizedPhrase matches runs of capitalized words, the analyzer's
// candidate entity mentions.
var capitalizedPhrase = regexp.MustCompile(`\b[A-Z][a-zA-Z0-9]*(?:[ .-][A-Z][a-zA-Z0-9]*)*\b`)

// Analyzer classifies questions and extracts known entities.
type Analyzer struct {
	graph  brains.GraphBrain
	llm    brains.LLMBrain
	logger *slog.Logger
}

// NewAnalyzer wires the analyzer to the graph (entity lookup) and the LLM
// (classification fallback).
func NewAnalyzer(graph brains.GraphBrain, llm brains.LLMBrain, logger *slog.Logger) *Analyzer {
	return &Analyzer{graph: graph, llm: llm, logger: logger.With("component", "query_analyzer")}
}

// Analyze classifies the question and plans which brains to consult.
// Rule-based classification runs first; the LLM is consulted only when the
// rules are inconclusive, and an LLM outage keeps the rule result rather
// than failing the query.
func (a *Analyzer) Analyze(ctx context.Context, question string) (*Analysis, error) {
	analysis := &Analysis{Intent: IntentSemantic, Confidence: 0.4}

	var matched []intentRule
	for _, rule := range intentRules {
		if rule.pattern.MatchString(question) {
			matched = append(matched, rule)
		}
	}
	switch {
	case len(matched) >= 2:
		analysis.Intent = IntentHybrid
		analysis.Confidence = 0.85
	case len(matched) == 1 && conjunctionCue.MatchString(question):
		analysis.Intent = IntentHybrid
		analysis.Confidence = 0.8
	case len(matched) == 1:
		analysis.Intent = matched[0].intent
		analysis.Confidence = matched[0].confidence
	}

	analysis.Entities = a.extractEntities(ctx, question)

	if analysis.Confidence < llmFallbackThreshold && a.llm != nil {
		guess, err := a.llm.ClassifyIntent(ctx, question)
		if err != nil {
			a.logger.Warn("LLM intent fallback unavailable, keeping rule result", "error", err)
		} else if guess != nil && validIntent(guess.Kind) {
			analysis.Intent = guess.Kind
			analysis.Confidence = guess.Confidence
			analysis.UsedLLM = true
			for _, name := range guess.Entities {
				analysis.Entities = append(analysis.Entities, a.lookupEntity(ctx, name)...)
			}
			analysis.Entities = dedupeRefs(analysis.Entities)
		}
	}

	analysis.Brains = brainsForIntent(analysis.Intent, len(analysis.Entities) > 0)
	analysis.SynthesisMode = synthesisModeFor(analysis.Intent)
	return analysis, nil
}

// extractEntities resolves capitalized phrases in the question against the
// graph's known entity names.
func (a *Analyzer) extractEntities(ctx context.Context, question string) []packet.EntityRef {
	var refs []packet.EntityRef
	for _, candidate := range capitalizedPhrase.FindAllString(question, -1) {
		candidate = strings.TrimSpace(candidate)
		if len(candidate) < 2 {
			continue
		}
		refs = append(refs, a.lookupEntity(ctx, candidate)...)
	}
	return dedupeRefs(refs)
}

func (a *Analyzer) lookupEntity(ctx context.Context, name string) []packet.EntityRef {
	if a.graph == nil {
		return nil
	}
	refs, err := a.graph.FindByName(ctx, name)
	if err != nil {
		a.logger.Warn("entity lookup failed", "name", name, "error", err)
		return nil
	}
	return refs
}

// brainsForIntent maps an intent to the brains worth consulting. The graph
// intents pull in the vector brain for surrounding context when the question
// names known entities.
func brainsForIntent(intent string, hasEntities bool) []string {
	switch intent {
	case IntentSemantic:
		return []string{brains.BrainVector}
	case IntentStructured:
		return []string{brains.BrainAnalytical}
	case IntentRelational, IntentAuthor, IntentTimeline, IntentCausal:
		if hasEntities {
			return []string{brains.BrainGraph, brains.BrainVector}
		}
		return []string{brains.BrainGraph}
	default:
		return []string{brains.BrainVector, brains.BrainGraph, brains.BrainAnalytical}
	}
}

// synthesisModeFor picks how the LLM should shape the answer: structured
// results render as rows, attribution and timeline answers quote evidence
// verbatim, everything else is free-form prose with citations.
func synthesisModeFor(intent string) string {
	switch intent {
	case IntentStructured:
		return brains.SynthesisTabular
	case IntentAuthor, IntentTimeline:
		return brains.SynthesisExtractive
	default:
		return brains.SynthesisAbstractive
	}
}

func validIntent(kind string) bool {
	switch kind {
	case IntentSemantic, IntentStructured, IntentRelational, IntentHybrid,
		IntentAuthor, IntentTimeline, IntentCausal:
		return true
	}
	return false
}

func dedupeRefs(refs []packet.EntityRef) []packet.EntityRef {
	seen := make(map[packet.EntityRef]bool, len(refs))
	var out []packet.EntityRef
	for _, ref := range refs {
		if !seen[ref] {
			seen[ref] = true
			out = append(out, ref)
		}
	}
	return out
}

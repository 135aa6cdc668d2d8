package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/nancy-core/nancy/pkg/brains"
	"github.com/nancy-core/nancy/pkg/metrics"
	"github.com/nancy-core/nancy/pkg/packet"
)

// Execution bounds.
const (
	DefaultTopK        = 8
	MaxEvidence        = 12
	PerBrainTimeout    = 10 * time.Second
	TotalTimeout       = 30 * time.Second
	DefaultQueryWindow = 32
	graphDepth         = 2
)

// Citation is one evidence source backing the answer.
type Citation struct {
	ID         string  `json:"id"`
	SourceKind string  `json:"source_kind"`
	PacketID   string  `json:"packet_id,omitempty"`
	Excerpt    string  `json:"excerpt"`
	Score      float64 `json:"score"`
}

// Response is the orchestrator's merged, synthesized result.
type Response struct {
	Question  string     `json:"question"`
	Intent    string     `json:"intent"`
	Answer    string     `json:"answer"`
	Citations []Citation `json:"citations,omitempty"`
	// Synthesis names the mode that produced the answer; "degraded" means
	// the LLM was unavailable and the answer is stitched evidence.
	Synthesis string `json:"synthesis,omitempty"`
	// Degraded reports that some brains were unavailable or synthesis fell
	// back to extraction; Notes say which.
	Degraded       bool              `json:"degraded,omitempty"`
	DegradedBrains []string          `json:"degraded_brains,omitempty"`
	BrainsUsed     []string          `json:"brains_used,omitempty"`
	Timings        map[string]string `json:"timings,omitempty"`
	Notes          []string          `json:"notes,omitempty"`
	// RawEvidence is the merged bundle, returned only when requested.
	RawEvidence []brains.EvidenceItem `json:"raw_evidence,omitempty"`
	Elapsed     string                `json:"elapsed"`
}

// Options tune one query execution.
type Options struct {
	TopK int
	// Style overrides the analyzer's synthesis mode when set.
	Style string
	// PriorityBrain moves one brain to the front of the plan, adding it if
	// the analyzer left it out. "auto" and "" leave the plan alone.
	PriorityBrain string
	// IncludeRaw attaches the merged evidence bundle to the response.
	IncludeRaw bool
}

// Orchestrator fans a question out to the planned brains, merges the scored
// evidence, and synthesizes a cited answer.
type Orchestrator struct {
	analyzer   *Analyzer
	vector     brains.VectorBrain
	analytical brains.AnalyticalBrain
	graph      brains.GraphBrain
	llm        brains.LLMBrain
	logger     *slog.Logger
	metrics    *metrics.Metrics

	perBrainTimeout time.Duration
	totalTimeout    time.Duration
	admission       *semaphore.Weighted
}

// NewOrchestrator wires the orchestrator to the analyzer and all four brains.
func NewOrchestrator(analyzer *Analyzer, vector brains.VectorBrain, analytical brains.AnalyticalBrain,
	graph brains.GraphBrain, llm brains.LLMBrain, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		analyzer:        analyzer,
		vector:          vector,
		analytical:      analytical,
		graph:           graph,
		llm:             llm,
		logger:          logger.With("component", "query_orchestrator"),
		perBrainTimeout: PerBrainTimeout,
		totalTimeout:    TotalTimeout,
		admission:       semaphore.NewWeighted(DefaultQueryWindow),
	}
}

// SetTimeouts overrides the default per-brain and total deadlines.
func (o *Orchestrator) SetTimeouts(perBrain, total time.Duration) {
	if perBrain > 0 {
		o.perBrainTimeout = perBrain
	}
	if total > 0 {
		o.totalTimeout = total
	}
}

// SetMetrics enables per-brain read instrumentation.
func (o *Orchestrator) SetMetrics(m *metrics.Metrics) {
	o.metrics = m
}

// SetQueryWindow bounds the number of concurrently executing queries.
func (o *Orchestrator) SetQueryWindow(n int) {
	if n > 0 {
		o.admission = semaphore.NewWeighted(int64(n))
	}
}

type scoredEvidence struct {
	item     brains.EvidenceItem
	packetID string
	score    float64
}

// Execute answers the question. Brain outages degrade the answer instead of
// failing it; only a question that reaches no brain at all returns an error.
func (o *Orchestrator) Execute(ctx context.Context, question string, opts Options) (*Response, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, o.totalTimeout)
	defer cancel()

	if err := o.admission.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("query admission: %w", err)
	}
	defer o.admission.Release(1)

	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}

	analysis, err := o.analyzer.Analyze(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("analyze question: %w", err)
	}
	analysis.Brains = applyPriority(analysis.Brains, opts.PriorityBrain)

	resp := &Response{Question: question, Intent: analysis.Intent}

	evidence := o.gather(ctx, question, analysis, opts, resp)
	evidence = mergeEvidence(evidence)

	if opts.IncludeRaw {
		resp.RawEvidence = make([]brains.EvidenceItem, len(evidence))
		for i, ev := range evidence {
			resp.RawEvidence[i] = ev.item
		}
	}

	if len(evidence) == 0 {
		resp.Answer = "No relevant knowledge was found for this question."
		resp.Degraded = resp.Degraded || len(resp.Notes) > 0
		resp.Elapsed = time.Since(start).String()
		return resp, nil
	}

	style := opts.Style
	if style == "" {
		style = analysis.SynthesisMode
	}
	o.synthesize(ctx, question, evidence, style, resp)
	resp.Elapsed = time.Since(start).String()
	return resp, nil
}

// applyPriority moves the named brain to the front of the plan, appending it
// when the analyzer did not select it.
func applyPriority(plan []string, priority string) []string {
	switch priority {
	case "", "auto":
		return plan
	case brains.BrainVector, brains.BrainAnalytical, brains.BrainGraph:
	default:
		return plan
	}
	out := []string{priority}
	for _, b := range plan {
		if b != priority {
			out = append(out, b)
		}
	}
	return out
}

// gather runs the planned sub-queries concurrently, each under its own
// timeout. A failed brain adds a degradation note and is skipped.
func (o *Orchestrator) gather(ctx context.Context, question string, analysis *Analysis, opts Options, resp *Response) []scoredEvidence {
	var (
		results  = make([][]scoredEvidence, len(analysis.Brains))
		notes    = make([]string, len(analysis.Brains))
		elapsed  = make([]time.Duration, len(analysis.Brains))
		degraded = make([]bool, len(analysis.Brains))
	)
	g, gctx := errgroup.WithContext(ctx)
	for i, brain := range analysis.Brains {
		g.Go(func() error {
			bctx, cancel := context.WithTimeout(gctx, o.perBrainTimeout)
			defer cancel()

			start := time.Now()
			items, err := o.queryBrain(bctx, brain, question, analysis, opts)
			elapsed[i] = time.Since(start)
			if o.metrics != nil {
				o.metrics.ObserveBrainRead(brain, elapsed[i].Seconds())
			}
			if err != nil {
				o.logger.Warn("brain sub-query failed", "brain", brain, "error", err)
				notes[i] = fmt.Sprintf("%s brain unavailable", brain)
				degraded[i] = true
				return nil
			}
			results[i] = items
			return nil
		})
	}
	g.Wait()

	resp.Timings = make(map[string]string, len(analysis.Brains))
	var evidence []scoredEvidence
	for i, brain := range analysis.Brains {
		resp.Timings[brain] = elapsed[i].String()
		evidence = append(evidence, results[i]...)
		if degraded[i] {
			resp.Notes = append(resp.Notes, notes[i])
			resp.DegradedBrains = append(resp.DegradedBrains, brain)
			resp.Degraded = true
			continue
		}
		resp.BrainsUsed = append(resp.BrainsUsed, brain)
	}
	return evidence
}

func (o *Orchestrator) queryBrain(ctx context.Context, brain, question string, analysis *Analysis, opts Options) ([]scoredEvidence, error) {
	switch brain {
	case brains.BrainVector:
		return o.queryVector(ctx, question, opts.TopK)
	case brains.BrainGraph:
		return o.queryGraph(ctx, analysis.Entities)
	case brains.BrainAnalytical:
		return o.queryAnalytical(ctx)
	default:
		return nil, fmt.Errorf("unknown brain %q", brain)
	}
}

func (o *Orchestrator) queryVector(ctx context.Context, question string, topK int) ([]scoredEvidence, error) {
	hits, err := o.vector.Search(ctx, question, topK, nil)
	if err != nil {
		return nil, err
	}
	out := make([]scoredEvidence, 0, len(hits))
	for _, hit := range hits {
		out = append(out, scoredEvidence{
			item: brains.EvidenceItem{
				SourceKind: brains.SourceChunk,
				CitationID: "chunk:" + hit.ChunkID,
				Excerpt:    hit.Text,
			},
			packetID: hit.PacketID,
			score:    hit.Score,
		})
	}
	return out, nil
}

// queryGraph expands the neighborhood of every extracted entity. Edge scores
// decay with distance from the seed entity.
func (o *Orchestrator) queryGraph(ctx context.Context, entities []packet.EntityRef) ([]scoredEvidence, error) {
	if len(entities) == 0 {
		return nil, nil
	}
	var (
		out  []scoredEvidence
		seen = make(map[string]bool)
	)
	for _, ref := range entities {
		sub, err := o.graph.Neighbors(ctx, ref, graphDepth, nil)
		if err != nil {
			if errors.Is(err, brains.ErrUnknownEntity) {
				continue
			}
			return nil, err
		}
		byID := make(map[brains.EntityID]brains.GraphEntity, len(sub.Entities))
		for _, ent := range sub.Entities {
			byID[ent.ID] = ent
		}
		hops := hopDistances(ref, sub)
		for _, edge := range sub.Relationships {
			src, tgt := byID[edge.SourceID], byID[edge.TargetID]
			id := fmt.Sprintf("edge:%d-%s-%d", edge.SourceID, edge.Relationship, edge.TargetID)
			if seen[id] {
				continue
			}
			seen[id] = true
			dist := hops[edge.SourceID]
			if hops[edge.TargetID] < dist {
				dist = hops[edge.TargetID]
			}
			out = append(out, scoredEvidence{
				item: brains.EvidenceItem{
					SourceKind: brains.SourceEntity,
					CitationID: id,
					Excerpt:    fmt.Sprintf("%s %s %s", src.Name, edge.Relationship, tgt.Name),
				},
				score: edge.Confidence / float64(1+dist),
			})
		}
	}
	return out, nil
}

func (o *Orchestrator) queryAnalytical(ctx context.Context) ([]scoredEvidence, error) {
	rs, err := o.analytical.Query(ctx, brains.StructuredQuery{Limit: MaxEvidence})
	if err != nil {
		return nil, err
	}
	out := make([]scoredEvidence, 0, len(rs.Rows))
	for _, row := range rs.Rows {
		values, _ := json.Marshal(row.Values)
		out = append(out, scoredEvidence{
			item: brains.EvidenceItem{
				SourceKind: brains.SourceRow,
				CitationID: fmt.Sprintf("row:%s:%d", row.PacketID, row.RowIndex),
				Excerpt:    string(values),
			},
			packetID: row.PacketID,
			// Structured rows carry no similarity signal; they rank below
			// strong vector and graph hits.
			score: 0.5,
		})
	}
	return out, nil
}

// hopDistances BFSes the subgraph from the seed to attach a distance to each
// entity id.
func hopDistances(seed packet.EntityRef, sub *brains.Subgraph) map[brains.EntityID]int {
	var seedID brains.EntityID
	found := false
	for _, ent := range sub.Entities {
		if ent.Type == seed.Type && strings.EqualFold(ent.Name, seed.Name) {
			seedID = ent.ID
			found = true
			break
		}
	}
	dist := make(map[brains.EntityID]int, len(sub.Entities))
	if !found {
		return dist
	}
	adj := make(map[brains.EntityID][]brains.EntityID)
	for _, e := range sub.Relationships {
		adj[e.SourceID] = append(adj[e.SourceID], e.TargetID)
		adj[e.TargetID] = append(adj[e.TargetID], e.SourceID)
	}
	dist[seedID] = 0
	frontier := []brains.EntityID{seedID}
	for len(frontier) > 0 {
		var next []brains.EntityID
		for _, id := range frontier {
			for _, other := range adj[id] {
				if _, ok := dist[other]; !ok {
					dist[other] = dist[id] + 1
					next = append(next, other)
				}
			}
		}
		frontier = next
	}
	return dist
}

// mergeEvidence sorts by score (descending), breaking ties by packet id then
// citation id so equal-scored evidence orders identically on every run, then
// dedupes and caps the bundle.
func mergeEvidence(evidence []scoredEvidence) []scoredEvidence {
	sort.SliceStable(evidence, func(i, j int) bool {
		if evidence[i].score != evidence[j].score {
			return evidence[i].score > evidence[j].score
		}
		if evidence[i].packetID != evidence[j].packetID {
			return evidence[i].packetID < evidence[j].packetID
		}
		return evidence[i].item.CitationID < evidence[j].item.CitationID
	})
	seen := make(map[string]bool, len(evidence))
	var out []scoredEvidence
	for _, ev := range evidence {
		if seen[ev.item.CitationID] {
			continue
		}
		seen[ev.item.CitationID] = true
		out = append(out, ev)
		if len(out) == MaxEvidence {
			break
		}
	}
	return out
}

// synthesize produces the final answer. A context overflow shrinks the
// bundle once and retries; any other LLM failure falls back to extractive
// answering from the top evidence.
func (o *Orchestrator) synthesize(ctx context.Context, question string, evidence []scoredEvidence, style string, resp *Response) {
	bundle := make([]brains.EvidenceItem, len(evidence))
	for i, ev := range evidence {
		bundle[i] = ev.item
	}

	answer, err := o.llm.Synthesize(ctx, question, bundle, style)
	if errors.Is(err, brains.ErrContextOverflow) && len(bundle) > 1 {
		o.logger.Info("evidence bundle overflow, retrying with half", "original", len(bundle))
		bundle = bundle[:len(bundle)/2]
		evidence = evidence[:len(evidence)/2]
		answer, err = o.llm.Synthesize(ctx, question, bundle, style)
	}
	if err != nil {
		o.logger.Warn("synthesis unavailable, falling back to extraction", "error", err)
		resp.Degraded = true
		resp.Synthesis = "degraded"
		resp.Notes = append(resp.Notes, "answer synthesis unavailable; returning raw evidence")
		resp.Answer = extractiveAnswer(evidence)
		resp.Citations = citationsFor(evidence, nil)
		return
	}

	resp.Synthesis = style
	resp.Answer = answer.Text
	resp.Citations = citationsFor(evidence, answer.CitationIDs)
}

// extractiveAnswer joins the strongest excerpts verbatim.
func extractiveAnswer(evidence []scoredEvidence) string {
	n := len(evidence)
	if n > 3 {
		n = 3
	}
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		parts[i] = evidence[i].item.Excerpt
	}
	return strings.Join(parts, "\n")
}

// citationsFor materializes citations. When usedIDs is non-nil only the
// citations the answer actually used are returned, in the answer's order.
func citationsFor(evidence []scoredEvidence, usedIDs []string) []Citation {
	byID := make(map[string]scoredEvidence, len(evidence))
	for _, ev := range evidence {
		byID[ev.item.CitationID] = ev
	}
	ids := usedIDs
	if ids == nil {
		ids = make([]string, len(evidence))
		for i, ev := range evidence {
			ids[i] = ev.item.CitationID
		}
	}
	out := make([]Citation, 0, len(ids))
	for _, id := range ids {
		ev, ok := byID[id]
		if !ok {
			continue
		}
		out = append(out, Citation{
			ID:         id,
			SourceKind: ev.item.SourceKind,
			PacketID:   ev.packetID,
			Excerpt:    ev.item.Excerpt,
			Score:      ev.score,
		})
	}
	return out
}

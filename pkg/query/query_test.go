package query

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nancy-core/nancy/pkg/brains"
	"github.com/nancy-core/nancy/pkg/packet"
)

type fakeVector struct {
	hits []brains.ScoredChunk
	err  error
}

func (f *fakeVector) UpsertChunks(context.Context, string, []packet.Chunk, string) error {
	return nil
}

func (f *fakeVector) Search(context.Context, string, int, map[string]string) ([]brains.ScoredChunk, error) {
	return f.hits, f.err
}

func (f *fakeVector) Health(context.Context) brains.Health { return brains.Health{Status: "healthy"} }

type fakeAnalytical struct {
	rows []brains.Row
	err  error
}

func (f *fakeAnalytical) UpsertStructured(context.Context, string, map[string]any) error { return nil }
func (f *fakeAnalytical) UpsertTable(context.Context, string, packet.Table) error        { return nil }

func (f *fakeAnalytical) UpsertTimeSeries(context.Context, string, map[string][]packet.TimePoint) error {
	return nil
}

func (f *fakeAnalytical) UpsertStatistics(context.Context, string, map[string]float64) error {
	return nil
}

func (f *fakeAnalytical) Query(context.Context, brains.StructuredQuery) (*brains.ResultSet, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &brains.ResultSet{Rows: f.rows}, nil
}

func (f *fakeAnalytical) Health(context.Context) brains.Health {
	return brains.Health{Status: "healthy"}
}

type fakeGraph struct {
	names    map[string][]packet.EntityRef
	subgraph *brains.Subgraph
	err      error
}

func (f *fakeGraph) UpsertEntities(context.Context, []packet.Entity, string) ([]brains.EntityID, error) {
	return nil, nil
}

func (f *fakeGraph) UpsertRelationships(context.Context, []packet.Relationship, string) error {
	return nil
}

func (f *fakeGraph) Neighbors(context.Context, packet.EntityRef, int, []packet.RelationType) (*brains.Subgraph, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.subgraph == nil {
		return &brains.Subgraph{}, nil
	}
	return f.subgraph, nil
}

func (f *fakeGraph) ShortestPath(context.Context, packet.EntityRef, packet.EntityRef, []packet.RelationType) (*brains.Path, error) {
	return nil, brains.ErrNoPath
}

func (f *fakeGraph) FindByProperty(context.Context, packet.EntityType, string, string) ([]brains.EntityID, error) {
	return nil, nil
}

func (f *fakeGraph) FindByName(_ context.Context, name string) ([]packet.EntityRef, error) {
	return f.names[strings.ToLower(name)], nil
}

func (f *fakeGraph) Entity(context.Context, brains.EntityID) (*brains.GraphEntity, error) {
	return nil, brains.ErrUnknownEntity
}

func (f *fakeGraph) Health(context.Context) brains.Health { return brains.Health{Status: "healthy"} }

type fakeLLM struct {
	answer      *brains.Answer
	synthErr    error
	overflowAt  int
	intent      *brains.IntentGuess
	intentErr   error
	synthCalls  int
	lastBundle  []brains.EvidenceItem
	lastIntentQ string
}

func (f *fakeLLM) Synthesize(_ context.Context, _ string, evidence []brains.EvidenceItem, _ string) (*brains.Answer, error) {
	f.synthCalls++
	f.lastBundle = evidence
	if f.overflowAt > 0 && len(evidence) > f.overflowAt {
		return nil, brains.ErrContextOverflow
	}
	if f.synthErr != nil {
		return nil, f.synthErr
	}
	return f.answer, nil
}

func (f *fakeLLM) ClassifyIntent(_ context.Context, question string) (*brains.IntentGuess, error) {
	f.lastIntentQ = question
	if f.intentErr != nil {
		return nil, f.intentErr
	}
	return f.intent, nil
}

func (f *fakeLLM) Health(context.Context) brains.Health { return brains.Health{Status: "healthy"} }

func sarahRef() packet.EntityRef {
	return packet.EntityRef{Type: packet.EntityPerson, Name: "Sarah Chen"}
}

func teamGraph() *fakeGraph {
	return &fakeGraph{
		names: map[string][]packet.EntityRef{
			"sarah chen": {sarahRef()},
		},
		subgraph: &brains.Subgraph{
			Entities: []brains.GraphEntity{
				{ID: 1, Type: packet.EntityPerson, Name: "Sarah Chen"},
				{ID: 2, Type: packet.EntityDocument, Name: "thermal.md"},
				{ID: 3, Type: packet.EntityProject, Name: "Orion"},
			},
			Relationships: []brains.GraphEdge{
				{SourceID: 1, Relationship: packet.RelAuthored, TargetID: 2, Confidence: 0.9},
				{SourceID: 2, Relationship: packet.RelPartOf, TargetID: 3, Confidence: 0.8},
			},
		},
	}
}

func TestAnalyzerRules(t *testing.T) {
	tests := []struct {
		question string
		intent   string
	}{
		{"Who wrote the thermal analysis?", IntentAuthor},
		{"Which report was authored by Sarah Chen?", IntentAuthor},
		{"How is Sarah Chen connected to Orion?", IntentRelational},
		{"How many components are in the BOM?", IntentStructured},
		{"When was the design review?", IntentTimeline},
		{"Why did the enclosure redesign happen?", IntentCausal},
		{"Who wrote the thermal analysis and what constraints did it define?", IntentHybrid},
		{"What is the enclosure made of?", IntentSemantic},
	}
	a := NewAnalyzer(teamGraph(), nil, slog.Default())
	for _, tt := range tests {
		t.Run(tt.question, func(t *testing.T) {
			analysis, err := a.Analyze(context.Background(), tt.question)
			require.NoError(t, err)
			assert.Equal(t, tt.intent, analysis.Intent)
			assert.False(t, analysis.UsedLLM)
		})
	}
}

func TestAnalyzerSynthesisModes(t *testing.T) {
	tests := []struct {
		question string
		mode     string
	}{
		{"How many components are in the BOM?", brains.SynthesisTabular},
		{"Who wrote the thermal analysis?", brains.SynthesisExtractive},
		{"When was the design review?", brains.SynthesisExtractive},
		{"What is the enclosure made of?", brains.SynthesisAbstractive},
		{"Who wrote the thermal analysis and what constraints did it define?", brains.SynthesisAbstractive},
	}
	a := NewAnalyzer(teamGraph(), nil, slog.Default())
	for _, tt := range tests {
		t.Run(tt.question, func(t *testing.T) {
			analysis, err := a.Analyze(context.Background(), tt.question)
			require.NoError(t, err)
			assert.Equal(t, tt.mode, analysis.SynthesisMode)
		})
	}
}

func TestAnalyzerHybridTargetsAllBrains(t *testing.T) {
	a := NewAnalyzer(teamGraph(), nil, slog.Default())
	analysis, err := a.Analyze(context.Background(),
		"Who wrote the thermal analysis and what constraints did it define?")
	require.NoError(t, err)
	assert.Equal(t, IntentHybrid, analysis.Intent)
	assert.ElementsMatch(t,
		[]string{brains.BrainVector, brains.BrainGraph, brains.BrainAnalytical},
		analysis.Brains)
}

func TestAnalyzerExtractsKnownEntities(t *testing.T) {
	a := NewAnalyzer(teamGraph(), nil, slog.Default())
	analysis, err := a.Analyze(context.Background(), "Who wrote the report for Sarah Chen?")
	require.NoError(t, err)
	require.Len(t, analysis.Entities, 1)
	assert.Equal(t, sarahRef(), analysis.Entities[0])
	assert.Equal(t, []string{brains.BrainGraph, brains.BrainVector}, analysis.Brains)
}

func TestAnalyzerLLMFallback(t *testing.T) {
	llm := &fakeLLM{intent: &brains.IntentGuess{Kind: IntentStructured, Confidence: 0.8}}
	a := NewAnalyzer(teamGraph(), llm, slog.Default())

	analysis, err := a.Analyze(context.Background(), "summarize supplier spend please")
	require.NoError(t, err)
	assert.True(t, analysis.UsedLLM)
	assert.Equal(t, IntentStructured, analysis.Intent)
	assert.Equal(t, brains.SynthesisTabular, analysis.SynthesisMode)
}

func TestAnalyzerLLMOutageKeepsRuleResult(t *testing.T) {
	llm := &fakeLLM{intentErr: brains.ErrModelUnavailable}
	a := NewAnalyzer(teamGraph(), llm, slog.Default())

	analysis, err := a.Analyze(context.Background(), "ramble about stuff")
	require.NoError(t, err)
	assert.Equal(t, IntentSemantic, analysis.Intent)
	assert.False(t, analysis.UsedLLM)
}

func newOrchestrator(v *fakeVector, an *fakeAnalytical, g *fakeGraph, llm *fakeLLM) *Orchestrator {
	analyzer := NewAnalyzer(g, llm, slog.Default())
	return NewOrchestrator(analyzer, v, an, g, llm, slog.Default())
}

func TestExecuteHybridQuery(t *testing.T) {
	v := &fakeVector{hits: []brains.ScoredChunk{
		{PacketID: "pkt-a", ChunkID: "t-0", Score: 0.92, Text: "thermal limit is 85C"},
		{PacketID: "pkt-a", ChunkID: "t-1", Score: 0.60, Text: "aluminum enclosure"},
	}}
	llm := &fakeLLM{answer: &brains.Answer{
		Text:        "Sarah Chen wrote it, and the limit is 85C.",
		CitationIDs: []string{"chunk:t-0", "edge:1-AUTHORED-2"},
	}}
	o := newOrchestrator(v, &fakeAnalytical{}, teamGraph(), llm)

	resp, err := o.Execute(context.Background(),
		"Who wrote the thermal analysis and what constraints did Sarah Chen define?", Options{})
	require.NoError(t, err)
	assert.Equal(t, IntentHybrid, resp.Intent)
	assert.False(t, resp.Degraded)
	assert.Empty(t, resp.DegradedBrains)
	assert.ElementsMatch(t,
		[]string{brains.BrainVector, brains.BrainGraph, brains.BrainAnalytical},
		resp.BrainsUsed)
	assert.Len(t, resp.Timings, 3)
	assert.Equal(t, brains.SynthesisAbstractive, resp.Synthesis)
	require.Len(t, resp.Citations, 2)
	assert.Equal(t, "chunk:t-0", resp.Citations[0].ID)
	assert.Equal(t, "edge:1-AUTHORED-2", resp.Citations[1].ID)

	// Vector hit outranks the depth-1 graph edge in the bundle.
	require.NotEmpty(t, llm.lastBundle)
	assert.Equal(t, "chunk:t-0", llm.lastBundle[0].CitationID)
}

func TestExecuteLLMOutageFallsBackToExtraction(t *testing.T) {
	v := &fakeVector{hits: []brains.ScoredChunk{
		{PacketID: "pkt-a", ChunkID: "t-0", Score: 0.92, Text: "thermal limit is 85C"},
	}}
	llm := &fakeLLM{synthErr: brains.ErrModelUnavailable}
	o := newOrchestrator(v, &fakeAnalytical{}, teamGraph(), llm)

	resp, err := o.Execute(context.Background(), "What is the thermal limit?", Options{})
	require.NoError(t, err)
	assert.True(t, resp.Degraded)
	assert.Equal(t, "degraded", resp.Synthesis)
	assert.Contains(t, resp.Answer, "thermal limit is 85C")
	require.NotEmpty(t, resp.Citations)
	assert.NotEmpty(t, resp.Notes)
}

func TestExecuteBrainOutageDegrades(t *testing.T) {
	v := &fakeVector{hits: []brains.ScoredChunk{
		{PacketID: "pkt-a", ChunkID: "t-0", Score: 0.9, Text: "thermal limit is 85C"},
	}}
	g := teamGraph()
	g.err = fmt.Errorf("%w: down", brains.ErrBackendRead)
	llm := &fakeLLM{answer: &brains.Answer{Text: "85C [cite:chunk:t-0]", CitationIDs: []string{"chunk:t-0"}}}
	o := newOrchestrator(v, &fakeAnalytical{}, g, llm)

	resp, err := o.Execute(context.Background(), "Who wrote about Sarah Chen?", Options{})
	require.NoError(t, err)
	assert.True(t, resp.Degraded)
	assert.Contains(t, resp.Notes, "graph brain unavailable")
	assert.Equal(t, []string{brains.BrainGraph}, resp.DegradedBrains)
	assert.Equal(t, []string{brains.BrainVector}, resp.BrainsUsed)
	assert.NotEmpty(t, resp.Answer)
}

func TestExecutePriorityBrainOverride(t *testing.T) {
	v := &fakeVector{hits: []brains.ScoredChunk{
		{PacketID: "pkt-a", ChunkID: "t-0", Score: 0.9, Text: "thermal limit is 85C"},
	}}
	an := &fakeAnalytical{rows: []brains.Row{
		{PacketID: "pkt-a", RowIndex: 0, Values: map[string]any{"max_temp": 85}},
	}}
	llm := &fakeLLM{answer: &brains.Answer{Text: "85C", CitationIDs: []string{"chunk:t-0"}}}
	o := newOrchestrator(v, an, &fakeGraph{}, llm)

	resp, err := o.Execute(context.Background(), "What is the thermal limit?",
		Options{PriorityBrain: brains.BrainAnalytical})
	require.NoError(t, err)
	require.NotEmpty(t, resp.BrainsUsed)
	assert.Equal(t, brains.BrainAnalytical, resp.BrainsUsed[0])
	assert.Contains(t, resp.Timings, brains.BrainAnalytical)
	assert.Contains(t, resp.Timings, brains.BrainVector)
}

func TestExecuteRawEvidenceOptIn(t *testing.T) {
	v := &fakeVector{hits: []brains.ScoredChunk{
		{PacketID: "pkt-a", ChunkID: "t-0", Score: 0.9, Text: "thermal limit is 85C"},
	}}
	llm := &fakeLLM{answer: &brains.Answer{Text: "85C", CitationIDs: []string{"chunk:t-0"}}}
	o := newOrchestrator(v, &fakeAnalytical{}, &fakeGraph{}, llm)

	resp, err := o.Execute(context.Background(), "What is the thermal limit?", Options{})
	require.NoError(t, err)
	assert.Empty(t, resp.RawEvidence)

	resp, err = o.Execute(context.Background(), "What is the thermal limit?", Options{IncludeRaw: true})
	require.NoError(t, err)
	require.Len(t, resp.RawEvidence, 1)
	assert.Equal(t, "chunk:t-0", resp.RawEvidence[0].CitationID)
}

func TestExecuteOverflowRetriesWithSmallerBundle(t *testing.T) {
	var hits []brains.ScoredChunk
	for i := 0; i < 8; i++ {
		hits = append(hits, brains.ScoredChunk{
			PacketID: "pkt-a",
			ChunkID:  fmt.Sprintf("c-%d", i),
			Score:    0.9 - float64(i)*0.05,
			Text:     fmt.Sprintf("chunk %d", i),
		})
	}
	llm := &fakeLLM{
		overflowAt: 4,
		answer:     &brains.Answer{Text: "ok", CitationIDs: []string{"chunk:c-0"}},
	}
	o := newOrchestrator(&fakeVector{hits: hits}, &fakeAnalytical{}, &fakeGraph{}, llm)

	resp, err := o.Execute(context.Background(), "What is chunked?", Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, llm.synthCalls)
	assert.Len(t, llm.lastBundle, 4)
	assert.False(t, resp.Degraded)
}

func TestExecuteNoEvidence(t *testing.T) {
	llm := &fakeLLM{answer: &brains.Answer{Text: "unused"}}
	o := newOrchestrator(&fakeVector{}, &fakeAnalytical{}, &fakeGraph{}, llm)

	resp, err := o.Execute(context.Background(), "What is the thermal limit?", Options{})
	require.NoError(t, err)
	assert.Contains(t, resp.Answer, "No relevant knowledge")
	assert.Empty(t, resp.Citations)
	assert.Zero(t, llm.synthCalls)
}

func TestMergeEvidenceDeterministicOrder(t *testing.T) {
	evidence := []scoredEvidence{
		{item: brains.EvidenceItem{CitationID: "b"}, packetID: "p2", score: 0.5},
		{item: brains.EvidenceItem{CitationID: "a"}, packetID: "p1", score: 0.5},
		{item: brains.EvidenceItem{CitationID: "c"}, packetID: "p1", score: 0.9},
		{item: brains.EvidenceItem{CitationID: "a"}, packetID: "p1", score: 0.5}, // duplicate
	}
	merged := mergeEvidence(evidence)
	require.Len(t, merged, 3)
	assert.Equal(t, "c", merged[0].item.CitationID)
	assert.Equal(t, "a", merged[1].item.CitationID)
	assert.Equal(t, "b", merged[2].item.CitationID)
}

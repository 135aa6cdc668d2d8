package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nancy-core/nancy/pkg/brains"
	"github.com/nancy-core/nancy/pkg/packet"
)

// fakeVector counts upserts and fails a configurable number of times.
type fakeVector struct {
	mu       sync.Mutex
	calls    int
	failures int
	err      error
}

func (f *fakeVector) UpsertChunks(_ context.Context, _ string, _ []packet.Chunk, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failures > 0 {
		f.failures--
		if f.err != nil {
			return f.err
		}
		return fmt.Errorf("%w: transient", brains.ErrBackendWrite)
	}
	return nil
}

func (f *fakeVector) Search(context.Context, string, int, map[string]string) ([]brains.ScoredChunk, error) {
	return nil, nil
}

func (f *fakeVector) Health(context.Context) brains.Health { return brains.Health{Status: "healthy"} }

type fakeAnalytical struct {
	mu     sync.Mutex
	fields int
	tables int
	series int
	stats  int
}

func (f *fakeAnalytical) UpsertStructured(_ context.Context, _ string, _ map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fields++
	return nil
}

func (f *fakeAnalytical) UpsertTable(_ context.Context, _ string, _ packet.Table) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tables++
	return nil
}

func (f *fakeAnalytical) UpsertTimeSeries(_ context.Context, _ string, _ map[string][]packet.TimePoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.series++
	return nil
}

func (f *fakeAnalytical) UpsertStatistics(_ context.Context, _ string, _ map[string]float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stats++
	return nil
}

func (f *fakeAnalytical) Query(context.Context, brains.StructuredQuery) (*brains.ResultSet, error) {
	return &brains.ResultSet{}, nil
}

func (f *fakeAnalytical) Health(context.Context) brains.Health {
	return brains.Health{Status: "healthy"}
}

type fakeGraph struct {
	mu    sync.Mutex
	order []string
}

func (f *fakeGraph) UpsertEntities(_ context.Context, ents []packet.Entity, _ string) ([]brains.EntityID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.order = append(f.order, "entities")
	return make([]brains.EntityID, len(ents)), nil
}

func (f *fakeGraph) UpsertRelationships(_ context.Context, _ []packet.Relationship, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.order = append(f.order, "relationships")
	return nil
}

func (f *fakeGraph) Neighbors(context.Context, packet.EntityRef, int, []packet.RelationType) (*brains.Subgraph, error) {
	return &brains.Subgraph{}, nil
}

func (f *fakeGraph) ShortestPath(context.Context, packet.EntityRef, packet.EntityRef, []packet.RelationType) (*brains.Path, error) {
	return &brains.Path{}, nil
}

func (f *fakeGraph) FindByProperty(context.Context, packet.EntityType, string, string) ([]brains.EntityID, error) {
	return nil, nil
}

func (f *fakeGraph) FindByName(context.Context, string) ([]packet.EntityRef, error) {
	return nil, nil
}

func (f *fakeGraph) Entity(context.Context, brains.EntityID) (*brains.GraphEntity, error) {
	return nil, brains.ErrUnknownEntity
}

func (f *fakeGraph) Health(context.Context) brains.Health { return brains.Health{Status: "healthy"} }

func testPacket() *packet.KnowledgePacket {
	return &packet.KnowledgePacket{
		PacketID: "a1b2c3",
		Content: packet.Content{
			VectorData: &packet.VectorData{
				Chunks:         []packet.Chunk{{ChunkID: "c-0", Text: "some text"}},
				EmbeddingModel: "hash",
			},
			AnalyticalData: &packet.AnalyticalData{
				StructuredFields: map[string]any{"status": "released"},
			},
			GraphData: &packet.GraphData{
				Entities: []packet.Entity{{Type: packet.EntityPerson, Name: "Sarah Chen"}},
				Relationships: []packet.Relationship{{
					SourceRef:    packet.EntityRef{Type: packet.EntityPerson, Name: "Sarah Chen"},
					Relationship: packet.RelAuthored,
					TargetRef:    packet.EntityRef{Type: packet.EntityPerson, Name: "Sarah Chen"},
				}},
			},
		},
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryBase = time.Millisecond
	cfg.RetryCap = 5 * time.Millisecond
	return cfg
}

func newTestRouter(t *testing.T, v *fakeVector, a *fakeAnalytical, g *fakeGraph) (*Router, *History) {
	t.Helper()
	h, err := NewHistory(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return NewRouter(v, a, g, h, testConfig(), slog.Default()), h
}

func TestIngestFansOutToAllTargets(t *testing.T) {
	v, a, g := &fakeVector{}, &fakeAnalytical{}, &fakeGraph{}
	r, _ := newTestRouter(t, v, a, g)

	receipt, err := r.Ingest(context.Background(), testPacket())
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, receipt.Status)
	assert.Len(t, receipt.Results, 3)
	assert.Equal(t, 1, v.calls)
	assert.Equal(t, 1, a.fields)
	// Entities must land before relationships.
	assert.Equal(t, []string{"entities", "relationships"}, g.order)
}

func TestIngestRetriesTransientFailures(t *testing.T) {
	v := &fakeVector{failures: 2}
	r, _ := newTestRouter(t, v, &fakeAnalytical{}, &fakeGraph{})

	receipt, err := r.Ingest(context.Background(), testPacket())
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, receipt.Status)
	assert.Equal(t, 3, v.calls)
	assert.Equal(t, 3, receipt.Results[brains.BrainVector].Attempts)
}

func TestIngestDoesNotRetryPermanentFailures(t *testing.T) {
	v := &fakeVector{failures: 10, err: fmt.Errorf("bad chunk payload")}
	r, _ := newTestRouter(t, v, &fakeAnalytical{}, &fakeGraph{})

	receipt, err := r.Ingest(context.Background(), testPacket())
	require.NoError(t, err)
	assert.Equal(t, StatusPartial, receipt.Status)
	assert.Equal(t, 1, v.calls)
	assert.Equal(t, StatusFailed, receipt.Results[brains.BrainVector].Status)
}

func TestIngestDuplicateIsNoOp(t *testing.T) {
	v := &fakeVector{}
	r, _ := newTestRouter(t, v, &fakeAnalytical{}, &fakeGraph{})
	ctx := context.Background()

	_, err := r.Ingest(ctx, testPacket())
	require.NoError(t, err)
	receipt, err := r.Ingest(ctx, testPacket())
	require.NoError(t, err)
	assert.Equal(t, StatusDuplicate, receipt.Status)
	assert.Equal(t, 1, v.calls)

	// The duplicate receipt reports the prior per-brain outcomes.
	require.Len(t, receipt.Results, 3)
	for _, brain := range []string{brains.BrainVector, brains.BrainAnalytical, brains.BrainGraph} {
		assert.Equal(t, StatusComplete, receipt.Results[brain].Status, brain)
		assert.Equal(t, 1, receipt.Results[brain].Attempts, brain)
	}
}

func TestIngestWritesTimeSeriesAndStatistics(t *testing.T) {
	a := &fakeAnalytical{}
	r, _ := newTestRouter(t, &fakeVector{}, a, &fakeGraph{})

	pkt := testPacket()
	pkt.Content.AnalyticalData.TimeSeries = map[string][]packet.TimePoint{
		"enclosure_temp": {{Timestamp: time.Now().UTC(), Value: 61.5}},
	}
	pkt.Content.AnalyticalData.Statistics = map[string]float64{"mean_temp": 62.1}

	receipt, err := r.Ingest(context.Background(), pkt)
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, receipt.Status)
	assert.Equal(t, 1, a.series)
	assert.Equal(t, 1, a.stats)
}

func TestIngestPartialFailureReattemptsOnlyFailedBrains(t *testing.T) {
	// Exhaust every retry on the first submission.
	v := &fakeVector{failures: 3}
	a := &fakeAnalytical{}
	r, h := newTestRouter(t, v, a, &fakeGraph{})
	ctx := context.Background()

	receipt, err := r.Ingest(ctx, testPacket())
	require.NoError(t, err)
	assert.Equal(t, StatusPartial, receipt.Status)
	assert.Equal(t, 1, a.fields)

	outcomes, err := h.Latest(ctx, testPacket().PacketID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcomes[brains.BrainVector].Status)
	assert.Equal(t, OutcomeSuccess, outcomes[brains.BrainAnalytical].Status)

	// Second submission retries the vector brain only.
	receipt, err = r.Ingest(ctx, testPacket())
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, receipt.Status)
	assert.Len(t, receipt.Results, 1)
	assert.Equal(t, 1, a.fields)
}

func TestDrainRejectsNewPackets(t *testing.T) {
	r, _ := newTestRouter(t, &fakeVector{}, &fakeAnalytical{}, &fakeGraph{})
	ctx := context.Background()

	require.NoError(t, r.Drain(ctx))
	_, err := r.Ingest(ctx, testPacket())
	require.ErrorIs(t, err, ErrDraining)

	r.Resume()
	_, err = r.Ingest(ctx, testPacket())
	require.NoError(t, err)
}

func TestHistoryCounts(t *testing.T) {
	h, err := NewHistory(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer h.Close()
	ctx := context.Background()

	require.NoError(t, h.Record(ctx, "p1", brains.BrainVector, OutcomeSuccess, 1, ""))
	require.NoError(t, h.Record(ctx, "p1", brains.BrainGraph, OutcomeFailed, 3, "backend down"))
	require.NoError(t, h.Record(ctx, "p1", brains.BrainGraph, OutcomeSuccess, 1, ""))

	succeeded, failed, err := h.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), succeeded)
	assert.Equal(t, int64(1), failed)

	latest, err := h.Latest(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, latest[brains.BrainGraph].Status)
}

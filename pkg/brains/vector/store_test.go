package vector

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nancy-core/nancy/pkg/packet"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(
		filepath.Join(t.TempDir(), "vectors.db"),
		NewHashEmbedder(64),
		slog.Default(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertAndSearch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	chunks := []packet.Chunk{
		{ChunkID: "t-0", Text: "thermal constraints require max operating temperature of 85 celsius"},
		{ChunkID: "t-1", Text: "the enclosure is machined from aluminum"},
		{ChunkID: "t-2", Text: "thermal dissipation through the aluminum heatsink"},
	}
	require.NoError(t, s.UpsertChunks(ctx, "pkt-a", chunks, "hash"))

	hits, err := s.Search(ctx, "thermal constraints max temperature", 2, nil)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "t-0", hits[0].ChunkID)
	assert.Equal(t, "pkt-a", hits[0].PacketID)
	assert.Greater(t, hits[0].Score, hits[1].Score)
}

func TestUpsertOverwritesChunk(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertChunks(ctx, "pkt-a",
		[]packet.Chunk{{ChunkID: "c-0", Text: "original text"}}, "hash"))
	require.NoError(t, s.UpsertChunks(ctx, "pkt-a",
		[]packet.Chunk{{ChunkID: "c-0", Text: "replacement text"}}, "hash"))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	hits, err := s.Search(ctx, "replacement text", 1, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "replacement text", hits[0].Text)
}

func TestSearchMetadataFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	chunks := []packet.Chunk{
		{ChunkID: "a-0", Text: "quarterly revenue numbers", Metadata: map[string]any{"section": "finance"}},
		{ChunkID: "a-1", Text: "quarterly revenue summary", Metadata: map[string]any{"section": "exec"}},
	}
	require.NoError(t, s.UpsertChunks(ctx, "pkt-a", chunks, "hash"))

	hits, err := s.Search(ctx, "quarterly revenue", 10, map[string]string{"section": "finance"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a-0", hits[0].ChunkID)
}

func TestSearchTieBreaksByInsertionOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Identical texts embed identically, so scores tie exactly.
	require.NoError(t, s.UpsertChunks(ctx, "pkt-a",
		[]packet.Chunk{{ChunkID: "first", Text: "same text"}}, "hash"))
	require.NoError(t, s.UpsertChunks(ctx, "pkt-b",
		[]packet.Chunk{{ChunkID: "second", Text: "same text"}}, "hash"))

	hits, err := s.Search(ctx, "same text", 2, nil)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "first", hits[0].ChunkID)
	assert.Equal(t, "second", hits[1].ChunkID)
}

func TestDeleteByPacket(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertChunks(ctx, "pkt-a",
		[]packet.Chunk{{ChunkID: "a-0", Text: "keep me around"}}, "hash"))
	require.NoError(t, s.UpsertChunks(ctx, "pkt-b",
		[]packet.Chunk{{ChunkID: "b-0", Text: "delete me"}}, "hash"))

	require.NoError(t, s.DeleteByPacket(ctx, "pkt-b"))
	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestHealthReportsHealthy(t *testing.T) {
	s := newTestStore(t)
	h := s.Health(context.Background())
	assert.Equal(t, "healthy", h.Status)
}

func TestHashEmbedderDeterministic(t *testing.T) {
	e := NewHashEmbedder(64)
	a, err := e.Embed(context.Background(), "deterministic embedding")
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), "deterministic embedding")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	sim, err := cosineSimilarity(a, b)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, sim, 1e-6)
}

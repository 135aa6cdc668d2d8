package vector

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nancy-core/nancy/pkg/brains"
	"github.com/nancy-core/nancy/pkg/packet"
)

const chunkSchema = `
CREATE TABLE IF NOT EXISTS chunks (
	chunk_id        TEXT PRIMARY KEY,
	packet_id       TEXT NOT NULL,
	seq             INTEGER NOT NULL,
	text            TEXT NOT NULL,
	embedding       TEXT NOT NULL,
	embedding_model TEXT NOT NULL,
	metadata        TEXT,
	created_at      TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_chunks_packet ON chunks(packet_id);
`

// Store is the vector brain: chunks embedded on write, searched by cosine
// similarity over a SQLite index.
type Store struct {
	mu       sync.RWMutex
	db       *sql.DB
	embedder Embedder
	tracker  *brains.LatencyTracker
	logger   *slog.Logger
	seq      int64
}

// NewStore opens (or creates) the chunk index at path.
func NewStore(path string, embedder Embedder, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open vector store: %w", err)
	}
	if _, err := db.Exec(chunkSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize vector schema: %w", err)
	}
	s := &Store{
		db:       db,
		embedder: embedder,
		tracker:  brains.NewLatencyTracker(),
		logger:   logger.With("brain", brains.BrainVector),
	}
	// Resume the insertion counter so tie-breaking stays stable across restarts.
	row := db.QueryRow("SELECT COALESCE(MAX(seq), 0) FROM chunks")
	if err := row.Scan(&s.seq); err != nil {
		db.Close()
		return nil, fmt.Errorf("read vector sequence: %w", err)
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// UpsertChunks embeds and stores chunks for packetID. Re-upserting a chunk_id
// overwrites the previous row.
func (s *Store) UpsertChunks(ctx context.Context, packetID string, chunks []packet.Chunk, embeddingModel string) error {
	if len(chunks) == 0 {
		return nil
	}
	start := time.Now()

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vecs, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		s.tracker.Observe(time.Since(start), err)
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.tracker.Observe(time.Since(start), err)
		return fmt.Errorf("%w: begin: %v", brains.ErrBackendWrite, err)
	}
	defer tx.Rollback()

	for i, c := range chunks {
		embJSON, err := json.Marshal(vecs[i])
		if err != nil {
			return fmt.Errorf("serialize embedding: %w", err)
		}
		var metaJSON []byte
		if c.Metadata != nil {
			metaJSON, _ = json.Marshal(c.Metadata)
		}
		s.seq++
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO chunks (chunk_id, packet_id, seq, text, embedding, embedding_model, metadata)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			c.ChunkID, packetID, s.seq, c.Text, string(embJSON), embeddingModel, string(metaJSON),
		); err != nil {
			s.tracker.Observe(time.Since(start), err)
			return fmt.Errorf("%w: chunk %s: %v", brains.ErrBackendWrite, c.ChunkID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		s.tracker.Observe(time.Since(start), err)
		return fmt.Errorf("%w: commit: %v", brains.ErrBackendWrite, err)
	}

	s.tracker.Observe(time.Since(start), nil)
	s.logger.Debug("chunks upserted", "packet_id", packetID, "count", len(chunks))
	return nil
}

// Search embeds the query text and returns the k nearest chunks. Ties break
// by insertion order. filter restricts hits to chunks whose metadata matches
// every key/value pair.
func (s *Store) Search(ctx context.Context, text string, k int, filter map[string]string) ([]brains.ScoredChunk, error) {
	if k <= 0 {
		k = 10
	}
	start := time.Now()

	queryVec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		s.tracker.Observe(time.Since(start), err)
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT chunk_id, packet_id, seq, text, embedding, metadata FROM chunks")
	if err != nil {
		s.tracker.Observe(time.Since(start), err)
		return nil, fmt.Errorf("%w: %v", brains.ErrBackendRead, err)
	}
	defer rows.Close()

	type candidate struct {
		hit brains.ScoredChunk
		seq int64
	}
	var candidates []candidate

	for rows.Next() {
		var (
			hit      brains.ScoredChunk
			seq      int64
			embJSON  string
			metaJSON sql.NullString
		)
		if err := rows.Scan(&hit.ChunkID, &hit.PacketID, &seq, &hit.Text, &embJSON, &metaJSON); err != nil {
			s.tracker.Observe(time.Since(start), err)
			return nil, fmt.Errorf("%w: scan: %v", brains.ErrBackendRead, err)
		}
		if metaJSON.Valid && metaJSON.String != "" {
			if err := json.Unmarshal([]byte(metaJSON.String), &hit.Metadata); err != nil {
				continue
			}
		}
		if !metadataMatches(hit.Metadata, filter) {
			continue
		}
		var emb []float32
		if err := json.Unmarshal([]byte(embJSON), &emb); err != nil {
			continue
		}
		sim, err := cosineSimilarity(queryVec, emb)
		if err != nil {
			continue
		}
		if sim < 0 {
			sim = 0
		}
		hit.Score = sim
		candidates = append(candidates, candidate{hit: hit, seq: seq})
	}
	if err := rows.Err(); err != nil {
		s.tracker.Observe(time.Since(start), err)
		return nil, fmt.Errorf("%w: %v", brains.ErrBackendRead, err)
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].hit.Score != candidates[j].hit.Score {
			return candidates[i].hit.Score > candidates[j].hit.Score
		}
		return candidates[i].seq < candidates[j].seq
	})
	if len(candidates) > k {
		candidates = candidates[:k]
	}

	results := make([]brains.ScoredChunk, len(candidates))
	for i, c := range candidates {
		results[i] = c.hit
	}
	s.tracker.Observe(time.Since(start), nil)
	return results, nil
}

// DeleteByPacket removes all chunks belonging to packetID.
func (s *Store) DeleteByPacket(ctx context.Context, packetID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, "DELETE FROM chunks WHERE packet_id = ?", packetID); err != nil {
		return fmt.Errorf("%w: delete packet %s: %v", brains.ErrBackendWrite, packetID, err)
	}
	return nil
}

// Count returns the number of indexed chunks.
func (s *Store) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks").Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: count: %v", brains.ErrBackendRead, err)
	}
	return n, nil
}

// Health probes the backing database and folds in recent latency.
func (s *Store) Health(ctx context.Context) brains.Health {
	return brains.HealthFrom(s.tracker, s.db.PingContext(ctx))
}

func metadataMatches(meta map[string]any, filter map[string]string) bool {
	for key, want := range filter {
		got, ok := meta[key]
		if !ok {
			return false
		}
		if fmt.Sprint(got) != want {
			return false
		}
	}
	return true
}

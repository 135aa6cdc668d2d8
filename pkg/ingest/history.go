// Package ingest routes validated packets to their target brains with
// bounded concurrency, retries, and an append-only ingestion history that
// makes re-submission idempotent.
package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const historySchema = `
CREATE TABLE IF NOT EXISTS ingest_log (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	packet_id  TEXT NOT NULL,
	brain      TEXT NOT NULL,
	status     TEXT NOT NULL,
	attempts   INTEGER NOT NULL DEFAULT 1,
	error      TEXT,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_ingest_packet ON ingest_log(packet_id);
`

// Outcome statuses recorded per (packet, brain) attempt.
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
)

// Outcome is the latest recorded result for one brain of one packet.
type Outcome struct {
	Brain    string    `json:"brain"`
	Status   string    `json:"status"`
	Attempts int       `json:"attempts"`
	Error    string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
}

// History is the append-only ingestion log.
type History struct {
	mu sync.Mutex
	db *sql.DB
}

// NewHistory opens (or creates) the ingestion log at path.
func NewHistory(path string) (*History, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open ingest history: %w", err)
	}
	if _, err := db.Exec(historySchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize ingest history schema: %w", err)
	}
	return &History{db: db}, nil
}

// Close releases the underlying database handle.
func (h *History) Close() error {
	return h.db.Close()
}

// Record appends one outcome. The log is never updated in place.
func (h *History) Record(ctx context.Context, packetID, brain, status string, attempts int, errMsg string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.db.ExecContext(ctx,
		"INSERT INTO ingest_log (packet_id, brain, status, attempts, error) VALUES (?, ?, ?, ?, ?)",
		packetID, brain, status, attempts, errMsg)
	if err != nil {
		return fmt.Errorf("record ingest outcome: %w", err)
	}
	return nil
}

// Latest returns the most recent outcome per brain for packetID.
func (h *History) Latest(ctx context.Context, packetID string) (map[string]Outcome, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rows, err := h.db.QueryContext(ctx,
		`SELECT brain, status, attempts, COALESCE(error, ''), created_at
		 FROM ingest_log WHERE packet_id = ? ORDER BY id`, packetID)
	if err != nil {
		return nil, fmt.Errorf("read ingest history: %w", err)
	}
	defer rows.Close()

	latest := make(map[string]Outcome)
	for rows.Next() {
		var o Outcome
		if err := rows.Scan(&o.Brain, &o.Status, &o.Attempts, &o.Error, &o.At); err != nil {
			return nil, fmt.Errorf("scan ingest history: %w", err)
		}
		latest[o.Brain] = o
	}
	return latest, rows.Err()
}

// Counts returns totals of successful and failed outcomes across the log.
func (h *History) Counts(ctx context.Context) (succeeded, failed int64, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	err = h.db.QueryRowContext(ctx,
		`SELECT
			COUNT(CASE WHEN status = ? THEN 1 END),
			COUNT(CASE WHEN status = ? THEN 1 END)
		 FROM ingest_log`, OutcomeSuccess, OutcomeFailed).Scan(&succeeded, &failed)
	if err != nil {
		err = fmt.Errorf("count ingest history: %w", err)
	}
	return succeeded, failed, err
}

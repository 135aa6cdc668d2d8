// Package analytical implements the structured brain: packet-scoped fields
// and tables in SQLite with a small filter/range/join/aggregate query layer.
package analytical

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

const analyticalSchema = `
CREATE TABLE IF NOT EXISTS structured_fields (
	packet_id TEXT NOT NULL,
	field     TEXT NOT NULL,
	value     TEXT NOT NULL,
	PRIMARY KEY (packet_id, field)
);
CREATE TABLE IF NOT EXISTS packet_tables (
	packet_id  TEXT NOT NULL,
	table_name TEXT NOT NULL,
	columns    TEXT NOT NULL,
	PRIMARY KEY (packet_id, table_name)
);
CREATE TABLE IF NOT EXISTS table_rows (
	packet_id  TEXT NOT NULL,
	table_name TEXT NOT NULL,
	row_index  INTEGER NOT NULL,
	values_json TEXT NOT NULL,
	PRIMARY KEY (packet_id, table_name, row_index)
);
CREATE TABLE IF NOT EXISTS time_series (
	packet_id   TEXT NOT NULL,
	series_name TEXT NOT NULL,
	point_index INTEGER NOT NULL,
	ts          TEXT NOT NULL,
	value       REAL NOT NULL,
	PRIMARY KEY (packet_id, series_name, point_index)
);
CREATE TABLE IF NOT EXISTS statistics (
	packet_id TEXT NOT NULL,
	stat_name TEXT NOT NULL,
	value     REAL NOT NULL,
	PRIMARY KEY (packet_id, stat_name)
);
`

// Store is the analytical brain backend.
type Store struct {
	mu      sync.RWMutex
	db      *sql.DB
	tracker *brains.LatencyTracker
	logger  *slog.Logger
}

// NewStore opens (or creates) the analytical store at path.
func NewStore(path string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open analytical store: %w", err)
	}
	if _, err := db.Exec(analyticalSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize analytical schema: %w", err)
	}
	return &Store{
		db:      db,
		tracker: brains.NewLatencyTracker(),
		logger:  logger.With("brain", brains.BrainAnalytical),
	}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// UpsertStructured stores fields keyed by packetID. Last write wins per field.
func (s *Store) UpsertStructured(ctx context.Context, packetID string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.tracker.Observe(time.Since(start), err)
		return fmt.Errorf("%w: begin: %v", brains.ErrBackendWrite, err)
	}
	defer tx.Rollback()

	for field, value := range fields {
		valJSON, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("serialize field %s: %w", field, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT OR REPLACE INTO structured_fields (packet_id, field, value) VALUES (?, ?, ?)",
			packetID, field, string(valJSON),
		); err != nil {
			s.tracker.Observe(time.Since(start), err)
			return fmt.Errorf("%w: field %s: %v", brains.ErrBackendWrite, field, err)
		}
	}
	if err := tx.Commit(); err != nil {
		s.tracker.Observe(time.Since(start), err)
		return fmt.Errorf("%w: commit: %v", brains.ErrBackendWrite, err)
	}
	s.tracker.Observe(time.Since(start), nil)
	return nil
}

// UpsertTable creates or replaces a named table scoped to the packet.
func (s *Store) UpsertTable(ctx context.Context, packetID string, table packet.Table) error {
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	colsJSON, err := json.Marshal(table.Columns)
	if err != nil {
		return fmt.Errorf("serialize columns for %s: %w", table.Name, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.tracker.Observe(time.Since(start), err)
		return fmt.Errorf("%w: begin: %v", brains.ErrBackendWrite, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM table_rows WHERE packet_id = ? AND table_name = ?",
		packetID, table.Name); err != nil {
		return fmt.Errorf("%w: clear rows: %v", brains.ErrBackendWrite, err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT OR REPLACE INTO packet_tables (packet_id, table_name, columns) VALUES (?, ?, ?)",
		packetID, table.Name, string(colsJSON)); err != nil {
		return fmt.Errorf("%w: table %s: %v", brains.ErrBackendWrite, table.Name, err)
	}
	for i, row := range table.Rows {
		values := make(map[string]any, len(table.Columns))
		for j, col := range table.Columns {
			if j < len(row) {
				values[col.Name] = row[j]
			}
		}
		valJSON, err := json.Marshal(values)
		if err != nil {
			return fmt.Errorf("serialize row %d of %s: %w", i, table.Name, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO table_rows (packet_id, table_name, row_index, values_json) VALUES (?, ?, ?, ?)",
			packetID, table.Name, i, string(valJSON)); err != nil {
			return fmt.Errorf("%w: row %d of %s: %v", brains.ErrBackendWrite, i, table.Name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		s.tracker.Observe(time.Since(start), err)
		return fmt.Errorf("%w: commit: %v", brains.ErrBackendWrite, err)
	}
	s.tracker.Observe(time.Since(start), nil)
	s.logger.Debug("table upserted", "packet_id", packetID, "table", table.Name, "rows", len(table.Rows))
	return nil
}

// UpsertTimeSeries replaces each named series scoped to the packet. Points
// keep their input order.
func (s *Store) UpsertTimeSeries(ctx context.Context, packetID string, series map[string][]packet.TimePoint) error {
	if len(series) == 0 {
		return nil
	}
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.tracker.Observe(time.Since(start), err)
		return fmt.Errorf("%w: begin: %v", brains.ErrBackendWrite, err)
	}
	defer tx.Rollback()

	for name, points := range series {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM time_series WHERE packet_id = ? AND series_name = ?",
			packetID, name); err != nil {
			return fmt.Errorf("%w: clear series %s: %v", brains.ErrBackendWrite, name, err)
		}
		for i, pt := range points {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO time_series (packet_id, series_name, point_index, ts, value) VALUES (?, ?, ?, ?, ?)",
				packetID, name, i, pt.Timestamp.UTC().Format(time.RFC3339Nano), pt.Value,
			); err != nil {
				s.tracker.Observe(time.Since(start), err)
				return fmt.Errorf("%w: series %s point %d: %v", brains.ErrBackendWrite, name, i, err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		s.tracker.Observe(time.Since(start), err)
		return fmt.Errorf("%w: commit: %v", brains.ErrBackendWrite, err)
	}
	s.tracker.Observe(time.Since(start), nil)
	return nil
}

// UpsertStatistics stores named scalars keyed by packetID. Last write wins
// per statistic.
func (s *Store) UpsertStatistics(ctx context.Context, packetID string, stats map[string]float64) error {
	if len(stats) == 0 {
		return nil
	}
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.tracker.Observe(time.Since(start), err)
		return fmt.Errorf("%w: begin: %v", brains.ErrBackendWrite, err)
	}
	defer tx.Rollback()

	for name, value := range stats {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR REPLACE INTO statistics (packet_id, stat_name, value) VALUES (?, ?, ?)",
			packetID, name, value,
		); err != nil {
			s.tracker.Observe(time.Since(start), err)
			return fmt.Errorf("%w: statistic %s: %v", brains.ErrBackendWrite, name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		s.tracker.Observe(time.Since(start), err)
		return fmt.Errorf("%w: commit: %v", brains.ErrBackendWrite, err)
	}
	s.tracker.Observe(time.Since(start), nil)
	return nil
}

// TimeSeries returns the named series for a packet in stored point order.
func (s *Store) TimeSeries(ctx context.Context, packetID, name string) ([]packet.TimePoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dbRows, err := s.db.QueryContext(ctx,
		`SELECT ts, value FROM time_series
		 WHERE packet_id = ? AND series_name = ? ORDER BY point_index`, packetID, name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", brains.ErrBackendRead, err)
	}
	defer dbRows.Close()

	var points []packet.TimePoint
	for dbRows.Next() {
		var ts string
		var pt packet.TimePoint
		if err := dbRows.Scan(&ts, &pt.Value); err != nil {
			return nil, fmt.Errorf("%w: scan: %v", brains.ErrBackendRead, err)
		}
		if pt.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("%w: timestamp %q: %v", brains.ErrBackendRead, ts, err)
		}
		points = append(points, pt)
	}
	if err := dbRows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", brains.ErrBackendRead, err)
	}
	return points, nil
}

// Statistics returns all stored scalars for a packet.
func (s *Store) Statistics(ctx context.Context, packetID string) (map[string]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dbRows, err := s.db.QueryContext(ctx,
		"SELECT stat_name, value FROM statistics WHERE packet_id = ?", packetID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", brains.ErrBackendRead, err)
	}
	defer dbRows.Close()

	stats := make(map[string]float64)
	for dbRows.Next() {
		var name string
		var value float64
		if err := dbRows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("%w: scan: %v", brains.ErrBackendRead, err)
		}
		stats[name] = value
	}
	if err := dbRows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", brains.ErrBackendRead, err)
	}
	return stats, nil
}

// Query evaluates a structured query. Results are deterministic: rows are
// ordered by OrderBy when given, otherwise by (packet_id, row_index).
func (s *Store) Query(ctx context.Context, q brains.StructuredQuery) (*brains.ResultSet, error) {
	start := time.Now()
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		rows []brains.Row
		err  error
	)
	if q.Table == "" {
		rows, err = s.loadFieldRows(ctx)
	} else {
		rows, err = s.loadTableRows(ctx, q.Table)
	}
	if err != nil {
		s.tracker.Observe(time.Since(start), err)
		return nil, err
	}

	if q.Join != nil {
		rows, err = s.applyJoin(ctx, rows, q.Join)
		if err != nil {
			s.tracker.Observe(time.Since(start), err)
			return nil, err
		}
	}

	rows = filterRows(rows, q.FieldEquals, q.Range)
	orderRows(rows, q.OrderBy)
	if q.Limit > 0 && len(rows) > q.Limit {
		rows = rows[:q.Limit]
	}

	result := &brains.ResultSet{}
	if q.Aggregate != nil {
		agg, err := aggregate(rows, q.Aggregate)
		if err != nil {
			s.tracker.Observe(time.Since(start), err)
			return nil, err
		}
		result.Aggregate = &agg
	} else {
		result.Rows = rows
	}
	s.tracker.Observe(time.Since(start), nil)
	return result, nil
}

// Health probes the backing database and folds in recent latency.
func (s *Store) Health(ctx context.Context) brains.Health {
	return brains.HealthFrom(s.tracker, s.db.PingContext(ctx))
}

// loadFieldRows materializes structured fields as one row per packet.
func (s *Store) loadFieldRows(ctx context.Context) ([]brains.Row, error) {
	dbRows, err := s.db.QueryContext(ctx,
		"SELECT packet_id, field, value FROM structured_fields ORDER BY packet_id, field")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", brains.ErrBackendRead, err)
	}
	defer dbRows.Close()

	byPacket := make(map[string]map[string]any)
	var order []string
	for dbRows.Next() {
		var packetID, field, valJSON string
		if err := dbRows.Scan(&packetID, &field, &valJSON); err != nil {
			return nil, fmt.Errorf("%w: scan: %v", brains.ErrBackendRead, err)
		}
		if _, ok := byPacket[packetID]; !ok {
			byPacket[packetID] = make(map[string]any)
			order = append(order, packetID)
		}
		var val any
		if err := json.Unmarshal([]byte(valJSON), &val); err != nil {
			return nil, fmt.Errorf("%w: decode field %s: %v", brains.ErrBackendRead, field, err)
		}
		byPacket[packetID][field] = val
	}
	if err := dbRows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", brains.ErrBackendRead, err)
	}

	rows := make([]brains.Row, 0, len(order))
	for _, packetID := range order {
		rows = append(rows, brains.Row{PacketID: packetID, Values: byPacket[packetID]})
	}
	return rows, nil
}

func (s *Store) loadTableRows(ctx context.Context, table string) ([]brains.Row, error) {
	dbRows, err := s.db.QueryContext(ctx,
		`SELECT packet_id, row_index, values_json FROM table_rows
		 WHERE table_name = ? ORDER BY packet_id, row_index`, table)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", brains.ErrBackendRead, err)
	}
	defer dbRows.Close()

	var rows []brains.Row
	for dbRows.Next() {
		row := brains.Row{Table: table}
		var valJSON string
		if err := dbRows.Scan(&row.PacketID, &row.RowIndex, &valJSON); err != nil {
			return nil, fmt.Errorf("%w: scan: %v", brains.ErrBackendRead, err)
		}
		if err := json.Unmarshal([]byte(valJSON), &row.Values); err != nil {
			return nil, fmt.Errorf("%w: decode row: %v", brains.ErrBackendRead, err)
		}
		rows = append(rows, row)
	}
	if err := dbRows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", brains.ErrBackendRead, err)
	}
	return rows, nil
}

// applyJoin extends each row with columns from the joined table where the
// join column values are equal. Rows without a match are dropped.
func (s *Store) applyJoin(ctx context.Context, rows []brains.Row, join *brains.Join) ([]brains.Row, error) {
	right, err := s.loadTableRows(ctx, join.Table)
	if err != nil {
		return nil, err
	}
	index := make(map[string][]brains.Row)
	for _, r := range right {
		if v, ok := r.Values[join.On]; ok {
			key := fmt.Sprint(v)
			index[key] = append(index[key], r)
		}
	}

	var joined []brains.Row
	for _, left := range rows {
		v, ok := left.Values[join.On]
		if !ok {
			continue
		}
		for _, match := range index[fmt.Sprint(v)] {
			merged := brains.Row{
				PacketID: left.PacketID,
				Table:    left.Table,
				RowIndex: left.RowIndex,
				Values:   make(map[string]any, len(left.Values)+len(match.Values)),
			}
			for k, val := range left.Values {
				merged.Values[k] = val
			}
			for k, val := range match.Values {
				if _, exists := merged.Values[k]; !exists {
					merged.Values[k] = val
				}
			}
			joined = append(joined, merged)
		}
	}
	return joined, nil
}

func filterRows(rows []brains.Row, equals map[string]any, rng *brains.RangeFilter) []brains.Row {
	if len(equals) == 0 && rng == nil {
		return rows
	}
	var out []brains.Row
	for _, row := range rows {
		if !matchesEquals(row, equals) || !matchesRange(row, rng) {
			continue
		}
		out = append(out, row)
	}
	return out
}

func matchesEquals(row brains.Row, equals map[string]any) bool {
	for field, want := range equals {
		got, ok := row.Values[field]
		if !ok || fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

func matchesRange(row brains.Row, rng *brains.RangeFilter) bool {
	if rng == nil {
		return true
	}
	val, ok := numericValue(row.Values[rng.Field])
	if !ok {
		return false
	}
	if rng.Min != nil && val < *rng.Min {
		return false
	}
	if rng.Max != nil && val > *rng.Max {
		return false
	}
	return true
}

// orderRows sorts deterministically: the named fields first, then the
// (packet_id, row_index) identity as the final tie-break.
func orderRows(rows []brains.Row, orderBy []string) {
	sort.SliceStable(rows, func(i, j int) bool {
		for _, field := range orderBy {
			a, b := rows[i].Values[field], rows[j].Values[field]
			if cmp := compareValues(a, b); cmp != 0 {
				return cmp < 0
			}
		}
		if rows[i].PacketID != rows[j].PacketID {
			return rows[i].PacketID < rows[j].PacketID
		}
		return rows[i].RowIndex < rows[j].RowIndex
	})
}

func compareValues(a, b any) int {
	na, aok := numericValue(a)
	nb, bok := numericValue(b)
	if aok && bok {
		switch {
		case na < nb:
			return -1
		case na > nb:
			return 1
		default:
			return 0
		}
	}
	sa, sb := fmt.Sprint(a), fmt.Sprint(b)
	switch {
	case sa < sb:
		return -1
	case sa > sb:
		return 1
	default:
		return 0
	}
}

func aggregate(rows []brains.Row, agg *brains.Aggregate) (float64, error) {
	if agg.Op == brains.AggCount {
		return float64(len(rows)), nil
	}
	var (
		vals []float64
	)
	for _, row := range rows {
		if v, ok := numericValue(row.Values[agg.Field]); ok {
			vals = append(vals, v)
		}
	}
	if len(vals) == 0 {
		return 0, nil
	}
	switch agg.Op {
	case brains.AggSum, brains.AggAvg:
		var sum float64
		for _, v := range vals {
			sum += v
		}
		if agg.Op == brains.AggAvg {
			return sum / float64(len(vals)), nil
		}
		return sum, nil
	case brains.AggMin:
		min := vals[0]
		for _, v := range vals[1:] {
			if v < min {
				min = v
			}
		}
		return min, nil
	case brains.AggMax:
		max := vals[0]
		for _, v := range vals[1:] {
			if v > max {
				max = v
			}
		}
		return max, nil
	default:
		return 0, fmt.Errorf("unknown aggregate op %q", agg.Op)
	}
}

func numericValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

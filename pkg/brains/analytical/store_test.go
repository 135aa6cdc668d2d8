package analytical

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nancy-core/nancy/pkg/brains"
	"github.com/nancy-core/nancy/pkg/packet"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "analytical.db"), slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func componentsTable() packet.Table {
	return packet.Table{
		Name: "components",
		Columns: []packet.Column{
			{Name: "part", Type: "string"},
			{Name: "qty", Type: "number"},
			{Name: "unit_cost", Type: "number"},
		},
		Rows: [][]any{
			{"bracket", 4, 12.5},
			{"fastener", 100, 0.08},
			{"housing", 1, 220.0},
		},
	}
}

func TestStructuredFieldsLastWriteWins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertStructured(ctx, "pkt-a", map[string]any{"status": "draft", "rev": 1}))
	require.NoError(t, s.UpsertStructured(ctx, "pkt-a", map[string]any{"status": "released"}))

	rs, err := s.Query(ctx, brains.StructuredQuery{})
	require.NoError(t, err)
	require.Len(t, rs.Rows, 1)
	assert.Equal(t, "released", rs.Rows[0].Values["status"])
	assert.EqualValues(t, 1, rs.Rows[0].Values["rev"])
}

func TestTableQueryWithEqualsFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertTable(ctx, "pkt-a", componentsTable()))

	rs, err := s.Query(ctx, brains.StructuredQuery{
		Table:       "components",
		FieldEquals: map[string]any{"part": "bracket"},
	})
	require.NoError(t, err)
	require.Len(t, rs.Rows, 1)
	assert.EqualValues(t, 4, rs.Rows[0].Values["qty"])
}

func TestTableQueryRangeFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertTable(ctx, "pkt-a", componentsTable()))

	min := 1.0
	rs, err := s.Query(ctx, brains.StructuredQuery{
		Table: "components",
		Range: &brains.RangeFilter{Field: "unit_cost", Min: &min},
	})
	require.NoError(t, err)
	require.Len(t, rs.Rows, 2)
	// Default ordering is (packet_id, row_index).
	assert.Equal(t, "bracket", rs.Rows[0].Values["part"])
	assert.Equal(t, "housing", rs.Rows[1].Values["part"])
}

func TestAggregates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertTable(ctx, "pkt-a", componentsTable()))

	tests := []struct {
		op   string
		want float64
	}{
		{brains.AggCount, 3},
		{brains.AggSum, 105},
		{brains.AggAvg, 35},
		{brains.AggMin, 1},
		{brains.AggMax, 100},
	}
	for _, tt := range tests {
		t.Run(tt.op, func(t *testing.T) {
			rs, err := s.Query(ctx, brains.StructuredQuery{
				Table:     "components",
				Aggregate: &brains.Aggregate{Op: tt.op, Field: "qty"},
			})
			require.NoError(t, err)
			require.NotNil(t, rs.Aggregate)
			assert.Equal(t, tt.want, *rs.Aggregate)
			assert.Empty(t, rs.Rows)
		})
	}
}

func TestJoinAcrossPacketTables(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertTable(ctx, "pkt-a", componentsTable()))
	require.NoError(t, s.UpsertTable(ctx, "pkt-b", packet.Table{
		Name: "suppliers",
		Columns: []packet.Column{
			{Name: "part", Type: "string"},
			{Name: "supplier", Type: "string"},
		},
		Rows: [][]any{
			{"bracket", "Acme Metals"},
			{"housing", "Castwell"},
		},
	}))

	rs, err := s.Query(ctx, brains.StructuredQuery{
		Table: "components",
		Join:  &brains.Join{Table: "suppliers", On: "part"},
	})
	require.NoError(t, err)
	require.Len(t, rs.Rows, 2)
	assert.Equal(t, "Acme Metals", rs.Rows[0].Values["supplier"])
	assert.EqualValues(t, 4, rs.Rows[0].Values["qty"])
}

func TestUpsertTableReplacesRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertTable(ctx, "pkt-a", componentsTable()))

	smaller := componentsTable()
	smaller.Rows = smaller.Rows[:1]
	require.NoError(t, s.UpsertTable(ctx, "pkt-a", smaller))

	rs, err := s.Query(ctx, brains.StructuredQuery{Table: "components"})
	require.NoError(t, err)
	assert.Len(t, rs.Rows, 1)
}

func TestOrderByAndLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertTable(ctx, "pkt-a", componentsTable()))

	rs, err := s.Query(ctx, brains.StructuredQuery{
		Table:   "components",
		OrderBy: []string{"unit_cost"},
		Limit:   2,
	})
	require.NoError(t, err)
	require.Len(t, rs.Rows, 2)
	assert.Equal(t, "fastener", rs.Rows[0].Values["part"])
	assert.Equal(t, "bracket", rs.Rows[1].Values["part"])
}

func TestTimeSeriesRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.UpsertTimeSeries(ctx, "pkt-a", map[string][]packet.TimePoint{
		"enclosure_temp": {
			{Timestamp: t0, Value: 61.5},
			{Timestamp: t0.Add(time.Minute), Value: 63.0},
		},
	}))

	points, err := s.TimeSeries(ctx, "pkt-a", "enclosure_temp")
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.True(t, points[0].Timestamp.Equal(t0))
	assert.Equal(t, 61.5, points[0].Value)
	assert.Equal(t, 63.0, points[1].Value)
}

func TestTimeSeriesReplacedOnReUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.UpsertTimeSeries(ctx, "pkt-a", map[string][]packet.TimePoint{
		"enclosure_temp": {{Timestamp: t0, Value: 61.5}, {Timestamp: t0.Add(time.Minute), Value: 63.0}},
	}))
	require.NoError(t, s.UpsertTimeSeries(ctx, "pkt-a", map[string][]packet.TimePoint{
		"enclosure_temp": {{Timestamp: t0, Value: 59.0}},
	}))

	points, err := s.TimeSeries(ctx, "pkt-a", "enclosure_temp")
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, 59.0, points[0].Value)
}

func TestStatisticsLastWriteWins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertStatistics(ctx, "pkt-a", map[string]float64{
		"mean_temp": 62.1,
		"max_temp":  85.0,
	}))
	require.NoError(t, s.UpsertStatistics(ctx, "pkt-a", map[string]float64{
		"mean_temp": 63.4,
	}))

	stats, err := s.Statistics(ctx, "pkt-a")
	require.NoError(t, err)
	assert.Equal(t, 63.4, stats["mean_temp"])
	assert.Equal(t, 85.0, stats["max_temp"])
}

func TestHealthReportsHealthy(t *testing.T) {
	s := newTestStore(t)
	h := s.Health(context.Background())
	assert.Equal(t, "healthy", h.Status)
}

// Package brains defines the narrow adapter contracts over Nancy's four
// specialized stores: the dense-vector index, the structured analytical
// store, the property graph, and the language model.
//
// Adapters are shared, internally thread-safe, and stateless beyond their
// backend handle. Policy (which concrete backend) is configured at startup.
package brains

import (
	"context"
	"time"

	"github.com/nancy-core/nancy/pkg/packet"
)

// Brain names used in outcomes, metrics, and routing decisions.
const (
	BrainVector     = "vector"
	BrainAnalytical = "analytical"
	BrainGraph      = "graph"
	BrainLLM        = "llm"
)

// Health is the common adapter health shape.
type Health struct {
	Status     string        `json:"status"` // healthy | degraded | unhealthy
	LatencyP50 time.Duration `json:"latency_p50"`
	LastError  string        `json:"last_error,omitempty"`
}

// ScoredChunk is a vector search hit. Score is normalized to [0,1]
// (1 - cosine distance).
type ScoredChunk struct {
	PacketID string         `json:"packet_id"`
	ChunkID  string         `json:"chunk_id"`
	Score    float64        `json:"score"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// VectorBrain embeds and indexes text chunks and serves nearest-neighbor
// search.
type VectorBrain interface {
	// UpsertChunks embeds and stores chunks linked to packetID.
	// Re-upsert of the same chunk_id overwrites.
	UpsertChunks(ctx context.Context, packetID string, chunks []packet.Chunk, embeddingModel string) error
	// Search returns the top-k nearest chunks by cosine distance. Ties are
	// broken by chunk insertion order. filter restricts hits to chunks whose
	// metadata matches every key/value pair.
	Search(ctx context.Context, text string, k int, filter map[string]string) ([]ScoredChunk, error)
	Health(ctx context.Context) Health
}

// Row is one analytical result row.
type Row struct {
	PacketID string         `json:"packet_id"`
	Table    string         `json:"table,omitempty"`
	RowIndex int            `json:"row_index"`
	Values   map[string]any `json:"values"`
}

// ResultSet is the outcome of an analytical query. When the query aggregates,
// Aggregate holds the scalar and Rows is empty.
type ResultSet struct {
	Rows      []Row    `json:"rows,omitempty"`
	Aggregate *float64 `json:"aggregate,omitempty"`
}

// RangeFilter restricts a numeric field to [Min, Max]. Nil bounds are open.
type RangeFilter struct {
	Field string   `json:"field"`
	Min   *float64 `json:"min,omitempty"`
	Max   *float64 `json:"max,omitempty"`
}

// Aggregation ops supported by StructuredQuery.
const (
	AggCount = "count"
	AggSum   = "sum"
	AggAvg   = "avg"
	AggMin   = "min"
	AggMax   = "max"
)

// Aggregate names an aggregation over a field.
type Aggregate struct {
	Op    string `json:"op"`
	Field string `json:"field,omitempty"`
}

// Join describes an equi-join between the queried table and another
// packet-scoped table on a shared column.
type Join struct {
	Table string `json:"table"`
	On    string `json:"on"`
}

// StructuredQuery is the analytical query language: filter-by-field, range,
// join across packet tables, and aggregation. When Table is empty the query
// runs over structured fields. When OrderBy is empty, results are ordered by
// (packet_id, row_index).
type StructuredQuery struct {
	Table       string         `json:"table,omitempty"`
	FieldEquals map[string]any `json:"field_equals,omitempty"`
	Range       *RangeFilter   `json:"range,omitempty"`
	Join        *Join          `json:"join,omitempty"`
	Aggregate   *Aggregate     `json:"aggregate,omitempty"`
	OrderBy     []string       `json:"order_by,omitempty"`
	Limit       int            `json:"limit,omitempty"`
}

// AnalyticalBrain stores structured fields, packet-scoped tables, time
// series, and precomputed statistics.
type AnalyticalBrain interface {
	// UpsertStructured stores fields keyed by packetID; last write wins per field.
	UpsertStructured(ctx context.Context, packetID string, fields map[string]any) error
	// UpsertTable creates or replaces a named table scoped to the packet.
	UpsertTable(ctx context.Context, packetID string, table packet.Table) error
	// UpsertTimeSeries replaces the named series scoped to the packet.
	UpsertTimeSeries(ctx context.Context, packetID string, series map[string][]packet.TimePoint) error
	// UpsertStatistics stores named scalars keyed by packetID; last write wins.
	UpsertStatistics(ctx context.Context, packetID string, stats map[string]float64) error
	Query(ctx context.Context, q StructuredQuery) (*ResultSet, error)
	Health(ctx context.Context) Health
}

// EntityID is the graph backend's stable identifier for an entity.
type EntityID int64

// GraphEntity is a materialized graph node.
type GraphEntity struct {
	ID         EntityID          `json:"id"`
	Type       packet.EntityType `json:"type"`
	Name       string            `json:"name"`
	Properties map[string]any    `json:"properties,omitempty"`
	Confidence float64           `json:"confidence"`
}

// GraphEdge is a materialized graph relationship.
type GraphEdge struct {
	SourceID         EntityID            `json:"source_id"`
	Relationship     packet.RelationType `json:"relationship"`
	TargetID         EntityID            `json:"target_id"`
	Properties       map[string]any      `json:"properties,omitempty"`
	Confidence       float64             `json:"confidence"`
	ObservationCount int                 `json:"observation_count"`
}

// Subgraph is the result of a neighborhood expansion.
type Subgraph struct {
	Entities      []GraphEntity `json:"entities"`
	Relationships []GraphEdge   `json:"relationships"`
}

// Path is an ordered entity sequence with the edges that connect it.
type Path struct {
	Entities      []GraphEntity `json:"entities"`
	Relationships []GraphEdge   `json:"relationships"`
}

// Length returns the number of hops.
func (p *Path) Length() int {
	if p == nil || len(p.Entities) == 0 {
		return 0
	}
	return len(p.Entities) - 1
}

// GraphBrain stores the property graph. Entity identity is (type, name);
// relationship identity is (source, relationship, target).
type GraphBrain interface {
	// UpsertEntities merges entities by natural key; new property values win
	// on conflict and provenance is logged. Returned ids are parallel to the
	// input slice.
	UpsertEntities(ctx context.Context, entities []packet.Entity, provenance string) ([]EntityID, error)
	// UpsertRelationships coalesces duplicate edges, incrementing an internal
	// observation count.
	UpsertRelationships(ctx context.Context, rels []packet.Relationship, provenance string) error
	Neighbors(ctx context.Context, ref packet.EntityRef, depth int, relFilter []packet.RelationType) (*Subgraph, error)
	ShortestPath(ctx context.Context, a, b packet.EntityRef, relFilter []packet.RelationType) (*Path, error)
	FindByProperty(ctx context.Context, entityType packet.EntityType, prop, value string) ([]EntityID, error)
	// FindByName returns the refs of entities with the given name across all
	// types. Used by the query analyzer for entity extraction.
	FindByName(ctx context.Context, name string) ([]packet.EntityRef, error)
	// Entity resolves an id back to its materialized node.
	Entity(ctx context.Context, id EntityID) (*GraphEntity, error)
	Health(ctx context.Context) Health
}

// Evidence source kinds.
const (
	SourceChunk  = "chunk"
	SourceEntity = "entity"
	SourceRow    = "row"
)

// EvidenceItem is one element of the bundle handed to the LLM for synthesis.
type EvidenceItem struct {
	SourceKind string `json:"source_kind"`
	CitationID string `json:"citation_id"`
	Excerpt    string `json:"excerpt"`
}

// Synthesis modes.
const (
	SynthesisExtractive  = "extractive"
	SynthesisAbstractive = "abstractive"
	SynthesisTabular     = "tabular"
)

// Answer is a synthesized response. CitationIDs are the citation ids the
// model actually used, each guaranteed to reference an item from the bundle.
type Answer struct {
	Text        string   `json:"text"`
	CitationIDs []string `json:"citation_ids"`
}

// IntentGuess is the LLM fallback classification used when rule-based intent
// detection is inconclusive.
type IntentGuess struct {
	Kind       string   `json:"kind"`
	Confidence float64  `json:"confidence"`
	Entities   []string `json:"entities,omitempty"`
}

// LLMBrain synthesizes natural-language answers and classifies query intent.
type LLMBrain interface {
	Synthesize(ctx context.Context, question string, evidence []EvidenceItem, style string) (*Answer, error)
	ClassifyIntent(ctx context.Context, question string) (*IntentGuess, error)
	Health(ctx context.Context) Health
}

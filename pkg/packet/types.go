// Package packet defines the Knowledge Packet wire model and its validator.
//
// A Knowledge Packet is the canonical unit of ingestion: a versioned JSON
// document carrying up to three sub-payloads (vector, analytical, graph),
// identified by the SHA-256 of its canonicalized content.
package packet

import "time"

// KnowledgePacket is the decoded form of a packet document.
type KnowledgePacket struct {
	PacketVersion   string           `json:"packet_version"`
	PacketID        string           `json:"packet_id"`
	Timestamp       time.Time        `json:"timestamp"`
	Source          Source           `json:"source"`
	Metadata        Metadata         `json:"metadata"`
	Content         Content          `json:"content"`
	ProcessingHints *ProcessingHints `json:"processing_hints,omitempty"`
	QualityMetrics  *QualityMetrics  `json:"quality_metrics,omitempty"`
}

// Source identifies the MCP server that produced the packet.
type Source struct {
	MCPServerName    string      `json:"mcp_server_name"`
	ServerVersion    string      `json:"server_version"`
	OriginalLocation string      `json:"original_location"`
	ContentType      ContentType `json:"content_type"`
	ExtractionMethod string      `json:"extraction_method"`
}

// Metadata carries document-level descriptive fields. Title is required.
type Metadata struct {
	Title          string         `json:"title"`
	Author         string         `json:"author,omitempty"`
	Contributors   []string       `json:"contributors,omitempty"`
	CreatedAt      *time.Time     `json:"created_at,omitempty"`
	ModifiedAt     *time.Time     `json:"modified_at,omitempty"`
	FileSize       int64          `json:"file_size,omitempty"`
	ContentHash    string         `json:"content_hash,omitempty"`
	Tags           []string       `json:"tags,omitempty"`
	Department     string         `json:"department,omitempty"`
	Project        string         `json:"project,omitempty"`
	Classification Classification `json:"classification,omitempty"`
	Language       string         `json:"language,omitempty"`
}

// Content is the composite payload. At least one sub-payload must be present.
type Content struct {
	VectorData     *VectorData     `json:"vector_data,omitempty"`
	AnalyticalData *AnalyticalData `json:"analytical_data,omitempty"`
	GraphData      *GraphData      `json:"graph_data,omitempty"`
}

// VectorData is the chunked-text payload destined for the vector brain.
type VectorData struct {
	Chunks           []Chunk `json:"chunks"`
	EmbeddingModel   string  `json:"embedding_model"`
	ChunkingStrategy string  `json:"chunking_strategy,omitempty"`
	ChunkSize        int     `json:"chunk_size"`
	ChunkOverlap     int     `json:"chunk_overlap"`
}

// Chunk is a single text unit. Chunk order within a packet is preserved for
// citation; chunk_id must be globally unique.
type Chunk struct {
	ChunkID  string         `json:"chunk_id"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"chunk_metadata,omitempty"`
}

// AnalyticalData is the structured payload destined for the analytical brain.
type AnalyticalData struct {
	StructuredFields map[string]any         `json:"structured_fields,omitempty"`
	TableData        []Table                `json:"table_data,omitempty"`
	TimeSeries       map[string][]TimePoint `json:"time_series,omitempty"`
	Statistics       map[string]float64     `json:"statistics,omitempty"`
}

// Table is a named table with typed columns, scoped to the packet.
type Table struct {
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// Column describes a table column.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// TimePoint is a single observation in a named time series.
type TimePoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// GraphData is the entity/relationship payload destined for the graph brain.
type GraphData struct {
	Entities      []Entity       `json:"entities,omitempty"`
	Relationships []Relationship `json:"relationships,omitempty"`
}

// Entity is a node in the property graph. Identity is (type, name).
type Entity struct {
	Type       EntityType     `json:"type"`
	Name       string         `json:"name"`
	Properties map[string]any `json:"properties,omitempty"`
	Confidence float64        `json:"confidence"`
}

// EntityRef references an entity by its natural key. The target may be
// defined in the same packet or previously ingested.
type EntityRef struct {
	Type EntityType `json:"type"`
	Name string     `json:"name"`
}

// Relationship is a directed edge between two entity references.
type Relationship struct {
	SourceRef    EntityRef      `json:"source_ref"`
	Relationship RelationType   `json:"relationship"`
	TargetRef    EntityRef      `json:"target_ref"`
	Properties   map[string]any `json:"properties,omitempty"`
	Confidence   float64        `json:"confidence"`
}

// ProcessingHints are optional routing hints from the producing MCP server.
type ProcessingHints struct {
	PriorityBrain          PriorityBrain `json:"priority_brain,omitempty"`
	SemanticWeight         float64       `json:"semantic_weight,omitempty"`
	RelationshipImportance float64       `json:"relationship_importance,omitempty"`
	RequiresExpertRouting  bool          `json:"requires_expert_routing,omitempty"`
	ContentClassification  string        `json:"content_classification,omitempty"`
	IndexingPriority       string        `json:"indexing_priority,omitempty"`
}

// QualityMetrics are optional self-reported extraction quality figures.
type QualityMetrics struct {
	ExtractionConfidence float64  `json:"extraction_confidence,omitempty"`
	ContentCompleteness  float64  `json:"content_completeness,omitempty"`
	RelationshipAccuracy float64  `json:"relationship_accuracy,omitempty"`
	TextQualityScore     float64  `json:"text_quality_score,omitempty"`
	MetadataRichness     float64  `json:"metadata_richness,omitempty"`
	ProcessingErrors     []string `json:"processing_errors,omitempty"`
}

// TargetBrains reports which brains this packet's content addresses, in the
// fixed order vector, analytical, graph.
func (p *KnowledgePacket) TargetBrains() []string {
	var targets []string
	if p.Content.VectorData != nil {
		targets = append(targets, "vector")
	}
	if p.Content.AnalyticalData != nil {
		targets = append(targets, "analytical")
	}
	if p.Content.GraphData != nil {
		targets = append(targets, "graph")
	}
	return targets
}

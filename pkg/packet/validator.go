package packet

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed schema.json
var schemaBytes []byte

// Chunking bounds from the packet contract.
const (
	MinChunkSize    = 50
	MaxChunkSize    = 8192
	MaxChunkOverlap = 500
)

// Validator checks packet documents in two passes: a structural JSON-Schema
// pass over the raw document, then a semantic walk over the decoded tree
// (closed enums, numeric ranges, content-hash integrity).
type Validator struct {
	schema *jsonschema.Schema
}

// NewValidator compiles the embedded packet schema.
func NewValidator() (*Validator, error) {
	var schemaDoc any
	if err := json.Unmarshal(schemaBytes, &schemaDoc); err != nil {
		return nil, fmt.Errorf("unmarshal packet schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("knowledge-packet.json", schemaDoc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := c.Compile("knowledge-packet.json")
	if err != nil {
		return nil, fmt.Errorf("compile packet schema: %w", err)
	}
	return &Validator{schema: schema}, nil
}

// Validate checks a raw packet document and returns the decoded packet.
// The returned error is a ValidationErrors value listing every violation.
func (v *Validator) Validate(raw []byte) (*KnowledgePacket, error) {
	pkt, errs := v.ValidationErrors(raw)
	if len(errs) > 0 {
		return nil, errs
	}
	return pkt, nil
}

// ValidationErrors is the non-raising variant: it reports every violation
// found rather than stopping at the first. The decoded packet is returned
// when the document was at least structurally decodable.
func (v *Validator) ValidationErrors(raw []byte) (*KnowledgePacket, ValidationErrors) {
	var errs ValidationErrors

	// Structural pass over the raw document.
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, ValidationErrors{violation("/", KindBadFormat, "invalid JSON: %v", err)}
	}
	if err := v.schema.Validate(doc); err != nil {
		errs = append(errs, schemaViolations(err)...)
	}

	var pkt KnowledgePacket
	if err := json.Unmarshal(raw, &pkt); err != nil {
		errs = append(errs, violation("/", KindBadFormat, "cannot decode packet: %v", err))
		return nil, errs
	}

	errs = append(errs, v.walk(&pkt)...)

	// Hash integrity: recompute over the content subtree exactly as submitted.
	var envelope struct {
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && len(envelope.Content) > 0 {
		computed, err := ContentHashRaw(envelope.Content)
		if err != nil {
			errs = append(errs, violation("/content", KindBadFormat, "cannot canonicalize content: %v", err))
		} else if computed != pkt.PacketID {
			errs = append(errs, violation("/packet_id", KindHashMismatch,
				"packet_id %q does not match content hash %q", pkt.PacketID, computed))
		}
	}

	return &pkt, errs
}

// walk applies the semantic checks the schema cannot express.
func (v *Validator) walk(pkt *KnowledgePacket) ValidationErrors {
	var errs ValidationErrors

	if !isHex64(pkt.PacketID) {
		errs = append(errs, violation("/packet_id", KindBadFormat,
			"must be 64 lowercase hex characters, got %d", len(pkt.PacketID)))
	}
	if !pkt.Source.ContentType.Valid() {
		errs = append(errs, violation("/source/content_type", KindUnknownEnum,
			"unknown content type %q", pkt.Source.ContentType))
	}
	if !pkt.Metadata.Classification.Valid() {
		errs = append(errs, violation("/metadata/classification", KindUnknownEnum,
			"unknown classification %q", pkt.Metadata.Classification))
	}

	c := pkt.Content
	if c.VectorData == nil && c.AnalyticalData == nil && c.GraphData == nil {
		errs = append(errs, violation("/content", KindEmptyContent,
			"at least one of vector_data, analytical_data, graph_data must be present"))
	}

	if vd := c.VectorData; vd != nil {
		if len(vd.Chunks) == 0 {
			errs = append(errs, violation("/content/vector_data/chunks", KindRequired,
				"vector_data requires at least one chunk"))
		}
		if vd.ChunkSize < MinChunkSize || vd.ChunkSize > MaxChunkSize {
			errs = append(errs, violation("/content/vector_data/chunk_size", KindOutOfRange,
				"chunk_size %d outside [%d,%d]", vd.ChunkSize, MinChunkSize, MaxChunkSize))
		}
		if vd.ChunkOverlap < 0 || vd.ChunkOverlap > MaxChunkOverlap {
			errs = append(errs, violation("/content/vector_data/chunk_overlap", KindOutOfRange,
				"chunk_overlap %d outside [0,%d]", vd.ChunkOverlap, MaxChunkOverlap))
		}
		seen := make(map[string]int, len(vd.Chunks))
		for i, chunk := range vd.Chunks {
			if prev, dup := seen[chunk.ChunkID]; dup {
				errs = append(errs, violation(
					fmt.Sprintf("/content/vector_data/chunks/%d/chunk_id", i), KindDuplicateID,
					"chunk_id %q already used at index %d", chunk.ChunkID, prev))
			}
			seen[chunk.ChunkID] = i
		}
	}

	if gd := c.GraphData; gd != nil {
		for i, ent := range gd.Entities {
			p := fmt.Sprintf("/content/graph_data/entities/%d", i)
			if !ent.Type.Valid() {
				errs = append(errs, violation(p+"/type", KindUnknownEnum,
					"unknown entity type %q", ent.Type))
			}
			if ent.Confidence < 0 || ent.Confidence > 1 {
				errs = append(errs, violation(p+"/confidence", KindOutOfRange,
					"confidence %v outside [0,1]", ent.Confidence))
			}
		}
		for i, rel := range gd.Relationships {
			p := fmt.Sprintf("/content/graph_data/relationships/%d", i)
			if !rel.Relationship.Valid() {
				errs = append(errs, violation(p+"/relationship", KindUnknownEnum,
					"unknown relationship %q", rel.Relationship))
			}
			if !rel.SourceRef.Type.Valid() {
				errs = append(errs, violation(p+"/source_ref/type", KindUnknownEnum,
					"unknown entity type %q", rel.SourceRef.Type))
			}
			if !rel.TargetRef.Type.Valid() {
				errs = append(errs, violation(p+"/target_ref/type", KindUnknownEnum,
					"unknown entity type %q", rel.TargetRef.Type))
			}
			if rel.Confidence < 0 || rel.Confidence > 1 {
				errs = append(errs, violation(p+"/confidence", KindOutOfRange,
					"confidence %v outside [0,1]", rel.Confidence))
			}
		}
	}

	if h := pkt.ProcessingHints; h != nil && !h.PriorityBrain.Valid() {
		errs = append(errs, violation("/processing_hints/priority_brain", KindUnknownEnum,
			"unknown priority brain %q", h.PriorityBrain))
	}

	if q := pkt.QualityMetrics; q != nil {
		ratios := map[string]float64{
			"extraction_confidence": q.ExtractionConfidence,
			"content_completeness":  q.ContentCompleteness,
			"relationship_accuracy": q.RelationshipAccuracy,
			"text_quality_score":    q.TextQualityScore,
			"metadata_richness":     q.MetadataRichness,
		}
		for field, val := range ratios {
			if val < 0 || val > 1 {
				errs = append(errs, violation("/quality_metrics/"+field, KindOutOfRange,
					"%s %v outside [0,1]", field, val))
			}
		}
	}

	return errs
}

// schemaViolations flattens a jsonschema validation error into leaf
// violations with instance paths.
func schemaViolations(err error) ValidationErrors {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return ValidationErrors{violation("/", KindSchema, "%v", err)}
	}
	var errs ValidationErrors
	var collect func(e *jsonschema.ValidationError)
	collect = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			path := "/" + strings.Join(e.InstanceLocation, "/")
			errs = append(errs, violation(path, KindSchema, "%s", e.Error()))
			return
		}
		for _, cause := range e.Causes {
			collect(cause)
		}
	}
	collect(verr)
	return errs
}

func isHex64(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f':
		default:
			return false
		}
	}
	return true
}

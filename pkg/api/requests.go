package api

// QueryRequest is the body of POST /query.
type QueryRequest struct {
	Question      string `json:"question"`
	NResults      int    `json:"n_results,omitempty"`
	Style         string `json:"style,omitempty"`
	PriorityBrain string `json:"priority_brain,omitempty"`
	RawEvidence   bool   `json:"raw_evidence,omitempty"`
}

// IngestFileRequest is the body of POST /ingest/file. The named source is
// extracted by a routed MCP content processor before validation.
type IngestFileRequest struct {
	Location    string `json:"location"`
	ContentType string `json:"content_type"`
}

// ModeRequest is the body of POST /mode.
type ModeRequest struct {
	Mode string `json:"mode"`
}

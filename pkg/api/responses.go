package api

import (
	"github.com/nancy-core/nancy/pkg/brains"
	"github.com/nancy-core/nancy/pkg/ingest"
	"github.com/nancy-core/nancy/pkg/mcphost"
)

// IngestResponse is returned by both ingest endpoints.
type IngestResponse struct {
	Outcome  string                        `json:"outcome"`
	PacketID string                        `json:"packet_id"`
	PerBrain map[string]ingest.BrainResult `json:"per_brain,omitempty"`
}

// IngestStats summarizes the history log for the health report.
type IngestStats struct {
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status     string                          `json:"status"`
	Version    string                          `json:"version"`
	Mode       string                          `json:"mode"`
	Brains     map[string]brains.Health        `json:"brains"`
	MCPServers map[string]mcphost.ServerStatus `json:"mcp_servers,omitempty"`
	Ingest     *IngestStats                    `json:"ingest,omitempty"`
}

// ModeResponse is returned by the mode endpoints.
type ModeResponse struct {
	Mode string `json:"mode"`
}

package config

import (
	"fmt"
	"sort"
	"sync"

	"github.com/nancy-core/nancy/pkg/packet"
)

// TransportType defines MCP server transport types.
type TransportType string

const (
	// TransportTypeStdio uses subprocess communication via stdin/stdout.
	TransportTypeStdio TransportType = "stdio"
	// TransportTypeHTTP uses streamable HTTP JSON-RPC.
	TransportTypeHTTP TransportType = "http"
	// TransportTypeSSE uses Server-Sent Events.
	TransportTypeSSE TransportType = "sse"
)

// IsValid checks if the transport type is supported.
func (t TransportType) IsValid() bool {
	return t == TransportTypeStdio || t == TransportTypeHTTP || t == TransportTypeSSE
}

// TransportConfig defines how to reach one MCP content processor.
type TransportConfig struct {
	Type TransportType `yaml:"type" validate:"required"`

	// For stdio transport
	Command string            `yaml:"command,omitempty"`
	Args    []string          `yaml:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`

	// For http/sse transport
	URL         string `yaml:"url,omitempty"`
	BearerToken string `yaml:"bearer_token,omitempty"`
	VerifySSL   *bool  `yaml:"verify_ssl,omitempty"`
	Timeout     int    `yaml:"timeout,omitempty"` // seconds
}

// MCPServerConfig defines one registered content processor.
type MCPServerConfig struct {
	Transport TransportConfig `yaml:"transport" validate:"required"`

	// ContentTypes this server can process. Routing prefers higher Priority.
	ContentTypes []packet.ContentType `yaml:"content_types,omitempty"`
	Priority     int                  `yaml:"priority,omitempty"`

	// MaxRestarts limits how many times a crashed server is restarted before
	// it is disabled. Zero means use the default.
	MaxRestarts int `yaml:"max_restarts,omitempty"`
}

// MCPServerRegistry stores MCP server configurations with thread-safe access.
type MCPServerRegistry struct {
	mu      sync.RWMutex
	servers map[string]*MCPServerConfig
}

// NewMCPServerRegistry creates a registry from the loaded configuration.
func NewMCPServerRegistry(servers map[string]*MCPServerConfig) *MCPServerRegistry {
	if servers == nil {
		servers = make(map[string]*MCPServerConfig)
	}
	return &MCPServerRegistry{servers: servers}
}

// Get retrieves an MCP server configuration by ID.
func (r *MCPServerRegistry) Get(serverID string) (*MCPServerConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	server, exists := r.servers[serverID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrMCPServerNotFound, serverID)
	}
	return server, nil
}

// Has checks if an MCP server exists in the registry.
func (r *MCPServerRegistry) Has(serverID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.servers[serverID]
	return exists
}

// ServerIDs returns all registered server ids in stable order.
func (r *MCPServerRegistry) ServerIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.servers))
	for id := range r.servers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of registered servers.
func (r *MCPServerRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.servers)
}

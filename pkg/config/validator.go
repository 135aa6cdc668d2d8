package config

import (
	"errors"
	"fmt"
)

var validModes = map[string]bool{
	ModeLegacy: true,
	ModeHybrid: true,
	ModeMCP:    true,
}

// validate checks the resolved configuration before any component starts.
// A failure here aborts the process.
func validate(cfg *Config) error {
	if !validModes[cfg.Mode] {
		return NewValidationError("nancy_core", "mode", "",
			fmt.Errorf("unknown mode %q", cfg.Mode))
	}
	if cfg.Server.ListenAddr == "" {
		return NewValidationError("server", "listen_addr", "",
			errors.New("listen address is required"))
	}
	if cfg.Storage.DataDir == "" {
		return NewValidationError("storage", "data_dir", "",
			errors.New("data directory is required"))
	}

	if cfg.Orchestration.PerBrainTimeoutMS <= 0 || cfg.Orchestration.TotalTimeoutMS <= 0 {
		return NewValidationError("orchestration", "timeouts", "",
			errors.New("timeouts must be positive"))
	}
	if cfg.Orchestration.PerBrainTimeoutMS > cfg.Orchestration.TotalTimeoutMS {
		return NewValidationError("orchestration", "timeouts", "",
			errors.New("per_brain_timeout_ms must not exceed total_timeout_ms"))
	}

	if cfg.Limits.IngestInFlight <= 0 || cfg.Limits.PerBrainInFlight <= 0 ||
		cfg.Limits.QueryInFlight <= 0 || cfg.Limits.MaxIngestAttempts <= 0 {
		return NewValidationError("limits", "limits", "",
			errors.New("all limits must be positive"))
	}

	for _, id := range cfg.AllMCPServerIDs() {
		server, err := cfg.MCPServerRegistry.Get(id)
		if err != nil {
			return err
		}
		if err := validateMCPServer(id, server); err != nil {
			return err
		}
	}

	if cfg.Mode == ModeMCP && cfg.MCPServerRegistry.Len() == 0 {
		return NewValidationError("nancy_core", "mode", "",
			errors.New("mcp mode requires at least one configured MCP server"))
	}
	return nil
}

func validateMCPServer(id string, server *MCPServerConfig) error {
	t := server.Transport
	if !t.Type.IsValid() {
		return NewValidationError("mcp_server", id, "transport.type",
			fmt.Errorf("unknown transport type %q", t.Type))
	}
	switch t.Type {
	case TransportTypeStdio:
		if t.Command == "" {
			return NewValidationError("mcp_server", id, "transport.command",
				errors.New("stdio transport requires a command"))
		}
	case TransportTypeHTTP, TransportTypeSSE:
		if t.URL == "" {
			return NewValidationError("mcp_server", id, "transport.url",
				fmt.Errorf("%s transport requires a url", t.Type))
		}
	}
	for _, ct := range server.ContentTypes {
		if !ct.Valid() {
			return NewValidationError("mcp_server", id, "content_types",
				fmt.Errorf("unknown content type %q", ct))
		}
	}
	return nil
}

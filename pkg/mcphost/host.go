// Package mcphost supervises external MCP content processors: lifecycle,
// heartbeats, restart policy, and content-type routing.
package mcphost

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nancy-core/nancy/pkg/config"
	"github.com/nancy-core/nancy/pkg/packet"
	"github.com/nancy-core/nancy/pkg/version"
)

// Timeouts and supervision defaults.
const (
	InitTimeout         = 30 * time.Second
	OperationTimeout    = 30 * time.Second
	HeartbeatInterval   = 10 * time.Second
	ProbeTimeout        = 10 * time.Second
	MaxMissedHeartbeats = 3
	DefaultMaxRestart   = 5
	RestartBackoffBase  = time.Second
	RestartBackoffCap   = time.Minute
)

// ingestToolName is the tool every content processor must advertise.
const ingestToolName = "process_content"

// Server lifecycle states.
type ServerState string

const (
	StateStarting  ServerState = "starting"
	StateHealthy   ServerState = "healthy"
	StateUnhealthy ServerState = "unhealthy"
	StateDisabled  ServerState = "disabled"
)

// ErrNoProcessor is returned when no healthy server can handle a content type.
var ErrNoProcessor = errors.New("no healthy processor for content type")

// ServerStatus is the externally visible state of one supervised server.
type ServerStatus struct {
	ServerID      string      `json:"server_id"`
	State         ServerState `json:"state"`
	LastHeartbeat time.Time   `json:"last_heartbeat,omitempty"`
	RestartCount  int         `json:"restart_count"`
	ToolCount     int         `json:"tool_count"`
	Error         string      `json:"error,omitempty"`
}

type serverEntry struct {
	status  ServerStatus
	session *mcpsdk.ClientSession
	client  *mcpsdk.Client
	missed  int

	// Restart attempts back off exponentially; the entry holds the policy
	// and the earliest time the next attempt may run.
	restartBackoff *backoff.ExponentialBackOff
	nextRestart    time.Time
}

func newRestartBackoff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = RestartBackoffBase
	bo.MaxInterval = RestartBackoffCap
	bo.MaxElapsedTime = 0
	return bo
}

// Host supervises the configured MCP content processors. A background loop
// probes each server with ListTools; a server that fails its probe is
// restarted with backoff, and disabled once it exceeds its restart budget.
type Host struct {
	registry          *config.MCPServerRegistry
	logger            *slog.Logger
	heartbeatInterval time.Duration
	probeTimeout      time.Duration

	mu      sync.RWMutex
	servers map[string]*serverEntry

	cancel context.CancelFunc
	done   chan struct{}
}

// NewHost creates a host over the configured server registry.
func NewHost(registry *config.MCPServerRegistry, logger *slog.Logger) *Host {
	return &Host{
		registry:          registry,
		logger:            logger.With("component", "mcp_host"),
		heartbeatInterval: HeartbeatInterval,
		probeTimeout:      ProbeTimeout,
		servers:           make(map[string]*serverEntry),
	}
}

// Start connects every registered server and launches the heartbeat loop.
// Servers that fail to connect start in the unhealthy state and are retried
// by the supervision loop. Calling Start on a running host is a no-op.
func (h *Host) Start(ctx context.Context) {
	if h.cancel != nil {
		return
	}
	ctx, h.cancel = context.WithCancel(ctx)
	h.done = make(chan struct{})

	for _, serverID := range h.registry.ServerIDs() {
		h.mu.Lock()
		h.servers[serverID] = &serverEntry{
			status:         ServerStatus{ServerID: serverID, State: StateStarting},
			restartBackoff: newRestartBackoff(),
		}
		h.mu.Unlock()
		if err := h.connect(ctx, serverID); err != nil {
			h.setState(serverID, StateUnhealthy, err.Error())
			h.logger.Warn("MCP server failed to start", "server", serverID, "error", err)
		}
	}

	go h.loop(ctx)
}

// Stop shuts down the heartbeat loop and closes all sessions.
func (h *Host) Stop() {
	if h.cancel != nil {
		h.cancel()
	}
	if h.done != nil {
		<-h.done
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, entry := range h.servers {
		if entry.session != nil {
			if err := entry.session.Close(); err != nil {
				h.logger.Warn("error closing MCP session", "server", id, "error", err)
			}
		}
	}
	h.servers = make(map[string]*serverEntry)
	h.cancel = nil
	h.done = nil
}

// Statuses returns a snapshot of all supervised servers.
func (h *Host) Statuses() map[string]ServerStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]ServerStatus, len(h.servers))
	for id, entry := range h.servers {
		out[id] = entry.status
	}
	return out
}

// IsHealthy reports whether every non-disabled server is healthy.
func (h *Host) IsHealthy() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.servers) == 0 {
		return true
	}
	for _, entry := range h.servers {
		if entry.status.State != StateHealthy && entry.status.State != StateDisabled {
			return false
		}
	}
	return true
}

// RouteFor picks the server to process contentType: healthy servers whose
// declared content types include it, highest configured priority first, then
// the most recent heartbeat.
func (h *Host) RouteFor(contentType packet.ContentType) (string, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var (
		bestID       string
		bestPriority int
		bestBeat     time.Time
	)
	for id, entry := range h.servers {
		if entry.status.State != StateHealthy {
			continue
		}
		cfg, err := h.registry.Get(id)
		if err != nil || !supportsContentType(cfg, contentType) {
			continue
		}
		switch {
		case bestID == "",
			cfg.Priority > bestPriority,
			cfg.Priority == bestPriority && entry.status.LastHeartbeat.After(bestBeat):
			bestID = id
			bestPriority = cfg.Priority
			bestBeat = entry.status.LastHeartbeat
		}
	}
	if bestID == "" {
		return "", fmt.Errorf("%w: %s", ErrNoProcessor, contentType)
	}
	return bestID, nil
}

// CallTool executes a tool call on the specified server.
func (h *Host) CallTool(ctx context.Context, serverID, toolName string, args map[string]any) (*mcpsdk.CallToolResult, error) {
	h.mu.RLock()
	entry, exists := h.servers[serverID]
	var session *mcpsdk.ClientSession
	if exists {
		session = entry.session
	}
	h.mu.RUnlock()
	if session == nil {
		return nil, fmt.Errorf("no session for server %q", serverID)
	}

	opCtx, cancel := context.WithTimeout(ctx, OperationTimeout)
	defer cancel()
	return session.CallTool(opCtx, &mcpsdk.CallToolParams{Name: toolName, Arguments: args})
}

// ProcessContent routes a raw source to a processor and returns its packet
// payload: the concatenated text content of the tool result.
func (h *Host) ProcessContent(ctx context.Context, contentType packet.ContentType, location string) ([]byte, error) {
	serverID, err := h.RouteFor(contentType)
	if err != nil {
		return nil, err
	}
	result, err := h.CallTool(ctx, serverID, ingestToolName, map[string]any{
		"content_type": string(contentType),
		"location":     location,
	})
	if err != nil {
		return nil, fmt.Errorf("process_content on %q: %w", serverID, err)
	}
	if result.IsError {
		return nil, fmt.Errorf("processor %q reported an error for %s", serverID, location)
	}
	var payload []byte
	for _, content := range result.Content {
		if text, ok := content.(*mcpsdk.TextContent); ok {
			payload = append(payload, text.Text...)
		}
	}
	if len(payload) == 0 {
		return nil, fmt.Errorf("processor %q returned no text content", serverID)
	}
	return payload, nil
}

// ListTools probes one server and returns its advertised tools.
func (h *Host) ListTools(ctx context.Context, serverID string) ([]*mcpsdk.Tool, error) {
	h.mu.RLock()
	entry, exists := h.servers[serverID]
	var session *mcpsdk.ClientSession
	if exists {
		session = entry.session
	}
	h.mu.RUnlock()
	if session == nil {
		return nil, fmt.Errorf("no session for server %q", serverID)
	}

	opCtx, cancel := context.WithTimeout(ctx, h.probeTimeout)
	defer cancel()
	result, err := session.ListTools(opCtx, nil)
	if err != nil {
		return nil, fmt.Errorf("list tools from %q: %w", serverID, err)
	}
	return result.Tools, nil
}

func (h *Host) loop(ctx context.Context) {
	defer close(h.done)

	h.checkAll(ctx)

	ticker := time.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.checkAll(ctx)
		}
	}
}

func (h *Host) checkAll(ctx context.Context) {
	for _, serverID := range h.registry.ServerIDs() {
		h.checkServer(ctx, serverID)
	}
}

// checkServer probes one server. A failed probe counts as a missed
// heartbeat; once more than MaxMissedHeartbeats accumulate the server is
// marked unhealthy and reconnected, burning the restart budget until it is
// disabled.
func (h *Host) checkServer(ctx context.Context, serverID string) {
	h.mu.RLock()
	entry, exists := h.servers[serverID]
	var state ServerState
	if exists {
		state = entry.status.State
	}
	h.mu.RUnlock()
	if !exists || state == StateDisabled {
		return
	}

	tools, err := h.ListTools(ctx, serverID)
	if err == nil {
		h.mu.Lock()
		entry.status.State = StateHealthy
		entry.status.LastHeartbeat = time.Now()
		entry.status.ToolCount = len(tools)
		entry.status.Error = ""
		entry.missed = 0
		h.mu.Unlock()
		return
	}

	h.mu.Lock()
	entry.missed++
	missed := entry.missed
	h.mu.Unlock()
	h.logger.Warn("MCP heartbeat failed", "server", serverID, "missed", missed, "error", err)
	if missed <= MaxMissedHeartbeats {
		return
	}

	h.setState(serverID, StateUnhealthy, err.Error())
	h.restart(ctx, serverID)
}

// restart tears down and reconnects one server, disabling it once the
// restart budget is exhausted. Attempts are spaced by an exponential
// backoff so a crash-looping server is not relaunched on every heartbeat
// tick.
func (h *Host) restart(ctx context.Context, serverID string) {
	cfg, err := h.registry.Get(serverID)
	if err != nil {
		return
	}
	maxRestarts := cfg.MaxRestarts
	if maxRestarts <= 0 {
		maxRestarts = DefaultMaxRestart
	}

	h.mu.Lock()
	entry := h.servers[serverID]
	if !entry.nextRestart.IsZero() && time.Now().Before(entry.nextRestart) {
		h.mu.Unlock()
		return
	}
	if entry.status.RestartCount >= maxRestarts {
		entry.status.State = StateDisabled
		entry.status.Error = fmt.Sprintf("disabled after %d restarts", entry.status.RestartCount)
		h.mu.Unlock()
		h.logger.Error("MCP server disabled", "server", serverID, "restarts", maxRestarts)
		return
	}
	entry.status.RestartCount++
	if entry.session != nil {
		_ = entry.session.Close()
		entry.session = nil
		entry.client = nil
	}
	if entry.restartBackoff == nil {
		entry.restartBackoff = newRestartBackoff()
	}
	entry.nextRestart = time.Now().Add(entry.restartBackoff.NextBackOff())
	restarts := entry.status.RestartCount
	h.mu.Unlock()

	if err := h.connect(ctx, serverID); err != nil {
		h.setState(serverID, StateUnhealthy, err.Error())
		h.logger.Warn("MCP server restart failed",
			"server", serverID, "attempt", restarts, "error", err)
		return
	}

	h.mu.Lock()
	entry.restartBackoff.Reset()
	entry.nextRestart = time.Time{}
	h.mu.Unlock()
	h.logger.Info("MCP server restarted", "server", serverID, "attempt", restarts)
}

func (h *Host) connect(ctx context.Context, serverID string) error {
	cfg, err := h.registry.Get(serverID)
	if err != nil {
		return err
	}
	transport, err := newTransport(cfg.Transport)
	if err != nil {
		return fmt.Errorf("create transport for %q: %w", serverID, err)
	}

	initCtx, cancel := context.WithTimeout(ctx, InitTimeout)
	defer cancel()

	client := mcpsdk.NewClient(&mcpsdk.Implementation{
		Name:    version.AppName,
		Version: version.GitCommit,
	}, nil)
	session, err := client.Connect(initCtx, transport, nil)
	if err != nil {
		if closer, ok := transport.(io.Closer); ok {
			_ = closer.Close()
		}
		return fmt.Errorf("connect to %q: %w", serverID, err)
	}

	// A processor that does not offer the ingest tool cannot serve routes.
	tools, err := session.ListTools(initCtx, nil)
	if err != nil {
		_ = session.Close()
		return fmt.Errorf("list tools from %q: %w", serverID, err)
	}
	if !advertisesTool(tools.Tools, ingestToolName) {
		_ = session.Close()
		return fmt.Errorf("server %q does not advertise %s", serverID, ingestToolName)
	}

	h.mu.Lock()
	entry := h.servers[serverID]
	entry.session = session
	entry.client = client
	entry.status.State = StateHealthy
	entry.status.LastHeartbeat = time.Now()
	entry.status.ToolCount = len(tools.Tools)
	entry.status.Error = ""
	entry.missed = 0
	h.mu.Unlock()

	h.logger.Info("MCP server connected", "server", serverID)
	return nil
}

func (h *Host) setState(serverID string, state ServerState, errMsg string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if entry, ok := h.servers[serverID]; ok {
		entry.status.State = state
		entry.status.Error = errMsg
	}
}

func advertisesTool(tools []*mcpsdk.Tool, name string) bool {
	for _, tool := range tools {
		if tool.Name == name {
			return true
		}
	}
	return false
}

func supportsContentType(cfg *config.MCPServerConfig, ct packet.ContentType) bool {
	for _, supported := range cfg.ContentTypes {
		if supported == ct {
			return true
		}
	}
	return false
}

package mcphost

import (
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// InjectSession wires a pre-connected MCP SDK session into the host, marking
// the server healthy. Intended for test infrastructure that connects
// in-memory MCP servers without going through the transport creation path.
func (h *Host) InjectSession(serverID string, client *mcpsdk.Client, session *mcpsdk.ClientSession) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.servers == nil {
		h.servers = make(map[string]*serverEntry)
	}
	h.servers[serverID] = &serverEntry{
		status: ServerStatus{
			ServerID:      serverID,
			State:         StateHealthy,
			LastHeartbeat: time.Now(),
		},
		session: session,
		client:  client,
	}
}

// SetHeartbeatInterval overrides the probe cadence. Test hook.
func (h *Host) SetHeartbeatInterval(d time.Duration) {
	h.heartbeatInterval = d
}

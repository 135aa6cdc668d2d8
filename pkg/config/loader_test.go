package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nancy-core/nancy/pkg/packet"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(content), 0o644))
	return dir
}

func TestInitializeDefaults(t *testing.T) {
	dir := writeConfig(t, "nancy_core:\n  mode: legacy\n")

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, ModeLegacy, cfg.Mode)
	assert.Equal(t, ":8080", cfg.Server.ListenAddr)
	assert.Equal(t, "gemini-embedding-001", cfg.Brains.Vector.EmbeddingModel)
	assert.Equal(t, 10000, cfg.Orchestration.PerBrainTimeoutMS)
	assert.Equal(t, 64, cfg.Limits.IngestInFlight)
	assert.Equal(t, 0, cfg.Stats().MCPServers)
}

func TestInitializeFullDocument(t *testing.T) {
	dir := writeConfig(t, `
nancy_core:
  version: "2.0.0"
  mode: mcp
server:
  listen_addr: ":9090"
storage:
  data_dir: /var/lib/nancy
orchestration:
  per_brain_timeout_ms: 5000
  total_timeout_ms: 20000
limits:
  ingest_in_flight: 32
mcp_servers:
  doc-processor:
    transport:
      type: stdio
      command: nancy-doc-server
      args: ["--chunk-size", "512"]
    content_types: [document, email]
    priority: 10
`)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, "2.0.0", cfg.Version)
	assert.Equal(t, ModeMCP, cfg.Mode)
	assert.Equal(t, ":9090", cfg.Server.ListenAddr)
	assert.Equal(t, "/var/lib/nancy", cfg.Storage.DataDir)
	assert.Equal(t, 5000, cfg.Orchestration.PerBrainTimeoutMS)
	assert.Equal(t, 32, cfg.Limits.IngestInFlight)
	// Unset limits keep defaults.
	assert.Equal(t, 16, cfg.Limits.PerBrainInFlight)

	server, err := cfg.MCPServerRegistry.Get("doc-processor")
	require.NoError(t, err)
	assert.Equal(t, TransportTypeStdio, server.Transport.Type)
	assert.Equal(t, "nancy-doc-server", server.Transport.Command)
	assert.Equal(t, []packet.ContentType{packet.ContentTypeDocument, packet.ContentTypeEmail}, server.ContentTypes)
	assert.Equal(t, 10, server.Priority)
}

func TestInitializeEnvExpansion(t *testing.T) {
	t.Setenv("NANCY_TEST_ADDR", ":7070")
	dir := writeConfig(t, "server:\n  listen_addr: \"{{.NANCY_TEST_ADDR}}\"\n")

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.ListenAddr)
}

func TestInitializeMissingFile(t *testing.T) {
	_, err := Initialize(context.Background(), t.TempDir())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfigNotFound)
}

func TestInitializeInvalidMode(t *testing.T) {
	dir := writeConfig(t, "nancy_core:\n  mode: quantum\n")

	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidationFailed)
}

func TestInitializeMCPModeRequiresServers(t *testing.T) {
	dir := writeConfig(t, "nancy_core:\n  mode: mcp\n")

	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidationFailed)
}

func TestInitializeStdioServerRequiresCommand(t *testing.T) {
	dir := writeConfig(t, `
mcp_servers:
  broken:
    transport:
      type: stdio
`)

	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "mcp_server", verr.Component)
	assert.Equal(t, "broken", verr.ID)
}

func TestRegistryGetUnknown(t *testing.T) {
	r := NewMCPServerRegistry(nil)
	_, err := r.Get("missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMCPServerNotFound)
}

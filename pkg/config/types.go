package config

// Operating modes accepted by nancy_core.mode.
const (
	ModeLegacy = "legacy"
	ModeHybrid = "hybrid"
	ModeMCP    = "mcp"
)

// Config is the fully resolved runtime configuration.
type Config struct {
	configDir string

	Version string
	Mode    string

	Server        ServerConfig
	Storage       StorageConfig
	Brains        BrainsConfig
	Orchestration OrchestrationConfig
	Limits        LimitsConfig

	MCPServerRegistry *MCPServerRegistry
}

// ConfigDir returns the directory the configuration was loaded from.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// AllMCPServerIDs returns every configured MCP server id in stable order.
func (c *Config) AllMCPServerIDs() []string {
	if c.MCPServerRegistry == nil {
		return nil
	}
	return c.MCPServerRegistry.ServerIDs()
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// StorageConfig holds the on-disk layout. Each brain backend and the ingest
// history live in their own database file under DataDir.
type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

// BrainConfig configures one storage brain.
type BrainConfig struct {
	Backend        string `yaml:"backend"`
	EmbeddingModel string `yaml:"embedding_model,omitempty"`
	DistanceMetric string `yaml:"distance_metric,omitempty"`
	Model          string `yaml:"model,omitempty"`
	APIKeyEnv      string `yaml:"api_key_env,omitempty"`
}

// BrainsConfig groups the four brain configurations.
type BrainsConfig struct {
	Vector     BrainConfig `yaml:"vector"`
	Analytical BrainConfig `yaml:"analytical"`
	Graph      BrainConfig `yaml:"graph"`
	LLM        BrainConfig `yaml:"llm"`
}

// OrchestrationConfig tunes the query orchestrator.
type OrchestrationConfig struct {
	DefaultStrategy   string `yaml:"default_strategy"`
	PerBrainTimeoutMS int    `yaml:"per_brain_timeout_ms"`
	TotalTimeoutMS    int    `yaml:"total_timeout_ms"`
}

// LimitsConfig bounds concurrency and retries.
type LimitsConfig struct {
	IngestInFlight    int `yaml:"ingest_in_flight"`
	PerBrainInFlight  int `yaml:"per_brain_in_flight"`
	QueryInFlight     int `yaml:"query_in_flight"`
	MaxIngestAttempts int `yaml:"max_ingest_attempts"`
}

// Stats summarizes loaded configuration for startup logging.
type Stats struct {
	MCPServers int
}

// Stats returns counts of loaded configuration items.
func (c *Config) Stats() Stats {
	s := Stats{}
	if c.MCPServerRegistry != nil {
		s.MCPServers = c.MCPServerRegistry.Len()
	}
	return s
}

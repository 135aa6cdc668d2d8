package config

// nancyYAMLConfig mirrors the nancy.yaml file structure.
type nancyYAMLConfig struct {
	NancyCore struct {
		Version string `yaml:"version"`
		Mode    string `yaml:"mode"`
	} `yaml:"nancy_core"`

	Server        ServerConfig                `yaml:"server"`
	Storage       StorageConfig               `yaml:"storage"`
	Brains        BrainsConfig                `yaml:"brains"`
	Orchestration OrchestrationConfig         `yaml:"orchestration"`
	Limits        LimitsConfig                `yaml:"limits"`
	MCPServers    map[string]*MCPServerConfig `yaml:"mcp_servers"`
}

// defaultYAMLConfig returns the built-in defaults; values from nancy.yaml are
// merged on top.
func defaultYAMLConfig() *nancyYAMLConfig {
	d := &nancyYAMLConfig{}
	d.NancyCore.Version = "1.0.0"
	d.NancyCore.Mode = ModeHybrid

	d.Server = ServerConfig{ListenAddr: ":8080"}
	d.Storage = StorageConfig{DataDir: "./data"}

	d.Brains = BrainsConfig{
		Vector: BrainConfig{
			Backend:        "sqlite",
			EmbeddingModel: "gemini-embedding-001",
			DistanceMetric: "cosine",
		},
		Analytical: BrainConfig{Backend: "sqlite"},
		Graph:      BrainConfig{Backend: "sqlite"},
		LLM: BrainConfig{
			Backend:   "genai",
			Model:     "gemini-2.0-flash",
			APIKeyEnv: "GOOGLE_API_KEY",
		},
	}

	d.Orchestration = OrchestrationConfig{
		DefaultStrategy:   "hybrid",
		PerBrainTimeoutMS: 10000,
		TotalTimeoutMS:    30000,
	}

	d.Limits = LimitsConfig{
		IngestInFlight:    64,
		PerBrainInFlight:  16,
		QueryInFlight:     32,
		MaxIngestAttempts: 3,
	}

	d.MCPServers = make(map[string]*MCPServerConfig)
	return d
}

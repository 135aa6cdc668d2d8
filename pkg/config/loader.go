// Package config loads and validates Nancy's runtime configuration from a
// single nancy.yaml document, with {{.VAR}} environment expansion and
// built-in defaults for every omitted value.
package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// ConfigFileName is the single configuration document Nancy reads at startup.
const ConfigFileName = "nancy.yaml"

// Initialize loads, validates, and returns ready-to-use configuration.
func Initialize(_ context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("initializing configuration")

	cfg, err := load(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}

	log.Info("configuration initialized",
		"mode", cfg.Mode,
		"mcp_servers", cfg.Stats().MCPServers)
	return cfg, nil
}

func load(configDir string) (*Config, error) {
	raw, err := loadYAML(filepath.Join(configDir, ConfigFileName))
	if err != nil {
		return nil, NewLoadError(ConfigFileName, err)
	}

	// User values override defaults; unset keys keep the built-in value.
	resolved := defaultYAMLConfig()
	if err := mergo.Merge(resolved, raw, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("merge configuration: %w", err)
	}

	return &Config{
		configDir:         configDir,
		Version:           resolved.NancyCore.Version,
		Mode:              resolved.NancyCore.Mode,
		Server:            resolved.Server,
		Storage:           resolved.Storage,
		Brains:            resolved.Brains,
		Orchestration:     resolved.Orchestration,
		Limits:            resolved.Limits,
		MCPServerRegistry: NewMCPServerRegistry(resolved.MCPServers),
	}, nil
}

func loadYAML(path string) (*nancyYAMLConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, err
	}

	data = ExpandEnv(data)

	cfg := &nancyYAMLConfig{MCPServers: make(map[string]*MCPServerConfig)}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	return cfg, nil
}

// Package daemon manages the orchestrator daemon lifecycle and configuration.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds all daemon configuration.
type Config struct {
	Node         NodeConfig         `toml:"node"`
	API          APIConfig          `toml:"api"`
	Orchestrator OrchestratorConfig `toml:"orchestrator"`
	Scoring      ScoringConfig      `toml:"scoring"`
	Logging      LoggingConfig      `toml:"logging"`
	Telemetry    TelemetryConfig    `toml:"telemetry"`
}

// NodeConfig identifies this orchestrator instance.
type NodeConfig struct {
	ID string `toml:"id"`
}

// APIConfig controls the HTTP API server.
type APIConfig struct {
	Host        string   `toml:"host"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
}

// OrchestratorConfig controls the scheduling loop.
type OrchestratorConfig struct {
	TickInterval      string `toml:"tick_interval"`
	HeartbeatInterval string `toml:"heartbeat_interval"` // advertised to modules
	HeartbeatTimeout  string `toml:"heartbeat_timeout"`
	MaxTasksPerModule int    `toml:"max_tasks_per_module"`
	UnmetDemandGrace  string `toml:"unmet_demand_grace"`
	TaskRetention     string `toml:"task_retention"`
}

// ScoringConfig controls performance score blending.
type ScoringConfig struct {
	DecayRate        float64 `toml:"decay_rate"`
	CrossDomainBonus float64 `toml:"cross_domain_bonus"`
	LatencyRefSecs   float64 `toml:"latency_ref_seconds"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

// TelemetryConfig controls metrics exposure.
type TelemetryConfig struct {
	Prometheus bool `toml:"prometheus"`
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	return Config{
		Node: NodeConfig{},
		API: APIConfig{
			Host:        "127.0.0.1",
			Port:        7420,
			CORSOrigins: []string{"*"},
		},
		Orchestrator: OrchestratorConfig{
			TickInterval:      "500ms",
			HeartbeatInterval: "30s",
			HeartbeatTimeout:  "300s",
			MaxTasksPerModule: 5,
			UnmetDemandGrace:  "60s",
			TaskRetention:     "24h",
		},
		Scoring: ScoringConfig{
			DecayRate:        0.95,
			CrossDomainBonus: 1.25,
			LatencyRefSecs:   30,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "",
		},
		Telemetry: TelemetryConfig{
			Prometheus: true,
		},
	}
}

// LoadConfig reads config from ~/.synapse/config.toml, falling back to defaults.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	path := filepath.Join(synapseHome(), "config.toml")

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil // No config file yet — use defaults
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes the config to ~/.synapse/config.toml.
func SaveConfig(cfg Config) error {
	path := filepath.Join(synapseHome(), "config.toml")
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	return encoder.Encode(cfg)
}

// synapseHome returns the data directory.
func synapseHome() string {
	if env := os.Getenv("SYNAPSE_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".synapse")
}

// SynapseHome is exported for use by other packages.
func SynapseHome() string {
	return synapseHome()
}

// parseDuration parses a duration string, returning a fallback on error.
func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

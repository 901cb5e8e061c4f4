// Package config loads the agent configuration from
// {agent_home}/.maceff/config.json. The file is optional; every field has a
// usable default. A .env file next to the config (loaded via godotenv) may
// supply environment overrides without touching the process environment of
// the host.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/denisbrodbeck/machineid"
	"github.com/joho/godotenv"

	"maceff.io/macf/cmd/macf/cli/jsonutil"
	"maceff.io/macf/cmd/macf/cli/paths"
)

// AgentIdentity names the agent across sessions.
type AgentIdentity struct {
	Moniker     string `json:"moniker"`
	Description string `json:"description,omitempty"`
	Created     string `json:"created,omitempty"` // RFC 3339
}

// Config is the .maceff/config.json document.
type Config struct {
	AgentIdentity AgentIdentity `json:"agent_identity"`

	// LogLevel sets verbosity (debug, info, warn, error). MACF_LOG_LEVEL
	// overrides it. Defaults to "info".
	LogLevel string `json:"log_level,omitempty"`

	// Telemetry controls anonymous usage analytics.
	// nil = not asked yet, true = opted in, false = opted out.
	Telemetry *bool `json:"telemetry,omitempty"`
}

// Load reads the config from the resolved agent home. A missing file yields
// defaults, not an error. Environment entries from .maceff/.env are applied
// first so they can influence later env lookups.
func Load() (*Config, error) {
	path, err := paths.ConfigPath()
	if err != nil {
		return defaults(), nil
	}
	// Optional env overlay; absence is the normal case.
	_ = godotenv.Load(filepath.Join(filepath.Dir(path), ".env"))
	return loadFromFile(path)
}

func loadFromFile(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path) //nolint:gosec // path from resolver or test
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	applyDefaults(cfg)
	return cfg, nil
}

// Save writes the config atomically (temp file + rename) with mode 0600.
func Save(cfg *Config) error {
	path, err := paths.ConfigPath()
	if err != nil {
		return err
	}
	return saveToFile(cfg, path)
}

func saveToFile(cfg *Config, path string) error {
	data, err := jsonutil.MarshalIndentWithNewline(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("serializing config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replacing config: %w", err)
	}
	return nil
}

func defaults() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.AgentIdentity.Moniker == "" {
		cfg.AgentIdentity.Moniker = defaultMoniker()
	}
	if cfg.AgentIdentity.Created == "" {
		cfg.AgentIdentity.Created = time.Now().UTC().Format(time.RFC3339)
	}
}

// defaultMoniker derives a stable per-host name so an unconfigured agent is
// still distinguishable across machines.
func defaultMoniker() string {
	id, err := machineid.ProtectedID("macf")
	if err != nil || len(id) < 8 {
		return "agent"
	}
	return "agent-" + id[:8]
}

// TelemetryEnabled reports the explicit opt-in state. Unset means disabled.
func (c *Config) TelemetryEnabled() bool {
	return c.Telemetry != nil && *c.Telemetry
}

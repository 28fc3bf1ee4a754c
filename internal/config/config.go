// Package config loads ambient tool configuration: default workspace
// root, state backend selection, default log level/coloring.
//
// Grounded on pkg/config/config.go, converted from HCL to YAML
// (gopkg.in/yaml.v3 is already load-bearing for workflow documents;
// keeping a second, HCL-based format for tool config would be needless
// inconsistency) while keeping the same config-file search order and
// CORYNTH_*-style environment-override scanning, renamed to
// FLOWFORGE_*.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	homedir "github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"
)

// StateConfig selects and configures the state backend.
type StateConfig struct {
	Backend string            `yaml:"backend"` // "local" (default) or "s3"
	Local   map[string]string `yaml:"local"`
	S3      map[string]string `yaml:"s3"`
}

// LoggingConfig configures the default logger.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	Colored *bool  `yaml:"colored"`
}

// Config is the tool-wide ambient configuration.
type Config struct {
	WorkspaceRoot string        `yaml:"workspace_root"`
	State         StateConfig   `yaml:"state"`
	Logging       LoggingConfig `yaml:"logging"`

	// SourcePath is the file Load read this from, empty if defaults only.
	SourcePath string `yaml:"-"`
}

// searchPaths returns the config-file search order, most specific
// first: ./flowforge.yaml, ./.flowforge/config.yaml,
// ~/.flowforge/config.yaml, /etc/flowforge/config.yaml.
func searchPaths() []string {
	home, _ := homedir.Dir()
	paths := []string{
		"flowforge.yaml",
		filepath.Join(".flowforge", "config.yaml"),
	}
	if home != "" {
		paths = append(paths, filepath.Join(home, ".flowforge", "config.yaml"))
	}
	paths = append(paths, filepath.Join("/etc", "flowforge", "config.yaml"))
	return paths
}

// Load reads the first existing config file in the search order,
// applies FLOWFORGE_*-prefixed environment overrides on top, and
// returns defaults if no file is found.
func Load() (*Config, error) {
	cfg := &Config{
		State: StateConfig{Backend: "local"},
		Logging: LoggingConfig{Level: "info"},
	}

	for _, p := range searchPaths() {
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
		cfg.SourcePath = p
		break
	}

	applyEnvOverrides(cfg)
	if cfg.WorkspaceRoot != "" {
		if expanded, err := homedir.Expand(cfg.WorkspaceRoot); err == nil {
			cfg.WorkspaceRoot = expanded
		}
	}
	return cfg, nil
}

// applyEnvOverrides scans FLOWFORGE_* environment variables, mirroring
// pkg/config's CORYNTH_* scanning.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FLOWFORGE_WORKSPACE_ROOT"); v != "" {
		cfg.WorkspaceRoot = v
	}
	if v := os.Getenv("FLOWFORGE_STATE_BACKEND"); v != "" {
		cfg.State.Backend = v
	}
	if v := os.Getenv("FLOWFORGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("FLOWFORGE_LOG_COLORED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Logging.Colored = &b
		}
	}
	if v := os.Getenv("FLOWFORGE_STATE_S3_BUCKET"); v != "" {
		if cfg.State.S3 == nil {
			cfg.State.S3 = map[string]string{}
		}
		cfg.State.S3["bucket"] = v
	}
	for _, kv := range os.Environ() {
		if !strings.HasPrefix(kv, "FLOWFORGE_STATE_LOCAL_") {
			continue
		}
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.ToLower(strings.TrimPrefix(parts[0], "FLOWFORGE_STATE_LOCAL_"))
		if cfg.State.Local == nil {
			cfg.State.Local = map[string]string{}
		}
		cfg.State.Local[key] = parts[1]
	}
}

// StateBackendConfig returns the map to hand to statestore.New for the
// configured backend.
func (c *Config) StateBackendConfig() map[string]string {
	switch c.State.Backend {
	case "s3":
		return c.State.S3
	default:
		return c.State.Local
	}
}

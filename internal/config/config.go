// Package config resolves the broker's runtime configuration: the two
// environment variables the spec names (API_PORT, SCAN_DATA_DIR), the
// ambient METRICS_ADDR toggle for the observability surface, plus an
// optional YAML tuning file for knobs the spec leaves to the implementation
// (staleness window, timing cleanup delay). Batch sizes are not
// configurable here.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultPort        = 3000
	defaultStaleAfter  = 10 * time.Minute
	defaultCleanupWait = 60 * time.Second
)

// Config is the broker's resolved runtime configuration.
type Config struct {
	Port        int    `yaml:"port"`
	ScanDataDir string `yaml:"scan_data_dir"`
	PublicDir   string `yaml:"public_dir"`

	StaleAfter         time.Duration `yaml:"stale_after"`
	TimingCleanupDelay time.Duration `yaml:"timing_cleanup_delay"`

	AllowedOrigins []string `yaml:"allowed_origins"`

	// MetricsAddr, when non-empty, is the listen address for a second
	// http.Server exposing GET /metrics. Empty means metrics collection is
	// still wired internally but never exposed.
	MetricsAddr string `yaml:"metrics_addr"`
}

// DefaultConfigPath returns ~/.config/relaybroker/config.yaml, respecting
// XDG_CONFIG_HOME.
func DefaultConfigPath() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = os.TempDir()
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "relaybroker", "config.yaml")
}

func defaultConfig() *Config {
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}
	return &Config{
		Port:               defaultPort,
		ScanDataDir:        filepath.Join(cwd, "scan-data"),
		PublicDir:          filepath.Join(cwd, "public"),
		StaleAfter:         defaultStaleAfter,
		TimingCleanupDelay: defaultCleanupWait,
	}
}

// Load reads a YAML tuning file layered over the defaults.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault loads path if it exists, otherwise returns the hard
// defaults. Either way, environment variables are applied on top:
// API_PORT and SCAN_DATA_DIR take priority over both the file and the
// defaults, matching spec §6's environment contract.
func LoadOrDefault(path string) (*Config, error) {
	var cfg *Config
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg = defaultConfig()
	} else {
		loaded, err := Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("API_PORT"); v != "" {
		if port, err := parsePort(v); err == nil {
			cfg.Port = port
		}
	}
	if v := os.Getenv("SCAN_DATA_DIR"); v != "" {
		cfg.ScanDataDir = v
	}
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
}

func parsePort(s string) (int, error) {
	var port int
	_, err := fmt.Sscanf(s, "%d", &port)
	if err != nil {
		return 0, err
	}
	if port <= 0 {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	return port, nil
}

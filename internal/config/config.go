package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/vanpelt/purrlog/internal/logger"
)

// Config holds the server configuration. Values are resolved in order:
// defaults, optional YAML config file, environment variables. Command-line
// flags are applied on top by the serve command.
type Config struct {
	// ProjectsDir is the root containing one directory per Claude project,
	// each holding *.jsonl conversation shards and rendered HTML artifacts.
	ProjectsDir string
	// Port the HTTP server listens on.
	Port int
	// WatchInterval is how often the scheduler polls shard mtimes.
	WatchInterval time.Duration
	// DebounceWindow is how long shard changes must stay quiet before a
	// regeneration run is considered.
	DebounceWindow time.Duration
	// MinRegenInterval is the minimum elapsed time between two
	// scheduler-triggered regeneration runs.
	MinRegenInterval time.Duration
	// RendererCommand is the argv of the external rendering tool, invoked
	// with ProjectsDir as its working directory.
	RendererCommand []string
	// RendererTimeout bounds a single renderer invocation.
	RendererTimeout time.Duration
}

// Default returns the built-in configuration.
func Default() *Config {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = os.Getenv("HOME")
		if homeDir == "" {
			homeDir = "."
		}
	}

	return &Config{
		ProjectsDir:      filepath.Join(homeDir, ".claude", "projects"),
		Port:             8080,
		WatchInterval:    5 * time.Second,
		DebounceWindow:   30 * time.Second,
		MinRegenInterval: 5 * time.Minute,
		RendererCommand:  []string{"uvx", "claude-code-log@latest"},
		RendererTimeout:  5 * time.Minute,
	}
}

// Load resolves the configuration. configPath may be empty, in which case
// ~/.purrlog.yaml is used if it exists.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath == "" {
		if homeDir, err := os.UserHomeDir(); err == nil {
			candidate := filepath.Join(homeDir, ".purrlog.yaml")
			if _, err := os.Stat(candidate); err == nil {
				configPath = candidate
			}
		}
	}

	if configPath != "" {
		if err := loadFile(configPath, cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.ProjectsDir == "" {
		return fmt.Errorf("projects_dir must not be empty")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if len(c.RendererCommand) == 0 {
		return fmt.Errorf("renderer_command must not be empty")
	}
	if c.WatchInterval <= 0 || c.DebounceWindow <= 0 || c.MinRegenInterval <= 0 || c.RendererTimeout <= 0 {
		return fmt.Errorf("intervals must be positive")
	}
	return nil
}

// fileConfig is the YAML schema. Durations are Go duration strings
// ("30s", "5m") since yaml.v2 has no native duration support.
type fileConfig struct {
	ProjectsDir      string   `yaml:"projects_dir"`
	Port             int      `yaml:"port"`
	WatchInterval    string   `yaml:"watch_interval"`
	DebounceWindow   string   `yaml:"debounce_window"`
	MinRegenInterval string   `yaml:"min_regen_interval"`
	RendererCommand  []string `yaml:"renderer_command"`
	RendererTimeout  string   `yaml:"renderer_timeout"`
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if fc.ProjectsDir != "" {
		cfg.ProjectsDir = fc.ProjectsDir
	}
	if fc.Port != 0 {
		cfg.Port = fc.Port
	}
	if len(fc.RendererCommand) > 0 {
		cfg.RendererCommand = fc.RendererCommand
	}
	for _, f := range []struct {
		raw string
		dst *time.Duration
	}{
		{fc.WatchInterval, &cfg.WatchInterval},
		{fc.DebounceWindow, &cfg.DebounceWindow},
		{fc.MinRegenInterval, &cfg.MinRegenInterval},
		{fc.RendererTimeout, &cfg.RendererTimeout},
	} {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("invalid duration %q in config file %s: %w", f.raw, path, err)
		}
		*f.dst = d
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PURRLOG_PROJECTS_DIR"); v != "" {
		cfg.ProjectsDir = v
	}
	if v := os.Getenv("PURRLOG_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Port = port
		} else {
			logger.Warnf("Ignoring invalid PURRLOG_PORT=%q", v)
		}
	}
	applyEnvDuration("PURRLOG_WATCH_INTERVAL", &cfg.WatchInterval)
	applyEnvDuration("PURRLOG_DEBOUNCE_WINDOW", &cfg.DebounceWindow)
	applyEnvDuration("PURRLOG_MIN_REGEN_INTERVAL", &cfg.MinRegenInterval)
	applyEnvDuration("PURRLOG_RENDERER_TIMEOUT", &cfg.RendererTimeout)
}

func applyEnvDuration(key string, dst *time.Duration) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		logger.Warnf("Ignoring invalid %s=%q: %v", key, v, err)
		return
	}
	*dst = d
}

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	defaultConfigRelPath = ".promptcap/config.yaml"
	configPathEnv        = "PROMPTCAP_CONFIG"
)

// DefaultContent is written by `promptcap init`.
const DefaultContent = `capture:
  provider_host: "api.anthropic.com"
  path_marker: "messages"

output:
  dir: "./output"
  snapshot_file: "claude_code_captured.json"
  log_file: "claude_code_log.jsonl"

proxy:
  listen: "127.0.0.1:8080"
  upstream: "https://api.anthropic.com"
  metrics_path: "/metrics"

log:
  level: "info"
`

type CaptureConfig struct {
	ProviderHost string `yaml:"provider_host"`
	PathMarker   string `yaml:"path_marker"`
}

type OutputConfig struct {
	Dir          string `yaml:"dir"`
	SnapshotFile string `yaml:"snapshot_file"`
	LogFile      string `yaml:"log_file"`
}

type ProxyConfig struct {
	Listen      string `yaml:"listen"`
	Upstream    string `yaml:"upstream"`
	MetricsPath string `yaml:"metrics_path"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type Config struct {
	Capture CaptureConfig `yaml:"capture"`
	Output  OutputConfig  `yaml:"output"`
	Proxy   ProxyConfig   `yaml:"proxy"`
	Log     LogConfig     `yaml:"log"`
}

// DefaultPath returns $PROMPTCAP_CONFIG or ~/.promptcap/config.yaml.
func DefaultPath() (string, error) {
	if p, ok := os.LookupEnv(configPathEnv); ok && p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, defaultConfigRelPath), nil
}

// Load loads YAML config, then applies env overrides. A missing file yields
// the defaults.
func Load(configPath string) (*Config, error) {
	cfg := &Config{}

	if configPath == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		configPath = p
	}

	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg.SetDefaults()
	applyEnvOverrides(cfg)
	return cfg, nil
}

func (c *Config) SetDefaults() {
	if c.Capture.ProviderHost == "" {
		c.Capture.ProviderHost = "api.anthropic.com"
	}
	if c.Capture.PathMarker == "" {
		c.Capture.PathMarker = "messages"
	}
	if c.Output.Dir == "" {
		c.Output.Dir = "./output"
	}
	if c.Output.SnapshotFile == "" {
		c.Output.SnapshotFile = "claude_code_captured.json"
	}
	if c.Output.LogFile == "" {
		c.Output.LogFile = "claude_code_log.jsonl"
	}
	if c.Proxy.Listen == "" {
		c.Proxy.Listen = "127.0.0.1:8080"
	}
	if c.Proxy.Upstream == "" {
		c.Proxy.Upstream = "https://api.anthropic.com"
	}
	if c.Proxy.MetricsPath == "" {
		c.Proxy.MetricsPath = "/metrics"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Output.Dir) == "" {
		return errors.New("output.dir cannot be empty")
	}
	if strings.TrimSpace(c.Capture.ProviderHost) == "" {
		return errors.New("capture.provider_host cannot be empty")
	}
	if strings.ContainsRune(c.Output.SnapshotFile, os.PathSeparator) || strings.ContainsRune(c.Output.LogFile, os.PathSeparator) {
		return errors.New("output file names must not contain path separators")
	}
	return nil
}

// ValidateServe enforces serve-specific requirements.
func (c *Config) ValidateServe() error {
	if err := c.Validate(); err != nil {
		return err
	}
	u, err := url.Parse(c.Proxy.Upstream)
	if err != nil {
		return fmt.Errorf("proxy.upstream: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("proxy.upstream must be an absolute URL, got %q", c.Proxy.Upstream)
	}
	if !strings.HasPrefix(c.Proxy.MetricsPath, "/") {
		return errors.New("proxy.metrics_path must start with /")
	}
	return nil
}

// SlogLevel maps log.level to a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func applyEnvOverrides(c *Config) {
	setString(&c.Capture.ProviderHost, "PROMPTCAP_PROVIDER_HOST")
	setString(&c.Capture.PathMarker, "PROMPTCAP_PATH_MARKER")
	setString(&c.Output.Dir, "PROMPTCAP_OUTPUT_DIR")
	setString(&c.Proxy.Listen, "PROMPTCAP_PROXY_LISTEN")
	setString(&c.Proxy.Upstream, "PROMPTCAP_PROXY_UPSTREAM")
	setString(&c.Log.Level, "PROMPTCAP_LOG_LEVEL")
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	EnvPrefix          = "AIFWD_"
	UpstreamURLDefault = "https://api.cloudflare.com/client/v4"
	MetricsNamespace   = "aiforwarder"
)

// Version is set at build time.
var Version = "dev"

// ServerConfig holds all server configuration.
type ServerConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	Verbose     bool   `yaml:"verbose"`
	Debug       bool   `yaml:"debug"`
	AccessToken string `yaml:"access_token"`
	DebugModel  string `yaml:"debug_model"`

	UpstreamURL     string        `yaml:"upstream_url"`
	AccountID       string        `yaml:"account_id"`
	APIToken        string        `yaml:"api_token"`
	UpstreamTimeout time.Duration `yaml:"upstream_timeout"`

	CapabilitiesFile string `yaml:"capabilities_file"`

	LogFile       string `yaml:"log_file"`
	LogFormat     string `yaml:"log_format"`
	LogMaxSizeMB  int    `yaml:"log_max_size_mb"`
	LogMaxBackups int    `yaml:"log_max_backups"`

	MetricsEnabled bool `yaml:"metrics_enabled"`
}

// Defaults returns the built-in configuration.
func Defaults() *ServerConfig {
	return &ServerConfig{
		Host:            "127.0.0.1",
		Port:            8000,
		UpstreamURL:     UpstreamURLDefault,
		UpstreamTimeout: 5 * time.Minute,
		LogFormat:       "text",
		LogMaxSizeMB:    50,
		LogMaxBackups:   3,
		MetricsEnabled:  true,
	}
}

// DefaultFromEnv creates a ServerConfig with defaults from environment variables.
func DefaultFromEnv() *ServerConfig {
	cfg := Defaults()
	cfg.ApplyEnv()
	return cfg
}

// ApplyEnv overrides fields with AIFWD_* environment variables that are set.
func (c *ServerConfig) ApplyEnv() {
	if v := env("HOST"); v != "" {
		c.Host = v
	}
	if v, err := strconv.Atoi(env("PORT")); err == nil && v > 0 {
		c.Port = v
	}
	if isSet("VERBOSE") {
		c.Verbose = envBool("VERBOSE")
	}
	if isSet("DEBUG") {
		c.Debug = envBool("DEBUG")
	}
	if v := env("ACCESS_TOKEN"); v != "" {
		c.AccessToken = v
	}
	if v := env("DEBUG_MODEL"); v != "" {
		c.DebugModel = v
	}
	if v := env("UPSTREAM_URL"); v != "" {
		c.UpstreamURL = strings.TrimRight(v, "/")
	}
	if v := env("ACCOUNT_ID"); v != "" {
		c.AccountID = v
	}
	if v := env("API_TOKEN"); v != "" {
		c.APIToken = v
	}
	if d, err := time.ParseDuration(env("UPSTREAM_TIMEOUT")); err == nil && d > 0 {
		c.UpstreamTimeout = d
	}
	if v := env("CAPABILITIES_FILE"); v != "" {
		c.CapabilitiesFile = v
	}
	if v := env("LOG_FILE"); v != "" {
		c.LogFile = v
	}
	if v := env("LOG_FORMAT"); v != "" {
		c.LogFormat = strings.ToLower(v)
	}
	if isSet("METRICS_ENABLED") {
		c.MetricsEnabled = envBool("METRICS_ENABLED")
	}
}

// LoadFile reads a YAML config file on top of the defaults. Environment
// variables are applied afterwards so they win over the file.
func LoadFile(path string) (*ServerConfig, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.ApplyEnv()
	return cfg, nil
}

// LoadDotEnv loads variables from a .env file. A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Validate reports configuration that would make the server unusable.
func (c *ServerConfig) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if strings.TrimSpace(c.UpstreamURL) == "" {
		return errors.New("upstream url is required")
	}
	if strings.TrimSpace(c.AccountID) == "" {
		return errors.New("account id is required")
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}
	return nil
}

// Addr returns the listen address.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// UserAgent identifies the proxy to the upstream provider.
func UserAgent() string {
	return fmt.Sprintf("go-aiforwarder/%s (%s; %s)", Version, runtime.GOOS, runtime.GOARCH)
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(EnvPrefix + key))
}

func isSet(key string) bool {
	_, ok := os.LookupEnv(EnvPrefix + key)
	return ok
}

func envBool(key string) bool {
	v := strings.ToLower(env(key))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

// Package config provides YAML and environment configuration loading for clipster.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultAPIURL            = "http://localhost:5000"
	DefaultPushURL           = "ws://localhost:5000/ws"
	DefaultReconnectAttempts = 10
	DefaultReconnectDelay    = 1000 * time.Millisecond
	DefaultHTTPTimeout       = 30 * time.Second
	DefaultDownloadDir       = "."
)

// Config is the top-level clipster configuration.
type Config struct {
	APIURL      string          `yaml:"api_url"`
	PushURL     string          `yaml:"push_url"`
	HTTPTimeout time.Duration   `yaml:"http_timeout"`
	DownloadDir string          `yaml:"download_dir"`
	MetricsAddr string          `yaml:"metrics_addr"`
	LogLevel    string          `yaml:"log_level"`
	Reconnect   ReconnectConfig `yaml:"reconnect"`
}

// ReconnectConfig bounds the push-channel reconnection policy.
type ReconnectConfig struct {
	Attempts int           `yaml:"attempts"`
	Delay    time.Duration `yaml:"delay"`
}

// Load reads the YAML file at path (a missing file is allowed when
// optional is true), applies environment overrides and validates the result.
func Load(path string, optional bool) (*Config, error) {
	var data []byte
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			data = b
		case optional && errors.Is(err, fs.ErrNotExist):
		default:
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	cfg, err := parse(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse unmarshals YAML bytes into a validated Config without consulting the environment.
func Parse(data []byte) (*Config, error) {
	cfg, err := parse(data)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parse starts from the reconnect defaults so an explicit zero in the
// file (no retries, no delay) survives applyDefaults.
func parse(data []byte) (*Config, error) {
	cfg := Config{
		Reconnect: ReconnectConfig{
			Attempts: DefaultReconnectAttempts,
			Delay:    DefaultReconnectDelay,
		},
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse: %w", err)
		}
	}
	return &cfg, nil
}

// applyEnv overrides file values with CLIPSTER_* environment variables.
func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("CLIPSTER_API_URL"); v != "" {
		c.APIURL = v
	}
	if v := getenv("CLIPSTER_PUSH_URL"); v != "" {
		c.PushURL = v
	}
	if v := getenv("CLIPSTER_DOWNLOAD_DIR"); v != "" {
		c.DownloadDir = v
	}
	if v := getenv("CLIPSTER_METRICS_ADDR"); v != "" {
		c.MetricsAddr = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := getenv("CLIPSTER_RECONNECT_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: CLIPSTER_RECONNECT_ATTEMPTS: %w", err)
		}
		c.Reconnect.Attempts = n
	}
	if v := getenv("CLIPSTER_RECONNECT_DELAY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: CLIPSTER_RECONNECT_DELAY: %w", err)
		}
		c.Reconnect.Delay = d
	}
	if v := getenv("CLIPSTER_HTTP_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: CLIPSTER_HTTP_TIMEOUT: %w", err)
		}
		c.HTTPTimeout = d
	}
	return nil
}

// applyDefaults fills in default values.
func (c *Config) applyDefaults() {
	if c.APIURL == "" {
		c.APIURL = DefaultAPIURL
	}
	if c.PushURL == "" {
		c.PushURL = derivePushURL(c.APIURL)
	}
	if c.HTTPTimeout == 0 {
		c.HTTPTimeout = DefaultHTTPTimeout
	}
	if c.DownloadDir == "" {
		c.DownloadDir = DefaultDownloadDir
	}
}

// derivePushURL maps http(s)://host to ws(s)://host/ws.
func derivePushURL(apiURL string) string {
	u, err := url.Parse(apiURL)
	if err != nil || u.Host == "" {
		return DefaultPushURL
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	u.RawQuery = ""
	return u.String()
}

// validate checks that all fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if u, err := url.Parse(c.APIURL); err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		errs = append(errs, fmt.Sprintf("api_url %q must be an http(s) URL", c.APIURL))
	}
	if u, err := url.Parse(c.PushURL); err != nil || u.Host == "" || (u.Scheme != "ws" && u.Scheme != "wss") {
		errs = append(errs, fmt.Sprintf("push_url %q must be a ws(s) URL", c.PushURL))
	}
	if c.Reconnect.Attempts < 0 {
		errs = append(errs, "reconnect.attempts must not be negative")
	}
	if c.Reconnect.Delay < 0 {
		errs = append(errs, "reconnect.delay must not be negative")
	}
	if c.HTTPTimeout < 0 {
		errs = append(errs, "http_timeout must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

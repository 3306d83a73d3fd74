package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"gopkg.in/yaml.v3"
)

// Duration parses from human-friendly strings (e.g., "60s") or numeric seconds.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if data[0] == '"' {
		var value string
		if err := json.Unmarshal(data, &value); err != nil {
			return err
		}
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		d.Duration = parsed
		return nil
	}
	var seconds int64
	if err := json.Unmarshal(data, &seconds); err != nil {
		return err
	}
	d.Duration = time.Duration(seconds) * time.Second
	return nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var seconds int64
	if err := value.Decode(&seconds); err == nil {
		d.Duration = time.Duration(seconds) * time.Second
		return nil
	}
	var text string
	if err := value.Decode(&text); err == nil {
		parsed, err := time.ParseDuration(text)
		if err != nil {
			return err
		}
		d.Duration = parsed
		return nil
	}
	return errors.New("invalid duration format")
}

// Route maps a path prefix on the gateway to an upstream base URL.
type Route struct {
	Prefix   string `json:"prefix" yaml:"prefix"`
	Upstream string `json:"upstream" yaml:"upstream"`
}

type TLSConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	CertPath string `json:"cert_path" yaml:"cert_path"`
	KeyPath  string `json:"key_path" yaml:"key_path"`
}

// Gateway configures the request forwarding gateway.
type Gateway struct {
	Listen         string    `json:"listen" yaml:"listen" env:"LISTEN"`
	LogLevel       string    `json:"log_level" yaml:"log_level" env:"LOG_LEVEL"`
	DebugProxy     bool      `json:"debug_proxy" yaml:"debug_proxy" env:"DEBUG_PROXY"`
	UpstreamURL    string    `json:"upstream_url" yaml:"upstream_url" env:"UPSTREAM_URL"`
	RequestTimeout Duration  `json:"request_timeout" yaml:"request_timeout"`
	Routes         []Route   `json:"routes" yaml:"routes"`
	TLS            TLSConfig `json:"tls" yaml:"tls"`
}

// Client configures signalctl.
type Client struct {
	APIBaseURL     string   `json:"api_base_url" yaml:"api_base_url" env:"API_BASE_URL"`
	RefreshURL     string   `json:"refresh_url" yaml:"refresh_url" env:"REFRESH_URL"`
	StateFile      string   `json:"state_file" yaml:"state_file" env:"STATE_FILE"`
	RedisURL       string   `json:"redis_url" yaml:"redis_url" env:"REDIS_URL"`
	RedisKey       string   `json:"redis_key" yaml:"redis_key" env:"REDIS_KEY"`
	LogLevel       string   `json:"log_level" yaml:"log_level" env:"LOG_LEVEL"`
	RequestTimeout Duration `json:"request_timeout" yaml:"request_timeout"`
	PollInterval   Duration `json:"poll_interval" yaml:"poll_interval"`
	Brokers        []string `json:"brokers" yaml:"brokers"`
}

const defaultUpstreamPrefix = "/api"

func DefaultGateway() Gateway {
	return Gateway{
		Listen:         ":8080",
		LogLevel:       "info",
		RequestTimeout: Duration{Duration: 30 * time.Second},
	}
}

func DefaultClient() Client {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "/tmp"
	}
	return Client{
		APIBaseURL:     "http://localhost:8000/api",
		StateFile:      filepath.Join(home, ".signaldesk", "session.json"),
		LogLevel:       "warn",
		RequestTimeout: Duration{Duration: 15 * time.Second},
		PollInterval:   Duration{Duration: 5 * time.Second},
		Brokers:        []string{"binance", "bybit"},
	}
}

// LoadGateway reads path (JSON or YAML, optional), overlays environment
// variables, fills defaults and validates.
func LoadGateway(path string) (Gateway, error) {
	cfg := DefaultGateway()
	if err := load(path, &cfg); err != nil {
		return cfg, err
	}
	cfg.ensureDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// LoadClient is LoadGateway for the signalctl configuration.
func LoadClient(path string) (Client, error) {
	cfg := DefaultClient()
	if err := load(path, &cfg); err != nil {
		return cfg, err
	}
	cfg.ensureDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

func load(path string, cfg any) error {
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read config: %w", err)
		}
		if err := decodeConfig(detectFormat(path), data, cfg); err != nil {
			return fmt.Errorf("decode config: %w", err)
		}
	}
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return fmt.Errorf("read env: %w", err)
	}
	return nil
}

func (c *Gateway) ensureDefaults() {
	def := DefaultGateway()
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.RequestTimeout.Duration == 0 {
		c.RequestTimeout = def.RequestTimeout
	}
	if len(c.Routes) == 0 && c.UpstreamURL != "" {
		c.Routes = []Route{{Prefix: defaultUpstreamPrefix, Upstream: c.UpstreamURL}}
	}
}

// Validate checks the configuration for errors
func (c *Gateway) Validate() error {
	if c.Listen == "" {
		return errors.New("listen address cannot be empty")
	}

	if c.TLS.Enabled {
		if c.TLS.CertPath == "" || c.TLS.KeyPath == "" {
			return errors.New("tls.cert_path and tls.key_path must both be set when TLS is enabled")
		}
		if _, err := os.Stat(c.TLS.CertPath); err != nil {
			return fmt.Errorf("tls.cert_path: %w", err)
		}
		if _, err := os.Stat(c.TLS.KeyPath); err != nil {
			return fmt.Errorf("tls.key_path: %w", err)
		}
	}

	if c.RequestTimeout.Duration <= 0 {
		return errors.New("request_timeout must be positive")
	}

	if len(c.Routes) == 0 {
		return errors.New("at least one route (or upstream_url) must be configured")
	}
	for _, r := range c.Routes {
		if !strings.HasPrefix(r.Prefix, "/") {
			return fmt.Errorf("route prefix %q must start with /", r.Prefix)
		}
		if strings.TrimSuffix(r.Prefix, "/") == "" {
			return errors.New("route prefix cannot be the root path")
		}
		if err := ValidateURL(r.Upstream); err != nil {
			return fmt.Errorf("route %s: upstream: %w", r.Prefix, err)
		}
	}
	return nil
}

func (c *Client) ensureDefaults() {
	def := DefaultClient()
	if c.APIBaseURL == "" {
		c.APIBaseURL = def.APIBaseURL
	}
	c.APIBaseURL = strings.TrimSuffix(c.APIBaseURL, "/")
	if c.RefreshURL == "" {
		c.RefreshURL = c.APIBaseURL + "/auth/refresh"
	}
	if c.StateFile == "" {
		c.StateFile = def.StateFile
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.RequestTimeout.Duration == 0 {
		c.RequestTimeout = def.RequestTimeout
	}
	if c.PollInterval.Duration == 0 {
		c.PollInterval = def.PollInterval
	}
	if len(c.Brokers) == 0 {
		c.Brokers = def.Brokers
	}
}

func (c *Client) Validate() error {
	if err := ValidateURL(c.APIBaseURL); err != nil {
		return fmt.Errorf("api_base_url: %w", err)
	}
	if err := ValidateURL(c.RefreshURL); err != nil {
		return fmt.Errorf("refresh_url: %w", err)
	}
	if c.RedisURL == "" && c.StateFile == "" {
		return errors.New("state_file cannot be empty when redis_url is not set")
	}
	if c.RequestTimeout.Duration <= 0 {
		return errors.New("request_timeout must be positive")
	}
	if c.PollInterval.Duration <= 0 {
		return errors.New("poll_interval must be positive")
	}
	for _, b := range c.Brokers {
		if b == "" {
			return errors.New("broker name cannot be empty")
		}
	}
	return nil
}

// ValidateURL checks that rawURL is an absolute http(s) URL with a host.
func ValidateURL(rawURL string) error {
	if rawURL == "" {
		return errors.New("url cannot be empty")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got: %s", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("URL must include a host")
	}
	return nil
}

func detectFormat(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		return "json"
	case ".yml", ".yaml":
		return "yaml"
	default:
		return "yaml" // prefer YAML when ambiguous
	}
}

func decodeConfig(format string, data []byte, cfg any) error {
	switch format {
	case "json":
		return json.Unmarshal(data, cfg)
	case "yaml":
		return yaml.Unmarshal(data, cfg)
	default:
		return fmt.Errorf("unsupported config format: %s", format)
	}
}

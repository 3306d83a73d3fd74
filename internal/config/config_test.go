package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadGatewayYAML(t *testing.T) {
	path := writeConfig(t, "gateway.yaml", `
listen: ":9090"
log_level: debug
request_timeout: 45s
routes:
  - prefix: /api
    upstream: https://api.example.com/v1
  - prefix: /broker
    upstream: http://broker.internal:8081
`)

	cfg, err := LoadGateway(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Listen != ":9090" || cfg.LogLevel != "debug" {
		t.Fatalf("unexpected listen/log level: %+v", cfg)
	}
	if cfg.RequestTimeout.Duration != 45*time.Second {
		t.Fatalf("request_timeout = %s", cfg.RequestTimeout.Duration)
	}
	if len(cfg.Routes) != 2 || cfg.Routes[1].Upstream != "http://broker.internal:8081" {
		t.Fatalf("unexpected routes: %+v", cfg.Routes)
	}
	if cfg.DebugProxy {
		t.Fatal("debug_proxy should default to false")
	}
}

func TestLoadGatewayNumericDurationAndShorthand(t *testing.T) {
	path := writeConfig(t, "gateway.json", `{
		"upstream_url": "https://api.example.com",
		"request_timeout": 12
	}`)

	cfg, err := LoadGateway(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RequestTimeout.Duration != 12*time.Second {
		t.Fatalf("request_timeout = %s", cfg.RequestTimeout.Duration)
	}
	if len(cfg.Routes) != 1 || cfg.Routes[0].Prefix != "/api" || cfg.Routes[0].Upstream != "https://api.example.com" {
		t.Fatalf("shorthand route not derived: %+v", cfg.Routes)
	}
	if cfg.Listen != ":8080" {
		t.Fatalf("listen default not applied: %q", cfg.Listen)
	}
}

func TestLoadGatewayEnvOverlay(t *testing.T) {
	t.Setenv("DEBUG_PROXY", "true")
	t.Setenv("UPSTREAM_URL", "http://upstream.local:8000")

	cfg, err := LoadGateway("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.DebugProxy {
		t.Fatal("DEBUG_PROXY env should enable debug logging")
	}
	if len(cfg.Routes) != 1 || cfg.Routes[0].Upstream != "http://upstream.local:8000" {
		t.Fatalf("unexpected routes: %+v", cfg.Routes)
	}
}

func TestGatewayValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Gateway)
		wantErr string
	}{
		{
			name:    "no routes",
			mutate:  func(c *Gateway) { c.Routes = nil },
			wantErr: "at least one route",
		},
		{
			name:    "prefix without slash",
			mutate:  func(c *Gateway) { c.Routes[0].Prefix = "api" },
			wantErr: "must start with /",
		},
		{
			name:    "bad upstream scheme",
			mutate:  func(c *Gateway) { c.Routes[0].Upstream = "ftp://files.example.com" },
			wantErr: "scheme must be http or https",
		},
		{
			name:    "upstream without host",
			mutate:  func(c *Gateway) { c.Routes[0].Upstream = "http://" },
			wantErr: "must include a host",
		},
		{
			name:    "tls without files",
			mutate:  func(c *Gateway) { c.TLS.Enabled = true },
			wantErr: "tls.cert_path and tls.key_path",
		},
		{
			name:    "zero timeout",
			mutate:  func(c *Gateway) { c.RequestTimeout = Duration{} },
			wantErr: "request_timeout must be positive",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultGateway()
			cfg.Routes = []Route{{Prefix: "/api", Upstream: "https://api.example.com"}}
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected error containing %q", tc.wantErr)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("error = %v, want %q", err, tc.wantErr)
			}
		})
	}
}

func TestLoadClientDefaults(t *testing.T) {
	path := writeConfig(t, "client.yml", `
api_base_url: https://api.example.com/api/
poll_interval: 2s
`)

	cfg, err := LoadClient(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.APIBaseURL != "https://api.example.com/api" {
		t.Fatalf("api_base_url = %q", cfg.APIBaseURL)
	}
	if cfg.RefreshURL != "https://api.example.com/api/auth/refresh" {
		t.Fatalf("refresh_url = %q", cfg.RefreshURL)
	}
	if cfg.PollInterval.Duration != 2*time.Second {
		t.Fatalf("poll_interval = %s", cfg.PollInterval.Duration)
	}
	if len(cfg.Brokers) == 0 {
		t.Fatal("default brokers missing")
	}
	if cfg.StateFile == "" {
		t.Fatal("default state file missing")
	}
}

func TestLoadClientEnvOverlay(t *testing.T) {
	t.Setenv("API_BASE_URL", "http://gateway.local:8080/api")
	t.Setenv("STATE_FILE", filepath.Join(t.TempDir(), "session.json"))

	cfg, err := LoadClient("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.APIBaseURL != "http://gateway.local:8080/api" {
		t.Fatalf("api_base_url = %q", cfg.APIBaseURL)
	}
	if !strings.HasSuffix(cfg.StateFile, "session.json") {
		t.Fatalf("state_file = %q", cfg.StateFile)
	}
}

func TestLoadClientRejectsBadRefreshURL(t *testing.T) {
	path := writeConfig(t, "client.json", `{"refresh_url": "identity.example.com/refresh"}`)
	if _, err := LoadClient(path); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestDurationRejectsGarbage(t *testing.T) {
	path := writeConfig(t, "gateway.yaml", `
upstream_url: https://api.example.com
request_timeout: soon
`)
	if _, err := LoadGateway(path); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestDurationForms(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		json    string
		want    time.Duration
		wantErr bool
	}{
		{name: "unit string", yaml: `t: 45s`, json: `{"t":"45s"}`, want: 45 * time.Second},
		{name: "compound string", yaml: `t: 1m30s`, json: `{"t":"1m30s"}`, want: 90 * time.Second},
		{name: "bare seconds", yaml: `t: 90`, json: `{"t":90}`, want: 90 * time.Second},
		{name: "sequence", yaml: `t: [1]`, json: `{"t":[1]}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var fromYAML struct {
				T Duration `yaml:"t"`
			}
			err := yaml.Unmarshal([]byte(tt.yaml), &fromYAML)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("yaml %q: expected error", tt.yaml)
				}
			} else if err != nil || fromYAML.T.Duration != tt.want {
				t.Fatalf("yaml %q: got %v, %v; want %v", tt.yaml, fromYAML.T.Duration, err, tt.want)
			}

			var fromJSON struct {
				T Duration `json:"t"`
			}
			err = json.Unmarshal([]byte(tt.json), &fromJSON)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("json %s: expected error", tt.json)
				}
			} else if err != nil || fromJSON.T.Duration != tt.want {
				t.Fatalf("json %s: got %v, %v; want %v", tt.json, fromJSON.T.Duration, err, tt.want)
			}
		})
	}
}

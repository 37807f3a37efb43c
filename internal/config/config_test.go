package config

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestGetenv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		expected     string
	}{
		{
			name:         "returns environment variable when set",
			key:          "TEST_KEY_1",
			defaultValue: "default",
			envValue:     "env_value",
			expected:     "env_value",
		},
		{
			name:         "returns default when environment variable is empty",
			key:          "TEST_KEY_2",
			defaultValue: "default",
			envValue:     "",
			expected:     "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.envValue)

			result := getenv(tt.key, tt.defaultValue)
			if result != tt.expected {
				t.Errorf("getenv(%q, %q) = %q, want %q", tt.key, tt.defaultValue, result, tt.expected)
			}
		})
	}
}

func TestGetenvTyped(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	t.Setenv("TEST_BAD_INT", "nope")
	t.Setenv("TEST_BOOL", "false")
	t.Setenv("TEST_DURATION", "250ms")
	t.Setenv("TEST_BAD_DURATION", "soon")

	if got := getenvInt("TEST_INT", 1); got != 42 {
		t.Errorf("getenvInt() = %d, want 42", got)
	}
	if got := getenvInt("TEST_BAD_INT", 1); got != 1 {
		t.Errorf("getenvInt() invalid = %d, want default 1", got)
	}
	if got := getenvBool("TEST_BOOL", true); got {
		t.Error("getenvBool() = true, want false")
	}
	if got := getenvDuration("TEST_DURATION", time.Second); got != 250*time.Millisecond {
		t.Errorf("getenvDuration() = %v, want 250ms", got)
	}
	if got := getenvDuration("TEST_BAD_DURATION", time.Second); got != time.Second {
		t.Errorf("getenvDuration() invalid = %v, want default 1s", got)
	}
}

func TestGetenvList(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		def      []string
		expected []string
	}{
		{name: "unset uses default", envValue: "", def: []string{"*"}, expected: []string{"*"}},
		{name: "splits and trims", envValue: " /a , /b ,", def: nil, expected: []string{"/a", "/b"}},
		{name: "only separators uses default", envValue: " , ", def: []string{"x"}, expected: []string{"x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_LIST", tt.envValue)
			got := getenvList("TEST_LIST", tt.def)
			if diff := cmp.Diff(tt.expected, got); diff != "" {
				t.Errorf("getenvList() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	for _, k := range []string{"STORE_BACKEND", "STORE_PATH", "QUEUE_KEY", "API_BASE_URL", "REPLAY_MAX_ATTEMPTS", "REPLAY_DROP_PERMANENT", "NSQD_TCP_ADDR", "PUBLISH_DLQ_TOPIC", "CONNECTIVITY_PROBE_URL", "CONNECTIVITY_START_ONLINE"} {
		t.Setenv(k, "")
	}

	cfg := FromEnv()

	if cfg.AppName != "fieldsync" {
		t.Errorf("AppName = %q, want fieldsync", cfg.AppName)
	}
	want := Store{Backend: "file", Path: "./data", Key: "fieldsync.pendingActions"}
	if diff := cmp.Diff(want, cfg.Store); diff != "" {
		t.Errorf("Store mismatch (-want +got):\n%s", diff)
	}
	if cfg.Replay.MaxAttempts != 0 || cfg.Replay.DropPermanent {
		t.Errorf("Replay defaults = %+v, want unlimited retention", cfg.Replay)
	}
	if !cfg.Connectivity.StartOnline {
		t.Error("Connectivity.StartOnline should default to true")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got %v", err)
	}
}

func TestFromEnv_Custom(t *testing.T) {
	env := map[string]string{
		"STORE_BACKEND":               "SQLite",
		"STORE_PATH":                  "/var/lib/fieldsync/queue.db",
		"QUEUE_KEY":                   "crm.offline",
		"API_BASE_URL":                "https://crm.example.com",
		"API_REQUEST_TIMEOUT":         "5s",
		"CONNECTIVITY_PROBE_URL":      "https://crm.example.com/healthz",
		"CONNECTIVITY_PROBE_INTERVAL": "30s",
		"REPLAY_MAX_ATTEMPTS":         "10",
		"REPLAY_DROP_PERMANENT":       "true",
		"FAIL_PATHS":                  "/api/invoices,/api/leads",
	}
	for k, v := range env {
		t.Setenv(k, v)
	}

	cfg := FromEnv()

	if cfg.Store.Backend != "sqlite" {
		t.Errorf("Store.Backend = %q, want sqlite (lowercased)", cfg.Store.Backend)
	}
	if cfg.Store.Key != "crm.offline" {
		t.Errorf("Store.Key = %q, want crm.offline", cfg.Store.Key)
	}
	if cfg.API.RequestTimeout != 5*time.Second {
		t.Errorf("API.RequestTimeout = %v, want 5s", cfg.API.RequestTimeout)
	}
	if cfg.Connectivity.ProbeInterval != 30*time.Second {
		t.Errorf("Connectivity.ProbeInterval = %v, want 30s", cfg.Connectivity.ProbeInterval)
	}
	if cfg.Replay.MaxAttempts != 10 || !cfg.Replay.DropPermanent {
		t.Errorf("Replay = %+v, want MaxAttempts=10 DropPermanent=true", cfg.Replay)
	}
	if diff := cmp.Diff([]string{"/api/invoices", "/api/leads"}, cfg.FakeAPI.FailPaths); diff != "" {
		t.Errorf("FailPaths mismatch (-want +got):\n%s", diff)
	}
}

func TestConfig_DSN(t *testing.T) {
	cfg := Config{DB: DB{User: "u", Pass: "p", Host: "h", Port: "5433", Name: "n"}}
	want := "postgres://u:p@h:5433/n?sslmode=disable"
	if got := cfg.DSN(); got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() Config {
		return Config{
			Store: Store{Backend: "memory", Key: "k"},
			API:   API{BaseURL: "http://api"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "unknown backend", mutate: func(c *Config) { c.Store.Backend = "redis" }, wantErr: "unknown store backend"},
		{name: "missing key", mutate: func(c *Config) { c.Store.Key = "" }, wantErr: "queue key is required"},
		{name: "file without path", mutate: func(c *Config) { c.Store.Backend = "file" }, wantErr: "store path is required"},
		{name: "missing base url", mutate: func(c *Config) { c.API.BaseURL = "" }, wantErr: "api base url"},
		{name: "negative attempts", mutate: func(c *Config) { c.Replay.MaxAttempts = -1 }, wantErr: "must not be negative"},
		{name: "dlq without nsqd", mutate: func(c *Config) { c.Replay.PublishDLQ = true }, wantErr: "NSQD_TCP_ADDR"},
		{
			name: "probe without interval",
			mutate: func(c *Config) {
				c.Connectivity.ProbeURL = "http://api/healthz"
			},
			wantErr: "probe interval",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

// serviceOptions mirrors the shape of the server's flag struct.
type serviceOptions struct {
	Config string

	Port         string   `toml:"server.port" env:"SERVER_PORT"`
	Workers      int      `toml:"sessions.workers" env:"SESSIONS_WORKERS"`
	FeedbackAddr string   `toml:"feedback.addr" env:"FEEDBACK_ADDR"`
	Prometheus   bool     `toml:"metrics.prometheus_enabled" env:"METRICS_PROMETHEUS_ENABLED"`
	Gain         float64  `toml:"feedback.gain" env:"FEEDBACK_GAIN"`
	Origins      []string `toml:"server.origins" env:"SERVER_ORIGINS"`
	Ladder       []int    `toml:"pipeline.ladder" env:"PIPELINE_LADDER"`
	Untagged     string
}

const serviceTOML = `
[server]
port = ":9000"
origins = ["http://a", "http://b"]

[sessions]
workers = 3

[feedback]
addr = ":6000"
gain = 2

[metrics]
prometheus_enabled = false

[pipeline]
ladder = [500, 1500, 4000]
`

func writeServiceConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func defaultServiceOptions(configPath string) *serviceOptions {
	return &serviceOptions{
		Config:       configPath,
		Port:         ":8090",
		FeedbackAddr: ":5005",
		Prometheus:   true,
		Untagged:     "kept",
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	opts := defaultServiceOptions(writeServiceConfig(t, serviceTOML))
	if err := LoadConfig(opts, nil); err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	want := &serviceOptions{
		Config:       opts.Config,
		Port:         ":9000",
		Workers:      3,
		FeedbackAddr: ":6000",
		Prometheus:   false,
		Gain:         2,
		Origins:      []string{"http://a", "http://b"},
		Ladder:       []int{500, 1500, 4000},
		Untagged:     "kept",
	}
	if !reflect.DeepEqual(opts, want) {
		t.Errorf("options = %+v\nwant      %+v", opts, want)
	}
}

func TestLoadConfigPrecedence(t *testing.T) {
	path := writeServiceConfig(t, serviceTOML)
	t.Setenv("FOVEANODE_SERVER_PORT", ":7000")
	t.Setenv("FOVEANODE_SESSIONS_WORKERS", "8")
	t.Setenv("FOVEANODE_PIPELINE_LADDER", "100, 200")

	cmd := &cobra.Command{Use: "test"}
	opts := defaultServiceOptions(path)
	cmd.Flags().IntVar(&opts.Workers, "workers", 0, "")
	if err := cmd.Flags().Set("workers", "2"); err != nil {
		t.Fatal(err)
	}

	if err := LoadConfig(opts, cmd); err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if opts.Port != ":7000" {
		t.Errorf("port = %q, want env value :7000", opts.Port)
	}
	if opts.Workers != 2 {
		t.Errorf("workers = %d, want flag value 2", opts.Workers)
	}
	if !reflect.DeepEqual(opts.Ladder, []int{100, 200}) {
		t.Errorf("ladder = %v, want [100 200]", opts.Ladder)
	}
	if opts.FeedbackAddr != ":6000" {
		t.Errorf("feedback addr = %q, want file value :6000", opts.FeedbackAddr)
	}
}

func TestLoadConfigEnvWithoutFile(t *testing.T) {
	t.Setenv("FOVEANODE_FEEDBACK_ADDR", "")
	t.Setenv("FOVEANODE_METRICS_PROMETHEUS_ENABLED", "false")
	t.Setenv("FOVEANODE_FEEDBACK_GAIN", "0.5")
	t.Setenv("FOVEANODE_SERVER_ORIGINS", " http://x , http://y ")

	opts := defaultServiceOptions(filepath.Join(t.TempDir(), "missing.toml"))
	if err := LoadConfig(opts, nil); err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if opts.FeedbackAddr != ":5005" {
		t.Errorf("empty env value replaced feedback addr: %q", opts.FeedbackAddr)
	}
	if opts.Prometheus {
		t.Error("prometheus still enabled")
	}
	if opts.Gain != 0.5 {
		t.Errorf("gain = %v, want 0.5", opts.Gain)
	}
	if !reflect.DeepEqual(opts.Origins, []string{"http://x", "http://y"}) {
		t.Errorf("origins = %q", opts.Origins)
	}
}

func TestLoadConfigReportsBadEnv(t *testing.T) {
	t.Setenv("FOVEANODE_SESSIONS_WORKERS", "many")
	t.Setenv("FOVEANODE_SERVER_PORT", ":7100")

	opts := defaultServiceOptions("")
	err := LoadConfig(opts, nil)
	if err == nil || !strings.Contains(err.Error(), "FOVEANODE_SESSIONS_WORKERS") {
		t.Fatalf("expected error naming the variable, got %v", err)
	}
	if opts.Port != ":7100" {
		t.Errorf("valid variables should still apply, port = %q", opts.Port)
	}
}

func TestLoadConfigInvalidTOML(t *testing.T) {
	opts := defaultServiceOptions(writeServiceConfig(t, "[server\nport = "))
	if err := LoadConfig(opts, nil); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLookupDotted(t *testing.T) {
	table := map[string]any{
		"server": map[string]any{
			"tls":  map[string]any{"cert": "a.pem"},
			"port": ":80",
		},
		"name": "node",
	}
	tests := []struct {
		key  string
		want any
	}{
		{"name", "node"},
		{"server.port", ":80"},
		{"server.tls.cert", "a.pem"},
		{"server.missing", nil},
		{"name.child", nil},
	}
	for _, tt := range tests {
		if got := lookupDotted(table, tt.key); got != tt.want {
			t.Errorf("lookupDotted(%q) = %v, want %v", tt.key, got, tt.want)
		}
	}
}

func TestFlagName(t *testing.T) {
	tests := map[string]string{
		"Port":                     "port",
		"FeedbackAddr":             "feedback-addr",
		"MetricsPrometheusEnabled": "metrics-prometheus-enabled",
	}
	for in, want := range tests {
		if got := flagName(in); got != want {
			t.Errorf("flagName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLoadLoggingConfig(t *testing.T) {
	path := writeServiceConfig(t, `
[logging]
level = "debug"
format = "json"
session = "warn"
feedback = "error"
`)
	cfg := LoadLoggingConfig(path)
	if cfg.Level != "debug" || cfg.Format != "json" {
		t.Errorf("level/format = %q/%q", cfg.Level, cfg.Format)
	}
	want := map[string]string{"session": "warn", "feedback": "error"}
	if !reflect.DeepEqual(cfg.Modules, want) {
		t.Errorf("modules = %v, want %v", cfg.Modules, want)
	}

	def := LoadLoggingConfig(filepath.Join(t.TempDir(), "none.toml"))
	if def.Level != "info" || def.Format != "text" || len(def.Modules) != 0 {
		t.Errorf("defaults = %+v", def)
	}
}

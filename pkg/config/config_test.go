package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config is invalid: %v", err)
	}
	if cfg.History.MaxItems != 50 {
		t.Errorf("expected default max items 50, got %d", cfg.History.MaxItems)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, DefaultFileName)
	content := `
database:
  path: data/history.db
  busy_timeout: 250ms
history:
  max_items: 10
telemetry:
  log_level: debug
  log_format: json
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if want := filepath.Join(dir, "data", "history.db"); cfg.Database.Path != want {
		t.Errorf("expected path %s, got %s", want, cfg.Database.Path)
	}
	if cfg.Database.BusyTimeout != 250*time.Millisecond {
		t.Errorf("expected busy timeout 250ms, got %v", cfg.Database.BusyTimeout)
	}
	if cfg.Database.MaxOpenConns != 4 {
		t.Errorf("expected default max open conns to survive, got %d", cfg.Database.MaxOpenConns)
	}
	if cfg.History.MaxItems != 10 {
		t.Errorf("expected max items 10, got %d", cfg.History.MaxItems)
	}

	tc := cfg.TelemetryConfig("v1.2.3")
	if tc.Logging.Level != "debug" || tc.Logging.Format != "json" || tc.ServiceVersion != "v1.2.3" {
		t.Errorf("unexpected telemetry config: %+v", tc.Logging)
	}
	if err := tc.Validate(); err != nil {
		t.Errorf("telemetry config invalid: %v", err)
	}

	sc := cfg.StoreConfig()
	if sc.Path != cfg.Database.Path || sc.BusyTimeout != cfg.Database.BusyTimeout {
		t.Errorf("unexpected store config: %+v", sc)
	}
}

func TestLoadKeepsDefaultPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFileName)
	if err := os.WriteFile(path, []byte("history:\n  max_items: 3\n"), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Database.Path != Default().Database.Path {
		t.Errorf("expected default path, got %s", cfg.Database.Path)
	}
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{name: "bad yaml", content: "database: [", wantErr: "failed to parse"},
		{name: "negative retention", content: "history:\n  max_items: -1\n", wantErr: "MaxItems"},
		{name: "bad level", content: "telemetry:\n  log_level: loud\n", wantErr: "LogLevel"},
		{name: "otlp without endpoint", content: "telemetry:\n  tracing:\n    exporter: otlp\n", wantErr: "Endpoint"},
		{name: "bad duration", content: "database:\n  busy_timeout: soon\n", wantErr: "failed to parse"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, strings.ReplaceAll(tt.name, " ", "_")+".yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatalf("failed to write config: %v", err)
			}

			_, err := Load(path)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}

	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestWriteRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", DefaultFileName)

	cfg := Default()
	cfg.Database.Path = "/var/lib/historydb/history.db"
	cfg.History.MaxItems = 7
	if err := cfg.Write(path); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Database.Path != cfg.Database.Path {
		t.Errorf("expected path %s, got %s", cfg.Database.Path, loaded.Database.Path)
	}
	if loaded.History.MaxItems != 7 {
		t.Errorf("expected max items 7, got %d", loaded.History.MaxItems)
	}
	if loaded.Database.BusyTimeout != 5*time.Second {
		t.Errorf("expected busy timeout to round trip, got %v", loaded.Database.BusyTimeout)
	}
}

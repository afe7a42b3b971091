package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Monitor.StuckThreshold != 30*time.Minute {
		t.Fatalf("expected default stuck threshold of 30m, got %s", cfg.Monitor.StuckThreshold)
	}
	if cfg.Ingestion.Separator != "|" || cfg.Ingestion.AnchorLabel != "Posting Date" {
		t.Fatalf("unexpected ingestion defaults: %+v", cfg.Ingestion)
	}
	if cfg.Database.Port != 5432 {
		t.Fatalf("expected default port 5432, got %d", cfg.Database.Port)
	}
}

func TestLoadReadsYAMLAndEnv(t *testing.T) {
	dir := t.TempDir()
	yaml := `database:
  host: db.internal
  port: 6543
monitor:
  stuckThreshold: 45m
ingestion:
  encoding: windows-1252
`
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("PRODFACTS_LOG_LEVEL", "trace")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Database.Host != "db.internal" || cfg.Database.Port != 6543 {
		t.Fatalf("database overrides not applied: %+v", cfg.Database)
	}
	if cfg.Monitor.StuckThreshold != 45*time.Minute {
		t.Fatalf("expected 45m threshold, got %s", cfg.Monitor.StuckThreshold)
	}
	if cfg.Ingestion.Encoding != "windows-1252" {
		t.Fatalf("expected encoding override, got %q", cfg.Ingestion.Encoding)
	}
	if cfg.Log.Level != "trace" {
		t.Fatalf("expected env override for log level, got %q", cfg.Log.Level)
	}
}

func TestValidateRejectsEmptySeparator(t *testing.T) {
	cfg := Default()
	cfg.Ingestion.Separator = ""
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error for empty separator")
	}
}

package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestSaveCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	if err := Save(DefaultConfig(), path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read config file: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Config file contains invalid JSON: %v", err)
	}
	if raw["backoff_max"] != "5m0s" {
		t.Errorf("backoff_max = %v, want duration string", raw["backoff_max"])
	}
	if !strings.Contains(string(data), "\n  ") {
		t.Error("expected indented JSON")
	}
}

func TestSaveCreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deep", "config.json")

	if err := Save(DefaultConfig(), path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Fatalf("Config file was not created: %s", path)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	cfg := DefaultConfig()
	cfg.SimplifyTolerance = 0.00002
	cfg.Rates["gravel"] = 2.25
	cfg.MaxRetries = 5
	cfg.BackoffBase = Duration(500 * time.Millisecond)
	cfg.AttemptTimeout = Duration(time.Minute)
	cfg.DatabasePath = "/var/lib/landscape/landscape.db"

	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.SimplifyTolerance != 0.00002 || loaded.MaxRetries != 5 {
		t.Errorf("scalars mismatch: %+v", loaded)
	}
	if loaded.Rates["gravel"] != 2.25 {
		t.Errorf("gravel rate = %v", loaded.Rates["gravel"])
	}
	if time.Duration(loaded.BackoffBase) != 500*time.Millisecond || time.Duration(loaded.AttemptTimeout) != time.Minute {
		t.Errorf("durations mismatch: %s / %s", time.Duration(loaded.BackoffBase), time.Duration(loaded.AttemptTimeout))
	}
	if loaded.DatabasePath != cfg.DatabasePath {
		t.Errorf("DatabasePath = %q", loaded.DatabasePath)
	}
}

func TestSaveOverwritesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	first := DefaultConfig()
	first.Workers = 1
	if err := Save(first, path); err != nil {
		t.Fatalf("First save failed: %v", err)
	}

	second := DefaultConfig()
	second.Workers = 9
	if err := Save(second, path); err != nil {
		t.Fatalf("Second save failed: %v", err)
	}

	loaded, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Workers != 9 {
		t.Errorf("Workers = %d, want 9", loaded.Workers)
	}
}

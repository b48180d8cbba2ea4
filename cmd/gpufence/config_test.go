package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfig(t *testing.T) {
	t.Run("missing default file is empty", func(t *testing.T) {
		cfg, err := LoadConfig(filepath.Join(t.TempDir(), "config.yaml"), false)
		if err != nil {
			t.Fatalf("LoadConfig returned error: %v", err)
		}
		if cfg.PoolCapacity != nil || cfg.ServerAddress != "" {
			t.Fatalf("expected zero config, got %+v", cfg)
		}
	})

	t.Run("missing explicit file fails", func(t *testing.T) {
		if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"), true); err == nil {
			t.Fatalf("expected an error for a missing --config file")
		}
	})

	t.Run("parses every key", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		data := []byte(`pool_capacity: 3
max_query_points: 20
sync_slots: 1024
event_timeout: 250ms
log_level: debug
log_format: json
server_address: 0.0.0.0:9000
`)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			t.Fatalf("write config: %v", err)
		}

		cfg, err := LoadConfig(path, true)
		if err != nil {
			t.Fatalf("LoadConfig returned error: %v", err)
		}
		if cfg.PoolCapacity == nil || *cfg.PoolCapacity != 3 {
			t.Fatalf("pool_capacity: got %v", cfg.PoolCapacity)
		}
		if cfg.MaxQueryPoints == nil || *cfg.MaxQueryPoints != 20 {
			t.Fatalf("max_query_points: got %v", cfg.MaxQueryPoints)
		}
		if cfg.SyncSlots == nil || *cfg.SyncSlots != 1024 {
			t.Fatalf("sync_slots: got %v", cfg.SyncSlots)
		}
		if cfg.EventTimeout == nil || *cfg.EventTimeout != 250*time.Millisecond {
			t.Fatalf("event_timeout: got %v", cfg.EventTimeout)
		}
		if cfg.LogLevel != "debug" || cfg.LogFormat != "json" || cfg.ServerAddress != "0.0.0.0:9000" {
			t.Fatalf("string keys: got %+v", cfg)
		}
	})

	t.Run("non-positive sizes are rejected", func(t *testing.T) {
		for _, body := range []string{
			"pool_capacity: 0\n",
			"max_query_points: -1\n",
			"sync_slots: 0\n",
			"event_timeout: 0s\n",
		} {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
				t.Fatalf("write config: %v", err)
			}
			if _, err := LoadConfig(path, true); err == nil {
				t.Fatalf("expected %q to be rejected", body)
			}
		}
	})

	t.Run("malformed yaml fails", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		if err := os.WriteFile(path, []byte("pool_capacity: [1"), 0o644); err != nil {
			t.Fatalf("write config: %v", err)
		}
		if _, err := LoadConfig(path, true); err == nil {
			t.Fatalf("expected a parse error")
		}
	})
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig() failed: %v", err)
	}

	if cfg.Server.Port != 7070 {
		t.Errorf("port = %d, want 7070", cfg.Server.Port)
	}
	if cfg.Storage.Engine != "sqlite" {
		t.Errorf("engine = %s, want sqlite", cfg.Storage.Engine)
	}
	if cfg.Context.RelevanceHalfLifeDays != 30 {
		t.Errorf("half-life = %v, want 30", cfg.Context.RelevanceHalfLifeDays)
	}
	if cfg.Context.RelevanceFloor != 0.2 {
		t.Errorf("floor = %v, want 0.2", cfg.Context.RelevanceFloor)
	}
	if cfg.Items.DuplicateWindow != 24*time.Hour {
		t.Errorf("duplicate window = %v, want 24h", cfg.Items.DuplicateWindow)
	}
	if cfg.Items.StaleTTL != 30*24*time.Hour {
		t.Errorf("stale ttl = %v, want 720h", cfg.Items.StaleTTL)
	}
	if cfg.Security.Mode != "development" {
		t.Errorf("mode = %s, want development", cfg.Security.Mode)
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("TEMPUS_PORT", "9191")
	t.Setenv("TEMPUS_RELEVANCE_FLOOR", "0.35")
	t.Setenv("TEMPUS_DUPLICATE_WINDOW", "12h")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig() failed: %v", err)
	}
	if cfg.Server.Port != 9191 {
		t.Errorf("port = %d, want 9191", cfg.Server.Port)
	}
	if cfg.Context.RelevanceFloor != 0.35 {
		t.Errorf("floor = %v, want 0.35", cfg.Context.RelevanceFloor)
	}
	if cfg.Items.DuplicateWindow != 12*time.Hour {
		t.Errorf("duplicate window = %v, want 12h", cfg.Items.DuplicateWindow)
	}
}

func TestLoadConfigUnparseableEnvFallsBack(t *testing.T) {
	t.Setenv("TEMPUS_PORT", "not-a-number")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig() failed: %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("port = %d, want the 7070 default", cfg.Server.Port)
	}
}

func TestLoadConfigFileOverridesEnv(t *testing.T) {
	t.Setenv("TEMPUS_PORT", "9191")

	path := filepath.Join(t.TempDir(), "tempus.yaml")
	data := []byte("server:\n  port: 8080\nitems:\n  stale_ttl: 48h\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() failed: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want file value 8080", cfg.Server.Port)
	}
	if cfg.Items.StaleTTL != 48*time.Hour {
		t.Errorf("stale ttl = %v, want 48h", cfg.Items.StaleTTL)
	}
	// Untouched settings keep their defaults.
	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("host = %s, want default", cfg.Server.Host)
	}
}

func TestLoadConfigValidation(t *testing.T) {
	t.Run("unknown engine", func(t *testing.T) {
		t.Setenv("TEMPUS_STORAGE_ENGINE", "etcd")
		if _, err := LoadConfig(""); err == nil {
			t.Error("unknown storage engine should be rejected")
		}
	})

	t.Run("postgres without dsn", func(t *testing.T) {
		t.Setenv("TEMPUS_STORAGE_ENGINE", "postgres")
		if _, err := LoadConfig(""); err == nil {
			t.Error("postgres engine without a DSN should be rejected")
		}
	})

	t.Run("production without token", func(t *testing.T) {
		t.Setenv("TEMPUS_SECURITY_MODE", "production")
		if _, err := LoadConfig(""); err == nil {
			t.Error("production mode without a token should be rejected")
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := LoadConfig("/no/such/tempus.yaml"); err == nil {
			t.Error("missing config file should be an error")
		}
	})
}

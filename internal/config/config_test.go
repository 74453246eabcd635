package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigResolvesTiming(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Timing.GracePeriod != 30*time.Second {
		t.Errorf("GracePeriod = %v, want 30s", cfg.Timing.GracePeriod)
	}
	if cfg.Timing.Patience != 5*time.Second {
		t.Errorf("Patience = %v, want 5s", cfg.Timing.Patience)
	}
}

func TestLoadFromFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := `
store:
  address: db.internal:5432
  database: sched
  user: sched_user
  password: secret
timing:
  grace_period: 45
  patience: 8
`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}
	if cfg.Store.Address != "db.internal:5432" {
		t.Errorf("Store.Address = %q, want db.internal:5432", cfg.Store.Address)
	}
	if cfg.Timing.GracePeriod != 45*time.Second {
		t.Errorf("GracePeriod = %v, want 45s", cfg.Timing.GracePeriod)
	}
	if cfg.Timing.Patience != 8*time.Second {
		t.Errorf("Patience = %v, want 8s", cfg.Timing.Patience)
	}
	// Unset sections keep defaults.
	if cfg.Bus.Address != "localhost:5672" {
		t.Errorf("Bus.Address = %q, want default localhost:5672", cfg.Bus.Address)
	}
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("MULTISCHED_STORE_ADDRESS", "env-db:5432")
	t.Setenv("MULTISCHED_GRACE_PERIOD", "60")

	cfg := DefaultConfig()
	LoadFromEnv(cfg)

	if cfg.Store.Address != "env-db:5432" {
		t.Errorf("Store.Address = %q, want env-db:5432", cfg.Store.Address)
	}
	if cfg.Timing.GracePeriod != 60*time.Second {
		t.Errorf("GracePeriod = %v, want 60s", cfg.Timing.GracePeriod)
	}
}

package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/emberly_test")
	t.Setenv("JWT_SECRET", "test-secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Port)
	}
	if !cfg.IsDevelopment() {
		t.Errorf("env = %q, want development default", cfg.Env)
	}
	if cfg.HeartbeatWindow != 60*time.Second {
		t.Errorf("heartbeat window = %v", cfg.HeartbeatWindow)
	}
	if cfg.TypingTTL != 10*time.Second {
		t.Errorf("typing ttl = %v", cfg.TypingTTL)
	}
	if cfg.WindowSize != 50 {
		t.Errorf("window size = %d", cfg.WindowSize)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/emberly_test")
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("PORT", "9090")
	t.Setenv("ENV", "production")
	t.Setenv("TYPING_TTL", "5s")
	t.Setenv("CACHE_WINDOW_SIZE", "100")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != 9090 || cfg.IsDevelopment() || cfg.TypingTTL != 5*time.Second || cfg.WindowSize != 100 {
		t.Errorf("overrides not applied: %+v", cfg)
	}
}

func TestLoadRequiresSecrets(t *testing.T) {
	// t.Setenv registers the restore; the unset leaves the variable truly
	// absent so the required tag trips.
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_SECRET", "")
	os.Unsetenv("DATABASE_URL")
	os.Unsetenv("JWT_SECRET")

	if _, err := Load(); err == nil {
		t.Fatal("missing required variables accepted")
	}
}

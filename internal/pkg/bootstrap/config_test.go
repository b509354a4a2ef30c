package bootstrap

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadLayersFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
store:
  driver: memory
notifications:
  pace: 250ms
ads:
  max_per_user: 3
moderation:
  priority_rules:
    - name: cheap
      when: "price < 1000.0"
      priority: 3
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ADMIN_IDS", "42, 7")
	t.Setenv("NOTIFICATION_CHECK_INTERVAL", "15")
	t.Setenv("MAX_PRICE", "5000")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Store.Driver != "memory" {
		t.Fatalf("expected memory driver, got %s", cfg.Store.Driver)
	}
	if cfg.Notifications.Pace != 250*time.Millisecond {
		t.Fatalf("unexpected pace %v", cfg.Notifications.Pace)
	}
	if cfg.Ads.MaxPerUser != 3 || cfg.Ads.MaxPrice != 5000 {
		t.Fatalf("unexpected ads config %+v", cfg.Ads)
	}
	if cfg.Notifications.CheckIntervalMinutes != 15 {
		t.Fatalf("expected interval from env, got %d", cfg.Notifications.CheckIntervalMinutes)
	}
	if !cfg.IsAdminTelegramID(42) || !cfg.IsAdminTelegramID(7) || cfg.IsAdminTelegramID(1) {
		t.Fatalf("unexpected admin ids %v", cfg.Bot.AdminIDs)
	}
	if len(cfg.Moderation.PriorityRules) != 1 || cfg.Moderation.PriorityRules[0].Priority != 3 {
		t.Fatalf("unexpected priority rules %+v", cfg.Moderation.PriorityRules)
	}
	if cfg.Cleanup.Schedule != "0 3 * * *" {
		t.Fatalf("defaults should survive partial yaml, got %q", cfg.Cleanup.Schedule)
	}
}

func TestLoadRejectsInvertedPriceRange(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("MIN_PRICE", "100")
	t.Setenv("MAX_PRICE", "10")
	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestHolderApplyYAMLNotifiesListeners(t *testing.T) {
	cfg := Default()
	cfg.Store.Driver = "memory"
	h := NewHolder(cfg)

	var seen *Config
	h.OnChange(func(c *Config) { seen = c })

	if err := h.ApplyYAML([]byte("notifications:\n  pace: 1s\n")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen == nil || seen.Notifications.Pace != time.Second {
		t.Fatal("listener did not receive the new config")
	}
	if h.Current().Notifications.Pace != time.Second {
		t.Fatal("holder did not switch to the new config")
	}
	if cfg.Notifications.Pace == time.Second {
		t.Fatal("original config must not be mutated")
	}

	if err := h.ApplyYAML([]byte("store:\n  driver: sqlite\n")); err == nil {
		t.Fatal("expected invalid remote config to be rejected")
	}
	if h.Current().Store.Driver != "memory" {
		t.Fatal("rejected config must not replace the current one")
	}
}

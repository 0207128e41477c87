package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if len(cfg.Router.Tiers) != 4 {
		t.Errorf("expected 4 default tiers, got %d", len(cfg.Router.Tiers))
	}
	tier, ok := cfg.TierByName(TierPremium)
	if !ok {
		t.Fatal("premium tier missing")
	}
	if tier.CostPer1K != 0.015 {
		t.Errorf("premium cost = %v, want 0.015", tier.CostPer1K)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := DefaultConfig()
	want.applyEnvOverrides()
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadOverlaysFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
execution:
  mode: cost_saving
  max_retries: 5
budget:
  daily_limit: 3.5
router:
  premium_threshold: 0.9
  mid_threshold: 0.6
  open_threshold: 0.3
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Execution.Mode != ModeCostSaving {
		t.Errorf("mode = %s, want cost_saving", cfg.Execution.Mode)
	}
	if cfg.Execution.MaxRetries != 5 {
		t.Errorf("max_retries = %d, want 5", cfg.Execution.MaxRetries)
	}
	if cfg.Budget.DailyLimit != 3.5 {
		t.Errorf("daily_limit = %v, want 3.5", cfg.Budget.DailyLimit)
	}
	if cfg.Router.PremiumThreshold != 0.9 {
		t.Errorf("premium_threshold = %v, want 0.9", cfg.Router.PremiumThreshold)
	}
	// Untouched sections keep defaults.
	if cfg.Execution.MaxSteps != 15 {
		t.Errorf("max_steps = %d, want default 15", cfg.Execution.MaxSteps)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("overlaid config should validate: %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PCAGENT_MODE", "performance")
	t.Setenv("PCAGENT_DAILY_BUDGET", "7.25")
	t.Setenv("PCAGENT_LOG_LEVEL", "debug")
	t.Setenv("PCAGENT_STATE_DIR", "/tmp/pcagent-test")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Execution.Mode != ModePerformance {
		t.Errorf("mode = %s, want performance", cfg.Execution.Mode)
	}
	if cfg.Budget.DailyLimit != 7.25 {
		t.Errorf("daily_limit = %v, want 7.25", cfg.Budget.DailyLimit)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("log level = %s, want debug", cfg.Logging.Level)
	}
	if cfg.StateDir != "/tmp/pcagent-test" {
		t.Errorf("state dir = %s", cfg.StateDir)
	}
	if cfg.BudgetStatePath() != "/tmp/pcagent-test/budget.json" {
		t.Errorf("budget path = %s", cfg.BudgetStatePath())
	}
}

func TestProviderKeyEnvPriority(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-openai")
	t.Setenv("ANTHROPIC_API_KEY", "sk-anthropic")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.Provider != "openai" || cfg.LLM.APIKey != "sk-openai" {
		t.Errorf("OPENAI_API_KEY should win priority: provider=%s", cfg.LLM.Provider)
	}
}

func TestLoadValidates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
execution:
  mode: turbo
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("Load should reject an invalid mode")
	}
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad mode", func(c *Config) { c.Execution.Mode = "turbo" }},
		{"flat thresholds", func(c *Config) { c.Router.MidThreshold = c.Router.PremiumThreshold }},
		{"negative budget", func(c *Config) { c.Budget.DailyLimit = -1 }},
		{"no tiers", func(c *Config) { c.Router.Tiers = nil }},
		{"bad visual method", func(c *Config) { c.Evaluator.VisualMethod = "pixelwise" }},
		{"bad driver", func(c *Config) { c.Execution.Driver = "vnc" }},
		{"zero steps", func(c *Config) { c.Execution.MaxSteps = 0 }},
		{"inverted alerts", func(c *Config) { c.Budget.CriticalThreshold = 5; c.Budget.WarningThreshold = 1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("expected validation error for %s", tc.name)
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Execution.Mode = ModeCostSaving
	cfg.Budget.DailyLimit = 1.5
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Execution.Mode != ModeCostSaving || loaded.Budget.DailyLimit != 1.5 {
		t.Errorf("round trip lost values: mode=%s daily=%v",
			loaded.Execution.Mode, loaded.Budget.DailyLimit)
	}
}

func TestDurationAccessorsFallBack(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LLM.Timeout = "garbage"
	cfg.Execution.SubtaskTimeout = ""
	if cfg.GetLLMTimeout().Seconds() != 120 {
		t.Error("LLM timeout fallback wrong")
	}
	if cfg.GetSubtaskTimeout().Seconds() != 120 {
		t.Error("subtask timeout fallback wrong")
	}
	if cfg.GetRetryDelay().Seconds() != 1 {
		cfg2 := DefaultConfig()
		if cfg2.GetRetryDelay().Seconds() != 1 {
			t.Error("retry delay default wrong")
		}
	}
}

// Package config holds all pcagent configuration: agent models, routing
// thresholds, budget limits, evaluator weights, execution behavior, and
// the simulation parameters. Loading is defaults-first: a missing file or
// missing key silently keeps the default so a bare `pcagent run` works.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all pcagent configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// StateDir is where logs, budget state, and the history DB live.
	StateDir string `yaml:"state_dir"`

	Agents     AgentsConfig     `yaml:"agents"`
	Router     RouterConfig     `yaml:"router"`
	Budget     BudgetConfig     `yaml:"budget"`
	Evaluator  EvaluatorConfig  `yaml:"evaluator"`
	Execution  ExecutionConfig  `yaml:"execution"`
	LLM        LLMConfig        `yaml:"llm"`
	Logging    LoggingConfig    `yaml:"logging"`
	Simulation SimulationConfig `yaml:"simulation"`
	Store      StoreConfig      `yaml:"store"`
}

// AgentConfig configures one cognitive agent.
type AgentConfig struct {
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// AgentsConfig configures the four cognitive agents.
type AgentsConfig struct {
	Manager    AgentConfig `yaml:"manager"`
	Progress   AgentConfig `yaml:"progress"`
	Decision   AgentConfig `yaml:"decision"`
	Reflection AgentConfig `yaml:"reflection"`
}

// ModelTier describes one routing tier.
type ModelTier struct {
	Name       string  `yaml:"name"`  // premium, mid, open, rule
	Model      string  `yaml:"model"` // concrete model identifier
	CostPer1K  float64 `yaml:"cost_per_1k"`
	Provider   string  `yaml:"provider,omitempty"`
	BaseURL    string  `yaml:"base_url,omitempty"`
	SuccessEst float64 `yaml:"success_estimate,omitempty"` // simulation prior
}

// RouterConfig configures complexity thresholds and the tier table.
type RouterConfig struct {
	// Complexity at or above each threshold selects that tier.
	PremiumThreshold float64 `yaml:"premium_threshold"`
	MidThreshold     float64 `yaml:"mid_threshold"`
	OpenThreshold    float64 `yaml:"open_threshold"`

	// Minimum budget remaining for any paid call.
	MinCostPerCall float64 `yaml:"min_cost_per_call"`

	Tiers []ModelTier `yaml:"tiers"`
}

// BudgetConfig configures spend limits. Zero disables a limit.
type BudgetConfig struct {
	DailyLimit   float64 `yaml:"daily_limit"`
	WeeklyLimit  float64 `yaml:"weekly_limit"`
	MonthlyLimit float64 `yaml:"monthly_limit"`

	// Absolute dollars remaining on the daily budget that trigger alerts.
	WarningThreshold  float64 `yaml:"warning_threshold"`
	CriticalThreshold float64 `yaml:"critical_threshold"`

	// StatePath overrides the default <state_dir>/budget.json.
	StatePath string `yaml:"state_path,omitempty"`
}

// EvaluatorConfig configures hybrid evaluation.
type EvaluatorConfig struct {
	Enabled bool `yaml:"enabled"`

	// DefaultThreshold is the pass score when no per-type override exists.
	DefaultThreshold float64            `yaml:"default_threshold"`
	TaskThresholds   map[string]float64 `yaml:"task_thresholds,omitempty"`

	// WatchPaths are monitored for file expectations during execution.
	WatchPaths    []string `yaml:"watch_paths,omitempty"`
	ScreenshotDir string   `yaml:"screenshot_dir"`

	// VisualMethod selects ssim, mse, or hybrid comparison.
	VisualMethod string `yaml:"visual_method"`
}

// ExecutionConfig configures the subtask execution loop.
type ExecutionConfig struct {
	// Mode biases routing: cost_saving, balanced, performance.
	Mode string `yaml:"mode"`

	MaxRetries        int    `yaml:"max_retries"`
	RetryDelay        string `yaml:"retry_delay"`
	MaxSteps          int    `yaml:"max_steps"` // decision-loop cap per subtask
	SubtaskTimeout    string `yaml:"subtask_timeout"`
	ContinueOnFailure bool   `yaml:"continue_on_failure"`

	// Driver selects simulated or browser action execution.
	Driver string `yaml:"driver"`

	// Simulated driver latency per action.
	SimulatedLatency string `yaml:"simulated_latency"`

	// BrowserURL is an existing DevTools websocket URL. Empty launches a
	// headless browser.
	BrowserURL string `yaml:"browser_url,omitempty"`
	Headless   bool   `yaml:"headless"`
}

// LLMConfig configures provider transport.
type LLMConfig struct {
	Provider   string `yaml:"provider,omitempty"` // inferred from model when empty
	APIKey     string `yaml:"api_key,omitempty"`
	BaseURL    string `yaml:"base_url,omitempty"` // OpenAI-compatible endpoint override
	Timeout    string `yaml:"timeout"`
	MaxRetries int    `yaml:"max_retries"`
}

// LoggingConfig configures the category file logger.
type LoggingConfig struct {
	Level      string `yaml:"level"` // debug, info, warn, error
	JSONFormat bool   `yaml:"json_format"`
	Disabled   bool   `yaml:"disabled"`
}

// TierSimParams holds per-tier simulation priors.
type TierSimParams struct {
	CostPerTask float64 `yaml:"cost_per_task"`
	SuccessRate float64 `yaml:"success_rate"`
}

// SimulationConfig configures the scenario engine.
type SimulationConfig struct {
	TaskCount    int                      `yaml:"task_count"`
	Seed         int64                    `yaml:"seed"`
	Distribution string                   `yaml:"distribution"` // normal, uniform, beta
	Workers      int                      `yaml:"workers"`
	Tiers        map[string]TierSimParams `yaml:"tiers"`
}

// StoreConfig configures the SQLite history store.
type StoreConfig struct {
	Path         string `yaml:"path,omitempty"` // defaults to <state_dir>/state.db
	HistoryLimit int    `yaml:"history_limit"`
}

// Execution modes.
const (
	ModeCostSaving  = "cost_saving"
	ModeBalanced    = "balanced"
	ModePerformance = "performance"
)

// Tier names. The order premium > mid > open > rule is the fallback chain.
const (
	TierPremium = "premium"
	TierMid     = "mid"
	TierOpen    = "open"
	TierRule    = "rule"
)

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:     "pcagent",
		Version:  "1.0.0",
		StateDir: ".pcagent",

		Agents: AgentsConfig{
			Manager:    AgentConfig{Model: "gpt-4o", Temperature: 0.3, MaxTokens: 2048},
			Progress:   AgentConfig{Model: "qwen2.5-vl", Temperature: 0.1, MaxTokens: 1024},
			Decision:   AgentConfig{Model: "claude-3-5-sonnet", Temperature: 0.2, MaxTokens: 1024},
			Reflection: AgentConfig{Model: "claude-3-5-sonnet", Temperature: 0.4, MaxTokens: 1024},
		},

		Router: RouterConfig{
			PremiumThreshold: 0.8,
			MidThreshold:     0.5,
			OpenThreshold:    0.2,
			MinCostPerCall:   0.001,
			Tiers: []ModelTier{
				{Name: TierPremium, Model: "gpt-4o", CostPer1K: 0.015, SuccessEst: 0.85},
				{Name: TierMid, Model: "claude-3-5-sonnet", CostPer1K: 0.008, SuccessEst: 0.75},
				{Name: TierOpen, Model: "qwen2.5-vl", CostPer1K: 0.0, SuccessEst: 0.65},
				{Name: TierRule, Model: "rule-based", CostPer1K: 0.0, SuccessEst: 0.95},
			},
		},

		Budget: BudgetConfig{
			DailyLimit:        10.0,
			WeeklyLimit:       50.0,
			MonthlyLimit:      150.0,
			WarningThreshold:  2.0,
			CriticalThreshold: 0.5,
		},

		Evaluator: EvaluatorConfig{
			Enabled:          true,
			DefaultThreshold: 0.7,
			ScreenshotDir:    "screenshots",
			VisualMethod:     "hybrid",
		},

		Execution: ExecutionConfig{
			Mode:              ModeBalanced,
			MaxRetries:        2,
			RetryDelay:        "1s",
			MaxSteps:          15,
			SubtaskTimeout:    "120s",
			ContinueOnFailure: false,
			Driver:            "simulated",
			SimulatedLatency:  "50ms",
			Headless:          true,
		},

		LLM: LLMConfig{
			Timeout:    "120s",
			MaxRetries: 3,
		},

		Logging: LoggingConfig{
			Level: "info",
		},

		Simulation: SimulationConfig{
			TaskCount:    100,
			Seed:         42,
			Distribution: "beta",
			Workers:      4,
			Tiers: map[string]TierSimParams{
				TierPremium: {CostPerTask: 0.15, SuccessRate: 0.85},
				TierMid:     {CostPerTask: 0.08, SuccessRate: 0.75},
				TierOpen:    {CostPerTask: 0.02, SuccessRate: 0.65},
				TierRule:    {CostPerTask: 0.00, SuccessRate: 0.95},
			},
		},

		Store: StoreConfig{
			HistoryLimit: 1000,
		},
	}
}

// Load loads configuration from a YAML file, overlaying defaults and
// validating the result. A missing file returns defaults with env
// overrides applied.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies PCAGENT_* and provider key overrides.
func (c *Config) applyEnvOverrides() {
	// Provider keys, priority order mirrors the client factory.
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && c.LLM.APIKey == "" {
		c.LLM.APIKey = key
		c.LLM.Provider = "openai"
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" && c.LLM.APIKey == "" {
		c.LLM.APIKey = key
		c.LLM.Provider = "anthropic"
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" && c.LLM.APIKey == "" {
		c.LLM.APIKey = key
		c.LLM.Provider = "gemini"
	}

	if mode := os.Getenv("PCAGENT_MODE"); mode != "" {
		c.Execution.Mode = mode
	}
	if driver := os.Getenv("PCAGENT_DRIVER"); driver != "" {
		c.Execution.Driver = driver
	}
	if dir := os.Getenv("PCAGENT_STATE_DIR"); dir != "" {
		c.StateDir = dir
	}
	if level := os.Getenv("PCAGENT_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if url := os.Getenv("PCAGENT_LOCAL_URL"); url != "" {
		c.LLM.BaseURL = url
	}
	if limit := os.Getenv("PCAGENT_DAILY_BUDGET"); limit != "" {
		if v, err := strconv.ParseFloat(limit, 64); err == nil && v >= 0 {
			c.Budget.DailyLimit = v
		}
	}
}

// BudgetStatePath resolves the budget persistence file.
func (c *Config) BudgetStatePath() string {
	if c.Budget.StatePath != "" {
		return c.Budget.StatePath
	}
	return filepath.Join(c.StateDir, "budget.json")
}

// StorePath resolves the SQLite database file.
func (c *Config) StorePath() string {
	if c.Store.Path != "" {
		return c.Store.Path
	}
	return filepath.Join(c.StateDir, "state.db")
}

// GetLLMTimeout returns the LLM request timeout.
func (c *Config) GetLLMTimeout() time.Duration {
	d, err := time.ParseDuration(c.LLM.Timeout)
	if err != nil {
		return 120 * time.Second
	}
	return d
}

// GetSubtaskTimeout returns the per-subtask execution timeout.
func (c *Config) GetSubtaskTimeout() time.Duration {
	d, err := time.ParseDuration(c.Execution.SubtaskTimeout)
	if err != nil {
		return 120 * time.Second
	}
	return d
}

// GetRetryDelay returns the delay between subtask retries.
func (c *Config) GetRetryDelay() time.Duration {
	d, err := time.ParseDuration(c.Execution.RetryDelay)
	if err != nil {
		return time.Second
	}
	return d
}

// GetSimulatedLatency returns the fake per-action latency.
func (c *Config) GetSimulatedLatency() time.Duration {
	d, err := time.ParseDuration(c.Execution.SimulatedLatency)
	if err != nil {
		return 50 * time.Millisecond
	}
	return d
}

// ValidModes lists the execution modes.
var ValidModes = []string{ModeCostSaving, ModeBalanced, ModePerformance}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	validMode := false
	for _, m := range ValidModes {
		if c.Execution.Mode == m {
			validMode = true
			break
		}
	}
	if !validMode {
		return fmt.Errorf("invalid execution mode: %s (valid: %v)", c.Execution.Mode, ValidModes)
	}

	r := c.Router
	if !(r.PremiumThreshold > r.MidThreshold && r.MidThreshold > r.OpenThreshold) {
		return fmt.Errorf("router thresholds must descend: premium %.2f > mid %.2f > open %.2f",
			r.PremiumThreshold, r.MidThreshold, r.OpenThreshold)
	}
	if r.PremiumThreshold > 1 || r.OpenThreshold < 0 {
		return fmt.Errorf("router thresholds must stay within [0,1]")
	}
	if len(r.Tiers) == 0 {
		return fmt.Errorf("router needs at least one model tier")
	}
	for _, tier := range r.Tiers {
		if tier.CostPer1K < 0 {
			return fmt.Errorf("tier %s has negative cost", tier.Name)
		}
	}

	b := c.Budget
	if b.DailyLimit < 0 || b.WeeklyLimit < 0 || b.MonthlyLimit < 0 {
		return fmt.Errorf("budget limits must be non-negative")
	}
	if b.CriticalThreshold > b.WarningThreshold {
		return fmt.Errorf("budget critical threshold %.2f above warning threshold %.2f",
			b.CriticalThreshold, b.WarningThreshold)
	}

	if c.Evaluator.DefaultThreshold < 0 || c.Evaluator.DefaultThreshold > 1 {
		return fmt.Errorf("evaluator threshold must be within [0,1]")
	}
	switch c.Evaluator.VisualMethod {
	case "ssim", "mse", "hybrid":
	default:
		return fmt.Errorf("invalid visual method: %s (valid: ssim, mse, hybrid)", c.Evaluator.VisualMethod)
	}

	if c.Execution.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be non-negative")
	}
	if c.Execution.MaxSteps <= 0 {
		return fmt.Errorf("max_steps must be positive")
	}
	switch c.Execution.Driver {
	case "simulated", "browser":
	default:
		return fmt.Errorf("invalid driver: %s (valid: simulated, browser)", c.Execution.Driver)
	}

	return nil
}

// TierByName finds a tier in the router table.
func (c *Config) TierByName(name string) (ModelTier, bool) {
	for _, t := range c.Router.Tiers {
		if t.Name == name {
			return t, true
		}
	}
	return ModelTier{}, false
}

package llm

import (
	"fmt"
	"os"
	"strings"

	"pcagent/internal/config"
)

// Provider identifies an LLM API family.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderGemini    Provider = "gemini"

	// ProviderLocal is any OpenAI-compatible endpoint reached by base URL,
	// which is how qwen2.5-vl and other self-hosted models are served.
	ProviderLocal Provider = "local"
)

const defaultLocalURL = "http://localhost:8000/v1"

// envKeys maps providers to their API key environment variables.
var envKeys = map[Provider]string{
	ProviderOpenAI:    "OPENAI_API_KEY",
	ProviderAnthropic: "ANTHROPIC_API_KEY",
	ProviderGemini:    "GEMINI_API_KEY",
}

// InferProvider guesses the provider family from a model identifier.
// Unrecognized models are treated as local OpenAI-compatible deployments.
func InferProvider(model string) Provider {
	name := strings.ToLower(model)
	switch {
	case strings.HasPrefix(name, "gpt"), strings.HasPrefix(name, "o1"), strings.HasPrefix(name, "o3"):
		return ProviderOpenAI
	case strings.HasPrefix(name, "claude"):
		return ProviderAnthropic
	case strings.HasPrefix(name, "gemini"):
		return ProviderGemini
	default:
		return ProviderLocal
	}
}

// ProviderConfig holds a resolved provider and its credentials.
type ProviderConfig struct {
	Provider Provider
	APIKey   string
	BaseURL  string
}

// DetectProvider walks the environment for a usable provider.
// Priority: OPENAI > ANTHROPIC > GEMINI > PCAGENT_LOCAL_URL.
func DetectProvider() (*ProviderConfig, error) {
	providers := []struct {
		envVar   string
		provider Provider
	}{
		{"OPENAI_API_KEY", ProviderOpenAI},
		{"ANTHROPIC_API_KEY", ProviderAnthropic},
		{"GEMINI_API_KEY", ProviderGemini},
	}

	for _, p := range providers {
		if key := os.Getenv(p.envVar); key != "" {
			return &ProviderConfig{Provider: p.provider, APIKey: key}, nil
		}
	}

	if url := os.Getenv("PCAGENT_LOCAL_URL"); url != "" {
		return &ProviderConfig{Provider: ProviderLocal, BaseURL: url}, nil
	}

	return nil, fmt.Errorf("no API key found; set one of: OPENAI_API_KEY, ANTHROPIC_API_KEY, GEMINI_API_KEY, PCAGENT_LOCAL_URL")
}

// NewClient builds a client for the given provider.
func NewClient(provider Provider, opts Options) (Client, error) {
	switch provider {
	case ProviderOpenAI:
		return NewOpenAIClient(opts), nil

	case ProviderAnthropic:
		return NewAnthropicClient(opts), nil

	case ProviderGemini:
		return NewGeminiClient(opts)

	case ProviderLocal:
		if opts.BaseURL == "" {
			opts.BaseURL = defaultLocalURL
		}
		return NewOpenAIClient(opts), nil

	default:
		return nil, fmt.Errorf("unknown provider: %s", provider)
	}
}

// resolve turns a tier entry plus global LLM config into a provider and
// client options, pulling credentials from the environment when the
// config carries none.
func resolve(tier config.ModelTier, cfg *config.Config) (Provider, Options, error) {
	provider := Provider(tier.Provider)
	if provider == "" {
		provider = InferProvider(tier.Model)
	}

	opts := Options{
		Model:      tier.Model,
		BaseURL:    tier.BaseURL,
		Timeout:    cfg.GetLLMTimeout(),
		MaxRetries: cfg.LLM.MaxRetries,
	}

	if provider == ProviderLocal {
		if opts.BaseURL == "" {
			opts.BaseURL = cfg.LLM.BaseURL
		}
		if opts.BaseURL == "" {
			opts.BaseURL = os.Getenv("PCAGENT_LOCAL_URL")
		}
		if opts.BaseURL == "" {
			opts.BaseURL = defaultLocalURL
		}
		opts.APIKey = cfg.LLM.APIKey
		return provider, opts, nil
	}

	opts.APIKey = apiKeyFor(provider, cfg)
	if opts.APIKey == "" {
		return provider, opts, fmt.Errorf("no API key for provider %s (model %s); set %s",
			provider, tier.Model, envKeys[provider])
	}

	return provider, opts, nil
}

// apiKeyFor prefers the provider's own env var over the shared config key.
func apiKeyFor(provider Provider, cfg *config.Config) string {
	if env := envKeys[provider]; env != "" {
		if key := os.Getenv(env); key != "" {
			return key
		}
	}
	if cfg.LLM.Provider == "" || Provider(cfg.LLM.Provider) == provider {
		return cfg.LLM.APIKey
	}
	return ""
}

// NewClientForTier builds a client for a routing tier, honoring the
// tier's explicit provider and base URL when present. The rule tier
// never reaches here; rule subtasks execute without a model.
func NewClientForTier(tier config.ModelTier, cfg *config.Config) (Client, error) {
	provider, opts, err := resolve(tier, cfg)
	if err != nil {
		return nil, err
	}
	return NewClient(provider, opts)
}

// NewAgentClient builds a client for one cognitive agent, applying the
// agent's temperature and token budget.
func NewAgentClient(agent config.AgentConfig, cfg *config.Config) (Client, error) {
	provider, opts, err := resolve(config.ModelTier{Model: agent.Model}, cfg)
	if err != nil {
		return nil, err
	}
	opts.Temperature = agent.Temperature
	opts.MaxTokens = agent.MaxTokens
	return NewClient(provider, opts)
}

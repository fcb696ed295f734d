package genai

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/anthropic"
	"github.com/firebase/genkit/go/plugins/compat_oai"
	"github.com/firebase/genkit/go/plugins/googlegenai"
)

// Config holds generation settings for the Generator.
type Config struct {
	// Provider is "google", "anthropic", "openai", "openai_compatible" or
	// "openrouter". Empty defaults to "google".
	Provider string

	// Model is the model name for the configured provider.
	Model string

	// APIKey overrides the provider's environment variable.
	APIKey string

	// FallbackReminder is the fixed daily reminder used when no LLM is
	// configured or generation fails.
	FallbackReminder string

	// Timeout bounds each generation call. Zero means 20s.
	Timeout time.Duration

	// OpenAICompatible config.
	OpenAICompatibleProvider string
	OpenAICompatibleBaseURL  string
}

// Generator produces reminder, escalation and reply-analysis text. When no
// API key is configured every method returns its deterministic fallback.
type Generator struct {
	g     *genkit.Genkit
	cfg   Config
	llmOn bool

	fallbackMu       sync.RWMutex
	fallbackReminder string
}

// New initializes Genkit with the configured LLM provider. Missing API
// keys are not an error: the generator runs in fallback mode.
func New(ctx context.Context, cfg Config) *Generator {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = "google"
	}
	cfg.Provider = provider

	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = defaultModelForProvider(provider)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}

	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		apiKey = envAPIKeyForProvider(provider)
	}

	var g *genkit.Genkit
	llmOn := false

	switch provider {
	case "anthropic":
		if apiKey != "" {
			g = genkit.Init(ctx, genkit.WithPlugins(&anthropic.Anthropic{
				APIKey:  apiKey,
				BaseURL: os.Getenv("ANTHROPIC_BASE_URL"),
			}))
			llmOn = true
		}

	case "openai":
		if apiKey != "" {
			g = genkit.Init(ctx, genkit.WithPlugins(&compat_oai.OpenAICompatible{
				Provider: "openai",
				APIKey:   apiKey,
				BaseURL:  os.Getenv("OPENAI_BASE_URL"),
			}))
			llmOn = true
		}

	case "openai_compatible":
		if apiKey != "" {
			g = genkit.Init(ctx, genkit.WithPlugins(&compat_oai.OpenAICompatible{
				Provider: cfg.OpenAICompatibleProvider,
				APIKey:   apiKey,
				BaseURL:  cfg.OpenAICompatibleBaseURL,
			}))
			llmOn = true
		}

	case "openrouter":
		if apiKey != "" {
			g = genkit.Init(ctx, genkit.WithPlugins(&compat_oai.OpenAICompatible{
				Provider: "openrouter",
				APIKey:   apiKey,
				BaseURL:  "https://openrouter.ai/api/v1",
			}))
			llmOn = true
		}

	case "google":
		if apiKey != "" {
			_ = os.Setenv("GEMINI_API_KEY", apiKey)
			g = genkit.Init(ctx,
				genkit.WithPlugins(&googlegenai.GoogleAI{}),
				genkit.WithDefaultModel("googleai/"+cfg.Model),
			)
			llmOn = true
		}

	default:
		slog.Warn("unknown LLM provider, using deterministic fallback", "provider", provider)
	}

	if g == nil {
		g = genkit.Init(ctx)
	}
	if llmOn {
		slog.Info("generator initialized", "provider", provider, "model", cfg.Model)
	} else {
		slog.Warn("LLM API key missing; using deterministic fallback messages", "provider", provider)
	}

	return &Generator{
		g:                g,
		cfg:              cfg,
		llmOn:            llmOn,
		fallbackReminder: cfg.FallbackReminder,
	}
}

// Enabled reports whether generation calls reach an LLM.
func (gen *Generator) Enabled() bool { return gen.llmOn }

// SetFallbackReminder updates the fixed daily reminder text. Safe to call
// from the config hot-reload watcher.
func (gen *Generator) SetFallbackReminder(text string) {
	gen.fallbackMu.Lock()
	defer gen.fallbackMu.Unlock()
	gen.fallbackReminder = text
}

// FallbackReminder returns the current fixed daily reminder text.
func (gen *Generator) FallbackReminder() string {
	gen.fallbackMu.RLock()
	defer gen.fallbackMu.RUnlock()
	if gen.fallbackReminder != "" {
		return gen.fallbackReminder
	}
	return defaultReminderText
}

func (gen *Generator) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, gen.cfg.Timeout)
}

func defaultModelForProvider(provider string) string {
	switch provider {
	case "anthropic":
		return "claude-sonnet-4-5"
	case "openai", "openai_compatible":
		return "gpt-4o-mini"
	case "openrouter":
		return "google/gemini-2.5-flash"
	default:
		return "gemini-2.5-flash"
	}
}

func envAPIKeyForProvider(provider string) string {
	switch provider {
	case "anthropic":
		return os.Getenv("ANTHROPIC_API_KEY")
	case "openai", "openai_compatible":
		return os.Getenv("OPENAI_API_KEY")
	case "openrouter":
		return os.Getenv("OPENROUTER_API_KEY")
	case "google":
		if k := os.Getenv("GOOGLE_API_KEY"); k != "" {
			return k
		}
		return os.Getenv("GEMINI_API_KEY")
	default:
		return ""
	}
}

func modelNameForProvider(provider, model string) string {
	switch provider {
	case "anthropic":
		return "anthropic/" + model
	case "openai":
		return "openai/" + model
	case "openai_compatible", "openrouter":
		return model
	default:
		return "googleai/" + model
	}
}

func (gen *Generator) modelName() string {
	return modelNameForProvider(gen.cfg.Provider, gen.cfg.Model)
}

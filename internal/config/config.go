package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ProviderConfig holds per-provider settings for multi-provider LLM support.
type ProviderConfig struct {
	APIKey  string   `yaml:"api_key"`
	BaseURL string   `yaml:"base_url"` // custom endpoint (e.g. OpenRouter)
	Models  []string `yaml:"models"`   // user-added models (merged with built-ins)
}

// LLMProviderConfig holds configuration for all LLM providers.
type LLMProviderConfig struct {
	// Provider names the active LLM provider: "google", "anthropic", "openai", "openai_compatible".
	Provider string `yaml:"provider"`

	// GoogleAI-specific config.
	GeminiModel string `yaml:"gemini_model"`

	// Anthropic-specific config.
	AnthropicModel string `yaml:"anthropic_model"`

	// OpenAI-specific config.
	OpenAIModel string `yaml:"openai_model"`

	// OpenAICompatible config.
	OpenAICompatibleProvider string `yaml:"openai_compatible_provider"` // provider name for model prefix
	OpenAICompatibleBaseURL  string `yaml:"openai_compatible_base_url"` // e.g. https://api.openai.com/v1
}

// GreenAPIConfig holds credentials for the Green API WhatsApp gateway.
type GreenAPIConfig struct {
	InstanceID string `yaml:"instance_id"`
	Token      string `yaml:"token"`
	BaseURL    string `yaml:"base_url"` // default https://api.green-api.com
	Enabled    bool   `yaml:"enabled"`
}

// TelegramConfig holds credentials for the Telegram gateway.
type TelegramConfig struct {
	Token      string  `yaml:"token"`
	AllowedIDs []int64 `yaml:"allowed_ids"`
	Enabled    bool    `yaml:"enabled"`
}

// GatewaysConfig groups the outbound messaging gateways.
type GatewaysConfig struct {
	GreenAPI GreenAPIConfig `yaml:"green_api"`
	Telegram TelegramConfig `yaml:"telegram"`
}

// EscalationConfig tunes the escalation ladder. Zero values fall back to
// the defaults: 4 levels, 30 minutes apart, 2 hour cutoff.
type EscalationConfig struct {
	MaxLevel       int `yaml:"max_level"`
	SpacingMinutes int `yaml:"spacing_minutes"`
	CutoffMinutes  int `yaml:"cutoff_minutes"`
}

// TelemetryConfig controls OpenTelemetry trace and metric export.
type TelemetryConfig struct {
	Enabled        bool    `yaml:"enabled"`
	Exporter       string  `yaml:"exporter"`
	Endpoint       string  `yaml:"endpoint"`
	ServiceName    string  `yaml:"service_name"`
	SampleRate     float64 `yaml:"sample_rate"`
	MetricsEnabled *bool   `yaml:"metrics_enabled,omitempty"`
}

// SchedulerConfig tunes the background loop intervals.
type SchedulerConfig struct {
	DispatchIntervalSeconds   int `yaml:"dispatch_interval_seconds"`
	EscalationIntervalSeconds int `yaml:"escalation_interval_seconds"`
	PollIntervalSeconds       int `yaml:"poll_interval_seconds"`
}

type Config struct {
	HomeDir string `yaml:"-"`

	BindAddr   string `yaml:"bind_addr"`
	LogLevel   string `yaml:"log_level"`
	AdminToken string `yaml:"admin_token"`

	// Timezone is the IANA zone used for day boundaries and slot matching.
	Timezone string `yaml:"timezone"`

	// DefaultSlot is the reminder time assigned to recipients created
	// without an explicit one.
	DefaultSlot string `yaml:"default_slot"`

	// FallbackReminder replaces the generated reminder text when the LLM
	// is unavailable. Empty uses the built-in default.
	FallbackReminder string `yaml:"fallback_reminder"`

	LLM LLMProviderConfig `yaml:"llm"`

	// Providers holds per-provider configuration (API keys, custom endpoints, extra models).
	Providers map[string]ProviderConfig `yaml:"providers"`

	Gateways   GatewaysConfig   `yaml:"gateways"`
	Escalation EscalationConfig `yaml:"escalation"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`

	NeedsGenesis bool `yaml:"-"`
}

// LLMProviderAPIKey returns the API key for the specified LLM provider.
// Env vars take precedence: ANTHROPIC_API_KEY, OPENAI_API_KEY, GOOGLE_API_KEY.
func (c Config) LLMProviderAPIKey(provider string) string {
	envMap := map[string]string{
		"google":     "GOOGLE_API_KEY",
		"anthropic":  "ANTHROPIC_API_KEY",
		"openai":     "OPENAI_API_KEY",
		"openrouter": "OPENROUTER_API_KEY",
	}
	if envVar, ok := envMap[provider]; ok {
		if v := os.Getenv(envVar); v != "" {
			return v
		}
	}
	if c.Providers != nil {
		if p, ok := c.Providers[provider]; ok && p.APIKey != "" {
			return p.APIKey
		}
	}
	return ""
}

// ResolveLLMConfig returns the effective LLM configuration.
func (c Config) ResolveLLMConfig() (provider, model, apiKey string) {
	provider = c.LLM.Provider
	if provider == "" {
		provider = "google"
	}
	// Normalize legacy provider name.
	if provider == "gemini" {
		provider = "google"
	}

	switch provider {
	case "anthropic":
		model = c.LLM.AnthropicModel
	case "openai", "openai_compatible", "openrouter":
		model = c.LLM.OpenAIModel
	case "google":
		model = c.LLM.GeminiModel
		if model == "" {
			model = "gemini-2.5-flash"
		}
	}

	apiKey = c.LLMProviderAPIKey(provider)
	return provider, model, apiKey
}

// Location resolves the configured timezone. Falls back to UTC when the
// zone name is unknown.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// EscalationSpacing returns the interval between escalation levels.
func (c Config) EscalationSpacing() time.Duration {
	return time.Duration(c.Escalation.SpacingMinutes) * time.Minute
}

// EscalationCutoff returns the absolute age after which escalation stops.
func (c Config) EscalationCutoff() time.Duration {
	return time.Duration(c.Escalation.CutoffMinutes) * time.Minute
}

// ConfigPath returns the path to config.yaml within the given home directory.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

// loadRawConfig reads config.yaml into a generic map, returning an empty map if the file doesn't exist.
func loadRawConfig(path string) (map[string]interface{}, error) {
	raw := make(map[string]interface{})
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config.yaml: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse config.yaml: %w", err)
		}
	}
	return raw, nil
}

// saveRawConfig marshals and writes a generic map back to config.yaml.
func saveRawConfig(path string, raw map[string]interface{}) error {
	out, err := yaml.Marshal(raw)
	if err != nil {
		return fmt.Errorf("marshal config.yaml: %w", err)
	}
	return os.WriteFile(path, out, 0o644)
}

// SetModel updates the LLM provider and model in config.yaml, preserving other settings.
func SetModel(homeDir, provider, model string) error {
	configPath := ConfigPath(homeDir)
	raw, err := loadRawConfig(configPath)
	if err != nil {
		return err
	}
	llm, _ := raw["llm"].(map[string]interface{})
	if llm == nil {
		llm = make(map[string]interface{})
	}
	llm["provider"] = provider
	switch provider {
	case "anthropic":
		llm["anthropic_model"] = model
	case "openai", "openai_compatible", "openrouter":
		llm["openai_model"] = model
	default:
		llm["gemini_model"] = model
	}
	raw["llm"] = llm
	return saveRawConfig(configPath, raw)
}

// Fingerprint returns a stable hash of the active config, used to detect
// whether a reload actually changed anything.
func (c Config) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "bind=%s|log=%s|tz=%s|slot=%s|esc=%d/%d/%d|green=%t|tg=%t",
		c.BindAddr, c.LogLevel, c.Timezone, c.DefaultSlot,
		c.Escalation.MaxLevel, c.Escalation.SpacingMinutes, c.Escalation.CutoffMinutes,
		c.Gateways.GreenAPI.Enabled, c.Gateways.Telegram.Enabled)
	return fmt.Sprintf("cfg-%x", h.Sum64())
}

func defaultConfig() Config {
	return Config{
		BindAddr:    "127.0.0.1:18990",
		LogLevel:    "info",
		Timezone:    "Asia/Jerusalem",
		DefaultSlot: "08:00",
		Gateways: GatewaysConfig{
			GreenAPI: GreenAPIConfig{BaseURL: "https://api.green-api.com"},
		},
		Escalation: EscalationConfig{
			MaxLevel:       4,
			SpacingMinutes: 30,
			CutoffMinutes:  120,
		},
		Scheduler: SchedulerConfig{
			DispatchIntervalSeconds:   60,
			EscalationIntervalSeconds: 60,
			PollIntervalSeconds:       5,
		},
	}
}

func HomeDir() string {
	if override := os.Getenv("NUDGE_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".nudge")
}

func Load() (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = HomeDir()

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create nudge home: %w", err)
	}

	configPath := filepath.Join(cfg.HomeDir, "config.yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.NeedsGenesis = true
		} else {
			return cfg, fmt.Errorf("read config.yaml: %w", err)
		}
	} else if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	if err := validate(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

var slotPattern = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

// ValidSlot reports whether s is a well-formed HH:MM slot.
func ValidSlot(s string) bool {
	return slotPattern.MatchString(s)
}

func normalize(cfg *Config) {
	if cfg.BindAddr == "" {
		cfg.BindAddr = "127.0.0.1:18990"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "Asia/Jerusalem"
	}
	if cfg.DefaultSlot == "" {
		cfg.DefaultSlot = "08:00"
	}
	if cfg.Gateways.GreenAPI.BaseURL == "" {
		cfg.Gateways.GreenAPI.BaseURL = "https://api.green-api.com"
	}
	if cfg.Escalation.MaxLevel <= 0 {
		cfg.Escalation.MaxLevel = 4
	}
	if cfg.Escalation.SpacingMinutes <= 0 {
		cfg.Escalation.SpacingMinutes = 30
	}
	if cfg.Escalation.CutoffMinutes <= 0 {
		cfg.Escalation.CutoffMinutes = 120
	}
	if cfg.Scheduler.DispatchIntervalSeconds <= 0 {
		cfg.Scheduler.DispatchIntervalSeconds = 60
	}
	if cfg.Scheduler.EscalationIntervalSeconds <= 0 {
		cfg.Scheduler.EscalationIntervalSeconds = 60
	}
	if cfg.Scheduler.PollIntervalSeconds <= 0 {
		cfg.Scheduler.PollIntervalSeconds = 5
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "nudged"
	}
	if cfg.Telemetry.SampleRate <= 0 {
		cfg.Telemetry.SampleRate = 1.0
	}
}

func validate(cfg *Config) error {
	if !ValidSlot(cfg.DefaultSlot) {
		return fmt.Errorf("default_slot %q is not HH:MM", cfg.DefaultSlot)
	}
	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return fmt.Errorf("timezone %q: %w", cfg.Timezone, err)
	}
	// The cutoff must leave room for at least one escalation, otherwise
	// every reminder gives up before level 1.
	if cfg.Escalation.CutoffMinutes < cfg.Escalation.SpacingMinutes {
		return fmt.Errorf("escalation cutoff_minutes (%d) must be >= spacing_minutes (%d)",
			cfg.Escalation.CutoffMinutes, cfg.Escalation.SpacingMinutes)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("NUDGE_BIND_ADDR"); raw != "" {
		cfg.BindAddr = raw
	}
	if raw := os.Getenv("NUDGE_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("NUDGE_ADMIN_TOKEN"); raw != "" {
		cfg.AdminToken = raw
	}
	if raw := os.Getenv("NUDGE_TIMEZONE"); raw != "" {
		cfg.Timezone = raw
	}
	if raw := os.Getenv("NUDGE_DEFAULT_SLOT"); raw != "" {
		cfg.DefaultSlot = raw
	}
	if raw := os.Getenv("NUDGE_ESCALATION_MAX_LEVEL"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.Escalation.MaxLevel = v
		}
	}
	if raw := os.Getenv("NUDGE_ESCALATION_SPACING_MINUTES"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.Escalation.SpacingMinutes = v
		}
	}
	if raw := os.Getenv("NUDGE_ESCALATION_CUTOFF_MINUTES"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.Escalation.CutoffMinutes = v
		}
	}
	if raw := os.Getenv("GREEN_API_INSTANCE_ID"); raw != "" {
		cfg.Gateways.GreenAPI.InstanceID = raw
		cfg.Gateways.GreenAPI.Enabled = true
	}
	if raw := os.Getenv("GREEN_API_TOKEN"); raw != "" {
		cfg.Gateways.GreenAPI.Token = raw
	}
	if raw := os.Getenv("GREEN_API_BASE_URL"); raw != "" {
		cfg.Gateways.GreenAPI.BaseURL = raw
	}
	if raw := os.Getenv("TELEGRAM_TOKEN"); raw != "" {
		cfg.Gateways.Telegram.Token = raw
		cfg.Gateways.Telegram.Enabled = true
	}
}

// trimQuotes strips a single layer of matching quotes from a .env value.
func trimQuotes(v string) string {
	if len(v) >= 2 {
		if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
			return v[1 : len(v)-1]
		}
	}
	return v
}

// LoadDotEnv reads KEY=VALUE lines from <homeDir>/.env into the process
// environment. Existing variables win. Missing file is not an error.
func LoadDotEnv(homeDir string) error {
	data, err := os.ReadFile(filepath.Join(homeDir, ".env"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = trimQuotes(strings.TrimSpace(value))
		if key == "" || os.Getenv(key) != "" {
			continue
		}
		_ = os.Setenv(key, value)
	}
	return nil
}

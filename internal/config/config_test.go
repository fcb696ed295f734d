package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/basket/nudge/internal/config"
)

func TestLoad_FromNudgeHome(t *testing.T) {
	home := filepath.Join(t.TempDir(), "home")
	ic := filepath.Join(home, ".nudge")
	if err := os.MkdirAll(ic, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(ic, "config.yaml"), []byte("default_slot: \"09:30\"\ntimezone: UTC\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("HOME", home)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.DefaultSlot != "09:30" {
		t.Fatalf("expected default_slot=09:30 got %q", cfg.DefaultSlot)
	}
	if cfg.Timezone != "UTC" {
		t.Fatalf("expected timezone=UTC got %q", cfg.Timezone)
	}
}

func TestLoad_NeedsGenesisWhenNoConfig(t *testing.T) {
	home := filepath.Join(t.TempDir(), "home")
	t.Setenv("HOME", home)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if !cfg.NeedsGenesis {
		t.Fatalf("expected NeedsGenesis=true when config.yaml missing")
	}
}

func TestLoad_DefaultsApplied(t *testing.T) {
	home := filepath.Join(t.TempDir(), "home")
	ic := filepath.Join(home, ".nudge")
	if err := os.MkdirAll(ic, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(ic, "config.yaml"), []byte("{}\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("HOME", home)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.BindAddr != "127.0.0.1:18990" {
		t.Fatalf("expected default bind_addr=127.0.0.1:18990, got %q", cfg.BindAddr)
	}
	if cfg.Timezone != "Asia/Jerusalem" {
		t.Fatalf("expected default timezone=Asia/Jerusalem, got %q", cfg.Timezone)
	}
	if cfg.Escalation.MaxLevel != 4 {
		t.Fatalf("expected default max_level=4, got %d", cfg.Escalation.MaxLevel)
	}
	if cfg.Escalation.SpacingMinutes != 30 {
		t.Fatalf("expected default spacing_minutes=30, got %d", cfg.Escalation.SpacingMinutes)
	}
	if cfg.Escalation.CutoffMinutes != 120 {
		t.Fatalf("expected default cutoff_minutes=120, got %d", cfg.Escalation.CutoffMinutes)
	}
	if cfg.Scheduler.PollIntervalSeconds != 5 {
		t.Fatalf("expected default poll_interval_seconds=5, got %d", cfg.Scheduler.PollIntervalSeconds)
	}
}

func TestLoad_EnvOverridesConfig(t *testing.T) {
	home := filepath.Join(t.TempDir(), "home")
	ic := filepath.Join(home, ".nudge")
	if err := os.MkdirAll(ic, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(ic, "config.yaml"), []byte("default_slot: \"08:00\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("HOME", home)
	t.Setenv("NUDGE_DEFAULT_SLOT", "21:15")
	t.Setenv("NUDGE_ESCALATION_SPACING_MINUTES", "10")
	t.Setenv("NUDGE_ESCALATION_CUTOFF_MINUTES", "40")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.DefaultSlot != "21:15" {
		t.Fatalf("expected env override default_slot=21:15 got %q", cfg.DefaultSlot)
	}
	if cfg.Escalation.SpacingMinutes != 10 {
		t.Fatalf("expected env override spacing=10 got %d", cfg.Escalation.SpacingMinutes)
	}
}

func TestLoad_GreenAPIEnvEnablesGateway(t *testing.T) {
	home := filepath.Join(t.TempDir(), "home")
	t.Setenv("HOME", home)
	t.Setenv("GREEN_API_INSTANCE_ID", "1101000001")
	t.Setenv("GREEN_API_TOKEN", "abcdef0123456789abcdef0123456789")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if !cfg.Gateways.GreenAPI.Enabled {
		t.Fatal("expected green api gateway enabled from env")
	}
	if cfg.Gateways.GreenAPI.InstanceID != "1101000001" {
		t.Fatalf("unexpected instance id %q", cfg.Gateways.GreenAPI.InstanceID)
	}
}

func TestLoad_InvalidDefaultSlot(t *testing.T) {
	home := filepath.Join(t.TempDir(), "home")
	ic := filepath.Join(home, ".nudge")
	if err := os.MkdirAll(ic, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(ic, "config.yaml"), []byte("default_slot: \"25:00\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("HOME", home)

	if _, err := config.Load(); err == nil {
		t.Fatal("expected error for default_slot=25:00")
	}
}

func TestLoad_CutoffBelowSpacingRejected(t *testing.T) {
	home := filepath.Join(t.TempDir(), "home")
	ic := filepath.Join(home, ".nudge")
	if err := os.MkdirAll(ic, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	yamlContent := "escalation:\n  spacing_minutes: 30\n  cutoff_minutes: 10\n"
	if err := os.WriteFile(filepath.Join(ic, "config.yaml"), []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("HOME", home)

	if _, err := config.Load(); err == nil {
		t.Fatal("expected error when cutoff < spacing")
	}
}

func TestValidSlot(t *testing.T) {
	valid := []string{"00:00", "08:00", "23:59", "12:30"}
	invalid := []string{"24:00", "8:00", "08:60", "0800", "", "ab:cd", "08:00:00"}
	for _, s := range valid {
		if !config.ValidSlot(s) {
			t.Errorf("ValidSlot(%q) = false, want true", s)
		}
	}
	for _, s := range invalid {
		if config.ValidSlot(s) {
			t.Errorf("ValidSlot(%q) = true, want false", s)
		}
	}
}

func TestLLMProviderAPIKey_EnvOverridesYAML(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	cfg := config.Config{
		Providers: map[string]config.ProviderConfig{
			"anthropic": {APIKey: "yaml-key"},
		},
	}
	if got := cfg.LLMProviderAPIKey("anthropic"); got != "yaml-key" {
		t.Fatalf("expected yaml-key, got %q", got)
	}
	t.Setenv("ANTHROPIC_API_KEY", "env-key")
	if got := cfg.LLMProviderAPIKey("anthropic"); got != "env-key" {
		t.Fatalf("expected env-key, got %q", got)
	}
}

func TestResolveLLMConfig_DefaultsToGoogle(t *testing.T) {
	cfg := config.Config{}
	provider, model, _ := cfg.ResolveLLMConfig()
	if provider != "google" {
		t.Fatalf("provider = %q, want google", provider)
	}
	if model != "gemini-2.5-flash" {
		t.Fatalf("model = %q, want gemini-2.5-flash", model)
	}
}

func TestResolveLLMConfig_Anthropic(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "ant-resolve-key")
	cfg := config.Config{}
	cfg.LLM.Provider = "anthropic"
	cfg.LLM.AnthropicModel = "claude-haiku-4-5"
	provider, model, apiKey := cfg.ResolveLLMConfig()
	if provider != "anthropic" {
		t.Fatalf("provider = %q, want anthropic", provider)
	}
	if model != "claude-haiku-4-5" {
		t.Fatalf("model = %q, want claude-haiku-4-5", model)
	}
	if apiKey != "ant-resolve-key" {
		t.Fatalf("apiKey = %q, want ant-resolve-key", apiKey)
	}
}

func TestLoadDotEnv(t *testing.T) {
	homeDir := t.TempDir()
	envContent := "# comment\nGREEN_API_INSTANCE_ID=1101000002\nGREEN_API_TOKEN=\"quoted-token\"\n\nNUDGE_LOG_LEVEL=debug\n"
	if err := os.WriteFile(filepath.Join(homeDir, ".env"), []byte(envContent), 0o644); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Setenv("GREEN_API_INSTANCE_ID", "")
	t.Setenv("GREEN_API_TOKEN", "")
	t.Setenv("NUDGE_LOG_LEVEL", "")

	if err := config.LoadDotEnv(homeDir); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("GREEN_API_INSTANCE_ID"); got != "1101000002" {
		t.Fatalf("GREEN_API_INSTANCE_ID = %q", got)
	}
	if got := os.Getenv("GREEN_API_TOKEN"); got != "quoted-token" {
		t.Fatalf("GREEN_API_TOKEN = %q (quotes should be stripped)", got)
	}
	if got := os.Getenv("NUDGE_LOG_LEVEL"); got != "debug" {
		t.Fatalf("NUDGE_LOG_LEVEL = %q", got)
	}
}

func TestLoadDotEnv_ExistingEnvWins(t *testing.T) {
	homeDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(homeDir, ".env"), []byte("NUDGE_LOG_LEVEL=debug\n"), 0o644); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Setenv("NUDGE_LOG_LEVEL", "warn")

	if err := config.LoadDotEnv(homeDir); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("NUDGE_LOG_LEVEL"); got != "warn" {
		t.Fatalf("expected existing env to win, got %q", got)
	}
}

func TestLoadDotEnv_MissingFile(t *testing.T) {
	if err := config.LoadDotEnv(t.TempDir()); err != nil {
		t.Fatalf("expected nil for missing .env, got %v", err)
	}
}

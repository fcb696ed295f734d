package config

// providerModels lists the generation models usable per provider.
var providerModels = map[string][]string{
	"google":     {"gemini-2.5-pro", "gemini-2.5-flash"},
	"anthropic":  {"claude-sonnet-4-5", "claude-haiku-4-5"},
	"openai":     {"gpt-4o", "gpt-4o-mini"},
	"openrouter": {"openrouter/auto"},
}

// AvailableModels returns the models reachable with the keys currently
// configured, checking both env vars and the providers section.
func (c Config) AvailableModels() []string {
	var models []string
	for _, provider := range []string{"google", "anthropic", "openai", "openrouter"} {
		if c.LLMProviderAPIKey(provider) != "" {
			models = append(models, providerModels[provider]...)
		}
	}
	if len(models) == 0 {
		return []string{"fallback-only"}
	}
	return models
}

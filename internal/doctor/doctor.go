// Package doctor runs offline diagnostic checks for the nudged daemon.
package doctor

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/basket/nudge/internal/config"
	"github.com/basket/nudge/internal/persistence"
)

type CheckResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "PASS", "FAIL", "WARN", "SKIP"
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

type Diagnosis struct {
	Timestamp time.Time     `json:"timestamp"`
	System    SystemInfo    `json:"system"`
	Results   []CheckResult `json:"results"`
}

type SystemInfo struct {
	OS      string `json:"os"`
	Arch    string `json:"arch"`
	Go      string `json:"go_version"`
	Version string `json:"version"`
}

// Run executes all diagnostic checks.
func Run(ctx context.Context, cfg *config.Config, version string) Diagnosis {
	d := Diagnosis{
		Timestamp: time.Now().UTC(),
		System: SystemInfo{
			OS:      runtime.GOOS,
			Arch:    runtime.GOARCH,
			Go:      runtime.Version(),
			Version: version,
		},
	}

	checks := []func(context.Context, *config.Config) CheckResult{
		checkConfig,
		checkTimezone,
		checkAPIKey,
		checkDatabase,
		checkPermissions,
		checkGateway,
		checkNetwork,
	}

	for _, check := range checks {
		d.Results = append(d.Results, check(ctx, cfg))
	}

	return d
}

// Failed reports whether any check failed outright.
func (d Diagnosis) Failed() bool {
	for _, r := range d.Results {
		if r.Status == "FAIL" {
			return true
		}
	}
	return false
}

func checkConfig(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Config", Status: "FAIL", Message: "Configuration not loaded"}
	}
	if cfg.NeedsGenesis {
		return CheckResult{Name: "Config", Status: "WARN", Message: "config.yaml missing; running on defaults"}
	}
	return CheckResult{Name: "Config", Status: "PASS", Message: fmt.Sprintf("Loaded from %s", cfg.HomeDir)}
}

func checkTimezone(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Timezone", Status: "SKIP", Message: "Config missing"}
	}
	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return CheckResult{
			Name:    "Timezone",
			Status:  "FAIL",
			Message: fmt.Sprintf("Unknown zone %q; day boundaries would fall back to UTC", cfg.Timezone),
		}
	}
	return CheckResult{Name: "Timezone", Status: "PASS", Message: fmt.Sprintf("Using %s", cfg.Timezone)}
}

func checkAPIKey(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "LLM Key", Status: "SKIP", Message: "Config missing"}
	}

	provider, _, apiKey := cfg.ResolveLLMConfig()
	if apiKey != "" {
		return CheckResult{
			Name:    "LLM Key",
			Status:  "PASS",
			Message: fmt.Sprintf("Key configured for %s", provider),
			Detail:  fmt.Sprintf("Models: %s", strings.Join(cfg.AvailableModels(), ", ")),
		}
	}
	return CheckResult{
		Name:    "LLM Key",
		Status:  "WARN",
		Message: fmt.Sprintf("No key for %s provider; fixed fallback texts will be used", provider),
		Detail:  "Reminders still go out, but without generated wording or AI reply analysis",
	}
}

func checkDatabase(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Database", Status: "SKIP", Message: "Config missing"}
	}
	store, err := persistence.Open(filepath.Join(cfg.HomeDir, "nudge.db"), nil)
	if err != nil {
		return CheckResult{Name: "Database", Status: "FAIL", Message: fmt.Sprintf("Open failed: %v", err)}
	}
	defer store.Close()

	recipients, err := store.ListRecipients(ctx, true)
	if err != nil {
		return CheckResult{Name: "Database", Status: "FAIL", Message: fmt.Sprintf("Query failed: %v", err)}
	}
	return CheckResult{
		Name:    "Database",
		Status:  "PASS",
		Message: fmt.Sprintf("Schema valid, %d active recipients", len(recipients)),
	}
}

func checkPermissions(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Permissions", Status: "SKIP", Message: "Config missing"}
	}

	testFile := filepath.Join(cfg.HomeDir, ".write_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return CheckResult{Name: "Permissions", Status: "FAIL", Message: fmt.Sprintf("Home dir unwritable: %v", err)}
	}
	os.Remove(testFile)

	return CheckResult{Name: "Permissions", Status: "PASS", Message: "Home directory writable"}
}

func checkGateway(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Gateway", Status: "SKIP", Message: "Config missing"}
	}
	switch {
	case cfg.Gateways.Telegram.Enabled:
		if strings.TrimSpace(cfg.Gateways.Telegram.Token) == "" {
			return CheckResult{Name: "Gateway", Status: "FAIL", Message: "Telegram enabled but token is empty"}
		}
		return CheckResult{Name: "Gateway", Status: "PASS", Message: "Telegram configured"}
	case cfg.Gateways.GreenAPI.Enabled:
		if cfg.Gateways.GreenAPI.InstanceID == "" || cfg.Gateways.GreenAPI.Token == "" {
			return CheckResult{Name: "Gateway", Status: "FAIL", Message: "Green API enabled but credentials incomplete"}
		}
		return CheckResult{Name: "Gateway", Status: "PASS", Message: "Green API configured"}
	default:
		return CheckResult{
			Name:    "Gateway",
			Status:  "FAIL",
			Message: "No messaging gateway configured",
			Detail:  "Set GREEN_API_INSTANCE_ID/GREEN_API_TOKEN or TELEGRAM_TOKEN",
		}
	}
}

func checkNetwork(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Network", Status: "SKIP", Message: "Config missing"}
	}

	host := "api.telegram.org"
	if !cfg.Gateways.Telegram.Enabled {
		host = "api.green-api.com"
		if u, err := url.Parse(cfg.Gateways.GreenAPI.BaseURL); err == nil && u.Host != "" {
			host = u.Hostname()
		}
	}

	lookupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	start := time.Now()
	addrs, err := net.DefaultResolver.LookupHost(lookupCtx, host)
	latency := time.Since(start)

	if err != nil {
		return CheckResult{
			Name:    "Network",
			Status:  "FAIL",
			Message: fmt.Sprintf("DNS lookup failed for %s: %v", host, err),
			Detail:  fmt.Sprintf("latency=%dms", latency.Milliseconds()),
		}
	}

	return CheckResult{
		Name:    "Network",
		Status:  "PASS",
		Message: fmt.Sprintf("DNS resolved %s (%d addresses, %dms)", host, len(addrs), latency.Milliseconds()),
	}
}

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/basket/nudge/internal/api"
	"github.com/basket/nudge/internal/audit"
	"github.com/basket/nudge/internal/bus"
	"github.com/basket/nudge/internal/config"
	"github.com/basket/nudge/internal/cron"
	"github.com/basket/nudge/internal/gateway"
	"github.com/basket/nudge/internal/genai"
	otelPkg "github.com/basket/nudge/internal/otel"
	"github.com/basket/nudge/internal/persistence"
	"github.com/basket/nudge/internal/reminder"
	"github.com/basket/nudge/internal/telemetry"
	"github.com/mattn/go-isatty"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.2-dev"

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage of %s:

DAEMON MODE (default):
  %s                          Start the reminder daemon
  %s -daemon                  Same, but never prints the startup banner

SUBCOMMANDS:
  %s status                   Show daemon health (/healthz)
  %s doctor [-json]           Run diagnostic checks
  %s help                     Show this help

FLAGS:
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0])
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
ENVIRONMENT VARIABLES:
  NUDGE_HOME              Data directory (default: ~/.nudge)
  NUDGE_BIND_ADDR         Admin API bind address
  NUDGE_ADMIN_TOKEN       Admin API bearer token
  GREEN_API_INSTANCE_ID   Green API instance (enables the WhatsApp gateway)
  GREEN_API_TOKEN         Green API token
  TELEGRAM_TOKEN          Telegram bot token (enables the Telegram gateway)
  GOOGLE_API_KEY          Gemini key for generated reminder text
`)
}

func main() {
	_ = config.LoadDotEnv(config.HomeDir())

	daemon := flag.Bool("daemon", false, "run without the interactive startup banner")
	flag.Usage = printUsage
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if args := flag.Args(); len(args) > 0 {
		switch strings.ToLower(strings.TrimSpace(args[0])) {
		case "help", "-h", "--help":
			printUsage()
			os.Exit(0)
		case "status":
			os.Exit(runStatusCommand(ctx, args[1:]))
		case "doctor":
			os.Exit(runDoctorCommand(ctx, args[1:]))
		default:
			fmt.Fprintf(os.Stderr, "unknown subcommand %q\n", args[0])
			printUsage()
			os.Exit(2)
		}
	}

	interactive := !*daemon && isatty.IsTerminal(os.Stdout.Fd())

	cfg, err := config.Load()
	if err != nil {
		fatalStartup(nil, "E_CONFIG_LOAD", err)
	}

	// Audit comes up before the logger so logger failures are audited.
	if err := audit.Init(cfg.HomeDir); err != nil {
		fatalStartup(nil, "E_AUDIT_INIT", err)
	}
	defer func() { _ = audit.Close() }()

	logger, logLevel, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, false)
	if err != nil {
		fatalStartup(nil, "E_LOGGER_INIT", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)
	logger.Info("startup phase", "phase", "config_loaded", "version", Version)

	eventBus := bus.New()

	otelProvider, err := otelPkg.Init(ctx, otelPkg.Config{
		Enabled:        cfg.Telemetry.Enabled,
		Exporter:       cfg.Telemetry.Exporter,
		Endpoint:       cfg.Telemetry.Endpoint,
		ServiceName:    cfg.Telemetry.ServiceName,
		SampleRate:     cfg.Telemetry.SampleRate,
		MetricsEnabled: cfg.Telemetry.MetricsEnabled,
	})
	if err != nil {
		fatalStartup(logger, "E_OTEL_INIT", err)
	}
	defer otelProvider.Shutdown(context.Background())
	metrics, err := otelPkg.NewMetrics(otelProvider.Meter)
	if err != nil {
		fatalStartup(logger, "E_OTEL_INIT", err)
	}

	store, err := persistence.Open(filepath.Join(cfg.HomeDir, "nudge.db"), eventBus)
	if err != nil {
		fatalStartup(logger, "E_STORE_OPEN", err)
	}
	defer store.Close()
	audit.SetDB(store.DB())
	logger.Info("startup phase", "phase", "schema_migrated")

	llmProvider, llmModel, llmAPIKey := cfg.ResolveLLMConfig()
	generator := genai.New(ctx, genai.Config{
		Provider:                 llmProvider,
		Model:                    llmModel,
		APIKey:                   llmAPIKey,
		FallbackReminder:         cfg.FallbackReminder,
		OpenAICompatibleProvider: cfg.LLM.OpenAICompatibleProvider,
		OpenAICompatibleBaseURL:  cfg.LLM.OpenAICompatibleBaseURL,
	})
	logger.Info("startup phase", "phase", "generator_ready",
		"provider", llmProvider, "llm_on", generator.Enabled())

	// The inbound handler is bound after the service exists; gateways only
	// call it once their receive loops start.
	var svc *reminder.Service
	handler := func(ctx context.Context, from, text string) (string, error) {
		return svc.HandleInbound(ctx, from, text)
	}

	var gw gateway.Gateway
	var startGateway func()
	switch {
	case cfg.Gateways.Telegram.Enabled:
		tg := gateway.NewTelegram(cfg.Gateways.Telegram.Token, cfg.Gateways.Telegram.AllowedIDs,
			handler, eventBus, store, logger)
		gw = tg
		startGateway = func() {
			go func() {
				if err := tg.Start(ctx); err != nil && ctx.Err() == nil {
					logger.Error("telegram gateway stopped", "error", err)
					stop()
				}
			}()
		}
	case cfg.Gateways.GreenAPI.Enabled:
		client, err := gateway.NewGreenAPI(cfg.Gateways.GreenAPI.BaseURL,
			cfg.Gateways.GreenAPI.InstanceID, cfg.Gateways.GreenAPI.Token, logger)
		if err != nil {
			fatalStartup(logger, "E_GATEWAY_INIT", err)
		}
		gw = client
		poller := gateway.NewPoller(client, handler, eventBus, logger,
			time.Duration(cfg.Scheduler.PollIntervalSeconds)*time.Second)
		startGateway = func() { go poller.Run(ctx) }
	default:
		fatalStartup(logger, "E_GATEWAY_INIT",
			fmt.Errorf("no gateway configured: set GREEN_API_INSTANCE_ID/GREEN_API_TOKEN or TELEGRAM_TOKEN"))
	}

	svc = reminder.New(reminder.Config{
		Store:     store,
		Gateway:   gw,
		Generator: generator,
		Bus:       eventBus,
		Metrics:   metrics,
		Logger:    logger,
		Policy: reminder.EscalationPolicy{
			MaxLevel: cfg.Escalation.MaxLevel,
			Spacing:  cfg.EscalationSpacing(),
			Cutoff:   cfg.EscalationCutoff(),
		},
		Location: cfg.Location(),
	})
	logger.Info("startup phase", "phase", "service_ready", "gateway", gw.Name())

	startGateway()

	dispatchTicker := cron.NewTicker("dispatch",
		time.Duration(cfg.Scheduler.DispatchIntervalSeconds)*time.Second,
		func(ctx context.Context, now time.Time) {
			report, err := svc.DispatchDueSlots(ctx, now)
			if err != nil {
				logger.Error("dispatch tick failed", "error", err)
				return
			}
			if report.Sent > 0 || report.Failed > 0 {
				logger.Info("dispatch tick",
					"created", report.Created, "sent", report.Sent,
					"skipped", report.Skipped, "failed", report.Failed)
			}
		}, logger)
	dispatchTicker.Start(ctx)
	defer dispatchTicker.Stop()

	escalationTicker := cron.NewTicker("escalation",
		time.Duration(cfg.Scheduler.EscalationIntervalSeconds)*time.Second,
		func(ctx context.Context, now time.Time) {
			report, err := svc.CheckEscalations(ctx, now)
			if err != nil {
				logger.Error("escalation tick failed", "error", err)
				return
			}
			if report.Sent > 0 || report.Stopped > 0 || report.Failed > 0 {
				logger.Info("escalation tick",
					"checked", report.Checked, "sent", report.Sent,
					"stopped", report.Stopped, "failed", report.Failed)
			}
		}, logger)
	escalationTicker.Start(ctx)
	defer escalationTicker.Stop()

	apiServer := api.New(api.Config{
		BindAddr:         cfg.BindAddr,
		AdminToken:       cfg.AdminToken,
		Service:          svc,
		Gateway:          gw,
		Bus:              eventBus,
		Metrics:          metrics,
		Logger:           logger,
		Version:          Version,
		GeneratorEnabled: generator.Enabled,
		DBCheck: func(ctx context.Context) error {
			return store.DB().PingContext(ctx)
		},
	})
	if err := apiServer.Start(ctx); err != nil {
		fatalStartup(logger, "E_API_START", err)
	}

	confWatcher := config.NewWatcher(cfg.HomeDir, logger)
	if err := confWatcher.Start(ctx); err != nil {
		fatalStartup(logger, "E_CONFIG_WATCHER_START", err)
	}
	go func() {
		for ev := range confWatcher.Events() {
			logger.Info("config hot-reload event", "path", ev.Path, "op", ev.Op.String())
			newCfg, err := config.Load()
			if err != nil {
				logger.Warn("config reload failed, keeping previous settings", "error", err)
				continue
			}
			generator.SetFallbackReminder(newCfg.FallbackReminder)
			logLevel.Set(telemetry.ParseLevel(newCfg.LogLevel))
		}
	}()

	if interactive {
		fmt.Printf("nudged %s listening on %s (gateway: %s, home: %s)\n",
			Version, cfg.BindAddr, gw.Name(), cfg.HomeDir)
	}

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = apiServer.Shutdown(shutdownCtx)
	escalationTicker.Stop()
	dispatchTicker.Stop()
	logger.Info("shutdown complete")
}

func fatalStartup(logger *slog.Logger, reasonCode string, err error) {
	message := ""
	if err != nil {
		message = err.Error()
	}
	audit.Record("fatal", "runtime.startup", reasonCode, message)

	if logger != nil {
		logger.Error("startup failure", "reason_code", reasonCode, "error", message)
	} else {
		fmt.Fprintf(
			os.Stderr,
			`{"timestamp":"%s","level":"ERROR","component":"runtime","trace_id":"-","msg":"startup failure","reason_code":%q,"error":%q}`+"\n",
			time.Now().UTC().Format(time.RFC3339Nano),
			reasonCode,
			message,
		)
	}
	os.Exit(1)
}

// Package main is the entry point for the DEX arbitrage opportunity engine.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"

	"github.com/kunalmkv/arbflux/business/amm"
	ammDI "github.com/kunalmkv/arbflux/business/amm/di"
	"github.com/kunalmkv/arbflux/internal/apm"
	"github.com/kunalmkv/arbflux/internal/config"
	"github.com/kunalmkv/arbflux/internal/health"
	"github.com/kunalmkv/arbflux/internal/logger"
	"github.com/kunalmkv/arbflux/internal/metrics"
	"github.com/kunalmkv/arbflux/internal/monolith"
	"github.com/kunalmkv/arbflux/pkg/ui"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", "", "Path to configuration file")
	cliMode := flag.Bool("cli", false, "Run in CLI mode with logs (no TUI)")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("arbflux %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	tuiMode := !*cliMode

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		if !tuiMode {
			fmt.Fprintf(os.Stderr, "received shutdown signal: %v\n", sig)
		}
		cancel()
	}()

	if err := run(ctx, *configPath, tuiMode); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		var forced *forcedShutdownError
		if errors.As(err, &forced) {
			os.Exit(3)
		}
		os.Exit(1)
	}
}

// forcedShutdownError marks an exit driven by Orchestrator.ForceShutdown
// (spec §7), so main can distinguish it from an ordinary startup/runtime
// error and exit with code 3 instead of 1.
type forcedShutdownError struct {
	cause error
}

func (e *forcedShutdownError) Error() string {
	return fmt.Sprintf("forced shutdown: %v", e.cause)
}

func (e *forcedShutdownError) Unwrap() error {
	return e.cause
}

func run(ctx context.Context, configPath string, tuiMode bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logLevel := logger.LevelInfo
	switch cfg.App.LogLevel {
	case "debug":
		logLevel = logger.LevelDebug
	case "warn":
		logLevel = logger.LevelWarn
	case "error":
		logLevel = logger.LevelError
	}

	var log *logger.Logger
	if tuiMode {
		log = logger.New(io.Discard, logLevel, cfg.App.Name, nil)
	} else {
		log = logger.New(os.Stderr, logLevel, cfg.App.Name, nil)
		log.Info(ctx, "starting arbitrage opportunity engine",
			"version", version,
			"environment", cfg.App.Environment,
		)
	}

	var traceProvider apm.TraceProvider
	if cfg.Telemetry.Enabled {
		if cfg.Telemetry.ServiceName != "" {
			os.Setenv("OTEL_SERVICE_NAME", cfg.Telemetry.ServiceName)
		}
		if cfg.Telemetry.OTLPEndpoint != "" {
			os.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Telemetry.OTLPEndpoint)
		}

		traceProvider = apm.NewTraceProvider(log, apm.WithProvider(apm.ZipkinProvider, log))
		log.Info(ctx, "tracing initialized", "provider", "zipkin", "endpoint", cfg.Telemetry.OTLPEndpoint)

		metrics.NewMetricProvider(
			metrics.WithServiceName(cfg.Telemetry.ServiceName),
			metrics.WithProviderConfig(metrics.ProviderCfg{
				Provider: metrics.PrometheusProvider,
			}),
		)

		port := cfg.Telemetry.PrometheusPort
		if port == 0 {
			port = 9090
		}
		go metrics.ServePrometheusMetrics(metrics.WithPort(strconv.Itoa(port)))
		log.Info(ctx, "prometheus metrics server started", "port", port)
	}
	defer func() {
		if traceProvider != nil {
			traceProvider.Stop()
		}
	}()

	healthServer := health.NewServer(8081, version)
	if err := healthServer.Start(); err != nil {
		log.Warn(ctx, "failed to start health server", "error", err)
	} else {
		log.Info(ctx, "health server started", "port", 8081)
	}
	defer healthServer.Stop(ctx)

	mono, err := monolith.New(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create monolith: %w", err)
	}
	defer mono.Close()

	ammModule := &amm.Module{}
	if tuiMode {
		ammModule.ExtraSink = ui.NewSink()
	}
	modules := []monolith.Module{ammModule}

	if err := mono.RegisterModules(modules...); err != nil {
		return fmt.Errorf("failed to register modules: %w", err)
	}

	if tuiMode {
		startFunc := func() error {
			return mono.StartModules(ctx, modules...)
		}
		stopFunc := func() {
			ammDI.GetOrchestrator(mono.Services()).Stop()
			ammDI.GetHTTPAPIServer(mono.Services()).Stop(context.Background())
		}
		fatalCh := func() <-chan error {
			return ammDI.GetOrchestrator(mono.Services()).Fatal()
		}
		return runTUI(ctx, startFunc, stopFunc, fatalCh)
	}

	if err := mono.StartModules(ctx, modules...); err != nil {
		return fmt.Errorf("failed to start modules: %w", err)
	}
	defer ammDI.GetHTTPAPIServer(mono.Services()).Stop(context.Background())

	log.Info(ctx, "all modules started, detection running")
	orch := ammDI.GetOrchestrator(mono.Services())
	select {
	case <-ctx.Done():
		log.Info(ctx, "shutting down")
		orch.Stop()
		return nil
	case cause := <-orch.Fatal():
		return &forcedShutdownError{cause: cause}
	}
}

func runTUI(ctx context.Context, startFunc func() error, stopFunc func(), fatalCh func() <-chan error) error {
	startSignal := make(chan struct{}, 1)
	ui.OnStartModules = func() {
		select {
		case startSignal <- struct{}{}:
		default:
		}
	}

	p := tea.NewProgram(ui.New(), tea.WithAltScreen())
	ui.Program = p

	errCh := make(chan error, 1)
	go func() {
		select {
		case <-startSignal:
		case <-ctx.Done():
			errCh <- nil
			return
		}

		if err := startFunc(); err != nil {
			ui.Send(ui.ErrorMsg{Error: err})
			errCh <- err
			return
		}

		select {
		case <-ctx.Done():
			stopFunc()
			errCh <- nil
		case cause := <-fatalCh():
			ui.Send(ui.ErrorMsg{Error: fmt.Errorf("forced shutdown: %w", cause)})
			p.Quit()
			errCh <- &forcedShutdownError{cause: cause}
		}
	}()

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}

	select {
	case err := <-errCh:
		return err
	default:
		return nil
	}
}

// Command engined runs the workflow execution engine as an HTTP daemon.
//
// Usage:
//
//	engined [-config engined.yaml]
//
// Without a config file it listens on :8080 with an in-memory store.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/flowmatic/engine/config"
	"github.com/flowmatic/engine/server"
	"github.com/flowmatic/engine/workflow"
	"github.com/flowmatic/engine/workflow/emit"
	"github.com/flowmatic/engine/workflow/handler"
	"github.com/flowmatic/engine/workflow/handler/ai"
	"github.com/flowmatic/engine/workflow/store"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML or JSON config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "engined:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.FromFile(configPath); err != nil {
			return err
		}
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	st, closeStore, err := openStore(cfg.Store)
	if err != nil {
		return err
	}
	defer closeStore()

	registry := handler.NewRegistry()
	if err := handler.RegisterBuiltins(registry); err != nil {
		return err
	}
	if err := registerAI(registry, cfg.AI, logger); err != nil {
		return err
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector())
	metrics := workflow.NewMetrics(promReg)

	emitter := buildEmitter(cfg, logger)

	engine := workflow.NewEngine(st, registry,
		workflow.WithOptions(workflow.Options{
			MaxConcurrency: cfg.Engine.MaxConcurrency,
			NodeTimeout:    cfg.Engine.NodeTimeout.Std(),
		}),
		workflow.WithEmitter(emitter),
		workflow.WithMetrics(metrics),
		workflow.WithLogger(logger),
	)

	httpSrv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      server.New(engine, logger, promReg),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("engine listening", "addr", cfg.Server.Addr, "store", cfg.Store.Driver)
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := engine.Shutdown(shutdownCtx); err != nil {
		logger.Warn("executions did not finish before deadline", "error", err.Error())
	}
	return httpSrv.Shutdown(shutdownCtx)
}

func newLogger(cfg config.Logging) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func openStore(cfg config.Store) (workflow.Store, func(), error) {
	switch cfg.Driver {
	case "sqlite":
		s, err := store.NewSQLiteStore(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case "mysql":
		s, err := store.NewMySQLStore(cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	default:
		return store.NewMemStore(), func() {}, nil
	}
}

// registerAI wires the ai.generate handler with whichever providers have
// credentials configured. With none, the node type is simply absent.
func registerAI(registry *handler.Registry, cfg config.AI, logger *slog.Logger) error {
	var providers []ai.Provider
	if cfg.AnthropicKey != "" {
		p, err := ai.NewAnthropicProvider(cfg.AnthropicKey, "")
		if err != nil {
			return err
		}
		providers = append(providers, p)
	}
	if cfg.OpenAIKey != "" {
		p, err := ai.NewOpenAIProvider(cfg.OpenAIKey, "")
		if err != nil {
			return err
		}
		providers = append(providers, p)
	}
	if cfg.GoogleKey != "" {
		p, err := ai.NewGoogleProvider(context.Background(), cfg.GoogleKey, "")
		if err != nil {
			return err
		}
		providers = append(providers, p)
	}
	if len(providers) == 0 {
		logger.Info("no AI provider credentials; ai.generate disabled")
		return nil
	}
	if err := registry.Register("ai.generate", ai.NewHandler(providers...)); err != nil {
		return err
	}
	for _, p := range providers {
		logger.Info("AI provider enabled", "provider", p.Name())
	}
	return nil
}

// buildEmitter assembles the observability fan-out: structured log events
// always, OTel spans when tracing is enabled.
func buildEmitter(cfg config.Config, logger *slog.Logger) emit.Emitter {
	emitters := emit.Multi{emit.NewLogEmitter(os.Stderr, cfg.Logging.Format == "json")}
	if cfg.Tracing.Enabled {
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithResource(resource.NewSchemaless(
				attribute.String("service.name", cfg.Tracing.ServiceName),
			)),
		)
		otel.SetTracerProvider(tp)
		emitters = append(emitters, emit.NewOTelEmitter(tp.Tracer("flowmatic-engine")))
		logger.Info("tracing enabled", "service", cfg.Tracing.ServiceName)
	}
	return emitters
}

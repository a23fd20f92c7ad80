// Command crucible runs the preference-pair pipeline: it accepts
// questions over HTTP, generates N candidate answers per question,
// scores them with an LLM judge, and appends accepted preference pairs
// and audit records to JSONL streams.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/ahrav/go-crucible/infrastructure/bus"
	"github.com/ahrav/go-crucible/infrastructure/llm"
	"github.com/ahrav/go-crucible/infrastructure/observability"
	"github.com/ahrav/go-crucible/infrastructure/sink"
	"github.com/ahrav/go-crucible/infrastructure/verify"
	"github.com/ahrav/go-crucible/internal/application"
	"github.com/ahrav/go-crucible/internal/server"
)

// HTTP server timeouts.
const (
	readTimeout       = 10 * time.Second
	writeTimeout      = 30 * time.Second
	idleTimeout       = 60 * time.Second
	readHeaderTimeout = 5 * time.Second
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	logJSON := flag.Bool("log-json", true, "emit JSON logs")
	flag.Parse()

	logger := newLogger(*logJSON)
	slog.SetDefault(logger)

	if err := run(*configPath, logger); err != nil {
		logger.Error("crucible exited with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func newLogger(json bool) *slog.Logger {
	var handler slog.Handler
	if json {
		handler = slog.NewJSONHandler(os.Stderr, nil)
	} else {
		handler = slog.NewTextHandler(os.Stderr, nil)
	}
	return slog.New(handler)
}

func run(configPath string, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := application.NewConfigLoader().LoadFromFile(configPath)
	if err != nil {
		return err
	}

	apiKey, err := cfg.Provider.ResolveAPIKey()
	if err != nil {
		return err
	}

	metrics := observability.NewPrometheusMetrics()

	middleware := []llm.Middleware{
		llm.TracingMiddleware("crucible"),
		llm.MetricsMiddleware(metrics, cfg.Provider.Type),
		llm.RetryMiddleware(cfg.Provider.MaxRetries, 500*time.Millisecond, 10*time.Second),
		llm.TimeoutMiddleware(cfg.Provider.Timeout()),
	}
	if cfg.Provider.RequestsPerSecond > 0 {
		middleware = append(middleware,
			llm.RateLimitMiddleware(rate.Limit(cfg.Provider.RequestsPerSecond), 1))
	}

	generator, err := llm.NewClient(cfg.Provider.Type, llm.ClientConfig{
		APIKey:     apiKey,
		Model:      cfg.Provider.Model,
		BaseURL:    cfg.Provider.BaseURL,
		Timeout:    cfg.Provider.Timeout(),
		Middleware: middleware,
	})
	if err != nil {
		return err
	}

	verifier, err := verify.NewLLMJudge(generator, verify.DefaultConfig())
	if err != nil {
		return err
	}

	auditSink, err := sink.NewJSONLSink(cfg.Output.AuditPath,
		sink.WithLogger(logger),
		sink.WithRetry(cfg.Output.MaxWriteRetries, 100*time.Millisecond, 5*time.Second))
	if err != nil {
		return err
	}
	defer auditSink.Close()

	pairsSink, err := sink.NewJSONLSink(cfg.Output.PairsPath,
		sink.WithLogger(logger),
		sink.WithRetry(cfg.Output.MaxWriteRetries, 100*time.Millisecond, 5*time.Second))
	if err != nil {
		return err
	}
	defer pairsSink.Close()

	eventBus := bus.NewInMemoryBus(bus.WithBufferSize(cfg.Bus.BufferSize))
	defer eventBus.Close()

	pipeline, err := application.NewPipeline(
		cfg, generator, verifier, eventBus, auditSink, pairsSink, logger, metrics)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	server.New(pipeline, logger).Register(mux)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           mux,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return pipeline.Run(gctx)
	})

	g.Go(func() error {
		logger.Info("http server listening",
			slog.String("addr", cfg.Server.Addr),
			slog.String("provider", cfg.Provider.Type))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout())
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		return err
	}
	logger.Info("stopped")
	return nil
}

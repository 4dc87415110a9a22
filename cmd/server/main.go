package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/freewebtopdf/redirect-resolver/internal/api"
	"github.com/freewebtopdf/redirect-resolver/internal/config"
	"github.com/freewebtopdf/redirect-resolver/internal/engine"
	"github.com/freewebtopdf/redirect-resolver/internal/health"
	"github.com/freewebtopdf/redirect-resolver/internal/metrics"
	"github.com/freewebtopdf/redirect-resolver/internal/storage"
)

// application is everything main wires together
type application struct {
	engine *engine.Engine
	router *api.RouterResult
}

func main() {
	healthCheck := flag.Bool("health-check", false, "Perform health check and exit")
	flag.Parse()

	if *healthCheck {
		performHealthCheck()
		return
	}

	setupLogger()

	log.Info().Msg("Redirect Resolver starting...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatal().Err(err).Msg("Failed to create required directories")
	}

	logStartupConfig(cfg)

	ctx := context.Background()
	app, err := buildApplication(ctx, cfg, prometheus.DefaultRegisterer)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize")
	}

	stopFlush := startFlushLoop(app.engine, cfg.Storage.FlushInterval)

	fiberApp := app.router.App
	fiberApp.Server().ReadTimeout = cfg.Server.ReadTimeout
	fiberApp.Server().WriteTimeout = cfg.Server.WriteTimeout

	setupGracefulShutdown(fiberApp, func(ctx context.Context) {
		stopFlush()
		app.router.Cleanup()
		if err := app.engine.Flush(ctx); err != nil {
			log.Error().Err(err).Msg("Failed to persist rules during shutdown")
		}
	})

	serverAddr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Info().
		Int("port", cfg.Server.Port).
		Str("addr", serverAddr).
		Msg("Starting HTTP server")

	if err := fiberApp.Listen(serverAddr); err != nil {
		log.Fatal().Err(err).Msg("Failed to start HTTP server")
	}
}

// buildApplication loads the rule set and wires the engine, health checker
// and router
func buildApplication(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) (*application, error) {
	storeConfig := storage.StoreConfig{}
	if path := cfg.RulesPath(); path != "" {
		storeConfig.Persister = storage.NewFilePersister(path)
	}
	store := storage.NewStoreWithConfig(storeConfig)

	if err := store.Load(ctx); err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}

	if err := metrics.Register(reg); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	e := engine.New(store, cfg.EngineConfig())
	healthChecker := health.NewSystemHealthChecker(store, e.Matcher(), e)

	var gatherer prometheus.Gatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	router := api.SetupRouterWithDeps(api.RouterDependencies{
		Engine:        e,
		HealthChecker: healthChecker,
		Gatherer:      gatherer,
	}, api.RouterConfig{
		CORSOrigins:         cfg.Security.CORSOrigins,
		BodyLimit:           cfg.Server.BodyLimit,
		RateLimitRPS:        cfg.RateLimit.RPS,
		RateLimitBurst:      cfg.RateLimit.Burst,
		RedirectMiddleware:  cfg.Redirects.MiddlewareEnabled,
		PreserveQueryString: cfg.Redirects.PreserveQueryString,
	})

	log.Info().
		Int("rules", len(store.Snapshot().Rules)).
		Int("max_chain_length", e.Config().MaxChainLength).
		Bool("redirect_middleware", cfg.Redirects.MiddlewareEnabled).
		Msg("Redirect engine ready")

	return &application{engine: e, router: router}, nil
}

// startFlushLoop periodically persists pending hit counters. A non-positive
// interval disables it.
func startFlushLoop(e *engine.Engine, interval time.Duration) (stop func()) {
	if interval <= 0 {
		return func() {}
	}

	ticker := time.NewTicker(interval)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), interval)
				if err := e.Flush(ctx); err != nil {
					log.Warn().Err(err).Msg("Failed to flush hit counters")
				}
				cancel()
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()

	return func() { close(done) }
}

func setupLogger() {
	zerolog.TimeFieldFormat = time.RFC3339

	level := os.Getenv("LOG_LEVEL")
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	if os.Getenv("LOG_FORMAT") == "text" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

func logStartupConfig(cfg *config.Config) {
	log.Info().
		Int("server_port", cfg.Server.Port).
		Dur("server_read_timeout", cfg.Server.ReadTimeout).
		Dur("server_write_timeout", cfg.Server.WriteTimeout).
		Int("server_body_limit", cfg.Server.BodyLimit).
		Int("redirects_max_chain_length", cfg.Redirects.MaxChainLength).
		Bool("redirects_enable_regex", cfg.Redirects.EnableRegex).
		Str("redirects_default_type", cfg.Redirects.DefaultType).
		Bool("redirects_preserve_query_string", cfg.Redirects.PreserveQueryString).
		Int("redirects_pattern_cache_size", cfg.Redirects.PatternCacheSize).
		Str("storage_rules_path", cfg.RulesPath()).
		Dur("storage_flush_interval", cfg.Storage.FlushInterval).
		Strs("security_cors_origins", cfg.Security.CORSOrigins).
		Bool("security_enable_https", cfg.Security.EnableHTTPS).
		Float64("rate_limit_rps", cfg.RateLimit.RPS).
		Str("logging_level", cfg.Logging.Level).
		Str("logging_format", cfg.Logging.Format).
		Msg("Configuration loaded successfully")
}

func setupGracefulShutdown(app *fiber.App, onShutdown func(ctx context.Context)) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-ctx.Done()
		stop()

		log.Info().Msg("Received shutdown signal, initiating graceful shutdown")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		log.Info().Msg("Stopping HTTP server...")
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Error during HTTP server shutdown")
		}

		onShutdown(shutdownCtx)

		log.Info().Msg("Graceful shutdown completed")
		os.Exit(0)
	}()
}

func performHealthCheck() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	client := &http.Client{
		Timeout: 3 * time.Second,
	}

	resp, err := client.Get(fmt.Sprintf("http://localhost:%s/health", port))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: HTTP %d\n", resp.StatusCode)
		os.Exit(1)
	}

	fmt.Println("Health check passed")
	os.Exit(0)
}

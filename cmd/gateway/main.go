// Package main is the entrypoint for the MCP gateway server.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/workway/mcp-gateway/internal/cache"
	"github.com/workway/mcp-gateway/internal/caller"
	"github.com/workway/mcp-gateway/internal/calllog"
	"github.com/workway/mcp-gateway/internal/config"
	"github.com/workway/mcp-gateway/internal/credential"
	"github.com/workway/mcp-gateway/internal/handler"
	"github.com/workway/mcp-gateway/internal/mcp"
	"github.com/workway/mcp-gateway/internal/metrics"
	"github.com/workway/mcp-gateway/internal/middleware"
	"github.com/workway/mcp-gateway/internal/repository"
	"github.com/workway/mcp-gateway/internal/server"
	"github.com/workway/mcp-gateway/internal/telemetry"
	"github.com/workway/mcp-gateway/internal/tools"
	"github.com/workway/mcp-gateway/internal/usage"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := initLogger(cfg)

	// Initialize database
	repo, err := repository.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error(
			"failed to connect to database",
			slog.String("error", sanitizeError(err, cfg.DatabaseURL)),
			slog.String("database_url", redactURL(cfg.DatabaseURL)),
		)
		os.Exit(1)
	}
	logger.Info("connected to database")

	// Initialize cache
	cacheClient, err := cache.New(ctx, cfg.RedisURL)
	if err != nil {
		repo.Close()
		logger.Error(
			"failed to connect to Redis",
			slog.String("error", sanitizeError(err, cfg.RedisURL)),
			slog.String("redis_url", redactURL(cfg.RedisURL)),
		)
		os.Exit(1)
	}
	logger.Info("connected to Redis")

	providers, err := telemetry.Setup(ctx, cfg.OTelEndpoint, cfg.ServerName, cfg.ServerVersion)
	if err != nil {
		logger.Error("failed to set up telemetry", "error", err)
		os.Exit(1)
	}

	var (
		recorder metrics.Recorder
		snapshot metrics.Snapshotter
	)
	if providers.Enabled {
		otelRecorder, err := metrics.NewOTel(providers.Meter)
		if err != nil {
			logger.Error("failed to create metric instruments", "error", err)
			os.Exit(1)
		}
		recorder = otelRecorder
		logger.Info("exporting telemetry", "endpoint", cfg.OTelEndpoint)
	} else {
		inMemory := metrics.NewInMemory()
		recorder = inMemory
		snapshot = inMemory
	}

	// Identity and metering
	credentials := credential.NewStore(cacheClient.Client(), logger, recorder)
	resolver := caller.NewResolver(credentials, repo, logger)
	meter := usage.NewMeter(cacheClient, repo, cfg.TierLimits(), logger)

	registry := mcp.NewRegistry()
	registry.MustRegister(tools.Builtin()...)

	opts := mcp.Options{
		ServerName:    cfg.ServerName,
		ServerVersion: cfg.ServerVersion,
		ToolTimeout:   cfg.ToolTimeout,
		Resources:     tools.NewResources(registry, cfg.TierLimits()),
		Metrics:       recorder,
		Tracer:        providers.Tracer,
		Logger:        logger,
	}

	var (
		publisher *calllog.Publisher
		worker    *calllog.Worker
	)
	if cfg.CallLogEnabled {
		publisher = calllog.NewPublisher(cacheClient.Client(), logger, recorder)
		worker = calllog.NewWorker(cacheClient.Client(), repository.NewToolCallRepository(repo), logger, calllog.NewConsumerID(), recorder)
		opts.Calls = publisher
	}

	dispatcher := mcp.NewDispatcher(registry, meter, opts)

	h := handler.New(dispatcher, meter, credentials, handler.Config{
		BaseURL:           cfg.BaseURL,
		KeepAliveInterval: cfg.SSEKeepAliveInterval,
	}, logger)
	healthHandler := handler.NewHealthHandler(repo, cacheClient)

	r := setupRouter(h, healthHandler, dispatcher.HasResources(), snapshot, resolver, cacheClient, cfg, logger)

	srv := server.New(r, server.Options{
		Port:            cfg.AppPort,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, logger)

	// Hooks run in reverse: the worker drains first, the database closes last.
	srv.OnShutdown("database", func(context.Context) error {
		repo.Close()
		return nil
	})
	srv.OnShutdown("redis", func(context.Context) error {
		return cacheClient.Close()
	})
	srv.OnShutdown("telemetry", providers.Shutdown)
	if publisher != nil {
		srv.OnShutdown("call log publisher", publisher.Shutdown)
	}
	if worker != nil {
		go func() {
			if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("call log worker stopped", "error", err)
			}
		}()
		srv.OnShutdown("call log worker", worker.Shutdown)
	}

	logger.Info("starting server",
		"port", cfg.AppPort,
		"base_url", cfg.BaseURL,
		"env", cfg.AppEnv,
		"tools", registry.Len(),
	)

	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// initLogger initializes the slog logger based on configuration.
func initLogger(cfg *config.Config) *slog.Logger {
	var h slog.Handler

	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}

	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(h)
	slog.SetDefault(logger)

	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// setupRouter configures the chi router with all routes and middleware.
func setupRouter(
	h *handler.Handler,
	healthHandler *handler.HealthHandler,
	withResources bool,
	snapshot metrics.Snapshotter,
	resolver middleware.CallerResolver,
	limiter middleware.RateLimiter,
	cfg *config.Config,
	logger *slog.Logger,
) *chi.Mux {
	r := chi.NewRouter()

	corsCfg := middleware.DefaultCORSConfig()
	corsCfg.AllowedOrigins = cfg.GetCORSAllowedOrigins()

	// Global middleware. Identify runs before Logger so request logs carry
	// the caller.
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Identify(resolver, logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.Security(middleware.SecurityConfig{IsDevelopment: cfg.IsDevelopment()}))
	r.Use(middleware.CORS(corsCfg))
	r.Use(middleware.MaxBodySize(cfg.MaxRequestBodySize))

	limited := middleware.RateLimitCaller(middleware.RateLimitConfig{
		Logger:  logger,
		Limiter: limiter,
		Enabled: cfg.RateLimitEnabled,
		RPS:     cfg.RateLimitRPS,
		Burst:   cfg.RateLimitBurst,
	})

	// Health endpoints
	r.Get("/health", healthHandler.Health)
	r.Get("/readyz", healthHandler.Readyz)

	// Service info
	r.Get("/", h.Info)
	r.Get("/mcp", h.Info)

	// Protocol transports share one dispatcher.
	r.Get("/sse", h.Stream)
	r.With(limited).Post("/sse", h.Message)
	r.With(limited).Post("/message", h.Message)
	r.With(limited).Post("/mcp", h.Message)
	r.Options("/sse", h.Preflight)
	r.Options("/message", h.Preflight)

	// REST tool surface
	r.Route("/mcp/tools", func(r chi.Router) {
		r.Get("/", h.ListTools)
		r.With(limited).Post("/{name}", h.CallTool)
	})
	if withResources {
		r.Get("/mcp/resources", h.ListResources)
		r.Get("/mcp/resources/read", h.ReadResource)
	}

	// Account surface
	r.Route("/api", func(r chi.Router) {
		r.Get("/usage", h.Usage)
		r.Post("/keys", h.CreateKey)
		r.Delete("/keys", h.RevokeKeys)
		r.Delete("/keys/{key}", h.RevokeKey)
	})

	if snapshot != nil {
		r.Get("/metrics", handler.NewMetricsHandler(snapshot).Metrics)
	}

	r.NotFound(h.NotFound)
	r.MethodNotAllowed(h.MethodNotAllowed)

	return r
}

var passwordPattern = regexp.MustCompile(`(?i)password=[^\s]+`)

func redactURL(raw string) string {
	if raw == "" {
		return ""
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "[redacted]"
	}

	if parsed.User != nil {
		username := parsed.User.Username()
		if username == "" {
			parsed.User = url.User("redacted")
		} else {
			parsed.User = url.User(username)
		}
	}

	return parsed.String()
}

func sanitizeError(err error, secrets ...string) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		redacted := redactURL(secret)
		if redacted == "" {
			redacted = "[redacted]"
		}
		msg = strings.ReplaceAll(msg, secret, redacted)
	}

	return passwordPattern.ReplaceAllString(msg, "password=redacted")
}

// Package config provides application configuration management.
// Configuration is loaded from environment variables following 12-factor principles.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"

	"github.com/workway/mcp-gateway/internal/model"
)

// Config holds all application configuration.
// All fields are populated from environment variables.
type Config struct {
	// Application settings
	AppEnv  string `env:"APP_ENV" envDefault:"development"`
	AppPort int    `env:"APP_PORT" envDefault:"8080"`

	// Public URL advertised in service info and the SSE endpoint event.
	BaseURL string `env:"BASE_URL" envDefault:"http://localhost:8080"`

	// Database (PostgreSQL)
	DatabaseURL string `env:"DATABASE_URL,required"`

	// Cache (Redis)
	RedisURL string `env:"REDIS_URL,required"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Server timeouts. WriteTimeout must outlast ToolTimeout; the event
	// stream clears its own deadline.
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"10s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"75s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// CORS configuration
	// Comma-separated list of allowed origins (e.g., "https://example.com,https://app.example.com")
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS" envDefault:""`

	// Request body size limit in bytes (default 1MB)
	MaxRequestBodySize int64 `env:"MAX_REQUEST_BODY_SIZE" envDefault:"1048576"`

	// Protocol
	ServerName           string        `env:"SERVER_NAME" envDefault:"mcp-gateway"`
	ServerVersion        string        `env:"SERVER_VERSION" envDefault:"0.1.0"`
	SSEKeepAliveInterval time.Duration `env:"SSE_KEEPALIVE_INTERVAL" envDefault:"15s"`
	// ToolTimeout bounds each tool execution; 0 disables the deadline.
	ToolTimeout time.Duration `env:"TOOL_TIMEOUT" envDefault:"60s"`

	// Tier run limits. Unset keeps the default; -1 means unlimited.
	LimitAnonymous  *int64 `env:"LIMIT_ANONYMOUS"`
	LimitFree       *int64 `env:"LIMIT_FREE"`
	LimitPro        *int64 `env:"LIMIT_PRO"`
	LimitEnterprise *int64 `env:"LIMIT_ENTERPRISE"`

	// Per-caller burst limiting on protocol POSTs
	RateLimitEnabled bool `env:"RATE_LIMIT_ENABLED" envDefault:"true"`
	RateLimitRPS     int  `env:"RATE_LIMIT_RPS" envDefault:"10"`
	RateLimitBurst   int  `env:"RATE_LIMIT_BURST" envDefault:"20"`

	// Tool-call audit log (Redis stream -> PostgreSQL)
	CallLogEnabled bool `env:"CALL_LOG_ENABLED" envDefault:"true"`

	// OpenTelemetry OTLP/gRPC endpoint; empty disables export.
	OTelEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// GetCORSAllowedOrigins parses the comma-separated origins string into a slice.
func (c *Config) GetCORSAllowedOrigins() []string {
	if c.CORSAllowedOrigins == "" {
		return nil
	}

	origins := strings.Split(c.CORSAllowedOrigins, ",")
	result := make([]string, 0, len(origins))

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}

// TierLimits returns the default tier table with any LIMIT_* overrides
// applied.
func (c *Config) TierLimits() model.TierLimits {
	overrides := model.TierLimits{}
	set := func(tier string, v *int64) {
		if v != nil {
			overrides[tier] = *v
		}
	}
	set(model.TierAnonymous, c.LimitAnonymous)
	set(model.TierFree, c.LimitFree)
	set(model.TierPro, c.LimitPro)
	set(model.TierEnterprise, c.LimitEnterprise)
	return model.DefaultTierLimits().Merge(overrides)
}

// Validate checks values the env tags cannot express.
func (c *Config) Validate() error {
	var errs []error
	if c.AppPort <= 0 || c.AppPort > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT %d out of range", c.AppPort))
	}
	for name, v := range map[string]*int64{
		"LIMIT_ANONYMOUS":  c.LimitAnonymous,
		"LIMIT_FREE":       c.LimitFree,
		"LIMIT_PRO":        c.LimitPro,
		"LIMIT_ENTERPRISE": c.LimitEnterprise,
	} {
		if v != nil && *v < model.Unlimited {
			errs = append(errs, fmt.Errorf("%s must be >= -1, got %d", name, *v))
		}
	}
	if c.SSEKeepAliveInterval <= 0 {
		errs = append(errs, errors.New("SSE_KEEPALIVE_INTERVAL must be positive"))
	}
	if c.ToolTimeout < 0 {
		errs = append(errs, errors.New("TOOL_TIMEOUT must not be negative"))
	}
	if c.ToolTimeout > 0 && c.WriteTimeout > 0 && c.ToolTimeout >= c.WriteTimeout {
		errs = append(errs, fmt.Errorf("TOOL_TIMEOUT (%s) must be shorter than WRITE_TIMEOUT (%s)", c.ToolTimeout, c.WriteTimeout))
	}
	if c.RateLimitEnabled && (c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0) {
		errs = append(errs, errors.New("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive when rate limiting is enabled"))
	}
	return errors.Join(errs...)
}

// Load parses environment variables and returns a validated Config.
// Returns an error if required variables are missing.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/freewebtopdf/redirect-resolver/internal/domain"
	"github.com/freewebtopdf/redirect-resolver/internal/engine"
)

// Config holds all configuration for the redirect resolver service
type Config struct {
	Server struct {
		Port         int           `env:"PORT" envDefault:"8080" validate:"min=1,max=65535"`
		ReadTimeout  time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
		WriteTimeout time.Duration `env:"WRITE_TIMEOUT" envDefault:"5s"`
		BodyLimit    int           `env:"BODY_LIMIT" envDefault:"1048576" validate:"min=1"` // 1MB
	}

	Redirects struct {
		MaxChainLength      int    `env:"MAX_CHAIN_LENGTH" envDefault:"3" validate:"min=1,max=100"`
		EnableRegex         bool   `env:"ENABLE_REGEX" envDefault:"true"`
		DefaultType         string `env:"DEFAULT_REDIRECT_TYPE" envDefault:"301" validate:"oneof=301 302 307 308"`
		PreserveQueryString bool   `env:"PRESERVE_QUERY_STRING" envDefault:"true"`
		PatternCacheSize    int    `env:"PATTERN_CACHE_SIZE" envDefault:"10000" validate:"min=100"`
		MiddlewareEnabled   bool   `env:"REDIRECT_MIDDLEWARE_ENABLED" envDefault:"false"`
	}

	Storage struct {
		DataDir   string `env:"DATA_DIR" envDefault:"./data"`
		RulesFile string `env:"RULES_FILE" envDefault:"redirects.yaml"`
		Persist   bool   `env:"PERSIST_RULES" envDefault:"true"`
		// FlushInterval is how often hit counters are written out; 0 only flushes on shutdown
		FlushInterval time.Duration `env:"FLUSH_INTERVAL" envDefault:"30s"`
	}

	Security struct {
		CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:"," validate:"cors_origins"`
		EnableHTTPS bool     `env:"ENABLE_HTTPS" envDefault:"false"`
	}

	RateLimit struct {
		RPS   float64 `env:"RATE_LIMIT_RPS" envDefault:"100" validate:"min=0"`
		Burst int     `env:"RATE_LIMIT_BURST" envDefault:"200" validate:"min=0"`
	}

	Logging struct {
		Level  string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`
		Format string `env:"LOG_FORMAT" envDefault:"json" validate:"oneof=json text"`
	}
}

// Load loads configuration from environment variables and .env files
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment variables: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration using struct tags
func Validate(cfg *Config) error {
	validator := validator.New()

	if err := validator.RegisterValidation("cors_origins", validateCORSOrigins); err != nil {
		return fmt.Errorf("failed to register cors_origins validation: %w", err)
	}

	if err := validator.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCORSOrigins validates CORS origins format
func validateCORSOrigins(fl validator.FieldLevel) bool {
	origins := fl.Field().Interface().([]string)
	for _, origin := range origins {
		origin = strings.TrimSpace(origin)
		if origin == "" {
			continue
		}
		if origin != "*" && !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") {
			return false
		}
	}
	return true
}

// validateCustomRules performs additional validation beyond struct tags
func validateCustomRules(cfg *Config) error {
	if cfg.Server.ReadTimeout < time.Millisecond {
		return fmt.Errorf("read timeout must be at least 1ms")
	}
	if cfg.Server.WriteTimeout < time.Millisecond {
		return fmt.Errorf("write timeout must be at least 1ms")
	}

	if cfg.Storage.Persist {
		if cfg.Storage.DataDir == "" {
			return fmt.Errorf("data directory cannot be empty when rule persistence is enabled")
		}
		if cfg.Storage.RulesFile == "" || filepath.Base(cfg.Storage.RulesFile) != cfg.Storage.RulesFile {
			return fmt.Errorf("rules file must be a plain file name inside the data directory")
		}
	}

	if cfg.RateLimit.RPS > 0 && cfg.RateLimit.Burst < 1 {
		return fmt.Errorf("rate limit burst must be at least 1 when rate limiting is enabled")
	}

	return nil
}

// EnsureDirectories creates all required directories
func (cfg *Config) EnsureDirectories() error {
	if !cfg.Storage.Persist || cfg.Storage.DataDir == "" {
		return nil
	}
	if err := os.MkdirAll(cfg.Storage.DataDir, 0755); err != nil {
		return fmt.Errorf("cannot create directory %s: %w", cfg.Storage.DataDir, err)
	}
	return nil
}

// RulesPath returns the snapshot file path, or "" when persistence is off
func (cfg *Config) RulesPath() string {
	if !cfg.Storage.Persist {
		return ""
	}
	return filepath.Join(cfg.Storage.DataDir, cfg.Storage.RulesFile)
}

// EngineConfig returns the engine options derived from the redirect settings
func (cfg *Config) EngineConfig() engine.Config {
	return engine.Config{
		MaxChainLength:      cfg.Redirects.MaxChainLength,
		EnableRegex:         cfg.Redirects.EnableRegex,
		DefaultType:         domain.RedirectType(cfg.Redirects.DefaultType),
		PreserveQueryString: cfg.Redirects.PreserveQueryString,
		PatternCacheSize:    cfg.Redirects.PatternCacheSize,
	}
}

// formatValidationError formats validation errors into readable messages
func formatValidationError(err error) error {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		var messages []string
		for _, e := range validationErrors {
			switch e.Tag() {
			case "required":
				messages = append(messages, fmt.Sprintf("%s is required", e.Field()))
			case "min":
				messages = append(messages, fmt.Sprintf("%s must be at least %s", e.Field(), e.Param()))
			case "max":
				messages = append(messages, fmt.Sprintf("%s must be at most %s", e.Field(), e.Param()))
			case "oneof":
				messages = append(messages, fmt.Sprintf("%s must be one of: %s", e.Field(), e.Param()))
			case "cors_origins":
				messages = append(messages, fmt.Sprintf("%s contains invalid origin format", e.Field()))
			default:
				messages = append(messages, fmt.Sprintf("%s failed validation: %s", e.Field(), e.Tag()))
			}
		}
		return fmt.Errorf("validation errors: %s", strings.Join(messages, "; "))
	}
	return err
}

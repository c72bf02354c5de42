// Package config provides application configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const defaultJWTSecret = "your-secret-key-change-in-production"

// Config holds application configuration values loaded from file or environment variables.
type Config struct {
	JWTSecret                string  `mapstructure:"JWT_SECRET"`
	Port                     string  `mapstructure:"PORT"`
	DBDriver                 string  `mapstructure:"DB_DRIVER"`
	DBHost                   string  `mapstructure:"DB_HOST"`
	DBPort                   string  `mapstructure:"DB_PORT"`
	DBUser                   string  `mapstructure:"DB_USER"`
	DBPassword               string  `mapstructure:"DB_PASSWORD"`
	DBName                   string  `mapstructure:"DB_NAME"`
	DBSSLMode                string  `mapstructure:"DB_SSLMODE"`
	DBPath                   string  `mapstructure:"DB_PATH"`
	DBSchemaMode             string  `mapstructure:"DB_SCHEMA_MODE"`
	DBAutoMigrateDestructive bool    `mapstructure:"DB_AUTOMIGRATE_ALLOW_DESTRUCTIVE"`
	DBMaxOpenConns           int     `mapstructure:"DB_MAX_OPEN_CONNS"`
	DBMaxIdleConns           int     `mapstructure:"DB_MAX_IDLE_CONNS"`
	DBConnMaxLifetimeMinutes int     `mapstructure:"DB_CONN_MAX_LIFETIME_MINUTES"`
	RedisURL                 string  `mapstructure:"REDIS_URL"`
	AllowedOrigins           string  `mapstructure:"ALLOWED_ORIGINS"`
	Env                      string  `mapstructure:"APP_ENV"`
	TracingEnabled           bool    `mapstructure:"TRACING_ENABLED"`
	TracingExporter          string  `mapstructure:"TRACING_EXPORTER"`
	OTLPEndpoint             string  `mapstructure:"OTLP_ENDPOINT"`
	TracingSamplerRatio      float64 `mapstructure:"TRACING_SAMPLER_RATIO"`
	FeatureFlags             string  `mapstructure:"FEATURE_FLAGS"`
	DevBootstrapRoot         bool    `mapstructure:"DEV_BOOTSTRAP_ROOT"`
	DevRootUsername          string  `mapstructure:"DEV_ROOT_USERNAME"`

	ESI       ESIOptions       `mapstructure:",squash"`
	Standings StandingsOptions `mapstructure:",squash"`
}

// ESIOptions configures the external contact API client.
type ESIOptions struct {
	BaseURL            string  `mapstructure:"ESI_BASE_URL" validate:"required,url"`
	UserAgent          string  `mapstructure:"ESI_USER_AGENT" validate:"required"`
	TimeoutSeconds     int     `mapstructure:"ESI_TIMEOUT_SECONDS" validate:"gte=1,lte=300"`
	RateLimitPerSecond float64 `mapstructure:"ESI_RATE_LIMIT_PER_SECOND" validate:"gt=0"`
	RateBurst          int     `mapstructure:"ESI_RATE_BURST" validate:"gte=1"`
	MaxRetries         int     `mapstructure:"ESI_MAX_RETRIES" validate:"gte=1,lte=10"`
	BackoffInitialMS   int     `mapstructure:"ESI_BACKOFF_INITIAL_MS" validate:"gte=1"`
}

// StandingsOptions holds the raw standings options as read from file or environment.
// Use Settings to obtain the validated, typed form.
type StandingsOptions struct {
	LabelName               string  `mapstructure:"STANDINGS_LABEL_NAME" validate:"required,max=50"`
	SyncIntervalMinutes     int     `mapstructure:"STANDINGS_SYNC_INTERVAL" validate:"gte=1"`
	SyncTimeoutMinutes      int     `mapstructure:"STANDINGS_SYNC_TIMEOUT" validate:"gte=1"`
	DefaultStanding         float64 `mapstructure:"STANDINGS_DEFAULT_STANDING" validate:"gte=-10,lte=10"`
	SyncMode                string  `mapstructure:"STANDINGS_SYNC_MODE"`
	LegacyReplaceContacts   any     `mapstructure:"STANDINGSSYNC_REPLACE_CONTACTS"`
	ScopeRequirements       any     `mapstructure:"STANDINGS_SCOPE_REQUIREMENTS"`
	ValidateIntervalMinutes int     `mapstructure:"STANDINGS_AUTO_VALIDATE_INTERVAL" validate:"gte=1"`
	StaggerSeconds          int     `mapstructure:"STANDINGS_SYNC_STAGGER_SECONDS" validate:"gte=0,lte=60"`
	Concurrency             int     `mapstructure:"STANDINGS_SYNC_CONCURRENCY" validate:"gte=1,lte=64"`
	AuthFailureThreshold    int     `mapstructure:"STANDINGS_AUTH_FAILURE_THRESHOLD" validate:"gte=1"`
	AuthFailureAutoRevoke   bool    `mapstructure:"STANDINGS_AUTH_FAILURE_AUTO_REVOKE"`
	AutoRevocationRequests  bool    `mapstructure:"STANDINGS_AUTO_REVOCATION_REQUESTS"`
}

var validate = validator.New()

// LoadConfig loads application configuration from file and environment variables.
func LoadConfig() (*Config, error) {
	viper.AddConfigPath(".")
	viper.AddConfigPath("..")
	viper.AddConfigPath("../..")
	viper.SetConfigName("config")
	viper.SetConfigType("yml")
	viper.AutomaticEnv()

	// The base config file is optional.
	_ = viper.ReadInConfig()

	env := viper.GetString("APP_ENV")
	if env == "" {
		env = "development"
	}

	if env != "development" && env != "test" {
		viper.SetConfigName("config." + env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("required profile-specific config 'config.%s.yml' not found: %w", env, err)
		}
		log.Printf("Loaded profile-specific configuration: config.%s.yml", env)
	}

	setDefaults()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	config.DBSSLMode = strings.ToLower(strings.TrimSpace(config.DBSSLMode))
	config.DBDriver = strings.ToLower(strings.TrimSpace(config.DBDriver))
	config.DBSchemaMode = strings.ToLower(strings.TrimSpace(config.DBSchemaMode))

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("PORT", "8375")
	viper.SetDefault("DB_DRIVER", "postgres")
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_USER", "user")
	viper.SetDefault("DB_PASSWORD", "password")
	viper.SetDefault("DB_NAME", "standings")
	viper.SetDefault("DB_SSLMODE", "disable")
	viper.SetDefault("DB_PATH", "standings.db")
	viper.SetDefault("DB_SCHEMA_MODE", "hybrid")
	viper.SetDefault("DB_AUTOMIGRATE_ALLOW_DESTRUCTIVE", false)
	viper.SetDefault("DB_MAX_OPEN_CONNS", 25)
	viper.SetDefault("DB_MAX_IDLE_CONNS", 5)
	viper.SetDefault("DB_CONN_MAX_LIFETIME_MINUTES", 5)
	viper.SetDefault("REDIS_URL", "localhost:6379")
	viper.SetDefault("JWT_SECRET", defaultJWTSecret)
	viper.SetDefault("ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:3000")
	viper.SetDefault("APP_ENV", "development")
	viper.SetDefault("TRACING_ENABLED", false)
	viper.SetDefault("TRACING_EXPORTER", "stdout")
	viper.SetDefault("OTLP_ENDPOINT", "localhost:4318")
	viper.SetDefault("TRACING_SAMPLER_RATIO", 1.0)
	viper.SetDefault("FEATURE_FLAGS", "force_sync=on,direct_standings=on,csv_export=on")
	viper.SetDefault("DEV_BOOTSTRAP_ROOT", false)
	viper.SetDefault("DEV_ROOT_USERNAME", "standings_root")

	viper.SetDefault("ESI_BASE_URL", "https://esi.evetech.net/latest")
	viper.SetDefault("ESI_USER_AGENT", "standings-sync")
	viper.SetDefault("ESI_TIMEOUT_SECONDS", 10)
	viper.SetDefault("ESI_RATE_LIMIT_PER_SECOND", 10)
	viper.SetDefault("ESI_RATE_BURST", 20)
	viper.SetDefault("ESI_MAX_RETRIES", 3)
	viper.SetDefault("ESI_BACKOFF_INITIAL_MS", 1000)

	viper.SetDefault("STANDINGS_LABEL_NAME", DefaultLabelName)
	viper.SetDefault("STANDINGS_SYNC_INTERVAL", 30)
	viper.SetDefault("STANDINGS_SYNC_TIMEOUT", 180)
	viper.SetDefault("STANDINGS_DEFAULT_STANDING", 5.0)
	viper.SetDefault("STANDINGS_SYNC_MODE", "")
	viper.SetDefault("STANDINGSSYNC_REPLACE_CONTACTS", "")
	viper.SetDefault("STANDINGS_SCOPE_REQUIREMENTS", "")
	viper.SetDefault("STANDINGS_AUTO_VALIDATE_INTERVAL", 360)
	viper.SetDefault("STANDINGS_SYNC_STAGGER_SECONDS", 5)
	viper.SetDefault("STANDINGS_SYNC_CONCURRENCY", 4)
	viper.SetDefault("STANDINGS_AUTH_FAILURE_THRESHOLD", 3)
	viper.SetDefault("STANDINGS_AUTH_FAILURE_AUTO_REVOKE", false)
	viper.SetDefault("STANDINGS_AUTO_REVOCATION_REQUESTS", true)
}

// IsProduction reports whether the config targets a production environment.
func (c *Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}

// Validate ensures that required configuration values are present and meet security standards.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	switch c.DBDriver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("DB_DRIVER must be postgres or sqlite, got %q", c.DBDriver)
	}

	if err := validate.Struct(c.ESI); err != nil {
		return fmt.Errorf("esi options: %w", err)
	}
	if _, err := c.Standings.Settings(); err != nil {
		return err
	}

	if c.IsProduction() {
		if c.JWTSecret == defaultJWTSecret {
			return errors.New("JWT_SECRET must be changed from the default value in production")
		}
		if len(c.JWTSecret) < 32 {
			return errors.New("JWT_SECRET must be at least 32 characters in production")
		}
		if c.DBDriver == "sqlite" {
			return errors.New("DB_DRIVER sqlite is not supported in production")
		}
		if c.DBPassword == "password" || c.DBPassword == "" {
			return errors.New("a strong DB_PASSWORD is required in production")
		}
		if c.DBSSLMode == "disable" || c.DBSSLMode == "" {
			return errors.New("DB_SSLMODE must not be 'disable' in production")
		}
		if c.AllowedOrigins == "*" {
			log.Println("WARNING: ALLOWED_ORIGINS is set to '*' in production. This is insecure.")
		}
	} else if len(c.JWTSecret) < 32 {
		log.Println("WARNING: JWT_SECRET is shorter than 32 characters. Consider using a stronger secret for production.")
	}

	return nil
}

// Settings returns the validated standings settings. It panics only if Validate was skipped
// and the options are invalid, so callers outside LoadConfig should prefer Standings.Settings.
func (c *Config) Settings() Settings {
	s, err := c.Standings.Settings()
	if err != nil {
		panic(fmt.Sprintf("config: invalid standings settings: %v", err))
	}
	return s
}

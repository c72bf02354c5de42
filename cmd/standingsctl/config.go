package main

import (
	"standings/internal/config"

	"github.com/spf13/cobra"
)

type configView struct {
	Env            string        `json:"app_env"`
	Port           string        `json:"port"`
	DBDriver       string        `json:"db_driver"`
	DBHost         string        `json:"db_host,omitempty"`
	DBName         string        `json:"db_name,omitempty"`
	DBSchemaMode   string        `json:"db_schema_mode"`
	RedisURL       string        `json:"redis_url"`
	JWTSecret      string        `json:"jwt_secret"`
	FeatureFlags   string        `json:"feature_flags"`
	TracingEnabled bool          `json:"tracing_enabled"`
	ESI            esiView       `json:"esi"`
	Standings      standingsView `json:"standings"`
}

type esiView struct {
	BaseURL            string  `json:"base_url"`
	UserAgent          string  `json:"user_agent"`
	TimeoutSeconds     int     `json:"timeout_seconds"`
	RateLimitPerSecond float64 `json:"rate_limit_per_second"`
	MaxRetries         int     `json:"max_retries"`
}

type standingsView struct {
	LabelName              string  `json:"label_name"`
	Mode                   string  `json:"sync_mode"`
	SyncInterval           string  `json:"sync_interval"`
	SyncTimeout            string  `json:"sync_timeout"`
	ValidateInterval       string  `json:"validate_interval"`
	DefaultStanding        float64 `json:"default_standing"`
	Concurrency            int     `json:"concurrency"`
	AuthFailureThreshold   int     `json:"auth_failure_threshold"`
	AutoRevokeOnAuthFail   bool    `json:"auth_failure_auto_revoke"`
	AutoRevocationRequests bool    `json:"auto_revocation_requests"`
}

func newConfigCommand(opts *rootOptions) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration with secrets redacted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return render(cmd.OutOrStdout(), format, viewOf(opts.cfg))
		},
	}

	cmd.Flags().StringVar(&format, "format", "yaml", "output format (yaml|json)")
	return cmd
}

func viewOf(cfg *config.Config) configView {
	s := cfg.Settings()
	return configView{
		Env:            cfg.Env,
		Port:           cfg.Port,
		DBDriver:       cfg.DBDriver,
		DBHost:         cfg.DBHost,
		DBName:         cfg.DBName,
		DBSchemaMode:   cfg.DBSchemaMode,
		RedisURL:       cfg.RedisURL,
		JWTSecret:      redact(cfg.JWTSecret),
		FeatureFlags:   cfg.FeatureFlags,
		TracingEnabled: cfg.TracingEnabled,
		ESI: esiView{
			BaseURL:            cfg.ESI.BaseURL,
			UserAgent:          cfg.ESI.UserAgent,
			TimeoutSeconds:     cfg.ESI.TimeoutSeconds,
			RateLimitPerSecond: cfg.ESI.RateLimitPerSecond,
			MaxRetries:         cfg.ESI.MaxRetries,
		},
		Standings: standingsView{
			LabelName:              s.LabelName,
			Mode:                   string(s.Mode),
			SyncInterval:           s.SyncInterval.String(),
			SyncTimeout:            s.SyncTimeout.String(),
			ValidateInterval:       s.ValidateInterval.String(),
			DefaultStanding:        s.DefaultStanding,
			Concurrency:            s.Concurrency,
			AuthFailureThreshold:   s.AuthFailureThreshold,
			AutoRevokeOnAuthFail:   s.AutoRevokeOnAuthFailure,
			AutoRevocationRequests: s.AutoRevocationRequests,
		},
	}
}

func redact(secret string) string {
	if secret == "" {
		return ""
	}
	return "********"
}

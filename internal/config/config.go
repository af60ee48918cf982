package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/MarcoPoloResearchLab/cuesheet/internal/timecode"
)

const (
	envPrefix                = "CUESHEET"
	defaultHTTPAddress       = "0.0.0.0:8080"
	defaultDatabasePath      = "cuesheet.db"
	defaultLogLevel          = "info"
	defaultLogFormat         = "json"
	defaultCookieName        = "app_session"
	defaultIssuer            = "tauth"
	defaultUndoCapacity      = 50
	defaultFrameRate         = "24"
	defaultAllowedOrigin     = "http://localhost:8000"
	defaultMaxRowsPerProject = 0
	defaultViewIdleTimeout   = 2 * time.Minute
	defaultMaxViewsPerUser   = 16
)

// AppConfig captures runtime configuration for the API server and CLI.
type AppConfig struct {
	HTTPAddress       string
	DatabasePath      string
	LogLevel          string
	LogFormat         string
	SigningSecret     string
	Issuer            string
	CookieName        string
	AdminEmails       []string
	UndoCapacity      int
	DefaultFrameRate  string
	StatusSeedFile    string
	MaxRowsPerProject int
	AllowedOrigins    []string
	ViewIdleTimeout   time.Duration
	MaxViewsPerUser   int
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
	configViper.SetDefault("auth.issuer", defaultIssuer)
	configViper.SetDefault("auth.cookie_name", defaultCookieName)
	configViper.SetDefault("access.admin_emails", []string{})
	configViper.SetDefault("editor.undo_capacity", defaultUndoCapacity)
	configViper.SetDefault("editor.default_frame_rate", defaultFrameRate)
	configViper.SetDefault("registry.seed_file", "")
	configViper.SetDefault("store.max_rows_per_project", defaultMaxRowsPerProject)
	configViper.SetDefault("cors.allowed_origins", []string{defaultAllowedOrigin})
	configViper.SetDefault("views.idle_timeout", defaultViewIdleTimeout)
	configViper.SetDefault("views.max_per_user", defaultMaxViewsPerUser)
}

// Load parses runtime configuration from viper. requireAuth is false for offline
// commands that never validate sessions.
func Load(configViper *viper.Viper, requireAuth bool) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:       configViper.GetString("http.address"),
		DatabasePath:      configViper.GetString("database.path"),
		LogLevel:          configViper.GetString("log.level"),
		LogFormat:         configViper.GetString("log.format"),
		SigningSecret:     configViper.GetString("auth.signing_secret"),
		Issuer:            configViper.GetString("auth.issuer"),
		CookieName:        configViper.GetString("auth.cookie_name"),
		AdminEmails:       splitList(configViper.GetStringSlice("access.admin_emails")),
		UndoCapacity:      configViper.GetInt("editor.undo_capacity"),
		DefaultFrameRate:  strings.TrimSpace(configViper.GetString("editor.default_frame_rate")),
		StatusSeedFile:    strings.TrimSpace(configViper.GetString("registry.seed_file")),
		MaxRowsPerProject: configViper.GetInt("store.max_rows_per_project"),
		AllowedOrigins:    splitList(configViper.GetStringSlice("cors.allowed_origins")),
		ViewIdleTimeout:   configViper.GetDuration("views.idle_timeout"),
		MaxViewsPerUser:   configViper.GetInt("views.max_per_user"),
	}

	if err := cfg.validate(requireAuth); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate(requireAuth bool) error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if _, ok := timecode.ParseFrameRate(c.DefaultFrameRate); !ok {
		return fmt.Errorf("editor.default_frame_rate must be a positive integer, got %q", c.DefaultFrameRate)
	}
	if c.UndoCapacity <= 0 {
		return fmt.Errorf("editor.undo_capacity must be positive")
	}
	if c.MaxRowsPerProject < 0 {
		return fmt.Errorf("store.max_rows_per_project must not be negative")
	}
	if c.ViewIdleTimeout <= 0 {
		return fmt.Errorf("views.idle_timeout must be positive")
	}
	if c.MaxViewsPerUser <= 0 {
		return fmt.Errorf("views.max_per_user must be positive")
	}
	if !requireAuth {
		return nil
	}
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.Issuer) == "" {
		return fmt.Errorf("auth.issuer is required")
	}
	if strings.TrimSpace(c.CookieName) == "" {
		return fmt.Errorf("auth.cookie_name is required")
	}
	return nil
}

// splitList accepts both repeated values and a single comma-separated env value.
func splitList(values []string) []string {
	var items []string
	for _, value := range values {
		for _, item := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(item); trimmed != "" {
				items = append(items, trimmed)
			}
		}
	}
	return items
}

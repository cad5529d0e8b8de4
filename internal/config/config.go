package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix           = "PARLEY"
	defaultHTTPAddress  = "0.0.0.0:8080"
	defaultDatabasePath = "parley.db"
	defaultLogLevel     = "info"

	defaultHeartbeatSeconds   = 30
	defaultIdleTimeoutSeconds = 120
	defaultSweepSeconds       = 60
	defaultTypingClearMillis  = 1000
	defaultHistoryLimit       = 50
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress   string
	SigningSecret string
	DatabasePath  string
	LogLevel      string

	HeartbeatInterval time.Duration
	IdleTimeout       time.Duration
	SweepInterval     time.Duration
	TypingClearDelay  time.Duration
	HistoryLimit      int
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
	configViper.SetDefault("chat.heartbeat_seconds", defaultHeartbeatSeconds)
	configViper.SetDefault("chat.idle_timeout_seconds", defaultIdleTimeoutSeconds)
	configViper.SetDefault("chat.sweep_seconds", defaultSweepSeconds)
	configViper.SetDefault("chat.typing_clear_ms", defaultTypingClearMillis)
	configViper.SetDefault("chat.history_limit", defaultHistoryLimit)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:       configViper.GetString("http.address"),
		SigningSecret:     configViper.GetString("auth.signing_secret"),
		DatabasePath:      configViper.GetString("database.path"),
		LogLevel:          configViper.GetString("log.level"),
		HeartbeatInterval: time.Duration(configViper.GetInt("chat.heartbeat_seconds")) * time.Second,
		IdleTimeout:       time.Duration(configViper.GetInt("chat.idle_timeout_seconds")) * time.Second,
		SweepInterval:     time.Duration(configViper.GetInt("chat.sweep_seconds")) * time.Second,
		TypingClearDelay:  time.Duration(configViper.GetInt("chat.typing_clear_ms")) * time.Millisecond,
		HistoryLimit:      configViper.GetInt("chat.history_limit"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("chat.heartbeat_seconds must be positive")
	}
	if c.IdleTimeout <= 0 {
		return fmt.Errorf("chat.idle_timeout_seconds must be positive")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("chat.sweep_seconds must be positive")
	}
	if c.TypingClearDelay <= 0 {
		return fmt.Errorf("chat.typing_clear_ms must be positive")
	}
	return nil
}

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                 = "FLOOR"
	defaultHTTPAddress        = "0.0.0.0:3000"
	defaultDatabasePath       = "floor.db"
	defaultLogLevel           = "info"
	defaultRetentionCap       = 15
	defaultProbeTimeoutMillis = 3000
	defaultMessageMaxChars    = 100
	defaultDrawingMaxBytes    = 2 << 20
	minimumRetentionCap       = 1
)

// AppConfig captures runtime configuration for the installation backend.
type AppConfig struct {
	HTTPAddress     string
	PublicHostname  string
	DatabasePath    string
	LogLevel        string
	RetentionCap    int
	ProbeTimeout    time.Duration
	MessageMaxChars int
	DrawingMaxBytes int
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
	configViper.SetDefault("http.public_hostname", "")
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("retention.cap", defaultRetentionCap)
	configViper.SetDefault("store.probe_timeout_ms", defaultProbeTimeoutMillis)
	configViper.SetDefault("limits.message_max_chars", defaultMessageMaxChars)
	configViper.SetDefault("limits.drawing_max_bytes", defaultDrawingMaxBytes)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:     configViper.GetString("http.address"),
		PublicHostname:  configViper.GetString("http.public_hostname"),
		DatabasePath:    configViper.GetString("database.path"),
		LogLevel:        configViper.GetString("log.level"),
		RetentionCap:    configViper.GetInt("retention.cap"),
		ProbeTimeout:    time.Duration(configViper.GetInt("store.probe_timeout_ms")) * time.Millisecond,
		MessageMaxChars: configViper.GetInt("limits.message_max_chars"),
		DrawingMaxBytes: configViper.GetInt("limits.drawing_max_bytes"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.RetentionCap < minimumRetentionCap {
		return fmt.Errorf("retention.cap must be at least %d", minimumRetentionCap)
	}
	if c.MessageMaxChars < 1 {
		return fmt.Errorf("limits.message_max_chars must be at least 1")
	}
	if c.DrawingMaxBytes <= 0 {
		return fmt.Errorf("limits.drawing_max_bytes must be positive")
	}
	if c.ProbeTimeout <= 0 {
		return fmt.Errorf("store.probe_timeout_ms must be positive")
	}
	return nil
}

package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	envPrefix            = "CUEBE"
	defaultHTTPAddress   = "0.0.0.0:8080"
	defaultDatabasePath  = "cuebe.db"
	defaultLogLevel      = "info"
	defaultAutoSaveS     = 60
	defaultRetryAttempts = 5
	defaultRetryDelayMS  = 1500
)

// allowedAutoSaveIntervals enumerates the valid autosave countdowns in
// seconds; zero disables autosave.
var allowedAutoSaveIntervals = []int{0, 10, 60, 120, 300}

// AppConfig captures runtime configuration for the sync server.
type AppConfig struct {
	HTTPAddress            string
	AuthSigningSecret      string
	DatabasePath           string
	LogLevel               string
	AutoSaveIntervalS      int
	BroadcastRetryAttempts int
	BroadcastRetryDelayMS  int
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
	configViper.SetDefault("autosave.interval_s", defaultAutoSaveS)
	configViper.SetDefault("broadcast.retry_attempts", defaultRetryAttempts)
	configViper.SetDefault("broadcast.retry_delay_ms", defaultRetryDelayMS)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:            configViper.GetString("http.address"),
		AuthSigningSecret:      configViper.GetString("auth.signing_secret"),
		DatabasePath:           configViper.GetString("database.path"),
		LogLevel:               configViper.GetString("log.level"),
		AutoSaveIntervalS:      configViper.GetInt("autosave.interval_s"),
		BroadcastRetryAttempts: configViper.GetInt("broadcast.retry_attempts"),
		BroadcastRetryDelayMS:  configViper.GetInt("broadcast.retry_delay_ms"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.AuthSigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if !isAllowedInterval(c.AutoSaveIntervalS) {
		return fmt.Errorf("autosave.interval_s must be one of %v", allowedAutoSaveIntervals)
	}
	if c.BroadcastRetryAttempts < 1 {
		return fmt.Errorf("broadcast.retry_attempts must be at least 1")
	}
	if c.BroadcastRetryDelayMS < 0 {
		return fmt.Errorf("broadcast.retry_delay_ms must not be negative")
	}
	return nil
}

func isAllowedInterval(seconds int) bool {
	for _, allowed := range allowedAutoSaveIntervals {
		if seconds == allowed {
			return true
		}
	}
	return false
}

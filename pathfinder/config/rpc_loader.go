package config

import (
	"fmt"
	"strings"

	"github.com/Cogwheel-Validator/spectra-intents/pathfinder/adapters"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable the service reads.
const EnvPrefix = "SPECTRA"

// LoadServiceConfig loads the service config from the given TOML file, or from
// SPECTRA_* environment variables when configPath is nil. Environment variables
// also override file values.
func LoadServiceConfig(configPath *string) (*ServiceConfig, error) {
	v := viper.New()
	setDefaults(v)

	if configPath == nil {
		// if no file expect envs
		config, err := loadEnv(v)
		if err != nil {
			return nil, fmt.Errorf("failed to load env config: %w", err)
		}
		return config, nil
	}
	config, err := loadFile(v, *configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load file config: %w", err)
	}
	return config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 8080)
	v.SetDefault("rate_per_minute", 120)
	v.SetDefault("max_concurrent_requests", 100)
	v.SetDefault("log_level", "info")
	v.SetDefault("service_name", "spectra-intents")
	v.SetDefault("environment", "LOCAL")
	v.SetDefault("param_cache_dir", adapters.DefaultParamCacheDir)
	v.SetDefault("sync_interval", "15s")
	v.SetDefault("redis_key", "spectra:lightclient")
	v.SetDefault("nats_subject_prefix", "spectra.lightclient")
}

func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvKeys(v)
}

func loadEnv(v *viper.Viper) (*ServiceConfig, error) {
	// godot might fail if .env file is missing but
	// env can be applied through docker, systemd or other means, so skip error
	_ = godotenv.Load()
	bindEnv(v)
	return decode(v)
}

// bindEnvKeys binds each config key to its env var so Unmarshal sees env values
// for keys without a default or file value.
func bindEnvKeys(v *viper.Viper) {
	keys := []string{
		"port", "host", "allowed_origins",
		"rate_per_minute", "max_concurrent_requests", "log_level",
		"service_name", "service_version", "environment",
		"enable_tracing", "use_otlp_traces", "otlp_traces_url",
		"enable_metrics", "use_prometheus", "use_otlp_metrics", "otlp_metrics_url",
		"enable_logs", "use_otlp_logs", "otlp_logs_url",
		"insecure_otlp", "development_mode",
		"chain_config", "strict_actions", "param_cache_dir", "sync_interval",
		"redis_url", "redis_key", "nats_url", "nats_subject_prefix",
	}
	for _, k := range keys {
		_ = v.BindEnv(k)
	}
}

func loadFile(v *viper.Viper, configPath string) (*ServiceConfig, error) {
	if !strings.HasSuffix(configPath, ".toml") {
		return nil, fmt.Errorf("config file must be a toml file")
	}

	v.SetConfigFile(configPath)
	v.SetConfigType("toml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	bindEnv(v)
	return decode(v)
}

func decode(v *viper.Viper) (*ServiceConfig, error) {
	var config ServiceConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := verifyConfig(&config); err != nil {
		return nil, fmt.Errorf("failed to verify config: %w", err)
	}
	return &config, nil
}

func verifyConfig(config *ServiceConfig) error {
	if config.Port <= 0 || config.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}

	if config.Host == "" {
		return fmt.Errorf("host is required")
	}

	if len(config.AllowedOrigins) == 0 {
		return fmt.Errorf("allowed_origins is required")
	}

	if config.ChainConfig == "" {
		return fmt.Errorf("chain_config is required")
	}

	if config.SyncInterval <= 0 {
		return fmt.Errorf("sync_interval must be positive")
	}

	if _, err := zerolog.ParseLevel(config.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level %q: %w", config.LogLevel, err)
	}

	return nil
}

// ApplyLogLevel sets the global zerolog level from the config.
func (c *ServiceConfig) ApplyLogLevel() {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

package config

import (
	"fmt"
	"time"

	"github.com/Cogwheel-Validator/spectra-intents/pathfinder/adapters"
	"github.com/Cogwheel-Validator/spectra-intents/pathfinder/intent"
	"github.com/Cogwheel-Validator/spectra-intents/pathfinder/lightclient"
	models "github.com/Cogwheel-Validator/spectra-intents/pathfinder/models"
)

type ServiceConfig struct {
	// rpc configs
	Port int    `toml:"port" mapstructure:"port"`
	Host string `toml:"host" mapstructure:"host"`

	// CORS configs
	AllowedOrigins []string `toml:"allowed_origins" mapstructure:"allowed_origins"`

	// rate limiting configs
	RatePerMinute         int `toml:"rate_per_minute" mapstructure:"rate_per_minute"`
	MaxConcurrentRequests int `toml:"max_concurrent_requests" mapstructure:"max_concurrent_requests"`

	// trace, debug, info, warn or error
	LogLevel string `toml:"log_level" mapstructure:"log_level"`

	// OpenTelemetry configs
	ServiceName    string `toml:"service_name" mapstructure:"service_name"`
	ServiceVersion string `toml:"service_version" mapstructure:"service_version"`
	Environment    string `toml:"environment" mapstructure:"environment"` // PROD, DEV, TEST, LOCAL
	EnableTracing  bool   `toml:"enable_tracing" mapstructure:"enable_tracing"`
	UseOTLPTraces  bool   `toml:"use_otlp_traces" mapstructure:"use_otlp_traces"`
	OTLPTracesURL  string `toml:"otlp_traces_url" mapstructure:"otlp_traces_url"`
	EnableMetrics  bool   `toml:"enable_metrics" mapstructure:"enable_metrics"`
	UsePrometheus  bool   `toml:"use_prometheus" mapstructure:"use_prometheus"`
	UseOTLPMetrics bool   `toml:"use_otlp_metrics" mapstructure:"use_otlp_metrics"`
	OTLPMetricsURL string `toml:"otlp_metrics_url" mapstructure:"otlp_metrics_url"`
	EnableLogs     bool   `toml:"enable_logs" mapstructure:"enable_logs"`
	UseOTLPLogs    bool   `toml:"use_otlp_logs" mapstructure:"use_otlp_logs"`
	OTLPLogsURL    string `toml:"otlp_logs_url" mapstructure:"otlp_logs_url"`

	InsecureOTLP bool `toml:"insecure_otlp" mapstructure:"insecure_otlp"`

	// Development mode uses stdout exporters
	DevelopmentMode bool `toml:"development_mode" mapstructure:"development_mode"`

	// chain graph, adapters and light clients
	ChainConfig string `toml:"chain_config" mapstructure:"chain_config"`
	// unknown action names fail translation instead of becoming generic
	StrictActions bool `toml:"strict_actions" mapstructure:"strict_actions"`
	// where downloaded verification keys are cached
	ParamCacheDir string `toml:"param_cache_dir" mapstructure:"param_cache_dir"`
	// how often adapters relay new headers to their light clients
	SyncInterval time.Duration `toml:"sync_interval" mapstructure:"sync_interval"`

	// light-client snapshots, empty keeps them in memory
	RedisURL string `toml:"redis_url" mapstructure:"redis_url"`
	RedisKey string `toml:"redis_key" mapstructure:"redis_key"`

	// light-client events, empty disables publishing
	NATSURL           string `toml:"nats_url" mapstructure:"nats_url"`
	NATSSubjectPrefix string `toml:"nats_subject_prefix" mapstructure:"nats_subject_prefix"`
}

// Duration reads "90s" style strings from TOML.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// GraphConfig is the chain graph file: chains with their light clients and
// adapters, the bridges between them and named parameter files.
type GraphConfig struct {
	Chains []ChainConfig                   `toml:"chains" json:"chains"`
	Edges  []EdgeConfig                    `toml:"edges" json:"edges"`
	Params map[string]adapters.ParamSource `toml:"params" json:"params"`
}

type ChainConfig struct {
	Name     string `toml:"name" json:"name"`
	ChainID  string `toml:"chain_id" json:"chain_id"`
	Finality uint32 `toml:"finality" json:"finality"`
	// Hash selects the light-client hasher. Empty means the chain has no header light client.
	Hash       lightclient.HashAlgo `toml:"hash" json:"hash"`
	RootWindow int                  `toml:"root_window" json:"root_window"`
	// Defaults replaces the built-in translator defaults for the chain
	Defaults *intent.ChainDefaults `toml:"defaults" json:"defaults"`
	Adapter  *AdapterConfig        `toml:"adapter" json:"adapter"`
}

// AdapterConfig selects and configures the adapter driving a chain.
type AdapterConfig struct {
	// evm, cosmos or utxo
	Kind     string   `toml:"kind" json:"kind"`
	Endpoint string   `toml:"endpoint" json:"endpoint"`
	Backups  []string `toml:"backups" json:"backups"`

	// cosmos
	Prefix         string `toml:"prefix" json:"prefix"`
	Denom          string `toml:"denom" json:"denom"`
	SourceDecimals int32  `toml:"source_decimals" json:"source_decimals"`

	// utxo
	Network   string `toml:"network" json:"network"`
	User      string `toml:"user" json:"user"`
	Pass      string `toml:"pass" json:"pass"`
	SyncBatch int    `toml:"sync_batch" json:"sync_batch"`

	Transport *TransportConfig `toml:"transport" json:"transport"`
}

// TransportConfig overrides adapters.DefaultTransportConfig field by field.
type TransportConfig struct {
	MaxRetries          *uint    `toml:"max_retries" json:"max_retries"`
	RetryDelay          Duration `toml:"retry_delay" json:"retry_delay"`
	MaxRetryDelay       Duration `toml:"max_retry_delay" json:"max_retry_delay"`
	Timeout             Duration `toml:"timeout" json:"timeout"`
	HealthPath          string   `toml:"health_path" json:"health_path"`
	HealthCheckInterval Duration `toml:"health_check_interval" json:"health_check_interval"`
	RequestsPerSecond   float64  `toml:"requests_per_second" json:"requests_per_second"`
	Burst               int      `toml:"burst" json:"burst"`
	BreakerFailures     uint32   `toml:"breaker_failures" json:"breaker_failures"`
	BreakerCooldown     Duration `toml:"breaker_cooldown" json:"breaker_cooldown"`
}

// Resolve applies the overrides on top of the defaults.
func (t *TransportConfig) Resolve() adapters.TransportConfig {
	out := adapters.DefaultTransportConfig()
	if t == nil {
		return out
	}
	if t.MaxRetries != nil {
		out.MaxRetries = *t.MaxRetries
	}
	if t.RetryDelay > 0 {
		out.RetryDelay = time.Duration(t.RetryDelay)
	}
	if t.MaxRetryDelay > 0 {
		out.MaxRetryDelay = time.Duration(t.MaxRetryDelay)
	}
	if t.Timeout > 0 {
		out.Timeout = time.Duration(t.Timeout)
	}
	if t.HealthPath != "" {
		out.HealthPath = t.HealthPath
	}
	if t.HealthCheckInterval > 0 {
		out.HealthCheckInterval = time.Duration(t.HealthCheckInterval)
	}
	if t.RequestsPerSecond > 0 {
		out.RequestsPerSecond = t.RequestsPerSecond
	}
	if t.Burst > 0 {
		out.Burst = t.Burst
	}
	if t.BreakerFailures > 0 {
		out.BreakerFailures = t.BreakerFailures
	}
	if t.BreakerCooldown > 0 {
		out.BreakerCooldown = time.Duration(t.BreakerCooldown)
	}
	return out
}

type EdgeConfig struct {
	From    string            `toml:"from" json:"from"`
	To      string            `toml:"to" json:"to"`
	Bridge  models.BridgeType `toml:"bridge" json:"bridge"`
	Cost    uint64            `toml:"cost" json:"cost"`
	Latency Duration          `toml:"latency" json:"latency"`
}

func (e EdgeConfig) String() string {
	return fmt.Sprintf("%s->%s (%s)", e.From, e.To, e.Bridge)
}

package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	. "github.com/Cogwheel-Validator/spectra-intents/pathfinder/config"
	"github.com/rs/zerolog"
	"github.com/zeebo/assert"
)

// clearSpectraEnv blanks SPECTRA_* variables for the duration of the test.
func clearSpectraEnv(t *testing.T) {
	t.Helper()
	for _, e := range os.Environ() {
		if !strings.HasPrefix(e, EnvPrefix+"_") {
			continue
		}
		if idx := strings.Index(e, "="); idx != -1 {
			t.Setenv(e[:idx], "")
		}
	}
	// keep a stray .env from leaking into the loader
	t.Chdir(t.TempDir())
}

func TestLoadServiceConfig_FromEnv_Success(t *testing.T) {
	clearSpectraEnv(t)
	t.Setenv("SPECTRA_PORT", "9000")
	t.Setenv("SPECTRA_ALLOWED_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("SPECTRA_CHAIN_CONFIG", "/etc/spectra/chains.toml")
	t.Setenv("SPECTRA_SYNC_INTERVAL", "30s")
	t.Setenv("SPECTRA_LOG_LEVEL", "debug")
	t.Setenv("SPECTRA_REDIS_URL", "redis://localhost:6379/0")

	cfg, err := LoadServiceConfig(nil)
	assert.NoError(t, err)
	assert.Equal(t, cfg.Port, 9000)
	// defaults fill what the environment leaves out
	assert.Equal(t, cfg.Host, "0.0.0.0")
	assert.Equal(t, cfg.RatePerMinute, 120)
	assert.Equal(t, cfg.ParamCacheDir, "~/.chain-params")
	assert.Equal(t, cfg.RedisKey, "spectra:lightclient")

	assert.Equal(t, len(cfg.AllowedOrigins), 2)
	assert.Equal(t, cfg.AllowedOrigins[1], "https://b.example")
	assert.Equal(t, cfg.ChainConfig, "/etc/spectra/chains.toml")
	assert.Equal(t, cfg.SyncInterval, 30*time.Second)
	assert.Equal(t, cfg.RedisURL, "redis://localhost:6379/0")

	prev := zerolog.GlobalLevel()
	defer zerolog.SetGlobalLevel(prev)
	cfg.ApplyLogLevel()
	assert.Equal(t, zerolog.GlobalLevel(), zerolog.DebugLevel)
}

func TestLoadServiceConfig_FromEnv_FailVerification(t *testing.T) {
	clearSpectraEnv(t)
	// missing chain config
	t.Setenv("SPECTRA_ALLOWED_ORIGINS", "*")

	_, err := LoadServiceConfig(nil)
	assert.Error(t, err)

	t.Setenv("SPECTRA_CHAIN_CONFIG", "chains.toml")
	t.Setenv("SPECTRA_LOG_LEVEL", "loud")
	_, err = LoadServiceConfig(nil)
	assert.Error(t, err)
}

func TestLoadServiceConfig_FromFile_Success(t *testing.T) {
	clearSpectraEnv(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "service.toml")
	content := `
port = 9090
host = "127.0.0.1"
allowed_origins = ["https://example.com"]
chain_config = "chains.toml"
strict_actions = true
sync_interval = "1m"
nats_url = "nats://127.0.0.1:4222"
enable_tracing = true
`
	assert.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadServiceConfig(&path)
	assert.NoError(t, err)
	assert.Equal(t, cfg.Port, 9090)
	assert.Equal(t, cfg.Host, "127.0.0.1")
	assert.True(t, cfg.StrictActions)
	assert.True(t, cfg.EnableTracing)
	assert.Equal(t, cfg.SyncInterval, time.Minute)
	assert.Equal(t, cfg.NATSURL, "nats://127.0.0.1:4222")
	assert.Equal(t, cfg.NATSSubjectPrefix, "spectra.lightclient")

	// the environment wins over the file
	t.Setenv("SPECTRA_PORT", "7000")
	cfg, err = LoadServiceConfig(&path)
	assert.NoError(t, err)
	assert.Equal(t, cfg.Port, 7000)
}

func TestLoadServiceConfig_FromFile_Errors(t *testing.T) {
	clearSpectraEnv(t)
	dir := t.TempDir()

	yaml := filepath.Join(dir, "service.yaml")
	assert.NoError(t, os.WriteFile(yaml, []byte("port: 1"), 0o600))
	_, err := LoadServiceConfig(&yaml)
	assert.Error(t, err)

	missing := filepath.Join(dir, "missing.toml")
	_, err = LoadServiceConfig(&missing)
	assert.Error(t, err)

	badPort := filepath.Join(dir, "port.toml")
	content := `
port = 70000
allowed_origins = ["*"]
chain_config = "chains.toml"
`
	assert.NoError(t, os.WriteFile(badPort, []byte(content), 0o600))
	_, err = LoadServiceConfig(&badPort)
	assert.Error(t, err)
}

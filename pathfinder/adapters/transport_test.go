package adapters_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Cogwheel-Validator/spectra-intents/pathfinder/adapters"
	models "github.com/Cogwheel-Validator/spectra-intents/pathfinder/models"
	"github.com/zeebo/assert"
)

func fastConfig() adapters.TransportConfig {
	cfg := adapters.DefaultTransportConfig()
	cfg.RetryDelay = time.Millisecond
	cfg.MaxRetryDelay = 5 * time.Millisecond
	cfg.RequestsPerSecond = 1000
	cfg.Burst = 100
	cfg.HealthCheckInterval = 0
	return cfg
}

func TestTransportRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	tr, err := adapters.NewTransport("test", srv.URL, nil, fastConfig())
	assert.NoError(t, err)
	defer tr.Close()

	body, err := tr.Get(t.Context(), "/status")
	assert.NoError(t, err)
	assert.Equal(t, string(body), "ok")
	assert.Equal(t, calls.Load(), int32(3))
}

func TestTransportDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	tr, err := adapters.NewTransport("test", srv.URL, nil, fastConfig())
	assert.NoError(t, err)
	defer tr.Close()

	_, err = tr.Get(t.Context(), "/")
	assert.True(t, errors.Is(err, models.ErrNetwork))
	var status *adapters.StatusError
	assert.True(t, errors.As(err, &status))
	assert.Equal(t, status.Code, http.StatusBadRequest)
	assert.Equal(t, calls.Load(), int32(1))
}

func TestTransportKeepsCallerErrorKinds(t *testing.T) {
	tr, err := adapters.NewTransport("test", "http://127.0.0.1:1", nil, fastConfig())
	assert.NoError(t, err)
	defer tr.Close()

	calls := 0
	err = tr.Call(t.Context(), func(context.Context, string) error {
		calls++
		return models.NewError(models.KindTranslation, "bad payload")
	})
	assert.True(t, errors.Is(err, models.ErrTranslation))
	assert.False(t, errors.Is(err, models.ErrNetwork))
	assert.Equal(t, calls, 1)

	calls = 0
	err = tr.Call(t.Context(), func(context.Context, string) error {
		calls++
		return errors.New("connection reset")
	})
	assert.True(t, errors.Is(err, models.ErrNetwork))
	assert.True(t, models.KindOf(err) == models.KindNetwork)
	assert.Equal(t, calls, 3)
}

func TestTransportFailover(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer down.Close()
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("backup"))
	}))
	defer up.Close()

	tr, err := adapters.NewTransport("test", down.URL, []string{"::bad", up.URL}, fastConfig())
	assert.NoError(t, err)
	defer tr.Close()

	body, err := tr.Get(t.Context(), "/")
	assert.NoError(t, err)
	assert.Equal(t, string(body), "backup")
	assert.Equal(t, tr.Endpoint(), up.URL)
}

func TestTransportBreakerOpens(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxRetries = 0
	cfg.BreakerFailures = 2
	cfg.BreakerCooldown = time.Hour
	tr, err := adapters.NewTransport("test", "http://127.0.0.1:1", nil, cfg)
	assert.NoError(t, err)
	defer tr.Close()

	fail := func(context.Context, string) error { return errors.New("refused") }
	for i := 0; i < 2; i++ {
		assert.Error(t, tr.Call(t.Context(), fail))
	}
	assert.Equal(t, tr.BreakerState(), "open")

	reached := false
	err = tr.Call(t.Context(), func(context.Context, string) error {
		reached = true
		return nil
	})
	assert.True(t, errors.Is(err, models.ErrNetwork))
	assert.False(t, reached)
}

func TestTransportRejectsBadEndpoint(t *testing.T) {
	_, err := adapters.NewTransport("test", "localhost", nil, fastConfig())
	assert.Error(t, err)
}

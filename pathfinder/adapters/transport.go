package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	models "github.com/Cogwheel-Validator/spectra-intents/pathfinder/models"
	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// TransportConfig controls retries, failover, the circuit breaker and rate limiting.
type TransportConfig struct {
	// MaxRetries is the number of retries after the first attempt on the current endpoint
	MaxRetries uint
	// RetryDelay is the first backoff interval, MaxRetryDelay caps it
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
	// Timeout is the HTTP request timeout
	Timeout time.Duration
	// HealthPath is probed on an endpoint before failing over to it. Empty skips the probe.
	HealthPath string
	// HealthCheckInterval is how often to check whether the primary endpoint is back
	HealthCheckInterval time.Duration
	RequestsPerSecond   float64
	Burst               int
	// BreakerFailures consecutive failures open the breaker for BreakerCooldown
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

// DefaultTransportConfig returns the defaults used when a chain config sets nothing.
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		MaxRetries:          2,
		RetryDelay:          500 * time.Millisecond,
		MaxRetryDelay:       5 * time.Second,
		Timeout:             10 * time.Second,
		HealthCheckInterval: 30 * time.Second,
		RequestsPerSecond:   20,
		Burst:               10,
		BreakerFailures:     5,
		BreakerCooldown:     30 * time.Second,
	}
}

// CallFunc performs one request against endpoint.
type CallFunc func(ctx context.Context, endpoint string) error

// Transport wraps network calls of one adapter. It retries retryable failures with
// exponential backoff, fails over between a primary and backup endpoints, trips a
// circuit breaker on repeated failures and rate limits outgoing requests. Every
// error it returns is a *models.Error.
type Transport struct {
	name       string
	httpClient *http.Client
	primaryURL string
	backupURLs []string
	currentURL string
	mu         sync.RWMutex
	cfg        TransportConfig
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	health     *healthChecker
}

// StatusError is a non-2xx HTTP response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Code, e.Body)
}

// Temporary reports whether the request may succeed when repeated.
func (e *StatusError) Temporary() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests
}

// NewTransport creates a transport for primaryURL with optional backups.
func NewTransport(name, primaryURL string, backupURLs []string, cfg TransportConfig) (*Transport, error) {
	if err := checkEndpoint(primaryURL); err != nil {
		return nil, fmt.Errorf("%s primary endpoint: %w", name, err)
	}
	validBackups := make([]string, 0, len(backupURLs))
	for _, u := range backupURLs {
		if err := checkEndpoint(u); err != nil {
			log.Warn().Err(err).Str("url", u).Msg("Invalid backup URL, skipping")
			continue
		}
		validBackups = append(validBackups, strings.TrimRight(u, "/"))
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = DefaultTransportConfig().RequestsPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = DefaultTransportConfig().BreakerFailures
	}

	t := &Transport{
		name:       name,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		primaryURL: strings.TrimRight(primaryURL, "/"),
		backupURLs: validBackups,
		cfg:        cfg,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
	}
	t.currentURL = t.primaryURL
	t.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		// caller mistakes say nothing about the endpoint
		IsSuccessful: func(err error) bool {
			return err == nil || !retryable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("transport", name).Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state changed")
		},
	})

	if len(validBackups) > 0 && cfg.HealthCheckInterval > 0 {
		t.health = &healthChecker{transport: t, stopCh: make(chan struct{}), stoppedCh: make(chan struct{})}
		t.health.start()
	}

	log.Info().
		Str("transport", name).
		Str("primary", t.primaryURL).
		Int("backups", len(validBackups)).
		Msg("Transport initialized")
	return t, nil
}

func checkEndpoint(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("endpoint %q needs a scheme and a host", raw)
	}
	return nil
}

// Endpoint returns the endpoint requests currently go to.
func (t *Transport) Endpoint() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.currentURL
}

// BreakerState reports the circuit breaker state, e.g. "closed".
func (t *Transport) BreakerState() string {
	return t.breaker.State().String()
}

// Close stops the health checker.
func (t *Transport) Close() {
	if t.health != nil {
		t.health.stop()
	}
}

// Call runs op with retries and failover. Errors op tags with a kind other than
// NetworkError are returned at once; anything else becomes a NetworkError.
func (t *Transport) Call(ctx context.Context, op CallFunc) error {
	err := t.retry(ctx, op)
	if err != nil && retryable(err) && len(t.backupURLs) > 0 && t.failover() {
		err = t.attempt(ctx, op)
	}
	return t.wrap(err)
}

func (t *Transport) retry(ctx context.Context, op CallFunc) error {
	b := backoff.NewExponentialBackOff()
	if t.cfg.RetryDelay > 0 {
		b.InitialInterval = t.cfg.RetryDelay
	}
	if t.cfg.MaxRetryDelay > 0 {
		b.MaxInterval = t.cfg.MaxRetryDelay
	}
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := t.attempt(ctx, op)
		if err != nil && !retryable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(t.cfg.MaxRetries+1))
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return permanent.Err
	}
	return err
}

func (t *Transport) attempt(ctx context.Context, op CallFunc) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := t.breaker.Execute(func() (interface{}, error) {
		return nil, op(ctx, t.Endpoint())
	})
	return err
}

// retryable reports whether a failed call may succeed when repeated.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var status *StatusError
	if errors.As(err, &status) {
		return status.Temporary()
	}
	var tagged *models.Error
	if errors.As(err, &tagged) {
		return tagged.Retryable()
	}
	return true
}

func (t *Transport) wrap(err error) error {
	if err == nil {
		return nil
	}
	var tagged *models.Error
	if errors.As(err, &tagged) {
		return err
	}
	return models.WrapError(models.KindNetwork, t.name, err)
}

// failover switches to the next healthy endpoint.
func (t *Transport) failover() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	all := append([]string{t.primaryURL}, t.backupURLs...)
	current := -1
	for i, u := range all {
		if u == t.currentURL {
			current = i
			break
		}
	}
	for i := 1; i <= len(all); i++ {
		next := all[(current+i)%len(all)]
		if next == t.currentURL {
			continue
		}
		if t.isEndpointHealthy(next) {
			t.currentURL = next
			log.Info().Str("transport", t.name).Str("url", next).Msg("Failover to endpoint")
			return true
		}
	}
	log.Warn().Str("transport", t.name).Str("url", t.currentURL).Msg("All endpoints unhealthy, staying on current")
	return false
}

func (t *Transport) isEndpointHealthy(endpoint string) bool {
	if t.cfg.HealthPath == "" {
		return true
	}
	resp, err := t.httpClient.Get(endpoint + t.cfg.HealthPath)
	if err != nil {
		log.Debug().Err(err).Str("url", endpoint).Msg("Health check failed")
		return false
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	return resp.StatusCode == http.StatusOK
}

// Get fetches path from the current endpoint and returns the body of a 2xx response.
func (t *Transport) Get(ctx context.Context, path string) ([]byte, error) {
	return t.do(ctx, http.MethodGet, path, nil)
}

// PostJSON posts body encoded as JSON to path.
func (t *Transport) PostJSON(ctx context.Context, path string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, models.WrapError(models.KindTranslation, "encode request body", err)
	}
	return t.do(ctx, http.MethodPost, path, payload)
}

func (t *Transport) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var out []byte
	err := t.Call(ctx, func(ctx context.Context, endpoint string) error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint+path, reader)
		if err != nil {
			return models.WrapError(models.KindTranslation, "build request", err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		resp, err := t.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer func() {
			_ = resp.Body.Close()
		}()
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return &StatusError{Code: resp.StatusCode, Body: string(data)}
		}
		out = data
		return nil
	})
	return out, err
}

// healthChecker periodically checks whether the primary endpoint is healthy again.
type healthChecker struct {
	transport *Transport
	stopCh    chan struct{}
	stoppedCh chan struct{}
	once      sync.Once
}

func (h *healthChecker) start() {
	go func() {
		defer close(h.stoppedCh)
		ticker := time.NewTicker(h.transport.cfg.HealthCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-h.stopCh:
				return
			case <-ticker.C:
				h.checkAndRestore()
			}
		}
	}()
}

func (h *healthChecker) stop() {
	h.once.Do(func() {
		close(h.stopCh)
		<-h.stoppedCh
	})
}

func (h *healthChecker) checkAndRestore() {
	t := h.transport
	t.mu.RLock()
	onPrimary := t.currentURL == t.primaryURL
	t.mu.RUnlock()
	if onPrimary {
		return
	}
	if t.isEndpointHealthy(t.primaryURL) {
		t.mu.Lock()
		t.currentURL = t.primaryURL
		t.mu.Unlock()
		log.Info().Str("transport", t.name).Str("url", t.primaryURL).Msg("Restored primary endpoint")
	}
}

package rpc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"connectrpc.com/connect"
	"connectrpc.com/otelconnect"
	"github.com/Cogwheel-Validator/spectra-intents/pathfinder/intent"
	"github.com/Cogwheel-Validator/spectra-intents/pathfinder/router"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

var Logger zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	Logger = zerolog.New(out).With().Timestamp().Str("component", "rpc").Logger()
}

// SetLogger allows setting a custom logger
func SetLogger(l zerolog.Logger) {
	Logger = l
}

// ServerConfig holds configuration for the RPC server
type ServerConfig struct {
	Address               string
	AllowedOrigins        []string
	EnableMetrics         bool
	RatePerMinute         int
	MaxConcurrentRequests int
	RequestTimeout        time.Duration
	OTelConfig            *OTelConfig
}

// DefaultServerConfig returns a default server configuration
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Address:               "localhost:8080",
		AllowedOrigins:        []string{"http://localhost:3000", "http://localhost:8080"},
		EnableMetrics:         true,
		MaxConcurrentRequests: 200,
		RequestTimeout:        60 * time.Second,
		OTelConfig:            DefaultOTelConfig(),
	}
}

// Server wraps the HTTP server and provides lifecycle management
type Server struct {
	config       *ServerConfig
	httpServer   *http.Server
	handler      http.Handler
	otelShutdown func(context.Context) error
}

// NewServer creates the RPC server for r. translator may be nil.
func NewServer(
	ctx context.Context,
	config *ServerConfig,
	r *router.Router,
	translator *intent.Translator,
) (*Server, error) {
	if config == nil {
		config = DefaultServerConfig()
	}
	if r == nil {
		return nil, errors.New("router is required")
	}

	var otelShutdown func(context.Context) error
	if config.OTelConfig.enabled() {
		shutdown, err := NewOTelSDK(ctx, config.OTelConfig)
		if err != nil {
			// serve without telemetry rather than not at all
			Logger.Error().Err(err).Msg("Failed to initialize OpenTelemetry")
		} else {
			otelShutdown = shutdown
		}
	}

	mux := chi.NewMux()
	mux.Use(middleware.RequestID)
	mux.Use(accessLog)
	mux.Use(recoverPanics)
	mux.Use(realIPMiddleware)
	mux.Use(middleware.Compress(5))
	if config.RequestTimeout > 0 {
		mux.Use(middleware.Timeout(config.RequestTimeout))
	}
	if config.RatePerMinute > 0 {
		mux.Use(httprate.LimitByIP(config.RatePerMinute, time.Minute))
	}
	if config.MaxConcurrentRequests > 0 {
		mux.Use(middleware.Throttle(config.MaxConcurrentRequests))
	}

	if config.EnableMetrics || (config.OTelConfig != nil && config.OTelConfig.UsePrometheus) {
		mux.Handle("/server/metrics", promhttp.Handler())
	}
	mux.HandleFunc("/server/health", func(w http.ResponseWriter, _ *http.Request) {
		writeStatus(w, http.StatusOK, `{"status":"healthy","service":"spectra-intents"}`)
	})
	// ready once at least one chain can be driven
	mux.HandleFunc("/server/ready", func(w http.ResponseWriter, _ *http.Request) {
		if len(r.Adapters().Chains()) == 0 {
			writeStatus(w, http.StatusServiceUnavailable, `{"status":"no adapters"}`)
			return
		}
		writeStatus(w, http.StatusOK, `{"status":"ready"}`)
	})

	opts := []connect.HandlerOption{
		connect.WithCodec(jsonCodec{}),
		connect.WithRecover(recoverHandler),
		connect.WithInterceptors(loggingInterceptor(), validationInterceptor(), noCacheInterceptor()),
	}
	if config.OTelConfig != nil && config.OTelConfig.EnableTracing {
		otelInterceptor, err := otelconnect.NewInterceptor()
		if err != nil {
			Logger.Warn().Err(err).Msg("Failed to create OTEL interceptor, continuing without it")
		} else {
			opts = append(opts, connect.WithInterceptors(otelInterceptor))
		}
	}
	mountIntentService(mux, NewIntentServer(r, translator), opts...)

	handler := newCORSHandler(config.AllowedOrigins, mux)
	writeTimeout := 30 * time.Second
	if config.RequestTimeout > 0 {
		writeTimeout = config.RequestTimeout + 5*time.Second
	}
	httpServer := &http.Server{
		Addr:              config.Address,
		Handler:           h2c.NewHandler(handler, &http2.Server{}),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       120 * time.Second,
	}

	return &Server{
		config:       config,
		httpServer:   httpServer,
		handler:      httpServer.Handler,
		otelShutdown: otelShutdown,
	}, nil
}

func mountIntentService(mux chi.Router, s *IntentServer, opts ...connect.HandlerOption) {
	mux.Handle(RouteIntentProcedure, connect.NewUnaryHandler(RouteIntentProcedure, s.RouteIntent, opts...))
	mux.Handle(SubmitIntentProcedure, connect.NewUnaryHandler(SubmitIntentProcedure, s.SubmitIntent, opts...))
	mux.Handle(VerifyStateProcedure, connect.NewUnaryHandler(VerifyStateProcedure, s.VerifyState, opts...))
	mux.Handle(ListRoutesProcedure, connect.NewUnaryHandler(ListRoutesProcedure, s.ListRoutes, opts...))
	mux.Handle(ListChainsProcedure, connect.NewUnaryHandler(ListChainsProcedure, s.ListChains, opts...))
	mux.Handle(LightClientStatusProcedure, connect.NewUnaryHandler(LightClientStatusProcedure, s.LightClientStatus, opts...))
	mux.Handle(QueryBalanceProcedure, connect.NewUnaryHandler(QueryBalanceProcedure, s.QueryBalance, opts...))
}

func writeStatus(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

// Handler returns the complete handler chain, for embedding or tests.
func (s *Server) Handler() http.Handler { return s.handler }

// Start begins serving RPC requests without TLS
func (s *Server) Start() error {
	s.logServerInfo("http")
	return s.httpServer.ListenAndServe()
}

// StartTLS begins serving RPC requests with TLS
func (s *Server) StartTLS(certFile, keyFile string) error {
	s.logServerInfo("https")
	return s.httpServer.ListenAndServeTLS(certFile, keyFile)
}

func (s *Server) logServerInfo(protocol string) {
	Logger.Info().
		Str("address", s.config.Address).
		Str("protocol", protocol).
		Str("service", "/"+ServiceName+"/*").
		Msg("Spectra intents RPC server starting")
}

// Shutdown stops accepting requests, waits for in-flight ones and flushes telemetry.
func (s *Server) Shutdown(ctx context.Context) error {
	Logger.Info().Msg("Shutting down RPC server...")
	err := s.httpServer.Shutdown(ctx)
	if err != nil {
		Logger.Error().Err(err).Msg("Error shutting down HTTP server")
	}
	if s.otelShutdown != nil {
		if oerr := s.otelShutdown(ctx); oerr != nil {
			Logger.Error().Err(oerr).Msg("Error shutting down OpenTelemetry")
			err = errors.Join(err, oerr)
		}
	}
	return err
}

// recoverHandler turns panics in handlers into Internal without exposing details.
func recoverHandler(_ context.Context, spec connect.Spec, _ http.Header, p any) error {
	Logger.Error().
		Interface("panic", p).
		Str("procedure", spec.Procedure).
		Msg("Panic in RPC handler")
	return connect.NewError(connect.CodeInternal, fmt.Errorf("internal server error"))
}

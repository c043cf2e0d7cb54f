package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/Cogwheel-Validator/spectra-intents/pathfinder/adapters"
	"github.com/Cogwheel-Validator/spectra-intents/pathfinder/config"
	"github.com/Cogwheel-Validator/spectra-intents/pathfinder/events"
	"github.com/Cogwheel-Validator/spectra-intents/pathfinder/lightclient"
	models "github.com/Cogwheel-Validator/spectra-intents/pathfinder/models"
	"github.com/Cogwheel-Validator/spectra-intents/pathfinder/rpc"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// maxHeadersPerTick bounds how far one syncer catches up before yielding.
const maxHeadersPerTick = 32

var log zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log = zerolog.New(out).With().Timestamp().Logger()

	// Share the logger with the RPC package
	rpc.SetLogger(log)
}

func main() {
	configPath := flag.String("config", "", "service config file (.toml), empty reads SPECTRA_* environment variables")
	flag.Parse()
	if *configPath == "" {
		configPath = nil
	}

	cfg, err := config.LoadServiceConfig(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load service config")
	}
	cfg.ApplyLogLevel()

	log.Info().
		Str("chains_config", cfg.ChainConfig).
		Str("environment", cfg.Environment).
		Msg("Starting Spectra intent router")

	loader := config.NewChainConfigLoader()
	graph, err := loader.LoadFromFile(cfg.ChainConfig)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load chain config")
	}
	log.Info().
		Int("chains", len(graph.Chains)).
		Int("edges", len(graph.Edges)).
		Msg("Loaded chain graph")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	manager, closeManager, err := buildManager(cfg, graph)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to set up light-client manager")
	}
	defer closeManager()

	restored, err := manager.Restore(ctx)
	if err != nil {
		// a cold start only costs a fresh bootstrap
		log.Warn().Err(err).Msg("Failed to restore light-client snapshots")
	} else if restored > 0 {
		log.Info().Int("clients", restored).Msg("Restored light-client snapshots")
	}
	if err := loader.RegisterLightClients(ctx, graph, manager); err != nil {
		log.Fatal().Err(err).Msg("Failed to register light clients")
	}

	asm, err := loader.InitializeRouter(graph, manager, cfg.StrictActions)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize router")
	}
	defer asm.Close()
	log.Info().
		Strs("adapters", asm.Router.Adapters().Chains()).
		Strs("light_clients", manager.ListChains()).
		Msg("Router ready")

	server, err := rpc.NewServer(ctx, buildServerConfig(cfg), asm.Router, asm.Translator)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create RPC server")
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range asm.Syncers {
		g.Go(func() error {
			runSyncer(gctx, s, cfg.SyncInterval)
			return nil
		})
	}
	g.Go(func() error {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Received shutdown signal")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Server error")
	}
	log.Info().Msg("Stopped")
}

// buildManager wires the snapshot store, event publisher and verification-key
// loader the service config asks for. The returned func releases them.
func buildManager(cfg *config.ServiceConfig, graph *config.GraphConfig) (*lightclient.Manager, func(), error) {
	var closers []func() error
	closeAll := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				log.Warn().Err(err).Msg("Close failed")
			}
		}
	}

	var store lightclient.SnapshotStore = lightclient.NewMemoryStore()
	if cfg.RedisURL != "" {
		rs, err := lightclient.NewRedisStore(cfg.RedisURL, cfg.RedisKey)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, rs.Close)
		store = rs
		log.Info().Str("key", cfg.RedisKey).Msg("Light-client snapshots kept in redis")
	}

	var publisher events.Publisher = events.Noop{}
	if cfg.NATSURL != "" {
		np, err := events.NewNATSPublisher(cfg.NATSURL, cfg.NATSSubjectPrefix, 5*time.Second)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		closers = append(closers, np.Close)
		publisher = np
		log.Info().Str("prefix", cfg.NATSSubjectPrefix).Msg("Light-client events published to NATS")
	}

	params, err := adapters.NewCachedLoader(cfg.ParamCacheDir, graph.ParamSources())
	if err != nil {
		closeAll()
		return nil, nil, err
	}

	manager := lightclient.NewManager(
		lightclient.WithStore(store),
		lightclient.WithPublisher(publisher),
		lightclient.WithParamLoader(params),
	)
	return manager, closeAll, nil
}

// runSyncer relays headers every interval until ctx ends. Each tick keeps going
// while new headers arrive, up to maxHeadersPerTick.
func runSyncer(ctx context.Context, s config.HeaderSyncer, interval time.Duration) {
	logger := log.With().Str("chain", s.Chain).Logger()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		var last uint64
		for range maxHeadersPerTick {
			height, err := s.Sync(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				// running past the tip shows up as a network error
				event := logger.Warn()
				if models.KindOf(err) == models.KindNetwork {
					event = logger.Debug()
				}
				event.Err(err).Msg("Header sync stopped")
				break
			}
			if height == last {
				break
			}
			last = height
		}
		if last > 0 {
			logger.Debug().Uint64("height", last).Msg("Headers synced")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func buildServerConfig(cfg *config.ServiceConfig) *rpc.ServerConfig {
	serverConfig := rpc.DefaultServerConfig()
	serverConfig.Address = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	serverConfig.AllowedOrigins = cfg.AllowedOrigins
	serverConfig.EnableMetrics = cfg.UsePrometheus
	serverConfig.RatePerMinute = cfg.RatePerMinute
	serverConfig.MaxConcurrentRequests = cfg.MaxConcurrentRequests

	serverConfig.OTelConfig = nil
	if cfg.EnableTracing || cfg.EnableMetrics || cfg.EnableLogs || cfg.UsePrometheus {
		serverConfig.OTelConfig = &rpc.OTelConfig{
			ServiceName:     defaultString(cfg.ServiceName, "spectra-intents"),
			ServiceVersion:  defaultString(cfg.ServiceVersion, "1.0.0"),
			Environment:     defaultString(cfg.Environment, "development"),
			EnableTracing:   cfg.EnableTracing,
			UseOTLPTraces:   cfg.UseOTLPTraces,
			OTLPTracesURL:   cfg.OTLPTracesURL,
			EnableMetrics:   cfg.EnableMetrics,
			UsePrometheus:   cfg.UsePrometheus,
			UseOTLPMetrics:  cfg.UseOTLPMetrics,
			OTLPMetricsURL:  cfg.OTLPMetricsURL,
			EnableLogs:      cfg.EnableLogs,
			UseOTLPLogs:     cfg.UseOTLPLogs,
			OTLPLogsURL:     cfg.OTLPLogsURL,
			InsecureOTLP:    cfg.InsecureOTLP,
			DevelopmentMode: cfg.DevelopmentMode,
		}
	}
	return serverConfig
}

// defaultString returns the default value if s is empty
func defaultString(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

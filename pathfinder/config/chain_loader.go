package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Cogwheel-Validator/spectra-intents/pathfinder/adapters"
	"github.com/Cogwheel-Validator/spectra-intents/pathfinder/adapters/cosmos"
	"github.com/Cogwheel-Validator/spectra-intents/pathfinder/adapters/evm"
	"github.com/Cogwheel-Validator/spectra-intents/pathfinder/adapters/utxo"
	"github.com/Cogwheel-Validator/spectra-intents/pathfinder/intent"
	"github.com/Cogwheel-Validator/spectra-intents/pathfinder/lightclient"
	"github.com/Cogwheel-Validator/spectra-intents/pathfinder/router"
	"github.com/pelletier/go-toml/v2"
)

// Adapter kinds accepted in AdapterConfig.Kind.
const (
	AdapterEVM    = "evm"
	AdapterCosmos = "cosmos"
	AdapterUTXO   = "utxo"
)

// ChainConfigLoader loads the chain graph config and assembles the router from it.
type ChainConfigLoader struct{}

// NewChainConfigLoader creates a new chain config loader.
func NewChainConfigLoader() *ChainConfigLoader {
	return &ChainConfigLoader{}
}

// LoadFromFile reads a TOML or JSON graph config and validates it.
func (l *ChainConfigLoader) LoadFromFile(filePath string) (*GraphConfig, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read chain config file: %w", err)
	}

	var graph GraphConfig
	if strings.HasSuffix(filePath, ".json") {
		if err := json.Unmarshal(data, &graph); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	} else {
		if err := toml.Unmarshal(data, &graph); err != nil {
			return nil, fmt.Errorf("failed to parse TOML config: %w", err)
		}
	}

	if err := graph.Validate(); err != nil {
		return nil, err
	}
	return &graph, nil
}

// Validate checks names, ids, hashers, adapter kinds and that every edge joins
// declared chains.
func (g *GraphConfig) Validate() error {
	if g == nil || len(g.Chains) == 0 {
		return fmt.Errorf("no chains in config")
	}
	names := make(map[string]bool, len(g.Chains))
	ids := make(map[string]string, len(g.Chains))
	for i, c := range g.Chains {
		if c.Name == "" {
			return fmt.Errorf("chain %d has no name", i)
		}
		if names[c.Name] {
			return fmt.Errorf("chain %s declared twice", c.Name)
		}
		names[c.Name] = true

		if c.ChainID == "" && (c.Hash != "" || c.Adapter != nil) {
			return fmt.Errorf("chain %s needs a chain_id", c.Name)
		}
		if c.ChainID != "" {
			if other, dup := ids[c.ChainID]; dup {
				return fmt.Errorf("chains %s and %s share chain_id %s", other, c.Name, c.ChainID)
			}
			ids[c.ChainID] = c.Name
		}
		if c.Hash != "" {
			if _, err := lightclient.LookupHasher(c.Hash); err != nil {
				return fmt.Errorf("chain %s: %w", c.Name, err)
			}
		}
		if c.Adapter != nil {
			if err := c.Adapter.validate(c.Name); err != nil {
				return err
			}
		}
	}
	for _, e := range g.Edges {
		if !names[e.From] || !names[e.To] {
			return fmt.Errorf("edge %s joins an undeclared chain", e)
		}
		if e.Latency < 0 {
			return fmt.Errorf("edge %s has negative latency", e)
		}
	}
	return nil
}

func (a *AdapterConfig) validate(chain string) error {
	if a.Endpoint == "" {
		return fmt.Errorf("chain %s: adapter endpoint is required", chain)
	}
	switch a.Kind {
	case AdapterEVM:
	case AdapterCosmos:
		if a.Prefix == "" {
			return fmt.Errorf("chain %s: cosmos adapter needs a bech32 prefix", chain)
		}
	case AdapterUTXO:
		if _, err := utxo.NetParams(a.Network); err != nil {
			return fmt.Errorf("chain %s: %w", chain, err)
		}
	default:
		return fmt.Errorf("chain %s: unknown adapter kind %q", chain, a.Kind)
	}
	return nil
}

// BuildEngine registers every chain with its finality depth and every edge.
func (l *ChainConfigLoader) BuildEngine(g *GraphConfig) (*router.Engine, error) {
	e := router.NewEngine()
	for _, c := range g.Chains {
		if err := e.RegisterChain(c.Name, c.Finality); err != nil {
			return nil, fmt.Errorf("register chain %s: %w", c.Name, err)
		}
	}
	for _, edge := range g.Edges {
		if err := e.RegisterEdge(edge.From, edge.To, edge.Bridge, edge.Cost, time.Duration(edge.Latency)); err != nil {
			return nil, fmt.Errorf("register edge %s: %w", edge, err)
		}
	}
	return e, nil
}

// BuildTranslator starts from the built-in defaults and applies each chain's
// defaults block.
func (l *ChainConfigLoader) BuildTranslator(g *GraphConfig, strict bool) *intent.Translator {
	chains := intent.DefaultChains()
	for _, c := range g.Chains {
		if c.Defaults != nil {
			chains[c.Name] = *c.Defaults
		}
	}
	opts := []intent.TranslatorOption{intent.WithChains(chains)}
	if strict {
		opts = append(opts, intent.WithStrict())
	}
	return intent.NewTranslator(opts...)
}

// RegisterLightClients adds an empty client for every chain with a hasher that
// manager does not know yet, e.g. from a restored snapshot. UTXO chains are
// followed by their adapter's proof-of-work client instead.
func (l *ChainConfigLoader) RegisterLightClients(ctx context.Context, g *GraphConfig, manager *lightclient.Manager) error {
	for _, c := range g.Chains {
		if !managedByLightClient(c) {
			continue
		}
		if _, err := manager.GetClient(c.ChainID); err == nil {
			continue
		}
		client, err := lightclient.NewClient(c.ChainID, c.Hash, lightclient.WithRootWindow(c.RootWindow))
		if err != nil {
			return fmt.Errorf("light client for %s: %w", c.Name, err)
		}
		if err := manager.AddClient(ctx, client); err != nil {
			return err
		}
	}
	return nil
}

func managedByLightClient(c ChainConfig) bool {
	return c.Hash != "" && (c.Adapter == nil || c.Adapter.Kind != AdapterUTXO)
}

// HeaderSyncer relays new headers of one chain to its light client.
type HeaderSyncer struct {
	Chain string
	Sync  func(ctx context.Context) (uint64, error)
}

// Assembly is a router built from a graph config together with the header
// syncers of its adapters.
type Assembly struct {
	Router     *router.Router
	Translator *intent.Translator
	Syncers    []HeaderSyncer
	closers    []func()
}

// Close releases every adapter.
func (a *Assembly) Close() {
	for _, c := range a.closers {
		c()
	}
}

// InitializeRouter creates a fully initialized Router from a graph config. The
// light clients must already be registered with manager.
func (l *ChainConfigLoader) InitializeRouter(g *GraphConfig, manager *lightclient.Manager, strict bool) (*Assembly, error) {
	engine, err := l.BuildEngine(g)
	if err != nil {
		return nil, err
	}
	asm := &Assembly{Translator: l.BuildTranslator(g, strict)}
	asm.Router = router.New(engine, adapters.NewRegistry(), manager)

	for _, c := range g.Chains {
		if c.Adapter == nil {
			continue
		}
		a, syncer, closer, err := l.buildAdapter(c, asm.Translator, manager)
		if err != nil {
			asm.Close()
			return nil, fmt.Errorf("adapter for %s: %w", c.Name, err)
		}
		asm.closers = append(asm.closers, closer)
		if err := asm.Router.RegisterAdapter(a); err != nil {
			asm.Close()
			return nil, err
		}
		if syncer != nil {
			asm.Syncers = append(asm.Syncers, HeaderSyncer{Chain: c.Name, Sync: syncer})
		}
	}
	return asm, nil
}

func (l *ChainConfigLoader) buildAdapter(
	c ChainConfig,
	translator *intent.Translator,
	manager *lightclient.Manager,
) (adapters.ChainAdapter, func(context.Context) (uint64, error), func(), error) {
	ac := c.Adapter
	transport := ac.Transport.Resolve()

	// chains without a hasher get no light client
	var lc *lightclient.Manager
	if managedByLightClient(c) {
		lc = manager
	}

	switch ac.Kind {
	case AdapterEVM:
		a, err := evm.New(evm.Config{
			Name:      c.Name,
			ChainID:   c.ChainID,
			Endpoint:  ac.Endpoint,
			Backups:   ac.Backups,
			Transport: transport,
		}, translator, lc)
		if err != nil {
			return nil, nil, nil, err
		}
		var sync func(context.Context) (uint64, error)
		if lc != nil {
			sync = a.SyncHeader
		}
		return a, sync, a.Close, nil

	case AdapterCosmos:
		a, err := cosmos.New(cosmos.Config{
			Name:           c.Name,
			ChainID:        c.ChainID,
			Endpoint:       ac.Endpoint,
			Backups:        ac.Backups,
			Prefix:         ac.Prefix,
			Denom:          ac.Denom,
			SourceDecimals: ac.SourceDecimals,
			Transport:      transport,
		}, translator, lc)
		if err != nil {
			return nil, nil, nil, err
		}
		var sync func(context.Context) (uint64, error)
		if lc != nil {
			sync = a.SyncHeader
		}
		return a, sync, a.Close, nil

	case AdapterUTXO:
		a, err := utxo.New(utxo.Config{
			Name:       c.Name,
			ChainID:    c.ChainID,
			Endpoint:   ac.Endpoint,
			Backups:    ac.Backups,
			User:       ac.User,
			Pass:       ac.Pass,
			Network:    ac.Network,
			SyncBatch:  ac.SyncBatch,
			RootWindow: c.RootWindow,
			Transport:  transport,
		}, translator)
		if err != nil {
			return nil, nil, nil, err
		}
		return a, a.SyncHeaders, a.Close, nil
	}
	return nil, nil, nil, fmt.Errorf("unknown adapter kind %q", ac.Kind)
}

// ParamSources returns the named parameter files for the loader.
func (g *GraphConfig) ParamSources() map[string]adapters.ParamSource {
	out := make(map[string]adapters.ParamSource, len(g.Params))
	for name, src := range g.Params {
		out[name] = src
	}
	return out
}

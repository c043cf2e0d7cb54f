package lightclient

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/Cogwheel-Validator/spectra-intents/pathfinder/events"
	models "github.com/Cogwheel-Validator/spectra-intents/pathfinder/models"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"
)

// ParamLoader fetches opaque parameter blobs such as proof-verification keys.
type ParamLoader interface {
	Load(ctx context.Context, name string) ([]byte, error)
}

// shard owns one client. Readers share the lock, header updates hold it exclusively.
type shard struct {
	mu     sync.RWMutex
	client *Client
}

// Manager is the only mutator of the clients it holds. The map is guarded by mu,
// every client by its shard lock, so updates to different chains run in parallel.
type Manager struct {
	mu        sync.RWMutex
	shards    map[string]*shard
	store     SnapshotStore
	publisher events.Publisher
	loader    ParamLoader
}

type ManagerOption func(*Manager)

// WithStore persists a snapshot after every committed change.
func WithStore(s SnapshotStore) ManagerOption {
	return func(m *Manager) { m.store = s }
}

// WithPublisher sends light-client events to p.
func WithPublisher(p events.Publisher) ManagerOption {
	return func(m *Manager) { m.publisher = p }
}

// WithParamLoader sets where verification keys are loaded from.
func WithParamLoader(l ParamLoader) ManagerOption {
	return func(m *Manager) { m.loader = l }
}

func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		shards:    make(map[string]*shard),
		publisher: events.Noop{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func unknownChain(chainID string) error {
	return models.NewError(models.KindUnsupportedChain, fmt.Sprintf("no light client for chain %s", chainID))
}

func (m *Manager) shard(chainID string) (*shard, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.shards[chainID]
	if !ok {
		return nil, unknownChain(chainID)
	}
	return s, nil
}

// AddClient registers c. The manager keeps its own copy.
func (m *Manager) AddClient(ctx context.Context, c *Client) error {
	m.mu.Lock()
	if _, exists := m.shards[c.ChainID()]; exists {
		m.mu.Unlock()
		return fmt.Errorf("light client for %s already registered", c.ChainID())
	}
	own := c.Clone()
	m.shards[c.ChainID()] = &shard{client: own}
	m.mu.Unlock()

	height, _ := own.LatestHeight()
	m.persist(ctx, own)
	m.publish(ctx, events.Event{Type: events.ClientRegistered, ChainID: own.ChainID(), Height: height})
	return nil
}

// GetClient returns a snapshot copy of a client.
func (m *Manager) GetClient(chainID string) (*Client, error) {
	s, err := m.shard(chainID)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client.Clone(), nil
}

// ListChains returns the registered chain ids, sorted.
func (m *Manager) ListChains() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Sorted(maps.Keys(m.shards))
}

// VerifyState checks p against the client selected by p.ChainID.
func (m *Manager) VerifyState(ctx context.Context, p *StateProof) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s, err := m.shard(p.ChainID)
	if err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client.VerifyState(p)
}

// VerifyBatch verifies proofs concurrently. The result slice is index aligned with
// proofs; the first error cancels the remaining work.
func (m *Manager) VerifyBatch(ctx context.Context, proofs []*StateProof) ([]bool, error) {
	results := make([]bool, len(proofs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, p := range proofs {
		g.Go(func() error {
			ok, err := m.VerifyState(gctx, p)
			if err != nil {
				return fmt.Errorf("proof %d: %w", i, err)
			}
			results[i] = ok
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// UpdateState applies a header to a chain's client. The update is computed on a copy
// and only committed if it validates and ctx is still live.
func (m *Manager) UpdateState(ctx context.Context, chainID string, h *Header) error {
	if h == nil {
		return models.NewError(models.KindInvalidProof, "nil header")
	}
	s, err := m.shard(chainID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if err := ctx.Err(); err != nil {
		s.mu.Unlock()
		return err
	}
	next := s.client.Clone()
	bootstrap, err := next.UpdateHeader(h)
	if err != nil {
		s.mu.Unlock()
		m.publish(ctx, events.Event{Type: events.HeaderRejected, ChainID: chainID, Height: h.Number, Detail: err.Error()})
		return err
	}
	if err := ctx.Err(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.client = next
	snapshot := next.Clone()
	s.mu.Unlock()

	m.persist(ctx, snapshot)
	ev := events.Event{Type: events.HeaderAccepted, ChainID: chainID, Height: h.Number, Hash: snapshot.LatestHash().Hex()}
	if bootstrap {
		ev.Type = events.TrustBootstrap
	}
	m.publish(ctx, ev)
	return nil
}

// UpdateValidators replaces a chain's trusted validator set.
func (m *Manager) UpdateValidators(ctx context.Context, chainID string, set *ValidatorSet) error {
	s, err := m.shard(chainID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if err := ctx.Err(); err != nil {
		s.mu.Unlock()
		return err
	}
	next := s.client.Clone()
	if err := next.SetValidators(set); err != nil {
		s.mu.Unlock()
		return err
	}
	s.client = next
	snapshot := next.Clone()
	s.mu.Unlock()

	height, _ := snapshot.LatestHeight()
	m.persist(ctx, snapshot)
	m.publish(ctx, events.Event{
		Type:    events.ValidatorsSet,
		ChainID: chainID,
		Height:  height,
		Detail:  fmt.Sprintf("%d validators, total weight %d", len(set.Validators), snapshot.Validators().TotalWeight),
	})
	return nil
}

// GetLatestHeight returns the newest trusted height of a chain.
func (m *Manager) GetLatestHeight(chainID string) (uint64, error) {
	s, err := m.shard(chainID)
	if err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	height, ok := s.client.LatestHeight()
	if !ok {
		return 0, models.NewError(models.KindVerification, fmt.Sprintf("%s has no trusted header", chainID))
	}
	return height, nil
}

// GetStateRoot returns the state root a chain committed at height.
func (m *Manager) GetStateRoot(chainID string, height uint64) (common.Hash, error) {
	s, err := m.shard(chainID)
	if err != nil {
		return common.Hash{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	root, ok := s.client.StateRoot(height)
	if !ok {
		return common.Hash{}, models.NewError(models.KindVerification,
			fmt.Sprintf("%s has no state root at height %d", chainID, height))
	}
	return root, nil
}

// LoadVerificationKey returns a cached key or fetches it through the param loader.
// The fetch runs without holding the shard lock.
func (m *Manager) LoadVerificationKey(ctx context.Context, chainID, name string) ([]byte, error) {
	s, err := m.shard(chainID)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	key, ok := s.client.VerificationKey(name)
	s.mu.RUnlock()
	if ok {
		return key, nil
	}
	if m.loader == nil {
		return nil, fmt.Errorf("no parameter loader configured for key %s", name)
	}
	key, err = m.loader.Load(ctx, name)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if err := ctx.Err(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	next := s.client.Clone()
	next.SetVerificationKey(name, key)
	s.client = next
	s.mu.Unlock()
	return key, nil
}

// Restore loads every snapshot from the store for chains not yet registered.
func (m *Manager) Restore(ctx context.Context) (int, error) {
	if m.store == nil {
		return 0, nil
	}
	ids, err := m.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list snapshots: %w", err)
	}
	restored := 0
	for _, id := range ids {
		m.mu.RLock()
		_, exists := m.shards[id]
		m.mu.RUnlock()
		if exists {
			continue
		}
		snap, err := m.store.Load(ctx, id)
		if errors.Is(err, ErrSnapshotNotFound) {
			continue
		}
		if err != nil {
			return restored, fmt.Errorf("load snapshot %s: %w", id, err)
		}
		c, err := RestoreClient(snap)
		if err != nil {
			return restored, err
		}
		m.mu.Lock()
		if _, exists := m.shards[id]; !exists {
			m.shards[id] = &shard{client: c}
			restored++
		}
		m.mu.Unlock()
		height, _ := c.LatestHeight()
		clientLog.Info().Str("chain", id).Uint64("height", height).Msg("Restored light client")
	}
	return restored, nil
}

func (m *Manager) persist(ctx context.Context, c *Client) {
	if m.store == nil {
		return
	}
	if err := m.store.Save(context.WithoutCancel(ctx), c.Snapshot()); err != nil {
		clientLog.Warn().Err(err).Str("chain", c.ChainID()).Msg("Failed to persist snapshot")
	}
}

func (m *Manager) publish(ctx context.Context, ev events.Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	if err := m.publisher.Publish(context.WithoutCancel(ctx), ev); err != nil {
		clientLog.Warn().Err(err).Str("chain", ev.ChainID).Str("event", string(ev.Type)).Msg("Failed to publish event")
	}
}

package lightclient

import (
	"bytes"
	"fmt"
	"maps"
	"os"
	"slices"
	"time"

	models "github.com/Cogwheel-Validator/spectra-intents/pathfinder/models"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

var clientLog zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	clientLog = zerolog.New(out).With().Timestamp().Str("component", "lightclient").Logger()
}

// DefaultRootWindow is how many recent state roots a client keeps.
const DefaultRootWindow = 256

// Client is the header chain and state-root window of one remote chain. It is not
// synchronised; the Manager serialises access.
type Client struct {
	chainID    string
	algo       HashAlgo
	hasher     Hasher
	window     int
	latest     *Header
	latestHash common.Hash
	anchor     *Header
	anchorHash common.Hash
	roots      map[uint64]common.Hash
	validators *ValidatorSet
	keys       map[string][]byte
}

type ClientOption func(*Client)

// WithRootWindow sets how many state roots are kept. Values below one are ignored.
func WithRootWindow(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.window = n
		}
	}
}

// WithValidators sets the initial trusted validator set.
func WithValidators(set *ValidatorSet) ClientOption {
	return func(c *Client) { c.validators = set.Clone() }
}

// NewClient creates an empty client. The first accepted header becomes the trust anchor.
func NewClient(chainID string, algo HashAlgo, opts ...ClientOption) (*Client, error) {
	if chainID == "" {
		return nil, fmt.Errorf("chain id is empty")
	}
	hasher, err := LookupHasher(algo)
	if err != nil {
		return nil, err
	}
	c := &Client{
		chainID: chainID,
		algo:    algo,
		hasher:  hasher,
		window:  DefaultRootWindow,
		roots:   make(map[uint64]common.Hash),
		keys:    make(map[string][]byte),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) ChainID() string         { return c.chainID }
func (c *Client) Algo() HashAlgo          { return c.algo }
func (c *Client) Hasher() Hasher          { return c.hasher }
func (c *Client) Latest() *Header         { return c.latest.Clone() }
func (c *Client) LatestHash() common.Hash { return c.latestHash }
func (c *Client) Anchor() *Header         { return c.anchor.Clone() }

// Validators returns a copy of the trusted set, or nil when none is configured.
func (c *Client) Validators() *ValidatorSet { return c.validators.Clone() }

// LatestHeight returns the height of the newest header, or false before bootstrap.
func (c *Client) LatestHeight() (uint64, bool) {
	if c.latest == nil {
		return 0, false
	}
	return c.latest.Number, true
}

// StateRoot returns the state root recorded at height, if still in the window.
func (c *Client) StateRoot(height uint64) (common.Hash, bool) {
	root, ok := c.roots[height]
	return root, ok
}

// VerificationKey returns a cached proof-verification key.
func (c *Client) VerificationKey(name string) ([]byte, bool) {
	k, ok := c.keys[name]
	return bytes.Clone(k), ok
}

// UpdateHeader validates h against the latest header and commits it. It reports
// whether h bootstrapped the client. On error the client is unchanged.
func (c *Client) UpdateHeader(h *Header) (bootstrap bool, err error) {
	if h == nil {
		return false, rejectHeader("nil header")
	}
	hash := h.Hash(c.hasher)

	if c.latest == nil {
		c.commit(h, hash)
		c.anchor = c.latest
		c.anchorHash = hash
		clientLog.Info().
			Str("chain", c.chainID).
			Uint64("height", h.Number).
			Str("hash", hash.Hex()).
			Str("marker", "trust_bootstrap").
			Msg("Trust anchor accepted")
		return true, nil
	}

	if h.ParentHash != c.latestHash {
		return false, rejectHeader("%s header %d: parent %s does not match latest %s",
			c.chainID, h.Number, h.ParentHash.Hex(), c.latestHash.Hex())
	}
	if h.Number != c.latest.Number+1 {
		return false, rejectHeader("%s header %d: expected height %d", c.chainID, h.Number, c.latest.Number+1)
	}
	if h.Timestamp <= c.latest.Timestamp {
		return false, rejectHeader("%s header %d: timestamp %d is not after %d",
			c.chainID, h.Number, h.Timestamp, c.latest.Timestamp)
	}
	if c.validators != nil && len(c.validators.Validators) > 0 && !c.validators.HasQuorum(hash, h.Signatures) {
		return false, rejectHeader("%s header %d: signatures do not reach two thirds of weight %d",
			c.chainID, h.Number, c.validators.TotalWeight)
	}
	if h.NextValidators != nil {
		if _, err := NewValidatorSet(h.NextValidators.Validators); err != nil {
			return false, rejectHeader("%s header %d: next validator set: %v", c.chainID, h.Number, err)
		}
	}

	c.commit(h, hash)
	return false, nil
}

// commit stores h as the latest header. All checks must have passed.
func (c *Client) commit(h *Header, hash common.Hash) {
	c.latest = h.Clone()
	c.latestHash = hash
	c.roots[h.Number] = h.StateRoot
	if h.NextValidators != nil {
		set, err := NewValidatorSet(h.NextValidators.Validators)
		if err == nil {
			c.validators = set
		}
	}
	if len(c.roots) > c.window && h.Number >= uint64(c.window) {
		cutoff := h.Number - uint64(c.window)
		for height := range c.roots {
			if height <= cutoff {
				delete(c.roots, height)
			}
		}
	}
}

// SetValidators replaces the trusted set outside of a header update.
func (c *Client) SetValidators(set *ValidatorSet) error {
	checked, err := NewValidatorSet(set.Validators)
	if err != nil {
		return models.WrapError(models.KindInvalidProof, "validator set", err)
	}
	c.validators = checked
	return nil
}

// SetVerificationKey caches an opaque proof-verification key.
func (c *Client) SetVerificationKey(name string, key []byte) {
	c.keys[name] = bytes.Clone(key)
}

// VerifyState checks a state proof against the stored root at the proof's height.
// It returns false with a nil error when the proof fails cryptographically, and an
// error when the proof cannot be checked at all.
func (c *Client) VerifyState(p *StateProof) (bool, error) {
	if p.ChainID != c.chainID {
		return false, models.NewError(models.KindVerification,
			fmt.Sprintf("proof for %s given to %s client", p.ChainID, c.chainID))
	}
	if c.latest == nil {
		return false, models.NewError(models.KindVerification, fmt.Sprintf("%s has no trusted header", c.chainID))
	}
	if p.Height > c.latest.Number {
		return false, models.NewError(models.KindVerification,
			fmt.Sprintf("proof height %d is beyond latest %d", p.Height, c.latest.Number))
	}
	root, ok := c.roots[p.Height]
	if !ok {
		return false, models.NewError(models.KindVerification,
			fmt.Sprintf("state root at height %d is no longer kept", p.Height))
	}
	if root != p.Root {
		return false, nil
	}
	return VerifyProof(c.hasher, root, p.Key, p.Value, p.Absent, p.Nodes), nil
}

// Clone returns an independent copy of the client.
func (c *Client) Clone() *Client {
	out := *c
	out.latest = c.latest.Clone()
	out.anchor = c.anchor.Clone()
	out.validators = c.validators.Clone()
	out.roots = maps.Clone(c.roots)
	out.keys = make(map[string][]byte, len(c.keys))
	for k, v := range c.keys {
		out.keys[k] = bytes.Clone(v)
	}
	return &out
}

// Heights lists the heights that still have a state root, ascending.
func (c *Client) Heights() []uint64 {
	return slices.Sorted(maps.Keys(c.roots))
}

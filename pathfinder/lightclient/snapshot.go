package lightclient

import (
	"bytes"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Snapshot is the persisted form of a client.
type Snapshot struct {
	ChainID    string                 `json:"chain_id"`
	Algo       HashAlgo               `json:"algo"`
	Window     int                    `json:"window"`
	Latest     *Header                `json:"latest,omitempty"`
	Anchor     *Header                `json:"anchor,omitempty"`
	AnchorHash common.Hash            `json:"anchor_hash"`
	Roots      map[uint64]common.Hash `json:"roots"`
	Validators *ValidatorSet          `json:"validators,omitempty"`
	Keys       map[string][]byte      `json:"keys,omitempty"`
}

// AnchorHash is the hash of the trust anchor.
func (c *Client) AnchorHash() common.Hash { return c.anchorHash }

// Snapshot captures the client state.
func (c *Client) Snapshot() *Snapshot {
	cp := c.Clone()
	return &Snapshot{
		ChainID:    cp.chainID,
		Algo:       cp.algo,
		Window:     cp.window,
		Latest:     cp.latest,
		Anchor:     cp.anchor,
		AnchorHash: cp.anchorHash,
		Roots:      cp.roots,
		Validators: cp.validators,
		Keys:       cp.keys,
	}
}

// RestoreClient rebuilds a client from a snapshot. The latest header hash is
// recomputed, so a snapshot whose roots disagree with its latest header is refused.
func RestoreClient(s *Snapshot) (*Client, error) {
	c, err := NewClient(s.ChainID, s.Algo, WithRootWindow(s.Window), WithValidators(s.Validators))
	if err != nil {
		return nil, err
	}
	if s.Latest == nil {
		return c, nil
	}
	if root, ok := s.Roots[s.Latest.Number]; !ok || root != s.Latest.StateRoot {
		return nil, fmt.Errorf("snapshot of %s: latest state root missing from window", s.ChainID)
	}
	c.latest = s.Latest.Clone()
	c.latestHash = c.latest.Hash(c.hasher)
	c.anchor = s.Anchor.Clone()
	c.anchorHash = s.AnchorHash
	for h, r := range s.Roots {
		c.roots[h] = r
	}
	for k, v := range s.Keys {
		c.keys[k] = bytes.Clone(v)
	}
	return c, nil
}

package lightclient

import (
	"bytes"
	"fmt"
	"sort"
	"sync"
	"time"

	models "github.com/Cogwheel-Validator/spectra-intents/pathfinder/models"
	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

const medianTimeBlocks = 11

// PowClient follows a proof-of-work header chain. The difficulty rule is outside
// its scope: callers pass the compact target they expect for each header.
// It is safe for concurrent use.
type PowClient struct {
	mu         sync.RWMutex
	chainID    string
	window     int
	height     uint64
	latest     *wire.BlockHeader
	latestHash chainhash.Hash
	timestamps []time.Time // most recent last
	merkle     map[uint64]chainhash.Hash
}

// NewPowClient creates an empty client keeping window merkle roots.
func NewPowClient(chainID string, window int) *PowClient {
	if window <= 0 {
		window = DefaultRootWindow
	}
	return &PowClient{chainID: chainID, window: window, merkle: make(map[uint64]chainhash.Hash)}
}

func (c *PowClient) ChainID() string { return c.chainID }

// Tip returns the latest height and hash, or false before bootstrap.
func (c *PowClient) Tip() (uint64, chainhash.Hash, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.height, c.latestHash, c.latest != nil
}

// Bootstrap trusts h at height without checks.
func (c *PowClient) Bootstrap(h *wire.BlockHeader, height uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.latest != nil {
		return rejectHeader("%s is already bootstrapped at %d", c.chainID, c.height)
	}
	c.commit(h, height)
	clientLog.Info().
		Str("chain", c.chainID).
		Uint64("height", height).
		Str("hash", c.latestHash.String()).
		Str("marker", "trust_bootstrap").
		Msg("Trust anchor accepted")
	return nil
}

// UpdateHeader links h onto the tip. The header must carry expectedBits and its
// hash, read as a little-endian integer, must be below the target.
func (c *PowClient) UpdateHeader(h *wire.BlockHeader, expectedBits uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.latest == nil {
		return rejectHeader("%s has no trust anchor", c.chainID)
	}
	if h.PrevBlock != c.latestHash {
		return rejectHeader("%s header %d: previous block %s is not the tip %s",
			c.chainID, c.height+1, h.PrevBlock, c.latestHash)
	}
	if mtp := c.medianTime(); !h.Timestamp.After(mtp) {
		return rejectHeader("%s header %d: timestamp %s is not after median %s",
			c.chainID, c.height+1, h.Timestamp.UTC(), mtp.UTC())
	}
	if h.Bits != expectedBits {
		return rejectHeader("%s header %d: bits %08x, expected %08x", c.chainID, c.height+1, h.Bits, expectedBits)
	}
	if err := CheckProofOfWork(h); err != nil {
		return err
	}
	c.commit(h, c.height+1)
	return nil
}

// CheckProofOfWork verifies that the header hash is below its declared target.
func CheckProofOfWork(h *wire.BlockHeader) error {
	target := blockchain.CompactToBig(h.Bits)
	if target.Sign() <= 0 {
		return rejectHeader("target %08x is not positive", h.Bits)
	}
	hash := h.BlockHash()
	if blockchain.HashToBig(&hash).Cmp(target) >= 0 {
		return rejectHeader("block %s does not meet target %08x", hash, h.Bits)
	}
	return nil
}

func (c *PowClient) medianTime() time.Time {
	ts := append([]time.Time(nil), c.timestamps...)
	sort.Slice(ts, func(i, j int) bool { return ts[i].Before(ts[j]) })
	return ts[len(ts)/2]
}

func (c *PowClient) commit(h *wire.BlockHeader, height uint64) {
	cp := *h
	c.latest = &cp
	c.latestHash = h.BlockHash()
	c.height = height
	c.timestamps = append(c.timestamps, h.Timestamp)
	if len(c.timestamps) > medianTimeBlocks {
		c.timestamps = c.timestamps[1:]
	}
	c.merkle[height] = h.MerkleRoot
	if height >= uint64(c.window) {
		delete(c.merkle, height-uint64(c.window))
	}
}

// VerifyInclusion checks an SPV proof that txid is the index-th transaction of the
// block at height. branch lists sibling hashes from the leaves upward.
func (c *PowClient) VerifyInclusion(height uint64, txid chainhash.Hash, index uint32, branch []chainhash.Hash) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.latest == nil || height > c.height {
		return false, models.NewError(models.KindVerification, fmt.Sprintf("%s has no header at %d", c.chainID, height))
	}
	root, ok := c.merkle[height]
	if !ok {
		return false, models.NewError(models.KindVerification, fmt.Sprintf("%s merkle root at %d is no longer kept", c.chainID, height))
	}
	if len(branch) < 32 && index>>uint(len(branch)) != 0 {
		return false, nil
	}
	return MerkleRootFromBranch(txid, index, branch) == root, nil
}

// MerkleRootFromBranch folds a transaction hash with its siblings.
func MerkleRootFromBranch(leaf chainhash.Hash, index uint32, branch []chainhash.Hash) chainhash.Hash {
	cur := leaf
	var pair [chainhash.HashSize * 2]byte
	for _, sibling := range branch {
		if index&1 == 1 {
			copy(pair[:chainhash.HashSize], sibling[:])
			copy(pair[chainhash.HashSize:], cur[:])
		} else {
			copy(pair[:chainhash.HashSize], cur[:])
			copy(pair[chainhash.HashSize:], sibling[:])
		}
		cur = chainhash.DoubleHashH(pair[:])
		index >>= 1
	}
	return cur
}

// DecodeBlockHeader parses the 80 byte wire encoding.
func DecodeBlockHeader(raw []byte) (*wire.BlockHeader, error) {
	if len(raw) != wire.MaxBlockHeaderPayload {
		return nil, rejectHeader("block header is %d bytes, want %d", len(raw), wire.MaxBlockHeaderPayload)
	}
	h := &wire.BlockHeader{}
	if err := h.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, models.WrapError(models.KindInvalidProof, "decode block header", err)
	}
	return h, nil
}

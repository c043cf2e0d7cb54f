package lightclient

import (
	"fmt"
	"sort"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/blake2b"
)

// HashAlgo names a registered 256-bit hash function.
type HashAlgo string

const (
	Keccak256  HashAlgo = "keccak256"  // EVM family
	Blake2b256 HashAlgo = "blake2b256" // Substrate family
	SHA256d    HashAlgo = "sha256d"    // UTXO family
)

// Hasher digests the concatenation of its inputs.
type Hasher func(data ...[]byte) common.Hash

var (
	hashersMu sync.RWMutex
	hashers   = map[HashAlgo]Hasher{
		Keccak256:  keccak256,
		Blake2b256: blake2b256,
		SHA256d:    sha256d,
	}
)

// RegisterHasher adds or replaces a hash function under name.
func RegisterHasher(name HashAlgo, h Hasher) {
	hashersMu.Lock()
	defer hashersMu.Unlock()
	hashers[name] = h
}

// LookupHasher returns the hash function registered under name.
func LookupHasher(name HashAlgo) (Hasher, error) {
	hashersMu.RLock()
	defer hashersMu.RUnlock()
	h, ok := hashers[name]
	if !ok {
		return nil, fmt.Errorf("hash algorithm %q is not registered", name)
	}
	return h, nil
}

// Hashers lists the registered algorithm names.
func Hashers() []HashAlgo {
	hashersMu.RLock()
	defer hashersMu.RUnlock()
	out := make([]HashAlgo, 0, len(hashers))
	for name := range hashers {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func keccak256(data ...[]byte) common.Hash {
	return crypto.Keccak256Hash(data...)
}

func blake2b256(data ...[]byte) common.Hash {
	h, _ := blake2b.New256(nil) // only fails for keys over 64 bytes
	for _, d := range data {
		h.Write(d)
	}
	return common.BytesToHash(h.Sum(nil))
}

func sha256d(data ...[]byte) common.Hash {
	var n int
	for _, d := range data {
		n += len(d)
	}
	buf := make([]byte, 0, n)
	for _, d := range data {
		buf = append(buf, d...)
	}
	return common.Hash(chainhash.DoubleHashH(buf))
}

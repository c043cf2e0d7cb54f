package lightclient

import (
	"bytes"
	"crypto/ed25519"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	models "github.com/Cogwheel-Validator/spectra-intents/pathfinder/models"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// headerDomain prefixes every header preimage so header hashes cannot collide with
// trie node or transaction hashes of the same chain.
var headerDomain = []byte("spectra/header/v1")

var validatorSetDomain = []byte("spectra/validators/v1")

// SigScheme is the signature algorithm of a validator key.
type SigScheme string

const (
	Secp256k1 SigScheme = "secp256k1"
	Ed25519   SigScheme = "ed25519"
)

// Validator is one member of a validator set. PubKey is a 33 or 65 byte secp256k1
// key or a 32 byte ed25519 key depending on Scheme.
type Validator struct {
	PubKey []byte    `json:"pub_key"`
	Scheme SigScheme `json:"scheme"`
	Weight uint64    `json:"weight"`
}

// ValidatorSet is an ordered list of validators. TotalWeight is always the sum of
// the individual weights.
type ValidatorSet struct {
	Validators  []Validator `json:"validators"`
	TotalWeight uint64      `json:"total_weight"`
}

// NewValidatorSet validates the members and computes the total weight.
func NewValidatorSet(vals []Validator) (*ValidatorSet, error) {
	set := &ValidatorSet{Validators: make([]Validator, 0, len(vals))}
	seen := make(map[string]bool, len(vals))
	for i, v := range vals {
		if v.Weight == 0 {
			return nil, fmt.Errorf("validator %d has zero weight", i)
		}
		if err := checkKey(v); err != nil {
			return nil, fmt.Errorf("validator %d: %w", i, err)
		}
		key := string(v.PubKey)
		if seen[key] {
			return nil, fmt.Errorf("validator %d is a duplicate", i)
		}
		seen[key] = true
		if set.TotalWeight+v.Weight < set.TotalWeight {
			return nil, fmt.Errorf("validator weights overflow")
		}
		set.TotalWeight += v.Weight
		set.Validators = append(set.Validators, Validator{
			PubKey: bytes.Clone(v.PubKey),
			Scheme: v.Scheme,
			Weight: v.Weight,
		})
	}
	return set, nil
}

func checkKey(v Validator) error {
	switch v.Scheme {
	case Secp256k1:
		if len(v.PubKey) != 33 && len(v.PubKey) != 65 {
			return fmt.Errorf("secp256k1 key is %d bytes", len(v.PubKey))
		}
	case Ed25519:
		if len(v.PubKey) != ed25519.PublicKeySize {
			return fmt.Errorf("ed25519 key is %d bytes", len(v.PubKey))
		}
	default:
		return fmt.Errorf("unknown signature scheme %q", v.Scheme)
	}
	return nil
}

// Clone returns a deep copy.
func (s *ValidatorSet) Clone() *ValidatorSet {
	if s == nil {
		return nil
	}
	out := &ValidatorSet{TotalWeight: s.TotalWeight, Validators: make([]Validator, len(s.Validators))}
	for i, v := range s.Validators {
		out.Validators[i] = Validator{PubKey: bytes.Clone(v.PubKey), Scheme: v.Scheme, Weight: v.Weight}
	}
	return out
}

// Commitment binds the set into a header preimage.
func (s *ValidatorSet) Commitment(h Hasher) common.Hash {
	parts := [][]byte{validatorSetDomain}
	for _, v := range s.Validators {
		var w [8]byte
		binary.BigEndian.PutUint64(w[:], v.Weight)
		parts = append(parts, []byte{byte(len(v.Scheme))}, []byte(v.Scheme), []byte{byte(len(v.PubKey))}, v.PubKey, w[:])
	}
	return h(parts...)
}

func (s *ValidatorSet) lookup(pub []byte) (int, bool) {
	for i, v := range s.Validators {
		if bytes.Equal(v.PubKey, pub) {
			return i, true
		}
	}
	return -1, false
}

// HasQuorum reports whether the valid signatures over digest carry strictly more than
// two thirds of the total weight. Each validator counts at most once; signatures from
// unknown keys and signatures that fail to verify are ignored.
func (s *ValidatorSet) HasQuorum(digest common.Hash, sigs []Signature) bool {
	if s == nil || s.TotalWeight == 0 {
		return false
	}
	counted := make([]bool, len(s.Validators))
	signed := new(uint256.Int)
	for _, sig := range sigs {
		i, ok := s.lookup(sig.PubKey)
		if !ok || counted[i] {
			continue
		}
		if !verifySignature(s.Validators[i], digest, sig.Sig) {
			continue
		}
		counted[i] = true
		signed.AddUint64(signed, s.Validators[i].Weight)
	}
	lhs := new(uint256.Int).Mul(signed, uint256.NewInt(3))
	rhs := new(uint256.Int).Mul(uint256.NewInt(s.TotalWeight), uint256.NewInt(2))
	return lhs.Gt(rhs)
}

func verifySignature(v Validator, digest common.Hash, sig []byte) bool {
	switch v.Scheme {
	case Secp256k1:
		if len(sig) == crypto.SignatureLength {
			sig = sig[:crypto.RecoveryIDOffset]
		}
		if len(sig) != crypto.RecoveryIDOffset {
			return false
		}
		return crypto.VerifySignature(v.PubKey, digest[:], sig)
	case Ed25519:
		return len(sig) == ed25519.SignatureSize && ed25519.Verify(v.PubKey, digest[:], sig)
	}
	return false
}

// Signature is one validator's signature over a header hash.
type Signature struct {
	PubKey []byte `json:"pub_key"`
	Sig    []byte `json:"sig"`
}

// Header is a block header as tracked by the light client.
type Header struct {
	ParentHash   common.Hash `json:"parent_hash"`
	StateRoot    common.Hash `json:"state_root"`
	TxRoot       common.Hash `json:"tx_root"`
	ReceiptsRoot common.Hash `json:"receipts_root"`
	Number       uint64      `json:"number"`
	GasLimit     uint64      `json:"gas_limit"`
	GasUsed      uint64      `json:"gas_used"`
	Timestamp    uint64      `json:"timestamp"`
	Extra        []byte      `json:"extra,omitempty"`

	// NextValidators, when set, replaces the trusted set once this header is accepted.
	NextValidators *ValidatorSet `json:"next_validators,omitempty"`
	// Signatures are over Hash and are not part of the preimage.
	Signatures []Signature `json:"signatures,omitempty"`
}

// Preimage is the canonical byte encoding the header hash is computed over.
func (h *Header) Preimage(hasher Hasher) []byte {
	buf := make([]byte, 0, len(headerDomain)+4*common.HashLength+4*8+len(h.Extra)+common.HashLength)
	buf = append(buf, headerDomain...)
	buf = append(buf, h.ParentHash[:]...)
	buf = append(buf, h.StateRoot[:]...)
	buf = append(buf, h.TxRoot[:]...)
	buf = append(buf, h.ReceiptsRoot[:]...)
	buf = binary.BigEndian.AppendUint64(buf, h.Number)
	buf = binary.BigEndian.AppendUint64(buf, h.GasLimit)
	buf = binary.BigEndian.AppendUint64(buf, h.GasUsed)
	buf = binary.BigEndian.AppendUint64(buf, h.Timestamp)
	buf = append(buf, h.Extra...)
	if h.NextValidators != nil {
		c := h.NextValidators.Commitment(hasher)
		buf = append(buf, c[:]...)
	}
	return buf
}

// Hash digests the preimage with the chain's hasher.
func (h *Header) Hash(hasher Hasher) common.Hash {
	return hasher(h.Preimage(hasher))
}

// Clone returns a deep copy.
func (h *Header) Clone() *Header {
	if h == nil {
		return nil
	}
	out := *h
	out.Extra = bytes.Clone(h.Extra)
	out.NextValidators = h.NextValidators.Clone()
	if h.Signatures != nil {
		out.Signatures = make([]Signature, len(h.Signatures))
		for i, s := range h.Signatures {
			out.Signatures[i] = Signature{PubKey: bytes.Clone(s.PubKey), Sig: bytes.Clone(s.Sig)}
		}
	}
	return &out
}

func (h *Header) String() string {
	return fmt.Sprintf("header(#%d state=%s)", h.Number, hex.EncodeToString(h.StateRoot[:4]))
}

func rejectHeader(format string, args ...any) error {
	return models.NewError(models.KindInvalidProof, fmt.Sprintf(format, args...))
}

package utxo

import (
	"encoding/binary"
	"fmt"

	models "github.com/Cogwheel-Validator/spectra-intents/pathfinder/models"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// maxBranch bounds the merkle branch; blocks hold far fewer than 2^32 transactions.
const maxBranch = 32

// InclusionProof is an SPV proof that a transaction sits at Index in the block at Height.
type InclusionProof struct {
	Height uint64
	TxID   chainhash.Hash
	Index  uint32
	Branch []chainhash.Hash
}

// EncodeInclusionProof writes
//
//	u64 height | 32 byte txid | u32 index | u16 branch length | 32 byte hashes
func EncodeInclusionProof(p *InclusionProof) ([]byte, error) {
	if len(p.Branch) > maxBranch {
		return nil, models.NewError(models.KindVerification, fmt.Sprintf("merkle branch of %d hashes", len(p.Branch)))
	}
	out := make([]byte, 0, 8+chainhash.HashSize+4+2+len(p.Branch)*chainhash.HashSize)
	out = binary.BigEndian.AppendUint64(out, p.Height)
	out = append(out, p.TxID[:]...)
	out = binary.BigEndian.AppendUint32(out, p.Index)
	out = binary.BigEndian.AppendUint16(out, uint16(len(p.Branch)))
	for _, h := range p.Branch {
		out = append(out, h[:]...)
	}
	return out, nil
}

// DecodeInclusionProof parses EncodeInclusionProof output. Trailing bytes are an error.
func DecodeInclusionProof(raw []byte) (*InclusionProof, error) {
	const fixed = 8 + chainhash.HashSize + 4 + 2
	if len(raw) < fixed {
		return nil, models.NewError(models.KindVerification, fmt.Sprintf("inclusion proof is %d bytes", len(raw)))
	}
	p := &InclusionProof{Height: binary.BigEndian.Uint64(raw)}
	copy(p.TxID[:], raw[8:8+chainhash.HashSize])
	p.Index = binary.BigEndian.Uint32(raw[8+chainhash.HashSize:])
	n := int(binary.BigEndian.Uint16(raw[fixed-2:]))
	rest := raw[fixed:]
	if n > maxBranch || len(rest) != n*chainhash.HashSize {
		return nil, models.NewError(models.KindVerification,
			fmt.Sprintf("inclusion proof declares %d hashes in %d bytes", n, len(rest)))
	}
	p.Branch = make([]chainhash.Hash, n)
	for i := range p.Branch {
		copy(p.Branch[i][:], rest[i*chainhash.HashSize:])
	}
	return p, nil
}

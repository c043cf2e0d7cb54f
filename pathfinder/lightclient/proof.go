package lightclient

import (
	"bytes"
	"encoding/binary"
	"fmt"

	models "github.com/Cogwheel-Validator/spectra-intents/pathfinder/models"
	"github.com/ethereum/go-ethereum/common"
)

// AbsenceMarker is the single-byte expected value that claims the key is absent.
const AbsenceMarker byte = 0xFF

const (
	maxProofNodes    = 64
	maxProofNodeSize = 64 * 1024
	maxProofKeySize  = 1024
	maxProofValue    = 64 * 1024
)

// StateProof claims that Key maps to Value (or is absent) under Root at Height.
type StateProof struct {
	ChainID string      `json:"chain_id"`
	Height  uint64      `json:"height"`
	Root    common.Hash `json:"root"`
	Key     []byte      `json:"key"`
	Value   []byte      `json:"value,omitempty"`
	Absent  bool        `json:"absent,omitempty"`
	Nodes   [][]byte    `json:"nodes"`
}

// EncodeStateProof writes the binary proof format:
//
//	u16 chain id length | chain id | u64 height | 32 byte root |
//	u32 key length | key | u32 value length | value (0xFF alone for absence) |
//	u16 node count | (u32 node length | node)*
func EncodeStateProof(p *StateProof) ([]byte, error) {
	if len(p.ChainID) > 0xffff || len(p.Nodes) > maxProofNodes {
		return nil, models.NewError(models.KindVerification, "state proof exceeds encoding limits")
	}
	value := p.Value
	if p.Absent {
		value = []byte{AbsenceMarker}
	} else if bytes.Equal(value, []byte{AbsenceMarker}) {
		return nil, models.NewError(models.KindVerification, "value 0xff collides with the absence marker")
	}

	var buf bytes.Buffer
	buf.Grow(2 + len(p.ChainID) + 8 + common.HashLength + 4 + len(p.Key) + 4 + len(value) + 2)
	buf.Write(binary.BigEndian.AppendUint16(nil, uint16(len(p.ChainID))))
	buf.WriteString(p.ChainID)
	buf.Write(binary.BigEndian.AppendUint64(nil, p.Height))
	buf.Write(p.Root[:])
	buf.Write(binary.BigEndian.AppendUint32(nil, uint32(len(p.Key))))
	buf.Write(p.Key)
	buf.Write(binary.BigEndian.AppendUint32(nil, uint32(len(value))))
	buf.Write(value)
	buf.Write(binary.BigEndian.AppendUint16(nil, uint16(len(p.Nodes))))
	for _, n := range p.Nodes {
		buf.Write(binary.BigEndian.AppendUint32(nil, uint32(len(n))))
		buf.Write(n)
	}
	return buf.Bytes(), nil
}

type proofReader struct {
	buf []byte
	err error
}

func (r *proofReader) take(n int, what string) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || len(r.buf) < n {
		r.err = fmt.Errorf("truncated %s", what)
		return nil
	}
	out := r.buf[:n]
	r.buf = r.buf[n:]
	return out
}

func (r *proofReader) u16(what string) int {
	b := r.take(2, what)
	if b == nil {
		return 0
	}
	return int(binary.BigEndian.Uint16(b))
}

func (r *proofReader) u32(what string, limit int) int {
	b := r.take(4, what)
	if b == nil {
		return 0
	}
	n := binary.BigEndian.Uint32(b)
	if uint64(n) > uint64(limit) {
		r.err = fmt.Errorf("%s of %d bytes exceeds %d", what, n, limit)
		return 0
	}
	return int(n)
}

// DecodeStateProof parses the format written by EncodeStateProof.
func DecodeStateProof(raw []byte) (*StateProof, error) {
	r := &proofReader{buf: raw}
	p := &StateProof{}

	p.ChainID = string(r.take(r.u16("chain id length"), "chain id"))
	if h := r.take(8, "height"); h != nil {
		p.Height = binary.BigEndian.Uint64(h)
	}
	if root := r.take(common.HashLength, "root"); root != nil {
		p.Root = common.BytesToHash(root)
	}
	p.Key = bytes.Clone(r.take(r.u32("key length", maxProofKeySize), "key"))
	value := r.take(r.u32("value length", maxProofValue), "value")
	if bytes.Equal(value, []byte{AbsenceMarker}) {
		p.Absent = true
	} else {
		p.Value = bytes.Clone(value)
	}
	count := r.u16("node count")
	if count > maxProofNodes {
		return nil, models.NewError(models.KindVerification, fmt.Sprintf("state proof has %d nodes, limit %d", count, maxProofNodes))
	}
	for i := 0; i < count && r.err == nil; i++ {
		node := r.take(r.u32("node length", maxProofNodeSize), "node")
		p.Nodes = append(p.Nodes, bytes.Clone(node))
	}
	if r.err == nil && len(r.buf) != 0 {
		r.err = fmt.Errorf("%d trailing bytes", len(r.buf))
	}
	if r.err != nil {
		return nil, models.WrapError(models.KindVerification, "decode state proof", r.err)
	}
	if p.ChainID == "" {
		return nil, models.NewError(models.KindVerification, "state proof has no chain id")
	}
	return p, nil
}

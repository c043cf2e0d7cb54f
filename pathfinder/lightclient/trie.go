package lightclient

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
)

// Merkle-Patricia proof walking. Keys are hashed, expanded to nibbles and followed
// from the root through branch (17 item) and extension/leaf (2 item) nodes. Child
// references are either a 32 byte hash of the next proof node or, for nodes whose
// encoding is shorter than 32 bytes, the node itself embedded in the parent.

var (
	errProofIncomplete = errors.New("proof ends before the key is resolved")
	errProofSurplus    = errors.New("proof carries unused nodes")
	errHashMismatch    = errors.New("proof node does not match its reference")
	errBadReference    = errors.New("malformed child reference")
)

const branchArity = 17

type nodeRef struct {
	hash     common.Hash
	embedded []byte // raw node encoding when shorter than a hash
}

func (r nodeRef) empty() bool { return r.embedded == nil && r.hash == (common.Hash{}) }

// rlpItem is one element of a node list: its kind, decoded content and full encoding.
type rlpItem struct {
	kind rlp.Kind
	val  []byte
	raw  []byte
}

// ReadProof resolves key against root using the proof nodes. found is false when
// the proof witnesses that the key is absent. An error means the proof does not
// witness anything under root.
func ReadProof(hasher Hasher, root common.Hash, key []byte, nodes [][]byte) (value []byte, found bool, err error) {
	path := keybytesToHex(hasher(key).Bytes())
	ref := nodeRef{hash: root}
	next := 0

	for {
		var raw []byte
		if ref.embedded != nil {
			raw = ref.embedded
		} else {
			if next >= len(nodes) {
				return nil, false, errProofIncomplete
			}
			raw = nodes[next]
			next++
			if hasher(raw) != ref.hash {
				return nil, false, fmt.Errorf("node %d: %w", next-1, errHashMismatch)
			}
		}

		items, err := splitNode(raw)
		if err != nil {
			return nil, false, err
		}

		switch len(items) {
		case branchArity:
			if len(path) == 0 {
				value, found = items[16].val, len(items[16].val) > 0
				return done(value, found, next, len(nodes))
			}
			ref, err = childRef(items[path[0]])
			if err != nil {
				return nil, false, err
			}
			path = path[1:]
			if ref.empty() {
				return done(nil, false, next, len(nodes))
			}
		case 2:
			fragment, leaf := compactToHex(items[0].val)
			if leaf {
				if bytes.Equal(fragment, path) {
					return done(items[1].val, true, next, len(nodes))
				}
				return done(nil, false, next, len(nodes))
			}
			if len(fragment) == 0 || !bytes.HasPrefix(path, fragment) {
				return done(nil, false, next, len(nodes))
			}
			path = path[len(fragment):]
			ref, err = childRef(items[1])
			if err != nil {
				return nil, false, err
			}
			if ref.empty() {
				return nil, false, errBadReference
			}
		default:
			// Every node reached here hashed to a committed reference, so a bad
			// arity means the committed state itself is malformed.
			panic(fmt.Sprintf("trie node with %d items under a verified reference", len(items)))
		}
	}
}

func done(value []byte, found bool, used, total int) ([]byte, bool, error) {
	if used != total {
		return nil, false, errProofSurplus
	}
	return value, found, nil
}

// VerifyProof reports whether the proof shows key mapping to expected, or key being
// absent when absent is set.
func VerifyProof(hasher Hasher, root common.Hash, key, expected []byte, absent bool, nodes [][]byte) bool {
	value, found, err := ReadProof(hasher, root, key, nodes)
	if err != nil {
		return false
	}
	if absent {
		return !found
	}
	return found && bytes.Equal(value, expected)
}

func splitNode(raw []byte) ([]rlpItem, error) {
	content, rest, err := rlp.SplitList(raw)
	if err != nil {
		return nil, fmt.Errorf("decode trie node: %w", err)
	}
	if len(rest) != 0 {
		return nil, errors.New("decode trie node: trailing bytes")
	}
	var items []rlpItem
	for len(content) > 0 {
		kind, val, tail, err := rlp.Split(content)
		if err != nil {
			return nil, fmt.Errorf("decode trie node item: %w", err)
		}
		items = append(items, rlpItem{kind: kind, val: val, raw: content[:len(content)-len(tail)]})
		content = tail
	}
	return items, nil
}

func childRef(it rlpItem) (nodeRef, error) {
	switch {
	case it.kind == rlp.List:
		return nodeRef{embedded: it.raw}, nil
	case len(it.val) == 0:
		return nodeRef{}, nil
	case len(it.val) == common.HashLength:
		return nodeRef{hash: common.BytesToHash(it.val)}, nil
	}
	return nodeRef{}, errBadReference
}

// keybytesToHex expands bytes into nibbles, high nibble first.
func keybytesToHex(key []byte) []byte {
	out := make([]byte, 0, len(key)*2)
	for _, b := range key {
		out = append(out, b>>4, b&0x0f)
	}
	return out
}

// compactToHex decodes a hex-prefix encoded path. The high nibble of the first byte
// carries the leaf flag (bit 1) and the odd-length flag (bit 0).
func compactToHex(compact []byte) (nibbles []byte, leaf bool) {
	if len(compact) == 0 {
		return nil, false
	}
	flag := compact[0] >> 4
	leaf = flag&0x2 != 0
	if flag&0x1 != 0 {
		nibbles = append(nibbles, compact[0]&0x0f)
	}
	for _, b := range compact[1:] {
		nibbles = append(nibbles, b>>4, b&0x0f)
	}
	return nibbles, leaf
}

package lightclient_test

import (
	"bytes"
	"sort"

	"github.com/Cogwheel-Validator/spectra-intents/pathfinder/lightclient"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
)

// testTrie is a small in-memory Merkle-Patricia trie used to produce roots and proofs.
type testTrie struct {
	hasher lightclient.Hasher
	root   *trieNode
}

type trieNode struct {
	leaf     bool
	key      []byte // remaining nibbles for leaf and extension nodes
	value    []byte
	child    *trieNode
	children *[16]*trieNode
	enc      []byte
}

type trieEntry struct {
	path  []byte
	value []byte
}

func nibbles(b []byte) []byte {
	out := make([]byte, 0, len(b)*2)
	for _, x := range b {
		out = append(out, x>>4, x&0x0f)
	}
	return out
}

func newTestTrie(hasher lightclient.Hasher, kv map[string][]byte) *testTrie {
	entries := make([]trieEntry, 0, len(kv))
	for k, v := range kv {
		entries = append(entries, trieEntry{path: nibbles(hasher([]byte(k)).Bytes()), value: v})
	}
	sort.Slice(entries, func(i, j int) bool { return bytes.Compare(entries[i].path, entries[j].path) < 0 })
	return &testTrie{hasher: hasher, root: buildTrie(entries)}
}

func buildTrie(entries []trieEntry) *trieNode {
	if len(entries) == 1 {
		return &trieNode{leaf: true, key: entries[0].path, value: entries[0].value}
	}
	prefix := len(entries[0].path)
	for _, e := range entries[1:] {
		n := 0
		for n < prefix && entries[0].path[n] == e.path[n] {
			n++
		}
		prefix = n
	}
	if prefix > 0 {
		rest := make([]trieEntry, len(entries))
		for i, e := range entries {
			rest[i] = trieEntry{path: e.path[prefix:], value: e.value}
		}
		return &trieNode{key: entries[0].path[:prefix], child: buildTrie(rest)}
	}
	var children [16]*trieNode
	for nib := byte(0); nib < 16; nib++ {
		var group []trieEntry
		for _, e := range entries {
			if e.path[0] == nib {
				group = append(group, trieEntry{path: e.path[1:], value: e.value})
			}
		}
		if len(group) > 0 {
			children[nib] = buildTrie(group)
		}
	}
	return &trieNode{children: &children}
}

func hexPrefix(nib []byte, leaf bool) []byte {
	flag := byte(0)
	if leaf {
		flag = 2
	}
	var out []byte
	if len(nib)%2 == 1 {
		out = append(out, (flag|1)<<4|nib[0])
		nib = nib[1:]
	} else {
		out = append(out, flag<<4)
	}
	for i := 0; i < len(nib); i += 2 {
		out = append(out, nib[i]<<4|nib[i+1])
	}
	return out
}

func mustRLP(v any) []byte {
	enc, err := rlp.EncodeToBytes(v)
	if err != nil {
		panic(err)
	}
	return enc
}

func (t *testTrie) encode(n *trieNode) []byte {
	if n.enc != nil {
		return n.enc
	}
	switch {
	case n.children != nil:
		items := make([]rlp.RawValue, 17)
		for i, c := range n.children {
			if c == nil {
				items[i] = mustRLP([]byte{})
			} else {
				items[i] = t.ref(c)
			}
		}
		items[16] = mustRLP([]byte{})
		n.enc = mustRLP(items)
	case n.leaf:
		n.enc = mustRLP([][]byte{hexPrefix(n.key, true), n.value})
	default:
		n.enc = mustRLP([]rlp.RawValue{mustRLP(hexPrefix(n.key, false)), t.ref(n.child)})
	}
	return n.enc
}

func (t *testTrie) ref(n *trieNode) rlp.RawValue {
	enc := t.encode(n)
	if len(enc) < 32 {
		return enc
	}
	return mustRLP(t.hasher(enc).Bytes())
}

func (t *testTrie) Root() common.Hash {
	return t.hasher(t.encode(t.root))
}

// Prove lists the nodes on the path of key, root first, skipping embedded nodes.
func (t *testTrie) Prove(key []byte) [][]byte {
	path := nibbles(t.hasher(key).Bytes())
	proof := [][]byte{t.encode(t.root)}
	n := t.root
	for {
		var next *trieNode
		switch {
		case n.children != nil:
			if len(path) == 0 {
				return proof
			}
			next = n.children[path[0]]
			path = path[1:]
		case n.leaf:
			return proof
		default:
			if !bytes.HasPrefix(path, n.key) {
				return proof
			}
			path = path[len(n.key):]
			next = n.child
		}
		if next == nil {
			return proof
		}
		if enc := t.encode(next); len(enc) >= 32 {
			proof = append(proof, enc)
		}
		n = next
	}
}

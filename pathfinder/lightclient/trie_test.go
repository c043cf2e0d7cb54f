package lightclient_test

import (
	"bytes"
	"fmt"
	"sort"
	"testing"

	"github.com/Cogwheel-Validator/spectra-intents/pathfinder/lightclient"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/trie"
	"github.com/zeebo/assert"
)

func keccak(t *testing.T) lightclient.Hasher {
	h, err := lightclient.LookupHasher(lightclient.Keccak256)
	assert.NoError(t, err)
	return h
}

func sampleState(n int) map[string][]byte {
	kv := make(map[string][]byte, n)
	for i := 0; i < n; i++ {
		kv[fmt.Sprintf("account-%03d", i)] = bytes.Repeat([]byte{byte(i + 1)}, 40)
	}
	return kv
}

func TestTrieRootMatchesStackTrie(t *testing.T) {
	kv := sampleState(40)
	tt := newTestTrie(keccak(t), kv)

	type pair struct{ k, v []byte }
	var pairs []pair
	for k, v := range kv {
		pairs = append(pairs, pair{crypto.Keccak256([]byte(k)), v})
	}
	sort.Slice(pairs, func(i, j int) bool { return bytes.Compare(pairs[i].k, pairs[j].k) < 0 })

	st := trie.NewStackTrie(nil)
	for _, p := range pairs {
		assert.NoError(t, st.Update(p.k, p.v))
	}
	assert.Equal(t, tt.Root(), st.Hash())
}

func TestReadProofInclusionAndAbsence(t *testing.T) {
	h := keccak(t)
	kv := sampleState(40)
	tt := newTestTrie(h, kv)
	root := tt.Root()

	for k, v := range kv {
		proof := tt.Prove([]byte(k))
		value, found, err := lightclient.ReadProof(h, root, []byte(k), proof)
		assert.NoError(t, err)
		assert.True(t, found)
		assert.True(t, bytes.Equal(value, v))

		assert.True(t, lightclient.VerifyProof(h, root, []byte(k), v, false, proof))
		assert.False(t, lightclient.VerifyProof(h, root, []byte(k), []byte("other"), false, proof))
		assert.False(t, lightclient.VerifyProof(h, root, []byte(k), nil, true, proof))
	}

	for i := 0; i < 20; i++ {
		missing := []byte(fmt.Sprintf("missing-%d", i))
		proof := tt.Prove(missing)
		assert.True(t, lightclient.VerifyProof(h, root, missing, nil, true, proof))
		assert.False(t, lightclient.VerifyProof(h, root, missing, []byte{1}, false, proof))
	}
}

func TestReadProofExtensionNode(t *testing.T) {
	h := keccak(t)
	// find two keys whose hashes share the first two nibbles so the root is an
	// extension node
	var first, second string
	seen := map[byte]string{}
	for i := 0; second == ""; i++ {
		k := fmt.Sprintf("ext-%d", i)
		prefix := h([]byte(k))[0]
		if other, ok := seen[prefix]; ok {
			first, second = other, k
		}
		seen[prefix] = k
	}
	kv := map[string][]byte{
		first:  bytes.Repeat([]byte{0xaa}, 33),
		second: bytes.Repeat([]byte{0xbb}, 33),
	}
	tt := newTestTrie(h, kv)
	assert.True(t, tt.root.children == nil && !tt.root.leaf)

	for k, v := range kv {
		assert.True(t, lightclient.VerifyProof(h, tt.Root(), []byte(k), v, false, tt.Prove([]byte(k))))
	}
}

func TestReadProofRejectsTampering(t *testing.T) {
	h := keccak(t)
	kv := sampleState(40)
	tt := newTestTrie(h, kv)
	root := tt.Root()
	key := []byte("account-007")
	proof := tt.Prove(key)
	assert.True(t, len(proof) > 1)

	for i := range proof {
		for bit := 0; bit < len(proof[i])*8; bit += 13 {
			tampered := make([][]byte, len(proof))
			for j := range proof {
				tampered[j] = bytes.Clone(proof[j])
			}
			tampered[i][bit/8] ^= 1 << (bit % 8)
			assert.False(t, lightclient.VerifyProof(h, root, key, kv[string(key)], false, tampered))
		}
	}

	// truncated and padded proofs witness nothing
	_, _, err := lightclient.ReadProof(h, root, key, proof[:len(proof)-1])
	assert.Error(t, err)
	_, _, err = lightclient.ReadProof(h, root, key, append(proof, proof[0]))
	assert.Error(t, err)
}

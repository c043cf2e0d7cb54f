package lightclient_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/Cogwheel-Validator/spectra-intents/pathfinder/events"
	"github.com/Cogwheel-Validator/spectra-intents/pathfinder/lightclient"
	models "github.com/Cogwheel-Validator/spectra-intents/pathfinder/models"
	"github.com/ethereum/go-ethereum/common"
	"github.com/zeebo/assert"
)

type staticLoader struct {
	mu    sync.Mutex
	calls int
	blobs map[string][]byte
}

func (l *staticLoader) Load(_ context.Context, name string) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	blob, ok := l.blobs[name]
	if !ok {
		return nil, fmt.Errorf("no blob %s", name)
	}
	return blob, nil
}

func addChain(t *testing.T, m *lightclient.Manager, chainID string, algo lightclient.HashAlgo) {
	c, err := lightclient.NewClient(chainID, algo)
	assert.NoError(t, err)
	assert.NoError(t, m.AddClient(t.Context(), c))
}

func nextHeader(t *testing.T, m *lightclient.Manager, chainID string, root common.Hash) *lightclient.Header {
	c, err := m.GetClient(chainID)
	assert.NoError(t, err)
	latest := c.Latest()
	return &lightclient.Header{
		ParentHash: c.LatestHash(),
		StateRoot:  root,
		Number:     latest.Number + 1,
		Timestamp:  latest.Timestamp + 6,
	}
}

func TestManagerLifecycle(t *testing.T) {
	ctx := t.Context()
	rec := &events.Recorder{}
	store := lightclient.NewMemoryStore()
	m := lightclient.NewManager(lightclient.WithPublisher(rec), lightclient.WithStore(store))

	addChain(t, m, "eth", lightclient.Keccak256)
	addChain(t, m, "dot", lightclient.Blake2b256)
	assert.Error(t, m.AddClient(ctx, mustClient(t, "eth")))

	chains := m.ListChains()
	assert.Equal(t, len(chains), 2)
	assert.Equal(t, chains[0], "dot")

	_, err := m.GetLatestHeight("eth")
	assert.True(t, errors.Is(err, models.ErrVerification))
	_, err = m.GetLatestHeight("sol")
	assert.True(t, errors.Is(err, models.ErrUnsupportedChain))

	assert.NoError(t, m.UpdateState(ctx, "eth", &lightclient.Header{Number: 10, Timestamp: 100, StateRoot: common.Hash{1}}))
	assert.NoError(t, m.UpdateState(ctx, "eth", nextHeader(t, m, "eth", common.Hash{2})))

	height, err := m.GetLatestHeight("eth")
	assert.NoError(t, err)
	assert.Equal(t, height, uint64(11))
	root, err := m.GetStateRoot("eth", 11)
	assert.NoError(t, err)
	assert.Equal(t, root, common.Hash{2})

	// a rejected header changes nothing and is reported
	bad := nextHeader(t, m, "eth", common.Hash{3})
	bad.ParentHash = common.Hash{}
	assert.True(t, errors.Is(m.UpdateState(ctx, "eth", bad), models.ErrInvalidProof))
	height, _ = m.GetLatestHeight("eth")
	assert.Equal(t, height, uint64(11))

	var types []events.Type
	for _, ev := range rec.Events() {
		if ev.ChainID == "eth" {
			types = append(types, ev.Type)
		}
	}
	assert.Equal(t, len(types), 4)
	assert.Equal(t, types[0], events.ClientRegistered)
	assert.Equal(t, types[1], events.TrustBootstrap)
	assert.Equal(t, types[2], events.HeaderAccepted)
	assert.Equal(t, types[3], events.HeaderRejected)

	// a fresh manager picks the state back up from the store
	restored := lightclient.NewManager(lightclient.WithStore(store))
	n, err := restored.Restore(ctx)
	assert.NoError(t, err)
	assert.Equal(t, n, 2)
	height, err = restored.GetLatestHeight("eth")
	assert.NoError(t, err)
	assert.Equal(t, height, uint64(11))
	assert.NoError(t, restored.UpdateState(ctx, "eth", nextHeader(t, restored, "eth", common.Hash{4})))
}

func mustClient(t *testing.T, chainID string) *lightclient.Client {
	c, err := lightclient.NewClient(chainID, lightclient.Keccak256)
	assert.NoError(t, err)
	return c
}

func TestManagerGetClientIsACopy(t *testing.T) {
	m := lightclient.NewManager()
	addChain(t, m, "eth", lightclient.Keccak256)
	assert.NoError(t, m.UpdateState(t.Context(), "eth", &lightclient.Header{Number: 1, Timestamp: 1}))

	c, err := m.GetClient("eth")
	assert.NoError(t, err)
	_, err = c.UpdateHeader(&lightclient.Header{ParentHash: c.LatestHash(), Number: 2, Timestamp: 2})
	assert.NoError(t, err)

	height, _ := m.GetLatestHeight("eth")
	assert.Equal(t, height, uint64(1))
}

func TestManagerCancelledUpdate(t *testing.T) {
	m := lightclient.NewManager()
	addChain(t, m, "eth", lightclient.Keccak256)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	err := m.UpdateState(ctx, "eth", &lightclient.Header{Number: 1, Timestamp: 1})
	assert.True(t, errors.Is(err, context.Canceled))
	_, err = m.GetLatestHeight("eth")
	assert.Error(t, err)
}

func TestManagerRejectsNilHeader(t *testing.T) {
	rec := &events.Recorder{}
	m := lightclient.NewManager(lightclient.WithPublisher(rec))
	addChain(t, m, "eth", lightclient.Keccak256)

	err := m.UpdateState(t.Context(), "eth", nil)
	assert.True(t, errors.Is(err, models.ErrInvalidProof))
	// also before the chain lookup
	err = m.UpdateState(t.Context(), "unknown", nil)
	assert.True(t, errors.Is(err, models.ErrInvalidProof))

	_, err = m.GetLatestHeight("eth")
	assert.Error(t, err)
	assert.Equal(t, len(rec.Events()), 1) // registration only
}

func TestManagerVerifyBatch(t *testing.T) {
	h := keccak(t)
	kv := sampleState(20)
	tt := newTestTrie(h, kv)

	m := lightclient.NewManager()
	addChain(t, m, "eth", lightclient.Keccak256)
	assert.NoError(t, m.UpdateState(t.Context(), "eth", &lightclient.Header{Number: 5, Timestamp: 1, StateRoot: tt.Root()}))

	var proofs []*lightclient.StateProof
	for i := 0; i < 10; i++ {
		key := []byte(fmt.Sprintf("account-%03d", i))
		value := kv[string(key)]
		if i%2 == 1 {
			value = []byte("forged")
		}
		proofs = append(proofs, &lightclient.StateProof{ChainID: "eth", Height: 5, Root: tt.Root(), Key: key, Value: value, Nodes: tt.Prove(key)})
	}
	results, err := m.VerifyBatch(t.Context(), proofs)
	assert.NoError(t, err)
	for i, ok := range results {
		assert.Equal(t, ok, i%2 == 0)
	}

	proofs = append(proofs, &lightclient.StateProof{ChainID: "sol", Height: 1})
	_, err = m.VerifyBatch(t.Context(), proofs)
	assert.True(t, errors.Is(err, models.ErrUnsupportedChain))
}

func TestManagerParallelChains(t *testing.T) {
	m := lightclient.NewManager()
	chains := []string{"a", "b", "c", "d"}
	for _, id := range chains {
		addChain(t, m, id, lightclient.SHA256d)
		assert.NoError(t, m.UpdateState(t.Context(), id, &lightclient.Header{Number: 0, Timestamp: 1}))
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(chains)*20)
	for _, id := range chains {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				c, err := m.GetClient(id)
				if err != nil {
					errs <- err
					return
				}
				latest := c.Latest()
				h := &lightclient.Header{ParentHash: c.LatestHash(), Number: latest.Number + 1, Timestamp: latest.Timestamp + 1}
				if err := m.UpdateState(context.Background(), id, h); err != nil {
					errs <- err
				}
				_, _ = m.GetLatestHeight(id)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("update failed: %v", err)
	}
	for _, id := range chains {
		height, err := m.GetLatestHeight(id)
		assert.NoError(t, err)
		assert.Equal(t, height, uint64(20))
	}
}

func TestManagerLoadVerificationKey(t *testing.T) {
	loader := &staticLoader{blobs: map[string][]byte{"groth16.vk": {1, 2, 3}}}
	m := lightclient.NewManager(lightclient.WithParamLoader(loader))
	addChain(t, m, "zk", lightclient.Keccak256)

	for i := 0; i < 3; i++ {
		key, err := m.LoadVerificationKey(t.Context(), "zk", "groth16.vk")
		assert.NoError(t, err)
		assert.Equal(t, len(key), 3)
	}
	assert.Equal(t, loader.calls, 1)

	_, err := m.LoadVerificationKey(t.Context(), "zk", "missing")
	assert.Error(t, err)
}

package adapters_test

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/Cogwheel-Validator/spectra-intents/pathfinder/adapters"
	models "github.com/Cogwheel-Validator/spectra-intents/pathfinder/models"
	"github.com/zeebo/assert"
)

func TestCachedLoaderDownloadsOnce(t *testing.T) {
	origin := t.TempDir()
	blob := bytes.Repeat([]byte{0x5a}, 4096)
	assert.NoError(t, os.WriteFile(filepath.Join(origin, "groth16.vk"), blob, 0o644))
	sum := sha256.Sum256(blob)

	cache := t.TempDir()
	loader, err := adapters.NewCachedLoader(cache, map[string]adapters.ParamSource{
		"groth16.vk": {URL: filepath.Join(origin, "groth16.vk"), SHA256: hex.EncodeToString(sum[:])},
	})
	assert.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			data, err := loader.Load(t.Context(), "groth16.vk")
			if err != nil || !bytes.Equal(data, blob) {
				t.Errorf("load failed: %v", err)
			}
		}()
	}
	wg.Wait()

	cached, err := os.ReadFile(filepath.Join(cache, "groth16.vk"))
	assert.NoError(t, err)
	assert.True(t, bytes.Equal(cached, blob))

	// the cached copy is used once the origin is gone
	assert.NoError(t, os.Remove(filepath.Join(origin, "groth16.vk")))
	data, err := loader.Load(t.Context(), "groth16.vk")
	assert.NoError(t, err)
	assert.Equal(t, len(data), len(blob))
}

func TestCachedLoaderDigestMismatch(t *testing.T) {
	origin := t.TempDir()
	assert.NoError(t, os.WriteFile(filepath.Join(origin, "kzg.srs"), []byte("tampered"), 0o644))

	cache := t.TempDir()
	loader, err := adapters.NewCachedLoader(cache, nil)
	assert.NoError(t, err)
	loader.AddSource("kzg.srs", adapters.ParamSource{URL: filepath.Join(origin, "kzg.srs"), SHA256: "00"})

	_, err = loader.Load(t.Context(), "kzg.srs")
	assert.True(t, errors.Is(err, models.ErrVerification))
	_, statErr := os.Stat(filepath.Join(cache, "kzg.srs"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestCachedLoaderRejectsBadNames(t *testing.T) {
	loader, err := adapters.NewCachedLoader(t.TempDir(), nil)
	assert.NoError(t, err)
	for _, name := range []string{"", "../secret", "a/b", ".hidden"} {
		_, err := loader.Load(t.Context(), name)
		assert.True(t, errors.Is(err, models.ErrVerification))
	}
	_, err = loader.Load(t.Context(), "unknown.vk")
	assert.Error(t, err)
}

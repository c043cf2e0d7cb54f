package adapters_test

import (
	"bytes"
	"errors"
	"math/rand"
	"strings"
	"testing"

	"github.com/Cogwheel-Validator/spectra-intents/pathfinder/adapters"
	models "github.com/Cogwheel-Validator/spectra-intents/pathfinder/models"
	"github.com/ethereum/go-ethereum/common"
	"github.com/zeebo/assert"
)

func TestAddressRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 200; i++ {
		raw := make([]byte, 20)
		rng.Read(raw)

		encoded, err := adapters.EncodeBech32("cosmos", raw)
		assert.NoError(t, err)
		prefix, decoded, err := adapters.DecodeBech32(encoded)
		assert.NoError(t, err)
		assert.Equal(t, prefix, "cosmos")
		assert.True(t, bytes.Equal(decoded, raw))

		hexAddr := common.BytesToAddress(raw).Hex()
		b32, err := adapters.HexToBech32(hexAddr, "osmo")
		assert.NoError(t, err)
		back, err := adapters.Bech32ToHex(b32)
		assert.NoError(t, err)
		assert.Equal(t, back, hexAddr)

		// decoding then encoding returns the same string modulo case
		again, err := adapters.HexToBech32(strings.ToLower(back), "osmo")
		assert.NoError(t, err)
		assert.Equal(t, again, b32)
		upper, err := adapters.Bech32ToHex(strings.ToUpper(b32))
		assert.NoError(t, err)
		assert.Equal(t, upper, hexAddr)
	}
}

func TestAddressCodecConvert(t *testing.T) {
	codec := adapters.NewAddressCodec(map[string]string{"cosmoshub-4": "cosmos", "osmosis-1": "osmo"})
	hexAddr := "0x00000000000000000000000000000000000000aa"

	hub, err := codec.ConvertAddress(hexAddr, "cosmoshub-4")
	assert.NoError(t, err)
	assert.True(t, strings.HasPrefix(hub, "cosmos1"))

	osmo, err := codec.ConvertAddress(hub, "osmosis-1")
	assert.NoError(t, err)
	direct, err := adapters.ConvertBech32Address(hub, "osmo")
	assert.NoError(t, err)
	assert.Equal(t, osmo, direct)

	_, err = codec.ConvertAddress(hexAddr, "eth")
	assert.True(t, errors.Is(err, models.ErrUnsupportedChain))

	codec.SetPrefix("eth", "eth")
	prefix, ok := codec.Prefix("eth")
	assert.True(t, ok)
	assert.Equal(t, prefix, "eth")
}

func TestAddressRejectsMalformed(t *testing.T) {
	_, err := adapters.DecodeAddress("0x1234")
	assert.True(t, errors.Is(err, models.ErrTranslation))
	_, err = adapters.DecodeAddress("cosmos1notanaddress")
	assert.True(t, errors.Is(err, models.ErrTranslation))

	long, err := adapters.EncodeBech32("cosmos", make([]byte, 32))
	assert.NoError(t, err)
	_, err = adapters.Bech32ToHex(long)
	assert.True(t, errors.Is(err, models.ErrTranslation))
}

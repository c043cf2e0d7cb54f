package adapters

import (
	"fmt"
	"strings"
	"sync"

	models "github.com/Cogwheel-Validator/spectra-intents/pathfinder/models"
	"github.com/btcsuite/btcutil/bech32"
	"github.com/ethereum/go-ethereum/common"
)

// AddressCodec converts 20 byte account payloads between 0x-hex and the bech32
// forms chains publish them in. Encoding then decoding returns the input bytes,
// and decoding then encoding returns the input string up to letter case.
type AddressCodec struct {
	mu sync.RWMutex
	// prefixes maps chain names to their bech32 human readable part
	prefixes map[string]string
}

// NewAddressCodec creates a codec with the given chain prefix mappings.
func NewAddressCodec(prefixes map[string]string) *AddressCodec {
	c := &AddressCodec{prefixes: make(map[string]string, len(prefixes))}
	for chain, prefix := range prefixes {
		c.prefixes[chain] = prefix
	}
	return c
}

// Prefix returns the bech32 prefix for a chain.
func (c *AddressCodec) Prefix(chain string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	prefix, ok := c.prefixes[chain]
	return prefix, ok
}

// SetPrefix sets or updates the bech32 prefix for a chain.
func (c *AddressCodec) SetPrefix(chain, prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prefixes[chain] = prefix
}

// EncodeBech32 encodes raw address bytes under prefix.
func EncodeBech32(prefix string, raw []byte) (string, error) {
	data, err := bech32.ConvertBits(raw, 8, 5, true)
	if err != nil {
		return "", models.WrapError(models.KindTranslation, "convert address to 5 bit groups", err)
	}
	encoded, err := bech32.Encode(prefix, data)
	if err != nil {
		return "", models.WrapError(models.KindTranslation, "encode bech32 address", err)
	}
	return encoded, nil
}

// DecodeBech32 returns the prefix and raw bytes of a bech32 address.
func DecodeBech32(address string) (string, []byte, error) {
	prefix, data, err := bech32.Decode(address)
	if err != nil {
		return "", nil, models.WrapError(models.KindTranslation, "decode bech32 address", err)
	}
	raw, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return "", nil, models.WrapError(models.KindTranslation, "convert address to bytes", err)
	}
	return prefix, raw, nil
}

// HexToBech32 converts a 0x-hex account address to bech32 under prefix.
func HexToBech32(hexAddr, prefix string) (string, error) {
	if !common.IsHexAddress(hexAddr) {
		return "", models.NewError(models.KindTranslation, fmt.Sprintf("%q is not a hex address", hexAddr))
	}
	return EncodeBech32(prefix, common.HexToAddress(hexAddr).Bytes())
}

// Bech32ToHex converts a bech32 account address to checksummed 0x-hex. Only 20
// byte payloads have a hex form.
func Bech32ToHex(address string) (string, error) {
	_, raw, err := DecodeBech32(address)
	if err != nil {
		return "", err
	}
	if len(raw) != common.AddressLength {
		return "", models.NewError(models.KindTranslation,
			fmt.Sprintf("bech32 payload is %d bytes, hex addresses hold %d", len(raw), common.AddressLength))
	}
	return common.BytesToAddress(raw).Hex(), nil
}

// ConvertBech32Address re-encodes a bech32 address under a new prefix. This derives
// the same account's address on another chain.
func ConvertBech32Address(address, targetPrefix string) (string, error) {
	_, raw, err := DecodeBech32(address)
	if err != nil {
		return "", err
	}
	return EncodeBech32(targetPrefix, raw)
}

// ConvertAddress converts an address of either form to the bech32 form of chain.
func (c *AddressCodec) ConvertAddress(address, chain string) (string, error) {
	prefix, ok := c.Prefix(chain)
	if !ok {
		return "", models.NewError(models.KindUnsupportedChain, fmt.Sprintf("no bech32 prefix for chain %s", chain))
	}
	raw, err := DecodeAddress(address)
	if err != nil {
		return "", err
	}
	return EncodeBech32(prefix, raw)
}

// DecodeAddress accepts a 0x-hex or bech32 address and returns its raw bytes.
func DecodeAddress(address string) ([]byte, error) {
	if strings.HasPrefix(address, "0x") || strings.HasPrefix(address, "0X") {
		if !common.IsHexAddress(address) {
			return nil, models.NewError(models.KindTranslation, fmt.Sprintf("%q is not a hex address", address))
		}
		return common.HexToAddress(address).Bytes(), nil
	}
	_, raw, err := DecodeBech32(address)
	return raw, err
}

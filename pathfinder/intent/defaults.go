package intent

import "slices"

// Family groups chains that share address formats and hashing rules.
type Family string

const (
	FamilyEVM       Family = "evm"
	FamilySubstrate Family = "substrate"
	FamilyCosmos    Family = "cosmos"
	FamilyUTXO      Family = "utxo"
)

// ChainDefaults holds the placeholder fee and confirmation depth used for a
// destination chain until a fee oracle replaces them.
type ChainDefaults struct {
	Family        Family `toml:"family"`
	Fee           uint64 `toml:"fee"`           // base units
	Confirmations uint32 `toml:"confirmations"` // blocks before the payload is considered final
	// AddressLengths lists accepted raw address widths. Empty accepts any width.
	AddressLengths []int `toml:"address_lengths"`
	// Decimals of the native asset, used when an adapter rescales amounts.
	Decimals int32 `toml:"decimals"`
}

// AcceptsAddress reports whether an address of n bytes is valid for the chain.
func (d ChainDefaults) AcceptsAddress(n int) bool {
	return len(d.AddressLengths) == 0 || slices.Contains(d.AddressLengths, n)
}

// DefaultChains returns a fresh copy of the built-in defaults table.
func DefaultChains() map[string]ChainDefaults {
	return map[string]ChainDefaults{
		"eth":         {Family: FamilyEVM, Fee: 21_000 * 20_000_000_000, Confirmations: 12, AddressLengths: []int{20}, Decimals: 18},
		"sepolia":     {Family: FamilyEVM, Fee: 21_000 * 2_000_000_000, Confirmations: 6, AddressLengths: []int{20}, Decimals: 18},
		"polygon":     {Family: FamilyEVM, Fee: 21_000 * 50_000_000_000, Confirmations: 128, AddressLengths: []int{20}, Decimals: 18},
		"arbitrum":    {Family: FamilyEVM, Fee: 21_000 * 100_000_000, Confirmations: 1, AddressLengths: []int{20}, Decimals: 18},
		"dot":         {Family: FamilySubstrate, Fee: 160_000_000, Confirmations: 2, AddressLengths: []int{20, 32}, Decimals: 10},
		"ksm":         {Family: FamilySubstrate, Fee: 1_000_000_000, Confirmations: 2, AddressLengths: []int{20, 32}, Decimals: 12},
		"cosmoshub-4": {Family: FamilyCosmos, Fee: 5_000, Confirmations: 1, AddressLengths: []int{20, 32}, Decimals: 6},
		"osmosis-1":   {Family: FamilyCosmos, Fee: 5_000, Confirmations: 1, AddressLengths: []int{20, 32}, Decimals: 6},
		"neutron-1":   {Family: FamilyCosmos, Fee: 5_000, Confirmations: 1, AddressLengths: []int{20, 32}, Decimals: 6},
		"btc":         {Family: FamilyUTXO, Fee: 2_000, Confirmations: 6, AddressLengths: []int{20, 32}, Decimals: 8},
		"btc-testnet": {Family: FamilyUTXO, Fee: 1_000, Confirmations: 3, AddressLengths: []int{20, 32}, Decimals: 8},
	}
}

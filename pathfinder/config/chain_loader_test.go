package config_test

import (
	"bytes"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	. "github.com/Cogwheel-Validator/spectra-intents/pathfinder/config"
	"github.com/Cogwheel-Validator/spectra-intents/pathfinder/intent"
	"github.com/Cogwheel-Validator/spectra-intents/pathfinder/lightclient"
	models "github.com/Cogwheel-Validator/spectra-intents/pathfinder/models"
	"github.com/holiman/uint256"
	"github.com/zeebo/assert"
)

const graphTOML = `
[[chains]]
name = "eth"
chain_id = "1"
finality = 12
hash = "keccak256"
root_window = 64

[chains.adapter]
kind = "evm"
endpoint = "http://127.0.0.1:8545"
backups = ["http://127.0.0.1:8546"]

[chains.adapter.transport]
max_retries = 0
timeout = "2s"

[[chains]]
name = "dot"
chain_id = "polkadot"
finality = 2
hash = "blake2b256"

[[chains]]
name = "cosmoshub-4"
chain_id = "cosmoshub-4"
hash = "sha256d"

[chains.adapter]
kind = "cosmos"
endpoint = "http://127.0.0.1:26657"
prefix = "cosmos"
denom = "uatom"
source_decimals = 18

[[chains]]
name = "btc"
chain_id = "regtest"
finality = 6
hash = "sha256d"

[chains.adapter]
kind = "utxo"
endpoint = "http://127.0.0.1:18443"
network = "regtest"
user = "rpc"
pass = "rpc"

[chains.defaults]
family = "utxo"
fee = 500
confirmations = 1
address_lengths = [20, 32]
decimals = 8

[[edges]]
from = "eth"
to = "dot"
bridge = "message"
cost = 10
latency = "5m"

[[edges]]
from = "eth"
to = "cosmoshub-4"
bridge = "light_client"
cost = 3
latency = "1m"

[[edges]]
from = "cosmoshub-4"
to = "dot"
bridge = "wrapped"
cost = 4
latency = "2m"

[[edges]]
from = "eth"
to = "btc"
bridge = "atomic-swap"
cost = 20
latency = "1h"

[params.groth16-vk]
url = "https://example.com/vk.bin"
sha256 = "00"
`

func writeGraph(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	assert.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func loadGraph(t *testing.T) *GraphConfig {
	t.Helper()
	g, err := NewChainConfigLoader().LoadFromFile(writeGraph(t, "chains.toml", graphTOML))
	assert.NoError(t, err)
	return g
}

func TestLoadFromFile(t *testing.T) {
	g := loadGraph(t)
	assert.Equal(t, len(g.Chains), 4)
	assert.Equal(t, len(g.Edges), 4)

	eth := g.Chains[0]
	assert.Equal(t, eth.Hash, lightclient.Keccak256)
	assert.Equal(t, eth.RootWindow, 64)
	assert.Equal(t, eth.Adapter.Kind, AdapterEVM)
	assert.Equal(t, eth.Adapter.Backups[0], "http://127.0.0.1:8546")

	tc := eth.Adapter.Transport.Resolve()
	assert.Equal(t, tc.MaxRetries, uint(0))
	assert.Equal(t, tc.Timeout, 2*time.Second)
	// unset fields keep their defaults
	assert.Equal(t, tc.Burst, 10)

	assert.Equal(t, g.Edges[0].Bridge, models.BridgeMessage)
	assert.Equal(t, g.Edges[1].Bridge, models.BridgeLightClient)
	assert.Equal(t, time.Duration(g.Edges[3].Latency), time.Hour)
	assert.Equal(t, g.ParamSources()["groth16-vk"].URL, "https://example.com/vk.bin")
}

func TestLoadFromFileJSON(t *testing.T) {
	content := `{
  "chains": [{"name": "eth", "chain_id": "1", "hash": "keccak256"}, {"name": "dot"}],
  "edges": [{"from": "eth", "to": "dot", "bridge": "native", "cost": 1, "latency": "30s"}]
}`
	g, err := NewChainConfigLoader().LoadFromFile(writeGraph(t, "chains.json", content))
	assert.NoError(t, err)
	assert.Equal(t, g.Edges[0].Bridge, models.BridgeNative)
	assert.Equal(t, time.Duration(g.Edges[0].Latency), 30*time.Second)
}

func TestLoadFromFileRejects(t *testing.T) {
	cases := []struct {
		name    string
		content string
		want    string
	}{
		{"empty", ``, "no chains"},
		{"duplicate name", `
[[chains]]
name = "eth"
[[chains]]
name = "eth"
`, "declared twice"},
		{"shared chain id", `
[[chains]]
name = "eth"
chain_id = "1"
hash = "keccak256"
[[chains]]
name = "mainnet"
chain_id = "1"
hash = "keccak256"
`, "share chain_id"},
		{"unknown hasher", `
[[chains]]
name = "eth"
chain_id = "1"
hash = "md5"
`, "eth"},
		{"adapter without id", `
[[chains]]
name = "eth"
[chains.adapter]
kind = "evm"
endpoint = "http://127.0.0.1:8545"
`, "chain_id"},
		{"unknown kind", `
[[chains]]
name = "sol"
chain_id = "sol"
[chains.adapter]
kind = "svm"
endpoint = "http://127.0.0.1:8899"
`, "unknown adapter kind"},
		{"cosmos without prefix", `
[[chains]]
name = "osmosis-1"
chain_id = "osmosis-1"
[chains.adapter]
kind = "cosmos"
endpoint = "http://127.0.0.1:26657"
`, "prefix"},
		{"bad network", `
[[chains]]
name = "btc"
chain_id = "btc"
[chains.adapter]
kind = "utxo"
endpoint = "http://127.0.0.1:8332"
network = "litecoin"
`, "litecoin"},
		{"undeclared edge chain", `
[[chains]]
name = "eth"
[[edges]]
from = "eth"
to = "dot"
bridge = "native"
`, "undeclared"},
		{"bad bridge", `
[[chains]]
name = "eth"
[[chains]]
name = "dot"
[[edges]]
from = "eth"
to = "dot"
bridge = "ferry"
`, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewChainConfigLoader().LoadFromFile(writeGraph(t, "chains.toml", tc.content))
			assert.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tc.want))
		})
	}
}

func TestBuildEngine(t *testing.T) {
	l := NewChainConfigLoader()
	e, err := l.BuildEngine(loadGraph(t))
	assert.NoError(t, err)
	assert.Equal(t, len(e.Chains()), 4)

	route, err := e.FindRoute(models.NewIntent("i", "eth", "dot", "transfer", nil, nil))
	assert.NoError(t, err)
	assert.Equal(t, strings.Join(route.Path(), ">"), "eth>cosmoshub-4>dot")
	assert.Equal(t, route.TotalCost, uint64(7))
	// the dot hop waits for dot's own finality depth
	assert.Equal(t, route.Hops[1].Confirmations, uint32(2))
}

func TestBuildTranslator(t *testing.T) {
	l := NewChainConfigLoader()
	tr := l.BuildTranslator(loadGraph(t), false)

	btc, ok := tr.Chain("btc")
	assert.True(t, ok)
	assert.Equal(t, btc.Fee, uint64(500))
	assert.Equal(t, btc.Family, intent.FamilyUTXO)

	// chains without a defaults block keep the built-in table
	eth, ok := tr.Chain("eth")
	assert.True(t, ok)
	assert.Equal(t, eth.Decimals, int32(18))

	strict := l.BuildTranslator(loadGraph(t), true)
	_, err := strict.Translate(models.NewIntent("i", "eth", "dot", "teleport", nil, nil))
	assert.Error(t, err)
}

func TestInitializeRouter(t *testing.T) {
	l := NewChainConfigLoader()
	g := loadGraph(t)
	manager := lightclient.NewManager()

	assert.NoError(t, l.RegisterLightClients(t.Context(), g, manager))
	// the UTXO chain is followed by its adapter's own proof-of-work client
	chains := manager.ListChains()
	assert.Equal(t, strings.Join(chains, ","), "1,cosmoshub-4,polkadot")

	client, err := manager.GetClient("1")
	assert.NoError(t, err)
	assert.Equal(t, client.Algo(), lightclient.Keccak256)

	// registering twice leaves existing clients alone
	assert.NoError(t, l.RegisterLightClients(t.Context(), g, manager))

	asm, err := l.InitializeRouter(g, manager, false)
	assert.NoError(t, err)
	defer asm.Close()

	registered := asm.Router.Adapters().Chains()
	assert.Equal(t, len(registered), 3)
	for _, name := range []string{"eth", "cosmoshub-4", "btc"} {
		assert.True(t, slices.Contains(registered, name))
	}

	assert.Equal(t, len(asm.Syncers), 3)
	synced := make([]string, 0, len(asm.Syncers))
	for _, s := range asm.Syncers {
		assert.NotNil(t, s.Sync)
		synced = append(synced, s.Chain)
	}
	assert.Equal(t, strings.Join(synced, ","), "eth,cosmoshub-4,btc")

	// the cosmos adapter rescales 18 decimal amounts to the chain's 6
	params, err := intent.NewParamsBuilder().
		Address(bytes.Repeat([]byte{0x01}, 20)).
		Amount(uint256.NewInt(2_500_000_000_000_000_000)).
		Build()
	assert.NoError(t, err)
	plan, err := asm.Router.RouteIntent(t.Context(), models.NewIntent("i", "eth", "cosmoshub-4", "transfer", params, nil))
	assert.NoError(t, err)
	assert.True(t, plan.Route.TrustMinimised)
	_, fields, err := intent.DecodePayload(plan.Translated.Payload)
	assert.NoError(t, err)
	amount, ok := fields.Amount()
	assert.True(t, ok)
	assert.Equal(t, amount.Uint64(), uint64(2_500_000))
	addr, ok := fields.Get(intent.TagAddress)
	assert.True(t, ok)
	assert.True(t, strings.HasPrefix(string(addr), "cosmos1"))
}

// Package utxo is the adapter for bitcoin-style chains. It talks to a bitcoind
// compatible node with btcd's rpcclient in HTTP POST mode and follows the header
// chain with a proof-of-work light client, against which SPV inclusion proofs
// are checked.
package utxo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/Cogwheel-Validator/spectra-intents/pathfinder/adapters"
	"github.com/Cogwheel-Validator/spectra-intents/pathfinder/intent"
	"github.com/Cogwheel-Validator/spectra-intents/pathfinder/lightclient"
	models "github.com/Cogwheel-Validator/spectra-intents/pathfinder/models"
	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcutil"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

var log zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log = zerolog.New(out).With().Timestamp().Str("component", "utxo-adapter").Logger()
}

// bitcoind error codes that mean the transaction itself is unacceptable.
const (
	rpcVerifyRejected     btcjson.RPCErrorCode = -26
	rpcVerifyAlreadyChain btcjson.RPCErrorCode = -27
)

// DefaultSyncBatch is the most headers one SyncHeaders call relays.
const DefaultSyncBatch = 144

// ExpectedBits returns the compact target the header at height must carry, given
// its parent.
type ExpectedBits func(height uint64, parent *wire.BlockHeader) uint32

// InheritBits expects every header to repeat its parent's target. It holds within
// a retarget period and always on regtest.
func InheritBits(_ uint64, parent *wire.BlockHeader) uint32 { return parent.Bits }

// Config describes one bitcoin-style chain.
type Config struct {
	Name     string
	ChainID  string
	Endpoint string
	Backups  []string
	User     string
	Pass     string
	// Network is "mainnet", "testnet3", "regtest" or "simnet"
	Network      string
	ExpectedBits ExpectedBits
	SyncBatch    int
	RootWindow   int
	Transport    adapters.TransportConfig
}

// NetParams maps a network name to btcd chain parameters.
func NetParams(network string) (*chaincfg.Params, error) {
	switch strings.ToLower(network) {
	case "", "mainnet", "main":
		return &chaincfg.MainNetParams, nil
	case "testnet3", "testnet":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	case "simnet":
		return &chaincfg.SimNetParams, nil
	}
	return nil, fmt.Errorf("unknown bitcoin network %q", network)
}

// Adapter implements adapters.ChainAdapter for UTXO chains.
type Adapter struct {
	adapters.Base
	cfg       Config
	net       *chaincfg.Params
	transport *adapters.Transport
	pow       *lightclient.PowClient

	mu      sync.Mutex
	clients map[string]*rpcclient.Client
	syncMu  sync.Mutex
}

// New creates an adapter with an empty proof-of-work client. Translated intents
// carry witness program addresses: 20 bytes become P2WPKH and 32 bytes P2WSH.
func New(cfg Config, translator *intent.Translator) (*Adapter, error) {
	net, err := NetParams(cfg.Network)
	if err != nil {
		return nil, err
	}
	tr, err := adapters.NewTransport(cfg.Name, cfg.Endpoint, cfg.Backups, cfg.Transport)
	if err != nil {
		return nil, err
	}
	if cfg.ExpectedBits == nil {
		cfg.ExpectedBits = InheritBits
	}
	if cfg.SyncBatch <= 0 {
		cfg.SyncBatch = DefaultSyncBatch
	}
	a := &Adapter{
		cfg:       cfg,
		net:       net,
		transport: tr,
		pow:       lightclient.NewPowClient(cfg.ChainID, cfg.RootWindow),
		clients:   make(map[string]*rpcclient.Client),
	}
	ov := intent.Overrides{
		Address: func(raw []byte) ([]byte, error) {
			addr, err := witnessAddress(raw, net)
			if err != nil {
				return nil, err
			}
			return []byte(addr.EncodeAddress()), nil
		},
	}
	a.Base = adapters.NewBase(cfg.Name, cfg.ChainID, translator, nil, ov)
	return a, nil
}

func witnessAddress(program []byte, net *chaincfg.Params) (btcutil.Address, error) {
	switch len(program) {
	case 20:
		return btcutil.NewAddressWitnessPubKeyHash(program, net)
	case 32:
		return btcutil.NewAddressWitnessScriptHash(program, net)
	}
	return nil, models.NewError(models.KindTranslation, fmt.Sprintf("no witness address of %d bytes", len(program)))
}

// PowClient exposes the header chain the adapter follows.
func (a *Adapter) PowClient() *lightclient.PowClient { return a.pow }

func (a *Adapter) client(endpoint string) (*rpcclient.Client, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if c, ok := a.clients[endpoint]; ok {
		return c, nil
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, err
	}
	c, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:         u.Host,
		User:         a.cfg.User,
		Pass:         a.cfg.Pass,
		HTTPPostMode: true,
		DisableTLS:   u.Scheme != "https",
	}, nil)
	if err != nil {
		return nil, err
	}
	a.clients[endpoint] = c
	return c, nil
}

// call runs fn against the current endpoint through the transport. Node errors
// about the request itself are tagged so they are not retried.
func (a *Adapter) call(ctx context.Context, fn func(c *rpcclient.Client) error) error {
	return a.transport.Call(ctx, func(ctx context.Context, endpoint string) error {
		c, err := a.client(endpoint)
		if err != nil {
			return err
		}
		return classify(fn(c))
	})
}

func classify(err error) error {
	var rpcErr *btcjson.RPCError
	if !errors.As(err, &rpcErr) {
		return err
	}
	switch rpcErr.Code {
	case btcjson.ErrRPCDeserialization, btcjson.ErrRPCVerify, rpcVerifyRejected, rpcVerifyAlreadyChain,
		btcjson.ErrRPCInvalidAddressOrKey, btcjson.ErrRPCInvalidParameter:
		return models.WrapError(models.KindTranslation, "node refused request", err)
	}
	return err
}

// SubmitTransaction broadcasts a serialised transaction and returns its txid.
func (a *Adapter) SubmitTransaction(ctx context.Context, payload []byte) (string, error) {
	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(payload)); err != nil {
		return "", models.WrapError(models.KindTranslation, "decode transaction", err)
	}
	var txid string
	err := a.call(ctx, func(c *rpcclient.Client) error {
		hash, err := c.SendRawTransaction(tx, false)
		if err != nil {
			return err
		}
		txid = hash.String()
		return nil
	})
	if err != nil {
		return "", err
	}
	log.Info().Str("chain", a.ChainName()).Str("tx", txid).Msg("Submitted transaction")
	return txid, nil
}

// QueryBalance sums the confirmed unspent outputs the node's wallet tracks for
// address, in satoshi.
func (a *Adapter) QueryBalance(ctx context.Context, address, asset string) (*uint256.Int, error) {
	if asset != "" && !strings.EqualFold(asset, "native") && !strings.EqualFold(asset, "btc") {
		return nil, models.NewError(models.KindTranslation, fmt.Sprintf("%s holds no asset %q", a.ChainName(), asset))
	}
	addr, err := btcutil.DecodeAddress(address, a.net)
	if err != nil {
		return nil, models.WrapError(models.KindTranslation, "decode address", err)
	}
	if !addr.IsForNet(a.net) {
		return nil, models.NewError(models.KindTranslation, fmt.Sprintf("%s is not a %s address", address, a.net.Name))
	}

	var unspent []btcjson.ListUnspentResult
	err = a.call(ctx, func(c *rpcclient.Client) error {
		var err error
		unspent, err = c.ListUnspentMinMaxAddresses(1, 9_999_999, []btcutil.Address{addr})
		return err
	})
	if err != nil {
		return nil, err
	}
	total := new(uint256.Int)
	for _, u := range unspent {
		amt, err := btcutil.NewAmount(u.Amount)
		if err != nil || amt < 0 {
			return nil, models.NewError(models.KindNetwork, fmt.Sprintf("bad output amount %v", u.Amount))
		}
		total.Add(total, uint256.NewInt(uint64(amt)))
	}
	return total, nil
}

// SyncHeaders relays headers from the tip up to the node's best height, at most
// SyncBatch of them. The first call bootstraps at the node's best block. It
// returns the new tip height.
func (a *Adapter) SyncHeaders(ctx context.Context) (uint64, error) {
	a.syncMu.Lock()
	defer a.syncMu.Unlock()

	var best int64
	if err := a.call(ctx, func(c *rpcclient.Client) error {
		var err error
		best, err = c.GetBlockCount()
		return err
	}); err != nil {
		return 0, err
	}

	tip, _, ok := a.pow.Tip()
	if !ok {
		h, err := a.header(ctx, best)
		if err != nil {
			return 0, err
		}
		if err := a.pow.Bootstrap(h, uint64(best)); err != nil {
			return 0, err
		}
		return uint64(best), nil
	}

	parent, err := a.header(ctx, int64(tip))
	if err != nil {
		return 0, err
	}
	for n := 0; n < a.cfg.SyncBatch && int64(tip) < best; n++ {
		if err := ctx.Err(); err != nil {
			return tip, err
		}
		h, err := a.header(ctx, int64(tip)+1)
		if err != nil {
			return tip, err
		}
		if err := a.pow.UpdateHeader(h, a.cfg.ExpectedBits(tip+1, parent)); err != nil {
			log.Warn().Err(err).Str("chain", a.ChainName()).Uint64("height", tip+1).Msg("Header rejected")
			return tip, err
		}
		tip++
		parent = h
	}
	return tip, nil
}

func (a *Adapter) header(ctx context.Context, height int64) (*wire.BlockHeader, error) {
	var h *wire.BlockHeader
	err := a.call(ctx, func(c *rpcclient.Client) error {
		hash, err := c.GetBlockHash(height)
		if err != nil {
			return err
		}
		h, err = c.GetBlockHeader(hash)
		return err
	})
	return h, err
}

// VerifyState checks an SPV inclusion proof (see EncodeInclusionProof) against
// the merkle roots of the followed header chain.
func (a *Adapter) VerifyState(ctx context.Context, proof []byte) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	p, err := DecodeInclusionProof(proof)
	if err != nil {
		return false, err
	}
	return a.pow.VerifyInclusion(p.Height, p.TxID, p.Index, p.Branch)
}

// Close shuts down the RPC clients and the transport.
func (a *Adapter) Close() {
	a.transport.Close()
	a.mu.Lock()
	defer a.mu.Unlock()
	for endpoint, c := range a.clients {
		c.Shutdown()
		delete(a.clients, endpoint)
	}
}

// Package cosmos is the adapter for CometBFT based chains. It talks JSON-RPC to a
// node's RPC port: broadcast_tx_sync for submission, abci_query against the bank
// module for balances and commit for header relay.
package cosmos

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Cogwheel-Validator/spectra-intents/pathfinder/adapters"
	"github.com/Cogwheel-Validator/spectra-intents/pathfinder/intent"
	"github.com/Cogwheel-Validator/spectra-intents/pathfinder/lightclient"
	models "github.com/Cogwheel-Validator/spectra-intents/pathfinder/models"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
	"google.golang.org/protobuf/encoding/protowire"
)

var log zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log = zerolog.New(out).With().Timestamp().Str("component", "cosmos-adapter").Logger()
}

const (
	broadcastTxSync = "broadcast_tx_sync"
	abciQuery       = "abci_query"
	commit          = "commit"
	status          = "status"

	bankBalancePath = "/cosmos.bank.v1beta1.Query/Balance"
)

// Config describes one CometBFT chain.
type Config struct {
	Name     string
	ChainID  string
	Endpoint string
	Backups  []string
	// Prefix is the bech32 human readable part of account addresses, e.g. "cosmos"
	Prefix string
	// Denom is queried when QueryBalance is given no asset
	Denom string
	// SourceDecimals, when non zero, is the precision incoming intent amounts are
	// expressed in. They are rescaled to the chain's own decimals on translation.
	SourceDecimals int32
	Transport      adapters.TransportConfig
}

// Adapter implements adapters.ChainAdapter for CometBFT chains.
type Adapter struct {
	adapters.Base
	cfg       Config
	transport *adapters.Transport
	manager   *lightclient.Manager
	nextID    atomic.Uint64
	syncMu    sync.Mutex
	// id of the last relayed block, guarded by syncMu
	lastBlock common.Hash
}

// New creates an adapter. The chain must be known to translator, whose decimals
// are the target of amount rescaling.
func New(cfg Config, translator *intent.Translator, manager *lightclient.Manager) (*Adapter, error) {
	if cfg.Prefix == "" {
		return nil, fmt.Errorf("%s: bech32 prefix is required", cfg.Name)
	}
	defaults, ok := translator.Chain(cfg.Name)
	if !ok {
		return nil, models.NewError(models.KindUnsupportedChain, fmt.Sprintf("no translation defaults for %s", cfg.Name))
	}
	tr, err := adapters.NewTransport(cfg.Name, cfg.Endpoint, cfg.Backups, cfg.Transport)
	if err != nil {
		return nil, err
	}

	ov := intent.Overrides{
		Address: func(raw []byte) ([]byte, error) {
			addr, err := adapters.EncodeBech32(cfg.Prefix, raw)
			if err != nil {
				return nil, err
			}
			return []byte(addr), nil
		},
	}
	if cfg.SourceDecimals != 0 && cfg.SourceDecimals != defaults.Decimals {
		from, to := cfg.SourceDecimals, defaults.Decimals
		ov.Amount = func(v *uint256.Int) (*uint256.Int, error) {
			return intent.ScaleAmount(v, from, to)
		}
	}

	a := &Adapter{cfg: cfg, transport: tr, manager: manager}
	var verifier adapters.StateVerifier
	if manager != nil {
		verifier = manager
	}
	a.Base = adapters.NewBase(cfg.Name, cfg.ChainID, translator, verifier, ov)
	return a, nil
}

// call performs one JSON-RPC request and decodes its result into out.
func (a *Adapter) call(ctx context.Context, method string, params map[string]any, out any) error {
	if params == nil {
		params = map[string]any{}
	}
	req := rpcRequest{JSONRPC: "2.0", ID: a.nextID.Add(1), Method: method, Params: params}
	body, err := a.transport.PostJSON(ctx, "", req)
	if err != nil {
		return err
	}
	var resp rpcResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return models.WrapError(models.KindNetwork, fmt.Sprintf("decode %s response", method), err)
	}
	if resp.Error != nil {
		return models.NewError(models.KindNetwork,
			fmt.Sprintf("%s: rpc error %d: %s %s", method, resp.Error.Code, resp.Error.Message, resp.Error.Data))
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return models.WrapError(models.KindNetwork, fmt.Sprintf("decode %s result", method), err)
	}
	return nil
}

// SubmitTransaction broadcasts signed tx bytes and waits for the CheckTx result.
// A non zero code means the chain refused the transaction as built.
func (a *Adapter) SubmitTransaction(ctx context.Context, payload []byte) (string, error) {
	if len(payload) == 0 {
		return "", models.NewError(models.KindTranslation, "empty transaction")
	}
	var res broadcastResult
	params := map[string]any{"tx": base64.StdEncoding.EncodeToString(payload)}
	if err := a.call(ctx, broadcastTxSync, params, &res); err != nil {
		return "", err
	}
	if res.Code != 0 {
		return "", models.NewError(models.KindTranslation,
			fmt.Sprintf("%s rejected transaction: codespace %s code %d: %s", a.ChainName(), res.Codespace, res.Code, res.Log))
	}
	log.Info().Str("chain", a.ChainName()).Str("tx", res.Hash).Msg("Submitted transaction")
	return res.Hash, nil
}

// QueryBalance asks the bank module for the balance of address in asset. The
// address may be given as bech32 under any prefix or as 0x-hex.
func (a *Adapter) QueryBalance(ctx context.Context, address, asset string) (*uint256.Int, error) {
	raw, err := adapters.DecodeAddress(address)
	if err != nil {
		return nil, err
	}
	owner, err := adapters.EncodeBech32(a.cfg.Prefix, raw)
	if err != nil {
		return nil, err
	}
	if asset == "" {
		asset = a.cfg.Denom
	}
	if asset == "" {
		return nil, models.NewError(models.KindTranslation, "no denom given and none configured")
	}

	var res abciQueryResult
	params := map[string]any{
		"path":  bankBalancePath,
		"data":  hex.EncodeToString(encodeBalanceRequest(owner, asset)),
		"prove": false,
	}
	if err := a.call(ctx, abciQuery, params, &res); err != nil {
		return nil, err
	}
	if res.Response.Code != 0 {
		return nil, models.NewError(models.KindTranslation,
			fmt.Sprintf("balance query refused with code %d: %s", res.Response.Code, res.Response.Log))
	}
	denom, amount, err := decodeBalanceResponse(res.Response.Value)
	if err != nil {
		return nil, err
	}
	if denom != "" && denom != asset {
		return nil, models.NewError(models.KindNetwork, fmt.Sprintf("asked for %s, node answered %s", asset, denom))
	}
	if amount == "" {
		return new(uint256.Int), nil
	}
	out, err := uint256.FromDecimal(amount)
	if err != nil {
		return nil, models.WrapError(models.KindNetwork, fmt.Sprintf("balance amount %q", amount), err)
	}
	return out, nil
}

// encodeBalanceRequest builds cosmos.bank.v1beta1.QueryBalanceRequest.
func encodeBalanceRequest(address, denom string) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, address)
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendString(b, denom)
	return b
}

// decodeBalanceResponse reads the coin out of QueryBalanceResponse. Unknown fields
// are skipped.
func decodeBalanceResponse(b []byte) (denom, amount string, err error) {
	coin, err := protoField(b, 1)
	if err != nil || coin == nil {
		return "", "", err
	}
	d, err := protoField(coin, 1)
	if err != nil {
		return "", "", err
	}
	amt, err := protoField(coin, 2)
	if err != nil {
		return "", "", err
	}
	return string(d), string(amt), nil
}

// protoField returns the last length-delimited value of field num in b.
func protoField(b []byte, num protowire.Number) ([]byte, error) {
	var out []byte
	for len(b) > 0 {
		n, typ, l := protowire.ConsumeTag(b)
		if l < 0 {
			return nil, models.WrapError(models.KindNetwork, "decode protobuf tag", protowire.ParseError(l))
		}
		b = b[l:]
		if n == num && typ == protowire.BytesType {
			v, l := protowire.ConsumeBytes(b)
			if l < 0 {
				return nil, models.WrapError(models.KindNetwork, "decode protobuf field", protowire.ParseError(l))
			}
			out = v
			b = b[l:]
			continue
		}
		l = protowire.ConsumeFieldValue(n, typ, b)
		if l < 0 {
			return nil, models.WrapError(models.KindNetwork, "skip protobuf field", protowire.ParseError(l))
		}
		b = b[l:]
	}
	return out, nil
}

// SyncHeader relays the next committed header to the light client, or bootstraps
// it at the node's latest height. The app hash becomes the trusted state root.
func (a *Adapter) SyncHeader(ctx context.Context) (uint64, error) {
	if a.manager == nil {
		return 0, models.NewError(models.KindVerification, fmt.Sprintf("%s has no light client", a.ChainName()))
	}
	a.syncMu.Lock()
	defer a.syncMu.Unlock()

	trusted, err := a.manager.GetClient(a.ChainID())
	if err != nil {
		return 0, err
	}
	height, bootstrapped := trusted.LatestHeight()
	if bootstrapped {
		height++
	} else {
		var st statusResult
		if err := a.call(ctx, status, nil, &st); err != nil {
			return 0, err
		}
		if st.NodeInfo.Network != a.ChainID() {
			return 0, models.NewError(models.KindVerification,
				fmt.Sprintf("node serves %s, expected %s", st.NodeInfo.Network, a.ChainID()))
		}
		height, err = strconv.ParseUint(st.SyncInfo.LatestBlockHeight, 10, 64)
		if err != nil {
			return 0, models.WrapError(models.KindNetwork, "latest block height", err)
		}
	}

	if bootstrapped && a.lastBlock == (common.Hash{}) {
		if err := a.seedLastBlock(ctx, trusted); err != nil {
			return 0, err
		}
	}

	res, err := a.fetchCommit(ctx, height)
	if err != nil {
		return 0, err
	}
	head := res.SignedHeader.Header
	blockID, err := decodeHash(res.SignedHeader.Commit.BlockID.Hash)
	if err != nil {
		return 0, err
	}
	if bootstrapped {
		parentID, err := decodeHash(head.LastBlockID.Hash)
		if err != nil {
			return 0, err
		}
		if parentID != a.lastBlock {
			return 0, models.NewError(models.KindInvalidProof,
				fmt.Sprintf("%s block %d does not extend the relayed chain", a.ChainName(), height))
		}
	}
	appHash, err := decodeHash(head.AppHash)
	if err != nil {
		return 0, err
	}
	dataHash, err := decodeHash(head.DataHash)
	if err != nil {
		return 0, err
	}
	resultsHash, err := decodeHash(head.LastResultsHash)
	if err != nil {
		return 0, err
	}
	h := &lightclient.Header{
		ParentHash:   trusted.LatestHash(),
		StateRoot:    appHash,
		TxRoot:       dataHash,
		ReceiptsRoot: resultsHash,
		Number:       height,
		Timestamp:    uint64(head.Time.Unix()),
	}
	if err := a.manager.UpdateState(ctx, a.ChainID(), h); err != nil {
		return 0, err
	}
	a.lastBlock = blockID
	return height, nil
}

// fetchCommit reads the signed header at height and checks it is the one asked for.
func (a *Adapter) fetchCommit(ctx context.Context, height uint64) (*commitResult, error) {
	var res commitResult
	if err := a.call(ctx, commit, map[string]any{"height": strconv.FormatUint(height, 10)}, &res); err != nil {
		return nil, err
	}
	head := res.SignedHeader.Header
	if head.ChainID != a.ChainID() || head.Height != strconv.FormatUint(height, 10) {
		return nil, models.NewError(models.KindInvalidProof,
			fmt.Sprintf("asked for %s/%d, node returned %s/%s", a.ChainID(), height, head.ChainID, head.Height))
	}
	return &res, nil
}

// seedLastBlock recovers the id of the trusted block after a restart. The node's
// block at the trusted height must carry the trusted app hash.
func (a *Adapter) seedLastBlock(ctx context.Context, trusted *lightclient.Client) error {
	latest := trusted.Latest()
	res, err := a.fetchCommit(ctx, latest.Number)
	if err != nil {
		return err
	}
	appHash, err := decodeHash(res.SignedHeader.Header.AppHash)
	if err != nil {
		return err
	}
	if appHash != latest.StateRoot {
		return models.NewError(models.KindInvalidProof,
			fmt.Sprintf("%s block %d does not match the trusted state root", a.ChainName(), latest.Number))
	}
	blockID, err := decodeHash(res.SignedHeader.Commit.BlockID.Hash)
	if err != nil {
		return err
	}
	a.lastBlock = blockID
	return nil
}

// decodeHash reads an upper or lower case hex hash. Empty is the zero hash.
func decodeHash(s string) (common.Hash, error) {
	if s == "" {
		return common.Hash{}, nil
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil || len(raw) != common.HashLength {
		return common.Hash{}, models.NewError(models.KindInvalidProof, fmt.Sprintf("bad header hash %q", s))
	}
	return common.BytesToHash(raw), nil
}

// Close stops the transport.
func (a *Adapter) Close() {
	a.transport.Close()
}

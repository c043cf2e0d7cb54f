// Package evm is the adapter for Ethereum-style chains. Transactions and balance
// queries go through go-ethereum's ethclient; state proofs are checked by the
// keccak light client held in the manager.
package evm

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/Cogwheel-Validator/spectra-intents/pathfinder/adapters"
	"github.com/Cogwheel-Validator/spectra-intents/pathfinder/intent"
	"github.com/Cogwheel-Validator/spectra-intents/pathfinder/lightclient"
	models "github.com/Cogwheel-Validator/spectra-intents/pathfinder/models"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

var log zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log = zerolog.New(out).With().Timestamp().Str("component", "evm-adapter").Logger()
}

const erc20BalanceABI = `[{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"}]`

var erc20 = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(erc20BalanceABI))
	if err != nil {
		panic(err)
	}
	return parsed
}()

// Config describes one EVM chain.
type Config struct {
	Name      string
	ChainID   string
	Endpoint  string
	Backups   []string
	Transport adapters.TransportConfig
}

// Adapter implements adapters.ChainAdapter for EVM chains.
type Adapter struct {
	adapters.Base
	transport *adapters.Transport
	manager   *lightclient.Manager

	mu      sync.Mutex
	clients map[string]*ethclient.Client // by endpoint
	// lastBlock is the chain's own hash of the newest header relayed to the light client
	lastBlock common.Hash
}

// New creates an adapter. manager may be nil when no light client is kept for the chain.
func New(cfg Config, translator *intent.Translator, manager *lightclient.Manager) (*Adapter, error) {
	tr, err := adapters.NewTransport(cfg.Name, cfg.Endpoint, cfg.Backups, cfg.Transport)
	if err != nil {
		return nil, err
	}
	a := &Adapter{
		transport: tr,
		manager:   manager,
		clients:   make(map[string]*ethclient.Client),
	}
	var verifier adapters.StateVerifier
	if manager != nil {
		verifier = manager
	}
	a.Base = adapters.NewBase(cfg.Name, cfg.ChainID, translator, verifier, intent.Overrides{})
	return a, nil
}

func (a *Adapter) client(ctx context.Context, endpoint string) (*ethclient.Client, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if c, ok := a.clients[endpoint]; ok {
		return c, nil
	}
	c, err := ethclient.DialContext(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	a.clients[endpoint] = c
	return c, nil
}

// SubmitTransaction broadcasts a signed transaction in its binary (typed or RLP) form.
func (a *Adapter) SubmitTransaction(ctx context.Context, payload []byte) (string, error) {
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(payload); err != nil {
		return "", models.WrapError(models.KindTranslation, "decode signed transaction", err)
	}
	err := a.transport.Call(ctx, func(ctx context.Context, endpoint string) error {
		c, err := a.client(ctx, endpoint)
		if err != nil {
			return err
		}
		return c.SendTransaction(ctx, tx)
	})
	if err != nil {
		return "", err
	}
	log.Info().Str("chain", a.ChainName()).Str("tx", tx.Hash().Hex()).Msg("Submitted transaction")
	return tx.Hash().Hex(), nil
}

// QueryBalance returns the native balance when asset is empty or "native",
// otherwise the ERC-20 balance held at the token address asset.
func (a *Adapter) QueryBalance(ctx context.Context, address, asset string) (*uint256.Int, error) {
	raw, err := adapters.DecodeAddress(address)
	if err != nil {
		return nil, err
	}
	if len(raw) != common.AddressLength {
		return nil, models.NewError(models.KindTranslation, fmt.Sprintf("address is %d bytes", len(raw)))
	}
	owner := common.BytesToAddress(raw)

	var balance *big.Int
	if asset == "" || strings.EqualFold(asset, "native") {
		err = a.transport.Call(ctx, func(ctx context.Context, endpoint string) error {
			c, err := a.client(ctx, endpoint)
			if err != nil {
				return err
			}
			balance, err = c.BalanceAt(ctx, owner, nil)
			return err
		})
	} else {
		balance, err = a.tokenBalance(ctx, owner, asset)
	}
	if err != nil {
		return nil, err
	}
	out, overflow := uint256.FromBig(balance)
	if overflow {
		return nil, models.NewError(models.KindNetwork, "balance does not fit in 256 bits")
	}
	return out, nil
}

func (a *Adapter) tokenBalance(ctx context.Context, owner common.Address, token string) (*big.Int, error) {
	if !common.IsHexAddress(token) {
		return nil, models.NewError(models.KindTranslation, fmt.Sprintf("asset %q is not a token address", token))
	}
	data, err := erc20.Pack("balanceOf", owner)
	if err != nil {
		return nil, models.WrapError(models.KindTranslation, "pack balanceOf", err)
	}
	to := common.HexToAddress(token)
	var out []byte
	err = a.transport.Call(ctx, func(ctx context.Context, endpoint string) error {
		c, err := a.client(ctx, endpoint)
		if err != nil {
			return err
		}
		out, err = c.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	values, err := erc20.Unpack("balanceOf", out)
	if err != nil || len(values) != 1 {
		return nil, models.WrapError(models.KindNetwork, "unpack balanceOf", err)
	}
	balance, ok := values[0].(*big.Int)
	if !ok {
		return nil, models.NewError(models.KindNetwork, "balanceOf returned a non integer")
	}
	return balance, nil
}

// SyncHeader relays the chain's next block header to the light client. The first
// call bootstraps the client with the latest block. It returns the relayed height.
func (a *Adapter) SyncHeader(ctx context.Context) (uint64, error) {
	if a.manager == nil {
		return 0, models.NewError(models.KindVerification, fmt.Sprintf("%s has no light client", a.ChainName()))
	}
	trusted, err := a.manager.GetClient(a.ChainID())
	if err != nil {
		return 0, err
	}
	height, bootstrapped := trusted.LatestHeight()

	a.mu.Lock()
	seeded := a.lastBlock != (common.Hash{})
	a.mu.Unlock()
	if bootstrapped && !seeded {
		if err := a.seedLastBlock(ctx, trusted); err != nil {
			return 0, err
		}
	}

	var number *big.Int
	if bootstrapped {
		number = new(big.Int).SetUint64(height + 1)
	}
	head, err := a.headerByNumber(ctx, number)
	if err != nil {
		return 0, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if bootstrapped && head.ParentHash != a.lastBlock {
		return 0, models.NewError(models.KindInvalidProof,
			fmt.Sprintf("%s block %d does not extend the relayed chain", a.ChainName(), head.Number))
	}
	h := &lightclient.Header{
		ParentHash:   trusted.LatestHash(),
		StateRoot:    head.Root,
		TxRoot:       head.TxHash,
		ReceiptsRoot: head.ReceiptHash,
		Number:       head.Number.Uint64(),
		GasLimit:     head.GasLimit,
		GasUsed:      head.GasUsed,
		Timestamp:    head.Time,
		Extra:        head.Extra,
	}
	if err := a.manager.UpdateState(ctx, a.ChainID(), h); err != nil {
		return 0, err
	}
	a.lastBlock = head.Hash()
	return h.Number, nil
}

func (a *Adapter) headerByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	var head *types.Header
	err := a.transport.Call(ctx, func(ctx context.Context, endpoint string) error {
		c, err := a.client(ctx, endpoint)
		if err != nil {
			return err
		}
		head, err = c.HeaderByNumber(ctx, number)
		return err
	})
	return head, err
}

// seedLastBlock recovers the hash of the trusted block after a restart. The node's
// block at the trusted height must carry the trusted state root.
func (a *Adapter) seedLastBlock(ctx context.Context, trusted *lightclient.Client) error {
	latest := trusted.Latest()
	head, err := a.headerByNumber(ctx, new(big.Int).SetUint64(latest.Number))
	if err != nil {
		return err
	}
	if head.Root != latest.StateRoot {
		return models.NewError(models.KindInvalidProof,
			fmt.Sprintf("%s block %d does not match the trusted state root", a.ChainName(), latest.Number))
	}
	a.mu.Lock()
	a.lastBlock = head.Hash()
	a.mu.Unlock()
	return nil
}

// Close releases the RPC connections.
func (a *Adapter) Close() {
	a.transport.Close()
	a.mu.Lock()
	defer a.mu.Unlock()
	for endpoint, c := range a.clients {
		c.Close()
		delete(a.clients, endpoint)
	}
}

// Package adapters defines the boundary between the router and individual chains.
// Every chain family (EVM, Cosmos, UTXO, ...) implements ChainAdapter; the
// reference implementations live in the evm, cosmos and utxo subpackages.
package adapters

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/Cogwheel-Validator/spectra-intents/pathfinder/intent"
	"github.com/Cogwheel-Validator/spectra-intents/pathfinder/lightclient"
	models "github.com/Cogwheel-Validator/spectra-intents/pathfinder/models"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

var log zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log = zerolog.New(out).With().Timestamp().Str("component", "adapters").Logger()
}

// ChainAdapter drives one chain. Implementations must be safe for concurrent use
// and must report failures as *models.Error, never as transport-library errors.
type ChainAdapter interface {
	// ChainName is the name the routing graph uses for the chain, e.g. "eth".
	ChainName() string
	// ChainID is the chain's own identifier, e.g. "1" or "cosmoshub-4". Light
	// clients are keyed by it.
	ChainID() string
	// TranslateIntent builds the chain-specific payload for an intent whose
	// destination is this chain.
	TranslateIntent(ctx context.Context, in models.Intent) (*models.TranslatedIntent, error)
	// VerifyState decodes proof bytes and checks them against the newest trusted state.
	VerifyState(ctx context.Context, proof []byte) (bool, error)
	// SubmitTransaction hands a serialised, already signed transaction to the chain
	// and returns its identifier.
	SubmitTransaction(ctx context.Context, payload []byte) (string, error)
	// QueryBalance returns the balance of address in base units of asset.
	QueryBalance(ctx context.Context, address, asset string) (*uint256.Int, error)
}

// StateVerifier checks decoded state proofs. *lightclient.Manager satisfies it.
type StateVerifier interface {
	VerifyState(ctx context.Context, p *lightclient.StateProof) (bool, error)
}

// Base carries what every adapter shares: identity, translation with chain
// specific overrides and state-proof verification through the light-client manager.
// Family adapters embed it and add transport.
type Base struct {
	name       string
	chainID    string
	translator *intent.Translator
	overrides  intent.Overrides
	verifier   StateVerifier
}

// NewBase creates the shared part of an adapter. verifier may be nil for chains
// without a light client, in which case VerifyState always fails.
func NewBase(name, chainID string, translator *intent.Translator, verifier StateVerifier, ov intent.Overrides) Base {
	return Base{
		name:       name,
		chainID:    chainID,
		translator: translator,
		overrides:  ov,
		verifier:   verifier,
	}
}

func (b *Base) ChainName() string { return b.name }
func (b *Base) ChainID() string   { return b.chainID }

// TranslateIntent runs the shared translator with this adapter's overrides.
func (b *Base) TranslateIntent(ctx context.Context, in models.Intent) (*models.TranslatedIntent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if in.ToChain() != b.name {
		return nil, models.NewError(models.KindUnsupportedChain,
			fmt.Sprintf("adapter for %s cannot translate an intent bound for %s", b.name, in.ToChain()))
	}
	return b.translator.TranslateWith(in, b.overrides)
}

// VerifyState decodes a binary StateProof and checks it with the light-client manager.
func (b *Base) VerifyState(ctx context.Context, raw []byte) (bool, error) {
	if b.verifier == nil {
		return false, models.NewError(models.KindVerification, fmt.Sprintf("%s has no light client", b.name))
	}
	proof, err := lightclient.DecodeStateProof(raw)
	if err != nil {
		return false, err
	}
	if proof.ChainID != b.chainID {
		return false, models.NewError(models.KindVerification,
			fmt.Sprintf("proof for chain %s sent to %s adapter", proof.ChainID, b.chainID))
	}
	return b.verifier.VerifyState(ctx, proof)
}

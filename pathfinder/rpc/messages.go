package rpc

import (
	"fmt"
	"strings"
	"time"

	"github.com/Cogwheel-Validator/spectra-intents/pathfinder/adapters"
	"github.com/Cogwheel-Validator/spectra-intents/pathfinder/intent"
	models "github.com/Cogwheel-Validator/spectra-intents/pathfinder/models"
	"github.com/Cogwheel-Validator/spectra-intents/pathfinder/router"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// IntentMessage is an intent on the wire. Params carries the raw TLV block;
// clients that cannot build it fill Transfer instead.
type IntentMessage struct {
	ID        string          `json:"id,omitempty"`
	FromChain string          `json:"from_chain"`
	ToChain   string          `json:"to_chain"`
	Action    string          `json:"action"`
	Params    []byte          `json:"params,omitempty"`
	Context   []byte          `json:"context,omitempty"`
	Transfer  *TransferFields `json:"transfer,omitempty"`
}

// TransferFields are the common parameters in readable form.
type TransferFields struct {
	// 0x-hex or bech32
	Recipient string `json:"recipient"`
	// base units, decimal digits
	Amount string `json:"amount"`
	Asset  string `json:"asset,omitempty"`
}

func (m *IntentMessage) Validate() error {
	if m.FromChain == "" || m.ToChain == "" {
		return fmt.Errorf("from_chain and to_chain are required")
	}
	if m.Action == "" {
		return fmt.Errorf("action is required")
	}
	if len(m.Params) > 0 && m.Transfer != nil {
		return fmt.Errorf("params and transfer are mutually exclusive")
	}
	return nil
}

// toIntent builds the model intent. A missing id gets a random one.
func (m *IntentMessage) toIntent() (models.Intent, error) {
	id := m.ID
	if id == "" {
		id = uuid.NewString()
	}
	params := m.Params
	if m.Transfer != nil {
		b := intent.NewParamsBuilder()
		if m.Transfer.Recipient != "" {
			addr, err := adapters.DecodeAddress(m.Transfer.Recipient)
			if err != nil {
				return models.Intent{}, err
			}
			b.Address(addr)
		}
		if m.Transfer.Amount != "" {
			amount, err := uint256.FromDecimal(m.Transfer.Amount)
			if err != nil {
				return models.Intent{}, models.WrapError(models.KindTranslation, "amount", err)
			}
			b.Amount(amount)
		}
		if m.Transfer.Asset != "" {
			b.Asset(m.Transfer.Asset)
		}
		built, err := b.Build()
		if err != nil {
			return models.Intent{}, err
		}
		params = built
	}
	return models.NewIntent(id, m.FromChain, m.ToChain, m.Action, params, m.Context), nil
}

// PlanMessage is a routed and translated intent.
type PlanMessage struct {
	IntentID   string                   `json:"intent_id"`
	Route      *models.Route            `json:"route"`
	Path       string                   `json:"path"` // chain names joined by "->"
	Translated *models.TranslatedIntent `json:"translated"`
	// EstimatedFee rendered in whole units of the destination chain's native asset
	EstimatedFee string `json:"estimated_fee,omitempty"`
}

type RouteIntentRequest struct {
	Intent IntentMessage `json:"intent"`
}

func (r *RouteIntentRequest) Validate() error { return r.Intent.Validate() }

type RouteIntentResponse struct {
	Plan PlanMessage `json:"plan"`
}

type SubmitIntentRequest struct {
	Intent IntentMessage `json:"intent"`
	// SignedTx replaces the translated payload when set
	SignedTx []byte `json:"signed_tx,omitempty"`
}

func (r *SubmitIntentRequest) Validate() error { return r.Intent.Validate() }

type SubmitIntentResponse struct {
	TxID string      `json:"tx_id"`
	Plan PlanMessage `json:"plan"`
}

type VerifyStateRequest struct {
	Chain string `json:"chain"`
	Proof []byte `json:"proof"`
}

func (r *VerifyStateRequest) Validate() error {
	if r.Chain == "" {
		return fmt.Errorf("chain is required")
	}
	if len(r.Proof) == 0 {
		return fmt.Errorf("proof is required")
	}
	return nil
}

type VerifyStateResponse struct {
	Verified bool `json:"verified"`
}

type ListRoutesRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	MaxHops int    `json:"max_hops"`
}

func (r *ListRoutesRequest) Validate() error {
	if r.From == "" || r.To == "" {
		return fmt.Errorf("from and to are required")
	}
	if r.MaxHops < 0 {
		return fmt.Errorf("max_hops must not be negative")
	}
	return nil
}

type ListRoutesResponse struct {
	Routes []*models.Route `json:"routes"`
}

type ListChainsRequest struct{}

type ChainMessage struct {
	Name     string `json:"name"`
	Finality uint32 `json:"finality"`
	Adapter  bool   `json:"adapter"`
}

type ListChainsResponse struct {
	Chains []ChainMessage `json:"chains"`
}

type LightClientStatusRequest struct {
	ChainID string `json:"chain_id"`
}

func (r *LightClientStatusRequest) Validate() error {
	if r.ChainID == "" {
		return fmt.Errorf("chain_id is required")
	}
	return nil
}

type LightClientStatusResponse struct {
	ChainID   string    `json:"chain_id"`
	Height    uint64    `json:"height"`
	Hash      string    `json:"hash"`
	StateRoot string    `json:"state_root"`
	Timestamp time.Time `json:"timestamp"`
}

type QueryBalanceRequest struct {
	Chain   string `json:"chain"`
	Address string `json:"address"`
	Asset   string `json:"asset,omitempty"`
}

func (r *QueryBalanceRequest) Validate() error {
	if r.Chain == "" || r.Address == "" {
		return fmt.Errorf("chain and address are required")
	}
	return nil
}

type QueryBalanceResponse struct {
	// base units
	Balance string `json:"balance"`
	// whole units when the chain's decimals are known
	Formatted string `json:"formatted,omitempty"`
}

func convertPlan(plan *models.IntentPlan, translator *intent.Translator) PlanMessage {
	msg := PlanMessage{
		IntentID:   plan.IntentID,
		Route:      plan.Route,
		Path:       strings.Join(plan.Route.Path(), "->"),
		Translated: plan.Translated,
	}
	if translator != nil {
		if d, ok := translator.Chain(plan.Translated.ToChain); ok {
			msg.EstimatedFee = intent.FormatAmount(uint256.NewInt(plan.Translated.EstimatedFee), d.Decimals)
		}
	}
	return msg
}

func convertChains(chains []router.Chain, withAdapter []string) []ChainMessage {
	has := make(map[string]bool, len(withAdapter))
	for _, name := range withAdapter {
		has[name] = true
	}
	out := make([]ChainMessage, len(chains))
	for i, c := range chains {
		out[i] = ChainMessage{Name: c.Name, Finality: c.Finality, Adapter: has[c.Name]}
	}
	return out
}

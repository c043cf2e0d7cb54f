package intent

import (
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	models "github.com/Cogwheel-Validator/spectra-intents/pathfinder/models"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

var translatorLog zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	translatorLog = zerolog.New(out).With().Timestamp().Str("component", "translator").Logger()
}

// actionTable maps lower-cased action names to kinds. Anything missing is generic.
var actionTable = map[string]models.ActionKind{
	"transfer":      models.ActionTransfer,
	"swap":          models.ActionSwap,
	"call":          models.ActionContractCall,
	"contract_call": models.ActionContractCall,
	"message":       models.ActionMessagePassing,
	"send_message":  models.ActionMessagePassing,
	"issue":         models.ActionAssetIssuance,
	"mint":          models.ActionAssetIssuance,
}

// requiredFields lists the fields each kind cannot be built without.
var requiredFields = map[models.ActionKind][]FieldTag{
	models.ActionTransfer:       {TagAddress, TagAmount},
	models.ActionSwap:           {TagAmount, TagAsset},
	models.ActionContractCall:   {TagAddress},
	models.ActionMessagePassing: {TagExtra},
	models.ActionAssetIssuance:  {TagAsset, TagAmount},
}

// ParseAction resolves a free-form action name. The boolean is false when the name
// is not in the table and the kind fell back to generic.
func ParseAction(action string) (models.ActionKind, bool) {
	kind, ok := actionTable[strings.ToLower(action)]
	if !ok {
		return models.ActionGeneric, false
	}
	return kind, true
}

// Overrides lets an adapter re-encode fields for its chain before canonicalisation.
// Nil hooks leave the field untouched.
type Overrides struct {
	Address func(addr []byte) ([]byte, error)
	Amount  func(amount *uint256.Int) (*uint256.Int, error)
}

// Translator turns intents into chain-specific payloads. It is safe for concurrent use.
type Translator struct {
	mu       sync.RWMutex
	defaults map[string]ChainDefaults
	strict   bool
}

type TranslatorOption func(*Translator)

// WithStrict makes unknown action names a translation error instead of generic.
func WithStrict() TranslatorOption {
	return func(t *Translator) { t.strict = true }
}

// WithChains replaces the defaults table.
func WithChains(chains map[string]ChainDefaults) TranslatorOption {
	return func(t *Translator) { t.defaults = maps.Clone(chains) }
}

// NewTranslator builds a translator seeded with DefaultChains.
func NewTranslator(opts ...TranslatorOption) *Translator {
	t := &Translator{defaults: DefaultChains()}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SetChain adds or replaces the defaults of one destination chain.
func (t *Translator) SetChain(name string, d ChainDefaults) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.defaults[name] = d
}

// Chain returns the defaults of a destination chain.
func (t *Translator) Chain(name string) (ChainDefaults, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	d, ok := t.defaults[name]
	return d, ok
}

// Chains lists the known destination chains in sorted order.
func (t *Translator) Chains() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Sorted(maps.Keys(t.defaults))
}

// Translate converts in with no chain-specific overrides.
func (t *Translator) Translate(in models.Intent) (*models.TranslatedIntent, error) {
	return t.TranslateWith(in, Overrides{})
}

// TranslateWith converts in, applying ov to the address and amount fields. The
// result depends only on in, ov and the defaults of the destination chain.
func (t *Translator) TranslateWith(in models.Intent, ov Overrides) (*models.TranslatedIntent, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	defaults, ok := t.Chain(in.ToChain())
	if !ok {
		return nil, models.NewError(models.KindUnsupportedChain,
			fmt.Sprintf("no translation defaults for chain %s", in.ToChain()))
	}

	kind, known := ParseAction(in.Action())
	if !known && t.strict {
		return nil, models.NewError(models.KindTranslation,
			fmt.Sprintf("action %q is not supported in strict mode", in.Action()))
	}

	params, err := ParseParams(in.ParamsView())
	if err != nil {
		return nil, err
	}
	for _, tag := range requiredFields[kind] {
		if !params.Has(tag) {
			return nil, models.NewError(models.KindTranslation,
				fmt.Sprintf("%s intent is missing field 0x%02x", kind, uint8(tag)))
		}
	}
	if addr, ok := params.Get(TagAddress); ok && !defaults.AcceptsAddress(len(addr)) {
		return nil, models.NewError(models.KindTranslation,
			fmt.Sprintf("address is %d bytes, %s accepts %v", len(addr), in.ToChain(), defaults.AddressLengths))
	}

	if err := applyOverrides(params, ov); err != nil {
		return nil, err
	}

	body, err := params.Canonical().Encode()
	if err != nil {
		return nil, err
	}
	payload := make([]byte, 0, 1+len(body))
	payload = append(payload, byte(kind))
	payload = append(payload, body...)

	translatorLog.Debug().
		Str("intent", in.ID()).
		Str("toChain", in.ToChain()).
		Str("kind", kind.String()).
		Int("payloadLen", len(payload)).
		Msg("Translated intent")

	return &models.TranslatedIntent{
		Kind:          kind,
		ToChain:       in.ToChain(),
		Payload:       payload,
		EstimatedFee:  defaults.Fee,
		Confirmations: defaults.Confirmations,
	}, nil
}

func applyOverrides(params *Params, ov Overrides) error {
	if ov.Address != nil {
		if addr, ok := params.Get(TagAddress); ok {
			encoded, err := ov.Address(addr)
			if err != nil {
				return models.WrapError(models.KindTranslation, "address override", err)
			}
			params.Set(TagAddress, encoded)
		}
	}
	if ov.Amount != nil {
		if amount, ok := params.Amount(); ok {
			scaled, err := ov.Amount(amount)
			if err != nil {
				return models.WrapError(models.KindTranslation, "amount override", err)
			}
			raw, err := amountBytes(scaled)
			if err != nil {
				return err
			}
			params.Set(TagAmount, raw)
		}
	}
	return nil
}

// amountBytes encodes v as a 16-byte big-endian u128.
func amountBytes(v *uint256.Int) ([]byte, error) {
	if v.BitLen() > AmountWidth*8 {
		return nil, models.NewError(models.KindTranslation, "amount does not fit in 128 bits")
	}
	be := v.Bytes32()
	return be[32-AmountWidth:], nil
}

// DecodePayload splits a translated payload back into its kind and fields.
func DecodePayload(payload []byte) (models.ActionKind, *Params, error) {
	if len(payload) == 0 {
		return 0, nil, models.NewError(models.KindTranslation, "empty payload")
	}
	params, err := ParseParams(payload[1:])
	if err != nil {
		return 0, nil, err
	}
	return models.ActionKind(payload[0]), params, nil
}

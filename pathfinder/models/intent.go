package models

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Wire limits for the fields of an Intent.
const (
	MaxIntentIDLen  = 128
	MaxChainNameLen = 64
	MaxActionLen    = 64
	MaxParamsLen    = 64 * 1024
	MaxContextLen   = 64 * 1024
)

// Intent is a chain-agnostic request: do Action on ToChain, originating from FromChain.
// The value is immutable once constructed; accessors hand out copies of the byte fields.
type Intent struct {
	id        string
	fromChain string
	toChain   string
	action    string
	params    []byte
	context   []byte
}

// NewIntent builds an Intent. An empty id is replaced with a random UUID.
func NewIntent(id, fromChain, toChain, action string, params, context []byte) Intent {
	if id == "" {
		id = uuid.NewString()
	}
	return Intent{
		id:        id,
		fromChain: fromChain,
		toChain:   toChain,
		action:    action,
		params:    bytes.Clone(params),
		context:   bytes.Clone(context),
	}
}

func (i Intent) ID() string        { return i.id }
func (i Intent) FromChain() string { return i.fromChain }
func (i Intent) ToChain() string   { return i.toChain }
func (i Intent) Action() string    { return i.action }
func (i Intent) Params() []byte    { return bytes.Clone(i.params) }
func (i Intent) Context() []byte   { return bytes.Clone(i.context) }

// ParamsView returns the parameter bytes without copying. Callers must not mutate them.
func (i Intent) ParamsView() []byte { return i.params }

// Equal reports whether two intents carry identical fields.
func (i Intent) Equal(o Intent) bool {
	return i.id == o.id &&
		i.fromChain == o.fromChain &&
		i.toChain == o.toChain &&
		i.action == o.action &&
		bytes.Equal(i.params, o.params) &&
		bytes.Equal(i.context, o.context)
}

// Validate checks the wire limits and that both chain names are present.
func (i Intent) Validate() error {
	switch {
	case len(i.id) > MaxIntentIDLen:
		return NewError(KindTranslation, fmt.Sprintf("intent id is %d bytes, limit %d", len(i.id), MaxIntentIDLen))
	case strings.TrimSpace(i.fromChain) == "":
		return NewError(KindTranslation, "intent source chain is empty")
	case strings.TrimSpace(i.toChain) == "":
		return NewError(KindTranslation, "intent destination chain is empty")
	case len(i.fromChain) > MaxChainNameLen || len(i.toChain) > MaxChainNameLen:
		return NewError(KindTranslation, fmt.Sprintf("chain names are limited to %d bytes", MaxChainNameLen))
	case len(i.action) > MaxActionLen:
		return NewError(KindTranslation, fmt.Sprintf("action is limited to %d bytes", MaxActionLen))
	case len(i.params) > MaxParamsLen:
		return NewError(KindTranslation, fmt.Sprintf("params are %d bytes, limit %d", len(i.params), MaxParamsLen))
	case len(i.context) > MaxContextLen:
		return NewError(KindTranslation, fmt.Sprintf("context is %d bytes, limit %d", len(i.context), MaxContextLen))
	}
	return nil
}

func (i Intent) String() string {
	return fmt.Sprintf("intent(%s %s->%s %s)", i.id, i.fromChain, i.toChain, i.action)
}

// ActionKind classifies what a translated intent does on the destination chain.
type ActionKind uint8

const (
	ActionGeneric ActionKind = iota
	ActionTransfer
	ActionSwap
	ActionContractCall
	ActionMessagePassing
	ActionAssetIssuance
)

var actionKindNames = map[ActionKind]string{
	ActionGeneric:        "generic",
	ActionTransfer:       "transfer",
	ActionSwap:           "swap",
	ActionContractCall:   "contract-call",
	ActionMessagePassing: "message-passing",
	ActionAssetIssuance:  "asset-issuance",
}

func (k ActionKind) String() string {
	if name, ok := actionKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("action(%d)", uint8(k))
}

// ParseActionKind is the inverse of ActionKind.String.
func ParseActionKind(s string) (ActionKind, error) {
	for k, name := range actionKindNames {
		if name == s {
			return k, nil
		}
	}
	return ActionGeneric, fmt.Errorf("unknown action kind %q", s)
}

func (k ActionKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *ActionKind) UnmarshalText(text []byte) error {
	parsed, err := ParseActionKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// TranslatedIntent is the chain-specific form of an Intent, ready for submission.
type TranslatedIntent struct {
	Kind          ActionKind `json:"kind"`
	ToChain       string     `json:"to_chain"`
	Payload       []byte     `json:"payload"`
	EstimatedFee  uint64     `json:"estimated_fee"` // base units of the destination chain
	Confirmations uint32     `json:"confirmations"` // estimated confirmation depth
}

// Equal compares two translations byte for byte.
func (t *TranslatedIntent) Equal(o *TranslatedIntent) bool {
	if t == nil || o == nil {
		return t == o
	}
	return t.Kind == o.Kind &&
		t.ToChain == o.ToChain &&
		bytes.Equal(t.Payload, o.Payload) &&
		t.EstimatedFee == o.EstimatedFee &&
		t.Confirmations == o.Confirmations
}

// IntentPlan is what the router hands back for a routed intent.
type IntentPlan struct {
	IntentID   string            `json:"intent_id"`
	Route      *Route            `json:"route"`
	Translated *TranslatedIntent `json:"translated"`
}

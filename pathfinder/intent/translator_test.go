package intent_test

import (
	"bytes"
	"errors"
	"testing"

	intent "github.com/Cogwheel-Validator/spectra-intents/pathfinder/intent"
	models "github.com/Cogwheel-Validator/spectra-intents/pathfinder/models"
	"github.com/holiman/uint256"
	"github.com/zeebo/assert"
)

var ethAddress = []byte{
	0x12, 0x34, 0x56, 0x78, 0x90, 0xab, 0xcd, 0xef, 0x12, 0x34,
	0x56, 0x78, 0x90, 0xab, 0xcd, 0xef, 0x12, 0x34, 0x78, 0x90,
}

func amount1000() []byte {
	raw := make([]byte, 16)
	raw[14] = 0x03
	raw[15] = 0xe8
	return raw
}

func transferParams() []byte {
	var p []byte
	p = append(p, 0x01, 0x00, 0x14)
	p = append(p, ethAddress...)
	p = append(p, 0x02, 0x00, 0x10)
	p = append(p, amount1000()...)
	return p
}

func TestTranslateTransferToDot(t *testing.T) {
	tr := intent.NewTranslator()
	in := models.NewIntent("t-1", "eth", "dot", "transfer", transferParams(), nil)

	out, err := tr.Translate(in)
	assert.NoError(t, err)
	assert.Equal(t, out.Kind, models.ActionTransfer)
	assert.Equal(t, out.ToChain, "dot")

	want := append([]byte{byte(models.ActionTransfer)}, transferParams()...)
	assert.True(t, bytes.Equal(out.Payload, want))

	kind, params, err := intent.DecodePayload(out.Payload)
	assert.NoError(t, err)
	assert.Equal(t, kind, models.ActionTransfer)
	addr, ok := params.Get(intent.TagAddress)
	assert.True(t, ok)
	assert.True(t, bytes.Equal(addr, ethAddress))
	amt, ok := params.Amount()
	assert.True(t, ok)
	assert.Equal(t, amt.Uint64(), uint64(1000))
}

func TestTranslateIsDeterministic(t *testing.T) {
	tr := intent.NewTranslator()
	params, err := intent.NewParamsBuilder().
		Extra([]byte("memo")).
		Field(0x7f, []byte{0xde, 0xad}).
		Amount(uint256.NewInt(42)).
		Address(ethAddress).
		Build()
	assert.NoError(t, err)

	a := models.NewIntent("same", "eth", "osmosis-1", "TRANSFER", params, []byte("ctx"))
	b := models.NewIntent("same", "eth", "osmosis-1", "TRANSFER", params, []byte("ctx"))

	first, err := tr.Translate(a)
	assert.NoError(t, err)
	second, err := tr.Translate(b)
	assert.NoError(t, err)
	assert.True(t, first.Equal(second))

	// fields come out ordered by tag, the unknown tag last
	_, decoded, err := intent.DecodePayload(first.Payload)
	assert.NoError(t, err)
	tags := make([]intent.FieldTag, 0, len(decoded.Fields))
	for _, f := range decoded.Fields {
		tags = append(tags, f.Tag)
	}
	want := []intent.FieldTag{intent.TagAddress, intent.TagAmount, intent.TagExtra, 0x7f}
	assert.Equal(t, len(tags), len(want))
	for i := range want {
		assert.Equal(t, tags[i], want[i])
	}
}

func TestTranslateActionTable(t *testing.T) {
	tests := []struct {
		action string
		kind   models.ActionKind
		known  bool
	}{
		{"transfer", models.ActionTransfer, true},
		{"Swap", models.ActionSwap, true},
		{"call", models.ActionContractCall, true},
		{"CONTRACT_CALL", models.ActionContractCall, true},
		{"message", models.ActionMessagePassing, true},
		{"send_message", models.ActionMessagePassing, true},
		{"issue", models.ActionAssetIssuance, true},
		{"mint", models.ActionAssetIssuance, true},
		{"stake", models.ActionGeneric, false},
		{"transfer ", models.ActionGeneric, false},
	}
	for _, tt := range tests {
		kind, known := intent.ParseAction(tt.action)
		assert.Equal(t, kind, tt.kind)
		assert.Equal(t, known, tt.known)
	}
}

func TestTranslateFailures(t *testing.T) {
	tr := intent.NewTranslator()
	strict := intent.NewTranslator(intent.WithStrict())

	t.Run("unknown destination", func(t *testing.T) {
		_, err := tr.Translate(models.NewIntent("", "eth", "nowhere", "transfer", transferParams(), nil))
		assert.True(t, errors.Is(err, models.ErrUnsupportedChain))
	})

	t.Run("truncated header", func(t *testing.T) {
		_, err := tr.Translate(models.NewIntent("", "eth", "dot", "transfer", []byte{0x01, 0x00}, nil))
		assert.True(t, errors.Is(err, models.ErrTranslation))
	})

	t.Run("truncated payload", func(t *testing.T) {
		params := transferParams()
		_, err := tr.Translate(models.NewIntent("", "eth", "dot", "transfer", params[:len(params)-1], nil))
		assert.True(t, errors.Is(err, models.ErrTranslation))
	})

	t.Run("zero tag", func(t *testing.T) {
		_, err := tr.Translate(models.NewIntent("", "eth", "dot", "generic", []byte{0x00, 0x00, 0x00}, nil))
		assert.True(t, errors.Is(err, models.ErrTranslation))
	})

	t.Run("address length mismatch", func(t *testing.T) {
		params, err := intent.NewParamsBuilder().Address(make([]byte, 32)).Amount(uint256.NewInt(1)).Build()
		assert.NoError(t, err)
		_, err = tr.Translate(models.NewIntent("", "dot", "eth", "transfer", params, nil))
		assert.True(t, errors.Is(err, models.ErrTranslation))
	})

	t.Run("bad amount width", func(t *testing.T) {
		params := []byte{0x02, 0x00, 0x08, 0, 0, 0, 0, 0, 0, 0, 1}
		_, err := tr.Translate(models.NewIntent("", "eth", "dot", "generic", params, nil))
		assert.True(t, errors.Is(err, models.ErrTranslation))
	})

	t.Run("missing required field", func(t *testing.T) {
		params, err := intent.NewParamsBuilder().Amount(uint256.NewInt(5)).Build()
		assert.NoError(t, err)
		_, err = tr.Translate(models.NewIntent("", "eth", "dot", "transfer", params, nil))
		assert.True(t, errors.Is(err, models.ErrTranslation))
	})

	t.Run("strict mode", func(t *testing.T) {
		in := models.NewIntent("", "eth", "dot", "stake", nil, nil)
		out, err := tr.Translate(in)
		assert.NoError(t, err)
		assert.Equal(t, out.Kind, models.ActionGeneric)

		_, err = strict.Translate(in)
		assert.True(t, errors.Is(err, models.ErrTranslation))
	})
}

func TestTranslateOverrides(t *testing.T) {
	tr := intent.NewTranslator()
	in := models.NewIntent("ov", "eth", "osmosis-1", "transfer", transferParams(), nil)

	out, err := tr.TranslateWith(in, intent.Overrides{
		Amount: func(v *uint256.Int) (*uint256.Int, error) {
			return new(uint256.Int).Mul(v, uint256.NewInt(3)), nil
		},
	})
	assert.NoError(t, err)

	_, params, err := intent.DecodePayload(out.Payload)
	assert.NoError(t, err)
	amt, _ := params.Amount()
	assert.Equal(t, amt.Uint64(), uint64(3000))

	// the intent itself is untouched
	assert.True(t, bytes.Equal(in.Params(), transferParams()))
}

func TestScaleAmount(t *testing.T) {
	wei, err := uint256.FromDecimal("1500000000000000000")
	assert.NoError(t, err)

	micro, err := intent.ScaleAmount(wei, 18, 6)
	assert.NoError(t, err)
	assert.Equal(t, micro.Uint64(), uint64(1500000))
	assert.Equal(t, intent.FormatAmount(micro, 6), "1.5")

	back, err := intent.ScaleAmount(micro, 6, 18)
	assert.NoError(t, err)
	assert.True(t, back.Eq(wei))

	_, err = intent.ScaleAmount(uint256.NewInt(1), 18, 6)
	assert.True(t, errors.Is(err, models.ErrTranslation))
}

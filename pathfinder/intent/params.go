package intent

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	models "github.com/Cogwheel-Validator/spectra-intents/pathfinder/models"
	"github.com/holiman/uint256"
)

// FieldTag identifies a field in the parameter section.
type FieldTag uint8

const (
	TagAddress FieldTag = 0x01
	TagAmount  FieldTag = 0x02
	TagAsset   FieldTag = 0x03
	TagExtra   FieldTag = 0x04
)

// AmountWidth is the byte width of an amount field (u128 big-endian).
const AmountWidth = 16

// fieldHeaderLen is tag (1 byte) plus big-endian u16 length.
const fieldHeaderLen = 3

// Field is one tag/length/payload triple. Unknown tags are kept verbatim.
type Field struct {
	Tag     FieldTag
	Payload []byte
}

// Known reports whether the translator interprets the tag.
func (f Field) Known() bool {
	return f.Tag >= TagAddress && f.Tag <= TagExtra
}

// Params is a parsed parameter section in the order the fields appeared.
type Params struct {
	Fields []Field
}

// ParseParams decodes a parameter section. It fails on truncated headers or payloads
// and on amount fields that are not exactly 16 bytes wide.
func ParseParams(raw []byte) (*Params, error) {
	p := &Params{}
	for off := 0; off < len(raw); {
		if len(raw)-off < fieldHeaderLen {
			return nil, models.NewError(models.KindTranslation,
				fmt.Sprintf("truncated field header at offset %d", off))
		}
		tag := FieldTag(raw[off])
		if tag == 0 {
			return nil, models.NewError(models.KindTranslation,
				fmt.Sprintf("invalid field tag 0x00 at offset %d", off))
		}
		length := int(binary.BigEndian.Uint16(raw[off+1 : off+3]))
		off += fieldHeaderLen
		if len(raw)-off < length {
			return nil, models.NewError(models.KindTranslation,
				fmt.Sprintf("field 0x%02x declares %d bytes, %d remain", uint8(tag), length, len(raw)-off))
		}
		payload := make([]byte, length)
		copy(payload, raw[off:off+length])
		off += length

		if tag == TagAmount && length != AmountWidth {
			return nil, models.NewError(models.KindTranslation,
				fmt.Sprintf("amount field is %d bytes, want %d", length, AmountWidth))
		}
		p.Fields = append(p.Fields, Field{Tag: tag, Payload: payload})
	}
	return p, nil
}

// Get returns the first field with the given tag.
func (p *Params) Get(tag FieldTag) ([]byte, bool) {
	for _, f := range p.Fields {
		if f.Tag == tag {
			return f.Payload, true
		}
	}
	return nil, false
}

// Has reports whether a field with tag is present.
func (p *Params) Has(tag FieldTag) bool {
	_, ok := p.Get(tag)
	return ok
}

// Amount decodes the first amount field.
func (p *Params) Amount() (*uint256.Int, bool) {
	raw, ok := p.Get(TagAmount)
	if !ok {
		return nil, false
	}
	return new(uint256.Int).SetBytes(raw), true
}

// Set replaces the payload of every field with tag, or appends one if absent.
func (p *Params) Set(tag FieldTag, payload []byte) {
	found := false
	for i := range p.Fields {
		if p.Fields[i].Tag == tag {
			p.Fields[i].Payload = payload
			found = true
		}
	}
	if !found {
		p.Fields = append(p.Fields, Field{Tag: tag, Payload: payload})
	}
}

// Canonical returns a copy with fields ordered by tag. Fields sharing a tag keep
// their relative order.
func (p *Params) Canonical() *Params {
	out := &Params{Fields: make([]Field, len(p.Fields))}
	copy(out.Fields, p.Fields)
	sort.SliceStable(out.Fields, func(i, j int) bool {
		return out.Fields[i].Tag < out.Fields[j].Tag
	})
	return out
}

// Encode writes the fields in their current order.
func (p *Params) Encode() ([]byte, error) {
	size := 0
	for _, f := range p.Fields {
		if len(f.Payload) > math.MaxUint16 {
			return nil, models.NewError(models.KindTranslation,
				fmt.Sprintf("field 0x%02x payload is %d bytes, limit %d", uint8(f.Tag), len(f.Payload), math.MaxUint16))
		}
		size += fieldHeaderLen + len(f.Payload)
	}
	buf := make([]byte, 0, size)
	for _, f := range p.Fields {
		buf = append(buf, byte(f.Tag))
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(f.Payload)))
		buf = append(buf, f.Payload...)
	}
	return buf, nil
}

// ParamsBuilder assembles a parameter section field by field.
type ParamsBuilder struct {
	params Params
	err    error
}

// NewParamsBuilder returns an empty builder.
func NewParamsBuilder() *ParamsBuilder {
	return &ParamsBuilder{}
}

func (b *ParamsBuilder) Address(addr []byte) *ParamsBuilder {
	return b.Field(TagAddress, addr)
}

func (b *ParamsBuilder) Amount(amount *uint256.Int) *ParamsBuilder {
	raw, err := amountBytes(amount)
	if err != nil {
		b.err = err
		return b
	}
	return b.Field(TagAmount, raw)
}

func (b *ParamsBuilder) Asset(asset string) *ParamsBuilder {
	return b.Field(TagAsset, []byte(asset))
}

func (b *ParamsBuilder) Extra(extra []byte) *ParamsBuilder {
	return b.Field(TagExtra, extra)
}

// Field appends an arbitrary field, including tags the translator does not know.
func (b *ParamsBuilder) Field(tag FieldTag, payload []byte) *ParamsBuilder {
	b.params.Fields = append(b.params.Fields, Field{Tag: tag, Payload: append([]byte(nil), payload...)})
	return b
}

// Build encodes the accumulated fields.
func (b *ParamsBuilder) Build() ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.params.Encode()
}

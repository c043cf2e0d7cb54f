package intent

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"unicode/utf8"

	models "github.com/Cogwheel-Validator/spectra-intents/pathfinder/models"
	"github.com/ethereum/go-ethereum/crypto"
)

// Record tags of the intent wire format. Each field is tag u8 | len u32 BE | bytes.
const (
	recordID      byte = 0x01
	recordFrom    byte = 0x02
	recordTo      byte = 0x03
	recordAction  byte = 0x04
	recordParams  byte = 0x05
	recordContext byte = 0x06
)

const recordHeaderLen = 5

var recordLimits = map[byte]int{
	recordID:      models.MaxIntentIDLen,
	recordFrom:    models.MaxChainNameLen,
	recordTo:      models.MaxChainNameLen,
	recordAction:  models.MaxActionLen,
	recordParams:  models.MaxParamsLen,
	recordContext: models.MaxContextLen,
}

// EncodeIntent serialises an intent into the tagged binary record. Fields are
// always written in tag order so the encoding is canonical.
func EncodeIntent(in models.Intent) ([]byte, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	fields := [][]byte{
		[]byte(in.ID()),
		[]byte(in.FromChain()),
		[]byte(in.ToChain()),
		[]byte(in.Action()),
		in.ParamsView(),
		in.Context(),
	}
	size := 0
	for _, f := range fields {
		size += recordHeaderLen + len(f)
	}
	buf := make([]byte, 0, size)
	for i, f := range fields {
		buf = append(buf, byte(i+1))
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(f)))
		buf = append(buf, f...)
	}
	return buf, nil
}

// DecodeIntent parses a tagged record. Unknown or repeated tags, oversize fields and
// invalid UTF-8 in the string fields are rejected.
func DecodeIntent(raw []byte) (models.Intent, error) {
	var values [recordContext + 1][]byte
	var seen [recordContext + 1]bool

	for off := 0; off < len(raw); {
		if len(raw)-off < recordHeaderLen {
			return models.Intent{}, decodeErr("truncated record header at offset %d", off)
		}
		tag := raw[off]
		length := binary.BigEndian.Uint32(raw[off+1 : off+recordHeaderLen])
		off += recordHeaderLen

		limit, known := recordLimits[tag]
		if !known {
			return models.Intent{}, decodeErr("unknown record tag 0x%02x", tag)
		}
		if seen[tag] {
			return models.Intent{}, decodeErr("record tag 0x%02x repeated", tag)
		}
		if uint64(length) > uint64(limit) {
			return models.Intent{}, decodeErr("record tag 0x%02x is %d bytes, limit %d", tag, length, limit)
		}
		if uint64(len(raw)-off) < uint64(length) {
			return models.Intent{}, decodeErr("record tag 0x%02x truncated", tag)
		}
		values[tag] = raw[off : off+int(length)]
		seen[tag] = true
		off += int(length)
	}

	for _, tag := range []byte{recordID, recordFrom, recordTo, recordAction} {
		if !utf8.Valid(values[tag]) {
			return models.Intent{}, decodeErr("record tag 0x%02x is not valid UTF-8", tag)
		}
	}
	if !seen[recordID] || len(values[recordID]) == 0 {
		return models.Intent{}, decodeErr("intent id missing")
	}

	in := models.NewIntent(
		string(values[recordID]),
		string(values[recordFrom]),
		string(values[recordTo]),
		string(values[recordAction]),
		values[recordParams],
		values[recordContext],
	)
	if err := in.Validate(); err != nil {
		return models.Intent{}, err
	}
	return in, nil
}

// Fingerprint is the Keccak-256 digest of the canonical wire encoding, hex encoded.
func Fingerprint(in models.Intent) (string, error) {
	enc, err := EncodeIntent(in)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(crypto.Keccak256(enc)), nil
}

func decodeErr(format string, args ...any) error {
	return models.NewError(models.KindTranslation, fmt.Sprintf("intent record: "+format, args...))
}

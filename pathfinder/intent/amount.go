package intent

import (
	"fmt"

	models "github.com/Cogwheel-Validator/spectra-intents/pathfinder/models"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// ScaleAmount moves an amount between denominations with different decimal places.
// Scaling down must be exact; dust that would be lost is reported as an error.
func ScaleAmount(v *uint256.Int, fromDecimals, toDecimals int32) (*uint256.Int, error) {
	if fromDecimals == toDecimals {
		return new(uint256.Int).Set(v), nil
	}
	d, err := decimal.NewFromString(v.Dec())
	if err != nil {
		return nil, models.WrapError(models.KindTranslation, "amount", err)
	}
	scaled := d.Shift(toDecimals - fromDecimals)
	if !scaled.IsInteger() {
		return nil, models.NewError(models.KindTranslation,
			fmt.Sprintf("amount %s loses precision when scaled from %d to %d decimals", v.Dec(), fromDecimals, toDecimals))
	}
	out, err := uint256.FromDecimal(scaled.String())
	if err != nil {
		return nil, models.WrapError(models.KindTranslation, "scaled amount", err)
	}
	return out, nil
}

// FormatAmount renders base units as a decimal string, e.g. 1500000 with 6 decimals is "1.5".
func FormatAmount(v *uint256.Int, decimals int32) string {
	return decimal.NewFromBigInt(v.ToBig(), -decimals).String()
}

package currency

import (
	"math"

	"github.com/shopspring/decimal"
)

// Round2 rounds half-up (away from zero) to two decimal places. Non-finite
// values round to 0.
func Round2(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

package currency

// staticRates is the deterministic per-currency table used when the rate
// source has nothing for a currency.
var staticRates = map[string]float64{
	USD: 1.0,
	EUR: 1.1,
	MAD: 10.0,
	GBP: 1.3,
	TND: 3.1,
}

// emergencyRates is the last-resort pairwise table, keyed SRC_TGT.
var emergencyRates = map[string]float64{
	"MAD_USD": 0.1,
	"USD_MAD": 10.0,
	"TND_USD": 0.32,
	"USD_TND": 3.1,
	"EUR_USD": 1.1,
	"USD_EUR": 0.91,
}

// StaticRate returns the fallback rate of code, 1.0 when unlisted.
func StaticRate(code string) float64 {
	if r, ok := staticRates[code]; ok {
		return r
	}
	return 1.0
}

// EmergencyRate returns the fixed pair rate, 1.0 when unlisted.
func EmergencyRate(source, target string) float64 {
	if r, ok := emergencyRates[source+"_"+target]; ok {
		return r
	}
	return 1.0
}

package currency

import (
	"strings"
	"unicode"
)

// ISO codes referenced by the fallback tables.
const (
	USD = "USD"
	EUR = "EUR"
	MAD = "MAD"
	GBP = "GBP"
	TND = "TND"
)

// aliases maps symbols and common spellings found on documents to ISO codes.
var aliases = map[string]string{
	"$":       USD,
	"US$":     USD,
	"USD":     USD,
	"DOLLAR":  USD,
	"DOLLARS": USD,
	"€":       EUR,
	"EUR":     EUR,
	"EURO":    EUR,
	"EUROS":   EUR,
	"£":       GBP,
	"GBP":     GBP,
	"POUND":   GBP,
	"POUNDS":  GBP,
	"MAD":     MAD,
	"DH":      MAD,
	"DHS":     MAD,
	"DIRHAM":  MAD,
	"DIRHAMS": MAD,
	"TND":     TND,
	"DT":      TND,
	"DINAR":   TND,
	"DINARS":  TND,
}

// NormalizeCode maps a currency symbol or alias to its ISO-3 code.
// Unrecognized three-letter codes pass through upper-cased, any other
// unrecognized text becomes USD, and blank input stays blank.
func NormalizeCode(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" {
		return ""
	}
	s = strings.TrimSuffix(s, ".")
	if code, ok := aliases[s]; ok {
		return code
	}
	if isAlphaCode(s) {
		return s
	}
	return USD
}

func isAlphaCode(s string) bool {
	if len(s) != 3 {
		return false
	}
	for _, r := range s {
		if r > unicode.MaxASCII || !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}

// Known reports whether a currency value is present at all.
func Known(raw string) bool {
	return strings.TrimSpace(raw) != ""
}

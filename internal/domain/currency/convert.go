package currency

import (
	"time"

	"github.com/FACorreiaa/ledger-intake/internal/domain/extraction/parse"
)

// Entry field names written and read during conversion.
const (
	FieldDebit              = "DebitAmt"
	FieldCredit             = "CreditAmt"
	FieldOriginalDebit      = "OriginalDebitAmt"
	FieldOriginalCredit     = "OriginalCreditAmt"
	FieldOriginalCurrency   = "OriginalDevise"
	FieldCurrency           = "Devise"
	FieldExchangeRate       = "ExchangeRate"
	FieldExchangeRateDate   = "ExchangeRateDate"
	FieldIsTransactionGroup = "isTransactionGroup"
	FieldGroupEntries       = "entries"
)

// Apply converts every entry with c and returns a new sequence. Original
// entries are never mutated. When c does not convert, entries is returned
// as is.
func Apply(entries []any, c Context) []any {
	if !c.Converts() {
		return entries
	}

	out := make([]any, 0, len(entries))
	for _, e := range entries {
		out = append(out, convertEntry(e, c))
	}
	return out
}

func convertEntry(e any, c Context) any {
	src, ok := e.(map[string]any)
	if !ok {
		return e
	}

	dst := make(map[string]any, len(src)+8)
	for k, v := range src {
		dst[k] = v
	}

	if IsTransactionGroup(src) {
		nested, _ := parse.Array(src, FieldGroupEntries)
		dst[FieldGroupEntries] = Apply(nested, c)
		return dst
	}

	debit := parse.Float(src, FieldDebit)
	credit := parse.Float(src, FieldCredit)

	dst[FieldOriginalDebit] = Round2(debit)
	dst[FieldOriginalCredit] = Round2(credit)
	dst[FieldOriginalCurrency] = c.SourceCurrency
	dst[FieldDebit] = Round2(debit * c.Rate)
	dst[FieldCredit] = Round2(credit * c.Rate)
	dst[FieldCurrency] = c.TargetCurrency
	dst[FieldExchangeRate] = c.Rate
	if !c.RateDate.IsZero() {
		dst[FieldExchangeRateDate] = c.RateDate.Format(time.DateOnly)
	}
	return dst
}

// IsTransactionGroup reports whether e bundles nested entries.
func IsTransactionGroup(e any) bool {
	if !parse.Bool(e, FieldIsTransactionGroup) {
		return false
	}
	_, ok := parse.Array(e, FieldGroupEntries)
	return ok
}

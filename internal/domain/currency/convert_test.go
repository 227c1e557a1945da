package currency

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/ledger-intake/internal/domain/extraction/parse"
)

func TestRound2(t *testing.T) {
	tests := []struct {
		input    float64
		expected float64
	}{
		{220.00000000000003, 220},
		{1.005, 1.01},
		{2.675, 2.68},
		{-1.005, -1.01},
		{100.5, 100.5},
		{0.004, 0},
		{math.NaN(), 0},
		{math.Inf(1), 0},
		{math.Inf(-1), 0},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.expected, Round2(tc.input), "Round2(%v)", tc.input)
	}
}

func TestApply_InvoiceScenario(t *testing.T) {
	entries := []any{map[string]any{"DebitAmt": "0", "CreditAmt": "200", "Label": "Vente"}}
	c := Context{SourceCurrency: EUR, TargetCurrency: USD, Rate: 1.1, RateDate: day(2025, 2, 1)}

	out := Apply(entries, c)
	require.Len(t, out, 1)
	got := out[0].(map[string]any)

	assert.Equal(t, 220.00, got[FieldCredit])
	assert.Equal(t, 0.0, got[FieldDebit])
	assert.Equal(t, 200.00, got[FieldOriginalCredit])
	assert.Equal(t, 0.0, got[FieldOriginalDebit])
	assert.Equal(t, USD, got[FieldCurrency])
	assert.Equal(t, EUR, got[FieldOriginalCurrency])
	assert.Equal(t, 1.1, got[FieldExchangeRate])
	assert.Equal(t, "2025-02-01", got[FieldExchangeRateDate])
	assert.Equal(t, "Vente", got["Label"])

	// the input is left untouched
	assert.Equal(t, "200", entries[0].(map[string]any)["CreditAmt"])
}

func TestApply_RoundsEachAmountIndependently(t *testing.T) {
	c := Context{SourceCurrency: MAD, TargetCurrency: EUR, Rate: 0.0917}
	for _, raw := range []string{"100,50", "1234.567", "0.015", "99999.99"} {
		out := Apply([]any{map[string]any{"DebitAmt": raw}}, c)
		got := out[0].(map[string]any)

		original := parse.FloatString(raw)
		assert.Equal(t, Round2(original), got[FieldOriginalDebit])
		assert.Equal(t, Round2(original*c.Rate), got[FieldDebit])
		assert.NotContains(t, got, FieldExchangeRateDate)
	}
}

func TestApply_MissingAmountsAreZero(t *testing.T) {
	c := Context{SourceCurrency: USD, TargetCurrency: MAD, Rate: 10}
	out := Apply([]any{map[string]any{"Label": "x"}}, c)
	got := out[0].(map[string]any)
	assert.Equal(t, 0.0, got[FieldDebit])
	assert.Equal(t, 0.0, got[FieldCredit])
}

func TestApply_NonFiniteAmountsAreZero(t *testing.T) {
	c := Context{SourceCurrency: EUR, TargetCurrency: USD, Rate: 1.1}
	entries := []any{map[string]any{"DebitAmt": "NaN", "CreditAmt": "200"}}

	var out []any
	require.NotPanics(t, func() { out = Apply(entries, c) })
	got := out[0].(map[string]any)
	assert.Equal(t, 0.0, got[FieldDebit])
	assert.Equal(t, 0.0, got[FieldOriginalDebit])
	assert.Equal(t, 220.0, got[FieldCredit])

	out = Apply([]any{map[string]any{"DebitAmt": "Inf", "CreditAmt": "-Infinity"}}, c)
	got = out[0].(map[string]any)
	assert.Equal(t, 0.0, got[FieldDebit])
	assert.Equal(t, 0.0, got[FieldCredit])
}

func TestApply_TransactionGroupsRecurse(t *testing.T) {
	entries := []any{
		map[string]any{
			"isTransactionGroup": true,
			"Label":              "Releve",
			"entries": []any{
				map[string]any{"DebitAmt": "10"},
				map[string]any{"CreditAmt": "5,5"},
			},
		},
		map[string]any{"isTransactionGroup": true, "DebitAmt": "3"},
	}
	c := Context{SourceCurrency: USD, TargetCurrency: MAD, Rate: 10}

	out := Apply(entries, c)
	group := out[0].(map[string]any)
	assert.Equal(t, "Releve", group["Label"])
	assert.NotContains(t, group, FieldCurrency)

	nested := group["entries"].([]any)
	require.Len(t, nested, 2)
	assert.Equal(t, 100.0, nested[0].(map[string]any)[FieldDebit])
	assert.Equal(t, 55.0, nested[1].(map[string]any)[FieldCredit])

	// flagged as a group but without nested entries: converted directly
	assert.Equal(t, 30.0, out[1].(map[string]any)[FieldDebit])
}

func TestApply_SkipsWhenNothingToConvert(t *testing.T) {
	entries := []any{map[string]any{"DebitAmt": "12,30", "Devise": "EUR"}}
	before, err := json.Marshal(entries)
	require.NoError(t, err)

	contexts := []Context{
		{SourceCurrency: EUR, TargetCurrency: EUR, Rate: 1.0},
		{SourceCurrency: EUR, TargetCurrency: USD, Rate: 1.0},
		{SourceCurrency: EUR, TargetCurrency: USD},
		{SourceCurrency: "", TargetCurrency: USD, Rate: 2},
		{SourceCurrency: MAD, TargetCurrency: MAD, Rate: 3},
	}
	for _, c := range contexts {
		out := Apply(Apply(entries, c), c)
		after, err := json.Marshal(out)
		require.NoError(t, err)
		assert.Equal(t, string(before), string(after))
	}
}

func TestApply_NonObjectEntriesKept(t *testing.T) {
	c := Context{SourceCurrency: USD, TargetCurrency: MAD, Rate: 10}
	out := Apply([]any{"stray", 12.0}, c)
	assert.Equal(t, []any{"stray", 12.0}, out)
}

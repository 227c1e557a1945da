package currency

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/ledger-intake/internal/domain/currency/ratesource"
)

// MockSource is a mock implementation of ratesource.Source
type MockSource struct {
	mock.Mock
}

func (m *MockSource) Rate(ctx context.Context, currencyCode string, date time.Time) (float64, error) {
	args := m.Called(ctx, currencyCode, date)
	return args.Get(0).(float64), args.Error(1)
}

var fixedNow = time.Date(2025, time.June, 10, 14, 30, 0, 0, time.UTC)

func setupEngineTest(source ratesource.Source) *Engine {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewEngine(source, Config{LookupTimeout: time.Second}, logger, WithClock(func() time.Time { return fixedNow }))
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestEffectiveDate(t *testing.T) {
	tests := []struct {
		name     string
		date     time.Time
		expected time.Time
	}{
		{"before window is clamped to 2024-01-01", day(2023, 6, 1), day(2024, 1, 1)},
		{"first day of window", day(2024, 1, 1), day(2024, 1, 1)},
		{"past date passes through", day(2025, 3, 15), day(2025, 3, 15)},
		{"today becomes yesterday", time.Date(2025, 6, 10, 8, 0, 0, 0, time.UTC), day(2025, 6, 9)},
		{"future becomes yesterday", day(2026, 1, 1), day(2025, 6, 9)},
		{"zero date is today", time.Time{}, day(2025, 6, 9)},
		{"time of day is dropped", time.Date(2025, 2, 3, 22, 10, 0, 0, time.UTC), day(2025, 2, 3)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, EffectiveDate(tc.date, fixedNow))
		})
	}
}

func TestNormalizeCode(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"€", EUR},
		{" eur ", EUR},
		{"Euros", EUR},
		{"$", USD},
		{"DH", MAD},
		{"dhs", MAD},
		{"DT", TND},
		{"£", GBP},
		{"chf", "CHF"},
		{"JPY", "JPY"},
		{"Moroccan money", USD},
		{"12", USD},
		{"", ""},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.expected, NormalizeCode(tc.input), "NormalizeCode(%q)", tc.input)
	}
}

func TestCombine(t *testing.T) {
	rate, err := Combine(USD, MAD, 1.0, 10.0)
	require.NoError(t, err)
	assert.Equal(t, 10.0, rate)

	rate, err = Combine(MAD, USD, 10.0, 1.0)
	require.NoError(t, err)
	assert.InDelta(t, 0.1, rate, 1e-12)

	rate, err = Combine(EUR, MAD, 1.1, 10.0)
	require.NoError(t, err)
	assert.InDelta(t, 10.0/1.1, rate, 1e-12)

	_, err = Combine(EUR, MAD, 0, 10.0)
	assert.ErrorIs(t, err, ErrInvalidRate)
}

func TestTables(t *testing.T) {
	assert.Equal(t, 1.1, StaticRate(EUR))
	assert.Equal(t, 1.0, StaticRate("CHF"))
	assert.Equal(t, 0.32, EmergencyRate(TND, USD))
	assert.Equal(t, 0.91, EmergencyRate(USD, EUR))
	assert.Equal(t, 1.0, EmergencyRate(GBP, EUR))
}

func TestResolve_UnknownCurrency(t *testing.T) {
	src := new(MockSource)
	e := setupEngineTest(src)

	c := e.Resolve(context.Background(), "", "eur", day(2025, 1, 5))
	assert.Equal(t, 1.0, c.Rate)
	assert.Equal(t, EUR, c.TargetCurrency)
	assert.Equal(t, TierUnknownCurrency, c.Tier)
	assert.False(t, c.Converts())
	src.AssertNotCalled(t, "Rate", mock.Anything, mock.Anything, mock.Anything)
}

func TestResolve_SameCurrencyAfterNormalization(t *testing.T) {
	src := new(MockSource)
	e := setupEngineTest(src)

	src.On("Rate", mock.Anything, EUR, mock.Anything).Return(0.9, nil)

	c := e.Resolve(context.Background(), "€", "EUR", day(2025, 1, 5))
	assert.Equal(t, 1.0, c.Rate)
	assert.Equal(t, TierSameCurrency, c.Tier)
	assert.True(t, c.RateDate.IsZero())
	assert.False(t, c.Converts())
	src.AssertNotCalled(t, "Rate", mock.Anything, USD, mock.Anything)
}

func TestResolve_SameCurrencyKeepsUSDRate(t *testing.T) {
	c := setupEngineTest(nil).Resolve(context.Background(), "EUR", "EUR", day(2025, 3, 1))
	assert.Equal(t, TierSameCurrency, c.Tier)
	assert.Equal(t, 1.0, c.Rate)
	assert.Greater(t, c.USDRate, 0.0)
	assert.InDelta(t, 1/1.1, c.USDRate, 1e-12)

	c = setupEngineTest(nil).Resolve(context.Background(), "USD", "USD", day(2025, 3, 1))
	assert.Equal(t, 1.0, c.USDRate)
}

func TestResolve_LiveRates(t *testing.T) {
	src := new(MockSource)
	effective := day(2024, 1, 1)
	src.On("Rate", mock.Anything, EUR, effective).Return(1.1, nil)
	src.On("Rate", mock.Anything, MAD, effective).Return(11.0, nil)

	e := setupEngineTest(src)
	c := e.Resolve(context.Background(), "EUR", "MAD", day(2023, 6, 1))

	assert.Equal(t, TierLive, c.Tier)
	assert.InDelta(t, 10.0, c.Rate, 1e-9)
	assert.Equal(t, effective, c.RateDate)
	assert.InDelta(t, 1/1.1, c.USDRate, 1e-9)
	src.AssertExpectations(t)
}

func TestResolve_SourceIsUSD(t *testing.T) {
	src := new(MockSource)
	src.On("Rate", mock.Anything, MAD, day(2025, 3, 1)).Return(9.8, nil)

	c := setupEngineTest(src).Resolve(context.Background(), "$", "MAD", day(2025, 3, 1))
	assert.Equal(t, 9.8, c.Rate)
	assert.Equal(t, 1.0, c.USDRate)
	src.AssertNotCalled(t, "Rate", mock.Anything, USD, mock.Anything)
}

func TestResolve_StaticFallbackWhenSourceFails(t *testing.T) {
	src := new(MockSource)
	src.On("Rate", mock.Anything, MAD, mock.Anything).Return(0.0, errors.New("connection refused"))

	c := setupEngineTest(src).Resolve(context.Background(), "MAD", "USD", day(2025, 3, 1))
	assert.Equal(t, TierLive, c.Tier)
	assert.InDelta(t, 0.1, c.Rate, 1e-12)
	assert.InDelta(t, 0.1, c.USDRate, 1e-12)
}

func TestResolve_NilSourceUsesStaticTable(t *testing.T) {
	c := setupEngineTest(nil).Resolve(context.Background(), "GBP", "TND", day(2025, 3, 1))
	assert.InDelta(t, 3.1/1.3, c.Rate, 1e-12)
}

func TestResolve_TimeoutTriggersFallback(t *testing.T) {
	slow := ratesource.SourceFunc(func(ctx context.Context, code string, date time.Time) (float64, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := NewEngine(slow, Config{LookupTimeout: 10 * time.Millisecond}, logger, WithClock(func() time.Time { return fixedNow }))

	c := e.Resolve(context.Background(), "EUR", "USD", day(2025, 3, 1))
	assert.InDelta(t, 1/1.1, c.Rate, 1e-12)
}

func TestResolve_EmergencyTierOnPanic(t *testing.T) {
	broken := ratesource.SourceFunc(func(ctx context.Context, code string, date time.Time) (float64, error) {
		panic("corrupted rate table")
	})

	c := setupEngineTest(broken).Resolve(context.Background(), "TND", "USD", day(2025, 3, 1))
	assert.Equal(t, TierEmergency, c.Tier)
	assert.Equal(t, 0.32, c.Rate)

	c = setupEngineTest(broken).Resolve(context.Background(), "GBP", "EUR", day(2025, 3, 1))
	assert.Equal(t, 1.0, c.Rate)
}

func TestLookup_SynthesizesStaticRate(t *testing.T) {
	src := new(MockSource)
	src.On("Rate", mock.Anything, TND, mock.Anything).Return(0.0, ratesource.ErrRateUnavailable)

	r := setupEngineTest(src).Lookup(context.Background(), TND, day(2025, 1, 2))
	assert.True(t, r.Synthesized)
	assert.Equal(t, "USD", r.BaseCurrency)
	assert.Equal(t, 3.1, r.Rate)

	usd := setupEngineTest(src).Lookup(context.Background(), USD, day(2025, 1, 2))
	assert.Equal(t, 1.0, usd.Rate)
	assert.False(t, usd.Synthesized)
}

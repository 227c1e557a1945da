// Package currency resolves the exchange rate of a document and applies it to
// the document's ledger entries.
package currency

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/FACorreiaa/ledger-intake/internal/domain/currency/ratesource"
	"github.com/FACorreiaa/ledger-intake/pkg/observability"
)

// Resolution tiers, reported on Context.Tier and in metrics.
const (
	TierUnknownCurrency = "unknown_currency"
	TierSameCurrency    = "same_currency"
	TierLive            = "live"
	TierEmergency       = "emergency"
)

var ErrInvalidRate = errors.New("invalid conversion rate")

// Context is the conversion applied to every entry of one document.
type Context struct {
	SourceCurrency string
	TargetCurrency string
	Rate           float64
	RateDate       time.Time
	// USDRate converts source amounts to USD.
	USDRate float64
	Tier    string
}

// Converts reports whether applying the context changes any amount.
func (c Context) Converts() bool {
	if c.SourceCurrency == "" || c.TargetCurrency == "" {
		return false
	}
	if c.SourceCurrency == c.TargetCurrency {
		return false
	}
	return c.Rate != 0 && c.Rate != 1.0
}

// ExchangeRate is a single currency's rate against the USD base.
type ExchangeRate struct {
	CurrencyCode string
	BaseCurrency string
	Rate         float64
	Date         time.Time
	// Synthesized rates come from the static table and are never persisted.
	Synthesized bool
}

// PairRequest identifies a conversion to resolve.
type PairRequest struct {
	Source string
	Target string
	Date   time.Time
}

// PairResolver computes a pair rate or fails.
type PairResolver func(ctx context.Context, req PairRequest) (float64, error)

type tier struct {
	name    string
	resolve PairResolver
}

// Config holds the engine settings
type Config struct {
	LookupTimeout time.Duration
}

// Engine resolves conversion contexts.
type Engine struct {
	source ratesource.Source
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
	tiers  []tier
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock overrides the clock used for effective dates.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine creates an engine over source. A nil source means every lookup
// falls back to the static table.
func NewEngine(source ratesource.Source, cfg Config, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = 5 * time.Second
	}
	e := &Engine{
		source: source,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.tiers = []tier{
		{name: TierLive, resolve: e.liveRate},
		{name: TierEmergency, resolve: emergencyRate},
	}
	return e
}

// Resolve computes the conversion context of a document whose amounts are in
// sourceCurrency and must be shown in targetCurrency.
func (e *Engine) Resolve(ctx context.Context, sourceCurrency, targetCurrency string, transactionDate time.Time) Context {
	if !Known(sourceCurrency) || !Known(targetCurrency) {
		observability.RateResolutions.WithLabelValues(TierUnknownCurrency).Inc()
		return Context{
			SourceCurrency: NormalizeCode(sourceCurrency),
			TargetCurrency: NormalizeCode(targetCurrency),
			Rate:           1.0,
			Tier:           TierUnknownCurrency,
		}
	}

	source := NormalizeCode(sourceCurrency)
	target := NormalizeCode(targetCurrency)
	if source == target {
		observability.RateResolutions.WithLabelValues(TierSameCurrency).Inc()
		c := Context{SourceCurrency: source, TargetCurrency: target, Rate: 1.0, Tier: TierSameCurrency}
		if source == USD {
			c.USDRate = 1.0
		} else {
			c.USDRate, _ = e.pairRate(ctx, PairRequest{Source: source, Target: USD, Date: EffectiveDate(transactionDate, e.now())})
		}
		return c
	}

	effective := EffectiveDate(transactionDate, e.now())
	rate, tierName := e.pairRate(ctx, PairRequest{Source: source, Target: target, Date: effective})
	observability.RateResolutions.WithLabelValues(tierName).Inc()

	c := Context{
		SourceCurrency: source,
		TargetCurrency: target,
		Rate:           rate,
		RateDate:       effective,
		Tier:           tierName,
	}
	switch {
	case source == USD:
		c.USDRate = 1.0
	case target == USD:
		c.USDRate = rate
	default:
		c.USDRate, _ = e.pairRate(ctx, PairRequest{Source: source, Target: USD, Date: effective})
	}

	e.logger.Debug("resolved conversion",
		"source_currency", source,
		"target_currency", target,
		"effective_date", effective.Format(time.DateOnly),
		"rate", rate,
		"tier", tierName,
	)
	return c
}

// pairRate walks the tiers until one succeeds. The last tier never fails.
func (e *Engine) pairRate(ctx context.Context, req PairRequest) (float64, string) {
	for _, t := range e.tiers {
		rate, err := safeResolve(ctx, t.resolve, req)
		if err == nil {
			return rate, t.name
		}
		e.logger.Warn("rate tier failed",
			"tier", t.name,
			"source_currency", req.Source,
			"target_currency", req.Target,
			"effective_date", req.Date.Format(time.DateOnly),
			"error", err,
		)
	}
	return EmergencyRate(req.Source, req.Target), TierEmergency
}

func safeResolve(ctx context.Context, resolve PairResolver, req PairRequest) (rate float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("resolver panicked: %v", r)
		}
	}()
	return resolve(ctx, req)
}

// liveRate combines the per-currency rates of source and target.
func (e *Engine) liveRate(ctx context.Context, req PairRequest) (float64, error) {
	sourceRate := e.Lookup(ctx, req.Source, req.Date)
	targetRate := e.Lookup(ctx, req.Target, req.Date)
	return Combine(req.Source, req.Target, sourceRate.Rate, targetRate.Rate)
}

func emergencyRate(_ context.Context, req PairRequest) (float64, error) {
	return EmergencyRate(req.Source, req.Target), nil
}

// Combine derives the pair rate from two USD-based rates.
func Combine(source, target string, sourceRate, targetRate float64) (float64, error) {
	var rate float64
	switch {
	case source == USD:
		rate = targetRate
	case target == USD:
		rate = 1 / sourceRate
	default:
		rate = targetRate / sourceRate
	}
	if math.IsNaN(rate) || math.IsInf(rate, 0) || rate <= 0 {
		return 0, fmt.Errorf("%w: %s->%s from %v/%v", ErrInvalidRate, source, target, sourceRate, targetRate)
	}
	return rate, nil
}

// Lookup returns the rate of code on date. When the source fails, times out
// or has nothing, a rate is synthesized from the static table.
func (e *Engine) Lookup(ctx context.Context, code string, date time.Time) ExchangeRate {
	if code == ratesource.BaseCurrency {
		return ExchangeRate{CurrencyCode: code, BaseCurrency: ratesource.BaseCurrency, Rate: 1.0, Date: date}
	}

	if e.source != nil {
		lookupCtx, cancel := context.WithTimeout(ctx, e.cfg.LookupTimeout)
		rate, err := e.source.Rate(lookupCtx, code, date)
		cancel()
		if err == nil && rate > 0 && !math.IsInf(rate, 0) && !math.IsNaN(rate) {
			observability.RateLookups.WithLabelValues("source").Inc()
			return ExchangeRate{CurrencyCode: code, BaseCurrency: ratesource.BaseCurrency, Rate: rate, Date: date}
		}
		e.logger.Warn("exchange rate lookup unavailable, using static rate",
			"currency", code,
			"effective_date", date.Format(time.DateOnly),
			"error", err,
		)
	}

	observability.RateLookups.WithLabelValues("static").Inc()
	return ExchangeRate{
		CurrencyCode: code,
		BaseCurrency: ratesource.BaseCurrency,
		Rate:         StaticRate(code),
		Date:         date,
		Synthesized:  true,
	}
}

// Package ratesource provides exchange-rate collaborators. Rates are quoted
// against a USD base.
package ratesource

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// BaseCurrency is the currency every rate is quoted against.
const BaseCurrency = "USD"

var ErrRateUnavailable = errors.New("exchange rate unavailable")

// Source returns the rate of currencyCode on date.
type Source interface {
	Rate(ctx context.Context, currencyCode string, date time.Time) (float64, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, currencyCode string, date time.Time) (float64, error)

// Rate implements Source.
func (f SourceFunc) Rate(ctx context.Context, currencyCode string, date time.Time) (float64, error) {
	return f(ctx, currencyCode, date)
}

// firstOf tries each source in order.
type firstOf struct {
	sources []Source
}

// FirstOf returns a Source that answers with the first source returning a
// usable rate.
func FirstOf(sources ...Source) Source {
	return &firstOf{sources: sources}
}

func (f *firstOf) Rate(ctx context.Context, currencyCode string, date time.Time) (float64, error) {
	var errs []error
	for _, s := range f.sources {
		if s == nil {
			continue
		}
		rate, err := s.Rate(ctx, currencyCode, date)
		if err == nil && rate > 0 {
			return rate, nil
		}
		if err == nil {
			err = fmt.Errorf("%w: non-positive rate %v", ErrRateUnavailable, rate)
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	if len(errs) == 0 {
		return 0, ErrRateUnavailable
	}
	return 0, errors.Join(append([]error{ErrRateUnavailable}, errs...)...)
}

func cacheKey(currencyCode string, date time.Time) string {
	return strings.ToUpper(currencyCode) + "|" + date.Format(time.DateOnly)
}

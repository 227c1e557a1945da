package ratesource

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// PgxQuerier is the subset of pgxpool.Pool needed by Postgres.
type PgxQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const latestRateQuery = `
		SELECT rate
		FROM exchange_rates
		WHERE currency_code = $1 AND base_currency = $2 AND rate_date <= $3
		ORDER BY rate_date DESC
		LIMIT 1
	`

// Postgres reads rates from the exchange_rates table. It returns the most
// recent rate published on or before the requested date.
type Postgres struct {
	pool PgxQuerier
}

// NewPostgres creates a table-backed source
func NewPostgres(pool PgxQuerier) *Postgres {
	return &Postgres{pool: pool}
}

// Rate implements Source.
func (p *Postgres) Rate(ctx context.Context, currencyCode string, date time.Time) (float64, error) {
	var rate float64
	err := p.pool.QueryRow(ctx, latestRateQuery, currencyCode, BaseCurrency, date).Scan(&rate)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%w: no stored rate for %s on %s", ErrRateUnavailable, currencyCode, date.Format(time.DateOnly))
	}
	if err != nil {
		return 0, fmt.Errorf("failed to query exchange rate: %w", err)
	}
	if rate <= 0 {
		return 0, fmt.Errorf("%w: stored rate for %s is %v", ErrRateUnavailable, currencyCode, rate)
	}
	return rate, nil
}

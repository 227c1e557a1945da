package ratesource

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// HTTPConfig configures the historical rates API client.
type HTTPConfig struct {
	BaseURL           string
	APIKey            string
	Timeout           time.Duration
	RequestsPerSecond float64
}

type historicalResponse struct {
	Base  string             `json:"base"`
	Rates map[string]float64 `json:"rates"`
}

// HTTP fetches historical rates from an openexchangerates-style API:
// GET {base}/historical/{yyyy-mm-dd}.json?app_id=KEY&symbols=CODE.
type HTTP struct {
	cfg     HTTPConfig
	client  *http.Client
	limiter *rate.Limiter
}

// NewHTTP creates an API-backed source
func NewHTTP(cfg HTTPConfig) *HTTP {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &HTTP{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Rate implements Source.
func (h *HTTP) Rate(ctx context.Context, currencyCode string, date time.Time) (float64, error) {
	if err := h.limiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("%w: rate limiter: %v", ErrRateUnavailable, err)
	}

	code := strings.ToUpper(currencyCode)
	endpoint := fmt.Sprintf("%s/historical/%s.json", strings.TrimRight(h.cfg.BaseURL, "/"), date.Format(time.DateOnly))
	query := url.Values{}
	query.Set("symbols", code)
	query.Set("base", BaseCurrency)
	if h.cfg.APIKey != "" {
		query.Set("app_id", h.cfg.APIKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build rates request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRateUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return 0, fmt.Errorf("%w: rates API returned %d", ErrRateUnavailable, resp.StatusCode)
	}

	var body historicalResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("%w: invalid rates payload: %v", ErrRateUnavailable, err)
	}

	value, ok := body.Rates[code]
	if !ok || value <= 0 {
		return 0, fmt.Errorf("%w: %s missing from rates payload", ErrRateUnavailable, code)
	}
	return value, nil
}

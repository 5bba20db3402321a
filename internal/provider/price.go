package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// SOL price service — short-lived cache for USD conversions
// ---------------------------------------------------------------------------

// PriceService caches the SOL/USD price so notifications and sizing math do
// not burn a credential per lookup.
type PriceService struct {
	provider *HTTPProvider
	ttl      time.Duration

	mu        sync.Mutex
	cached    decimal.Decimal
	fetchedAt time.Time
}

// NewPriceService creates a price service over the HTTP provider.
func NewPriceService(p *HTTPProvider, ttl time.Duration) *PriceService {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &PriceService{provider: p, ttl: ttl}
}

// SOLPriceUSD returns the cached price, refreshing when stale. A refresh
// failure with a warm cache serves the stale value rather than erroring.
func (s *PriceService) SOLPriceUSD(ctx context.Context) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if time.Since(s.fetchedAt) < s.ttl && s.cached.IsPositive() {
		return s.cached, nil
	}

	price, err := s.fetch(ctx)
	if err != nil {
		if s.cached.IsPositive() {
			return s.cached, nil
		}
		return decimal.Zero, err
	}

	s.cached = price
	s.fetchedAt = time.Now()
	return price, nil
}

func (s *PriceService) fetch(ctx context.Context) (decimal.Decimal, error) {
	body, err := s.provider.get(ctx, "/v0/prices/sol", nil)
	if err != nil {
		return decimal.Zero, err
	}
	var resp struct {
		USD float64 `json:"usd"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("provider: parse sol price: %w", err)
	}
	if resp.USD <= 0 {
		return decimal.Zero, fmt.Errorf("provider: non-positive sol price")
	}
	return decimal.NewFromFloat(resp.USD), nil
}

// Package exchange resolves currency rates against RON for estimation
// purposes. Rates are advisory; only the materialized document carries
// authoritative amounts.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/currency"
)

// ErrRateUnavailable indicates no rate could be resolved for the currency.
var ErrRateUnavailable = errors.New("exchange: rate unavailable")

// RateSource produces the current RON rate for a currency. Implementations
// call out to the BNR feed or a paid provider; both are out of scope here.
type RateSource interface {
	Rate(ctx context.Context, code string) (decimal.Decimal, error)
}

// FixedSource serves rates from a static table, used in development and as
// a fallback when no external provider is configured.
type FixedSource map[string]decimal.Decimal

// Rate returns the pinned rate for code.
func (s FixedSource) Rate(_ context.Context, code string) (decimal.Decimal, error) {
	rate, ok := s[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return decimal.Zero, ErrRateUnavailable
	}
	return rate, nil
}

// Service caches RateSource lookups in redis.
type Service struct {
	source RateSource
	cache  *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewService builds the cached rate service.
func NewService(source RateSource, cache *redis.Client) *Service {
	return &Service{source: source, cache: cache, ttl: time.Hour}
}

// Rate returns the RON rate for code, serving from cache when fresh.
func (s *Service) Rate(ctx context.Context, code string) (decimal.Decimal, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if _, err := currency.ParseISO(code); err != nil {
		return decimal.Zero, fmt.Errorf("exchange: %q: %w", code, ErrRateUnavailable)
	}
	if code == "RON" {
		return decimal.NewFromInt(1), nil
	}

	key := "fx:rate:" + code
	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, key).Result(); err == nil {
			if rate, err := decimal.NewFromString(cached); err == nil {
				return rate, nil
			}
		}
	}

	// Concurrent misses for the same currency collapse into one source call.
	v, err, _ := s.group.Do(key, func() (any, error) {
		rate, err := s.source.Rate(ctx, code)
		if err != nil {
			return decimal.Zero, fmt.Errorf("exchange: %q: %w", code, ErrRateUnavailable)
		}
		if rate.Sign() <= 0 {
			return decimal.Zero, fmt.Errorf("exchange: %q: %w", code, ErrRateUnavailable)
		}
		if s.cache != nil {
			_ = s.cache.Set(ctx, key, rate.String(), s.ttl).Err()
		}
		return rate, nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return v.(decimal.Decimal), nil
}

package exchange

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type stubSource struct {
	rates map[string]decimal.Decimal
	calls int
}

func (s *stubSource) Rate(_ context.Context, code string) (decimal.Decimal, error) {
	s.calls++
	rate, ok := s.rates[code]
	if !ok {
		return decimal.Zero, errors.New("no rate")
	}
	return rate, nil
}

func newTestService(t *testing.T, source *stubSource) (*Service, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewService(source, client), mr
}

func TestRateCachesLookups(t *testing.T) {
	source := &stubSource{rates: map[string]decimal.Decimal{"EUR": decimal.RequireFromString("4.9752")}}
	svc, _ := newTestService(t, source)

	first, err := svc.Rate(context.Background(), "EUR")
	require.NoError(t, err)
	require.True(t, first.Equal(decimal.RequireFromString("4.9752")))

	second, err := svc.Rate(context.Background(), "eur")
	require.NoError(t, err)
	require.True(t, second.Equal(first))
	require.Equal(t, 1, source.calls, "second lookup should hit the cache")
}

func TestRateRONIsAlwaysOne(t *testing.T) {
	source := &stubSource{}
	svc, _ := newTestService(t, source)

	rate, err := svc.Rate(context.Background(), "RON")
	require.NoError(t, err)
	require.True(t, rate.Equal(decimal.NewFromInt(1)))
	require.Zero(t, source.calls)
}

func TestRateUnknownCurrency(t *testing.T) {
	source := &stubSource{}
	svc, _ := newTestService(t, source)

	_, err := svc.Rate(context.Background(), "XXQ")
	require.ErrorIs(t, err, ErrRateUnavailable)

	_, err = svc.Rate(context.Background(), "EUR")
	require.ErrorIs(t, err, ErrRateUnavailable)
}

func TestRateExpiresWithTTL(t *testing.T) {
	source := &stubSource{rates: map[string]decimal.Decimal{"USD": decimal.RequireFromString("4.51")}}
	svc, mr := newTestService(t, source)

	_, err := svc.Rate(context.Background(), "USD")
	require.NoError(t, err)

	mr.FastForward(svc.ttl * 2)

	_, err = svc.Rate(context.Background(), "USD")
	require.NoError(t, err)
	require.Equal(t, 2, source.calls)
}

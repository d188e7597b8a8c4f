package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/piquette/finance-go/quote"
)

const volatilityCacheKey = "volatility"

// volatilityRepository reads the volatility index from Yahoo Finance.
type volatilityRepository struct {
	symbol string
	cache  *cache.Cache
	fetch  func(symbol string) (float64, error)
}

func NewVolatilityRepository(symbol string, ttl time.Duration) VolatilityRepository {
	return &volatilityRepository{
		symbol: symbol,
		cache:  cache.New(ttl, 2*ttl),
		fetch:  fetchRegularMarketPrice,
	}
}

func (r *volatilityRepository) CurrentVolatility(ctx context.Context) (float64, error) {
	if cached, ok := r.cache.Get(volatilityCacheKey); ok {
		return cached.(float64), nil
	}

	type result struct {
		level float64
		err   error
	}
	done := make(chan result, 1)
	go func() {
		level, err := r.fetch(r.symbol)
		done <- result{level, err}
	}()

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case res := <-done:
		if res.err != nil {
			return 0, res.err
		}
		r.cache.SetDefault(volatilityCacheKey, res.level)
		return res.level, nil
	}
}

func fetchRegularMarketPrice(symbol string) (float64, error) {
	q, err := quote.Get(symbol)
	if err != nil {
		return 0, fmt.Errorf("failed to get quote for %s: %w", symbol, err)
	}
	if q == nil || q.RegularMarketPrice <= 0 {
		return 0, fmt.Errorf("no market price for %s", symbol)
	}
	return q.RegularMarketPrice, nil
}

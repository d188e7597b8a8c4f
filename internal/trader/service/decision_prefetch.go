package service

import (
	"context"
	"fmt"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/sylver911/qs-trader-logic-sub000/internal/trader/dto"
	"github.com/sylver911/qs-trader-logic-sub000/internal/trader/strategy"
	"github.com/sylver911/qs-trader-logic-sub000/pkg/logger"
	"github.com/sylver911/qs-trader-logic-sub000/pkg/utils"
)

const (
	SessionClosed     = "closed"
	SessionPreMarket  = "pre_market"
	SessionRegular    = "regular"
	SessionAfterHours = "after_hours"
)

// session boundaries in minutes after midnight, New York time
var sessionBounds = []struct {
	start   int
	session string
}{
	{0, SessionClosed},
	{4 * 60, SessionPreMarket},
	{9*60 + 30, SessionRegular},
	{16 * 60, SessionAfterHours},
	{20 * 60, SessionClosed},
}

// marketStatusAt derives the US equity session for t. Exchange holidays are
// not modelled.
func marketStatusAt(t time.Time) *dto.MarketStatus {
	et := t.In(utils.MarketLocation())
	midnight := time.Date(et.Year(), et.Month(), et.Day(), 0, 0, 0, 0, et.Location())

	nextOpen := func(from time.Time) time.Time {
		d := from.AddDate(0, 0, 1)
		for d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			d = d.AddDate(0, 0, 1)
		}
		return d.Add(4 * time.Hour)
	}

	if et.Weekday() == time.Saturday || et.Weekday() == time.Sunday {
		return &dto.MarketStatus{Now: et, Session: SessionClosed, NextChange: nextOpen(midnight)}
	}

	minutes := et.Hour()*60 + et.Minute()
	idx := 0
	for i, b := range sessionBounds {
		if minutes >= b.start {
			idx = i
		}
	}

	status := &dto.MarketStatus{
		Now:     et,
		Session: sessionBounds[idx].session,
		IsOpen:  sessionBounds[idx].session == SessionRegular,
	}
	if idx+1 < len(sessionBounds) {
		status.NextChange = midnight.Add(time.Duration(sessionBounds[idx+1].start) * time.Minute)
	} else {
		status.NextChange = nextOpen(midnight)
	}
	return status
}

// prefetch gathers the market context for in concurrently. Every source
// yields a result; failures are carried in the result instead of aborting.
func (e *decisionEngine) prefetch(ctx context.Context, in strategy.DecisionInput) dto.PrefetchBundle {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Trader.PrefetchTimeout)
	defer cancel()

	signal := in.Signal
	ticker := signal.NormalizedTicker()

	type fetcher struct {
		source dto.PrefetchSource
		fn     func(context.Context) dto.PrefetchResult
	}
	fetchers := []fetcher{
		{dto.PrefetchMarketStatus, func(context.Context) dto.PrefetchResult {
			return dto.PrefetchResult{MarketStatus: marketStatusAt(e.now())}
		}},
		{dto.PrefetchAccount, func(ctx context.Context) dto.PrefetchResult {
			account, err := e.broker.GetAccountSummary(ctx)
			return dto.PrefetchResult{Account: account, Err: err}
		}},
		{dto.PrefetchPositions, func(ctx context.Context) dto.PrefetchResult {
			positions, err := e.broker.GetPositions(ctx)
			return dto.PrefetchResult{Positions: positions, Err: err}
		}},
	}
	if ticker != "" && signal.Expiry != nil {
		fetchers = append(fetchers, fetcher{dto.PrefetchOptionChain, func(ctx context.Context) dto.PrefetchResult {
			chain, err := e.broker.GetOptionChain(ctx, ticker, *signal.Expiry)
			return dto.PrefetchResult{OptionChain: chain, Err: err}
		}})
	}
	if ticker != "" && e.news != nil {
		fetchers = append(fetchers, fetcher{dto.PrefetchNews, func(ctx context.Context) dto.PrefetchResult {
			headlines, err := e.news.RecentHeadlines(ctx, ticker, e.cfg.News.MaxItems)
			return dto.PrefetchResult{News: headlines, Err: err}
		}})
	}

	p := pool.NewWithResults[dto.PrefetchResult]().WithMaxGoroutines(e.cfg.Trader.PrefetchConcurrency)
	for _, f := range fetchers {
		f := f
		p.Go(func() (res dto.PrefetchResult) {
			defer func() {
				if r := recover(); r != nil {
					res = dto.PrefetchResult{Err: fmt.Errorf("panic: %v", r)}
				}
				res.Source = f.source
			}()
			return f.fn(ctx)
		})
	}

	bundle := make(dto.PrefetchBundle, len(fetchers))
	for _, res := range p.Wait() {
		if !res.OK() {
			e.logger.WarnContext(ctx, "Prefetch source failed",
				logger.StringField("signal_id", signal.ID),
				logger.StringField("source", string(res.Source)),
				logger.ErrorField(res.Err))
		}
		bundle[res.Source] = res
	}
	return bundle
}

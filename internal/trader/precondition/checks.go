package precondition

import (
	"context"
	"fmt"
	"strings"

	"github.com/sylver911/qs-trader-logic-sub000/internal/entity"
)

func checkEmergencyStop(_ context.Context, _ *entity.Signal, pctx *Context) string {
	if pctx.EmergencyStop {
		return "emergency stop is active"
	}
	return ""
}

func checkTickerRequired(_ context.Context, signal *entity.Signal, pctx *Context) string {
	if signal.HasTicker() {
		return ""
	}
	if len(strings.TrimSpace(signal.Content)) > pctx.ContentThreshold {
		return ""
	}
	return "ticker required: no ticker parsed and content too short"
}

func checkWhitelist(_ context.Context, signal *entity.Signal, pctx *Context) string {
	if len(pctx.Whitelist) == 0 || !signal.HasTicker() {
		return ""
	}
	ticker := signal.NormalizedTicker()
	if containsTicker(pctx.Whitelist, ticker) {
		return ""
	}
	return fmt.Sprintf("ticker %s not in whitelist", ticker)
}

func checkBlacklist(_ context.Context, signal *entity.Signal, pctx *Context) string {
	if !signal.HasTicker() {
		return ""
	}
	ticker := signal.NormalizedTicker()
	if containsTicker(pctx.Blacklist, ticker) {
		return fmt.Sprintf("ticker %s is blacklisted", ticker)
	}
	return ""
}

func checkMinConfidence(_ context.Context, signal *entity.Signal, pctx *Context) string {
	if pctx.MinConfidence <= 0 || signal.Confidence == nil {
		return ""
	}
	if *signal.Confidence < pctx.MinConfidence {
		return fmt.Sprintf("confidence %.2f below minimum %.2f", *signal.Confidence, pctx.MinConfidence)
	}
	return ""
}

func checkVolatility(ctx context.Context, _ *entity.Signal, pctx *Context) string {
	if pctx.MaxVolatility <= 0 || pctx.Volatility == nil {
		return ""
	}
	level, err := pctx.Volatility.CurrentVolatility(ctx)
	if err != nil {
		return fmt.Sprintf("volatility lookup failed: %v", err)
	}
	if level > pctx.MaxVolatility {
		return fmt.Sprintf("volatility %.2f above ceiling %.2f", level, pctx.MaxVolatility)
	}
	return ""
}

func checkMaxPositions(ctx context.Context, _ *entity.Signal, pctx *Context) string {
	if pctx.MaxConcurrentPositions <= 0 {
		return ""
	}
	positions, err := pctx.OpenPositions(ctx)
	if err != nil {
		return fmt.Sprintf("positions lookup failed: %v", err)
	}
	if len(positions) >= pctx.MaxConcurrentPositions {
		return fmt.Sprintf("max concurrent positions reached (%d/%d)", len(positions), pctx.MaxConcurrentPositions)
	}
	return ""
}

func checkDuplicatePosition(ctx context.Context, signal *entity.Signal, pctx *Context) string {
	if !signal.HasTicker() {
		return ""
	}
	positions, err := pctx.OpenPositions(ctx)
	if err != nil {
		return fmt.Sprintf("positions lookup failed: %v", err)
	}
	ticker := signal.NormalizedTicker()
	for _, p := range positions {
		if strings.EqualFold(p.Ticker, ticker) && p.Quantity != 0 {
			return fmt.Sprintf("already holding a position in %s", ticker)
		}
	}
	return ""
}

func containsTicker(list []string, ticker string) bool {
	for _, item := range list {
		if strings.EqualFold(strings.TrimSpace(item), ticker) {
			return true
		}
	}
	return false
}

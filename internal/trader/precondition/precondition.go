package precondition

import (
	"context"
	"sync"

	"github.com/sylver911/qs-trader-logic-sub000/internal/entity"
	"github.com/sylver911/qs-trader-logic-sub000/internal/trader/dto"
)

// PositionReader reads open broker positions.
type PositionReader interface {
	GetPositions(ctx context.Context) ([]dto.Position, error)
}

// VolatilityReader reads the current market volatility index level.
type VolatilityReader interface {
	CurrentVolatility(ctx context.Context) (float64, error)
}

// Context carries the effective limits for one signal evaluation.
type Context struct {
	SimulationMode         bool
	EmergencyStop          bool
	Whitelist              []string
	Blacklist              []string
	MinConfidence          float64
	MaxVolatility          float64
	MaxConcurrentPositions int
	ContentThreshold       int

	Positions  PositionReader
	Volatility VolatilityReader

	positionsOnce sync.Once
	positions     []dto.Position
	positionsErr  error
}

// OpenPositions loads broker positions once per evaluation.
func (c *Context) OpenPositions(ctx context.Context) ([]dto.Position, error) {
	c.positionsOnce.Do(func() {
		if c.Positions == nil {
			return
		}
		c.positions, c.positionsErr = c.Positions.GetPositions(ctx)
	})
	return c.positions, c.positionsErr
}

// Check is a single validation gate. Check returns an empty string when the
// signal passes, otherwise the reason it was rejected.
type Check interface {
	Name() string
	LiveOnly() bool
	Check(ctx context.Context, signal *entity.Signal, pctx *Context) string
}

type checkFunc func(ctx context.Context, signal *entity.Signal, pctx *Context) string

type check struct {
	name     string
	liveOnly bool
	fn       checkFunc
}

func (c check) Name() string { return c.name }
func (c check) LiveOnly() bool { return c.liveOnly }
func (c check) Check(ctx context.Context, signal *entity.Signal, pctx *Context) string {
	return c.fn(ctx, signal, pctx)
}

// Chain runs checks in declaration order and stops at the first failure.
type Chain struct {
	checks []Check
}

func NewChain(checks ...Check) *Chain {
	return &Chain{checks: checks}
}

// DefaultChain returns the production gate order.
func DefaultChain() *Chain {
	return NewChain(
		check{name: "emergency_stop", fn: checkEmergencyStop},
		check{name: "ticker_required", fn: checkTickerRequired},
		check{name: "whitelist", fn: checkWhitelist},
		check{name: "blacklist", fn: checkBlacklist},
		check{name: "min_confidence", fn: checkMinConfidence},
		check{name: "volatility_ceiling", liveOnly: true, fn: checkVolatility},
		check{name: "max_concurrent_positions", liveOnly: true, fn: checkMaxPositions},
		check{name: "duplicate_position", liveOnly: true, fn: checkDuplicatePosition},
	)
}

func (c *Chain) Checks() []Check {
	return c.checks
}

// CheckAll returns the first failing check's reason, or "" if every check passed.
func (c *Chain) CheckAll(ctx context.Context, signal *entity.Signal, pctx *Context) string {
	reason, _ := c.Evaluate(ctx, signal, pctx)
	return reason
}

// Evaluate is CheckAll that also names the failing check.
func (c *Chain) Evaluate(ctx context.Context, signal *entity.Signal, pctx *Context) (string, string) {
	for _, chk := range c.checks {
		if chk.LiveOnly() && pctx.SimulationMode {
			continue
		}
		if reason := chk.Check(ctx, signal, pctx); reason != "" {
			return reason, chk.Name()
		}
	}
	return "", ""
}

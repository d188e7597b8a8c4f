package strategy

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/sylver911/qs-trader-logic-sub000/internal/entity"
	"github.com/sylver911/qs-trader-logic-sub000/internal/trader/config"
	"github.com/sylver911/qs-trader-logic-sub000/internal/trader/dto"
	"github.com/sylver911/qs-trader-logic-sub000/internal/trader/precondition"
	"github.com/sylver911/qs-trader-logic-sub000/pkg/common"
	"github.com/sylver911/qs-trader-logic-sub000/pkg/logger"
)

// SignalStrategy is a configuration-driven policy for one or more signal sources.
type SignalStrategy struct {
	cfg              config.StrategyConfig
	pattern          *regexp.Regexp
	chain            *precondition.Chain
	positions        precondition.PositionReader
	volatility       precondition.VolatilityReader
	decider          DecisionMaker
	contentThreshold int
	logger           *logger.Logger
}

// NewSignalStrategy compiles the name pattern of cfg and builds the strategy.
func NewSignalStrategy(
	cfg config.StrategyConfig,
	chain *precondition.Chain,
	positions precondition.PositionReader,
	volatility precondition.VolatilityReader,
	decider DecisionMaker,
	contentThreshold int,
	log *logger.Logger,
) (*SignalStrategy, error) {
	s := &SignalStrategy{
		cfg:              cfg,
		chain:            chain,
		positions:        positions,
		volatility:       volatility,
		decider:          decider,
		contentThreshold: contentThreshold,
		logger:           log,
	}
	if cfg.NamePattern != "" {
		pattern, err := regexp.Compile("(?i)" + cfg.NamePattern)
		if err != nil {
			return nil, fmt.Errorf("invalid name pattern for strategy %s: %w", cfg.Name, err)
		}
		s.pattern = pattern
	}
	return s, nil
}

func (s *SignalStrategy) Name() string {
	return s.cfg.Name
}

func (s *SignalStrategy) Matches(signal *entity.Signal) MatchKind {
	for _, id := range s.cfg.SourceIDs {
		if id != "" && id == signal.ForumID {
			return MatchSourceID
		}
	}
	if s.pattern != nil && s.pattern.MatchString(signal.ForumName) {
		return MatchName
	}
	return MatchNone
}

func (s *SignalStrategy) PreCheck(ctx context.Context, signal *entity.Signal, req *Request) error {
	if !s.cfg.Enabled {
		return &dto.ValidationError{Check: "enabled", Reason: fmt.Sprintf("strategy %s is disabled", s.cfg.Name)}
	}

	pctx := s.preconditionContext(req.Snapshot)
	reason, name := s.chain.Evaluate(ctx, signal, pctx)
	if reason != "" {
		return &dto.ValidationError{Check: name, Reason: reason}
	}
	return nil
}

func (s *SignalStrategy) Execute(ctx context.Context, signal *entity.Signal, req *Request) (dto.Decision, error) {
	if !s.cfg.UseReasoningEngine {
		return dto.Skip(fmt.Sprintf("reasoning engine disabled for strategy %s", s.cfg.Name), common.CategoryEngineDisabled), nil
	}
	if s.decider == nil {
		return dto.Decision{}, fmt.Errorf("strategy %s has no decision engine", s.cfg.Name)
	}

	return s.decider.Decide(ctx, DecisionInput{
		Signal:     signal,
		Strategy:   s.cfg.Name,
		Snapshot:   req.Snapshot,
		Params:     s.EffectiveParams(req.Snapshot),
		Resumption: req.Resumption,
	}), nil
}

// EffectiveParams layers the strategy overrides over the runtime defaults.
func (s *SignalStrategy) EffectiveParams(snapshot dto.RuntimeSnapshot) dto.TradingParams {
	params := snapshot.Trading
	if s.cfg.MinConfidence != nil {
		params.MinConfidence = *s.cfg.MinConfidence
	}
	if s.cfg.MaxPositionValue != nil {
		params.MaxPositionValue = *s.cfg.MaxPositionValue
	}
	if s.cfg.DefaultQuantity != nil {
		params.DefaultQuantity = *s.cfg.DefaultQuantity
	}
	if s.cfg.TakeProfitPct != nil {
		params.TakeProfitPct = *s.cfg.TakeProfitPct
	}
	if s.cfg.StopLossPct != nil {
		params.StopLossPct = *s.cfg.StopLossPct
	}
	return params
}

// preconditionContext builds the gate limits: a strategy allowlist replaces
// the global whitelist and the denylist extends the global blacklist.
func (s *SignalStrategy) preconditionContext(snapshot dto.RuntimeSnapshot) *precondition.Context {
	whitelist := snapshot.Whitelist
	if len(s.cfg.TickerAllowlist) > 0 {
		whitelist = normalizeTickers(s.cfg.TickerAllowlist)
	}
	blacklist := append(normalizeTickers(snapshot.Blacklist), normalizeTickers(s.cfg.TickerDenylist)...)

	return &precondition.Context{
		SimulationMode:         snapshot.SimulationMode,
		EmergencyStop:          snapshot.EmergencyStop,
		Whitelist:              whitelist,
		Blacklist:              blacklist,
		MinConfidence:          s.EffectiveParams(snapshot).MinConfidence,
		MaxVolatility:          snapshot.MaxVolatility,
		MaxConcurrentPositions: snapshot.MaxConcurrentPositions,
		ContentThreshold:       s.contentThreshold,
		Positions:              s.positions,
		Volatility:             s.volatility,
	}
}

func normalizeTickers(list []string) []string {
	out := make([]string, 0, len(list))
	for _, t := range list {
		if t = strings.ToUpper(strings.TrimSpace(t)); t != "" {
			out = append(out, t)
		}
	}
	return out
}

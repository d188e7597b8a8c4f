package strategy

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sylver911/qs-trader-logic-sub000/internal/entity"
	"github.com/sylver911/qs-trader-logic-sub000/internal/trader/config"
	"github.com/sylver911/qs-trader-logic-sub000/internal/trader/dto"
	"github.com/sylver911/qs-trader-logic-sub000/internal/trader/precondition"
	"github.com/sylver911/qs-trader-logic-sub000/pkg/common"
	"github.com/sylver911/qs-trader-logic-sub000/pkg/logger"
)

type mockDecisionMaker struct {
	mock.Mock
}

func (m *mockDecisionMaker) Decide(ctx context.Context, in DecisionInput) dto.Decision {
	args := m.Called(ctx, in)
	return args.Get(0).(dto.Decision)
}

type stubStrategy struct {
	name     string
	match    MatchKind
	execute  func() (dto.Decision, error)
	preCheck error
}

func (s *stubStrategy) Name() string { return s.name }
func (s *stubStrategy) Matches(*entity.Signal) MatchKind { return s.match }
func (s *stubStrategy) PreCheck(context.Context, *entity.Signal, *Request) error {
	return s.preCheck
}
func (s *stubStrategy) Execute(context.Context, *entity.Signal, *Request) (dto.Decision, error) {
	return s.execute()
}

func newStrategy(t *testing.T, cfg config.StrategyConfig, decider DecisionMaker) *SignalStrategy {
	t.Helper()
	s, err := NewSignalStrategy(cfg, precondition.DefaultChain(), nil, nil, decider, 50, logger.NewNop())
	require.NoError(t, err)
	return s
}

func TestRouteMatchPrecedence(t *testing.T) {
	byName := newStrategy(t, config.StrategyConfig{Name: "by-name", NamePattern: "options"}, nil)
	byID := newStrategy(t, config.StrategyConfig{Name: "by-id", SourceIDs: []string{"forum-1"}}, nil)
	secondName := newStrategy(t, config.StrategyConfig{Name: "second-name", NamePattern: "OPTIONS"}, nil)

	router := NewRouter(logger.NewNop(), nil, byName, secondName, byID)

	tests := []struct {
		name   string
		signal *entity.Signal
		want   string
	}{
		{"source id beats name", &entity.Signal{ForumID: "forum-1", ForumName: "Options Flow"}, "by-id"},
		{"first name match in registration order", &entity.Signal{ForumID: "x", ForumName: "daily options"}, "by-name"},
		{"unmatched falls back", &entity.Signal{ForumID: "x", ForumName: "crypto"}, "default"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := 0; i < 3; i++ {
				assert.Equal(t, tt.want, router.Route(tt.signal).Name())
			}
		})
	}
}

func TestInvalidNamePattern(t *testing.T) {
	_, err := NewSignalStrategy(config.StrategyConfig{Name: "bad", NamePattern: "("}, precondition.DefaultChain(), nil, nil, nil, 50, logger.NewNop())
	assert.Error(t, err)
}

func TestDispatchDefaultStrategy(t *testing.T) {
	router := NewRouter(logger.NewNop(), nil)

	d := router.Dispatch(context.Background(), &entity.Signal{ID: "s1", Ticker: "SPY"}, &Request{})

	assert.Equal(t, dto.DecisionSkip, d.Kind)
	assert.Equal(t, "not implemented", d.Reason)
	assert.Equal(t, "default", d.Strategy)
}

func TestDispatchEmergencyStopSkipsBeforeEngine(t *testing.T) {
	decider := &mockDecisionMaker{}
	s := newStrategy(t, config.StrategyConfig{Name: "flow", SourceIDs: []string{"f"}, Enabled: true, UseReasoningEngine: true}, decider)
	router := NewRouter(logger.NewNop(), nil, s)

	d := router.Dispatch(context.Background(),
		&entity.Signal{ID: "s1", ForumID: "f", Ticker: "SPY"},
		&Request{Snapshot: dto.RuntimeSnapshot{EmergencyStop: true}})

	assert.Equal(t, dto.DecisionSkip, d.Kind)
	assert.Equal(t, common.CategoryPrecondition, d.Category)
	assert.Contains(t, d.Reason, "emergency stop")
	decider.AssertNotCalled(t, "Decide", mock.Anything, mock.Anything)
}

func TestDispatchWhitelistRejection(t *testing.T) {
	decider := &mockDecisionMaker{}
	s := newStrategy(t, config.StrategyConfig{Name: "flow", SourceIDs: []string{"f"}, Enabled: true, UseReasoningEngine: true}, decider)
	router := NewRouter(logger.NewNop(), nil, s)

	d := router.Dispatch(context.Background(),
		&entity.Signal{ID: "s1", ForumID: "f", Ticker: "AAPL"},
		&Request{Snapshot: dto.RuntimeSnapshot{Whitelist: []string{"SPY", "QQQ"}}})

	assert.Equal(t, common.CategoryPrecondition, d.Category)
	assert.Contains(t, d.Reason, "whitelist")
	decider.AssertNotCalled(t, "Decide", mock.Anything, mock.Anything)
}

func TestDispatchStrategyOverrides(t *testing.T) {
	decider := &mockDecisionMaker{}
	s := newStrategy(t, config.StrategyConfig{
		Name:               "flow",
		SourceIDs:          []string{"f"},
		Enabled:            true,
		UseReasoningEngine: true,
		TickerAllowlist:    []string{"aapl"},
		TickerDenylist:     []string{"tsla"},
	}, decider)
	router := NewRouter(logger.NewNop(), nil, s)
	req := &Request{Snapshot: dto.RuntimeSnapshot{Whitelist: []string{"SPY"}}}

	decider.On("Decide", mock.Anything, mock.MatchedBy(func(in DecisionInput) bool {
		return in.Signal.Ticker == "AAPL" && in.Strategy == "flow"
	})).Return(dto.ExecuteSuccess("42")).Once()

	d := router.Dispatch(context.Background(), &entity.Signal{ID: "s1", ForumID: "f", Ticker: "AAPL"}, req)
	assert.True(t, d.Success)
	assert.Equal(t, "flow", d.Strategy)

	d = router.Dispatch(context.Background(), &entity.Signal{ID: "s2", ForumID: "f", Ticker: "SPY"}, req)
	assert.Equal(t, common.CategoryPrecondition, d.Category)

	req.Snapshot.Whitelist = nil
	s.cfg.TickerAllowlist = nil
	d = router.Dispatch(context.Background(), &entity.Signal{ID: "s3", ForumID: "f", Ticker: "TSLA"}, req)
	assert.Contains(t, d.Reason, "blacklisted")

	decider.AssertExpectations(t)
}

func TestDispatchDisabledStrategy(t *testing.T) {
	s := newStrategy(t, config.StrategyConfig{Name: "off", SourceIDs: []string{"f"}}, nil)
	router := NewRouter(logger.NewNop(), nil, s)

	d := router.Dispatch(context.Background(), &entity.Signal{ID: "s1", ForumID: "f", Ticker: "SPY"}, &Request{})

	assert.Equal(t, common.CategoryPrecondition, d.Category)
	assert.Contains(t, d.Reason, "disabled")
}

func TestDispatchEngineDisabled(t *testing.T) {
	decider := &mockDecisionMaker{}
	s := newStrategy(t, config.StrategyConfig{Name: "manual", SourceIDs: []string{"f"}, Enabled: true}, decider)
	router := NewRouter(logger.NewNop(), nil, s)

	d := router.Dispatch(context.Background(), &entity.Signal{ID: "s1", ForumID: "f", Ticker: "SPY"}, &Request{})

	assert.Equal(t, common.CategoryEngineDisabled, d.Category)
	decider.AssertNotCalled(t, "Decide", mock.Anything, mock.Anything)
}

func TestDispatchStrategyErrors(t *testing.T) {
	tests := []struct {
		name    string
		execute func() (dto.Decision, error)
	}{
		{"error", func() (dto.Decision, error) { return dto.Decision{}, errors.New("boom") }},
		{"panic", func() (dto.Decision, error) { panic("nil map") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := NewRouter(logger.NewNop(), nil, &stubStrategy{name: "stub", match: MatchSourceID, execute: tt.execute})

			d := router.Dispatch(context.Background(), &entity.Signal{ID: "s1"}, &Request{})

			assert.Equal(t, dto.DecisionSkip, d.Kind)
			assert.Equal(t, common.CategoryStrategyError, d.Category)
			assert.Equal(t, "stub", d.Strategy)
		})
	}
}

func TestEffectiveParams(t *testing.T) {
	maxValue := 500.0
	qty := 3
	s := newStrategy(t, config.StrategyConfig{Name: "flow", MaxPositionValue: &maxValue, DefaultQuantity: &qty}, nil)

	params := s.EffectiveParams(dto.RuntimeSnapshot{Trading: dto.TradingParams{MaxPositionValue: 1000, DefaultQuantity: 1, TakeProfitPct: 0.5}})

	assert.Equal(t, 500.0, params.MaxPositionValue)
	assert.Equal(t, 3, params.DefaultQuantity)
	assert.Equal(t, 0.5, params.TakeProfitPct)
}

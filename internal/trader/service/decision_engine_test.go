package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sylver911/qs-trader-logic-sub000/internal/entity"
	"github.com/sylver911/qs-trader-logic-sub000/internal/trader/dto"
	"github.com/sylver911/qs-trader-logic-sub000/internal/trader/strategy"
	"github.com/sylver911/qs-trader-logic-sub000/pkg/common"
	"github.com/sylver911/qs-trader-logic-sub000/pkg/logger"
	"github.com/sylver911/qs-trader-logic-sub000/pkg/utils"
)

// Monday 10:00 New York time.
var decisionNow = time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

func newTestDecisionEngine(t *testing.T, engine *fakeEngine, broker *fakeBroker, trades *fakeTrades) (*decisionEngine, *schedulerService) {
	t.Helper()
	sched, _ := newRedisScheduler(t, decisionNow)
	de := NewDecisionEngine(testConfig(), logger.NewNop(), engine, broker, nil, trades, sched).(*decisionEngine)
	de.now = func() time.Time { return decisionNow }
	return de, sched
}

func decisionInput() strategy.DecisionInput {
	expiry := time.Date(2026, 3, 6, 0, 0, 0, 0, time.UTC)
	return strategy.DecisionInput{
		Signal: &entity.Signal{
			ID:         "sig-1",
			ForumID:    "forum-1",
			ForumName:  "Options Flow",
			ThreadName: "SPY 580C",
			Ticker:     "spy",
			Direction:  "CALL",
			Strike:     utils.ToPointer(580.0),
			Expiry:     &expiry,
			Content:    "SPY 580C 3/6 entry 2.50 target 3.50 stop 1.80",
		},
		Strategy: "options",
		Snapshot: dto.RuntimeSnapshot{DecisionMode: common.DecisionModeBounded},
		Params:   dto.TradingParams{MaxPositionValue: 1000, DefaultQuantity: 1},
	}
}

func orderArgs() map[string]any {
	return map[string]any{
		"ticker":      "SPY",
		"direction":   "CALL",
		"strike":      580.0,
		"expiry":      "2026-03-06",
		"quantity":    2.0,
		"entry_price": 2.5,
		"take_profit": 3.5,
		"stop_loss":   1.8,
		"reasoning":   "breakout above 578",
	}
}

func toolNames(tools []dto.ToolDefinition) []string {
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		names = append(names, t.Name)
	}
	return names
}

func TestDecideExecuteSuccess(t *testing.T) {
	engine := &fakeEngine{responses: []*dto.EngineResponse{respond(dto.ActionPlaceBracketOrder, orderArgs())}}
	broker := &fakeBroker{}
	trades := &fakeTrades{}
	de, _ := newTestDecisionEngine(t, engine, broker, trades)

	decision := de.Decide(context.Background(), decisionInput())

	assert.Equal(t, dto.DecisionExecute, decision.Kind)
	assert.True(t, decision.Success)
	assert.Equal(t, "1001", decision.OrderID)
	assert.Equal(t, uint(1), decision.TradeID)
	assert.False(t, decision.Simulated)
	assert.Equal(t, "breakout above 578", decision.Reasoning)

	require.Len(t, engine.requests, 1)
	assert.True(t, engine.requests[0].RequireToolCall)
	assert.Equal(t, []string{dto.ActionSkip, dto.ActionPlaceBracketOrder, dto.ActionScheduleReanalysis}, toolNames(engine.requests[0].Tools))
	assert.Contains(t, engine.requests[0].Context, "ticker: SPY")

	require.Len(t, broker.placed, 1)
	order := broker.placed[0]
	assert.Equal(t, "BUY", order.Side)
	assert.Equal(t, 2, order.Quantity)
	assert.Equal(t, "C", order.Contract.Right)
	assert.Equal(t, "DAY", order.TIF)
	assert.True(t, strings.HasPrefix(order.Reference, "qs-sig-1-"))

	require.Len(t, trades.created, 1)
	trade := trades.created[0]
	assert.Equal(t, entity.TradeStatusOpen, trade.Status)
	assert.Equal(t, "sig-1", trade.SignalID)
	assert.Equal(t, "options", trade.Strategy)
	assert.Equal(t, "123456", trade.ContractID)
	assert.Equal(t, "1002", trade.TakeProfitOrderID)
	assert.Equal(t, "1003", trade.StopLossOrderID)
	assert.Equal(t, "2.5", trade.EntryPrice.String())
	assert.Equal(t, 100, trade.Multiplier)
}

func TestDecideSimulationDoesNotTransmit(t *testing.T) {
	engine := &fakeEngine{responses: []*dto.EngineResponse{respond(dto.ActionPlaceBracketOrder, orderArgs())}}
	broker := &fakeBroker{}
	trades := &fakeTrades{}
	de, _ := newTestDecisionEngine(t, engine, broker, trades)

	in := decisionInput()
	in.Snapshot.SimulationMode = true
	decision := de.Decide(context.Background(), in)

	assert.True(t, decision.Success)
	assert.True(t, decision.Simulated)
	assert.True(t, strings.HasPrefix(decision.OrderID, "SIM-"))
	assert.Empty(t, broker.placed)
	require.Len(t, trades.created, 1)
	assert.True(t, trades.created[0].Simulated)
}

func TestDecideTradeRecordFailureKeepsSuccess(t *testing.T) {
	engine := &fakeEngine{responses: []*dto.EngineResponse{respond(dto.ActionPlaceBracketOrder, orderArgs())}}
	trades := &fakeTrades{createErr: errors.New("db down")}
	de, _ := newTestDecisionEngine(t, engine, &fakeBroker{}, trades)

	decision := de.Decide(context.Background(), decisionInput())

	assert.True(t, decision.Success)
	assert.Equal(t, "1001", decision.OrderID)
	assert.Contains(t, decision.Error, "db down")
}

func TestDecideBrokerRejection(t *testing.T) {
	engine := &fakeEngine{responses: []*dto.EngineResponse{respond(dto.ActionPlaceBracketOrder, orderArgs())}}
	broker := &fakeBroker{placeErr: errors.New("insufficient buying power")}
	trades := &fakeTrades{}
	de, _ := newTestDecisionEngine(t, engine, broker, trades)

	decision := de.Decide(context.Background(), decisionInput())

	assert.Equal(t, dto.DecisionExecute, decision.Kind)
	assert.False(t, decision.Success)
	assert.Contains(t, decision.Error, "insufficient buying power")
	assert.Empty(t, trades.created)
	assert.Len(t, engine.requests, 1, "broker rejections are not retried")
}

func TestDecideDelay(t *testing.T) {
	engine := &fakeEngine{responses: []*dto.EngineResponse{respond(dto.ActionScheduleReanalysis, map[string]any{
		"delay_minutes": 30.0,
		"reason":        "CPI at 10:30",
		"question":      "Did SPY hold 578 after CPI?",
		"key_levels":    []any{578.0, 582.5},
	})}}
	de, sched := newTestDecisionEngine(t, engine, &fakeBroker{}, &fakeTrades{})

	decision := de.Decide(context.Background(), decisionInput())

	assert.Equal(t, dto.DecisionDelay, decision.Kind)
	assert.False(t, decision.IsTerminal())
	assert.Equal(t, 1, decision.RetryCount)
	assert.Equal(t, "Did SPY hold 578 after CPI?", decision.Question)
	require.NotNil(t, decision.DueAt)
	assert.True(t, decisionNow.Add(30*time.Minute).Equal(*decision.DueAt))

	sched.now = func() time.Time { return decisionNow.Add(30 * time.Minute) }
	due, err := sched.Due(context.Background())
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "CPI at 10:30", due[0].DelayReason)
	assert.Equal(t, []float64{578, 582.5}, due[0].KeyLevels)
	assert.Contains(t, due[0].PriorToolSummary, "market: regular")
	assert.Contains(t, due[0].SignalSummary, "ticker: SPY")
}

func TestDecideSchedulingRejectedAtRetryLimit(t *testing.T) {
	engine := &fakeEngine{responses: []*dto.EngineResponse{
		respond(dto.ActionScheduleReanalysis, map[string]any{"delay_minutes": 30.0, "question": "again?"}),
		respond(dto.ActionSkip, map[string]any{"reason": "CPI came in hot", "category": "risk"}),
	}}
	de, sched := newTestDecisionEngine(t, engine, &fakeBroker{}, &fakeTrades{})

	in := decisionInput()
	in.Resumption = &dto.ScheduledReanalysis{
		SignalID:      "sig-1",
		RetryCount:    2,
		MaxRetries:    2,
		DelayReason:   "CPI at 10:30",
		DelayQuestion: "Did SPY hold 578 after CPI?",
	}
	decision := de.Decide(context.Background(), in)

	assert.Equal(t, dto.DecisionSkip, decision.Kind)
	assert.Equal(t, "risk", decision.Category)
	assert.Equal(t, "CPI came in hot", decision.Reason)

	require.Len(t, engine.requests, 2)
	assert.Contains(t, engine.requests[0].Context, "Did SPY hold 578 after CPI?")
	assert.Contains(t, engine.requests[0].Context, "last re-check")

	second := engine.requests[1]
	assert.Equal(t, []string{dto.ActionSkip, dto.ActionPlaceBracketOrder}, toolNames(second.Tools))
	require.Len(t, second.History, 1)
	require.Len(t, second.History[0].Results, 1)
	assert.True(t, second.History[0].Results[0].IsError)
	assert.Contains(t, second.History[0].Results[0].Content, "scheduling rejected")

	list, err := sched.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestDecideStoredRetryCountBoundsQueuedSignal(t *testing.T) {
	engine := &fakeEngine{responses: []*dto.EngineResponse{
		respond(dto.ActionScheduleReanalysis, map[string]any{"delay_minutes": 30.0, "question": "did 578 hold?"}),
		respond(dto.ActionSkip, map[string]any{"reason": "out of re-checks", "category": "risk"}),
	}}
	de, sched := newTestDecisionEngine(t, engine, &fakeBroker{}, &fakeTrades{})

	in := decisionInput()
	in.Signal.ScheduledRetryCount = 2
	decision := de.Decide(context.Background(), in)

	assert.Equal(t, dto.DecisionSkip, decision.Kind)
	require.Len(t, engine.requests, 2)
	assert.Contains(t, engine.requests[1].History[0].Results[0].Content, "already rescheduled 2 times")

	list, err := sched.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestDecideStoredRetryCountCarriesForward(t *testing.T) {
	engine := &fakeEngine{responses: []*dto.EngineResponse{
		respond(dto.ActionScheduleReanalysis, map[string]any{"delay_minutes": 30.0, "question": "did 578 hold?"}),
	}}
	de, _ := newTestDecisionEngine(t, engine, &fakeBroker{}, &fakeTrades{})

	in := decisionInput()
	in.Signal.ScheduledRetryCount = 1
	decision := de.Decide(context.Background(), in)

	assert.Equal(t, dto.DecisionDelay, decision.Kind)
	assert.Equal(t, 2, decision.RetryCount)
}

func TestDecideRejectedScheduleThenExecute(t *testing.T) {
	engine := &fakeEngine{responses: []*dto.EngineResponse{
		respond(dto.ActionScheduleReanalysis, map[string]any{"delay_minutes": 2.0, "question": "soon?"}),
		respond(dto.ActionPlaceBracketOrder, orderArgs()),
	}}
	de, _ := newTestDecisionEngine(t, engine, &fakeBroker{}, &fakeTrades{})

	decision := de.Decide(context.Background(), decisionInput())

	assert.Equal(t, dto.DecisionExecute, decision.Kind)
	assert.True(t, decision.Success)
}

func TestDecideNoAction(t *testing.T) {
	engine := &fakeEngine{responses: []*dto.EngineResponse{{Text: "I think this looks fine."}}}
	de, _ := newTestDecisionEngine(t, engine, &fakeBroker{}, &fakeTrades{})

	decision := de.Decide(context.Background(), decisionInput())

	assert.Equal(t, dto.DecisionSkip, decision.Kind)
	assert.Equal(t, common.CategoryNoDecision, decision.Category)
	assert.Contains(t, decision.Reason, "looks fine")
}

func TestDecideEngineError(t *testing.T) {
	engine := &fakeEngine{err: errors.New("503 overloaded")}
	broker := &fakeBroker{}
	de, _ := newTestDecisionEngine(t, engine, broker, &fakeTrades{})

	decision := de.Decide(context.Background(), decisionInput())

	assert.Equal(t, dto.DecisionSkip, decision.Kind)
	assert.Equal(t, common.CategoryEngineError, decision.Category)
	assert.Contains(t, decision.Reason, "503 overloaded")
	assert.Empty(t, broker.placed)
}

func TestDecideSkipDefaultsCategory(t *testing.T) {
	engine := &fakeEngine{responses: []*dto.EngineResponse{respond(dto.ActionSkip, map[string]any{"reason": "chasing"})}}
	de, _ := newTestDecisionEngine(t, engine, &fakeBroker{}, &fakeTrades{})

	decision := de.Decide(context.Background(), decisionInput())

	assert.Equal(t, common.CategoryEngineSkip, decision.Category)
	assert.Equal(t, "chasing", decision.Reason)
}

func TestDecideInvalidOrderExhaustsCorrections(t *testing.T) {
	bad := orderArgs()
	bad["take_profit"] = 2.0
	engine := &fakeEngine{responses: []*dto.EngineResponse{
		respond(dto.ActionPlaceBracketOrder, bad),
		respond(dto.ActionPlaceBracketOrder, bad),
		respond(dto.ActionPlaceBracketOrder, bad),
	}}
	broker := &fakeBroker{}
	de, _ := newTestDecisionEngine(t, engine, broker, &fakeTrades{})

	decision := de.Decide(context.Background(), decisionInput())

	assert.Equal(t, dto.DecisionSkip, decision.Kind)
	assert.Equal(t, common.CategoryValidation, decision.Category)
	assert.Contains(t, decision.Reason, "take_profit")
	assert.Len(t, engine.requests, 3)
	assert.Empty(t, broker.placed)
}

func TestDecideOrderConstraints(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(map[string]any)
		wantMsg string
	}{
		{"position value over limit", func(a map[string]any) { a["quantity"] = 10.0 }, "exceeds the maximum"},
		{"expiry in the past", func(a map[string]any) { a["expiry"] = "2026-02-27" }, "in the past"},
		{"bad direction", func(a map[string]any) { a["direction"] = "STRADDLE" }, "direction"},
		{"stop above entry", func(a map[string]any) { a["stop_loss"] = 2.6 }, "stop_loss"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := orderArgs()
			tt.mutate(args)
			engine := &fakeEngine{responses: []*dto.EngineResponse{
				respond(dto.ActionPlaceBracketOrder, args),
				respond(dto.ActionSkip, map[string]any{"reason": "gave up", "category": "risk"}),
			}}
			broker := &fakeBroker{}
			de, _ := newTestDecisionEngine(t, engine, broker, &fakeTrades{})

			decision := de.Decide(context.Background(), decisionInput())

			assert.Equal(t, "risk", decision.Category)
			assert.Empty(t, broker.placed)
			require.Len(t, engine.requests, 2)
			assert.Contains(t, engine.requests[1].History[0].FollowUp, tt.wantMsg)
		})
	}
}

func TestDecideContractUnavailableIsCorrectable(t *testing.T) {
	engine := &fakeEngine{responses: []*dto.EngineResponse{
		respond(dto.ActionPlaceBracketOrder, orderArgs()),
		respond(dto.ActionSkip, map[string]any{"reason": "strike not listed"}),
	}}
	broker := &fakeBroker{contractErr: dto.ErrContractUnavailable}
	de, _ := newTestDecisionEngine(t, engine, broker, &fakeTrades{})

	decision := de.Decide(context.Background(), decisionInput())

	assert.Equal(t, dto.DecisionSkip, decision.Kind)
	assert.Len(t, engine.requests, 2)
}

func TestDecideDefaultsQuantity(t *testing.T) {
	args := orderArgs()
	delete(args, "quantity")
	engine := &fakeEngine{responses: []*dto.EngineResponse{respond(dto.ActionPlaceBracketOrder, args)}}
	broker := &fakeBroker{}
	de, _ := newTestDecisionEngine(t, engine, broker, &fakeTrades{})

	in := decisionInput()
	in.Params.DefaultQuantity = 3
	decision := de.Decide(context.Background(), in)

	require.True(t, decision.Success)
	require.Len(t, broker.placed, 1)
	assert.Equal(t, 3, broker.placed[0].Quantity)
}

func TestPrefetchIsolatesFailures(t *testing.T) {
	tests := []struct {
		name   string
		broker *fakeBroker
	}{
		{"error", &fakeBroker{positionsErr: errors.New("gateway timeout")}},
		{"panic", &fakeBroker{panicOn: "positions"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			de, _ := newTestDecisionEngine(t, &fakeEngine{}, tt.broker, &fakeTrades{})

			bundle := de.prefetch(context.Background(), decisionInput())

			require.Contains(t, bundle, dto.PrefetchPositions)
			assert.Error(t, bundle[dto.PrefetchPositions].Err)
			assert.True(t, bundle[dto.PrefetchMarketStatus].OK())
			assert.True(t, bundle[dto.PrefetchAccount].OK())
			require.True(t, bundle[dto.PrefetchOptionChain].OK())
			assert.Equal(t, "SPY", bundle[dto.PrefetchOptionChain].OptionChain.Ticker)
			assert.NotContains(t, bundle, dto.PrefetchNews)

			ctx := BuildDecisionContext(decisionInput(), bundle, decisionNow)
			assert.Contains(t, ctx, "### positions\nunavailable")
		})
	}
}

func TestPrefetchSkipsOptionChainWithoutExpiry(t *testing.T) {
	de, _ := newTestDecisionEngine(t, &fakeEngine{}, &fakeBroker{}, &fakeTrades{})
	in := decisionInput()
	in.Signal.Expiry = nil

	bundle := de.prefetch(context.Background(), in)

	assert.NotContains(t, bundle, dto.PrefetchOptionChain)
	assert.Len(t, bundle, 3)
}

func TestDecideExploratoryReadThenJSON(t *testing.T) {
	engine := &fakeEngine{responses: []*dto.EngineResponse{
		respond(dto.ToolGetQuote, map[string]any{"symbol": "spy"}),
		{Text: "```json\n{\"action\": \"skip\", \"reason\": \"spread too wide\", \"category\": \"risk\"}\n```"},
	}}
	broker := &fakeBroker{quote: &dto.Quote{Last: 580.1, Bid: 580, Ask: 580.2}}
	de, _ := newTestDecisionEngine(t, engine, broker, &fakeTrades{})

	in := decisionInput()
	in.Snapshot.DecisionMode = common.DecisionModeExploratory
	decision := de.Decide(context.Background(), in)

	assert.Equal(t, dto.DecisionSkip, decision.Kind)
	assert.Equal(t, "risk", decision.Category)
	assert.Equal(t, "spread too wide", decision.Reason)

	require.Len(t, engine.requests, 2)
	assert.False(t, engine.requests[0].RequireToolCall)
	assert.Len(t, engine.requests[0].Tools, 8)
	history := engine.requests[1].History
	require.Len(t, history, 1)
	require.Len(t, history[0].Results, 1)
	assert.False(t, history[0].Results[0].IsError)
	assert.Contains(t, history[0].Results[0].Content, `"symbol":"SPY"`)
}

func TestDecideExploratoryJSONExecute(t *testing.T) {
	args := orderArgs()
	engine := &fakeEngine{responses: []*dto.EngineResponse{
		{Text: `{"action":"execute","ticker":"SPY","direction":"CALL","strike":580,"expiry":"2026-03-06","quantity":1,"entry_price":2.5,"take_profit":3.5,"stop_loss":1.8}`},
	}}
	broker := &fakeBroker{}
	de, _ := newTestDecisionEngine(t, engine, broker, &fakeTrades{})

	in := decisionInput()
	in.Snapshot.DecisionMode = common.DecisionModeExploratory
	decision := de.Decide(context.Background(), in)

	assert.True(t, decision.Success)
	require.Len(t, broker.placed, 1)
	assert.Equal(t, args["entry_price"], broker.placed[0].EntryPrice)
}

func TestDecideExploratoryRoundLimit(t *testing.T) {
	responses := make([]*dto.EngineResponse, 0, 12)
	for i := 0; i < 12; i++ {
		responses = append(responses, respond(dto.ToolGetMarketStatus, nil))
	}
	engine := &fakeEngine{responses: responses}
	de, _ := newTestDecisionEngine(t, engine, &fakeBroker{}, &fakeTrades{})

	in := decisionInput()
	in.Snapshot.DecisionMode = common.DecisionModeExploratory
	decision := de.Decide(context.Background(), in)

	assert.Equal(t, common.CategoryNoDecision, decision.Category)
	assert.Len(t, engine.requests, 10)
}

func TestParseFreeTextDecision(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		wantName string
		wantErr  bool
	}{
		{"fenced skip", "```json\n{\"action\":\"skip\",\"reason\":\"x\"}\n```", dto.ActionSkip, false},
		{"fenced reason ending in n", "```json\n{\"action\":\"skip\",\"reason\":\"json\"}\n```", dto.ActionSkip, false},
		{"prose around json", "Here is my answer: {\"action\":\"delay\",\"delay_minutes\":15,\"question\":\"q\"} thanks", dto.ActionScheduleReanalysis, false},
		{"execute", `{"action":"EXECUTE"}`, dto.ActionPlaceBracketOrder, false},
		{"unknown action", `{"action":"hodl"}`, "", true},
		{"not json", "no idea", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			call, err := parseFreeTextDecision(tt.text)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, call.Name)
			assert.NotContains(t, call.Args, "action")
		})
	}
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	s := "ab€cd"
	got := truncate(s, 3)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, "ab...(truncated)", got)
	assert.Equal(t, s, truncate(s, len(s)))
}

func TestMarketStatusAt(t *testing.T) {
	tests := []struct {
		name    string
		at      time.Time
		session string
		open    bool
	}{
		{"regular", time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC), SessionRegular, true},
		{"pre market", time.Date(2026, 3, 2, 13, 0, 0, 0, time.UTC), SessionPreMarket, false},
		{"after hours", time.Date(2026, 3, 2, 22, 0, 0, 0, time.UTC), SessionAfterHours, false},
		{"overnight", time.Date(2026, 3, 3, 3, 0, 0, 0, time.UTC), SessionClosed, false},
		{"weekend", time.Date(2026, 3, 7, 15, 0, 0, 0, time.UTC), SessionClosed, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status := marketStatusAt(tt.at)
			assert.Equal(t, tt.session, status.Session)
			assert.Equal(t, tt.open, status.IsOpen)
			assert.True(t, status.NextChange.After(tt.at))
		})
	}
}

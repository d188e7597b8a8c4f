package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sylver911/qs-trader-logic-sub000/internal/entity"
	"github.com/sylver911/qs-trader-logic-sub000/internal/trader/config"
	"github.com/sylver911/qs-trader-logic-sub000/internal/trader/dto"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Risk.MaxPositionValue = 1000
	cfg.SetDefaults()
	return cfg
}

// fakeEngine replays scripted responses and records every request.
type fakeEngine struct {
	mu        sync.Mutex
	responses []*dto.EngineResponse
	err       error
	requests  []dto.EngineRequest
}

func (f *fakeEngine) Provider() string { return "fake" }

func (f *fakeEngine) Decide(_ context.Context, req dto.EngineRequest) (*dto.EngineResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.responses) == 0 {
		return &dto.EngineResponse{}, nil
	}
	resp := f.responses[0]
	f.responses = f.responses[1:]
	return resp, nil
}

func respond(name string, args map[string]any) *dto.EngineResponse {
	return &dto.EngineResponse{Calls: []dto.ToolCall{{ID: "call-" + name, Name: name, Args: args}}}
}

type fakeBroker struct {
	mu sync.Mutex

	positions    []dto.Position
	positionsErr error
	account      *dto.AccountSummary
	accountErr   error
	chain        *dto.OptionChain
	chainErr     error
	quote        *dto.Quote
	orders       []dto.LiveOrder
	ordersErr    error
	executions   []dto.Execution
	execErr      error
	contractErr  error
	placeErr     error
	placed       []dto.BracketOrder
	cancelled    []string
	cancelErr    error
	panicOn      string
}

func (b *fakeBroker) GetPositions(context.Context) ([]dto.Position, error) {
	if b.panicOn == "positions" {
		panic("positions exploded")
	}
	return b.positions, b.positionsErr
}

func (b *fakeBroker) GetAccountSummary(context.Context) (*dto.AccountSummary, error) {
	if b.account == nil && b.accountErr == nil {
		return &dto.AccountSummary{BuyingPower: 5000}, nil
	}
	return b.account, b.accountErr
}

func (b *fakeBroker) GetLiveOrders(context.Context) ([]dto.LiveOrder, error) {
	return b.orders, b.ordersErr
}

func (b *fakeBroker) GetExecutions(context.Context) ([]dto.Execution, error) {
	return b.executions, b.execErr
}

func (b *fakeBroker) GetQuote(_ context.Context, symbol string) (*dto.Quote, error) {
	if b.quote == nil {
		return nil, errors.New("no quote")
	}
	q := *b.quote
	q.Symbol = symbol
	return &q, nil
}

func (b *fakeBroker) GetOptionChain(_ context.Context, ticker string, expiry time.Time) (*dto.OptionChain, error) {
	if b.chainErr != nil {
		return nil, b.chainErr
	}
	if b.chain != nil {
		return b.chain, nil
	}
	return &dto.OptionChain{Ticker: ticker, Expiry: expiry.Format("2006-01-02"), Calls: []float64{580, 585}, Puts: []float64{575}}, nil
}

func (b *fakeBroker) ResolveOptionContract(_ context.Context, ticker string, expiry time.Time, strike float64, right string) (*dto.OptionContract, error) {
	if b.contractErr != nil {
		return nil, b.contractErr
	}
	return &dto.OptionContract{ContractID: "123456", Ticker: ticker, Expiry: expiry, Strike: strike, Right: right, Multiplier: 100}, nil
}

func (b *fakeBroker) PlaceBracketOrder(_ context.Context, order dto.BracketOrder) (*dto.BracketOrderResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.placed = append(b.placed, order)
	if b.placeErr != nil {
		return nil, b.placeErr
	}
	return &dto.BracketOrderResult{OrderID: "1001", TakeProfitOrderID: "1002", StopLossOrderID: "1003"}, nil
}

func (b *fakeBroker) CancelOrder(_ context.Context, orderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancelled = append(b.cancelled, orderID)
	return b.cancelErr
}

type fakeTrades struct {
	mu        sync.Mutex
	created   []*entity.Trade
	createErr error
	open      []entity.Trade
	findErr   error
	closed    map[uint]dto.TradeClose
	closeErr  map[uint]error
}

func (r *fakeTrades) Create(_ context.Context, trade *entity.Trade) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	trade.ID = uint(len(r.created) + 1)
	r.created = append(r.created, trade)
	return nil
}

func (r *fakeTrades) FindOpen(context.Context) ([]entity.Trade, error) {
	return r.open, r.findErr
}

func (r *fakeTrades) Close(_ context.Context, id uint, tc dto.TradeClose) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.closeErr[id]; err != nil {
		return false, err
	}
	if r.closed == nil {
		r.closed = map[uint]dto.TradeClose{}
	}
	if _, done := r.closed[id]; done {
		return false, nil
	}
	r.closed[id] = tc
	return true, nil
}

type fakeSignals struct {
	mu        sync.Mutex
	signals   map[string]*entity.Signal
	outcomes  map[string]dto.Decision
	scheduled map[string]int
	writeErr  error
}

func newFakeSignals(signals ...*entity.Signal) *fakeSignals {
	f := &fakeSignals{
		signals:   map[string]*entity.Signal{},
		outcomes:  map[string]dto.Decision{},
		scheduled: map[string]int{},
	}
	for _, s := range signals {
		f.signals[s.ID] = s
	}
	return f
}

func (f *fakeSignals) FindByID(_ context.Context, id string) (*entity.Signal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.signals[id]
	if !ok {
		return nil, dto.ErrNotFound
	}
	return s, nil
}

func (f *fakeSignals) WriteOutcome(_ context.Context, id string, decision dto.Decision) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	if _, done := f.outcomes[id]; done {
		return dto.ErrOutcomeRecorded
	}
	f.outcomes[id] = decision
	if s, ok := f.signals[id]; ok {
		s.Processed = true
	}
	return nil
}

func (f *fakeSignals) WriteScheduled(_ context.Context, id string, _ time.Time, retryCount int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scheduled[id] = retryCount
	return nil
}

type fakeRuntime struct {
	snapshot dto.RuntimeSnapshot
	err      error
}

func (f *fakeRuntime) Snapshot(context.Context) (dto.RuntimeSnapshot, error) {
	return f.snapshot, f.err
}

func (f *fakeRuntime) SetEmergencyStop(_ context.Context, enabled bool) error {
	f.snapshot.EmergencyStop = enabled
	return nil
}

func (f *fakeRuntime) SetSimulationMode(_ context.Context, enabled bool) error {
	f.snapshot.SimulationMode = enabled
	return nil
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) SendMessage(text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, text)
	return nil
}

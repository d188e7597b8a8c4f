package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sylver911/qs-trader-logic-sub000/internal/entity"
	"github.com/sylver911/qs-trader-logic-sub000/internal/trader/config"
	"github.com/sylver911/qs-trader-logic-sub000/internal/trader/dto"
	"github.com/sylver911/qs-trader-logic-sub000/internal/trader/repository"
	"github.com/sylver911/qs-trader-logic-sub000/pkg/logger"
	"github.com/sylver911/qs-trader-logic-sub000/pkg/metrics"
	"github.com/sylver911/qs-trader-logic-sub000/pkg/telegram"
)

// ReconciliationService closes locally open trades against broker state.
type ReconciliationService interface {
	Reconcile(ctx context.Context) (*dto.ReconciliationReport, error)
}

type reconciliationService struct {
	cfg      config.Reconciliation
	trades   repository.TradeRepository
	broker   repository.BrokerRepository
	notifier telegram.Notifier
	logger   *logger.Logger
	now      func() time.Time
}

func NewReconciliationService(
	cfg *config.Config,
	trades repository.TradeRepository,
	broker repository.BrokerRepository,
	notifier telegram.Notifier,
	log *logger.Logger,
) ReconciliationService {
	return &reconciliationService{
		cfg:      cfg.Reconciliation,
		trades:   trades,
		broker:   broker,
		notifier: notifier,
		logger:   log,
		now:      time.Now,
	}
}

// brokerState indexes one broker snapshot by order id.
type brokerState struct {
	orders     map[string]dto.LiveOrder
	executions map[string][]dto.Execution
}

func newBrokerState(orders []dto.LiveOrder, executions []dto.Execution) brokerState {
	state := brokerState{
		orders:     make(map[string]dto.LiveOrder, len(orders)),
		executions: make(map[string][]dto.Execution),
	}
	for _, o := range orders {
		state.orders[o.OrderID] = o
	}
	for _, e := range executions {
		state.executions[e.OrderID] = append(state.executions[e.OrderID], e)
	}
	return state
}

// executionPrice returns the volume weighted price of the fills of orderID.
func (b brokerState) executionPrice(orderID string) (decimal.Decimal, bool) {
	fills := b.executions[orderID]
	if orderID == "" || len(fills) == 0 {
		return decimal.Zero, false
	}
	var qty, notional decimal.Decimal
	for _, f := range fills {
		q := f.Quantity.Abs()
		qty = qty.Add(q)
		notional = notional.Add(q.Mul(f.Price))
	}
	if qty.IsZero() {
		return decimal.Zero, false
	}
	return notional.Div(qty), true
}

// statusPrice returns the average fill price of a filled order.
func (b brokerState) statusPrice(orderID string) (decimal.Decimal, bool) {
	order, ok := b.orders[orderID]
	if orderID == "" || !ok || order.Status != dto.OrderStatusFilled || !order.AvgPrice.IsPositive() {
		return decimal.Zero, false
	}
	return order.AvgPrice, true
}

type exitMatch struct {
	price     decimal.Decimal
	orderID   string
	leg       string
	source    string
	siblingID string
}

// findExit prefers an execution on either child order over a status-only match.
func (b brokerState) findExit(trade *entity.Trade) (exitMatch, bool) {
	legs := []struct{ id, name, sibling string }{
		{trade.TakeProfitOrderID, "take-profit", trade.StopLossOrderID},
		{trade.StopLossOrderID, "stop-loss", trade.TakeProfitOrderID},
	}
	for _, leg := range legs {
		if price, ok := b.executionPrice(leg.id); ok {
			return exitMatch{price: price, orderID: leg.id, leg: leg.name, source: "execution", siblingID: leg.sibling}, true
		}
	}
	for _, leg := range legs {
		if price, ok := b.statusPrice(leg.id); ok {
			return exitMatch{price: price, orderID: leg.id, leg: leg.name, source: "order status", siblingID: leg.sibling}, true
		}
	}
	return exitMatch{}, false
}

// working reports whether orderID is still live at the broker.
func (b brokerState) working(orderID string) bool {
	order, ok := b.orders[orderID]
	return orderID != "" && ok && order.Status == dto.OrderStatusSubmitted
}

// entryCancelled reports whether the parent order died without any fill.
func (b brokerState) entryCancelled(trade *entity.Trade) (dto.LiveOrder, bool) {
	order, ok := b.orders[trade.OrderID]
	if !ok {
		return order, false
	}
	switch order.Status {
	case dto.OrderStatusCancelled, dto.OrderStatusRejected, dto.OrderStatusInactive:
		return order, order.FilledQuantity.IsZero()
	}
	return order, false
}

func (s *reconciliationService) Reconcile(ctx context.Context) (*dto.ReconciliationReport, error) {
	trades, err := s.trades.FindOpen(ctx)
	if err != nil {
		metrics.ReconciliationErrorsTotal.Inc()
		return nil, fmt.Errorf("%w: load open trades: %v", dto.ErrReconciliation, err)
	}

	report := &dto.ReconciliationReport{Checked: len(trades)}
	if len(trades) == 0 {
		return report, nil
	}

	orders, err := s.broker.GetLiveOrders(ctx)
	if err != nil {
		metrics.ReconciliationErrorsTotal.Inc()
		return nil, fmt.Errorf("%w: fetch live orders: %v", dto.ErrReconciliation, err)
	}
	executions, err := s.broker.GetExecutions(ctx)
	if err != nil {
		metrics.ReconciliationErrorsTotal.Inc()
		return nil, fmt.Errorf("%w: fetch executions: %v", dto.ErrReconciliation, err)
	}
	state := newBrokerState(orders, executions)

	for i := range trades {
		trade := &trades[i]
		status, err := s.reconcileTrade(ctx, trade, state)
		if err != nil {
			report.Errors++
			metrics.ReconciliationErrorsTotal.Inc()
			s.logger.ErrorContext(ctx, "Failed to reconcile trade",
				logger.Field("trade_id", trade.ID),
				logger.StringField("order_id", trade.OrderID),
				logger.ErrorField(err))
			continue
		}
		switch status {
		case "":
		case entity.TradeStatusCancelled:
			report.Cancelled++
		default:
			report.Closed++
		}
	}

	s.logger.InfoContext(ctx, "Reconciliation cycle finished",
		logger.IntField("checked", report.Checked),
		logger.IntField("closed", report.Closed),
		logger.IntField("cancelled", report.Cancelled),
		logger.IntField("errors", report.Errors))
	return report, nil
}

// reconcileTrade closes one trade if the broker shows it finished. It returns
// the status written, or "" when the trade stays open.
func (s *reconciliationService) reconcileTrade(ctx context.Context, trade *entity.Trade, state brokerState) (status entity.TradeStatus, err error) {
	defer func() {
		if r := recover(); r != nil {
			status, err = "", fmt.Errorf("%w: panic reconciling trade %d: %v", dto.ErrReconciliation, trade.ID, r)
		}
	}()

	closedAt := s.now().UTC()
	update := dto.TradeClose{ClosedAt: closedAt}

	var sibling string
	if match, ok := state.findExit(trade); ok {
		if state.working(match.siblingID) {
			sibling = match.siblingID
		}
		pnl := tradePnL(trade, match.price)
		exit := match.price
		update.Status = classifyExit(trade, match.price, s.cfg.Tolerance, entity.TradeStatus(s.cfg.TieBreak))
		update.ExitPrice = &exit
		update.PnL = &pnl
		update.CloseReason = fmt.Sprintf("%s order %s filled at %s (%s)", match.leg, match.orderID, exit.StringFixed(4), match.source)
	} else if order, ok := state.entryCancelled(trade); ok {
		update.Status = entity.TradeStatusCancelled
		update.CloseReason = fmt.Sprintf("entry order %s %s without fill", trade.OrderID, order.Status)
	} else {
		return "", nil
	}

	closed, err := s.trades.Close(ctx, trade.ID, update)
	if err != nil {
		return "", err
	}
	if !closed {
		s.logger.DebugContext(ctx, "Trade already closed", logger.Field("trade_id", trade.ID))
		return "", nil
	}

	if sibling != "" {
		s.cancelSibling(ctx, trade, sibling)
	}

	metrics.ReconciledTradesTotal.WithLabelValues(string(update.Status)).Inc()
	s.logger.InfoContext(ctx, "Trade closed",
		logger.Field("trade_id", trade.ID),
		logger.StringField("signal_id", trade.SignalID),
		logger.StringField("status", string(update.Status)),
		logger.StringField("close_reason", update.CloseReason))

	msg := telegram.FormatTradeClosedMessage(telegram.TradeClosedNotice{
		TradeID:     trade.ID,
		Ticker:      trade.Ticker,
		Direction:   trade.Direction,
		Status:      string(update.Status),
		EntryPrice:  trade.EntryPrice,
		ExitPrice:   update.ExitPrice,
		PnL:         update.PnL,
		CloseReason: update.CloseReason,
		ClosedAt:    closedAt,
	})
	if err := s.notifier.SendMessage(msg); err != nil {
		s.logger.WarnContext(ctx, "Failed to send telegram notification", logger.ErrorField(err))
	}
	return update.Status, nil
}

// cancelSibling cancels the exit leg left working after the other leg filled.
// A failure is logged; the close already stands.
func (s *reconciliationService) cancelSibling(ctx context.Context, trade *entity.Trade, orderID string) {
	if err := s.broker.CancelOrder(ctx, orderID); err != nil {
		s.logger.WarnContext(ctx, "Failed to cancel sibling exit order",
			logger.Field("trade_id", trade.ID),
			logger.StringField("order_id", orderID),
			logger.ErrorField(err))
		return
	}
	s.logger.InfoContext(ctx, "Cancelled sibling exit order",
		logger.Field("trade_id", trade.ID),
		logger.StringField("order_id", orderID))
}

// isShort reports whether the trade profits from a falling price. Bought
// calls and puts are long premium.
func isShort(direction string) bool {
	switch strings.ToUpper(strings.TrimSpace(direction)) {
	case "SHORT", "SELL":
		return true
	}
	return false
}

func tradePnL(trade *entity.Trade, exit decimal.Decimal) decimal.Decimal {
	multiplier := trade.Multiplier
	if multiplier <= 0 {
		multiplier = 1
	}
	diff := exit.Sub(trade.EntryPrice)
	if isShort(trade.Direction) {
		diff = diff.Neg()
	}
	return diff.Mul(decimal.NewFromInt(int64(trade.Quantity))).Mul(decimal.NewFromInt(int64(multiplier)))
}

// classifyExit compares the exit price with the recorded thresholds. A price
// within tolerance of a threshold, or beyond it, counts as reaching it.
func classifyExit(trade *entity.Trade, exit decimal.Decimal, tolerance float64, tieBreak entity.TradeStatus) entity.TradeStatus {
	tol := decimal.NewFromFloat(tolerance)
	one := decimal.NewFromInt(1)

	var hitTP, hitSL bool
	if isShort(trade.Direction) {
		hitTP = trade.TakeProfit.IsPositive() && exit.LessThanOrEqual(trade.TakeProfit.Mul(one.Add(tol)))
		hitSL = trade.StopLoss.IsPositive() && exit.GreaterThanOrEqual(trade.StopLoss.Mul(one.Sub(tol)))
	} else {
		hitTP = trade.TakeProfit.IsPositive() && exit.GreaterThanOrEqual(trade.TakeProfit.Mul(one.Sub(tol)))
		hitSL = trade.StopLoss.IsPositive() && exit.LessThanOrEqual(trade.StopLoss.Mul(one.Add(tol)))
	}

	switch {
	case hitTP && hitSL:
		switch tieBreak {
		case entity.TradeStatusClosedTP, entity.TradeStatusClosedSL:
			return tieBreak
		}
		return entity.TradeStatusClosedOther
	case hitTP:
		return entity.TradeStatusClosedTP
	case hitSL:
		return entity.TradeStatusClosedSL
	}
	return entity.TradeStatusClosedOther
}

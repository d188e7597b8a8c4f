package service

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sylver911/qs-trader-logic-sub000/internal/entity"
	"github.com/sylver911/qs-trader-logic-sub000/internal/trader/config"
	"github.com/sylver911/qs-trader-logic-sub000/internal/trader/dto"
	"github.com/sylver911/qs-trader-logic-sub000/internal/trader/repository"
	"github.com/sylver911/qs-trader-logic-sub000/internal/trader/strategy"
	"github.com/sylver911/qs-trader-logic-sub000/pkg/common"
	"github.com/sylver911/qs-trader-logic-sub000/pkg/logger"
	"github.com/sylver911/qs-trader-logic-sub000/pkg/utils"
)

const contractMultiplier = 100

type decisionEngine struct {
	cfg       *config.Config
	logger    *logger.Logger
	engine    repository.ReasoningEngineRepository
	broker    repository.BrokerRepository
	news      repository.NewsRepository
	trades    repository.TradeRepository
	scheduler SchedulerService
	validate  *validator.Validate
	now       func() time.Time
}

// NewDecisionEngine builds the reasoning engine adapter. news may be nil.
func NewDecisionEngine(
	cfg *config.Config,
	log *logger.Logger,
	engine repository.ReasoningEngineRepository,
	broker repository.BrokerRepository,
	news repository.NewsRepository,
	trades repository.TradeRepository,
	scheduler SchedulerService,
) strategy.DecisionMaker {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &decisionEngine{
		cfg:       cfg,
		logger:    log,
		engine:    engine,
		broker:    broker,
		news:      news,
		trades:    trades,
		scheduler: scheduler,
		validate:  validate,
		now:       time.Now,
	}
}

// decisionSession is the state of one Decide call.
type decisionSession struct {
	in     strategy.DecisionInput
	bundle dto.PrefetchBundle
	reads  []string
}

// retryCount is the number of times the signal has already been deferred.
// A signal re-entering through the work queue still carries its stored count.
func (s *decisionSession) retryCount() int {
	count := s.in.Signal.ScheduledRetryCount
	if r := s.in.Resumption; r != nil && r.RetryCount > count {
		count = r.RetryCount
	}
	return count
}

func (s *decisionSession) priorSummary() string {
	parts := []string{summarizeBundle(s.bundle)}
	parts = append(parts, s.reads...)
	return strings.Join(parts, "; ")
}

// actionOutcome is the result of running one action. A non-empty violation
// means the call was refused and the engine may correct it.
type actionOutcome struct {
	decision         dto.Decision
	violation        string
	withdrawSchedule bool
}

func (e *decisionEngine) Decide(ctx context.Context, in strategy.DecisionInput) dto.Decision {
	ctx = logger.WithContext(ctx,
		logger.StringField("signal_id", in.Signal.ID),
		logger.StringField("strategy", in.Strategy))

	mode := in.Snapshot.DecisionMode
	if mode == "" {
		mode = e.cfg.Trader.DecisionMode
	}

	sess := &decisionSession{in: in, bundle: e.prefetch(ctx, in)}
	req := dto.EngineRequest{
		Instructions: BuildDecisionInstructions(mode, e.cfg.Scheduler),
		Context:      BuildDecisionContext(in, sess.bundle, e.now()),
	}

	var decision dto.Decision
	if mode == common.DecisionModeExploratory {
		decision = e.explore(ctx, sess, req)
	} else {
		decision = e.bounded(ctx, sess, req)
	}

	e.logger.InfoContext(ctx, "Reasoning engine decided",
		logger.StringField("mode", mode),
		logger.StringField("outcome", decision.Outcome()),
		logger.StringField("category", decision.Category),
		logger.StringField("order_id", decision.OrderID))
	return decision
}

// bounded offers only the three actions and requires exactly one per round.
func (e *decisionEngine) bounded(ctx context.Context, sess *decisionSession, req dto.EngineRequest) dto.Decision {
	req.Tools = actionTools()
	req.RequireToolCall = true

	var lastViolation string
	for turn := 0; turn <= e.cfg.Trader.MaxCorrectionTurns; turn++ {
		resp, err := e.ask(ctx, req)
		if err != nil {
			return e.engineFailure(ctx, err)
		}

		call, ok := pickAction(resp.Calls, req.Tools)
		if !ok {
			return dto.Skip(noActionReason(resp.Text), common.CategoryNoDecision)
		}

		outcome := e.runAction(ctx, sess, call)
		if outcome.violation == "" {
			return outcome.decision
		}
		lastViolation = outcome.violation
		e.logger.InfoContext(ctx, "Engine action refused",
			logger.StringField("action", call.Name),
			logger.StringField("violation", outcome.violation),
			logger.IntField("turn", turn))
		req = withCorrection(req, resp.Text, []dto.ToolCall{call}, outcome)
	}
	return dto.Skip(fmt.Sprintf("no valid action after %d corrections: %s", e.cfg.Trader.MaxCorrectionTurns, lastViolation), common.CategoryValidation)
}

// explore lets the engine call read-only tools for a number of rounds
// before deciding through an action call or a JSON answer.
func (e *decisionEngine) explore(ctx context.Context, sess *decisionSession, req dto.EngineRequest) dto.Decision {
	req.Tools = append(append([]dto.ToolDefinition{}, readTools...), actionTools()...)

	corrections := 0
	refuse := func(text string, calls []dto.ToolCall, outcome actionOutcome) (dto.Decision, bool) {
		if corrections >= e.cfg.Trader.MaxCorrectionTurns {
			return dto.Skip(fmt.Sprintf("no valid action after %d corrections: %s", corrections, outcome.violation), common.CategoryValidation), true
		}
		corrections++
		req = withCorrection(req, text, calls, outcome)
		return dto.Decision{}, false
	}

	for round := 0; round < e.cfg.Trader.MaxExploratoryRounds; round++ {
		resp, err := e.ask(ctx, req)
		if err != nil {
			return e.engineFailure(ctx, err)
		}

		if call, ok := pickAction(resp.Calls, req.Tools); ok {
			outcome := e.runAction(ctx, sess, call)
			if outcome.violation == "" {
				return outcome.decision
			}
			if d, done := refuse(resp.Text, []dto.ToolCall{call}, outcome); done {
				return d
			}
			continue
		}

		if len(resp.Calls) > 0 {
			req.History = append(req.History, e.runReadTools(ctx, sess, resp))
			continue
		}

		call, err := parseFreeTextDecision(resp.Text)
		if err != nil {
			e.logger.DebugContext(ctx, "Engine answer is not a decision", logger.ErrorField(err))
			return dto.Skip(noActionReason(resp.Text), common.CategoryNoDecision)
		}
		outcome := actionOutcome{violation: fmt.Sprintf("%s is not available", call.Name)}
		if offers(req.Tools, call.Name) {
			outcome = e.runAction(ctx, sess, call)
		}
		if outcome.violation == "" {
			return outcome.decision
		}
		if d, done := refuse(resp.Text, nil, outcome); done {
			return d
		}
	}
	return dto.Skip(fmt.Sprintf("no decision after %d rounds", e.cfg.Trader.MaxExploratoryRounds), common.CategoryNoDecision)
}

func (e *decisionEngine) ask(ctx context.Context, req dto.EngineRequest) (*dto.EngineResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.AI.Timeout)
	defer cancel()
	return e.engine.Decide(ctx, req)
}

func (e *decisionEngine) engineFailure(ctx context.Context, err error) dto.Decision {
	e.logger.ErrorContext(ctx, "Reasoning engine request failed", logger.ErrorField(err))
	return dto.Skip(fmt.Sprintf("reasoning engine error: %v", err), common.CategoryEngineError)
}

func (e *decisionEngine) runAction(ctx context.Context, sess *decisionSession, call dto.ToolCall) actionOutcome {
	switch call.Name {
	case dto.ActionSkip:
		return e.skip(call)
	case dto.ActionScheduleReanalysis:
		return e.scheduleReanalysis(ctx, sess, call)
	case dto.ActionPlaceBracketOrder:
		return e.placeBracketOrder(ctx, sess, call)
	}
	return actionOutcome{violation: fmt.Sprintf("unknown action %q", call.Name)}
}

func (e *decisionEngine) skip(call dto.ToolCall) actionOutcome {
	var args dto.SkipArgs
	if err := call.DecodeArgs(&args); err != nil {
		return actionOutcome{violation: err.Error()}
	}
	reason := strings.TrimSpace(args.Reason)
	if reason == "" {
		reason = "skipped without a reason"
	}
	category := strings.TrimSpace(args.Category)
	if category == "" {
		category = common.CategoryEngineSkip
	}
	return actionOutcome{decision: dto.Skip(reason, category)}
}

func (e *decisionEngine) scheduleReanalysis(ctx context.Context, sess *decisionSession, call dto.ToolCall) actionOutcome {
	var args dto.ScheduleArgs
	if err := call.DecodeArgs(&args); err != nil {
		return actionOutcome{violation: err.Error()}
	}
	if strings.TrimSpace(args.Question) == "" {
		return actionOutcome{violation: "question is required"}
	}

	var dueAt time.Time
	switch {
	case args.DueAt != "":
		t, err := time.Parse(time.RFC3339, args.DueAt)
		if err != nil {
			return actionOutcome{violation: fmt.Sprintf("due_at %q is not an RFC3339 time", args.DueAt)}
		}
		dueAt = t
	case args.DelayMinutes > 0:
		dueAt = e.now().Add(time.Duration(args.DelayMinutes * float64(time.Minute)))
	default:
		return actionOutcome{violation: "delay_minutes must be positive"}
	}

	retryCount := sess.retryCount()

	signal := sess.in.Signal
	entry, err := e.scheduler.Schedule(ctx, dto.ScheduleRequest{
		SignalID:      signal.ID,
		SignalName:    signal.ThreadName,
		DueAt:         dueAt,
		Reason:        args.Reason,
		Question:      args.Question,
		KeyLevels:     args.KeyLevels,
		RetryCount:    retryCount,
		PriorSummary:  sess.priorSummary(),
		SignalSummary: summarizeSignal(signal),
	})
	if err != nil {
		if errors.Is(err, dto.ErrSchedulingRejected) {
			return actionOutcome{violation: err.Error(), withdrawSchedule: true}
		}
		e.logger.ErrorContext(ctx, "Failed to schedule reanalysis", logger.ErrorField(err))
		return actionOutcome{decision: dto.Skip(fmt.Sprintf("failed to schedule reanalysis: %v", err), common.CategoryScheduleError)}
	}

	decision := dto.Delay(entry.DueAt, entry.DelayQuestion, entry.RetryCount)
	decision.Reason = args.Reason
	return actionOutcome{decision: decision}
}

func (e *decisionEngine) placeBracketOrder(ctx context.Context, sess *decisionSession, call dto.ToolCall) actionOutcome {
	var args dto.BracketOrderArgs
	if err := call.DecodeArgs(&args); err != nil {
		return actionOutcome{violation: err.Error()}
	}

	params := sess.in.Params
	if args.Quantity == 0 {
		args.Quantity = params.DefaultQuantity
	}
	args.Ticker = strings.ToUpper(strings.TrimSpace(args.Ticker))
	args.Direction = strings.ToUpper(strings.TrimSpace(args.Direction))

	if err := e.validate.Struct(args); err != nil {
		return actionOutcome{violation: describeValidation(err)}
	}
	if value := args.EntryPrice * float64(args.Quantity) * contractMultiplier; params.MaxPositionValue > 0 && value > params.MaxPositionValue {
		return actionOutcome{violation: fmt.Sprintf("position value %.2f exceeds the maximum %.2f", value, params.MaxPositionValue)}
	}

	loc := utils.MarketLocation()
	expiry, _ := time.ParseInLocation("2006-01-02", args.Expiry, loc)
	now := e.now().In(loc)
	if expiry.Before(time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)) {
		return actionOutcome{violation: fmt.Sprintf("expiry %s is in the past", args.Expiry)}
	}
	right := args.Direction[:1]

	signal := sess.in.Signal
	simulated := sess.in.Snapshot.SimulationMode
	trade := &entity.Trade{
		SignalID:   signal.ID,
		Strategy:   sess.in.Strategy,
		Ticker:     args.Ticker,
		Direction:  args.Direction,
		Right:      right,
		Strike:     decimal.NewFromFloat(args.Strike),
		Expiry:     &expiry,
		EntryPrice: decimal.NewFromFloat(args.EntryPrice),
		Quantity:   args.Quantity,
		Multiplier: contractMultiplier,
		TakeProfit: decimal.NewFromFloat(args.TakeProfit),
		StopLoss:   decimal.NewFromFloat(args.StopLoss),
		Status:     entity.TradeStatusOpen,
		Simulated:  simulated,
		OpenedAt:   e.now().UTC(),
	}

	if simulated {
		trade.OrderID = "SIM-" + uuid.NewString()
	} else {
		contract, err := e.broker.ResolveOptionContract(ctx, args.Ticker, expiry, args.Strike, right)
		if errors.Is(err, dto.ErrContractUnavailable) {
			return actionOutcome{violation: err.Error()}
		}
		if err != nil {
			return actionOutcome{decision: e.executeFailure(ctx, fmt.Errorf("%w: resolve contract: %v", dto.ErrToolExecution, err))}
		}

		result, err := e.broker.PlaceBracketOrder(ctx, dto.BracketOrder{
			Contract:   *contract,
			Side:       "BUY",
			Quantity:   args.Quantity,
			EntryPrice: args.EntryPrice,
			TakeProfit: args.TakeProfit,
			StopLoss:   args.StopLoss,
			TIF:        e.cfg.Broker.OrderTIF,
			Reference:  fmt.Sprintf("qs-%s-%s", signal.ID, uuid.NewString()[:8]),
		})
		if err != nil {
			return actionOutcome{decision: e.executeFailure(ctx, fmt.Errorf("%w: place bracket order: %v", dto.ErrToolExecution, err))}
		}

		trade.ContractID = contract.ContractID
		if contract.Multiplier > 0 {
			trade.Multiplier = contract.Multiplier
		}
		trade.OrderID = result.OrderID
		trade.TakeProfitOrderID = result.TakeProfitOrderID
		trade.StopLossOrderID = result.StopLossOrderID
	}

	decision := dto.ExecuteSuccess(trade.OrderID)
	decision.Simulated = simulated
	decision.Reasoning = args.Reasoning
	if err := e.trades.Create(ctx, trade); err != nil {
		e.logger.ErrorContext(ctx, "Failed to record trade",
			logger.StringField("order_id", trade.OrderID),
			logger.ErrorField(err))
		decision.Error = fmt.Sprintf("order placed but trade not recorded: %v", err)
	} else {
		decision.TradeID = trade.ID
	}

	e.logger.InfoContext(ctx, "Bracket order placed",
		logger.StringField("order_id", trade.OrderID),
		logger.Field("trade_id", trade.ID),
		logger.Field("simulated", simulated))
	return actionOutcome{decision: decision}
}

func (e *decisionEngine) executeFailure(ctx context.Context, err error) dto.Decision {
	e.logger.ErrorContext(ctx, "Order execution failed", logger.ErrorField(err))
	return dto.ExecuteFailure(err.Error())
}

func (e *decisionEngine) runReadTools(ctx context.Context, sess *decisionSession, resp *dto.EngineResponse) dto.EngineTurn {
	turn := dto.EngineTurn{Text: resp.Text, Calls: resp.Calls}
	for _, call := range resp.Calls {
		result := dto.ToolResult{CallID: call.ID, Name: call.Name}
		content, err := e.readTool(ctx, call)
		if err != nil {
			result.Content = err.Error()
			result.IsError = true
		} else {
			result.Content = content
			sess.reads = append(sess.reads, fmt.Sprintf("%s: %s", call.Name, truncate(content, 200)))
		}
		turn.Results = append(turn.Results, result)
	}
	return turn
}

func (e *decisionEngine) readTool(ctx context.Context, call dto.ToolCall) (string, error) {
	var (
		data any
		err  error
	)
	switch call.Name {
	case dto.ToolGetMarketStatus:
		data = marketStatusAt(e.now())
	case dto.ToolGetOptionChain:
		expiry, perr := time.ParseInLocation("2006-01-02", call.String("expiry"), utils.MarketLocation())
		if perr != nil {
			return "", fmt.Errorf("%w: expiry must be YYYY-MM-DD", dto.ErrToolExecution)
		}
		data, err = e.broker.GetOptionChain(ctx, strings.ToUpper(call.String("ticker")), expiry)
	case dto.ToolGetAccountSummary:
		data, err = e.broker.GetAccountSummary(ctx)
	case dto.ToolGetPositions:
		data, err = e.broker.GetPositions(ctx)
	case dto.ToolGetQuote:
		data, err = e.broker.GetQuote(ctx, strings.ToUpper(call.String("symbol")))
	default:
		return "", fmt.Errorf("%w: tool %s is not available", dto.ErrToolExecution, call.Name)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", dto.ErrToolExecution, call.Name, err)
	}
	return renderJSON(data), nil
}

// pickAction returns the first call naming an offered action.
func pickAction(calls []dto.ToolCall, tools []dto.ToolDefinition) (dto.ToolCall, bool) {
	for _, call := range calls {
		if dto.IsAction(call.Name) && offers(tools, call.Name) {
			return call, true
		}
	}
	return dto.ToolCall{}, false
}

// withCorrection appends the refused call and its error to the history.
func withCorrection(req dto.EngineRequest, text string, calls []dto.ToolCall, outcome actionOutcome) dto.EngineRequest {
	followUp := fmt.Sprintf("The action was refused: %s. Call one of the available actions again.", outcome.violation)
	if outcome.withdrawSchedule {
		req.Tools = withoutTool(req.Tools, dto.ActionScheduleReanalysis)
		followUp += " Rescheduling is no longer available: trade or skip now."
	}

	turn := dto.EngineTurn{Text: text, Calls: calls, FollowUp: followUp}
	for _, call := range calls {
		turn.Results = append(turn.Results, dto.ToolResult{
			CallID:  call.ID,
			Name:    call.Name,
			Content: outcome.violation,
			IsError: true,
		})
	}
	req.History = append(req.History, turn)
	return req
}

func noActionReason(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return "reasoning engine returned no action"
	}
	return "reasoning engine returned no action: " + truncate(text, 300)
}

func describeValidation(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		msgs = append(msgs, fmt.Sprintf("%s fails %s", fe.Field(), rule))
	}
	return "invalid order: " + strings.Join(msgs, ", ")
}

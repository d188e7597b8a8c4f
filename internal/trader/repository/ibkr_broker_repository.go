package repository

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/sylver911/qs-trader-logic-sub000/internal/trader/config"
	"github.com/sylver911/qs-trader-logic-sub000/internal/trader/dto"
	"github.com/sylver911/qs-trader-logic-sub000/pkg/logger"
)

const (
	ibkrSecTypeOption  = "OPT"
	ibkrMaxReplySteps  = 3
	ibkrOptionMultiply = 100
)

// ibkrBrokerRepository is a BrokerRepository over the IBKR Client Portal REST gateway.
type ibkrBrokerRepository struct {
	cfg     *config.Config
	client  *resty.Client
	limiter *rate.Limiter
	logger  *logger.Logger
}

// NewIBKRBrokerRepository creates a broker client for the configured gateway.
func NewIBKRBrokerRepository(cfg *config.Config, log *logger.Logger) BrokerRepository {
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.Broker.BaseURL, "/")).
		SetTimeout(cfg.Broker.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "qs-trader")
	if cfg.Broker.InsecureSkipVerify {
		client.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}

	return &ibkrBrokerRepository{
		cfg:     cfg,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(cfg.Broker.MaxRequestPerSecond), 1),
		logger:  log,
	}
}

// ibkrNumber accepts both JSON numbers and numeric strings.
type ibkrNumber float64

func (n *ibkrNumber) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil {
		return fmt.Errorf("invalid number %q: %w", s, err)
	}
	*n = ibkrNumber(f)
	return nil
}

// ibkrID accepts both JSON numbers and strings.
type ibkrID string

func (id *ibkrID) UnmarshalJSON(b []byte) error {
	*id = ibkrID(strings.Trim(string(b), `"`))
	if *id == "null" {
		*id = ""
	}
	return nil
}

type ibkrPosition struct {
	ConID        ibkrID     `json:"conid"`
	ContractDesc string     `json:"contractDesc"`
	Ticker       string     `json:"ticker"`
	AssetClass   string     `json:"assetClass"`
	Position     ibkrNumber `json:"position"`
	AvgCost      ibkrNumber `json:"avgCost"`
	MktPrice     ibkrNumber `json:"mktPrice"`
	UnrealPnl    ibkrNumber `json:"unrealizedPnl"`
}

type ibkrAmount struct {
	Amount   ibkrNumber `json:"amount"`
	Currency string     `json:"currency"`
}

type ibkrSummary struct {
	BuyingPower    ibkrAmount `json:"buyingpower"`
	NetLiquidation ibkrAmount `json:"netliquidation"`
	AvailableFunds ibkrAmount `json:"availablefunds"`
}

type ibkrOrder struct {
	OrderID        ibkrID     `json:"orderId"`
	ParentID       ibkrID     `json:"parentId"`
	Ticker         string     `json:"ticker"`
	Side           string     `json:"side"`
	Status         string     `json:"status"`
	FilledQuantity ibkrNumber `json:"filledQuantity"`
	AvgPrice       ibkrNumber `json:"avgPrice"`
}

type ibkrOrdersResponse struct {
	Orders []ibkrOrder `json:"orders"`
}

type ibkrTrade struct {
	ExecutionID string     `json:"execution_id"`
	OrderID     ibkrID     `json:"order_id"`
	Symbol      string     `json:"symbol"`
	Side        string     `json:"side"`
	Size        ibkrNumber `json:"size"`
	Price       ibkrNumber `json:"price"`
	TradeTimeMs int64      `json:"trade_time_r"`
}

type ibkrSecDef struct {
	ConID  ibkrID `json:"conid"`
	Symbol string `json:"symbol"`
}

type ibkrContractInfo struct {
	ConID        ibkrID     `json:"conid"`
	Symbol       string     `json:"symbol"`
	Strike       ibkrNumber `json:"strike"`
	Right        string     `json:"right"`
	MaturityDate string     `json:"maturityDate"`
	Multiplier   ibkrNumber `json:"multiplier"`
}

type ibkrStrikes struct {
	Call []float64 `json:"call"`
	Put  []float64 `json:"put"`
}

type ibkrOrderRequest struct {
	AcctID    string  `json:"acctId"`
	ConID     int64   `json:"conid"`
	COID      string  `json:"cOID,omitempty"`
	ParentID  string  `json:"parentId,omitempty"`
	OrderType string  `json:"orderType"`
	Price     float64 `json:"price"`
	Side      string  `json:"side"`
	TIF       string  `json:"tif"`
	Quantity  int     `json:"quantity"`
}

type ibkrOrderReply struct {
	OrderID     ibkrID   `json:"order_id"`
	OrderStatus string   `json:"order_status"`
	ReplyID     string   `json:"id"`
	Message     []string `json:"message"`
	Error       string   `json:"error"`
}

func (r *ibkrBrokerRepository) request(ctx context.Context) (*resty.Request, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("failed to wait for broker rate limit: %w", err)
	}
	return r.client.R().SetContext(ctx).ForceContentType("application/json"), nil
}

func (r *ibkrBrokerRepository) get(ctx context.Context, path string, query map[string]string, out any) error {
	req, err := r.request(ctx)
	if err != nil {
		return err
	}
	resp, err := req.SetQueryParams(query).SetResult(out).Get(path)
	if err != nil {
		return fmt.Errorf("broker GET %s: %w", path, err)
	}
	if resp.IsError() {
		return fmt.Errorf("broker GET %s: status %d: %s", path, resp.StatusCode(), resp.String())
	}
	return nil
}

func (r *ibkrBrokerRepository) GetPositions(ctx context.Context) ([]dto.Position, error) {
	var raw []ibkrPosition
	if err := r.get(ctx, fmt.Sprintf("/portfolio/%s/positions/0", r.cfg.Broker.AccountID), nil, &raw); err != nil {
		return nil, err
	}

	positions := make([]dto.Position, 0, len(raw))
	for _, p := range raw {
		if p.Position == 0 {
			continue
		}
		ticker := p.Ticker
		if fields := strings.Fields(p.ContractDesc); ticker == "" && len(fields) > 0 {
			ticker = fields[0]
		}
		positions = append(positions, dto.Position{
			ContractID:  string(p.ConID),
			Ticker:      strings.ToUpper(ticker),
			Description: p.ContractDesc,
			AssetClass:  p.AssetClass,
			Quantity:    float64(p.Position),
			AvgCost:     float64(p.AvgCost),
			MarketPrice: float64(p.MktPrice),
			UnrealPnL:   float64(p.UnrealPnl),
		})
	}
	return positions, nil
}

func (r *ibkrBrokerRepository) GetAccountSummary(ctx context.Context) (*dto.AccountSummary, error) {
	var raw ibkrSummary
	if err := r.get(ctx, fmt.Sprintf("/portfolio/%s/summary", r.cfg.Broker.AccountID), nil, &raw); err != nil {
		return nil, err
	}
	return &dto.AccountSummary{
		AccountID:      r.cfg.Broker.AccountID,
		BuyingPower:    float64(raw.BuyingPower.Amount),
		NetLiquidation: float64(raw.NetLiquidation.Amount),
		AvailableFunds: float64(raw.AvailableFunds.Amount),
		Currency:       raw.NetLiquidation.Currency,
	}, nil
}

func (r *ibkrBrokerRepository) GetLiveOrders(ctx context.Context) ([]dto.LiveOrder, error) {
	var raw ibkrOrdersResponse
	if err := r.get(ctx, "/iserver/account/orders", nil, &raw); err != nil {
		return nil, err
	}

	orders := make([]dto.LiveOrder, 0, len(raw.Orders))
	for _, o := range raw.Orders {
		orders = append(orders, dto.LiveOrder{
			OrderID:        string(o.OrderID),
			ParentID:       string(o.ParentID),
			Ticker:         o.Ticker,
			Side:           o.Side,
			Status:         mapIBKRStatus(o.Status),
			FilledQuantity: decimal.NewFromFloat(float64(o.FilledQuantity)),
			AvgPrice:       decimal.NewFromFloat(float64(o.AvgPrice)),
		})
	}
	return orders, nil
}

func (r *ibkrBrokerRepository) GetExecutions(ctx context.Context) ([]dto.Execution, error) {
	var raw []ibkrTrade
	if err := r.get(ctx, "/iserver/account/trades", nil, &raw); err != nil {
		return nil, err
	}

	executions := make([]dto.Execution, 0, len(raw))
	for _, t := range raw {
		executions = append(executions, dto.Execution{
			ExecutionID: t.ExecutionID,
			OrderID:     string(t.OrderID),
			Ticker:      t.Symbol,
			Side:        t.Side,
			Quantity:    decimal.NewFromFloat(float64(t.Size)),
			Price:       decimal.NewFromFloat(float64(t.Price)),
			ExecutedAt:  time.UnixMilli(t.TradeTimeMs).UTC(),
		})
	}
	return executions, nil
}

func (r *ibkrBrokerRepository) GetQuote(ctx context.Context, symbol string) (*dto.Quote, error) {
	conID, err := r.underlyingConID(ctx, symbol)
	if err != nil {
		return nil, err
	}

	var raw []map[string]json.RawMessage
	if err := r.get(ctx, "/iserver/marketdata/snapshot", map[string]string{"conids": conID, "fields": "31,84,86"}, &raw); err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("no quote for %s", symbol)
	}

	field := func(key string) float64 {
		var n ibkrNumber
		if v, ok := raw[0][key]; ok {
			_ = json.Unmarshal(v, &n)
		}
		return float64(n)
	}
	return &dto.Quote{Symbol: strings.ToUpper(symbol), Last: field("31"), Bid: field("84"), Ask: field("86")}, nil
}

func (r *ibkrBrokerRepository) GetOptionChain(ctx context.Context, ticker string, expiry time.Time) (*dto.OptionChain, error) {
	conID, err := r.underlyingConID(ctx, ticker)
	if err != nil {
		return nil, err
	}

	var raw ibkrStrikes
	err = r.get(ctx, "/iserver/secdef/strikes", map[string]string{
		"conid":   conID,
		"sectype": ibkrSecTypeOption,
		"month":   ibkrMonth(expiry),
	}, &raw)
	if err != nil {
		return nil, err
	}
	return &dto.OptionChain{
		Ticker: strings.ToUpper(ticker),
		Expiry: expiry.Format("2006-01-02"),
		Calls:  raw.Call,
		Puts:   raw.Put,
	}, nil
}

func (r *ibkrBrokerRepository) ResolveOptionContract(ctx context.Context, ticker string, expiry time.Time, strike float64, right string) (*dto.OptionContract, error) {
	conID, err := r.underlyingConID(ctx, ticker)
	if err != nil {
		return nil, err
	}

	var infos []ibkrContractInfo
	err = r.get(ctx, "/iserver/secdef/info", map[string]string{
		"conid":   conID,
		"sectype": ibkrSecTypeOption,
		"month":   ibkrMonth(expiry),
		"strike":  strconv.FormatFloat(strike, 'f', -1, 64),
		"right":   right,
	}, &infos)
	if err != nil {
		return nil, err
	}

	want := expiry.Format("20060102")
	for _, info := range infos {
		if info.MaturityDate != want {
			continue
		}
		multiplier := int(info.Multiplier)
		if multiplier == 0 {
			multiplier = ibkrOptionMultiply
		}
		return &dto.OptionContract{
			ContractID: string(info.ConID),
			Ticker:     strings.ToUpper(ticker),
			Expiry:     expiry,
			Strike:     strike,
			Right:      right,
			Multiplier: multiplier,
		}, nil
	}
	return nil, fmt.Errorf("%s %s %v%s: %w", ticker, want, strike, right, dto.ErrContractUnavailable)
}

// PlaceBracketOrder submits the entry with attached take-profit and stop-loss
// children. IBKR treats the children of one parent as a one-cancels-all group.
func (r *ibkrBrokerRepository) PlaceBracketOrder(ctx context.Context, order dto.BracketOrder) (*dto.BracketOrderResult, error) {
	conID, err := strconv.ParseInt(order.Contract.ContractID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid contract id %q: %w", order.Contract.ContractID, err)
	}
	tif := order.TIF
	if tif == "" {
		tif = r.cfg.Broker.OrderTIF
	}
	exitSide := "SELL"
	if strings.EqualFold(order.Side, "SELL") {
		exitSide = "BUY"
	}
	parentRef := order.Reference
	acct := r.cfg.Broker.AccountID

	payload := map[string][]ibkrOrderRequest{"orders": {
		{AcctID: acct, ConID: conID, COID: parentRef, OrderType: "LMT", Price: order.EntryPrice, Side: strings.ToUpper(order.Side), TIF: tif, Quantity: order.Quantity},
		{AcctID: acct, ConID: conID, ParentID: parentRef, OrderType: "LMT", Price: order.TakeProfit, Side: exitSide, TIF: "GTC", Quantity: order.Quantity},
		{AcctID: acct, ConID: conID, ParentID: parentRef, OrderType: "STP", Price: order.StopLoss, Side: exitSide, TIF: "GTC", Quantity: order.Quantity},
	}}

	replies, err := r.post(ctx, fmt.Sprintf("/iserver/account/%s/orders", acct), payload)
	if err != nil {
		return nil, err
	}

	// Precautionary warnings must be confirmed before the gateway accepts the orders.
	for step := 0; step < ibkrMaxReplySteps && len(replies) > 0 && replies[0].ReplyID != "" && replies[0].OrderID == ""; step++ {
		r.logger.Info("Confirming broker order warning",
			logger.StringField("reply_id", replies[0].ReplyID),
			logger.StringField("message", strings.Join(replies[0].Message, "; ")))
		replies, err = r.post(ctx, "/iserver/reply/"+replies[0].ReplyID, map[string]bool{"confirmed": true})
		if err != nil {
			return nil, err
		}
	}

	var ids []string
	for _, reply := range replies {
		if reply.Error != "" {
			return nil, fmt.Errorf("broker rejected order: %s", reply.Error)
		}
		if reply.OrderID != "" {
			ids = append(ids, string(reply.OrderID))
		}
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("broker returned no order id")
	}

	result := &dto.BracketOrderResult{OrderID: ids[0]}
	if len(ids) > 1 {
		result.TakeProfitOrderID = ids[1]
	}
	if len(ids) > 2 {
		result.StopLossOrderID = ids[2]
	}
	return result, nil
}

func (r *ibkrBrokerRepository) CancelOrder(ctx context.Context, orderID string) error {
	req, err := r.request(ctx)
	if err != nil {
		return err
	}
	path := fmt.Sprintf("/iserver/account/%s/order/%s", r.cfg.Broker.AccountID, orderID)
	resp, err := req.Delete(path)
	if err != nil {
		return fmt.Errorf("broker DELETE %s: %w", path, err)
	}
	if resp.IsError() {
		return fmt.Errorf("broker DELETE %s: status %d: %s", path, resp.StatusCode(), resp.String())
	}
	return nil
}

func (r *ibkrBrokerRepository) post(ctx context.Context, path string, body any) ([]ibkrOrderReply, error) {
	req, err := r.request(ctx)
	if err != nil {
		return nil, err
	}
	var replies []ibkrOrderReply
	resp, err := req.SetBody(body).SetResult(&replies).Post(path)
	if err != nil {
		return nil, fmt.Errorf("broker POST %s: %w", path, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("broker POST %s: status %d: %s", path, resp.StatusCode(), resp.String())
	}
	return replies, nil
}

func (r *ibkrBrokerRepository) underlyingConID(ctx context.Context, symbol string) (string, error) {
	var defs []ibkrSecDef
	if err := r.get(ctx, "/iserver/secdef/search", map[string]string{"symbol": strings.ToUpper(symbol)}, &defs); err != nil {
		return "", err
	}
	for _, d := range defs {
		if d.ConID != "" {
			return string(d.ConID), nil
		}
	}
	return "", fmt.Errorf("no contract for symbol %s: %w", symbol, dto.ErrNotFound)
}

// ibkrMonth renders the gateway month code, e.g. OCT26.
func ibkrMonth(t time.Time) string {
	return strings.ToUpper(t.Format("Jan06"))
}

func mapIBKRStatus(status string) dto.OrderStatus {
	switch strings.ToLower(status) {
	case "filled":
		return dto.OrderStatusFilled
	case "cancelled", "pendingcancel", "apicancelled":
		return dto.OrderStatusCancelled
	case "rejected":
		return dto.OrderStatusRejected
	case "inactive":
		return dto.OrderStatusInactive
	case "submitted", "presubmitted", "pendingsubmit", "presubmit":
		return dto.OrderStatusSubmitted
	default:
		return dto.OrderStatusUnknown
	}
}

package telegram

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ExecutionNotice describes an order decision worth alerting on.
type ExecutionNotice struct {
	SignalID   string
	SignalName string
	Strategy   string
	Ticker     string
	Success    bool
	Simulated  bool
	OrderID    string
	Error      string
	Reasoning  string
	DecidedAt  time.Time
}

// TradeClosedNotice describes a trade closed by reconciliation.
type TradeClosedNotice struct {
	TradeID     uint
	Ticker      string
	Direction   string
	Status      string
	EntryPrice  decimal.Decimal
	ExitPrice   *decimal.Decimal
	PnL         *decimal.Decimal
	CloseReason string
	ClosedAt    time.Time
}

// FormatExecutionMessage formats an execute decision for Telegram.
func FormatExecutionMessage(n ExecutionNotice) string {
	var sb strings.Builder

	switch {
	case n.Success && n.Simulated:
		sb.WriteString(fmt.Sprintf("🧪 *Simulated order* [%s]\n", n.Ticker))
	case n.Success:
		sb.WriteString(fmt.Sprintf("✅ *Order placed* [%s]\n", n.Ticker))
	default:
		sb.WriteString(fmt.Sprintf("❌ *Order failed* [%s]\n", n.Ticker))
	}
	sb.WriteString(fmt.Sprintf("📨 Signal: %s (`%s`)\n", n.SignalName, n.SignalID))
	if n.Strategy != "" {
		sb.WriteString(fmt.Sprintf("🧭 Strategy: %s\n", n.Strategy))
	}
	if n.OrderID != "" {
		sb.WriteString(fmt.Sprintf("🧾 Order: `%s`\n", n.OrderID))
	}
	if n.Error != "" {
		sb.WriteString(fmt.Sprintf("⚠️ Error: %s\n", n.Error))
	}
	if n.Reasoning != "" {
		sb.WriteString(fmt.Sprintf("\n🧠 _%s_\n", n.Reasoning))
	}
	sb.WriteString(fmt.Sprintf("\n📅 %s\n", n.DecidedAt.UTC().Format("2006-01-02 15:04:05 MST")))
	return sb.String()
}

// FormatTradeClosedMessage formats a reconciled trade close for Telegram.
func FormatTradeClosedMessage(n TradeClosedNotice) string {
	var sb strings.Builder

	emoji := "🔒"
	switch n.Status {
	case "closed_tp":
		emoji = "🎯"
	case "closed_sl":
		emoji = "🛡"
	case "cancelled":
		emoji = "🚫"
	}
	sb.WriteString(fmt.Sprintf("%s *Trade %d %s* [%s %s]\n", emoji, n.TradeID, n.Status, n.Ticker, n.Direction))
	sb.WriteString(fmt.Sprintf("💵 Entry: %s\n", n.EntryPrice.StringFixed(2)))
	if n.ExitPrice != nil {
		sb.WriteString(fmt.Sprintf("🏁 Exit: %s\n", n.ExitPrice.StringFixed(2)))
	}
	if n.PnL != nil {
		icon := "📈"
		if n.PnL.IsNegative() {
			icon = "📉"
		}
		sb.WriteString(fmt.Sprintf("%s P&L: %s\n", icon, n.PnL.StringFixed(2)))
	}
	if n.CloseReason != "" {
		sb.WriteString(fmt.Sprintf("📝 %s\n", n.CloseReason))
	}
	sb.WriteString(fmt.Sprintf("📅 %s\n", n.ClosedAt.UTC().Format("2006-01-02 15:04:05 MST")))
	return sb.String()
}

// FormatErrorAlertMessage formats an operational failure for Telegram.
func FormatErrorAlertMessage(at time.Time, errType string, errMsg string, data string) string {
	return fmt.Sprintf(`📛 [ERROR ALERT]
🕒 Time: %s
❗ Type: %s
💬 Message: %s
📦 Data: %s`, at.UTC().Format("2006-01-02 15:04:05 MST"), errType, errMsg, data)
}

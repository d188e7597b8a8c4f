package service

import (
	"github.com/sylver911/qs-trader-logic-sub000/internal/trader/dto"
)

var (
	skipTool = dto.ToolDefinition{
		Name:        dto.ActionSkip,
		Description: "Do not trade this signal. Use when the setup is invalid, risky, or the data is insufficient.",
		Params: []dto.ToolParam{
			{Name: "reason", Type: dto.ToolParamString, Description: "Why the signal is skipped.", Required: true},
			{Name: "category", Type: dto.ToolParamString, Description: "Short machine-readable category.", Enum: []string{"risk", "market_closed", "invalid_signal", "insufficient_data", "price_moved", "other"}},
		},
	}

	placeBracketOrderTool = dto.ToolDefinition{
		Name:        dto.ActionPlaceBracketOrder,
		Description: "Buy an option with a limit entry and attached take-profit and stop-loss orders.",
		Params: []dto.ToolParam{
			{Name: "ticker", Type: dto.ToolParamString, Description: "Underlying symbol, e.g. SPY.", Required: true},
			{Name: "direction", Type: dto.ToolParamString, Description: "Option right.", Required: true, Enum: []string{"CALL", "PUT"}},
			{Name: "strike", Type: dto.ToolParamNumber, Description: "Strike price.", Required: true},
			{Name: "expiry", Type: dto.ToolParamString, Description: "Expiration date YYYY-MM-DD.", Required: true},
			{Name: "quantity", Type: dto.ToolParamInteger, Description: "Number of contracts."},
			{Name: "entry_price", Type: dto.ToolParamNumber, Description: "Limit price per contract premium.", Required: true},
			{Name: "take_profit", Type: dto.ToolParamNumber, Description: "Take-profit premium, above entry.", Required: true},
			{Name: "stop_loss", Type: dto.ToolParamNumber, Description: "Stop-loss premium, below entry.", Required: true},
			{Name: "reasoning", Type: dto.ToolParamString, Description: "Short rationale for the trade."},
		},
	}

	scheduleReanalysisTool = dto.ToolDefinition{
		Name:        dto.ActionScheduleReanalysis,
		Description: "Re-evaluate this signal later, when a specific event or price level will answer an open question.",
		Params: []dto.ToolParam{
			{Name: "delay_minutes", Type: dto.ToolParamNumber, Description: "Minutes from now until the re-check.", Required: true},
			{Name: "reason", Type: dto.ToolParamString, Description: "Why the decision is deferred.", Required: true},
			{Name: "question", Type: dto.ToolParamString, Description: "The concrete question to answer at the re-check.", Required: true},
			{Name: "key_levels", Type: dto.ToolParamNumbers, Description: "Underlying price levels to check."},
		},
	}

	readTools = []dto.ToolDefinition{
		{Name: dto.ToolGetMarketStatus, Description: "Current US market session and time."},
		{
			Name:        dto.ToolGetOptionChain,
			Description: "Listed strikes for an underlying and expiration.",
			Params: []dto.ToolParam{
				{Name: "ticker", Type: dto.ToolParamString, Description: "Underlying symbol.", Required: true},
				{Name: "expiry", Type: dto.ToolParamString, Description: "Expiration date YYYY-MM-DD.", Required: true},
			},
		},
		{Name: dto.ToolGetAccountSummary, Description: "Buying power and net liquidation value."},
		{Name: dto.ToolGetPositions, Description: "Open positions in the account."},
		{
			Name:        dto.ToolGetQuote,
			Description: "Last, bid and ask for a symbol.",
			Params: []dto.ToolParam{
				{Name: "symbol", Type: dto.ToolParamString, Description: "Symbol to quote.", Required: true},
			},
		},
	}
)

func actionTools() []dto.ToolDefinition {
	return []dto.ToolDefinition{skipTool, placeBracketOrderTool, scheduleReanalysisTool}
}

func withoutTool(tools []dto.ToolDefinition, name string) []dto.ToolDefinition {
	out := make([]dto.ToolDefinition, 0, len(tools))
	for _, t := range tools {
		if t.Name != name {
			out = append(out, t)
		}
	}
	return out
}

func offers(tools []dto.ToolDefinition, name string) bool {
	for _, t := range tools {
		if t.Name == name {
			return true
		}
	}
	return false
}

package service

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sylver911/qs-trader-logic-sub000/internal/entity"
	"github.com/sylver911/qs-trader-logic-sub000/internal/trader/config"
	"github.com/sylver911/qs-trader-logic-sub000/internal/trader/dto"
	"github.com/sylver911/qs-trader-logic-sub000/internal/trader/strategy"
	"github.com/sylver911/qs-trader-logic-sub000/pkg/common"
)

const maxToolResultLen = 4000

func BuildDecisionInstructions(mode string, sched config.Scheduler) string {
	modeRules := `You MUST respond by calling exactly one of the actions: skip, placeBracketOrder or scheduleReanalysis.
Do not answer in plain text.`
	if mode == common.DecisionModeExploratory {
		modeRules = `You may call the read-only tools (getMarketStatus, getOptionChain, getAccountSummary, getPositions, getQuote) to gather more data.
When you are ready, call exactly one action, or answer with a single JSON object:
{
  "action": "skip | execute | delay",
  "reason": "<string>",
  "category": "<string, for skip>",
  "ticker": "<string>", "direction": "CALL | PUT", "strike": <number>, "expiry": "YYYY-MM-DD",
  "quantity": <integer>, "entry_price": <number>, "take_profit": <number>, "stop_loss": <number>,
  "delay_minutes": <number>, "question": "<string>", "key_levels": [<number>]
}`
	}

	return fmt.Sprintf(`You are a disciplined options trader reviewing a trade idea posted by a signal provider.
Decide whether to take the trade now, skip it, or re-check it later.

Rules:
- Only buy options (long calls or long puts). Never sell to open.
- take_profit must be above entry_price and stop_loss below it; all prices are option premiums.
- The position value (entry_price x quantity x 100) must not exceed the max position value.
- Use scheduleReanalysis only when a specific, checkable event or price level will resolve the uncertainty.
  The delay must be between %d and %d minutes, and a signal can be rescheduled at most %d times.
- When the data is missing, stale or contradicts the signal, skip and name the reason.

%s`, int(sched.MinDelay.Minutes()), int(sched.MaxDelay.Minutes()), sched.MaxRetries, modeRules)
}

func BuildDecisionContext(in strategy.DecisionInput, bundle dto.PrefetchBundle, now time.Time) string {
	var b strings.Builder

	b.WriteString("## Signal\n")
	b.WriteString(summarizeSignal(in.Signal))
	if in.Signal.Content != "" {
		b.WriteString(fmt.Sprintf("\nRaw post:\n\"\"\"\n%s\n\"\"\"\n", in.Signal.Content))
	}

	p := in.Params
	b.WriteString(fmt.Sprintf("\n## Trading parameters\nmax_position_value: %.2f\ndefault_quantity: %d\ntake_profit_pct: %.2f\nstop_loss_pct: %.2f\nsimulation_mode: %t\n",
		p.MaxPositionValue, p.DefaultQuantity, p.TakeProfitPct, p.StopLossPct, in.Snapshot.SimulationMode))

	if r := in.Resumption; r != nil {
		b.WriteString(fmt.Sprintf("\n## Scheduled re-check (attempt %d of %d)\nYou deferred this signal earlier because: %s\nQuestion to answer now: %s\n",
			r.RetryCount, r.MaxRetries, r.DelayReason, r.DelayQuestion))
		if len(r.KeyLevels) > 0 {
			b.WriteString(fmt.Sprintf("Key levels: %s\n", formatLevels(r.KeyLevels)))
		}
		if r.PriorToolSummary != "" {
			b.WriteString(fmt.Sprintf("Earlier data: %s\n", r.PriorToolSummary))
		}
		if r.RetryCount >= r.MaxRetries {
			b.WriteString("This is the last re-check: scheduling again is not allowed.\n")
		}
	}

	b.WriteString(fmt.Sprintf("\n## Market data (as of %s)\n", now.UTC().Format(time.RFC3339)))
	for _, src := range dto.PrefetchSources {
		res, ok := bundle[src]
		if !ok {
			continue
		}
		if !res.OK() {
			b.WriteString(fmt.Sprintf("### %s\nunavailable: %v\n", src, res.Err))
			continue
		}
		b.WriteString(fmt.Sprintf("### %s\n%s\n", src, renderJSON(prefetchData(res))))
	}
	return b.String()
}

func summarizeSignal(s *entity.Signal) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("id: %s\nsource: %s\ntitle: %s\n", s.ID, s.ForumName, s.ThreadName))
	if s.HasTicker() {
		b.WriteString(fmt.Sprintf("ticker: %s\n", s.NormalizedTicker()))
	}
	if s.Direction != "" {
		b.WriteString(fmt.Sprintf("direction: %s\n", s.Direction))
	}
	writeFloat := func(name string, v *float64) {
		if v != nil {
			b.WriteString(fmt.Sprintf("%s: %g\n", name, *v))
		}
	}
	writeFloat("strike", s.Strike)
	writeFloat("entry_price", s.EntryPrice)
	writeFloat("target_price", s.TargetPrice)
	writeFloat("stop_loss", s.StopLoss)
	writeFloat("confidence", s.Confidence)
	if s.Expiry != nil {
		b.WriteString(fmt.Sprintf("expiry: %s\n", s.Expiry.Format("2006-01-02")))
	}
	if len(s.Tags) > 0 {
		b.WriteString(fmt.Sprintf("tags: %s\n", strings.Join(s.Tags, ", ")))
	}
	return b.String()
}

// summarizeBundle condenses prefetched data into one line per source for
// storage with a scheduled re-check.
func summarizeBundle(bundle dto.PrefetchBundle) string {
	var parts []string
	for _, src := range dto.PrefetchSources {
		res, ok := bundle[src]
		if !ok {
			continue
		}
		if !res.OK() {
			parts = append(parts, fmt.Sprintf("%s: unavailable", src))
			continue
		}
		switch src {
		case dto.PrefetchMarketStatus:
			parts = append(parts, fmt.Sprintf("market: %s", res.MarketStatus.Session))
		case dto.PrefetchOptionChain:
			if res.OptionChain == nil {
				continue
			}
			parts = append(parts, fmt.Sprintf("option_chain: %d calls, %d puts", len(res.OptionChain.Calls), len(res.OptionChain.Puts)))
		case dto.PrefetchAccount:
			if res.Account == nil {
				continue
			}
			parts = append(parts, fmt.Sprintf("account: buying_power=%.2f", res.Account.BuyingPower))
		case dto.PrefetchPositions:
			tickers := make([]string, 0, len(res.Positions))
			for _, p := range res.Positions {
				tickers = append(tickers, p.Ticker)
			}
			sort.Strings(tickers)
			parts = append(parts, fmt.Sprintf("positions: %d open [%s]", len(res.Positions), strings.Join(tickers, " ")))
		case dto.PrefetchNews:
			if len(res.News) > 0 {
				parts = append(parts, fmt.Sprintf("news: %q", res.News[0].Title))
			}
		}
	}
	return strings.Join(parts, "; ")
}

func prefetchData(res dto.PrefetchResult) any {
	switch res.Source {
	case dto.PrefetchMarketStatus:
		return res.MarketStatus
	case dto.PrefetchOptionChain:
		return res.OptionChain
	case dto.PrefetchAccount:
		return res.Account
	case dto.PrefetchPositions:
		return res.Positions
	case dto.PrefetchNews:
		return res.News
	}
	return nil
}

func renderJSON(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return truncate(string(raw), maxToolResultLen)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "...(truncated)"
}

func formatLevels(levels []float64) string {
	out := make([]string, 0, len(levels))
	for _, l := range levels {
		out = append(out, fmt.Sprintf("%g", l))
	}
	return strings.Join(out, ", ")
}

// parseFreeTextDecision maps a JSON answer onto the equivalent action call.
func parseFreeTextDecision(text string) (dto.ToolCall, error) {
	raw := strings.TrimSpace(text)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimPrefix(raw, "json")
		raw = strings.TrimSpace(strings.TrimSuffix(raw, "```"))
	}
	if start, end := strings.Index(raw, "{"), strings.LastIndex(raw, "}"); start >= 0 && end > start {
		raw = raw[start : end+1]
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return dto.ToolCall{}, fmt.Errorf("failed to unmarshal decision: %w", err)
	}

	action, _ := args["action"].(string)
	delete(args, "action")
	switch strings.ToLower(action) {
	case "skip":
		return dto.ToolCall{Name: dto.ActionSkip, Args: args}, nil
	case "execute", "trade", "buy":
		return dto.ToolCall{Name: dto.ActionPlaceBracketOrder, Args: args}, nil
	case "delay", "schedule", "wait":
		if _, ok := args["delay_question"]; ok {
			args["question"] = args["delay_question"]
		}
		return dto.ToolCall{Name: dto.ActionScheduleReanalysis, Args: args}, nil
	}
	return dto.ToolCall{}, fmt.Errorf("unknown decision action %q", action)
}

package dto

import (
	"time"
)

type DecisionKind string

const (
	DecisionSkip    DecisionKind = "skip"
	DecisionExecute DecisionKind = "execute"
	DecisionDelay   DecisionKind = "delay"
)

// Decision is the result of one processing attempt. Kind records the intent;
// for execute decisions Success records whether the broker accepted the order.
type Decision struct {
	Kind     DecisionKind `json:"kind"`
	Strategy string       `json:"strategy,omitempty"`

	// skip
	Reason   string `json:"reason,omitempty"`
	Category string `json:"category,omitempty"`

	// execute
	Success   bool   `json:"success,omitempty"`
	OrderID   string `json:"order_id,omitempty"`
	TradeID   uint   `json:"trade_id,omitempty"`
	Simulated bool   `json:"simulated,omitempty"`
	Error     string `json:"error,omitempty"`

	// delay
	DueAt      *time.Time `json:"due_at,omitempty"`
	Question   string     `json:"question,omitempty"`
	RetryCount int        `json:"retry_count,omitempty"`

	Reasoning string    `json:"reasoning,omitempty"`
	DecidedAt time.Time `json:"decided_at"`
}

func Skip(reason, category string) Decision {
	return Decision{Kind: DecisionSkip, Reason: reason, Category: category, DecidedAt: time.Now().UTC()}
}

func ExecuteSuccess(orderID string) Decision {
	return Decision{Kind: DecisionExecute, Success: true, OrderID: orderID, DecidedAt: time.Now().UTC()}
}

func ExecuteFailure(errMsg string) Decision {
	return Decision{Kind: DecisionExecute, Success: false, Error: errMsg, DecidedAt: time.Now().UTC()}
}

func Delay(dueAt time.Time, question string, retryCount int) Decision {
	due := dueAt.UTC()
	return Decision{Kind: DecisionDelay, DueAt: &due, Question: question, RetryCount: retryCount, DecidedAt: time.Now().UTC()}
}

// IsTerminal reports whether the decision closes out the signal.
func (d Decision) IsTerminal() bool {
	return d.Kind != DecisionDelay
}

// Outcome is a flat label used for logs and metrics.
func (d Decision) Outcome() string {
	switch d.Kind {
	case DecisionExecute:
		if d.Success {
			return "execute_success"
		}
		return "execute_failure"
	case DecisionDelay:
		return "delay"
	default:
		return "skip"
	}
}

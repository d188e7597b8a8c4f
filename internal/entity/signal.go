package entity

import (
	"strings"
	"time"

	"github.com/lib/pq"
	"gorm.io/datatypes"
)

// Signal is a parsed trading idea posted to a source forum. Only the outcome
// columns are written by the trader service.
type Signal struct {
	ID          string         `gorm:"primaryKey;type:varchar(64)" json:"id"`
	ForumID     string         `gorm:"type:varchar(64);index" json:"forum_id"`
	ForumName   string         `json:"forum_name"`
	ThreadName  string         `json:"thread_name"`
	Ticker      string         `json:"ticker"`
	Direction   string         `json:"direction"`
	Strike      *float64       `json:"strike,omitempty"`
	EntryPrice  *float64       `json:"entry_price,omitempty"`
	TargetPrice *float64       `json:"target_price,omitempty"`
	StopLoss    *float64       `json:"stop_loss,omitempty"`
	Confidence  *float64       `json:"confidence,omitempty"`
	Expiry      *time.Time     `gorm:"type:date" json:"expiry,omitempty"`
	Content     string         `gorm:"type:text" json:"content"`
	Tags        pq.StringArray `gorm:"type:text[]" json:"tags"`

	Processed           bool           `gorm:"not null;default:false" json:"processed"`
	ProcessedAt         *time.Time     `json:"processed_at,omitempty"`
	AIDecision          datatypes.JSON `gorm:"type:jsonb" json:"ai_decision,omitempty"`
	ScheduledAt         *time.Time     `json:"scheduled_at,omitempty"`
	ScheduledRetryCount int            `gorm:"not null;default:0" json:"scheduled_retry_count"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Signal) TableName() string {
	return "signals"
}

// HasTicker reports whether a ticker was parsed from the signal.
func (s *Signal) HasTicker() bool {
	return strings.TrimSpace(s.Ticker) != ""
}

// NormalizedTicker returns the upper-cased ticker.
func (s *Signal) NormalizedTicker() string {
	return strings.ToUpper(strings.TrimSpace(s.Ticker))
}

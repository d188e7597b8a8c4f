package config

import (
	"time"

	"github.com/sylver911/qs-trader-logic-sub000/pkg/common"
	"github.com/sylver911/qs-trader-logic-sub000/pkg/config"
)

// Trader holds queue consumer and decision loop configuration.
type Trader struct {
	PopTimeout            time.Duration `mapstructure:"pop_timeout"`
	TaskTimeout           time.Duration `mapstructure:"task_timeout"`
	ProcessingTTL         time.Duration `mapstructure:"processing_ttl"`
	ScheduledPollInterval time.Duration `mapstructure:"scheduled_poll_interval"`
	PrefetchConcurrency   int           `mapstructure:"prefetch_concurrency"`
	PrefetchTimeout       time.Duration `mapstructure:"prefetch_timeout"`
	DecisionMode          string        `mapstructure:"decision_mode"`
	MaxExploratoryRounds  int           `mapstructure:"max_exploratory_rounds"`
	MaxCorrectionTurns    int           `mapstructure:"max_correction_turns"`
	ContentThreshold      int           `mapstructure:"content_threshold"`
	RuntimeCacheTTL       time.Duration `mapstructure:"runtime_cache_ttl"`
}

// Scheduler holds the bounds applied to deferred reanalysis.
type Scheduler struct {
	MinDelay   time.Duration `mapstructure:"min_delay"`
	MaxDelay   time.Duration `mapstructure:"max_delay"`
	MaxRetries int           `mapstructure:"max_retries"`
	// PayloadGrace is added to the due time to get the payload key expiry.
	PayloadGrace time.Duration `mapstructure:"payload_grace"`
}

// Reconciliation holds the order reconciliation monitor configuration.
type Reconciliation struct {
	Enabled     bool          `mapstructure:"enabled"`
	Schedule    string        `mapstructure:"schedule"`
	Timeout     time.Duration `mapstructure:"timeout"`
	StopTimeout time.Duration `mapstructure:"stop_timeout"`
	Tolerance   float64       `mapstructure:"tolerance"`
	// TieBreak is the status used when the exit price is inside both bands.
	TieBreak string `mapstructure:"tie_break"`
}

// Risk holds global trading defaults. Runtime overrides stored in Redis
// are layered on top of these values.
type Risk struct {
	EmergencyStop          bool     `mapstructure:"emergency_stop"`
	SimulationMode         bool     `mapstructure:"simulation_mode"`
	Whitelist              []string `mapstructure:"whitelist"`
	Blacklist              []string `mapstructure:"blacklist"`
	MinConfidence          float64  `mapstructure:"min_confidence"`
	MaxVolatility          float64  `mapstructure:"max_volatility"`
	MaxConcurrentPositions int      `mapstructure:"max_concurrent_positions"`
	MaxPositionValue       float64  `mapstructure:"max_position_value"`
	DefaultQuantity        int      `mapstructure:"default_quantity"`
	TakeProfitPct          float64  `mapstructure:"take_profit_pct"`
	StopLossPct            float64  `mapstructure:"stop_loss_pct"`
}

// StrategyConfig describes a per-source policy. Nil pointer fields fall back
// to the global risk defaults.
type StrategyConfig struct {
	Name               string   `mapstructure:"name"`
	SourceIDs          []string `mapstructure:"source_ids"`
	NamePattern        string   `mapstructure:"name_pattern"`
	Enabled            bool     `mapstructure:"enabled"`
	UseReasoningEngine bool     `mapstructure:"use_reasoning_engine"`
	TickerAllowlist    []string `mapstructure:"ticker_allowlist"`
	TickerDenylist     []string `mapstructure:"ticker_denylist"`
	MinConfidence      *float64 `mapstructure:"min_confidence"`
	MaxPositionValue   *float64 `mapstructure:"max_position_value"`
	DefaultQuantity    *int     `mapstructure:"default_quantity"`
	TakeProfitPct      *float64 `mapstructure:"take_profit_pct"`
	StopLossPct        *float64 `mapstructure:"stop_loss_pct"`
}

// AI holds configuration for the reasoning engine provider.
type AI struct {
	Provider string        `mapstructure:"provider"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Gemini holds the configuration for the Gemini API.
type Gemini struct {
	APIKey              string `mapstructure:"api_key"`
	Model               string `mapstructure:"model"`
	MaxRequestPerMinute int    `mapstructure:"max_request_per_minute"`
}

// Claude holds the configuration for the Anthropic API.
type Claude struct {
	APIKey              string `mapstructure:"api_key"`
	Model               string `mapstructure:"model"`
	MaxTokens           int64  `mapstructure:"max_tokens"`
	MaxRequestPerMinute int    `mapstructure:"max_request_per_minute"`
}

// Broker holds the configuration for the IBKR Client Portal gateway.
type Broker struct {
	BaseURL             string        `mapstructure:"base_url"`
	AccountID           string        `mapstructure:"account_id"`
	Timeout             time.Duration `mapstructure:"timeout"`
	InsecureSkipVerify  bool          `mapstructure:"insecure_skip_verify"`
	MaxRequestPerSecond int           `mapstructure:"max_request_per_second"`
	OrderTIF            string        `mapstructure:"order_tif"`
	VolatilitySymbol    string        `mapstructure:"volatility_symbol"`
}

// News holds the headline feed configuration.
type News struct {
	Enabled bool `mapstructure:"enabled"`
	// FeedURL is a format string receiving the ticker.
	FeedURL  string `mapstructure:"feed_url"`
	MaxItems int    `mapstructure:"max_items"`
}

// Telegram holds configuration for the Telegram notifier.
type Telegram struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   int64  `mapstructure:"chat_id"`
}

// Config holds the full configuration for the trader service.
type Config struct {
	App            config.App       `mapstructure:"app"`
	Logger         config.Logger    `mapstructure:"logger"`
	Database       config.Database  `mapstructure:"database"`
	Redis          config.Redis     `mapstructure:"redis"`
	API            config.API       `mapstructure:"api"`
	Trader         Trader           `mapstructure:"trader"`
	Scheduler      Scheduler        `mapstructure:"scheduler"`
	Reconciliation Reconciliation   `mapstructure:"reconciliation"`
	Risk           Risk             `mapstructure:"risk"`
	Strategies     []StrategyConfig `mapstructure:"strategies"`
	AI             AI               `mapstructure:"ai"`
	Gemini         Gemini           `mapstructure:"gemini"`
	Claude         Claude           `mapstructure:"claude"`
	Broker         Broker           `mapstructure:"broker"`
	News           News             `mapstructure:"news"`
	Telegram       Telegram         `mapstructure:"telegram"`
}

// Load loads the trader configuration from the given path.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := config.Load(path, &cfg); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	return &cfg, nil
}

// SetDefaults fills zero values with the service defaults.
func (c *Config) SetDefaults() {
	t := &c.Trader
	if t.PopTimeout <= 0 {
		t.PopTimeout = 2 * time.Second
	}
	if t.TaskTimeout <= 0 {
		t.TaskTimeout = 3 * time.Minute
	}
	if t.ProcessingTTL <= 0 {
		t.ProcessingTTL = 10 * time.Minute
	}
	if t.ScheduledPollInterval <= 0 {
		t.ScheduledPollInterval = 30 * time.Second
	}
	if t.PrefetchConcurrency <= 0 {
		t.PrefetchConcurrency = 4
	}
	if t.PrefetchTimeout <= 0 {
		t.PrefetchTimeout = 20 * time.Second
	}
	if t.DecisionMode == "" {
		t.DecisionMode = common.DecisionModeBounded
	}
	if t.MaxExploratoryRounds <= 0 {
		t.MaxExploratoryRounds = 10
	}
	if t.MaxCorrectionTurns <= 0 {
		t.MaxCorrectionTurns = 2
	}
	if t.ContentThreshold <= 0 {
		t.ContentThreshold = 50
	}
	if t.RuntimeCacheTTL <= 0 {
		t.RuntimeCacheTTL = 5 * time.Second
	}

	s := &c.Scheduler
	if s.MinDelay <= 0 {
		s.MinDelay = 5 * time.Minute
	}
	if s.MaxDelay <= 0 {
		s.MaxDelay = 240 * time.Minute
	}
	if s.MaxRetries <= 0 {
		s.MaxRetries = 2
	}
	if s.PayloadGrace <= 0 {
		s.PayloadGrace = 24 * time.Hour
	}

	r := &c.Reconciliation
	if r.Schedule == "" {
		r.Schedule = "@every 30s"
	}
	if r.Timeout <= 0 {
		r.Timeout = 25 * time.Second
	}
	if r.StopTimeout <= 0 {
		r.StopTimeout = 10 * time.Second
	}
	if r.Tolerance <= 0 {
		r.Tolerance = 0.02
	}
	if r.TieBreak == "" {
		r.TieBreak = "closed_other"
	}

	if c.Risk.DefaultQuantity <= 0 {
		c.Risk.DefaultQuantity = 1
	}
	if c.AI.Provider == "" {
		c.AI.Provider = common.AIProviderGemini
	}
	if c.AI.Timeout <= 0 {
		c.AI.Timeout = 90 * time.Second
	}
	if c.Claude.MaxTokens <= 0 {
		c.Claude.MaxTokens = 2048
	}
	if c.Broker.Timeout <= 0 {
		c.Broker.Timeout = 15 * time.Second
	}
	if c.Broker.MaxRequestPerSecond <= 0 {
		c.Broker.MaxRequestPerSecond = 5
	}
	if c.Broker.OrderTIF == "" {
		c.Broker.OrderTIF = "DAY"
	}
	if c.Broker.VolatilitySymbol == "" {
		c.Broker.VolatilitySymbol = "^VIX"
	}
	if c.News.MaxItems <= 0 {
		c.News.MaxItems = 5
	}
	if c.News.FeedURL == "" {
		c.News.FeedURL = "https://news.google.com/rss/search?q=%s+stock&hl=en-US&gl=US&ceid=US:en"
	}
}

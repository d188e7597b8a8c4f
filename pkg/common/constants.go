package common

// Redis keys shared by the trader service and its producers.
const (
	RedisKeySignalQueue      = "qs:queue:signals"
	RedisKeyProcessingPrefix = "qs:processing:"
	RedisKeyCompleted        = "qs:completed"
	RedisKeyFailed           = "qs:failed"

	RedisKeyScheduledIndex  = "qs:scheduled:due"
	RedisKeyScheduledPrefix = "qs:scheduled:payload:"

	RedisKeyRuntimeConfig = "qs:config:runtime"
)

// Decision categories recorded with skip outcomes.
const (
	CategoryPrecondition   = "precondition"
	CategoryStrategyError  = "strategy_error"
	CategoryEngineDisabled = "engine_disabled"
	CategoryEngineError    = "engine_error"
	CategoryNoDecision     = "no_decision"
	CategoryNoStrategy     = "no_strategy"
	CategoryEngineSkip     = "engine_skip"
	CategoryValidation     = "validation"
	CategoryScheduleError  = "schedule_error"
)

const (
	DecisionModeBounded     = "bounded"
	DecisionModeExploratory = "exploratory"
)

const (
	AIProviderGemini = "gemini"
	AIProviderClaude = "claude"
)

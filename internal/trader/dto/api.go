package dto

// ErrorResponse represents a generic error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// EnqueueRequest is the body of a manual enqueue.
type EnqueueRequest struct {
	SignalID   string `json:"signal_id" validate:"required"`
	SignalName string `json:"signal_name"`
}

// ToggleRequest flips a runtime switch.
type ToggleRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

// RuntimeResponse reports the runtime switches after an update.
type RuntimeResponse struct {
	EmergencyStop  bool   `json:"emergency_stop"`
	SimulationMode bool   `json:"simulation_mode"`
	DecisionMode   string `json:"decision_mode"`
}

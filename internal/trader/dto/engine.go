package dto

import (
	"encoding/json"
	"fmt"
	"strconv"
)

type ToolParamType string

const (
	ToolParamString  ToolParamType = "string"
	ToolParamNumber  ToolParamType = "number"
	ToolParamInteger ToolParamType = "integer"
	ToolParamBoolean ToolParamType = "boolean"
	ToolParamNumbers ToolParamType = "number_array"
)

type ToolParam struct {
	Name        string
	Type        ToolParamType
	Description string
	Required    bool
	Enum        []string
}

// ToolDefinition describes a function offered to the reasoning engine.
type ToolDefinition struct {
	Name        string
	Description string
	Params      []ToolParam
}

type ToolCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

type ToolResult struct {
	CallID  string `json:"call_id,omitempty"`
	Name    string `json:"name"`
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

// EngineTurn is one completed exchange: what the engine said or called, and
// what was sent back to it.
type EngineTurn struct {
	Text     string
	Calls    []ToolCall
	Results  []ToolResult
	FollowUp string
}

type EngineRequest struct {
	Instructions    string
	Context         string
	Tools           []ToolDefinition
	History         []EngineTurn
	RequireToolCall bool
}

type EngineResponse struct {
	Calls []ToolCall
	Text  string
}

// DecodeArgs copies the call arguments into out through a JSON round trip.
func (c ToolCall) DecodeArgs(out any) error {
	raw, err := json.Marshal(c.Args)
	if err != nil {
		return fmt.Errorf("failed to marshal %s arguments: %w", c.Name, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode %s arguments: %w", c.Name, err)
	}
	return nil
}

func (c ToolCall) String(key string) string {
	switch v := c.Args[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func (c ToolCall) Float(key string) (float64, bool) {
	switch v := c.Args[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func (c ToolCall) Floats(key string) []float64 {
	items, ok := c.Args[key].([]any)
	if !ok {
		if fs, ok := c.Args[key].([]float64); ok {
			return fs
		}
		return nil
	}
	out := make([]float64, 0, len(items))
	for _, item := range items {
		wrapped := ToolCall{Args: map[string]any{"v": item}}
		if f, ok := wrapped.Float("v"); ok {
			out = append(out, f)
		}
	}
	return out
}

package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"golang.org/x/time/rate"

	"github.com/sylver911/qs-trader-logic-sub000/internal/trader/config"
	"github.com/sylver911/qs-trader-logic-sub000/internal/trader/dto"
	"github.com/sylver911/qs-trader-logic-sub000/pkg/common"
	"github.com/sylver911/qs-trader-logic-sub000/pkg/logger"
	"github.com/sylver911/qs-trader-logic-sub000/pkg/metrics"
)

// claudeEngineRepository talks to the Anthropic Messages API using tool use.
type claudeEngineRepository struct {
	cfg            *config.Config
	logger         *logger.Logger
	client         anthropic.Client
	requestLimiter *rate.Limiter
}

// NewClaudeEngineRepository creates a reasoning engine backed by Claude.
func NewClaudeEngineRepository(cfg *config.Config, log *logger.Logger, client anthropic.Client) ReasoningEngineRepository {
	return &claudeEngineRepository{
		cfg:            cfg,
		logger:         log,
		client:         client,
		requestLimiter: newRequestLimiter(cfg.Claude.MaxRequestPerMinute),
	}
}

func (r *claudeEngineRepository) Provider() string {
	return common.AIProviderClaude
}

func (r *claudeEngineRepository) Decide(ctx context.Context, req dto.EngineRequest) (*dto.EngineResponse, error) {
	if err := r.requestLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: failed to wait for request limit: %v", dto.ErrEngine, err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(r.cfg.Claude.Model),
		MaxTokens: r.cfg.Claude.MaxTokens,
		System:    []anthropic.TextBlockParam{{Text: req.Instructions}},
		Messages:  claudeMessages(req),
	}
	if len(req.Tools) > 0 {
		params.Tools = claudeTools(req.Tools)
		if req.RequireToolCall {
			params.ToolChoice = anthropic.ToolChoiceUnionParam{OfAny: &anthropic.ToolChoiceAnyParam{}}
		}
	}

	started := time.Now()
	message, err := r.client.Messages.New(ctx, params)
	metrics.EngineLatency.WithLabelValues(r.Provider()).Observe(time.Since(started).Seconds())
	if err != nil {
		r.logger.Error("Claude request failed", logger.ErrorField(err))
		return nil, fmt.Errorf("%w: claude: %v", dto.ErrEngine, err)
	}

	out := &dto.EngineResponse{}
	var text strings.Builder
	for _, block := range message.Content {
		switch block.Type {
		case "tool_use":
			args := map[string]any{}
			if len(block.Input) > 0 {
				if err := json.Unmarshal(block.Input, &args); err != nil {
					return nil, fmt.Errorf("%w: invalid tool input for %s: %v", dto.ErrEngine, block.Name, err)
				}
			}
			out.Calls = append(out.Calls, dto.ToolCall{ID: block.ID, Name: block.Name, Args: args})
		case "text":
			text.WriteString(block.Text)
		}
	}
	out.Text = text.String()

	r.logger.Debug("Claude response",
		logger.IntField("calls", len(out.Calls)),
		logger.StringField("stop_reason", string(message.StopReason)))
	return out, nil
}

func claudeMessages(req dto.EngineRequest) []anthropic.MessageParam {
	messages := []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(req.Context))}

	for i, turn := range req.History {
		var assistant []anthropic.ContentBlockParamUnion
		if turn.Text != "" {
			assistant = append(assistant, anthropic.NewTextBlock(turn.Text))
		}
		for j, call := range turn.Calls {
			assistant = append(assistant, anthropic.NewToolUseBlock(claudeCallID(call.ID, i, j), call.Args, call.Name))
		}
		if len(assistant) > 0 {
			messages = append(messages, anthropic.NewAssistantMessage(assistant...))
		}

		var user []anthropic.ContentBlockParamUnion
		for j, result := range turn.Results {
			user = append(user, anthropic.NewToolResultBlock(claudeCallID(result.CallID, i, j), result.Content, result.IsError))
		}
		if turn.FollowUp != "" {
			user = append(user, anthropic.NewTextBlock(turn.FollowUp))
		}
		if len(user) > 0 {
			messages = append(messages, anthropic.NewUserMessage(user...))
		}
	}
	return messages
}

// claudeCallID fills in ids for calls that came from a free-text decision.
func claudeCallID(id string, turn, index int) string {
	if id != "" {
		return id
	}
	return fmt.Sprintf("toolu_local_%d_%d", turn, index)
}

func claudeTools(tools []dto.ToolDefinition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		properties := map[string]any{}
		var required []string
		for _, p := range tool.Params {
			properties[p.Name] = claudeParamSchema(p)
			if p.Required {
				required = append(required, p.Name)
			}
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &anthropic.ToolParam{
			Name:        tool.Name,
			Description: anthropic.String(tool.Description),
			InputSchema: anthropic.ToolInputSchemaParam{Properties: properties, Required: required},
		}})
	}
	return out
}

func claudeParamSchema(p dto.ToolParam) map[string]any {
	schema := map[string]any{"description": p.Description}
	switch p.Type {
	case dto.ToolParamNumbers:
		schema["type"] = "array"
		schema["items"] = map[string]any{"type": "number"}
	case dto.ToolParamNumber, dto.ToolParamInteger, dto.ToolParamBoolean:
		schema["type"] = string(p.Type)
	default:
		schema["type"] = "string"
	}
	if len(p.Enum) > 0 {
		schema["enum"] = p.Enum
	}
	return schema
}

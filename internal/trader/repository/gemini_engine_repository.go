package repository

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/sylver911/qs-trader-logic-sub000/internal/trader/config"
	"github.com/sylver911/qs-trader-logic-sub000/internal/trader/dto"
	"github.com/sylver911/qs-trader-logic-sub000/pkg/common"
	"github.com/sylver911/qs-trader-logic-sub000/pkg/logger"
	"github.com/sylver911/qs-trader-logic-sub000/pkg/metrics"
)

// geminiEngineRepository talks to Gemini through function calling.
type geminiEngineRepository struct {
	cfg            *config.Config
	logger         *logger.Logger
	genAiClient    *genai.Client
	requestLimiter *rate.Limiter
}

// NewGeminiEngineRepository creates a reasoning engine backed by Gemini.
func NewGeminiEngineRepository(cfg *config.Config, log *logger.Logger, genAiClient *genai.Client) ReasoningEngineRepository {
	return &geminiEngineRepository{
		cfg:            cfg,
		logger:         log,
		genAiClient:    genAiClient,
		requestLimiter: newRequestLimiter(cfg.Gemini.MaxRequestPerMinute),
	}
}

func (r *geminiEngineRepository) Provider() string {
	return common.AIProviderGemini
}

func (r *geminiEngineRepository) Decide(ctx context.Context, req dto.EngineRequest) (*dto.EngineResponse, error) {
	if err := r.requestLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: failed to wait for request limit: %v", dto.ErrEngine, err)
	}

	genCfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(req.Instructions, genai.RoleUser),
	}
	if len(req.Tools) > 0 {
		genCfg.Tools = []*genai.Tool{{FunctionDeclarations: geminiDeclarations(req.Tools)}}
		if req.RequireToolCall {
			genCfg.ToolConfig = &genai.ToolConfig{
				FunctionCallingConfig: &genai.FunctionCallingConfig{Mode: genai.FunctionCallingConfigModeAny},
			}
		}
	}

	started := time.Now()
	resp, err := r.genAiClient.Models.GenerateContent(ctx, r.cfg.Gemini.Model, geminiContents(req), genCfg)
	metrics.EngineLatency.WithLabelValues(r.Provider()).Observe(time.Since(started).Seconds())
	if err != nil {
		r.logger.Error("Gemini request failed", logger.ErrorField(err))
		return nil, fmt.Errorf("%w: gemini: %v", dto.ErrEngine, err)
	}

	out := &dto.EngineResponse{}
	for _, fc := range resp.FunctionCalls() {
		out.Calls = append(out.Calls, dto.ToolCall{ID: fc.ID, Name: fc.Name, Args: fc.Args})
	}
	if len(out.Calls) == 0 {
		out.Text = resp.Text()
	}

	r.logger.Debug("Gemini response",
		logger.IntField("calls", len(out.Calls)),
		logger.IntField("text_len", len(out.Text)))
	return out, nil
}

func geminiContents(req dto.EngineRequest) []*genai.Content {
	contents := []*genai.Content{genai.NewContentFromText(req.Context, genai.RoleUser)}

	for _, turn := range req.History {
		var modelParts []*genai.Part
		if turn.Text != "" {
			modelParts = append(modelParts, genai.NewPartFromText(turn.Text))
		}
		for _, call := range turn.Calls {
			modelParts = append(modelParts, &genai.Part{FunctionCall: &genai.FunctionCall{ID: call.ID, Name: call.Name, Args: call.Args}})
		}
		if len(modelParts) > 0 {
			contents = append(contents, genai.NewContentFromParts(modelParts, genai.RoleModel))
		}

		var userParts []*genai.Part
		for _, result := range turn.Results {
			key := "output"
			if result.IsError {
				key = "error"
			}
			part := genai.NewPartFromFunctionResponse(result.Name, map[string]any{key: result.Content})
			part.FunctionResponse.ID = result.CallID
			userParts = append(userParts, part)
		}
		if turn.FollowUp != "" {
			userParts = append(userParts, genai.NewPartFromText(turn.FollowUp))
		}
		if len(userParts) > 0 {
			contents = append(contents, genai.NewContentFromParts(userParts, genai.RoleUser))
		}
	}
	return contents
}

func geminiDeclarations(tools []dto.ToolDefinition) []*genai.FunctionDeclaration {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, tool := range tools {
		schema := &genai.Schema{Type: genai.TypeObject, Properties: map[string]*genai.Schema{}}
		for _, p := range tool.Params {
			schema.Properties[p.Name] = geminiParamSchema(p)
			if p.Required {
				schema.Required = append(schema.Required, p.Name)
			}
		}
		decl := &genai.FunctionDeclaration{Name: tool.Name, Description: tool.Description}
		if len(tool.Params) > 0 {
			decl.Parameters = schema
		}
		decls = append(decls, decl)
	}
	return decls
}

func geminiParamSchema(p dto.ToolParam) *genai.Schema {
	s := &genai.Schema{Description: p.Description, Enum: p.Enum}
	switch p.Type {
	case dto.ToolParamNumber:
		s.Type = genai.TypeNumber
	case dto.ToolParamInteger:
		s.Type = genai.TypeInteger
	case dto.ToolParamBoolean:
		s.Type = genai.TypeBoolean
	case dto.ToolParamNumbers:
		s.Type = genai.TypeArray
		s.Items = &genai.Schema{Type: genai.TypeNumber}
	default:
		s.Type = genai.TypeString
	}
	return s
}

func newRequestLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
}

package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"golang.org/x/time/rate"

	"github.com/branchline/internal/retry"
	"github.com/branchline/pkg/models"
)

const DefaultMaxSteps = 8

// ErrTooManySteps is returned when the model keeps calling tools past MaxSteps
var ErrTooManySteps = errors.New("agent: step limit reached")

// LLMOptions tunes an LLMAgent
type LLMOptions struct {
	SystemPrompt string
	Temperature  float64
	MaxTokens    int
	// MaxSteps bounds model round trips per run; each tool round is one step.
	MaxSteps int
	// RequestsPerMinute throttles model calls across all runs; 0 disables.
	RequestsPerMinute int
	Retry             retry.Config
}

// LLMAgent drives a langchaingo model with tool calling
type LLMAgent struct {
	model   llms.Model
	tools   []llms.Tool
	opts    LLMOptions
	limiter *rate.Limiter
}

func NewLLMAgent(model llms.Model, specs []ToolSpec, opts LLMOptions) *LLMAgent {
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = DefaultMaxSteps
	}
	a := &LLMAgent{model: model, opts: opts}
	for _, spec := range specs {
		params := spec.Parameters
		if params == nil {
			params = map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
		}
		a.tools = append(a.tools, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  params,
			},
		})
	}
	if opts.RequestsPerMinute > 0 {
		a.limiter = rate.NewLimiter(rate.Limit(float64(opts.RequestsPerMinute)/60.0), 1)
	}
	return a
}

func (a *LLMAgent) Run(ctx context.Context, history []*models.Message, sink Sink) error {
	conversation := make([]llms.MessageContent, 0, len(history)+1)
	if strings.TrimSpace(a.opts.SystemPrompt) != "" {
		conversation = append(conversation, llms.TextParts(llms.ChatMessageTypeSystem, a.opts.SystemPrompt))
	}
	for _, m := range history {
		conversation = append(conversation, llms.TextParts(chatRole(m.Role), m.Content))
	}

	for step := 0; step < a.opts.MaxSteps; step++ {
		choice, err := a.generate(ctx, conversation)
		if err != nil {
			return err
		}

		if len(choice.ToolCalls) == 0 {
			return sink.AssistantMessage(ctx, choice.Content, nil)
		}

		if strings.TrimSpace(choice.Content) != "" {
			payload, _ := json.Marshal(map[string]interface{}{"toolCalls": toolCallNames(choice.ToolCalls)})
			if err := sink.AssistantMessage(ctx, choice.Content, payload); err != nil {
				return err
			}
		}

		parts := make([]llms.ContentPart, 0, len(choice.ToolCalls)+1)
		if choice.Content != "" {
			parts = append(parts, llms.TextContent{Text: choice.Content})
		}
		for _, tc := range choice.ToolCalls {
			parts = append(parts, tc)
		}
		conversation = append(conversation, llms.MessageContent{Role: llms.ChatMessageTypeAI, Parts: parts})

		for _, tc := range choice.ToolCalls {
			if tc.FunctionCall == nil {
				continue
			}
			input, err := repairArguments(tc.FunctionCall.Arguments)
			if err != nil {
				log.Warn().Err(err).Str("tool", tc.FunctionCall.Name).Msg("Unparseable tool arguments, sending empty input")
				input = json.RawMessage(`{}`)
			}

			res, err := sink.InvokeTool(ctx, ToolCall{ID: tc.ID, Name: tc.FunctionCall.Name, Input: input})
			if err != nil {
				return err
			}
			conversation = append(conversation, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{llms.ToolCallResponse{
					ToolCallID: tc.ID,
					Name:       tc.FunctionCall.Name,
					Content:    res.Content(),
				}},
			})
		}
	}

	return ErrTooManySteps
}

func (a *LLMAgent) generate(ctx context.Context, conversation []llms.MessageContent) (*llms.ContentChoice, error) {
	callOptions := []llms.CallOption{llms.WithTemperature(a.opts.Temperature)}
	if a.opts.MaxTokens > 0 {
		callOptions = append(callOptions, llms.WithMaxTokens(a.opts.MaxTokens))
	}
	if len(a.tools) > 0 {
		callOptions = append(callOptions, llms.WithTools(a.tools))
	}

	var resp *llms.ContentResponse
	res := retry.Do(ctx, a.opts.Retry, "generate_content", func(ctx context.Context) error {
		if a.limiter != nil {
			if err := a.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		var err error
		resp, err = a.model.GenerateContent(ctx, conversation, callOptions...)
		return err
	})
	if err := res.Err(); err != nil {
		return nil, fmt.Errorf("generate content after %d attempt(s): %w", res.Attempts, err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, errors.New("model returned no choices")
	}
	return resp.Choices[0], nil
}

func chatRole(role models.Role) llms.ChatMessageType {
	switch role {
	case models.RoleAssistant:
		return llms.ChatMessageTypeAI
	case models.RoleSystem:
		return llms.ChatMessageTypeSystem
	default:
		return llms.ChatMessageTypeHuman
	}
}

func toolCallNames(calls []llms.ToolCall) []string {
	names := make([]string, 0, len(calls))
	for _, tc := range calls {
		if tc.FunctionCall != nil {
			names = append(names, tc.FunctionCall.Name)
		}
	}
	return names
}

// repairArguments turns model-produced tool arguments into valid JSON.
// Models regularly emit trailing commas, single quotes or truncated objects.
func repairArguments(raw string) (json.RawMessage, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return json.RawMessage(`{}`), nil
	}
	if json.Valid([]byte(raw)) {
		return json.RawMessage(raw), nil
	}
	repaired, err := jsonrepair.JSONRepair(raw)
	if err != nil {
		return nil, fmt.Errorf("repair tool arguments: %w", err)
	}
	if !json.Valid([]byte(repaired)) {
		return nil, errors.New("repaired tool arguments are still invalid")
	}
	return json.RawMessage(repaired), nil
}

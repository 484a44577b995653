// Package openai implements providers.Provider against OpenAI's chat
// completions streaming API, grounded on internal/agent/providers/
// openai.go's per-index tool-call accumulation map and finish-reason
// handling, generalized to emit the well-nested StreamEvent sum type and
// the direct-provider token accounting branch from internal/tokens.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/tronrun/tron/internal/providers"
	"github.com/tronrun/tron/internal/runtimeerr"
	"github.com/tronrun/tron/internal/tokens"
	"github.com/tronrun/tron/pkg/models"
)

// Config configures the OpenAI provider.
type Config struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
}

// Provider implements providers.Provider for OpenAI's chat completions API.
type Provider struct {
	client       *openai.Client
	defaultModel string
}

// New constructs a Provider. APIKey is required.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gpt-4o"
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &Provider{client: openai.NewClientWithConfig(clientCfg), defaultModel: cfg.DefaultModel}, nil
}

func (p *Provider) Name() string              { return "openai" }
func (p *Provider) Kind() tokens.ProviderType { return tokens.ProviderDirect }

func (p *Provider) Models() []providers.Model {
	return []providers.Model{
		{ID: "gpt-4o", Name: "GPT-4o", ContextSize: 128000, SupportsVision: true},
		{ID: "gpt-4-turbo", Name: "GPT-4 Turbo", ContextSize: 128000, SupportsVision: true},
		{ID: "gpt-4o-mini", Name: "GPT-4o mini", ContextSize: 128000, SupportsVision: true},
	}
}

func (p *Provider) model(requested string) string {
	if requested != "" {
		return requested
	}
	return p.defaultModel
}

func (p *Provider) Stream(ctx context.Context, c providers.Context, opts providers.Options) (<-chan providers.StreamEvent, error) {
	req := openai.ChatCompletionRequest{
		Model:    p.model(c.Model),
		Messages: convertMessages(c.System, c.Messages),
		Stream:   true,
	}
	if c.MaxTokens > 0 {
		req.MaxTokens = c.MaxTokens
	}
	if len(c.Tools) > 0 {
		req.Tools = convertTools(c.Tools)
	}

	stream, err := p.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("openai: creating stream: %w", err)
	}

	out := make(chan providers.StreamEvent, 16)
	go processStream(ctx, stream, out, c.PreviousBaseline)
	return out, nil
}

type pendingToolCall struct {
	id       string
	name     string
	args     strings.Builder
	started  bool
}

func processStream(ctx context.Context, stream *openai.ChatCompletionStream, out chan<- providers.StreamEvent, previousBaseline int) {
	defer close(out)
	defer stream.Close()

	out <- providers.StreamEvent{Kind: providers.EventStart}

	toolCalls := map[int]*pendingToolCall{}
	order := []int{}
	textOpen := false
	var promptTokens, completionTokens int

	closeOpenBlocks := func() {
		if textOpen {
			out <- providers.StreamEvent{Kind: providers.EventTextEnd}
			textOpen = false
		}
		for _, idx := range order {
			tc := toolCalls[idx]
			if tc != nil && tc.started {
				out <- providers.StreamEvent{
					Kind:              providers.EventToolCallEnd,
					ToolCallID:        tc.id,
					ToolCallName:      tc.name,
					ToolCallArguments: tc.args.String(),
				}
				tc.started = false
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			out <- providers.StreamEvent{Kind: providers.EventError, Err: runtimeerr.NewProviderError(runtimeerr.ProviderOther, ctx.Err())}
			return
		default:
		}

		resp, err := stream.Recv()
		if err != nil {
			if err == io.EOF {
				closeOpenBlocks()
				out <- providers.StreamEvent{
					Kind:       providers.EventDone,
					StopReason: providers.StopEndTurn,
					Usage: tokens.Usage{
						Input:  promptTokens,
						Output: completionTokens,
					},
				}
				return
			}
			out <- providers.StreamEvent{Kind: providers.EventError, Err: wrapError(err)}
			return
		}

		if resp.Usage != nil {
			promptTokens = resp.Usage.PromptTokens
			completionTokens = resp.Usage.CompletionTokens
		}

		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]
		delta := choice.Delta

		if delta.Content != "" {
			if !textOpen {
				textOpen = true
				out <- providers.StreamEvent{Kind: providers.EventTextStart}
			}
			out <- providers.StreamEvent{Kind: providers.EventTextDelta, Delta: delta.Content}
		}

		for _, tc := range delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			pending, ok := toolCalls[idx]
			if !ok {
				pending = &pendingToolCall{}
				toolCalls[idx] = pending
				order = append(order, idx)
			}
			if tc.ID != "" {
				pending.id = tc.ID
			}
			if tc.Function.Name != "" {
				pending.name = tc.Function.Name
			}
			if !pending.started && pending.id != "" && pending.name != "" {
				pending.started = true
				out <- providers.StreamEvent{Kind: providers.EventToolCallStart, ToolCallID: pending.id, ToolCallName: pending.name}
			}
			if tc.Function.Arguments != "" {
				pending.args.WriteString(tc.Function.Arguments)
				if pending.started {
					out <- providers.StreamEvent{Kind: providers.EventToolCallArgumentsDelta, ToolCallID: pending.id, Delta: tc.Function.Arguments}
				}
			}
		}

		switch choice.FinishReason {
		case openai.FinishReasonToolCalls:
			closeOpenBlocks()
			out <- providers.StreamEvent{Kind: providers.EventDone, StopReason: providers.StopToolUse}
			return
		case openai.FinishReasonLength:
			closeOpenBlocks()
			out <- providers.StreamEvent{Kind: providers.EventDone, StopReason: providers.StopMaxTokens}
			return
		case openai.FinishReasonStop:
			closeOpenBlocks()
			out <- providers.StreamEvent{Kind: providers.EventDone, StopReason: providers.StopEndTurn}
			return
		}
	}
}

func wrapError(err error) *runtimeerr.ProviderError {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case 401, 403:
			return runtimeerr.NewProviderError(runtimeerr.ProviderAuth, err)
		case 429:
			return runtimeerr.NewProviderError(runtimeerr.ProviderRateLimited, err)
		case 400, 422:
			return runtimeerr.NewProviderError(runtimeerr.ProviderInvalidRequest, err)
		}
		if apiErr.HTTPStatusCode >= 500 {
			return runtimeerr.NewProviderError(runtimeerr.ProviderTransport, err)
		}
	}
	return runtimeerr.NewProviderError(runtimeerr.ProviderOther, err)
}

func convertMessages(system string, msgs []providers.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	for _, m := range msgs {
		switch m.Role {
		case models.SessionMessageUser:
			var text strings.Builder
			for _, b := range m.UserBlocks {
				if b.Kind == models.UserBlockText {
					text.WriteString(b.Text)
				}
			}
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: text.String()})
		case models.SessionMessageAssistant:
			msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant}
			var text strings.Builder
			for _, b := range m.AssistantBlocks {
				switch b.Kind {
				case models.AssistantBlockText:
					text.WriteString(b.Text)
				case models.AssistantBlockToolCall:
					msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
						ID:   b.ToolCallID,
						Type: openai.ToolTypeFunction,
						Function: openai.FunctionCall{
							Name:      b.ToolCallName,
							Arguments: string(b.ToolCallArgs),
						},
					})
				}
			}
			msg.Content = text.String()
			out = append(out, msg)
		case models.SessionMessageToolResult:
			for _, b := range m.ToolResultBlocks {
				if b.Kind == models.ToolResultBlockText {
					out = append(out, openai.ChatCompletionMessage{
						Role:       openai.ChatMessageRoleTool,
						Content:    b.Text,
						ToolCallID: m.ToolResultCallID,
					})
				}
			}
		}
	}
	return out
}

func convertTools(defs []providers.ToolDefinition) []openai.Tool {
	out := make([]openai.Tool, 0, len(defs))
	for _, d := range defs {
		var schema map[string]any
		if err := json.Unmarshal(d.Parameters, &schema); err != nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  schema,
			},
		})
	}
	return out
}

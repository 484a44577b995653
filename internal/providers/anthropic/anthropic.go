// Package anthropic implements providers.Provider against Anthropic's
// Messages API, grounded on internal/agent/providers/anthropic.go's SSE
// event-switch structure (message_start/content_block_start/
// content_block_delta/content_block_stop/message_delta/message_stop),
// generalized to emit the well-nested StreamEvent sum type instead of a
// flat CompletionChunk, and to report the three cache-aware usage buckets
// (input, cache_read, cache_creation) per internal/tokens.Normalize's
// AnthropicFamily branch.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/tronrun/tron/internal/providers"
	"github.com/tronrun/tron/internal/runtimeerr"
	"github.com/tronrun/tron/internal/tokens"
	"github.com/tronrun/tron/pkg/models"
)

// maxEmptyStreamEvents bounds how many consecutive no-op SSE events are
// tolerated before the stream is declared malformed.
const maxEmptyStreamEvents = 50

// Config configures the Anthropic provider.
type Config struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
}

// Provider implements providers.Provider for Anthropic's Messages API.
type Provider struct {
	client       anthropic.Client
	defaultModel string
}

// New constructs a Provider. APIKey is required.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-20250514"
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Provider{client: anthropic.NewClient(opts...), defaultModel: cfg.DefaultModel}, nil
}

func (p *Provider) Name() string              { return "anthropic" }
func (p *Provider) Kind() tokens.ProviderType { return tokens.ProviderAnthropicFamily }

func (p *Provider) Models() []providers.Model {
	return []providers.Model{
		{ID: "claude-sonnet-4-20250514", Name: "Claude Sonnet 4", ContextSize: 200000, SupportsVision: true},
		{ID: "claude-opus-4-20250514", Name: "Claude Opus 4", ContextSize: 200000, SupportsVision: true},
		{ID: "claude-3-5-sonnet-20241022", Name: "Claude 3.5 Sonnet", ContextSize: 200000, SupportsVision: true},
	}
}

func (p *Provider) model(requested string) string {
	if requested != "" {
		return requested
	}
	return p.defaultModel
}

func (p *Provider) Stream(ctx context.Context, c providers.Context, opts providers.Options) (<-chan providers.StreamEvent, error) {
	params, err := buildParams(p.model(c.Model), c, opts)
	if err != nil {
		return nil, err
	}

	stream := p.client.Messages.NewStreaming(ctx, params)
	out := make(chan providers.StreamEvent, 16)
	go processStream(stream, out)
	return out, nil
}

func processStream(stream streamIterator, out chan<- providers.StreamEvent) {
	defer close(out)

	out <- providers.StreamEvent{Kind: providers.EventStart}

	var (
		inTextBlock     bool
		inThinkingBlock bool
		currentToolID   string
		currentToolName string
		toolArgs        strings.Builder
		usage           tokens.Usage
		emptyEvents     int
		textBuilder     strings.Builder
	)

	for stream.Next() {
		event := stream.Current()
		processed := true

		switch event.Type {
		case "message_start":
			u := event.AsMessageStart().Message.Usage
			usage.Input = int(u.InputTokens)
			usage.CacheRead = int(u.CacheReadInputTokens)
			usage.CacheCreation = int(u.CacheCreationInputTokens)

		case "content_block_start":
			contentBlock := event.AsContentBlockStart().ContentBlock
			switch contentBlock.Type {
			case "text":
				inTextBlock = true
				textBuilder.Reset()
				out <- providers.StreamEvent{Kind: providers.EventTextStart}
			case "thinking":
				inThinkingBlock = true
			case "tool_use":
				toolUse := contentBlock.AsToolUse()
				currentToolID = toolUse.ID
				currentToolName = toolUse.Name
				toolArgs.Reset()
				out <- providers.StreamEvent{Kind: providers.EventToolCallStart, ToolCallID: currentToolID, ToolCallName: currentToolName}
			default:
				processed = false
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					textBuilder.WriteString(delta.Text)
					out <- providers.StreamEvent{Kind: providers.EventTextDelta, Delta: delta.Text}
				}
			case "thinking_delta":
				if delta.Thinking != "" {
					out <- providers.StreamEvent{Kind: providers.EventThinkingDelta, Delta: delta.Thinking}
				}
			case "input_json_delta":
				if delta.PartialJSON != "" {
					toolArgs.WriteString(delta.PartialJSON)
					out <- providers.StreamEvent{Kind: providers.EventToolCallArgumentsDelta, ToolCallID: currentToolID, Delta: delta.PartialJSON}
				}
			default:
				processed = false
			}

		case "content_block_stop":
			switch {
			case inTextBlock:
				inTextBlock = false
				out <- providers.StreamEvent{Kind: providers.EventTextEnd, Text: textBuilder.String()}
			case inThinkingBlock:
				inThinkingBlock = false
			case currentToolID != "":
				out <- providers.StreamEvent{
					Kind:              providers.EventToolCallEnd,
					ToolCallID:        currentToolID,
					ToolCallName:      currentToolName,
					ToolCallArguments: toolArgs.String(),
				}
				currentToolID = ""
				currentToolName = ""
			default:
				processed = false
			}

		case "message_delta":
			usage.Output = int(event.AsMessageDelta().Usage.OutputTokens)

		case "message_stop":
			out <- providers.StreamEvent{
				Kind:       providers.EventDone,
				StopReason: providers.StopEndTurn,
				Usage:      usage,
				Message: models.SessionMessage{
					Role: models.SessionMessageAssistant,
					AssistantBlocks: []models.AssistantBlock{
						{Kind: models.AssistantBlockText, Text: textBuilder.String()},
					},
				},
			}
			return

		case "error":
			out <- providers.StreamEvent{
				Kind: providers.EventError,
				Err:  runtimeerr.NewProviderError(runtimeerr.ProviderOther, errors.New("anthropic stream error")),
			}
			return

		default:
			processed = false
		}

		if processed {
			emptyEvents = 0
		} else {
			emptyEvents++
			if emptyEvents >= maxEmptyStreamEvents {
				out <- providers.StreamEvent{
					Kind: providers.EventError,
					Err:  runtimeerr.NewProviderError(runtimeerr.ProviderOther, fmt.Errorf("stream appears malformed: %d consecutive empty events", emptyEvents)),
				}
				return
			}
		}
	}

	if err := stream.Err(); err != nil {
		out <- providers.StreamEvent{Kind: providers.EventError, Err: wrapError(err)}
	}
}

func wrapError(err error) *runtimeerr.ProviderError {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 401, 403:
			return runtimeerr.NewProviderError(runtimeerr.ProviderAuth, err)
		case 429:
			return runtimeerr.NewProviderError(runtimeerr.ProviderRateLimited, err)
		case 400, 422:
			return runtimeerr.NewProviderError(runtimeerr.ProviderInvalidRequest, err)
		}
		if apiErr.StatusCode >= 500 {
			return runtimeerr.NewProviderError(runtimeerr.ProviderTransport, err)
		}
	}
	return runtimeerr.NewProviderError(runtimeerr.ProviderOther, err)
}

func buildParams(model string, c providers.Context, opts providers.Options) (anthropic.MessageNewParams, error) {
	maxTokens := int64(c.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	msgs, err := convertMessages(c.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, fmt.Errorf("anthropic: converting messages: %w", err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages:  msgs,
	}
	if c.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: c.System}}
	}
	if len(c.Tools) > 0 {
		params.Tools = convertTools(c.Tools)
	}
	if opts.EnableThinking {
		budget := int64(opts.ThinkingBudgetTokens)
		if budget <= 0 {
			budget = 4096
		}
		params.Thinking = anthropic.ThinkingConfigParamUnion{
			OfEnabled: &anthropic.ThinkingConfigEnabledParam{BudgetTokens: budget},
		}
	}
	return params, nil
}

func convertMessages(msgs []providers.Message) ([]anthropic.MessageParam, error) {
	out := make([]anthropic.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case models.SessionMessageUser:
			var blocks []anthropic.ContentBlockParamUnion
			for _, b := range m.UserBlocks {
				if b.Kind == models.UserBlockText {
					blocks = append(blocks, anthropic.NewTextBlock(b.Text))
				}
			}
			out = append(out, anthropic.NewUserMessage(blocks...))
		case models.SessionMessageAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			for _, b := range m.AssistantBlocks {
				switch b.Kind {
				case models.AssistantBlockText:
					blocks = append(blocks, anthropic.NewTextBlock(b.Text))
				case models.AssistantBlockToolCall:
					var args map[string]any
					if len(b.ToolCallArgs) > 0 {
						if err := json.Unmarshal(b.ToolCallArgs, &args); err != nil {
							return nil, err
						}
					}
					blocks = append(blocks, anthropic.NewToolUseBlock(b.ToolCallID, args, b.ToolCallName))
				}
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		case models.SessionMessageToolResult:
			var blocks []anthropic.ContentBlockParamUnion
			for _, b := range m.ToolResultBlocks {
				if b.Kind == models.ToolResultBlockText {
					blocks = append(blocks, anthropic.NewToolResultBlock(m.ToolResultCallID, b.Text, false))
				}
			}
			out = append(out, anthropic.NewUserMessage(blocks...))
		}
	}
	return out, nil
}

func convertTools(defs []providers.ToolDefinition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, d := range defs {
		var schema anthropic.ToolInputSchemaParam
		_ = json.Unmarshal(d.Parameters, &schema)
		out = append(out, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        d.Name,
				Description: anthropic.String(d.Description),
				InputSchema: schema,
			},
		})
	}
	return out
}

// streamIterator is the minimal surface this package needs from
// ssestream.Stream[anthropic.MessageStreamEventUnion]; declared locally so
// processStream's signature documents exactly what it consumes.
type streamIterator interface {
	Next() bool
	Current() anthropic.MessageStreamEventUnion
	Err() error
}

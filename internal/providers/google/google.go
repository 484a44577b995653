// Package google implements providers.Provider against Gemini's generative
// API, grounded on internal/agent/providers/google.go's Go 1.23
// iter.Seq2[*genai.GenerateContentResponse, error] streaming loop and
// content/part conversion helpers, generalized to emit the well-nested
// StreamEvent sum type and the direct-provider token accounting branch.
package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"

	"google.golang.org/genai"

	"github.com/tronrun/tron/internal/ids"
	"github.com/tronrun/tron/internal/providers"
	"github.com/tronrun/tron/internal/runtimeerr"
	"github.com/tronrun/tron/internal/tokens"
	"github.com/tronrun/tron/pkg/models"
)

// Config configures the Google provider.
type Config struct {
	APIKey       string
	DefaultModel string
}

// Provider implements providers.Provider for Gemini's generateContent API.
type Provider struct {
	client       *genai.Client
	defaultModel string
}

// New constructs a Provider. APIKey is required.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("google: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gemini-2.0-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("google: failed to create client: %w", err)
	}
	return &Provider{client: client, defaultModel: cfg.DefaultModel}, nil
}

func (p *Provider) Name() string              { return "google" }
func (p *Provider) Kind() tokens.ProviderType { return tokens.ProviderDirect }

func (p *Provider) Models() []providers.Model {
	return []providers.Model{
		{ID: "gemini-2.0-flash", Name: "Gemini 2.0 Flash", ContextSize: 1000000, SupportsVision: true},
		{ID: "gemini-2.0-flash-lite", Name: "Gemini 2.0 Flash Lite", ContextSize: 1000000, SupportsVision: true},
		{ID: "gemini-1.5-pro", Name: "Gemini 1.5 Pro", ContextSize: 2000000, SupportsVision: true},
	}
}

func (p *Provider) model(requested string) string {
	if requested != "" {
		return requested
	}
	return p.defaultModel
}

func (p *Provider) Stream(ctx context.Context, c providers.Context, opts providers.Options) (<-chan providers.StreamEvent, error) {
	model := p.model(c.Model)
	contents, err := convertMessages(c.Messages)
	if err != nil {
		return nil, fmt.Errorf("google: converting messages: %w", err)
	}
	config := buildConfig(c)

	streamIter := p.client.Models.GenerateContentStream(ctx, model, contents, config)

	out := make(chan providers.StreamEvent, 16)
	go processStream(ctx, streamIter, out)
	return out, nil
}

func processStream(ctx context.Context, streamIter iter.Seq2[*genai.GenerateContentResponse, error], out chan<- providers.StreamEvent) {
	defer close(out)

	out <- providers.StreamEvent{Kind: providers.EventStart}

	textOpen := false
	var usage tokens.Usage
	var streamErr error

	closeText := func() {
		if textOpen {
			out <- providers.StreamEvent{Kind: providers.EventTextEnd}
			textOpen = false
		}
	}

	streamIter(func(resp *genai.GenerateContentResponse, err error) bool {
		select {
		case <-ctx.Done():
			streamErr = ctx.Err()
			return false
		default:
		}
		if err != nil {
			streamErr = err
			return false
		}
		if resp == nil {
			return true
		}
		if resp.UsageMetadata != nil {
			usage.Input = int(resp.UsageMetadata.PromptTokenCount)
			usage.Output = int(resp.UsageMetadata.CandidatesTokenCount)
		}
		for _, candidate := range resp.Candidates {
			if candidate == nil || candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if part == nil {
					continue
				}
				if part.Text != "" {
					if !textOpen {
						textOpen = true
						out <- providers.StreamEvent{Kind: providers.EventTextStart}
					}
					out <- providers.StreamEvent{Kind: providers.EventTextDelta, Delta: part.Text}
				}
				if part.FunctionCall != nil {
					closeText()
					argsJSON, jsonErr := json.Marshal(part.FunctionCall.Args)
					if jsonErr != nil {
						argsJSON = []byte("{}")
					}
					callID := ids.New()
					out <- providers.StreamEvent{Kind: providers.EventToolCallStart, ToolCallID: callID, ToolCallName: part.FunctionCall.Name}
					out <- providers.StreamEvent{Kind: providers.EventToolCallArgumentsDelta, ToolCallID: callID, Delta: string(argsJSON)}
					out <- providers.StreamEvent{
						Kind:              providers.EventToolCallEnd,
						ToolCallID:        callID,
						ToolCallName:      part.FunctionCall.Name,
						ToolCallArguments: string(argsJSON),
					}
				}
			}
		}
		return true
	})

	closeText()

	if streamErr != nil {
		out <- providers.StreamEvent{Kind: providers.EventError, Err: wrapError(streamErr)}
		return
	}

	out <- providers.StreamEvent{Kind: providers.EventDone, StopReason: providers.StopEndTurn, Usage: usage}
}

func wrapError(err error) *runtimeerr.ProviderError {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return runtimeerr.NewProviderError(runtimeerr.ProviderOther, err)
	}
	return runtimeerr.NewProviderError(runtimeerr.ProviderOther, err)
}

func convertMessages(msgs []providers.Message) ([]*genai.Content, error) {
	var result []*genai.Content
	for _, m := range msgs {
		content := &genai.Content{}
		switch m.Role {
		case models.SessionMessageUser:
			content.Role = genai.RoleUser
			for _, b := range m.UserBlocks {
				if b.Kind == models.UserBlockText {
					content.Parts = append(content.Parts, &genai.Part{Text: b.Text})
				}
			}
		case models.SessionMessageAssistant:
			content.Role = genai.RoleModel
			for _, b := range m.AssistantBlocks {
				switch b.Kind {
				case models.AssistantBlockText:
					content.Parts = append(content.Parts, &genai.Part{Text: b.Text})
				case models.AssistantBlockToolCall:
					var args map[string]any
					if len(b.ToolCallArgs) > 0 {
						if err := json.Unmarshal(b.ToolCallArgs, &args); err != nil {
							args = map[string]any{}
						}
					}
					content.Parts = append(content.Parts, &genai.Part{
						FunctionCall: &genai.FunctionCall{Name: b.ToolCallName, Args: args},
					})
				}
			}
		case models.SessionMessageToolResult:
			content.Role = genai.RoleUser
			for _, b := range m.ToolResultBlocks {
				if b.Kind != models.ToolResultBlockText {
					continue
				}
				var response map[string]any
				if err := json.Unmarshal([]byte(b.Text), &response); err != nil {
					response = map[string]any{"result": b.Text}
				}
				content.Parts = append(content.Parts, &genai.Part{
					FunctionResponse: &genai.FunctionResponse{Name: m.ToolResultCallID, Response: response},
				})
			}
		}
		if len(content.Parts) > 0 {
			result = append(result, content)
		}
	}
	return result, nil
}

func buildConfig(c providers.Context) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}
	if c.System != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: c.System}}}
	}
	if c.MaxTokens > 0 {
		config.MaxOutputTokens = int32(c.MaxTokens)
	}
	if len(c.Tools) > 0 {
		config.Tools = convertTools(c.Tools)
	}
	return config
}

func convertTools(defs []providers.ToolDefinition) []*genai.Tool {
	decls := make([]*genai.FunctionDeclaration, 0, len(defs))
	for _, d := range defs {
		var schema *genai.Schema
		_ = json.Unmarshal(d.Parameters, &schema)
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  schema,
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

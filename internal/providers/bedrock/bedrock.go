// Package bedrock implements providers.Provider against AWS Bedrock's
// Converse streaming API, grounded on internal/agent/providers/bedrock.go's
// ConverseStream event-switch and tool-call accumulation. Bedrock hosts
// Anthropic Claude models among others; per the cache-aware token-accounting
// branch this provider reports ProviderAnthropicFamily, since the models it
// targets here are Claude-on-Bedrock.
package bedrock

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/tronrun/tron/internal/providers"
	"github.com/tronrun/tron/internal/runtimeerr"
	"github.com/tronrun/tron/internal/tokens"
	"github.com/tronrun/tron/pkg/models"
)

// Config configures the Bedrock provider.
type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	DefaultModel    string
}

// Provider implements providers.Provider for AWS Bedrock's Converse API.
type Provider struct {
	client       *bedrockruntime.Client
	defaultModel string
}

// New constructs a Provider, loading AWS credentials from the supplied
// static values or, if absent, the default credential chain (env, IAM role).
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "anthropic.claude-3-5-sonnet-20241022-v2:0"
	}

	var awsCfg aws.Config
	var err error
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		awsCfg, err = config.LoadDefaultConfig(ctx,
			config.WithRegion(cfg.Region),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken,
			)),
		)
	} else {
		awsCfg, err = config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	}
	if err != nil {
		return nil, fmt.Errorf("bedrock: failed to load AWS config: %w", err)
	}

	return &Provider{client: bedrockruntime.NewFromConfig(awsCfg), defaultModel: cfg.DefaultModel}, nil
}

func (p *Provider) Name() string              { return "bedrock" }
func (p *Provider) Kind() tokens.ProviderType { return tokens.ProviderAnthropicFamily }

func (p *Provider) Models() []providers.Model {
	return []providers.Model{
		{ID: "anthropic.claude-3-5-sonnet-20241022-v2:0", Name: "Claude 3.5 Sonnet (Bedrock)", ContextSize: 200000, SupportsVision: true},
		{ID: "anthropic.claude-3-opus-20240229-v1:0", Name: "Claude 3 Opus (Bedrock)", ContextSize: 200000, SupportsVision: true},
		{ID: "anthropic.claude-3-haiku-20240307-v1:0", Name: "Claude 3 Haiku (Bedrock)", ContextSize: 200000, SupportsVision: true},
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

	messages, err := convertMessages(c.Messages)
	if err != nil {
		return nil, fmt.Errorf("bedrock: converting messages: %w", err)
	}

	req := &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(model),
		Messages: messages,
	}
	if c.System != "" {
		req.System = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: c.System}}
	}
	if c.MaxTokens > 0 {
		req.InferenceConfig = &types.InferenceConfiguration{MaxTokens: aws.Int32(int32(c.MaxTokens))}
	}
	if len(c.Tools) > 0 {
		req.ToolConfig = convertTools(c.Tools)
	}

	stream, err := p.client.ConverseStream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("bedrock: creating stream: %w", err)
	}

	out := make(chan providers.StreamEvent, 16)
	go processStream(ctx, stream, out)
	return out, nil
}

func processStream(ctx context.Context, stream *bedrockruntime.ConverseStreamOutput, out chan<- providers.StreamEvent) {
	defer close(out)

	eventStream := stream.GetStream()
	defer eventStream.Close()

	out <- providers.StreamEvent{Kind: providers.EventStart}

	var (
		textOpen        bool
		currentToolID   string
		currentToolName string
		toolInput       strings.Builder
		usage           tokens.Usage
	)

	eventChan := eventStream.Events()
	for {
		select {
		case <-ctx.Done():
			out <- providers.StreamEvent{Kind: providers.EventError, Err: runtimeerr.NewProviderError(runtimeerr.ProviderOther, ctx.Err())}
			return
		case event, ok := <-eventChan:
			if !ok {
				if err := eventStream.Err(); err != nil {
					out <- providers.StreamEvent{Kind: providers.EventError, Err: wrapError(err)}
					return
				}
				out <- providers.StreamEvent{Kind: providers.EventDone, StopReason: providers.StopEndTurn, Usage: usage}
				return
			}

			switch ev := event.(type) {
			case *types.ConverseStreamOutputMemberContentBlockStart:
				if toolUse, ok := ev.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
					currentToolID = aws.ToString(toolUse.Value.ToolUseId)
					currentToolName = aws.ToString(toolUse.Value.Name)
					toolInput.Reset()
					out <- providers.StreamEvent{Kind: providers.EventToolCallStart, ToolCallID: currentToolID, ToolCallName: currentToolName}
				}

			case *types.ConverseStreamOutputMemberContentBlockDelta:
				switch delta := ev.Value.Delta.(type) {
				case *types.ContentBlockDeltaMemberText:
					if delta.Value != "" {
						if !textOpen {
							textOpen = true
							out <- providers.StreamEvent{Kind: providers.EventTextStart}
						}
						out <- providers.StreamEvent{Kind: providers.EventTextDelta, Delta: delta.Value}
					}
				case *types.ContentBlockDeltaMemberToolUse:
					if delta.Value.Input != nil {
						toolInput.WriteString(*delta.Value.Input)
						out <- providers.StreamEvent{Kind: providers.EventToolCallArgumentsDelta, ToolCallID: currentToolID, Delta: *delta.Value.Input}
					}
				}

			case *types.ConverseStreamOutputMemberContentBlockStop:
				switch {
				case textOpen:
					textOpen = false
					out <- providers.StreamEvent{Kind: providers.EventTextEnd}
				case currentToolID != "":
					out <- providers.StreamEvent{
						Kind:              providers.EventToolCallEnd,
						ToolCallID:        currentToolID,
						ToolCallName:      currentToolName,
						ToolCallArguments: toolInput.String(),
					}
					currentToolID = ""
					currentToolName = ""
				}

			case *types.ConverseStreamOutputMemberMetadata:
				if ev.Value.Usage != nil {
					usage.Input = int(aws.ToInt32(ev.Value.Usage.InputTokens))
					usage.Output = int(aws.ToInt32(ev.Value.Usage.OutputTokens))
				}

			case *types.ConverseStreamOutputMemberMessageStop:
				if textOpen {
					textOpen = false
					out <- providers.StreamEvent{Kind: providers.EventTextEnd}
				}
				stopReason := providers.StopEndTurn
				if ev.Value.StopReason == types.StopReasonToolUse {
					stopReason = providers.StopToolUse
				} else if ev.Value.StopReason == types.StopReasonMaxTokens {
					stopReason = providers.StopMaxTokens
				}
				out <- providers.StreamEvent{Kind: providers.EventDone, StopReason: stopReason, Usage: usage}
				return
			}
		}
	}
}

func wrapError(err error) *runtimeerr.ProviderError {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "throttling") || strings.Contains(msg, "toomanyrequests"):
		return runtimeerr.NewProviderError(runtimeerr.ProviderRateLimited, err)
	case strings.Contains(msg, "unauthorized") || strings.Contains(msg, "accessdenied"):
		return runtimeerr.NewProviderError(runtimeerr.ProviderAuth, err)
	case strings.Contains(msg, "validationexception"):
		return runtimeerr.NewProviderError(runtimeerr.ProviderInvalidRequest, err)
	case strings.Contains(msg, "serviceunavailable") || strings.Contains(msg, "timeout"):
		return runtimeerr.NewProviderError(runtimeerr.ProviderTransport, err)
	}
	return runtimeerr.NewProviderError(runtimeerr.ProviderOther, err)
}

func convertMessages(msgs []providers.Message) ([]types.Message, error) {
	result := make([]types.Message, 0, len(msgs))
	for _, m := range msgs {
		var content []types.ContentBlock
		role := types.ConversationRoleUser

		switch m.Role {
		case models.SessionMessageUser:
			for _, b := range m.UserBlocks {
				if b.Kind == models.UserBlockText {
					content = append(content, &types.ContentBlockMemberText{Value: b.Text})
				}
			}
		case models.SessionMessageAssistant:
			role = types.ConversationRoleAssistant
			for _, b := range m.AssistantBlocks {
				switch b.Kind {
				case models.AssistantBlockText:
					content = append(content, &types.ContentBlockMemberText{Value: b.Text})
				case models.AssistantBlockToolCall:
					var input any
					if len(b.ToolCallArgs) > 0 {
						if err := json.Unmarshal(b.ToolCallArgs, &input); err != nil {
							input = map[string]any{}
						}
					}
					content = append(content, &types.ContentBlockMemberToolUse{
						Value: types.ToolUseBlock{
							ToolUseId: aws.String(b.ToolCallID),
							Name:      aws.String(b.ToolCallName),
							Input:     document.NewLazyDocument(input),
						},
					})
				}
			}
		case models.SessionMessageToolResult:
			for _, b := range m.ToolResultBlocks {
				if b.Kind == models.ToolResultBlockText {
					content = append(content, &types.ContentBlockMemberToolResult{
						Value: types.ToolResultBlock{
							ToolUseId: aws.String(m.ToolResultCallID),
							Content:   []types.ToolResultContentBlock{&types.ToolResultContentBlockMemberText{Value: b.Text}},
						},
					})
				}
			}
		}

		if len(content) > 0 {
			result = append(result, types.Message{Role: role, Content: content})
		}
	}
	return result, nil
}

func convertTools(defs []providers.ToolDefinition) *types.ToolConfiguration {
	tools := make([]types.Tool, 0, len(defs))
	for _, d := range defs {
		var schemaMap map[string]any
		if err := json.Unmarshal(d.Parameters, &schemaMap); err != nil {
			schemaMap = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		tools = append(tools, &types.ToolMemberToolSpec{
			Value: types.ToolSpecification{
				Name:        aws.String(d.Name),
				Description: aws.String(d.Description),
				InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schemaMap)},
			},
		})
	}
	return &types.ToolConfiguration{Tools: tools}
}

package anthropiclm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"deskpilot/pkg/llm"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Client adapts the Anthropic Messages API to llm.Client.
type Client struct {
	client  anthropic.Client
	model   string
	options map[string]any
	logger  *zap.Logger
}

func NewClient(apiKey, model, baseURL string, options map[string]any, logger *zap.Logger, extra ...option.RequestOption) *Client {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	opts = append(opts, extra...)

	return &Client{
		client:  anthropic.NewClient(opts...),
		model:   model,
		options: options,
		logger:  logger.Named("anthropic"),
	}
}

func (c *Client) Provider() string {
	return "anthropic"
}

func (c *Client) IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		// 529 is "overloaded".
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "overloaded") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "timeout")
}

func (c *Client) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	messages, err := convertMessages(req.Messages)
	if err != nil {
		return nil, err
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(req.MaxTokens),
		Messages:  messages,
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if t, ok := c.options["temperature"].(float64); ok {
		params.Temperature = anthropic.Float(t)
	}
	if len(req.Tools) > 0 {
		params.Tools = convertTools(req.Tools)
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic messages request failed: %w", err)
	}

	out := parseMessage(msg)
	llm.LogUsage(c.logger, c.model, out.Usage)
	return out, nil
}

func convertMessages(messages []llm.Message) ([]anthropic.MessageParam, error) {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		var blocks []anthropic.ContentBlockParamUnion

		for _, r := range m.ToolResults {
			blocks = append(blocks, toolResultBlock(r))
		}
		for _, b := range m.Content {
			switch b.Type {
			case llm.BlockTypeText:
				if b.Text != "" {
					blocks = append(blocks, anthropic.NewTextBlock(b.Text))
				}
			case llm.BlockTypeImage:
				if b.Source != nil {
					blocks = append(blocks, anthropic.NewImageBlockBase64(b.Source.MediaType, base64.StdEncoding.EncodeToString(b.Source.Data)))
				}
			}
		}
		for _, tc := range m.ToolCalls {
			var input any = map[string]any{}
			if strings.TrimSpace(tc.Arguments) != "" {
				if err := json.Unmarshal([]byte(tc.Arguments), &input); err != nil {
					return nil, fmt.Errorf("tool call %s has invalid arguments: %w", tc.ID, err)
				}
			}
			blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
		}

		if len(blocks) == 0 {
			continue
		}
		if m.Role == llm.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		} else {
			out = append(out, anthropic.NewUserMessage(blocks...))
		}
	}
	return out, nil
}

func toolResultBlock(r llm.ToolResult) anthropic.ContentBlockParamUnion {
	block := anthropic.ToolResultBlockParam{
		ToolUseID: r.ToolCallID,
		IsError:   anthropic.Bool(r.IsError),
	}
	for _, b := range r.Content {
		switch b.Type {
		case llm.BlockTypeText:
			block.Content = append(block.Content, anthropic.ToolResultBlockParamContentUnion{
				OfText: &anthropic.TextBlockParam{Text: b.Text},
			})
		case llm.BlockTypeImage:
			if b.Source == nil {
				continue
			}
			img := anthropic.NewImageBlockBase64(b.Source.MediaType, base64.StdEncoding.EncodeToString(b.Source.Data))
			block.Content = append(block.Content, anthropic.ToolResultBlockParamContentUnion{
				OfImage: img.OfImage,
			})
		}
	}
	return anthropic.ContentBlockParamUnion{OfToolResult: &block}
}

func convertTools(specs []llm.ToolSpec) []anthropic.ToolUnionParam {
	tools := make([]anthropic.ToolUnionParam, 0, len(specs))
	for _, s := range specs {
		schema := anthropic.ToolInputSchemaParam{Properties: s.Parameters["properties"]}
		if req, ok := s.Parameters["required"].([]string); ok {
			schema.Required = req
		} else if req, ok := s.Parameters["required"].([]any); ok {
			for _, r := range req {
				if name, ok := r.(string); ok {
					schema.Required = append(schema.Required, name)
				}
			}
		}
		tools = append(tools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        s.Name,
				Description: anthropic.String(s.Description),
				InputSchema: schema,
			},
		})
	}
	return tools
}

func parseMessage(msg *anthropic.Message) *llm.Response {
	out := &llm.Response{
		Model:      string(msg.Model),
		StopReason: normalizeStopReason(string(msg.StopReason)),
		Usage: &llm.Usage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
			TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			if b.Text != "" {
				out.Content = append(out.Content, llm.NewTextBlock(b.Text))
			}
		case anthropic.ToolUseBlock:
			args := string(b.Input)
			if strings.TrimSpace(args) == "" || args == "null" {
				args = "{}"
			}
			out.ToolCalls = append(out.ToolCalls, llm.ToolCall{ID: b.ID, Name: b.Name, Arguments: args})
		}
	}
	return out
}

func normalizeStopReason(reason string) string {
	switch reason {
	case "max_tokens":
		return llm.StopReasonLength
	case "tool_use":
		return llm.StopReasonToolUse
	default:
		return llm.StopReasonStop
	}
}

package openailm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"deskpilot/pkg/llm"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"go.uber.org/zap"
)

// Client adapts the OpenAI Chat Completions API to llm.Client. Any
// OpenAI-compatible endpoint works through baseURL.
type Client struct {
	client   *openai.Client
	provider string
	model    string
	options  map[string]any
	logger   *zap.Logger
}

// NewClient creates a client bound to one model.
func NewClient(apiKey, model, baseURL string, options map[string]any, logger *zap.Logger, extra ...option.RequestOption) *Client {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	opts = append(opts, extra...)

	client := openai.NewClient(opts...)
	return &Client{
		client:   &client,
		provider: "openai",
		model:    model,
		options:  options,
		logger:   logger.Named("openai"),
	}
}

func (c *Client) Provider() string {
	return c.provider
}

func (c *Client) IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "context deadline exceeded") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "timeout")
}

func (c *Client) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	params := openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: convertMessages(req.System, req.Messages),
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	if t, ok := c.options["temperature"].(float64); ok {
		params.Temperature = openai.Opt(t)
	}
	if tools := convertTools(req.Tools); len(tools) > 0 {
		params.Tools = tools
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai chat completion failed: %w", err)
	}

	out, err := parseResponse(resp)
	if err != nil {
		return nil, err
	}
	llm.LogUsage(c.logger, c.model, out.Usage)
	return out, nil
}

func convertMessages(system string, messages []llm.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages)+1)
	if system != "" {
		out = append(out, openai.SystemMessage(system))
	}

	for _, m := range messages {
		switch {
		case len(m.ToolResults) > 0:
			var images []openai.ChatCompletionContentPartUnionParam
			for _, r := range m.ToolResults {
				out = append(out, openai.ToolMessage(r.TextContent(), r.ToolCallID))
				for _, block := range r.Content {
					if block.Type == llm.BlockTypeImage && block.Source != nil {
						images = append(images, imagePart(block.Source))
					}
				}
			}
			// Tool messages carry text only; screenshots follow as a user turn.
			if len(images) > 0 {
				parts := append([]openai.ChatCompletionContentPartUnionParam{
					openai.TextContentPart("Image output of the preceding tool calls."),
				}, images...)
				out = append(out, openai.UserMessage(parts))
			}

		case m.Role == llm.RoleAssistant:
			asst := openai.ChatCompletionAssistantMessageParam{}
			if text := m.TextContent(); text != "" {
				asst.Content.OfString = openai.String(text)
			}
			for _, tc := range m.ToolCalls {
				asst.ToolCalls = append(asst.ToolCalls, openai.ChatCompletionMessageToolCallUnionParam{
					OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
						ID: tc.ID,
						Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
							Name:      tc.Name,
							Arguments: argumentsOrEmpty(tc.Arguments),
						},
					},
				})
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &asst})

		default:
			if !m.HasImages() {
				out = append(out, openai.UserMessage(m.TextContent()))
				continue
			}
			var parts []openai.ChatCompletionContentPartUnionParam
			for _, block := range m.Content {
				switch block.Type {
				case llm.BlockTypeText:
					parts = append(parts, openai.TextContentPart(block.Text))
				case llm.BlockTypeImage:
					if block.Source != nil {
						parts = append(parts, imagePart(block.Source))
					}
				}
			}
			out = append(out, openai.UserMessage(parts))
		}
	}
	return out
}

func imagePart(src *llm.ImageSource) openai.ChatCompletionContentPartUnionParam {
	url := fmt.Sprintf("data:%s;base64,%s", src.MediaType, base64.StdEncoding.EncodeToString(src.Data))
	return openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: url})
}

func convertTools(specs []llm.ToolSpec) []openai.ChatCompletionToolUnionParam {
	tools := make([]openai.ChatCompletionToolUnionParam, 0, len(specs))
	for _, s := range specs {
		tools = append(tools, openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        s.Name,
			Description: openai.String(s.Description),
			Parameters:  openai.FunctionParameters(s.Parameters),
		}))
	}
	return tools
}

func parseResponse(resp *openai.ChatCompletion) (*llm.Response, error) {
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai returned no choices")
	}
	choice := resp.Choices[0]

	out := &llm.Response{
		Model:      resp.Model,
		StopReason: normalizeStopReason(string(choice.FinishReason)),
		Usage: &llm.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}
	if choice.Message.Content != "" {
		out.Content = append(out.Content, llm.NewTextBlock(choice.Message.Content))
	}
	for _, tc := range choice.Message.ToolCalls {
		if tc.Function.Name == "" {
			continue
		}
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: argumentsOrEmpty(tc.Function.Arguments),
		})
	}
	return out, nil
}

func argumentsOrEmpty(args string) string {
	if strings.TrimSpace(args) == "" {
		return "{}"
	}
	return args
}

func normalizeStopReason(reason string) string {
	switch reason {
	case "length":
		return llm.StopReasonLength
	case "tool_calls", "function_call":
		return llm.StopReasonToolUse
	default:
		return llm.StopReasonStop
	}
}

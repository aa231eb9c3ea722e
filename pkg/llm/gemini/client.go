package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"deskpilot/pkg/llm"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// metaFunctionCall keys the original genai.FunctionCall in ToolCall.Meta so
// that thought signatures survive the round trip.
const metaFunctionCall = "gemini_function_call"

type GeminiClient struct {
	client  *genai.Client
	model   string
	options map[string]any
	logger  *zap.Logger
}

// NewGeminiClient creates a client for one model and API key.
func NewGeminiClient(ctx context.Context, apiKey, model, baseURL string, options map[string]any, logger *zap.Logger) (*GeminiClient, error) {
	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &GeminiClient{
		client:  client,
		model:   model,
		options: options,
		logger:  logger.Named("gemini"),
	}, nil
}

func (g *GeminiClient) Provider() string {
	return "gemini"
}

func (g *GeminiClient) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	contents, err := convertMessages(req.Messages)
	if err != nil {
		return nil, err
	}

	cfg := &genai.GenerateContentConfig{
		Tools: convertTools(req.Tools),
	}
	if req.System != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if t, ok := g.options["temperature"].(float64); ok {
		cfg.Temperature = genai.Ptr(float32(t))
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini generate content failed: %w", err)
	}

	out, err := parseResponse(resp)
	if err != nil {
		return nil, err
	}
	out.Model = g.model
	llm.LogUsage(g.logger, g.model, out.Usage)
	return out, nil
}

func convertTools(specs []llm.ToolSpec) []*genai.Tool {
	if len(specs) == 0 {
		return nil
	}
	fds := make([]*genai.FunctionDeclaration, 0, len(specs))
	for _, s := range specs {
		fds = append(fds, &genai.FunctionDeclaration{
			Name:                 s.Name,
			Description:          s.Description,
			ParametersJsonSchema: s.Parameters,
		})
	}
	return []*genai.Tool{{FunctionDeclarations: fds}}
}

func convertMessages(messages []llm.Message) ([]*genai.Content, error) {
	var contents []*genai.Content

	for _, msg := range messages {
		role := "user"
		if msg.Role == llm.RoleAssistant {
			role = "model"
		}

		var parts []*genai.Part

		for _, r := range msg.ToolResults {
			var payload map[string]any
			if err := json.Unmarshal([]byte(r.TextContent()), &payload); err != nil || payload == nil {
				payload = map[string]any{"output": r.TextContent()}
			}
			parts = append(parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					ID:       r.ToolCallID,
					Name:     r.Name,
					Response: payload,
				},
			})
			for _, block := range r.Content {
				if block.Type == llm.BlockTypeImage && block.Source != nil {
					parts = append(parts, &genai.Part{
						InlineData: &genai.Blob{MIMEType: block.Source.MediaType, Data: block.Source.Data},
					})
				}
			}
		}

		for _, block := range msg.Content {
			switch block.Type {
			case llm.BlockTypeText:
				if block.Text != "" {
					parts = append(parts, &genai.Part{Text: block.Text})
				}
			case llm.BlockTypeImage:
				if block.Source != nil && len(block.Source.Data) > 0 {
					parts = append(parts, &genai.Part{
						InlineData: &genai.Blob{MIMEType: block.Source.MediaType, Data: block.Source.Data},
					})
				}
			}
		}

		for _, tc := range msg.ToolCalls {
			if original, ok := tc.Meta[metaFunctionCall].(*genai.FunctionCall); ok {
				parts = append(parts, &genai.Part{FunctionCall: original})
				continue
			}
			var args map[string]any
			if strings.TrimSpace(tc.Arguments) != "" {
				if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil {
					return nil, fmt.Errorf("tool call %s has invalid arguments: %w", tc.ID, err)
				}
			}
			parts = append(parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{ID: tc.ID, Name: tc.Name, Args: args},
			})
		}

		if len(parts) > 0 {
			contents = append(contents, &genai.Content{Role: role, Parts: parts})
		}
	}
	return contents, nil
}

func parseResponse(resp *genai.GenerateContentResponse) (*llm.Response, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, errors.New("gemini returned no candidates")
	}
	candidate := resp.Candidates[0]

	out := &llm.Response{StopReason: normalizeStopReason(candidate.FinishReason)}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = &llm.Usage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
	}
	if candidate.Content == nil {
		return out, nil
	}

	for _, part := range candidate.Content.Parts {
		switch {
		case part.Thought:
		case part.FunctionCall != nil:
			args, err := json.Marshal(part.FunctionCall.Args)
			if err != nil {
				return nil, fmt.Errorf("failed to encode gemini function args: %w", err)
			}
			if part.FunctionCall.Args == nil {
				args = []byte("{}")
			}
			out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
				ID:        part.FunctionCall.ID,
				Name:      part.FunctionCall.Name,
				Arguments: string(args),
				Meta:      map[string]any{metaFunctionCall: part.FunctionCall},
			})
		case part.Text != "":
			out.Content = append(out.Content, llm.NewTextBlock(part.Text))
		}
	}
	if len(out.ToolCalls) > 0 && out.StopReason == llm.StopReasonStop {
		out.StopReason = llm.StopReasonToolUse
	}
	return out, nil
}

func normalizeStopReason(reason genai.FinishReason) string {
	if reason == genai.FinishReasonMaxTokens {
		return llm.StopReasonLength
	}
	return llm.StopReasonStop
}

func (g *GeminiClient) IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "503") || strings.Contains(msg, "overloaded") ||
		strings.Contains(msg, "429") || strings.Contains(msg, "resource exhausted") ||
		strings.Contains(msg, "500") || strings.Contains(msg, "internal error")
}

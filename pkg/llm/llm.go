package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ToolSpec describes one tool offered to the model. Parameters is a JSON
// Schema object.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Request is one non-streaming completion request.
type Request struct {
	MaxTokens int        `json:"max_tokens"`
	System    string     `json:"system,omitempty"`
	Messages  []Message  `json:"messages"`
	Tools     []ToolSpec `json:"tools,omitempty"`
}

// Usage is the token accounting of one completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a parsed completion: text fragments and tool calls in the
// order the provider returned them.
type Response struct {
	Content    []ContentBlock `json:"content,omitempty"`
	ToolCalls  []ToolCall     `json:"tool_calls,omitempty"`
	StopReason string         `json:"stop_reason,omitempty"`
	Usage      *Usage         `json:"usage,omitempty"`
	Model      string         `json:"model,omitempty"`
}

// Text concatenates the text fragments of the response.
func (r *Response) Text() string {
	var sb strings.Builder
	for _, block := range r.Content {
		if block.Type == BlockTypeText {
			sb.WriteString(block.Text)
		}
	}
	return sb.String()
}

// Client is a chat-completion provider.
type Client interface {
	// Provider names the backend, e.g. "anthropic".
	Provider() string
	Complete(ctx context.Context, req *Request) (*Response, error)
	// IsTransientError reports whether err is worth retrying (rate limits,
	// 5xx, timeouts).
	IsTransientError(err error) bool
}

// LogUsage writes token usage at debug level.
func LogUsage(logger *zap.Logger, model string, usage *Usage) {
	if usage == nil {
		return
	}
	logger.Debug("Completion usage",
		zap.String("model", model),
		zap.Int("prompt_tokens", usage.PromptTokens),
		zap.Int("completion_tokens", usage.CompletionTokens),
		zap.Int("total_tokens", usage.TotalTokens),
	)
}

// FallbackClient tries its clients in order. Each client is retried while it
// reports transient errors, up to MaxRetries attempts.
type FallbackClient struct {
	Clients    []Client
	MaxRetries int
	RetryDelay time.Duration
	Logger     *zap.Logger
}

func (f *FallbackClient) Provider() string {
	names := make([]string, len(f.Clients))
	for i, c := range f.Clients {
		names[i] = c.Provider()
	}
	return "fallback(" + strings.Join(names, ",") + ")"
}

func (f *FallbackClient) Complete(ctx context.Context, req *Request) (*Response, error) {
	logger := f.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxRetries := f.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}

	var lastErr error
	for i, client := range f.Clients {
		if i > 0 {
			logger.Warn("Previous provider failed, trying fallback",
				zap.Int("index", i), zap.String("provider", client.Provider()))
		}

		for attempt := 1; attempt <= maxRetries; attempt++ {
			if attempt > 1 {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(time.Duration(attempt-1) * f.RetryDelay):
				}
			}

			resp, err := client.Complete(ctx, req)
			if err == nil {
				return resp, nil
			}
			lastErr = err
			if ctx.Err() != nil {
				return nil, err
			}

			if client.IsTransientError(err) && attempt < maxRetries {
				logger.Warn("Transient provider error, retrying",
					zap.String("provider", client.Provider()),
					zap.Int("attempt", attempt), zap.Error(err))
				continue
			}
			logger.Error("Provider failed", zap.String("provider", client.Provider()), zap.Error(err))
			break
		}
	}
	return nil, fmt.Errorf("all fallback providers failed: %w", lastErr)
}

// IsTransientError is false: a FallbackClient error means every child failed.
func (f *FallbackClient) IsTransientError(err error) bool {
	return false
}

package ollama

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"deskpilot/pkg/llm"

	jsoniter "github.com/json-iterator/go"
	"github.com/ollama/ollama/api"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const defaultBaseURL = "http://localhost:11434"

// OllamaClient talks to a local or remote Ollama server. Vision models such
// as qwen2.5vl or llama3.2-vision are required for screenshots.
type OllamaClient struct {
	client  *api.Client
	model   string
	options map[string]any
	logger  *zap.Logger
}

func NewOllamaClient(model, baseURL string, options map[string]any, logger *zap.Logger) (*OllamaClient, error) {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	// Local inference of a screenshot can take minutes; no client timeout.
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	httpClient := &http.Client{Transport: &JSONFixingRoundTripper{Proxied: transport}}

	logger = logger.Named("ollama")
	logger.Debug("Ollama client initialized", zap.String("model", model), zap.String("base_url", baseURL))

	return &OllamaClient{
		client:  api.NewClient(u, httpClient),
		model:   model,
		options: options,
		logger:  logger,
	}, nil
}

func (o *OllamaClient) Provider() string {
	return "ollama"
}

func (o *OllamaClient) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	messages, err := convertMessages(req.System, req.Messages)
	if err != nil {
		return nil, err
	}
	tools, err := convertTools(req.Tools)
	if err != nil {
		return nil, err
	}

	options := make(map[string]any, len(o.options)+1)
	for k, v := range o.options {
		options[k] = v
	}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}

	stream := false
	chatReq := &api.ChatRequest{
		Model:    o.model,
		Messages: messages,
		Options:  options,
		Tools:    tools,
		Stream:   &stream,
	}

	out := &llm.Response{Model: o.model}
	err = o.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		if resp.Message.Content != "" {
			out.Content = append(out.Content, llm.NewTextBlock(resp.Message.Content))
		}
		for _, tc := range resp.Message.ToolCalls {
			args, err := json.Marshal(tc.Function.Arguments)
			if err != nil {
				o.logger.Warn("Failed to encode tool call arguments", zap.Error(err))
				args = []byte("{}")
			}
			out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: string(args),
			})
		}
		if resp.Done {
			out.StopReason = normalizeStopReason(resp.DoneReason, len(out.ToolCalls) > 0)
			out.Usage = &llm.Usage{
				PromptTokens:     resp.PromptEvalCount,
				CompletionTokens: resp.EvalCount,
				TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ollama chat with %s failed: %w", o.model, err)
	}

	llm.LogUsage(o.logger, o.model, out.Usage)
	return out, nil
}

func convertMessages(system string, messages []llm.Message) ([]api.Message, error) {
	var out []api.Message
	if system != "" {
		out = append(out, api.Message{Role: "system", Content: system})
	}

	for _, m := range messages {
		if len(m.ToolResults) > 0 {
			var images []api.ImageData
			for _, r := range m.ToolResults {
				out = append(out, api.Message{Role: "tool", Content: r.TextContent(), ToolCallID: r.ToolCallID})
				for _, block := range r.Content {
					if block.Type == llm.BlockTypeImage && block.Source != nil {
						images = append(images, block.Source.Data)
					}
				}
			}
			if len(images) > 0 {
				out = append(out, api.Message{Role: "user", Content: "Image output of the preceding tool calls.", Images: images})
			}
			continue
		}

		msg := api.Message{Role: m.Role, Content: m.TextContent()}
		for _, block := range m.Content {
			if block.Type == llm.BlockTypeImage && block.Source != nil && len(block.Source.Data) > 0 {
				msg.Images = append(msg.Images, block.Source.Data)
			}
		}

		for _, tc := range m.ToolCalls {
			// ToolCallFunctionArguments is an ordered map in recent SDKs; go
			// through JSON rather than depending on its shape.
			argBytes := []byte(tc.Arguments)
			if strings.TrimSpace(tc.Arguments) == "" {
				argBytes = []byte("{}")
			}
			var apiArgs api.ToolCallFunctionArguments
			if err := json.Unmarshal(argBytes, &apiArgs); err != nil {
				return nil, fmt.Errorf("tool call %s has invalid arguments: %w", tc.ID, err)
			}
			msg.ToolCalls = append(msg.ToolCalls, api.ToolCall{
				ID: tc.ID,
				Function: api.ToolCallFunction{
					Name:      tc.Name,
					Arguments: apiArgs,
				},
			})
		}
		out = append(out, msg)
	}
	return out, nil
}

// convertTools maps specs onto api.Tools through their shared JSON shape.
func convertTools(specs []llm.ToolSpec) ([]api.Tool, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	raw := make([]map[string]any, 0, len(specs))
	for _, s := range specs {
		raw = append(raw, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        s.Name,
				"description": s.Description,
				"parameters":  s.Parameters,
			},
		})
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tools: %w", err)
	}
	var tools []api.Tool
	if err := json.Unmarshal(data, &tools); err != nil {
		return nil, fmt.Errorf("failed to convert tools: %w", err)
	}
	return tools, nil
}

func normalizeStopReason(reason string, hasCalls bool) string {
	switch {
	case reason == "length":
		return llm.StopReasonLength
	case hasCalls:
		return llm.StopReasonToolUse
	default:
		return llm.StopReasonStop
	}
}

func (o *OllamaClient) IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "overloaded") ||
		strings.Contains(msg, "server busy")
}

// JSONFixingRoundTripper strips invalid backslash escapes some models emit
// inside tool arguments, which would otherwise fail response decoding.
type JSONFixingRoundTripper struct {
	Proxied http.RoundTripper
}

func (j *JSONFixingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := j.Proxied.RoundTrip(req)
	if err != nil {
		return resp, err
	}

	ct := resp.Header.Get("Content-Type")
	if strings.Contains(ct, "application/json") || strings.Contains(ct, "application/x-ndjson") {
		resp.Body = &jsonFixingReadCloser{body: resp.Body}
	}
	return resp, nil
}

// jsonFixingReadCloser drops the backslash of escapes JSON does not know,
// e.g. `\U` becomes `U`. Valid escapes, `\\` included, pass unchanged. The
// escape state carries across reads so a pair split between two chunks is
// still recognised.
type jsonFixingReadCloser struct {
	body    io.ReadCloser
	chunk   []byte
	out     bytes.Buffer
	pending bool
	err     error
}

func (j *jsonFixingReadCloser) Read(p []byte) (int, error) {
	for j.out.Len() == 0 && j.err == nil {
		if j.chunk == nil {
			j.chunk = make([]byte, 4096)
		}
		n, err := j.body.Read(j.chunk)
		j.fix(j.chunk[:n])
		if err != nil {
			if j.pending {
				j.out.WriteByte('\\')
				j.pending = false
			}
			j.err = err
		}
	}
	if j.out.Len() > 0 {
		return j.out.Read(p)
	}
	return 0, j.err
}

func (j *jsonFixingReadCloser) fix(data []byte) {
	for _, c := range data {
		switch {
		case j.pending:
			j.pending = false
			if validEscape(c) {
				j.out.WriteByte('\\')
			}
			j.out.WriteByte(c)
		case c == '\\':
			j.pending = true
		default:
			j.out.WriteByte(c)
		}
	}
}

func validEscape(c byte) bool {
	switch c {
	case '"', '\\', '/', 'b', 'f', 'n', 'r', 't', 'u':
		return true
	}
	return false
}

func (j *jsonFixingReadCloser) Close() error {
	return j.body.Close()
}

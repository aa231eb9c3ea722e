package openailm

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"deskpilot/pkg/llm"

	jsoniter "github.com/json-iterator/go"
	"github.com/openai/openai-go/v3/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const toolCallResponse = `{
  "id": "chatcmpl-1",
  "object": "chat.completion",
  "created": 1700000000,
  "model": "gpt-4o",
  "choices": [{
    "index": 0,
    "finish_reason": "tool_calls",
    "message": {
      "role": "assistant",
      "content": "Opening the browser.",
      "tool_calls": [{
        "id": "call_1",
        "type": "function",
        "function": {"name": "launch-application", "arguments": "{\"app\":\"firefox\"}"}
      }]
    }
  }],
  "usage": {"prompt_tokens": 120, "completion_tokens": 15, "total_tokens": 135}
}`

func TestClient_Complete(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, toolCallResponse)
	}))
	defer srv.Close()

	core, logs := observer.New(zapcore.DebugLevel)
	c := NewClient("sk-test", "gpt-4o", srv.URL+"/", nil, zap.New(core), option.WithMaxRetries(0))

	resp, err := c.Complete(context.Background(), &llm.Request{
		MaxTokens: 1024,
		System:    "You control a desktop.",
		Messages: []llm.Message{
			llm.NewUserMessage("open firefox").WithBlocks(llm.NewImageBlock([]byte{0x89, 'P', 'N', 'G'}, "image/png")),
		},
		Tools: []llm.ToolSpec{{
			Name:        "launch-application",
			Description: "Launch an application",
			Parameters:  map[string]any{"type": "object", "properties": map[string]any{"app": map[string]any{"type": "string"}}},
		}},
	})
	require.NoError(t, err)

	assert.Equal(t, "Opening the browser.", resp.Text())
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "call_1", resp.ToolCalls[0].ID)
	assert.Equal(t, "launch-application", resp.ToolCalls[0].Name)
	assert.JSONEq(t, `{"app":"firefox"}`, resp.ToolCalls[0].Arguments)
	assert.Equal(t, llm.StopReasonToolUse, resp.StopReason)
	assert.Equal(t, 135, resp.Usage.TotalTokens)
	assert.Equal(t, 1, logs.FilterMessage("Completion usage").Len())

	assert.Equal(t, "gpt-4o", body["model"])
	assert.EqualValues(t, 1024, body["max_completion_tokens"])
	messages := body["messages"].([]any)
	require.Len(t, messages, 2)
	assert.Equal(t, "system", messages[0].(map[string]any)["role"])
	userParts := messages[1].(map[string]any)["content"].([]any)
	require.Len(t, userParts, 2)
	assert.Equal(t, "image_url", userParts[1].(map[string]any)["type"])
	tools := body["tools"].([]any)
	require.Len(t, tools, 1)
}

func TestConvertMessages_ToolRound(t *testing.T) {
	call := llm.ToolCall{ID: "call_1", Name: "capture-screen", Arguments: ""}
	history := []llm.Message{
		llm.NewUserMessage("take a screenshot"),
		llm.NewAssistantMessage("", []llm.ToolCall{call}),
		llm.NewToolResultsMessage([]llm.ToolResult{{
			ToolCallID: "call_1",
			Name:       "capture-screen",
			Content: []llm.ContentBlock{
				llm.NewImageBlock([]byte{1, 2}, "image/png"),
				llm.NewTextBlock(`{"success":true}`),
			},
		}}),
	}

	msgs := convertMessages("", history)
	require.Len(t, msgs, 4)

	raw, err := json.Marshal(msgs)
	require.NoError(t, err)
	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))

	assert.Equal(t, "assistant", decoded[1]["role"])
	calls := decoded[1]["tool_calls"].([]any)
	fn := calls[0].(map[string]any)["function"].(map[string]any)
	assert.Equal(t, "{}", fn["arguments"])

	assert.Equal(t, "tool", decoded[2]["role"])
	assert.Equal(t, "call_1", decoded[2]["tool_call_id"])
	assert.Equal(t, `{"success":true}`, decoded[2]["content"])
	assert.Equal(t, "user", decoded[3]["role"])
}

func TestIsTransientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":{"message":"slow down","type":"rate_limit"}}`)
	}))
	defer srv.Close()

	c := NewClient("sk-test", "gpt-4o", srv.URL+"/", nil, zaptest.NewLogger(t), option.WithMaxRetries(0))
	_, err := c.Complete(context.Background(), &llm.Request{Messages: []llm.Message{llm.NewUserMessage("hi")}})
	require.Error(t, err)
	assert.True(t, c.IsTransientError(err))
	assert.False(t, c.IsTransientError(nil))
}

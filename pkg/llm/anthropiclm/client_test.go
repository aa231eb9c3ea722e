package anthropiclm

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"deskpilot/pkg/llm"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const toolUseResponse = `{
  "id": "msg_01",
  "type": "message",
  "role": "assistant",
  "model": "claude-sonnet-4-5",
  "content": [
    {"type": "text", "text": "I will click the search box."},
    {"type": "tool_use", "id": "toolu_01", "name": "click", "input": {"x": 640, "y": 120}}
  ],
  "stop_reason": "tool_use",
  "stop_sequence": null,
  "usage": {"input_tokens": 1500, "output_tokens": 40}
}`

func TestClient_Complete(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, toolUseResponse)
	}))
	defer srv.Close()

	c := NewClient("test-key", "claude-sonnet-4-5", srv.URL+"/", nil, zaptest.NewLogger(t), option.WithMaxRetries(0))

	resp, err := c.Complete(context.Background(), &llm.Request{
		MaxTokens: 1024,
		System:    "You control a desktop.",
		Messages: []llm.Message{
			llm.NewUserMessage("search for weather").WithBlocks(llm.NewImageBlock([]byte{1, 2, 3}, "image/png")),
		},
		Tools: []llm.ToolSpec{{
			Name:        "click",
			Description: "Click at a screen coordinate",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"x": map[string]any{"type": "number"}, "y": map[string]any{"type": "number"}},
				"required":   []any{"x", "y"},
			},
		}},
	})
	require.NoError(t, err)

	assert.Equal(t, "I will click the search box.", resp.Text())
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "toolu_01", resp.ToolCalls[0].ID)
	assert.Equal(t, "click", resp.ToolCalls[0].Name)
	assert.JSONEq(t, `{"x":640,"y":120}`, resp.ToolCalls[0].Arguments)
	assert.Equal(t, llm.StopReasonToolUse, resp.StopReason)
	assert.Equal(t, 1540, resp.Usage.TotalTokens)

	assert.EqualValues(t, 1024, body["max_tokens"])
	system := body["system"].([]any)
	assert.Equal(t, "You control a desktop.", system[0].(map[string]any)["text"])
	messages := body["messages"].([]any)
	require.Len(t, messages, 1)
	content := messages[0].(map[string]any)["content"].([]any)
	require.Len(t, content, 2)
	assert.Equal(t, "image", content[1].(map[string]any)["type"])
	tool := body["tools"].([]any)[0].(map[string]any)
	assert.Equal(t, "click", tool["name"])
	assert.Equal(t, []any{"x", "y"}, tool["input_schema"].(map[string]any)["required"])
}

func TestConvertMessages_ToolRound(t *testing.T) {
	history := []llm.Message{
		llm.NewUserMessage("take a screenshot"),
		llm.NewAssistantMessage("Sure.", []llm.ToolCall{{ID: "toolu_1", Name: "capture-screen", Arguments: "{}"}}),
		llm.NewToolResultsMessage([]llm.ToolResult{{
			ToolCallID: "toolu_1",
			Name:       "capture-screen",
			Content:    []llm.ContentBlock{llm.NewImageBlock([]byte{9}, "image/png"), llm.NewTextBlock(`{"success":true}`)},
		}}),
		llm.NewAssistantMessage("Here is the desktop.", nil),
	}

	msgs, err := convertMessages(history)
	require.NoError(t, err)
	require.Len(t, msgs, 4)

	raw, err := json.Marshal(msgs)
	require.NoError(t, err)
	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))

	asst := decoded[1]["content"].([]any)
	require.Len(t, asst, 2)
	assert.Equal(t, "tool_use", asst[1].(map[string]any)["type"])

	results := decoded[2]["content"].([]any)
	require.Len(t, results, 1)
	result := results[0].(map[string]any)
	assert.Equal(t, "tool_result", result["type"])
	assert.Equal(t, "toolu_1", result["tool_use_id"])
	assert.Len(t, result["content"].([]any), 2)
}

func TestConvertMessages_InvalidArguments(t *testing.T) {
	_, err := convertMessages([]llm.Message{
		llm.NewAssistantMessage("", []llm.ToolCall{{ID: "t", Name: "click", Arguments: "{not json"}}),
	})
	assert.Error(t, err)
}

func TestIsTransientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(529)
		_, _ = io.WriteString(w, `{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`)
	}))
	defer srv.Close()

	c := NewClient("k", "claude-sonnet-4-5", srv.URL+"/", nil, zaptest.NewLogger(t), option.WithMaxRetries(0))
	_, err := c.Complete(context.Background(), &llm.Request{MaxTokens: 10, Messages: []llm.Message{llm.NewUserMessage("hi")}})
	require.Error(t, err)
	assert.True(t, c.IsTransientError(err))
}

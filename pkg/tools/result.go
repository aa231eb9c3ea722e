package tools

import (
	"deskpilot/pkg/llm"
)

// Result is the outcome of one action. Failures are data, not Go errors:
// they go back to the model as the action's result.
type Result struct {
	Success   bool
	Image     []byte
	MediaType string
	Output    string
	Error     string
}

func Success(output string) Result {
	return Result{Success: true, Output: output}
}

func Failure(err error) Result {
	return Result{Error: err.Error()}
}

type resultPayload struct {
	Success bool   `json:"success,omitempty"`
	Output  string `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
}

// JSON renders the result as the text the model reads, for example
// {"error":"Unknown tool: fly"} or {"success":true,"output":"..."}.
func (r Result) JSON() string {
	payload := resultPayload{Error: r.Error}
	if r.Success {
		payload = resultPayload{Success: true, Output: r.Output}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return `{"error":"failed to encode result"}`
	}
	return string(data)
}

// ToolResult converts r into the history entry answering call.
func (r Result) ToolResult(call llm.ToolCall) llm.ToolResult {
	content := []llm.ContentBlock{llm.NewTextBlock(r.JSON())}
	if len(r.Image) > 0 {
		content = append(content, llm.NewImageBlock(r.Image, r.MediaType))
	}
	return llm.ToolResult{
		ToolCallID: call.ID,
		Name:       call.Name,
		Content:    content,
		IsError:    !r.Success,
	}
}

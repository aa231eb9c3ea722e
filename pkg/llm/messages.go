package llm

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

//----------------------------------------------------------------
// Message - provider-neutral conversation turn
//----------------------------------------------------------------

// Message is one turn of a conversation.
//
// An assistant turn may carry ToolCalls; the turn that answers them is a
// user-role turn carrying exactly one ToolResult per call. Text the model
// produced after reading those results is kept on the assistant turn as
// FollowUp and is replayed after the results turn by WireOrder.
type Message struct {
	Role        string         `json:"role"`
	Content     []ContentBlock `json:"content,omitempty"`
	ToolCalls   []ToolCall     `json:"tool_calls,omitempty"`
	ToolResults []ToolResult   `json:"tool_results,omitempty"`
	FollowUp    string         `json:"follow_up,omitempty"`
	Timestamp   int64          `json:"timestamp,omitempty"`
}

// ToolCall is an action request emitted by the model.
type ToolCall struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	// Arguments is the raw JSON object produced by the model.
	Arguments string `json:"arguments"`

	// Meta carries provider-specific data that must be echoed back verbatim,
	// such as Gemini thought signatures. Never serialized.
	Meta map[string]any `json:"-"`
}

// ToolResult answers the ToolCall with the same ID.
type ToolResult struct {
	ToolCallID string         `json:"tool_call_id"`
	Name       string         `json:"name"`
	Content    []ContentBlock `json:"content"`
	IsError    bool           `json:"is_error,omitempty"`
}

// ContentBlock is a text or image fragment.
type ContentBlock struct {
	Type   string       `json:"type"`
	Text   string       `json:"text,omitempty"`
	Source *ImageSource `json:"source,omitempty"`
}

// ImageSource holds inline image bytes.
type ImageSource struct {
	MediaType string `json:"media_type"`
	Data      []byte `json:"-"`
}

// MarshalJSON reports the image size instead of its bytes, keeping debug
// records and logs readable.
func (is *ImageSource) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		MediaType string `json:"media_type"`
		Size      int    `json:"size"`
	}{is.MediaType, len(is.Data)})
}

//----------------------------------------------------------------
// Constructors
//----------------------------------------------------------------

func NewTextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockTypeText, Text: text}
}

func NewImageBlock(data []byte, mediaType string) ContentBlock {
	return ContentBlock{
		Type:   BlockTypeImage,
		Source: &ImageSource{MediaType: mediaType, Data: data},
	}
}

// NewUserMessage creates a text-only user turn.
func NewUserMessage(text string) Message {
	return Message{
		Role:      RoleUser,
		Content:   []ContentBlock{NewTextBlock(text)},
		Timestamp: time.Now().Unix(),
	}
}

// NewAssistantMessage creates an assistant turn. Empty text yields no
// content block.
func NewAssistantMessage(text string, calls []ToolCall) Message {
	m := Message{
		Role:      RoleAssistant,
		ToolCalls: calls,
		Timestamp: time.Now().Unix(),
	}
	if text != "" {
		m.Content = []ContentBlock{NewTextBlock(text)}
	}
	return m
}

// NewToolResultsMessage creates the user-role turn answering tool calls.
func NewToolResultsMessage(results []ToolResult) Message {
	return Message{
		Role:        RoleUser,
		ToolResults: results,
		Timestamp:   time.Now().Unix(),
	}
}

// NewToolCallID mints a correlation ID for providers that omit one.
func NewToolCallID() string {
	return "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

//----------------------------------------------------------------
// Accessors
//----------------------------------------------------------------

// TextContent concatenates the text blocks of the message.
func (m *Message) TextContent() string {
	var sb strings.Builder
	for _, block := range m.Content {
		if block.Type == BlockTypeText {
			sb.WriteString(block.Text)
		}
	}
	return sb.String()
}

func (m *Message) HasImages() bool {
	for _, block := range m.Content {
		if block.Type == BlockTypeImage {
			return true
		}
	}
	return false
}

// WithBlocks returns a copy of m with blocks appended. m is not modified.
func (m Message) WithBlocks(blocks ...ContentBlock) Message {
	content := make([]ContentBlock, 0, len(m.Content)+len(blocks))
	content = append(content, m.Content...)
	content = append(content, blocks...)
	m.Content = content
	return m
}

// TextContent concatenates the text blocks of a tool result.
func (r *ToolResult) TextContent() string {
	var sb strings.Builder
	for _, block := range r.Content {
		if block.Type == BlockTypeText {
			sb.WriteString(block.Text)
		}
	}
	return sb.String()
}

// WireOrder flattens history into the sequence sent to providers: an
// assistant turn's FollowUp becomes its own assistant message placed after
// the results turn that answered the assistant's tool calls.
func WireOrder(history []Message) []Message {
	out := make([]Message, 0, len(history)+2)
	for i := 0; i < len(history); i++ {
		m := history[i]
		if m.Role != RoleAssistant || m.FollowUp == "" {
			out = append(out, m)
			continue
		}
		followUp := m.FollowUp
		m.FollowUp = ""
		out = append(out, m)
		if i+1 < len(history) && len(history[i+1].ToolResults) > 0 {
			i++
			out = append(out, history[i])
		}
		out = append(out, NewAssistantMessage(followUp, nil))
	}
	return out
}

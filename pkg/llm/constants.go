package llm

// Roles used in Message.Role. System instructions travel in Request.System.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// StopReason values. Providers normalize their native reasons to these.
const (
	StopReasonStop    = "stop"
	StopReasonLength  = "length"
	StopReasonToolUse = "tool_use"
)

// ContentBlock types.
const (
	BlockTypeText  = "text"
	BlockTypeImage = "image"
)

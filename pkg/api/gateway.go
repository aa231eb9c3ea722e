package api

// Channel defines the standardized lifecycle interface for communication platforms.
type Channel interface {
	ID() string
	// Start begins receiving messages and returns once the channel is
	// accepting them. Receiving continues in the background until Stop.
	Start(ctx ChannelContext) error
	Stop() error
	Send(session SessionContext, message string) error
}

// SignalingChannel is an optional extension of the Channel interface for
// platforms that support control signals (e.g., typing indicators).
type SignalingChannel interface {
	Channel
	SendSignal(session SessionContext, signal string) error
}

// Signals understood by signaling channels.
const (
	SignalThinking = "thinking"
	SignalDone     = "done"
)

// ChannelContext provides the interface for a Channel implementation to
// communicate back with the Gateway core.
type ChannelContext interface {
	MessageResponder
	OnMessage(channelID string, msg *UnifiedMessage)
	// OnSessionClosed tells the gateway a conversation ended on the channel
	// side, e.g. a websocket disconnected, so its agent can be released.
	OnSessionClosed(session SessionContext)
}

// MessageResponder defines the capabilities for sending responses back to a channel.
type MessageResponder interface {
	SendReply(session SessionContext, content string) error
	SendSignal(session SessionContext, signal string) error
}

// UnifiedMessage is an incoming instruction from any channel.
type UnifiedMessage struct {
	Session SessionContext
	Content string
	// DebugID groups the log lines of one request.
	DebugID string
}

// SessionContext encapsulates identity and routing information for a specific
// conversation unit on a specific communication channel.
type SessionContext struct {
	ChannelID string // e.g. "telegram"
	UserID    string
	ChatID    string // may match UserID for DMs
	Username  string
}

// Key identifies the conversation across channels. One agent serves each key.
func (s SessionContext) Key() string {
	return s.ChannelID + ":" + s.ChatID
}

// MessageHandler defines the function signature for processing incoming messages.
type MessageHandler func(*UnifiedMessage)

// OnMessage allows MessageHandler to satisfy the MessageProcessor interface.
func (h MessageHandler) OnMessage(msg *UnifiedMessage) {
	h(msg)
}

// MessageProcessor defines the interface for components that can process incoming messages.
type MessageProcessor interface {
	OnMessage(msg *UnifiedMessage)
}

// ResponderAware defines an interface for components that require a MessageResponder to be injected.
type ResponderAware interface {
	SetResponder(responder MessageResponder)
}

// SessionAware is implemented by processors that hold per-conversation
// state and must hear about closed sessions.
type SessionAware interface {
	OnSessionClosed(session SessionContext)
}

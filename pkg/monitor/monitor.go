package monitor

import "time"

// Message types reported by agents and the gateway.
const (
	TypeUser      = "USER"
	TypeAssistant = "ASSISTANT"
	TypeAction    = "ACTION"
	TypeResult    = "RESULT"
	TypeError     = "ERROR"
)

// MonitorMessage is one observable event in a conversation.
type MonitorMessage struct {
	Timestamp   time.Time
	MessageType string
	// ChannelID identifies the conversation, e.g. "cli" or "telegram:42".
	ChannelID string
	Username  string
	Content   string
}

// Monitor displays conversation events. Implementations must be safe for
// concurrent use since several agents may report at once.
type Monitor interface {
	Start() error
	Stop() error
	OnMessage(msg MonitorMessage)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Start() error               { return nil }
func (Nop) Stop() error                { return nil }
func (Nop) OnMessage(_ MonitorMessage) {}

// Filter forwards only events whose type is listed.
func Filter(next Monitor, types ...string) Monitor {
	allowed := make(map[string]bool, len(types))
	for _, t := range types {
		allowed[t] = true
	}
	return &filtered{next: next, allowed: allowed}
}

type filtered struct {
	next    Monitor
	allowed map[string]bool
}

func (f *filtered) Start() error { return f.next.Start() }
func (f *filtered) Stop() error  { return f.next.Stop() }

func (f *filtered) OnMessage(msg MonitorMessage) {
	if f.allowed[msg.MessageType] {
		f.next.OnMessage(msg)
	}
}

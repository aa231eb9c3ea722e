package monitor

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fatih/color"
)

// CLIMonitor prints conversation events to a terminal, one line each.
type CLIMonitor struct {
	writer io.Writer
	mu     sync.Mutex

	stamp     *color.Color
	user      *color.Color
	assistant *color.Color
	action    *color.Color
	failure   *color.Color
}

// NewCLIMonitor creates a monitor writing to stdout. Colours are disabled
// automatically when stdout is not a terminal.
func NewCLIMonitor() *CLIMonitor {
	return NewCLIMonitorWriter(os.Stdout)
}

// NewCLIMonitorWriter creates a monitor writing to w.
func NewCLIMonitorWriter(w io.Writer) *CLIMonitor {
	return &CLIMonitor{
		writer:    w,
		stamp:     color.New(color.FgHiBlack),
		user:      color.New(color.FgCyan, color.Bold),
		assistant: color.New(color.FgGreen),
		action:    color.New(color.FgYellow),
		failure:   color.New(color.FgRed),
	}
}

func (m *CLIMonitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	fmt.Fprintln(m.writer, "----------------------------------------------------------------")
	fmt.Fprintln(m.writer, "Monitor active: agent turns and actions will appear here")
	fmt.Fprintln(m.writer, "----------------------------------------------------------------")
	return nil
}

func (m *CLIMonitor) Stop() error {
	return nil
}

// OnMessage prints msg with a colour chosen by its type.
func (m *CLIMonitor) OnMessage(msg MonitorMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stamp := m.stamp.Sprintf("[%s]", msg.Timestamp.Format("2006-01-02 15:04:05"))

	var line string
	switch msg.MessageType {
	case TypeAssistant:
		line = m.assistant.Sprintf("[AI] %s", msg.Content)
	case TypeAction:
		line = m.action.Sprintf("  -> %s", msg.Content)
	case TypeResult:
		line = m.action.Sprintf("  <- %s", msg.Content)
	case TypeError:
		line = m.failure.Sprintf("[error] %s", msg.Content)
	default:
		who := msg.ChannelID
		if msg.Username != "" {
			who += "/" + msg.Username
		}
		line = m.user.Sprintf("[%s]", who) + " " + msg.Content
	}

	fmt.Fprintf(m.writer, "%s %s\n", stamp, line)
}

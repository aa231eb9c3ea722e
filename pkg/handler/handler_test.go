package handler

import (
	"context"
	"errors"
	"testing"
	"time"

	"deskpilot/pkg/api"
	"deskpilot/pkg/gateway"
	"deskpilot/pkg/mocks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var session = gateway.SessionContext{ChannelID: "web", ChatID: "c1", UserID: "u1", Username: "alice"}

func newHandler(t *testing.T, a *mocks.MockAssistant, opts Options) (*ChatHandler, *mocks.MockResponder) {
	t.Helper()
	pool := gateway.NewAgentPool(func(gateway.SessionContext) gateway.Assistant { return a }, zaptest.NewLogger(t))
	h := New(pool, opts, zaptest.NewLogger(t))
	r := &mocks.MockResponder{}
	h.SetResponder(r)
	t.Cleanup(h.Close)
	return h, r
}

func TestChatHandler_Instruction(t *testing.T) {
	a := &mocks.MockAssistant{}
	a.On("Initialize", mock.Anything).Return(nil).Once()
	a.On("Chat", mock.Anything, "open the browser").Return("Opened it.", nil).Once()

	h, r := newHandler(t, a, Options{ThinkingDelay: time.Hour, Timeout: time.Minute})
	r.On("SendReply", session, "Opened it.").Return(nil).Once()
	r.On("SendSignal", session, api.SignalDone).Return(nil).Once()

	msg := &gateway.UnifiedMessage{Session: session, Content: "open the browser"}
	h.OnMessage(msg)
	h.Wait()

	assert.Len(t, msg.DebugID, 4)
	a.AssertExpectations(t)
	r.AssertExpectations(t)
	r.AssertNotCalled(t, "SendSignal", session, api.SignalThinking)
}

func TestChatHandler_ThinkingBeforeReply(t *testing.T) {
	a := &mocks.MockAssistant{}
	a.On("Initialize", mock.Anything).Return(nil)
	a.On("Chat", mock.Anything, "slow").
		Run(func(mock.Arguments) { time.Sleep(50 * time.Millisecond) }).
		Return("done", nil)

	h, r := newHandler(t, a, Options{})
	var order []string
	r.On("SendSignal", session, mock.Anything).Run(func(args mock.Arguments) {
		order = append(order, args.String(1))
	}).Return(nil)
	r.On("SendReply", session, "done").Run(func(mock.Arguments) {
		order = append(order, "reply")
	}).Return(nil)

	h.OnMessage(&gateway.UnifiedMessage{Session: session, Content: "slow"})
	h.Wait()

	assert.Equal(t, []string{api.SignalThinking, "reply", api.SignalDone}, order)
}

func TestChatHandler_ErrorReply(t *testing.T) {
	a := &mocks.MockAssistant{}
	a.On("Initialize", mock.Anything).Return(errors.New("sandbox create session: quota exceeded"))

	h, r := newHandler(t, a, Options{ThinkingDelay: time.Hour})
	r.On("SendReply", session, "❌ Error: sandbox create session: quota exceeded").Return(nil).Once()
	r.On("SendSignal", session, api.SignalDone).Return(nil)

	h.OnMessage(&gateway.UnifiedMessage{Session: session, Content: "hi"})
	h.Wait()
	r.AssertExpectations(t)
}

func TestChatHandler_Commands(t *testing.T) {
	tests := []struct {
		name    string
		content string
		setup   func(a *mocks.MockAssistant)
		want    string
	}{
		{name: "start", content: "/start", want: greeting},
		{name: "bot suffix", content: "/start@deskpilot_bot", want: greeting},
		{name: "reset unknown", content: "/reset", want: "Nothing to reset."},
		{name: "unknown", content: "/fly away", want: "❌ Unknown command /fly. Try /start, /reset or /actions."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &mocks.MockAssistant{}
			h, r := newHandler(t, a, Options{})
			r.On("SendReply", session, tt.want).Return(nil).Once()

			h.OnMessage(&gateway.UnifiedMessage{Session: session, Content: tt.content})
			h.Wait()

			r.AssertExpectations(t)
			a.AssertNotCalled(t, "Chat", mock.Anything, mock.Anything)
		})
	}
}

func TestChatHandler_ActionsCommand(t *testing.T) {
	h, r := newHandler(t, &mocks.MockAssistant{}, Options{})
	var got string
	r.On("SendReply", session, mock.Anything).Run(func(args mock.Arguments) {
		got = args.String(1)
	}).Return(nil)

	h.OnMessage(&gateway.UnifiedMessage{Session: session, Content: "/actions"})
	h.Wait()
	assert.Contains(t, got, "capture-screen")
	assert.Contains(t, got, "launch-application")
}

func TestChatHandler_ResetAfterChat(t *testing.T) {
	a := &mocks.MockAssistant{}
	a.On("Initialize", mock.Anything).Return(nil)
	a.On("Chat", mock.Anything, "hi").Return("hello", nil)
	a.On("Cleanup", mock.Anything).Return(nil).Once()

	h, r := newHandler(t, a, Options{ThinkingDelay: time.Hour})
	r.On("SendReply", session, "hello").Return(nil)
	r.On("SendSignal", session, api.SignalDone).Return(nil)
	r.On("SendReply", session, "Conversation reset. The desktop was shut down.").Return(nil).Once()

	h.OnMessage(&gateway.UnifiedMessage{Session: session, Content: "hi"})
	h.Wait()
	h.OnMessage(&gateway.UnifiedMessage{Session: session, Content: "/reset"})
	h.Wait()

	a.AssertExpectations(t)
	r.AssertExpectations(t)
}

func TestChatHandler_SessionClosed(t *testing.T) {
	a := &mocks.MockAssistant{}
	a.On("Initialize", mock.Anything).Return(nil)
	a.On("Chat", mock.Anything, "hi").Return("hello", nil)
	a.On("Cleanup", mock.Anything).Return(nil).Once()

	h, r := newHandler(t, a, Options{ThinkingDelay: time.Hour})
	r.On("SendReply", session, "hello").Return(nil)
	r.On("SendSignal", session, api.SignalDone).Return(nil)

	h.OnMessage(&gateway.UnifiedMessage{Session: session, Content: "hi"})
	h.Wait()
	h.OnSessionClosed(session)
	h.Wait()

	a.AssertCalled(t, "Cleanup", mock.Anything)
}

func TestChatHandler_CloseCancelsRunning(t *testing.T) {
	started := make(chan struct{})
	a := &mocks.MockAssistant{}
	a.On("Initialize", mock.Anything).Return(nil)
	a.On("Chat", mock.Anything, "forever").Run(func(args mock.Arguments) {
		close(started)
		<-args.Get(0).(context.Context).Done()
	}).Return("", context.Canceled)

	h, r := newHandler(t, a, Options{ThinkingDelay: time.Hour})
	r.On("SendReply", session, mock.Anything).Return(nil)
	r.On("SendSignal", session, mock.Anything).Return(nil)

	h.OnMessage(&gateway.UnifiedMessage{Session: session, Content: "forever"})
	<-started

	done := make(chan struct{})
	go func() {
		h.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		require.FailNow(t, "Close did not return")
	}
	r.AssertCalled(t, "SendReply", session, "❌ Error: context canceled")
}

func TestChatHandler_MessageAfterSessionClosed(t *testing.T) {
	a := &mocks.MockAssistant{}
	h, r := newHandler(t, a, Options{ThinkingDelay: time.Hour})

	// The close can win the race against the goroutine of the last message.
	h.OnSessionClosed(session)
	h.Wait()
	h.OnMessage(&gateway.UnifiedMessage{Session: session, Content: "hi"})
	h.Wait()

	assert.Zero(t, h.pool.Len())
	a.AssertNotCalled(t, "Initialize", mock.Anything)
	r.AssertNotCalled(t, "SendReply", mock.Anything, mock.Anything)
}

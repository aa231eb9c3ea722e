package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"

	"deskpilot/pkg/api"
	"deskpilot/pkg/mocks"
	"deskpilot/pkg/monitor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type recordingMonitor struct {
	monitor.Nop
	mu   sync.Mutex
	msgs []monitor.MonitorMessage
}

func (r *recordingMonitor) OnMessage(msg monitor.MonitorMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

// plainChannel has no signaling support.
type plainChannel struct{ sent []string }

func (c *plainChannel) ID() string                     { return "plain" }
func (c *plainChannel) Start(api.ChannelContext) error { return nil }
func (c *plainChannel) Stop() error                    { return nil }
func (c *plainChannel) Send(_ SessionContext, msg string) error {
	c.sent = append(c.sent, msg)
	return nil
}

type sessionHandler struct {
	responder api.MessageResponder
	msgs      []*UnifiedMessage
	closed    []SessionContext
}

func (h *sessionHandler) SetResponder(r api.MessageResponder)    { h.responder = r }
func (h *sessionHandler) OnMessage(msg *UnifiedMessage)          { h.msgs = append(h.msgs, msg) }
func (h *sessionHandler) OnSessionClosed(session SessionContext) { h.closed = append(h.closed, session) }

func TestGatewayManager_Routing(t *testing.T) {
	web := &mocks.MockChannel{Name: "web"}
	web.On("Start", mock.Anything).Return(nil)
	web.On("Send", alice, "done!").Return(nil)
	web.On("SendSignal", alice, api.SignalThinking).Return(nil)
	plain := &plainChannel{}

	mon := &recordingMonitor{}
	h := &sessionHandler{}
	gw, err := NewGatewayBuilder(zaptest.NewLogger(t)).
		WithMonitor(mon).
		WithChannel(web, plain).
		WithHandler(h).
		Build(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"web", "plain"}, gw.ChannelIDs())
	assert.Same(t, gw, h.responder)

	msg := &UnifiedMessage{Session: alice, Content: "open the browser"}
	gw.OnMessage("web", msg)
	require.Len(t, h.msgs, 1)
	assert.Same(t, msg, h.msgs[0])

	require.NoError(t, gw.SendSignal(alice, api.SignalThinking))
	require.NoError(t, gw.SendReply(alice, "done!"))
	web.AssertExpectations(t)

	// Channels without signaling ignore signals.
	plainSession := SessionContext{ChannelID: "plain", ChatID: "p"}
	assert.NoError(t, gw.SendSignal(plainSession, api.SignalThinking))
	require.NoError(t, gw.SendReply(plainSession, "hi"))
	assert.Equal(t, []string{"hi"}, plain.sent)

	assert.Error(t, gw.SendReply(SessionContext{ChannelID: "nope"}, "x"))
	assert.Error(t, gw.SendSignal(SessionContext{ChannelID: "nope"}, "x"))

	gw.OnSessionClosed(alice)
	assert.Equal(t, []SessionContext{alice}, h.closed)

	mon.mu.Lock()
	defer mon.mu.Unlock()
	require.GreaterOrEqual(t, len(mon.msgs), 2)
	assert.Equal(t, monitor.TypeUser, mon.msgs[0].MessageType)
	assert.Equal(t, "open the browser", mon.msgs[0].Content)
	assert.Equal(t, monitor.TypeAssistant, mon.msgs[1].MessageType)
	assert.Equal(t, "done!", mon.msgs[1].Content)
}

func TestGatewayManager_StartAllStopsStartedOnFailure(t *testing.T) {
	good := &mocks.MockChannel{Name: "good"}
	good.On("Start", mock.Anything).Return(nil)
	good.On("Stop").Return(nil)
	bad := &mocks.MockChannel{Name: "bad"}
	bad.On("Start", mock.Anything).Return(errors.New("port in use"))

	_, err := NewGatewayBuilder(zaptest.NewLogger(t)).
		WithChannel(good, bad).
		Build(context.Background())
	require.ErrorContains(t, err, "port in use")
	good.AssertCalled(t, "Stop")
	bad.AssertNotCalled(t, "Stop")
}

func TestGatewayManager_NoHandler(t *testing.T) {
	gw := NewGatewayManager(zaptest.NewLogger(t))
	assert.NotPanics(t, func() {
		gw.OnMessage("web", &UnifiedMessage{Session: alice, Content: "hi"})
		gw.OnSessionClosed(alice)
	})
}

func TestGatewayManager_StopAll(t *testing.T) {
	c := &mocks.MockChannel{Name: "web"}
	c.On("Stop").Return(errors.New("already stopped"))
	gw := NewGatewayManager(zaptest.NewLogger(t))
	gw.Register(c)
	gw.StopAll()
	c.AssertCalled(t, "Stop")
}

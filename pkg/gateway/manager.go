package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"deskpilot/pkg/api"
	"deskpilot/pkg/monitor"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// GatewayManager owns every channel and routes their messages.
type GatewayManager struct {
	channels   map[string]Channel
	msgHandler MessageHandler
	onClosed   func(SessionContext)
	monitor    monitor.Monitor
	logger     *zap.Logger
	mu         sync.RWMutex
}

func NewGatewayManager(logger *zap.Logger) *GatewayManager {
	return &GatewayManager{
		channels: make(map[string]Channel),
		monitor:  monitor.Nop{},
		logger:   logger.Named("gateway"),
	}
}

// SetMessageHandler sets the function that processes incoming messages.
func (g *GatewayManager) SetMessageHandler(handler MessageHandler) {
	g.msgHandler = handler
}

// SetSessionClosedHandler sets the callback for conversations ended by a
// channel.
func (g *GatewayManager) SetSessionClosedHandler(fn func(SessionContext)) {
	g.onClosed = fn
}

func (g *GatewayManager) SetMonitor(m monitor.Monitor) {
	g.monitor = m
}

func (g *GatewayManager) Register(c Channel) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.channels[c.ID()] = c
}

func (g *GatewayManager) GetChannel(id string) (Channel, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	c, ok := g.channels[id]
	return c, ok
}

// ChannelIDs lists the registered channels.
func (g *GatewayManager) ChannelIDs() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ids := make([]string, 0, len(g.channels))
	for id := range g.channels {
		ids = append(ids, id)
	}
	return ids
}

// StartAll starts every registered channel concurrently. If any fails, the
// ones already started are stopped and the first error is returned.
func (g *GatewayManager) StartAll(ctx context.Context) error {
	g.mu.RLock()
	channels := make([]Channel, 0, len(g.channels))
	for _, c := range g.channels {
		channels = append(channels, c)
	}
	g.mu.RUnlock()

	var (
		mu      sync.Mutex
		started []Channel
	)
	eg, _ := errgroup.WithContext(ctx)
	for _, c := range channels {
		eg.Go(func() error {
			g.logger.Info("Starting channel", zap.String("channel", c.ID()))
			if err := c.Start(g); err != nil {
				return fmt.Errorf("failed to start channel %s: %w", c.ID(), err)
			}
			mu.Lock()
			started = append(started, c)
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		for _, c := range started {
			if stopErr := c.Stop(); stopErr != nil {
				g.logger.Warn("Error stopping channel", zap.String("channel", c.ID()), zap.Error(stopErr))
			}
		}
		return err
	}
	return nil
}

// StopAll stops every channel.
func (g *GatewayManager) StopAll() {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for id, c := range g.channels {
		g.logger.Info("Stopping channel", zap.String("channel", id))
		if err := c.Stop(); err != nil {
			g.logger.Warn("Error stopping channel", zap.String("channel", id), zap.Error(err))
		}
	}
}

// SendReply sends content back through the session's channel.
func (g *GatewayManager) SendReply(session SessionContext, content string) error {
	g.logger.Debug("Reply", zap.String("channel", session.ChannelID), zap.String("user", session.Username), zap.Int("len", len(content)))
	g.monitor.OnMessage(monitor.MonitorMessage{
		Timestamp:   time.Now(),
		MessageType: monitor.TypeAssistant,
		ChannelID:   session.ChannelID,
		Username:    session.Username,
		Content:     content,
	})

	c, ok := g.GetChannel(session.ChannelID)
	if !ok {
		return fmt.Errorf("channel %s not found", session.ChannelID)
	}
	return c.Send(session, content)
}

// SendSignal sends a control signal such as thinking to the channel.
func (g *GatewayManager) SendSignal(session SessionContext, signal string) error {
	c, ok := g.GetChannel(session.ChannelID)
	if !ok {
		return fmt.Errorf("channel %s not found", session.ChannelID)
	}
	if sc, ok := c.(SignalingChannel); ok {
		return sc.SendSignal(session, signal)
	}
	// Channels without signal support ignore it.
	return nil
}

// OnMessage implements ChannelContext for messages coming from a channel.
func (g *GatewayManager) OnMessage(channelID string, msg *UnifiedMessage) {
	g.logger.Info("Received",
		zap.String("channel", channelID),
		zap.String("user", msg.Session.Username),
		zap.String("user_id", msg.Session.UserID),
		zap.String("content", msg.Content))
	g.monitor.OnMessage(monitor.MonitorMessage{
		Timestamp:   time.Now(),
		MessageType: monitor.TypeUser,
		ChannelID:   channelID,
		Username:    msg.Session.Username,
		Content:     msg.Content,
	})

	if g.msgHandler == nil {
		g.logger.Warn("No message handler set")
		return
	}
	g.msgHandler(msg)
}

func (g *GatewayManager) OnSessionClosed(session SessionContext) {
	g.logger.Debug("Session closed", zap.String("key", session.Key()))
	if g.onClosed != nil {
		g.onClosed(session)
	}
}

var _ api.ChannelContext = (*GatewayManager)(nil)

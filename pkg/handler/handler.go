package handler

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"deskpilot/pkg/api"
	"deskpilot/pkg/gateway"
	"deskpilot/pkg/llm"
	"deskpilot/pkg/tools"

	"go.uber.org/zap"
)

const greeting = "Hi! Tell me what to do on the desktop, e.g. \"open the browser and search for the weather\". Send /reset to start over."

// Options tunes message processing.
type Options struct {
	// ThinkingDelay is how long an instruction may run before the thinking
	// signal is sent. Zero sends it immediately.
	ThinkingDelay time.Duration
	// Timeout bounds one instruction. Zero means no limit.
	Timeout time.Duration
}

// ChatHandler routes incoming channel messages to the agent serving their
// conversation and sends the answer back through the gateway.
// Messages are processed in the background; messages of one conversation
// run in arrival order because the pool serializes them.
type ChatHandler struct {
	pool      *gateway.AgentPool
	responder api.MessageResponder
	opts      Options
	logger    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(pool *gateway.AgentPool, opts Options, logger *zap.Logger) *ChatHandler {
	ctx, cancel := context.WithCancel(context.Background())
	return &ChatHandler{
		pool:   pool,
		opts:   opts,
		logger: logger.Named("handler"),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (h *ChatHandler) SetResponder(responder api.MessageResponder) {
	h.responder = responder
}

// OnMessage assigns a DebugID for log grouping if missing and processes the
// message in the background.
func (h *ChatHandler) OnMessage(msg *gateway.UnifiedMessage) {
	if msg.DebugID == "" {
		b := make([]byte, 2)
		_, _ = rand.Read(b)
		msg.DebugID = fmt.Sprintf("%x", b)
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.process(msg)
	}()
}

func (h *ChatHandler) process(msg *gateway.UnifiedMessage) {
	logger := h.logger.With(zap.String("key", msg.Session.Key()), zap.String("debug_id", msg.DebugID))

	// Slash commands never reach the agent.
	if strings.HasPrefix(msg.Content, "/") {
		h.handleCommand(msg, logger)
		return
	}

	ctx := llm.WithDebugID(h.ctx, msg.DebugID)
	if h.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opts.Timeout)
		defer cancel()
	}

	signaled := make(chan struct{})
	thinking := time.AfterFunc(h.opts.ThinkingDelay, func() {
		defer close(signaled)
		h.signal(msg.Session, api.SignalThinking, logger)
	})

	start := time.Now()
	reply, err := h.pool.Chat(ctx, msg.Session, msg.Content)
	if !thinking.Stop() {
		// The reply must not overtake the thinking signal.
		<-signaled
	}
	if errors.Is(err, gateway.ErrConversationEnded) {
		logger.Info("Dropping message for a closed session")
		return
	}
	if err != nil {
		logger.Error("Instruction failed", zap.Error(err))
		reply = fmt.Sprintf("❌ Error: %v", err)
	}
	logger.Info("Agent loop finished", zap.Duration("duration", time.Since(start)))

	h.reply(msg.Session, reply, logger)
	h.signal(msg.Session, api.SignalDone, logger)
}

// handleCommand executes administrative commands:
//
//	/start    greeting
//	/reset    end the conversation and terminate its sandbox
//	/actions  list the desktop actions the agent can take
func (h *ChatHandler) handleCommand(msg *gateway.UnifiedMessage, logger *zap.Logger) {
	name, _, _ := strings.Cut(strings.TrimPrefix(msg.Content, "/"), " ")
	// Telegram appends the bot name in groups: /reset@deskpilot_bot
	name, _, _ = strings.Cut(name, "@")

	switch strings.ToLower(name) {
	case "start", "help":
		h.reply(msg.Session, greeting, logger)
	case "reset":
		ctx, cancel := context.WithTimeout(h.ctx, time.Minute)
		defer cancel()
		known, err := h.pool.Release(ctx, msg.Session)
		switch {
		case err != nil:
			h.reply(msg.Session, fmt.Sprintf("❌ Reset failed: %v", err), logger)
		case known:
			h.reply(msg.Session, "Conversation reset. The desktop was shut down.", logger)
		default:
			h.reply(msg.Session, "Nothing to reset.", logger)
		}
	case "actions":
		h.reply(msg.Session, "Available actions:\n"+strings.Join(tools.Names(), "\n"), logger)
	default:
		h.reply(msg.Session, fmt.Sprintf("❌ Unknown command /%s. Try /start, /reset or /actions.", name), logger)
	}
}

// OnSessionClosed ends the conversation in the background. Messages of the
// session still in flight are dropped instead of starting a new agent.
func (h *ChatHandler) OnSessionClosed(session gateway.SessionContext) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := h.pool.End(ctx, session); err != nil {
			h.logger.Warn("Failed to release closed session", zap.String("key", session.Key()), zap.Error(err))
		}
	}()
}

// Close cancels running instructions and waits for them to finish.
func (h *ChatHandler) Close() {
	h.cancel()
	h.wg.Wait()
}

// Wait blocks until every accepted message has been processed.
func (h *ChatHandler) Wait() {
	h.wg.Wait()
}

func (h *ChatHandler) reply(session gateway.SessionContext, content string, logger *zap.Logger) {
	if h.responder == nil {
		logger.Warn("No responder set, dropping reply")
		return
	}
	if err := h.responder.SendReply(session, content); err != nil {
		logger.Error("Failed to send reply", zap.Error(err))
	}
}

func (h *ChatHandler) signal(session gateway.SessionContext, signal string, logger *zap.Logger) {
	if h.responder == nil {
		return
	}
	if err := h.responder.SendSignal(session, signal); err != nil {
		logger.Debug("Failed to send signal", zap.String("signal", signal), zap.Error(err))
	}
}

var (
	_ api.MessageProcessor = (*ChatHandler)(nil)
	_ api.ResponderAware   = (*ChatHandler)(nil)
	_ api.SessionAware     = (*ChatHandler)(nil)
)

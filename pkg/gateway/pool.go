package gateway

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrConversationEnded is returned by Chat for a conversation whose channel
// session was closed.
var ErrConversationEnded = errors.New("conversation has ended")

// AgentPool keeps one Assistant per conversation key. Calls on the same
// key are serialized; different keys run concurrently.
type AgentPool struct {
	logger *zap.Logger

	mu      sync.RWMutex
	factory AssistantFactory
	entries map[string]*poolEntry
	// ended holds keys closed by End. Channels mint a new key per session,
	// so an ended key never legitimately comes back.
	ended map[string]struct{}
}

type poolEntry struct {
	mu          sync.Mutex
	assistant   Assistant
	initialized bool
	released    bool
}

func NewAgentPool(factory AssistantFactory, logger *zap.Logger) *AgentPool {
	return &AgentPool{
		factory: factory,
		entries: make(map[string]*poolEntry),
		ended:   make(map[string]struct{}),
		logger:  logger.Named("pool"),
	}
}

// SetFactory replaces the factory used for conversations started from now
// on. Running conversations keep their assistant.
func (p *AgentPool) SetFactory(factory AssistantFactory) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.factory = factory
}

func (p *AgentPool) entry(session SessionContext) (*poolEntry, error) {
	key := session.Key()

	p.mu.RLock()
	e, ok := p.entries[key]
	_, ended := p.ended[key]
	p.mu.RUnlock()
	if ended {
		return nil, ErrConversationEnded
	}
	if ok {
		return e, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Double check under lock
	if _, ended = p.ended[key]; ended {
		return nil, ErrConversationEnded
	}
	if e, ok = p.entries[key]; ok {
		return e, nil
	}
	e = &poolEntry{assistant: p.factory(session)}
	p.entries[key] = e
	return e, nil
}

// lock returns the conversation's entry with its mutex held.
func (p *AgentPool) lock(session SessionContext) (*poolEntry, error) {
	for {
		e, err := p.entry(session)
		if err != nil {
			return nil, err
		}
		e.mu.Lock()
		if p.isEnded(session.Key()) {
			e.mu.Unlock()
			return nil, ErrConversationEnded
		}
		if !e.released {
			return e, nil
		}
		// Lost a race with Release; the next entry() creates a fresh one
		// unless the conversation ended.
		e.mu.Unlock()
	}
}

func (p *AgentPool) isEnded(key string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.ended[key]
	return ok
}

// Chat sends instruction to the conversation's assistant, initializing it
// on first use. It fails with ErrConversationEnded after End.
func (p *AgentPool) Chat(ctx context.Context, session SessionContext, instruction string) (string, error) {
	e, err := p.lock(session)
	if err != nil {
		return "", err
	}
	defer e.mu.Unlock()

	if !e.initialized {
		if err := e.assistant.Initialize(ctx); err != nil {
			return "", err
		}
		e.initialized = true
		p.logger.Info("Conversation started", zap.String("key", session.Key()))
	}
	return e.assistant.Chat(ctx, instruction)
}

// Release cleans up the conversation's assistant, waiting for a running
// Chat on it to finish. It reports whether the key was known. A later Chat
// starts a fresh conversation.
func (p *AgentPool) Release(ctx context.Context, session SessionContext) (bool, error) {
	return p.release(ctx, session.Key(), false)
}

// End releases the conversation for good: Chat on its key fails with
// ErrConversationEnded from now on, including a Chat that was queued
// before the session closed.
func (p *AgentPool) End(ctx context.Context, session SessionContext) error {
	_, err := p.release(ctx, session.Key(), true)
	return err
}

func (p *AgentPool) release(ctx context.Context, key string, end bool) (bool, error) {
	p.mu.Lock()
	if end {
		p.ended[key] = struct{}{}
	}
	e, ok := p.entries[key]
	delete(p.entries, key)
	p.mu.Unlock()
	if !ok {
		return false, nil
	}
	return true, p.cleanup(ctx, key, e)
}

// cleanup releases e. When the assistant fails to clean up, e goes back
// into the pool, still initialized, so a later Release or Close retries.
func (p *AgentPool) cleanup(ctx context.Context, key string, e *poolEntry) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.released = true
	if !e.initialized {
		return nil
	}
	if err := e.assistant.Cleanup(ctx); err != nil {
		p.logger.Warn("Cleanup failed", zap.String("key", key), zap.Error(err))
		p.restore(key, e)
		return err
	}
	e.initialized = false
	p.logger.Info("Conversation released", zap.String("key", key))
	return nil
}

// restore puts e back under key unless a newer entry took its place. The
// caller holds e.mu.
func (p *AgentPool) restore(key string, e *poolEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.entries[key]; ok {
		return
	}
	e.released = false
	p.entries[key] = e
}

// Len is the number of tracked conversations.
func (p *AgentPool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entries)
}

// Close releases every conversation. Conversations that failed to clean
// up stay tracked.
func (p *AgentPool) Close(ctx context.Context) error {
	p.mu.Lock()
	entries := p.entries
	p.entries = make(map[string]*poolEntry)
	p.mu.Unlock()

	var errs []error
	for key, e := range entries {
		if err := p.cleanup(ctx, key, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

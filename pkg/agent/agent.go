// Package agent runs the conversation turn loop: screenshot, completion,
// action execution and follow-up, over one sandbox session.
package agent

import (
	"context"
	"strings"
	"sync"
	"time"

	"deskpilot/pkg/llm"
	"deskpilot/pkg/monitor"
	"deskpilot/pkg/sandbox"
	"deskpilot/pkg/tools"

	"go.uber.org/zap"
)

// FallbackResponse is returned when the model produced no text at all.
const FallbackResponse = "Task completed. Ready for the next instruction."

const (
	DefaultMaxTokens     = 1024
	DefaultMaxRoundTrips = 2
)

type Options struct {
	// SystemPrompt defaults to tools.SystemPrompt().
	SystemPrompt string
	MaxTokens    int
	// MaxRoundTrips caps the completion requests per instruction. The
	// minimum, and default, is 2: the request carrying the screenshot plus
	// one follow-up after the requested actions ran.
	MaxRoundTrips  int
	ScreenshotWait time.Duration
	LaunchWait     time.Duration

	Monitor monitor.Monitor
	// Label identifies the conversation in monitor output.
	Label string
}

func (o *Options) applyDefaults() {
	if o.SystemPrompt == "" {
		o.SystemPrompt = tools.SystemPrompt()
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = DefaultMaxTokens
	}
	if o.MaxRoundTrips < DefaultMaxRoundTrips {
		o.MaxRoundTrips = DefaultMaxRoundTrips
	}
	if o.Monitor == nil {
		o.Monitor = monitor.Nop{}
	}
	if o.Label == "" {
		o.Label = "agent"
	}
}

// Agent owns one sandbox session and the conversation held over it.
//
// Chat is not safe for concurrent use: callers serialize instructions to an
// agent. Initialize, Cleanup and History may be called from any goroutine.
type Agent struct {
	opts     Options
	client   llm.Client
	provider sandbox.Provider
	catalog  []llm.ToolSpec
	logger   *zap.Logger

	mu       sync.Mutex
	session  sandbox.Session
	executor *tools.Executor
	history  *llm.ChatHistory
}

func New(opts Options, client llm.Client, provider sandbox.Provider, logger *zap.Logger) *Agent {
	opts.applyDefaults()
	return &Agent{
		opts:     opts,
		client:   client,
		provider: provider,
		catalog:  tools.Catalog(),
		logger:   logger.Named("agent").With(zap.String("conversation", opts.Label)),
		history:  llm.NewChatHistory(),
	}
}

// Initialize creates the sandbox session.
func (a *Agent) Initialize(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.session != nil {
		return ErrAlreadyInitialized
	}
	session, err := a.provider.CreateSession(ctx)
	if err != nil {
		return &SandboxError{Op: "create session", Err: err}
	}

	a.session = session
	a.executor = tools.NewExecutor(session, tools.Delays{
		Screenshot: a.opts.ScreenshotWait,
		Launch:     a.opts.LaunchWait,
	}, a.logger)
	a.logger.Info("Agent initialized", zap.String("backend", a.provider.Name()), zap.String("sandbox_id", session.ID()))
	return nil
}

// Cleanup terminates the session and discards the history. It is a no-op
// on an agent that is not initialized. When termination fails the agent
// keeps its session so Cleanup can be retried.
func (a *Agent) Cleanup(ctx context.Context) error {
	a.mu.Lock()
	session := a.session
	a.mu.Unlock()

	if session == nil {
		return nil
	}
	if err := session.Terminate(ctx); err != nil {
		return &SandboxError{Op: "terminate session", Err: err}
	}

	a.mu.Lock()
	if a.session == session {
		a.session = nil
		a.executor = nil
		a.history = llm.NewChatHistory()
	}
	a.mu.Unlock()
	a.logger.Info("Agent cleaned up", zap.String("sandbox_id", session.ID()))
	return nil
}

// Initialized reports whether the agent holds a live session.
func (a *Agent) Initialized() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session != nil
}

// History returns a copy of the conversation so far.
func (a *Agent) History() []llm.Message {
	a.mu.Lock()
	history := a.history
	a.mu.Unlock()
	return history.Messages()
}

func (a *Agent) state() (*tools.Executor, *llm.ChatHistory) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.executor, a.history
}

// Chat runs one instruction to completion and returns the model's answer.
//
// The instruction is sent with a fresh screenshot. Actions the model
// requests run in order, their results are appended as one results turn,
// and the model is asked to follow up without a new screenshot. Text from
// every response is concatenated into the answer.
//
// Turns appended before a failure stay in the history.
func (a *Agent) Chat(ctx context.Context, instruction string) (string, error) {
	executor, history := a.state()
	if executor == nil {
		return "", ErrNotInitialized
	}

	history.Add(llm.NewUserMessage(instruction))
	a.report(monitor.TypeUser, instruction)

	img, mediaType, err := executor.Screenshot(ctx)
	if err != nil {
		a.report(monitor.TypeError, err.Error())
		return "", &SandboxError{Op: "capture screen", Err: err}
	}

	messages := llm.WireOrder(history.Messages())
	last := len(messages) - 1
	messages[last] = messages[last].WithBlocks(llm.NewImageBlock(img, mediaType))

	resp, err := a.complete(ctx, messages)
	if err != nil {
		return "", err
	}

	var answer strings.Builder
	answer.WriteString(resp.Text())

	if len(resp.ToolCalls) == 0 {
		history.Add(llm.NewAssistantMessage(resp.Text(), nil))
		a.report(monitor.TypeAssistant, resp.Text())
		return orFallback(answer.String()), nil
	}

	for trips := 1; ; {
		calls := withIDs(resp.ToolCalls)
		results := a.execute(ctx, executor, calls)

		history.Add(llm.NewAssistantMessage(resp.Text(), calls))
		history.Add(llm.NewToolResultsMessage(results))
		a.report(monitor.TypeAssistant, resp.Text())

		resp, err = a.complete(ctx, llm.WireOrder(history.Messages()))
		if err != nil {
			return "", err
		}
		trips++
		answer.WriteString(resp.Text())

		if len(resp.ToolCalls) == 0 {
			break
		}
		if trips >= a.opts.MaxRoundTrips {
			a.logger.Warn("Dropping tool calls past the round-trip limit",
				zap.Int("max_round_trips", a.opts.MaxRoundTrips),
				zap.Strings("tools", callNames(resp.ToolCalls)))
			break
		}
	}

	history.SetFollowUp(resp.Text())
	a.report(monitor.TypeAssistant, resp.Text())
	return orFallback(answer.String()), nil
}

func (a *Agent) complete(ctx context.Context, messages []llm.Message) (*llm.Response, error) {
	req := &llm.Request{
		MaxTokens: a.opts.MaxTokens,
		System:    a.opts.SystemPrompt,
		Messages:  messages,
		Tools:     a.catalog,
	}

	start := time.Now()
	resp, err := a.client.Complete(ctx, req)
	if err != nil {
		a.logger.Error("Completion failed", zap.String("provider", a.client.Provider()), zap.Error(err))
		a.report(monitor.TypeError, err.Error())
		return nil, &ProviderError{Provider: a.client.Provider(), Err: err}
	}

	a.logger.Debug("Completion received",
		zap.Int("messages", len(messages)),
		zap.Int("tool_calls", len(resp.ToolCalls)),
		zap.String("stop_reason", resp.StopReason),
		zap.Duration("elapsed", time.Since(start)))
	if resp.StopReason == llm.StopReasonLength {
		a.logger.Warn("Response truncated by max_tokens", zap.Int("max_tokens", a.opts.MaxTokens))
	}
	return resp, nil
}

// execute runs calls strictly in order and returns one result per call.
func (a *Agent) execute(ctx context.Context, executor *tools.Executor, calls []llm.ToolCall) []llm.ToolResult {
	results := make([]llm.ToolResult, 0, len(calls))
	for _, call := range calls {
		a.report(monitor.TypeAction, call.Name+" "+call.Arguments)
		res := executor.Execute(ctx, call)
		a.report(monitor.TypeResult, res.JSON())
		results = append(results, res.ToolResult(call))
	}
	return results
}

func (a *Agent) report(kind, content string) {
	if content == "" {
		return
	}
	a.opts.Monitor.OnMessage(monitor.MonitorMessage{
		Timestamp:   time.Now(),
		MessageType: kind,
		ChannelID:   a.opts.Label,
		Content:     content,
	})
}

// withIDs returns calls with a correlation ID minted for any the provider
// left empty.
func withIDs(calls []llm.ToolCall) []llm.ToolCall {
	out := make([]llm.ToolCall, len(calls))
	copy(out, calls)
	for i := range out {
		if out[i].ID == "" {
			out[i].ID = llm.NewToolCallID()
		}
	}
	return out
}

func callNames(calls []llm.ToolCall) []string {
	names := make([]string, len(calls))
	for i, c := range calls {
		names[i] = c.Name
	}
	return names
}

func orFallback(text string) string {
	if text == "" {
		return FallbackResponse
	}
	return text
}

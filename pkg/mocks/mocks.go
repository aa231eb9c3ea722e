// Package mocks holds testify mocks of the sandbox and completion boundaries
// shared by package tests.
package mocks

import (
	"context"

	"deskpilot/pkg/api"
	"deskpilot/pkg/llm"
	"deskpilot/pkg/sandbox"

	"github.com/stretchr/testify/mock"
)

// -- Sandbox Mocks --

// MockProvider mocks sandbox.Provider.
type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) Name() string { return "mock" }

func (m *MockProvider) CreateSession(ctx context.Context) (sandbox.Session, error) {
	args := m.Called(ctx)
	if s := args.Get(0); s != nil {
		return s.(sandbox.Session), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockSession mocks sandbox.Session.
type MockSession struct {
	mock.Mock
}

func (m *MockSession) ID() string { return "mock-session" }

func (m *MockSession) CaptureScreen(ctx context.Context) ([]byte, error) {
	args := m.Called(ctx)
	if b := args.Get(0); b != nil {
		return b.([]byte), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockSession) Click(ctx context.Context, x, y int, button sandbox.Button, double bool) error {
	return m.Called(ctx, x, y, button, double).Error(0)
}

func (m *MockSession) SendText(ctx context.Context, text string) error {
	return m.Called(ctx, text).Error(0)
}

func (m *MockSession) SendKey(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

func (m *MockSession) Launch(ctx context.Context, app string) error {
	return m.Called(ctx, app).Error(0)
}

func (m *MockSession) Terminate(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// -- LLM Mocks --

// MockClient mocks llm.Client.
type MockClient struct {
	mock.Mock
}

func (m *MockClient) Provider() string { return "mock" }

func (m *MockClient) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	args := m.Called(ctx, req)
	if r := args.Get(0); r != nil {
		return r.(*llm.Response), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockClient) IsTransientError(err error) bool { return false }

// Requests returns the requests passed to Complete, in call order.
func (m *MockClient) Requests() []*llm.Request {
	var reqs []*llm.Request
	for _, call := range m.Calls {
		if call.Method == "Complete" {
			reqs = append(reqs, call.Arguments.Get(1).(*llm.Request))
		}
	}
	return reqs
}

// TextResponse is a completion with a single text fragment.
func TextResponse(text string) *llm.Response {
	resp := &llm.Response{StopReason: llm.StopReasonStop}
	if text != "" {
		resp.Content = []llm.ContentBlock{llm.NewTextBlock(text)}
	}
	return resp
}

// ToolResponse is a completion requesting calls, with optional leading text.
func ToolResponse(text string, calls ...llm.ToolCall) *llm.Response {
	resp := TextResponse(text)
	resp.ToolCalls = calls
	resp.StopReason = llm.StopReasonToolUse
	return resp
}

// -- Gateway Mocks --

// MockAssistant mocks api.Assistant.
type MockAssistant struct {
	mock.Mock
}

func (m *MockAssistant) Initialize(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockAssistant) Chat(ctx context.Context, instruction string) (string, error) {
	args := m.Called(ctx, instruction)
	return args.String(0), args.Error(1)
}

func (m *MockAssistant) Cleanup(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// MockChannel mocks api.SignalingChannel.
type MockChannel struct {
	mock.Mock
	Name string
}

func (m *MockChannel) ID() string { return m.Name }

func (m *MockChannel) Start(ctx api.ChannelContext) error {
	return m.Called(ctx).Error(0)
}

func (m *MockChannel) Stop() error {
	return m.Called().Error(0)
}

func (m *MockChannel) Send(session api.SessionContext, message string) error {
	return m.Called(session, message).Error(0)
}

func (m *MockChannel) SendSignal(session api.SessionContext, signal string) error {
	return m.Called(session, signal).Error(0)
}

// MockResponder mocks api.MessageResponder.
type MockResponder struct {
	mock.Mock
}

func (m *MockResponder) SendReply(session api.SessionContext, content string) error {
	return m.Called(session, content).Error(0)
}

func (m *MockResponder) SendSignal(session api.SessionContext, signal string) error {
	return m.Called(session, signal).Error(0)
}

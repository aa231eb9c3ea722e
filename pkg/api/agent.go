package api

import (
	"context"
)

// Assistant is one desktop agent serving one conversation. agent.Agent
// implements it.
type Assistant interface {
	Initialize(ctx context.Context) error
	Chat(ctx context.Context, instruction string) (string, error)
	Cleanup(ctx context.Context) error
}

// AssistantFactory builds the assistant for a new conversation.
type AssistantFactory func(session SessionContext) Assistant

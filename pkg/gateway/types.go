package gateway

import (
	"deskpilot/pkg/api"
)

type Channel = api.Channel
type SignalingChannel = api.SignalingChannel
type MessageResponder = api.MessageResponder
type ChannelContext = api.ChannelContext
type UnifiedMessage = api.UnifiedMessage
type SessionContext = api.SessionContext
type MessageHandler = api.MessageHandler
type Assistant = api.Assistant
type AssistantFactory = api.AssistantFactory

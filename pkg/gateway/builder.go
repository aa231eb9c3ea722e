package gateway

import (
	"context"
	"fmt"

	"deskpilot/pkg/api"
	"deskpilot/pkg/monitor"

	"go.uber.org/zap"
)

// GatewayBuilder provides a fluent builder pattern interface for constructing
// and starting a GatewayManager.
type GatewayBuilder struct {
	gw             *GatewayManager
	monitor        monitor.Monitor
	handlerBuilder func(api.MessageResponder) api.MessageProcessor
	channels       []api.Channel
}

func NewGatewayBuilder(logger *zap.Logger) *GatewayBuilder {
	return &GatewayBuilder{
		gw: NewGatewayManager(logger),
	}
}

// WithMonitor injects a monitoring implementation into the builder.
// This monitor will be started automatically during the Build() process.
func (b *GatewayBuilder) WithMonitor(m monitor.Monitor) *GatewayBuilder {
	b.monitor = m
	return b
}

// WithChannel adds pre-built channel instances to the gateway.
func (b *GatewayBuilder) WithChannel(channels ...api.Channel) *GatewayBuilder {
	b.channels = append(b.channels, channels...)
	return b
}

// WithHandler injects the message handler. A handler implementing
// api.ResponderAware gets the gateway as its responder; one implementing
// api.SessionAware hears about closed sessions.
func (b *GatewayBuilder) WithHandler(h api.MessageProcessor) *GatewayBuilder {
	b.handlerBuilder = func(responder api.MessageResponder) api.MessageProcessor {
		if setter, ok := h.(api.ResponderAware); ok {
			setter.SetResponder(responder)
		}
		return h
	}
	return b
}

// Build wires everything together and starts the monitor and all channels.
func (b *GatewayBuilder) Build(ctx context.Context) (*GatewayManager, error) {
	if b.monitor != nil {
		b.gw.SetMonitor(b.monitor)
		if err := b.monitor.Start(); err != nil {
			return nil, fmt.Errorf("failed to start monitor: %w", err)
		}
	}

	for _, c := range b.channels {
		b.gw.Register(c)
	}

	if b.handlerBuilder != nil {
		if handler := b.handlerBuilder(b.gw); handler != nil {
			b.gw.SetMessageHandler(handler.OnMessage)
			if sa, ok := handler.(api.SessionAware); ok {
				b.gw.SetSessionClosedHandler(sa.OnSessionClosed)
			}
		}
	}

	if err := b.gw.StartAll(ctx); err != nil {
		return nil, fmt.Errorf("failed to start channels: %w", err)
	}
	return b.gw, nil
}

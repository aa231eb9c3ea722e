//go:build !linux

package xdesktop

import (
	"context"
	"errors"

	"deskpilot/pkg/config"
	"deskpilot/pkg/sandbox"

	"go.uber.org/zap"
)

type Provider struct{}

func New(config.SandboxConfig, *zap.Logger) (*Provider, error) {
	return nil, errors.New("xdesktop backend is only available on linux")
}

func (p *Provider) Name() string { return "xdesktop" }

func (p *Provider) CreateSession(context.Context) (sandbox.Session, error) {
	return nil, errors.New("xdesktop backend is only available on linux")
}

// Package xdesktop drives the X11 display of the local machine with
// xdotool. There is no isolation: use it on a throwaway VM or container.
package xdesktop

import (
	"deskpilot/pkg/config"
	"deskpilot/pkg/sandbox"

	"go.uber.org/zap"
)

func init() {
	sandbox.RegisterBackend("xdesktop", func(cfg config.SandboxConfig, logger *zap.Logger) (sandbox.Provider, error) {
		return New(cfg, logger)
	})
}

// Package autoload registers every built-in sandbox backend.
package autoload

import (
	_ "deskpilot/pkg/sandbox/chromium"
	_ "deskpilot/pkg/sandbox/remote"
	_ "deskpilot/pkg/sandbox/xdesktop"
)

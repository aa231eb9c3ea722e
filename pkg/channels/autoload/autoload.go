// Package autoload registers every built-in channel.
package autoload

import (
	_ "deskpilot/pkg/channels/telegram"
	_ "deskpilot/pkg/channels/web"
)

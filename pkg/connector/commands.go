// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aiku/mattermost-telnet-bridge/pkg/bridge"
)

// Bridge commands accepted by every chat platform.
const (
	CommandConnect    = "connect"
	CommandDisconnect = "disconnect"
	CommandStatus     = "status"
	CommandHelp       = "help"
)

// CommandUsage lists the accepted commands.
const CommandUsage = "Commands: connect, disconnect, status."

// IsCommand reports whether name is a bridge command.
func IsCommand(name string) bool {
	switch strings.ToLower(name) {
	case CommandConnect, CommandDisconnect, CommandStatus, CommandHelp:
		return true
	default:
		return false
	}
}

// RunCommand executes a bridge command and returns the reply for the user.
// Remote output after a successful connect is sent to sink.
func RunCommand(ctx context.Context, b BridgeAPI, sink bridge.ChannelSink, name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	var reply string
	switch name {
	case CommandConnect:
		_, reply = b.Connect(ctx, sink)
	case CommandDisconnect:
		_, reply = b.Disconnect()
	case CommandStatus:
		reply = StatusText(b.Status())
	case CommandHelp, "":
		name = CommandHelp
		reply = CommandUsage
	default:
		commandsHandled.WithLabelValues("unknown").Inc()
		return fmt.Sprintf("Unknown command %q. %s", name, CommandUsage)
	}
	commandsHandled.WithLabelValues(name).Inc()
	return reply
}

// StatusText renders a bridge status for chat.
func StatusText(st bridge.Status) string {
	switch st.State {
	case bridge.StateConnected:
		text := fmt.Sprintf("Connected to %s since %s.", st.Endpoint, st.ConnectedAt.UTC().Format(time.RFC3339))
		if st.Degraded {
			text += " The listener has stopped, disconnect and connect again to resume output."
		}
		return text
	case bridge.StateConnecting:
		return fmt.Sprintf("Connecting to %s.", st.Endpoint)
	default:
		return bridge.MsgNotConnected
	}
}

// Copyright 2024-2026 Aiku AI

package matrixsink

import (
	"context"
	"strings"
	"time"

	"maunium.net/go/mautrix/event"

	"github.com/aiku/mattermost-telnet-bridge/pkg/connector"
)

const relayTimeout = 10 * time.Second

func (c *Client) handleMessage(ctx context.Context, evt *event.Event) {
	if evt.RoomID != c.roomID {
		return
	}
	// Echo prevention: skip own events.
	if evt.Sender == c.client.UserID {
		return
	}
	content := evt.Content.AsMessage()
	if content == nil {
		return
	}
	// Echo prevention: notices are how bots talk, including this one.
	if content.MsgType == event.MsgNotice {
		return
	}
	if content.RelatesTo != nil && content.RelatesTo.Type == event.RelReplace {
		return
	}
	if content.MsgType != event.MsgText && content.MsgType != event.MsgEmote {
		return
	}
	body := content.Body
	if strings.TrimSpace(body) == "" {
		return
	}

	if name, ok := c.parseCommand(body); ok {
		c.log.Info().
			Str("command", name).
			Stringer("sender", evt.Sender).
			Msg("Command received")
		reply := connector.RunCommand(ctx, c.relay, c, name)
		if err := c.SendText(ctx, reply); err != nil {
			c.log.Warn().Err(err).Msg("Failed to send command reply")
		}
		return
	}

	c.log.Debug().
		Stringer("event_id", evt.ID).
		Stringer("sender", evt.Sender).
		Msg("Relaying message to telnet server")
	sendCtx, cancel := context.WithTimeout(ctx, relayTimeout)
	defer cancel()
	if err := c.relay.Send(sendCtx, body); err != nil {
		c.log.Warn().Err(err).Stringer("event_id", evt.ID).Msg("Failed to relay message to telnet server")
	}
}

// parseCommand recognizes "<prefix><command>" where command is a bridge
// command. Anything else is relayed as typed.
func (c *Client) parseCommand(body string) (string, bool) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(body), c.cfg.CommandPrefix)
	if !ok {
		return "", false
	}
	fields := strings.Fields(rest)
	if len(fields) == 0 || !connector.IsCommand(fields[0]) {
		return "", false
	}
	return strings.ToLower(fields[0]), true
}

// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package matrixsink attaches a bridge to a Matrix room instead of a
// Mattermost channel.
//
// Remote output is sent as m.notice events. Text messages in the room are
// relayed to the telnet server, except notices (other bots) and the bridge's
// own events. Messages starting with the command prefix followed by connect,
// disconnect, status or help are answered with a notice instead.
package matrixsink

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/mattermost-telnet-bridge/pkg/bridge"
	"github.com/aiku/mattermost-telnet-bridge/pkg/config"
	"github.com/aiku/mattermost-telnet-bridge/pkg/connector"
)

// Client is the bridge's Matrix session in one room.
type Client struct {
	cfg    config.MatrixConfig
	roomID id.RoomID
	relay  connector.BridgeAPI
	client *mautrix.Client
	log    zerolog.Logger
}

var _ bridge.ChannelSink = (*Client)(nil)

// New creates a Matrix client. Nothing touches the network until Start.
func New(cfg config.MatrixConfig, relay connector.BridgeAPI, log zerolog.Logger) (*Client, error) {
	cli, err := mautrix.NewClient(cfg.HomeserverURL, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create matrix client: %w", err)
	}
	log = log.With().Str("component", "matrix_client").Logger()
	cli.Log = log
	if cfg.CommandPrefix == "" {
		cfg.CommandPrefix = "!"
	}
	return &Client{
		cfg:    cfg,
		roomID: id.RoomID(cfg.RoomID),
		relay:  relay,
		client: cli,
		log:    log,
	}, nil
}

// Start verifies the access token and joins the watched room.
func (c *Client) Start(ctx context.Context) error {
	resp, err := c.client.Whoami(ctx)
	if err != nil {
		return fmt.Errorf("failed to verify matrix access token: %w", err)
	}
	if c.client.UserID == "" {
		c.client.UserID = resp.UserID
	} else if c.client.UserID != resp.UserID {
		return fmt.Errorf("access token belongs to %s, not %s", resp.UserID, c.client.UserID)
	}
	c.log.Info().Stringer("user_id", resp.UserID).Msg("Authenticated")

	if _, err := c.client.JoinRoomByID(ctx, c.roomID); err != nil {
		return fmt.Errorf("failed to join room %s: %w", c.roomID, err)
	}
	c.log.Info().Stringer("room_id", c.roomID).Msg("Watching room")
	return nil
}

// Run syncs until ctx is done. Events from before the first sync are
// ignored.
func (c *Client) Run(ctx context.Context) error {
	syncer, ok := c.client.Syncer.(mautrix.ExtensibleSyncer)
	if !ok {
		return errors.New("matrix syncer does not support event handlers")
	}
	syncer.OnSync(c.client.DontProcessOldEvents)
	syncer.OnEventType(event.EventMessage, c.handleMessage)

	c.log.Info().Msg("Starting sync")
	err := c.client.SyncWithContext(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("matrix sync failed: %w", err)
	}
	return nil
}

// SendText sends text to the watched room as a notice.
func (c *Client) SendText(ctx context.Context, text string) error {
	content := renderNotice(text)
	resp, err := c.client.SendMessageEvent(ctx, c.roomID, event.EventMessage, content)
	if err != nil {
		return fmt.Errorf("failed to send notice: %w", err)
	}
	c.log.Trace().Stringer("event_id", resp.EventID).Int("length", len(text)).Msg("Sent remote output")
	return nil
}

// UserID returns the bridge's Matrix user.
func (c *Client) UserID() id.UserID {
	return c.client.UserID
}

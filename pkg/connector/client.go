// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattermost/mattermost/server/public/model"
	"github.com/rs/zerolog"

	"github.com/aiku/mattermost-telnet-bridge/pkg/bridge"
	"github.com/aiku/mattermost-telnet-bridge/pkg/config"
)

const (
	reconnectMinDelay = time.Second
	reconnectMaxDelay = time.Minute
)

// BridgeAPI is the part of *bridge.Bridge the chat platforms drive.
type BridgeAPI interface {
	Connect(ctx context.Context, sink bridge.ChannelSink) (bool, string)
	Disconnect() (bool, string)
	Send(ctx context.Context, text string) error
	Status() bridge.Status
}

var _ BridgeAPI = (*bridge.Bridge)(nil)

// MattermostClient is the bridge's authenticated Mattermost session.
type MattermostClient struct {
	cfg   config.MattermostConfig
	relay BridgeAPI

	client   *model.Client4
	wsMu     sync.Mutex
	wsClient *model.WebSocketClient
	userID   string
	username string

	stopOnce sync.Once
	stopChan chan struct{}
	log      zerolog.Logger
}

var _ bridge.ChannelSink = (*MattermostClient)(nil)

var errClientStopped = errors.New("client stopped")

// NewMattermostClient creates a client for the configured server and token.
// Call Start to authenticate and begin listening.
func NewMattermostClient(cfg config.MattermostConfig, relay BridgeAPI, log zerolog.Logger) *MattermostClient {
	client := model.NewAPIv4Client(cfg.ServerURL)
	client.SetToken(cfg.Token)
	return &MattermostClient{
		cfg:      cfg,
		relay:    relay,
		client:   client,
		stopChan: make(chan struct{}),
		log:      log.With().Str("component", "mm_client").Logger(),
	}
}

// Start verifies the token and the watched channel, then connects the
// WebSocket. Events are handled in the background until Stop is called.
func (m *MattermostClient) Start(ctx context.Context) error {
	m.log.Info().Str("server_url", m.cfg.ServerURL).Msg("Connecting to Mattermost")

	me, _, err := m.client.GetMe(ctx, "")
	if err != nil {
		return fmt.Errorf("failed to verify Mattermost token: %w", err)
	}
	m.userID = me.Id
	m.username = me.Username
	m.log.Info().Str("user_id", me.Id).Str("username", me.Username).Msg("Authenticated")

	channel, _, err := m.client.GetChannel(ctx, m.cfg.ChannelID, "")
	if err != nil {
		return fmt.Errorf("failed to get watched channel %s: %w", m.cfg.ChannelID, err)
	}
	m.log.Info().
		Str("channel_id", channel.Id).
		Str("channel_name", channel.Name).
		Msg("Watching channel")

	if err := m.connectWebSocket(); err != nil {
		return err
	}
	return nil
}

func (m *MattermostClient) connectWebSocket() error {
	wsURL := httpToWS(m.cfg.ServerURL)
	ws, err := model.NewWebSocketClient4(wsURL, m.client.AuthToken)
	if err != nil {
		return fmt.Errorf("failed to create websocket client: %w", err)
	}

	m.wsMu.Lock()
	select {
	case <-m.stopChan:
		m.wsMu.Unlock()
		ws.Close()
		return errClientStopped
	default:
	}
	m.wsClient = ws
	m.wsMu.Unlock()

	ws.Listen()

	go m.listenWebSocket(ws)

	m.log.Info().Str("ws_url", wsURL).Msg("WebSocket connected")
	return nil
}

// httpToWS converts an HTTP(S) URL to a WS(S) URL.
func httpToWS(url string) string {
	if strings.HasPrefix(url, "https://") {
		return "wss://" + strings.TrimPrefix(url, "https://")
	}
	if strings.HasPrefix(url, "http://") {
		return "ws://" + strings.TrimPrefix(url, "http://")
	}
	return url
}

func (m *MattermostClient) listenWebSocket(ws *model.WebSocketClient) {
	for {
		select {
		case <-m.stopChan:
			return
		case evt, ok := <-ws.EventChannel:
			if !ok {
				m.log.Warn().Msg("WebSocket event channel closed, reconnecting")
				m.handleWebSocketDisconnect()
				return
			}
			if evt == nil {
				continue
			}
			m.handleEvent(evt)
		}
	}
}

// handleWebSocketDisconnect reconnects with exponential backoff until it
// succeeds or the client is stopped.
func (m *MattermostClient) handleWebSocketDisconnect() {
	delay := reconnectMinDelay
	for {
		select {
		case <-m.stopChan:
			return
		case <-time.After(delay):
		}
		err := m.connectWebSocket()
		if err == nil {
			return
		}
		m.log.Error().Err(err).Dur("retry_in", delay).Msg("Failed to reconnect WebSocket")
		delay = min(delay*2, reconnectMaxDelay)
	}
}

// SendText posts text into the watched channel.
func (m *MattermostClient) SendText(ctx context.Context, text string) error {
	post := &model.Post{
		ChannelId: m.cfg.ChannelID,
		Message:   text,
	}
	created, _, err := m.client.CreatePost(ctx, post)
	if err != nil {
		return fmt.Errorf("failed to create post: %w", err)
	}
	m.log.Trace().Str("post_id", created.Id).Int("length", len(text)).Msg("Posted remote output")
	return nil
}

// Stop closes the WebSocket and stops the event loop. It is safe to call
// more than once.
func (m *MattermostClient) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopChan)
	})
	m.wsMu.Lock()
	defer m.wsMu.Unlock()
	if m.wsClient != nil {
		m.wsClient.Close()
		m.wsClient = nil
	}
}

// IsThisUser reports whether userID is the bridge's own Mattermost user.
func (m *MattermostClient) IsThisUser(userID string) bool {
	return userID != "" && userID == m.userID
}

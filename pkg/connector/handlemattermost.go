// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattermost/mattermost/server/public/model"
)

const (
	propFromBot     = "from_bot"
	propFromWebhook = "from_webhook"

	relayTimeout = 10 * time.Second
)

var errNoPostData = errors.New("posted event missing post data")

// handleEvent dispatches a Mattermost WebSocket event. Only new posts are
// relayed; edits, deletions and reactions have no telnet equivalent.
func (m *MattermostClient) handleEvent(evt *model.WebSocketEvent) {
	switch evt.EventType() {
	case model.WebsocketEventPosted:
		m.handlePosted(evt)
	default:
		m.log.Trace().Str("event_type", string(evt.EventType())).Msg("Unhandled event type")
	}
}

// parsePostedEvent extracts a post from a WebSocket event and applies the
// echo prevention layers. Returns (nil, nil) to skip silently, (nil, err) to
// log an error, or (post, nil) to relay.
func (m *MattermostClient) parsePostedEvent(evt *model.WebSocketEvent) (*model.Post, error) {
	postJSON, ok := evt.GetData()["post"].(string)
	if !ok {
		return nil, errNoPostData
	}

	var post model.Post
	if err := json.Unmarshal([]byte(postJSON), &post); err != nil {
		return nil, fmt.Errorf("failed to unmarshal post: %w", err)
	}

	// Only the watched channel is bridged.
	if post.ChannelId != m.cfg.ChannelID {
		return nil, nil
	}

	// Echo prevention: skip own posts.
	if m.IsThisUser(post.UserId) {
		return nil, nil
	}

	// Echo prevention: skip non-default post types (system messages).
	if post.Type != "" && post.Type != model.PostTypeDefault {
		return nil, nil
	}

	// Echo prevention: skip bot and webhook posts.
	if isTrueProp(post.GetProp(propFromBot)) || isTrueProp(post.GetProp(propFromWebhook)) {
		m.log.Debug().
			Str("post_id", post.Id).
			Str("user_id", post.UserId).
			Msg("Skipping bot post (echo prevention)")
		return nil, nil
	}

	// Echo prevention: skip posts from usernames matching the bot prefix.
	senderName, _ := evt.GetData()["sender_name"].(string)
	senderName = strings.TrimPrefix(senderName, "@")
	if senderName != "" && isBridgeUsername(senderName, m.username, m.cfg.BotPrefix) {
		m.log.Debug().
			Str("post_id", post.Id).
			Str("username", senderName).
			Msg("Skipping bridge username post (echo prevention)")
		return nil, nil
	}

	return &post, nil
}

func (m *MattermostClient) handlePosted(evt *model.WebSocketEvent) {
	post, err := m.parsePostedEvent(evt)
	if err != nil {
		m.log.Warn().Err(err).Msg("Failed to parse posted event")
		return
	}
	if post == nil {
		return
	}
	if strings.TrimSpace(post.Message) == "" {
		// Attachment-only posts have nothing to type into the remote server.
		return
	}

	m.log.Debug().
		Str("post_id", post.Id).
		Str("user_id", post.UserId).
		Msg("Relaying post to telnet server")

	ctx, cancel := context.WithTimeout(context.Background(), relayTimeout)
	defer cancel()
	if err := m.relay.Send(ctx, post.Message); err != nil {
		m.log.Warn().Err(err).Str("post_id", post.Id).Msg("Failed to relay post to telnet server")
	}
}

// isBridgeUsername reports whether username belongs to the bridge itself or
// to a bot sharing the configured prefix.
func isBridgeUsername(username, ownUsername, botPrefix string) bool {
	switch {
	case ownUsername != "" && username == ownUsername:
		return true
	case botPrefix != "" && strings.HasPrefix(username, botPrefix):
		return true
	default:
		return false
	}
}

func isTrueProp(v any) bool {
	switch v := v.(type) {
	case bool:
		return v
	case string:
		return v == "true"
	default:
		return false
	}
}

// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/mattermost/mattermost/server/public/model"
	"github.com/rs/zerolog"

	"github.com/aiku/mattermost-telnet-bridge/pkg/bridge"
	"github.com/aiku/mattermost-telnet-bridge/pkg/config"
)

const (
	testChannelID = "watched-channel-id"
	testUserID    = "bridge-user-id"
	testToken     = "test-token"
)

// fakeBridge records the calls the chat platforms make.
type fakeBridge struct {
	mu sync.Mutex

	sent    []string
	sendErr error

	connectOK     bool
	connectMsg    string
	connectSinks  []bridge.ChannelSink
	disconnectOK  bool
	disconnectMsg string
	disconnects   int
	status        bridge.Status
}

var _ BridgeAPI = (*fakeBridge)(nil)

func newFakeBridge() *fakeBridge {
	return &fakeBridge{
		connectOK:     true,
		connectMsg:    bridge.MsgConnected,
		disconnectOK:  true,
		disconnectMsg: bridge.MsgDisconnected,
		status:        bridge.Status{State: bridge.StateDisconnected, Endpoint: "mud.local:4000"},
	}
}

func (f *fakeBridge) Connect(_ context.Context, sink bridge.ChannelSink) (bool, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectSinks = append(f.connectSinks, sink)
	return f.connectOK, f.connectMsg
}

func (f *fakeBridge) Disconnect() (bool, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	return f.disconnectOK, f.disconnectMsg
}

func (f *fakeBridge) Send(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeBridge) Status() bridge.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeBridge) Sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func (f *fakeBridge) Sinks() []bridge.ChannelSink {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bridge.ChannelSink(nil), f.connectSinks...)
}

// endpointCall records which API endpoints were hit during a test.
type endpointCall struct {
	Method string
	Path   string
	Body   string
}

// fakeMM is a test helper that wraps an httptest.Server simulating the
// Mattermost API. It records calls and provides canned responses.
type fakeMM struct {
	Server *httptest.Server

	mu    sync.Mutex
	calls []endpointCall

	// Users maps user ID to model.User for GetMe responses.
	Users map[string]*model.User
	// TokenToUser maps bearer tokens to user IDs for GetMe auth.
	TokenToUser map[string]string
	// Channels maps channel ID to model.Channel.
	Channels map[string]*model.Channel
	// FailEndpoints causes specific path prefixes to return 500.
	FailEndpoints map[string]bool
}

func newFakeMM() *fakeMM {
	f := &fakeMM{
		Users:         make(map[string]*model.User),
		TokenToUser:   make(map[string]string),
		Channels:      make(map[string]*model.Channel),
		FailEndpoints: make(map[string]bool),
	}
	f.Users[testUserID] = &model.User{Id: testUserID, Username: "telnet-bridge"}
	f.TokenToUser[testToken] = testUserID
	f.Channels[testChannelID] = &model.Channel{Id: testChannelID, Name: "mud", Type: model.ChannelTypeOpen}
	f.Server = httptest.NewServer(http.HandlerFunc(f.handler))
	return f
}

func (f *fakeMM) Close() {
	f.Server.Close()
}

func (f *fakeMM) record(method, path, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, endpointCall{Method: method, Path: path, Body: body})
}

func (f *fakeMM) Calls() []endpointCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]endpointCall, len(f.calls))
	copy(cp, f.calls)
	return cp
}

func (f *fakeMM) CalledPath(path string) bool {
	for _, c := range f.Calls() {
		if strings.Contains(c.Path, path) {
			return true
		}
	}
	return false
}

// CreatedPosts returns the posts sent to POST /api/v4/posts.
func (f *fakeMM) CreatedPosts() []*model.Post {
	var posts []*model.Post
	for _, c := range f.Calls() {
		if c.Method == http.MethodPost && c.Path == "/api/v4/posts" {
			var p model.Post
			if err := json.Unmarshal([]byte(c.Body), &p); err == nil {
				posts = append(posts, &p)
			}
		}
	}
	return posts
}

func (f *fakeMM) resolveToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	for tok, uid := range f.TokenToUser {
		if auth == "BEARER "+tok || auth == "Bearer "+tok {
			return uid
		}
	}
	return ""
}

func (f *fakeMM) handler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.record(r.Method, r.URL.Path, string(body))

	for prefix := range f.FailEndpoints {
		if strings.Contains(r.URL.Path, prefix) {
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]string{"message": "fake error"})
			return
		}
	}

	path := r.URL.Path

	switch {
	// GET /api/v4/users/me
	case r.Method == "GET" && path == "/api/v4/users/me":
		uid := f.resolveToken(r)
		if uid == "" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"message": "unauthorized"})
			return
		}
		if u, ok := f.Users[uid]; ok {
			_ = json.NewEncoder(w).Encode(u)
			return
		}
		w.WriteHeader(http.StatusNotFound)

	// GET /api/v4/channels/{channel_id}
	case r.Method == "GET" && strings.HasPrefix(path, "/api/v4/channels/") && !strings.Contains(path[len("/api/v4/channels/"):], "/"):
		chID := path[len("/api/v4/channels/"):]
		if ch, ok := f.Channels[chID]; ok {
			_ = json.NewEncoder(w).Encode(ch)
			return
		}
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "channel not found"})

	// POST /api/v4/posts
	case r.Method == "POST" && path == "/api/v4/posts":
		var post model.Post
		_ = json.Unmarshal(body, &post)
		post.Id = "created-post-id"
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(&post)

	default:
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "not found: " + path})
	}
}

func testMattermostConfig(serverURL string) config.MattermostConfig {
	return config.MattermostConfig{
		ServerURL:                 serverURL,
		Token:                     testToken,
		ChannelID:                 testChannelID,
		SlashCommandToken:         "slash-token",
		BotPrefix:                 "bot-",
		RestrictCommandsToChannel: true,
	}
}

// newTestClient creates a MattermostClient for a fake server that has already
// authenticated as testUserID.
func newTestClient(serverURL string, relay BridgeAPI) *MattermostClient {
	mc := NewMattermostClient(testMattermostConfig(serverURL), relay, zerolog.Nop())
	mc.userID = testUserID
	mc.username = "telnet-bridge"
	return mc
}

// newWebSocketEvent creates a model.WebSocketEvent for testing handlers.
func newWebSocketEvent(eventType model.WebsocketEventType, channelID string, data map[string]any) *model.WebSocketEvent {
	evt := model.NewWebSocketEvent(eventType, "", channelID, "", nil, "")
	return evt.SetData(data)
}

// postedEvent builds a posted event carrying post, as the server sends it.
func postedEvent(post *model.Post, senderName string) *model.WebSocketEvent {
	raw, _ := json.Marshal(post)
	data := map[string]any{"post": string(raw)}
	if senderName != "" {
		data["sender_name"] = senderName
	}
	return newWebSocketEvent(model.WebsocketEventPosted, post.ChannelId, data)
}

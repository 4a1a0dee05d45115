// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/mattermost/mattermost/server/public/model"
	"github.com/rs/zerolog"

	"github.com/aiku/mattermost-telnet-bridge/pkg/config"
)

// maxCommandBodySize is the maximum accepted slash command request body (64 KB).
const maxCommandBodySize = 64 << 10

const msgWrongChannel = "This command only works in the bridged channel."

// MattermostConnector connects a bridge to one Mattermost channel.
type MattermostConnector struct {
	Config config.MattermostConfig
	Bridge BridgeAPI
	Client *MattermostClient
	log    zerolog.Logger
}

// NewMattermostConnector creates the Mattermost client for br. Nothing
// touches the network until Start.
func NewMattermostConnector(cfg config.MattermostConfig, br BridgeAPI, log zerolog.Logger) *MattermostConnector {
	return &MattermostConnector{
		Config: cfg,
		Bridge: br,
		Client: NewMattermostClient(cfg, br, log),
		log:    log.With().Str("component", "mm_connector").Logger(),
	}
}

// Start authenticates and starts relaying posts from the watched channel.
func (mc *MattermostConnector) Start(ctx context.Context) error {
	return mc.Client.Start(ctx)
}

// Stop closes the Mattermost session.
func (mc *MattermostConnector) Stop() {
	mc.Client.Stop()
}

// RegisterHandlers adds the slash command endpoint to mux. The endpoint is
// left out when no slash command token is configured.
func (mc *MattermostConnector) RegisterHandlers(mux *http.ServeMux) {
	if mc.Config.SlashCommandToken == "" {
		mc.log.Warn().Msg("No slash command token configured, /api/command is disabled")
		return
	}
	mux.HandleFunc("/api/command", mc.HandleSlashCommand)
}

// HandleSlashCommand is the HTTP handler for POST /api/command. Mattermost
// calls it for a custom slash command; both "/telnet <command>" and a
// dedicated trigger per command such as "/connect" are accepted.
func (mc *MattermostConnector) HandleSlashCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxCommandBodySize)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	if !tokenMatches(r.PostForm.Get("token"), mc.Config.SlashCommandToken) {
		mc.log.Warn().Str("remote_addr", r.RemoteAddr).Msg("Rejected slash command with bad token")
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	name := slashCommandName(r.PostForm.Get("command"), r.PostForm.Get("text"))
	channelID := r.PostForm.Get("channel_id")
	mc.log.Info().
		Str("command", name).
		Str("user_name", r.PostForm.Get("user_name")).
		Str("channel_id", channelID).
		Msg("Slash command received")

	var reply string
	if mc.Config.RestrictCommandsToChannel && channelID != mc.Config.ChannelID {
		reply = msgWrongChannel
	} else {
		reply = RunCommand(r.Context(), mc.Bridge, mc.Client, name)
	}

	resp := &model.CommandResponse{
		ResponseType: model.CommandResponseTypeEphemeral,
		Text:         reply,
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		mc.log.Warn().Err(err).Msg("Failed to write slash command response")
	}
}

// slashCommandName picks the bridge command from a slash command trigger and
// its text. "/connect" selects connect directly, any other trigger uses the
// first word of the text.
func slashCommandName(trigger, text string) string {
	trigger = strings.TrimPrefix(strings.TrimSpace(trigger), "/")
	if IsCommand(trigger) {
		return strings.ToLower(trigger)
	}
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(fields[0])
}

func tokenMatches(got, want string) bool {
	if want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/aiku/mattermost-telnet-bridge/pkg/bridge"
	"github.com/aiku/mattermost-telnet-bridge/pkg/config"
)

const shutdownTimeout = 5 * time.Second

// CommandResult is the JSON body of the connect and disconnect endpoints.
type CommandResult struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// AdminAPI serves the operator endpoints:
//
//	GET  /api/status      bridge.Status as JSON
//	POST /api/connect     connect, remote output goes to the chat channel
//	POST /api/disconnect  disconnect
//	GET  /metrics         Prometheus metrics
//
// When a secret is configured every endpoint requires it as a bearer token.
type AdminAPI struct {
	cfg    config.AdminAPIConfig
	bridge BridgeAPI
	sink   bridge.ChannelSink
	mounts []func(*http.ServeMux)
	log    zerolog.Logger
}

// NewAdminAPI creates the admin API. sink receives remote output for
// sessions opened through /api/connect.
func NewAdminAPI(cfg config.AdminAPIConfig, br BridgeAPI, sink bridge.ChannelSink, log zerolog.Logger) *AdminAPI {
	return &AdminAPI{
		cfg:    cfg,
		bridge: br,
		sink:   sink,
		log:    log.With().Str("component", "admin_api").Logger(),
	}
}

// Mount registers extra handlers that do their own authentication, such as
// the Mattermost slash command endpoint.
func (a *AdminAPI) Mount(register func(*http.ServeMux)) {
	a.mounts = append(a.mounts, register)
}

// Handler builds the HTTP handler.
func (a *AdminAPI) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/api/status", a.requireSecret(http.HandlerFunc(a.HandleStatus)))
	mux.Handle("/api/connect", a.requireSecret(http.HandlerFunc(a.HandleConnect)))
	mux.Handle("/api/disconnect", a.requireSecret(http.HandlerFunc(a.HandleDisconnect)))
	mux.Handle("/metrics", a.requireSecret(promhttp.Handler()))
	for _, register := range a.mounts {
		register(mux)
	}
	return mux
}

// Run serves the API until ctx is done. An empty address disables it.
func (a *AdminAPI) Run(ctx context.Context) error {
	if a.cfg.Addr == "" {
		a.log.Info().Msg("Admin API disabled")
		return nil
	}
	server := &http.Server{
		Addr:    a.cfg.Addr,
		Handler: a.Handler(),
		// Connecting waits for the login handshake before replying.
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.log.Info().Str("addr", a.cfg.Addr).Msg("Starting admin API")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("admin API failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down admin API: %w", err)
		}
		return nil
	}
}

func (a *AdminAPI) requireSecret(next http.Handler) http.Handler {
	if a.cfg.Secret == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || !tokenMatches(token, a.cfg.Secret) {
			a.log.Warn().Str("remote_addr", r.RemoteAddr).Str("path", r.URL.Path).Msg("Rejected admin API request")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// HandleStatus is the HTTP handler for GET /api/status.
func (a *AdminAPI) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	a.writeJSON(w, http.StatusOK, a.bridge.Status())
}

// HandleConnect is the HTTP handler for POST /api/connect.
func (a *AdminAPI) HandleConnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	a.log.Info().Str("remote_addr", r.RemoteAddr).Msg("Connect requested")
	ok, msg := a.bridge.Connect(r.Context(), a.sink)
	status := http.StatusOK
	switch {
	case ok:
	case msg == bridge.MsgAlreadyConnected:
		status = http.StatusConflict
	default:
		status = http.StatusBadGateway
	}
	a.writeJSON(w, status, CommandResult{OK: ok, Message: msg})
}

// HandleDisconnect is the HTTP handler for POST /api/disconnect.
func (a *AdminAPI) HandleDisconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	a.log.Info().Str("remote_addr", r.RemoteAddr).Msg("Disconnect requested")
	ok, msg := a.bridge.Disconnect()
	status := http.StatusOK
	if !ok {
		status = http.StatusConflict
	}
	a.writeJSON(w, status, CommandResult{OK: ok, Message: msg})
}

func (a *AdminAPI) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.log.Warn().Err(err).Msg("Failed to write admin API response")
	}
}

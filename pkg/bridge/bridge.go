// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package bridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Status messages returned by Connect and Disconnect.
const (
	MsgConnected        = "Connected to telnet server."
	MsgAlreadyConnected = "Already connected."
	MsgNotConnected     = "Not connected."
	MsgDisconnected     = "Disconnected."
)

// ChannelSink is the chat channel remote output is mirrored into. SendText
// should return once ctx is done; Disconnect stops waiting for a sink that
// does not.
type ChannelSink interface {
	SendText(ctx context.Context, text string) error
}

// RemoteTextLink is an open connection to the remote text server.
type RemoteTextLink interface {
	// ReadChunk blocks until up to maxBytes of output are available. It must
	// return promptly once ctx is done.
	ReadChunk(ctx context.Context, maxBytes int) (string, error)
	// WriteLine buffers text followed by the line terminator.
	WriteLine(text string) error
	Flush() error
	Close() error
}

// Dialer opens RemoteTextLinks.
type Dialer interface {
	Dial(ctx context.Context, endpoint Endpoint) (RemoteTextLink, error)
}

// Endpoint is the address of the remote text server.
type Endpoint struct {
	Host string
	Port int
}

func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// Credentials are written to the remote server right after connecting.
type Credentials struct {
	Username string
	Password string
}

// HandshakeDelays are the fixed waits around the login lines. The remote
// server does not prompt in a way the bridge waits for, so these give it time
// to consume its own prompts.
type HandshakeDelays struct {
	BeforeUsername time.Duration
	BeforePassword time.Duration
	Settle         time.Duration
}

// DefaultHandshakeDelays returns 0.5s, 0.5s and 2s.
func DefaultHandshakeDelays() HandshakeDelays {
	return HandshakeDelays{
		BeforeUsername: 500 * time.Millisecond,
		BeforePassword: 500 * time.Millisecond,
		Settle:         2 * time.Second,
	}
}

const (
	defaultReadBufferSize = 1024
	defaultStopTimeout    = 5 * time.Second
)

// Options configures a Bridge.
type Options struct {
	Endpoint    Endpoint
	Credentials Credentials
	Handshake   HandshakeDelays
	// ReadBufferSize caps the bytes read per chunk. Defaults to 1024.
	ReadBufferSize int
	Ignored        IgnoreSet
	Envelope       Envelope
	// StopTimeout is how long Disconnect waits for the listener before closing
	// the link to unblock it, and again after closing it. Defaults to 5s.
	StopTimeout time.Duration
}

// State is the connection state of a Bridge.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// Status is a point-in-time snapshot of a Bridge.
type Status struct {
	State       State     `json:"state"`
	Endpoint    string    `json:"endpoint"`
	SessionID   string    `json:"session_id,omitempty"`
	ConnectedAt time.Time `json:"connected_at,omitzero"`
	// Degraded is set once the listener of the current session has failed.
	Degraded bool `json:"degraded"`
}

// session is everything that exists only while connected. It is set and
// cleared as one unit.
type session struct {
	id          string
	link        RemoteTextLink
	sink        ChannelSink
	cancel      context.CancelFunc
	done        chan struct{}
	connectedAt time.Time
	degraded    atomic.Bool
	log         zerolog.Logger
}

// Bridge relays between one ChannelSink and one RemoteTextLink at a time.
type Bridge struct {
	dialer Dialer
	opts   Options
	filter *LineFilter
	log    zerolog.Logger

	// transitionMu serializes Open and Close.
	transitionMu sync.Mutex

	mu    sync.RWMutex
	state State
	sess  *session
}

// New creates a disconnected Bridge.
func New(dialer Dialer, opts Options, log zerolog.Logger) *Bridge {
	if opts.ReadBufferSize <= 0 {
		opts.ReadBufferSize = defaultReadBufferSize
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = defaultStopTimeout
	}
	return &Bridge{
		dialer: dialer,
		opts:   opts,
		filter: NewLineFilter(opts.Ignored),
		log:    log.With().Str("component", "bridge").Logger(),
		state:  StateDisconnected,
	}
}

// Filter returns the line filter built from the configured ignore set.
func (b *Bridge) Filter() *LineFilter {
	return b.filter
}

// Connect opens the remote session and starts relaying output to sink. The
// result is a success flag and a message suitable for showing to the user.
func (b *Bridge) Connect(ctx context.Context, sink ChannelSink) (bool, string) {
	err := b.Open(ctx, sink)
	var connErr *ConnectionError
	switch {
	case err == nil:
		return true, MsgConnected
	case errors.Is(err, ErrAlreadyConnected):
		return false, MsgAlreadyConnected
	case errors.As(err, &connErr):
		return false, fmt.Sprintf("Failed to connect: %v", connErr.Err)
	default:
		return false, fmt.Sprintf("Failed to connect: %v", err)
	}
}

// Disconnect stops relaying and closes the remote session. Local state is
// always cleared when the bridge was connected, even if closing the link fails.
func (b *Bridge) Disconnect() (bool, string) {
	err := b.Close()
	var discErr *DisconnectError
	switch {
	case err == nil:
		return true, MsgDisconnected
	case errors.Is(err, ErrNotConnected):
		return false, MsgNotConnected
	case errors.As(err, &discErr):
		return true, fmt.Sprintf("Disconnected, but closing the connection failed: %v", discErr.Err)
	default:
		return false, fmt.Sprintf("Error disconnecting: %v", err)
	}
}

// Open is Connect with typed errors: ErrAlreadyConnected or *ConnectionError.
func (b *Bridge) Open(ctx context.Context, sink ChannelSink) error {
	if sink == nil {
		return errors.New("channel sink is nil")
	}
	b.transitionMu.Lock()
	defer b.transitionMu.Unlock()

	b.mu.Lock()
	if b.state != StateDisconnected {
		b.mu.Unlock()
		return ErrAlreadyConnected
	}
	b.state = StateConnecting
	b.mu.Unlock()

	b.log.Info().Stringer("endpoint", b.opts.Endpoint).Msg("Connecting to telnet server")

	link, err := b.openLink(ctx)
	if err != nil {
		b.mu.Lock()
		b.state = StateDisconnected
		b.mu.Unlock()
		connectAttempts.WithLabelValues("failed").Inc()
		b.log.Warn().Err(err).Stringer("endpoint", b.opts.Endpoint).Msg("Failed to connect to telnet server")
		return &ConnectionError{Endpoint: b.opts.Endpoint, Err: err}
	}

	listenCtx, cancel := context.WithCancel(context.Background())
	sess := &session{
		id:          uuid.NewString(),
		link:        link,
		sink:        sink,
		cancel:      cancel,
		done:        make(chan struct{}),
		connectedAt: time.Now(),
	}
	sess.log = b.log.With().Str("session_id", sess.id).Logger()

	b.mu.Lock()
	b.state = StateConnected
	b.sess = sess
	b.mu.Unlock()

	go b.listen(listenCtx, sess)

	connectAttempts.WithLabelValues("connected").Inc()
	connectedGauge.Set(1)
	sess.log.Info().Stringer("endpoint", b.opts.Endpoint).Msg("Connected to telnet server")
	return nil
}

// openLink dials the endpoint and writes the login lines with fixed delays.
// No response is checked.
func (b *Bridge) openLink(ctx context.Context) (RemoteTextLink, error) {
	link, err := b.dialer.Dial(ctx, b.opts.Endpoint)
	if err != nil {
		return nil, err
	}
	if err := b.handshake(ctx, link); err != nil {
		_ = link.Close()
		return nil, fmt.Errorf("login handshake failed: %w", err)
	}
	return link, nil
}

func (b *Bridge) handshake(ctx context.Context, link RemoteTextLink) error {
	delays := b.opts.Handshake
	if err := sleepCtx(ctx, delays.BeforeUsername); err != nil {
		return err
	}
	if err := writeLine(link, b.opts.Credentials.Username); err != nil {
		return fmt.Errorf("failed to send username: %w", err)
	}
	if err := sleepCtx(ctx, delays.BeforePassword); err != nil {
		return err
	}
	if err := writeLine(link, b.opts.Credentials.Password); err != nil {
		return fmt.Errorf("failed to send password: %w", err)
	}
	return sleepCtx(ctx, delays.Settle)
}

// Close is Disconnect with typed errors: ErrNotConnected or *DisconnectError.
func (b *Bridge) Close() error {
	b.transitionMu.Lock()
	defer b.transitionMu.Unlock()

	b.mu.RLock()
	sess := b.sess
	connected := b.state == StateConnected && sess != nil
	b.mu.RUnlock()
	if !connected {
		return ErrNotConnected
	}

	sess.cancel()
	linkClosed := false
	select {
	case <-sess.done:
	case <-time.After(b.opts.StopTimeout):
		// The link ignored cancellation, closing it fails the pending read.
		sess.log.Warn().Dur("timeout", b.opts.StopTimeout).Msg("Listener did not stop in time, closing link")
		_ = sess.link.Close()
		linkClosed = true
		select {
		case <-sess.done:
		case <-time.After(b.opts.StopTimeout):
			// Blocked in a sink that ignores ctx. The listener sends nothing
			// more once it returns, so it is left behind.
			sess.log.Error().Msg("Listener is stuck in the channel sink, abandoning it")
		}
	}

	// Waits for in-flight Send calls, which hold the read lock while writing.
	b.mu.Lock()
	b.sess = nil
	b.state = StateDisconnected
	b.mu.Unlock()
	connectedGauge.Set(0)

	if !linkClosed {
		if err := sess.link.Close(); err != nil {
			sess.log.Warn().Err(err).Msg("Error closing telnet connection")
			return &DisconnectError{Err: err}
		}
	}
	sess.log.Info().Msg("Disconnected from telnet server")
	return nil
}

// Send writes text to the remote server as one line and flushes it. It does
// nothing and returns nil when the bridge is not connected.
func (b *Bridge) Send(ctx context.Context, text string) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.state != StateConnected || b.sess == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := writeLine(b.sess.link, text); err != nil {
		return err
	}
	linesSent.Inc()
	return nil
}

// IsConnected reports whether the bridge currently holds a session. A
// degraded session still counts as connected.
func (b *Bridge) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state == StateConnected
}

// ConnectedAt returns when the current session was established.
func (b *Bridge) ConnectedAt() (time.Time, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.sess == nil {
		return time.Time{}, false
	}
	return b.sess.connectedAt, true
}

// Status returns a snapshot of the bridge state.
func (b *Bridge) Status() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	st := Status{
		State:    b.state,
		Endpoint: b.opts.Endpoint.String(),
	}
	if b.sess != nil {
		st.SessionID = b.sess.id
		st.ConnectedAt = b.sess.connectedAt
		st.Degraded = b.sess.degraded.Load()
	}
	return st
}

func writeLine(link RemoteTextLink, text string) error {
	if err := link.WriteLine(text); err != nil {
		return fmt.Errorf("failed to write line: %w", err)
	}
	if err := link.Flush(); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

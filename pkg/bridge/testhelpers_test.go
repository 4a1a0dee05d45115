// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package bridge

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeLink is an in-memory RemoteTextLink. Remote output is fed through
// chunks and errs; written lines are recorded once flushed.
type fakeLink struct {
	chunks chan string
	errs   chan error
	// ignoreCtx makes ReadChunk block until Close instead of honoring ctx.
	ignoreCtx bool
	closedCh  chan struct{}

	mu        sync.Mutex
	pending   []string
	lines     []string
	closed    int
	writeErr  error
	closeErr  error
	closeOnce sync.Once
}

func newFakeLink() *fakeLink {
	return &fakeLink{
		chunks:   make(chan string, 16),
		errs:     make(chan error, 1),
		closedCh: make(chan struct{}),
	}
}

func (l *fakeLink) ReadChunk(ctx context.Context, maxBytes int) (string, error) {
	done := ctx.Done()
	if l.ignoreCtx {
		done = nil
	}
	select {
	case <-done:
		return "", ctx.Err()
	case <-l.closedCh:
		return "", errors.New("use of closed connection")
	case chunk := <-l.chunks:
		if len(chunk) > maxBytes {
			chunk = chunk[:maxBytes]
		}
		return chunk, nil
	case err := <-l.errs:
		return "", err
	}
}

func (l *fakeLink) WriteLine(text string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.writeErr != nil {
		return l.writeErr
	}
	l.pending = append(l.pending, text)
	return nil
}

func (l *fakeLink) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, l.pending...)
	l.pending = nil
	return nil
}

func (l *fakeLink) Close() error {
	l.mu.Lock()
	l.closed++
	err := l.closeErr
	l.mu.Unlock()
	l.closeOnce.Do(func() { close(l.closedCh) })
	return err
}

func (l *fakeLink) Lines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := make([]string, len(l.lines))
	copy(cp, l.lines)
	return cp
}

func (l *fakeLink) Closed() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// fakeDialer hands out a fixed link or error and counts dials.
type fakeDialer struct {
	link  *fakeLink
	err   error
	dials atomic.Int32
}

func (d *fakeDialer) Dial(_ context.Context, _ Endpoint) (RemoteTextLink, error) {
	d.dials.Add(1)
	if d.err != nil {
		return nil, d.err
	}
	return d.link, nil
}

// fakeSink records every message sent to the channel.
type fakeSink struct {
	mu   sync.Mutex
	msgs []string
	sent chan struct{}
}

func newFakeSink() *fakeSink {
	return &fakeSink{sent: make(chan struct{}, 64)}
}

func (s *fakeSink) SendText(_ context.Context, text string) error {
	s.mu.Lock()
	s.msgs = append(s.msgs, text)
	s.mu.Unlock()
	s.sent <- struct{}{}
	return nil
}

func (s *fakeSink) Messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]string, len(s.msgs))
	copy(cp, s.msgs)
	return cp
}

// waitForMessage blocks until the sink received one more message.
func (s *fakeSink) waitForMessage(t *testing.T) {
	t.Helper()
	select {
	case <-s.sent:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a channel message")
	}
}

// newTestBridge returns a Bridge with no handshake delays that is
// disconnected again when the test ends.
func newTestBridge(t *testing.T, dialer Dialer, ignored ...string) *Bridge {
	t.Helper()
	b := New(dialer, Options{
		Endpoint:    Endpoint{Host: "mud.example.com", Port: 4000},
		Credentials: Credentials{Username: "watcher", Password: "hunter2"},
		Ignored:     NewIgnoreSet(ignored...),
		Envelope:    Envelope{Language: DefaultCodeBlockLanguage},
		StopTimeout: time.Second,
	}, zerolog.Nop())
	t.Cleanup(func() { b.Disconnect() })
	return b
}

// mustConnect connects b and fails the test on error.
func mustConnect(t *testing.T, b *Bridge, sink ChannelSink) {
	t.Helper()
	if ok, msg := b.Connect(context.Background(), sink); !ok {
		t.Fatalf("Connect failed: %s", msg)
	}
}

// stuckSink blocks in SendText, ignoring ctx, until released.
type stuckSink struct {
	entered chan struct{}
	release chan struct{}
}

func newStuckSink() *stuckSink {
	return &stuckSink{entered: make(chan struct{}, 1), release: make(chan struct{})}
}

func (s *stuckSink) SendText(context.Context, string) error {
	select {
	case s.entered <- struct{}{}:
	default:
	}
	<-s.release
	return nil
}

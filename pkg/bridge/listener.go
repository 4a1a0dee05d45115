// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// listen mirrors remote output into the session's sink until ctx is cancelled
// or the link fails. It never sends to the sink after ctx is done.
func (b *Bridge) listen(ctx context.Context, sess *session) {
	defer close(sess.done)
	sess.log.Debug().Int("read_buffer_size", b.opts.ReadBufferSize).Msg("Listener started")

	for {
		chunk, err := sess.link.ReadChunk(ctx, b.opts.ReadBufferSize)
		if ctx.Err() != nil {
			sess.log.Debug().Msg("Listener stopped")
			return
		}
		if err != nil {
			b.handleListenerFault(ctx, sess, err)
			return
		}
		if chunk == "" {
			continue
		}
		b.relay(ctx, sess, chunk)
	}
}

// relay filters one chunk of remote output and forwards it wrapped in the
// envelope. Chunks that are empty after filtering are dropped.
func (b *Bridge) relay(ctx context.Context, sess *session, chunk string) {
	text, removed := b.filter.Filter(chunk)
	if removed > 0 {
		linesFiltered.Add(float64(removed))
		sess.log.Trace().Int("removed", removed).Msg("Filtered ignored user lines")
	}
	if text == "" {
		return
	}
	if ctx.Err() != nil {
		return
	}
	if err := sess.sink.SendText(ctx, b.opts.Envelope.Wrap(text)); err != nil {
		if ctx.Err() != nil {
			return
		}
		sess.log.Warn().Err(err).Msg("Failed to send remote output to channel")
		return
	}
	chunksRelayed.Inc()
}

// handleListenerFault marks the session degraded and reports the error to the
// channel once. The bridge stays connected until Disconnect is called.
func (b *Bridge) handleListenerFault(ctx context.Context, sess *session, err error) {
	sess.degraded.Store(true)
	listenerFaults.Inc()
	sess.log.Error().Err(err).Msg("Telnet listener failed")

	if errors.Is(err, io.EOF) {
		err = errors.New("connection closed by remote host")
	}
	if sendErr := sess.sink.SendText(ctx, fmt.Sprintf("Telnet listener error: %v", err)); sendErr != nil {
		sess.log.Warn().Err(sendErr).Msg("Failed to report listener error to channel")
	}
}

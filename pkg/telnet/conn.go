// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package telnet implements the client side of a plain telnet session as a
// bridge.RemoteTextLink.
//
// Only enough of the protocol is implemented to talk to line-oriented text
// servers: commands are stripped from the output, the server may enable echo
// and suppress-go-ahead, and every other option is refused.
package telnet

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/aiku/mattermost-telnet-bridge/pkg/bridge"
)

const (
	defaultDialTimeout  = 10 * time.Second
	defaultWriteTimeout = 10 * time.Second
	defaultChunkSize    = 1024
)

// aLongTimeAgo is a non-zero deadline in the past, used to unblock reads.
var aLongTimeAgo = time.Unix(1, 0)

// Dialer opens telnet connections.
type Dialer struct {
	Timeout      time.Duration
	WriteTimeout time.Duration
	Log          zerolog.Logger
}

var _ bridge.Dialer = (*Dialer)(nil)

// Dial implements bridge.Dialer.
func (d *Dialer) Dial(ctx context.Context, endpoint bridge.Endpoint) (bridge.RemoteTextLink, error) {
	return d.DialAddr(ctx, net.JoinHostPort(endpoint.Host, strconv.Itoa(endpoint.Port)))
}

// DialAddr connects to a host:port address.
func (d *Dialer) DialAddr(ctx context.Context, addr string) (*Conn, error) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	nd := net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}
	conn, err := nd.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	d.Log.Debug().Str("addr", addr).Msg("Telnet connection established")
	return NewConn(conn, d.WriteTimeout, d.Log), nil
}

// Conn is a telnet session over a net.Conn. Reads and writes may happen
// concurrently. Concurrent writers are serialized per line.
type Conn struct {
	conn         net.Conn
	writeTimeout time.Duration
	log          zerolog.Logger

	readMu  sync.Mutex
	dec     decoder
	readBuf []byte
	// partial holds the bytes of a UTF-8 sequence cut off by the last read.
	partial []byte

	writeMu sync.Mutex
	w       *bufio.Writer
}

var _ bridge.RemoteTextLink = (*Conn)(nil)

// NewConn wraps an established connection.
func NewConn(conn net.Conn, writeTimeout time.Duration, log zerolog.Logger) *Conn {
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	return &Conn{
		conn:         conn,
		writeTimeout: writeTimeout,
		log:          log.With().Str("component", "telnet").Logger(),
		w:            bufio.NewWriter(conn),
	}
}

// ReadChunk reads up to maxBytes from the server and returns the text with
// telnet commands removed. The result may be empty when a read carried only
// commands. Cancelling ctx unblocks a pending read and ReadChunk then returns
// ctx.Err().
func (c *Conn) ReadChunk(ctx context.Context, maxBytes int) (string, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if maxBytes <= 0 {
		maxBytes = defaultChunkSize
	}
	if cap(c.readBuf) < maxBytes {
		c.readBuf = make([]byte, maxBytes)
	}
	_ = c.conn.SetReadDeadline(time.Time{})
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(aLongTimeAgo)
	})
	n, err := c.conn.Read(c.readBuf[:maxBytes])
	stop()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", ctxErr
	}

	data, replies := c.dec.decode(c.readBuf[:n])
	if len(replies) > 0 {
		if werr := c.writeRaw(replies); werr != nil {
			c.log.Warn().Err(werr).Msg("Failed to answer option negotiation")
		}
	}
	text := c.completeRunes(data, err != nil)
	if err != nil && text == "" {
		return "", err
	}
	return text, nil
}

// completeRunes prepends the previous partial sequence and holds back a new
// one at the end of data. At end of stream everything is returned.
func (c *Conn) completeRunes(data []byte, final bool) string {
	if len(c.partial) > 0 {
		data = append(c.partial, data...)
		c.partial = nil
	}
	if final || len(data) == 0 {
		return string(data)
	}
	cut := len(data)
	for i := len(data) - 1; i >= 0 && i >= len(data)-utf8.UTFMax; i-- {
		if utf8.RuneStart(data[i]) {
			if !utf8.FullRune(data[i:]) {
				cut = i
			}
			break
		}
	}
	if cut < len(data) {
		c.partial = append([]byte(nil), data[cut:]...)
	}
	return string(data[:cut])
}

// WriteLine buffers text followed by CR LF. Embedded newlines are sent as
// CR LF as well and IAC bytes are escaped.
func (c *Conn) WriteLine(text string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.w.Write(encodeLine(text))
	return err
}

// Flush sends buffered lines to the server.
func (c *Conn) Flush() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.flushLocked()
}

func (c *Conn) flushLocked() error {
	if c.w.Buffered() == 0 {
		return nil
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	defer func() { _ = c.conn.SetWriteDeadline(time.Time{}) }()
	if err := c.w.Flush(); err != nil {
		return fmt.Errorf("failed to flush telnet writer: %w", err)
	}
	return nil
}

func (c *Conn) writeRaw(b []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.w.Write(b); err != nil {
		return err
	}
	return c.flushLocked()
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.conn.Close()
}

func encodeLine(text string) []byte {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\n", "\r\n")
	line := make([]byte, 0, len(text)+2)
	line = append(line, text...)
	line = bytes.ReplaceAll(line, []byte{cmdIAC}, []byte{cmdIAC, cmdIAC})
	return append(line, '\r', '\n')
}

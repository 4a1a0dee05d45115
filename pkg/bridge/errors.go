// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package bridge

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyConnected = errors.New("already connected")
	ErrNotConnected     = errors.New("not connected")
)

// ConnectionError is returned by Open when the link could not be opened or the
// login handshake could not be written.
type ConnectionError struct {
	Endpoint Endpoint
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("failed to connect to %s: %v", e.Endpoint, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// DisconnectError is returned by Close when closing the link failed. The
// bridge is disconnected regardless.
type DisconnectError struct {
	Err error
}

func (e *DisconnectError) Error() string {
	return fmt.Sprintf("failed to close connection: %v", e.Err)
}

func (e *DisconnectError) Unwrap() error {
	return e.Err
}

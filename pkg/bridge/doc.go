// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package bridge relays text between a single chat channel and a remote
// telnet-style text server.
//
// # Core Types
//
// [Bridge] owns the remote connection. [Bridge.Connect] dials the configured
// endpoint, performs a fixed-delay login handshake and starts one listener
// goroutine that mirrors remote output into a [ChannelSink]. [Bridge.Send]
// forwards chat messages to the remote server as single lines while the bridge
// is connected and silently does nothing otherwise. [Bridge.Disconnect] stops
// the listener, waits for it to exit and closes the link.
//
// [LineFilter] removes "<user> says: ..." lines for users in an [IgnoreSet]
// before output is wrapped in an [Envelope] and sent to the channel.
//
// # Degraded Sessions
//
// When the link fails while connected, the listener reports the error to the
// channel once and exits. The bridge stays connected (Status reports it as
// degraded) until Disconnect is called. It never reconnects on its own.
package bridge

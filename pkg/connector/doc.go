// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package connector attaches a [bridge.Bridge] to a Mattermost channel.
//
// # Core Types
//
// [MattermostClient] is the bridge's Mattermost session. It posts remote
// output into the watched channel (it is the [bridge.ChannelSink]) and listens
// on the WebSocket for new posts, which it relays to the telnet server.
//
// [MattermostConnector] owns the client and serves the slash command endpoint
// POST /api/command, which answers /telnet connect, /telnet disconnect and
// /telnet status with ephemeral replies.
//
// [AdminAPI] is the operator HTTP API: status, connect, disconnect and
// Prometheus metrics. It is shared by every chat platform.
//
// # Echo Prevention
//
// Output posted by the bridge must never be relayed back to the telnet
// server. Posts are dropped when they come from the bridge's own user, are
// system messages, carry the from_bot or from_webhook props, or come from a
// username matching the configured bot prefix.
package connector

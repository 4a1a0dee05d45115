// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Command mattermost-telnet-bridge relays a telnet session into a chat
// channel. Remote output is posted as code blocks and channel messages are
// typed into the session as lines.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var rootCmd = &cobra.Command{
	Use:           "mattermost-telnet-bridge",
	Short:         "A chat to telnet relay bridge",
	Version:       fmt.Sprintf("%s (commit %s, built %s)", Tag, Commit, BuildTime),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(newRunCmd(), newGenerateConfigCmd(), newFilterCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

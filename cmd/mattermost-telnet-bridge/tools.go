// Copyright 2024-2026 Aiku AI

package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/aiku/mattermost-telnet-bridge/pkg/bridge"
	"github.com/aiku/mattermost-telnet-bridge/pkg/config"
)

func newGenerateConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "generate-config",
		Short: "Print the example config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := io.WriteString(cmd.OutOrStdout(), config.ExampleConfig)
			return err
		},
	}
}

func newFilterCmd() *cobra.Command {
	var (
		configPath string
		ignored    []string
		language   string
	)
	cmd := &cobra.Command{
		Use:   "filter",
		Short: "Show what the bridge would post for some remote output",
		Long: `Read remote output from stdin and print the message the bridge would post
for it. Lines spoken by ignored users are dropped. Nothing is printed if the
whole input was filtered away.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if configPath != "" {
				cfg, err := config.Load(configPath)
				if err != nil {
					return err
				}
				ignored = append(ignored, cfg.Relay.IgnoredUsers...)
				if !cmd.Flags().Changed("language") {
					language = cfg.Relay.CodeBlockLanguage
				}
			}
			input, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("failed to read input: %w", err)
			}
			return filterOutput(cmd.OutOrStdout(), cmd.ErrOrStderr(), string(input), ignored, language)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "take ignored users and language from this config file")
	cmd.Flags().StringSliceVarP(&ignored, "ignore", "i", nil, "ignored user names")
	cmd.Flags().StringVar(&language, "language", bridge.DefaultCodeBlockLanguage, "code block language")
	return cmd
}

func filterOutput(out, diag io.Writer, input string, ignored []string, language string) error {
	text, removed := bridge.NewLineFilter(bridge.NewIgnoreSet(ignored...)).Filter(input)
	if removed > 0 {
		fmt.Fprintf(diag, "%d line(s) removed\n", removed)
	}
	if text == "" {
		return nil
	}
	_, err := fmt.Fprintln(out, bridge.Envelope{Language: language}.Wrap(text))
	return err
}

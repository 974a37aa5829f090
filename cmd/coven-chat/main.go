// ABOUTME: Entry point for coven-chat, a terminal client for agents, teams and workflows
// ABOUTME: Wires the cobra command tree and process-level signal handling

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                                                _           _
  ___ _____   _____ _ __              ___| |__   __ _| |_
 / __/ _ \ \ / / _ \ '_ \ _____     / __| '_ \ / _' | __|
| (_| (_) \ V /  __/ | | |_____|   | (__| | | | (_| | |_
 \___\___/ \_/ \___|_| |_|          \___|_| |_|\__,_|\__|
`

// options holds the persistent flags shared by every command.
type options struct {
	configPath string
	baseURL    string
}

func main() {
	// SIGINT is left to the chat loop, which uses it to stop streams.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "coven-chat",
		Short:         "Chat with coven agents, teams and workflows",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runChat(cmd.Context(), opts)
		},
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default $COVEN_CHAT_CONFIG or ~/.config/coven/chat.yaml)")
	root.PersistentFlags().StringVar(&opts.baseURL, "base-url", "", "execution service URL, overrides server.base_url")

	root.AddCommand(
		newChatCmd(opts),
		newDirectoryCmd(opts),
		newSessionsCmd(opts),
		newArchiveCmd(opts),
		newVersionCmd(),
	)
	return root
}

func newChatCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runChat(cmd.Context(), opts)
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "coven-chat %s\n", version)
		},
	}
}

// Package main is the entry point for the termwrap server and CLI.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"termwrap/internal/config"
)

// Version information set at build time.
var version = "0.1.0"

// Global flags.
var (
	serverURL string
	stateDir  string

	settings config.Settings
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "termwrap",
		Short: "Run terminal programs behind an HTTP and WebSocket API",
		Long: `termwrap hosts interactive terminal programs on pseudo-terminals and
exposes them over REST and WebSocket. Client subcommands find a running
local server through the state directory, starting one when none is up.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			s, err := config.Load()
			if err != nil {
				return err
			}
			if stateDir != "" {
				s.StateDir = stateDir
			}
			settings = s
			return nil
		},
	}

	root.PersistentFlags().StringVar(&serverURL, "url", "", "Server URL (default: discover or start a local server)")
	root.PersistentFlags().StringVar(&stateDir, "state-dir", "", "Directory holding server discovery files")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newServeCmd())
	root.AddCommand(newCreateCmd())
	root.AddCommand(newListCmd())
	root.AddCommand(newInfoCmd())
	root.AddCommand(newDeleteCmd())
	root.AddCommand(newSendCmd())
	root.AddCommand(newResizeCmd())
	root.AddCommand(newGetOutputCmd())
	root.AddCommand(newGetTextCmd())
	root.AddCommand(newGetScreenCmd())
	root.AddCommand(newWaitTextCmd())
	root.AddCommand(newWaitQuietCmd())
	root.AddCommand(newAttachCmd())
	root.AddCommand(newRunCmd())

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("termwrap version %s\n", version)
		},
	}
}

func main() {
	root := newRootCmd()
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"termwrap/internal/client"
	"termwrap/internal/protocol"
)

func newGetOutputCmd() *cobra.Command {
	var noClear bool

	cmd := &cobra.Command{
		Use:   "get-output SESSION_ID",
		Short: "Print raw output produced since the last read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			out, err := c.Output(cmd.Context(), args[0], !noClear)
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(out)
			return err
		},
	}

	cmd.Flags().BoolVar(&noClear, "no-clear", false, "Leave the read cursor where it is")

	return cmd
}

func newGetTextCmd() *cobra.Command {
	var source string

	cmd := &cobra.Command{
		Use:   "get-text SESSION_ID",
		Short: "Print output with escape sequences removed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if source != protocol.SourceOutput && source != protocol.SourceScreen {
				return fmt.Errorf("--source must be %s or %s", protocol.SourceOutput, protocol.SourceScreen)
			}
			c, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			text, err := c.Text(cmd.Context(), args[0], source)
			if err != nil {
				return err
			}
			fmt.Println(text)
			return nil
		},
	}

	cmd.Flags().StringVar(&source, "source", protocol.SourceOutput, "Text source: output (transcript) or screen (visible lines)")

	return cmd
}

func newGetScreenCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "get-screen SESSION_ID",
		Short: "Print the reconstructed screen",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			scr, err := c.Screen(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(scr)
			}
			for _, line := range scr.Lines {
				fmt.Println(line)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print lines, size, cursor and mode as JSON")

	return cmd
}

func newWaitTextCmd() *cobra.Command {
	var (
		timeout  time.Duration
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "wait-text SESSION_ID TEXT",
		Short: "Block until TEXT appears in the session's output",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return c.WaitForText(ctx, args[0], args[1], interval)
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Give up after this long")
	cmd.Flags().DurationVar(&interval, "interval", client.DefaultPollInterval, "Polling interval")

	return cmd
}

func newWaitQuietCmd() *cobra.Command {
	var (
		quiet    time.Duration
		timeout  time.Duration
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "wait-quiet SESSION_ID",
		Short: "Block until the session stops producing output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return c.WaitForQuiet(ctx, args[0], quiet, interval)
		},
	}

	cmd.Flags().DurationVar(&quiet, "duration", time.Second, "How long output must stay unchanged")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Give up after this long")
	cmd.Flags().DurationVar(&interval, "interval", client.DefaultPollInterval, "Polling interval")

	return cmd
}

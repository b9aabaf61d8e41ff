package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"termwrap/internal/client"
	"termwrap/internal/protocol"
)

const deleteTimeout = 10 * time.Second

func newAttachCmd() *cobra.Command {
	var noReplay bool

	cmd := &cobra.Command{
		Use:   "attach SESSION_ID",
		Short: "Connect this terminal to a session interactively",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			return attach(cmd.Context(), c, args[0], noReplay)
		},
	}

	cmd.Flags().BoolVar(&noReplay, "no-replay", false, "Do not replay retained output on attach")

	return cmd
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run -- COMMAND [ARG...]",
		Short: "Run a command in a new session attached to this terminal, then delete it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := connect(cmd.Context())
			if err != nil {
				return err
			}

			req := protocol.CreateSessionRequest{Command: args}
			if rows, cols, ok := terminalSize(); ok {
				req.Rows, req.Cols = rows, cols
			}
			id, err := c.Create(cmd.Context(), req)
			if err != nil {
				return err
			}
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), deleteTimeout)
				defer cancel()
				if err := c.Delete(ctx, id); err != nil && !client.IsNotFound(err) {
					fmt.Fprintf(os.Stderr, "delete session %s: %v\n", id, err)
				}
			}()

			return attach(cmd.Context(), c, id, false)
		},
	}

	return cmd
}

func terminalSize() (rows, cols int, ok bool) {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return 0, 0, false
	}
	w, h, err := term.GetSize(fd)
	if err != nil || w <= 0 || h <= 0 {
		return 0, 0, false
	}
	return h, w, true
}

// attach puts the local terminal in raw mode and bridges it to the session
// until the session exits.
func attach(ctx context.Context, c *client.Client, id string, noReplay bool) error {
	resize := make(chan protocol.ResizePayload, 1)
	pushSize := func() {
		rows, cols, ok := terminalSize()
		if !ok {
			return
		}
		select {
		case resize <- protocol.ResizePayload{Rows: rows, Cols: cols}:
		default:
		}
	}

	var in io.Reader = os.Stdin
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		state, err := term.MakeRaw(fd)
		if err != nil {
			return fmt.Errorf("set raw mode: %w", err)
		}
		defer term.Restore(fd, state)

		winch := make(chan os.Signal, 1)
		signal.Notify(winch, unix.SIGWINCH)
		defer signal.Stop(winch)

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-winch:
					pushSize()
				}
			}
		}()
		pushSize()
	}

	return c.Attach(ctx, id, in, os.Stdout, client.AttachOptions{
		NoReplay: noReplay,
		Resize:   resize,
	})
}

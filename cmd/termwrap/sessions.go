package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"termwrap/internal/protocol"
)

func newCreateCmd() *cobra.Command {
	var (
		rows, cols int
		cwd        string
		env        map[string]string
	)

	cmd := &cobra.Command{
		Use:   "create -- COMMAND [ARG...]",
		Short: "Start a command in a new session and print its ID",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			id, err := c.Create(cmd.Context(), protocol.CreateSessionRequest{
				Command: args,
				Rows:    rows,
				Cols:    cols,
				Env:     env,
				Cwd:     cwd,
			})
			if err != nil {
				return err
			}
			fmt.Println(id)
			return nil
		},
	}

	cmd.Flags().IntVar(&rows, "rows", 24, "Terminal rows")
	cmd.Flags().IntVar(&cols, "cols", 80, "Terminal columns")
	cmd.Flags().StringVar(&cwd, "cwd", "", "Working directory for the command")
	cmd.Flags().StringToStringVar(&env, "env", nil, "Extra environment variables (KEY=VALUE)")

	return cmd
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List session IDs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			ids, err := c.List(cmd.Context())
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Println(id)
			}
			return nil
		},
	}
}

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info SESSION_ID",
		Short: "Show session details as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			info, err := c.Info(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(info)
		},
	}
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete SESSION_ID",
		Short: "Terminate a session and remove it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			return c.Delete(cmd.Context(), args[0])
		},
	}
}

func newSendCmd() *cobra.Command {
	var raw bool

	cmd := &cobra.Command{
		Use:   "send SESSION_ID TEXT",
		Short: `Write input to a session (escapes such as \n, \r and \x1b are interpreted)`,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data := args[1]
			if !raw {
				var err error
				if data, err = unescape(data); err != nil {
					return err
				}
			}
			c, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			return c.Send(cmd.Context(), args[0], data)
		},
	}

	cmd.Flags().BoolVar(&raw, "raw", false, "Send TEXT verbatim without interpreting escapes")

	return cmd
}

func newResizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resize SESSION_ID ROWS COLS",
		Short: "Change a session's terminal size",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			rows, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid rows %q", args[1])
			}
			cols, err := strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("invalid cols %q", args[2])
			}
			c, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			return c.Resize(cmd.Context(), args[0], rows, cols)
		},
	}
}

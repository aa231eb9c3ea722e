package cmd

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"deskpilot/pkg/control"

	"github.com/spf13/cobra"
)

// controlFlags are shared by the control subcommands.
type controlFlags struct {
	session  string
	template string
	timeout  time.Duration
}

func newControlCmd(a *app) *cobra.Command {
	f := &controlFlags{}
	var client *control.Client

	controlCmd := &cobra.Command{
		Use:   "control",
		Short: "Drive sessions of the agent-control service directly",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := cmd.Root().PersistentPreRunE(cmd, args); err != nil {
				return err
			}
			if err := a.cfg.ValidateControl(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			c, err := control.New(a.cfg.Control, a.logger)
			if err != nil {
				return err
			}
			if f.session != "" {
				c.Attach(f.session)
			}
			client = c
			return nil
		},
	}
	controlCmd.PersistentFlags().StringVarP(&f.session, "session", "s", "", "session id to operate on")

	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start a session and print its id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := client.StartSession(cmd.Context(), control.StartOptions{Template: f.template, Timeout: f.timeout})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), s.ID)
			return nil
		},
	}
	startCmd.Flags().StringVar(&f.template, "template", "", "session template (default from control.template)")
	startCmd.Flags().DurationVar(&f.timeout, "timeout", 0, "session lifetime")

	controlCmd.AddCommand(
		startCmd,
		&cobra.Command{
			Use:   "list",
			Short: "List running sessions",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				sessions, err := client.ListSessions(cmd.Context())
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tSTATUS\tTEMPLATE")
				for _, s := range sessions {
					fmt.Fprintf(w, "%s\t%s\t%s\n", s.ID, s.Status, s.Template)
				}
				return w.Flush()
			},
		},
		&cobra.Command{
			Use:   "stop",
			Short: "Stop the session given by --session",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return client.StopSession(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "exec <command>",
			Short: "Run a shell command in the session",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				res, err := client.Exec(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), res.Stdout)
				fmt.Fprint(cmd.ErrOrStderr(), res.Stderr)
				if res.ExitCode != 0 {
					return fmt.Errorf("command exited with status %d", res.ExitCode)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "read <path>",
			Short: "Print a file from the session",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				data, err := client.ReadFile(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(data)
				return err
			},
		},
		&cobra.Command{
			Use:   "write <path> [local-file]",
			Short: "Write a local file, or stdin, to the session",
			Args:  cobra.RangeArgs(1, 2),
			RunE: func(cmd *cobra.Command, args []string) error {
				var (
					data []byte
					err  error
				)
				if len(args) == 2 {
					data, err = os.ReadFile(args[1])
				} else {
					data, err = io.ReadAll(cmd.InOrStdin())
				}
				if err != nil {
					return err
				}
				return client.WriteFile(cmd.Context(), args[0], data)
			},
		},
		&cobra.Command{
			Use:   "ls [path]",
			Short: "List a directory in the session",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				dir := "."
				if len(args) == 1 {
					dir = args[0]
				}
				entries, err := client.ListFiles(cmd.Context(), dir)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				for _, e := range entries {
					kind := "-"
					if e.IsDir {
						kind = "d"
					}
					fmt.Fprintf(w, "%s\t%d\t%s\n", kind, e.Size, e.Name)
				}
				return w.Flush()
			},
		},
	)
	return controlCmd
}

package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

func newChatCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Chat with the agent interactively",
		Long: `Chat reads one instruction per line from stdin and answers each in the same
sandbox session, so later instructions can refer to earlier ones. Type
"exit" or "quit" to end the session.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			out := cmd.OutOrStdout()
			ag, done, err := a.startAgent(cmd.Context(), out, "chat")
			if err != nil {
				return err
			}
			defer done()

			// The prompt only makes sense for a human at a terminal.
			interactive := false
			if f, ok := cmd.InOrStdin().(*os.File); ok {
				interactive = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
			}
			prompt := color.New(color.FgCyan, color.Bold)
			failure := color.New(color.FgRed)

			scanner := bufio.NewScanner(cmd.InOrStdin())
			for {
				if interactive {
					prompt.Fprint(out, "you> ")
				}
				if !scanner.Scan() {
					return scanner.Err()
				}
				line := strings.TrimSpace(scanner.Text())
				switch strings.ToLower(line) {
				case "exit", "quit":
					return nil
				}

				reply, err := ag.Chat(cmd.Context(), line)
				if err != nil {
					if cmd.Context().Err() != nil {
						return cmd.Context().Err()
					}
					failure.Fprintln(out, "error:", err)
					continue
				}
				if a.quiet {
					fmt.Fprintln(out, reply)
				}
			}
		},
	}
}

package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"deskpilot/pkg/agent"
	"deskpilot/pkg/monitor"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// demoInstructions is the built-in walkthrough run by `deskpilot run`.
var demoInstructions = []string{
	"Take a screenshot and describe what is on the screen.",
	"Open the browser.",
	"Search for today's weather and tell me what you find.",
}

const cleanupTimeout = time.Minute

func newRunCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "run [instruction...]",
		Short: "Run instructions in a fresh sandbox and exit",
		Long: `Run executes each instruction in order in one sandbox session and prints
the agent's answers. Without arguments it runs the configured demo list
(agent.demo) or the built-in one.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			instructions := args
			if len(instructions) == 0 {
				instructions = a.cfg.Agent.Demo
			}
			if len(instructions) == 0 {
				instructions = demoInstructions
			}

			ag, done, err := a.startAgent(cmd.Context(), cmd.OutOrStdout(), "run")
			if err != nil {
				return err
			}
			defer done()

			out := cmd.OutOrStdout()
			for i, instruction := range instructions {
				a.logger.Info("Running instruction", zap.Int("step", i+1), zap.Int("of", len(instructions)))
				reply, err := ag.Chat(cmd.Context(), instruction)
				if err != nil {
					return fmt.Errorf("instruction %d: %w", i+1, err)
				}
				if a.quiet {
					fmt.Fprintln(out, reply)
				}
			}
			return nil
		},
	}
}

// startAgent builds and initializes one agent. done cleans it up.
func (a *app) startAgent(ctx context.Context, out io.Writer, label string) (*agent.Agent, func(), error) {
	b, err := newBackends(a.cfg, a.logger)
	if err != nil {
		return nil, nil, err
	}

	var mon monitor.Monitor = monitor.Nop{}
	if !a.quiet {
		mon = monitor.NewCLIMonitorWriter(out)
		if err := mon.Start(); err != nil {
			b.Close()
			return nil, nil, err
		}
	}

	ag := b.newAgent(a.cfg, mon, label, a.logger)
	if err := ag.Initialize(ctx); err != nil {
		b.Close()
		return nil, nil, err
	}

	done := func() {
		// The command context may already be cancelled; the sandbox must
		// still be torn down.
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
		defer cancel()
		if err := ag.Cleanup(cctx); err != nil {
			a.logger.Warn("Cleanup failed", zap.Error(err))
			color.New(color.FgRed).Fprintln(out, "sandbox cleanup failed:", err)
		}
		_ = mon.Stop()
		b.Close()
	}
	return ag, done, nil
}

// Package cmd implements the deskpilot command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"deskpilot/pkg/config"
	"deskpilot/pkg/monitor"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// app carries what PersistentPreRunE loaded to the subcommands.
type app struct {
	cfgFile string
	quiet   bool

	v      *viper.Viper
	cfg    *config.Config
	logger *zap.Logger
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "deskpilot",
		Short:         "deskpilot drives a desktop sandbox with a vision-capable model.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// This function runs before any command, setting up config and logging.
			return a.initialize()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&a.cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&a.quiet, "quiet", "q", false, "print only the agent's answers")

	rootCmd.AddCommand(
		newRunCmd(a),
		newChatCmd(a),
		newServeCmd(a),
		newControlCmd(a),
	)
	return rootCmd
}

// initialize reads in config file and ENV variables if set.
func (a *app) initialize() error {
	a.v = config.NewViper()
	if a.cfgFile != "" {
		a.v.SetConfigFile(a.cfgFile)
	} else {
		a.v.AddConfigPath(".")
		a.v.SetConfigName("config")
		a.v.SetConfigType("yaml")
	}

	if err := a.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; proceed with defaults/env vars
	}

	cfg, err := config.Load(a.v)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = monitor.InitStderrLogger(cfg.Logger)
	if used := a.v.ConfigFileUsed(); used != "" {
		a.logger.Debug("Config loaded", zap.String("file", used))
	}
	return nil
}

// Execute runs the root command until ctx is cancelled or it returns.
func Execute(ctx context.Context) int {
	defer monitor.Sync()

	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		// Use the logger if available, otherwise fallback to stderr
		monitor.Logger().Debug("Command execution failed", zap.Error(err))
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}

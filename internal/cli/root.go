// Package cli wires the affchat commands.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/customermindiq/affchat/internal/config"
	"github.com/customermindiq/affchat/internal/logging"
)

var (
	cfgFile  string
	logLevel string

	// loaded at init time
	paths    config.Paths
	cfg      config.Config
	cfgErr   error
	log      *logging.Logger
	closeLog = func() error { return nil }
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "affchat",
		Short: "affchat: affiliate support chat client and desk",
		Long: "affchat lets affiliates chat with the support team from a terminal, " +
			"and runs the support desk those chats are served from.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			paths, err = config.ResolvePaths()
			if err != nil {
				return err
			}
			if cfgFile != "" {
				paths.Config = cfgFile
			}
			if err := config.LoadDotEnv(paths.EnvFile, ".env"); err != nil {
				return err
			}

			cfg, cfgErr = config.Load(paths.Config)
			if cfgErr != nil {
				cfg = config.Defaults()
			}

			opts := logging.Options{
				Level: cfg.Logging.Level,
				Style: cfg.Logging.ConsoleStyle,
				File:  cfg.Logging.File,
			}
			if logLevel != "" {
				opts.Level = logLevel
			}
			log, closeLog, err = logging.Open(opts)
			if err != nil {
				return fmt.Errorf("opening log: %w", err)
			}
			if cfgErr != nil {
				log.Warn().Err(cfgErr).Str("path", paths.Config).Msg("config not loaded, using defaults")
			}
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return closeLog()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.affchat/config.yaml)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error, fatal, silent)")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newChatCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newReplyCmd())

	return cmd
}

// requireConfig returns the loaded config, or the error that kept it from
// loading.
func requireConfig() (config.Config, error) {
	if cfgErr != nil {
		return config.Config{}, cfgErr
	}
	return cfg, nil
}

// Execute runs the root command.
func Execute() error {
	err := newRootCmd().Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
	}
	return err
}

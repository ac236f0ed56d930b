// Package main provides the phonedesk binary: the HTTP API server plus
// operational commands for migrations, sweeps, exports and tokens.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/goatkit/phonedesk/internal/config"
	"github.com/goatkit/phonedesk/internal/logging"
)

const appName = "phonedesk"

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// runtimeEnv is what every command starts from.
type runtimeEnv struct {
	cfg    *config.Config
	viper  *viper.Viper
	logger *logging.Logger
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
		env        runtimeEnv
	)

	cmd := &cobra.Command{
		Use:           appName,
		Short:         "Phone number asset management",
		Long:          "phonedesk tracks company phone numbers from registration through transfers, inventory audits and deactivation.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			cfg, v, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.Log.Level = logLevel
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			logger, err := logging.New(cfg.Log)
			if err != nil {
				return err
			}
			env = runtimeEnv{cfg: cfg, viper: v, logger: logger}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if env.logger != nil {
				_ = env.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (default: phonedesk.yaml)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level (debug, info, warn, error)")

	cmd.AddCommand(
		serveCmd(&env),
		migrateCmd(&env),
		sweepCmd(&env),
		exportTaskCmd(&env),
		tokenCmd(&env),
		eventsCmd(&env),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s version %s\n", appName, version)
			},
		},
	)
	return cmd
}

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/your-org/voxrelay/pkg/config"
	"github.com/your-org/voxrelay/pkg/logger"
	"github.com/your-org/voxrelay/pkg/storage/credstore"
)

// commandContext lazily loads configuration shared by every subcommand.
type commandContext struct {
	consoleLog bool
	cfg        *config.Config
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "voxrelay",
		Short:         "Voice message to MP3 relay",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := ctx.config()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().BoolVar(&ctx.consoleLog, "console", false, "Human-readable log output")

	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newGrantCommand(ctx))
	rootCmd.AddCommand(newUsersCommand(ctx))
	rootCmd.AddCommand(newDepsCommand(ctx))
	rootCmd.AddCommand(newNotifyTestCommand(ctx))

	return rootCmd
}

func (c *commandContext) config() (*config.Config, error) {
	if c.cfg != nil {
		return c.cfg, nil
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	c.cfg = cfg
	return cfg, nil
}

func (c *commandContext) logger() (*zap.Logger, error) {
	cfg, err := c.config()
	if err != nil {
		return nil, err
	}
	logr, err := logger.New(logger.Options{
		Level:   cfg.App.LogLevel,
		Service: cfg.App.Name,
		Version: cfg.App.Version,
		Console: c.consoleLog,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return logr, nil
}

func (c *commandContext) openStore(ctx context.Context) (credstore.Store, error) {
	cfg, err := c.config()
	if err != nil {
		return nil, err
	}
	if err := cfg.ValidateCredentials(); err != nil {
		return nil, err
	}
	return credstore.New(ctx, credstore.Config{
		Backend:     cfg.Credentials.Backend,
		FilePath:    cfg.Credentials.FilePath,
		DatabaseURL: cfg.Credentials.DatabaseURL,
	})
}

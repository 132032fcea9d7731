package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/your-org/voxrelay/internal/intake"
	"github.com/your-org/voxrelay/pkg/notify"
)

func newNotifyTestCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "notify-test <url>",
		Short: "Publish a single download event to the configured broker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.config()
			if err != nil {
				return err
			}
			notifier, err := notify.New(notifierConfig(cfg))
			if err != nil {
				return err
			}
			event := intake.NewNotificationEvent("notify-test", args[0], 0)
			if err := notifier.Publish(cmd.Context(), event.Message(cfg.Notify.CommandsTopic)); err != nil {
				return fmt.Errorf("publish to %s: %w", cfg.Notify.CommandsTopic, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Published %q to %s\n", string(event.Payload()), cfg.Notify.CommandsTopic)
			return nil
		},
	}
}

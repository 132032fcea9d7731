package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/your-org/voxrelay/pkg/media"
)

func newDepsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "deps",
		Short: "Check external tool availability",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.config()
			if err != nil {
				return err
			}
			path, err := media.CheckBinary(cfg.Media.FFmpegPath)
			if err != nil {
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Tool", "Status", "Detail"},
					[][]string{{"ffmpeg", "missing", err.Error()}},
				))
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Tool", "Status", "Detail"},
				[][]string{{"ffmpeg", "ok", path}},
			))
			return nil
		},
	}
}

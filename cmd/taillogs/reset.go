package main

import (
	"fmt"

	"taillogs/internal/logging"

	"github.com/spf13/cobra"
)

func newResetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Move file cursors to the end so the next poll skips the backlog",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			logger := logging.New(cfg.LogLevel).WithWriter(cmd.ErrOrStderr())
			a, err := openApp(cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.aggregator.ResetToEnd(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "File cursors moved to end of file")
			return nil
		},
	}
}

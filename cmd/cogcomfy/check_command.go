package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"cogcomfy/internal/preflight"
)

func newCheckCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check directories, Python and the ComfyUI server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			configDetail := ctx.configPath
			if !ctx.configSeen {
				configDetail += " (not found, using defaults)"
			}
			fmt.Fprintf(out, "Config: %s\n", configDetail)
			fmt.Fprintf(out, "Launch server: %s\n", yesNo(cfg.Server.Launch))

			results := preflight.RunAll(cmd.Context(), cfg)
			rows := make([][]string, 0, len(results))
			for _, result := range results {
				rows = append(rows, []string{result.Name, colorStatus(result.Passed, colorize), result.Detail})
			}
			fmt.Fprintln(out, tableSpec{headers: []string{"Check", "Status", "Detail"}, rows: rows}.render())

			if failed := preflight.Failed(results); len(failed) > 0 {
				return fmt.Errorf("%d check(s) failed", len(failed))
			}
			return nil
		},
	}
}

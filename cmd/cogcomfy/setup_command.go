package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSetupCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Relocate model files and verify the ComfyUI server starts",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, _, err := ctx.newPredictor()
			if err != nil {
				return err
			}
			defer p.Close()

			if err := p.Setup(cmd.Context()); err != nil {
				return err
			}

			status := p.Status()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ComfyUI ready at %s\n", status.ServerAddress)
			fmt.Fprintf(out, "Models moved: %d, skipped: %d, failed: %d\n",
				len(status.Relocation.Moved), len(status.Relocation.Skipped), len(status.Relocation.Errors))
			for _, failure := range status.Relocation.Errors {
				fmt.Fprintf(out, "  %v\n", failure)
			}
			return nil
		},
	}
}

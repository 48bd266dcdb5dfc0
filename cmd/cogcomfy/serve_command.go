package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"cogcomfy/internal/api"
	"cogcomfy/internal/logging"
	"cogcomfy/internal/preflight"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var bind string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start ComfyUI and serve predictions over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if bind != "" {
				cfg.API.Bind = bind
			}

			p, logger, err := ctx.newPredictor()
			if err != nil {
				return err
			}
			defer p.Close()

			signalCtx := cmd.Context()

			for _, failed := range preflight.Failed(preflight.RunAll(signalCtx, cfg)) {
				if failed.Name == "ComfyUI server" && cfg.Server.Launch {
					continue
				}
				logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
					logging.String("check", failed.Name),
					logging.String(logging.FieldErrorHint, failed.Detail),
					logging.String(logging.FieldImpact, "setup may fail or time out"),
				)
			}

			// Health reports STARTING until Setup finishes.
			server, err := api.NewServer(cfg, p, logger)
			if err != nil {
				return err
			}
			if err := server.Start(signalCtx); err != nil {
				return err
			}
			defer server.Stop()
			fmt.Fprintf(cmd.OutOrStdout(), "Serving predictions on http://%s\n", server.Addr())

			if err := p.Setup(signalCtx); err != nil {
				return err
			}
			<-signalCtx.Done()
			logger.Info("cogcomfy shutting down")
			return nil
		},
	}

	cmd.Flags().StringVar(&bind, "bind", "", "Override api.bind")
	return cmd
}

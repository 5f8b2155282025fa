package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/autodevops/internal/config"
	"github.com/fyrsmithlabs/autodevops/internal/webhook"
)

func newServeCmd(load func() (*config.Config, error)) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Review pull requests announced by GitHub webhooks",
		Long: `Run an HTTP server that reviews pull requests when GitHub reports them
opened, synchronized or reopened.

Deliveries must be signed with GITHUB_WEBHOOK_SECRET. Reviews run one at a
time in arrival order. Prometheus metrics are served on /metrics.

Examples:
  GITHUB_WEBHOOK_SECRET=... autodevops serve --addr :3000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Webhook.Addr = addr
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close()

			r, err := a.newReviewer(ctx, cmd.OutOrStdout())
			if err != nil {
				return err
			}

			srv, err := webhook.NewServer(cfg.Webhook, r.Review, a.logger)
			if err != nil {
				return configError(err)
			}
			if err := srv.Serve(ctx); err != nil {
				return &exitError{code: exitFatal, err: err}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default :3000)")
	return cmd
}

package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/autodevops/internal/config"
	"github.com/fyrsmithlabs/autodevops/internal/pipeline"
)

func newRunCmd(load func() (*config.Config, error)) *cobra.Command {
	var (
		prURL          string
		dryRun         bool
		updateExisting bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Review one pull request and post the report",
		Long: `Review one pull request and post the report.

Exit status is 0 when the report was published (even if some tools were
unavailable), 1 when the run aborted, and 2 for configuration errors.

Examples:
  # Review the pull request named by PR_URL
  autodevops run

  # Review a specific pull request without posting
  autodevops run --pr https://github.com/octo/calc/pull/7 --dry-run`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if prURL != "" {
				cfg.PRURL = prURL
			}
			if dryRun {
				cfg.Report.DryRun = true
			}
			if updateExisting {
				cfg.Report.UpdateExisting = true
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return runReview(ctx, cmd, cfg)
		},
	}

	cmd.Flags().StringVar(&prURL, "pr", "", "pull request URL (default $PR_URL)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the report instead of posting it")
	cmd.Flags().BoolVar(&updateExisting, "update-existing", false, "edit the previous autodevops comment instead of posting a new one")
	return cmd
}

func runReview(ctx context.Context, cmd *cobra.Command, cfg *config.Config) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	r, err := a.newReviewer(ctx, cmd.OutOrStdout())
	if err != nil {
		return err
	}

	run := r.Review(ctx, cfg.PRURL)
	return reportOutcome(ctx, cmd, a, run)
}

// reportOutcome prints what a user needs from a finished run and maps it to
// the exit code.
func reportOutcome(ctx context.Context, cmd *cobra.Command, a *app, run *pipeline.Run) error {
	switch run.Outcome {
	case pipeline.OutcomeFatal:
		if run.Report != "" && !run.Published {
			// The analysis finished but never reached the pull request.
			fmt.Fprintln(cmd.OutOrStdout(), run.Report)
		}
		reason := "unknown error"
		if run.Err != nil {
			reason = run.Err.Err.Error()
		}
		return &exitError{
			code: exitFatal,
			err:  fmt.Errorf("stage %s failed: %s", run.FailedStage, reason),
		}

	case pipeline.OutcomePartialFailure:
		a.logger.Warn(ctx, "report published with incomplete sections",
			zap.String("run_id", run.ID))
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: incomplete sections: %v\n", run.Degraded())
	}
	return nil
}

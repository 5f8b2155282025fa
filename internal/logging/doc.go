// Package logging provides structured logging for autodevops.
//
// # Overview
//
// The package wraps Zap with:
//   - Custom Trace level (-2, below Debug)
//   - Automatic correlation fields for the pipeline run (run.id, pr.ref, stage)
//     and OpenTelemetry spans (trace_id, span_id)
//   - Secret redaction at the encoder, by field name and by value pattern
//
// # Usage
//
//	logger, err := logging.NewLogger(logging.NewDefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithRunID(ctx, runID)
//	ctx = logging.WithPullRequest(ctx, "octo/repo#12")
//	ctx = logging.WithStage(ctx, "review")
//	logger.Info(ctx, "stage completed", zap.Duration("duration", d))
//
// produces
//
//	{"level":"info","ts":"2026-01-05T10:15:30.000Z","msg":"stage completed",
//	 "run.id":"0b6c...","pr.ref":"octo/repo#12","stage":"review","duration":"4.2s"}
//
// Logs go to stderr by default so that `autodevops run` can print the
// formatted report on stdout.
//
// # Secret Redaction
//
// Secrets are redacted at three layers:
//  1. Domain primitives (config.Secret type, logging.Secret field)
//  2. Encoder-level field name filtering
//  3. Encoder-level pattern replacement (GitHub tokens, Google API keys, bearer headers)
package logging

// Package main implements the autodevops CLI.
//
// autodevops reviews a GitHub pull request: it lints, security-scans and
// reviews the changed Python files, generates and runs tests for the
// corrected code, and posts one consolidated comment.
//
// Usage:
//
//	GOOGLE_API_KEY=... PAT_COMMENT=ghp_xxx \
//	autodevops run --pr https://github.com/owner/repo/pull/1
//
//	GITHUB_WEBHOOK_SECRET=... autodevops serve --addr :3000
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/autodevops/internal/config"
)

// version is set at build time.
var version = "dev"

// Process exit codes.
const (
	exitOK     = 0
	exitFatal  = 1
	exitConfig = 2
)

// exitError carries a process exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit code %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// configError marks failures that happen before any stage runs.
func configError(err error) error {
	return &exitError{code: exitConfig, err: err}
}

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

func execute(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	if args == nil {
		args = []string{}
	}
	root.SetArgs(args)

	err := root.Execute()
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintf(stderr, "error: %v\n", ee.err)
		}
		return ee.code
	}
	// Flag and argument errors from cobra.
	fmt.Fprintf(stderr, "error: %v\n", err)
	return exitConfig
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "autodevops",
		Short: "Automated pull request review pipeline",
		Long: `autodevops fetches the changed files of a pull request, runs ruff, bandit and
a secret scanner over them, asks Gemini for a review with corrected code,
generates and runs pytest tests for the corrections, and posts one report
comment on the pull request.

Credentials are read from the environment (or a .env file):
  GOOGLE_API_KEY          Gemini API key
  PAT_COMMENT, GITHUB_PAT GitHub token (PAT_COMMENT wins)
  PR_URL                  default pull request for "run"`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")

	load := func() (*config.Config, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, configError(err)
		}
		return cfg, nil
	}

	run := newRunCmd(load)
	root.AddCommand(run, newServeCmd(load), newModelsCmd(load))

	// A bare "autodevops" reviews PR_URL, as the CI workflow invokes it.
	root.RunE = run.RunE
	root.Flags().AddFlagSet(run.Flags())
	return root
}

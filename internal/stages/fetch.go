package stages

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/autodevops/internal/gateway"
	"github.com/fyrsmithlabs/autodevops/internal/logging"
	"github.com/fyrsmithlabs/autodevops/internal/pipeline"
)

// FileFetcher reads the changed files of a pull request. *gateway.GitHubGateway implements it.
type FileFetcher interface {
	FetchChangedFiles(ctx context.Context, ref gateway.Reference) ([]gateway.File, error)
}

// Fetch produces the FileSet artifact.
type Fetch struct {
	files FileFetcher
}

// NewFetch creates the Fetch stage.
func NewFetch(files FileFetcher) *Fetch {
	return &Fetch{files: files}
}

func (s *Fetch) ID() pipeline.StageID         { return pipeline.StageFetch }
func (s *Fetch) Requires() []pipeline.StageID { return nil }

// Run fetches the files at the pull request's head revision. Gateway errors
// are returned unchanged so the orchestrator can classify them.
func (s *Fetch) Run(ctx context.Context, in pipeline.Inputs) (pipeline.Artifact, error) {
	files, err := s.files.FetchChangedFiles(ctx, in.Target())
	if err != nil {
		return pipeline.Artifact{}, fmt.Errorf("fetch changed files: %w", err)
	}

	fs := NewFileSet(files)
	text, err := fs.Encode()
	if err != nil {
		return pipeline.Artifact{}, err
	}

	logging.FromContext(ctx).Info(ctx, "fetched changed files",
		zap.Int("count", len(fs)),
		zap.Strings("paths", fs.Paths()),
	)
	return pipeline.Artifact{Text: text}, nil
}

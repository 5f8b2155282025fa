package report

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/autodevops/internal/gateway"
	"github.com/fyrsmithlabs/autodevops/internal/logging"
	"github.com/fyrsmithlabs/autodevops/internal/pipeline"
)

var (
	// ErrAlreadyPublished is returned by every Publish call after the first.
	ErrAlreadyPublished = errors.New("report already published")
	// ErrRedaction means the report could not be scrubbed and was withheld.
	ErrRedaction = errors.New("report redaction failed")
)

// Commenter is the part of the repository gateway the publisher needs.
// *gateway.GitHubGateway implements it.
type Commenter interface {
	PostComment(ctx context.Context, ref gateway.Reference, body string) (*gateway.Comment, error)
	FindComment(ctx context.Context, ref gateway.Reference, marker string) (*gateway.Comment, error)
	EditComment(ctx context.Context, ref gateway.Reference, id int64, body string) (*gateway.Comment, error)
}

// Options control how a report is delivered.
type Options struct {
	// UpdateExisting edits the newest comment carrying Marker instead of
	// posting a new one.
	UpdateExisting bool
	// DryRun writes the report to Out instead of the pull request.
	DryRun bool
	// Out receives dry-run reports. Defaults to stdout.
	Out io.Writer
	// Scanner redacts credentials. Nil uses the default rules.
	Scanner Redactor
}

// Publisher formats and delivers the report of a single run. It publishes at
// most once; create one per run.
type Publisher struct {
	comments Commenter
	opts     Options
	logger   *logging.Logger

	once      sync.Once
	mu        sync.Mutex
	redactErr error
	comment   *gateway.Comment
}

// NewPublisher creates a publisher. comments may be nil in dry-run mode.
func NewPublisher(comments Commenter, opts Options, logger *logging.Logger) *Publisher {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Publisher{comments: comments, opts: opts, logger: logger.Named("report")}
}

// Format implements pipeline.Publisher.
func (p *Publisher) Format(artifacts map[pipeline.StageID]pipeline.Artifact) string {
	body, err := Format(p.opts.Scanner,
		artifacts[pipeline.StageReview],
		artifacts[pipeline.StageSecurityAudit],
		artifacts[pipeline.StageTestExecution],
	)
	if err != nil {
		// No report text survives a failed redaction; Publish reports the error.
		p.logger.Error(context.Background(), "report redaction failed", zap.Error(err))
		p.mu.Lock()
		p.redactErr = err
		p.mu.Unlock()
		return ""
	}
	return body
}

// Publish implements pipeline.Publisher. Only the first call reaches the gateway.
func (p *Publisher) Publish(ctx context.Context, ref gateway.Reference, body string) error {
	first := false
	p.once.Do(func() { first = true })
	if !first {
		return ErrAlreadyPublished
	}

	p.mu.Lock()
	redactErr := p.redactErr
	p.mu.Unlock()
	if redactErr != nil {
		return fmt.Errorf("%w: %v", ErrRedaction, redactErr)
	}

	logger := logging.FromContext(ctx)
	if p.opts.DryRun {
		if _, err := fmt.Fprintf(p.opts.Out, "%s\n", body); err != nil {
			return fmt.Errorf("write dry-run report: %w", err)
		}
		logger.Info(ctx, "dry run, report not posted", zap.String("pr", ref.String()))
		return nil
	}
	if p.comments == nil {
		return errors.New("no repository gateway configured")
	}

	var (
		c   *gateway.Comment
		err error
	)
	if p.opts.UpdateExisting {
		c, err = p.update(ctx, ref, body)
	} else {
		c, err = p.comments.PostComment(ctx, ref, body)
	}
	if err != nil {
		return fmt.Errorf("publish report: %w", err)
	}

	p.mu.Lock()
	p.comment = c
	p.mu.Unlock()
	logger.Info(ctx, "report published", zap.String("url", c.URL))
	return nil
}

func (p *Publisher) update(ctx context.Context, ref gateway.Reference, body string) (*gateway.Comment, error) {
	existing, err := p.comments.FindComment(ctx, ref, Marker)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return p.comments.PostComment(ctx, ref, body)
	}
	logging.FromContext(ctx).Debug(ctx, "updating existing report", zap.Int64("comment_id", existing.ID))
	return p.comments.EditComment(ctx, ref, existing.ID, body)
}

// Comment returns the posted or edited comment, or nil.
func (p *Publisher) Comment() *gateway.Comment {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.comment
}

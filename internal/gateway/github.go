package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/fyrsmithlabs/autodevops/internal/config"
	"github.com/fyrsmithlabs/autodevops/internal/logging"
)

// File is one changed source file at the pull request's head revision.
type File struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// Comment identifies a posted pull request comment.
type Comment struct {
	ID  int64
	URL string
}

// GitHubGateway implements the repository operations on the GitHub REST API.
type GitHubGateway struct {
	client     *github.Client
	retry      RetryConfig
	extensions []string
	logger     *logging.Logger
}

// Option configures a GitHubGateway.
type Option func(*GitHubGateway) error

// WithBaseURL points the client at a GitHub Enterprise or test server.
func WithBaseURL(raw string) Option {
	return func(g *GitHubGateway) error {
		if !strings.HasSuffix(raw, "/") {
			raw += "/"
		}
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("invalid GitHub base URL: %w", err)
		}
		g.client.BaseURL = u
		return nil
	}
}

// WithRetryConfig overrides the read retry policy.
func WithRetryConfig(cfg RetryConfig) Option {
	return func(g *GitHubGateway) error {
		g.retry = cfg
		return nil
	}
}

// WithExtensions restricts fetched files to the given extensions (".py").
func WithExtensions(exts ...string) Option {
	return func(g *GitHubGateway) error {
		g.extensions = exts
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(g *GitHubGateway) error {
		if l != nil {
			g.logger = l.Named("gateway")
		}
		return nil
	}
}

// NewGitHubGateway creates a gateway authenticated with a personal access token.
func NewGitHubGateway(ctx context.Context, token config.Secret, opts ...Option) (*GitHubGateway, error) {
	if !token.IsSet() {
		return nil, fmt.Errorf("%w: GitHub token not set", ErrAuthentication)
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token.Value()})
	g := &GitHubGateway{
		client:     github.NewClient(oauth2.NewClient(ctx, ts)),
		retry:      *DefaultRetryConfig(),
		extensions: []string{".py"},
		logger:     logging.NewNop(),
	}
	for _, opt := range opts {
		if err := opt(g); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// Client exposes the underlying go-github client.
func (g *GitHubGateway) Client() *github.Client {
	return g.client
}

// FetchChangedFiles returns the reviewed-language files changed by the pull
// request, read at its head commit, in the order GitHub lists them. A pull
// request without matching files yields an empty slice.
func (g *GitHubGateway) FetchChangedFiles(ctx context.Context, ref Reference) ([]File, error) {
	var pr *github.PullRequest
	resp, err := retryOperation(ctx, g.retry, g.logger, "get pull request", func() (*github.Response, error) {
		var (
			resp *github.Response
			err  error
		)
		pr, resp, err = g.client.PullRequests.Get(ctx, ref.Owner, ref.Repo, ref.Number)
		return resp, err
	})
	if err != nil {
		return nil, classify("get pull request", resp, err)
	}
	headSHA := pr.GetHead().GetSHA()

	var changed []*github.CommitFile
	opts := &github.ListOptions{PerPage: 100}
	for {
		var page []*github.CommitFile
		resp, err := retryOperation(ctx, g.retry, g.logger, "list pull request files", func() (*github.Response, error) {
			var (
				resp *github.Response
				err  error
			)
			page, resp, err = g.client.PullRequests.ListFiles(ctx, ref.Owner, ref.Repo, ref.Number, opts)
			return resp, err
		})
		if err != nil {
			return nil, classify("list pull request files", resp, err)
		}
		changed = append(changed, page...)
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	files := make([]File, 0, len(changed))
	seen := make(map[string]struct{}, len(changed))
	for _, f := range changed {
		name := f.GetFilename()
		if !g.matches(name) || f.GetStatus() == "removed" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}

		content, err := g.fileContent(ctx, ref, name, headSHA)
		if err != nil {
			return nil, err
		}
		files = append(files, File{Path: name, Content: content})
	}

	g.logger.Info(ctx, "fetched pull request files",
		zap.String("head_sha", headSHA),
		zap.Int("changed", len(changed)),
		zap.Int("reviewed", len(files)),
	)
	return files, nil
}

func (g *GitHubGateway) fileContent(ctx context.Context, ref Reference, name, sha string) (string, error) {
	var fc *github.RepositoryContent
	resp, err := retryOperation(ctx, g.retry, g.logger, "get file contents", func() (*github.Response, error) {
		var (
			resp *github.Response
			err  error
		)
		fc, _, resp, err = g.client.Repositories.GetContents(ctx, ref.Owner, ref.Repo, name,
			&github.RepositoryContentGetOptions{Ref: sha})
		return resp, err
	})
	if err != nil {
		return "", classify("get contents of "+name, resp, err)
	}
	if fc == nil {
		return "", fmt.Errorf("get contents of %s: %w: not a file", name, ErrNotFound)
	}
	content, err := fc.GetContent()
	if err != nil {
		return "", fmt.Errorf("failed to decode %s: %w", name, err)
	}
	return content, nil
}

func (g *GitHubGateway) matches(name string) bool {
	if len(g.extensions) == 0 {
		return true
	}
	ext := path.Ext(name)
	for _, want := range g.extensions {
		if strings.EqualFold(ext, want) {
			return true
		}
	}
	return false
}

// PostComment posts body as a new comment. It is attempted exactly once.
func (g *GitHubGateway) PostComment(ctx context.Context, ref Reference, body string) (*Comment, error) {
	created, resp, err := g.client.Issues.CreateComment(ctx, ref.Owner, ref.Repo, ref.Number,
		&github.IssueComment{Body: github.String(body)})
	if err != nil {
		return nil, classify("create comment", resp, err)
	}
	g.logger.Info(ctx, "posted pull request comment", zap.String("url", created.GetHTMLURL()))
	return &Comment{ID: created.GetID(), URL: created.GetHTMLURL()}, nil
}

// FindComment returns the most recent comment containing marker, or nil.
func (g *GitHubGateway) FindComment(ctx context.Context, ref Reference, marker string) (*Comment, error) {
	var found *github.IssueComment
	opts := &github.IssueListCommentsOptions{ListOptions: github.ListOptions{PerPage: 100}}
	for {
		var page []*github.IssueComment
		resp, err := retryOperation(ctx, g.retry, g.logger, "list comments", func() (*github.Response, error) {
			var (
				resp *github.Response
				err  error
			)
			page, resp, err = g.client.Issues.ListComments(ctx, ref.Owner, ref.Repo, ref.Number, opts)
			return resp, err
		})
		if err != nil {
			return nil, classify("list comments", resp, err)
		}
		for _, c := range page {
			if strings.Contains(c.GetBody(), marker) {
				found = c
			}
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	if found == nil {
		return nil, nil
	}
	return &Comment{ID: found.GetID(), URL: found.GetHTMLURL()}, nil
}

// EditComment replaces the body of an existing comment. It is attempted exactly once.
func (g *GitHubGateway) EditComment(ctx context.Context, ref Reference, id int64, body string) (*Comment, error) {
	updated, resp, err := g.client.Issues.EditComment(ctx, ref.Owner, ref.Repo, id,
		&github.IssueComment{Body: github.String(body)})
	if err != nil {
		return nil, classify("edit comment", resp, err)
	}
	g.logger.Info(ctx, "updated pull request comment", zap.String("url", updated.GetHTMLURL()))
	return &Comment{ID: updated.GetID(), URL: updated.GetHTMLURL()}, nil
}

// classify maps GitHub failures onto the gateway's sentinel errors.
func classify(op string, resp *github.Response, err error) error {
	var rateErr *github.RateLimitError
	switch {
	case errors.As(err, &rateErr):
		return fmt.Errorf("%s: %w", op, err)
	case statusCode(resp) == http.StatusUnauthorized:
		return fmt.Errorf("%s: %w: %w", op, ErrAuthentication, err)
	case statusCode(resp) == http.StatusForbidden && !isRateLimited(resp):
		return fmt.Errorf("%s: %w: %w", op, ErrAuthentication, err)
	case statusCode(resp) == http.StatusNotFound:
		return fmt.Errorf("%s: %w: %w", op, ErrNotFound, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

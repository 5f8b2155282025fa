// Package webhook runs the review pipeline for pull requests announced by
// GitHub webhook deliveries.
//
// Deliveries are authenticated with the shared secret, filtered to
// pull_request opened, synchronize and reopened actions, and queued. A single
// worker drains the queue, so runs never overlap.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"sync"
	"time"

	"github.com/google/go-github/v57/github"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/autodevops/internal/config"
	"github.com/fyrsmithlabs/autodevops/internal/gateway"
	"github.com/fyrsmithlabs/autodevops/internal/logging"
	"github.com/fyrsmithlabs/autodevops/internal/pipeline"
)

const (
	maxPayloadBytes = 1 << 20
	shutdownTimeout = 10 * time.Second
	limiterReset    = time.Hour
)

var validName = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// ErrQueueFull is returned when a delivery arrives while the queue is full.
var ErrQueueFull = errors.New("review queue is full")

// RunFunc executes one pipeline run for a pull request URL.
type RunFunc func(ctx context.Context, prURL string) *pipeline.Run

type job struct {
	url      string
	delivery string
}

// Server receives webhook deliveries and feeds the review worker.
type Server struct {
	echo    *echo.Echo
	cfg     config.WebhookConfig
	run     RunFunc
	logger  *logging.Logger
	metrics *Metrics
	queue   chan job

	mu          sync.Mutex
	limiters    map[string]*rate.Limiter
	lastCleanup time.Time
}

// NewServer creates the server. The webhook secret is required.
func NewServer(cfg config.WebhookConfig, run RunFunc, logger *logging.Logger) (*Server, error) {
	if !cfg.Secret.IsSet() {
		return nil, fmt.Errorf("%w: GITHUB_WEBHOOK_SECRET", config.ErrMissingCredential)
	}
	if run == nil {
		return nil, errors.New("run function is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:        e,
		cfg:         cfg,
		run:         run,
		logger:      logger.Named("webhook"),
		metrics:     NewMetrics(),
		queue:       make(chan job, cfg.QueueSize),
		limiters:    make(map[string]*rate.Limiter),
		lastCleanup: time.Now(),
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.logRequests)

	e.POST("/webhook", s.handleWebhook)
	e.GET("/health", s.handleHealth)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{})))
	return s, nil
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.echo }

// Metrics returns the server's collectors.
func (s *Server) Metrics() *Metrics { return s.metrics }

// Serve listens on the configured address and runs the worker until ctx is
// canceled, then shuts the listener down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		s.Work(ctx)
	}()

	serverErr := make(chan error, 1)
	go func() {
		s.logger.Info(ctx, "webhook server listening", zap.String("addr", s.cfg.Addr))
		serverErr <- s.echo.Start(s.cfg.Addr)
	}()

	var err error
	select {
	case err = <-serverErr:
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
	case <-ctx.Done():
		s.logger.Info(ctx, "shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := s.echo.Shutdown(shutdownCtx); serr != nil && err == nil {
		err = fmt.Errorf("shutdown: %w", serr)
	}
	<-workerDone
	return err
}

// Work drains the queue, one run at a time, until ctx is canceled.
func (s *Server) Work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-s.queue:
			s.metrics.QueueDepth.Dec()
			s.process(ctx, j)
		}
	}
}

func (s *Server) process(ctx context.Context, j job) {
	s.logger.Info(ctx, "starting queued review", zap.String("pr", j.url), zap.String("delivery", j.delivery))

	run := s.run(ctx, j.url)
	s.metrics.RunsTotal.WithLabelValues(string(run.Outcome)).Inc()
	s.metrics.RunDuration.Observe(run.Duration().Seconds())

	fields := []zap.Field{
		zap.String("pr", j.url),
		zap.String("run_id", run.ID),
		zap.String("outcome", string(run.Outcome)),
	}
	if run.Err != nil {
		s.logger.Error(ctx, "queued review failed", append(fields, zap.Error(run.Err))...)
		return
	}
	s.logger.Info(ctx, "queued review finished", fields...)
}

// enqueue never blocks the request goroutine.
func (s *Server) enqueue(j job) error {
	select {
	case s.queue <- j:
		s.metrics.QueueDepth.Inc()
		return nil
	default:
		return ErrQueueFull
	}
}

func (s *Server) logRequests(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		s.logger.Debug(c.Request().Context(), "http request",
			zap.String("method", c.Request().Method),
			zap.String("uri", c.Request().RequestURI),
			zap.Int("status", c.Response().Status),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
		)
		return err
	}
}

// limiter returns the per-IP limiter: 60 deliveries per minute, burst 10.
func (s *Server) limiter(ip string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	if time.Since(s.lastCleanup) > limiterReset {
		s.limiters = make(map[string]*rate.Limiter)
		s.lastCleanup = time.Now()
	}
	l, ok := s.limiters[ip]
	if !ok {
		l = rate.NewLimiter(rate.Every(time.Minute/60), 10)
		s.limiters[ip] = l
	}
	return l
}

type statusResponse struct {
	Status string `json:"status"`
	PR     string `json:"pr,omitempty"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, statusResponse{Status: "ok"})
}

func (s *Server) handleWebhook(c echo.Context) error {
	req := c.Request()
	ctx := req.Context()

	ip := c.RealIP()
	if !s.limiter(ip).Allow() {
		s.logger.Warn(ctx, "rate limit exceeded", zap.String("ip", ip))
		return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
	}

	req.Body = http.MaxBytesReader(c.Response(), req.Body, maxPayloadBytes)
	payload, err := github.ValidatePayload(req, []byte(s.cfg.Secret.Value()))
	if err != nil {
		s.logger.Warn(ctx, "invalid webhook signature", zap.Error(err))
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid signature")
	}

	eventType := github.WebHookType(req)
	event, err := github.ParseWebHook(eventType, payload)
	if err != nil {
		s.logger.Warn(ctx, "unparseable webhook", zap.String("event", eventType), zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}

	pr, ok := event.(*github.PullRequestEvent)
	if !ok {
		s.metrics.EventsTotal.WithLabelValues(eventType, "").Inc()
		s.logger.Debug(ctx, "ignoring event", zap.String("event", eventType))
		return c.JSON(http.StatusOK, statusResponse{Status: "ignored"})
	}

	action := pr.GetAction()
	s.metrics.EventsTotal.WithLabelValues(eventType, action).Inc()
	switch action {
	case "opened", "synchronize", "reopened":
	default:
		s.logger.Debug(ctx, "ignoring pull request action", zap.String("action", action))
		return c.JSON(http.StatusOK, statusResponse{Status: "ignored"})
	}

	ref, err := referenceOf(pr)
	if err != nil {
		s.logger.Warn(ctx, "invalid pull request event", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	url := ref.URL()
	if err := s.enqueue(job{url: url, delivery: github.DeliveryID(req)}); err != nil {
		s.logger.Warn(ctx, "dropping delivery", zap.String("pr", url), zap.Error(err))
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}

	s.logger.Info(ctx, "pull request queued for review",
		zap.String("pr", url),
		zap.String("action", action),
	)
	return c.JSON(http.StatusAccepted, statusResponse{Status: "queued", PR: url})
}

// referenceOf validates the event's repository coordinates.
func referenceOf(e *github.PullRequestEvent) (gateway.Reference, error) {
	number := e.GetPullRequest().GetNumber()
	if number <= 0 {
		number = e.GetNumber()
	}
	if number <= 0 {
		return gateway.Reference{}, errors.New("invalid pull request number")
	}
	owner := e.GetRepo().GetOwner().GetLogin()
	if !validName.MatchString(owner) {
		return gateway.Reference{}, errors.New("invalid repository owner")
	}
	name := e.GetRepo().GetName()
	if !validName.MatchString(name) {
		return gateway.Reference{}, errors.New("invalid repository name")
	}
	return gateway.Reference{Owner: owner, Repo: name, Number: number}, nil
}

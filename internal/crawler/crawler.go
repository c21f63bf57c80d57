package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"newsharvest/internal/config"
	"newsharvest/internal/dataset"
	"newsharvest/internal/discovery"
	"newsharvest/internal/extract"
	"newsharvest/internal/fetcher"
	robotsclient "newsharvest/internal/robots"
	"newsharvest/internal/storage"
	"newsharvest/pkg/types"
)

// SessionFactory returns the opener of interactive sessions for one site.
type SessionFactory func(site config.SiteConfig) discovery.SessionOpener

// Engine runs one incremental harvest per configured site.
type Engine struct {
	cfg      config.Config
	fetcher  fetcher.Fetcher
	robots   *robotsclient.Agent
	limiter  *fetcher.DomainLimiter
	backend  storage.Backend
	sessions SessionFactory
	now      func() time.Time

	logger *slog.Logger

	closers   []func() error
	closeOnce sync.Once
}

// Option customises an Engine.
type Option func(*Engine)

// WithLogger replaces the logger built from configuration.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithFetcher replaces the HTTP fetcher.
func WithFetcher(f fetcher.Fetcher) Option {
	return func(e *Engine) { e.fetcher = f }
}

// WithSessionFactory replaces the headless Chrome sessions used by reveal sites.
func WithSessionFactory(factory SessionFactory) Option {
	return func(e *Engine) { e.sessions = factory }
}

// WithClock sets the time source for month based listings.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine wires fetching, politeness, robots and storage from configuration.
func NewEngine(ctx context.Context, cfg config.Config, opts ...Option) (*Engine, error) {
	e := &Engine{cfg: cfg, now: time.Now}

	logger, closeLog, err := BuildLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}
	e.logger = logger
	e.closers = append(e.closers, closeLog)
	for _, opt := range opts {
		opt(e)
	}

	e.limiter = fetcher.NewDomainLimiter(cfg.Fetch.Delay.Duration, fetcher.RateLimiterSettings{
		Requests: cfg.Fetch.RateLimit.Requests,
		Window:   cfg.Fetch.RateLimit.Window.Duration,
	})
	for _, key := range cfg.SiteKeys() {
		site := cfg.Sites[key]
		if site.Delay.Duration <= 0 {
			continue
		}
		if u, err := url.Parse(site.BaseURL); err == nil {
			e.limiter.SetHostDelay(u.Hostname(), site.Delay.Duration)
		}
	}

	if e.fetcher == nil {
		fetchOpts := fetcher.Options{
			UserAgent:    cfg.Fetch.UserAgent,
			Headers:      cfg.Fetch.Headers,
			Timeout:      cfg.Fetch.Timeout.Duration,
			MaxBodyBytes: cfg.Fetch.MaxBodyBytes,
			ProxyURL:     cfg.Fetch.ProxyURL,
			Retry: fetcher.RetryPolicy{
				MaxAttempts:  cfg.Fetch.Retry.MaxAttempts,
				InitialDelay: cfg.Fetch.Retry.InitialDelay.Duration,
				MaxDelay:     cfg.Fetch.Retry.MaxDelay.Duration,
				Multiplier:   cfg.Fetch.Retry.Multiplier,
			},
			Limiter: e.limiter,
			Logger:  e.logger,
		}
		robotsFetcher, err := fetcher.NewHTTPFetcher(fetchOpts)
		if err != nil {
			e.Close()
			return nil, fmt.Errorf("http fetcher: %w", err)
		}
		e.robots = robotsclient.NewAgent(cfg.Robots, robotsFetcher.Client(), e.logger)
		fetchOpts.Gate = e.robots
		httpFetcher, err := fetcher.NewHTTPFetcher(fetchOpts)
		if err != nil {
			e.Close()
			return nil, fmt.Errorf("http fetcher: %w", err)
		}
		e.fetcher = httpFetcher
	}

	if e.sessions == nil {
		e.sessions = e.chromeSessions
	}

	backend, err := storage.NewBackend(ctx, cfg.Storage)
	if err != nil {
		e.Close()
		return nil, err
	}
	e.backend = backend
	e.closers = append(e.closers, backend.Close)
	return e, nil
}

// Run harvests the given sites, or every configured site when none are named.
// Sites run concurrently up to worker.concurrency. A failing site does not stop
// the others; the returned error joins every site failure.
func (e *Engine) Run(ctx context.Context, keys ...string) ([]types.SiteOutcome, error) {
	if len(keys) == 0 {
		keys = e.cfg.SiteKeys()
	}
	for _, key := range keys {
		if _, ok := e.cfg.Sites[key]; !ok {
			return nil, fmt.Errorf("site %q is not configured", key)
		}
	}

	runID := uuid.NewString()
	e.logger.Info("harvest started", "run_id", runID, "sites", len(keys))

	outcomes := make([]types.SiteOutcome, len(keys))
	var g errgroup.Group
	g.SetLimit(max(e.cfg.Worker.Concurrency, 1))
	for i, key := range keys {
		i, key := i, key
		g.Go(func() error {
			outcomes[i] = e.runSite(ctx, runID, key)
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for _, out := range outcomes {
		if out.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", out.Site, out.Err))
		}
	}
	e.logger.Info("harvest finished", "run_id", runID, "failed_sites", len(errs))
	return outcomes, errors.Join(errs...)
}

// Close releases resources owned by the engine.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		for i := len(e.closers) - 1; i >= 0; i-- {
			if cerr := e.closers[i](); cerr != nil {
				err = errors.Join(err, cerr)
			}
		}
	})
	return err
}

func (e *Engine) runSite(ctx context.Context, runID, key string) types.SiteOutcome {
	site := e.cfg.Sites[key]
	out := types.SiteOutcome{Site: key, RunID: runID, Strategy: site.Strategy, Started: time.Now()}
	logger := e.logger.With("site", key, "run_id", runID, "strategy", site.Strategy)
	defer func() {
		out.Elapsed = time.Since(out.Started)
		logger.Info("site finished",
			"stop", out.Stop,
			"discovered", out.Discovered,
			"extracted", out.Extracted,
			"failed", out.Failed,
			"total", out.Total,
			"elapsed", out.Elapsed.Round(time.Millisecond),
		)
	}()

	if e.robots != nil {
		// Each run reads the site's current robots.txt.
		if base, err := url.Parse(site.BaseURL); err == nil {
			e.robots.Purge(base.Host)
		}
	}

	store, err := e.backend.Dataset(key, site)
	if err != nil {
		out.Err = err
		return out
	}
	existing, err := store.Load(ctx)
	if err != nil {
		out.Err = fmt.Errorf("load %s: %w", store.Location(), err)
		return out
	}
	index := dataset.NewIndex(existing)
	out.Total = index.Len()
	logger.Info("dataset loaded", "location", store.Location(), "known", index.Len())

	extractor, err := extract.ForSite(site)
	if err != nil {
		out.Err = err
		return out
	}
	strategy, err := e.strategy(site, index, logger)
	if err != nil {
		out.Err = err
		return out
	}

	h := &harvest{fetcher: e.fetcher, extractor: extractor, logger: logger}
	result, err := strategy.Discover(ctx, index, h.collect(ctx))
	out.Stop = string(result.Stop)
	if result.Cause != nil {
		out.Cause = result.Cause.Error()
	}
	out.Discovered = len(result.URLs)
	out.Extracted = len(h.fresh)
	out.Failed = h.failed
	out.Skipped = len(result.Skipped)
	if err != nil {
		out.Err = err
	}
	if result.Cause != nil {
		logger.Warn("discovery ended early", "stop", result.Stop, "error", result.Cause)
	}

	if len(h.fresh) == 0 {
		return out
	}
	merged := dataset.Merge(h.fresh, existing)
	// Persist whatever was harvested even when the run was cancelled.
	if err := store.Save(context.WithoutCancel(ctx), merged); err != nil {
		out.Err = errors.Join(out.Err, fmt.Errorf("save %s: %w", store.Location(), err))
		return out
	}
	out.Total = len(merged)
	logger.Info("dataset saved", "location", store.Location(), "added", len(merged)-len(existing))
	return out
}

// harvest fetches and extracts every emitted candidate.
type harvest struct {
	fetcher   fetcher.Fetcher
	extractor extract.Extractor
	logger    *slog.Logger

	fresh  []types.Article
	failed int
}

func (h *harvest) collect(ctx context.Context) discovery.Emit {
	return func(c types.Candidate) bool {
		if ctx.Err() != nil {
			return true
		}
		page := c.Page
		if page == nil {
			var err error
			page, err = h.fetcher.Fetch(ctx, c.URL)
			if err != nil {
				if ctx.Err() == nil {
					h.failed++
					h.logger.Warn("article fetch failed", "url", c.URL, "error", err)
				}
				return true
			}
		}
		article, missing := h.extractor.Extract(page)
		article.URL = c.URL
		if len(missing) > 0 {
			h.logger.Debug("article fields missing", "url", c.URL, "fields", missing)
		}
		h.fresh = append(h.fresh, article)
		return true
	}
}

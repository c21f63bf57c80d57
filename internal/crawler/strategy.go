package crawler

import (
	"context"
	"fmt"
	"log/slog"

	"newsharvest/internal/config"
	"newsharvest/internal/dataset"
	"newsharvest/internal/discovery"
	"newsharvest/internal/fetcher"
)

// strategy builds the discovery strategy for a site. The known dataset decides
// where sequence and chain strategies resume.
func (e *Engine) strategy(site config.SiteConfig, index *dataset.Index, logger *slog.Logger) (discovery.Strategy, error) {
	switch site.Strategy {
	case config.StrategyListing:
		var pages discovery.PageSource
		switch site.Listing.Pagination {
		case config.PaginationMonth:
			pages = discovery.MonthlyPages{Template: site.Listing.Template, From: e.now(), Months: site.Listing.Months}
		default:
			count := site.Listing.MaxPages
			if count <= 0 {
				count = e.cfg.N
			}
			pages = discovery.NumberedPages{Template: site.Listing.Template, Start: site.Listing.StartPage, Count: count}
		}
		return &discovery.Listing{
			Pages:        pages,
			LinkSelector: site.Listing.LinkSelector,
			Fetcher:      e.fetcher,
			Logger:       logger,
		}, nil

	case config.StrategyReveal:
		return &discovery.Reveal{
			StartURL:        site.Reveal.StartURL,
			ControlSelector: site.Reveal.ControlSelector,
			ItemSelector:    site.Reveal.ItemSelector,
			MaxAttempts:     site.Reveal.MaxAttempts,
			WaitTimeout:     site.Reveal.WaitTimeout.Duration,
			Pause:           site.Reveal.Pause.Duration,
			RetryPause:      site.Reveal.RetryPause.Duration,
			Open:            e.sessions(site),
			Logger:          logger,
		}, nil

	case config.StrategySequence:
		start := site.Sequence.Floor
		if id, ok := index.MaxID(); ok && id+1 > start {
			start = id + 1
		}
		logger.Debug("sequence resumes", "id", start)
		return &discovery.Sequence{
			Template:      site.Sequence.Template,
			Start:         start,
			NotFoundLimit: site.Sequence.NotFoundLimit,
			SkipLimit:     site.Sequence.SkipLimit,
			Fetcher:       e.fetcher,
			Logger:        logger,
		}, nil

	case config.StrategyChain:
		chain := &discovery.Chain{
			Start:        index.Latest(),
			LinkSelector: site.Chain.LinkSelector,
			MaxSteps:     site.Chain.MaxSteps,
			Fetcher:      e.fetcher,
			Logger:       logger,
		}
		if chain.Start == "" {
			chain.Start = site.Chain.StartURL
			chain.IncludeStart = true
		}
		return chain, nil

	case config.StrategyFeed:
		return &discovery.Feed{URL: site.Feed.URL, Fetcher: e.fetcher, Logger: logger}, nil
	}
	return nil, fmt.Errorf("unsupported strategy %q", site.Strategy)
}

// chromeSessions opens a headless Chrome per reveal run.
func (e *Engine) chromeSessions(site config.SiteConfig) discovery.SessionOpener {
	browser := fetcher.NewBrowser(fetcher.BrowserOptions{
		Headless:     e.cfg.Browser.Headless,
		ExecPath:     e.cfg.Browser.ExecPath,
		UserAgent:    e.cfg.Fetch.UserAgent,
		Timeout:      e.cfg.Browser.Timeout.Duration,
		DisableGPU:   e.cfg.Browser.DisableGPU,
		NoSandbox:    e.cfg.Browser.NoSandbox,
		ScrollOffset: site.Reveal.ScrollOffset,
		Logger:       e.logger,
	})
	return func(ctx context.Context) (discovery.Session, error) {
		session, err := browser.Open(ctx)
		if err != nil {
			return nil, err
		}
		return session, nil
	}
}

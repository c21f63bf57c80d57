package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"newsharvest/internal/fetcher"
)

// PageSource generates listing page URLs in crawl order.
type PageSource interface {
	PageURLs() []string
}

// NumberedPages substitutes {page} with Start, Start+1, ... for Count pages.
type NumberedPages struct {
	Template string
	Start    int
	Count    int
}

// PageURLs implements PageSource.
func (p NumberedPages) PageURLs() []string {
	start := p.Start
	if start <= 0 {
		start = 1
	}
	urls := make([]string, 0, max(p.Count, 0))
	for i := 0; i < p.Count; i++ {
		urls = append(urls, strings.ReplaceAll(p.Template, "{page}", strconv.Itoa(start+i)))
	}
	return urls
}

// MonthlyPages walks month archives from From backwards for Months months.
// {year} and {month} are substituted; {mm} is the zero-padded month.
type MonthlyPages struct {
	Template string
	From     time.Time
	Months   int
}

// PageURLs implements PageSource.
func (p MonthlyPages) PageURLs() []string {
	first := time.Date(p.From.Year(), p.From.Month(), 1, 0, 0, 0, 0, time.UTC)
	urls := make([]string, 0, max(p.Months, 0))
	for i := 0; i < p.Months; i++ {
		m := first.AddDate(0, -i, 0)
		r := strings.NewReplacer(
			"{year}", strconv.Itoa(m.Year()),
			"{month}", strconv.Itoa(int(m.Month())),
			"{mm}", fmt.Sprintf("%02d", int(m.Month())),
		)
		urls = append(urls, r.Replace(p.Template))
	}
	return urls
}

// Listing scans archive listing pages in order and stops at the first known URL.
type Listing struct {
	Pages        PageSource
	LinkSelector string
	Fetcher      fetcher.Fetcher
	Logger       *slog.Logger
}

// Name implements Strategy.
func (l *Listing) Name() string { return "listing" }

// Discover implements Strategy. An empty or unreachable listing page is skipped, not a stop.
func (l *Listing) Discover(ctx context.Context, boundary Boundary, emit Emit) (Outcome, error) {
	if l.Fetcher == nil || l.Pages == nil || l.LinkSelector == "" {
		return Outcome{Stop: StopFailed}, errors.New("listing: fetcher, pages and link selector are required")
	}
	if boundary == nil {
		boundary = NoBoundary{}
	}
	logger := orDefault(l.Logger).With("strategy", l.Name())
	em := newEmitter(emit)
	out := Outcome{Stop: StopPageCap}

	for _, pageURL := range l.Pages.PageURLs() {
		if cancelled(ctx, &out) {
			break
		}
		stop, err := l.scanPage(ctx, pageURL, boundary, em, logger)
		out.Pages++
		if err != nil {
			if ctx.Err() != nil {
				cancelled(ctx, &out)
				break
			}
			logger.Warn("listing page skipped", "page", pageURL, "error", err)
			continue
		}
		if stop != "" {
			out.Stop = stop
			break
		}
	}
	out.URLs = em.urls()
	return out, nil
}

func (l *Listing) scanPage(ctx context.Context, pageURL string, boundary Boundary, em *emitter, logger *slog.Logger) (StopReason, error) {
	page, err := l.Fetcher.Fetch(ctx, pageURL)
	if err != nil {
		return "", err
	}
	links, err := ExtractLinks(page, l.LinkSelector)
	if err != nil {
		return "", err
	}
	if len(links) == 0 {
		logger.Debug("listing page has no links", "page", pageURL)
		return "", nil
	}
	for _, link := range links {
		if boundary.Contains(link) {
			logger.Info("boundary reached", "page", pageURL, "url", link)
			return StopBoundary, nil
		}
		if !em.offer(candidate(link)) {
			return StopConsumer, nil
		}
	}
	return "", nil
}

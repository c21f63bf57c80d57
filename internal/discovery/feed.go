package discovery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/mmcdole/gofeed"

	"newsharvest/internal/fetcher"
)

// Feed reads an RSS or Atom feed, newest item first, and stops at the first known link.
type Feed struct {
	URL     string
	Fetcher fetcher.Fetcher
	Logger  *slog.Logger
}

// Name implements Strategy.
func (f *Feed) Name() string { return "feed" }

// Discover implements Strategy.
func (f *Feed) Discover(ctx context.Context, boundary Boundary, emit Emit) (Outcome, error) {
	if f.Fetcher == nil || f.URL == "" {
		return Outcome{Stop: StopFailed}, errors.New("feed: fetcher and url are required")
	}
	if boundary == nil {
		boundary = NoBoundary{}
	}
	logger := orDefault(f.Logger).With("strategy", f.Name(), "feed", f.URL)
	em := newEmitter(emit)
	out := Outcome{Stop: StopFeedEnd}

	page, err := f.Fetcher.Fetch(ctx, f.URL)
	if err != nil {
		if !cancelled(ctx, &out) {
			out.Stop = StopFailed
			out.Cause = fmt.Errorf("fetch feed: %w", err)
		}
		return out, nil
	}
	out.Pages = 1
	parsed, err := gofeed.NewParser().Parse(bytes.NewReader(page.Body))
	if err != nil {
		out.Stop = StopFailed
		out.Cause = fmt.Errorf("parse feed: %w", err)
		return out, nil
	}
	base, err := url.Parse(page.FinalURL)
	if err != nil || page.FinalURL == "" {
		base, _ = url.Parse(f.URL)
	}

	for _, item := range parsed.Items {
		if cancelled(ctx, &out) {
			break
		}
		if item == nil {
			continue
		}
		link := resolveHref(base, item.Link)
		if link == "" {
			continue
		}
		if boundary.Contains(link) {
			logger.Info("boundary reached", "url", link)
			out.Stop = StopBoundary
			break
		}
		if !em.offer(candidate(link)) {
			out.Stop = StopConsumer
			break
		}
	}
	out.URLs = em.urls()
	return out, nil
}

package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"newsharvest/internal/fetcher"
	"newsharvest/pkg/types"
)

// Chain follows the "previous article" link of each page, starting from the
// most recent known article. It never consults the boundary.
type Chain struct {
	Start        string
	IncludeStart bool
	LinkSelector string
	MaxSteps     int
	Fetcher      fetcher.Fetcher
	Logger       *slog.Logger
}

// Name implements Strategy.
func (c *Chain) Name() string { return "chain" }

// Discover implements Strategy. The chain may be unbounded; MaxSteps and ctx
// are the only limits besides a page without a link.
func (c *Chain) Discover(ctx context.Context, _ Boundary, emit Emit) (Outcome, error) {
	if c.Fetcher == nil || c.Start == "" || c.LinkSelector == "" {
		return Outcome{Stop: StopFailed}, errors.New("chain: fetcher, start url and link selector are required")
	}
	logger := orDefault(c.Logger).With("strategy", c.Name())
	em := newEmitter(emit)
	out := Outcome{}

	current := c.Start
	page, err := c.Fetcher.Fetch(ctx, current)
	if err != nil {
		if !cancelled(ctx, &out) {
			out.Stop = StopFailed
			out.Cause = fmt.Errorf("fetch start %s: %w", current, err)
		}
		out.URLs = em.urls()
		return out, nil
	}
	out.Pages++
	if c.IncludeStart && !em.offer(types.Candidate{URL: current, Page: page}) {
		out.Stop = StopConsumer
		out.URLs = em.urls()
		return out, nil
	}

	for steps := 0; ; steps++ {
		if cancelled(ctx, &out) {
			break
		}
		link, err := FirstLink(page, c.LinkSelector)
		if err != nil {
			out.Stop = StopFailed
			out.Cause = fmt.Errorf("read link on %s: %w", current, err)
			break
		}
		if link == "" {
			logger.Info("chain ended", "url", current, "steps", steps)
			out.Stop = StopChainEnd
			break
		}
		if c.MaxSteps > 0 && steps >= c.MaxSteps {
			out.Stop = StopStepCap
			break
		}
		if link == current || link == c.Start || em.has(link) {
			logger.Warn("chain loops back, stopping", "url", current, "link", link)
			out.Stop = StopChainEnd
			break
		}

		next, err := c.Fetcher.Fetch(ctx, link)
		if err != nil {
			if cancelled(ctx, &out) {
				break
			}
			// The link itself is still a discovery; extraction will retry it.
			em.offer(types.Candidate{URL: link})
			out.Stop = StopFailed
			out.Cause = fmt.Errorf("fetch %s: %w", link, err)
			logger.Warn("chain broken", "url", link, "error", err)
			break
		}
		out.Pages++
		if !em.offer(types.Candidate{URL: link, Page: next}) {
			out.Stop = StopConsumer
			break
		}
		current, page = link, next
	}
	out.URLs = em.urls()
	return out, nil
}

package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"newsharvest/internal/fetcher"
	"newsharvest/pkg/types"
)

// DefaultNotFoundLimit is the run of consecutive misses that ends a sequence walk.
const DefaultNotFoundLimit = 7

// DefaultSkipLimit is the run of consecutive failed fetches that abandons a sequence walk.
const DefaultSkipLimit = 25

// Sequence probes article URLs by incrementing a numeric id until
// NotFoundLimit consecutive ids are missing.
type Sequence struct {
	Template      string
	Start         int
	NotFoundLimit int
	SkipLimit     int
	Fetcher       fetcher.Fetcher
	Logger        *slog.Logger
}

// Name implements Strategy.
func (s *Sequence) Name() string { return "sequence" }

// URLFor substitutes id into the template.
func (s *Sequence) URLFor(id int) string {
	return strings.ReplaceAll(s.Template, "{id}", strconv.Itoa(id))
}

// Discover implements Strategy. Found pages travel with their candidate so
// they are not fetched twice. A transient failure is logged, recorded in
// Outcome.Skipped and neither counts as a miss nor resets the run; SkipLimit
// consecutive failures end the walk as failed. A robots.txt refusal is final.
func (s *Sequence) Discover(ctx context.Context, _ Boundary, emit Emit) (Outcome, error) {
	if s.Fetcher == nil || !strings.Contains(s.Template, "{id}") {
		return Outcome{Stop: StopFailed}, errors.New("sequence: fetcher and an {id} template are required")
	}
	limit := s.NotFoundLimit
	if limit <= 0 {
		limit = DefaultNotFoundLimit
	}
	skipLimit := s.SkipLimit
	if skipLimit <= 0 {
		skipLimit = DefaultSkipLimit
	}
	logger := orDefault(s.Logger).With("strategy", s.Name())
	em := newEmitter(emit)
	out := Outcome{}
	misses, skips := 0, 0

	for id := s.Start; ; id++ {
		if cancelled(ctx, &out) {
			break
		}
		target := s.URLFor(id)
		out.LastID = id
		page, err := s.Fetcher.Fetch(ctx, target)
		switch {
		case err == nil:
			misses, skips = 0, 0
			if !em.offer(types.Candidate{URL: target, Page: page}) {
				out.Stop = StopConsumer
			}
		case fetcher.IsNotFound(err):
			skips = 0
			misses++
			logger.Debug("article id missing", "id", id, "consecutive", misses)
			if misses >= limit {
				out.Stop = StopNotFoundRun
			}
		case ctx.Err() != nil:
			cancelled(ctx, &out)
		case errors.Is(err, fetcher.ErrDisallowed):
			logger.Warn("sequence disallowed by robots.txt", "id", id, "url", target)
			out.Stop = StopFailed
			out.Cause = err
		default:
			logger.Warn("article id skipped after fetch failure", "id", id, "url", target, "error", err)
			out.Skipped = append(out.Skipped, target)
			skips++
			if skips >= skipLimit {
				out.Stop = StopFailed
				out.Cause = fmt.Errorf("%d consecutive fetch failures, last at id %d: %w", skips, id, err)
			}
		}
		if out.Stop != "" {
			break
		}
	}
	out.URLs = em.urls()
	return out, nil
}

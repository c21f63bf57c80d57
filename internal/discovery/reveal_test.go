package discovery

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newsharvest/internal/fetcher"
	"newsharvest/pkg/types"
)

func item(n int) string {
	return fmt.Sprintf("https://cjn.example/news/item-%d/", n)
}

// growingBatches returns batches where each reveal appends two items.
func growingBatches(reveals int) [][]string {
	var batches [][]string
	var current []string
	for r := 0; r <= reveals; r++ {
		current = append(current, item(2*r), item(2*r+1))
		batches = append(batches, append([]string(nil), current...))
	}
	return batches
}

func newReveal(s *fakeSession, maxAttempts int) *Reveal {
	return &Reveal{
		StartURL:        "https://cjn.example/news/",
		ControlSelector: ".load-more",
		ItemSelector:    "article.tease-archive > a",
		MaxAttempts:     maxAttempts,
		Open:            opener(s),
	}
}

// TestRevealStopsAtAttemptCap verifies an always-actionable control with no
// boundary hit is activated exactly maxAttempts times.
func TestRevealStopsAtAttemptCap(t *testing.T) {
	s := &fakeSession{batches: growingBatches(10)}

	found, out, err := Collect(context.Background(), newReveal(s, 5), nil)
	require.NoError(t, err)

	assert.Equal(t, 5, s.activations)
	assert.Equal(t, 5, out.Reveals)
	assert.Equal(t, StateExhausted, out.State)
	assert.Equal(t, StopAttemptCap, out.Stop)
	assert.Len(t, found, 12)
	assert.Equal(t, 1, s.closes)
	assert.Equal(t, "https://cjn.example/news/", s.navigated)
}

// TestRevealStopsAtBoundaryAndDiscardsRest verifies items following the first
// boundary URL in a batch are never emitted.
func TestRevealStopsAtBoundaryAndDiscardsRest(t *testing.T) {
	s := &fakeSession{batches: [][]string{
		{item(1), item(2)},
		{item(1), item(2), item(3), item(4), item(5)},
	}}
	found, out, err := Collect(context.Background(), newReveal(s, 30), setBoundary{item(4): true})
	require.NoError(t, err)

	assert.Equal(t, []string{item(1), item(2), item(3)}, found)
	assert.Equal(t, StopBoundary, out.Stop)
	assert.Equal(t, StateExhausted, out.State)
	assert.Equal(t, 1, out.Reveals)
	assert.Equal(t, 1, s.closes)
}

func TestRevealBoundaryOnFirstScreenSkipsReveals(t *testing.T) {
	s := &fakeSession{batches: [][]string{{item(1), item(2)}}}
	found, out, err := Collect(context.Background(), newReveal(s, 5), setBoundary{item(1): true})
	require.NoError(t, err)
	assert.Empty(t, found)
	assert.Equal(t, 0, s.activations)
	assert.Equal(t, StopBoundary, out.Stop)
	assert.Equal(t, 1, s.closes)
}

func TestRevealFailsWhenControlNeverAppears(t *testing.T) {
	s := &fakeSession{
		batches: [][]string{{item(1), item(2)}},
		waitErr: fmt.Errorf(".load-more: %w", fetcher.ErrNotInteractable),
	}
	found, out, err := Collect(context.Background(), newReveal(s, 5), nil)
	require.NoError(t, err)

	assert.Equal(t, []string{item(1), item(2)}, found, "items found before the failure are kept")
	assert.Equal(t, StateFailed, out.State)
	assert.Equal(t, StopFailed, out.Stop)
	assert.ErrorIs(t, out.Cause, ErrInteraction)
	assert.ErrorIs(t, out.Cause, fetcher.ErrNotInteractable)
	assert.Equal(t, 1, s.closes)
}

func TestRevealRetriesBlockedClickOnce(t *testing.T) {
	s := &fakeSession{
		batches:      growingBatches(2),
		activateErrs: []error{fetcher.ErrRevealBlocked},
	}
	_, out, err := Collect(context.Background(), newReveal(s, 2), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, s.forced)
	assert.Equal(t, 2, out.Reveals)
	assert.Equal(t, StopAttemptCap, out.Stop)
}

func TestRevealFailsWhenForcedClickAlsoFails(t *testing.T) {
	s := &fakeSession{
		batches:      growingBatches(2),
		activateErrs: []error{fetcher.ErrRevealBlocked},
		forceErr:     errors.New("detached node"),
	}
	found, out, err := Collect(context.Background(), newReveal(s, 5), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, s.forced)
	assert.Equal(t, StateFailed, out.State)
	assert.Equal(t, 0, out.Reveals)
	assert.Len(t, found, 2)
	assert.Equal(t, 1, s.closes)
}

func TestRevealReleasesSessionOnScanError(t *testing.T) {
	s := &fakeSession{
		batches:   growingBatches(3),
		scanErr:   errors.New("target closed"),
		scanErrAt: 2,
	}
	found, out, err := Collect(context.Background(), newReveal(s, 5), nil)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, out.State)
	assert.Len(t, found, 4)
	assert.Equal(t, 1, s.closes)
}

func TestRevealReleasesSessionOnCancellation(t *testing.T) {
	s := &fakeSession{batches: growingBatches(10)}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	n := 0
	out, err := newReveal(s, 10).Discover(ctx, nil, func(types.Candidate) bool {
		n++
		if n == 3 {
			cancel()
		}
		return true
	})
	require.NoError(t, err)
	assert.Equal(t, StopCancelled, out.Stop)
	assert.Equal(t, StateExhausted, out.State)
	assert.Equal(t, 1, s.closes)
	assert.GreaterOrEqual(t, len(out.URLs), 3)
}

func TestRevealReleasesSessionWhenEmitPanics(t *testing.T) {
	s := &fakeSession{batches: growingBatches(3)}
	r := newReveal(s, 5)

	assert.PanicsWithValue(t, "consumer crashed", func() {
		_, _ = r.Discover(context.Background(), nil, func(types.Candidate) bool {
			panic("consumer crashed")
		})
	})
	assert.Equal(t, 1, s.closes)
	assert.Zero(t, s.activations)
}

func TestRevealOpenFailure(t *testing.T) {
	r := &Reveal{
		ControlSelector: ".more",
		ItemSelector:    "a",
		MaxAttempts:     3,
		Open: func(context.Context) (Session, error) {
			return nil, errors.New("chrome not installed")
		},
	}
	_, out, err := Collect(context.Background(), r, nil)
	require.Error(t, err)
	assert.Equal(t, StateFailed, out.State)
}

func TestRevealStateNames(t *testing.T) {
	assert.Equal(t, "awaiting_reveal", StateAwaitingReveal.String())
	assert.True(t, StateFailed.terminal())
	assert.False(t, StateRevealed.terminal())
}

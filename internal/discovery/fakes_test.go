package discovery

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"newsharvest/internal/fetcher"
	"newsharvest/pkg/types"
)

type fakeResult struct {
	body string
	err  error
}

// fakeFetcher serves canned pages; unknown URLs are 404s.
type fakeFetcher struct {
	mu      sync.Mutex
	results map[string]fakeResult
	calls   []string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{results: map[string]fakeResult{}}
}

func (f *fakeFetcher) page(url, body string) *fakeFetcher {
	f.results[url] = fakeResult{body: body}
	return f
}

func (f *fakeFetcher) fail(url string, err error) *fakeFetcher {
	f.results[url] = fakeResult{err: err}
	return f
}

func (f *fakeFetcher) Fetch(ctx context.Context, rawURL string) (*types.Page, error) {
	f.mu.Lock()
	f.calls = append(f.calls, rawURL)
	res, ok := f.results[rawURL]
	f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !ok {
		return nil, &fetcher.StatusError{URL: rawURL, StatusCode: http.StatusNotFound}
	}
	if res.err != nil {
		return nil, res.err
	}
	return &types.Page{URL: rawURL, FinalURL: rawURL, Body: []byte(res.body), StatusCode: http.StatusOK}, nil
}

func transientErr(url string) error {
	return &fetcher.TransientError{URL: url, Attempts: 3, Err: fmt.Errorf("connection reset")}
}

// anchors renders a listing page with one article link per href.
func anchors(hrefs ...string) string {
	body := "<html><body><main>"
	for _, h := range hrefs {
		body += fmt.Sprintf(`<h2 class="entry-title"><a href="%s">story</a></h2>`, h)
	}
	return body + "</main></body></html>"
}

type setBoundary map[string]bool

func (b setBoundary) Contains(u string) bool { return b[u] }

// fakeSession scripts an interactive page.
type fakeSession struct {
	batches      [][]string
	waitErr      error
	activateErrs []error
	forceErr     error
	scanErr      error
	scanErrAt    int

	navigated   string
	linksCalls  int
	activations int
	forced      int
	closes      int
}

func (s *fakeSession) Navigate(_ context.Context, rawURL string) error {
	s.navigated = rawURL
	return nil
}

func (s *fakeSession) WaitInteractable(context.Context, string, time.Duration) error {
	return s.waitErr
}

func (s *fakeSession) Activate(context.Context, string) error {
	s.activations++
	if n := s.activations - 1; n < len(s.activateErrs) {
		return s.activateErrs[n]
	}
	return nil
}

func (s *fakeSession) ForceActivate(context.Context, string) error {
	s.forced++
	return s.forceErr
}

func (s *fakeSession) Links(context.Context, string) ([]string, error) {
	call := s.linksCalls
	s.linksCalls++
	if s.scanErr != nil && call == s.scanErrAt {
		return nil, s.scanErr
	}
	if len(s.batches) == 0 {
		return nil, nil
	}
	if call >= len(s.batches) {
		call = len(s.batches) - 1
	}
	return s.batches[call], nil
}

func (s *fakeSession) Close() error {
	s.closes++
	return nil
}

func opener(s *fakeSession) SessionOpener {
	return func(context.Context) (Session, error) { return s, nil }
}

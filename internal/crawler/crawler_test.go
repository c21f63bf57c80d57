package crawler

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newsharvest/internal/config"
	"newsharvest/internal/discovery"
	"newsharvest/internal/storage"
	"newsharvest/pkg/types"
)

// newsSite serves a jta style listing whose first page can grow between runs.
type newsSite struct {
	mu    sync.Mutex
	pages [][]string
	hits  map[string]int
}

func (s *newsSite) prepend(slug string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[0] = append([]string{slug}, s.pages[0]...)
}

func (s *newsSite) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hits[r.URL.Path]++

	var n int
	if _, err := fmt.Sscanf(r.URL.Path, "/page/%d/", &n); err == nil {
		if n < 1 || n > len(s.pages) {
			http.NotFound(w, r)
			return
		}
		var b strings.Builder
		b.WriteString("<html><body>")
		for _, slug := range s.pages[n-1] {
			fmt.Fprintf(&b, `<h2 class="entry-title content-meta__title"><a href="/2024/%s/">%s</a></h2>`, slug, slug)
		}
		b.WriteString("</body></html>")
		_, _ = io.WriteString(w, b.String())
		return
	}

	slug := strings.Trim(strings.TrimPrefix(r.URL.Path, "/2024/"), "/")
	if slug == "" || strings.Contains(slug, "/") {
		http.NotFound(w, r)
		return
	}
	fmt.Fprintf(w, `<html><body>
<h1 class="entry-title">Story %[1]s</h1>
<span class="post-meta-info__date">March 4, 2024</span>
<span class="post-info__oped-name">Reporter</span>
<div class="post-categories"><a>News</a></div>
<div class="entry-content"><p>Body of %[1]s.</p></div>
</body></html>`, slug)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func loadConfig(t *testing.T, yamlText string) config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(yamlText))
	require.NoError(t, err)
	return *cfg
}

const engineBase = `
n: 5
logging: {level: error}
fetch:
  delay: 0s
  timeout: 5s
  retry: {max_attempts: 1}
robots: {respect: false}
`

func TestEngineListingIsIncremental(t *testing.T) {
	site := &newsSite{pages: [][]string{{"c", "b"}, {"a"}}, hits: map[string]int{}}
	srv := httptest.NewServer(site)
	defer srv.Close()

	out := filepath.Join(t.TempDir(), "jta.csv")
	cfg := loadConfig(t, engineBase+fmt.Sprintf(`
sites:
  jta:
    base_url: %s
    output_path: %s
    strategy: listing
    listing:
      link_selector: "h2.entry-title.content-meta__title a"
`, srv.URL, out))

	ctx := context.Background()
	engine, err := NewEngine(ctx, cfg, WithLogger(quietLogger()))
	require.NoError(t, err)
	defer engine.Close()

	outcomes, err := engine.Run(ctx)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	first := outcomes[0]
	assert.Equal(t, "jta", first.Site)
	assert.Equal(t, string(discovery.StopPageCap), first.Stop)
	assert.Equal(t, 3, first.Discovered)
	assert.Equal(t, 3, first.Extracted)
	assert.Equal(t, 3, first.Total)
	assert.NotEmpty(t, first.RunID)

	records, err := storage.NewCSVStore(out).Load(ctx)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, srv.URL+"/2024/c/", records[0].URL)
	assert.Equal(t, "Story c", records[0].Title)
	assert.Equal(t, "Body of c.", records[0].Body)
	assert.Equal(t, []string{"News"}, records[0].Tags)
	require.NotNil(t, records[0].PublishedAt)
	assert.Equal(t, time.March, records[0].PublishedAt.Month())

	site.prepend("d")
	outcomes, err = engine.Run(ctx, "jta")
	require.NoError(t, err)
	second := outcomes[0]
	assert.Equal(t, string(discovery.StopBoundary), second.Stop)
	assert.Equal(t, 1, second.Extracted)
	assert.Equal(t, 4, second.Total)
	assert.NotEqual(t, first.RunID, second.RunID)

	records, err = storage.NewCSVStore(out).Load(ctx)
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, srv.URL+"/2024/d/", records[0].URL, "fresh records come first")
	assert.Equal(t, srv.URL+"/2024/c/", records[1].URL)
	assert.Equal(t, 1, site.hits["/2024/c/"], "known articles are never fetched again")
}

// idSite answers /news/<id>/ for a growing set of ids.
type idSite struct {
	mu    sync.Mutex
	ids   map[int]bool
	calls []int
}

func (s *idSite) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var id int
	if _, err := fmt.Sscanf(r.URL.Path, "/news/%d/", &id); err != nil {
		http.NotFound(w, r)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, id)
	if !s.ids[id] {
		http.NotFound(w, r)
		return
	}
	fmt.Fprintf(w, `<html><head><meta property="og:title" content="Новость %d"></head><body><article><p>Текст.</p></article></body></html>`, id)
}

func TestEngineSequenceResumesAfterHighestID(t *testing.T) {
	site := &idSite{ids: map[int]bool{10: true, 11: true, 13: true}}
	srv := httptest.NewServer(site)
	defer srv.Close()

	cfg := loadConfig(t, engineBase+fmt.Sprintf(`
storage:
  driver: sqlite3
  dsn: %s
sites:
  jewish_ru:
    base_url: %s/news/
    output_path: jewish_ru.csv
    strategy: sequence
    sequence: {floor: 10, not_found_limit: 3}
`, filepath.Join(t.TempDir(), "harvest.db"), srv.URL))

	ctx := context.Background()
	engine, err := NewEngine(ctx, cfg, WithLogger(quietLogger()))
	require.NoError(t, err)
	defer engine.Close()

	outcomes, err := engine.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, outcomes[0].Extracted)
	assert.Equal(t, string(discovery.StopNotFoundRun), outcomes[0].Stop)

	site.mu.Lock()
	site.ids[14] = true
	site.calls = nil
	site.mu.Unlock()

	outcomes, err = engine.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, outcomes[0].Extracted)
	assert.Equal(t, 4, outcomes[0].Total)
	site.mu.Lock()
	assert.Equal(t, 14, site.calls[0], "probing resumes after the highest known id")
	site.mu.Unlock()
}

// scriptedSession reveals one more batch of links per activation.
type scriptedSession struct {
	batches     [][]string
	activations int
	closed      int
}

func (s *scriptedSession) Navigate(context.Context, string) error { return nil }
func (s *scriptedSession) WaitInteractable(context.Context, string, time.Duration) error {
	return nil
}
func (s *scriptedSession) Activate(context.Context, string) error {
	s.activations++
	return nil
}
func (s *scriptedSession) ForceActivate(context.Context, string) error { return nil }
func (s *scriptedSession) Links(context.Context, string) ([]string, error) {
	i := min(s.activations, len(s.batches)-1)
	return s.batches[i], nil
}
func (s *scriptedSession) Close() error {
	s.closed++
	return nil
}

func TestEngineRevealUsesSessionFactory(t *testing.T) {
	site := &newsSite{pages: [][]string{{}}, hits: map[string]int{}}
	srv := httptest.NewServer(site)
	defer srv.Close()

	article := func(slug string) string { return srv.URL + "/2024/" + slug + "/" }
	session := &scriptedSession{batches: [][]string{
		{article("x")},
		{article("x"), article("y")},
		{article("x"), article("y"), article("z")},
	}}

	cfg := loadConfig(t, engineBase+fmt.Sprintf(`
sites:
  cjn:
    base_url: %s
    output_path: %s
    strategy: reveal
    extractor: jta
    reveal:
      control_selector: ".load-more"
      item_selector: "article.tease-archive > a"
      max_attempts: 2
      pause: 1ms
`, srv.URL, filepath.Join(t.TempDir(), "cjn.csv")))

	ctx := context.Background()
	engine, err := NewEngine(ctx, cfg,
		WithLogger(quietLogger()),
		WithSessionFactory(func(config.SiteConfig) discovery.SessionOpener {
			return func(context.Context) (discovery.Session, error) { return session, nil }
		}),
	)
	require.NoError(t, err)
	defer engine.Close()

	outcomes, err := engine.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, string(discovery.StopAttemptCap), outcomes[0].Stop)
	assert.Equal(t, 3, outcomes[0].Extracted)
	assert.Equal(t, 2, session.activations)
	assert.Equal(t, 1, session.closed)
}

func TestEngineRejectsUnknownSite(t *testing.T) {
	cfg := loadConfig(t, engineBase+fmt.Sprintf(`
sites:
  jta:
    base_url: https://jta.example
    output_path: %s
    strategy: listing
    listing: {link_selector: "a"}
`, filepath.Join(t.TempDir(), "jta.csv")))
	engine, err := NewEngine(context.Background(), cfg, WithLogger(quietLogger()))
	require.NoError(t, err)
	defer engine.Close()

	_, err = engine.Run(context.Background(), "forward")
	require.Error(t, err)
}

func TestEngineCountsFailedArticleFetches(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/page/1/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `<a class="s" href="/gone/">gone</a><a class="s" href="/ok/">ok</a>`)
	})
	mux.HandleFunc("/ok/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `<html><body><h1>OK</h1><article><p>fine</p></article></body></html>`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	out := filepath.Join(t.TempDir(), "g.csv")
	cfg := loadConfig(t, engineBase+fmt.Sprintf(`
sites:
  local:
    base_url: %s
    output_path: %s
    strategy: listing
    extractor: generic
    listing: {link_selector: "a.s", max_pages: 1}
`, srv.URL, out))
	engine, err := NewEngine(context.Background(), cfg, WithLogger(quietLogger()))
	require.NoError(t, err)
	defer engine.Close()

	outcomes, err := engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, outcomes[0].Discovered)
	assert.Equal(t, 1, outcomes[0].Extracted)
	assert.Equal(t, 1, outcomes[0].Failed)

	var buf bytes.Buffer
	require.NoError(t, PrintReport(&buf, outcomes))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "site"))
	assert.True(t, strings.HasPrefix(lines[1], "local"))
	assert.Equal(t, strings.Index(lines[0], "strategy"), strings.Index(lines[1], "listing"), "columns are aligned")
}

func TestPrintReportHandlesWideRunes(t *testing.T) {
	var buf bytes.Buffer
	err := PrintReport(&buf, []types.SiteOutcome{
		{Site: "日本", Strategy: "feed", Stop: "feed_end"},
		{Site: "ru", Strategy: "sequence", Stop: "not_found_run"},
	})
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	// "日本" is four cells wide, so both rows pad the site column to width 4.
	assert.True(t, strings.HasPrefix(lines[1], "日本  feed"))
	assert.True(t, strings.HasPrefix(lines[2], "ru    sequence"))
}

// TestEngineCancellationPersistsPartialResults verifies an interrupted run
// still merges and saves the articles extracted before the interrupt.
func TestEngineCancellationPersistsPartialResults(t *testing.T) {
	site := &newsSite{pages: [][]string{{"e", "d", "c", "b", "a"}}, hits: map[string]int{}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	articles := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/2024/") {
			mu.Lock()
			articles++
			n := articles
			mu.Unlock()
			if n == 3 {
				cancel()
				<-r.Context().Done()
				return
			}
		}
		site.ServeHTTP(w, r)
	}))
	defer srv.Close()

	out := filepath.Join(t.TempDir(), "jta.csv")
	cfg := loadConfig(t, engineBase+fmt.Sprintf(`
sites:
  jta:
    base_url: %s
    output_path: %s
    strategy: listing
    listing:
      link_selector: "h2.entry-title.content-meta__title a"
`, srv.URL, out))

	engine, err := NewEngine(context.Background(), cfg, WithLogger(quietLogger()))
	require.NoError(t, err)
	defer engine.Close()

	outcomes, err := engine.Run(ctx)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, string(discovery.StopCancelled), outcomes[0].Stop)
	assert.Equal(t, 2, outcomes[0].Extracted)
	assert.Zero(t, outcomes[0].Failed)
	assert.Equal(t, 2, outcomes[0].Total)

	records, err := storage.NewCSVStore(out).Load(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, srv.URL+"/2024/e/", records[0].URL)
	assert.Equal(t, srv.URL+"/2024/d/", records[1].URL)
}

func TestEngineRereadsRobotsEachRun(t *testing.T) {
	site := &newsSite{pages: [][]string{{"b", "a"}}, hits: map[string]int{}}
	var mu sync.Mutex
	robotsHits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			mu.Lock()
			robotsHits++
			mu.Unlock()
			_, _ = io.WriteString(w, "User-agent: *\nAllow: /\n")
			return
		}
		site.ServeHTTP(w, r)
	}))
	defer srv.Close()

	cfg := loadConfig(t, fmt.Sprintf(`
n: 1
logging: {level: error}
fetch:
  delay: 0s
  timeout: 5s
  retry: {max_attempts: 1}
robots: {respect: true, cache_ttl: 1h}
sites:
  jta:
    base_url: %s
    output_path: %s
    strategy: listing
    listing:
      link_selector: "h2.entry-title.content-meta__title a"
`, srv.URL, filepath.Join(t.TempDir(), "jta.csv")))

	ctx := context.Background()
	engine, err := NewEngine(ctx, cfg, WithLogger(quietLogger()))
	require.NoError(t, err)
	defer engine.Close()

	for i := 0; i < 2; i++ {
		outcomes, err := engine.Run(ctx)
		require.NoError(t, err)
		require.Len(t, outcomes, 1)
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, robotsHits)
}

package types

import (
	"net/http"
	"time"
)

// Page represents a fetched HTTP resource.
type Page struct {
	URL             string
	FinalURL        string
	Body            []byte
	ContentType     string
	StatusCode      int
	Headers         http.Header
	FetchedAt       time.Time
	Attempts        int
	ResponseLatency time.Duration
}

// Article is one harvested news article. URL is the dataset key.
type Article struct {
	URL         string
	PublishedAt *time.Time
	Title       string
	Body        string
	Tags        []string
	Author      string
	Category    string
}

// Candidate is a newly discovered article URL. Page is set when discovery
// already had to fetch the article to find it.
type Candidate struct {
	URL  string
	Page *Page
}

// SiteOutcome summarises one site run.
type SiteOutcome struct {
	Site       string
	RunID      string
	Strategy   string
	Stop       string
	Cause      string
	Discovered int
	Extracted  int
	Failed     int
	Skipped    int
	Total      int
	Started    time.Time
	Elapsed    time.Duration
	Err        error
}

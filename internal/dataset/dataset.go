// Package dataset holds the merge rules and the known-URL index for a site's
// article dataset.
package dataset

import (
	"net/url"
	"strconv"
	"strings"

	"newsharvest/pkg/types"
)

// Key canonicalises an article URL for identity comparisons: lower-case
// scheme and host, default ports dropped, fragment removed.
func Key(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme == "" {
		scheme = "http"
	}
	host := strings.ToLower(u.Hostname())
	if port := u.Port(); port != "" && port != defaultPortForScheme(scheme) {
		host = host + ":" + port
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	key := scheme + "://" + host + path
	if q := u.RawQuery; q != "" {
		key += "?" + q
	}
	return key
}

func defaultPortForScheme(scheme string) string {
	switch scheme {
	case "http":
		return "80"
	case "https":
		return "443"
	default:
		return ""
	}
}

// Merge places fresh records ahead of existing ones and drops later
// duplicates by URL, so the fresh copy wins. Relative order is otherwise kept.
// Merge(d, d) returns d unchanged for any duplicate-free d.
func Merge(fresh, existing []types.Article) []types.Article {
	out := make([]types.Article, 0, len(fresh)+len(existing))
	seen := make(map[string]struct{}, len(fresh)+len(existing))
	for _, batch := range [][]types.Article{fresh, existing} {
		for _, rec := range batch {
			key := Key(rec.URL)
			if key == "" {
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, rec)
		}
	}
	return out
}

// Index answers "is this URL already recorded?" for one site. It is built once
// per run and never mutated afterwards.
type Index struct {
	keys   map[string]struct{}
	latest string
	urls   []string
}

// NewIndex builds an index over the persisted records.
func NewIndex(records []types.Article) *Index {
	idx := &Index{
		keys: make(map[string]struct{}, len(records)),
		urls: make([]string, 0, len(records)),
	}
	for _, rec := range records {
		key := Key(rec.URL)
		if key == "" {
			continue
		}
		if _, dup := idx.keys[key]; dup {
			continue
		}
		if idx.latest == "" {
			idx.latest = rec.URL
		}
		idx.keys[key] = struct{}{}
		idx.urls = append(idx.urls, rec.URL)
	}
	return idx
}

// Contains reports whether rawURL is already part of the dataset.
func (i *Index) Contains(rawURL string) bool {
	if i == nil {
		return false
	}
	_, ok := i.keys[Key(rawURL)]
	return ok
}

// Len returns the number of distinct known URLs.
func (i *Index) Len() int {
	if i == nil {
		return 0
	}
	return len(i.keys)
}

// Latest returns the URL of the most recently written record, or "".
func (i *Index) Latest() string {
	if i == nil {
		return ""
	}
	return i.latest
}

// MaxID returns the highest numeric article id among known URLs and whether any was found.
func (i *Index) MaxID() (int, bool) {
	if i == nil {
		return 0, false
	}
	best, found := 0, false
	for _, u := range i.urls {
		if id, ok := ArticleID(u); ok && (!found || id > best) {
			best, found = id, true
		}
	}
	return best, found
}

// ArticleID extracts a numeric article id from the last numeric path segment,
// so both ".../news/1234/" and ".../news/1234" yield 1234.
func ArticleID(rawURL string) (int, bool) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return 0, false
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := len(segments) - 1; i >= 0; i-- {
		if segments[i] == "" {
			continue
		}
		id, err := strconv.Atoi(segments[i])
		if err != nil || id < 0 {
			return 0, false
		}
		return id, true
	}
	return 0, false
}

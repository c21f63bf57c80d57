// Package extract turns fetched article pages into article records.
package extract

import (
	"bytes"
	"fmt"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"

	"newsharvest/internal/config"
	"newsharvest/pkg/types"
)

// Extractor derives an article record from a page. The second return value
// lists the fields that could not be located; they are left empty.
type Extractor interface {
	Extract(page *types.Page) (types.Article, []string)
}

// Field names reported as missing.
const (
	FieldTitle    = "title"
	FieldAuthors  = "authors"
	FieldDate     = "date"
	FieldCategory = "category"
	FieldTags     = "tags"
	FieldBody     = "body"
)

// Selectors is a goquery extractor driven by an ExtractConfig.
type Selectors struct {
	cfg       config.ExtractConfig
	converter *md.Converter
}

// New builds a Selectors extractor.
func New(cfg config.ExtractConfig) *Selectors {
	s := &Selectors{cfg: cfg}
	if cfg.BodyFormat == config.BodyMarkdown {
		s.converter = md.NewConverter("", true, nil)
	}
	return s
}

// ForSite resolves the preset named by the site (falling back to the generic
// preset) and overlays the site's own selector overrides.
func ForSite(site config.SiteConfig) (*Selectors, error) {
	name := site.Extractor
	if name == "" {
		name = Generic
	}
	base, ok := Preset(name)
	if !ok {
		if site.Extract == nil {
			return nil, fmt.Errorf("unknown extractor %q (known: %s)", name, strings.Join(PresetNames(), ", "))
		}
		base, _ = Preset(Generic)
	}
	return New(base.Merge(site.Extract)), nil
}

// Extract implements Extractor.
func (s *Selectors) Extract(page *types.Page) (types.Article, []string) {
	article := types.Article{}
	if page == nil {
		return article, []string{FieldTitle, FieldBody}
	}
	article.URL = page.URL
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return article, []string{FieldTitle, FieldBody}
	}

	var missing []string
	miss := func(field string, sel config.Selector) {
		if !sel.IsZero() {
			missing = append(missing, field)
		}
	}

	if v := s.values(doc, s.cfg.Title, config.PickFirst); len(v) > 0 {
		article.Title = v[0]
	} else {
		miss(FieldTitle, s.cfg.Title)
	}

	if v := splitAuthors(s.values(doc, s.cfg.Authors, config.PickAll)); len(v) > 0 {
		article.Author = strings.Join(v, ", ")
	} else {
		miss(FieldAuthors, s.cfg.Authors)
	}

	if v := s.values(doc, s.cfg.Date, config.PickFirst); len(v) > 0 {
		article.PublishedAt = parseDate(v[0], s.cfg.DateLayouts, s.cfg.MonthNames)
		if article.PublishedAt == nil {
			missing = append(missing, FieldDate)
		}
	} else {
		miss(FieldDate, s.cfg.Date)
	}

	if v := s.values(doc, s.cfg.Category, config.PickFirst); len(v) > 0 {
		article.Category = v[0]
	} else {
		miss(FieldCategory, s.cfg.Category)
	}

	if v := s.values(doc, s.cfg.Tags, config.PickAll); len(v) > 0 {
		article.Tags = dedupe(v)
	} else {
		miss(FieldTags, s.cfg.Tags)
	}

	if body := s.body(doc); body != "" {
		article.Body = body
	} else {
		miss(FieldBody, s.cfg.Body)
	}
	return article, missing
}

// values runs the selector's queries in order and returns the picked values of
// the first query that yields any.
func (s *Selectors) values(doc *goquery.Document, sel config.Selector, defaultPick string) []string {
	for _, query := range sel.Query {
		query = strings.TrimSpace(query)
		if query == "" {
			continue
		}
		var out []string
		doc.Find(query).Each(func(_ int, item *goquery.Selection) {
			if v := selectionValue(item, sel.Attr); v != "" {
				out = append(out, v)
			}
		})
		if len(out) == 0 {
			continue
		}
		return pick(out, sel.Pick, defaultPick)
	}
	return nil
}

// selectionValue reads attr when the element carries it, otherwise its text.
func selectionValue(item *goquery.Selection, attr string) string {
	if attr != "" {
		if v, ok := item.Attr(attr); ok {
			return normalizeWhitespace(v)
		}
	}
	if len(item.Nodes) == 0 {
		return ""
	}
	return inlineText(item.Nodes[0])
}

func (s *Selectors) body(doc *goquery.Document) string {
	for _, query := range s.cfg.Body.Query {
		query = strings.TrimSpace(query)
		if query == "" {
			continue
		}
		found := doc.Find(query)
		if found.Length() == 0 {
			continue
		}
		var parts []string
		found.Each(func(_ int, item *goquery.Selection) {
			if v := s.paragraph(item); v != "" {
				parts = append(parts, v)
			}
		})
		if drop := s.cfg.BodyDropLast; drop > 0 {
			if drop >= len(parts) {
				parts = nil
			} else {
				parts = parts[:len(parts)-drop]
			}
		}
		if len(parts) == 0 {
			continue
		}
		if s.converter != nil {
			return strings.Join(parts, "\n\n")
		}
		return strings.Join(parts, " ")
	}
	return ""
}

func (s *Selectors) paragraph(item *goquery.Selection) string {
	if s.converter == nil {
		if len(item.Nodes) == 0 {
			return ""
		}
		return inlineText(item.Nodes[0])
	}
	raw, err := goquery.OuterHtml(item)
	if err != nil {
		return ""
	}
	out, err := s.converter.ConvertString(raw)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(out)
}

func pick(values []string, rule, fallback string) []string {
	if rule == "" {
		rule = fallback
	}
	switch rule {
	case config.PickLast:
		return values[len(values)-1:]
	case config.PickAll:
		return values
	default:
		return values[:1]
	}
}

// splitAuthors breaks bylines such as "By A, B and C" into names, keeping
// the first occurrence of each.
func splitAuthors(values []string) []string {
	var names []string
	for _, v := range values {
		if len(v) > 3 && strings.EqualFold(v[:3], "by ") {
			v = v[3:]
		}
		v = strings.NewReplacer(" and ", ",", " & ", ",", ";", ",").Replace(v)
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				names = append(names, part)
			}
		}
	}
	return dedupe(names)
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

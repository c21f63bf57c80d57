package discovery

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"newsharvest/pkg/types"
)

// ExtractLinks returns the absolute http(s) targets of elements matching
// selector, in document order, fragments removed.
func ExtractLinks(page *types.Page, selector string) ([]string, error) {
	doc, base, err := parsePage(page)
	if err != nil {
		return nil, err
	}
	var links []string
	doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
		if link := resolveHref(base, hrefOf(sel)); link != "" {
			links = append(links, link)
		}
	})
	return links, nil
}

// FirstLink returns the first resolvable link matching selector, or "".
func FirstLink(page *types.Page, selector string) (string, error) {
	doc, base, err := parsePage(page)
	if err != nil {
		return "", err
	}
	var link string
	doc.Find(selector).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		link = resolveHref(base, hrefOf(sel))
		return link == ""
	})
	return link, nil
}

func parsePage(page *types.Page) (*goquery.Document, *url.URL, error) {
	if page == nil {
		return nil, nil, fmt.Errorf("nil page")
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil, nil, fmt.Errorf("parse html: %w", err)
	}
	raw := page.FinalURL
	if raw == "" {
		raw = page.URL
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("parse page url: %w", err)
	}
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if b, err := base.Parse(strings.TrimSpace(href)); err == nil {
			base = b
		}
	}
	return doc, base, nil
}

// hrefOf reads href from the element itself or, for wrappers like
// <h2><a href></a></h2>, from its first descendant anchor.
func hrefOf(sel *goquery.Selection) string {
	if href, ok := sel.Attr("href"); ok {
		return href
	}
	href, _ := sel.Find("a[href]").First().Attr("href")
	return href
}

func resolveHref(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return ""
	}
	lower := strings.ToLower(href)
	if strings.HasPrefix(lower, "javascript:") || strings.HasPrefix(lower, "mailto:") {
		return ""
	}
	u, err := base.Parse(href)
	if err != nil {
		return ""
	}
	return cleanURL(u)
}

// normaliseURL strips the fragment from an absolute URL string.
func normaliseURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || !u.IsAbs() {
		return ""
	}
	return cleanURL(u)
}

func cleanURL(u *url.URL) string {
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}

package extract

import (
	"sort"

	"newsharvest/internal/config"
)

// Generic is the fallback preset for sites without publisher specific markup.
const Generic = "generic"

func sel(queries ...string) config.Selector {
	return config.Selector{Query: queries}
}

var genericPreset = config.ExtractConfig{
	Title: config.Selector{
		Query: []string{"meta[property='og:title']", "h1.entry-title", "h1"},
		Attr:  "content",
	},
	Authors: config.Selector{
		Query: []string{"meta[name='author']", "[rel='author']", ".author-name", ".byline a"},
		Attr:  "content",
	},
	Date: config.Selector{
		Query: []string{"meta[property='article:published_time']", "time[datetime]", "time"},
		Attr:  "content",
	},
	Category: config.Selector{
		Query: []string{"meta[property='article:section']", "a[rel='category tag']"},
		Attr:  "content",
	},
	Tags: config.Selector{
		Query: []string{"meta[property='article:tag']", "a[rel='tag']", ".tags a"},
		Pick:  config.PickAll,
		Attr:  "content",
	},
	Body: sel("article .entry-content p", "article p", ".entry-content p", "main p"),
}

// presets holds the selector sets of the publishers harvested out of the box.
var presets = map[string]config.ExtractConfig{
	Generic: genericPreset,
	"jta": {
		Title:   sel("h1.entry-title"),
		Date:    sel("span.post-meta-info__date"),
		Authors: sel(".post-info__oped-name"),
		Tags:    config.Selector{Query: []string{"div.post-categories a", "div.post-categories"}, Pick: config.PickAll},
		Body:    sel(".entry-content p"),
	},
	"forward": {
		Title:    sel("h1.heading-2"),
		Category: sel("a.eyebrow.small.black"),
		Tags:     config.Selector{Query: []string{"ul.tags-list li"}, Pick: config.PickAll},
		Authors:  sel("div.post-author.no-avatar a", "div.post-author.single a"),
		Date:     sel("div.post-author.no-avatar span", "div.post-author.single span"),
		Body:     sel("article p"),
	},
	"salom": {
		Title:        sel("h1.hbr-dty-bslk.mtop15.mbot15"),
		Date:         config.Selector{Query: []string{"span.hbr-dty-meta-item"}, Pick: config.PickLast},
		DateLayouts:  []string{"2 January 2006 15:04", "2 January 2006", "02.01.2006"},
		MonthNames:   TurkishMonths,
		Category:     config.Selector{Query: []string{"span.hbr-dty-meta-item"}, Pick: config.PickFirst},
		Tags:         config.Selector{Query: []string{"div.htaglist a"}, Pick: config.PickAll},
		Body:         sel("div.col-md-12.mbot15.hicerikdty p"),
		BodyDropLast: 1,
	},
	"jewish_report": genericPreset.Merge(&config.ExtractConfig{
		Title:   sel("h1.mvp-post-title", "h1"),
		Authors: sel("span.author-name a", "span.author-name"),
		Date:    config.Selector{Query: []string{"time.post-date", "time[datetime]"}, Attr: "datetime"},
		Body:    sel("#mvp-content-main p", "article p"),
	}),
	"cjn":         genericPreset,
	"jewish_news": genericPreset,
	"jewish_link": genericPreset,
	"jewish_ru":   genericPreset,
}

// Preset returns the named selector set.
func Preset(name string) (config.ExtractConfig, bool) {
	p, ok := presets[name]
	return p, ok
}

// PresetNames lists the known presets in sorted order.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

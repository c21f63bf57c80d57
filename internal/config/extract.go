package config

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Selector picks text out of a page. Queries are tried in order until one matches.
type Selector struct {
	Query []string `yaml:"query"`
	Pick  string   `yaml:"pick"`
	Attr  string   `yaml:"attr"`
}

// Pick rules for Selector.
const (
	PickFirst = "first"
	PickLast  = "last"
	PickAll   = "all"
)

// UnmarshalYAML accepts either a bare CSS query string or the full mapping form.
func (s *Selector) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		s.Query = []string{strings.TrimSpace(node.Value)}
		return nil
	case yaml.SequenceNode:
		var queries []string
		if err := node.Decode(&queries); err != nil {
			return err
		}
		s.Query = queries
		return nil
	case yaml.MappingNode:
		type plain Selector
		var p plain
		if err := node.Decode(&p); err != nil {
			return err
		}
		*s = Selector(p)
		return nil
	default:
		return fmt.Errorf("selector: unsupported yaml node kind %d", node.Kind)
	}
}

// IsZero reports whether no query is configured.
func (s Selector) IsZero() bool {
	for _, q := range s.Query {
		if strings.TrimSpace(q) != "" {
			return false
		}
	}
	return true
}

// ExtractConfig holds per-site field selectors.
type ExtractConfig struct {
	Title        Selector          `yaml:"title"`
	Authors      Selector          `yaml:"authors"`
	Date         Selector          `yaml:"date"`
	DateLayouts  []string          `yaml:"date_layouts"`
	MonthNames   map[string]string `yaml:"month_names"`
	Category     Selector          `yaml:"category"`
	Tags         Selector          `yaml:"tags"`
	Body         Selector          `yaml:"body"`
	BodyDropLast int               `yaml:"body_drop_last"`
	BodyFormat   string            `yaml:"body_format"`
}

// Body formats.
const (
	BodyText     = "text"
	BodyMarkdown = "markdown"
)

// Merge overlays the non-empty fields of override onto e.
func (e ExtractConfig) Merge(override *ExtractConfig) ExtractConfig {
	if override == nil {
		return e
	}
	out := e
	pick := func(dst *Selector, src Selector) {
		if !src.IsZero() {
			*dst = src
		}
	}
	pick(&out.Title, override.Title)
	pick(&out.Authors, override.Authors)
	pick(&out.Date, override.Date)
	pick(&out.Category, override.Category)
	pick(&out.Tags, override.Tags)
	pick(&out.Body, override.Body)
	if len(override.DateLayouts) > 0 {
		out.DateLayouts = override.DateLayouts
	}
	if len(override.MonthNames) > 0 {
		out.MonthNames = override.MonthNames
	}
	if override.BodyDropLast > 0 {
		out.BodyDropLast = override.BodyDropLast
	}
	if override.BodyFormat != "" {
		out.BodyFormat = override.BodyFormat
	}
	return out
}

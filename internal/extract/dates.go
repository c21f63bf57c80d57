package extract

import (
	"strings"
	"time"
)

// DefaultDateLayouts are tried when a site configures none.
var DefaultDateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"January 2, 2006 3:04 pm",
	"January 2, 2006",
	"Jan 2, 2006",
	"Jan. 2, 2006",
	"Monday, January 2, 2006",
	"2 January 2006 15:04",
	"2 January 2006",
	"02.01.2006 15:04",
	"02.01.2006",
	time.RFC1123Z,
	time.RFC1123,
}

// TurkishMonths maps Turkish month names to the English names time.Parse knows.
var TurkishMonths = map[string]string{
	"Ocak":    "January",
	"Şubat":   "February",
	"Mart":    "March",
	"Nisan":   "April",
	"Mayıs":   "May",
	"Haziran": "June",
	"Temmuz":  "July",
	"Ağustos": "August",
	"Eylül":   "September",
	"Ekim":    "October",
	"Kasım":   "November",
	"Aralık":  "December",
}

// parseDate translates localised month names and tries each layout in turn.
// It returns nil when nothing matches.
func parseDate(raw string, layouts []string, months map[string]string) *time.Time {
	value := normalizeWhitespace(raw)
	if value == "" {
		return nil
	}
	if len(months) > 0 {
		fields := strings.Fields(value)
		for i, f := range fields {
			trimmed := strings.TrimRight(f, ",.")
			if en, ok := months[trimmed]; ok {
				fields[i] = en + f[len(trimmed):]
			}
		}
		value = strings.Join(fields, " ")
	}
	if len(layouts) == 0 {
		layouts = DefaultDateLayouts
	}
	candidates := []string{value}
	// Retry without a leading label such as "Published".
	if idx := strings.IndexAny(value, "0123456789"); idx > 0 {
		candidates = append(candidates, strings.TrimSpace(value[idx:]))
	}
	for _, c := range candidates {
		for _, layout := range layouts {
			if t, err := time.Parse(layout, c); err == nil {
				return &t
			}
		}
	}
	return nil
}

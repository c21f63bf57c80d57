package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"newsharvest/internal/config"
	"newsharvest/pkg/types"
)

// Store reads and rewrites one site's dataset.
type Store interface {
	Load(ctx context.Context) ([]types.Article, error)
	Save(ctx context.Context, records []types.Article) error
	Location() string
}

// Backend hands out per-site stores sharing one underlying connection.
type Backend interface {
	Dataset(site string, cfg config.SiteConfig) (Store, error)
	Close() error
}

// NewBackend opens the backend selected by cfg.Driver.
func NewBackend(ctx context.Context, cfg config.StorageConfig) (Backend, error) {
	switch cfg.Driver {
	case "", config.DriverCSV:
		return csvBackend{}, nil
	case config.DriverPostgres, config.DriverSQLite:
		return NewSQLBackend(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}

type csvBackend struct{}

func (csvBackend) Dataset(site string, cfg config.SiteConfig) (Store, error) {
	if strings.TrimSpace(cfg.OutputPath) == "" {
		return nil, fmt.Errorf("site %s: output path is empty", site)
	}
	return NewCSVStore(cfg.OutputPath), nil
}

func (csvBackend) Close() error { return nil }

// tableName derives a SQL table for a site from its output path.
func tableName(prefix, site, outputPath string) string {
	base := strings.TrimSuffix(filepath.Base(outputPath), filepath.Ext(outputPath))
	if base == "" || base == "." || base == string(filepath.Separator) {
		base = site
	}
	var b strings.Builder
	b.WriteString(prefix)
	for _, r := range strings.ToLower(base) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime coerces stored dates; anything unreadable becomes nil.
func parseTime(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, "nat") {
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t
		}
	}
	return nil
}

var errNilStore = errors.New("storage: nil store")

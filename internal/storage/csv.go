package storage

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"newsharvest/pkg/types"
)

// CSV column names. urls is the dataset key.
const (
	colDate     = "date"
	colTitle    = "title"
	colContent  = "content"
	colURLs     = "urls"
	colTags     = "tags"
	colAuthors  = "authors"
	colCategory = "category"
)

var csvHeader = []string{colDate, colTitle, colContent, colURLs, colTags, colAuthors, colCategory}

// CSVStore keeps a dataset in a single CSV file that is fully rewritten on save.
type CSVStore struct {
	path string
}

// NewCSVStore returns a store backed by path.
func NewCSVStore(path string) *CSVStore {
	return &CSVStore{path: path}
}

// Location returns the file path.
func (s *CSVStore) Location() string { return s.path }

// Load reads the dataset. A missing file is an empty dataset.
func (s *CSVStore) Load(ctx context.Context) ([]types.Article, error) {
	if s == nil {
		return nil, errNilStore
	}
	fh, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer fh.Close()

	r := csv.NewReader(fh)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read dataset header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))] = i
	}
	if _, ok := cols[colURLs]; !ok {
		return nil, fmt.Errorf("dataset %s has no %q column", s.path, colURLs)
	}
	field := func(row []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(row) {
			return ""
		}
		return row[i]
	}

	var records []types.Article
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read dataset row: %w", err)
		}
		url := strings.TrimSpace(field(row, colURLs))
		if url == "" {
			continue
		}
		records = append(records, types.Article{
			URL:         url,
			PublishedAt: parseTime(field(row, colDate)),
			Title:       field(row, colTitle),
			Body:        field(row, colContent),
			Tags:        decodeTags(field(row, colTags)),
			Author:      field(row, colAuthors),
			Category:    field(row, colCategory),
		})
	}
	return records, nil
}

// Save atomically replaces the file with records.
func (s *CSVStore) Save(ctx context.Context, records []types.Article) error {
	if s == nil {
		return errNilStore
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dataset directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp dataset: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if tmpName != "" {
			_ = os.Remove(tmpName)
		}
	}()

	w := csv.NewWriter(tmp)
	if err := w.Write(csvHeader); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write dataset header: %w", err)
	}
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			_ = tmp.Close()
			return err
		}
		row := []string{
			formatTime(rec.PublishedAt),
			rec.Title,
			rec.Body,
			rec.URL,
			encodeTags(rec.Tags),
			rec.Author,
			rec.Category,
		}
		if err := w.Write(row); err != nil {
			_ = tmp.Close()
			return fmt.Errorf("write dataset row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("flush dataset: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp dataset: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace dataset: %w", err)
	}
	tmpName = ""
	return nil
}

func encodeTags(tags []string) string {
	if len(tags) == 0 {
		return "[]"
	}
	raw, err := json.Marshal(tags)
	if err != nil {
		return "[]"
	}
	return string(raw)
}

// decodeTags reads JSON lists and also the single-quoted list form older
// datasets were written with.
func decodeTags(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "[]" {
		return nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(raw), &tags); err == nil {
		return tags
	}
	if strings.HasPrefix(raw, "[") && strings.HasSuffix(raw, "]") {
		inner := strings.TrimSpace(raw[1 : len(raw)-1])
		for _, part := range strings.Split(inner, ",") {
			part = strings.Trim(strings.TrimSpace(part), `'"`)
			if part != "" {
				tags = append(tags, part)
			}
		}
		return tags
	}
	return []string{raw}
}

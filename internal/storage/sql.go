package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	pq "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"newsharvest/internal/config"
	"newsharvest/pkg/types"
)

// SQLBackend keeps every site's dataset as a table in one database.
type SQLBackend struct {
	db     *sql.DB
	driver string
	prefix string
}

// NewSQLBackend opens and pings the database, creating it first when allowed.
func NewSQLBackend(ctx context.Context, cfg config.StorageConfig) (*SQLBackend, error) {
	if cfg.Driver == "" || cfg.DSN == "" {
		return nil, errors.New("sql storage missing driver or dsn")
	}
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open sql connection: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		if !cfg.CreateIfMissing || !shouldAttemptCreateDatabase(cfg.Driver, err) {
			return nil, fmt.Errorf("ping sql connection: %w", err)
		}
		if err := createDatabase(pingCtx, cfg); err != nil {
			return nil, err
		}
		db, err = sql.Open(cfg.Driver, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sql connection: %w", err)
		}
		if err := db.PingContext(pingCtx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ping sql connection: %w", err)
		}
	}
	if cfg.Driver == config.DriverSQLite {
		// sqlite allows a single writer.
		db.SetMaxOpenConns(1)
	}
	return &SQLBackend{db: db, driver: cfg.Driver, prefix: cfg.TablePrefix}, nil
}

// Dataset returns the table-backed store for site.
func (b *SQLBackend) Dataset(site string, cfg config.SiteConfig) (Store, error) {
	if b == nil || b.db == nil {
		return nil, errNilStore
	}
	return &SQLStore{
		db:     b.db,
		driver: b.driver,
		table:  tableName(b.prefix, site, cfg.OutputPath),
	}, nil
}

// Close closes the underlying DB connection.
func (b *SQLBackend) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

// SQLStore keeps one site's dataset in a table, ordered by a position column.
type SQLStore struct {
	db     *sql.DB
	driver string
	table  string
}

// Location returns the table name.
func (s *SQLStore) Location() string { return s.table }

// Load reads the dataset in stored order. A missing table is an empty dataset.
func (s *SQLStore) Load(ctx context.Context) ([]types.Article, error) {
	if s == nil {
		return nil, errNilStore
	}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT url, published_at, title, content, tags, authors, category
        FROM %s ORDER BY position ASC`, pq.QuoteIdentifier(s.table))
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		if isUndefinedTableErr(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("query dataset: %w", err)
	}
	defer rows.Close()

	var records []types.Article
	for rows.Next() {
		var rec types.Article
		var published, title, body, tags, author, category sql.NullString
		if err := rows.Scan(&rec.URL, &published, &title, &body, &tags, &author, &category); err != nil {
			return nil, fmt.Errorf("scan dataset row: %w", err)
		}
		rec.PublishedAt = parseTime(published.String)
		rec.Title = title.String
		rec.Body = body.String
		rec.Tags = decodeTags(tags.String)
		rec.Author = author.String
		rec.Category = category.String
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dataset: %w", err)
	}
	return records, nil
}

// Save replaces the table contents with records inside one transaction.
func (s *SQLStore) Save(ctx context.Context, records []types.Article) error {
	if s == nil {
		return errNilStore
	}
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin dataset tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	table := pq.QuoteIdentifier(s.table)
	if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
		return fmt.Errorf("clear dataset: %w", err)
	}
	insert := fmt.Sprintf(`INSERT INTO %s (position, url, published_at, title, content, tags, authors, category)
        VALUES (%s)`, table, s.placeholders(8))
	stmt, err := tx.PrepareContext(ctx, insert)
	if err != nil {
		return fmt.Errorf("prepare dataset insert: %w", err)
	}
	defer stmt.Close()

	for i, rec := range records {
		tags, err := json.Marshal(nonNil(rec.Tags))
		if err != nil {
			return fmt.Errorf("encode tags for %s: %w", rec.URL, err)
		}
		if _, err := stmt.ExecContext(ctx,
			i,
			rec.URL,
			formatTime(rec.PublishedAt),
			rec.Title,
			rec.Body,
			string(tags),
			rec.Author,
			rec.Category,
		); err != nil {
			return fmt.Errorf("insert %s: %w", rec.URL, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit dataset: %w", err)
	}
	return nil
}

func (s *SQLStore) ensureSchema(ctx context.Context) error {
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	    position INTEGER NOT NULL,
	    url TEXT PRIMARY KEY,
	    published_at TEXT,
	    title TEXT,
	    content TEXT,
	    tags TEXT,
	    authors TEXT,
	    category TEXT
	)`, pq.QuoteIdentifier(s.table))
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *SQLStore) placeholders(n int) string {
	parts := make([]string, n)
	for i := range parts {
		if s.driver == config.DriverPostgres {
			parts[i] = fmt.Sprintf("$%d", i+1)
		} else {
			parts[i] = "?"
		}
	}
	return strings.Join(parts, ",")
}

func nonNil(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

func shouldAttemptCreateDatabase(driver string, err error) bool {
	if !strings.EqualFold(driver, config.DriverPostgres) {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "3D000"
	}
	return strings.Contains(strings.ToLower(err.Error()), "does not exist")
}

func createDatabase(ctx context.Context, cfg config.StorageConfig) error {
	parsed, err := url.Parse(cfg.DSN)
	if err != nil {
		return fmt.Errorf("parse dsn: %w", err)
	}
	dbName := strings.TrimPrefix(parsed.Path, "/")
	if dbName == "" {
		return errors.New("dsn missing database name")
	}
	if strings.EqualFold(dbName, "postgres") {
		return fmt.Errorf("target database %q cannot be auto-created", dbName)
	}
	parsed.Path = "/postgres"
	adminDB, err := sql.Open(cfg.Driver, parsed.String())
	if err != nil {
		return fmt.Errorf("connect admin database: %w", err)
	}
	defer adminDB.Close()
	if err := adminDB.PingContext(ctx); err != nil {
		return fmt.Errorf("ping admin database: %w", err)
	}
	stmt := fmt.Sprintf("CREATE DATABASE %s", pq.QuoteIdentifier(dbName))
	if _, err := adminDB.ExecContext(ctx, stmt); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "42P04" {
			return nil
		}
		return fmt.Errorf("create database %q: %w", dbName, err)
	}
	return nil
}

func isUndefinedTableErr(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "42P01"
	}
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "no such table") ||
		(strings.Contains(lower, "relation") && strings.Contains(lower, "does not exist"))
}

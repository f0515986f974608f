package pagestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS pages (
	collection TEXT NOT NULL,
	page_offset INTEGER NOT NULL,
	item_count INTEGER NOT NULL,
	page_size INTEGER NOT NULL DEFAULT 0,
	total INTEGER,
	fetched_at INTEGER NOT NULL,
	payload BLOB NOT NULL,
	PRIMARY KEY (collection, page_offset)
);
`

// SQLiteStore archives pages in a single SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite creates or opens the archive database at path.
//
// The database is configured with:
//   - WAL mode so readers do not block the writer
//   - FULL synchronous mode so a committed write survives power loss
//   - 5-second busy timeout for lock contention
func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create archive directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	if err := addPageSizeColumn(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db}, nil
}

// addPageSizeColumn upgrades archives created before page_size was stored.
func addPageSizeColumn(db *sql.DB) error {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('pages') WHERE name = 'page_size'`).Scan(&n)
	if err != nil {
		return fmt.Errorf("inspect schema: %w", err)
	}
	if n > 0 {
		return nil
	}
	if _, err := db.Exec(`ALTER TABLE pages ADD COLUMN page_size INTEGER NOT NULL DEFAULT 0`); err != nil {
		return fmt.Errorf("add page_size column: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) Exists(ctx context.Context, collection string, offset int) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM pages WHERE collection = ? AND page_offset = ?`,
		collection, offset).Scan(&one)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	default:
		ErrorsTotal.WithLabelValues("sqlite", "exists").Inc()
		return false, fmt.Errorf("query page: %w", err)
	}
}

func (s *SQLiteStore) Write(ctx context.Context, page Page) error {
	if err := page.Validate(); err != nil {
		return err
	}

	var total sql.NullInt64
	if page.Total != nil {
		total = sql.NullInt64{Int64: int64(*page.Total), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pages (collection, page_offset, item_count, page_size, total, fetched_at, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(collection, page_offset) DO UPDATE SET
			item_count = excluded.item_count,
			page_size = excluded.page_size,
			total = excluded.total,
			fetched_at = excluded.fetched_at,
			payload = excluded.payload
	`, page.Collection, page.Offset, page.ItemCount, page.PageSize, total, page.FetchedAt.UnixNano(), []byte(page.Payload))
	if err != nil {
		ErrorsTotal.WithLabelValues("sqlite", "write").Inc()
		return fmt.Errorf("upsert page: %w", err)
	}

	WritesTotal.WithLabelValues("sqlite").Inc()
	BytesWritten.WithLabelValues("sqlite").Add(float64(len(page.Payload)))
	return nil
}

func (s *SQLiteStore) Read(ctx context.Context, collection string, offset int) (*Page, error) {
	var (
		itemCount int
		pageSize  int
		total     sql.NullInt64
		fetchedAt int64
		payload   []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT item_count, page_size, total, fetched_at, payload
		FROM pages WHERE collection = ? AND page_offset = ?
	`, collection, offset).Scan(&itemCount, &pageSize, &total, &fetchedAt, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s@%d", ErrPageNotFound, collection, offset)
	}
	if err != nil {
		ErrorsTotal.WithLabelValues("sqlite", "read").Inc()
		return nil, fmt.Errorf("query page: %w", err)
	}

	page := &Page{
		Collection: collection,
		Offset:     offset,
		ItemCount:  itemCount,
		PageSize:   pageSize,
		FetchedAt:  time.Unix(0, fetchedAt),
		Payload:    payload,
	}
	if total.Valid {
		n := int(total.Int64)
		page.Total = &n
	}
	return page, nil
}

func (s *SQLiteStore) List(ctx context.Context, collection string) ([]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT page_offset FROM pages WHERE collection = ? ORDER BY page_offset`, collection)
	if err != nil {
		ErrorsTotal.WithLabelValues("sqlite", "list").Inc()
		return nil, fmt.Errorf("query offsets: %w", err)
	}
	defer rows.Close()

	var offsets []int
	for rows.Next() {
		var offset int
		if err := rows.Scan(&offset); err != nil {
			return nil, fmt.Errorf("scan offset: %w", err)
		}
		offsets = append(offsets, offset)
	}
	if err := rows.Err(); err != nil {
		ErrorsTotal.WithLabelValues("sqlite", "list").Inc()
		return nil, fmt.Errorf("iterate offsets: %w", err)
	}
	return offsets, nil
}

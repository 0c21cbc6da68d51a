package market

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"backforge/internal/logging"
)

// Cache persists fetched closes in SQLite so remote sources are hit once per symbol.
type Cache struct {
	db     *sql.DB
	mu     sync.Mutex
	dbPath string
}

// OpenCache opens (creating if needed) the price cache at path.
func OpenCache(path string) (*Cache, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	c := &Cache{db: db, dbPath: path}
	if err := c.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

func (c *Cache) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS prices (
		symbol TEXT NOT NULL,
		date TEXT NOT NULL,
		close REAL NOT NULL,
		fetched_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (symbol, date)
	);
	CREATE INDEX IF NOT EXISTS idx_prices_symbol ON prices(symbol);
	`
	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create price cache schema: %w", err)
	}
	return nil
}

// Load returns the cached closes for symbol within [start, end].
func (c *Cache) Load(ctx context.Context, symbol string, start, end time.Time) ([]Point, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT date, close FROM prices WHERE symbol = ? AND date >= ? AND date <= ? ORDER BY date`,
		symbol, start.Format("2006-01-02"), end.Format("2006-01-02"))
	if err != nil {
		return nil, fmt.Errorf("query cache for %s: %w", symbol, err)
	}
	defer rows.Close()

	var pts []Point
	for rows.Next() {
		var (
			ds string
			v  float64
		)
		if err := rows.Scan(&ds, &v); err != nil {
			return nil, err
		}
		d, err := time.Parse("2006-01-02", ds)
		if err != nil {
			return nil, fmt.Errorf("cache row for %s has bad date %q", symbol, ds)
		}
		pts = append(pts, Point{Date: d, Close: v})
	}
	return pts, rows.Err()
}

// Store upserts closes for symbol.
func (c *Cache) Store(ctx context.Context, symbol string, pts []Point) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO prices (symbol, date, close) VALUES (?, ?, ?)
		 ON CONFLICT(symbol, date) DO UPDATE SET close = excluded.close, fetched_at = CURRENT_TIMESTAMP`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, p := range pts {
		if _, err := stmt.ExecContext(ctx, symbol, p.Date.Format("2006-01-02"), p.Close); err != nil {
			tx.Rollback()
			return fmt.Errorf("cache %s %s: %w", symbol, p.Date.Format("2006-01-02"), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	logging.DataDebug("cached %d rows for %s", len(pts), symbol)
	return nil
}

// Invalidate removes every cached row for symbols.
func (c *Cache) Invalidate(ctx context.Context, symbols ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range symbols {
		if _, err := c.db.ExecContext(ctx, `DELETE FROM prices WHERE symbol = ?`, s); err != nil {
			return err
		}
	}
	return nil
}

// Symbols lists the symbols with at least one cached row.
func (c *Cache) Symbols(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT DISTINCT symbol FROM prices ORDER BY symbol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Close closes the database.
func (c *Cache) Close() error {
	return c.db.Close()
}

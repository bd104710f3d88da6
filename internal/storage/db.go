package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// DB wraps the relational document store. SQLite is the default for
// single-node deployments; postgres and mysql are available where a
// shared server is wanted. Queries are written with `?` placeholders
// and rebound for postgres.
type DB struct {
	conn   *sql.DB
	driver string
}

// Open connects to the store and runs migrations. driver is one of
// "sqlite" (default), "postgres" or "mysql"; dsn is driver-specific
// (a file path for sqlite).
func Open(driver, dsn string) (*DB, error) {
	switch driver {
	case "", "sqlite":
		driver = "sqlite"
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("create db directory: %w", err)
			}
		}
		dsn += "?_journal_mode=WAL&_busy_timeout=5000"
	case "postgres", "mysql":
	default:
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}

	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == "sqlite" {
		// SQLite only supports one writer. Limit to a single
		// connection to prevent SQLITE_BUSY.
		conn.SetMaxOpenConns(1)
	}

	db := &DB{conn: conn, driver: driver}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Conn returns the underlying database connection.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// rebind converts `?` placeholders to `$n` for postgres.
func (db *DB) rebind(query string) string {
	if db.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
		} else {
			b.WriteRune(ch)
		}
	}
	return b.String()
}

func (db *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id VARCHAR(64) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			email VARCHAR(255) NOT NULL,
			avatar VARCHAR(512) NOT NULL,
			token VARCHAR(128) NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS pages (
			id VARCHAR(64) PRIMARY KEY,
			title VARCHAR(512) NOT NULL,
			owner_id VARCHAR(64) NOT NULL,
			collaborators_json TEXT NOT NULL,
			is_public BOOLEAN NOT NULL,
			share_url VARCHAR(128) NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS blocks (
			id VARCHAR(64) PRIMARY KEY,
			page_id VARCHAR(64) NOT NULL,
			type VARCHAR(16) NOT NULL,
			content TEXT NOT NULL,
			position INTEGER NOT NULL,
			metadata_json TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_blocks_page ON blocks(page_id)`,
		`CREATE INDEX IF NOT EXISTS idx_pages_owner ON pages(owner_id)`,
		`CREATE INDEX IF NOT EXISTS idx_pages_share ON pages(share_url)`,
		`CREATE INDEX IF NOT EXISTS idx_users_token ON users(token)`,
	}

	for _, m := range migrations {
		if _, err := db.conn.Exec(m); err != nil {
			// MySQL has no IF NOT EXISTS for indexes; a re-run
			// reports a duplicate key name, which is safe to skip.
			if strings.Contains(m, "CREATE INDEX") && strings.Contains(err.Error(), "Duplicate") {
				continue
			}
			return fmt.Errorf("migration failed: %s: %w", m[:40], err)
		}
	}
	return nil
}

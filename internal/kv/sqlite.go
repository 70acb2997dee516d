package kv

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// sqliteRangePageSize bounds the rows read per range query. A range scan
// re-queries after each page, so no connection is held across yield.
const sqliteRangePageSize = 256

// SQLiteBackend implements ConditionalBackend on a single SQLite file.
type SQLiteBackend struct {
	db     *sql.DB // Write connection (single writer)
	readDB *sql.DB // Read connection pool (concurrent readers)
	dbPath string
	mu     sync.Mutex // Write-only lock (reads don't need this)

	getStmt    *sql.Stmt
	setStmt    *sql.Stmt
	insertStmt *sql.Stmt
}

// NewSQLiteBackend opens (or creates) a SQLite-backed KV store at dbPath.
func NewSQLiteBackend(dbPath string) (*SQLiteBackend, error) {
	// Write connection: single writer with WAL mode
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("kv: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // Single writer
	db.SetMaxIdleConns(1)

	b := &SQLiteBackend{db: db, dbPath: dbPath}

	// Schema must exist before the read pool prepares statements against it
	if err := b.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("kv: failed to initialize schema: %w", err)
	}

	readDB, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("kv: failed to open read database: %w", err)
	}
	readDB.SetMaxOpenConns(4)
	readDB.SetMaxIdleConns(4)
	readDB.SetConnMaxLifetime(5 * time.Minute)
	b.readDB = readDB

	if err := b.prepare(); err != nil {
		b.Close()
		return nil, fmt.Errorf("kv: failed to prepare statements: %w", err)
	}
	return b, nil
}

func (b *SQLiteBackend) initSchema() error {
	_, err := b.db.Exec(`
		CREATE TABLE IF NOT EXISTS kv (
			key   BLOB PRIMARY KEY,
			value BLOB NOT NULL
		) WITHOUT ROWID`)
	return err
}

func (b *SQLiteBackend) prepare() error {
	var err error
	if b.getStmt, err = b.readDB.Prepare(`SELECT value FROM kv WHERE key = ?`); err != nil {
		return err
	}
	if b.setStmt, err = b.db.Prepare(`INSERT OR REPLACE INTO kv (key, value) VALUES (?, ?)`); err != nil {
		return err
	}
	if b.insertStmt, err = b.db.Prepare(`INSERT OR IGNORE INTO kv (key, value) VALUES (?, ?)`); err != nil {
		return err
	}
	return nil
}

func (b *SQLiteBackend) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	var value []byte
	err := b.getStmt.QueryRowContext(ctx, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, backendError("get", err)
	}
	return value, true, nil
}

func (b *SQLiteBackend) Set(ctx context.Context, key, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, err := b.setStmt.ExecContext(ctx, key, value); err != nil {
		return backendError("set", err)
	}
	return nil
}

func (b *SQLiteBackend) PutIfAbsent(ctx context.Context, key, value []byte) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	res, err := b.insertStmt.ExecContext(ctx, key, value)
	if err != nil {
		return false, backendError("put_if_absent", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, backendError("put_if_absent", err)
	}
	return n == 1, nil
}

// Range pages through the prefix with keyset pagination on the primary key.
func (b *SQLiteBackend) Range(ctx context.Context, prefix []byte) iter.Seq2[KeyValue, error] {
	return func(yield func(KeyValue, error) bool) {
		end := rangeEnd(prefix)
		lower, inclusive := prefix, true
		for {
			page, err := b.readPage(ctx, lower, inclusive, end)
			if err != nil {
				yield(KeyValue{}, backendError("range", err))
				return
			}
			for _, kv := range page {
				if !yield(kv, nil) {
					return
				}
			}
			if len(page) < sqliteRangePageSize {
				return
			}
			lower, inclusive = page[len(page)-1].Key, false
		}
	}
}

func (b *SQLiteBackend) readPage(ctx context.Context, lower []byte, inclusive bool, end []byte) ([]KeyValue, error) {
	var conditions []string
	var args []interface{}
	switch {
	case !inclusive:
		conditions = append(conditions, `key > ?`)
		args = append(args, lower)
	case len(lower) > 0:
		conditions = append(conditions, `key >= ?`)
		args = append(args, lower)
	}
	if end != nil {
		conditions = append(conditions, `key < ?`)
		args = append(args, end)
	}
	query := `SELECT key, value FROM kv`
	if len(conditions) > 0 {
		query += ` WHERE ` + strings.Join(conditions, " AND ")
	}
	query += ` ORDER BY key LIMIT ?`
	args = append(args, sqliteRangePageSize)

	rows, err := b.readDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	page := make([]KeyValue, 0, sqliteRangePageSize)
	for rows.Next() {
		var kv KeyValue
		if err := rows.Scan(&kv.Key, &kv.Value); err != nil {
			return nil, err
		}
		page = append(page, kv)
	}
	return page, rows.Err()
}

func (b *SQLiteBackend) DeleteRange(ctx context.Context, start, end []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var err error
	if end == nil {
		_, err = b.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, start)
	} else {
		_, err = b.db.ExecContext(ctx, `DELETE FROM kv WHERE key >= ? AND key < ?`, start, end)
	}
	if err != nil {
		return backendError("delete_range", err)
	}
	return nil
}

// Path returns the database file path.
func (b *SQLiteBackend) Path() string {
	return b.dbPath
}

// Close closes both database connections.
func (b *SQLiteBackend) Close() error {
	for _, stmt := range []*sql.Stmt{b.getStmt, b.setStmt, b.insertStmt} {
		if stmt != nil {
			stmt.Close()
		}
	}
	var readErr error
	if b.readDB != nil {
		readErr = b.readDB.Close()
	}
	if err := b.db.Close(); err != nil {
		return err
	}
	return readErr
}

package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"

	"github.com/arkilian/catalog/pkg/types"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteEngineName is the engine name recorded in table metadata.
const SQLiteEngineName = "sqlite"

// tableInfoTable holds the serialized TableInfo inside every table file.
const tableInfoTable = "__table_info"

// SQLiteTable is a table stored in its own SQLite file.
type SQLiteTable struct {
	info *types.TableInfo
	db   *sql.DB
	path string
}

func (t *SQLiteTable) Info() *types.TableInfo { return t.info }

// DB returns the table's database handle.
func (t *SQLiteTable) DB() *sql.DB { return t.db }

// Path returns the table file path.
func (t *SQLiteTable) Path() string { return t.path }

// SQLiteEngine stores each table in {dir}/{catalog}/{schema}/{table}-{id}.sqlite.
type SQLiteEngine struct {
	dir    string
	logger *zap.Logger

	// mu serializes file creation and opening; cached handles are read lock-free.
	mu     sync.Mutex
	tables *xsync.MapOf[types.TableID, *SQLiteTable]
	closed atomic.Bool
}

// NewSQLiteEngine creates an engine rooted at dir.
func NewSQLiteEngine(dir string, logger *zap.Logger) (*SQLiteEngine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("engine: failed to create data directory: %w", err)
	}
	return &SQLiteEngine{
		dir:    dir,
		logger: logger,
		tables: xsync.NewMapOf[types.TableID, *SQLiteTable](),
	}, nil
}

func (e *SQLiteEngine) Name() string { return SQLiteEngineName }

// tablePath returns the file of a table. Every name must be a single path
// element, so the result always lies below dir.
func (e *SQLiteEngine) tablePath(catalog, schema, table string, id types.TableID) (string, error) {
	for _, name := range []string{catalog, schema, table} {
		if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`+"\x00") {
			return "", fmt.Errorf("%w: %q", ErrInvalidTableName, name)
		}
	}
	path := filepath.Join(e.dir, catalog, schema, fmt.Sprintf("%s-%d.sqlite", table, id))
	if rel, err := filepath.Rel(e.dir, path); err != nil || !filepath.IsLocal(rel) {
		return "", fmt.Errorf("%w: %s escapes %s", ErrInvalidTableName, path, e.dir)
	}
	return path, nil
}

func (e *SQLiteEngine) OpenTable(ctx context.Context, _ EngineContext, req OpenTableRequest) (Table, error) {
	// closed is checked after the lookup: Close sets it before closing handles.
	if t, ok := e.tables.Load(req.TableID); ok {
		if e.closed.Load() {
			return nil, ErrClosed
		}
		if !sameTable(t.info, req.CatalogName, req.SchemaName, req.TableName) {
			return nil, fmt.Errorf("%w: id %d belongs to %s", ErrTableIDConflict, req.TableID, t.info.FullName())
		}
		return t, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed.Load() {
		return nil, ErrClosed
	}
	t, err := e.openLocked(ctx, req)
	if err != nil || t == nil {
		return nil, err
	}
	return t, nil
}

// openLocked opens the table file if it exists. Returns nil, nil if it does not.
func (e *SQLiteEngine) openLocked(ctx context.Context, req OpenTableRequest) (*SQLiteTable, error) {
	if t, ok := e.tables.Load(req.TableID); ok {
		if !sameTable(t.info, req.CatalogName, req.SchemaName, req.TableName) {
			return nil, fmt.Errorf("%w: id %d belongs to %s", ErrTableIDConflict, req.TableID, t.info.FullName())
		}
		return t, nil
	}

	path, err := e.tablePath(req.CatalogName, req.SchemaName, req.TableName, req.TableID)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("engine: failed to stat %s: %w", path, err)
	}

	db, err := openTableDB(path)
	if err != nil {
		return nil, err
	}
	info, err := readTableInfo(ctx, db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("engine: failed to read table info from %s: %w", path, err)
	}
	if info.Ident.TableID != req.TableID {
		db.Close()
		return nil, fmt.Errorf("%w: %s records id %d, want %d", ErrTableIDConflict, path, info.Ident.TableID, req.TableID)
	}

	t := &SQLiteTable{info: info, db: db, path: path}
	e.tables.Store(req.TableID, t)
	e.logger.Debug("opened table", zap.String("table", info.FullName()), zap.Uint32("table_id", req.TableID))
	return t, nil
}

func (e *SQLiteEngine) CreateTable(ctx context.Context, _ EngineContext, req CreateTableRequest) (Table, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed.Load() {
		return nil, ErrClosed
	}

	existing, err := e.openLocked(ctx, req.OpenRequest())
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if !req.CreateIfNotExists {
			return nil, fmt.Errorf("%w: %s", ErrTableExists, req.FullName())
		}
		return existing, nil
	}

	path, err := e.tablePath(req.CatalogName, req.SchemaName, req.TableName, req.ID)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("engine: failed to create table directory: %w", err)
	}

	db, err := openTableDB(path)
	if err != nil {
		return nil, err
	}
	info := req.TableInfo(SQLiteEngineName)
	if err := initTableFile(ctx, db, req.TableName, info); err != nil {
		db.Close()
		os.Remove(path)
		return nil, err
	}

	t := &SQLiteTable{info: info, db: db, path: path}
	e.tables.Store(req.ID, t)
	e.logger.Info("created table",
		zap.String("table", info.FullName()),
		zap.Uint32("table_id", req.ID),
		zap.String("path", path))
	return t, nil
}

func (e *SQLiteEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed.Store(true)

	var firstErr error
	e.tables.Range(func(id types.TableID, t *SQLiteTable) bool {
		if err := t.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		e.tables.Delete(id)
		return true
	})
	return firstErr
}

func openTableDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("engine: failed to open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

// initTableFile creates the data table and records the table info, in one transaction.
func initTableFile(ctx context.Context, db *sql.DB, tableName string, info *types.TableInfo) error {
	payload, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("engine: failed to marshal table info: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("engine: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, createTableSQL(tableName, info.Meta.Schema, info.Meta.PrimaryKeyIndices)); err != nil {
		return fmt.Errorf("engine: failed to create data table: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS `+tableInfoTable+` (
			id   INTEGER PRIMARY KEY CHECK (id = 1),
			info BLOB NOT NULL
		)`); err != nil {
		return fmt.Errorf("engine: failed to create table info: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO `+tableInfoTable+` (id, info) VALUES (1, ?)`, payload); err != nil {
		return fmt.Errorf("engine: failed to write table info: %w", err)
	}
	return tx.Commit()
}

func readTableInfo(ctx context.Context, db *sql.DB) (*types.TableInfo, error) {
	var payload []byte
	if err := db.QueryRowContext(ctx, `SELECT info FROM `+tableInfoTable+` WHERE id = 1`).Scan(&payload); err != nil {
		return nil, err
	}
	var info types.TableInfo
	if err := json.Unmarshal(payload, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// createTableSQL renders the data table DDL for a logical schema.
func createTableSQL(tableName string, schema types.Schema, primaryKeyIndices []int) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE IF NOT EXISTS ")
	b.WriteString(quoteIdent(tableName))
	b.WriteString(" (\n")
	for i, col := range schema.Columns {
		if i > 0 {
			b.WriteString(",\n")
		}
		b.WriteString("\t")
		b.WriteString(quoteIdent(col.Name))
		b.WriteString(" ")
		b.WriteString(sqliteType(col.DataType))
		if !col.Nullable {
			b.WriteString(" NOT NULL")
		}
	}
	if len(primaryKeyIndices) > 0 {
		pk := make([]string, 0, len(primaryKeyIndices))
		for _, idx := range primaryKeyIndices {
			pk = append(pk, quoteIdent(schema.Columns[idx].Name))
		}
		b.WriteString(",\n\tPRIMARY KEY (")
		b.WriteString(strings.Join(pk, ", "))
		b.WriteString(")")
	}
	b.WriteString("\n)")
	return b.String()
}

func sqliteType(dataType string) string {
	switch strings.ToUpper(dataType) {
	case "STRING":
		return "TEXT"
	case "INT64", "UINT32", "TIMESTAMP", "BOOLEAN":
		return "INTEGER"
	case "FLOAT64":
		return "REAL"
	default:
		return "BLOB"
	}
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

package engine

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arkilian/catalog/pkg/types"
)

func testCreateRequest(id types.TableID, name string) CreateTableRequest {
	ts := 1
	return CreateTableRequest{
		ID:          id,
		CatalogName: types.DefaultCatalogName,
		SchemaName:  types.DefaultSchemaName,
		TableName:   name,
		Desc:        "cpu usage",
		Schema: types.Schema{
			Columns: []types.ColumnSchema{
				{Name: "host", DataType: "STRING"},
				{Name: "ts", DataType: "TIMESTAMP"},
				{Name: "usage", DataType: "FLOAT64", Nullable: true},
			},
			TimestampIndex: &ts,
			Version:        1,
		},
		PrimaryKeyIndices: []int{0, 1},
		TableOptions:      map[string]string{"ttl": "7d"},
	}
}

type engineFactory func(t *testing.T) TableEngine

func engineFactories() map[string]engineFactory {
	return map[string]engineFactory{
		"memory": func(t *testing.T) TableEngine {
			return NewMemoryEngine()
		},
		"sqlite": func(t *testing.T) TableEngine {
			e, err := NewSQLiteEngine(t.TempDir(), zap.NewNop())
			require.NoError(t, err)
			return e
		},
	}
}

func forEachEngine(t *testing.T, fn func(t *testing.T, e TableEngine)) {
	for name, factory := range engineFactories() {
		t.Run(name, func(t *testing.T) {
			e := factory(t)
			defer e.Close()
			fn(t, e)
		})
	}
}

func TestEngine_OpenMissingIsNotAnError(t *testing.T) {
	forEachEngine(t, func(t *testing.T, e TableEngine) {
		req := testCreateRequest(1, "cpu")
		tbl, err := e.OpenTable(context.Background(), EngineContext{}, req.OpenRequest())
		require.NoError(t, err)
		assert.Nil(t, tbl)
	})
}

func TestEngine_CreateThenOpen(t *testing.T) {
	forEachEngine(t, func(t *testing.T, e TableEngine) {
		ctx := context.Background()
		req := testCreateRequest(7, "cpu")

		created, err := e.CreateTable(ctx, EngineContext{}, req)
		require.NoError(t, err)
		info := created.Info()
		assert.Equal(t, types.TableID(7), info.Ident.TableID)
		assert.Equal(t, "default_catalog.default_schema.cpu", info.FullName())
		assert.Equal(t, e.Name(), info.Meta.EngineName)
		assert.Equal(t, []int{2}, info.Meta.ValueIndices)

		opened, err := e.OpenTable(ctx, EngineContext{}, req.OpenRequest())
		require.NoError(t, err)
		require.NotNil(t, opened)
		assert.Equal(t, info.FullName(), opened.Info().FullName())
		assert.Equal(t, info.Ident, opened.Info().Ident)
	})
}

func TestEngine_CreateExisting(t *testing.T) {
	forEachEngine(t, func(t *testing.T, e TableEngine) {
		ctx := context.Background()
		req := testCreateRequest(3, "mem")
		first, err := e.CreateTable(ctx, EngineContext{}, req)
		require.NoError(t, err)

		_, err = e.CreateTable(ctx, EngineContext{}, req)
		assert.ErrorIs(t, err, ErrTableExists)

		req.CreateIfNotExists = true
		again, err := e.CreateTable(ctx, EngineContext{}, req)
		require.NoError(t, err)
		assert.Equal(t, first.Info().Ident, again.Info().Ident)
	})
}

func TestEngine_IDConflict(t *testing.T) {
	forEachEngine(t, func(t *testing.T, e TableEngine) {
		ctx := context.Background()
		_, err := e.CreateTable(ctx, EngineContext{}, testCreateRequest(5, "a"))
		require.NoError(t, err)

		other := testCreateRequest(5, "b")
		other.CreateIfNotExists = true
		_, err = e.CreateTable(ctx, EngineContext{}, other)
		assert.ErrorIs(t, err, ErrTableIDConflict)

		_, err = e.OpenTable(ctx, EngineContext{}, other.OpenRequest())
		assert.ErrorIs(t, err, ErrTableIDConflict)
	})
}

func TestEngine_RejectsInvalidSchema(t *testing.T) {
	forEachEngine(t, func(t *testing.T, e TableEngine) {
		req := testCreateRequest(1, "bad")
		req.PrimaryKeyIndices = []int{9}
		_, err := e.CreateTable(context.Background(), EngineContext{}, req)
		assert.ErrorIs(t, err, types.ErrPrimaryKeyOutOfRange)
	})
}

func TestEngine_ConcurrentCreateIfNotExists(t *testing.T) {
	forEachEngine(t, func(t *testing.T, e TableEngine) {
		ctx := context.Background()
		req := testCreateRequest(11, "race")
		req.CreateIfNotExists = true

		var wg sync.WaitGroup
		errs := make([]error, 8)
		for i := range errs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = e.CreateTable(ctx, EngineContext{}, req)
			}(i)
		}
		wg.Wait()
		for _, err := range errs {
			assert.NoError(t, err)
		}
	})
}

func TestSQLiteEngine_PersistsAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	req := testCreateRequest(9, "disk")

	e, err := NewSQLiteEngine(dir, zap.NewNop())
	require.NoError(t, err)
	created, err := e.CreateTable(ctx, EngineContext{}, req)
	require.NoError(t, err)
	path := created.(*SQLiteTable).Path()
	assert.Equal(t, filepath.Join(dir, "default_catalog", "default_schema", "disk-9.sqlite"), path)
	require.NoError(t, e.Close())

	_, err = os.Stat(path)
	require.NoError(t, err)

	e, err = NewSQLiteEngine(dir, zap.NewNop())
	require.NoError(t, err)
	defer e.Close()
	opened, err := e.OpenTable(ctx, EngineContext{}, req.OpenRequest())
	require.NoError(t, err)
	require.NotNil(t, opened)
	info := opened.Info()
	assert.Equal(t, "disk", info.Name)
	assert.Equal(t, req.Schema, info.Meta.Schema)
	assert.Equal(t, req.PrimaryKeyIndices, info.Meta.PrimaryKeyIndices)

	// The data table accepts rows keyed by the primary key.
	db := opened.(*SQLiteTable).DB()
	_, err = db.ExecContext(ctx, `INSERT INTO "disk" (host, ts, usage) VALUES ('h1', 1, 0.5)`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO "disk" (host, ts, usage) VALUES ('h1', 1, 0.7)`)
	assert.Error(t, err, "duplicate primary key should be rejected")
}

func TestCreateTableSQL(t *testing.T) {
	req := testCreateRequest(1, "cpu")
	got := createTableSQL(req.TableName, req.Schema, req.PrimaryKeyIndices)
	want := "CREATE TABLE IF NOT EXISTS \"cpu\" (\n" +
		"\t\"host\" TEXT NOT NULL,\n" +
		"\t\"ts\" INTEGER NOT NULL,\n" +
		"\t\"usage\" REAL,\n" +
		"\tPRIMARY KEY (\"host\", \"ts\")\n" +
		")"
	assert.Equal(t, want, got)
	assert.Equal(t, `"a""b"`, quoteIdent(`a"b`))
}

func TestMemoryEngine_Closed(t *testing.T) {
	e := NewMemoryEngine()
	require.NoError(t, e.Close())
	_, err := e.CreateTable(context.Background(), EngineContext{}, testCreateRequest(1, "x"))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSQLiteEngine_RejectsPathEscapes(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	e, err := NewSQLiteEngine(filepath.Join(dir, "tables"), zap.NewNop())
	require.NoError(t, err)
	defer e.Close()

	tests := []struct {
		name                   string
		catalog, schema, table string
	}{
		{"dot-dot catalog", "..", types.DefaultSchemaName, "t"},
		{"dot schema", types.DefaultCatalogName, ".", "t"},
		{"separator in table", types.DefaultCatalogName, types.DefaultSchemaName, "../../escaped"},
		{"nested catalog", "a/b", types.DefaultSchemaName, "t"},
		{"backslash", types.DefaultCatalogName, types.DefaultSchemaName, `..\t`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := testCreateRequest(3, tt.table)
			req.CatalogName = tt.catalog
			req.SchemaName = tt.schema

			_, err := e.CreateTable(ctx, EngineContext{}, req)
			assert.ErrorIs(t, err, ErrInvalidTableName)
			_, err = e.OpenTable(ctx, EngineContext{}, req.OpenRequest())
			assert.ErrorIs(t, err, ErrInvalidTableName)
		})
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "nothing is created outside the engine directory")
	assert.Equal(t, "tables", entries[0].Name())
}

func TestSQLiteEngine_OpenAfterCloseFails(t *testing.T) {
	ctx := context.Background()
	e, err := NewSQLiteEngine(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	req := testCreateRequest(5, "cached")
	created, err := e.CreateTable(ctx, EngineContext{}, req)
	require.NoError(t, err)

	// Close marks the engine closed before it drops cached handles.
	e.closed.Store(true)
	_, err = e.OpenTable(ctx, EngineContext{}, req.OpenRequest())
	assert.ErrorIs(t, err, ErrClosed)
	e.closed.Store(false)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				table, err := e.OpenTable(ctx, EngineContext{}, req.OpenRequest())
				if err != nil {
					assert.ErrorIs(t, err, ErrClosed)
					return
				}
				assert.Same(t, created, table)
			}
		}()
	}
	require.NoError(t, e.Close())
	wg.Wait()

	_, err = e.OpenTable(ctx, EngineContext{}, req.OpenRequest())
	assert.ErrorIs(t, err, ErrClosed)
}

package engine

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/arkilian/catalog/pkg/types"
)

// MemoryEngineName is the engine name recorded in table metadata.
const MemoryEngineName = "memory"

// MemoryTable is a table that lives only in process memory.
type MemoryTable struct {
	info *types.TableInfo
}

func (t *MemoryTable) Info() *types.TableInfo { return t.info }

// MemoryEngine keeps tables in a concurrent map keyed by table id.
type MemoryEngine struct {
	tables *xsync.MapOf[types.TableID, *MemoryTable]
	closed atomic.Bool
}

// NewMemoryEngine creates an empty in-memory engine.
func NewMemoryEngine() *MemoryEngine {
	return &MemoryEngine{tables: xsync.NewMapOf[types.TableID, *MemoryTable]()}
}

func (e *MemoryEngine) Name() string { return MemoryEngineName }

func (e *MemoryEngine) OpenTable(ctx context.Context, _ EngineContext, req OpenTableRequest) (Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.closed.Load() {
		return nil, ErrClosed
	}
	t, ok := e.tables.Load(req.TableID)
	if !ok {
		return nil, nil
	}
	if !sameTable(t.info, req.CatalogName, req.SchemaName, req.TableName) {
		return nil, fmt.Errorf("%w: id %d belongs to %s", ErrTableIDConflict, req.TableID, t.info.FullName())
	}
	return t, nil
}

func (e *MemoryEngine) CreateTable(ctx context.Context, _ EngineContext, req CreateTableRequest) (Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.closed.Load() {
		return nil, ErrClosed
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	t, loaded := e.tables.LoadOrCompute(req.ID, func() *MemoryTable {
		return &MemoryTable{info: req.TableInfo(MemoryEngineName)}
	})
	if !loaded {
		return t, nil
	}
	if !sameTable(t.info, req.CatalogName, req.SchemaName, req.TableName) {
		return nil, fmt.Errorf("%w: id %d belongs to %s", ErrTableIDConflict, req.ID, t.info.FullName())
	}
	if !req.CreateIfNotExists {
		return nil, fmt.Errorf("%w: %s", ErrTableExists, req.FullName())
	}
	return t, nil
}

// Len returns the number of tables.
func (e *MemoryEngine) Len() int {
	return e.tables.Size()
}

func (e *MemoryEngine) Close() error {
	e.closed.Store(true)
	return nil
}

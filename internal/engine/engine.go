// Package engine defines the table engine contract used by the catalog to
// open and create tables, with in-memory and SQLite implementations.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/arkilian/catalog/pkg/types"
)

// Engine errors.
var (
	// ErrTableExists is returned by CreateTable when the table already exists
	// and CreateIfNotExists is false.
	ErrTableExists = errors.New("engine: table already exists")

	// ErrTableIDConflict is returned when an id is already used by a different table.
	ErrTableIDConflict = errors.New("engine: table id already in use")

	// ErrClosed is returned by a closed engine.
	ErrClosed = errors.New("engine: closed")

	// ErrInvalidTableName is returned for names that cannot address a table file.
	ErrInvalidTableName = errors.New("engine: invalid table name")
)

// Table is a live, engine-owned table handle.
type Table interface {
	// Info returns the table's identity and metadata.
	Info() *types.TableInfo
}

// EngineContext carries caller identity into engine calls.
type EngineContext struct {
	NodeID string
}

// OpenTableRequest identifies an existing table.
type OpenTableRequest struct {
	CatalogName string
	SchemaName  string
	TableName   string
	TableID     types.TableID
}

// CreateTableRequest describes a table to create.
type CreateTableRequest struct {
	ID                types.TableID
	CatalogName       string
	SchemaName        string
	TableName         string
	Desc              string
	Schema            types.Schema
	PrimaryKeyIndices []int
	CreateIfNotExists bool
	TableOptions      map[string]string
}

// FullName returns catalog.schema.table.
func (r *CreateTableRequest) FullName() string {
	return types.FullTableName(r.CatalogName, r.SchemaName, r.TableName)
}

// OpenRequest returns the request that opens the table r creates.
func (r *CreateTableRequest) OpenRequest() OpenTableRequest {
	return OpenTableRequest{
		CatalogName: r.CatalogName,
		SchemaName:  r.SchemaName,
		TableName:   r.TableName,
		TableID:     r.ID,
	}
}

// TableInfo builds the info of a freshly created table.
func (r *CreateTableRequest) TableInfo(engineName string) *types.TableInfo {
	return &types.TableInfo{
		Ident:       types.TableIdent{TableID: r.ID},
		Name:        r.TableName,
		CatalogName: r.CatalogName,
		SchemaName:  r.SchemaName,
		Desc:        r.Desc,
		Meta: types.TableMeta{
			Schema:            r.Schema,
			PrimaryKeyIndices: r.PrimaryKeyIndices,
			ValueIndices:      types.ValueIndicesFor(r.Schema, r.PrimaryKeyIndices),
			EngineName:        engineName,
			Options:           r.TableOptions,
			CreatedOn:         time.Now().UTC(),
		},
	}
}

// Validate checks the request can be materialized.
func (r *CreateTableRequest) Validate() error {
	if r.TableName == "" {
		return fmt.Errorf("engine: empty table name")
	}
	return r.Schema.Validate(r.PrimaryKeyIndices)
}

// TableEngine opens and creates tables.
type TableEngine interface {
	// Name identifies the engine in table metadata.
	Name() string

	// OpenTable returns the table, or nil with a nil error if it does not exist.
	OpenTable(ctx context.Context, ectx EngineContext, req OpenTableRequest) (Table, error)

	// CreateTable creates the table. If it already exists, CreateIfNotExists
	// decides between returning it and failing with ErrTableExists.
	CreateTable(ctx context.Context, ectx EngineContext, req CreateTableRequest) (Table, error)

	// Close releases every open table.
	Close() error
}

// sameTable reports whether info names the table req addresses.
func sameTable(info *types.TableInfo, catalog, schema, table string) bool {
	return info.CatalogName == catalog && info.SchemaName == schema && info.Name == table
}

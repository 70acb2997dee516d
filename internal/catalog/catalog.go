// Package catalog implements the three-level catalog → schema → table
// metadata manager on top of a shared KV backend.
//
// The KV backend is the source of truth for existence. The in-memory maps at
// each level only hold process-local handles for entities whose existence has
// been confirmed remotely.
package catalog

import (
	"context"
	"sort"

	"github.com/arkilian/catalog/internal/engine"
	"github.com/arkilian/catalog/pkg/types"
)

// CatalogList is the top level: catalog name → catalog provider.
type CatalogList interface {
	// CatalogNames lists the catalogs owned by this node.
	CatalogNames(ctx context.Context) ([]string, error)

	// Catalog returns the local handle of a catalog, or nil if the catalog
	// does not exist or has no local handle.
	Catalog(ctx context.Context, name string) (CatalogProvider, error)

	// RegisterCatalog persists the catalog and installs its handle. It
	// returns the previous handle if the catalog already existed.
	RegisterCatalog(ctx context.Context, name string, catalog CatalogProvider) (CatalogProvider, error)
}

// CatalogProvider is one catalog: schema name → schema provider.
type CatalogProvider interface {
	SchemaNames(ctx context.Context) ([]string, error)
	Schema(ctx context.Context, name string) (SchemaProvider, error)
	RegisterSchema(ctx context.Context, name string, schema SchemaProvider) (SchemaProvider, error)
}

// SchemaProvider is one schema: table name → table handle.
type SchemaProvider interface {
	TableNames(ctx context.Context) ([]string, error)

	// Table returns the local table handle, or nil if the table does not
	// exist or has no local handle.
	Table(ctx context.Context, name string) (engine.Table, error)

	// RegisterTable persists the table's value, derived from the handle's
	// own info, and installs the handle. It returns the previous handle if
	// the table already existed.
	RegisterTable(ctx context.Context, name string, table engine.Table) (engine.Table, error)

	// DeregisterTable deletes the table's key and returns the removed handle.
	DeregisterTable(ctx context.Context, name string) (engine.Table, error)

	TableExist(ctx context.Context, name string) (bool, error)
}

// CatalogManager owns the catalogs of one node, the table id allocator and
// the bootstrap sequence.
type CatalogManager interface {
	CatalogList

	// Start rebuilds the in-memory view from the backend and materializes
	// queued system tables. It must be called before any other operation.
	Start(ctx context.Context) error

	// NextTableID returns a fresh table id, strictly greater than every id
	// handed out or observed before.
	NextTableID() (types.TableID, error)

	// RegisterTable registers a table under its catalog and schema, which
	// default when empty. It returns the number of tables registered.
	RegisterTable(ctx context.Context, req RegisterTableRequest) (int, error)

	// RegisterSystemTable queues a system table for materialization during Start.
	RegisterSystemTable(ctx context.Context, req RegisterSystemTableRequest) error

	// Table resolves a table, defaulting empty catalog and schema names.
	Table(ctx context.Context, catalog, schema, name string) (engine.Table, error)
}

// RegisterTableRequest registers an already materialized table.
type RegisterTableRequest struct {
	CatalogName string
	SchemaName  string
	TableName   string
	TableID     types.TableID
	Table       engine.Table
}

// OpenHook runs against a system table once it has been materialized.
type OpenHook func(table engine.Table) error

// RegisterSystemTableRequest defers creation of a system table until Start.
type RegisterSystemTableRequest struct {
	CreateTableRequest engine.CreateTableRequest
	OpenHook           OpenHook
}

func defaultCatalog(name string) string {
	if name == "" {
		return types.DefaultCatalogName
	}
	return name
}

func defaultSchema(name string) string {
	if name == "" {
		return types.DefaultSchemaName
	}
	return name
}

// sortedNames returns the keys of a set in order.
func sortedNames(set map[string]struct{}) []string {
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

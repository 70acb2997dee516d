// Package types provides the identity and metadata types shared by the catalog,
// the key codec and the table engines.
package types

import (
	"fmt"
	"time"
)

// TableID identifies a table within one node's namespace.
type TableID = uint32

// MinTableID is the first id handed out by a node that has never seen a table.
const MinTableID TableID = 0

const (
	// DefaultCatalogName is used when a request does not name a catalog
	DefaultCatalogName = "default_catalog"

	// DefaultSchemaName is used when a request does not name a schema
	DefaultSchemaName = "default_schema"
)

// TableMeta is the engine-facing definition of a table.
type TableMeta struct {
	// Schema is the logical schema
	Schema Schema `json:"schema"`

	// PrimaryKeyIndices are positions into Schema.Columns
	PrimaryKeyIndices []int `json:"primary_key_indices"`

	// ValueIndices are the non primary key column positions
	ValueIndices []int `json:"value_indices,omitempty"`

	// EngineName names the engine that owns the table data
	EngineName string `json:"engine"`

	// Options are engine-specific table options
	Options map[string]string `json:"options,omitempty"`

	// CreatedOn is when the table was first created
	CreatedOn time.Time `json:"created_on"`
}

// TableIdent is the stable identity of a table.
type TableIdent struct {
	TableID TableID `json:"table_id"`
	Version uint64  `json:"version"`
}

// TableInfo describes a materialized table.
type TableInfo struct {
	Ident       TableIdent `json:"ident"`
	Name        string     `json:"name"`
	CatalogName string     `json:"catalog_name"`
	SchemaName  string     `json:"schema_name"`
	Desc        string     `json:"desc,omitempty"`
	Meta        TableMeta  `json:"meta"`
}

// FullName returns catalog.schema.table.
func (t *TableInfo) FullName() string {
	return FullTableName(t.CatalogName, t.SchemaName, t.Name)
}

// FullTableName joins the three name levels with dots.
func FullTableName(catalog, schema, table string) string {
	return fmt.Sprintf("%s.%s.%s", catalog, schema, table)
}

// ValueIndicesFor returns every column position that is not part of the primary key.
func ValueIndicesFor(schema Schema, primaryKeyIndices []int) []int {
	pk := make(map[int]struct{}, len(primaryKeyIndices))
	for _, i := range primaryKeyIndices {
		pk[i] = struct{}{}
	}
	var out []int
	for i := range schema.Columns {
		if _, ok := pk[i]; !ok {
			out = append(out, i)
		}
	}
	return out
}

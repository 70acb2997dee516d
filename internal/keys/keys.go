// Package keys encodes catalog, schema and table identities as ordered
// byte-string keys in the shared KV keyspace, and their values as
// checksummed payloads.
//
// Key layout:
//
//	__c-{catalog}-{node}
//	__s-{catalog}-{schema}-{node}
//	__t-{catalog}-{schema}-{table}-{node}
//
// Names may not contain the delimiter. The node id is always the last
// field, so it may.
package keys

import (
	"bytes"
	"strings"

	cerrors "github.com/arkilian/catalog/internal/errors"
)

const (
	delimiter = "-"

	catalogKeyPrefix = "__c"
	schemaKeyPrefix  = "__s"
	tableKeyPrefix   = "__t"
)

// CatalogKey identifies a catalog marker owned by one node.
type CatalogKey struct {
	CatalogName string
	NodeID      string
}

// SchemaKey identifies a schema marker owned by one node.
type SchemaKey struct {
	CatalogName string
	SchemaName  string
	NodeID      string
}

// TableKey identifies a table row owned by one node.
type TableKey struct {
	CatalogName string
	SchemaName  string
	TableName   string
	NodeID      string
}

func (k CatalogKey) String() string {
	return join(catalogKeyPrefix, k.CatalogName, k.NodeID)
}

func (k CatalogKey) Bytes() []byte { return []byte(k.String()) }

func (k SchemaKey) String() string {
	return join(schemaKeyPrefix, k.CatalogName, k.SchemaName, k.NodeID)
}

func (k SchemaKey) Bytes() []byte { return []byte(k.String()) }

func (k TableKey) String() string {
	return join(tableKeyPrefix, k.CatalogName, k.SchemaName, k.TableName, k.NodeID)
}

func (k TableKey) Bytes() []byte { return []byte(k.String()) }

// FullName returns catalog.schema.table.
func (k TableKey) FullName() string {
	return k.CatalogName + "." + k.SchemaName + "." + k.TableName
}

// CatalogPrefix selects every catalog key of every node.
func CatalogPrefix() []byte {
	return []byte(catalogKeyPrefix + delimiter)
}

// CatalogNamePrefix selects the keys of one catalog name across nodes.
func CatalogNamePrefix(catalog string) []byte {
	return []byte(join(catalogKeyPrefix, catalog) + delimiter)
}

// SchemaPrefix selects every schema key under a catalog.
func SchemaPrefix(catalog string) []byte {
	return []byte(join(schemaKeyPrefix, catalog) + delimiter)
}

// TablePrefix selects every table key under a schema.
func TablePrefix(catalog, schema string) []byte {
	return []byte(join(tableKeyPrefix, catalog, schema) + delimiter)
}

// PrefixEnd returns the smallest key greater than every key starting with
// prefix, or nil if no such key exists.
func PrefixEnd(prefix []byte) []byte {
	end := bytes.Clone(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

// ParseCatalogKey decodes a key produced by CatalogKey.Bytes.
func ParseCatalogKey(raw []byte) (CatalogKey, error) {
	fields, err := split(raw, catalogKeyPrefix, 2)
	if err != nil {
		return CatalogKey{}, err
	}
	return CatalogKey{CatalogName: fields[0], NodeID: fields[1]}, nil
}

// ParseSchemaKey decodes a key produced by SchemaKey.Bytes.
func ParseSchemaKey(raw []byte) (SchemaKey, error) {
	fields, err := split(raw, schemaKeyPrefix, 3)
	if err != nil {
		return SchemaKey{}, err
	}
	return SchemaKey{CatalogName: fields[0], SchemaName: fields[1], NodeID: fields[2]}, nil
}

// ParseTableKey decodes a key produced by TableKey.Bytes.
func ParseTableKey(raw []byte) (TableKey, error) {
	fields, err := split(raw, tableKeyPrefix, 4)
	if err != nil {
		return TableKey{}, err
	}
	return TableKey{CatalogName: fields[0], SchemaName: fields[1], TableName: fields[2], NodeID: fields[3]}, nil
}

// ValidateName rejects names that cannot be embedded in a key.
func ValidateName(kind, name string) error {
	if name == "" {
		return cerrors.InvalidName(kind, name, "must not be empty")
	}
	if strings.Contains(name, delimiter) {
		return cerrors.InvalidName(kind, name, "must not contain '"+delimiter+"'")
	}
	// Names also become directory and file names in file-backed engines.
	if name == "." || name == ".." {
		return cerrors.InvalidName(kind, name, "must not be a dot segment")
	}
	if strings.ContainsAny(name, "/\\\x00") {
		return cerrors.InvalidName(kind, name, "must not contain a path separator")
	}
	return nil
}

// ValidateNodeID rejects node ids that cannot be embedded in a key.
func ValidateNodeID(nodeID string) error {
	if nodeID == "" {
		return cerrors.InvalidName("node", nodeID, "must not be empty")
	}
	return nil
}

func join(parts ...string) string {
	return strings.Join(parts, delimiter)
}

// split strips the family prefix and returns exactly n non-empty fields.
// The last field absorbs any remaining delimiters.
func split(raw []byte, family string, n int) ([]string, error) {
	s := string(raw)
	head := family + delimiter
	if !strings.HasPrefix(s, head) {
		return nil, cerrors.KeyDecodeFailed(raw, "expected prefix "+head)
	}
	fields := strings.SplitN(s[len(head):], delimiter, n)
	if len(fields) != n {
		return nil, cerrors.KeyDecodeFailed(raw, "wrong number of fields")
	}
	for _, f := range fields {
		if f == "" {
			return nil, cerrors.KeyDecodeFailed(raw, "empty field")
		}
	}
	return fields, nil
}

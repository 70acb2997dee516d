package keys

import (
	"bytes"
	"strconv"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// genName produces names that are valid key fields.
func genName() gopter.Gen {
	return gen.Identifier().SuchThat(func(s string) bool { return s != "" })
}

// genNodeID produces node ids, which may contain the delimiter.
func genNodeID() gopter.Gen {
	return gen.OneGenOf(
		genName(),
		gopter.CombineGens(genName(), gen.IntRange(1, 65535)).Map(func(v []interface{}) string {
			return v[0].(string) + "-" + strconv.Itoa(v[1].(int))
		}),
	)
}

// TestProperty_KeyRoundTrip checks decode(encode(x)) == x for every key family.
func TestProperty_KeyRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("catalog keys round-trip", prop.ForAll(
		func(catalog, node string) bool {
			k := CatalogKey{CatalogName: catalog, NodeID: node}
			got, err := ParseCatalogKey(k.Bytes())
			return err == nil && got == k
		},
		genName(), genNodeID(),
	))

	properties.Property("schema keys round-trip", prop.ForAll(
		func(catalog, schema, node string) bool {
			k := SchemaKey{CatalogName: catalog, SchemaName: schema, NodeID: node}
			got, err := ParseSchemaKey(k.Bytes())
			return err == nil && got == k
		},
		genName(), genName(), genNodeID(),
	))

	properties.Property("table keys round-trip", prop.ForAll(
		func(catalog, schema, table, node string) bool {
			k := TableKey{CatalogName: catalog, SchemaName: schema, TableName: table, NodeID: node}
			got, err := ParseTableKey(k.Bytes())
			return err == nil && got == k
		},
		genName(), genName(), genName(), genNodeID(),
	))

	properties.TestingRun(t)
}

// TestProperty_PrefixContainment checks that encoded keys fall inside the
// range scanned for their parent.
func TestProperty_PrefixContainment(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("table keys start with their schema's table prefix", prop.ForAll(
		func(catalog, schema, table, node string) bool {
			key := TableKey{CatalogName: catalog, SchemaName: schema, TableName: table, NodeID: node}.Bytes()
			prefix := TablePrefix(catalog, schema)
			end := PrefixEnd(prefix)
			return bytes.HasPrefix(key, prefix) && bytes.Compare(key, end) < 0
		},
		genName(), genName(), genName(), genNodeID(),
	))

	properties.Property("schema keys start with their catalog's schema prefix", prop.ForAll(
		func(catalog, schema, node string) bool {
			key := SchemaKey{CatalogName: catalog, SchemaName: schema, NodeID: node}.Bytes()
			return bytes.HasPrefix(key, SchemaPrefix(catalog))
		},
		genName(), genName(), genNodeID(),
	))

	properties.Property("catalog keys start with the catalog prefix", prop.ForAll(
		func(catalog, node string) bool {
			key := CatalogKey{CatalogName: catalog, NodeID: node}.Bytes()
			return bytes.HasPrefix(key, CatalogPrefix()) && bytes.HasPrefix(key, CatalogNamePrefix(catalog))
		},
		genName(), genNodeID(),
	))

	properties.Property("table keys of one schema never match another schema's prefix", prop.ForAll(
		func(catalog, schema, other, table, node string) bool {
			if schema == other {
				return true
			}
			key := TableKey{CatalogName: catalog, SchemaName: schema, TableName: table, NodeID: node}.Bytes()
			return !bytes.HasPrefix(key, TablePrefix(catalog, other))
		},
		genName(), genName(), genName(), genName(), genNodeID(),
	))

	properties.TestingRun(t)
}

// TestProperty_TableValueRoundTrip checks the value envelope for ids and descriptions.
func TestProperty_TableValueRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("table values round-trip", prop.ForAll(
		func(id uint32, desc string) bool {
			in := testTableValue(2)
			in.ID = id
			in.Desc = desc
			raw, err := in.Bytes()
			if err != nil {
				return false
			}
			out, err := ParseTableValue(raw)
			return err == nil && out.ID == in.ID && out.Desc == in.Desc
		},
		gen.UInt32(), gen.AlphaString(),
	))

	properties.TestingRun(t)
}

package types

import "fmt"

// ColumnSchema defines a single column of a table's logical schema.
type ColumnSchema struct {
	// Name is the column name
	Name string `json:"name"`

	// DataType is the engine-neutral type name: STRING, INT64, UINT32, FLOAT64, BOOLEAN, BINARY, TIMESTAMP
	DataType string `json:"data_type"`

	// Nullable indicates whether the column can contain NULL values
	Nullable bool `json:"nullable"`

	// Default is an optional literal default value
	Default string `json:"default,omitempty"`
}

// Schema is the logical schema of a table.
type Schema struct {
	// Columns defines the columns in declaration order
	Columns []ColumnSchema `json:"columns"`

	// TimestampIndex points at the time index column, if any
	TimestampIndex *int `json:"timestamp_index,omitempty"`

	// Version tracks schema evolution
	Version uint32 `json:"version"`
}

// ColumnIndex returns the position of the named column, or -1.
func (s *Schema) ColumnIndex(name string) int {
	for i, c := range s.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Validate checks column names are unique and indices are in range.
func (s *Schema) Validate(primaryKeyIndices []int) error {
	if len(s.Columns) == 0 {
		return ErrEmptySchema
	}
	seen := make(map[string]struct{}, len(s.Columns))
	for _, c := range s.Columns {
		if c.Name == "" {
			return fmt.Errorf("%w: empty column name", ErrInvalidColumn)
		}
		if _, ok := seen[c.Name]; ok {
			return fmt.Errorf("%w: duplicate column %q", ErrInvalidColumn, c.Name)
		}
		seen[c.Name] = struct{}{}
	}
	for _, idx := range primaryKeyIndices {
		if idx < 0 || idx >= len(s.Columns) {
			return fmt.Errorf("%w: %d", ErrPrimaryKeyOutOfRange, idx)
		}
	}
	if s.TimestampIndex != nil && (*s.TimestampIndex < 0 || *s.TimestampIndex >= len(s.Columns)) {
		return fmt.Errorf("%w: timestamp index %d", ErrInvalidColumn, *s.TimestampIndex)
	}
	return nil
}

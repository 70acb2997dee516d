package types

import "errors"

// Schema validation errors
var (
	// ErrEmptySchema is returned when a table schema has no columns
	ErrEmptySchema = errors.New("schema has no columns")

	// ErrInvalidColumn is returned for empty or duplicate column names
	ErrInvalidColumn = errors.New("invalid column")

	// ErrPrimaryKeyOutOfRange is returned when a primary key index does not address a column
	ErrPrimaryKeyOutOfRange = errors.New("primary key index out of range")
)

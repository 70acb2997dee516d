// Package errors provides structured error types for the catalog service.
// All errors include a category, code, message, and retryable flag for
// consistent error handling across components.
package errors

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorCategory classifies errors by system component.
type ErrorCategory string

const (
	ErrCategoryCatalog    ErrorCategory = "CATALOG"
	ErrCategoryEngine     ErrorCategory = "ENGINE"
	ErrCategoryBackend    ErrorCategory = "BACKEND"
	ErrCategoryCodec      ErrorCategory = "CODEC"
	ErrCategoryValidation ErrorCategory = "VALIDATION"
	ErrCategoryInternal   ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Catalog codes
	CodeCatalogNotFound  = "CATALOG_NOT_FOUND"
	CodeSchemaNotFound   = "SCHEMA_NOT_FOUND"
	CodeTableExists      = "TABLE_EXISTS"
	CodeTableIDExhausted = "TABLE_ID_EXHAUSTED"

	// Engine codes
	CodeOpenTableFailed   = "OPEN_TABLE_FAILED"
	CodeCreateTableFailed = "CREATE_TABLE_FAILED"

	// Backend codes
	CodeBackendFailure = "BACKEND_FAILURE"

	// Codec codes
	CodeKeyDecodeFailed     = "KEY_DECODE_FAILED"
	CodeSerializationFailed = "SERIALIZATION_FAILED"

	// Validation codes
	CodeInvalidName = "INVALID_NAME"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// Sentinels for errors.Is. Any CatalogError with the same category and code matches.
var (
	ErrCatalogNotFound     = New(ErrCategoryCatalog, CodeCatalogNotFound, "catalog not found")
	ErrSchemaNotFound      = New(ErrCategoryCatalog, CodeSchemaNotFound, "schema not found")
	ErrTableExists         = New(ErrCategoryCatalog, CodeTableExists, "table exists")
	ErrTableIDExhausted    = New(ErrCategoryCatalog, CodeTableIDExhausted, "table id space exhausted")
	ErrOpenTableFailed     = New(ErrCategoryEngine, CodeOpenTableFailed, "open table failed")
	ErrCreateTableFailed   = New(ErrCategoryEngine, CodeCreateTableFailed, "create table failed")
	ErrBackendFailure      = New(ErrCategoryBackend, CodeBackendFailure, "backend failure")
	ErrKeyDecodeFailed     = New(ErrCategoryCodec, CodeKeyDecodeFailed, "key decode failed")
	ErrSerializationFailed = New(ErrCategoryCodec, CodeSerializationFailed, "serialization failed")
	ErrInvalidName         = New(ErrCategoryValidation, CodeInvalidName, "invalid name")
)

// CatalogError is the structured error type used throughout the system.
type CatalogError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *CatalogError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *CatalogError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *CatalogError) Is(target error) bool {
	var t *CatalogError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// GRPCStatus lets grpc-go derive the wire status from a CatalogError.
func (e *CatalogError) GRPCStatus() *status.Status {
	return status.New(e.grpcCode(), e.Error())
}

func (e *CatalogError) grpcCode() codes.Code {
	switch e.Code {
	case CodeCatalogNotFound, CodeSchemaNotFound:
		return codes.NotFound
	case CodeTableExists:
		return codes.AlreadyExists
	case CodeTableIDExhausted:
		return codes.ResourceExhausted
	case CodeBackendFailure:
		return codes.Unavailable
	case CodeKeyDecodeFailed, CodeSerializationFailed:
		return codes.DataLoss
	case CodeInvalidName:
		return codes.InvalidArgument
	default:
		return codes.Internal
	}
}

// New creates a new CatalogError.
func New(category ErrorCategory, code, message string) *CatalogError {
	return &CatalogError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new CatalogError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *CatalogError {
	return &CatalogError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *CatalogError) WithDetails(details map[string]interface{}) *CatalogError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var ce *CatalogError
	if errors.As(err, &ce) {
		return ce.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a CatalogError.
func GetCategory(err error) ErrorCategory {
	var ce *CatalogError
	if errors.As(err, &ce) {
		return ce.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a CatalogError.
func GetCode(err error) string {
	var ce *CatalogError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

// isRetryable reports whether a caller may retry the failed operation as-is.
// Only transport/storage failures of the KV backend qualify.
func isRetryable(category ErrorCategory, code string) bool {
	return category == ErrCategoryBackend && code == CodeBackendFailure
}

// Convenience constructors for the catalog error kinds.

func CatalogNotFound(catalog string) *CatalogError {
	return New(ErrCategoryCatalog, CodeCatalogNotFound, fmt.Sprintf("catalog not found: %s", catalog)).
		WithDetails(map[string]interface{}{"catalog": catalog})
}

func SchemaNotFound(catalog, schema string) *CatalogError {
	return New(ErrCategoryCatalog, CodeSchemaNotFound, fmt.Sprintf("schema not found: %s.%s", catalog, schema)).
		WithDetails(map[string]interface{}{"catalog": catalog, "schema": schema})
}

func TableExists(fullName string) *CatalogError {
	return New(ErrCategoryCatalog, CodeTableExists, fmt.Sprintf("table already exists: %s", fullName)).
		WithDetails(map[string]interface{}{"table": fullName})
}

// OpenTableFailed and CreateTableFailed carry "catalog.schema.table, id:N" as table info.
func OpenTableFailed(tableInfo string, cause error) *CatalogError {
	return Wrap(ErrCategoryEngine, CodeOpenTableFailed, fmt.Sprintf("failed to open table %s", tableInfo), cause).
		WithDetails(map[string]interface{}{"table_info": tableInfo})
}

func CreateTableFailed(tableInfo string, cause error) *CatalogError {
	return Wrap(ErrCategoryEngine, CodeCreateTableFailed, fmt.Sprintf("failed to create table %s", tableInfo), cause).
		WithDetails(map[string]interface{}{"table_info": tableInfo})
}

func KeyDecodeFailed(rawKey []byte, reason string) *CatalogError {
	return New(ErrCategoryCodec, CodeKeyDecodeFailed, fmt.Sprintf("invalid key %q: %s", rawKey, reason)).
		WithDetails(map[string]interface{}{"raw_key": string(rawKey)})
}

func SerializationFailed(message string, cause error) *CatalogError {
	return Wrap(ErrCategoryCodec, CodeSerializationFailed, message, cause)
}

func BackendFailure(op string, cause error) *CatalogError {
	return Wrap(ErrCategoryBackend, CodeBackendFailure, fmt.Sprintf("kv backend %s failed", op), cause).
		WithDetails(map[string]interface{}{"op": op})
}

// TableIDExhausted reports that no table id above lastID is left.
func TableIDExhausted(lastID uint32) *CatalogError {
	return New(ErrCategoryCatalog, CodeTableIDExhausted, fmt.Sprintf("table id space exhausted: last id %d", lastID)).
		WithDetails(map[string]interface{}{"last_table_id": lastID})
}

func InvalidName(kind, name, reason string) *CatalogError {
	return New(ErrCategoryValidation, CodeInvalidName, fmt.Sprintf("invalid %s name %q: %s", kind, name, reason))
}

func NewInternalError(message string, cause error) *CatalogError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}

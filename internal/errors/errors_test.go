package errors

import (
	"errors"
	"fmt"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestCatalogError_Error(t *testing.T) {
	err := New(ErrCategoryCatalog, CodeCatalogNotFound, "catalog not found")
	expected := "[CATALOG:CATALOG_NOT_FOUND] catalog not found"
	if err.Error() != expected {
		t.Errorf("got %q, want %q", err.Error(), expected)
	}
}

func TestCatalogError_ErrorWithCause(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := Wrap(ErrCategoryBackend, CodeBackendFailure, "set failed", cause)
	expected := "[BACKEND:BACKEND_FAILURE] set failed: connection refused"
	if err.Error() != expected {
		t.Errorf("got %q, want %q", err.Error(), expected)
	}
}

func TestCatalogError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("root cause")
	err := OpenTableFailed("c.s.t, id:3", cause)
	if !errors.Is(err, cause) {
		t.Error("Unwrap should allow errors.Is to find the cause")
	}
}

func TestCatalogError_Is(t *testing.T) {
	err1 := CatalogNotFound("a")
	err2 := CatalogNotFound("b")
	err3 := SchemaNotFound("a", "s")

	if !errors.Is(err1, err2) {
		t.Error("errors with same category+code should match via Is")
	}
	if errors.Is(err1, err3) {
		t.Error("errors with different codes should not match via Is")
	}
	if !errors.Is(err3, ErrSchemaNotFound) {
		t.Error("constructor result should match its sentinel")
	}
}

func TestCatalogError_IsThroughFmtWrap(t *testing.T) {
	err := fmt.Errorf("bootstrap: %w", TableExists("c.s.t"))
	if !errors.Is(err, ErrTableExists) {
		t.Error("sentinel should match through fmt.Errorf wrapping")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		category  ErrorCategory
		code      string
		retryable bool
	}{
		{ErrCategoryBackend, CodeBackendFailure, true},
		{ErrCategoryCatalog, CodeCatalogNotFound, false},
		{ErrCategoryCatalog, CodeSchemaNotFound, false},
		{ErrCategoryCatalog, CodeTableExists, false},
		{ErrCategoryEngine, CodeOpenTableFailed, false},
		{ErrCategoryEngine, CodeCreateTableFailed, false},
		{ErrCategoryCodec, CodeKeyDecodeFailed, false},
		{ErrCategoryCodec, CodeSerializationFailed, false},
		{ErrCategoryValidation, CodeInvalidName, false},
		{ErrCategoryInternal, CodeUnexpected, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%s", tt.category, tt.code), func(t *testing.T) {
			err := New(tt.category, tt.code, "test")
			if IsRetryable(err) != tt.retryable {
				t.Errorf("IsRetryable = %v, want %v", IsRetryable(err), tt.retryable)
			}
		})
	}
}

func TestIsRetryable_NonCatalogError(t *testing.T) {
	if IsRetryable(fmt.Errorf("plain error")) {
		t.Error("plain errors should not be retryable")
	}
}

func TestGetCategoryAndCode(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", BackendFailure("get", fmt.Errorf("io")))
	if got := GetCategory(err); got != ErrCategoryBackend {
		t.Errorf("GetCategory = %q, want %q", got, ErrCategoryBackend)
	}
	if got := GetCode(err); got != CodeBackendFailure {
		t.Errorf("GetCode = %q, want %q", got, CodeBackendFailure)
	}
	if GetCategory(fmt.Errorf("plain")) != "" || GetCode(fmt.Errorf("plain")) != "" {
		t.Error("non-catalog errors should yield empty category and code")
	}
}

func TestWithDetails_Copies(t *testing.T) {
	base := New(ErrCategoryCatalog, CodeTableExists, "exists")
	detailed := base.WithDetails(map[string]interface{}{"table": "t"})
	if base.Details != nil {
		t.Error("WithDetails should not mutate the receiver")
	}
	if detailed.Details["table"] != "t" {
		t.Errorf("details = %v", detailed.Details)
	}
}

func TestKeyDecodeFailed_CarriesRawKey(t *testing.T) {
	err := KeyDecodeFailed([]byte("__x-bad"), "unknown prefix")
	if err.Details["raw_key"] != "__x-bad" {
		t.Errorf("raw_key detail = %v", err.Details["raw_key"])
	}
}

func TestGRPCStatus(t *testing.T) {
	tests := []struct {
		err  *CatalogError
		code codes.Code
	}{
		{CatalogNotFound("c"), codes.NotFound},
		{SchemaNotFound("c", "s"), codes.NotFound},
		{TableExists("c.s.t"), codes.AlreadyExists},
		{TableIDExhausted(4294967295), codes.ResourceExhausted},
		{BackendFailure("set", fmt.Errorf("down")), codes.Unavailable},
		{KeyDecodeFailed([]byte("k"), "bad"), codes.DataLoss},
		{SerializationFailed("bad checksum", nil), codes.DataLoss},
		{InvalidName("table", "a-b", "contains '-'"), codes.InvalidArgument},
		{CreateTableFailed("c.s.t, id:1", fmt.Errorf("disk")), codes.Internal},
		{NewInternalError("boom", nil), codes.Internal},
	}

	for _, tt := range tests {
		t.Run(tt.err.Code, func(t *testing.T) {
			st, ok := status.FromError(tt.err)
			if !ok {
				t.Fatal("status.FromError should recognise GRPCStatus")
			}
			if st.Code() != tt.code {
				t.Errorf("code = %v, want %v", st.Code(), tt.code)
			}
		})
	}
}

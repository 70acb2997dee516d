package grpc

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/arkilian/catalog/internal/catalog"
	cerrors "github.com/arkilian/catalog/internal/errors"
	"github.com/arkilian/catalog/pkg/types"
)

// CatalogServer implements CatalogServiceServer over a catalog manager.
type CatalogServer struct {
	manager *catalog.Manager
	logger  *zap.Logger
}

var _ CatalogServiceServer = (*CatalogServer)(nil)

// NewCatalogServer creates a new gRPC catalog server.
func NewCatalogServer(manager *catalog.Manager, logger *zap.Logger) *CatalogServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CatalogServer{manager: manager, logger: logger}
}

// ListCatalogs returns this node's catalog names.
func (s *CatalogServer) ListCatalogs(ctx context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	names, err := s.manager.CatalogNames(ctx)
	if err != nil {
		return nil, err
	}
	return stringList(names)
}

// ListSchemas returns the schema names of one catalog; empty means the default catalog.
func (s *CatalogServer) ListSchemas(ctx context.Context, req *wrapperspb.StringValue) (*structpb.ListValue, error) {
	name := req.GetValue()
	if name == "" {
		name = types.DefaultCatalogName
	}
	provider, err := s.manager.Catalog(ctx, name)
	if err != nil {
		return nil, err
	}
	if provider == nil {
		return nil, cerrors.CatalogNotFound(name)
	}
	names, err := provider.SchemaNames(ctx)
	if err != nil {
		return nil, err
	}
	return stringList(names)
}

// ListTables returns the table names of {catalog, schema}.
func (s *CatalogServer) ListTables(ctx context.Context, req *structpb.Struct) (*structpb.ListValue, error) {
	ref := tableRefFrom(req)
	schema, err := s.manager.Schema(ctx, ref.catalog, ref.schema)
	if err != nil {
		return nil, err
	}
	names, err := schema.TableNames(ctx)
	if err != nil {
		return nil, err
	}
	return stringList(names)
}

// GetTable returns the info of {catalog, schema, table}.
func (s *CatalogServer) GetTable(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	ref := tableRefFrom(req)
	if ref.table == "" {
		return nil, status.Error(codes.InvalidArgument, "table is required")
	}
	table, err := s.manager.Table(ctx, ref.catalog, ref.schema, ref.table)
	if err != nil {
		return nil, err
	}
	if table == nil {
		return nil, status.Errorf(codes.NotFound, "table not found: %s", types.FullTableName(ref.catalog, ref.schema, ref.table))
	}
	return tableInfoStruct(table.Info())
}

// TableExists reports whether {catalog, schema, table} exists on the backend.
func (s *CatalogServer) TableExists(ctx context.Context, req *structpb.Struct) (*wrapperspb.BoolValue, error) {
	ref := tableRefFrom(req)
	if ref.table == "" {
		return nil, status.Error(codes.InvalidArgument, "table is required")
	}
	schema, err := s.manager.Schema(ctx, ref.catalog, ref.schema)
	if err != nil {
		return nil, err
	}
	exists, err := schema.TableExist(ctx, ref.table)
	if err != nil {
		return nil, err
	}
	return wrapperspb.Bool(exists), nil
}

// NextTableID allocates a table id.
func (s *CatalogServer) NextTableID(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.UInt32Value, error) {
	id, err := s.manager.NextTableID()
	if err != nil {
		return nil, err
	}
	s.logger.Info("allocated table id",
		zap.Uint32("table_id", id),
		zap.String("request_id", extractRequestID(ctx)))
	return wrapperspb.UInt32(id), nil
}

// UnaryLoggingInterceptor logs failed calls with their request id.
func UnaryLoggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		resp, err := handler(ctx, req)
		if err != nil {
			logger.Warn("grpc call failed",
				zap.String("method", info.FullMethod),
				zap.String("request_id", extractRequestID(ctx)),
				zap.String("code", status.Code(err).String()),
				zap.Error(err))
		}
		return resp, err
	}
}

type tableRef struct {
	catalog, schema, table string
}

// tableRefFrom reads {catalog, schema, table} string fields, defaulting the
// first two.
func tableRefFrom(req *structpb.Struct) tableRef {
	fields := req.GetFields()
	ref := tableRef{
		catalog: fields["catalog"].GetStringValue(),
		schema:  fields["schema"].GetStringValue(),
		table:   fields["table"].GetStringValue(),
	}
	if ref.catalog == "" {
		ref.catalog = types.DefaultCatalogName
	}
	if ref.schema == "" {
		ref.schema = types.DefaultSchemaName
	}
	return ref
}

// TableRef builds the request struct naming a table.
func TableRef(catalogName, schemaName, tableName string) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"catalog": structpb.NewStringValue(catalogName),
		"schema":  structpb.NewStringValue(schemaName),
		"table":   structpb.NewStringValue(tableName),
	}}
}

func stringList(names []string) (*structpb.ListValue, error) {
	values := make([]interface{}, len(names))
	for i, n := range names {
		values[i] = n
	}
	return structpb.NewList(values)
}

// tableInfoStruct converts table info through its JSON form.
func tableInfoStruct(info *types.TableInfo) (*structpb.Struct, error) {
	raw, err := json.Marshal(info)
	if err != nil {
		return nil, cerrors.SerializationFailed("encode table info", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, cerrors.SerializationFailed("decode table info", err)
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, cerrors.SerializationFailed("build table info struct", err)
	}
	return out, nil
}

// extractRequestID extracts or generates a request ID from the gRPC context.
func extractRequestID(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if ids := md.Get("x-request-id"); len(ids) > 0 {
			return ids[0]
		}
	}
	return uuid.New().String()
}

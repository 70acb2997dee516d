package grpc

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/arkilian/catalog/internal/catalog"
	"github.com/arkilian/catalog/internal/engine"
	"github.com/arkilian/catalog/internal/kv"
	"github.com/arkilian/catalog/pkg/types"
)

func setupServer(t *testing.T) (*CatalogServiceClient, *catalog.Manager) {
	t.Helper()
	ctx := context.Background()

	m, err := catalog.NewManager(engine.NewMemoryEngine(), "node-a", kv.NewMemoryBackend())
	require.NoError(t, err)
	require.NoError(t, m.RegisterSystemTable(ctx, catalog.RegisterSystemTableRequest{
		CreateTableRequest: engine.CreateTableRequest{
			ID:        42,
			TableName: "scripts",
			Schema: types.Schema{Columns: []types.ColumnSchema{
				{Name: "name", DataType: "STRING"},
				{Name: "body", DataType: "STRING"},
			}},
			PrimaryKeyIndices: []int{0},
		},
	}))
	require.NoError(t, m.Start(ctx))

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.UnaryInterceptor(UnaryLoggingInterceptor(zap.NewNop())))
	RegisterCatalogServiceServer(srv, NewCatalogServer(m, zap.NewNop()))
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return NewCatalogServiceClient(conn), m
}

func listStrings(t *testing.T, values []interface{}) []string {
	t.Helper()
	out := make([]string, len(values))
	for i, v := range values {
		s, ok := v.(string)
		require.True(t, ok)
		out[i] = s
	}
	return out
}

func TestCatalogService_List(t *testing.T) {
	client, _ := setupServer(t)
	ctx := context.Background()

	catalogs, err := client.ListCatalogs(ctx, &emptypb.Empty{})
	require.NoError(t, err)
	assert.Equal(t, []string{types.DefaultCatalogName}, listStrings(t, catalogs.AsSlice()))

	schemas, err := client.ListSchemas(ctx, wrapperspb.String(""))
	require.NoError(t, err)
	assert.Equal(t, []string{types.DefaultSchemaName}, listStrings(t, schemas.AsSlice()))

	tables, err := client.ListTables(ctx, TableRef("", "", ""))
	require.NoError(t, err)
	assert.Equal(t, []string{"scripts"}, listStrings(t, tables.AsSlice()))
}

func TestCatalogService_GetTable(t *testing.T) {
	client, _ := setupServer(t)
	ctx := context.Background()

	info, err := client.GetTable(ctx, TableRef(types.DefaultCatalogName, types.DefaultSchemaName, "scripts"))
	require.NoError(t, err)
	assert.Equal(t, "scripts", info.GetFields()["name"].GetStringValue())
	ident := info.GetFields()["ident"].GetStructValue()
	assert.Equal(t, float64(42), ident.GetFields()["table_id"].GetNumberValue())

	_, err = client.GetTable(ctx, TableRef("", "", "missing"))
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = client.GetTable(ctx, TableRef("", "", ""))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestCatalogService_ErrorCodes(t *testing.T) {
	client, _ := setupServer(t)
	ctx := context.Background()

	_, err := client.ListSchemas(ctx, wrapperspb.String("missing"))
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = client.ListTables(ctx, TableRef("", "missing", ""))
	assert.Equal(t, codes.NotFound, status.Code(err))
	assert.Contains(t, status.Convert(err).Message(), "SCHEMA_NOT_FOUND")

	_, err = client.TableExists(ctx, TableRef("", "", "scripts-node"))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestCatalogService_TableExistsAndNextTableID(t *testing.T) {
	client, m := setupServer(t)
	ctx := context.Background()

	exists, err := client.TableExists(ctx, TableRef("", "", "scripts"))
	require.NoError(t, err)
	assert.True(t, exists.GetValue())

	exists, err = client.TableExists(ctx, TableRef("", "", "other"))
	require.NoError(t, err)
	assert.False(t, exists.GetValue())

	first, err := client.NextTableID(ctx, &emptypb.Empty{})
	require.NoError(t, err)
	second, err := client.NextTableID(ctx, &emptypb.Empty{})
	require.NoError(t, err)
	assert.Equal(t, first.GetValue()+1, second.GetValue())
	next, err := m.NextTableID()
	require.NoError(t, err)
	assert.Equal(t, second.GetValue()+1, next)
}

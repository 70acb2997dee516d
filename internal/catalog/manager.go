package catalog

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/arkilian/catalog/internal/engine"
	cerrors "github.com/arkilian/catalog/internal/errors"
	"github.com/arkilian/catalog/internal/keys"
	"github.com/arkilian/catalog/internal/kv"
	"github.com/arkilian/catalog/internal/metrics"
	"github.com/arkilian/catalog/pkg/types"
)

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mt
	}
}

// WithConditionalWrites makes registrations use PutIfAbsent, so two nodes
// racing on one name cannot both win. The backend must implement
// kv.ConditionalBackend.
func WithConditionalWrites() Option {
	return func(m *Manager) {
		m.conditionalWrites = true
	}
}

// Manager is the KV-backed CatalogManager of one node.
type Manager struct {
	nodeID            string
	backend           kv.Backend
	engine            engine.TableEngine
	logger            *zap.Logger
	metrics           *metrics.Metrics
	conditionalWrites bool
	env               *remoteEnv

	mu       sync.RWMutex
	catalogs map[string]CatalogProvider

	// nextTableID is one past MaxUint32 once the id space is used up.
	nextTableID atomic.Uint64

	systemMu            sync.Mutex
	systemTableRequests []RegisterSystemTableRequest
}

var _ CatalogManager = (*Manager)(nil)

// NewManager creates a manager for nodeID. Call Start before using it.
func NewManager(tableEngine engine.TableEngine, nodeID string, backend kv.Backend, opts ...Option) (*Manager, error) {
	if err := keys.ValidateNodeID(nodeID); err != nil {
		return nil, err
	}
	m := &Manager{
		nodeID:   nodeID,
		backend:  backend,
		engine:   tableEngine,
		logger:   zap.NewNop(),
		catalogs: make(map[string]CatalogProvider),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.env = &remoteEnv{backend: backend, nodeID: nodeID, logger: m.logger}
	if m.conditionalWrites {
		cb, ok := backend.(kv.ConditionalBackend)
		if !ok {
			return nil, fmt.Errorf("catalog: backend %T does not support conditional writes", backend)
		}
		m.env.conditional = cb
	}
	return m, nil
}

// NodeID returns the node identity embedded in every key.
func (m *Manager) NodeID() string { return m.nodeID }

// Engine returns the table engine.
func (m *Manager) Engine() engine.TableEngine { return m.engine }

// NewCatalogProvider returns a KV-backed catalog handle for name.
func (m *Manager) NewCatalogProvider(name string) *RemoteCatalogProvider {
	return newRemoteCatalogProvider(name, m.env)
}

// NewSchemaProvider returns a KV-backed schema handle.
func (m *Manager) NewSchemaProvider(catalog, schema string) *RemoteSchemaProvider {
	return newRemoteSchemaProvider(catalog, schema, m.env)
}

func (m *Manager) catalogKey(name string) (keys.CatalogKey, error) {
	if err := keys.ValidateName("catalog", name); err != nil {
		return keys.CatalogKey{}, err
	}
	return keys.CatalogKey{CatalogName: name, NodeID: m.nodeID}, nil
}

// Start bootstraps the manager from the backend, then materializes the
// queued system tables. It is safe to call again.
func (m *Manager) Start(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { m.metrics.ObserveCatalogOp("start", start, err) }()

	catalogs, maxTableID, err := m.initiateCatalogs(ctx)
	if err != nil {
		return err
	}

	next := uint64(types.MinTableID)
	if maxTableID != nil {
		if *maxTableID == math.MaxUint32 {
			return cerrors.TableIDExhausted(*maxTableID)
		}
		next = uint64(*maxTableID) + 1
		m.logger.Info("max table id allocated", zap.Uint32("table_id", *maxTableID))
	} else {
		m.logger.Info("no table found on backend", zap.Uint64("next_table_id", next))
	}

	m.mu.Lock()
	m.catalogs = catalogs
	m.mu.Unlock()
	m.nextTableID.Store(next)
	m.metrics.SetNextTableID(next)

	if err := m.handleSystemTableRequests(ctx); err != nil {
		return err
	}
	m.logger.Info("all system tables opened")
	return nil
}

// initiateCatalogs rebuilds the catalog map from the backend. The max table
// id is nil if no table of this node was seen.
func (m *Manager) initiateCatalogs(ctx context.Context) (map[string]CatalogProvider, *types.TableID, error) {
	start := time.Now()

	defaultCatalog, err := m.initiateDefaultCatalog(ctx)
	if err != nil {
		return nil, nil, err
	}
	m.logger.Info("default catalog and schema registered")

	res := map[string]CatalogProvider{types.DefaultCatalogName: defaultCatalog}
	var maxTableID *types.TableID
	var schemaCount, tableCount int

	for entry, err := range m.backend.Range(ctx, keys.CatalogPrefix()) {
		if err != nil {
			return nil, nil, backendErr("range", err)
		}
		catalogKey, err := keys.ParseCatalogKey(entry.Key)
		if err != nil {
			return nil, nil, err
		}
		if catalogKey.NodeID != m.nodeID {
			continue
		}
		catalogName := catalogKey.CatalogName

		provider, ok := res[catalogName]
		if !ok {
			provider = m.NewCatalogProvider(catalogName)
			res[catalogName] = provider
		}
		catalog := provider.(*RemoteCatalogProvider)
		m.logger.Info("found catalog", zap.String("catalog", catalogName))

		for entry, err := range m.backend.Range(ctx, keys.SchemaPrefix(catalogName)) {
			if err != nil {
				return nil, nil, backendErr("range", err)
			}
			schemaKey, err := keys.ParseSchemaKey(entry.Key)
			if err != nil {
				return nil, nil, err
			}
			if schemaKey.NodeID != m.nodeID {
				continue
			}
			schemaName := schemaKey.SchemaName

			schema, _ := catalog.localSchema(schemaName).(*RemoteSchemaProvider)
			if schema == nil {
				schema = m.NewSchemaProvider(catalogName, schemaName)
				if _, err := catalog.RegisterSchema(ctx, schemaName, schema); err != nil {
					return nil, nil, err
				}
			}
			schemaCount++
			m.logger.Info("found schema", zap.String("catalog", catalogName), zap.String("schema", schemaName))

			for entry, err := range m.backend.Range(ctx, keys.TablePrefix(catalogName, schemaName)) {
				if err != nil {
					return nil, nil, backendErr("range", err)
				}
				tableKey, err := keys.ParseTableKey(entry.Key)
				if err != nil {
					return nil, nil, err
				}
				if tableKey.NodeID != m.nodeID {
					continue
				}
				tableValue, err := keys.ParseTableValue(entry.Value)
				if err != nil {
					return nil, nil, err
				}

				table, err := m.openOrCreateTable(ctx, tableKey, tableValue)
				if err != nil {
					return nil, nil, err
				}
				if _, err := schema.attachTable(ctx, tableKey.TableName, table); err != nil {
					return nil, nil, err
				}
				tableCount++
				m.logger.Info("table registered",
					zap.String("table", tableKey.FullName()),
					zap.Uint32("table_id", tableValue.ID))

				if maxTableID == nil || tableValue.ID > *maxTableID {
					id := tableValue.ID
					maxTableID = &id
				}
			}
		}
	}

	m.metrics.ObserveBootstrap(start, len(res), schemaCount, tableCount)
	return res, maxTableID, nil
}

// initiateDefaultCatalog unconditionally rewrites the default catalog and
// schema markers and returns a fresh default catalog handle.
func (m *Manager) initiateDefaultCatalog(ctx context.Context) (*RemoteCatalogProvider, error) {
	defaultCatalog := m.NewCatalogProvider(types.DefaultCatalogName)
	defaultSchema := m.NewSchemaProvider(types.DefaultCatalogName, types.DefaultSchemaName)

	schemaValue, err := keys.SchemaValue{}.Bytes()
	if err != nil {
		return nil, err
	}
	schemaKey := keys.SchemaKey{CatalogName: types.DefaultCatalogName, SchemaName: types.DefaultSchemaName, NodeID: m.nodeID}
	if err := m.env.set(ctx, schemaKey.Bytes(), schemaValue); err != nil {
		return nil, err
	}
	m.logger.Info("registered default schema")

	catalogValue, err := keys.CatalogValue{}.Bytes()
	if err != nil {
		return nil, err
	}
	catalogKey := keys.CatalogKey{CatalogName: types.DefaultCatalogName, NodeID: m.nodeID}
	if err := m.env.set(ctx, catalogKey.Bytes(), catalogValue); err != nil {
		return nil, err
	}
	m.logger.Info("registered default catalog")

	defaultCatalog.mu.Lock()
	defaultCatalog.schemas[types.DefaultSchemaName] = defaultSchema
	defaultCatalog.mu.Unlock()
	return defaultCatalog, nil
}

// openOrCreateTable attaches to the engine's table for a persisted row,
// creating it from the row's metadata if the engine does not have it.
func (m *Manager) openOrCreateTable(ctx context.Context, key keys.TableKey, value keys.TableValue) (engine.Table, error) {
	tableInfo := fmt.Sprintf("%s, id:%d", key.FullName(), value.ID)
	ectx := engine.EngineContext{NodeID: m.nodeID}

	table, err := m.engine.OpenTable(ctx, ectx, engine.OpenTableRequest{
		CatalogName: key.CatalogName,
		SchemaName:  key.SchemaName,
		TableName:   key.TableName,
		TableID:     value.ID,
	})
	m.metrics.ObserveEngineOp(m.engine.Name(), "open", err)
	if err != nil {
		return nil, cerrors.OpenTableFailed(tableInfo, err)
	}
	if table != nil {
		return table, nil
	}

	m.logger.Info("table not found in engine, creating", zap.String("table", tableInfo))
	table, err = m.engine.CreateTable(ctx, ectx, engine.CreateTableRequest{
		ID:                value.ID,
		CatalogName:       key.CatalogName,
		SchemaName:        key.SchemaName,
		TableName:         key.TableName,
		Desc:              value.Desc,
		Schema:            value.Meta.Schema,
		PrimaryKeyIndices: value.Meta.PrimaryKeyIndices,
		CreateIfNotExists: true,
		TableOptions:      value.Meta.Options,
	})
	m.metrics.ObserveEngineOp(m.engine.Name(), "create", err)
	if err != nil {
		return nil, cerrors.CreateTableFailed(tableInfo, err)
	}
	return table, nil
}

// NextTableID returns the current counter value and advances it. Once
// math.MaxUint32 has been handed out it fails with TABLE_ID_EXHAUSTED.
func (m *Manager) NextTableID() (types.TableID, error) {
	for {
		next := m.nextTableID.Load()
		if next > math.MaxUint32 {
			return 0, cerrors.TableIDExhausted(math.MaxUint32)
		}
		if m.nextTableID.CompareAndSwap(next, next+1) {
			m.metrics.SetNextTableID(next + 1)
			return types.TableID(next), nil
		}
	}
}

// RegisterTable registers a materialized table. It fails with TABLE_EXISTS
// if the schema already has a table of that name.
func (m *Manager) RegisterTable(ctx context.Context, req RegisterTableRequest) (n int, err error) {
	start := time.Now()
	defer func() { m.metrics.ObserveCatalogOp("register_table", start, err) }()

	if req.Table == nil {
		return 0, cerrors.NewInternalError("register table: nil table handle", nil)
	}
	catalogName := defaultCatalog(req.CatalogName)
	schemaName := defaultSchema(req.SchemaName)
	schema, err := m.Schema(ctx, catalogName, schemaName)
	if err != nil {
		return 0, err
	}

	exists, err := schema.TableExist(ctx, req.TableName)
	if err != nil {
		return 0, err
	}
	if exists {
		return 0, cerrors.TableExists(types.FullTableName(catalogName, schemaName, req.TableName))
	}
	if _, err := schema.RegisterTable(ctx, req.TableName, req.Table); err != nil {
		return 0, err
	}
	m.logger.Info("registered table",
		zap.String("table", types.FullTableName(catalogName, schemaName, req.TableName)),
		zap.Uint32("table_id", req.Table.Info().Ident.TableID))
	return 1, nil
}

// DeregisterTable removes a table from its schema and the backend.
func (m *Manager) DeregisterTable(ctx context.Context, catalog, schema, name string) (table engine.Table, err error) {
	start := time.Now()
	defer func() { m.metrics.ObserveCatalogOp("deregister_table", start, err) }()

	provider, err := m.Schema(ctx, defaultCatalog(catalog), defaultSchema(schema))
	if err != nil {
		return nil, err
	}
	return provider.DeregisterTable(ctx, name)
}

// RegisterSystemTable queues a system table; it is created during Start.
func (m *Manager) RegisterSystemTable(ctx context.Context, req RegisterSystemTableRequest) error {
	m.systemMu.Lock()
	defer m.systemMu.Unlock()
	m.systemTableRequests = append(m.systemTableRequests, req)
	return nil
}

// PendingSystemTables returns the number of queued system tables.
func (m *Manager) PendingSystemTables() int {
	m.systemMu.Lock()
	defer m.systemMu.Unlock()
	return len(m.systemTableRequests)
}

// handleSystemTableRequests drains the queue in submission order. A failed
// request stays queued, along with every request after it.
func (m *Manager) handleSystemTableRequests(ctx context.Context) error {
	m.systemMu.Lock()
	defer m.systemMu.Unlock()

	for len(m.systemTableRequests) > 0 {
		if err := m.handleSystemTableRequest(ctx, m.systemTableRequests[0]); err != nil {
			return err
		}
		m.systemTableRequests = m.systemTableRequests[1:]
		m.metrics.IncSystemTables()
	}
	m.systemTableRequests = nil
	return nil
}

func (m *Manager) handleSystemTableRequest(ctx context.Context, req RegisterSystemTableRequest) error {
	create := req.CreateTableRequest
	create.CatalogName = defaultCatalog(create.CatalogName)
	create.SchemaName = defaultSchema(create.SchemaName)
	if err := keys.ValidateName("table", create.TableName); err != nil {
		return err
	}
	key := keys.TableKey{
		CatalogName: create.CatalogName,
		SchemaName:  create.SchemaName,
		TableName:   create.TableName,
		NodeID:      m.nodeID,
	}
	tableInfo := fmt.Sprintf("%s, id:%d", key.FullName(), create.ID)
	ectx := engine.EngineContext{NodeID: m.nodeID}

	table, err := m.engine.OpenTable(ctx, ectx, create.OpenRequest())
	m.metrics.ObserveEngineOp(m.engine.Name(), "open", err)
	if err != nil {
		return cerrors.OpenTableFailed(tableInfo, err)
	}
	if table == nil {
		create.CreateIfNotExists = true
		table, err = m.engine.CreateTable(ctx, ectx, create)
		m.metrics.ObserveEngineOp(m.engine.Name(), "create", err)
		if err != nil {
			return cerrors.CreateTableFailed(tableInfo, err)
		}
	}

	schema, err := m.Schema(ctx, create.CatalogName, create.SchemaName)
	if err != nil {
		return err
	}
	exists, err := schema.TableExist(ctx, create.TableName)
	if err != nil {
		return err
	}
	if !exists {
		if _, err := m.RegisterTable(ctx, RegisterTableRequest{
			CatalogName: create.CatalogName,
			SchemaName:  create.SchemaName,
			TableName:   create.TableName,
			TableID:     create.ID,
			Table:       table,
		}); err != nil {
			return err
		}
	}

	if req.OpenHook != nil {
		if err := req.OpenHook(table); err != nil {
			return fmt.Errorf("system table %s: open hook: %w", key.FullName(), err)
		}
	}
	m.logger.Info("system table opened", zap.String("table", tableInfo))
	return nil
}

// Table resolves a table by name. It returns nil, nil if the schema exists
// but the table does not.
func (m *Manager) Table(ctx context.Context, catalog, schema, name string) (table engine.Table, err error) {
	start := time.Now()
	defer func() { m.metrics.ObserveCatalogOp("table", start, err) }()

	provider, err := m.Schema(ctx, defaultCatalog(catalog), defaultSchema(schema))
	if err != nil {
		return nil, err
	}
	return provider.Table(ctx, name)
}

// Schema resolves a schema, failing with CATALOG_NOT_FOUND or SCHEMA_NOT_FOUND.
func (m *Manager) Schema(ctx context.Context, catalog, schema string) (SchemaProvider, error) {
	catalogProvider, err := m.Catalog(ctx, catalog)
	if err != nil {
		return nil, err
	}
	if catalogProvider == nil {
		return nil, cerrors.CatalogNotFound(catalog)
	}
	schemaProvider, err := catalogProvider.Schema(ctx, schema)
	if err != nil {
		return nil, err
	}
	if schemaProvider == nil {
		return nil, cerrors.SchemaNotFound(catalog, schema)
	}
	return schemaProvider, nil
}

// CatalogNames lists this node's catalogs from the backend.
func (m *Manager) CatalogNames(ctx context.Context) ([]string, error) {
	names := make(map[string]struct{})
	for entry, err := range m.backend.Range(ctx, keys.CatalogPrefix()) {
		if err != nil {
			return nil, backendErr("range", err)
		}
		key, err := keys.ParseCatalogKey(entry.Key)
		if err != nil {
			return nil, err
		}
		if key.NodeID == m.nodeID {
			names[key.CatalogName] = struct{}{}
		}
	}
	return sortedNames(names), nil
}

// Catalog returns the local handle of a catalog whose key exists remotely.
func (m *Manager) Catalog(ctx context.Context, name string) (CatalogProvider, error) {
	key, err := m.catalogKey(name)
	if err != nil {
		return nil, err
	}
	found, err := m.env.exists(ctx, key.Bytes())
	if err != nil || !found {
		return nil, err
	}

	m.mu.RLock()
	catalog, ok := m.catalogs[name]
	m.mu.RUnlock()
	if !ok {
		m.logger.Debug("catalog exists remotely but has no local handle", zap.String("key", key.String()))
		return nil, nil
	}
	return catalog, nil
}

// RegisterCatalog writes the catalog marker, then installs the handle.
func (m *Manager) RegisterCatalog(ctx context.Context, name string, catalog CatalogProvider) (prev CatalogProvider, err error) {
	start := time.Now()
	defer func() { m.metrics.ObserveCatalogOp("register_catalog", start, err) }()

	catalogKey, err := m.catalogKey(name)
	if err != nil {
		return nil, err
	}
	key := catalogKey.Bytes()
	existed, err := m.env.exists(ctx, key)
	if err != nil {
		return nil, err
	}
	value, err := keys.CatalogValue{}.Bytes()
	if err != nil {
		return nil, err
	}
	if _, err := m.env.put(ctx, key, value); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	prev = m.catalogs[name]
	m.catalogs[name] = catalog
	if !existed {
		return nil, nil
	}
	return prev, nil
}

// backendErr wraps a raw backend failure, leaving catalog errors untouched.
func backendErr(op string, err error) error {
	var ce *cerrors.CatalogError
	if errors.As(err, &ce) {
		return err
	}
	return cerrors.BackendFailure(op, err)
}

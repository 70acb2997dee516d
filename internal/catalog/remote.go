package catalog

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/arkilian/catalog/internal/engine"
	cerrors "github.com/arkilian/catalog/internal/errors"
	"github.com/arkilian/catalog/internal/keys"
	"github.com/arkilian/catalog/internal/kv"
)

// remoteEnv is what every KV-backed provider shares with its manager.
type remoteEnv struct {
	backend kv.Backend
	nodeID  string
	logger  *zap.Logger

	// conditional is set when registrations must not overwrite existing keys.
	conditional kv.ConditionalBackend
}

func (e *remoteEnv) exists(ctx context.Context, key []byte) (bool, error) {
	_, found, err := e.backend.Get(ctx, key)
	if err != nil {
		return false, backendErr("get", err)
	}
	return found, nil
}

// put writes value under key. In conditional mode it only writes absent keys
// and reports whether it did.
func (e *remoteEnv) put(ctx context.Context, key, value []byte) (bool, error) {
	if e.conditional != nil {
		ok, err := e.conditional.PutIfAbsent(ctx, key, value)
		if err != nil {
			return false, backendErr("put_if_absent", err)
		}
		return ok, nil
	}
	if err := e.backend.Set(ctx, key, value); err != nil {
		return false, backendErr("set", err)
	}
	return true, nil
}

func (e *remoteEnv) set(ctx context.Context, key, value []byte) error {
	if err := e.backend.Set(ctx, key, value); err != nil {
		return backendErr("set", err)
	}
	return nil
}

// RemoteCatalogProvider is a catalog whose schemas are persisted in the KV backend.
type RemoteCatalogProvider struct {
	catalogName string
	env         *remoteEnv

	mu      sync.RWMutex
	schemas map[string]SchemaProvider
}

func newRemoteCatalogProvider(catalogName string, env *remoteEnv) *RemoteCatalogProvider {
	return &RemoteCatalogProvider{
		catalogName: catalogName,
		env:         env,
		schemas:     make(map[string]SchemaProvider),
	}
}

// Name returns the catalog name.
func (c *RemoteCatalogProvider) Name() string { return c.catalogName }

// schemaKey builds the key of schema name. Names are validated on every path
// so that no name can spell a key owned by another node.
func (c *RemoteCatalogProvider) schemaKey(name string) (keys.SchemaKey, error) {
	if err := keys.ValidateName("schema", name); err != nil {
		return keys.SchemaKey{}, err
	}
	return keys.SchemaKey{CatalogName: c.catalogName, SchemaName: name, NodeID: c.env.nodeID}, nil
}

func (c *RemoteCatalogProvider) SchemaNames(ctx context.Context) ([]string, error) {
	names := make(map[string]struct{})
	for entry, err := range c.env.backend.Range(ctx, keys.SchemaPrefix(c.catalogName)) {
		if err != nil {
			return nil, backendErr("range", err)
		}
		key, err := keys.ParseSchemaKey(entry.Key)
		if err != nil {
			return nil, err
		}
		if key.NodeID == c.env.nodeID && key.CatalogName == c.catalogName {
			names[key.SchemaName] = struct{}{}
		}
	}
	return sortedNames(names), nil
}

func (c *RemoteCatalogProvider) Schema(ctx context.Context, name string) (SchemaProvider, error) {
	key, err := c.schemaKey(name)
	if err != nil {
		return nil, err
	}
	found, err := c.env.exists(ctx, key.Bytes())
	if err != nil || !found {
		if err == nil {
			c.env.logger.Debug("schema key does not exist on backend", zap.String("key", key.String()))
		}
		return nil, err
	}

	c.mu.RLock()
	schema, ok := c.schemas[name]
	c.mu.RUnlock()
	if !ok {
		c.env.logger.Debug("schema exists remotely but has no local handle", zap.String("key", key.String()))
		return nil, nil
	}
	return schema, nil
}

// RegisterSchema writes the schema marker, then installs the handle.
func (c *RemoteCatalogProvider) RegisterSchema(ctx context.Context, name string, schema SchemaProvider) (SchemaProvider, error) {
	schemaKey, err := c.schemaKey(name)
	if err != nil {
		return nil, err
	}
	key := schemaKey.Bytes()
	existed, err := c.env.exists(ctx, key)
	if err != nil {
		return nil, err
	}
	value, err := keys.SchemaValue{}.Bytes()
	if err != nil {
		return nil, err
	}
	// Markers are constant, so losing a conditional write is harmless.
	if _, err := c.env.put(ctx, key, value); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.schemas[name]
	c.schemas[name] = schema
	if !existed {
		return nil, nil
	}
	return prev, nil
}

// localSchema returns the installed handle without consulting the backend.
func (c *RemoteCatalogProvider) localSchema(name string) SchemaProvider {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.schemas[name]
}

// RemoteSchemaProvider is a schema whose tables are persisted in the KV backend.
type RemoteSchemaProvider struct {
	catalogName string
	schemaName  string
	env         *remoteEnv

	mu     sync.RWMutex
	tables map[string]engine.Table
}

func newRemoteSchemaProvider(catalogName, schemaName string, env *remoteEnv) *RemoteSchemaProvider {
	return &RemoteSchemaProvider{
		catalogName: catalogName,
		schemaName:  schemaName,
		env:         env,
		tables:      make(map[string]engine.Table),
	}
}

// Name returns the schema name.
func (s *RemoteSchemaProvider) Name() string { return s.schemaName }

func (s *RemoteSchemaProvider) tableKey(name string) (keys.TableKey, error) {
	if err := keys.ValidateName("table", name); err != nil {
		return keys.TableKey{}, err
	}
	return keys.TableKey{
		CatalogName: s.catalogName,
		SchemaName:  s.schemaName,
		TableName:   name,
		NodeID:      s.env.nodeID,
	}, nil
}

func (s *RemoteSchemaProvider) TableNames(ctx context.Context) ([]string, error) {
	names := make(map[string]struct{})
	for entry, err := range s.env.backend.Range(ctx, keys.TablePrefix(s.catalogName, s.schemaName)) {
		if err != nil {
			return nil, backendErr("range", err)
		}
		key, err := keys.ParseTableKey(entry.Key)
		if err != nil {
			return nil, err
		}
		if key.NodeID == s.env.nodeID && key.CatalogName == s.catalogName && key.SchemaName == s.schemaName {
			names[key.TableName] = struct{}{}
		}
	}
	return sortedNames(names), nil
}

func (s *RemoteSchemaProvider) Table(ctx context.Context, name string) (engine.Table, error) {
	key, err := s.tableKey(name)
	if err != nil {
		return nil, err
	}
	found, err := s.env.exists(ctx, key.Bytes())
	if err != nil || !found {
		return nil, err
	}

	s.mu.RLock()
	table, ok := s.tables[name]
	s.mu.RUnlock()
	if !ok {
		s.env.logger.Debug("table exists remotely but has no local handle", zap.String("key", key.String()))
		return nil, nil
	}
	return table, nil
}

func (s *RemoteSchemaProvider) TableExist(ctx context.Context, name string) (bool, error) {
	key, err := s.tableKey(name)
	if err != nil {
		return false, err
	}
	return s.env.exists(ctx, key.Bytes())
}

// RegisterTable writes the table value derived from the handle, then installs
// the handle. In conditional mode an existing key fails with TABLE_EXISTS.
func (s *RemoteSchemaProvider) RegisterTable(ctx context.Context, name string, table engine.Table) (engine.Table, error) {
	return s.registerTable(ctx, name, table, false)
}

// attachTable is RegisterTable for rows rediscovered by bootstrap: it always
// rewrites the row, even in conditional mode.
func (s *RemoteSchemaProvider) attachTable(ctx context.Context, name string, table engine.Table) (engine.Table, error) {
	return s.registerTable(ctx, name, table, true)
}

func (s *RemoteSchemaProvider) registerTable(ctx context.Context, name string, table engine.Table, overwrite bool) (engine.Table, error) {
	key, err := s.tableKey(name)
	if err != nil {
		return nil, err
	}
	raw, err := keys.TableValueFromInfo(table.Info()).Bytes()
	if err != nil {
		return nil, err
	}

	existed, err := s.env.exists(ctx, key.Bytes())
	if err != nil {
		return nil, err
	}
	if overwrite {
		err = s.env.set(ctx, key.Bytes(), raw)
	} else {
		var written bool
		written, err = s.env.put(ctx, key.Bytes(), raw)
		if err == nil && !written {
			return nil, cerrors.TableExists(key.FullName())
		}
	}
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.tables[name]
	s.tables[name] = table
	if !existed {
		return nil, nil
	}
	return prev, nil
}

// DeregisterTable deletes the table key, then drops the local handle.
func (s *RemoteSchemaProvider) DeregisterTable(ctx context.Context, name string) (engine.Table, error) {
	key, err := s.tableKey(name)
	if err != nil {
		return nil, err
	}
	if err := kv.Delete(ctx, s.env.backend, key.Bytes()); err != nil {
		return nil, backendErr("delete_range", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.tables[name]
	if !ok {
		return nil, nil
	}
	delete(s.tables, name)
	return prev, nil
}

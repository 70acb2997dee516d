package catalog

import (
	"context"
	"sync"

	"github.com/arkilian/catalog/internal/engine"
	"github.com/arkilian/catalog/internal/keys"
)

// MemoryCatalogProvider is a catalog that lives only in this process. It can
// be registered into a Manager alongside KV-backed catalogs.
type MemoryCatalogProvider struct {
	mu      sync.RWMutex
	schemas map[string]SchemaProvider
}

// NewMemoryCatalogProvider creates an empty in-memory catalog.
func NewMemoryCatalogProvider() *MemoryCatalogProvider {
	return &MemoryCatalogProvider{schemas: make(map[string]SchemaProvider)}
}

func (c *MemoryCatalogProvider) SchemaNames(ctx context.Context) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	set := make(map[string]struct{}, len(c.schemas))
	for name := range c.schemas {
		set[name] = struct{}{}
	}
	return sortedNames(set), nil
}

func (c *MemoryCatalogProvider) Schema(ctx context.Context, name string) (SchemaProvider, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.schemas[name], nil
}

func (c *MemoryCatalogProvider) RegisterSchema(ctx context.Context, name string, schema SchemaProvider) (SchemaProvider, error) {
	if err := keys.ValidateName("schema", name); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.schemas[name]
	c.schemas[name] = schema
	return prev, nil
}

// MemorySchemaProvider is a schema that lives only in this process.
type MemorySchemaProvider struct {
	mu     sync.RWMutex
	tables map[string]engine.Table
}

// NewMemorySchemaProvider creates an empty in-memory schema.
func NewMemorySchemaProvider() *MemorySchemaProvider {
	return &MemorySchemaProvider{tables: make(map[string]engine.Table)}
}

func (s *MemorySchemaProvider) TableNames(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := make(map[string]struct{}, len(s.tables))
	for name := range s.tables {
		set[name] = struct{}{}
	}
	return sortedNames(set), nil
}

func (s *MemorySchemaProvider) Table(ctx context.Context, name string) (engine.Table, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tables[name], nil
}

func (s *MemorySchemaProvider) RegisterTable(ctx context.Context, name string, table engine.Table) (engine.Table, error) {
	if err := keys.ValidateName("table", name); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.tables[name]
	s.tables[name] = table
	return prev, nil
}

func (s *MemorySchemaProvider) DeregisterTable(ctx context.Context, name string) (engine.Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.tables[name]
	delete(s.tables, name)
	return prev, nil
}

func (s *MemorySchemaProvider) TableExist(ctx context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tables[name]
	return ok, nil
}

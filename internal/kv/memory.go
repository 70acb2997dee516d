package kv

import (
	"bytes"
	"context"
	"iter"
	"sync"

	"github.com/google/btree"
)

const memoryBTreeDegree = 32

// MemoryBackend is an in-process ordered backend. It is used for tests and
// single-node deployments that do not need durability.
type MemoryBackend struct {
	mu     sync.RWMutex
	tree   *btree.BTreeG[KeyValue]
	closed bool
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		tree: btree.NewG(memoryBTreeDegree, func(a, b KeyValue) bool {
			return bytes.Compare(a.Key, b.Key) < 0
		}),
	}
}

func (m *MemoryBackend) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, false, backendError("get", ErrClosed)
	}
	item, ok := m.tree.Get(KeyValue{Key: key})
	if !ok {
		return nil, false, nil
	}
	return bytes.Clone(item.Value), true, nil
}

func (m *MemoryBackend) Set(ctx context.Context, key, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return backendError("set", ErrClosed)
	}
	m.tree.ReplaceOrInsert(KeyValue{Key: bytes.Clone(key), Value: bytes.Clone(value)})
	return nil
}

func (m *MemoryBackend) PutIfAbsent(ctx context.Context, key, value []byte) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, backendError("put_if_absent", ErrClosed)
	}
	if m.tree.Has(KeyValue{Key: key}) {
		return false, nil
	}
	m.tree.ReplaceOrInsert(KeyValue{Key: bytes.Clone(key), Value: bytes.Clone(value)})
	return true, nil
}

// Range iterates a copy-on-write snapshot taken when iteration starts.
func (m *MemoryBackend) Range(ctx context.Context, prefix []byte) iter.Seq2[KeyValue, error] {
	return func(yield func(KeyValue, error) bool) {
		if err := ctx.Err(); err != nil {
			yield(KeyValue{}, err)
			return
		}
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			yield(KeyValue{}, backendError("range", ErrClosed))
			return
		}
		snapshot := m.tree.Clone()
		m.mu.Unlock()

		var cancelled error
		visit := func(item KeyValue) bool {
			if cancelled = ctx.Err(); cancelled != nil {
				return false
			}
			return yield(KeyValue{Key: bytes.Clone(item.Key), Value: bytes.Clone(item.Value)}, nil)
		}
		pivot := KeyValue{Key: prefix}
		if end := rangeEnd(prefix); end != nil {
			snapshot.AscendRange(pivot, KeyValue{Key: end}, visit)
		} else {
			snapshot.AscendGreaterOrEqual(pivot, visit)
		}
		if cancelled != nil {
			yield(KeyValue{}, cancelled)
		}
	}
}

func (m *MemoryBackend) DeleteRange(ctx context.Context, start, end []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return backendError("delete_range", ErrClosed)
	}
	if end == nil {
		m.tree.Delete(KeyValue{Key: start})
		return nil
	}
	var doomed []KeyValue
	m.tree.AscendRange(KeyValue{Key: start}, KeyValue{Key: end}, func(item KeyValue) bool {
		doomed = append(doomed, item)
		return true
	})
	for _, item := range doomed {
		m.tree.Delete(item)
	}
	return nil
}

// Len returns the number of stored keys.
func (m *MemoryBackend) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tree.Len()
}

func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

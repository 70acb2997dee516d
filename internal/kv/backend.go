// Package kv provides the ordered key-value backends that hold the catalog
// keyspace shared by every node.
package kv

import (
	"bytes"
	"context"
	"errors"
	"iter"

	cerrors "github.com/arkilian/catalog/internal/errors"
	"github.com/arkilian/catalog/internal/keys"
)

// ErrClosed is returned by operations on a closed backend.
var ErrClosed = errors.New("kv: backend closed")

// KeyValue is one entry produced by a range scan.
type KeyValue struct {
	Key   []byte
	Value []byte
}

// Backend is an ordered key-value store reachable by every cluster node.
type Backend interface {
	// Get returns the value stored under key. found is false if the key is absent.
	Get(ctx context.Context, key []byte) (value []byte, found bool, err error)

	// Set stores value under key, overwriting any previous value.
	Set(ctx context.Context, key, value []byte) error

	// Range lazily yields every entry whose key starts with prefix, in key
	// order. Each call opens a fresh scan. Implementations do not hold locks
	// while yielding, so callers may write to the backend during iteration.
	// A failed scan yields a single non-nil error and stops.
	Range(ctx context.Context, prefix []byte) iter.Seq2[KeyValue, error]

	// DeleteRange removes every key in [start, end). A nil end removes
	// exactly start.
	DeleteRange(ctx context.Context, start, end []byte) error

	// Close releases the backend's resources.
	Close() error
}

// ConditionalBackend is a Backend with a compare-and-set style write.
type ConditionalBackend interface {
	Backend

	// PutIfAbsent stores value only if key does not exist. It reports
	// whether the write happened.
	PutIfAbsent(ctx context.Context, key, value []byte) (bool, error)
}

// Collect drains a range scan into a slice.
func Collect(ctx context.Context, b Backend, prefix []byte) ([]KeyValue, error) {
	var out []KeyValue
	for kv, err := range b.Range(ctx, prefix) {
		if err != nil {
			return nil, err
		}
		out = append(out, kv)
	}
	return out, nil
}

// Delete removes a single key.
func Delete(ctx context.Context, b Backend, key []byte) error {
	return b.DeleteRange(ctx, key, nil)
}

// rangeEnd returns the exclusive upper bound of a prefix scan, nil meaning unbounded.
func rangeEnd(prefix []byte) []byte {
	if len(prefix) == 0 {
		return nil
	}
	return keys.PrefixEnd(prefix)
}

// inRange reports whether key lies in [start, end) with nil end meaning unbounded.
func inRange(key, start, end []byte) bool {
	return bytes.Compare(key, start) >= 0 && (end == nil || bytes.Compare(key, end) < 0)
}

func backendError(op string, err error) error {
	if err == nil {
		return nil
	}
	var ce *cerrors.CatalogError
	if errors.As(err, &ce) {
		return err
	}
	return cerrors.BackendFailure(op, err)
}

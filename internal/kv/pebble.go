package kv

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"
)

// PebbleOptions configures the Pebble backend.
type PebbleOptions struct {
	// CacheSizeMB is the block cache size (default: 64MB)
	CacheSizeMB int64

	// Sync fsyncs every write (default: true)
	Sync bool

	Logger *zap.Logger
}

// DefaultPebbleOptions returns the default Pebble options.
func DefaultPebbleOptions() PebbleOptions {
	return PebbleOptions{
		CacheSizeMB: 64,
		Sync:        true,
	}
}

// PebbleBackend implements ConditionalBackend on a local Pebble LSM.
type PebbleBackend struct {
	db    *pebble.DB
	path  string
	write *pebble.WriteOptions

	// putMu serializes PutIfAbsent's read-then-write.
	putMu sync.Mutex
}

// NewPebbleBackend opens (or creates) a Pebble database in dir.
func NewPebbleBackend(dir string, opts PebbleOptions) (*PebbleBackend, error) {
	if opts.CacheSizeMB <= 0 {
		opts.CacheSizeMB = DefaultPebbleOptions().CacheSizeMB
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	cache := pebble.NewCache(opts.CacheSizeMB << 20)
	defer cache.Unref() // DB will hold reference

	db, err := pebble.Open(dir, &pebble.Options{
		Cache:  cache,
		Logger: logger.Named("pebble").Sugar(),
	})
	if err != nil {
		return nil, fmt.Errorf("kv: failed to open pebble at %s: %w", dir, err)
	}

	write := pebble.NoSync
	if opts.Sync {
		write = pebble.Sync
	}
	return &PebbleBackend{db: db, path: dir, write: write}, nil
}

func (p *PebbleBackend) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	val, closer, err := p.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, backendError("get", err)
	}
	defer closer.Close()
	return bytes.Clone(val), true, nil
}

func (p *PebbleBackend) Set(ctx context.Context, key, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.db.Set(key, value, p.write); err != nil {
		return backendError("set", err)
	}
	return nil
}

func (p *PebbleBackend) PutIfAbsent(ctx context.Context, key, value []byte) (bool, error) {
	p.putMu.Lock()
	defer p.putMu.Unlock()

	_, found, err := p.Get(ctx, key)
	if err != nil || found {
		return false, err
	}
	if err := p.Set(ctx, key, value); err != nil {
		return false, err
	}
	return true, nil
}

// Range iterates a Pebble iterator, which reads from an implicit snapshot and
// does not block concurrent writes.
func (p *PebbleBackend) Range(ctx context.Context, prefix []byte) iter.Seq2[KeyValue, error] {
	return func(yield func(KeyValue, error) bool) {
		it, err := p.db.NewIter(&pebble.IterOptions{
			LowerBound: prefix,
			UpperBound: rangeEnd(prefix),
		})
		if err != nil {
			yield(KeyValue{}, backendError("range", err))
			return
		}
		defer it.Close()

		for it.First(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				yield(KeyValue{}, err)
				return
			}
			if !yield(KeyValue{Key: bytes.Clone(it.Key()), Value: bytes.Clone(it.Value())}, nil) {
				return
			}
		}
		if err := it.Error(); err != nil {
			yield(KeyValue{}, backendError("range", err))
		}
	}
}

func (p *PebbleBackend) DeleteRange(ctx context.Context, start, end []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var err error
	if end == nil {
		err = p.db.Delete(start, p.write)
	} else {
		err = p.db.DeleteRange(start, end, p.write)
	}
	if err != nil {
		return backendError("delete_range", err)
	}
	return nil
}

// Path returns the database directory.
func (p *PebbleBackend) Path() string {
	return p.path
}

func (p *PebbleBackend) Close() error {
	return p.db.Close()
}

package kv

import (
	"context"
	"iter"
	"time"

	"github.com/arkilian/catalog/internal/metrics"
)

// Instrument wraps b so every call is counted and timed under the given
// backend label. The result implements ConditionalBackend iff b does.
func Instrument(b Backend, name string, m *metrics.Metrics) Backend {
	if m == nil {
		return b
	}
	base := &instrumented{inner: b, name: name, m: m}
	if cb, ok := b.(ConditionalBackend); ok {
		return &instrumentedConditional{instrumented: base, cond: cb}
	}
	return base
}

type instrumented struct {
	inner Backend
	name  string
	m     *metrics.Metrics
}

func (i *instrumented) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	start := time.Now()
	v, found, err := i.inner.Get(ctx, key)
	i.m.ObserveBackendOp(i.name, "get", start, err)
	return v, found, err
}

func (i *instrumented) Set(ctx context.Context, key, value []byte) error {
	start := time.Now()
	err := i.inner.Set(ctx, key, value)
	i.m.ObserveBackendOp(i.name, "set", start, err)
	return err
}

func (i *instrumented) Range(ctx context.Context, prefix []byte) iter.Seq2[KeyValue, error] {
	return func(yield func(KeyValue, error) bool) {
		start := time.Now()
		var n int
		var scanErr error
		for kv, err := range i.inner.Range(ctx, prefix) {
			if err != nil {
				scanErr = err
			} else {
				n++
			}
			if !yield(kv, err) {
				break
			}
		}
		i.m.ObserveBackendOp(i.name, "range", start, scanErr)
		i.m.BackendRangeEntries.Observe(float64(n))
	}
}

func (i *instrumented) DeleteRange(ctx context.Context, start, end []byte) error {
	began := time.Now()
	err := i.inner.DeleteRange(ctx, start, end)
	i.m.ObserveBackendOp(i.name, "delete_range", began, err)
	return err
}

func (i *instrumented) Close() error {
	return i.inner.Close()
}

type instrumentedConditional struct {
	*instrumented
	cond ConditionalBackend
}

func (i *instrumentedConditional) PutIfAbsent(ctx context.Context, key, value []byte) (bool, error) {
	start := time.Now()
	ok, err := i.cond.PutIfAbsent(ctx, key, value)
	i.m.ObserveBackendOp(i.name, "put_if_absent", start, err)
	return ok, err
}

// Package metrics holds the Prometheus metrics of the catalog service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "catalogd"

// Result label values.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Metrics holds all Prometheus metrics for one catalog node
type Metrics struct {
	// KV backend metrics
	BackendOpsTotal     *prometheus.CounterVec
	BackendOpDuration   *prometheus.HistogramVec
	BackendRangeEntries prometheus.Histogram

	// Catalog operation metrics
	CatalogOpsTotal   *prometheus.CounterVec
	CatalogOpDuration *prometheus.HistogramVec

	// Bootstrap metrics
	BootstrapDuration   prometheus.Histogram
	BootstrapCatalogs   prometheus.Gauge
	BootstrapSchemas    prometheus.Gauge
	BootstrapTables     prometheus.Gauge
	SystemTablesDrained prometheus.Counter

	// Allocator
	NextTableID prometheus.Gauge

	// Engine
	EngineOpsTotal *prometheus.CounterVec
}

// New creates and registers all metrics on reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer, nodeID string) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	labels := prometheus.Labels{"node_id": nodeID}

	return &Metrics{
		BackendOpsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "kv",
			Name:        "operations_total",
			Help:        "Total number of KV backend operations",
			ConstLabels: labels,
		}, []string{"backend", "op", "result"}),
		BackendOpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "kv",
			Name:        "operation_duration_seconds",
			Help:        "Histogram of KV backend operation durations",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"backend", "op"}),
		BackendRangeEntries: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "kv",
			Name:        "range_entries",
			Help:        "Number of entries produced per range scan",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(1, 4, 8),
		}),
		CatalogOpsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "catalog",
			Name:        "operations_total",
			Help:        "Total number of catalog operations",
			ConstLabels: labels,
		}, []string{"op", "result"}),
		CatalogOpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "catalog",
			Name:        "operation_duration_seconds",
			Help:        "Histogram of catalog operation durations",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"op"}),
		BootstrapDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "bootstrap",
			Name:        "duration_seconds",
			Help:        "Histogram of bootstrap durations",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		BootstrapCatalogs: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "bootstrap",
			Name:        "catalogs",
			Help:        "Catalogs discovered by the last bootstrap",
			ConstLabels: labels,
		}),
		BootstrapSchemas: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "bootstrap",
			Name:        "schemas",
			Help:        "Schemas discovered by the last bootstrap",
			ConstLabels: labels,
		}),
		BootstrapTables: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "bootstrap",
			Name:        "tables",
			Help:        "Tables discovered by the last bootstrap",
			ConstLabels: labels,
		}),
		SystemTablesDrained: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "bootstrap",
			Name:        "system_tables_total",
			Help:        "System tables materialized from the registration queue",
			ConstLabels: labels,
		}),
		NextTableID: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "catalog",
			Name:        "next_table_id",
			Help:        "Next table id the allocator will hand out",
			ConstLabels: labels,
		}),
		EngineOpsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "engine",
			Name:        "operations_total",
			Help:        "Total number of table engine operations",
			ConstLabels: labels,
		}, []string{"engine", "op", "result"}),
	}
}

// ObserveCatalogOp records one catalog operation.
func (m *Metrics) ObserveCatalogOp(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.CatalogOpsTotal.WithLabelValues(op, result(err)).Inc()
	m.CatalogOpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// ObserveBackendOp records one KV backend operation.
func (m *Metrics) ObserveBackendOp(backend, op string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.BackendOpsTotal.WithLabelValues(backend, op, result(err)).Inc()
	m.BackendOpDuration.WithLabelValues(backend, op).Observe(time.Since(start).Seconds())
}

// ObserveEngineOp records one table engine call.
func (m *Metrics) ObserveEngineOp(engine, op string, err error) {
	if m == nil {
		return
	}
	m.EngineOpsTotal.WithLabelValues(engine, op, result(err)).Inc()
}

// ObserveBootstrap records the outcome of one successful bootstrap.
func (m *Metrics) ObserveBootstrap(start time.Time, catalogs, schemas, tables int) {
	if m == nil {
		return
	}
	m.BootstrapDuration.Observe(time.Since(start).Seconds())
	m.BootstrapCatalogs.Set(float64(catalogs))
	m.BootstrapSchemas.Set(float64(schemas))
	m.BootstrapTables.Set(float64(tables))
}

// SetNextTableID records the allocator position.
func (m *Metrics) SetNextTableID(id uint64) {
	if m == nil {
		return
	}
	m.NextTableID.Set(float64(id))
}

// IncSystemTables counts one materialized system table.
func (m *Metrics) IncSystemTables() {
	if m == nil {
		return
	}
	m.SystemTablesDrained.Inc()
}

func result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultOK
}

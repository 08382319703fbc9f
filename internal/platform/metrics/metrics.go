package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "dkv"
	subsystem = "lsm"
)

// Sources reported by ObserveGet.
const (
	SourceActive    = "active"
	SourceImmutable = "immutable"
	SourceTable     = "sstable"
	SourceMiss      = "miss"
)

// Metrics groups the engine collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	puts          prometheus.Counter
	deletes       prometheus.Counter
	gets          *prometheus.CounterVec
	rotations     prometheus.Counter
	flushes       prometheus.Counter
	flushFailures prometheus.Counter
	flushDuration prometheus.Histogram
	flushedBytes  prometheus.Counter
	queueDepth    prometheus.Gauge
	tables        prometheus.Gauge
	bloomSkips    prometheus.Counter
}

// New creates the collectors and registers them with reg when reg is not nil.
// Collectors already registered by an earlier New on the same reg are reused,
// so a store can be reopened against one registry.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		puts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "puts_total", Help: "Put operations applied to the active memtable.",
		}),
		deletes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "deletes_total", Help: "Delete operations applied to the active memtable.",
		}),
		gets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "gets_total", Help: "Lookups by the tier that answered them.",
		}, []string{"source"}),
		rotations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "memtable_rotations_total", Help: "Active memtables switched to immutable.",
		}),
		flushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "flushes_total", Help: "Immutable memtables written to sorted tables.",
		}),
		flushFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "flush_failures_total", Help: "Failed flush attempts.",
		}),
		flushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "flush_duration_seconds", Help: "Time to write and open one sorted table.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		flushedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "flushed_bytes_total", Help: "Bytes of sorted table files written by flushes.",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "immutable_queue_depth", Help: "Immutable memtables waiting to be flushed.",
		}),
		tables: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "sstables", Help: "Open sorted tables.",
		}),
		bloomSkips: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "bloom_skips_total", Help: "Table lookups skipped by a negative bloom filter.",
		}),
	}
	if reg == nil {
		return m, nil
	}
	r := &registrar{reg: reg}
	m.puts = register(r, m.puts)
	m.deletes = register(r, m.deletes)
	m.gets = register(r, m.gets)
	m.rotations = register(r, m.rotations)
	m.flushes = register(r, m.flushes)
	m.flushFailures = register(r, m.flushFailures)
	m.flushDuration = register(r, m.flushDuration)
	m.flushedBytes = register(r, m.flushedBytes)
	m.queueDepth = register(r, m.queueDepth)
	m.tables = register(r, m.tables)
	m.bloomSkips = register(r, m.bloomSkips)
	if r.err != nil {
		return nil, r.err
	}
	return m, nil
}

type registrar struct {
	reg prometheus.Registerer
	err error
}

func register[C prometheus.Collector](r *registrar, c C) C {
	if r.err != nil {
		return c
	}
	if err := r.reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		r.err = err
	}
	return c
}

func (m *Metrics) IncPut() {
	if m != nil {
		m.puts.Inc()
	}
}

func (m *Metrics) IncDelete() {
	if m != nil {
		m.deletes.Inc()
	}
}

func (m *Metrics) ObserveGet(source string) {
	if m != nil {
		m.gets.WithLabelValues(source).Inc()
	}
}

func (m *Metrics) IncRotation() {
	if m != nil {
		m.rotations.Inc()
	}
}

func (m *Metrics) ObserveFlush(d time.Duration, bytes int64) {
	if m != nil {
		m.flushes.Inc()
		m.flushDuration.Observe(d.Seconds())
		m.flushedBytes.Add(float64(bytes))
	}
}

func (m *Metrics) IncFlushFailure() {
	if m != nil {
		m.flushFailures.Inc()
	}
}

func (m *Metrics) SetQueueDepth(n int) {
	if m != nil {
		m.queueDepth.Set(float64(n))
	}
}

func (m *Metrics) SetTables(n int) {
	if m != nil {
		m.tables.Set(float64(n))
	}
}

func (m *Metrics) IncBloomSkip() {
	if m != nil {
		m.bloomSkips.Inc()
	}
}

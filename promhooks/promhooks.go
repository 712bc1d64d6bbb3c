// Package promhooks exports udstore hook events as Prometheus metrics.
package promhooks

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/unkn0wn-root/udstore"
)

type Options struct {
	Namespace string // defaults to "udstore"
	Subsystem string
	// Registerer receives the collectors; defaults to prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
	// SweepBuckets for the sweep duration histogram; defaults to prometheus.DefBuckets.
	SweepBuckets []float64
}

type Hooks struct {
	integrity   *prometheus.CounterVec
	parse       *prometheus.CounterVec
	expired     *prometheus.CounterVec
	capacity    *prometheus.CounterVec
	migrated    *prometheus.CounterVec
	mismatch    *prometheus.CounterVec
	skipped     *prometheus.CounterVec
	encDisabled prometheus.Counter
	sweeps      *prometheus.HistogramVec
	swept       prometheus.Counter

	records *prometheus.GaugeVec
	bytes   *prometheus.GaugeVec
}

var _ udstore.Hooks = (*Hooks)(nil)

// New builds and registers the collectors.
func New(opts Options) (*Hooks, error) {
	if opts.Namespace == "" {
		opts.Namespace = "udstore"
	}
	if opts.Registerer == nil {
		opts.Registerer = prometheus.DefaultRegisterer
	}
	if len(opts.SweepBuckets) == 0 {
		opts.SweepBuckets = prometheus.DefBuckets
	}
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: opts.Namespace,
			Subsystem: opts.Subsystem,
			Name:      name,
			Help:      help,
		}, labels)
	}
	gauge := func(name, help string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: opts.Namespace,
			Subsystem: opts.Subsystem,
			Name:      name,
			Help:      help,
		}, []string{"backend", "state"})
	}

	h := &Hooks{
		integrity: counter("integrity_faults_total", "Records that failed decryption or checksum verification.", "ns", "backend"),
		parse:     counter("parse_faults_total", "Records that matched no known shape.", "ns", "backend"),
		expired:   counter("expired_total", "Expired records deleted.", "ns", "backend", "path"),
		capacity:  counter("capacity_retries_total", "Writes retried after a capacity sweep.", "ns", "backend", "result"),
		migrated:  counter("legacy_migrations_total", "Legacy records rewritten as envelopes.", "ns", "backend", "kind"),
		mismatch:  counter("compression_mismatches_total", "Records whose compression flag disagreed with the payload.", "ns", "backend"),
		skipped:   counter("restore_skipped_entries_total", "Backup entries skipped for unknown namespaces.", "ns"),
		encDisabled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: opts.Namespace,
			Subsystem: opts.Subsystem,
			Name:      "encryption_disabled_total",
			Help:      "Times encryption was found unavailable.",
		}),
		sweeps: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: opts.Namespace,
			Subsystem: opts.Subsystem,
			Name:      "sweep_duration_seconds",
			Help:      "Duration of expiry sweeps.",
			Buckets:   opts.SweepBuckets,
		}, []string{"result"}),
		swept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: opts.Namespace,
			Subsystem: opts.Subsystem,
			Name:      "swept_records_total",
			Help:      "Records removed by expiry sweeps.",
		}),
		records: gauge("records", "Stored records by backend and state, as of the last Observe."),
		bytes:   gauge("bytes", "Stored bytes by backend, as of the last Observe."),
	}

	for _, c := range []prometheus.Collector{
		h.integrity, h.parse, h.expired, h.capacity, h.migrated, h.mismatch,
		h.skipped, h.encDisabled, h.sweeps, h.swept, h.records, h.bytes,
	} {
		if err := opts.Registerer.Register(c); err != nil {
			return nil, err
		}
	}
	return h, nil
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (h *Hooks) IntegrityFault(ns, _, backend string, _ error) {
	h.integrity.WithLabelValues(ns, backend).Inc()
}

func (h *Hooks) ParseFault(ns, _, backend string, _ error) {
	h.parse.WithLabelValues(ns, backend).Inc()
}

func (h *Hooks) Expired(ns, _, backend string, lazy bool) {
	path := "sweep"
	if lazy {
		path = "read"
	}
	h.expired.WithLabelValues(ns, backend, path).Inc()
}

func (h *Hooks) CapacityRetry(ns, _, backend string, _ int, err error) {
	h.capacity.WithLabelValues(ns, backend, result(err)).Inc()
}

func (h *Hooks) LegacyMigrated(ns, _, backend, kind string) {
	h.migrated.WithLabelValues(ns, backend, kind).Inc()
}

func (h *Hooks) CompressionMismatch(ns, _, backend string, _, _ bool) {
	h.mismatch.WithLabelValues(ns, backend).Inc()
}

func (h *Hooks) RestoreSkipped(ns string, entries int) {
	h.skipped.WithLabelValues(ns).Add(float64(entries))
}

func (h *Hooks) EncryptionDisabled(error) { h.encDisabled.Inc() }

func (h *Hooks) SweepCompleted(removed int, took time.Duration, err error) {
	h.sweeps.WithLabelValues(result(err)).Observe(took.Seconds())
	h.swept.Add(float64(removed))
}

// Observe publishes a Stats snapshot as gauges. Call it on a schedule; it
// does not walk storage itself.
func (h *Hooks) Observe(st udstore.Stats) {
	h.records.Reset()
	h.bytes.Reset()
	for name, u := range st.Backends {
		h.records.WithLabelValues(name, "total").Set(float64(u.Records))
		h.records.WithLabelValues(name, "expired").Set(float64(u.Expired))
		h.records.WithLabelValues(name, "encrypted").Set(float64(u.Encrypted))
		h.records.WithLabelValues(name, "compressed").Set(float64(u.Compressed))
		h.records.WithLabelValues(name, "legacy").Set(float64(u.Legacy))
		h.records.WithLabelValues(name, "unreadable").Set(float64(u.Unreadable))
		h.bytes.WithLabelValues(name, "total").Set(float64(u.Bytes))
	}
}

package tokenstore

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/florianilch/mcpcreds/internal/credential"
)

const metricsNamespace = "mcpcreds"

// Metrics holds the Prometheus collectors for credential storage.
type Metrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	backend    *prometheus.GaugeVec
}

// NewMetrics creates the storage collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "storage",
			Name:      "operations_total",
			Help:      "Credential storage operations by operation and result.",
		}, []string{"op", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "storage",
			Name:      "operation_duration_seconds",
			Help:      "Latency of credential storage operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		backend: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "storage",
			Name:      "backend_selected",
			Help:      "Set to 1 for the credential storage backend currently in use.",
		}, []string{"kind"}),
	}
	reg.MustRegister(m.operations, m.duration, m.backend)
	return m
}

// ObserveSelection records the selected backend. Pass it to WithSelectionObserver.
func (m *Metrics) ObserveSelection(kind Kind) {
	for _, k := range []Kind{KindKeyring, KindEncryptedFile} {
		value := 0.0
		if k == kind {
			value = 1
		}
		m.backend.WithLabelValues(string(k)).Set(value)
	}
}

func (m *Metrics) observe(op string, start time.Time, result string) {
	m.operations.WithLabelValues(op, result).Inc()
	m.duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// resultOf classifies an operation outcome for the result label.
func resultOf(err error) string {
	var notFound *NotFoundError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &notFound):
		return "not_found"
	default:
		return "error"
	}
}

// InstrumentedStore records metrics for every operation of the wrapped store.
type InstrumentedStore struct {
	next    CredentialStore
	metrics *Metrics
}

// Compile-time check to ensure InstrumentedStore implements CredentialStore
var _ CredentialStore = (*InstrumentedStore)(nil)

// Instrument wraps next with metrics collection.
func Instrument(next CredentialStore, m *Metrics) *InstrumentedStore {
	return &InstrumentedStore{next: next, metrics: m}
}

func (s *InstrumentedStore) Get(ctx context.Context, serverName string) (*credential.Credentials, error) {
	start := time.Now()
	c, err := s.next.Get(ctx, serverName)
	result := resultOf(err)
	if err == nil && c == nil {
		result = "not_found"
	}
	s.metrics.observe("get", start, result)
	return c, err
}

func (s *InstrumentedStore) Set(ctx context.Context, c *credential.Credentials) error {
	start := time.Now()
	err := s.next.Set(ctx, c)
	s.metrics.observe("set", start, resultOf(err))
	return err
}

func (s *InstrumentedStore) Delete(ctx context.Context, serverName string) error {
	start := time.Now()
	err := s.next.Delete(ctx, serverName)
	s.metrics.observe("delete", start, resultOf(err))
	return err
}

func (s *InstrumentedStore) ListServers(ctx context.Context) ([]string, error) {
	start := time.Now()
	servers, err := s.next.ListServers(ctx)
	s.metrics.observe("list_servers", start, resultOf(err))
	return servers, err
}

func (s *InstrumentedStore) ListCredentials(ctx context.Context) (map[string]*credential.Credentials, error) {
	start := time.Now()
	creds, err := s.next.ListCredentials(ctx)
	s.metrics.observe("list_credentials", start, resultOf(err))
	return creds, err
}

func (s *InstrumentedStore) ClearAll(ctx context.Context) error {
	start := time.Now()
	err := s.next.ClearAll(ctx)
	s.metrics.observe("clear_all", start, resultOf(err))
	return err
}

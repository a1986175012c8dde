package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	OutcomeNew       = "new"
	OutcomeDuplicate = "duplicate"
)

// Metrics provides observability for the completion tracker.
type Metrics struct {
	PendingRegistered prometheus.Counter
	Completions       *prometheus.CounterVec
	PendingPurged     prometheus.Counter
	StorageErrors     *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
}

// New registers all tracker metrics on reg. Pass prometheus.NewRegistry() in
// tests to avoid duplicate registration against the default registry.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		PendingRegistered: f.NewCounter(prometheus.CounterOpts{
			Name: "adunlock_pending_registered_total",
			Help: "Total number of pending unlock requests registered",
		}),
		Completions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "adunlock_completions_total",
			Help: "Completion notifications applied, by outcome (new or duplicate)",
		}, []string{"outcome"}),
		PendingPurged: f.NewCounter(prometheus.CounterOpts{
			Name: "adunlock_pending_purged_total",
			Help: "Total number of stale pending requests removed by operators",
		}),
		StorageErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "adunlock_storage_errors_total",
			Help: "Storage failures surfaced by tracker operations",
		}, []string{"op"}),
		OperationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "adunlock_tracker_operation_duration_seconds",
			Help:    "Duration of tracker operations",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"op"}),
	}
}

// ObserveOperation records the duration of op.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveOperation(op string, start time.Time) {
	if m == nil {
		return
	}
	m.OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncrementPendingRegistered() {
	if m == nil {
		return
	}
	m.PendingRegistered.Inc()
}

func (m *Metrics) IncrementCompletion(alreadyCompleted bool) {
	if m == nil {
		return
	}
	outcome := OutcomeNew
	if alreadyCompleted {
		outcome = OutcomeDuplicate
	}
	m.Completions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) AddPendingPurged(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.PendingPurged.Add(float64(n))
}

func (m *Metrics) IncrementStorageError(op string) {
	if m == nil {
		return
	}
	m.StorageErrors.WithLabelValues(op).Inc()
}

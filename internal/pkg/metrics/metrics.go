package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LockAcquisitions counts multi-key lock attempts by outcome
	// (acquired, busy, error).
	LockAcquisitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "boxoffice",
		Subsystem: "lock",
		Name:      "acquisitions_total",
		Help:      "Multi-key distributed lock acquisition attempts by outcome.",
	}, []string{"outcome"})

	// LockAcquireDuration observes how long the full multi-key
	// acquisition took, including retries.
	LockAcquireDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "boxoffice",
		Subsystem: "lock",
		Name:      "acquire_duration_seconds",
		Help:      "Duration of multi-key lock acquisition.",
		Buckets:   prometheus.DefBuckets,
	})

	// ReservationsCreated counts reservation requests; partial counts both.
	ReservationsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "boxoffice",
		Subsystem: "reservation",
		Name:      "created_total",
		Help:      "Reservation create calls by result (full, partial, empty, busy).",
	}, []string{"result"})

	// UnitsReclaimed counts inventory units returned to the pool by the sweep.
	UnitsReclaimed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "boxoffice",
		Subsystem: "reservation",
		Name:      "units_reclaimed_total",
		Help:      "Inventory units released back to AVAILABLE by the expiry sweep.",
	})

	// BookingsConfirmed counts saga outcomes.
	BookingsConfirmed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "boxoffice",
		Subsystem: "booking",
		Name:      "confirmations_total",
		Help:      "Booking confirmation attempts by outcome (confirmed, replayed, payment_failed, compensated, rejected).",
	}, []string{"outcome"})

	// CompensationFailures counts compensations that themselves failed and
	// need manual follow-up (e.g. a refund that did not go through).
	CompensationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "boxoffice",
		Subsystem: "booking",
		Name:      "compensation_failures_total",
		Help:      "Saga compensation steps that failed and were left for manual follow-up.",
	})
)

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	ReservationsTotal     *prometheus.CounterVec
	LedgerEntriesTotal    *prometheus.CounterVec
	VersionConflictsTotal prometheus.Counter
	ExpiredSweptTotal     prometheus.Counter
	ReconciliationDrift   prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ReservationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stockflow_reservations_total",
			Help: "Reservation attempts by outcome.",
		}, []string{"outcome"}),
		LedgerEntriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stockflow_ledger_entries_total",
			Help: "Ledger entries appended by reason.",
		}, []string{"reason"}),
		VersionConflictsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "stockflow_version_conflicts_total",
			Help: "Optimistic version conflicts observed before retry.",
		}),
		ExpiredSweptTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "stockflow_reservations_expired_total",
			Help: "Reservations transitioned to EXPIRED by the sweeper.",
		}),
		ReconciliationDrift: factory.NewCounter(prometheus.CounterOpts{
			Name: "stockflow_reconciliation_drift_total",
			Help: "Ledger/projection mismatches detected by replay.",
		}),
	}
}

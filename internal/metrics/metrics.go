package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	SessionsBooked = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "skillswap_sessions_booked_total",
			Help: "Number of session booking requests created",
		},
	)

	SessionsCompleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "skillswap_sessions_completed_total",
			Help: "Number of sessions that reached mutual completion",
		},
	)

	SessionsCancelled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "skillswap_sessions_cancelled_total",
			Help: "Number of sessions cancelled or rejected",
		},
	)

	PointsTransferred = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "skillswap_points_transferred_total",
			Help: "Points moved from tutees to tutors on completion",
		},
	)

	TransferFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "skillswap_transfer_failures_total",
			Help: "Point transfers that failed and aborted a completion",
		},
	)

	CompensationFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "skillswap_compensation_failures_total",
			Help: "Debit reversals that failed and require manual reconciliation",
		},
	)
)

func Register() {
	prometheus.MustRegister(
		SessionsBooked,
		SessionsCompleted,
		SessionsCancelled,
		PointsTransferred,
		TransferFailures,
		CompensationFailures,
	)
}

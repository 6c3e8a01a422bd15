package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DeliveriesDispatchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agronet_deliveries_dispatched_total",
		Help: "Total number of deliveries for which the dispatch pipeline ran.",
	})

	DriversNotifiedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agronet_drivers_notified_total",
		Help: "Total number of driver push notifications attempted.",
	})

	DispatchSkippedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agronet_dispatch_skipped_total",
		Help: "Dispatches skipped before fan-out, by reason.",
	},
		[]string{"reason"},
	)

	NoDriversFoundTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agronet_no_drivers_found_total",
		Help: "Dispatches that found no reachable driver within the radius.",
	})

	DeliveriesAssignedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agronet_deliveries_assigned_total",
		Help: "Total number of deliveries successfully claimed by a driver.",
	})

	AcceptConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agronet_accept_conflicts_total",
		Help: "Accept attempts that lost the claim race.",
	})
)

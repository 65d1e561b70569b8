package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RentalOrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rental_orders_created_total",
		Help: "Total number of rental orders created",
	})

	RentalOrdersConfirmedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rental_orders_confirmed_total",
		Help: "Total number of rental orders confirmed",
	}, []string{"forced"})

	RentalConfirmationHaltsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rental_confirmation_halts_total",
		Help: "Confirmations halted because an expansion is missing its base product",
	})

	RentalOrdersCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rental_orders_cancelled_total",
		Help: "Total number of cancelled rental orders",
	})

	RentalPickupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rental_pickups_total",
		Help: "Total number of processed pickups",
	}, []string{"source"})

	RentalReturnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rental_returns_total",
		Help: "Total number of processed returns",
	}, []string{"source"})

	RentalDefectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rental_defects_registered_total",
		Help: "Total number of registered piece defects",
	})

	RentalStatusTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rental_status_transitions_total",
		Help: "Rental status changes caused by a recompute",
	}, []string{"from", "to"})

	RentalStatusRecomputeLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rental_status_recompute_latency_seconds",
		Help:    "Latency of rental status and deposit recomputation",
		Buckets: prometheus.DefBuckets,
	})

	RentalLateOrders = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rental_late_orders",
		Help: "Rental orders past their next action date at the last sweep",
	})

	PricingValidationFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pricing_validation_failures_total",
		Help: "Pricing rule writes rejected as duplicates",
	})

	PricingCacheLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pricing_cache_lookups_total",
		Help: "Pricing rule cache lookups",
	}, []string{"result"})

	PriceQuotesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "price_quotes_total",
		Help: "Total number of computed rental price quotes",
	})

	EventsPublishFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "events_publish_failed_total",
		Help: "Domain events that could not be published",
	}, []string{"event_type"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)

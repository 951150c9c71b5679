package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BookingsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stall_bookings_created_total",
		Help: "Total number of committed stall bookings",
	})

	BookingsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stall_bookings_failed_total",
		Help: "Total number of rejected or failed stall bookings",
	}, []string{"reason"})

	StallsBookedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stalls_booked_total",
		Help: "Total number of stalls linked to new reservations",
	})

	StallsCancelledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stalls_cancelled_total",
		Help: "Total number of cancelled stalls by branch",
	}, []string{"branch"})

	StallTogglesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stall_toggles_total",
		Help: "Total number of admin disable/enable toggles by outcome",
	}, []string{"outcome"})

	BookingLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stall_booking_latency_seconds",
		Help:    "Latency of the booking unit of work",
		Buckets: prometheus.DefBuckets,
	})

	SideChannelFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_side_channel_failures_total",
		Help: "Total number of swallowed post-commit failures",
	}, []string{"channel"})

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

package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WalletDepositsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wallet_deposits_total",
		Help: "Total number of wallet deposits recorded",
	})

	WalletDebitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wallet_debits_total",
		Help: "Total number of successful purchase debits",
	})

	WalletDebitsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_debits_failed_total",
		Help: "Total number of failed purchase debits",
	}, []string{"reason"})

	WalletRefundsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wallet_refunds_total",
		Help: "Total number of compensating refunds applied",
	})

	WalletDebitLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "wallet_debit_latency_seconds",
		Help:    "Latency of wallet debit operations",
		Buckets: prometheus.DefBuckets,
	})

	KeysImportedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "license_keys_imported_total",
		Help: "Total number of license keys imported",
	})

	KeysImportDuplicatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "license_keys_import_duplicates_total",
		Help: "Total number of key values rejected as duplicates on import",
	})

	KeysAllocatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "license_keys_allocated_total",
		Help: "Total number of license keys allocated to orders",
	})

	KeysReleasedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "license_keys_released_total",
		Help: "Total number of license keys released by compensation",
	})

	AllocationsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "key_allocations_failed_total",
		Help: "Total number of failed key allocations",
	}, []string{"reason"})

	KeyAllocationLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "key_allocation_latency_seconds",
		Help:    "Latency of key allocation operations",
		Buckets: prometheus.DefBuckets,
	})

	FulfillmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfillments_total",
		Help: "Total number of fulfillment attempts by outcome",
	}, []string{"outcome"})

	FulfillmentLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fulfillment_latency_seconds",
		Help:    "End-to-end latency of order fulfillment",
		Buckets: prometheus.DefBuckets,
	})

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

package verifier

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	verificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bmde_verifications_total",
		Help: "Verifications by operation and outcome (ok or a rejection reason).",
	}, []string{"operation", "outcome"})

	verificationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bmde_verification_duration_seconds",
		Help:    "Time to resolve, decrypt and reconstruct one order.",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
	}, []string{"operation"})

	revisionsPerChain = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bmde_chain_revisions",
		Help:    "Revisions reconstructed per verified chain.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	})

	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bmde_verification_cache_lookups_total",
		Help: "Verification cache lookups by result.",
	}, []string{"result"})

	recordErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bmde_record_errors_total",
		Help: "Failures writing audit or lineage events.",
	}, []string{"kind"})
)

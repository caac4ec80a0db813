// Package metrics holds the Prometheus collectors for the discovery pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "contactfinder_jobs_total",
		Help: "Jobs processed, by outcome (found, empty, error).",
	}, []string{"outcome"})

	JobDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "contactfinder_job_duration_seconds",
		Help:    "Wall time of one job from cascade start to persistence.",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
	})

	ContactsSelected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "contactfinder_contacts_selected_total",
		Help: "Contacts selected after scoring and validation, by source and tier.",
	}, []string{"source", "tier"})

	ProviderCostCents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "contactfinder_provider_cost_cents_total",
		Help: "Cents charged to the per-prospect ledger, by provider stage.",
	}, []string{"stage"})

	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "contactfinder_cache_lookups_total",
		Help: "Cache reads by payload kind and result (hit, miss, junk).",
	}, []string{"kind", "result"})

	StrategyResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "contactfinder_cascade_strategy_total",
		Help: "Scraping cascade strategy outcomes (found, empty, error).",
	}, []string{"strategy", "result"})

	SearchEngineBlocked = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "contactfinder_search_engine_blocked_total",
		Help: "Search requests answered with a CAPTCHA/blocking page.",
	}, []string{"engine"})

	Verifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "contactfinder_email_validations_total",
		Help: "Email validations by method and final status.",
	}, []string{"method", "status"})
)

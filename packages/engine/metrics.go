package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// evaluationsTotal counts evaluations by backend and outcome
	evaluationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "formula_evaluations_total",
		Help: "Formula evaluations by backend and outcome",
	}, []string{"backend", "outcome"})

	evaluationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "formula_evaluation_duration_seconds",
		Help:    "Formula evaluation duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10), // 0.1ms to ~26s
	}, []string{"backend"})

	undeterminedRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "formula_undetermined_rows_total",
		Help: "Result rows left without a value",
	}, []string{"backend"})
)

// outcome labels
const (
	outcomeOK         = "ok"
	outcomeSyntax     = "syntax_error"
	outcomeDependency = "dependency_error"
	outcomeTranslate  = "translation_error"
	outcomeResource   = "resource_error"
	outcomeOther      = "error"
)

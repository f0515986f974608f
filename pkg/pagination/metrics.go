package pagination

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pagesCommittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_pages_committed_total",
		Help: "Total pages written and checkpointed by collection",
	}, []string{"collection"})

	pagesReusedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_pages_reused_total",
		Help: "Total archived pages read back instead of fetched by collection",
	}, []string{"collection"})

	pageGapsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_page_gaps_total",
		Help: "Total pages skipped as malformed by collection",
	}, []string{"collection"})

	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_runs_total",
		Help: "Total collection runs by outcome",
	}, []string{"outcome"})

	storageRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_storage_retries_total",
		Help: "Total local retries of durable writes by operation",
	}, []string{"operation"})

	activeRuns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "harvest_active_runs",
		Help: "Number of collection runs currently in progress",
	})
)

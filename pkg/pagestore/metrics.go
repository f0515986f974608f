package pagestore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WritesTotal tracks durable page writes by backend
	WritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_pagestore_writes_total",
			Help: "Total number of archived page writes",
		},
		[]string{"backend"}, // "fs", "sqlite", "redis"
	)

	// BytesWritten tracks archived payload volume by backend
	BytesWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_pagestore_bytes_written_total",
			Help: "Total bytes of page payload archived",
		},
		[]string{"backend"},
	)

	// ErrorsTotal tracks page store operation errors
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_pagestore_errors_total",
			Help: "Total number of page store operation errors",
		},
		[]string{"backend", "operation"}, // "exists", "write", "read", "list"
	)
)

package checkpoint

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SavesTotal tracks successful checkpoint saves by backend
	SavesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_checkpoint_saves_total",
			Help: "Total number of checkpoint saves",
		},
		[]string{"backend"}, // "file", "redis", "memory"
	)

	// ErrorsTotal tracks checkpoint operation errors
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_checkpoint_errors_total",
			Help: "Total number of checkpoint operation errors",
		},
		[]string{"backend", "operation"}, // "load", "save", "delete", "list"
	)
)

package database

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	savepointRollbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "collectionstore",
		Name:      "savepoint_rollbacks_total",
		Help:      "Store operations rolled back to their savepoint.",
	}, []string{"op"})

	untrustworthyStates = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "collectionstore",
		Name:      "failed_rollbacks_total",
		Help:      "Rollbacks that failed and left the store untrustworthy.",
	})

	tableRebuilds = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "collectionstore",
		Name:      "table_rebuilds_total",
		Help:      "Album table rebuilds by schema operation.",
	}, []string{"op"})
)

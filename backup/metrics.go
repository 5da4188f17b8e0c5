package backup

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	backupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "collectionstore",
		Name:      "backups_total",
		Help:      "Backups and restores by kind and result.",
	}, []string{"kind", "result"})

	autosavesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "collectionstore",
		Name:      "autosaves_total",
		Help:      "Autosave attempts by result.",
	}, []string{"result"})
)

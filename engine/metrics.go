package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	linesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "logsieve",
		Name:      "lines_total",
		Help:      "Number of lines read from sources, by whether any parser matched them.",
	}, []string{"source", "result"})

	recordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "logsieve",
		Name:      "records_total",
		Help:      "Number of records produced, by parser.",
	}, []string{"parser"})

	flushesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "logsieve",
		Name:      "flushes_total",
		Help:      "Number of storage flushes, by result.",
	}, []string{"result"})
)

package metrics

import (
	"database/sql"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	ExecTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wharf_exec_total",
		Help: "Commands run through the executor pool, by backend and result",
	}, []string{"backend", "result"})

	ExecDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wharf_exec_duration_seconds",
		Help:    "Duration of executor commands",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
	}, []string{"backend"})

	ExecInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "wharf_exec_in_flight",
		Help: "Commands currently holding an executor slot",
	})

	FlowTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wharf_flows_total",
		Help: "Orchestration flows by name and result",
	}, []string{"flow", "result"})

	FlowDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wharf_flow_duration_seconds",
		Help:    "Duration of orchestration flows",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	}, []string{"flow"})

	ScheduledJobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wharf_scheduled_jobs_total",
		Help: "Durable scheduler jobs executed, by kind and resulting state",
	}, []string{"kind", "state"})
)

func init() {
	prometheus.MustRegister(ExecTotal, ExecDuration, ExecInFlight, FlowTotal, FlowDuration, ScheduledJobsTotal)
}

// Result maps an error to the "result" label value
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveFlow records one finished flow. Use as
// defer metrics.ObserveFlow("backup.pod", time.Now(), &err)
func ObserveFlow(flow string, started time.Time, err *error) {
	var e error
	if err != nil {
		e = *err
	}
	FlowTotal.WithLabelValues(flow, Result(e)).Inc()
	FlowDuration.WithLabelValues(flow).Observe(time.Since(started).Seconds())
}

// RegisterDBMetrics exposes database/sql connection pool statistics as Prometheus gauges.
func RegisterDBMetrics(db *sql.DB) {
	prometheus.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "wharf_db_open_conns",
			Help: "Number of established connections to the sqlite database",
		}, func() float64 {
			return float64(db.Stats().OpenConnections)
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "wharf_db_in_use_conns",
			Help: "Number of connections currently in use",
		}, func() float64 {
			return float64(db.Stats().InUse)
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "wharf_db_wait_count",
			Help: "Total number of connections waited for",
		}, func() float64 {
			return float64(db.Stats().WaitCount)
		}),
	)
}

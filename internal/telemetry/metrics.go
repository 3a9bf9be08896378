package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "conveyor",
		Name:      "runs_dispatched_total",
		Help:      "Runs created by the dispatcher.",
	}, []string{"category", "trigger"})

	runsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "conveyor",
		Name:      "runs_finished_total",
		Help:      "Runs that reached a terminal status.",
	}, []string{"category", "status"})

	stagesFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "conveyor",
		Name:      "stages_finished_total",
		Help:      "Stage executions by kind and terminal status.",
	}, []string{"kind", "status"})

	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "conveyor",
		Name:      "stage_duration_seconds",
		Help:      "Wall time of stage executions.",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 2400, 3600},
	}, []string{"kind"})

	brokerConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "conveyor",
		Name:      "mq_connected",
		Help:      "1 while the RabbitMQ connection is up.",
	})

	reportSubmissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "conveyor",
		Name:      "report_submissions_total",
		Help:      "Submissions to the results-tracking service.",
	}, []string{"result"})
)

// RunDispatched учитывает созданный run.
func RunDispatched(category, trigger string) {
	runsDispatched.WithLabelValues(category, trigger).Inc()
}

// RunFinished учитывает завершённый run.
func RunFinished(category, status string) {
	runsFinished.WithLabelValues(category, status).Inc()
}

// StageFinished учитывает завершённый stage и его длительность.
// Пропущенные stages учитываются без длительности.
func StageFinished(kind, status string, d time.Duration) {
	stagesFinished.WithLabelValues(kind, status).Inc()
	if d > 0 {
		stageDuration.WithLabelValues(kind).Observe(d.Seconds())
	}
}

// ReportSubmitted учитывает отправку отчёта: result = "ok" или "error".
func ReportSubmitted(ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	reportSubmissions.WithLabelValues(result).Inc()
}

// BrokerConnected отражает состояние соединения с RabbitMQ.
func BrokerConnected(up bool) {
	if up {
		brokerConnected.Set(1)
		return
	}
	brokerConnected.Set(0)
}

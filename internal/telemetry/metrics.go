package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики шлюза. Регистрируются в default registry;
// каждый процесс отдаёт их через promhttp на /metrics.
var (
	// TasksSubmitted — принятые задачи по топикам.
	TasksSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "courier_tasks_submitted_total",
		Help: "Total tasks accepted by the gateway",
	}, []string{"topic"})

	// TaskAttempts — попытки выполнения по топику и классу исхода.
	// outcome: succeeded, retrying, failed
	TaskAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "courier_task_attempts_total",
		Help: "Task dispatch attempts by outcome",
	}, []string{"topic", "outcome"})

	// CallbacksReceived — полученные webhook-уведомления.
	CallbacksReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "courier_callbacks_received_total",
		Help: "Total callbacks received on the webhook endpoint",
	})

	// SignalsSent — отправленные в движок сигналы возобновления.
	SignalsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "courier_signals_sent_total",
		Help: "Total resume signals delivered to the workflow engine",
	})

	// AuthRequests — события жизненного цикла токенов внешних API.
	// result: issued, invalidated, error
	AuthRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "courier_auth_requests_total",
		Help: "Credential lifecycle events by result",
	}, []string{"api_name", "result"})

	// TasksReclaimed — задачи, возвращённые в PENDING по истёкшей аренде.
	TasksReclaimed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "courier_tasks_reclaimed_total",
		Help: "Tasks returned to PENDING by lease reclamation",
	})
)

// RecordAttempt инкрементирует счётчик попыток.
func RecordAttempt(topic, outcome string) {
	TaskAttempts.WithLabelValues(topic, outcome).Inc()
}

// RecordAuth инкрементирует счётчик событий токенов.
func RecordAuth(apiName, result string) {
	AuthRequests.WithLabelValues(apiName, result).Inc()
}

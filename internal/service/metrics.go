package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus метрики сервисного слоя
var (
	// submissionsTotal - загрузки по результату (ok или категория ошибки).
	submissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "adalikm_submissions_total",
		Help: "Общее количество загрузок файлов по результату",
	}, []string{"result"})

	// redemptionsTotal - погашения ключей по результату.
	redemptionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "adalikm_redemptions_total",
		Help: "Общее количество попыток погашения ключей по результату",
	}, []string{"result"})

	// purgeRunsTotal - количество запусков очистки.
	purgeRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "adalikm_purge_runs_total",
		Help: "Общее количество запусков очистки",
	})

	// purgeDeletedTotal - количество удалённых записей каталога.
	purgeDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "adalikm_purge_artifacts_deleted_total",
		Help: "Общее количество артефактов, удалённых очисткой",
	})

	// purgePayloadErrorsTotal - ошибки удаления байтов при очистке.
	purgePayloadErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "adalikm_purge_payload_errors_total",
		Help: "Общее количество ошибок удаления файлов при очистке",
	})

	// purgeDurationSeconds - длительность очистки.
	purgeDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "adalikm_purge_duration_seconds",
		Help:    "Длительность очистки в секундах",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	})

	// rateLimitedTotal - запросы, отклонённые rate limiter.
	rateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "adalikm_rate_limited_total",
		Help: "Общее количество запросов, отклонённых ограничителем частоты",
	})

	// markUsedFailuresTotal - доставки, после которых ключ не удалось пометить.
	markUsedFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "adalikm_mark_used_failures_total",
		Help: "Количество доставок, после которых ключ не удалось пометить использованным",
	})
)

// resultLabel - значение лейбла result: "ok" или категория ошибки.
func resultLabel(e *Error) string {
	if e == nil {
		return OutcomeOK
	}
	return string(e.Kind)
}

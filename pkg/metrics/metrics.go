// Package metrics содержит Prometheus метрики ядра доставки событий
// и HTTP сервер для /metrics, /healthz, /readyz.
//
// Основные вопросы, на которые отвечают метрики:
//   - сколько записей outbox опубликовано и сколько упало (relay)
//   - сколько событий применено, отброшено как дубликат, упало (consumer)
//   - сколько сообщений ушло в retry-топики и в DLT (router)
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/fulfillment/pkg/logger"
)

// =============================================================================
// Метрики
// =============================================================================

var (
	// OutboxPublished — результат публикации записей outbox.
	// outbox_published_total{service="order", topic="order.created", status="published|failed"}
	OutboxPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_published_total",
			Help: "Публикации записей outbox по сервису, топику и результату",
		},
		[]string{"service", "topic", "status"},
	)

	// RelayBatchDuration — длительность одного цикла relay.
	RelayBatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "outbox_relay_batch_duration_seconds",
			Help:    "Длительность цикла Outbox Relay",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"service"},
	)

	// ConsumedEvents — исход обработки входящего события.
	// consumed_events_total{service="inventory", event_type="inventory.decrease", outcome="SUCCESS|DUPLICATE|FAILED"}
	ConsumedEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consumed_events_total",
			Help: "Обработанные события по типу и исходу",
		},
		[]string{"service", "event_type", "outcome"},
	)

	// RetryEscalations — переотправки в retry-топики и DLT.
	RetryEscalations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_escalations_total",
			Help: "Переотправки сообщений по исходному топику и целевому топику",
		},
		[]string{"topic", "target"},
	)

	// DeadLetters — сохранённые dead letter записи.
	DeadLetters = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dead_letters_total",
			Help: "Сохранённые dead letter записи по исходному топику",
		},
		[]string{"service", "topic"},
	)

	// SagaTimeouts — шаги саги, закрытые периодическим сканированием по таймауту.
	SagaTimeouts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saga_timeouts_total",
			Help: "Шаги саги, отменённые по таймауту",
		},
		[]string{"service"},
	)

	// TaskRestarts — перезапуски фоновых задач после ошибки.
	TaskRestarts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "background_task_restarts_total",
			Help: "Перезапуски фоновых задач после ошибки или паники",
		},
		[]string{"task"},
	)

	// RequestsTotal — запросы admin API.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "requests_total",
			Help: "Запросы admin API по сервису, пути и статусу",
		},
		[]string{"service", "method", "status"},
	)

	// RequestDuration — latency запросов admin API.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "request_duration_seconds",
			Help:    "Время выполнения запроса в секундах",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"service", "method"},
	)
)

// =============================================================================
// HTTP Server
// =============================================================================

// ReadinessChecker возвращает nil, если сервис готов принимать трафик.
type ReadinessChecker func(ctx context.Context) error

// Server — HTTP сервер метрик и проб.
type Server struct {
	httpServer     *http.Server
	service        string
	readinessCheck ReadinessChecker
}

// Option — функциональная опция Server.
type Option func(*Server)

// WithReadinessCheck подключает проверку зависимостей к /readyz.
func WithReadinessCheck(checker ReadinessChecker) Option {
	return func(s *Server) {
		s.readinessCheck = checker
	}
}

// NewServer создаёт сервер метрик на addr.
func NewServer(addr, service string, opts ...Option) *Server {
	s := &Server{service: service}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"alive"}`))
	})
	mux.HandleFunc("/readyz", s.handleReady)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Handler возвращает http.Handler сервера (для тестов).
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if s.readinessCheck == nil {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ready"}`))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := s.readinessCheck(ctx); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"not_ready"}`))
		logger.Warn().Err(err).Str("service", s.service).Msg("Проверка готовности не пройдена")
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ready"}`))
}

// Start запускает сервер. Блокирующий вызов.
func (s *Server) Start() error {
	logger.Info().Str("service", s.service).Str("addr", s.httpServer.Addr).Msg("Запуск Metrics Server")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown останавливает сервер.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// =============================================================================
// Помощники
// =============================================================================

// RecordRequest записывает метрики одного HTTP запроса.
func RecordRequest(service, method, status string, duration time.Duration) {
	RequestsTotal.WithLabelValues(service, method, status).Inc()
	RequestDuration.WithLabelValues(service, method).Observe(duration.Seconds())
}

// GinMetricsMiddleware собирает requests_total и request_duration_seconds для gin.
func GinMetricsMiddleware(service string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := "success"
		if c.Writer.Status() >= 400 {
			status = "error"
		}
		RecordRequest(service, c.FullPath(), status, time.Since(start))
	}
}

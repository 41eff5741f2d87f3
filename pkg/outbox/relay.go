package outbox

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"example.com/fulfillment/pkg/circuitbreaker"
	"example.com/fulfillment/pkg/db"
	"example.com/fulfillment/pkg/kafka"
	"example.com/fulfillment/pkg/logger"
	"example.com/fulfillment/pkg/metrics"
	"example.com/fulfillment/pkg/tracing"
)

// Leadership — необязательная блокировка единственного активного Relay.
type Leadership interface {
	// Acquire захватывает или продлевает лидерство. false — лидер другой экземпляр.
	Acquire(ctx context.Context) (bool, error)
}

// RelayConfig — настройки Outbox Relay.
type RelayConfig struct {
	// Service — имя сервиса для логов и метрик.
	Service string

	// Interval — период опроса таблицы outbox.
	Interval time.Duration

	// BatchSize — сколько записей резервируется за цикл.
	BatchSize int

	// PublishTimeout — предел ожидания подтверждения брокера для одной записи.
	PublishTimeout time.Duration

	// LockBudget — сколько цикл может публиковать, удерживая блокировки строк пачки.
	// Остаток пачки ждёт следующего цикла.
	LockBudget time.Duration
}

// DefaultRelayConfig возвращает конфигурацию по умолчанию.
func DefaultRelayConfig(service string) RelayConfig {
	return RelayConfig{
		Service:        service,
		Interval:       time.Second,
		BatchSize:      100,
		PublishTimeout: 3 * time.Second,
		LockBudget:     5 * time.Second,
	}
}

// RelayOption — функциональная опция Relay.
type RelayOption func(*Relay)

// WithBreaker оборачивает публикацию в circuit breaker.
func WithBreaker(b *circuitbreaker.Breaker) RelayOption {
	return func(r *Relay) { r.breaker = b }
}

// WithLeadership включает публикацию только на лидере.
func WithLeadership(l Leadership) RelayOption {
	return func(r *Relay) { r.leadership = l }
}

// Relay публикует записи outbox в Kafka.
// Доставка at-least-once: запись, опубликованная до падения транзакции, уйдёт повторно.
type Relay struct {
	tx         db.Transactor
	repo       Repository
	publisher  kafka.Publisher
	breaker    *circuitbreaker.Breaker
	leadership Leadership
	cfg        RelayConfig
	now        func() time.Time
}

// CycleResult — итог одного цикла Relay.
type CycleResult struct {
	Published int
	Failed    int
	Skipped   int
}

// NewRelay создаёт Relay.
func NewRelay(tx db.Transactor, repo Repository, publisher kafka.Publisher, cfg RelayConfig, opts ...RelayOption) *Relay {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 3 * time.Second
	}
	if cfg.LockBudget <= 0 {
		cfg.LockBudget = 5 * time.Second
	}

	r := &Relay{
		tx:        tx,
		repo:      repo,
		publisher: publisher,
		cfg:       cfg,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run запускает Relay. Блокирует выполнение до отмены контекста.
func (r *Relay) Run(ctx context.Context) {
	log := logger.FromContext(ctx).With().Str("service", r.cfg.Service).Logger()
	log.Info().
		Dur("interval", r.cfg.Interval).
		Int("batch_size", r.cfg.BatchSize).
		Bool("leader_lock", r.leadership != nil).
		Msg("Запуск Outbox Relay")

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Остановка Outbox Relay")
			return
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("Ошибка цикла Outbox Relay")
			}
		}
	}
}

// RunOnce выполняет один цикл: резервирует пачку, публикует, обновляет статусы.
// Резервирование и смена статусов идут в одной транзакции.
func (r *Relay) RunOnce(ctx context.Context) (CycleResult, error) {
	var res CycleResult

	if r.leadership != nil {
		leader, err := r.leadership.Acquire(ctx)
		if err != nil {
			return res, err
		}
		if !leader {
			return res, nil
		}
	}

	start := time.Now()
	defer func() {
		metrics.RelayBatchDuration.WithLabelValues(r.cfg.Service).Observe(time.Since(start).Seconds())
	}()

	err := r.tx.Transaction(ctx, func(tx *gorm.DB) error {
		repo := r.repo.WithTx(tx)

		records, err := repo.ListPending(ctx, r.cfg.BatchSize)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}

		logger.Ctx(ctx).Debug().
			Str("service", r.cfg.Service).
			Int("count", len(records)).
			Msg("Обработка записей outbox")

		// Ключи агрегатов, у которых в этом цикле уже упала публикация.
		blocked := make(map[string]bool)
		res = CycleResult{}

		for i, rec := range records {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if i > 0 && time.Since(start) >= r.cfg.LockBudget {
				res.Skipped += len(records) - i
				logger.Ctx(ctx).Warn().
					Str("service", r.cfg.Service).
					Int("skipped", len(records)-i).
					Msg("Бюджет цикла исчерпан, остаток пачки отложен")
				break
			}
			if blocked[rec.MessageKey] {
				res.Skipped++
				continue
			}

			pubErr := r.publish(ctx, rec)
			if pubErr == nil {
				if err := repo.MarkPublished(ctx, rec.ID, r.now()); err != nil {
					return err
				}
				res.Published++
				metrics.OutboxPublished.WithLabelValues(r.cfg.Service, rec.Topic, "published").Inc()
				continue
			}

			if err := repo.MarkFailed(ctx, rec.ID, pubErr); err != nil {
				return err
			}
			res.Failed++
			blocked[rec.MessageKey] = true
			metrics.OutboxPublished.WithLabelValues(r.cfg.Service, rec.Topic, "failed").Inc()

			if errors.Is(pubErr, circuitbreaker.ErrOpen) {
				// брокер недоступен, остаток пачки ждёт следующего цикла
				res.Skipped += len(records) - i - 1
				break
			}
		}
		return nil
	})
	if err != nil {
		return CycleResult{}, err
	}

	if res.Published > 0 || res.Failed > 0 {
		logger.Ctx(ctx).Info().
			Str("service", r.cfg.Service).
			Int("published", res.Published).
			Int("failed", res.Failed).
			Int("skipped", res.Skipped).
			Msg("Цикл Outbox Relay завершён")
	}
	return res, nil
}

// publish отправляет одну запись. Span продолжает трассу, сохранённую в заголовках записи.
func (r *Relay) publish(ctx context.Context, rec *Record) error {
	ctx = tracing.Extract(ctx, rec.Headers)
	ctx, span := tracing.Tracer().Start(ctx, "outbox.publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.destination.name", rec.Topic),
			attribute.String("outbox.id", rec.ID),
			attribute.String("event.type", rec.EventType),
		),
	)
	defer span.End()

	send := func() error {
		sendCtx, cancel := context.WithTimeout(ctx, r.cfg.PublishTimeout)
		defer cancel()
		return r.publisher.SendMessage(sendCtx, rec.Message())
	}

	var err error
	if r.breaker != nil {
		err = r.breaker.Execute(send)
	} else {
		err = send()
	}

	log := logger.FromContext(ctx).With().
		Str("outbox_id", rec.ID).
		Str("topic", rec.Topic).
		Str("event_type", rec.EventType).
		Str("key", rec.MessageKey).
		Logger()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error().Err(err).Int("attempts", rec.Attempts+1).Msg("Ошибка публикации записи outbox")
		return err
	}

	log.Debug().Msg("Запись outbox опубликована")
	return nil
}

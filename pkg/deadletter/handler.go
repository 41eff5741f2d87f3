package deadletter

import (
	"context"
	"time"

	"example.com/fulfillment/pkg/kafka"
	"example.com/fulfillment/pkg/logger"
	"example.com/fulfillment/pkg/metrics"
	"example.com/fulfillment/pkg/retry"
)

// Handler читает {topic}-dlt и сохраняет каждое сообщение в PENDING.
// Автоматической переобработки нет.
type Handler struct {
	repo    Repository
	service string
	now     func() time.Time

	// saveBackoff — пауза между попытками записи при недоступном хранилище.
	saveBackoff retry.Policy
}

// NewHandler создаёт Handler.
func NewHandler(repo Repository, service string) *Handler {
	return &Handler{
		repo:    repo,
		service: service,
		now:     time.Now,
		saveBackoff: retry.Policy{
			BaseDelay:  100 * time.Millisecond,
			Multiplier: 2,
			MaxDelay:   5 * time.Second,
		},
	}
}

// WithSaveBackoff задаёт паузы между попытками записи.
func (h *Handler) WithSaveBackoff(p retry.Policy) *Handler {
	h.saveBackoff = p
	return h
}

// Handle сохраняет сообщение. Запись повторяется, пока хранилище не ответит
// или не завершится ctx. Ошибка возвращается только при остановке: offset не коммитится.
func (h *Handler) Handle(ctx context.Context, msg *kafka.Message) error {
	rec := NewRecord(msg, h.now())

	log := logger.FromContext(ctx).With().
		Str("original_topic", rec.Topic).
		Int("original_partition", rec.Partition).
		Int64("original_offset", rec.Offset).
		Str("event_type", rec.EventType).
		Str("message_key", rec.MessageKey).
		Logger()

	var created bool
	err := retry.Until(ctx, h.saveBackoff, func(ctx context.Context) error {
		var err error
		created, err = h.repo.Save(ctx, rec)
		return err
	}, func(try int, err error) {
		log.Error().Err(err).Int("try", try).Msg("Ошибка сохранения dead letter, повтор")
	})
	if err != nil {
		log.Error().Err(err).Msg("Dead letter не сохранён")
		return err
	}
	if !created {
		log.Info().Msg("Dead letter уже сохранён, повторное чтение DLT")
		return nil
	}

	metrics.DeadLetters.WithLabelValues(h.service, rec.Topic).Inc()
	log.Error().
		Str("dead_letter_id", rec.ID).
		Str("exception", rec.ExceptionMessage).
		Str("failed_at", rec.FailedAt.Format(time.RFC3339Nano)).
		Str("payload", truncate(string(rec.Payload), 1000)).
		Str("stack", rec.StackTrace).
		Msg("Сообщение сохранено в dead letter")
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

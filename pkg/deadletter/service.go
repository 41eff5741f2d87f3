package deadletter

import (
	"context"
	"fmt"
	"time"

	"example.com/fulfillment/pkg/kafka"
	"example.com/fulfillment/pkg/logger"
)

// Service — операции оператора над dead letter записями.
type Service struct {
	repo      Repository
	publisher kafka.Publisher
	now       func() time.Time
}

// NewService создаёт Service. publisher нужен только для Replay.
func NewService(repo Repository, publisher kafka.Publisher) *Service {
	return &Service{repo: repo, publisher: publisher, now: time.Now}
}

// List возвращает записи по статусу.
func (s *Service) List(ctx context.Context, status Status, limit int) ([]*Record, error) {
	if status != "" && !status.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	return s.repo.List(ctx, status, limit)
}

// Get возвращает запись.
func (s *Service) Get(ctx context.Context, id string) (*Record, error) {
	return s.repo.Get(ctx, id)
}

// Transition переводит запись в статус to по решению оператора.
func (s *Service) Transition(ctx context.Context, id string, to Status, memo string) (*Record, error) {
	rec, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	from := rec.Status
	if err := rec.Transition(to, memo, s.now()); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, rec, from); err != nil {
		return nil, err
	}

	logger.Ctx(ctx).Info().
		Str("dead_letter_id", rec.ID).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("Статус dead letter изменён")
	return rec, nil
}

// Replay вручную переотправляет сообщение в исходный топик.
// Запись проходит PROCESSING и завершается PROCESSED или RETRY_FAILED.
func (s *Service) Replay(ctx context.Context, id, memo string) (*Record, error) {
	rec, err := s.Transition(ctx, id, StatusProcessing, memo)
	if err != nil {
		return nil, err
	}

	log := logger.FromContext(ctx).With().
		Str("dead_letter_id", rec.ID).
		Str("topic", rec.Topic).
		Int("retry_count", rec.RetryCount).
		Logger()

	to := StatusProcessed
	pubErr := s.publisher.SendMessage(ctx, rec.Replay())
	if pubErr != nil {
		to = StatusRetryFailed
		log.Error().Err(pubErr).Msg("Ошибка переотправки dead letter")
	}

	if err := rec.Transition(to, "", s.now()); err != nil {
		return nil, err
	}
	if err := s.repo.Update(context.WithoutCancel(ctx), rec, StatusProcessing); err != nil {
		return nil, err
	}
	if pubErr != nil {
		return rec, fmt.Errorf("переотправка не удалась: %w", pubErr)
	}

	log.Info().Msg("Dead letter переотправлен в исходный топик")
	return rec, nil
}

package retry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"example.com/fulfillment/pkg/kafka"
	"example.com/fulfillment/pkg/logger"
)

// Source — подписка на один топик. Реализуется kafka.Consumer.
type Source interface {
	Consume(ctx context.Context, handler kafka.MessageHandler) error
	Close() error
}

// SourceFactory открывает подписку на топик.
type SourceFactory func(topic string) (Source, error)

// Runner обрабатывает исходный топик и его retry-топики одним обработчиком.
// Перед повтором ждёт retry_not_before, при ошибке эскалирует сообщение через Router.
type Runner struct {
	topic   string
	handler kafka.MessageHandler
	router  *Router
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewRunner создаёт Runner для топика.
func NewRunner(topic string, handler kafka.MessageHandler, router *Router) *Runner {
	return &Runner{
		topic:   topic,
		handler: handler,
		router:  router,
		now:     time.Now,
		sleep:   sleep,
	}
}

// Topics возвращает исходный топик и его retry-топики.
func (rn *Runner) Topics() []string {
	chain := rn.router.Chain(rn.topic)
	topics := []string{rn.topic}
	for _, s := range chain.Steps {
		topics = append(topics, s.Topic)
	}
	return topics
}

// Handle обрабатывает одно сообщение. nil — сообщение обработано или эскалировано,
// offset можно коммитить. Ошибка — эскалация не удалась, offset не коммитится.
func (rn *Runner) Handle(ctx context.Context, msg *kafka.Message) error {
	if nb := NotBefore(msg); !nb.IsZero() {
		if wait := nb.Sub(rn.now()); wait > 0 {
			logger.Ctx(ctx).Debug().
				Dur("wait", wait).
				Int("attempt", Attempt(msg)).
				Msg("Ожидание времени повтора")
			if err := rn.sleep(ctx, wait); err != nil {
				return err
			}
		}
	}

	err := rn.handler(ctx, msg)
	if err == nil {
		return nil
	}

	if _, escErr := rn.router.Escalate(ctx, msg, err); escErr != nil {
		return fmt.Errorf("обработка не удалась (%v), эскалация не удалась: %w", err, escErr)
	}
	return nil
}

// Run подписывается на все топики цепочки и обрабатывает их до отмены ctx.
func (rn *Runner) Run(ctx context.Context, open SourceFactory) error {
	topics := rn.Topics()
	sources := make([]Source, 0, len(topics))
	for _, topic := range topics {
		src, err := open(topic)
		if err != nil {
			for _, s := range sources {
				_ = s.Close()
			}
			return fmt.Errorf("ошибка подписки на %s: %w", topic, err)
		}
		sources = append(sources, src)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	for i, src := range sources {
		wg.Add(1)
		go func(topic string, src Source) {
			defer wg.Done()
			defer func() { _ = src.Close() }()

			err := src.Consume(ctx, rn.Handle)
			if err != nil && ctx.Err() == nil {
				logger.Ctx(ctx).Error().Err(err).Str("topic", topic).Msg("Подписка остановлена с ошибкой")
				once.Do(func() {
					firstErr = err
					cancel()
				})
			}
		}(topics[i], src)
	}
	wg.Wait()

	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}

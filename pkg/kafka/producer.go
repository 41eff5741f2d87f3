package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"example.com/fulfillment/pkg/logger"
	"example.com/fulfillment/pkg/tracing"
)

// Publisher — клиент брокера, внедряемый в Relay и Router.
// Интерфейс для тестируемости (Dependency Inversion).
type Publisher interface {
	SendMessage(ctx context.Context, msg *Message) error
}

// messageWriter — часть kafka.Writer, которой пользуется Producer.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer публикует сообщения в Kafka синхронно, дожидаясь подтверждения всех реплик.
type Producer struct {
	writer messageWriter
}

// NewProducer создаёт Producer.
// Балансировщик Hash: одинаковый ключ агрегата всегда попадает в одну партицию.
func NewProducer(cfg Config) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("не указаны брокеры Kafka")
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafka.RequireAll,
		WriteTimeout:           10 * time.Second,
		AllowAutoTopicCreation: false,
	}

	logger.Info().Strs("brokers", cfg.Brokers).Msg("Создан Kafka Producer")
	return &Producer{writer: writer}, nil
}

// SendMessage публикует сообщение и ждёт подтверждения брокера.
// Добавляет timestamp, trace_id, correlation_id и traceparent, если их ещё нет.
func (p *Producer) SendMessage(ctx context.Context, msg *Message) error {
	if msg.Headers == nil {
		msg.Headers = make(map[string]string)
	}

	if _, ok := msg.Headers[HeaderTraceID]; !ok {
		if traceID := logger.TraceIDFromContext(ctx); traceID != "" {
			msg.Headers[HeaderTraceID] = traceID
		} else if traceID := tracing.TraceID(ctx); traceID != "" {
			msg.Headers[HeaderTraceID] = traceID
		}
	}
	if _, ok := msg.Headers[HeaderCorrelationID]; !ok {
		if correlationID := logger.CorrelationIDFromContext(ctx); correlationID != "" {
			msg.Headers[HeaderCorrelationID] = correlationID
		}
	}
	if _, ok := msg.Headers[HeaderTimestamp]; !ok {
		msg.Headers[HeaderTimestamp] = time.Now().UTC().Format(time.RFC3339Nano)
	}
	tracing.Inject(ctx, msg.Headers)

	if err := p.writer.WriteMessages(ctx, msg.toKafkaMessage()); err != nil {
		return fmt.Errorf("ошибка отправки в Kafka (topic=%s): %w", msg.Topic, err)
	}

	logger.Ctx(ctx).Debug().
		Str("topic", msg.Topic).
		Str("key", string(msg.Key)).
		Str("event_type", msg.Header(HeaderEventType)).
		Msg("Сообщение отправлено в Kafka")

	return nil
}

// Close закрывает writer.
func (p *Producer) Close() error {
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("ошибка закрытия producer: %w", err)
	}
	logger.Info().Msg("Kafka Producer закрыт")
	return nil
}

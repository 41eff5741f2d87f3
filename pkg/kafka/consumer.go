package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"example.com/fulfillment/pkg/logger"
)

// MessageHandler обрабатывает одно сообщение.
// Ненулевая ошибка означает, что сообщение не обработано и не переотправлено:
// offset не коммитится, обработка партиции останавливается до ребаланса.
type MessageHandler func(ctx context.Context, msg *Message) error

// messageReader — часть kafka.Reader, которой пользуется Consumer.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// partitionQueueSize — сколько прочитанных сообщений может ждать воркера одной партиции.
const partitionQueueSize = 64

// fetchErrorPause — пауза после ошибки чтения, чтобы не крутить цикл при недоступном брокере.
const fetchErrorPause = 500 * time.Millisecond

// Consumer читает топик в составе consumer group.
// Каждой партиции соответствует свой воркер: партиции обрабатываются параллельно,
// внутри партиции порядок сохраняется.
type Consumer struct {
	reader messageReader
	topic  string
	group  string
}

// NewConsumer создаёт Consumer для топика.
func NewConsumer(cfg Config, topic, groupID string) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("не указаны брокеры Kafka")
	}
	if topic == "" {
		return nil, errors.New("не указан топик")
	}
	if groupID == "" {
		return nil, errors.New("не указан group ID")
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        100 * time.Millisecond,
		CommitInterval: time.Second,
		StartOffset:    kafka.FirstOffset,
	})

	logger.Info().
		Strs("brokers", cfg.Brokers).
		Str("topic", topic).
		Str("group_id", groupID).
		Msg("Создан Kafka Consumer")

	return &Consumer{reader: reader, topic: topic, group: groupID}, nil
}

// Topic возвращает топик консьюмера.
func (c *Consumer) Topic() string {
	return c.topic
}

// Consume читает сообщения до отмены ctx. Блокирующий вызов.
func (c *Consumer) Consume(ctx context.Context, handler MessageHandler) error {
	log := logger.FromContext(ctx).With().Str("topic", c.topic).Str("group_id", c.group).Logger()
	log.Info().Msg("Запуск чтения сообщений из Kafka")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	queues := make(map[int]chan *Message)
	defer func() {
		for _, q := range queues {
			close(q)
		}
		wg.Wait()
	}()

	for {
		raw, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info().Msg("Остановка Consumer")
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("reader %s закрыт: %w", c.topic, err)
			}
			log.Error().Err(err).Msg("Ошибка чтения сообщения из Kafka")
			select {
			case <-time.After(fetchErrorPause):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		msg := fromKafkaMessage(raw)
		q, ok := queues[msg.Partition]
		if !ok {
			q = make(chan *Message, partitionQueueSize)
			queues[msg.Partition] = q
			wg.Add(1)
			go func(partition int, q <-chan *Message) {
				defer wg.Done()
				c.runPartition(ctx, partition, q, handler)
			}(msg.Partition, q)
		}

		select {
		case q <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// runPartition последовательно обрабатывает сообщения одной партиции.
func (c *Consumer) runPartition(ctx context.Context, partition int, q <-chan *Message, handler MessageHandler) {
	stopped := false
	for msg := range q {
		if stopped || ctx.Err() != nil {
			continue
		}

		msgCtx := contextFromMessage(ctx, msg)
		log := logger.FromContext(msgCtx)

		if err := c.handle(msgCtx, msg, handler); err != nil {
			log.Error().Err(err).Msg("Сообщение не обработано, партиция остановлена до ребаланса")
			stopped = true
			continue
		}

		if err := c.reader.CommitMessages(ctx, kafka.Message{
			Topic:     msg.Topic,
			Partition: msg.Partition,
			Offset:    msg.Offset,
		}); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Int("partition", partition).Msg("Ошибка коммита offset")
		}
	}
}

// handle вызывает обработчик и превращает панику в ошибку.
func (c *Consumer) handle(ctx context.Context, msg *Message, handler MessageHandler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("паника в обработчике сообщения: %v", r)
		}
	}()
	return handler(ctx, msg)
}

// Close закрывает reader.
func (c *Consumer) Close() error {
	if err := c.reader.Close(); err != nil {
		return fmt.Errorf("ошибка закрытия consumer %s: %w", c.topic, err)
	}
	logger.Info().Str("topic", c.topic).Msg("Kafka Consumer закрыт")
	return nil
}

// Package kafka — обёртки над kafka-go для доставки доменных событий между сервисами.
// Producer публикует с ключом агрегата (hash-партиционирование),
// Consumer обрабатывает партиции параллельно, а сообщения внутри партиции — строго по порядку.
package kafka

import (
	"context"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"example.com/fulfillment/pkg/logger"
)

// Ключи заголовков сообщений.
const (
	// HeaderEventType — тег схемы события для полиморфного декодирования.
	HeaderEventType = "event_type"

	// HeaderSchemaVersion — версия схемы payload.
	HeaderSchemaVersion = "schema_version"

	// HeaderOutboxID — id записи outbox, из которой опубликовано сообщение.
	HeaderOutboxID = "outbox_id"

	// HeaderTraceID — trace id для логов.
	HeaderTraceID = "trace_id"

	// HeaderCorrelationID — связывает все события одной саги.
	HeaderCorrelationID = "correlation_id"

	// HeaderTimestamp — время публикации.
	HeaderTimestamp = "timestamp"
)

// Config — подключение к Kafka.
type Config struct {
	Brokers       []string
	ConsumerGroup string
}

// Message — сообщение Kafka с метаданными.
type Message struct {
	Key       []byte
	Value     []byte
	Topic     string
	Partition int
	Offset    int64
	Headers   map[string]string
	Time      time.Time
}

// Header возвращает значение заголовка или пустую строку.
func (m *Message) Header(key string) string {
	if m.Headers == nil {
		return ""
	}
	return m.Headers[key]
}

// HeaderInt возвращает числовой заголовок или def, если его нет или он не число.
func (m *Message) HeaderInt(key string, def int) int {
	v, err := strconv.Atoi(m.Header(key))
	if err != nil {
		return def
	}
	return v
}

// Clone возвращает копию сообщения с собственной картой заголовков.
// Router меняет заголовки при переотправке, исходное сообщение остаётся нетронутым.
func (m *Message) Clone() *Message {
	c := *m
	c.Headers = make(map[string]string, len(m.Headers))
	for k, v := range m.Headers {
		c.Headers[k] = v
	}
	return &c
}

func fromKafkaMessage(m kafka.Message) *Message {
	headers := make(map[string]string, len(m.Headers))
	for _, h := range m.Headers {
		headers[h.Key] = string(h.Value)
	}

	return &Message{
		Key:       m.Key,
		Value:     m.Value,
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Headers:   headers,
		Time:      m.Time,
	}
}

func (m *Message) toKafkaMessage() kafka.Message {
	headers := make([]kafka.Header, 0, len(m.Headers))
	for k, v := range m.Headers {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}

	return kafka.Message{
		Key:     m.Key,
		Value:   m.Value,
		Topic:   m.Topic,
		Headers: headers,
		Time:    m.Time,
	}
}

// contextFromMessage переносит trace_id/correlation_id и координаты сообщения в контекст логгера.
func contextFromMessage(ctx context.Context, msg *Message) context.Context {
	ctx = logger.NewContextWithIDs(ctx, msg.Header(HeaderTraceID), msg.Header(HeaderCorrelationID))
	return logger.WithMessage(ctx, msg.Topic, msg.Partition, msg.Offset)
}

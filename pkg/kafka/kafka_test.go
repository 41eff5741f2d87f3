package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Фейки kafka-go
// =============================================================================

// fakeReader отдаёт заранее заданные сообщения, затем блокируется до отмены контекста.
type fakeReader struct {
	mu        sync.Mutex
	messages  []kafka.Message
	committed []kafka.Message
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.messages) > 0 {
		m := r.messages[0]
		r.messages = r.messages[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) committedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.committed)
}

// fakeWriter запоминает записанные сообщения.
type fakeWriter struct {
	written []kafka.Message
	err     error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.written = append(w.written, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

// =============================================================================
// Тесты
// =============================================================================

func TestMessage_Headers(t *testing.T) {
	msg := &Message{Headers: map[string]string{"retry_attempt": "2", "bad": "x"}}

	assert.Equal(t, 2, msg.HeaderInt("retry_attempt", 0))
	assert.Equal(t, 7, msg.HeaderInt("bad", 7))
	assert.Equal(t, 0, msg.HeaderInt("missing", 0))
	assert.Equal(t, "", (&Message{}).Header("any"))
}

func TestMessage_CloneНеДелитЗаголовки(t *testing.T) {
	orig := &Message{Topic: "order.created", Headers: map[string]string{"event_type": "order.created"}}

	c := orig.Clone()
	c.Headers["retry_attempt"] = "1"

	assert.NotContains(t, orig.Headers, "retry_attempt")
	assert.Equal(t, "order.created", c.Topic)
}

func TestConversion_RoundTrip(t *testing.T) {
	msg := &Message{
		Key:     []byte("order-100"),
		Value:   []byte(`{"orderId":"100"}`),
		Topic:   "order.created",
		Headers: map[string]string{HeaderEventType: "order.created"},
	}

	back := fromKafkaMessage(msg.toKafkaMessage())

	assert.Equal(t, msg.Key, back.Key)
	assert.Equal(t, msg.Value, back.Value)
	assert.Equal(t, msg.Topic, back.Topic)
	assert.Equal(t, "order.created", back.Header(HeaderEventType))
}

func TestProducer_SendMessage_ДобавляетЗаголовки(t *testing.T) {
	w := &fakeWriter{}
	p := &Producer{writer: w}

	err := p.SendMessage(context.Background(), &Message{
		Topic: "order.created",
		Key:   []byte("order-100"),
		Value: []byte(`{}`),
	})
	require.NoError(t, err)
	require.Len(t, w.written, 1)

	headers := fromKafkaMessage(w.written[0]).Headers
	assert.NotEmpty(t, headers[HeaderTimestamp])
	assert.Equal(t, "order-100", string(w.written[0].Key))
}

func TestProducer_SendMessage_ОшибкаБрокера(t *testing.T) {
	brokerErr := errors.New("leader not available")
	p := &Producer{writer: &fakeWriter{err: brokerErr}}

	err := p.SendMessage(context.Background(), &Message{Topic: "order.created"})

	assert.ErrorIs(t, err, brokerErr)
}

func TestConsumer_ПорядокВнутриПартиции(t *testing.T) {
	reader := &fakeReader{}
	for i := 0; i < 5; i++ {
		reader.messages = append(reader.messages,
			kafka.Message{Topic: "inventory.decrease", Partition: 0, Offset: int64(i)},
			kafka.Message{Topic: "inventory.decrease", Partition: 1, Offset: int64(i)},
		)
	}
	c := &Consumer{reader: reader, topic: "inventory.decrease", group: "test"}

	var mu sync.Mutex
	seen := map[int][]int64{}
	handler := func(_ context.Context, msg *Message) error {
		mu.Lock()
		seen[msg.Partition] = append(seen[msg.Partition], msg.Offset)
		mu.Unlock()
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Consume(ctx, handler) }()

	require.Eventually(t, func() bool { return reader.committedCount() == 10 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int64{0, 1, 2, 3, 4}, seen[0])
	assert.Equal(t, []int64{0, 1, 2, 3, 4}, seen[1])
}

func TestConsumer_ОшибкаОбработчикаНеКоммитится(t *testing.T) {
	reader := &fakeReader{messages: []kafka.Message{
		{Topic: "t", Partition: 0, Offset: 0},
		{Topic: "t", Partition: 0, Offset: 1},
	}}
	c := &Consumer{reader: reader, topic: "t", group: "test"}

	var calls int
	var mu sync.Mutex
	handler := func(_ context.Context, msg *Message) error {
		mu.Lock()
		calls++
		mu.Unlock()
		if msg.Offset == 0 {
			panic("сломанный обработчик")
		}
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Consume(ctx, handler) }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 1
	}, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, 0, reader.committedCount())
	mu.Lock()
	assert.Equal(t, 1, calls, "после ошибки партиция остановлена")
	mu.Unlock()
}

func TestSpecs(t *testing.T) {
	specs := Specs([]string{"a", "b"}, 3, 1)

	require.Len(t, specs, 2)
	assert.Equal(t, TopicSpec{Name: "b", Partitions: 3, ReplicationFactor: 1}, specs[1])
}

func TestNewConsumer_Валидация(t *testing.T) {
	_, err := NewConsumer(Config{}, "t", "g")
	assert.Error(t, err)

	_, err = NewConsumer(Config{Brokers: []string{"localhost:9092"}}, "", "g")
	assert.Error(t, err)

	_, err = NewConsumer(Config{Brokers: []string{"localhost:9092"}}, "t", "")
	assert.Error(t, err)
}

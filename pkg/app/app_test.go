package app

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/fulfillment/pkg/config"
	"example.com/fulfillment/pkg/events"
	"example.com/fulfillment/pkg/kafka"
	"example.com/fulfillment/pkg/retry"
)

func newTestApp() *App {
	return &App{
		Name: "order",
		Cfg: &config.Config{Retry: config.RetryConfig{
			Attempts: 2, BaseDelay: time.Second, Multiplier: 2, MaxDelay: 10 * time.Second,
		}},
		Registry: events.Default(),
	}
}

func noop(context.Context, *kafka.Message) error { return nil }

func TestApp_Topics(t *testing.T) {
	a := newTestApp()
	a.Subscribe(events.TypePaymentConfirmed, noop)

	topics := a.Topics()

	for _, typ := range events.AllTypes() {
		assert.Contains(t, topics, typ, "топик каждого события создаётся всегда")
	}
	assert.Contains(t, topics, "payment.confirmed-retry-0")
	assert.Contains(t, topics, "payment.confirmed-retry-1")
	assert.Contains(t, topics, "payment.confirmed-dlt")
	assert.NotContains(t, topics, "payment.confirmed-retry-2")
	assert.NotContains(t, topics, "order.created-dlt", "цепочка строится только для подписок")
	assert.IsIncreasing(t, topics)
}

func TestApp_RetryPolicyFromConfig(t *testing.T) {
	p := newTestApp().RetryPolicy()

	assert.Equal(t, 2, p.Attempts)
	assert.Equal(t, time.Second, p.Delay(0))
	assert.Equal(t, 2*time.Second, p.Delay(1))
}

func TestApp_SubscribedTypesKnownToRegistry(t *testing.T) {
	a := newTestApp()
	a.Subscribe(events.TypePaymentConfirmed, noop)
	a.Subscribe(events.TypeInventoryShortage, noop)

	require.Equal(t, []string{events.TypePaymentConfirmed, events.TypeInventoryShortage}, a.SubscribedTypes())
	assert.NoError(t, a.Registry.Validate(a.SubscribedTypes()...))

	a.Subscribe("unknown.event", noop)
	assert.Error(t, a.Registry.Validate(a.SubscribedTypes()...))
}

func TestSupervise(t *testing.T) {
	fast := retry.Policy{BaseDelay: time.Millisecond, Multiplier: 1}

	tests := []struct {
		name      string
		failures  int32
		panics    bool
		wantCalls int32
	}{
		{name: "ошибка перезапускает задачу", failures: 2, wantCalls: 3},
		{name: "паника перезапускает задачу", failures: 1, panics: true, wantCalls: 2},
		{name: "успешное завершение без перезапуска", failures: 0, wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			run := func(context.Context) error {
				n := calls.Add(1)
				if n <= tt.failures {
					if tt.panics {
						panic("источник закрыт")
					}
					return errors.New("reader закрыт")
				}
				return nil
			}

			supervise(context.Background(), zerolog.Nop(), "consumer:order.created", run, fast)

			assert.Equal(t, tt.wantCalls, calls.Load())
		})
	}
}

func TestSupervise_ОстановкаПоКонтексту(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32

	done := make(chan struct{})
	go func() {
		defer close(done)
		supervise(ctx, zerolog.Nop(), "outbox-relay", func(ctx context.Context) error {
			calls.Add(1)
			<-ctx.Done()
			return ctx.Err()
		}, retry.Policy{BaseDelay: time.Millisecond})
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("supervise не остановился после отмены контекста")
	}
	assert.Equal(t, int32(1), calls.Load())
}

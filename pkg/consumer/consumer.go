// Package consumer связывает декодирование события, ledger идемпотентности и доменный эффект
// в один kafka.MessageHandler.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"example.com/fulfillment/pkg/events"
	"example.com/fulfillment/pkg/idempotency"
	"example.com/fulfillment/pkg/kafka"
	"example.com/fulfillment/pkg/retry"
	"example.com/fulfillment/pkg/tracing"
)

// ErrEmptyKey — у события нет естественного ключа.
var ErrEmptyKey = errors.New("пустой ключ идемпотентности события")

// Effect — доменный эффект события E. tx — транзакция ledger, в ней же пишется outbox.
type Effect[E events.Event] func(ctx context.Context, tx *gorm.DB, evt E) error

// Handle возвращает обработчик сообщений типа E.
//
// Ошибки декодирования помечаются как неисправимые: сообщение уходит сразу в DLT.
// Паника эффекта превращается в ошибку со стеком и проходит обычную цепочку повторов.
func Handle[E events.Event](reg *events.Registry, guard *idempotency.Guard, effect Effect[E]) kafka.MessageHandler {
	return func(ctx context.Context, msg *kafka.Message) error {
		eventType := msg.Header(kafka.HeaderEventType)
		if eventType == "" {
			eventType = retry.OriginOf(msg).Topic
		}

		ctx = tracing.Extract(ctx, msg.Headers)
		ctx, span := tracing.Tracer().Start(ctx, "event.consume",
			trace.WithSpanKind(trace.SpanKindConsumer),
			trace.WithAttributes(
				attribute.String("messaging.source.name", msg.Topic),
				attribute.String("event.type", eventType),
				attribute.Int("retry.attempt", retry.Attempt(msg)),
			),
		)
		defer span.End()

		err := handle(ctx, reg, guard, effect, eventType, msg)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return err
	}
}

func handle[E events.Event](
	ctx context.Context,
	reg *events.Registry,
	guard *idempotency.Guard,
	effect Effect[E],
	eventType string,
	msg *kafka.Message,
) error {
	decoded, err := reg.Decode(eventType, msg.Value)
	if err != nil {
		return retry.Permanent(err)
	}
	evt, ok := decoded.(E)
	if !ok {
		return retry.Permanent(fmt.Errorf("%w: %s не подходит обработчику %T", events.ErrUnknownEventType, eventType, *new(E)))
	}

	key := evt.NaturalKey()
	if key == "" {
		return retry.Permanent(fmt.Errorf("%w: %s", ErrEmptyKey, eventType))
	}

	d := idempotency.Delivery{EventType: eventType, EventKey: key, Payload: msg.Value}
	_, err = guard.Process(ctx, d, func(ctx context.Context, tx *gorm.DB) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = retry.WithStackTrace(fmt.Errorf("паника в обработчике %s: %v", eventType, r), debug.Stack())
			}
		}()
		return retry.WithStack(effect(ctx, tx, evt))
	})
	return err
}

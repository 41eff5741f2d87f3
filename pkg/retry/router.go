package retry

import (
	"context"
	"fmt"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"example.com/fulfillment/pkg/kafka"
	"example.com/fulfillment/pkg/logger"
	"example.com/fulfillment/pkg/metrics"
)

// maxExceptionLen — предел длины сообщения об ошибке в заголовке.
const maxExceptionLen = 4000

// Router переотправляет неудачно обработанное сообщение на следующую ступень цепочки.
// Семантику payload он не разбирает: решение зависит только от номера попытки и типа ошибки.
type Router struct {
	publisher kafka.Publisher
	policy    Policy
	now       func() time.Time

	// publishBackoff — пауза между попытками переотправки при недоступном брокере.
	publishBackoff Policy

	mu     sync.Mutex
	chains map[string]Chain
}

// NewRouter создаёт Router.
func NewRouter(publisher kafka.Publisher, policy Policy) *Router {
	return &Router{
		publisher: publisher,
		policy:    policy,
		now:       time.Now,
		publishBackoff: Policy{
			BaseDelay:  100 * time.Millisecond,
			Multiplier: 2,
			MaxDelay:   5 * time.Second,
		},
		chains: make(map[string]Chain),
	}
}

// Chain возвращает цепочку эскалации для исходного топика.
func (r *Router) Chain(topic string) Chain {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.chains[topic]
	if !ok {
		c = NewChain(topic, r.policy)
		r.chains[topic] = c
	}
	return c
}

// Escalation — куда отправлено сообщение.
type Escalation struct {
	Target     string
	Attempt    int
	Delay      time.Duration
	DeadLetter bool
}

// Escalate отправляет копию msg на следующую ступень или в DLT.
// Переотправка повторяется до успеха или отмены ctx: сообщение не теряется.
func (r *Router) Escalate(ctx context.Context, msg *kafka.Message, cause error) (Escalation, error) {
	origin := OriginOf(msg)
	chain := r.Chain(origin.Topic)
	attempt := Attempt(msg)
	now := r.now().UTC()

	esc := Escalation{Attempt: attempt + 1}
	if IsPermanent(cause) {
		esc.Target = chain.DeadLetter
		esc.DeadLetter = true
	} else {
		step, ok := chain.Next(attempt)
		esc.Target = step.Topic
		esc.Delay = step.Delay
		esc.DeadLetter = !ok
	}

	out := msg.Clone()
	out.Topic = esc.Target
	setOrigin(out, origin)
	out.Headers[HeaderAttempt] = strconv.Itoa(esc.Attempt)
	out.Headers[HeaderException] = truncate(cause.Error(), maxExceptionLen)
	out.Headers[HeaderFailedAt] = now.Format(time.RFC3339Nano)
	if esc.DeadLetter {
		delete(out.Headers, HeaderNotBefore)
		stack := StackOf(cause)
		if stack == "" {
			stack = string(debug.Stack())
		}
		out.Headers[HeaderStacktrace] = stack
	} else {
		out.Headers[HeaderNotBefore] = strconv.FormatInt(now.Add(esc.Delay).UnixMilli(), 10)
	}

	log := logger.FromContext(ctx).With().
		Str("original_topic", origin.Topic).
		Int("original_partition", origin.Partition).
		Int64("original_offset", origin.Offset).
		Str("target", esc.Target).
		Int("attempt", esc.Attempt).
		Logger()

	if err := r.publish(ctx, out); err != nil {
		log.Error().Err(err).Msg("Сообщение не переотправлено")
		return esc, err
	}

	target := "retry"
	if esc.DeadLetter {
		target = "dlt"
	}
	metrics.RetryEscalations.WithLabelValues(origin.Topic, target).Inc()

	if esc.DeadLetter {
		log.Error().
			Err(cause).
			Bool("permanent", IsPermanent(cause)).
			Msg("Сообщение отправлено в DLT")
	} else {
		log.Warn().
			Err(cause).
			Dur("delay", esc.Delay).
			Msg("Сообщение отправлено на повтор")
	}
	return esc, nil
}

func (r *Router) publish(ctx context.Context, msg *kafka.Message) error {
	err := Until(ctx, r.publishBackoff, func(ctx context.Context) error {
		return r.publisher.SendMessage(ctx, msg)
	}, func(try int, err error) {
		logger.Ctx(ctx).Warn().Err(err).Int("try", try).Str("topic", msg.Topic).
			Msg("Ошибка переотправки, повтор")
	})
	if err != nil {
		return fmt.Errorf("переотправка в %s прервана: %w", msg.Topic, err)
	}
	return nil
}

// sleep ждёт d или отмены ctx.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// Package retry — явная цепочка эскалации неудачной обработки:
// исходный топик → {topic}-retry-0 … {topic}-retry-{N-1} → {topic}-dlt.
// Номер попытки и время, раньше которого повтор не выполняется, едут в заголовках сообщения.
package retry

import (
	"fmt"
	"math"
	"time"
)

// Policy — параметры цепочки повторов.
type Policy struct {
	// Attempts — число повторов после исходной попытки.
	Attempts int

	// BaseDelay — задержка перед первым повтором.
	BaseDelay time.Duration

	// Multiplier — множитель задержки между ступенями.
	Multiplier float64

	// MaxDelay — верхняя граница задержки.
	MaxDelay time.Duration
}

// DefaultPolicy — 3 повтора с задержками 1s, 2s, 4s.
func DefaultPolicy() Policy {
	return Policy{
		Attempts:   3,
		BaseDelay:  time.Second,
		Multiplier: 2,
		MaxDelay:   10 * time.Second,
	}
}

// Delay возвращает задержку ступени i: BaseDelay * Multiplier^i, не больше MaxDelay.
func (p Policy) Delay(i int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	if i < 0 {
		i = 0
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}

	d := float64(p.BaseDelay) * math.Pow(mult, float64(i))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	if math.IsInf(d, 0) || d >= float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// Step — ступень цепочки: куда переотправить и сколько ждать.
type Step struct {
	Delay time.Duration
	Topic string
}

// Chain — цепочка эскалации для одного исходного топика.
type Chain struct {
	Topic      string
	Steps      []Step
	DeadLetter string
}

// RetryTopic возвращает имя retry-топика ступени i.
func RetryTopic(topic string, i int) string {
	return fmt.Sprintf("%s-retry-%d", topic, i)
}

// DeadLetterTopic возвращает имя dead-letter топика.
func DeadLetterTopic(topic string) string {
	return topic + "-dlt"
}

// NewChain строит цепочку для топика по политике.
func NewChain(topic string, p Policy) Chain {
	steps := make([]Step, 0, p.Attempts)
	for i := 0; i < p.Attempts; i++ {
		steps = append(steps, Step{Delay: p.Delay(i), Topic: RetryTopic(topic, i)})
	}
	return Chain{Topic: topic, Steps: steps, DeadLetter: DeadLetterTopic(topic)}
}

// Next возвращает ступень после неудачной попытки attempt (0 — исходная доставка).
// false означает, что повторы исчерпаны и сообщение идёт в DeadLetter.
func (c Chain) Next(attempt int) (Step, bool) {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= len(c.Steps) {
		return Step{Topic: c.DeadLetter}, false
	}
	return c.Steps[attempt], true
}

// MaxAttempts — общее число попыток с учётом исходной.
func (c Chain) MaxAttempts() int {
	return len(c.Steps) + 1
}

// Topics возвращает retry-топики и DLT цепочки.
func (c Chain) Topics() []string {
	topics := make([]string, 0, len(c.Steps)+1)
	for _, s := range c.Steps {
		topics = append(topics, s.Topic)
	}
	return append(topics, c.DeadLetter)
}

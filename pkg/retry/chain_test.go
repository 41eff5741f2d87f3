package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPolicy_Delay(t *testing.T) {
	p := DefaultPolicy()

	tests := []struct {
		name string
		step int
		want time.Duration
	}{
		{name: "первый повтор", step: 0, want: time.Second},
		{name: "второй повтор", step: 1, want: 2 * time.Second},
		{name: "третий повтор", step: 2, want: 4 * time.Second},
		{name: "ограничение сверху", step: 10, want: 10 * time.Second},
		{name: "отрицательная ступень", step: -1, want: time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Delay(tt.step))
		})
	}
}

func TestPolicy_DelayБезПереполнения(t *testing.T) {
	p := Policy{BaseDelay: time.Hour, Multiplier: 10}

	assert.Positive(t, p.Delay(100))
}

func TestNewChain(t *testing.T) {
	c := NewChain("inventory.decrease", DefaultPolicy())

	assert.Equal(t, []Step{
		{Delay: time.Second, Topic: "inventory.decrease-retry-0"},
		{Delay: 2 * time.Second, Topic: "inventory.decrease-retry-1"},
		{Delay: 4 * time.Second, Topic: "inventory.decrease-retry-2"},
	}, c.Steps)
	assert.Equal(t, "inventory.decrease-dlt", c.DeadLetter)
	assert.Equal(t, 4, c.MaxAttempts())
	assert.Equal(t, []string{
		"inventory.decrease-retry-0",
		"inventory.decrease-retry-1",
		"inventory.decrease-retry-2",
		"inventory.decrease-dlt",
	}, c.Topics())
}

func TestChain_Next(t *testing.T) {
	c := NewChain("t", DefaultPolicy())

	for attempt := 0; attempt < 3; attempt++ {
		step, ok := c.Next(attempt)
		assert.True(t, ok)
		assert.Equal(t, RetryTopic("t", attempt), step.Topic)
	}

	step, ok := c.Next(3)
	assert.False(t, ok)
	assert.Equal(t, "t-dlt", step.Topic)
}

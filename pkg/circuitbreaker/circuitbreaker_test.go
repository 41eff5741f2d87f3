package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
)

func TestBreaker_ОткрываетсяПослеОшибок(t *testing.T) {
	b := NewWithSettings("kafka-test", Settings{
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      time.Minute,
		FailureRatio: 0.5,
		MinRequests:  2,
	})
	brokerDown := errors.New("dial tcp: connection refused")

	assert.ErrorIs(t, b.Execute(func() error { return brokerDown }), brokerDown)
	assert.ErrorIs(t, b.Execute(func() error { return brokerDown }), brokerDown)
	assert.Equal(t, gobreaker.StateOpen, b.State())

	called := false
	err := b.Execute(func() error { called = true; return nil })

	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called, "при открытом breaker вызов не выполняется")
}

func TestBreaker_УспешныйВызов(t *testing.T) {
	b := New("kafka-ok")

	assert.NoError(t, b.Execute(func() error { return nil }))
	assert.Equal(t, gobreaker.StateClosed, b.State())
	assert.Equal(t, "kafka-ok", b.Name())
}

package idempotency

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntry_Переходы(t *testing.T) {
	now := time.Now()

	e := NewEntry("order.created", "100", nil, now)
	assert.Equal(t, StatusSuccess, e.Status)
	assert.ErrorIs(t, e.MarkSuccess(now), ErrInvalidTransition)

	require.NoError(t, e.MarkDuplicate(now.Add(time.Second)))
	require.NoError(t, e.MarkDuplicate(now.Add(2*time.Second)))
	assert.Equal(t, StatusDuplicate, e.Status)
	assert.Equal(t, 2, e.DuplicateCount)

	failed := NewFailedEntry("order.created", "101", nil, errors.New("boom"), now)
	assert.ErrorIs(t, failed.MarkDuplicate(now), ErrInvalidTransition)
	require.NoError(t, failed.MarkSuccess(now))
	assert.Equal(t, StatusSuccess, failed.Status)
}

func TestNewFailedEntry_ОбрезаетСообщение(t *testing.T) {
	e := NewFailedEntry("t", "k", nil, errors.New(strings.Repeat("x", 5000)), time.Now())

	assert.Len(t, e.ResultMessage, maxResultMessage)
}

package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestShipment_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from ShipmentStatus
		to   ShipmentStatus
		ok   bool
	}{
		{ShipmentStatusReady, ShipmentStatusShipping, true},
		{ShipmentStatusReady, ShipmentStatusCanceled, true},
		{ShipmentStatusReady, ShipmentStatusDelivered, false},
		{ShipmentStatusShipping, ShipmentStatusDelivered, true},
		{ShipmentStatusShipping, ShipmentStatusCanceled, false},
		{ShipmentStatusDelivered, ShipmentStatusCanceled, false},
		{ShipmentStatusCanceled, ShipmentStatusShipping, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+" -> "+string(tt.to), func(t *testing.T) {
			s := &Shipment{Status: tt.from}
			assert.Equal(t, tt.ok, s.CanTransitionTo(tt.to))
		})
	}
}

func TestShipment_Lifecycle(t *testing.T) {
	s := NewShipment("order-1", testNow)
	assert.Equal(t, ShipmentStatusReady, s.Status)

	assert.ErrorIs(t, s.Start("  ", testNow), ErrTrackingRequired)
	assert.Equal(t, ShipmentStatusReady, s.Status)

	require.NoError(t, s.Start("TRK-1", testNow.Add(time.Hour)))
	require.NotNil(t, s.TrackingNumber)
	assert.Equal(t, "TRK-1", *s.TrackingNumber)

	assert.ErrorIs(t, s.Cancel(testNow), ErrInvalidTransition)

	require.NoError(t, s.Deliver(testNow.Add(2*time.Hour)))
	assert.Equal(t, ShipmentStatusDelivered, s.Status)
	assert.Equal(t, testNow.Add(2*time.Hour), s.UpdatedAt)
}

func TestNewCanceledShipment(t *testing.T) {
	s := NewCanceledShipment("order-1", testNow)

	assert.Equal(t, ShipmentStatusCanceled, s.Status)
	assert.ErrorIs(t, s.Start("TRK-1", testNow), ErrInvalidTransition)
}

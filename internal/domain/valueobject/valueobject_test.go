package valueobject

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/settlement-backend/internal/pkg/apperror"
)

func TestBookingStatus_CanTransitionTo(t *testing.T) {
	allowed := map[BookingStatus][]BookingStatus{
		BookingStatusPending:    {BookingStatusConfirmed, BookingStatusCancelled},
		BookingStatusConfirmed:  {BookingStatusInProgress, BookingStatusCancelled},
		BookingStatusInProgress: {BookingStatusCompleted, BookingStatusCancelled},
	}
	all := []BookingStatus{
		BookingStatusPending, BookingStatusConfirmed, BookingStatusInProgress,
		BookingStatusCompleted, BookingStatusCancelled,
	}

	for _, from := range all {
		for _, to := range all {
			want := false
			for _, a := range allowed[from] {
				if a == to {
					want = true
				}
			}
			assert.Equal(t, want, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
}

func TestBookingStatus_Terminal(t *testing.T) {
	assert.True(t, BookingStatusCompleted.IsTerminal())
	assert.True(t, BookingStatusCancelled.IsTerminal())
	assert.False(t, BookingStatusInProgress.IsTerminal())

	_, err := NewBookingStatus("archived")
	assert.True(t, apperror.IsValidation(err))
}

func TestDisputeStatus_CanTransitionTo(t *testing.T) {
	assert.True(t, DisputeStatusOpen.CanTransitionTo(DisputeStatusUnderReview))
	assert.True(t, DisputeStatusOpen.CanTransitionTo(DisputeStatusClosed))
	assert.False(t, DisputeStatusOpen.CanTransitionTo(DisputeStatusResolved))
	assert.True(t, DisputeStatusMediation.CanTransitionTo(DisputeStatusUnderReview))
	assert.False(t, DisputeStatusResolved.CanTransitionTo(DisputeStatusUnderReview))
	assert.False(t, DisputeStatusClosed.CanTransitionTo(DisputeStatusOpen))
}

func TestPaymentStatus_HasCapturedFunds(t *testing.T) {
	assert.False(t, PaymentStatusPending.HasCapturedFunds())
	assert.True(t, PaymentStatusInEscrow.HasCapturedFunds())
	assert.True(t, PaymentStatusReleased.HasCapturedFunds())
	assert.False(t, PaymentStatusRefunded.HasCapturedFunds())
}

func TestNotificationChannel(t *testing.T) {
	assert.True(t, ChannelBoth.IncludesEmail())
	assert.True(t, ChannelBoth.IncludesInApp())
	assert.False(t, ChannelEmail.IncludesInApp())
	assert.False(t, ChannelInApp.IncludesEmail())

	_, err := NewNotificationChannel("sms")
	assert.True(t, apperror.IsValidation(err))
}

func TestParseMoney(t *testing.T) {
	tests := []struct {
		in      string
		want    Money
		wantErr bool
	}{
		{"500", 50000, false},
		{"500.5", 50050, false},
		{"500.05", 50005, false},
		{" 0.99 ", 99, false},
		{"", 0, true},
		{"-1", 0, true},
		{"1.234", 0, true},
		{"1.", 0, true},
		{"abc", 0, true},
		{"92233720368547758.07", Money(math.MaxInt64), false},
		{"92233720368547758.08", 0, true},
		{"184467440737095517", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMoney(tt.in)
			if tt.wantErr {
				assert.True(t, apperror.IsValidation(err), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMoney_String(t *testing.T) {
	assert.Equal(t, "500.00", Money(50000).String())
	assert.Equal(t, "0.05", Money(5).String())
	assert.Equal(t, "-1.50", Money(-150).String())
}

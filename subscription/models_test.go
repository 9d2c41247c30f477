package subscription

import (
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusActive, true},
		{StatusPending, StatusTrialing, true},
		{StatusPending, StatusExpired, true},
		{StatusPending, StatusPaused, false},
		{StatusTrialing, StatusActive, true},
		{StatusTrialing, StatusCancelled, true},
		{StatusActive, StatusPaused, true},
		{StatusActive, StatusCancelled, true},
		{StatusActive, StatusExpired, true},
		{StatusActive, StatusPending, false},
		{StatusPaused, StatusActive, true},
		{StatusPaused, StatusCancelled, true},
		{StatusCancelled, StatusExpired, true},
		{StatusCancelled, StatusActive, false},
		{StatusExpired, StatusActive, false},
		{StatusExpired, StatusPending, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"_to_"+string(tt.to), func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestStatusLive(t *testing.T) {
	live := []Status{StatusTrialing, StatusActive, StatusPaused, StatusCancelled}
	for _, s := range live {
		if !s.Live() {
			t.Errorf("%s.Live() = false, want true", s)
		}
	}

	dead := []Status{StatusPending, StatusExpired}
	for _, s := range dead {
		if s.Live() {
			t.Errorf("%s.Live() = true, want false", s)
		}
	}
}

func TestSubscriptionLive(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	sub := &Subscription{
		Status:      StatusActive,
		PeriodStart: now.AddDate(0, 0, -10),
		ExpiresAt:   now.AddDate(0, 0, 20),
	}

	if !sub.Live(now) {
		t.Error("active subscription within period should be live")
	}

	if sub.Live(sub.ExpiresAt) {
		t.Error("subscription at its expiry instant should not be live")
	}

	t.Run("cancelled stays live until expiry", func(t *testing.T) {
		cancelled := &Subscription{Status: StatusCancelled, ExpiresAt: now.Add(time.Hour)}
		if !cancelled.Live(now) {
			t.Error("cancelled subscription before expiry should be live")
		}
	})

	t.Run("paused is live regardless of expiry", func(t *testing.T) {
		paused := &Subscription{Status: StatusPaused, ExpiresAt: now.Add(-time.Hour)}
		if !paused.Live(now) {
			t.Error("paused subscription should be live; its clock is stopped")
		}
	})

	t.Run("pending grants nothing", func(t *testing.T) {
		pending := &Subscription{Status: StatusPending, ExpiresAt: now.Add(time.Hour)}
		if pending.Live(now) {
			t.Error("pending subscription should not be live")
		}
	})
}

func TestSubscriptionRemaining(t *testing.T) {
	now := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)

	sub := &Subscription{ExpiresAt: now.AddDate(0, 0, 15)}
	if got := sub.Remaining(now); got != 15*24*time.Hour {
		t.Errorf("Remaining = %v, want 360h", got)
	}

	lapsed := &Subscription{ExpiresAt: now.Add(-time.Minute)}
	if got := lapsed.Remaining(now); got != 0 {
		t.Errorf("Remaining after expiry = %v, want 0", got)
	}
}

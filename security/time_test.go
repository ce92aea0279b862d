package security

import (
	"testing"
	"time"
)

func TestIsExpired(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		expiresAt time.Time
		skew      time.Duration
		want      bool
	}{
		{"zero never expires", time.Time{}, 0, false},
		{"future", now.Add(time.Minute), 0, false},
		{"past", now.Add(-time.Minute), 0, true},
		{"past within skew", now.Add(-time.Minute), 2 * time.Minute, false},
		{"past beyond skew", now.Add(-3 * time.Minute), 2 * time.Minute, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsExpired(now, tt.expiresAt, tt.skew); got != tt.want {
				t.Errorf("IsExpired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsNotYetValid(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	if IsNotYetValid(now, time.Time{}, 0) {
		t.Error("zero nbf is always valid")
	}
	if !IsNotYetValid(now, now.Add(time.Hour), DefaultClockSkew) {
		t.Error("nbf an hour ahead should not be valid yet")
	}
	if IsNotYetValid(now, now.Add(time.Minute), DefaultClockSkew) {
		t.Error("nbf within skew should be valid")
	}
}

func TestClock(t *testing.T) {
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := Clock(func() time.Time { return fixed })
	if !c.Now().Equal(fixed) {
		t.Errorf("Now() = %v, want %v", c.Now(), fixed)
	}

	var nilClock Clock
	if nilClock.Now().IsZero() {
		t.Error("nil clock should fall back to time.Now")
	}
}

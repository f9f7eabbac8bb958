package crier

import (
	"testing"
	"time"
)

func TestBackoff_Delay(t *testing.T) {
	b := Backoff{Disconnect: 5 * time.Second, Launch: 30 * time.Second, Max: 2 * time.Minute}

	tests := []struct {
		class   FailureClass
		attempt int
		want    time.Duration
	}{
		{FailureDisconnect, 0, 5 * time.Second},
		{FailureDisconnect, 1, 5 * time.Second},
		{FailureDisconnect, 2, 10 * time.Second},
		{FailureDisconnect, 3, 20 * time.Second},
		{FailureDisconnect, 5, 80 * time.Second},
		{FailureDisconnect, 6, 2 * time.Minute},
		{FailureDisconnect, 500, 2 * time.Minute},
		{FailureLaunch, 1, 30 * time.Second},
		{FailureLaunch, 2, 60 * time.Second},
		{FailureLaunch, 3, 2 * time.Minute},
		{FailureOperator, 4, 0},
		{FailureAuth, 1, 0},
	}
	for _, tt := range tests {
		if got := b.Delay(tt.class, tt.attempt); got != tt.want {
			t.Errorf("Delay(%v, %d) = %v, want %v", tt.class, tt.attempt, got, tt.want)
		}
	}
}

func TestBackoff_Jitter(t *testing.T) {
	b := Backoff{Disconnect: 10 * time.Second, Launch: 30 * time.Second, Max: time.Minute, Jitter: 0.2}

	b.Rand = func() float64 { return 0 }
	if got := b.Delay(FailureDisconnect, 1); got != 8*time.Second {
		t.Errorf("low jitter = %v, want 8s", got)
	}
	b.Rand = func() float64 { return 0.5 }
	if got := b.Delay(FailureDisconnect, 1); got != 10*time.Second {
		t.Errorf("mid jitter = %v, want 10s", got)
	}
	b.Rand = func() float64 { return 1 }
	if got := b.Delay(FailureDisconnect, 1); got != 12*time.Second {
		t.Errorf("high jitter = %v, want 12s", got)
	}
	if got := b.Delay(FailureLaunch, 2); got != time.Minute {
		t.Errorf("jitter above max = %v, want capped at 1m", got)
	}
}

func TestBackoff_JitterStaysInRange(t *testing.T) {
	b := DefaultBackoff()
	for i := 0; i < 200; i++ {
		got := b.Delay(FailureDisconnect, 1)
		if got < 4*time.Second || got > 6*time.Second {
			t.Fatalf("Delay = %v, want within ±20%% of 5s", got)
		}
	}
}

func TestBackoff_Unbounded(t *testing.T) {
	b := Backoff{Disconnect: time.Second}
	if got := b.Delay(FailureDisconnect, 1000); got <= 0 {
		t.Errorf("Delay overflowed: %v", got)
	}
}

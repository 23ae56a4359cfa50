package util

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestRetry(t *testing.T) {
	attempts := 0
	targetAttempts := 3

	err := Retry(context.Background(), 5, 0, func() error {
		attempts++
		if attempts < targetAttempts {
			return errors.New("transient error")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Retry returned unexpected error: %v", err)
	}
	if attempts != targetAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, targetAttempts)
	}
}

func TestRetryAllFail(t *testing.T) {
	attempts := 0
	maxAttempts := 3

	err := Retry(context.Background(), maxAttempts, 0, func() error {
		attempts++
		return errors.New("persistent error")
	})

	if err == nil {
		t.Fatal("Retry should return error when all attempts fail")
	}
	if attempts != maxAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, maxAttempts)
	}
}

func TestRetryPermanent(t *testing.T) {
	attempts := 0
	rejected := errors.New("insufficient buying power")

	err := Retry(context.Background(), 5, 0, func() error {
		attempts++
		return Permanent(rejected)
	})

	if !errors.Is(err, rejected) {
		t.Fatalf("Retry error = %v, want %v", err, rejected)
	}
	if attempts != 1 {
		t.Errorf("Retry called fn %d times, want 1", attempts)
	}
}

func TestRateLimiterBurst(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	if !rl.TryAcquire() || !rl.TryAcquire() {
		t.Fatal("expected two tokens in the initial burst")
	}
	if rl.TryAcquire() {
		t.Error("third acquire should fail before refill")
	}
}

func TestRateLimiterWaitCancelled(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	rl.TryAcquire()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := rl.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Wait error = %v, want context.Canceled", err)
	}
}

func TestNewLoggerTextFormat(t *testing.T) {
	var buf bytes.Buffer
	log := NewLoggerTo(&buf, "warn", "text")
	log.Info("hidden")
	log.Warn("shown", "order", 7)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info record written at warn level: %q", out)
	}
	if !strings.Contains(out, "msg=shown") || !strings.Contains(out, "order=7") {
		t.Errorf("unexpected text output: %q", out)
	}
}

func testCalendar(t *testing.T) *TradingCalendar {
	t.Helper()
	cal, err := NewTradingCalendar(time.FixedZone("EST", -5*3600), "09:30", "16:00")
	if err != nil {
		t.Fatalf("NewTradingCalendar: %v", err)
	}
	return cal
}

func TestTradingCalendarIsMarketOpen(t *testing.T) {
	cal := testCalendar(t)
	est := time.FixedZone("EST", -5*3600)

	tests := []struct {
		at   time.Time
		want bool
	}{
		{time.Date(2024, 1, 10, 9, 29, 0, 0, est), false},
		{time.Date(2024, 1, 10, 9, 30, 0, 0, est), true},
		{time.Date(2024, 1, 10, 15, 59, 0, 0, est), true},
		{time.Date(2024, 1, 10, 16, 0, 0, 0, est), false},
		{time.Date(2024, 1, 13, 12, 0, 0, 0, est), false}, // Saturday
		{time.Date(2024, 1, 10, 15, 0, 0, 0, time.UTC), true},
	}
	for _, tt := range tests {
		if got := cal.IsMarketOpen(tt.at); got != tt.want {
			t.Errorf("IsMarketOpen(%v) = %v, want %v", tt.at, got, tt.want)
		}
	}
}

func TestTradingCalendarNextOpenSkipsWeekendAndHoliday(t *testing.T) {
	cal := testCalendar(t)
	est := time.FixedZone("EST", -5*3600)
	cal.AddHoliday(time.Date(2024, 1, 15, 0, 0, 0, 0, est))

	got := cal.NextOpen(time.Date(2024, 1, 12, 17, 0, 0, 0, est))
	want := time.Date(2024, 1, 16, 9, 30, 0, 0, est)
	if !got.Equal(want) {
		t.Errorf("NextOpen = %v, want %v", got, want)
	}

	got = cal.NextClose(time.Date(2024, 1, 16, 10, 0, 0, 0, est))
	want = time.Date(2024, 1, 16, 16, 0, 0, 0, est)
	if !got.Equal(want) {
		t.Errorf("NextClose = %v, want %v", got, want)
	}
}

func TestNewTradingCalendarRejectsInvertedSession(t *testing.T) {
	if _, err := NewTradingCalendar(time.UTC, "16:00", "09:30"); err == nil {
		t.Error("expected error for close before open")
	}
}

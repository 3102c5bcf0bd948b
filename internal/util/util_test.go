package util

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestNormalizeName(t *testing.T) {
	cases := map[string]string{
		"  Lil   Baby ": "lil baby",
		"GUNNA":         "gunna",
		"":              "",
	}
	for in, want := range cases {
		if got := NormalizeName(in); got != want {
			t.Fatalf("NormalizeName(%q): expected %q, got %q", in, want, got)
		}
	}
}

func TestChunk(t *testing.T) {
	chunks := Chunk([]int{1, 2, 3, 4, 5}, 2)
	if len(chunks) != 3 || len(chunks[2]) != 1 || chunks[2][0] != 5 {
		t.Fatalf("unexpected chunks: %v", chunks)
	}
	if len(Chunk([]int{}, 20)) != 0 {
		t.Fatalf("expected no chunks for empty input")
	}
}

func TestNextQuotaResetIsPacificMidnight(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	next := NextQuotaReset(now)
	pt := ToPacific(next)
	if pt.Hour() != 0 || pt.Minute() != 0 || !next.After(now) {
		t.Fatalf("expected next Pacific midnight after %v, got %v", now, pt)
	}
	if next.Sub(now) > 24*time.Hour {
		t.Fatalf("reset must be within a day, got %v", next.Sub(now))
	}
}

func TestCircuitBreakerOpensAndRecovers(t *testing.T) {
	current := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker("test", 2, time.Minute, zap.NewNop())
	cb.now = func() time.Time { return current }

	cb.RecordFailure(0)
	if !cb.Allow() {
		t.Fatalf("expected breaker to stay closed below threshold")
	}
	cb.RecordFailure(0)
	if cb.Allow() {
		t.Fatalf("expected breaker to be open after threshold")
	}

	current = current.Add(2 * time.Minute)
	if !cb.Allow() {
		t.Fatalf("expected a probe after the reset timeout")
	}
	if cb.Allow() {
		t.Fatalf("expected only one probe in half-open state")
	}
	cb.RecordSuccess()
	if got := cb.GetStatus().State; got != CircuitStateClosed {
		t.Fatalf("expected CLOSED after successful probe, got %s", got)
	}
}

package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
)

func TestTypedErrorsSurviveWrapping(t *testing.T) {
	quota := fmt.Errorf("scoring batch: %w", NewQuotaExhaustedError("youtube", 2))
	if !IsQuotaExhausted(quota) {
		t.Fatalf("expected wrapped quota error to be detected")
	}
	if IsJobAlreadyRunning(quota) {
		t.Fatalf("quota error must not look like a job conflict")
	}
	if StatusCode(quota) != 429 {
		t.Fatalf("expected 429, got %d", StatusCode(quota))
	}

	running := NewJobAlreadyRunningError("abc", "rescoring")
	if !IsJobAlreadyRunning(running) || StatusCode(running) != 409 {
		t.Fatalf("expected job conflict with 409, got %v", running)
	}

	if StatusCode(stderrors.New("plain")) != 500 {
		t.Fatalf("expected 500 for untyped errors")
	}
}

func TestUpstreamErrorUnwrapsCause(t *testing.T) {
	cause := stderrors.New("connection reset")
	err := NewUpstreamError("youtube", "search", 503, cause)

	if !stderrors.Is(err, cause) {
		t.Fatalf("expected cause to be reachable through Unwrap")
	}
	if err.Status != 503 || StatusCode(err) != 502 {
		t.Fatalf("unexpected status mapping: upstream=%d http=%d", err.Status, StatusCode(err))
	}
}

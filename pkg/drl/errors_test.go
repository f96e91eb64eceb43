package drl

import (
	"errors"
	"testing"
)

func TestIs_MatchesKind(t *testing.T) {
	err := NewNetworkError("boom", errors.New("dial failed"))
	if !Is(err, KindNetwork) {
		t.Error("expected Is to match KindNetwork")
	}
	if Is(err, KindStore) {
		t.Error("did not expect Is to match KindStore")
	}
}

func TestIs_FalseForPlainError(t *testing.T) {
	if Is(errors.New("plain"), KindNetwork) {
		t.Error("expected Is to return false for a non-*Error")
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(NewNetworkError("boom", nil)) {
		t.Error("expected network errors to be retryable")
	}
	if IsRetryable(NewDecodeError("bad json", nil)) {
		t.Error("expected decode errors to not be retryable")
	}
}

func TestError_UnwrapExposesCause(t *testing.T) {
	cause := errors.New("root cause")
	err := NewStoreError("failed to persist", cause)
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the wrapped cause")
	}
}

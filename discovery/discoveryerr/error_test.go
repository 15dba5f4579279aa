package discoveryerr

import (
	"errors"
	"testing"
)

func TestErrorMessage(t *testing.T) {
	err := New("discover", KindConnection, "dial failed")
	if got, want := err.Error(), "discovery: discover [connection]: dial failed"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	err.WithBackend("etcd")
	if got, want := err.Error(), "discovery: discover [etcd/connection]: dial failed"; got != want {
		t.Errorf("Error() with backend = %q, want %q", got, want)
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := New("register", KindConnection, "wrapped").WithCause(cause)

	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the wrapped cause")
	}
}

func TestErrorIsMatchesOnKind(t *testing.T) {
	err := New("discover", KindNotFound, "no such instance")

	if !errors.Is(err, &Error{Kind: KindNotFound}) {
		t.Error("expected errors.Is to match same Kind")
	}
	if errors.Is(err, &Error{Kind: KindConnection}) {
		t.Error("expected errors.Is not to match different Kind")
	}
	if errors.Is(err, &Error{}) {
		t.Error("expected errors.Is not to match empty-Kind target")
	}
}

func TestErrorRetryable(t *testing.T) {
	tests := []struct {
		kind Kind
		want bool
	}{
		{KindConnection, true},
		{KindTransientBackend, true},
		{KindConfiguration, false},
		{KindNotFound, false},
		{KindAlreadyExists, false},
		{KindBackendUnsupported, false},
	}

	for _, tt := range tests {
		err := New("op", tt.kind, "msg")
		if got := err.Retryable(); got != tt.want {
			t.Errorf("Retryable() for %s = %v, want %v", tt.kind, got, tt.want)
		}
	}
}

func TestWithDetails(t *testing.T) {
	err := New("op", KindConfiguration, "bad config").WithDetails(map[string]any{"field": "backend"})
	if err.Details["field"] != "backend" {
		t.Error("expected details to be attached")
	}
}

func TestIsKind(t *testing.T) {
	err := New("discover", KindNotFound, "missing")
	if !IsKind(err, KindNotFound) {
		t.Error("expected IsKind to report true for matching kind")
	}
	if IsKind(err, KindConnection) {
		t.Error("expected IsKind to report false for mismatched kind")
	}
	if IsKind(errors.New("plain error"), KindNotFound) {
		t.Error("expected IsKind to report false for a non-discoveryerr error")
	}
}

package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsMatchesWrappedKind(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(KindTransient, "download media", cause)

	if !Is(err, KindTransient) {
		t.Fatalf("expected Is(err, KindTransient) to be true")
	}
	if Is(err, KindNotFound) {
		t.Fatalf("expected Is(err, KindNotFound) to be false")
	}
}

func TestIsMatchesThroughFmtWrap(t *testing.T) {
	inner := New(KindStaleReference, "file reference expired")
	outer := fmt.Errorf("attempt failed: %w", inner)

	if !Is(outer, KindStaleReference) {
		t.Fatalf("expected Is to see through fmt.Errorf %%w wrapping")
	}
}

func TestKindOf(t *testing.T) {
	if KindOf(errors.New("plain error")) != KindUnknown {
		t.Fatalf("expected KindUnknown for a non-apperr error")
	}
	if KindOf(New(KindRateLimited, "flood wait")) != KindRateLimited {
		t.Fatalf("expected KindOf to report KindRateLimited")
	}
}

func TestErrorMessageIncludesCause(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(KindTransient, "download media", cause)
	want := "transient: download media: boom"
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}

	bare := New(KindNotFound, "unknown manager_id")
	if bare.Error() != "not_found: unknown manager_id" {
		t.Fatalf("Error() = %q, want %q", bare.Error(), "not_found: unknown manager_id")
	}
}

func TestUnwrapReturnsCause(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(KindTransient, "x", cause)
	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to find the wrapped cause")
	}
}

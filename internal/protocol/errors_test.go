package protocol

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsKnownCode(t *testing.T) {
	cases := []string{
		"",
		ErrProtoBadRequest,
		ErrValidation,
		ErrPermission,
		ErrCapacity,
		ErrResource,
		ErrNotFound,
		ErrConnectivity,
		ErrConflict,
		ErrRateLimit,
		ErrInternal,
	}
	for _, c := range cases {
		if !IsKnownCode(c) {
			t.Fatalf("expected known code: %q", c)
		}
	}
	if IsKnownCode("E_NOT_DEFINED") {
		t.Fatalf("expected unknown code rejected")
	}
}

func TestCodeOf_Wrapped(t *testing.T) {
	err := fmt.Errorf("join 12.0: %w", Capacity("max 1 channels"))
	if got := CodeOf(err); got != ErrCapacity {
		t.Fatalf("code=%q want %q", got, ErrCapacity)
	}
	if !errors.Is(err, &Error{Code: ErrCapacity}) {
		t.Fatalf("errors.Is should match by code")
	}
	if errors.Is(err, &Error{Code: ErrResource}) {
		t.Fatalf("errors.Is matched a different code")
	}
	if got := CodeOf(errors.New("boom")); got != ErrInternal {
		t.Fatalf("plain error code=%q want %q", got, ErrInternal)
	}
	if got := CodeOf(nil); got != "" {
		t.Fatalf("nil error code=%q", got)
	}
}

package application

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/example/attendance-coordinator/internal/persistence"
)

func TestValidationError_Error(t *testing.T) {
	t.Parallel()

	var err *ValidationError
	if err.Error() != "" {
		t.Fatalf("expected empty string for nil error, got %q", err.Error())
	}

	empty := &ValidationError{}
	if got := empty.Error(); got != "validation failed" {
		t.Fatalf("expected generic message for empty error, got %q", got)
	}

	withFields := newValidationError("field", "invalid")
	if got := withFields.Error(); got != "validation failed" {
		t.Fatalf("expected consistent message for populated error, got %q", got)
	}
}

func TestValidationError_HasErrors(t *testing.T) {
	t.Parallel()

	if (&ValidationError{}).HasErrors() {
		t.Fatalf("expected HasErrors to report false for empty error")
	}

	var nilErr *ValidationError
	if nilErr.HasErrors() {
		t.Fatalf("expected HasErrors to report false for nil error")
	}

	vErr := &ValidationError{}
	vErr.add("field", "bad")
	if !vErr.HasErrors() {
		t.Fatalf("expected HasErrors to report true when fields are present")
	}
}

func TestTransportError(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection reset")
	err := &TransportError{Op: "list rooms", Err: cause}

	if got := err.Error(); got != "list rooms: connection reset" {
		t.Fatalf("unexpected message %q", got)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected TransportError to unwrap to its cause")
	}
	if !err.Temporary() {
		t.Fatalf("expected transport failure to be temporary")
	}
	if (&TransportError{Op: "x", Err: context.Canceled}).Temporary() {
		t.Fatalf("expected cancellation not to be temporary")
	}
}

func TestMapRepoError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   error
		want string
	}{
		{name: "not found", in: persistence.ErrNotFound, want: "not_found"},
		{name: "duplicate", in: fmt.Errorf("%w: unique", persistence.ErrDuplicate), want: "conflict"},
		{name: "stale", in: persistence.ErrStaleState, want: "conflict"},
		{name: "other", in: errors.New("disk full"), want: "transport"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapRepoError("op", tt.in)
			if kind := ErrorKind(got); kind != tt.want {
				t.Fatalf("expected %s, got %s (%v)", tt.want, kind, got)
			}
		})
	}

	if mapRepoError("op", nil) != nil {
		t.Fatalf("expected nil for nil error")
	}
}

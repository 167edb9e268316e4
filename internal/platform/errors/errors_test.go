package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestErrorIsMatchesByCode(t *testing.T) {
	base := New(CodeAtCapacity, "discussion is full")
	other := New(CodeAtCapacity, "different message, same code")
	wrapped := fmt.Errorf("join: %w", base)

	if !errors.Is(wrapped, other) {
		t.Fatal("expected errors with the same code to match")
	}
	if errors.Is(wrapped, New(CodeNotFound, "missing")) {
		t.Fatal("expected different codes not to match")
	}
}

func TestGetCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{name: "domain error", err: New(CodeTokenExpired, "expired"), want: CodeTokenExpired},
		{name: "wrapped domain error", err: fmt.Errorf("validate: %w", New(CodeTokenRevoked, "revoked")), want: CodeTokenRevoked},
		{name: "plain error", err: errors.New("boom"), want: CodeUnknown},
		{name: "nil", err: nil, want: CodeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetCode(tt.err); got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("disk failure")
	err := Wrap(CodeUnknown, "persist message", cause)
	if !errors.Is(err, cause) {
		t.Fatal("expected cause to be reachable through Unwrap")
	}
}

func TestHTTPStatusMapping(t *testing.T) {
	tests := []struct {
		code Code
		want int
	}{
		{CodeNotFound, http.StatusNotFound},
		{CodeTokenInvalid, http.StatusUnauthorized},
		{CodeTokenExpired, http.StatusUnauthorized},
		{CodePermissionDenied, http.StatusForbidden},
		{CodeAtCapacity, http.StatusConflict},
		{CodePreconditionFailed, http.StatusConflict},
		{CodeTokenUnsupported, http.StatusUnprocessableEntity},
		{CodeGenerationFailed, http.StatusBadGateway},
		{CodeMessageEmptyContent, http.StatusBadRequest},
		{CodeUnknown, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := tt.code.HTTPStatus(); got != tt.want {
			t.Fatalf("%s: got %d, want %d", tt.code, got, tt.want)
		}
	}
}

func TestWSCodeMapping(t *testing.T) {
	tests := []struct {
		code Code
		want string
	}{
		{CodeTokenRevoked, "UNAUTHENTICATED"},
		{CodePermissionDenied, "FORBIDDEN"},
		{CodeAtCapacity, "FAILED_PRECONDITION"},
		{CodeMessageBadParent, "INVALID_ARGUMENT"},
		{CodeGenerationFailed, "UNAVAILABLE"},
		{CodeUnknown, "INTERNAL"},
	}
	for _, tt := range tests {
		if got := tt.code.WSCode(); got != tt.want {
			t.Fatalf("%s: got %q, want %q", tt.code, got, tt.want)
		}
	}
}

func TestGetMetadata(t *testing.T) {
	err := WithMetadata(CodeDiscussionClosed, "closed", map[string]string{"Reason": "administrative"})
	meta := GetMetadata(fmt.Errorf("load: %w", err))
	if meta["Reason"] != "administrative" {
		t.Fatalf("expected metadata to survive wrapping, got %v", meta)
	}
	if GetMetadata(errors.New("plain")) != nil {
		t.Fatal("expected nil metadata for plain error")
	}
}

package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorClass_String(t *testing.T) {
	tests := []struct {
		class    ErrorClass
		expected string
	}{
		{ErrorTransient, "transient"},
		{ErrorInvalid, "invalid"},
		{ErrorFatal, "fatal"},
		{ErrorClass(999), "unknown"},
	}

	for _, test := range tests {
		t.Run(test.expected, func(t *testing.T) {
			if result := test.class.String(); result != test.expected {
				t.Errorf("expected %s, got %s", test.expected, result)
			}
		})
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"auth", ErrAuth, true},
		{"link", ErrLink, true},
		{"hub unavailable", ErrHubUnavailable, true},
		{"command timeout", ErrCommandTimeout, true},
		{"context canceled", context.Canceled, true},
		{"wrapped auth", fmt.Errorf("login: %w", ErrAuth), true},
		{"network in message", fmt.Errorf("network connection refused"), true},
		{"frame parse", ErrFrameParse, false},
		{"command", ErrCommand, false},
		{"classified fatal", &ClassifiedError{Class: ErrorFatal, Err: fmt.Errorf("x")}, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if result := IsTransient(test.err); result != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, result, test.err)
			}
		})
	}
}

func TestIsInvalid(t *testing.T) {
	if !IsInvalid(ErrFrameParse) {
		t.Error("frame parse errors should be invalid")
	}
	if !IsInvalid(fmt.Errorf("translate: %w", ErrCommand)) {
		t.Error("wrapped command errors should be invalid")
	}
	if IsInvalid(ErrLink) {
		t.Error("link errors should not be invalid")
	}
	if IsInvalid(nil) {
		t.Error("nil should not be invalid")
	}
}

func TestIsFatal(t *testing.T) {
	if !IsFatal(ErrInvalidConfig) {
		t.Error("invalid config should be fatal")
	}
	if IsFatal(ErrAuth) {
		t.Error("auth failures must never be fatal")
	}
	if !IsFatal(WrapFatal(errors.New("bind"), "main", "run", "listen")) {
		t.Error("WrapFatal result should be fatal")
	}
}

func TestWrap(t *testing.T) {
	err := Wrap(ErrAuth, "Authenticator", "Acquire", "login request")
	want := "Authenticator.Acquire: login request failed: authentication failed"
	if err.Error() != want {
		t.Errorf("expected %q, got %q", want, err.Error())
	}
	if !errors.Is(err, ErrAuth) {
		t.Error("wrapped error should match sentinel")
	}
	if Wrap(nil, "a", "b", "c") != nil {
		t.Error("wrapping nil should return nil")
	}
}

func TestWrapClassified(t *testing.T) {
	tests := []struct {
		name  string
		wrap  func(error, string, string, string) error
		class ErrorClass
	}{
		{"transient", WrapTransient, ErrorTransient},
		{"invalid", WrapInvalid, ErrorInvalid},
		{"fatal", WrapFatal, ErrorFatal},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := test.wrap(ErrLink, "Link", "connect", "dial")
			var ce *ClassifiedError
			if !errors.As(err, &ce) {
				t.Fatalf("expected ClassifiedError, got %T", err)
			}
			if ce.Class != test.class {
				t.Errorf("expected class %v, got %v", test.class, ce.Class)
			}
			if ce.Component != "Link" || ce.Operation != "connect" {
				t.Errorf("unexpected context %s.%s", ce.Component, ce.Operation)
			}
			if !errors.Is(err, ErrLink) {
				t.Error("classified error should unwrap to sentinel")
			}
			if !strings.HasPrefix(err.Error(), "Link.connect: dial failed") {
				t.Errorf("unexpected message %q", err.Error())
			}
			if test.wrap(nil, "a", "b", "c") != nil {
				t.Error("wrapping nil should return nil")
			}
		})
	}
}

func TestClassify(t *testing.T) {
	if Classify(ErrInvalidConfig) != ErrorFatal {
		t.Error("invalid config should classify as fatal")
	}
	if Classify(ErrFrameParse) != ErrorInvalid {
		t.Error("frame parse should classify as invalid")
	}
	if Classify(errors.New("something odd")) != ErrorTransient {
		t.Error("unknown errors default to transient")
	}
}

func TestKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "none"},
		{fmt.Errorf("x: %w", ErrAuth), "auth"},
		{ErrHubUnavailable, "hub_unavailable"},
		{WrapTransient(ErrLink, "Link", "read", "read frame"), "link"},
		{ErrFrameParse, "frame_parse"},
		{ErrCommandTimeout, "command_timeout"},
		{ErrCommand, "command"},
		{ErrInvalidConfig, "fatal"},
	}

	for _, test := range tests {
		if got := Kind(test.err); got != test.want {
			t.Errorf("Kind(%v) = %s, want %s", test.err, got, test.want)
		}
	}
}

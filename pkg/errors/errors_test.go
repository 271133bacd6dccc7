package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestNewError(t *testing.T) {
	t.Parallel()

	t.Run("creates error with all defaults", func(t *testing.T) {
		err := NewError(ErrCodeInvalidConfig, "configuration is invalid")
		if err == nil {
			t.Fatal("NewError returned nil")
		}
		if err.Code != ErrCodeInvalidConfig {
			t.Errorf("Code = %v, want %v", err.Code, ErrCodeInvalidConfig)
		}
		if err.Message != "configuration is invalid" {
			t.Errorf("Message = %q, want %q", err.Message, "configuration is invalid")
		}
		if err.Category != CategoryConfiguration {
			t.Errorf("Category = %v, want %v", err.Category, CategoryConfiguration)
		}
		if err.Context == nil {
			t.Error("Context map is nil")
		}
		if err.Timestamp.IsZero() {
			t.Error("Timestamp not set")
		}
	})

	t.Run("sets correct retryable defaults", func(t *testing.T) {
		if !NewError(ErrCodeTransportError, "server gone").Retryable {
			t.Error("TransportError should be retryable by default")
		}
		if NewError(ErrCodeObjectNotFound, "missing").Retryable {
			t.Error("ObjectNotFound should not be retryable by default")
		}
	})
}

func TestGetCategory(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code     ErrorCode
		expected ErrorCategory
	}{
		{ErrCodeInvalidConfig, CategoryConfiguration},
		{ErrCodeConfigLoad, CategoryConfiguration},
		{ErrCodeConnectionFailed, CategoryConnection},
		{ErrCodeTransportError, CategoryConnection},
		{ErrCodeCircuitOpen, CategoryConnection},
		{ErrCodeInvalidName, CategoryDirectory},
		{ErrCodeObjectNotFound, CategoryDirectory},
		{ErrCodeNoSuchHost, CategoryDirectory},
		{ErrCodeMountFailed, CategoryFilesystem},
		{ErrCodeRetryExhausted, CategoryOperation},
		{ErrCodeAuthenticationFailed, CategoryAuth},
		{ErrCodeUnknownError, CategoryInternal},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			if got := GetCategory(tt.code); got != tt.expected {
				t.Errorf("GetCategory(%v) = %v, want %v", tt.code, got, tt.expected)
			}
		})
	}
}

func TestLdapfsError_Error(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  *LdapfsError
		want string
	}{
		{
			name: "with component and operation",
			err: &LdapfsError{
				Code:      ErrCodeObjectNotFound,
				Component: "directory",
				Operation: "get",
				Message:   "no object at cn=x,dc=example",
			},
			want: "[directory:get] OBJECT_NOT_FOUND: no object at cn=x,dc=example",
		},
		{
			name: "with component only",
			err: &LdapfsError{
				Code:      ErrCodeInvalidConfig,
				Component: "config",
				Message:   "invalid value",
			},
			want: "[config] INVALID_CONFIG: invalid value",
		},
		{
			name: "with cause",
			err: &LdapfsError{
				Code:    ErrCodeTransportError,
				Message: "search failed",
				Cause:   fmt.Errorf("connection reset"),
			},
			want: "TRANSPORT_ERROR: search failed: connection reset",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHasCode(t *testing.T) {
	t.Parallel()

	inner := NewError(ErrCodeTransportError, "read tcp: reset")
	outer := NewError(ErrCodeCircuitOpen, "breaker open").WithCause(inner)
	wrapped := fmt.Errorf("lookup: %w", outer)

	if !HasCode(wrapped, ErrCodeCircuitOpen) {
		t.Error("expected CIRCUIT_OPEN in chain")
	}
	if !HasCode(wrapped, ErrCodeTransportError) {
		t.Error("expected TRANSPORT_ERROR in chain")
	}
	if HasCode(wrapped, ErrCodeObjectNotFound) {
		t.Error("did not expect OBJECT_NOT_FOUND in chain")
	}
	if HasCode(errors.New("plain"), ErrCodeTransportError) {
		t.Error("plain errors carry no code")
	}
	if HasCode(nil, ErrCodeTransportError) {
		t.Error("nil carries no code")
	}
}

func TestPredicates(t *testing.T) {
	t.Parallel()

	if !IsNotFound(NewError(ErrCodeObjectNotFound, "x")) {
		t.Error("IsNotFound(OBJECT_NOT_FOUND) = false")
	}
	if !IsNotFound(NewError(ErrCodeNoSuchAttribute, "x")) {
		t.Error("IsNotFound(NO_SUCH_ATTRIBUTE) = false")
	}
	if !IsInvalidName(NewError(ErrCodeInvalidName, "x")) {
		t.Error("IsInvalidName(INVALID_NAME) = false")
	}
	for _, code := range []ErrorCode{ErrCodeTransportError, ErrCodeConnectionFailed, ErrCodeCircuitOpen} {
		if !IsTransport(NewError(code, "x")) {
			t.Errorf("IsTransport(%s) = false", code)
		}
	}
	if IsTransport(NewError(ErrCodeObjectNotFound, "x")) {
		t.Error("IsTransport(OBJECT_NOT_FOUND) = true")
	}
}

func TestErrorsIs(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("wrapped: %w", NewError(ErrCodeNoSuchHost, "ldap9"))
	if !errors.Is(err, &LdapfsError{Code: ErrCodeNoSuchHost}) {
		t.Error("errors.Is should match on code")
	}
	if errors.Is(err, &LdapfsError{Code: ErrCodeObjectNotFound}) {
		t.Error("errors.Is should not match a different code")
	}
	if CodeOf(err) != ErrCodeNoSuchHost {
		t.Errorf("CodeOf = %v, want %v", CodeOf(err), ErrCodeNoSuchHost)
	}
	if CodeOf(errors.New("plain")) != ErrCodeUnknownError {
		t.Error("CodeOf(plain) should be UNKNOWN_ERROR")
	}
}

func TestString(t *testing.T) {
	t.Parallel()

	err := NewError(ErrCodeTransportError, "bind failed").
		WithComponent("directory").
		WithOperation("connect").
		WithContext("host", "ldap1").
		WithCause(errors.New("refused"))

	s := err.String()
	for _, want := range []string{"Code=TRANSPORT_ERROR", "Component=directory", "Operation=connect", "Retryable=true", `"host":"ldap1"`, `Cause="refused"`} {
		if !strings.Contains(s, want) {
			t.Errorf("String() = %q, missing %q", s, want)
		}
	}
}

func TestGetRecommendation(t *testing.T) {
	t.Parallel()

	if rec := NewError(ErrCodeAuthenticationFailed, "x").GetRecommendation(); !strings.Contains(rec, "bind_dn") {
		t.Errorf("unexpected recommendation %q", rec)
	}
	if rec := NewError(ErrCodeUnknownError, "x").GetRecommendation(); rec == "" {
		t.Error("expected a fallback recommendation")
	}
}

// Package errors provides a structured error system for ldapfs with error codes, categories, and context.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// ErrorCode represents a structured error code for ldapfs operations.
type ErrorCode string

// Error code constants organized by category.
const (
	// Configuration Errors
	ErrCodeInvalidConfig    ErrorCode = "INVALID_CONFIG"
	ErrCodeMissingConfig    ErrorCode = "MISSING_CONFIG"
	ErrCodeConfigValidation ErrorCode = "CONFIG_VALIDATION"
	ErrCodeConfigLoad       ErrorCode = "CONFIG_LOAD"

	// Connection Errors
	ErrCodeConnectionFailed ErrorCode = "CONNECTION_FAILED"
	ErrCodeTransportError   ErrorCode = "TRANSPORT_ERROR"
	ErrCodeCircuitOpen      ErrorCode = "CIRCUIT_OPEN"

	// Directory Errors
	ErrCodeInvalidName     ErrorCode = "INVALID_NAME"
	ErrCodeObjectNotFound  ErrorCode = "OBJECT_NOT_FOUND"
	ErrCodeNoSuchAttribute ErrorCode = "NO_SUCH_ATTRIBUTE"
	ErrCodeNoSuchHost      ErrorCode = "NO_SUCH_HOST"

	// Filesystem Errors
	ErrCodeMountFailed      ErrorCode = "MOUNT_FAILED"
	ErrCodeUnmountFailed    ErrorCode = "UNMOUNT_FAILED"
	ErrCodePermissionDenied ErrorCode = "PERMISSION_DENIED"

	// Operation Errors
	ErrCodeOperationCanceled ErrorCode = "OPERATION_CANCELED"
	ErrCodeRetryExhausted    ErrorCode = "RETRY_EXHAUSTED"

	// Authentication Errors
	ErrCodeAuthenticationFailed ErrorCode = "AUTHENTICATION_FAILED"

	// Internal System Errors
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
	ErrCodeUnknownError  ErrorCode = "UNKNOWN_ERROR"
)

// ErrorCategory represents the general category of an error.
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryConnection    ErrorCategory = "connection"
	CategoryDirectory     ErrorCategory = "directory"
	CategoryFilesystem    ErrorCategory = "filesystem"
	CategoryOperation     ErrorCategory = "operation"
	CategoryAuth          ErrorCategory = "auth"
	CategoryInternal      ErrorCategory = "internal"
)

// LdapfsError represents a structured error with context and metadata.
type LdapfsError struct {
	// Core error information
	Code     ErrorCode     `json:"code"`
	Category ErrorCategory `json:"category"`
	Message  string        `json:"message"`

	// Contextual information
	Context   map[string]string `json:"context,omitempty"`
	Cause     error             `json:"-"` // Not serialized to avoid circular refs
	Timestamp time.Time         `json:"timestamp"`

	// Operational metadata
	Component string `json:"component"`
	Operation string `json:"operation,omitempty"`

	// Error handling hints
	Retryable bool `json:"retryable"`

	// Debug information
	Stack string `json:"stack,omitempty"`
}

// Error implements the error interface.
func (e *LdapfsError) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	if e.Component != "" {
		if e.Operation != "" {
			return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, msg)
		}
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, msg)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

// Unwrap returns the underlying cause error for error wrapping compatibility.
func (e *LdapfsError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target error (for errors.Is compatibility).
func (e *LdapfsError) Is(target error) bool {
	if ldapfsErr, ok := target.(*LdapfsError); ok {
		return e.Code == ldapfsErr.Code
	}
	return false
}

// String returns a detailed string representation for logging.
func (e *LdapfsError) String() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("Code=%s", e.Code))
	parts = append(parts, fmt.Sprintf("Category=%s", e.Category))
	parts = append(parts, fmt.Sprintf("Message=%q", e.Message))

	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("Component=%s", e.Component))
	}

	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation=%s", e.Operation))
	}

	if e.Retryable {
		parts = append(parts, "Retryable=true")
	}

	if len(e.Context) > 0 {
		ctx, _ := json.Marshal(e.Context)
		parts = append(parts, fmt.Sprintf("Context=%s", ctx))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause=%q", e.Cause.Error()))
	}

	return fmt.Sprintf("LdapfsError{%s}", strings.Join(parts, ", "))
}

// NewError creates a new ldapfs error with default values.
func NewError(code ErrorCode, message string) *LdapfsError {
	return &LdapfsError{
		Code:      code,
		Category:  GetCategory(code),
		Message:   message,
		Timestamp: time.Now(),
		Context:   make(map[string]string),
		Retryable: IsRetryableByDefault(code),
	}
}

// Newf creates a new ldapfs error with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *LdapfsError {
	return NewError(code, fmt.Sprintf(format, args...))
}

// GetCategory determines the category based on the error code.
func GetCategory(code ErrorCode) ErrorCategory {
	switch code {
	case ErrCodeInvalidConfig, ErrCodeMissingConfig, ErrCodeConfigValidation, ErrCodeConfigLoad:
		return CategoryConfiguration
	case ErrCodeConnectionFailed, ErrCodeTransportError, ErrCodeCircuitOpen:
		return CategoryConnection
	case ErrCodeInvalidName, ErrCodeObjectNotFound, ErrCodeNoSuchAttribute, ErrCodeNoSuchHost:
		return CategoryDirectory
	case ErrCodeMountFailed, ErrCodeUnmountFailed, ErrCodePermissionDenied:
		return CategoryFilesystem
	case ErrCodeOperationCanceled, ErrCodeRetryExhausted:
		return CategoryOperation
	case ErrCodeAuthenticationFailed:
		return CategoryAuth
	default:
		return CategoryInternal
	}
}

// IsRetryableByDefault determines if an error is retryable by default.
func IsRetryableByDefault(code ErrorCode) bool {
	switch code {
	case ErrCodeConnectionFailed, ErrCodeTransportError:
		return true
	}
	return false
}

// HasCode reports whether any error in err's chain is an *LdapfsError with the given code.
func HasCode(err error, code ErrorCode) bool {
	for err != nil {
		var lerr *LdapfsError
		if !stderrors.As(err, &lerr) {
			return false
		}
		if lerr.Code == code {
			return true
		}
		err = lerr.Cause
	}
	return false
}

// CodeOf returns the code of the first *LdapfsError in err's chain, or
// ErrCodeUnknownError when there is none.
func CodeOf(err error) ErrorCode {
	var lerr *LdapfsError
	if stderrors.As(err, &lerr) {
		return lerr.Code
	}
	return ErrCodeUnknownError
}

// IsRetryable reports whether err carries a retryable ldapfs error.
func IsRetryable(err error) bool {
	var lerr *LdapfsError
	if stderrors.As(err, &lerr) {
		return lerr.Retryable
	}
	return false
}

// IsNotFound reports whether err means the object or attribute does not exist.
func IsNotFound(err error) bool {
	return HasCode(err, ErrCodeObjectNotFound) || HasCode(err, ErrCodeNoSuchAttribute)
}

// IsInvalidName reports whether err means a name failed DN validation.
func IsInvalidName(err error) bool {
	return HasCode(err, ErrCodeInvalidName)
}

// IsTransport reports whether err means the directory server could not be reached.
func IsTransport(err error) bool {
	return HasCode(err, ErrCodeTransportError) ||
		HasCode(err, ErrCodeConnectionFailed) ||
		HasCode(err, ErrCodeCircuitOpen)
}

// CaptureStack captures the current stack trace for debugging.
func CaptureStack(skip int) string {
	const depth = 10
	var pcs [depth]uintptr
	n := runtime.Callers(skip+2, pcs[:]) // +2 to skip this function and the caller
	frames := runtime.CallersFrames(pcs[:n])

	var stack []string
	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "errors.go") {
			stack = append(stack, fmt.Sprintf("%s:%d %s", frame.File, frame.Line, frame.Function))
		}
		if !more {
			break
		}
	}
	return strings.Join(stack, "\n")
}

// WithContext adds contextual information to an error
func (e *LdapfsError) WithContext(key, value string) *LdapfsError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithComponent sets the component for an error
func (e *LdapfsError) WithComponent(component string) *LdapfsError {
	e.Component = component
	return e
}

// WithOperation sets the operation for an error
func (e *LdapfsError) WithOperation(operation string) *LdapfsError {
	e.Operation = operation
	return e
}

// WithCause sets the underlying cause
func (e *LdapfsError) WithCause(cause error) *LdapfsError {
	e.Cause = cause
	return e
}

// WithStack captures the current stack trace
func (e *LdapfsError) WithStack() *LdapfsError {
	e.Stack = CaptureStack(2)
	return e
}

// GetRecommendation returns an operator-facing hint for fixing the error
func (e *LdapfsError) GetRecommendation() string {
	recommendations := map[ErrorCode]string{
		ErrCodeConnectionFailed: "Verify the host address and port in the hosts section " +
			"and that the LDAP server is reachable from this machine.",
		ErrCodeTransportError: "The LDAP server stopped answering. " +
			"Check network connectivity and the server logs.",
		ErrCodeCircuitOpen: "Too many consecutive failures against this host. " +
			"Requests resume automatically once the breaker timeout elapses.",
		ErrCodeAuthenticationFailed: "The bind was rejected. " +
			"Check bind_dn and bind_password for this host.",
		ErrCodeInvalidConfig: "Configuration validation failed. " +
			"Check your configuration file syntax and required parameters.",
		ErrCodeMountFailed: "Failed to mount filesystem. " +
			"Check mount point permissions and ensure FUSE is installed.",
	}

	if rec, exists := recommendations[e.Code]; exists {
		return rec
	}

	return "Please check the error message for details."
}

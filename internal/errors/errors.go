package errors

import (
	"fmt"
	"runtime"
	"strings"
)

// ErrorType represents the category of error
type ErrorType int

const (
	// Configuration errors - missing or invalid configuration
	ErrorTypeConfig ErrorType = iota
	// Validation errors - invalid input data (requests, flags, finding tags)
	ErrorTypeValidation
	// Auth errors - missing or wrong credentials
	ErrorTypeAuth
	// Scope errors - target path outside the allow-list or not a directory
	ErrorTypeScope
	// Agent errors - scanner task failures inside the dispatcher
	ErrorTypeAgent
	// Reasoner errors - LLM provider failures or unparseable responses
	ErrorTypeReasoner
	// Sandbox errors - container runtime unavailable or exec failures
	ErrorTypeSandbox
	// Patch errors - diff parse or context verification failures
	ErrorTypePatch
	// Persistence errors - state file read/write failures
	ErrorTypePersistence
	// Internal errors - unexpected internal state
	ErrorTypeInternal
)

// Severity represents how critical an error is
type Severity int

const (
	// SeverityLow - can continue with degraded functionality
	SeverityLow Severity = iota
	// SeverityMedium - should be addressed but not fatal
	SeverityMedium
	// SeverityHigh - significant issue, may impact functionality
	SeverityHigh
	// SeverityCritical - must be addressed, stops execution
	SeverityCritical
)

// Error represents a structured error with context
type Error struct {
	Type       ErrorType
	Severity   Severity
	Message    string
	Cause      error
	Context    map[string]interface{}
	StackTrace string
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// Is checks if this error matches the target error type
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// IsFatal returns true if this error should stop execution
func (e *Error) IsFatal() bool {
	return e.Severity == SeverityCritical
}

// DetailedString returns a detailed error message with context
func (e *Error) DetailedString() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("[%s] [%s] %s\n",
		severityString(e.Severity),
		typeString(e.Type),
		e.Message))

	if e.Cause != nil {
		sb.WriteString(fmt.Sprintf("Caused by: %v\n", e.Cause))
	}

	if len(e.Context) > 0 {
		sb.WriteString("Context:\n")
		for k, v := range e.Context {
			sb.WriteString(fmt.Sprintf("  %s: %v\n", k, v))
		}
	}

	if e.StackTrace != "" {
		sb.WriteString(fmt.Sprintf("Stack trace:\n%s\n", e.StackTrace))
	}

	return sb.String()
}

func typeString(t ErrorType) string {
	switch t {
	case ErrorTypeConfig:
		return "CONFIG"
	case ErrorTypeValidation:
		return "VALIDATION"
	case ErrorTypeAuth:
		return "AUTH"
	case ErrorTypeScope:
		return "SCOPE"
	case ErrorTypeAgent:
		return "AGENT"
	case ErrorTypeReasoner:
		return "REASONER"
	case ErrorTypeSandbox:
		return "SANDBOX"
	case ErrorTypePatch:
		return "PATCH"
	case ErrorTypePersistence:
		return "PERSISTENCE"
	case ErrorTypeInternal:
		return "INTERNAL"
	default:
		return "UNKNOWN"
	}
}

func severityString(s Severity) string {
	switch s {
	case SeverityLow:
		return "LOW"
	case SeverityMedium:
		return "MEDIUM"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// captureStackTrace captures the current stack trace
func captureStackTrace(skip int) string {
	var sb strings.Builder
	for i := skip; i < skip+10; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		fn := runtime.FuncForPC(pc)
		if fn == nil {
			break
		}
		sb.WriteString(fmt.Sprintf("  %s:%d %s\n", file, line, fn.Name()))
	}
	return sb.String()
}

// New creates a new error with the given type, severity, and message
func New(errType ErrorType, severity Severity, message string) *Error {
	return &Error{
		Type:       errType,
		Severity:   severity,
		Message:    message,
		Context:    make(map[string]interface{}),
		StackTrace: captureStackTrace(2),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, errType ErrorType, severity Severity, message string) *Error {
	if err == nil {
		return nil
	}

	return &Error{
		Type:       errType,
		Severity:   severity,
		Message:    message,
		Cause:      err,
		Context:    make(map[string]interface{}),
		StackTrace: captureStackTrace(2),
	}
}

// Convenience constructors for common error types

// ConfigError creates a configuration error
func ConfigError(message string) *Error {
	return New(ErrorTypeConfig, SeverityCritical, message)
}

// ConfigErrorf creates a configuration error with formatting
func ConfigErrorf(format string, args ...interface{}) *Error {
	return New(ErrorTypeConfig, SeverityCritical, fmt.Sprintf(format, args...))
}

// ValidationError creates a validation error
func ValidationError(message string) *Error {
	return New(ErrorTypeValidation, SeverityHigh, message)
}

// ValidationErrorf creates a validation error with formatting
func ValidationErrorf(format string, args ...interface{}) *Error {
	return New(ErrorTypeValidation, SeverityHigh, fmt.Sprintf(format, args...))
}

// AuthError creates an authentication error
func AuthError(message string) *Error {
	return New(ErrorTypeAuth, SeverityHigh, message)
}

// ScopeError creates a target-scope error
func ScopeError(message string) *Error {
	return New(ErrorTypeScope, SeverityHigh, message)
}

// ScopeErrorf creates a target-scope error with formatting
func ScopeErrorf(format string, args ...interface{}) *Error {
	return New(ErrorTypeScope, SeverityHigh, fmt.Sprintf(format, args...))
}

// AgentError wraps a scanner task error
func AgentError(err error, message string) *Error {
	return Wrap(err, ErrorTypeAgent, SeverityMedium, message)
}

// AgentErrorf wraps a scanner task error with formatting
func AgentErrorf(err error, format string, args ...interface{}) *Error {
	return Wrap(err, ErrorTypeAgent, SeverityMedium, fmt.Sprintf(format, args...))
}

// ReasonerError wraps an LLM provider error
func ReasonerError(err error, message string) *Error {
	return Wrap(err, ErrorTypeReasoner, SeverityMedium, message)
}

// ReasonerErrorf wraps an LLM provider error with formatting
func ReasonerErrorf(err error, format string, args ...interface{}) *Error {
	return Wrap(err, ErrorTypeReasoner, SeverityMedium, fmt.Sprintf(format, args...))
}

// SandboxError wraps a container runtime error
func SandboxError(err error, message string) *Error {
	return Wrap(err, ErrorTypeSandbox, SeverityMedium, message)
}

// SandboxErrorf wraps a container runtime error with formatting
func SandboxErrorf(err error, format string, args ...interface{}) *Error {
	return Wrap(err, ErrorTypeSandbox, SeverityMedium, fmt.Sprintf(format, args...))
}

// PatchError wraps a diff application error
func PatchError(err error, message string) *Error {
	return Wrap(err, ErrorTypePatch, SeverityMedium, message)
}

// PersistenceError wraps a state file error
func PersistenceError(err error, message string) *Error {
	return Wrap(err, ErrorTypePersistence, SeverityHigh, message)
}

// PersistenceErrorf wraps a state file error with formatting
func PersistenceErrorf(err error, format string, args ...interface{}) *Error {
	return Wrap(err, ErrorTypePersistence, SeverityHigh, fmt.Sprintf(format, args...))
}

// InternalError creates an internal error
func InternalError(message string) *Error {
	return New(ErrorTypeInternal, SeverityCritical, message)
}

// InternalErrorf creates an internal error with formatting
func InternalErrorf(format string, args ...interface{}) *Error {
	return New(ErrorTypeInternal, SeverityCritical, fmt.Sprintf(format, args...))
}

// IsFatal checks if an error is fatal (should stop execution)
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	if e, ok := err.(*Error); ok {
		return e.IsFatal()
	}

	return false
}

// GetSeverity returns the severity of an error
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityLow
	}

	if e, ok := err.(*Error); ok {
		return e.Severity
	}

	return SeverityMedium
}

// GetType returns the type of an error
func GetType(err error) ErrorType {
	if err == nil {
		return ErrorTypeInternal
	}

	if e, ok := err.(*Error); ok {
		return e.Type
	}

	return ErrorTypeInternal
}

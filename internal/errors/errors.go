// Package errors provides centralized error definitions and error handling utilities
// for slurmled. It defines domain-specific errors for the two collaborators that
// can fail at runtime (the scheduler query transport and the LED hardware),
// semantic error types, and classification helpers.
//
// # Error Types
//
// Domain-specific errors:
//   - SourceError: the scheduler could not be queried (SSH, docker exec, parse)
//   - HardwareError: a GPIO line or the pixel strip could not be claimed or written
//
// Semantic errors:
//   - ValidationError: invalid input or configuration
//   - TimeoutError: an operation exceeded its bound
//
// # Usage
//
//	err := errors.NewSourceError("sinfo failed", cause).WithCommand("sinfo")
//	if errors.Is(err, errors.ErrQueryFailed) { ... }
//
//	var hwErr *errors.HardwareError
//	if errors.As(err, &hwErr) { ... }
//
// Neither loop in the monitor ever returns these to its caller; they are
// classified and logged at the severity they carry.
package errors

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Re-export standard library functions for convenience.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for per-frame failures that the next frame corrects.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for recoverable failures such as a missed poll.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// Level maps the severity onto the log level it is reported at.
func (s Severity) Level() slog.Level {
	switch s {
	case SeverityDebug:
		return slog.LevelDebug
	case SeverityInfo:
		return slog.LevelInfo
	case SeverityWarning:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

// Sentinel errors
var (
	// ErrQueryFailed indicates the scheduler query returned a non-zero status.
	ErrQueryFailed = New("scheduler query failed")
	// ErrHardwareUnavailable indicates a GPIO chip or SPI port could not be claimed.
	ErrHardwareUnavailable = New("hardware unavailable")
	// ErrReleased indicates a write to a hardware handle that was already released.
	ErrReleased = New("hardware handle released")
	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = New("operation timed out")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
)

// MonitorError is the base interface for all slurmled errors.
type MonitorError interface {
	error
	Unwrap() error
	Is(target error) bool
	Severity() Severity
	IsRetryable() bool
}

// baseError provides common functionality for all error types.
type baseError struct {
	message   string
	cause     error
	severity  Severity
	retryable bool
}

func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

func (e *baseError) Unwrap() error { return e.cause }

func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

func (e *baseError) Severity() Severity { return e.severity }
func (e *baseError) IsRetryable() bool  { return e.retryable }

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// SourceError represents a failed scheduler query.
//
// Example:
//
//	err := errors.NewSourceError("squeue failed", errors.ErrQueryFailed).
//		WithHost("192.168.4.160").WithCommand("squeue")
//	fmt.Println(err) // "source error [host=192.168.4.160, command=squeue]: squeue failed: scheduler query failed"
type SourceError struct {
	baseError
	Host    string
	Command string
	Stderr  string
}

// NewSourceError creates a new SourceError. Source failures are warnings and
// are retried naturally by the next poll.
func NewSourceError(message string, cause error) *SourceError {
	return &SourceError{
		baseError: baseError{
			message:   message,
			cause:     cause,
			severity:  SeverityWarning,
			retryable: true,
		},
	}
}

// WithHost records the scheduler host.
func (e *SourceError) WithHost(host string) *SourceError {
	e.Host = host
	return e
}

// WithCommand records which scheduler command failed.
func (e *SourceError) WithCommand(command string) *SourceError {
	e.Command = command
	return e
}

// WithStderr records trimmed stderr from the remote command.
func (e *SourceError) WithStderr(stderr string) *SourceError {
	e.Stderr = strings.TrimSpace(stderr)
	return e
}

// Error returns the formatted error message.
func (e *SourceError) Error() string {
	var parts []string
	if e.Host != "" {
		parts = append(parts, fmt.Sprintf("host=%s", e.Host))
	}
	if e.Command != "" {
		parts = append(parts, fmt.Sprintf("command=%s", e.Command))
	}

	prefix := "source error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("source error [%s]", strings.Join(parts, ", "))
	}

	msg := fmt.Sprintf("%s: %s", prefix, e.message)
	if e.cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.cause)
	}
	if e.Stderr != "" {
		msg = fmt.Sprintf("%s (stderr: %s)", msg, e.Stderr)
	}
	return msg
}

// Is checks if this error matches the target.
func (e *SourceError) Is(target error) bool {
	if _, ok := target.(*SourceError); ok {
		return true
	}
	if target == ErrQueryFailed {
		return true
	}
	return e.baseError.Is(target)
}

// HardwareError represents a failure to claim or drive an output device.
//
// Example:
//
//	err := errors.NewHardwareError("claim line", cause).WithDevice("gpiochip0").WithPin(17)
type HardwareError struct {
	baseError
	Device string
	Pin    int
	hasPin bool
}

// NewHardwareError creates a new HardwareError.
func NewHardwareError(message string, cause error) *HardwareError {
	return &HardwareError{
		baseError: baseError{
			message:  message,
			cause:    cause,
			severity: SeverityError,
		},
	}
}

// WithDevice records the chip or port name.
func (e *HardwareError) WithDevice(device string) *HardwareError {
	e.Device = device
	return e
}

// WithPin records the GPIO line offset.
func (e *HardwareError) WithPin(pin int) *HardwareError {
	e.Pin = pin
	e.hasPin = true
	return e
}

// WithSeverity sets the error severity.
func (e *HardwareError) WithSeverity(s Severity) *HardwareError {
	e.severity = s
	return e
}

// Error returns the formatted error message.
func (e *HardwareError) Error() string {
	var parts []string
	if e.Device != "" {
		parts = append(parts, fmt.Sprintf("device=%s", e.Device))
	}
	if e.hasPin {
		parts = append(parts, fmt.Sprintf("pin=%d", e.Pin))
	}

	prefix := "hardware error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("hardware error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *HardwareError) Is(target error) bool {
	if _, ok := target.(*HardwareError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// ValidationError represents invalid input.
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:  message,
			severity: SeverityError,
		},
	}
}

// WithField sets the offending field.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue sets the offending value.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	switch {
	case e.Field != "" && e.Value != nil:
		return fmt.Sprintf("validation error [%s]: %s (got: %v)", e.Field, e.message, e.Value)
	case e.Field != "":
		return fmt.Sprintf("validation error [%s]: %s", e.Field, e.message)
	default:
		return fmt.Sprintf("validation error: %s", e.message)
	}
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	if errors.Is(target, ErrInvalidInput) {
		return true
	}
	return e.baseError.Is(target)
}

// TimeoutError represents an operation that timed out.
//
// Example:
//
//	err := errors.NewTimeoutError("waiting for render loop to exit", time.Second)
//	fmt.Println(err) // "timeout error: waiting for render loop to exit (timeout: 1s)"
type TimeoutError struct {
	baseError
	Operation string
	Duration  time.Duration
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(operation string, duration time.Duration) *TimeoutError {
	return &TimeoutError{
		baseError: baseError{
			message:   operation,
			severity:  SeverityWarning,
			retryable: true,
		},
		Operation: operation,
		Duration:  duration,
	}
}

// WithCause adds a cause to the error.
func (e *TimeoutError) WithCause(cause error) *TimeoutError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *TimeoutError) Error() string {
	base := fmt.Sprintf("timeout error: %s (timeout: %s)", e.Operation, e.Duration)
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", base, e.cause)
	}
	return base
}

// Is checks if this error matches the target.
func (e *TimeoutError) Is(target error) bool {
	if _, ok := target.(*TimeoutError); ok {
		return true
	}
	if errors.Is(target, ErrTimeout) {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Classification Helpers
// -----------------------------------------------------------------------------

// IsRetryable returns true if the error represents a transient condition.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var monitorErr MonitorError
	if As(err, &monitorErr) {
		return monitorErr.IsRetryable()
	}

	return Is(err, ErrTimeout)
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't implement MonitorError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}

	var monitorErr MonitorError
	if As(err, &monitorErr) {
		return monitorErr.Severity()
	}

	return SeverityError
}

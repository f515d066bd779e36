// Package errors provides structured error handling for vk-masscan operations.
// It defines error codes, error types, and utilities for creating and
// classifying errors with target and operation context.
package errors

import (
	"fmt"
)

// ErrorCode represents different types of errors that can occur.
type ErrorCode string

const (
	// General errors.
	CodeUnknown       ErrorCode = "UNKNOWN"
	CodeValidation    ErrorCode = "VALIDATION"
	CodeConfiguration ErrorCode = "CONFIGURATION"
	CodeTimeout       ErrorCode = "TIMEOUT"
	CodeCanceled      ErrorCode = "CANCELED"

	// Sweep and parsing errors.
	CodeSweepFailed   ErrorCode = "SWEEP_FAILED"
	CodeSweepExitCode ErrorCode = "SWEEP_EXIT_CODE"
	CodeParseFailed   ErrorCode = "PARSE_FAILED"
	CodeBinaryMissing ErrorCode = "BINARY_MISSING"

	// Probe errors.
	CodeProbeFailed ErrorCode = "PROBE_FAILED"

	// Delivery and persistence errors.
	CodeNotifyFailed  ErrorCode = "NOTIFY_FAILED"
	CodePersistFailed ErrorCode = "PERSIST_FAILED"
)

// ScanError represents an error that occurred during sweep or probe operations.
type ScanError struct {
	Code      ErrorCode
	Message   string
	Target    string
	Operation string
	Cause     error
}

// Error implements the error interface.
func (e *ScanError) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("[%s] %s (target: %s)", e.Code, e.Message, e.Target)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *ScanError) Unwrap() error {
	return e.Cause
}

// NewScanError creates a new scan error with the specified code and message.
func NewScanError(code ErrorCode, message string) *ScanError {
	return &ScanError{Code: code, Message: message}
}

// NewScanErrorWithTarget creates a scan error for a specific target.
func NewScanErrorWithTarget(code ErrorCode, message, target string) *ScanError {
	return &ScanError{Code: code, Message: message, Target: target}
}

// WrapScanError wraps an existing error as a scan error.
func WrapScanError(code ErrorCode, message string, err error) *ScanError {
	return &ScanError{Code: code, Message: message, Cause: err}
}

// WrapScanErrorWithTarget wraps an error with target information.
func WrapScanErrorWithTarget(code ErrorCode, message, target string, err error) *ScanError {
	return &ScanError{Code: code, Message: message, Target: target, Cause: err}
}

// NotifyError represents notification delivery errors.
type NotifyError struct {
	Code      ErrorCode
	Message   string
	Transport string
	Cause     error
}

// Error implements the error interface.
func (e *NotifyError) Error() string {
	if e.Transport != "" {
		return fmt.Sprintf("[%s] %s (transport: %s)", e.Code, e.Message, e.Transport)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *NotifyError) Unwrap() error {
	return e.Cause
}

// WrapNotifyError wraps an existing error as a notification error.
func WrapNotifyError(message, transport string, err error) *NotifyError {
	return &NotifyError{Code: CodeNotifyFailed, Message: message, Transport: transport, Cause: err}
}

// PersistError represents history persistence errors.
type PersistError struct {
	Code    ErrorCode
	Message string
	Path    string
	Cause   error
}

// Error implements the error interface.
func (e *PersistError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("[%s] %s (path: %s)", e.Code, e.Message, e.Path)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *PersistError) Unwrap() error {
	return e.Cause
}

// WrapPersistError wraps an existing error as a persistence error.
func WrapPersistError(message, path string, err error) *PersistError {
	return &PersistError{Code: CodePersistFailed, Message: message, Path: path, Cause: err}
}

// ConfigError represents configuration-related errors.
type ConfigError struct {
	Code    ErrorCode
	Message string
	Field   string
	Value   interface{}
	Cause   error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s (field: %s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// NewConfigError creates a new configuration error.
func NewConfigError(code ErrorCode, message string) *ConfigError {
	return &ConfigError{Code: code, Message: message}
}

// NewConfigFieldError creates a configuration error for a specific field.
func NewConfigFieldError(code ErrorCode, message, field string, value interface{}) *ConfigError {
	return &ConfigError{Code: code, Message: message, Field: field, Value: value}
}

// WrapConfigError wraps an existing error as a configuration error.
func WrapConfigError(code ErrorCode, message string, err error) *ConfigError {
	return &ConfigError{Code: code, Message: message, Cause: err}
}

// Utility functions for common error operations

// IsCode checks if an error has a specific error code.
func IsCode(err error, code ErrorCode) bool {
	return GetCode(err) == code
}

// GetCode extracts the error code from an error if it has one.
func GetCode(err error) ErrorCode {
	switch e := err.(type) {
	case *ScanError:
		return e.Code
	case *NotifyError:
		return e.Code
	case *PersistError:
		return e.Code
	case *ConfigError:
		return e.Code
	}
	return CodeUnknown
}

// IsFatal determines if an error indicates a fatal condition that should stop execution.
// Only startup-class failures are fatal; per-target and delivery errors degrade.
func IsFatal(err error) bool {
	switch GetCode(err) {
	case CodeConfiguration, CodeValidation, CodeBinaryMissing:
		return true
	default:
		return false
	}
}

// Common error creation functions

// ErrSweepTimeout creates an error for sweep timeouts.
func ErrSweepTimeout(target string) *ScanError {
	return NewScanErrorWithTarget(CodeTimeout, "sweep operation timed out", target)
}

// ErrSweepExitCode creates an error for unexpected sweeper exit codes.
func ErrSweepExitCode(target string, code int) *ScanError {
	return NewScanErrorWithTarget(CodeSweepExitCode,
		fmt.Sprintf("sweeper exited with unexpected code %d", code), target)
}

// ErrOutputUnreadable creates an error for sweep output that could not
// be read or parsed.
func ErrOutputUnreadable(target string, err error) *ScanError {
	return WrapScanErrorWithTarget(CodeParseFailed, "sweep output unreadable", target, err)
}

// ErrConfigMissing creates an error for missing required configuration.
func ErrConfigMissing(field string) *ConfigError {
	return NewConfigFieldError(CodeConfiguration, "required configuration field missing", field, nil)
}

// ErrConfigInvalid creates an error for invalid configuration.
func ErrConfigInvalid(field string, value interface{}) *ConfigError {
	return NewConfigFieldError(CodeValidation, "invalid configuration value", field, value)
}

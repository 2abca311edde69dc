package errors

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorType categorizes domain errors
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeConflict   ErrorType = "conflict"
	ErrorTypeIO         ErrorType = "io"
	ErrorTypeProcess    ErrorType = "process"
	ErrorTypeInternal   ErrorType = "internal"
	ErrorTypeTimeout    ErrorType = "timeout"
	ErrorTypeCancelled  ErrorType = "cancelled"
	ErrorTypeNetwork    ErrorType = "network"

	// Supervisor taxonomy
	ErrorTypeNotConfigured       ErrorType = "not_configured"
	ErrorTypeAlreadyRunning      ErrorType = "already_running"
	ErrorTypeNotRunning          ErrorType = "not_running"
	ErrorTypeLaunchTargetMissing ErrorType = "launch_target_missing"
	ErrorTypeProtocol            ErrorType = "protocol"
	ErrorTypeSignalDelivery      ErrorType = "signal_delivery"
	ErrorTypeBind                ErrorType = "bind"
)

// DomainError is the error type returned by all packages of this module
type DomainError struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]interface{}
}

func NewDomainError(errorType ErrorType, message string, cause error) *DomainError {
	return &DomainError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
	}
}

// WithContext attaches a key/value pair that is rendered in Error()
func (e *DomainError) WithContext(key string, value interface{}) *DomainError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func (e *DomainError) Error() string {
	var sb strings.Builder
	sb.WriteString(string(e.Type))
	sb.WriteString(": ")
	sb.WriteString(e.Message)

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		sb.WriteString(" [")
		sb.WriteString(strings.Join(parts, ", "))
		sb.WriteString("]")
	}

	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}
	return sb.String()
}

func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is matches another DomainError by type, so errors.Is(err, &DomainError{Type: X}) works
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return t.Type == e.Type && (t.Message == "" || t.Message == e.Message)
}

func NewValidationError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeValidation, message, cause)
}

func NewNotFoundError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeNotFound, message, cause)
}

func NewConflictError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeConflict, message, cause)
}

func NewIOError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeIO, message, cause)
}

func NewProcessError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeProcess, message, cause)
}

func NewInternalError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeInternal, message, cause)
}

func NewTimeoutError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeTimeout, message, cause)
}

func NewCancelledError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeCancelled, message, cause)
}

func NewNetworkError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeNetwork, message, cause)
}

func NewNotConfiguredError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeNotConfigured, message, cause)
}

func NewAlreadyRunningError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeAlreadyRunning, message, cause)
}

func NewNotRunningError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeNotRunning, message, cause)
}

func NewLaunchTargetMissingError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeLaunchTargetMissing, message, cause)
}

func NewProtocolError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeProtocol, message, cause)
}

func NewSignalDeliveryError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeSignalDelivery, message, cause)
}

func NewBindError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeBind, message, cause)
}

// TypeOf returns the type of the outermost DomainError in the chain, or "" if there is none
func TypeOf(err error) ErrorType {
	var de *DomainError
	if stderrors.As(err, &de) {
		return de.Type
	}
	return ""
}

func isType(err error, errorType ErrorType) bool {
	return TypeOf(err) == errorType
}

func IsValidationError(err error) bool     { return isType(err, ErrorTypeValidation) }
func IsNotFoundError(err error) bool       { return isType(err, ErrorTypeNotFound) }
func IsConflictError(err error) bool       { return isType(err, ErrorTypeConflict) }
func IsIOError(err error) bool             { return isType(err, ErrorTypeIO) }
func IsProcessError(err error) bool        { return isType(err, ErrorTypeProcess) }
func IsInternalError(err error) bool       { return isType(err, ErrorTypeInternal) }
func IsTimeoutError(err error) bool        { return isType(err, ErrorTypeTimeout) }
func IsCancelledError(err error) bool      { return isType(err, ErrorTypeCancelled) }
func IsNotConfiguredError(err error) bool  { return isType(err, ErrorTypeNotConfigured) }
func IsAlreadyRunningError(err error) bool { return isType(err, ErrorTypeAlreadyRunning) }
func IsNotRunningError(err error) bool     { return isType(err, ErrorTypeNotRunning) }
func IsProtocolError(err error) bool       { return isType(err, ErrorTypeProtocol) }
func IsBindError(err error) bool           { return isType(err, ErrorTypeBind) }

func IsLaunchTargetMissingError(err error) bool {
	return isType(err, ErrorTypeLaunchTargetMissing)
}

func IsSignalDeliveryError(err error) bool {
	return isType(err, ErrorTypeSignalDelivery)
}

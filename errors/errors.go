package errors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// Install-time errors
	ErrorTypeInvalidConfig       ErrorType = "invalid_config"
	ErrorTypeIncompatibleVersion ErrorType = "incompatible_version"
	ErrorTypeConflict            ErrorType = "conflict"

	// Lookup errors
	ErrorTypeNotFound  ErrorType = "not_found"
	ErrorTypeMalformed ErrorType = "malformed_plugin"

	// Load-time errors
	ErrorTypeLoadFault ErrorType = "load_fault"

	// System errors
	ErrorTypeDatabase ErrorType = "database"
	ErrorTypeInternal ErrorType = "internal"
	ErrorTypeUnknown  ErrorType = "unknown"
)

// Error codes for specific scenarios
const (
	CodeInvalidConfig       = "INVALID_CONFIG"
	CodeDescriptorMissing   = "DESCRIPTOR_MISSING"
	CodeIncompatibleVersion = "INCOMPATIBLE_VERSION"
	CodeAlreadyInstalled    = "ALREADY_INSTALLED"
	CodePluginNotFound      = "PLUGIN_NOT_FOUND"
	CodeRecordNotFound      = "RECORD_NOT_FOUND"
	CodeHandlerNotFound     = "HANDLER_NOT_FOUND"
	CodeStorageNotFound     = "STORAGE_NOT_FOUND"
	CodeMalformedPlugin     = "MALFORMED_PLUGIN"
	CodeLoadFault           = "LOAD_FAULT"
	CodeFaultNotRecorded    = "FAULT_NOT_RECORDED"
)

// AppError represents a structured application error
type AppError struct {
	Type       ErrorType      `json:"type"`
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	Details    map[string]any `json:"details,omitempty"`
	InnerError error          `json:"-"`
	Stack      []string       `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Type)
	}
	if e.InnerError != nil {
		return msg + ": " + e.InnerError.Error()
	}
	return msg
}

// Unwrap returns the inner error
func (e *AppError) Unwrap() error {
	return e.InnerError
}

// WithMessage adds a message to the error
func (e *AppError) WithMessage(msg string) *AppError {
	e.Message = msg
	return e
}

// WithCode adds a code to the error
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

// WithDetail adds a detail to the error
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithInnerError sets the inner error
func (e *AppError) WithInnerError(err error) *AppError {
	e.InnerError = err
	return e
}

// WithStack captures the call stack
func (e *AppError) WithStack() *AppError {
	e.Stack = captureStack(3)
	return e
}

// Location returns the first captured stack frame, or "" without a stack.
func (e *AppError) Location() string {
	if len(e.Stack) == 0 {
		return ""
	}
	return e.Stack[0]
}

// Is matches on type, and on code when the target carries one.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	if e.Type != t.Type {
		return false
	}
	return t.Code == "" || e.Code == t.Code
}

// New creates a new AppError
func New(errType ErrorType, message string) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
		Code:    string(errType),
	}
}

// FromError converts a standard error to AppError
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	return &AppError{
		Type:       ErrorTypeUnknown,
		Message:    err.Error(),
		InnerError: err,
	}
}

// WrapWithType wraps an error with a specific type
func WrapWithType(err error, errType ErrorType, message string) *AppError {
	return &AppError{
		Type:       errType,
		Message:    message,
		InnerError: err,
		Code:       string(errType),
	}
}

// TypeOf reports the AppError type carried by err, or ErrorTypeUnknown.
func TypeOf(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrorTypeUnknown
}

func NewInvalidConfig(reason string) *AppError {
	return New(ErrorTypeInvalidConfig, "plugin configuration is not valid").
		WithCode(CodeInvalidConfig).
		WithDetail("reason", reason)
}

func NewIncompatibleVersion(plugin, hostVersion string) *AppError {
	return New(ErrorTypeIncompatibleVersion, fmt.Sprintf("plugin %s is not compatible with host version %s", plugin, hostVersion)).
		WithCode(CodeIncompatibleVersion).
		WithDetail("plugin", plugin).
		WithDetail("host_version", hostVersion)
}

func NewConflict(resource string, id any) *AppError {
	return New(ErrorTypeConflict, fmt.Sprintf("%s already exists", resource)).
		WithDetail("resource", resource).
		WithDetail("id", id)
}

func NewNotFound(resource string, id any) *AppError {
	return New(ErrorTypeNotFound, fmt.Sprintf("%s not found", resource)).
		WithDetail("resource", resource).
		WithDetail("id", id)
}

func NewLoadFault(plugin string, cause error) *AppError {
	return WrapWithType(cause, ErrorTypeLoadFault, fmt.Sprintf("plugin %s failed to load", plugin)).
		WithCode(CodeLoadFault).
		WithDetail("plugin", plugin)
}

func NewDatabase(message string) *AppError {
	return New(ErrorTypeDatabase, message)
}

func NewInternal(message string) *AppError {
	return New(ErrorTypeInternal, message)
}

// FromPanic converts a recovered panic value into an AppError with a stack.
func FromPanic(r any) *AppError {
	var appErr *AppError
	switch v := r.(type) {
	case error:
		appErr = WrapWithType(v, ErrorTypeInternal, "panic recovered")
	case string:
		appErr = New(ErrorTypeInternal, v)
	default:
		appErr = New(ErrorTypeInternal, fmt.Sprintf("%v", v))
	}
	appErr.Stack = captureStack(4)
	return appErr
}

// ErrorFormatter formats errors for display
type ErrorFormatter struct {
	showStack bool
	showInner bool
}

// NewErrorFormatter creates a new error formatter
func NewErrorFormatter(showStack bool, showInner bool) *ErrorFormatter {
	return &ErrorFormatter{
		showStack: showStack,
		showInner: showInner,
	}
}

// Format formats an error as a string
func (f *ErrorFormatter) Format(err error) string {
	if err == nil {
		return ""
	}

	appErr := FromError(err)

	var parts []string
	parts = append(parts, fmt.Sprintf("[%s] %s", appErr.Type, appErr.Message))

	if appErr.Code != "" && appErr.Code != string(appErr.Type) {
		parts = append(parts, fmt.Sprintf("code=%s", appErr.Code))
	}

	for k, v := range appErr.Details {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}

	if f.showStack && len(appErr.Stack) > 0 {
		parts = append(parts, "stack:")
		for _, s := range appErr.Stack {
			parts = append(parts, "  "+s)
		}
	}

	if f.showInner && appErr.InnerError != nil {
		parts = append(parts, "caused_by: "+appErr.InnerError.Error())
	}

	return strings.Join(parts, " | ")
}

// captureStack captures the call stack
func captureStack(skip int) []string {
	var stack []string
	for i := skip; i < skip+10; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}

		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}

		funcName := fn.Name()
		if idx := strings.LastIndex(funcName, "/"); idx >= 0 {
			funcName = funcName[idx+1:]
		}

		stack = append(stack, fmt.Sprintf("%s:%d %s", file, line, funcName))
	}
	return stack
}

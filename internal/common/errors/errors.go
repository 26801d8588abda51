package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorCode identifies a failure class in user-facing diagnostics and HTTP bodies.
type ErrorCode string

const (
	ErrCodeInternal   ErrorCode = "INTERNAL_ERROR"
	ErrCodeValidation ErrorCode = "VALIDATION_ERROR"
	ErrCodeAuth       ErrorCode = "AUTH_ERROR"
	ErrCodeRateLimit  ErrorCode = "RATE_LIMITED"

	// Linking
	ErrCodeAccountNotFound     ErrorCode = "ACCOUNT_NOT_FOUND"
	ErrCodeInvalidCredentials  ErrorCode = "INVALID_CREDENTIALS"
	ErrCodeAlreadyLinked       ErrorCode = "ALREADY_LINKED"
	ErrCodeUserLinkedElsewhere ErrorCode = "USER_LINKED_ELSEWHERE"
	ErrCodeSessionConflict     ErrorCode = "SESSION_CONFLICT"

	// Infrastructure
	ErrCodeStorage     ErrorCode = "STORAGE_ERROR"
	ErrCodeUpstreamAPI ErrorCode = "UPSTREAM_API_ERROR"
	ErrCodeTelegramAPI ErrorCode = "TELEGRAM_API_ERROR"

	// ErrCodeUnknown is reported for errors that carry no code.
	ErrCodeUnknown ErrorCode = "UNKNOWN"
)

// AppError is a typed application error carrying a code and diagnostic context.
type AppError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Context   map[string]string      `json:"context,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Cause     error                  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches another *AppError by code, so errors.Is(err, &AppError{Code: X}) works.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// IsCredentialFailure reports failures that reset the linking dialog.
func (e *AppError) IsCredentialFailure() bool {
	return e.Code == ErrCodeAccountNotFound ||
		e.Code == ErrCodeInvalidCredentials ||
		e.Code == ErrCodeUserLinkedElsewhere
}

// IsInternal reports infrastructure failures that should be logged at error level.
func (e *AppError) IsInternal() bool {
	return e.Code == ErrCodeInternal ||
		e.Code == ErrCodeStorage ||
		e.Code == ErrCodeUpstreamAPI ||
		e.Code == ErrCodeTelegramAPI
}

func (e *AppError) WithContext(key, value string) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

func (e *AppError) WithDetail(key string, value interface{}) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates an application error stamped with the current time.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:      code,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}

// Wrap wraps an existing error.
func Wrap(err error, code ErrorCode, message string) *AppError {
	appErr := New(code, message)
	appErr.Cause = err
	return appErr
}

func Wrapf(err error, code ErrorCode, format string, args ...interface{}) *AppError {
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

func NewValidationError(field, reason string) *AppError {
	return New(ErrCodeValidation, fmt.Sprintf("Validation failed for field '%s': %s", field, reason)).
		WithDetail("field", field).
		WithDetail("reason", reason)
}

func NewAuthError(reason string) *AppError {
	return New(ErrCodeAuth, fmt.Sprintf("Authentication failed: %s", reason)).
		WithDetail("reason", reason)
}

func NewAccountNotFoundError(email string) *AppError {
	return New(ErrCodeAccountNotFound, "Account not found").
		WithDetail("email", email)
}

func NewInvalidCredentialsError() *AppError {
	return New(ErrCodeInvalidCredentials, "Invalid credentials")
}

func NewAlreadyLinkedError(telegramID int64) *AppError {
	return New(ErrCodeAlreadyLinked, "Telegram account is already linked").
		WithDetail("telegram_id", telegramID)
}

func NewUserLinkedElsewhereError(userID int64) *AppError {
	return New(ErrCodeUserLinkedElsewhere, "Account is already linked to another Telegram user").
		WithDetail("user_id", userID)
}

func NewRateLimitError(retryAfter time.Duration) *AppError {
	return New(ErrCodeRateLimit, "Too many attempts, please wait and try again").
		WithDetail("retry_after", retryAfter.String())
}

// NewStorageError wraps a persistence failure.
func NewStorageError(operation string, err error) *AppError {
	return Wrap(err, ErrCodeStorage, fmt.Sprintf("Storage operation failed: %s", operation)).
		WithDetail("operation", operation)
}

func NewSessionConflictError() *AppError {
	return New(ErrCodeSessionConflict, "Your session was changed by another request, please try again")
}

func NewUpstreamAPIError(operation string, status int, err error) *AppError {
	appErr := Wrap(err, ErrCodeUpstreamAPI, fmt.Sprintf("EventApp API request failed: %s", operation)).
		WithDetail("operation", operation)
	if status != 0 {
		appErr.WithDetail("status", status)
	}
	return appErr
}

func NewTelegramAPIError(operation string, err error) *AppError {
	return Wrap(err, ErrCodeTelegramAPI, fmt.Sprintf("Telegram API operation failed: %s", operation)).
		WithDetail("operation", operation)
}

// AsAppError extracts an *AppError from the chain.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	appErr, ok := AsAppError(err)
	return ok && appErr.Code == code
}

// CodeOf returns the error code, or UNKNOWN when err carries none.
func CodeOf(err error) ErrorCode {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	return ErrCodeUnknown
}

// Describe returns the human description of err: the AppError message, or err.Error().
func Describe(err error) string {
	if err == nil {
		return ""
	}
	if appErr, ok := AsAppError(err); ok {
		return appErr.Message
	}
	return err.Error()
}

// TimestampOf returns when the error was raised, falling back to now.
func TimestampOf(err error) time.Time {
	if appErr, ok := AsAppError(err); ok && !appErr.Timestamp.IsZero() {
		return appErr.Timestamp
	}
	return time.Now().UTC()
}

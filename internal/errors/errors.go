package errors

import (
	stderrors "errors"
	"fmt"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

const (
	CodeValidation   = "E100"
	CodeNotFound     = "E110"
	CodeBackingStore = "E200"
	CodeDelivery     = "E300"
	CodeRateLimit    = "E500"
	CodeInternal     = "E900"
)

// GenericUserMessage is shown whenever an error has no user-facing text of its own.
const GenericUserMessage = "❌ Произошла ошибка. Попробуйте еще раз."

type AppError struct {
	Code        string
	Message     string
	UserMessage string
	Severity    Severity
	Retryable   bool
	cause       error
}

func (e *AppError) Error() string {
	if e == nil {
		return ""
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}

	return e.Message
}

func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.cause
}

func (e *AppError) Cause() error {
	return e.Unwrap()
}

// NewValidationError reports user input that cannot be accepted. The user is re-prompted.
func NewValidationError(msg string, cause error) *AppError {
	return &AppError{
		Code:        CodeValidation,
		Message:     msg,
		UserMessage: msg,
		Severity:    SeverityLow,
		Retryable:   false,
		cause:       cause,
	}
}

func NewNotFoundError(what string, cause error) *AppError {
	return &AppError{
		Code:        CodeNotFound,
		Message:     fmt.Sprintf("%s not found", what),
		UserMessage: GenericUserMessage,
		Severity:    SeverityLow,
		Retryable:   false,
		cause:       cause,
	}
}

// NewBackingStoreError wraps a ledger or cache failure. Reads may be retried.
func NewBackingStoreError(op string, cause error) *AppError {
	return &AppError{
		Code:        CodeBackingStore,
		Message:     fmt.Sprintf("backing store error during %s", op),
		UserMessage: GenericUserMessage,
		Severity:    SeverityHigh,
		Retryable:   true,
		cause:       cause,
	}
}

// NewDeliveryError reports an outbound message that did not reach the user. Never retried.
func NewDeliveryError(externalID int64, cause error) *AppError {
	return &AppError{
		Code:        CodeDelivery,
		Message:     fmt.Sprintf("delivery to user %d failed", externalID),
		UserMessage: GenericUserMessage,
		Severity:    SeverityMedium,
		Retryable:   false,
		cause:       cause,
	}
}

// NewInternalError reports a programming fault such as a recovered panic.
func NewInternalError(cause error) *AppError {
	return &AppError{
		Code:        CodeInternal,
		Message:     "internal error",
		UserMessage: GenericUserMessage,
		Severity:    SeverityCritical,
		Retryable:   false,
		cause:       cause,
	}
}

func NewRateLimitError(retryAfter int) *AppError {
	return &AppError{
		Code:        CodeRateLimit,
		Message:     fmt.Sprintf("Rate limit exceeded: retry after %d seconds", retryAfter),
		UserMessage: fmt.Sprintf("Слишком много запросов. Попробуйте через %d секунд", retryAfter),
		Severity:    SeverityLow,
		Retryable:   false,
		cause:       nil,
	}
}

// WithUserMessage returns a copy of err's AppError carrying msg as its user-facing text.
// Errors that are not AppErrors are wrapped as backing-store errors first.
func WithUserMessage(err error, msg string) error {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if !stderrors.As(err, &appErr) || appErr == nil {
		appErr = NewBackingStoreError("handler", err)
	}

	copied := *appErr
	copied.UserMessage = msg
	return &copied
}

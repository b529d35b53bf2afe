package errors

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	CodeEmptyMessage          = "EMPTY_MESSAGE"
	CodeTransmitFailed        = "TRANSMIT_FAILED"
	CodeMalformedPersisted    = "MALFORMED_PERSISTED_DATA"
	CodeFeedSubscription      = "FEED_SUBSCRIPTION_ERROR"
	CodeAttachmentTooLarge    = "ATTACHMENT_TOO_LARGE"
	CodeUnsupportedAttachment = "UNSUPPORTED_ATTACHMENT"
	CodeNotFound              = "NOT_FOUND"
	CodeBadRequest            = "BAD_REQUEST"
	CodeUnauthorized          = "UNAUTHORIZED"
	CodeInternal              = "INTERNAL_ERROR"
	CodeTooManyRequests       = "TOO_MANY_REQUESTS"
)

type AppError struct {
	Code    string
	Message string
	Status  int
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(code string, message string, status int, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Status:  status,
		Err:     err,
	}
}

func EmptyMessage() *AppError {
	return &AppError{
		Code:    CodeEmptyMessage,
		Message: "Message has no text and no attachment",
		Status:  http.StatusBadRequest,
	}
}

func TransmitFailed(err error) *AppError {
	return &AppError{
		Code:    CodeTransmitFailed,
		Message: "Message could not be sent and was queued",
		Status:  http.StatusServiceUnavailable,
		Err:     err,
	}
}

func MalformedPersistedData(key string, err error) *AppError {
	return &AppError{
		Code:    CodeMalformedPersisted,
		Message: fmt.Sprintf("stored value for %q is malformed", key),
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

func FeedSubscription(err error) *AppError {
	return &AppError{
		Code:    CodeFeedSubscription,
		Message: "Message feed subscription failed",
		Status:  http.StatusServiceUnavailable,
		Err:     err,
	}
}

func AttachmentTooLarge(limit int) *AppError {
	return &AppError{
		Code:    CodeAttachmentTooLarge,
		Message: fmt.Sprintf("Attachment exceeds %d bytes", limit),
		Status:  http.StatusRequestEntityTooLarge,
	}
}

func UnsupportedAttachment(mime string) *AppError {
	return &AppError{
		Code:    CodeUnsupportedAttachment,
		Message: fmt.Sprintf("Attachment type %s is not an image", mime),
		Status:  http.StatusUnsupportedMediaType,
	}
}

func NotFound(resource string, err error) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Status:  http.StatusNotFound,
		Err:     err,
	}
}

func BadRequest(message string, err error) *AppError {
	return &AppError{
		Code:    CodeBadRequest,
		Message: message,
		Status:  http.StatusBadRequest,
		Err:     err,
	}
}

func Unauthorized(message string, err error) *AppError {
	return &AppError{
		Code:    CodeUnauthorized,
		Message: message,
		Status:  http.StatusUnauthorized,
		Err:     err,
	}
}

func Internal(message string, err error) *AppError {
	return &AppError{
		Code:    CodeInternal,
		Message: message,
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

func TooManyRequests(message string) *AppError {
	return &AppError{
		Code:    CodeTooManyRequests,
		Message: message,
		Status:  http.StatusTooManyRequests,
	}
}

func Is(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

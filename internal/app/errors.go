package app

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"board/api/internal/export"
	"board/api/internal/media"
	"board/api/internal/push"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func validationError(message string, details any) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, details)
}

var (
	errThreadNotFound   = domainError(http.StatusNotFound, "THREAD_NOT_FOUND", "Thread not found", nil)
	errPostNotFound     = domainError(http.StatusNotFound, "POST_NOT_FOUND", "Post not found", nil)
	errInvalidDeleteKey = domainError(http.StatusForbidden, "INVALID_DELETE_KEY", "Delete password does not match", nil)
	errImagesDisabled   = domainError(http.StatusServiceUnavailable, "IMAGES_UNAVAILABLE", "Image uploads are not configured", nil)
	errPushDisabled     = domainError(http.StatusServiceUnavailable, "PUSH_UNAVAILABLE", "Push notifications are not configured", nil)
)

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	switch {
	case errors.Is(err, media.ErrTooLarge):
		return http.StatusRequestEntityTooLarge, "IMAGE_TOO_LARGE", err.Error(), nil
	case errors.Is(err, media.ErrEmpty), errors.Is(err, media.ErrNotImage):
		return http.StatusUnprocessableEntity, "INVALID_IMAGE", err.Error(), nil
	case errors.Is(err, export.ErrUnsupportedFormat):
		return http.StatusBadRequest, "UNSUPPORTED_FORMAT", "format must be html or pdf", nil
	case errors.Is(err, export.ErrPDFDependencyMissing):
		return http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "PDF export is not available on this server", nil
	case errors.Is(err, push.ErrInvalidSubscription):
		return http.StatusUnprocessableEntity, "INVALID_SUBSCRIPTION", "Push subscription is invalid", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

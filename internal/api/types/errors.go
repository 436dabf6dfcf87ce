package types

import (
	"net/http"

	appErr "github.com/opsforge/engine/pkg/errors"
)

func FromAppError(err error) *APIError {
	if err == nil {
		return nil
	}
	code := string(appErr.CodeUnknown)
	if e, ok := err.(*appErr.AppError); ok {
		code = string(e.Code)
		return &APIError{Code: code, Message: e.Message}
	}
	return &APIError{Code: code, Message: err.Error()}
}

// StatusFor maps error codes to HTTP statuses.
func StatusFor(err error) int {
	switch {
	case appErr.IsCode(err, appErr.CodeNotFound), appErr.IsCode(err, appErr.CodeTemplateNotFound):
		return http.StatusNotFound
	case appErr.IsCode(err, appErr.CodeInvalid), appErr.IsCode(err, appErr.CodeNoPlan):
		return http.StatusBadRequest
	case appErr.IsCode(err, appErr.CodeConflict), appErr.IsCode(err, appErr.CodeOperationInProgress):
		return http.StatusConflict
	case appErr.IsCode(err, appErr.CodeUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

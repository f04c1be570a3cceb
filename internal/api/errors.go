package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/npezzotti/go-cloudclip/internal/blob"
	"github.com/npezzotti/go-cloudclip/internal/server"
)

type ApiError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Err        error  `json:"-"`
}

func (e *ApiError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}

	return e.Message
}

func (e *ApiError) Unwrap() error {
	return e.Err
}

func lower(s string) string {
	return strings.ToLower(s)
}

func newApiError(statusCode int, err error) *ApiError {
	return &ApiError{
		StatusCode: statusCode,
		Message:    lower(http.StatusText(statusCode)),
		Err:        err,
	}
}

func NewBadRequestError() *ApiError {
	return newApiError(http.StatusBadRequest, nil)
}

func NewNotFoundError() *ApiError {
	return newApiError(http.StatusNotFound, nil)
}

func NewInternalServerError(err error) *ApiError {
	return newApiError(http.StatusInternalServerError, err)
}

func NewUnauthorizedError() *ApiError {
	return newApiError(http.StatusUnauthorized, nil)
}

func NewPayloadTooLargeError() *ApiError {
	return newApiError(http.StatusRequestEntityTooLarge, nil)
}

func NewTooManyRequestsError() *ApiError {
	return newApiError(http.StatusTooManyRequests, nil)
}

func NewServiceUnavailableError(err error) *ApiError {
	return newApiError(http.StatusServiceUnavailable, err)
}

// errorFor maps an error from the room dispatcher or a store onto the
// response the client sees.
func errorFor(err error) *ApiError {
	var maxBytes *http.MaxBytesError

	switch {
	case errors.Is(err, server.ErrUnauthorized):
		return NewUnauthorizedError()
	case errors.Is(err, server.ErrEmptyContent):
		e := NewBadRequestError()
		e.Message = server.ErrEmptyContent.Error()
		return e
	case errors.Is(err, server.ErrNotFound), errors.Is(err, blob.ErrNotFound):
		return NewNotFoundError()
	case errors.Is(err, server.ErrPayloadTooLarge), errors.As(err, &maxBytes):
		return NewPayloadTooLargeError()
	case errors.Is(err, server.ErrStorageUnavailable),
		errors.Is(err, server.ErrShuttingDown),
		errors.Is(err, server.ErrSessionOverflow):
		return NewServiceUnavailableError(err)
	default:
		return NewInternalServerError(err)
	}
}

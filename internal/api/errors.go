package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/samcharles93/chdkit/pkg/chd"
)

var ErrInvalidRequest = errors.New("invalid_request")

type invalidRequestError struct {
	msg string
}

func (e invalidRequestError) Error() string {
	return e.msg
}

func (e invalidRequestError) Unwrap() error {
	return ErrInvalidRequest
}

func newInvalidRequest(format string, args ...any) error {
	return invalidRequestError{msg: fmt.Sprintf(format, args...)}
}

// errorStatus maps an error to its HTTP status and error type.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, chd.ErrInvalidArgument),
		errors.Is(err, chd.ErrInvalidTag):
		return http.StatusBadRequest, "invalid_request_error"
	case errors.Is(err, chd.ErrNotFound):
		return http.StatusNotFound, "not_found_error"
	case errors.Is(err, chd.ErrOutOfRange):
		return http.StatusRequestedRangeNotSatisfiable, "range_error"
	case errors.Is(err, chd.ErrClosedSession):
		return http.StatusGone, "closed_session_error"
	case errors.Is(err, chd.ErrParentRequired), errors.Is(err, chd.ErrParentInvalid):
		return http.StatusConflict, "parent_error"
	case errors.Is(err, chd.ErrUnsupported):
		return http.StatusUnsupportedMediaType, "unsupported_error"
	case errors.Is(err, chd.ErrNotSupportedOperation):
		return http.StatusNotImplemented, "unsupported_error"
	case errors.Is(err, chd.ErrNotWritable):
		return http.StatusForbidden, "permission_error"
	case errors.Is(err, chd.ErrDataInvalid), errors.Is(err, chd.ErrInvariantViolation):
		return http.StatusUnprocessableEntity, "invalid_data_error"
	}
	return http.StatusInternalServerError, "server_error"
}

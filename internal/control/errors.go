package control

import (
	"errors"
	"net/http"

	"github.com/samcharles93/gpufence/internal/device"
	"github.com/samcharles93/gpufence/internal/fence"
	"github.com/samcharles93/gpufence/internal/syncfw"
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

func newInvalidRequest(msg string) error {
	return invalidRequestError{msg: msg}
}

// classify maps an engine error to an HTTP status and error type.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, fence.ErrHandleNotFound):
		return http.StatusNotFound, "not_found_error"
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, fence.ErrInvalidParams),
		errors.Is(err, fence.ErrTimelineMismatch),
		errors.Is(err, device.ErrBadAddress):
		return http.StatusBadRequest, "invalid_request_error"
	case errors.Is(err, fence.ErrResourceUnavailable),
		errors.Is(err, syncfw.ErrTimelineDestroyed),
		errors.Is(err, syncfw.ErrPointInFence):
		return http.StatusConflict, "conflict_error"
	case errors.Is(err, fence.ErrOutOfMemory),
		errors.Is(err, device.ErrOutOfSyncMemory):
		return http.StatusServiceUnavailable, "resource_exhausted_error"
	case errors.Is(err, fence.ErrClosed),
		errors.Is(err, device.ErrClosed):
		return http.StatusServiceUnavailable, "unavailable_error"
	default:
		return http.StatusInternalServerError, "server_error"
	}
}

package fence

import "errors"

var (
	ErrOutOfMemory         = errors.New("fence: out of memory")
	ErrHandleNotFound      = errors.New("fence: handle not found")
	ErrResourceUnavailable = errors.New("fence: resource unavailable")
	ErrTimelineMismatch    = errors.New("fence: alloc handle belongs to another timeline")
	ErrInvalidParams       = errors.New("fence: invalid parameters")
	ErrClosed              = errors.New("fence: engine closed")
)

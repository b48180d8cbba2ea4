package device

import "errors"

var (
	ErrOutOfSyncMemory = errors.New("device: out of sync memory")
	ErrTimeout         = errors.New("device: event wait timed out")
	ErrClosed          = errors.New("device: closed")
	ErrBadAddress      = errors.New("device: address outside sync memory")
)

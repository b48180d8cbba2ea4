package device

import (
	"sync"
	"time"
)

// EventObject is the device-global wakeup source. Signal wakes every
// listener currently waiting; a listener that missed a signal between two
// waits returns immediately from the next one.
type EventObject struct {
	mu      sync.Mutex
	gen     uint64
	ch      chan struct{}
	closed  bool
	timeout time.Duration
}

func newEventObject(timeout time.Duration) *EventObject {
	return &EventObject{
		ch:      make(chan struct{}),
		timeout: timeout,
	}
}

// Signal wakes all listeners.
func (e *EventObject) Signal() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	close(e.ch)
	e.ch = make(chan struct{})
	e.gen++
}

func (e *EventObject) close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	close(e.ch)
}

// Open returns a listener positioned at the current generation.
func (e *EventObject) Open() (*EventListener, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	return &EventListener{ev: e, seen: e.gen}, nil
}

// Listener waits on an event object.
type Listener interface {
	Wait() error
	Close() error
}

// EventListener is one opened view of an EventObject.
type EventListener struct {
	ev   *EventObject
	seen uint64
}

var _ Listener = (*EventListener)(nil)

// Wait blocks until the next signal or the event timeout. It returns
// ErrTimeout when nothing was signaled, ErrClosed once the device is gone.
func (l *EventListener) Wait() error {
	e := l.ev
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if e.gen != l.seen {
		l.seen = e.gen
		e.mu.Unlock()
		return nil
	}
	ch := e.ch
	e.mu.Unlock()

	timer := time.NewTimer(e.timeout)
	defer timer.Stop()
	select {
	case <-ch:
		e.mu.Lock()
		l.seen = e.gen
		closed := e.closed
		e.mu.Unlock()
		if closed {
			return ErrClosed
		}
		return nil
	case <-timer.C:
		return ErrTimeout
	}
}

func (l *EventListener) Close() error { return nil }

package aoi

import (
	"errors"
	"sync"
)

var (
	ErrClosed       = errors.New("aoi: connection closed")
	ErrBackpressure = errors.New("aoi: outbound queue full")
)

// Handle is the live outbound side of one connection. Send must never block: a slow peer reports
// ErrBackpressure, a dead one ErrClosed.
type Handle interface {
	Send(frame []byte) error
	Close()
}

// Outbox is a Handle backed by a bounded channel drained by the transport's writer goroutine.
type Outbox struct {
	mu     sync.RWMutex
	ch     chan []byte
	closed bool
}

func NewOutbox(size int) *Outbox {
	if size <= 0 {
		size = 8
	}
	return &Outbox{ch: make(chan []byte, size)}
}

func (o *Outbox) Send(frame []byte) error {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return ErrClosed
	}
	select {
	case o.ch <- frame:
		return nil
	default:
		return ErrBackpressure
	}
}

func (o *Outbox) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.closed = true
	close(o.ch)
}

// Frames is drained by the writer goroutine; it is closed by Close.
func (o *Outbox) Frames() <-chan []byte { return o.ch }

func (o *Outbox) Len() int { return len(o.ch) }

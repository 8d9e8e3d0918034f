package aoi

import (
	"encoding/json"
	"errors"
	"log"
	"sort"
	"sync"
	"sync/atomic"

	"wasteland.fm/internal/protocol"
)

// Registry maps player ids to their live connection and owns each connection's pending
// (tick-buffered) events.
type Registry struct {
	log *log.Logger

	maxPending int

	mu    sync.RWMutex
	conns map[string]*conn

	// onDrop runs after a player's connection is removed, explicitly or lazily after a failed send.
	onDrop func(playerID string)

	framesSent    atomic.Uint64
	framesDropped atomic.Uint64
	eventsDropped atomic.Uint64
	lazyDrops     atomic.Uint64
}

type conn struct {
	id     string
	handle Handle

	mu      sync.Mutex
	pending []protocol.Event
	seq     uint64
}

type RegistryStats struct {
	Connections   int    `json:"connections"`
	FramesSent    uint64 `json:"frames_sent"`
	FramesDropped uint64 `json:"frames_dropped"`
	EventsDropped uint64 `json:"events_dropped"`
	LazyDrops     uint64 `json:"lazy_drops"`
}

func NewRegistry(maxPending int, logger *log.Logger) *Registry {
	if maxPending <= 0 {
		maxPending = 256
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Registry{
		log:        logger,
		maxPending: maxPending,
		conns:      map[string]*conn{},
	}
}

// Register binds playerID to h. A previous handle for the same player is closed and replaced.
func (r *Registry) Register(playerID string, h Handle) {
	r.mu.Lock()
	old := r.conns[playerID]
	r.conns[playerID] = &conn{id: playerID, handle: h}
	r.mu.Unlock()
	if old != nil && old.handle != h {
		old.handle.Close()
	}
}

// Unregister removes the player's connection and always runs the drop hook, so a second call still
// clears any interest state left behind. It reports whether a connection was removed.
func (r *Registry) Unregister(playerID string) bool {
	r.mu.Lock()
	c := r.conns[playerID]
	delete(r.conns, playerID)
	r.mu.Unlock()
	if c != nil {
		c.handle.Close()
	}
	if r.onDrop != nil {
		r.onDrop(playerID)
	}
	return c != nil
}

// UnregisterHandle is Unregister scoped to one connection: it does nothing when h has already been
// replaced by a newer connection for the same player.
func (r *Registry) UnregisterHandle(playerID string, h Handle) bool {
	r.mu.RLock()
	c := r.conns[playerID]
	r.mu.RUnlock()
	if c == nil {
		if r.onDrop != nil {
			r.onDrop(playerID)
		}
		return false
	}
	if c.handle != h {
		return false
	}
	return r.unregisterIf(c, false)
}

// unregisterIf removes c only if it is still the registered connection for its player.
func (r *Registry) unregisterIf(c *conn, lazy bool) bool {
	r.mu.Lock()
	cur := r.conns[c.id]
	if cur != c {
		r.mu.Unlock()
		return false
	}
	delete(r.conns, c.id)
	r.mu.Unlock()
	c.handle.Close()
	if lazy {
		r.lazyDrops.Add(1)
	}
	if r.onDrop != nil {
		r.onDrop(c.id)
	}
	return true
}

func (r *Registry) get(playerID string) *conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conns[playerID]
}

func (r *Registry) Online(playerID string) bool { return r.get(playerID) != nil }

func (r *Registry) Players() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.conns))
	for id := range r.conns {
		out = append(out, id)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Send delivers ev immediately.
func (r *Registry) Send(playerID string, ev protocol.Event) error {
	frame, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return r.SendFrame(playerID, frame)
}

// SendFrame writes a pre-encoded frame. A closed handle unregisters the player lazily; the error
// is returned to the caller but is never meant to abort a fan-out.
func (r *Registry) SendFrame(playerID string, frame []byte) error {
	c := r.get(playerID)
	if c == nil {
		return ErrClosed
	}
	return r.write(c, frame)
}

func (r *Registry) write(c *conn, frame []byte) error {
	err := c.handle.Send(frame)
	switch {
	case err == nil:
		r.framesSent.Add(1)
	case errors.Is(err, ErrClosed):
		r.unregisterIf(c, true)
	default:
		r.framesDropped.Add(1)
	}
	return err
}

// Buffer queues ev until the next flush. When the queue is full the oldest pending event is
// discarded.
func (r *Registry) Buffer(playerID string, ev protocol.Event) bool {
	c := r.get(playerID)
	if c == nil {
		return false
	}
	c.mu.Lock()
	if len(c.pending) >= r.maxPending {
		copy(c.pending, c.pending[1:])
		c.pending = c.pending[:len(c.pending)-1]
		r.eventsDropped.Add(1)
	}
	c.pending = append(c.pending, ev)
	c.mu.Unlock()
	return true
}

func (r *Registry) Pending(playerID string) int {
	c := r.get(playerID)
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Flush sends every pending event of one connection as a single batch frame and returns the
// number of events flushed.
func (r *Registry) Flush(playerID string) int {
	c := r.get(playerID)
	if c == nil {
		return 0
	}
	return r.flush(c)
}

func (r *Registry) flush(c *conn) int {
	c.mu.Lock()
	if len(c.pending) == 0 {
		c.mu.Unlock()
		return 0
	}
	events := c.pending
	c.pending = nil
	c.seq++
	seq := c.seq
	c.mu.Unlock()

	frame, err := json.Marshal(protocol.BatchMsg{Type: protocol.TypeBatch, Seq: seq, Events: events})
	if err != nil {
		r.log.Printf("flush %s: encode batch: %v", c.id, err)
		return 0
	}
	if err := r.write(c, frame); err != nil {
		r.eventsDropped.Add(uint64(len(events)))
		return 0
	}
	return len(events)
}

// FlushAll flushes every connection. Handle sends never block, so a slow or dead peer only loses
// its own batch.
func (r *Registry) FlushAll() int {
	r.mu.RLock()
	conns := make([]*conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	total := 0
	for _, c := range conns {
		total += r.flush(c)
	}
	return total
}

func (r *Registry) Stats() RegistryStats {
	r.mu.RLock()
	n := len(r.conns)
	r.mu.RUnlock()
	return RegistryStats{
		Connections:   n,
		FramesSent:    r.framesSent.Load(),
		FramesDropped: r.framesDropped.Load(),
		EventsDropped: r.eventsDropped.Load(),
		LazyDrops:     r.lazyDrops.Load(),
	}
}

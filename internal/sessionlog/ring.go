package sessionlog

import "sync"

const DefaultBufferSize = 2000

// Ring holds the most recent log entries and fans new entries out to live subscribers
type Ring struct {
	mu      sync.RWMutex
	buf     []LogEntry
	start   int // index of the oldest entry
	n       int
	clients map[chan LogEntry]struct{}
}

// NewRing creates a ring holding at most size entries
func NewRing(size int) *Ring {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Ring{
		buf:     make([]LogEntry, size),
		clients: make(map[chan LogEntry]struct{}),
	}
}

// Cap returns the ring capacity
func (r *Ring) Cap() int {
	return len(r.buf)
}

// Len returns the number of buffered entries
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.n
}

// Add appends an entry, evicting the oldest one when full, and broadcasts it
func (r *Ring) Add(e LogEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = e
		r.n++
	} else {
		r.buf[r.start] = e
		r.start = (r.start + 1) % len(r.buf)
	}

	for ch := range r.clients {
		select {
		case ch <- e:
		default:
			// Subscriber is not keeping up, drop rather than block logging
		}
	}
}

// Entries returns a copy of the buffered entries, oldest first
func (r *Ring) Entries() []LogEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]LogEntry, r.n)
	for i := 0; i < r.n; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

// Clear drops all buffered entries. Subscribers stay connected.
func (r *Ring) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	clear(r.buf)
	r.start = 0
	r.n = 0
}

// Subscribe returns a channel receiving every entry added from now on
func (r *Ring) Subscribe() chan LogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch := make(chan LogEntry, 100)
	r.clients[ch] = struct{}{}
	return ch
}

// Unsubscribe removes and closes a subscriber channel
func (r *Ring) Unsubscribe(ch chan LogEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.clients[ch]; !ok {
		return
	}
	delete(r.clients, ch)
	close(ch)
}

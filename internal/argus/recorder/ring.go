package recorder

import "github.com/BrandonDHaskell/Argus/internal/argus/types"

// ring is the fixed-capacity pre-event buffer. Only the ingestion path
// touches it; its contents are handed to the writer whole at session start.
type ring struct {
	buf  []types.Frame
	head int // next write position
	size int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]types.Frame, max(capacity, 0))}
}

func (r *ring) push(f types.Frame) {
	if len(r.buf) == 0 {
		return
	}
	r.buf[r.head] = f
	r.head = (r.head + 1) % len(r.buf)
	if r.size < len(r.buf) {
		r.size++
	}
}

// drain returns the buffered frames oldest first and empties the ring.
func (r *ring) drain() []types.Frame {
	out := make([]types.Frame, 0, r.size)
	start := (r.head - r.size + len(r.buf)) % max(len(r.buf), 1)
	for i := 0; i < r.size; i++ {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}
	clear(r.buf)
	r.head, r.size = 0, 0
	return out
}

func (r *ring) len() int { return r.size }
func (r *ring) cap() int { return len(r.buf) }

package recorder

import (
	"sync"

	"github.com/BrandonDHaskell/Argus/internal/argus/types"
)

type msgKind int

const (
	msgOpen msgKind = iota
	msgFrame
	msgClose
)

type message struct {
	kind    msgKind
	session sessionInfo
	frames  []types.Frame // msgOpen: the pre-event buffer
	frame   types.Frame   // msgFrame
	reason  string        // msgClose
}

// queue is the bounded channel between ingestion and the writer. Only frame
// messages count against the bound and only frames are ever dropped; open
// and close messages always get through.
type queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []message
	frames int
	limit  int
	closed bool
}

func newQueue(limit int) *queue {
	q := &queue{limit: max(limit, 1)}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push enqueues m. For a frame that would overflow the bound, the oldest
// queued frame is discarded first and push reports true.
func (q *queue) push(m message) (dropped bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return m.kind == msgFrame
	}
	if m.kind == msgFrame {
		if q.frames >= q.limit {
			for i, it := range q.items {
				if it.kind == msgFrame {
					q.items = append(q.items[:i], q.items[i+1:]...)
					q.frames--
					dropped = true
					break
				}
			}
		}
		q.frames++
	}
	q.items = append(q.items, m)
	q.cond.Signal()
	return dropped
}

// pop blocks until a message is available. It returns false once the queue
// is closed and empty.
func (q *queue) pop() (message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return message{}, false
	}
	m := q.items[0]
	q.items[0] = message{}
	q.items = q.items[1:]
	if m.kind == msgFrame {
		q.frames--
	}
	return m, true
}

func (q *queue) close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.frames
}

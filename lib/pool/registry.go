package pool

import (
	"container/list"
	"time"
)

// acquireResult is what a queued acquire is woken with.
type acquireResult[T any] struct {
	conn *Conn[T]
	err  error
}

// waiter is a caller blocked in Acquire while the pool is at capacity.
type waiter[T any] struct {
	enqueued time.Time
	result   chan acquireResult[T]
	elem     *list.Element
}

// deliver wakes the waiter. It is called exactly once, under the pool lock,
// after the waiter has left the queue.
func (w *waiter[T]) deliver(c *Conn[T], err error) {
	w.result <- acquireResult[T]{conn: c, err: err}
}

// registry is the pool's bookkeeping. All fields are guarded by the pool lock.
type registry[T any] struct {
	conns  map[string]*Conn[T]
	active map[string]*Conn[T]
	// idle is ordered least recently used first.
	idle []*Conn[T]

	// creating counts reserved slots whose factory call is in flight;
	// growing is the subset started on behalf of queued waiters.
	creating int
	growing  int
	// inflight holds ids being created; a non-nil value records a fault
	// reported before the connection was registered.
	inflight map[string]error

	waiters *list.List
}

func newRegistry[T any](capacity int) *registry[T] {
	return &registry[T]{
		conns:    make(map[string]*Conn[T], capacity),
		active:   make(map[string]*Conn[T], capacity),
		idle:     make([]*Conn[T], 0, capacity),
		inflight: make(map[string]error),
		waiters:  list.New(),
	}
}

// total counts registered connections plus reserved creation slots.
func (r *registry[T]) total() int {
	return len(r.conns) + r.creating
}

func (r *registry[T]) add(c *Conn[T]) {
	r.conns[c.id] = c
}

// remove drops c from every set. It reports whether c was registered.
func (r *registry[T]) remove(c *Conn[T]) bool {
	if r.conns[c.id] != c {
		return false
	}
	delete(r.conns, c.id)
	delete(r.active, c.id)
	for i, ic := range r.idle {
		if ic == c {
			r.idle = append(r.idle[:i], r.idle[i+1:]...)
			break
		}
	}
	return true
}

// popIdle takes the most recently used idle connection.
func (r *registry[T]) popIdle() *Conn[T] {
	n := len(r.idle)
	if n == 0 {
		return nil
	}
	c := r.idle[n-1]
	r.idle[n-1] = nil
	r.idle = r.idle[:n-1]
	return c
}

func (r *registry[T]) pushIdle(c *Conn[T]) {
	r.idle = append(r.idle, c)
}

// takeLRU removes and returns the n least recently used idle connections.
// They stay in conns; callers remove them.
func (r *registry[T]) takeLRU(n int) []*Conn[T] {
	if n > len(r.idle) {
		n = len(r.idle)
	}
	if n <= 0 {
		return nil
	}
	out := make([]*Conn[T], n)
	copy(out, r.idle[:n])
	r.idle = append(r.idle[:0], r.idle[n:]...)
	return out
}

func (r *registry[T]) enqueue(now time.Time) *waiter[T] {
	w := &waiter[T]{
		enqueued: now,
		result:   make(chan acquireResult[T], 1),
	}
	w.elem = r.waiters.PushBack(w)
	return w
}

// dequeue removes the oldest waiter, or returns nil.
func (r *registry[T]) dequeue() *waiter[T] {
	front := r.waiters.Front()
	if front == nil {
		return nil
	}
	w := r.waiters.Remove(front).(*waiter[T])
	w.elem = nil
	return w
}

// unqueue removes w if it is still queued.
func (r *registry[T]) unqueue(w *waiter[T]) bool {
	if w.elem == nil {
		return false
	}
	r.waiters.Remove(w.elem)
	w.elem = nil
	return true
}

// expireWaiters removes every waiter queued for at least timeout,
// leaving the order of the rest untouched.
func (r *registry[T]) expireWaiters(now time.Time, timeout time.Duration) []*waiter[T] {
	var expired []*waiter[T]
	for e := r.waiters.Front(); e != nil; {
		next := e.Next()
		w := e.Value.(*waiter[T])
		if now.Sub(w.enqueued) >= timeout {
			r.waiters.Remove(e)
			w.elem = nil
			expired = append(expired, w)
		}
		e = next
	}
	return expired
}

// drain empties the registry and queue, returning their contents.
func (r *registry[T]) drain() ([]*Conn[T], []*waiter[T]) {
	conns := make([]*Conn[T], 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	var waiters []*waiter[T]
	for w := r.dequeue(); w != nil; w = r.dequeue() {
		waiters = append(waiters, w)
	}
	r.conns = make(map[string]*Conn[T])
	r.active = make(map[string]*Conn[T])
	r.idle = r.idle[:0]
	return conns, waiters
}

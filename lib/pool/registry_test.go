package pool

import (
	"testing"
	"time"
)

func newConn(id string) *Conn[int] {
	return &Conn[int]{id: id}
}

func TestRegistryIdleOrder(t *testing.T) {
	r := newRegistry[int](4)
	a, b, c := newConn("a"), newConn("b"), newConn("c")
	for _, conn := range []*Conn[int]{a, b, c} {
		r.add(conn)
		r.pushIdle(conn)
	}

	if got := r.popIdle(); got != c {
		t.Errorf("popIdle = %s, want most recent c", got.id)
	}

	lru := r.takeLRU(1)
	if len(lru) != 1 || lru[0] != a {
		t.Errorf("takeLRU(1) = %v, want [a]", lru)
	}
	if len(r.idle) != 1 || r.idle[0] != b {
		t.Errorf("idle = %v, want [b]", r.idle)
	}

	if got := r.takeLRU(5); len(got) != 1 {
		t.Errorf("takeLRU beyond size returned %d, want 1", len(got))
	}
	if got := r.takeLRU(-1); got != nil {
		t.Errorf("takeLRU(-1) = %v, want nil", got)
	}
	if r.popIdle() != nil {
		t.Error("popIdle on empty set should return nil")
	}
}

func TestRegistryRemove(t *testing.T) {
	r := newRegistry[int](2)
	a, b := newConn("a"), newConn("b")
	r.add(a)
	r.add(b)
	r.pushIdle(a)
	r.active[b.id] = b

	if !r.remove(a) {
		t.Error("remove(a) should report true")
	}
	if len(r.idle) != 0 || len(r.conns) != 1 {
		t.Errorf("after remove(a): idle=%d conns=%d", len(r.idle), len(r.conns))
	}
	if !r.remove(b) || len(r.active) != 0 {
		t.Error("remove(b) should clear the active set")
	}
	if r.remove(a) {
		t.Error("second remove should report false")
	}
}

func TestRegistryTotalCountsCreating(t *testing.T) {
	r := newRegistry[int](2)
	r.add(newConn("a"))
	r.creating = 2
	if r.total() != 3 {
		t.Errorf("total = %d, want 3", r.total())
	}
}

func TestRegistryQueueFIFO(t *testing.T) {
	r := newRegistry[int](1)
	now := time.Now()
	w1 := r.enqueue(now)
	w2 := r.enqueue(now)
	w3 := r.enqueue(now)

	if !r.unqueue(w2) {
		t.Fatal("unqueue of queued waiter should succeed")
	}
	if r.unqueue(w2) {
		t.Error("unqueue twice should fail")
	}

	if got := r.dequeue(); got != w1 {
		t.Error("dequeue should return the oldest waiter")
	}
	if r.unqueue(w1) {
		t.Error("dequeued waiter should not be unqueued")
	}
	if got := r.dequeue(); got != w3 {
		t.Error("dequeue should return w3 next")
	}
	if r.dequeue() != nil {
		t.Error("dequeue on empty queue should return nil")
	}
}

func TestRegistryExpireWaitersKeepsOrder(t *testing.T) {
	r := newRegistry[int](1)
	now := time.Now()
	old1 := r.enqueue(now.Add(-3 * time.Second))
	fresh1 := r.enqueue(now.Add(-500 * time.Millisecond))
	old2 := r.enqueue(now.Add(-2 * time.Second))
	fresh2 := r.enqueue(now)

	expired := r.expireWaiters(now, time.Second)
	if len(expired) != 2 || expired[0] != old1 || expired[1] != old2 {
		t.Fatalf("expired = %v, want [old1 old2]", expired)
	}
	if r.waiters.Len() != 2 {
		t.Fatalf("remaining = %d, want 2", r.waiters.Len())
	}
	if r.dequeue() != fresh1 || r.dequeue() != fresh2 {
		t.Error("surviving waiters should keep their order")
	}
	if r.unqueue(old1) {
		t.Error("expired waiter should no longer be queued")
	}
}

func TestRegistryDrain(t *testing.T) {
	r := newRegistry[int](2)
	a, b := newConn("a"), newConn("b")
	r.add(a)
	r.add(b)
	r.pushIdle(a)
	r.active[b.id] = b
	w := r.enqueue(time.Now())

	conns, waiters := r.drain()
	if len(conns) != 2 {
		t.Errorf("drained %d connections, want 2", len(conns))
	}
	if len(waiters) != 1 || waiters[0] != w {
		t.Errorf("drained waiters = %v", waiters)
	}
	if len(r.conns) != 0 || len(r.active) != 0 || len(r.idle) != 0 || r.waiters.Len() != 0 {
		t.Error("registry should be empty after drain")
	}
}

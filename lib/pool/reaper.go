package pool

import (
	"context"
	"time"
)

// ReapResult reports what one maintenance pass removed.
type ReapResult struct {
	ExpiredWaiters int
	ClosedIdle     int
}

// reapLoop runs Reap every ReapInterval until Close.
func (p *Pool[T]) reapLoop() {
	defer close(p.reapDone)

	ticker := time.NewTicker(p.config.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopReap:
			return
		case <-ticker.C:
			res := p.Reap(context.Background())
			if res.ExpiredWaiters > 0 || res.ClosedIdle > 0 {
				log.WithField("pool", p.name).
					WithField("expiredWaiters", res.ExpiredWaiters).
					WithField("closedIdle", res.ClosedIdle).
					Debug("reap pass complete")
			}
		}
	}
}

// Reap runs one maintenance pass. Queued callers older than AcquireTimeout
// fail with ErrAcquireTimeout, keeping the order of the rest. Idle
// connections above MinConnections are closed, least recently used first.
// It is safe to call directly; the background reaper calls it on every tick.
func (p *Pool[T]) Reap(ctx context.Context) ReapResult {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ReapResult{}
	}

	expired := p.reg.expireWaiters(time.Now(), p.config.AcquireTimeout)
	for _, w := range expired {
		w.deliver(nil, ErrAcquireTimeout)
	}

	victims := p.reg.takeLRU(len(p.reg.idle) - p.config.MinConnections)
	for _, c := range victims {
		p.reg.remove(c)
		c.state = StateClosed
	}
	p.metrics.reaped.Add(uint64(len(victims)))
	p.updateGaugesLocked()
	p.mu.Unlock()

	p.teardownAll(ctx, victims)

	return ReapResult{ExpiredWaiters: len(expired), ClosedIdle: len(victims)}
}

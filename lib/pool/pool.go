package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/pharmaops/rxpool/lib/resilience"
	"github.com/pharmaops/rxpool/lib/tracing"
)

// Pool is a bounded pool of connections with handle type T.
type Pool[T any] struct {
	name    string
	factory Factory[T]
	config  Config
	tracer  tracing.Tracer
	limiter *resilience.CreateLimiter
	metrics *poolMetrics

	mu     sync.Mutex
	reg    *registry[T]
	closed bool

	// creations tracks every reserved creation slot until its connection
	// is registered or torn down. Add only under mu while the pool is open.
	creations sync.WaitGroup

	stopReap chan struct{}
	reapDone chan struct{}
}

// New creates a pool. No connections are opened until Initialize or Acquire.
//
// Zero fields of cfg take the DefaultConfig values, except ReapInterval:
// a zero ReapInterval disables the background reaper, so a Config literal
// that leaves it unset never reaps. Start from DefaultConfig to keep it.
func New[T any](factory Factory[T], cfg Config) (*Pool[T], error) {
	if factory == nil {
		return nil, fmt.Errorf("%w: factory is required", ErrInvalidConfig)
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Pool[T]{
		name:     cfg.Name,
		factory:  factory,
		config:   cfg,
		tracer:   tracing.OrNoOp(cfg.Tracer),
		limiter:  resilience.NewCreateLimiter(cfg.CreateRate, cfg.CreateBurst),
		metrics:  newPoolMetrics(cfg.Metrics, cfg.Name),
		reg:      newRegistry[T](cfg.MaxConnections),
		stopReap: make(chan struct{}),
		reapDone: make(chan struct{}),
	}

	p.mu.Lock()
	p.updateGaugesLocked()
	p.mu.Unlock()

	if cfg.ReapInterval > 0 {
		go p.reapLoop()
	} else {
		close(p.reapDone)
	}

	log.WithField("pool", p.name).
		WithField("maxConnections", cfg.MaxConnections).
		WithField("minConnections", cfg.MinConnections).
		WithField("acquireTimeout", cfg.AcquireTimeout).
		Debug("pool created")
	return p, nil
}

// Name returns the pool name.
func (p *Pool[T]) Name() string {
	return p.name
}

// Config returns the configuration the pool was created with.
func (p *Pool[T]) Config() Config {
	return p.config
}

// Initialize opens MinConnections connections concurrently and parks them
// idle. It returns the first creation error; connections created before or
// alongside a failure stay in the pool.
func (p *Pool[T]) Initialize(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosing
	}
	n := p.config.MinConnections - p.reg.total()
	if n <= 0 {
		p.mu.Unlock()
		return nil
	}
	p.reg.creating += n
	p.creations.Add(n)
	p.updateGaugesLocked()
	p.mu.Unlock()

	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			c, err := p.create(ctx)

			p.mu.Lock()
			defer p.mu.Unlock()
			if err = p.settleLocked(c, err); err != nil {
				p.offerCapacityLocked()
				return err
			}
			p.checkinLocked(c)
			p.updateGaugesLocked()
			return nil
		})
	}

	err := g.Wait()
	if err != nil {
		log.WithField("pool", p.name).WithError(err).Warn("pool warm-up incomplete")
		return err
	}
	log.WithField("pool", p.name).WithField("connections", n).Info("pool warmed up")
	return nil
}

// Acquire checks out a connection. It returns an idle connection at once,
// creates one when below MaxConnections, and otherwise queues the caller
// until a connection is released to it, AcquireTimeout elapses, ctx is done
// or the pool closes.
func (p *Pool[T]) Acquire(ctx context.Context) (c *Conn[T], err error) {
	start := time.Now()
	p.metrics.acquireTotal.Inc()
	ctx, end := p.tracer.StartSpan(ctx, tracing.SpanAcquire,
		tracing.WithAttribute(tracing.AttrPoolName, p.name))
	defer func() {
		p.metrics.acquireLatency.ObserveSince(start)
		if err != nil {
			p.metrics.acquireFailed.Inc()
			if errors.Is(err, ErrAcquireTimeout) {
				p.metrics.acquireTimeouts.Inc()
			}
		} else {
			p.metrics.acquireSuccess.Inc()
		}
		end(err)
	}()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosing
	}

	if c = p.reg.popIdle(); c != nil {
		p.checkoutLocked(c)
		p.updateGaugesLocked()
		p.mu.Unlock()
		log.WithField("pool", p.name).WithField("conn", c.id).Debug("acquired idle connection")
		return c, nil
	}

	if p.reg.total() < p.config.MaxConnections {
		p.reg.creating++
		p.creations.Add(1)
		p.updateGaugesLocked()
		p.mu.Unlock()

		c, err = p.create(ctx)

		p.mu.Lock()
		defer p.mu.Unlock()
		if err = p.settleLocked(c, err); err != nil {
			p.offerCapacityLocked()
			return nil, err
		}
		p.checkoutLocked(c)
		p.updateGaugesLocked()
		log.WithField("pool", p.name).WithField("conn", c.id).Debug("created new connection")
		return c, nil
	}

	w := p.reg.enqueue(start)
	p.updateGaugesLocked()
	p.mu.Unlock()

	log.WithField("pool", p.name).Debug("waiting for available connection")
	return p.wait(ctx, w)
}

// wait blocks a queued caller. Whichever of hand-off, timeout, ctx or the
// reaper settles the waiter first wins; a connection handed over just as
// the deadline fires is still returned.
func (p *Pool[T]) wait(ctx context.Context, w *waiter[T]) (*Conn[T], error) {
	timer := time.NewTimer(p.config.AcquireTimeout)
	defer timer.Stop()

	var err error
	select {
	case res := <-w.result:
		return res.conn, res.err
	case <-timer.C:
		err = ErrAcquireTimeout
	case <-ctx.Done():
		err = ctx.Err()
	}

	p.mu.Lock()
	if p.reg.unqueue(w) {
		p.updateGaugesLocked()
		p.mu.Unlock()
		log.WithField("pool", p.name).WithError(err).Debug("queued acquire abandoned")
		return nil, err
	}
	p.mu.Unlock()

	res := <-w.result
	return res.conn, res.err
}

// checkoutLocked marks c active for a caller. Must be called with the lock held.
func (p *Pool[T]) checkoutLocked(c *Conn[T]) {
	c.state = StateActive
	c.lastUsed = time.Now()
	p.reg.active[c.id] = c
}

// checkinLocked hands c to the oldest waiter, or parks it idle.
// Must be called with the lock held.
func (p *Pool[T]) checkinLocked(c *Conn[T]) {
	c.lastUsed = time.Now()
	if w := p.reg.dequeue(); w != nil {
		c.state = StateActive
		p.reg.active[c.id] = c
		w.deliver(c, nil)
		return
	}
	c.state = StateIdle
	delete(p.reg.active, c.id)
	p.reg.pushIdle(c)
}

// Release returns a checked-out connection. The oldest queued caller, if
// any, receives it directly. Releasing anything that is not currently
// checked out from this pool returns ErrInvalidRelease and changes nothing.
func (p *Pool[T]) Release(c *Conn[T]) error {
	if c == nil || c.pool != p {
		return ErrInvalidRelease
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if c.state != StateActive || p.reg.active[c.id] != c {
		return ErrInvalidRelease
	}

	p.metrics.releaseTotal.Inc()
	p.checkinLocked(c)
	p.updateGaugesLocked()
	log.WithField("pool", p.name).WithField("conn", c.id).Debug("connection released")
	return nil
}

// Discard removes a checked-out connection the caller found broken and
// tears it down. Freed capacity goes to queued callers.
func (p *Pool[T]) Discard(c *Conn[T]) error {
	if c == nil || c.pool != p {
		return ErrInvalidRelease
	}

	p.mu.Lock()
	if c.state != StateActive || p.reg.active[c.id] != c {
		p.mu.Unlock()
		return ErrInvalidRelease
	}
	p.reg.remove(c)
	c.state = StateClosed
	p.offerCapacityLocked()
	p.updateGaugesLocked()
	p.mu.Unlock()

	log.WithField("pool", p.name).WithField("conn", c.id).Debug("discarding bad connection")
	p.teardown(context.Background(), c)
	return nil
}

// WithConnection acquires a connection, runs fn with it and releases it on
// every exit path, including a panic in fn. fn's error is returned as is.
func (p *Pool[T]) WithConnection(ctx context.Context, fn func(ctx context.Context, c *Conn[T]) error) error {
	c, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer p.releaseAfterUse(c)
	return fn(ctx, c)
}

// Do is WithConnection for functions that produce a value.
func Do[T, R any](ctx context.Context, p *Pool[T], fn func(ctx context.Context, c *Conn[T]) (R, error)) (R, error) {
	var out R
	err := p.WithConnection(ctx, func(ctx context.Context, c *Conn[T]) error {
		var err error
		out, err = fn(ctx, c)
		return err
	})
	return out, err
}

// releaseAfterUse releases c after scoped use. A connection that faulted
// or was discarded while in use is already gone, which is not an error here.
func (p *Pool[T]) releaseAfterUse(c *Conn[T]) {
	if err := p.Release(c); err != nil {
		log.WithField("pool", p.name).WithField("conn", c.id).WithError(err).Debug("connection not returned after use")
	}
}

// create runs the factory for a reserved slot, outside the lock.
func (p *Pool[T]) create(ctx context.Context) (*Conn[T], error) {
	id := uuid.NewString()
	ctx, end := p.tracer.StartSpan(ctx, tracing.SpanCreate,
		tracing.WithSpanKind(tracing.SpanKindClient),
		tracing.WithAttribute(tracing.AttrPoolName, p.name),
		tracing.WithAttribute(tracing.AttrConnID, id))

	c, err := p.createConn(ctx, id)
	end(err)
	if err != nil {
		p.metrics.createFailed.Inc()
		log.WithField("pool", p.name).WithField("conn", id).WithError(err).Warn("failed to create connection")
		return nil, &CreationError{Pool: p.name, ConnID: id, Err: err}
	}
	p.metrics.created.Inc()
	return c, nil
}

// createConn leaves id in the inflight set on success; settleLocked
// clears it once the connection is registered.
func (p *Pool[T]) createConn(ctx context.Context, id string) (*Conn[T], error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	breaker := p.config.Breaker
	if breaker != nil && !breaker.Allow() {
		return nil, ErrCircuitOpen
	}

	p.mu.Lock()
	p.reg.inflight[id] = nil
	p.mu.Unlock()

	handle, err := p.factory.Create(context.WithoutCancel(ctx), id, func(cause error) {
		p.fault(id, cause)
	})

	if breaker != nil {
		if err != nil {
			breaker.RecordFailure()
		} else {
			breaker.RecordSuccess()
		}
	}
	if err != nil {
		p.mu.Lock()
		delete(p.reg.inflight, id)
		p.mu.Unlock()
		return nil, err
	}

	now := time.Now()
	return &Conn[T]{
		id:        id,
		handle:    handle,
		pool:      p,
		createdAt: now,
		lastUsed:  now,
		state:     StateIdle,
	}, nil
}

// settleLocked ends a creation reservation. A new connection joins the
// registry unless it faulted while being created or the pool closed
// meanwhile; either way it is torn down and an error returned. The
// reservation counts as finished for Close once the teardown is done.
// Must be called with the lock held.
func (p *Pool[T]) settleLocked(c *Conn[T], err error) error {
	p.reg.creating--
	defer p.updateGaugesLocked()

	if err != nil {
		p.creations.Done()
		return err
	}

	faultErr := p.reg.inflight[c.id]
	delete(p.reg.inflight, c.id)
	switch {
	case p.closed:
		err = ErrPoolClosing
	case faultErr != nil:
		p.metrics.faults.Inc()
		err = &CreationError{Pool: p.name, ConnID: c.id, Err: faultErr}
	default:
		p.reg.add(c)
		p.creations.Done()
		return nil
	}

	c.state = StateClosed
	go func() {
		defer p.creations.Done()
		p.teardown(context.Background(), c)
	}()
	return err
}

// offerCapacityLocked starts creations for queued callers while there is
// room. Must be called with the lock held.
func (p *Pool[T]) offerCapacityLocked() {
	for !p.closed &&
		p.reg.total() < p.config.MaxConnections &&
		p.reg.growing < p.reg.waiters.Len() {
		p.reg.creating++
		p.reg.growing++
		p.creations.Add(1)
		go p.growForWaiters()
	}
	p.updateGaugesLocked()
}

// growForWaiters creates a connection for the queue. The connection goes
// to whichever caller is oldest when it is ready; a failure is reported to
// that caller instead.
func (p *Pool[T]) growForWaiters() {
	c, err := p.create(context.Background())

	p.mu.Lock()
	defer p.mu.Unlock()
	p.reg.growing--

	if err = p.settleLocked(c, err); err != nil {
		if p.closed {
			return
		}
		if w := p.reg.dequeue(); w != nil {
			w.deliver(nil, err)
		}
		p.offerCapacityLocked()
		p.updateGaugesLocked()
		return
	}
	p.checkinLocked(c)
	p.updateGaugesLocked()
}

// fault removes the connection id after its factory reported a failure.
func (p *Pool[T]) fault(id string, cause error) {
	if cause == nil {
		cause = ErrConnectionFault
	} else {
		cause = fmt.Errorf("%w: %v", ErrConnectionFault, cause)
	}

	p.mu.Lock()
	if prev, creating := p.reg.inflight[id]; creating {
		if prev == nil {
			p.reg.inflight[id] = cause
		}
		p.mu.Unlock()
		return
	}
	c, ok := p.reg.conns[id]
	if !ok {
		p.mu.Unlock()
		return
	}
	was := c.state
	p.reg.remove(c)
	c.state = StateClosed
	p.metrics.faults.Inc()
	p.offerCapacityLocked()
	p.updateGaugesLocked()
	p.mu.Unlock()

	log.WithField("pool", p.name).
		WithField("conn", id).
		WithField("state", was.String()).
		WithError(cause).
		Warn("connection fault, removed from pool")
	go p.teardown(context.Background(), c)
}

func (p *Pool[T]) teardown(ctx context.Context, c *Conn[T]) {
	p.teardownHandle(ctx, c.id, c.handle)
}

// teardownHandle closes a handle; failures are logged, never returned.
func (p *Pool[T]) teardownHandle(ctx context.Context, id string, handle T) {
	if err := p.factory.Teardown(ctx, handle); err != nil {
		log.WithField("pool", p.name).WithField("conn", id).WithError(err).Warn("connection teardown failed")
	}
}

// teardownAll closes conns concurrently and waits for all of them.
func (p *Pool[T]) teardownAll(ctx context.Context, conns []*Conn[T]) {
	var g errgroup.Group
	for _, c := range conns {
		g.Go(func() error {
			p.teardown(ctx, c)
			return nil
		})
	}
	_ = g.Wait()
}

// Close shuts the pool down: queued callers fail with ErrPoolClosing, every
// connection (idle or checked out) is torn down concurrently, and the
// reaper stops. Creations still running are awaited and their connections
// torn down before Close returns, so the factory is unused afterwards.
// Teardown failures are logged and ignored. If ctx ends before the
// running creations finish, Close returns ctx's error and those
// connections are torn down later. Closing twice returns ErrPoolClosing.
func (p *Pool[T]) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosing
	}
	p.closed = true

	conns, waiters := p.reg.drain()
	for _, w := range waiters {
		w.deliver(nil, ErrPoolClosing)
	}
	for _, c := range conns {
		c.state = StateClosed
	}
	p.updateGaugesLocked()
	p.mu.Unlock()

	p.teardownAll(ctx, conns)

	close(p.stopReap)
	<-p.reapDone

	if err := p.awaitCreations(ctx); err != nil {
		log.WithField("pool", p.name).WithError(err).Warn("pool closed with creations still running")
		return fmt.Errorf("waiting for connection creations: %w", err)
	}

	log.WithField("pool", p.name).
		WithField("closed", len(conns)).
		WithField("rejected", len(waiters)).
		Info("pool closed")
	return nil
}

// awaitCreations blocks until every reserved creation has settled or ctx ends.
func (p *Pool[T]) awaitCreations(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.creations.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats is a point-in-time snapshot of a pool.
type Stats struct {
	Name           string `json:"name"`
	MaxConnections int    `json:"max_connections"`
	MinConnections int    `json:"min_connections"`
	// Total is the registry size.
	Total    int  `json:"total"`
	Active   int  `json:"active"`
	Idle     int  `json:"idle"`
	Pending  int  `json:"pending"`
	Creating int  `json:"creating"`
	Closed   bool `json:"closed"`

	AcquireCount    uint64 `json:"acquire_count"`
	AcquireSuccess  uint64 `json:"acquire_success"`
	AcquireFailed   uint64 `json:"acquire_failed"`
	AcquireTimeouts uint64 `json:"acquire_timeouts"`
	ReleaseCount    uint64 `json:"release_count"`
	Created         uint64 `json:"created"`
	CreateFailed    uint64 `json:"create_failed"`
	Faults          uint64 `json:"faults"`
	Reaped          uint64 `json:"reaped"`

	// Breaker describes the creation circuit breaker, if the pool has one.
	Breaker *resilience.BreakerStats `json:"breaker,omitempty"`
}

// Stats returns current pool statistics. Pool counts are taken under the
// pool lock; the breaker snapshot is taken separately.
func (p *Pool[T]) Stats() Stats {
	st := p.stats()
	if b := p.config.Breaker; b != nil {
		bs := b.Stats()
		st.Breaker = &bs
	}
	return st
}

func (p *Pool[T]) stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	m := p.metrics
	return Stats{
		Name:            p.name,
		MaxConnections:  p.config.MaxConnections,
		MinConnections:  p.config.MinConnections,
		Total:           len(p.reg.conns),
		Active:          len(p.reg.active),
		Idle:            len(p.reg.idle),
		Pending:         p.reg.waiters.Len(),
		Creating:        p.reg.creating,
		Closed:          p.closed,
		AcquireCount:    m.acquireTotal.Value(),
		AcquireSuccess:  m.acquireSuccess.Value(),
		AcquireFailed:   m.acquireFailed.Value(),
		AcquireTimeouts: m.acquireTimeouts.Value(),
		ReleaseCount:    m.releaseTotal.Value(),
		Created:         m.created.Value(),
		CreateFailed:    m.createFailed.Value(),
		Faults:          m.faults.Value(),
		Reaped:          m.reaped.Value(),
	}
}

// Package pool provides a generic bounded connection pool for expensive
// handles to external services such as database sessions and cache clients.
//
// The pool supports:
//   - A hard cap on live connections, counting creations in flight
//   - Strict FIFO queueing of callers while the pool is at capacity
//   - Per-caller acquire timeouts and context cancellation
//   - Background reaping of idle connections above a floor
//   - Removal of connections whose factory reports a fault
//   - Optional creation rate limiting and circuit breaking
//   - Metrics and tracing for pool utilization
//
// # Basic Usage
//
//	factory := pool.FactoryFuncs[net.Conn]{
//	    CreateFunc: func(ctx context.Context, id string, onFault pool.FaultFunc) (net.Conn, error) {
//	        var d net.Dialer
//	        return d.DialContext(ctx, "tcp", "localhost:8080")
//	    },
//	    TeardownFunc: func(ctx context.Context, c net.Conn) error {
//	        return c.Close()
//	    },
//	}
//
//	cfg := pool.DefaultConfig()
//	cfg.Name = "backend"
//	cfg.MaxConnections = 10
//
//	p, err := pool.New[net.Conn](factory, cfg)
//	if err != nil {
//	    return err
//	}
//	defer p.Close(context.Background())
//
//	err = p.WithConnection(ctx, func(ctx context.Context, c *pool.Conn[net.Conn]) error {
//	    _, err := c.Handle().Write(payload)
//	    return err
//	})
//
// Acquire and Release are available for callers that need to hold a
// connection across calls. A connection must be released exactly once.
// Callers that find a connection broken should Discard it instead.
//
// # Faults
//
// Factories receive a FaultFunc when creating a connection. Calling it
// removes the connection from the pool at once, whether idle or checked
// out, and tears it down. The holder of a faulted connection gets
// ErrInvalidRelease from Release; that error is expected and harmless.
//
// # Metrics
//
// Each pool registers these series, labelled with pool="<name>":
//   - rxpool_pool_connections_max: Maximum pool size
//   - rxpool_pool_connections_open: Registered connections
//   - rxpool_pool_connections_idle: Idle connections
//   - rxpool_pool_connections_in_use: Connections checked out
//   - rxpool_pool_connections_creating: Creations in flight
//   - rxpool_pool_waiters: Queued callers
//   - rxpool_pool_acquire_total: Total acquire attempts
//   - rxpool_pool_acquire_success_total: Successful acquires
//   - rxpool_pool_acquire_failed_total: Failed acquires
//   - rxpool_pool_acquire_timeouts_total: Queued acquires that timed out
//   - rxpool_pool_acquire_duration_seconds: Acquire latency
//   - rxpool_pool_release_total: Total releases
//   - rxpool_pool_connections_created_total: Connections created
//   - rxpool_pool_create_failed_total: Failed creations
//   - rxpool_pool_faults_total: Connections removed after a fault
//   - rxpool_pool_reaped_total: Idle connections closed by the reaper
package pool

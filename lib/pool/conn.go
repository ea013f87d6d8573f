package pool

import "time"

// State is the lifecycle state of a pooled connection.
type State int

const (
	// StateIdle is a connection in the pool's inventory.
	StateIdle State = iota
	// StateActive is a connection checked out to exactly one caller.
	StateActive
	// StateClosed is a connection no longer in the registry.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn is one live handle owned by a Pool.
type Conn[T any] struct {
	id        string
	handle    T
	pool      *Pool[T]
	createdAt time.Time

	// guarded by pool.mu
	state    State
	lastUsed time.Time
}

// ID returns the identifier assigned by the pool at creation.
func (c *Conn[T]) ID() string {
	return c.id
}

// Handle returns the underlying handle.
func (c *Conn[T]) Handle() T {
	return c.handle
}

// CreatedAt returns when the connection was created.
func (c *Conn[T]) CreatedAt() time.Time {
	return c.createdAt
}

// State returns the current lifecycle state.
func (c *Conn[T]) State() State {
	c.pool.mu.Lock()
	defer c.pool.mu.Unlock()
	return c.state
}

// LastUsed returns when the connection was last handed out or released.
func (c *Conn[T]) LastUsed() time.Time {
	c.pool.mu.Lock()
	defer c.pool.mu.Unlock()
	return c.lastUsed
}

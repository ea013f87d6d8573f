// Package cachepool is the cache specialization of the connection pool.
// Each pooled handle is a single-socket *redis.Client.
//
// Transport errors seen by a client (failed dials, broken sockets) are
// reported to the pool as faults. Server replies such as WRONGTYPE or a
// missing key are not faults.
package cachepool

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/pharmaops/rxpool/lib/errors"
	"github.com/pharmaops/rxpool/lib/pool"
)

// Options configures how cache clients are created.
type Options struct {
	// Addr is host:port of the cache server. Required.
	Addr     string
	Username string
	Password string
	DB       int
	// DialTimeout bounds connecting and the initial ping.
	// Default: 5 seconds
	DialTimeout time.Duration
	// Default: 3 seconds
	ReadTimeout time.Duration
	// Default: 3 seconds
	WriteTimeout time.Duration
	// IdleTimeout closes the client's socket after this long unused.
	// Usually the pool's IdleTimeout.
	IdleTimeout time.Duration
}

// DefaultOptions returns Options with defaults and no address.
func DefaultOptions() Options {
	return Options{
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// DefaultConfig returns the pool configuration used for cache pools.
func DefaultConfig() pool.Config {
	cfg := pool.DefaultConfig()
	cfg.Name = "cache"
	cfg.MaxConnections = 20
	cfg.MinConnections = 2
	cfg.AcquireTimeout = 5 * time.Second
	cfg.IdleTimeout = 5 * time.Minute
	cfg.ReapInterval = 30 * time.Second
	return cfg
}

// Factory creates and closes *redis.Client handles.
type Factory struct {
	opts Options
}

// NewFactory validates opts and returns a Factory.
func NewFactory(opts Options) (*Factory, error) {
	if opts.Addr == "" {
		return nil, apperrors.ErrCacheAddrRequired
	}
	def := DefaultOptions()
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = def.DialTimeout
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = def.ReadTimeout
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = def.WriteTimeout
	}
	return &Factory{opts: opts}, nil
}

func (f *Factory) redisOptions() *redis.Options {
	return &redis.Options{
		Addr:            f.opts.Addr,
		Username:        f.opts.Username,
		Password:        f.opts.Password,
		DB:              f.opts.DB,
		DialTimeout:     f.opts.DialTimeout,
		ReadTimeout:     f.opts.ReadTimeout,
		WriteTimeout:    f.opts.WriteTimeout,
		ConnMaxIdleTime: f.opts.IdleTimeout,
		PoolSize:        1,
		// Retries would hide a dead socket from the pool.
		MaxRetries:      -1,
		DisableIdentity: true,
	}
}

// Create opens a client, installs the fault hook and pings the server.
func (f *Factory) Create(ctx context.Context, id string, onFault pool.FaultFunc) (*redis.Client, error) {
	client := redis.NewClient(f.redisOptions())
	client.AddHook(faultHook{id: id, onFault: onFault})

	ctx, cancel := context.WithTimeout(ctx, f.opts.DialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping %s: %w", f.opts.Addr, err)
	}

	log.WithField("conn", id).WithField("addr", f.opts.Addr).Debug("cache client connected")
	return client, nil
}

// Teardown closes the client.
func (f *Factory) Teardown(ctx context.Context, client *redis.Client) error {
	err := client.Close()
	if errors.Is(err, redis.ErrClosed) {
		return nil
	}
	return err
}

// Ping opens a short-lived client, sends PING and closes it. It does not
// touch pooled clients, so it works while the pool is exhausted. Its
// signature fits resilience.CheckFunc.
func (f *Factory) Ping(ctx context.Context) error {
	client := redis.NewClient(f.redisOptions())
	defer client.Close()

	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping %s: %w", f.opts.Addr, err)
	}
	return nil
}

// New creates a cache pool. cfg is usually DefaultConfig with overrides;
// its IdleTimeout is applied to the client socket when opts leaves it unset.
func New(opts Options, cfg pool.Config) (*pool.Pool[*redis.Client], error) {
	if opts.IdleTimeout == 0 {
		opts.IdleTimeout = cfg.IdleTimeout
	}
	f, err := NewFactory(opts)
	if err != nil {
		return nil, err
	}
	return pool.New[*redis.Client](f, cfg)
}

// WithClient runs fn with a pooled client.
func WithClient(ctx context.Context, p *pool.Pool[*redis.Client], fn func(ctx context.Context, client *redis.Client) error) error {
	return p.WithConnection(ctx, func(ctx context.Context, c *pool.Conn[*redis.Client]) error {
		return fn(ctx, c.Handle())
	})
}

// faultHook reports transport errors on one client to the pool.
type faultHook struct {
	id      string
	onFault pool.FaultFunc
}

func (h faultHook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := next(ctx, network, addr)
		h.check(err)
		return conn, err
	}
}

func (h faultHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		err := next(ctx, cmd)
		h.check(err)
		return err
	}
}

func (h faultHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		err := next(ctx, cmds)
		h.check(err)
		return err
	}
}

func (h faultHook) check(err error) {
	if !isTransportError(err) {
		return
	}
	log.WithField("conn", h.id).WithError(err).Debug("cache transport error")
	h.onFault(err)
}

// isTransportError reports whether err means the client's connection is
// unusable. Server replies (including redis.Nil), context errors and use
// after Close are not.
func isTransportError(err error) bool {
	if err == nil {
		return false
	}
	var reply redis.Error
	switch {
	case errors.As(err, &reply):
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, redis.ErrClosed):
		return false
	}
	return true
}

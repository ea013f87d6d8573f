// Package dbpool is the document-database specialization of the
// connection pool. Each pooled handle is a connected *mongo.Client.
//
// A server heartbeat failure reported by the driver is treated as a fault
// on the client that observed it, which removes it from the pool.
package dbpool

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/event"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	apperrors "github.com/pharmaops/rxpool/lib/errors"
	"github.com/pharmaops/rxpool/lib/pool"
)

// Options configures how database clients are created.
type Options struct {
	// URI is the MongoDB connection string. Required.
	URI string
	// AppName is reported to the server in the client handshake.
	// Default: "rxpool"
	AppName string
	// ConnectTimeout bounds connecting and the initial ping.
	// Default: 10 seconds
	ConnectTimeout time.Duration
	// IdleTimeout closes driver-level sockets unused for this long.
	// Usually the pool's IdleTimeout.
	IdleTimeout time.Duration
	// MaxDriverConnections caps the sockets one client may open.
	// Default: 4
	MaxDriverConnections uint64
}

// DefaultOptions returns Options with defaults and no URI.
func DefaultOptions() Options {
	return Options{
		AppName:              "rxpool",
		ConnectTimeout:       10 * time.Second,
		MaxDriverConnections: 4,
	}
}

// DefaultConfig returns the pool configuration used for database pools.
func DefaultConfig() pool.Config {
	cfg := pool.DefaultConfig()
	cfg.Name = "database"
	cfg.MaxConnections = 10
	cfg.MinConnections = 2
	cfg.AcquireTimeout = 30 * time.Second
	cfg.IdleTimeout = 10 * time.Minute
	cfg.ReapInterval = time.Minute
	return cfg
}

// Factory creates and disconnects *mongo.Client handles.
type Factory struct {
	opts Options
}

// NewFactory validates opts and returns a Factory.
func NewFactory(opts Options) (*Factory, error) {
	if opts.URI == "" {
		return nil, apperrors.ErrDatabaseURIRequired
	}
	def := DefaultOptions()
	if opts.AppName == "" {
		opts.AppName = def.AppName
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = def.ConnectTimeout
	}
	if opts.MaxDriverConnections == 0 {
		opts.MaxDriverConnections = def.MaxDriverConnections
	}
	return &Factory{opts: opts}, nil
}

// clientOptions builds the driver options for one pooled client.
func (f *Factory) clientOptions(id string, onFault pool.FaultFunc) *options.ClientOptions {
	co := options.Client().
		ApplyURI(f.opts.URI).
		SetAppName(f.opts.AppName).
		SetConnectTimeout(f.opts.ConnectTimeout).
		SetServerSelectionTimeout(f.opts.ConnectTimeout).
		SetMaxPoolSize(f.opts.MaxDriverConnections).
		SetServerMonitor(&event.ServerMonitor{
			ServerHeartbeatFailed: func(e *event.ServerHeartbeatFailedEvent) {
				log.WithField("conn", id).
					WithField("server", e.ConnectionID).
					WithError(e.Failure).
					Debug("server heartbeat failed")
				onFault(fmt.Errorf("heartbeat to %s failed: %w", e.ConnectionID, e.Failure))
			},
		})
	if f.opts.IdleTimeout > 0 {
		co.SetMaxConnIdleTime(f.opts.IdleTimeout)
	}
	return co
}

// Create connects a new client and pings the primary.
func (f *Factory) Create(ctx context.Context, id string, onFault pool.FaultFunc) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, f.opts.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, f.clientOptions(id, onFault))
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		if derr := client.Disconnect(context.Background()); derr != nil {
			log.WithField("conn", id).WithError(derr).Debug("disconnect after failed ping")
		}
		return nil, fmt.Errorf("ping: %w", err)
	}

	log.WithField("conn", id).WithField("app", f.opts.AppName).Debug("database client connected")
	return client, nil
}

// Teardown disconnects the client.
func (f *Factory) Teardown(ctx context.Context, client *mongo.Client) error {
	ctx, cancel := context.WithTimeout(ctx, f.opts.ConnectTimeout)
	defer cancel()
	return client.Disconnect(ctx)
}

// Ping connects a short-lived client, pings the primary and disconnects.
// It does not touch pooled clients, so it works while the pool is
// exhausted. Its signature fits resilience.CheckFunc.
func (f *Factory) Ping(ctx context.Context) error {
	co := options.Client().
		ApplyURI(f.opts.URI).
		SetAppName(f.opts.AppName + "-health").
		SetConnectTimeout(f.opts.ConnectTimeout).
		SetServerSelectionTimeout(f.opts.ConnectTimeout).
		SetMaxPoolSize(1)

	client, err := mongo.Connect(ctx, co)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer func() {
		if derr := client.Disconnect(context.Background()); derr != nil {
			log.WithError(derr).Debug("disconnect after health check")
		}
	}()

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// New creates a database pool. cfg is usually DefaultConfig with overrides;
// its IdleTimeout is applied to driver sockets when opts leaves it unset.
func New(opts Options, cfg pool.Config) (*pool.Pool[*mongo.Client], error) {
	if opts.IdleTimeout == 0 {
		opts.IdleTimeout = cfg.IdleTimeout
	}
	f, err := NewFactory(opts)
	if err != nil {
		return nil, err
	}
	return pool.New[*mongo.Client](f, cfg)
}

// WithDatabase runs fn against the named database on a pooled client.
func WithDatabase(ctx context.Context, p *pool.Pool[*mongo.Client], name string, fn func(ctx context.Context, db *mongo.Database) error) error {
	return p.WithConnection(ctx, func(ctx context.Context, c *pool.Conn[*mongo.Client]) error {
		return fn(ctx, c.Handle().Database(name))
	})
}

// Ping checks a pooled client against the primary.
func Ping(ctx context.Context, p *pool.Pool[*mongo.Client]) error {
	return p.WithConnection(ctx, func(ctx context.Context, c *pool.Conn[*mongo.Client]) error {
		return c.Handle().Database("admin").RunCommand(ctx, bson.D{{Key: "ping", Value: 1}}).Err()
	})
}

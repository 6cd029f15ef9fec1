package core

import (
	"context"
	"fmt"
	"time"

	"github.com/lunaris82/sqlkit/dialect"
	"github.com/lunaris82/sqlkit/logger"
	"github.com/lunaris82/sqlkit/pool"
)

// Default pool sizing applied by Open when an option is left zero.
const (
	DefaultMaxOverflow    = 10
	DefaultAcquireTimeout = 30 * time.Second
)

// Options defines the configuration for the DB connection pool.
// Zero-valued fields take the documented defaults; callers that need
// settings Open does not default (such as a zero overflow budget) can build
// a pool.QueuePool directly.
type Options struct {
	// PoolSize is the number of connections kept open. Default 5.
	PoolSize int
	// MaxOverflow is the number of connections allowed beyond PoolSize.
	// Default 10; -1 means unlimited.
	MaxOverflow int
	// AcquireTimeout bounds the wait for a free connection when the pool
	// is exhausted. Default 30s.
	AcquireTimeout time.Duration
	// ConnMaxLifetime recycles connections older than this age at their
	// next checkout. Zero disables recycling.
	ConnMaxLifetime time.Duration

	// ResetOnReturn selects the cleanup action applied when a connection
	// is returned. Default pool.ResetRollback.
	ResetOnReturn pool.ResetStyle
	// PrePing tests each connection at checkout and transparently
	// replaces dead ones.
	PrePing bool
	// GoroutineAffinity makes repeated Conn calls from the same goroutine
	// return the same handle.
	GoroutineAffinity bool

	// Echo enables per-checkout debug logging.
	Echo bool
	// LoggingName identifies this DB's pool in log output.
	LoggingName string
	// Logger receives pool log output.
	Logger logger.Logger
	// Listeners are event hooks registered on the pool.
	Listeners []pool.Listener
}

// DB is the main entry point for the toolkit. It binds one backend dialect
// to one connection pool for a single logical target.
type DB struct {
	pool    pool.Pool
	backend dialect.Backend
	logger  logger.Logger
}

// Open initializes a new DB for the given driver and DSN, verifying
// connectivity with an initial ping.
func Open(driverName, dsn string, opts *Options) (*DB, error) {
	b, ok := dialect.Get(driverName)
	if !ok {
		return nil, fmt.Errorf("%w %s", ErrUnknownDialect, driverName)
	}

	cfg := pool.Config{
		Creator:     b.Creator(dsn),
		Dialect:     b,
		MaxOverflow: DefaultMaxOverflow,
		Timeout:     DefaultAcquireTimeout,
	}
	if opts != nil {
		if opts.PoolSize > 0 {
			cfg.PoolSize = opts.PoolSize
		}
		if opts.MaxOverflow != 0 {
			cfg.MaxOverflow = opts.MaxOverflow
		}
		if opts.AcquireTimeout > 0 {
			cfg.Timeout = opts.AcquireTimeout
		}
		cfg.Recycle = opts.ConnMaxLifetime
		cfg.ResetOnReturn = opts.ResetOnReturn
		cfg.PrePing = opts.PrePing
		cfg.GoroutineAffinity = opts.GoroutineAffinity
		cfg.Echo = opts.Echo
		cfg.LoggingName = opts.LoggingName
		cfg.Logger = opts.Logger
		cfg.Listeners = opts.Listeners
	}

	p, err := pool.NewQueuePool(cfg)
	if err != nil {
		return nil, err
	}

	db := &DB{
		pool:    p,
		backend: b,
		logger:  cfg.Logger,
	}
	if db.logger == nil {
		db.logger = logger.NewStdLogger()
	}

	if err := db.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	return db, nil
}

// Conn checks a connection out of the pool. The returned handle must be
// closed to make its connection available again.
func (db *DB) Conn() (*pool.PooledConn, error) {
	return db.pool.Connect()
}

// UniqueConn checks out a connection not tied to any goroutine, bypassing
// goroutine affinity.
func (db *DB) UniqueConn() (*pool.PooledConn, error) {
	return db.pool.UniqueConnection()
}

// Ping checks out a connection and verifies it is alive.
func (db *DB) Ping(ctx context.Context) error {
	c, err := db.pool.Connect()
	if err != nil {
		return err
	}
	defer c.Close()
	return db.backend.Ping(ctx, c.Raw())
}

// Pool exposes the underlying connection pool.
func (db *DB) Pool() pool.Pool {
	return db.pool
}

// Status describes the pool's current occupancy.
func (db *DB) Status() string {
	return db.pool.Status()
}

// Recreate swaps in a fresh pool with identical configuration and disposes
// the old pool's idle connections. Connections still checked out of the old
// pool stay open until returned; new checkouts come from the fresh pool.
func (db *DB) Recreate() {
	old := db.pool
	db.pool = old.Recreate()
	if err := old.Dispose(); err != nil {
		db.logger.Error("error disposing replaced pool: %v", err)
	}
}

// Close releases the pool's idle connections. Checked-out connections
// remain open until returned.
func (db *DB) Close() error {
	return db.pool.Dispose()
}

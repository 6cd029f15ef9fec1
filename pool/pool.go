// Package pool manages the lifecycle of expensive-to-create backend
// connections: size limits, age-based recycling, invalidation and
// reconnection, and coordination of concurrent checkouts. The raw
// connection is opaque to the pool; a Creator produces it and a Dialect
// knows how to close, commit and roll it back.
package pool

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"
	"weak"

	"github.com/lunaris82/sqlkit/logger"
)

// Creator produces a new raw connection. The record being (re)connected is
// passed in so creators can consult its RecordInfo. A Creator must return a
// non-nil error on failure, never a nil connection.
type Creator func(rec *ConnRecord) (any, error)

// SimpleCreator adapts a no-argument connect function to a Creator.
func SimpleCreator(fn func() (any, error)) Creator {
	return func(*ConnRecord) (any, error) { return fn() }
}

// Dialect supplies the backend-specific operations the pool needs on a raw
// connection. Supplied once at pool construction.
type Dialect interface {
	Close(raw any) error
	Commit(raw any) error
	Rollback(raw any) error
	Ping(ctx context.Context, raw any) error
}

// ResetStyle selects the transaction-cleanup action applied to a connection
// at checkin, before it becomes idle again.
type ResetStyle int

const (
	// ResetRollback rolls back at checkin. The default, and what the vast
	// majority of configurations should use.
	ResetRollback ResetStyle = iota
	// ResetCommit commits at checkin.
	ResetCommit
	// ResetNone performs no action at checkin. Only safe against backends
	// with no transactional state.
	ResetNone
)

// ParseResetStyle converts a configuration string into a ResetStyle.
func ParseResetStyle(s string) (ResetStyle, error) {
	switch s {
	case "rollback":
		return ResetRollback, nil
	case "commit":
		return ResetCommit, nil
	case "none":
		return ResetNone, nil
	}
	return 0, fmt.Errorf("%w: unknown reset style %q", ErrInvalidConfig, s)
}

func (s ResetStyle) String() string {
	switch s {
	case ResetRollback:
		return "rollback"
	case ResetCommit:
		return "commit"
	case ResetNone:
		return "none"
	}
	return fmt.Sprintf("ResetStyle(%d)", int(s))
}

// Config carries the options recognized by every pool implementation.
// Fields that only apply to a particular implementation are documented on
// its constructor.
type Config struct {
	// Creator produces raw connections. Required.
	Creator Creator
	// Dialect closes, commits and rolls back raw connections. Required.
	Dialect Dialect

	// PoolSize is the number of connections kept open. Zero means the
	// implementation default (5 for QueuePool).
	PoolSize int
	// MaxOverflow is the number of connections allowed beyond PoolSize.
	// Zero means no overflow; -1 means unlimited.
	MaxOverflow int
	// Timeout bounds the wait for a free connection when the pool and its
	// overflow budget are exhausted. Zero or negative fails immediately.
	Timeout time.Duration
	// Recycle closes and replaces connections older than this age at the
	// next checkout. Zero disables recycling.
	Recycle time.Duration

	// ResetOnReturn selects the cleanup action applied at checkin.
	ResetOnReturn ResetStyle
	// GoroutineAffinity makes repeated Connect calls from the same
	// goroutine return the same handle, reference counted.
	GoroutineAffinity bool
	// PrePing tests each connection through Dialect.Ping at checkout and
	// transparently replaces dead ones.
	PrePing bool

	// Echo enables per-checkout and per-checkin debug logging.
	Echo bool
	// LoggingName identifies this pool in log output.
	LoggingName string
	// Logger receives pool log output. Defaults to logger.NewStdLogger.
	Logger logger.Logger
	// Listeners are the event hooks registered at construction.
	Listeners []Listener
}

// Pool is the interface shared by every pool implementation.
type Pool interface {
	// Connect checks out a connection. Under goroutine affinity, repeated
	// calls from the same goroutine return the same handle.
	Connect() (*PooledConn, error)
	// UniqueConnection always performs an independent checkout, bypassing
	// goroutine affinity.
	UniqueConnection() (*PooledConn, error)
	// AddListener registers an event hook. Register listeners before the
	// pool is in use; registration is not synchronized with checkouts.
	AddListener(l Listener)
	// Dispose closes idle connections. Checked-out connections remain
	// open and the pool stays usable.
	Dispose() error
	// Recreate returns a new, empty pool with identical configuration.
	Recreate() Pool
	// Status describes the pool's current occupancy.
	Status() string
}

// strategy is the storage hook set implemented by each pool variant.
type strategy interface {
	doGet() (*ConnRecord, error)
	doReturnConn(rec *ConnRecord)
}

// basePool implements the checkout/checkin protocol shared by all pool
// variants and delegates storage strategy through impl.
type basePool struct {
	cfg      Config
	creator  Creator
	dialect  Dialect
	recycle  time.Duration
	reset    ResetStyle
	affinity bool
	prePing  bool
	echo     bool
	logger   logger.Logger
	dispatch dispatcher
	impl     strategy

	// now is replaced in tests to drive recycle and invalidation decisions.
	now func() time.Time

	mu             sync.Mutex
	invalidateTime time.Time
	goroutineConns map[uint64]weak.Pointer[PooledConn]

	firstConnect sync.Once
}

func newBasePool(cfg Config) (*basePool, error) {
	if cfg.Creator == nil {
		return nil, fmt.Errorf("%w: a Creator is required", ErrInvalidConfig)
	}
	if cfg.Dialect == nil {
		return nil, fmt.Errorf("%w: a Dialect is required", ErrInvalidConfig)
	}
	if cfg.ResetOnReturn < ResetRollback || cfg.ResetOnReturn > ResetNone {
		return nil, fmt.Errorf("%w: unknown reset style %d", ErrInvalidConfig, int(cfg.ResetOnReturn))
	}
	lg := cfg.Logger
	if lg == nil {
		lg = logger.NewStdLogger()
	}
	if cfg.LoggingName != "" {
		lg = lg.WithFields(map[string]any{"pool": cfg.LoggingName})
	}
	if cfg.Echo && cfg.Logger == nil {
		lg.SetLevel(logger.LogLevelDebug)
	}
	p := &basePool{
		cfg:      cfg,
		creator:  cfg.Creator,
		dialect:  cfg.Dialect,
		recycle:  cfg.Recycle,
		reset:    cfg.ResetOnReturn,
		affinity: cfg.GoroutineAffinity,
		prePing:  cfg.PrePing,
		echo:     cfg.Echo,
		logger:   lg,
		dispatch: dispatcher{listeners: cfg.Listeners},
		now:      time.Now,
	}
	if p.affinity {
		p.goroutineConns = make(map[uint64]weak.Pointer[PooledConn])
	}
	return p, nil
}

// AddListener registers an event hook on this pool.
func (p *basePool) AddListener(l Listener) {
	p.dispatch.listeners = append(p.dispatch.listeners, l)
}

// Connect checks out a connection from the pool.
func (p *basePool) Connect() (*PooledConn, error) {
	if !p.affinity {
		return p.checkout(nil)
	}
	gid := goroutineID()
	p.mu.Lock()
	ref, ok := p.goroutineConns[gid]
	p.mu.Unlock()
	if ok {
		if pc := ref.Value(); pc != nil && pc.record != nil {
			return p.checkout(pc)
		}
	}
	pc, err := p.checkout(nil)
	if err != nil {
		return nil, err
	}
	pc.gid = gid
	p.mu.Lock()
	p.goroutineConns[gid] = weak.Make(pc)
	p.mu.Unlock()
	return pc, nil
}

// UniqueConnection checks out a connection not tied to any goroutine.
func (p *basePool) UniqueConnection() (*PooledConn, error) {
	return p.checkout(nil)
}

// checkout drives the full checkout protocol: obtain a record from the
// storage strategy, wrap it in a handle, then give the pre-ping and the
// checkout listeners a chance to reject the connection, retrying against a
// reconnected record at most twice.
func (p *basePool) checkout(existing *PooledConn) (*PooledConn, error) {
	pc := existing
	if pc == nil {
		rec, err := p.impl.doGet()
		if err != nil {
			return nil, err
		}
		raw, err := rec.GetConnection()
		if err != nil {
			rec.checkinFailed(err)
			return nil, err
		}
		pc = &PooledConn{pool: p, conn: raw, record: rec, echo: p.echo}
		ref := weak.Make(pc)
		rec.attachHandle(ref)
		pc.cleanup = runtime.AddCleanup(pc, func(r *ConnRecord) {
			finalizeAbandoned(p, r, ref)
		}, rec)
		if p.echo {
			p.logger.Debug("connection %v checked out from pool", raw)
		}
	}
	if pc.conn == nil {
		return nil, fmt.Errorf("%w: this connection is closed", ErrInvalidRequest)
	}
	pc.counter++
	if (len(p.dispatch.listeners) == 0 && !p.prePing) || pc.counter != 1 {
		return pc, nil
	}

	for attempts := 2; attempts > 0; attempts-- {
		err := p.checkoutAttempt(pc)
		if err == nil {
			return pc, nil
		}
		var dis *DisconnectError
		if !errors.As(err, &dis) {
			// A listener failed for a reason other than a dead
			// connection: put the connection back and surface the error.
			pc.counter--
			_ = pc.checkin()
			return nil, err
		}
		if dis.InvalidatePool {
			p.logger.Info("disconnection detected on checkout, invalidating all pooled connections prior to current timestamp (reason: %v)", dis)
			pc.record.Invalidate(dis, false)
			p.invalidatePool()
		} else {
			p.logger.Info("disconnection detected on checkout, invalidating individual connection %v (reason: %v)", pc.conn, dis)
			pc.record.Invalidate(dis, false)
		}
		raw, err := pc.record.GetConnection()
		if err != nil {
			pc.record.checkinFailed(err)
			pc.conn = nil
			pc.record = nil
			return nil, err
		}
		pc.conn = raw
	}

	p.logger.Info("reconnection attempts exhausted on checkout")
	_ = pc.Invalidate(nil, false)
	return nil, fmt.Errorf("%w: this connection is closed", ErrInvalidRequest)
}

func (p *basePool) checkoutAttempt(pc *PooledConn) error {
	if p.prePing {
		if pc.echo {
			p.logger.Debug("pool pre-ping on connection %v", pc.conn)
		}
		if err := p.dialect.Ping(context.Background(), pc.conn); err != nil {
			return &DisconnectError{Cause: err}
		}
	}
	return p.dispatch.checkout(pc.conn, pc.record, pc)
}

// returnConn is invoked by a record at checkin; it sweeps goroutine
// affinity slots whose handle has been collected, then delegates to the
// storage strategy. Live handles remove their own slot in clearAffinity;
// the sweep must never dereference another goroutine's handle.
func (p *basePool) returnConn(rec *ConnRecord) {
	if p.affinity {
		p.mu.Lock()
		for gid, ref := range p.goroutineConns {
			if ref.Value() == nil {
				delete(p.goroutineConns, gid)
			}
		}
		p.mu.Unlock()
	}
	p.impl.doReturnConn(rec)
}

// clearAffinity removes the affinity slot owned by the handle being checked
// in, if it still points at that handle. Called by the handle itself, so no
// cross-goroutine field access is involved.
func (p *basePool) clearAffinity(c *PooledConn) {
	p.mu.Lock()
	if ref, ok := p.goroutineConns[c.gid]; ok && ref.Value() == c {
		delete(p.goroutineConns, c.gid)
	}
	p.mu.Unlock()
}

// invalidatePool stamps the pool-wide invalidation time. Records whose
// connection predates the stamp recycle lazily at their next checkout.
func (p *basePool) invalidatePool() {
	p.mu.Lock()
	p.invalidateTime = p.now()
	p.mu.Unlock()
}

func (p *basePool) invalidatedSince(start time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.invalidateTime.After(start)
}

// closeConnection closes a raw connection, best effort. Close failures are
// logged and suppressed so that disposal and recycling always make
// progress.
func (p *basePool) closeConnection(raw any) {
	p.logger.Debug("closing connection %v", raw)
	if err := p.dialect.Close(raw); err != nil {
		p.logger.Error("exception closing connection %v: %v", raw, err)
	}
}

// resetOnReturn applies the configured reset action to a raw connection,
// consulting the handle's reset agent first when one is attached.
func (p *basePool) resetOnReturn(raw any, agent ResetAgent, echo bool) error {
	switch p.reset {
	case ResetRollback:
		if echo {
			p.logger.Debug("connection %v rollback-on-return%s", raw, agentSuffix(agent))
		}
		if agent != nil {
			if !agent.IsActive() {
				p.logger.Warn("reset agent is not active; rolling back via dialect")
				return p.dialect.Rollback(raw)
			}
			return agent.Rollback()
		}
		return p.dialect.Rollback(raw)
	case ResetCommit:
		if echo {
			p.logger.Debug("connection %v commit-on-return%s", raw, agentSuffix(agent))
		}
		if agent != nil {
			if !agent.IsActive() {
				p.logger.Warn("reset agent is not active; committing via dialect")
				return p.dialect.Commit(raw)
			}
			return agent.Commit()
		}
		return p.dialect.Commit(raw)
	}
	return nil
}

func agentSuffix(agent ResetAgent) string {
	if agent != nil {
		return ", via agent"
	}
	return ""
}

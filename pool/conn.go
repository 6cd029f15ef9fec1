package pool

import (
	"maps"
	"runtime"
	"weak"
)

// ResetAgent is an in-flight transaction wrapper attached to a checked-out
// handle. When present it takes over the reset-on-return action at checkin,
// in place of the dialect-level commit or rollback.
type ResetAgent interface {
	Rollback() error
	Commit() error
	// IsActive reports whether the agent still owns a live transaction.
	// An inactive agent is bypassed in favor of the dialect.
	IsActive() bool
}

// PooledConn is the handle returned by a checkout. It wraps exactly one raw
// connection and, while checked out, exclusively owns its ConnRecord.
// Closing the handle applies the reset-on-return action and returns the
// record to the pool; a handle that is dropped without being closed is
// cleaned up the same way when its last reference disappears.
//
// A PooledConn must not be shared across goroutines except through a pool's
// goroutine-affinity mode.
type PooledConn struct {
	pool   *basePool
	conn   any
	record *ConnRecord

	counter    int
	echo       bool
	resetAgent ResetAgent
	cleanup    runtime.Cleanup

	// gid is the goroutine this handle is affine to, zero when the pool
	// does not use goroutine affinity.
	gid uint64

	// detachedInfo carries the connection metadata after Detach severs
	// the record link.
	detachedInfo map[any]any
}

// Raw returns the underlying raw connection, or nil once the handle has
// been closed.
func (c *PooledConn) Raw() any { return c.conn }

// IsValid reports whether this handle still refers to a live raw
// connection.
func (c *PooledConn) IsValid() bool { return c.conn != nil }

// Record returns the ConnRecord this handle wraps, or nil once the handle
// is closed or detached.
func (c *PooledConn) Record() *ConnRecord { return c.record }

// Info returns the metadata map tied to the underlying raw connection. It
// follows the connection back into the pool and out again, and is discarded
// when the connection itself is discarded.
func (c *PooledConn) Info() map[any]any {
	if c.record != nil {
		return c.record.Info()
	}
	return c.detachedInfo
}

// RecordInfo returns the metadata map of the wrapped record, persistent
// across reconnects. Nil for a detached handle.
func (c *PooledConn) RecordInfo() map[any]any {
	if c.record != nil {
		return c.record.RecordInfo()
	}
	return nil
}

// SetResetAgent attaches a transaction wrapper that takes precedence over
// the dialect at reset time. Pass nil to detach it.
func (c *PooledConn) SetResetAgent(agent ResetAgent) {
	c.resetAgent = agent
}

// Close decrements the nested-checkout counter and, at zero, applies the
// reset-on-return action and returns the connection to the pool. Closing an
// already-closed handle is a no-op.
func (c *PooledConn) Close() error {
	if c.counter <= 0 {
		return nil
	}
	c.counter--
	if c.counter == 0 {
		return c.checkin()
	}
	return nil
}

// Invalidate marks the underlying connection unusable. With soft set, the
// connection stays open and is replaced at its next checkout; otherwise it
// is closed immediately and the handle is checked in.
func (c *PooledConn) Invalidate(cause error, soft bool) error {
	if c.conn == nil {
		c.pool.logger.Warn("can't invalidate an already-closed connection")
		return nil
	}
	if c.record != nil {
		c.record.Invalidate(cause, soft)
	}
	if !soft {
		c.conn = nil
		return c.checkin()
	}
	return nil
}

// Detach permanently severs this handle from its pool. The record is
// emptied and returned so the pool can open a replacement; the caller now
// owns the raw connection outright, and Close will close it for good.
// Connection limits enforced by the pool no longer count this connection.
func (c *PooledConn) Detach() {
	if c.record == nil {
		return
	}
	rec := c.record
	p := c.pool

	rec.mu.Lock()
	rec.hasHandle = false
	rec.handleRef = weak.Pointer[PooledConn]{}
	rec.mu.Unlock()

	c.detachedInfo = make(map[any]any, len(rec.Info()))
	maps.Copy(c.detachedInfo, rec.Info())

	rec.conn = nil
	p.impl.doReturnConn(rec)
	c.record = nil

	c.cleanup.Stop()
	echo := c.echo
	c.cleanup = runtime.AddCleanup(c, func(raw any) {
		if err := p.resetOnReturn(raw, nil, echo); err != nil {
			p.logger.Error("exception during reset of detached connection: %v", err)
		}
		p.dispatch.closeDetached(raw)
		p.closeConnection(raw)
	}, c.conn)

	p.dispatch.detach(c.conn, rec)
}

// checkin runs the return protocol exactly once: reset the connection, then
// either hand the record back to the pool or, for a detached handle, close
// the connection outright. Reset failures invalidate the connection and
// propagate; the record is still returned so its slot is never leaked.
func (c *PooledConn) checkin() error {
	c.cleanup.Stop()
	if c.gid != 0 {
		c.pool.clearAffinity(c)
	}
	conn := c.conn
	rec := c.record
	p := c.pool
	agent := c.resetAgent
	c.conn = nil
	c.record = nil
	c.resetAgent = nil

	var resetErr error
	if conn != nil {
		if rec != nil && c.echo {
			p.logger.Debug("connection %v being returned to pool", conn)
		}
		p.dispatch.reset(conn, rec)
		resetErr = p.resetOnReturn(conn, agent, c.echo)
		if resetErr != nil {
			p.logger.Error("exception during reset or similar: %v", resetErr)
			if rec != nil {
				rec.Invalidate(resetErr, false)
			} else {
				p.closeConnection(conn)
			}
		} else if rec == nil {
			// detached connections are closed for good
			p.dispatch.closeDetached(conn)
			p.closeConnection(conn)
		}
	}
	if rec != nil {
		rec.checkin(false)
	}
	return resetErr
}

// finalizeAbandoned is the cleanup for a handle whose last reference
// disappeared without Close being called. It runs the same reset-and-return
// protocol; the handle-reference comparison guarantees the record is
// released at most once even if an explicit checkin raced ahead.
func finalizeAbandoned(p *basePool, rec *ConnRecord, ref weak.Pointer[PooledConn]) {
	if !rec.matchesHandle(ref) {
		return
	}
	conn := rec.conn
	if conn != nil {
		if p.echo {
			p.logger.Debug("abandoned connection %v being returned to pool", conn)
		}
		p.dispatch.reset(conn, rec)
		if err := p.resetOnReturn(conn, nil, p.echo); err != nil {
			p.logger.Error("exception during reset or similar: %v", err)
			rec.Invalidate(err, false)
		}
	}
	rec.checkin(false)
}

package pool

import (
	"fmt"
	"sync"
	"time"
	"weak"
)

// ConnRecord maintains an individual raw connection on behalf of a pool.
// The record exists whether or not its connection is checked out, and may
// outlive any particular raw connection: on recycle or hard invalidation
// the connection is replaced in place while the record identity persists.
type ConnRecord struct {
	pool *basePool

	// conn is either a live raw connection or nil, awaiting lazy
	// reconnection on next use.
	conn               any
	startTime          time.Time
	softInvalidateTime time.Time

	info       map[any]any
	recordInfo map[any]any

	// mu guards the handle back-reference and the finalize queue, which
	// are touched both by explicit checkins and by abandoned-handle
	// cleanups running off the calling goroutine.
	mu        sync.Mutex
	handleRef weak.Pointer[PooledConn]
	hasHandle bool
	finalize  []func(raw any)
}

func newConnRecord(p *basePool, connect bool) (*ConnRecord, error) {
	r := &ConnRecord{pool: p}
	if connect {
		if err := r.connect(true); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Info returns the metadata map tied to the raw connection. It is discarded
// every time the connection is closed or invalidated.
func (r *ConnRecord) Info() map[any]any {
	if r.info == nil {
		r.info = make(map[any]any)
	}
	return r.info
}

// RecordInfo returns the metadata map tied to the record itself. It
// persists across reconnects for the life of the record.
func (r *ConnRecord) RecordInfo() map[any]any {
	if r.recordInfo == nil {
		r.recordInfo = make(map[any]any)
	}
	return r.recordInfo
}

// Connection returns the raw connection currently held, or nil if the
// record is awaiting reconnection.
func (r *ConnRecord) Connection() any { return r.conn }

// InUse reports whether a checked-out handle currently wraps this record.
func (r *ConnRecord) InUse() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hasHandle
}

// LastConnectTime returns when the current raw connection was established.
func (r *ConnRecord) LastConnectTime() time.Time { return r.startTime }

// AddFinalize queues a callback to run against the raw connection at the
// next checkin, before the record is returned to the pool. Callbacks run
// most-recently-registered first and are discarded once run.
func (r *ConnRecord) AddFinalize(fn func(raw any)) {
	r.mu.Lock()
	r.finalize = append(r.finalize, fn)
	r.mu.Unlock()
}

// GetConnection returns the record's raw connection, lazily reconnecting if
// the record is empty, the connection has outlived the recycle age, or a
// pool-wide or record-local invalidation postdates its creation.
func (r *ConnRecord) GetConnection() (any, error) {
	p := r.pool
	recycle := false
	switch {
	case r.conn == nil:
		r.info = nil
		if err := r.connect(false); err != nil {
			return nil, err
		}
	case p.recycle > 0 && p.now().Sub(r.startTime) > p.recycle:
		p.logger.Info("connection %v exceeded timeout; recycling", r.conn)
		recycle = true
	case p.invalidatedSince(r.startTime):
		p.logger.Info("connection %v invalidated due to pool invalidation; recycling", r.conn)
		recycle = true
	case r.softInvalidateTime.After(r.startTime):
		p.logger.Info("connection %v invalidated due to local soft invalidation; recycling", r.conn)
		recycle = true
	}
	if recycle {
		r.close()
		r.info = nil
		if err := r.connect(false); err != nil {
			return nil, err
		}
	}
	return r.conn, nil
}

// Invalidate marks the record's connection unusable. Soft invalidation only
// stamps a timestamp, so the next GetConnection recycles; hard invalidation
// closes the connection immediately and leaves the record empty.
func (r *ConnRecord) Invalidate(cause error, soft bool) {
	if r.conn == nil {
		// already invalidated
		return
	}
	p := r.pool
	if soft {
		p.dispatch.softInvalidate(r.conn, r, cause)
	} else {
		p.dispatch.invalidate(r.conn, r, cause)
	}
	kind := ""
	if soft {
		kind = "soft "
	}
	if cause != nil {
		p.logger.Info("%sinvalidate connection %v (reason: %v)", kind, r.conn, cause)
	} else {
		p.logger.Info("%sinvalidate connection %v", kind, r.conn)
	}
	if soft {
		r.softInvalidateTime = p.now()
	} else {
		r.close()
	}
}

// Close discards the record's raw connection, if any.
func (r *ConnRecord) Close() {
	if r.conn != nil {
		r.close()
	}
}

func (r *ConnRecord) close() {
	r.mu.Lock()
	r.finalize = nil
	r.mu.Unlock()
	r.pool.dispatch.connClose(r.conn, r)
	r.pool.closeConnection(r.conn)
	r.conn = nil
}

func (r *ConnRecord) connect(firstConnectCheck bool) error {
	p := r.pool
	// clear any existing connection first, so a failing creator leaves
	// the record empty rather than holding a stale reference
	r.conn = nil
	r.startTime = p.now()
	conn, err := p.creator(r)
	if err == nil && conn == nil {
		err = fmt.Errorf("creator returned a nil connection without an error")
	}
	if err != nil {
		p.logger.Debug("error on connect: %v", err)
		p.dispatch.connectError(r, err)
		return err
	}
	p.logger.Debug("created new connection %v", conn)
	r.conn = conn
	if firstConnectCheck {
		p.firstConnect.Do(func() {
			p.dispatch.firstConnect(conn, r)
		})
	}
	p.dispatch.connect(conn, r)
	return nil
}

// attachHandle records a weak back-reference to the handle that currently
// wraps this record.
func (r *ConnRecord) attachHandle(ref weak.Pointer[PooledConn]) {
	r.mu.Lock()
	r.handleRef = ref
	r.hasHandle = true
	r.mu.Unlock()
}

// matchesHandle reports whether the given reference is still the one
// attached to this record. Used by abandoned-handle cleanup to ensure the
// record is released exactly once.
func (r *ConnRecord) matchesHandle(ref weak.Pointer[PooledConn]) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hasHandle && r.handleRef == ref
}

// checkin clears the handle back-reference, runs the queued finalize
// callbacks most-recently-registered first, then hands the record back to
// the owning pool.
func (r *ConnRecord) checkin(noHandleRef bool) {
	r.mu.Lock()
	if !r.hasHandle && !noHandleRef {
		r.mu.Unlock()
		r.pool.logger.Warn("double checkin attempted on record %p", r)
		return
	}
	r.hasHandle = false
	r.handleRef = weak.Pointer[PooledConn]{}
	fins := r.finalize
	r.finalize = nil
	r.mu.Unlock()

	conn := r.conn
	for i := len(fins) - 1; i >= 0; i-- {
		fins[i](conn)
	}
	r.pool.dispatch.checkin(conn, r)
	r.pool.returnConn(r)
}

// checkinFailed invalidates the record after a failed reconnect and checks
// it back in so its slot is not leaked.
func (r *ConnRecord) checkinFailed(err error) {
	r.Invalidate(err, false)
	r.checkin(true)
}

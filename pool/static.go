package pool

import (
	"fmt"
	"runtime/debug"
	"sync"
)

// NullPool performs no pooling at all: every checkout opens a fresh
// connection and every checkin closes it. With no reuse window there is no
// recycle or invalidation bookkeeping to do.
type NullPool struct {
	*basePool
}

// NewNullPool builds a NullPool from cfg. Size, overflow and timeout
// settings are ignored.
func NewNullPool(cfg Config) (*NullPool, error) {
	bp, err := newBasePool(cfg)
	if err != nil {
		return nil, err
	}
	p := &NullPool{basePool: bp}
	bp.impl = p
	return p, nil
}

func (p *NullPool) doGet() (*ConnRecord, error) {
	return newConnRecord(p.basePool, true)
}

func (p *NullPool) doReturnConn(rec *ConnRecord) {
	rec.Close()
}

// Dispose is a no-op; a NullPool holds no idle connections.
func (p *NullPool) Dispose() error { return nil }

// Recreate returns a new pool with identical configuration.
func (p *NullPool) Recreate() Pool {
	p.logger.Info("pool recreating")
	np, err := NewNullPool(p.cfg)
	if err != nil {
		panic(err)
	}
	return np
}

func (p *NullPool) Status() string { return "NullPool" }

// StaticPool holds exactly one connection record for the pool's entire
// lifetime: every checkout returns the same record and checkin is a no-op.
type StaticPool struct {
	*basePool

	mu  sync.Mutex
	rec *ConnRecord
}

// NewStaticPool builds a StaticPool from cfg. The single connection is
// established lazily on first checkout.
func NewStaticPool(cfg Config) (*StaticPool, error) {
	bp, err := newBasePool(cfg)
	if err != nil {
		return nil, err
	}
	p := &StaticPool{basePool: bp}
	bp.impl = p
	return p, nil
}

func (p *StaticPool) doGet() (*ConnRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rec == nil {
		rec, err := newConnRecord(p.basePool, true)
		if err != nil {
			return nil, err
		}
		p.rec = rec
	}
	return p.rec, nil
}

func (p *StaticPool) doReturnConn(rec *ConnRecord) {}

// Dispose closes the pool's single connection.
func (p *StaticPool) Dispose() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rec != nil {
		p.rec.Close()
		p.rec = nil
	}
	return nil
}

// Recreate returns a new StaticPool with identical configuration.
func (p *StaticPool) Recreate() Pool {
	p.logger.Info("pool recreating")
	np, err := NewStaticPool(p.cfg)
	if err != nil {
		panic(err)
	}
	return np
}

func (p *StaticPool) Status() string { return "StaticPool" }

// AssertionPool is a debugging aid that allows at most one checked-out
// connection at any time. A second concurrent checkout fails with the stack
// trace of the still-outstanding checkout, which makes it straightforward
// to find the caller that never returned its connection.
type AssertionPool struct {
	*basePool

	// storeTraceback controls whether each checkout captures its stack.
	// On by default; the capture is the whole point of this pool.
	storeTraceback bool

	mu            sync.Mutex
	rec           *ConnRecord
	checkedOut    bool
	checkoutStack []byte
}

// NewAssertionPool builds an AssertionPool from cfg.
func NewAssertionPool(cfg Config) (*AssertionPool, error) {
	bp, err := newBasePool(cfg)
	if err != nil {
		return nil, err
	}
	p := &AssertionPool{basePool: bp, storeTraceback: true}
	bp.impl = p
	return p, nil
}

func (p *AssertionPool) doGet() (*ConnRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.checkedOut {
		if p.checkoutStack != nil {
			return nil, fmt.Errorf("%w: connection is already checked out at:\n%s",
				ErrInvalidRequest, p.checkoutStack)
		}
		return nil, fmt.Errorf("%w: connection is already checked out", ErrInvalidRequest)
	}
	if p.rec == nil {
		rec, err := newConnRecord(p.basePool, true)
		if err != nil {
			return nil, err
		}
		p.rec = rec
	}
	p.checkedOut = true
	if p.storeTraceback {
		p.checkoutStack = debug.Stack()
	}
	return p.rec, nil
}

func (p *AssertionPool) doReturnConn(rec *ConnRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.checkedOut {
		p.logger.Error("connection is not checked out")
		return
	}
	p.checkedOut = false
	p.checkoutStack = nil
}

// Dispose closes the pool's connection.
func (p *AssertionPool) Dispose() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.checkedOut = false
	p.checkoutStack = nil
	if p.rec != nil {
		p.rec.Close()
		p.rec = nil
	}
	return nil
}

// Recreate returns a new AssertionPool with identical configuration.
func (p *AssertionPool) Recreate() Pool {
	p.logger.Info("pool recreating")
	np, err := NewAssertionPool(p.cfg)
	if err != nil {
		panic(err)
	}
	return np
}

func (p *AssertionPool) Status() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.checkedOut {
		return "AssertionPool checked out: true"
	}
	return "AssertionPool checked out: false"
}

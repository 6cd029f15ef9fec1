package pool

import (
	"fmt"
	"sync"
	"time"
)

// DefaultPoolSize is used by QueuePool when Config.PoolSize is zero.
const DefaultPoolSize = 5

// QueuePool keeps a bounded set of open connections with a configurable
// overflow budget. When the pool and its overflow are both exhausted,
// checkouts block for up to the configured timeout and then fail with a
// *TimeoutError.
//
// This is the pool to use for multi-connection server workloads.
type QueuePool struct {
	*basePool

	idle        chan *ConnRecord
	size        int
	maxOverflow int
	timeout     time.Duration

	// overflowMu guards only the overflow counter; the idle channel has
	// its own synchronization. The counter is adjusted before the
	// creation it accounts for, so the budget can never be exceeded.
	overflowMu sync.Mutex
	overflow   int
}

// NewQueuePool builds a QueuePool from cfg. MaxOverflow of -1 means
// overflow is unlimited and checkouts never block; a Timeout of zero or
// less makes an exhausted pool fail immediately instead of waiting.
func NewQueuePool(cfg Config) (*QueuePool, error) {
	bp, err := newBasePool(cfg)
	if err != nil {
		return nil, err
	}
	size := cfg.PoolSize
	if size <= 0 {
		size = DefaultPoolSize
	}
	p := &QueuePool{
		basePool:    bp,
		idle:        make(chan *ConnRecord, size),
		size:        size,
		maxOverflow: cfg.MaxOverflow,
		timeout:     cfg.Timeout,
		overflow:    -size,
	}
	bp.impl = p
	return p, nil
}

func (p *QueuePool) doGet() (*ConnRecord, error) {
	select {
	case rec := <-p.idle:
		return rec, nil
	default:
	}

	if p.incOverflow() {
		rec, err := newConnRecord(p.basePool, true)
		if err != nil {
			// roll the accounting back before surfacing the failure
			p.decOverflow()
			return nil, err
		}
		return rec, nil
	}

	if p.timeout > 0 {
		timer := time.NewTimer(p.timeout)
		defer timer.Stop()
		select {
		case rec := <-p.idle:
			return rec, nil
		case <-timer.C:
		}
	}
	return nil, &TimeoutError{Size: p.size, Overflow: p.Overflow(), Timeout: p.timeout}
}

func (p *QueuePool) doReturnConn(rec *ConnRecord) {
	select {
	case p.idle <- rec:
	default:
		// the queue filled up underneath us, which can happen while a
		// dispose or recreate is in flight; close the surplus
		rec.Close()
		p.decOverflow()
	}
}

// incOverflow claims one unit of connection budget. The counter starts at
// -size, so base-pool connections and true overflow draw from the same
// ledger.
func (p *QueuePool) incOverflow() bool {
	p.overflowMu.Lock()
	defer p.overflowMu.Unlock()
	if p.maxOverflow != -1 && p.overflow >= p.maxOverflow {
		return false
	}
	p.overflow++
	return true
}

func (p *QueuePool) decOverflow() {
	p.overflowMu.Lock()
	p.overflow--
	p.overflowMu.Unlock()
}

// Size returns the configured base pool size.
func (p *QueuePool) Size() int { return p.size }

// CheckedIn returns the number of idle connections in the pool.
func (p *QueuePool) CheckedIn() int { return len(p.idle) }

// Overflow returns the number of connections currently open beyond the
// base pool size. Negative while the base pool has yet to fill.
func (p *QueuePool) Overflow() int {
	p.overflowMu.Lock()
	defer p.overflowMu.Unlock()
	return p.overflow
}

// CheckedOut returns the number of connections currently checked out.
func (p *QueuePool) CheckedOut() int {
	return p.size - len(p.idle) + p.Overflow()
}

// Dispose closes all idle connections. Checked-out connections are
// unaffected and may still be returned afterward.
func (p *QueuePool) Dispose() error {
	for {
		select {
		case rec := <-p.idle:
			rec.Close()
		default:
			p.overflowMu.Lock()
			p.overflow = -p.size
			p.overflowMu.Unlock()
			p.logger.Info("pool disposed. %s", p.Status())
			return nil
		}
	}
}

// Recreate returns a new, empty QueuePool with identical configuration.
func (p *QueuePool) Recreate() Pool {
	p.logger.Info("pool recreating")
	np, err := NewQueuePool(p.cfg)
	if err != nil {
		// cfg was validated when this pool was built
		panic(err)
	}
	return np
}

func (p *QueuePool) Status() string {
	return fmt.Sprintf("Pool size: %d  Connections in pool: %d Current Overflow: %d Current Checked out connections: %d",
		p.size, p.CheckedIn(), p.Overflow(), p.CheckedOut())
}

package pool

import (
	"fmt"
	"sync"
)

// SingletonGoroutinePool maintains one connection per calling goroutine.
// Once the number of tracked connections exceeds the configured size, an
// arbitrary existing connection is evicted and closed, best effort. This is
// intended for single-process, embedded-style backends such as SQLite, not
// for production multi-connection workloads.
type SingletonGoroutinePool struct {
	*basePool

	size int

	mu       sync.Mutex
	conns    map[uint64]*ConnRecord
	allConns map[*ConnRecord]struct{}
}

// NewSingletonGoroutinePool builds a SingletonGoroutinePool from cfg.
// PoolSize bounds the number of distinct tracked connections.
func NewSingletonGoroutinePool(cfg Config) (*SingletonGoroutinePool, error) {
	bp, err := newBasePool(cfg)
	if err != nil {
		return nil, err
	}
	size := cfg.PoolSize
	if size <= 0 {
		size = DefaultPoolSize
	}
	p := &SingletonGoroutinePool{
		basePool: bp,
		size:     size,
		conns:    make(map[uint64]*ConnRecord),
		allConns: make(map[*ConnRecord]struct{}),
	}
	bp.impl = p
	return p, nil
}

func (p *SingletonGoroutinePool) doGet() (*ConnRecord, error) {
	gid := goroutineID()
	p.mu.Lock()
	if rec, ok := p.conns[gid]; ok {
		p.mu.Unlock()
		return rec, nil
	}
	p.mu.Unlock()

	rec, err := newConnRecord(p.basePool, true)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.conns[gid] = rec
	p.allConns[rec] = struct{}{}
	if len(p.allConns) > p.size {
		p.evictLocked(rec)
	}
	p.mu.Unlock()
	return rec, nil
}

// evictLocked closes arbitrary tracked connections until the pool is back
// within size, sparing the record that was just created. Which goroutine
// loses its connection is deliberately unspecified.
func (p *SingletonGoroutinePool) evictLocked(keep *ConnRecord) {
	for rec := range p.allConns {
		if len(p.allConns) <= p.size {
			return
		}
		if rec == keep {
			continue
		}
		delete(p.allConns, rec)
		for gid, r := range p.conns {
			if r == rec {
				delete(p.conns, gid)
			}
		}
		rec.Close()
	}
}

func (p *SingletonGoroutinePool) doReturnConn(rec *ConnRecord) {
	// connections stay bound to their goroutine until evicted or disposed
}

// Dispose closes every tracked connection.
func (p *SingletonGoroutinePool) Dispose() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for rec := range p.allConns {
		rec.Close()
	}
	p.allConns = make(map[*ConnRecord]struct{})
	p.conns = make(map[uint64]*ConnRecord)
	p.logger.Info("pool disposed")
	return nil
}

// Recreate returns a new, empty pool with identical configuration.
func (p *SingletonGoroutinePool) Recreate() Pool {
	p.logger.Info("pool recreating")
	np, err := NewSingletonGoroutinePool(p.cfg)
	if err != nil {
		panic(err)
	}
	return np
}

func (p *SingletonGoroutinePool) Status() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return fmt.Sprintf("SingletonGoroutinePool size: %d connections: %d", p.size, len(p.allConns))
}

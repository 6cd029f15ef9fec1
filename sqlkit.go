// Package sqlkit is a client-side toolkit sitting between application code
// and a database driver. Its centerpiece is the pool package, a generic
// connection pool with size limits, age-based recycling, invalidation and
// event hooks; the dialect package supplies per-backend adapters and the
// core package ties one of each together behind a DB handle.
package sqlkit

import (
	"github.com/lunaris82/sqlkit/core"
	"github.com/lunaris82/sqlkit/pool"
)

// Re-export core types and functions
type DB = core.DB
type Options = core.Options

var Open = core.Open

// Re-export pool types and functions
type Pool = pool.Pool
type Config = pool.Config
type PooledConn = pool.PooledConn
type ConnRecord = pool.ConnRecord
type Listener = pool.Listener
type BaseListener = pool.BaseListener
type Registry = pool.Registry
type TimeoutError = pool.TimeoutError
type DisconnectError = pool.DisconnectError

var (
	NewQueuePool              = pool.NewQueuePool
	NewNullPool               = pool.NewNullPool
	NewStaticPool             = pool.NewStaticPool
	NewAssertionPool          = pool.NewAssertionPool
	NewSingletonGoroutinePool = pool.NewSingletonGoroutinePool
	NewRegistry               = pool.NewRegistry

	ParseResetStyle = pool.ParseResetStyle
)

// Reset styles
const (
	ResetRollback = pool.ResetRollback
	ResetCommit   = pool.ResetCommit
	ResetNone     = pool.ResetNone
)

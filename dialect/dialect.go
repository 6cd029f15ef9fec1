package dialect

import (
	"context"

	"github.com/lunaris82/sqlkit/pool"
)

// Backend bundles what a pool needs to drive one kind of database: the
// close/commit/rollback/ping operations over an opaque raw connection, plus
// a creator factory for connection strings. Every Backend satisfies
// pool.Dialect. Each supported database registers an implementation here.
type Backend interface {
	// Close closes a raw connection.
	Close(raw any) error
	// Commit commits any transactional state on a raw connection.
	Commit(raw any) error
	// Rollback rolls back any transactional state on a raw connection.
	Rollback(raw any) error
	// Ping tests whether a raw connection is still alive.
	Ping(ctx context.Context, raw any) error
	// Creator returns a pool creator that opens connections to dsn.
	Creator(dsn string) pool.Creator
}

var backends = make(map[string]Backend)

// Register registers a backend for a given driver name
func Register(name string, b Backend) {
	backends[name] = b
}

// Get retrieves a registered backend by driver name
func Get(name string) (Backend, bool) {
	b, ok := backends[name]
	return b, ok
}

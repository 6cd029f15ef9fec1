package pool

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// PoolFactory builds the pool for one connect-argument signature. It is
// called at most once per signature.
type PoolFactory func(args []any, kwargs map[string]any) (Pool, error)

// Registry keys distinct pools by connect-argument signature, for callers
// that want pooling without managing Pool objects directly. It is an
// explicit object: build one at the application's composition root and pass
// it by reference, then Close it at teardown.
type Registry struct {
	factory PoolFactory

	mu    sync.Mutex
	pools map[string]Pool
}

// NewRegistry builds a registry around the given factory.
func NewRegistry(factory PoolFactory) *Registry {
	return &Registry{
		factory: factory,
		pools:   make(map[string]Pool),
	}
}

// Signature derives the registry key for a set of connect arguments:
// the positional arguments in order followed by the keyword arguments
// sorted by name. Every part is quoted so argument values containing the
// separator characters cannot collide with a different argument set.
func Signature(args []any, kwargs map[string]any) string {
	parts := make([]string, 0, len(args)+len(kwargs))
	for _, a := range args {
		parts = append(parts, fmt.Sprintf("%q", fmt.Sprint(a)))
	}
	keys := make([]string, 0, len(kwargs))
	for k := range kwargs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%q=%q", k, fmt.Sprint(kwargs[k])))
	}
	return strings.Join(parts, "|")
}

// Pool returns the pool for the given connect arguments, constructing it on
// first use. Construction is serialized so concurrent first access cannot
// build duplicate pools.
func (r *Registry) Pool(args []any, kwargs map[string]any) (Pool, error) {
	return r.PoolByKey(Signature(args, kwargs), args, kwargs)
}

// PoolByKey is like Pool but with an explicit override key.
func (r *Registry) PoolByKey(key string, args []any, kwargs map[string]any) (Pool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.pools[key]; ok {
		return p, nil
	}
	p, err := r.factory(args, kwargs)
	if err != nil {
		return nil, err
	}
	r.pools[key] = p
	return p, nil
}

// Connect checks a connection out of the pool for the given connect
// arguments.
func (r *Registry) Connect(args []any, kwargs map[string]any) (*PooledConn, error) {
	p, err := r.Pool(args, kwargs)
	if err != nil {
		return nil, err
	}
	return p.Connect()
}

// ConnectByKey is like Connect but with an explicit override key.
func (r *Registry) ConnectByKey(key string, args []any, kwargs map[string]any) (*PooledConn, error) {
	p, err := r.PoolByKey(key, args, kwargs)
	if err != nil {
		return nil, err
	}
	return p.Connect()
}

// Dispose removes and disposes the pool mapped to the given connect
// arguments, if any.
func (r *Registry) Dispose(args []any, kwargs map[string]any) error {
	return r.DisposeByKey(Signature(args, kwargs))
}

// DisposeByKey removes and disposes the pool mapped to key, if any.
func (r *Registry) DisposeByKey(key string) error {
	r.mu.Lock()
	p, ok := r.pools[key]
	delete(r.pools, key)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return p.Dispose()
}

// Close disposes every pool in the registry and empties it.
func (r *Registry) Close() error {
	r.mu.Lock()
	pools := r.pools
	r.pools = make(map[string]Pool)
	r.mu.Unlock()
	var firstErr error
	for _, p := range pools {
		if err := p.Dispose(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

package pool

// Listener receives connection lifecycle events from a pool. Implementations
// typically embed BaseListener and override only the hooks they care about.
//
// A Checkout hook may return a *DisconnectError to report that the
// connection is dead; the pool invalidates it and retries the checkout
// against a freshly opened connection, bounded at two attempts. Any other
// error fails the checkout after returning the connection to the pool.
type Listener interface {
	// FirstConnect fires exactly once per pool, on the first successful
	// connection.
	FirstConnect(raw any, rec *ConnRecord)
	// Connect fires every time the creator produces a new raw connection.
	Connect(raw any, rec *ConnRecord)
	// ConnectError fires when the creator fails to produce a connection.
	ConnectError(rec *ConnRecord, err error)
	// Checkout fires when a connection is handed to a caller.
	Checkout(raw any, rec *ConnRecord, conn *PooledConn) error
	// Checkin fires when a record is about to be returned to the pool.
	Checkin(raw any, rec *ConnRecord)
	// Reset fires before the reset-on-return action runs at checkin.
	Reset(raw any, rec *ConnRecord)
	// Invalidate fires on hard invalidation, before the connection closes.
	Invalidate(raw any, rec *ConnRecord, cause error)
	// SoftInvalidate fires on soft invalidation.
	SoftInvalidate(raw any, rec *ConnRecord, cause error)
	// ConnClose fires before a pooled raw connection is closed.
	ConnClose(raw any, rec *ConnRecord)
	// CloseDetached fires before a detached raw connection is closed.
	CloseDetached(raw any)
	// Detach fires when a handle is severed from its record.
	Detach(raw any, rec *ConnRecord)
}

// BaseListener is a no-op Listener suitable for embedding.
type BaseListener struct{}

func (BaseListener) FirstConnect(raw any, rec *ConnRecord)                   {}
func (BaseListener) Connect(raw any, rec *ConnRecord)                        {}
func (BaseListener) ConnectError(rec *ConnRecord, err error)                 {}
func (BaseListener) Checkout(raw any, rec *ConnRecord, c *PooledConn) error  { return nil }
func (BaseListener) Checkin(raw any, rec *ConnRecord)                        {}
func (BaseListener) Reset(raw any, rec *ConnRecord)                          {}
func (BaseListener) Invalidate(raw any, rec *ConnRecord, cause error)        {}
func (BaseListener) SoftInvalidate(raw any, rec *ConnRecord, cause error)    {}
func (BaseListener) ConnClose(raw any, rec *ConnRecord)                      {}
func (BaseListener) CloseDetached(raw any)                                   {}
func (BaseListener) Detach(raw any, rec *ConnRecord)                         {}

// dispatcher fans events out to the registered listeners in order.
type dispatcher struct {
	listeners []Listener
}

func (d *dispatcher) firstConnect(raw any, rec *ConnRecord) {
	for _, l := range d.listeners {
		l.FirstConnect(raw, rec)
	}
}

func (d *dispatcher) connect(raw any, rec *ConnRecord) {
	for _, l := range d.listeners {
		l.Connect(raw, rec)
	}
}

func (d *dispatcher) connectError(rec *ConnRecord, err error) {
	for _, l := range d.listeners {
		l.ConnectError(rec, err)
	}
}

func (d *dispatcher) checkout(raw any, rec *ConnRecord, c *PooledConn) error {
	for _, l := range d.listeners {
		if err := l.Checkout(raw, rec, c); err != nil {
			return err
		}
	}
	return nil
}

func (d *dispatcher) checkin(raw any, rec *ConnRecord) {
	for _, l := range d.listeners {
		l.Checkin(raw, rec)
	}
}

func (d *dispatcher) reset(raw any, rec *ConnRecord) {
	for _, l := range d.listeners {
		l.Reset(raw, rec)
	}
}

func (d *dispatcher) invalidate(raw any, rec *ConnRecord, cause error) {
	for _, l := range d.listeners {
		l.Invalidate(raw, rec, cause)
	}
}

func (d *dispatcher) softInvalidate(raw any, rec *ConnRecord, cause error) {
	for _, l := range d.listeners {
		l.SoftInvalidate(raw, rec, cause)
	}
}

func (d *dispatcher) connClose(raw any, rec *ConnRecord) {
	for _, l := range d.listeners {
		l.ConnClose(raw, rec)
	}
}

func (d *dispatcher) closeDetached(raw any) {
	for _, l := range d.listeners {
		l.CloseDetached(raw)
	}
}

func (d *dispatcher) detach(raw any, rec *ConnRecord) {
	for _, l := range d.listeners {
		l.Detach(raw, rec)
	}
}

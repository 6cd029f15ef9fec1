package dialect

import (
	"context"
	"database/sql/driver"
	"fmt"

	"github.com/lunaris82/sqlkit/pool"
)

// driverBackend implements Backend over any database/sql/driver.Driver.
// Raw connections are driver.Conn values; commit and rollback are issued as
// plain COMMIT / ROLLBACK statements since the pool resets connections that
// are not inside a driver-managed transaction.
type driverBackend struct {
	drv driver.Driver
}

func (b *driverBackend) Creator(dsn string) pool.Creator {
	return func(*pool.ConnRecord) (any, error) {
		return b.drv.Open(dsn)
	}
}

func (b *driverBackend) Close(raw any) error {
	conn, err := asConn(raw)
	if err != nil {
		return err
	}
	return conn.Close()
}

func (b *driverBackend) Commit(raw any) error {
	return b.exec(raw, "COMMIT")
}

func (b *driverBackend) Rollback(raw any) error {
	return b.exec(raw, "ROLLBACK")
}

func (b *driverBackend) Ping(ctx context.Context, raw any) error {
	conn, err := asConn(raw)
	if err != nil {
		return err
	}
	if p, ok := conn.(driver.Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

func (b *driverBackend) exec(raw any, stmt string) error {
	conn, err := asConn(raw)
	if err != nil {
		return err
	}
	if ec, ok := conn.(driver.ExecerContext); ok {
		_, err := ec.ExecContext(context.Background(), stmt, nil)
		if err != driver.ErrSkip {
			return err
		}
	}
	if e, ok := conn.(driver.Execer); ok { //nolint:staticcheck // pre-context drivers
		_, err := e.Exec(stmt, nil)
		if err != driver.ErrSkip {
			return err
		}
	}
	s, err := conn.Prepare(stmt)
	if err != nil {
		return err
	}
	defer s.Close()
	_, err = s.Exec(nil) //nolint:staticcheck // driver.Stmt fallback
	return err
}

func asConn(raw any) (driver.Conn, error) {
	conn, ok := raw.(driver.Conn)
	if !ok {
		return nil, fmt.Errorf("raw connection is %T, not a driver.Conn", raw)
	}
	return conn, nil
}

package pool

import (
	"errors"
	"testing"
)

// fakeResetAgent stands in for a transaction wrapper attached to a handle.
type fakeResetAgent struct {
	active    bool
	rollbacks int
	commits   int
}

func (a *fakeResetAgent) Rollback() error { a.rollbacks++; return nil }
func (a *fakeResetAgent) Commit() error   { a.commits++; return nil }
func (a *fakeResetAgent) IsActive() bool  { return a.active }

func TestCloseIsIdempotent(t *testing.T) {
	f := newFixture()
	p := f.queuePool(t, nil)

	c, err := p.Connect()
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close should be a no-op, got %v", err)
	}
	if got := f.dialect.rollbackCount(); got != 1 {
		t.Errorf("reset ran %d times, want 1", got)
	}
	if got := p.CheckedIn(); got != 1 {
		t.Errorf("CheckedIn = %d, want 1", got)
	}
}

func TestResetRollbackOnReturn(t *testing.T) {
	f := newFixture()
	p := f.queuePool(t, nil)

	c, _ := p.Connect()
	c.Close()
	if got := f.dialect.rollbackCount(); got != 1 {
		t.Errorf("rollbacks = %d, want 1", got)
	}
	if got := f.dialect.commitCount(); got != 0 {
		t.Errorf("commits = %d, want 0", got)
	}
}

func TestResetCommitOnReturn(t *testing.T) {
	f := newFixture()
	p := f.queuePool(t, func(cfg *Config) {
		cfg.ResetOnReturn = ResetCommit
	})

	c, _ := p.Connect()
	c.Close()
	if got := f.dialect.commitCount(); got != 1 {
		t.Errorf("commits = %d, want 1", got)
	}
	if got := f.dialect.rollbackCount(); got != 0 {
		t.Errorf("rollbacks = %d, want 0", got)
	}
}

func TestResetNoneOnReturn(t *testing.T) {
	f := newFixture()
	p := f.queuePool(t, func(cfg *Config) {
		cfg.ResetOnReturn = ResetNone
	})

	c, _ := p.Connect()
	c.Close()
	if f.dialect.rollbackCount() != 0 || f.dialect.commitCount() != 0 {
		t.Error("reset none must not touch the connection on return")
	}
}

func TestResetAgentTakesPrecedence(t *testing.T) {
	f := newFixture()
	p := f.queuePool(t, nil)

	c, _ := p.Connect()
	agent := &fakeResetAgent{active: true}
	c.SetResetAgent(agent)
	c.Close()

	if agent.rollbacks != 1 {
		t.Errorf("agent rollbacks = %d, want 1", agent.rollbacks)
	}
	if got := f.dialect.rollbackCount(); got != 0 {
		t.Errorf("dialect rollbacks = %d, want 0", got)
	}
}

func TestInactiveResetAgentFallsBackToDialect(t *testing.T) {
	f := newFixture()
	p := f.queuePool(t, nil)

	c, _ := p.Connect()
	agent := &fakeResetAgent{active: false}
	c.SetResetAgent(agent)
	c.Close()

	if agent.rollbacks != 0 {
		t.Errorf("inactive agent rolled back %d times, want 0", agent.rollbacks)
	}
	if got := f.dialect.rollbackCount(); got != 1 {
		t.Errorf("dialect rollbacks = %d, want 1", got)
	}
}

func TestResetFailureInvalidatesConnection(t *testing.T) {
	f := newFixture()
	f.dialect.rollErr = errors.New("rollback failed")
	p := f.queuePool(t, func(cfg *Config) {
		cfg.PoolSize = 1
	})

	c, _ := p.Connect()
	raw1 := c.Raw()
	if err := c.Close(); err == nil {
		t.Fatal("Close should surface the reset failure")
	}
	if got := f.dialect.closedCount(); got != 1 {
		t.Errorf("closed %d connections, want 1", got)
	}

	// the slot is still available afterwards
	f.dialect.rollErr = nil
	c2, err := p.Connect()
	if err != nil {
		t.Fatalf("Connect after failed reset: %v", err)
	}
	defer c2.Close()
	if c2.Raw() == raw1 {
		t.Error("the failed connection must have been replaced")
	}
}

func TestNestedCheckoutClosesOnce(t *testing.T) {
	f := newFixture()
	p := f.queuePool(t, nil)

	c, err := p.Connect()
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	c.counter++ // simulate a nested acquisition of the same handle
	c.Close()
	if !c.IsValid() {
		t.Fatal("handle must stay open until the outermost Close")
	}
	c.Close()
	if c.IsValid() {
		t.Fatal("handle must be closed at the outermost Close")
	}
	if got := f.dialect.rollbackCount(); got != 1 {
		t.Errorf("reset ran %d times, want 1", got)
	}
}

func TestDetach(t *testing.T) {
	f := newFixture()
	p := f.queuePool(t, func(cfg *Config) {
		cfg.PoolSize = 1
	})

	c, err := p.Connect()
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	c.Info()["session"] = "abc"
	raw1 := c.Raw()
	c.Detach()

	if c.Record() != nil {
		t.Error("detached handle must not reference a record")
	}
	if c.Raw() != raw1 {
		t.Error("detached handle keeps its raw connection")
	}
	if got, ok := c.Info()["session"]; !ok || got != "abc" {
		t.Error("connection info must follow the detached handle")
	}
	if c.RecordInfo() != nil {
		t.Error("record info is unavailable after detach")
	}

	// the pool replaces the detached connection
	c2, err := p.Connect()
	if err != nil {
		t.Fatalf("Connect after detach: %v", err)
	}
	if c2.Raw() == raw1 {
		t.Fatal("pool must not hand out the detached connection")
	}
	c2.Close()

	// closing the detached handle closes its connection for good
	c.Close()
	found := false
	f.dialect.mu.Lock()
	for _, raw := range f.dialect.closed {
		if raw == raw1 {
			found = true
		}
	}
	f.dialect.mu.Unlock()
	if !found {
		t.Error("closing a detached handle must close the raw connection")
	}
}

func TestAbandonedHandleReturnsRecord(t *testing.T) {
	f := newFixture()
	p := f.queuePool(t, func(cfg *Config) {
		cfg.PoolSize = 1
	})

	c, err := p.Connect()
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	rec := c.record
	ref := rec.handleRef

	// run the abandonment path directly, as the runtime cleanup would
	finalizeAbandoned(p.basePool, rec, ref)

	if got := f.dialect.rollbackCount(); got != 1 {
		t.Errorf("reset ran %d times, want 1", got)
	}
	if got := p.CheckedIn(); got != 1 {
		t.Errorf("CheckedIn = %d, want 1", got)
	}

	// a second run must not double-return the record
	finalizeAbandoned(p.basePool, rec, ref)
	if got := p.CheckedIn(); got != 1 {
		t.Errorf("CheckedIn after repeat = %d, want 1", got)
	}
	if got := f.dialect.rollbackCount(); got != 1 {
		t.Errorf("reset ran %d times after repeat, want 1", got)
	}
}

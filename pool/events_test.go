package pool

import (
	"errors"
	"sync"
	"testing"
)

// recordingListener notes every event it receives, in order.
type recordingListener struct {
	BaseListener
	mu          sync.Mutex
	events      []string
	checkoutErr func() error
}

func (l *recordingListener) note(name string) {
	l.mu.Lock()
	l.events = append(l.events, name)
	l.mu.Unlock()
}

func (l *recordingListener) FirstConnect(raw any, rec *ConnRecord) { l.note("first_connect") }
func (l *recordingListener) Connect(raw any, rec *ConnRecord)      { l.note("connect") }
func (l *recordingListener) ConnectError(rec *ConnRecord, err error) {
	l.note("connect_error")
}
func (l *recordingListener) Checkin(raw any, rec *ConnRecord)      { l.note("checkin") }
func (l *recordingListener) Reset(raw any, rec *ConnRecord)        { l.note("reset") }
func (l *recordingListener) Detach(raw any, rec *ConnRecord)       { l.note("detach") }
func (l *recordingListener) CloseDetached(raw any)                 { l.note("close_detached") }

func (l *recordingListener) Invalidate(raw any, rec *ConnRecord, cause error) {
	l.note("invalidate")
}

func (l *recordingListener) SoftInvalidate(raw any, rec *ConnRecord, cause error) {
	l.note("soft_invalidate")
}

func (l *recordingListener) ConnClose(raw any, rec *ConnRecord) { l.note("close") }

func (l *recordingListener) Checkout(raw any, rec *ConnRecord, c *PooledConn) error {
	l.note("checkout")
	if l.checkoutErr != nil {
		return l.checkoutErr()
	}
	return nil
}

func (l *recordingListener) recorded() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.events))
	copy(out, l.events)
	return out
}

func (l *recordingListener) countOf(name string) int {
	n := 0
	for _, e := range l.recorded() {
		if e == name {
			n++
		}
	}
	return n
}

func TestListenerLifecycleOrder(t *testing.T) {
	f := newFixture()
	rec := &recordingListener{}
	p := f.queuePool(t, func(cfg *Config) {
		cfg.Listeners = []Listener{rec}
	})

	c, err := p.Connect()
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	c.Close()

	want := []string{"first_connect", "connect", "checkout", "reset", "checkin"}
	got := rec.recorded()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}
}

func TestFirstConnectFiresOncePerPool(t *testing.T) {
	f := newFixture()
	rec := &recordingListener{}
	p := f.queuePool(t, func(cfg *Config) {
		cfg.PoolSize = 3
		cfg.Listeners = []Listener{rec}
	})

	c1, _ := p.Connect()
	c2, _ := p.Connect()
	c3, _ := p.Connect()
	c1.Close()
	c2.Close()
	c3.Close()

	if got := rec.countOf("first_connect"); got != 1 {
		t.Errorf("first_connect fired %d times, want 1", got)
	}
	if got := rec.countOf("connect"); got != 3 {
		t.Errorf("connect fired %d times, want 3", got)
	}
}

func TestConnectErrorEvent(t *testing.T) {
	f := newFixture()
	rec := &recordingListener{}
	p := f.queuePool(t, func(cfg *Config) {
		cfg.Listeners = []Listener{rec}
	})

	boom := errors.New("backend unreachable")
	f.creator.setErr(boom)
	if _, err := p.Connect(); !errors.Is(err, boom) {
		t.Fatalf("Connect = %v, want %v", err, boom)
	}
	if got := rec.countOf("connect_error"); got != 1 {
		t.Errorf("connect_error fired %d times, want 1", got)
	}
	if got := rec.countOf("connect"); got != 0 {
		t.Errorf("connect fired %d times, want 0", got)
	}
}

func TestCheckoutHookDisconnectRetries(t *testing.T) {
	f := newFixture()
	fail := 1
	rec := &recordingListener{}
	rec.checkoutErr = func() error {
		if fail > 0 {
			fail--
			return &DisconnectError{Cause: errors.New("gone away")}
		}
		return nil
	}
	p := f.queuePool(t, func(cfg *Config) {
		cfg.Listeners = []Listener{rec}
	})

	c, err := p.Connect()
	if err != nil {
		t.Fatalf("Connect should succeed after one retry, got %v", err)
	}
	defer c.Close()

	if got := f.creator.count(); got != 2 {
		t.Errorf("creator called %d times, want 2 (original plus replacement)", got)
	}
	if got := f.dialect.closedCount(); got != 1 {
		t.Errorf("closed %d connections, want 1", got)
	}
	if got := rec.countOf("invalidate"); got != 1 {
		t.Errorf("invalidate fired %d times, want 1", got)
	}
}

func TestCheckoutHookRetriesExhausted(t *testing.T) {
	f := newFixture()
	rec := &recordingListener{}
	rec.checkoutErr = func() error {
		return &DisconnectError{Cause: errors.New("still gone")}
	}
	p := f.queuePool(t, func(cfg *Config) {
		cfg.PoolSize = 1
		cfg.Listeners = []Listener{rec}
	})

	_, err := p.Connect()
	if err == nil {
		t.Fatal("Connect should fail once retries are exhausted")
	}
	if !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("error = %v, want ErrInvalidRequest", err)
	}
	// original connection plus one replacement per retry
	if got := f.creator.count(); got != 3 {
		t.Errorf("creator called %d times, want 3", got)
	}
	// the slot must not leak
	if got := p.CheckedOut(); got != 0 {
		t.Errorf("CheckedOut = %d, want 0", got)
	}
}

func TestCheckoutHookDisconnectInvalidatesPool(t *testing.T) {
	f := newFixture()
	p := f.queuePool(t, func(cfg *Config) {
		cfg.PoolSize = 2
	})

	// seed a second idle connection that predates the failure
	other, _ := p.Connect()
	otherRaw := other.Raw()
	other.Close()

	fail := 1
	rec := &recordingListener{}
	rec.checkoutErr = func() error {
		if fail > 0 {
			fail--
			return &DisconnectError{Cause: errors.New("server restarted"), InvalidatePool: true}
		}
		return nil
	}
	p.AddListener(rec)

	f.clock.Advance(1)
	c, err := p.Connect()
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	c.Close()

	// the idle connection from before the failure is recycled on its
	// next checkout
	f.clock.Advance(1)
	c2, err := p.Connect()
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer c2.Close()
	c3, err := p.Connect()
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer c3.Close()
	if c2.Raw() == otherRaw || c3.Raw() == otherRaw {
		t.Error("connections predating a pool-wide invalidation must be recycled")
	}
}

func TestCheckoutHookNonDisconnectError(t *testing.T) {
	f := newFixture()
	boom := errors.New("not authorized")
	rec := &recordingListener{}
	rec.checkoutErr = func() error { return boom }
	p := f.queuePool(t, func(cfg *Config) {
		cfg.PoolSize = 1
		cfg.Listeners = []Listener{rec}
	})

	_, err := p.Connect()
	if !errors.Is(err, boom) {
		t.Fatalf("error = %v, want %v", err, boom)
	}
	// the connection goes back to the pool rather than being discarded
	if got := f.dialect.closedCount(); got != 0 {
		t.Errorf("closed %d connections, want 0", got)
	}
	if got := p.CheckedIn(); got != 1 {
		t.Errorf("CheckedIn = %d, want 1", got)
	}
}

func TestPrePingReplacesDeadConnection(t *testing.T) {
	f := newFixture()
	p := f.queuePool(t, func(cfg *Config) {
		cfg.PoolSize = 1
		cfg.PrePing = true
	})

	c1, err := p.Connect()
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	raw1 := c1.Raw()
	c1.Close()

	// the next ping against this connection fails
	f.dialect.mu.Lock()
	f.dialect.pingErrs = []error{errors.New("broken pipe")}
	f.dialect.mu.Unlock()

	c2, err := p.Connect()
	if err != nil {
		t.Fatalf("Connect should transparently replace a dead connection, got %v", err)
	}
	defer c2.Close()
	if c2.Raw() == raw1 {
		t.Error("dead connection must have been replaced")
	}
	if got := f.creator.count(); got != 2 {
		t.Errorf("creator called %d times, want 2", got)
	}
}

func TestInvalidateEvents(t *testing.T) {
	f := newFixture()
	rec := &recordingListener{}
	p := f.queuePool(t, func(cfg *Config) {
		cfg.Listeners = []Listener{rec}
	})

	c, _ := p.Connect()
	c.Invalidate(errors.New("dubious"), true)
	if got := rec.countOf("soft_invalidate"); got != 1 {
		t.Errorf("soft_invalidate fired %d times, want 1", got)
	}
	c.Close()

	c2, _ := p.Connect()
	c2.Invalidate(errors.New("dead"), false)
	if got := rec.countOf("invalidate"); got != 1 {
		t.Errorf("invalidate fired %d times, want 1", got)
	}
	if got := rec.countOf("close"); got == 0 {
		t.Error("hard invalidation should report the connection close")
	}
}

func TestDetachEvents(t *testing.T) {
	f := newFixture()
	rec := &recordingListener{}
	p := f.queuePool(t, func(cfg *Config) {
		cfg.Listeners = []Listener{rec}
	})

	c, _ := p.Connect()
	c.Detach()
	if got := rec.countOf("detach"); got != 1 {
		t.Errorf("detach fired %d times, want 1", got)
	}
	c.Close()
	if got := rec.countOf("close_detached"); got != 1 {
		t.Errorf("close_detached fired %d times, want 1", got)
	}
}

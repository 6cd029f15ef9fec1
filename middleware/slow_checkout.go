package middleware

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/lunaris82/sqlkit/pool"
)

// SlowCheckoutListener logs connections that were held out of the pool for
// longer than the specified threshold. Long hold times are the usual cause
// of pool exhaustion, and this listener points at the workload responsible.
type SlowCheckoutListener struct {
	pool.BaseListener

	Threshold time.Duration
	LogPath   string
	logger    *log.Logger
	file      *os.File

	mu   sync.Mutex
	held map[*pool.ConnRecord]time.Time
}

// NewSlowCheckout creates a new SlowCheckoutListener.
// threshold: checkouts held longer than this will be logged.
// logPath: path to the log file. If empty, logs to standard output.
func NewSlowCheckout(threshold time.Duration, logPath string) *SlowCheckoutListener {
	return &SlowCheckoutListener{
		Threshold: threshold,
		LogPath:   logPath,
		held:      make(map[*pool.ConnRecord]time.Time),
	}
}

// SetOutput sets the output destination for the logger.
// This is useful for testing or custom logging.
func (m *SlowCheckoutListener) SetOutput(w io.Writer) {
	m.logger = log.New(w, "[SLOW CHECKOUT] ", log.LstdFlags)
}

func (m *SlowCheckoutListener) Name() string {
	return "SlowCheckout"
}

func (m *SlowCheckoutListener) Init() error {
	// If logger is already set (e.g. by SetOutput), don't overwrite it
	if m.logger != nil {
		return nil
	}

	if m.LogPath != "" {
		f, err := os.OpenFile(m.LogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("failed to open slow checkout log file: %w", err)
		}
		m.file = f
		m.logger = log.New(f, "[SLOW CHECKOUT] ", log.LstdFlags)
	} else {
		m.logger = log.New(os.Stdout, "[SLOW CHECKOUT] ", log.LstdFlags)
	}
	return nil
}

func (m *SlowCheckoutListener) Shutdown() error {
	if m.file != nil {
		return m.file.Close()
	}
	return nil
}

func (m *SlowCheckoutListener) Checkout(raw any, rec *pool.ConnRecord, c *pool.PooledConn) error {
	if m.logger == nil {
		if err := m.Init(); err != nil {
			return err
		}
	}
	m.mu.Lock()
	m.held[rec] = time.Now()
	m.mu.Unlock()
	return nil
}

func (m *SlowCheckoutListener) Checkin(raw any, rec *pool.ConnRecord) {
	m.mu.Lock()
	start, ok := m.held[rec]
	delete(m.held, rec)
	m.mu.Unlock()
	if !ok || m.logger == nil {
		return
	}
	duration := time.Since(start)
	if duration > m.Threshold {
		m.logger.Printf("duration=%v | conn=%v", duration, raw)
	}
}

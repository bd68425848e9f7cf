package engine

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/livepreview/previewd/internal/protocol"
)

// Stats maintains the counters behind the diagnostics endpoint. All counters
// are atomics because HTTP handlers, the connection-state hook, and the hub
// touch them from different goroutines.
type Stats struct {
	start time.Time

	connections   atomic.Int64
	activeConns   atomic.Int64
	wsConnections atomic.Int64
	activeWS      atomic.Int64
	requests      atomic.Int64
	errors        atomic.Int64

	mu        sync.Mutex
	lastError string
}

func NewStats() *Stats {
	return &Stats{start: time.Now()}
}

func (s *Stats) ConnOpened() {
	s.connections.Add(1)
	s.activeConns.Add(1)
}

func (s *Stats) ConnClosed() {
	s.activeConns.Add(-1)
}

func (s *Stats) WSOpened() {
	s.wsConnections.Add(1)
	s.activeWS.Add(1)
}

func (s *Stats) WSClosed() {
	s.activeWS.Add(-1)
}

func (s *Stats) Request() {
	s.requests.Add(1)
}

func (s *Stats) RecordError(msg string) {
	s.errors.Add(1)
	s.mu.Lock()
	s.lastError = msg
	s.mu.Unlock()
}

// Snapshot returns a point-in-time diagnostics view. Counters are read
// individually, so a snapshot taken mid-request may be off by one; the
// health monitor only cares about coarse trends.
func (s *Stats) Snapshot() protocol.Diagnostics {
	s.mu.Lock()
	lastErr := s.lastError
	s.mu.Unlock()

	return protocol.Diagnostics{
		StartTime:           s.start,
		Connections:         s.connections.Load(),
		ActiveConnections:   s.activeConns.Load(),
		WSConnections:       s.wsConnections.Load(),
		ActiveWSConnections: s.activeWS.Load(),
		Requests:            s.requests.Load(),
		Errors:              s.errors.Load(),
		LastError:           lastErr,
	}
}

// Package health polls a preview server's diagnostics endpoint and
// derives a browser connection status from the counters it reports.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/livepreview/previewd/internal/protocol"
	"github.com/livepreview/previewd/internal/session"
)

// StatusFunc receives the derived status after each completed poll. The
// generation identifies which session the result belongs to; stale
// results carry an old generation and must be discarded by the caller.
type StatusFunc func(generation uint64, status session.ConnectionStatus, diag *protocol.Diagnostics)

// Monitor rate-limits diagnostics polls against one target at a time.
// Pokes arriving inside the interval are dropped rather than queued, so
// a chatty caller cannot make the monitor hammer the server.
type Monitor struct {
	interval time.Duration
	client   *http.Client
	onStatus StatusFunc

	mu         sync.Mutex
	url        string
	generation uint64
	lastPoll   time.Time
}

func NewMonitor(interval time.Duration, onStatus StatusFunc) *Monitor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Monitor{
		interval: interval,
		client:   &http.Client{Timeout: 5 * time.Second},
		onStatus: onStatus,
	}
}

// SetTarget points the monitor at a session's diagnostics URL. The
// rate-limit window resets so the new session gets polled promptly.
func (m *Monitor) SetTarget(url string, generation uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.url = url
	m.generation = generation
	m.lastPoll = time.Time{}
}

// ClearTarget stops polling until a new target is set.
func (m *Monitor) ClearTarget() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.url = ""
	m.generation = 0
}

// Run polls on a ticker until ctx is cancelled. Poke may be used for
// off-schedule polls; both paths go through the same rate limit.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Poke(ctx)
		}
	}
}

// Poke requests an immediate poll. It is a no-op when no target is set
// or when the previous poll happened less than one interval ago.
func (m *Monitor) Poke(ctx context.Context) {
	m.mu.Lock()
	if m.url == "" {
		m.mu.Unlock()
		return
	}
	if !m.lastPoll.IsZero() && time.Since(m.lastPoll) < m.interval {
		m.mu.Unlock()
		return
	}
	m.lastPoll = time.Now()
	url := m.url
	generation := m.generation
	m.mu.Unlock()

	status, diag := m.poll(ctx, url)

	// The target may have changed while the request was in flight.
	m.mu.Lock()
	current := m.generation
	m.mu.Unlock()
	if generation != current {
		return
	}

	if m.onStatus != nil {
		m.onStatus(generation, status, diag)
	}
}

func (m *Monitor) poll(ctx context.Context, url string) (session.ConnectionStatus, *protocol.Diagnostics) {
	diag, err := m.fetch(ctx, url)
	if err != nil {
		log.Printf("health: poll %s: %v", url, err)
		return session.StatusError, nil
	}
	if diag.Errors > 0 && diag.LastError != "" {
		log.Printf("health: server reports %d error(s), last: %s", diag.Errors, diag.LastError)
	}
	return Derive(diag), diag
}

func (m *Monitor) fetch(ctx context.Context, url string) (*protocol.Diagnostics, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("diagnostics returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading diagnostics body: %w", err)
	}
	var diag protocol.Diagnostics
	if err := json.Unmarshal(body, &diag); err != nil {
		return nil, fmt.Errorf("decoding diagnostics: %w", err)
	}
	return &diag, nil
}

// Derive maps diagnostics counters to a connection status. An active
// socket means the browser is connected. No active socket after at
// least one successful upgrade means the browser went away.
func Derive(diag *protocol.Diagnostics) session.ConnectionStatus {
	switch {
	case diag.ActiveWSConnections > 0:
		return session.StatusConnected
	case diag.WSConnections > 0:
		return session.StatusDisconnected
	default:
		return session.StatusUnknown
	}
}

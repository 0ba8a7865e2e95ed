package publish

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// NetworkStatus reports connectivity. Restored returns a channel that is
// closed once the network is online; it is already closed when online now.
type NetworkStatus interface {
	Online() bool
	Restored() <-chan struct{}
}

// Switch is a NetworkStatus flipped by its owner.
type Switch struct {
	mu       sync.Mutex
	online   bool
	restored chan struct{}
}

// NewSwitch returns a Switch in the given state.
func NewSwitch(online bool) *Switch {
	s := &Switch{online: online, restored: make(chan struct{})}
	if online {
		close(s.restored)
	}
	return s
}

// Online implements NetworkStatus.
func (s *Switch) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// Restored implements NetworkStatus.
func (s *Switch) Restored() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restored
}

// Set changes the state and reports whether it changed.
func (s *Switch) Set(online bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.online == online {
		return false
	}
	s.online = online
	if online {
		close(s.restored)
	} else {
		s.restored = make(chan struct{})
	}
	return true
}

// DialMonitor drives a Switch by dialing Addr every Interval.
type DialMonitor struct {
	Switch   *Switch
	Addr     string
	Interval time.Duration
	Timeout  time.Duration

	// Dial defaults to a net.Dialer.
	Dial func(ctx context.Context, network, addr string) (net.Conn, error)
}

// Check dials once and updates the switch.
func (m *DialMonitor) Check(ctx context.Context) bool {
	dial := m.Dial
	if dial == nil {
		dial = (&net.Dialer{}).DialContext
	}
	timeout := m.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	conn, err := dial(dctx, "tcp", m.Addr)
	online := err == nil
	if conn != nil {
		conn.Close()
	}

	if m.Switch.Set(online) {
		if online {
			log.Info().Str("addr", m.Addr).Msg("Network connectivity restored")
		} else {
			log.Warn().Err(err).Str("addr", m.Addr).Msg("Network connectivity lost; publishing suspended")
		}
	}
	return online
}

// Run checks immediately and then every Interval until ctx is done.
func (m *DialMonitor) Run(ctx context.Context) {
	interval := m.Interval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	m.Check(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

package schedule

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/randalmurphal/abtrack/pkg/abtrack/observability"
)

// Connectivity reports whether the runtime is online and notifies when a
// lost connection comes back.
type Connectivity interface {
	// Online reports the current state.
	Online() bool

	// Subscribe returns a channel that receives after each offline->online
	// transition, and a function that ends the subscription.
	Subscribe() (<-chan struct{}, func())
}

// AlwaysOnline never goes offline and never notifies.
type AlwaysOnline struct{}

// Online returns true.
func (AlwaysOnline) Online() bool { return true }

// Subscribe returns a channel that never fires.
func (AlwaysOnline) Subscribe() (<-chan struct{}, func()) {
	return nil, func() {}
}

// Switch is a host-driven Connectivity. The host calls SetOnline when its
// network state changes.
type Switch struct {
	logger *slog.Logger

	mu     sync.Mutex
	online bool
	subs   map[int]chan struct{}
	nextID int
}

// NewSwitch creates a Switch in the given state.
func NewSwitch(online bool, logger *slog.Logger) *Switch {
	return &Switch{
		logger: logger,
		online: online,
		subs:   make(map[int]chan struct{}),
	}
}

// Online implements Connectivity.
func (s *Switch) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// SetOnline records the state and notifies subscribers when it flips to online.
func (s *Switch) SetOnline(online bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.online == online {
		return
	}
	s.online = online
	observability.LogConnectivity(s.logger, online)
	if !online {
		return
	}
	for _, ch := range s.subs {
		// A pending notification already covers this transition.
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Subscribe implements Connectivity.
func (s *Switch) Subscribe() (<-chan struct{}, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	ch := make(chan struct{}, 1)
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// DefaultProbeInterval is how often a Probe dials.
const DefaultProbeInterval = 5 * time.Second

// Probe derives connectivity from periodic TCP dials to addr.
type Probe struct {
	*Switch

	addr     string
	interval time.Duration
	timeout  time.Duration
	dialer   net.Dialer
}

// NewProbe creates a probe for a host:port. It starts online; Run corrects
// the state on its first dial.
func NewProbe(addr string, interval time.Duration, logger *slog.Logger) *Probe {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	timeout := interval / 2
	if timeout > 3*time.Second {
		timeout = 3 * time.Second
	}
	return &Probe{
		Switch:   NewSwitch(true, logger),
		addr:     addr,
		interval: interval,
		timeout:  timeout,
	}
}

// Check dials once and updates the state.
func (p *Probe) Check(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	conn, err := p.dialer.DialContext(ctx, "tcp", p.addr)
	online := err == nil
	if conn != nil {
		_ = conn.Close()
	}
	p.SetOnline(online)
	return online
}

// Run dials every interval until ctx is done.
func (p *Probe) Run(ctx context.Context) {
	p.Check(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Check(ctx)
		}
	}
}

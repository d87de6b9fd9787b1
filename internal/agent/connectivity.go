package agent

import (
	"context"
	"sync"
	"time"
)

// Connectivity is the explicit online/offline signal. Changes delivers the
// latest state after each transition; intermediate flaps may be collapsed.
type Connectivity interface {
	Online() bool
	Changes() <-chan bool
}

type signal struct {
	mu      sync.Mutex
	online  bool
	changes chan bool
}

func newSignal(online bool) signal {
	return signal{online: online, changes: make(chan bool, 1)}
}

func (s *signal) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

func (s *signal) Changes() <-chan bool { return s.changes }

func (s *signal) set(online bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.online == online {
		return false
	}
	s.online = online
	select {
	case <-s.changes:
	default:
	}
	s.changes <- online
	return true
}

// ManualConnectivity is driven by the embedding app, or by tests.
type ManualConnectivity struct {
	signal
}

func NewManualConnectivity(online bool) *ManualConnectivity {
	return &ManualConnectivity{signal: newSignal(online)}
}

func (m *ManualConnectivity) Set(online bool) {
	m.set(online)
}

// ProbeConnectivity polls a health check. It takes Threshold consecutive
// results before flipping, which keeps one slow request from flapping the
// state.
type ProbeConnectivity struct {
	signal
	probe     func(ctx context.Context) error
	interval  time.Duration
	timeout   time.Duration
	Threshold int

	streak int
}

func NewProbeConnectivity(probe func(ctx context.Context) error, interval time.Duration) *ProbeConnectivity {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &ProbeConnectivity{
		signal:    newSignal(false),
		probe:     probe,
		interval:  interval,
		timeout:   interval,
		Threshold: 2,
	}
}

// Check runs one probe and returns the resulting state.
func (p *ProbeConnectivity) Check(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	up := p.probe(ctx) == nil

	current := p.Online()
	if up == current {
		p.streak = 0
		return current
	}
	p.streak++
	threshold := p.Threshold
	if threshold <= 0 {
		threshold = 1
	}
	if p.streak >= threshold {
		p.streak = 0
		p.set(up)
		return up
	}
	return current
}

func (p *ProbeConnectivity) Run(ctx context.Context) error {
	p.Check(ctx)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.Check(ctx)
		}
	}
}

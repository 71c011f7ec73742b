// Package connectivity tracks network reachability for the outbox: one
// underlying probe, debounced transitions, fan-out to any number of
// subscribers.
package connectivity

import "sync"

// Listener receives the new reachability state on a genuine transition.
type Listener func(online bool)

// Source is the platform reachability hook. Start must invoke report for
// every observed state until Stop; the monitor suppresses repeats itself.
type Source interface {
	Start(report func(online bool)) error
	Stop()
}

// Monitor observes one Source and fans genuine online/offline transitions
// out to subscribers. Repeated reports of the same state are suppressed.
type Monitor struct {
	mu        sync.Mutex
	source    Source
	started   bool
	online    bool
	nextID    int
	listeners map[int]Listener
}

func NewMonitor(source Source) *Monitor {
	return &Monitor{
		source:    source,
		listeners: map[int]Listener{},
	}
}

// Start registers the underlying source. A second Start while already
// running is a no-op guarded by the started flag, so repeated calls never
// register a duplicate probe and never double fan-out.
func (m *Monitor) Start() error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	source := m.source
	m.mu.Unlock()

	if source == nil {
		return nil
	}
	if err := source.Start(m.Report); err != nil {
		m.mu.Lock()
		m.started = false
		m.mu.Unlock()
		return err
	}
	return nil
}

// Stop deregisters the source and drops all subscribers. Safe to call even
// if Start never ran.
func (m *Monitor) Stop() {
	m.mu.Lock()
	wasStarted := m.started
	m.started = false
	m.listeners = map[int]Listener{}
	source := m.source
	m.mu.Unlock()

	if wasStarted && source != nil {
		source.Stop()
	}
}

func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Subscribe registers a listener and returns its unsubscribe function.
func (m *Monitor) Subscribe(fn Listener) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// Report ingests an observed state. Only a state that differs from the last
// known one reaches subscribers.
func (m *Monitor) Report(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	fns := make([]Listener, 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(online)
	}
}

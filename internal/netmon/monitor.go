// Package netmon tracks connectivity transitions and publishes the
// networkRestored/networkLost signals the engine and UI react to.
//
// A daemon has no platform connectivity callback to trust, so transitions
// are detected by a pluggable Prober, normally a cheap request against the
// remote service. The flag is advisory either way (captive portals, flaky
// Wi-Fi): the transport's request-level errors and the engine's retry
// ceiling are the actual correctness backstops.
package netmon

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/erauner12/daykeep/internal/event"
)

// Prober reports whether the network currently looks reachable.
type Prober func(ctx context.Context) bool

// Monitor holds the current connectivity flag and emits transitions.
type Monitor struct {
	probe    Prober
	interval time.Duration
	bus      *event.Bus
	online   atomic.Bool
}

// New creates a monitor. The initial state is online: the first sync
// attempt will correct it if the probe disagrees, and starting pessimistic
// would suppress sync until the first probe fires.
func New(probe Prober, interval time.Duration, bus *event.Bus) *Monitor {
	m := &Monitor{probe: probe, interval: interval, bus: bus}
	m.online.Store(true)
	return m
}

// Online reports the current connectivity flag.
func (m *Monitor) Online() bool { return m.online.Load() }

// SetOnline records an externally observed state and emits the signal on a
// transition. The transport layer feeds observed offline errors back
// through this, which reacts faster than waiting for the next probe.
func (m *Monitor) SetOnline(online bool) {
	prev := m.online.Swap(online)
	if prev == online {
		return
	}
	if online {
		log.Info().Msg("network restored")
		m.bus.Publish(event.NetworkRestored, "")
	} else {
		log.Warn().Msg("network lost")
		m.bus.Publish(event.NetworkLost, "")
	}
}

// Run probes on the configured interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			probeCtx, cancel := context.WithTimeout(ctx, m.interval)
			m.SetOnline(m.probe(probeCtx))
			cancel()
		}
	}
}

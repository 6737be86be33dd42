package tracker

import (
	"context"
	"os"

	"github.com/unit-tools/traefik-unit-provider/pkg/logging"
	"github.com/unit-tools/traefik-unit-provider/pkg/systemd"
)

// jobEventBuffer bounds the downstream job-event channel. A slow
// consumer blocks only the forwarding step of the loop, never the
// per-source forwarder goroutines' merge state.
const jobEventBuffer = 100

type stateEvent struct {
	unitName string
	state    string
}

// Multiplexer merges a runtime-growing set of per-unit state-change
// streams, the new-unit signal, and termination signals into one
// ordered sequence of job events. One forwarder goroutine per source
// feeds a shared channel; live-source accounting detects exhaustion.
type Multiplexer struct {
	manager    systemd.Manager
	logger     logging.Logger
	out        chan systemd.JobEvent
	merged     chan stateEvent
	sourceDone chan string
	live       int
}

func NewMultiplexer(manager systemd.Manager, logger logging.Logger) *Multiplexer {
	return &Multiplexer{
		manager:    manager,
		logger:     logger,
		out:        make(chan systemd.JobEvent, jobEventBuffer),
		merged:     make(chan stateEvent),
		sourceDone: make(chan string),
	}
}

// Events is the downstream job-event sequence. It closes when the
// multiplexer loop exits.
func (m *Multiplexer) Events() <-chan systemd.JobEvent {
	return m.out
}

// Run multiplexes until either termination signal fires, ctx is
// cancelled, or the new-unit channel closes and every live source has
// drained. The merged channel is only selected once at least one
// source has ever been added; polling an empty merged set would
// mistake it for exhaustion.
func (m *Multiplexer) Run(ctx context.Context, initial []string, newUnits <-chan string, term1, term2 <-chan os.Signal) {
	defer close(m.out)

	for _, name := range initial {
		m.addSource(ctx, name)
	}
	m.logger.Debugf("Watching %d units", m.live)
	armed := m.live > 0

	for {
		var merged <-chan stateEvent
		if armed {
			merged = m.merged
		}

		select {
		case name, ok := <-newUnits:
			if !ok {
				m.logger.Debugf("New-unit channel closed")
				newUnits = nil
				if m.live == 0 {
					return
				}
				continue
			}
			if m.addSource(ctx, name) {
				armed = true
			}

		case event := <-merged:
			job := systemd.JobEvent{
				UnitName: event.unitName,
				Started:  event.state == systemd.ActiveStateRunning,
			}
			select {
			case m.out <- job:
			case <-ctx.Done():
				return
			}

		case name := <-m.sourceDone:
			m.live--
			m.logger.Debugf("State-change stream closed for unit %s, %d live sources left", name, m.live)
			if m.live == 0 && newUnits == nil {
				return
			}

		case <-term1:
			m.logger.Debugf("Termination signal received, stopping")
			return

		case <-term2:
			m.logger.Debugf("Termination signal received, stopping")
			return

		case <-ctx.Done():
			return
		}
	}
}

// addSource subscribes to one unit's state-change stream and starts
// its forwarder. Failures are logged and the unit contributes no
// events; it stays registered and is retried only on a future
// new-unit notification.
func (m *Multiplexer) addSource(ctx context.Context, name string) bool {
	objectPath, err := m.manager.LoadUnit(ctx, name)
	if err != nil {
		m.logger.Errorf("Failed to load unit %s: %v", name, err)
		return false
	}
	unit, err := m.manager.GetUnit(ctx, objectPath)
	if err != nil {
		m.logger.Errorf("Failed to resolve unit %s: %v", name, err)
		return false
	}
	states, err := unit.SubscribeActiveState(ctx)
	if err != nil {
		m.logger.Errorf("Failed to subscribe to state changes of unit %s: %v", name, err)
		return false
	}

	m.live++
	go m.forward(ctx, name, states)
	return true
}

func (m *Multiplexer) forward(ctx context.Context, name string, states <-chan string) {
	for state := range states {
		select {
		case m.merged <- stateEvent{unitName: name, state: state}:
		case <-ctx.Done():
			return
		}
	}
	select {
	case m.sourceDone <- name:
	case <-ctx.Done():
	}
}

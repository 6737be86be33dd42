package tracker

import (
	"context"

	"github.com/unit-tools/traefik-unit-provider/pkg/logging"
	"github.com/unit-tools/traefik-unit-provider/pkg/systemd"
)

// newUnitBuffer bounds the watcher's output channel. A full channel
// blocks the single producer, throttling notification intake instead
// of growing an unbounded backlog.
const newUnitBuffer = 100

// Watcher turns supervisor new-unit notifications into registry
// insertions and publishes the names of newly tracked units.
type Watcher struct {
	manager   systemd.Manager
	discovery *Discovery
	registry  *Registry
	logger    logging.Logger
	out       chan string
}

func NewWatcher(manager systemd.Manager, discovery *Discovery, registry *Registry, logger logging.Logger) *Watcher {
	return &Watcher{
		manager:   manager,
		discovery: discovery,
		registry:  registry,
		logger:    logger,
		out:       make(chan string, newUnitBuffer),
	}
}

// NewUnits is the stream of newly tracked unit names. It closes when
// the watcher stops.
func (w *Watcher) NewUnits() <-chan string {
	return w.out
}

// Run consumes the supervisor's new-unit stream until it closes or ctx
// is cancelled. A subscription-establishment failure aborts the
// watcher; per-notification failures are logged and skipped.
func (w *Watcher) Run(ctx context.Context) {
	defer close(w.out)

	notifications, err := w.manager.SubscribeNewUnits(ctx)
	if err != nil {
		w.logger.Errorf("Failed to subscribe to new-unit notifications: %v", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case notification, ok := <-notifications:
			if !ok {
				return
			}
			w.handle(ctx, notification)
		}
	}
}

func (w *Watcher) handle(ctx context.Context, notification systemd.NewUnit) {
	if w.registry.Contains(notification.Name) {
		return
	}
	record := w.discovery.TryRegister(ctx, notification.Name, notification.ObjectPath)
	if record == nil {
		return
	}
	if !w.registry.Insert(record) {
		// Lost the race against a concurrent insert; already tracked.
		return
	}
	w.logger.Infof("New unit being watched: %s", record.Name)
	select {
	case w.out <- record.Name:
	case <-ctx.Done():
	}
}

// Package reconciler applies job events to the output directory:
// started units get one synthesized YAML artifact, stopped units get
// theirs removed. All effects are idempotent and re-derivable from
// live state, so no completion guarantee is needed at shutdown.
package reconciler

import (
	"context"
	"path/filepath"

	"github.com/unit-tools/traefik-unit-provider/pkg/configstore"
	"github.com/unit-tools/traefik-unit-provider/pkg/errors"
	"github.com/unit-tools/traefik-unit-provider/pkg/logging"
	"github.com/unit-tools/traefik-unit-provider/pkg/systemd"
	"github.com/unit-tools/traefik-unit-provider/pkg/tracker"
	"github.com/unit-tools/traefik-unit-provider/pkg/traefikdoc"
	"github.com/unit-tools/traefik-unit-provider/pkg/unitfile"
)

const artifactExtension = ".yml"

type Reconciler struct {
	manager   systemd.Manager
	store     configstore.Store
	outputDir string
	logger    logging.Logger
}

func NewReconciler(manager systemd.Manager, store configstore.Store, outputDir string, logger logging.Logger) *Reconciler {
	return &Reconciler{
		manager:   manager,
		store:     store,
		outputDir: outputDir,
		logger:    logger,
	}
}

// ReconcileAll applies the current live state of every registered
// unit. Run once at startup to correct drift predating the watcher's
// attachment. Per-unit failures are logged and aggregated; they never
// abort the pass.
func (r *Reconciler) ReconcileAll(ctx context.Context, registry *tracker.Registry) error {
	collection := errors.NewErrorCollection()
	for _, name := range registry.Names() {
		record, ok := registry.Get(name)
		if !ok {
			continue
		}
		started := r.isRunning(ctx, record.Name)
		r.logger.Debugf("Reconciling unit %s, started: %t", record.Name, started)
		if err := r.Apply(ctx, started, record); err != nil {
			r.logger.Errorf("Failed to reconcile unit %s: %v", record.Name, err)
			collection.Add(err)
		}
	}
	return collection.ToError()
}

// isRunning queries the unit's live active-state; a query failure is
// logged and treated as not started.
func (r *Reconciler) isRunning(ctx context.Context, name string) bool {
	objectPath, err := r.manager.LoadUnit(ctx, name)
	if err != nil {
		r.logger.Errorf("Failed to load unit %s: %v", name, err)
		return false
	}
	unit, err := r.manager.GetUnit(ctx, objectPath)
	if err != nil {
		r.logger.Errorf("Failed to resolve unit %s: %v", name, err)
		return false
	}
	state, err := unit.ActiveState(ctx)
	if err != nil {
		r.logger.Errorf("Failed to query active state of unit %s: %v", name, err)
		return false
	}
	return state == systemd.ActiveStateRunning
}

// Apply performs the file effect of one transition.
func (r *Reconciler) Apply(ctx context.Context, started bool, record *tracker.UnitRecord) error {
	if started {
		return r.writeArtifact(ctx, record)
	}
	return r.removeArtifact(record.Name)
}

func (r *Reconciler) writeArtifact(ctx context.Context, record *tracker.UnitRecord) error {
	labels, err := r.collectLabels(ctx, record)
	if err != nil {
		return err
	}
	document, err := traefikdoc.Build(labels)
	if err != nil {
		return err
	}

	destination := r.artifactPath(record.Name)

	// An existing artifact is left untouched: repeated "started"
	// events are idempotent, and label edits only take effect after a
	// stop/start cycle.
	if r.store.Exists(destination) {
		r.logger.Debugf("Artifact for unit %s already present at %s", record.Name, destination)
		return nil
	}

	if err := r.store.Write(destination, document); err != nil {
		return err
	}
	r.logger.Infof("Wrote %s", destination)
	return nil
}

func (r *Reconciler) removeArtifact(name string) error {
	destination := r.artifactPath(name)
	if !r.store.Exists(destination) {
		return nil
	}
	if err := r.store.RemoveFile(destination); err != nil {
		return err
	}
	r.logger.Infof("Removed %s", destination)
	return nil
}

func (r *Reconciler) artifactPath(name string) string {
	return filepath.Join(r.outputDir, Sanitize(name)+artifactExtension)
}

// collectLabels gathers Label directive values from the unit's config
// sources, drop-ins first (in reported order), then the fragment.
func (r *Reconciler) collectLabels(ctx context.Context, record *tracker.UnitRecord) ([]string, error) {
	unit, err := r.manager.GetUnit(ctx, record.ObjectPath)
	if err != nil {
		return nil, err
	}
	sources, err := tracker.ConfigSources(ctx, unit, r.store)
	if err != nil {
		return nil, err
	}

	var labels []string
	for _, source := range sources {
		text, err := r.store.ReadToString(source)
		if err != nil {
			return nil, err
		}
		sourceLabels, err := unitfile.TraefikLabels(text)
		if err != nil {
			return nil, err
		}
		labels = append(labels, sourceLabels...)
	}
	return labels, nil
}

// Consume drains job events in arrival order until the channel closes
// or ctx is cancelled. Unknown units and apply failures are logged
// and skipped; the artifact update defers to the next event.
func (r *Reconciler) Consume(ctx context.Context, jobs <-chan systemd.JobEvent, registry *tracker.Registry) {
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-jobs:
			if !ok {
				return
			}
			record, ok := registry.Get(job.UnitName)
			if !ok {
				r.logger.Errorf("Not handling state change for unit %s, missing unit record", job.UnitName)
				continue
			}
			if err := r.Apply(ctx, job.Started, record); err != nil {
				r.logger.Errorf("Failed to handle state change for unit %s: %v", job.UnitName, err)
			}
		}
	}
}

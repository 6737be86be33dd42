// Package provider wires the reconciliation engine together: startup
// enumeration fills the registry, a full reconcile pass corrects
// drift, then the watcher and multiplexer run concurrently while a
// single consumer applies job events to the output directory.
package provider

import (
	"context"
	"net/http"
	"os"
	"strings"

	"github.com/unit-tools/traefik-unit-provider/pkg/configstore"
	"github.com/unit-tools/traefik-unit-provider/pkg/errors"
	"github.com/unit-tools/traefik-unit-provider/pkg/logging"
	"github.com/unit-tools/traefik-unit-provider/pkg/reconciler"
	"github.com/unit-tools/traefik-unit-provider/pkg/status"
	"github.com/unit-tools/traefik-unit-provider/pkg/systemd"
	"github.com/unit-tools/traefik-unit-provider/pkg/tracker"
)

type Options struct {
	OutputDir  string
	StatusAddr string
}

type Provider struct {
	options Options
	manager systemd.Manager
	store   configstore.Store
	logger  logging.Logger
}

func NewProvider(options Options, manager systemd.Manager, store configstore.Store, logger logging.Logger) (*Provider, error) {
	if options.OutputDir == "" {
		return nil, errors.NewValidationError("output directory cannot be empty", nil)
	}
	if manager == nil {
		return nil, errors.NewValidationError("manager cannot be nil", nil)
	}
	if store == nil {
		return nil, errors.NewValidationError("store cannot be nil", nil)
	}

	return &Provider{
		options: options,
		manager: manager,
		store:   store,
		logger:  logger,
	}, nil
}

// Run blocks until either termination signal fires or the event
// sources are exhausted. Startup failures (directory creation, initial
// enumeration) are returned; the caller converts them into a non-zero
// process exit. The watcher and consumer hold no completion guarantee
// at shutdown: all file effects are idempotent and re-derived from
// live state on restart.
func (p *Provider) Run(ctx context.Context, term1, term2 <-chan os.Signal) error {
	if err := p.store.CreateDirAll(p.options.OutputDir); err != nil {
		return errors.NewIOError("failed to create output directory", err).WithContext("output_dir", p.options.OutputDir)
	}
	p.logger.Infof("Dynamic output dir: %s", p.options.OutputDir)

	discovery := tracker.NewDiscovery(p.manager, p.store, p.subLogger("discovery"))

	registry, err := discovery.ListUnits(ctx)
	if err != nil {
		return errors.NewTransportError("failed to enumerate units", err)
	}
	if registry.Len() == 0 {
		p.logger.Infof("No units initially being watched. They might all be stopped.")
	} else {
		p.logger.Infof("Initial watched units: %s", strings.Join(registry.Names(), ", "))
	}

	rec := reconciler.NewReconciler(p.manager, p.store, p.options.OutputDir, p.subLogger("reconciler"))
	if err := rec.ReconcileAll(ctx, registry); err != nil {
		p.logger.Errorf("Initial reconcile: %v", err)
	}

	// Background tasks stop with the run context; only the
	// multiplexer loop gets a graceful exit via the signals.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	watcher := tracker.NewWatcher(p.manager, discovery, registry, p.subLogger("watcher"))
	go watcher.Run(runCtx)

	multiplexer := tracker.NewMultiplexer(p.manager, p.subLogger("multiplexer"))
	go rec.Consume(runCtx, multiplexer.Events(), registry)

	if p.options.StatusAddr != "" {
		server := &http.Server{
			Addr:    p.options.StatusAddr,
			Handler: status.NewHandler(p.manager, registry, p.store, p.options.OutputDir, p.subLogger("status")),
		}
		defer server.Close()
		go func() {
			p.logger.Infof("Status endpoint listening on %s", p.options.StatusAddr)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				p.logger.Errorf("Status endpoint failed: %v", err)
			}
		}()
	}

	multiplexer.Run(runCtx, registry.Names(), watcher.NewUnits(), term1, term2)

	p.logger.Infof("Shutting down")
	return nil
}

func (p *Provider) subLogger(module string) logging.Logger {
	return logging.NewLogger("module: "+module+" , ", logging.LogFuncs{
		Debugf: p.logger.Debugf,
		Infof:  p.logger.Infof,
		Warnf:  p.logger.Warnf,
		Errorf: p.logger.Errorf,
	})
}

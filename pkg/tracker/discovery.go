package tracker

import (
	"context"
	"strings"
	"sync"

	"github.com/unit-tools/traefik-unit-provider/pkg/configstore"
	"github.com/unit-tools/traefik-unit-provider/pkg/logging"
	"github.com/unit-tools/traefik-unit-provider/pkg/systemd"
	"github.com/unit-tools/traefik-unit-provider/pkg/unitfile"
)

const serviceSuffix = ".service"

// Discovery decides whether a unit is trackable: a .service unit whose
// resolved configuration sources contain an X-Traefik section.
type Discovery struct {
	manager systemd.Manager
	store   configstore.Store
	logger  logging.Logger
}

func NewDiscovery(manager systemd.Manager, store configstore.Store, logger logging.Logger) *Discovery {
	return &Discovery{
		manager: manager,
		store:   store,
		logger:  logger,
	}
}

// TryRegister evaluates one unit and returns its record, or nil when
// the unit is not trackable. Failures are logged and reported as
// "not trackable"; they never propagate.
func (d *Discovery) TryRegister(ctx context.Context, name, objectPath string) *UnitRecord {
	if !strings.HasSuffix(name, serviceSuffix) {
		return nil
	}

	unit, err := d.manager.GetUnit(ctx, objectPath)
	if err != nil {
		d.logger.Errorf("Failed to resolve unit %s: %v", name, err)
		return nil
	}

	sources, err := ConfigSources(ctx, unit, d.store)
	if err != nil {
		d.logger.Errorf("Failed to resolve config sources for unit %s: %v", name, err)
		return nil
	}

	for _, source := range sources {
		text, err := d.store.ReadToString(source)
		if err != nil {
			d.logger.Errorf("Failed to read config source %s for unit %s: %v", source, name, err)
			continue
		}
		found, err := unitfile.HasTraefikSection(text)
		if err != nil {
			d.logger.Errorf("Failed to parse config source %s for unit %s: %v", source, name, err)
			continue
		}
		if found {
			d.logger.Debugf("Found %s section in %s for unit %s", unitfile.TraefikSection, source, name)
			return &UnitRecord{Name: name, ObjectPath: objectPath}
		}
	}
	return nil
}

// ListUnits enumerates all units from the supervisor, evaluates
// trackability concurrently over the full list, and returns a fresh
// registry of the trackable ones.
func (d *Discovery) ListUnits(ctx context.Context) (*Registry, error) {
	units, err := d.manager.ListUnits(ctx)
	if err != nil {
		return nil, err
	}

	registry := NewRegistry()
	var group sync.WaitGroup
	for _, unit := range units {
		group.Add(1)
		go func(unit systemd.UnitStatus) {
			defer group.Done()
			if record := d.TryRegister(ctx, unit.Name, unit.ObjectPath); record != nil {
				registry.Insert(record)
			}
		}(unit)
	}
	group.Wait()

	d.logger.Debugf("Discovered %d trackable units out of %d", registry.Len(), len(units))
	return registry, nil
}

// ConfigSources resolves a unit's ordered configuration source list:
// supervisor-reported drop-in paths first (in reported order), then
// the fragment path, filtered to existing files.
func ConfigSources(ctx context.Context, unit systemd.Unit, store configstore.Store) ([]string, error) {
	dropIns, err := unit.DropInPaths(ctx)
	if err != nil {
		return nil, err
	}
	sources := make([]string, 0, len(dropIns)+1)
	for _, path := range dropIns {
		if store.Exists(path) {
			sources = append(sources, path)
		}
	}
	fragment, err := unit.FragmentPath(ctx)
	if err != nil {
		return nil, err
	}
	if store.Exists(fragment) {
		sources = append(sources, fragment)
	}
	return sources, nil
}

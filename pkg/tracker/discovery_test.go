package tracker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unit-tools/traefik-unit-provider/pkg/configstore"
	"github.com/unit-tools/traefik-unit-provider/pkg/systemd/systemdtest"
)

const traefikUnitText = "[Unit]\nDescription=Test Service\n\n[X-Traefik]\nLabel=traefik.http.routers.test.rule=Host(`test.example.com`)\n"

func TestTryRegister_TrackableUnit(t *testing.T) {
	manager := systemdtest.NewFakeManager()
	manager.AddUnit("web.service", "/unit/web").
		SetFragmentPath("/lib/systemd/system/web.service")
	store := configstore.NewMemStore()
	store.AddFile("/lib/systemd/system/web.service", traefikUnitText)

	discovery := NewDiscovery(manager, store, newTestLogger())

	record := discovery.TryRegister(context.Background(), "web.service", "/unit/web")
	require.NotNil(t, record)
	assert.Equal(t, "web.service", record.Name)
	assert.Equal(t, "/unit/web", record.ObjectPath)
}

func TestTryRegister_RejectsNonServiceNames(t *testing.T) {
	manager := systemdtest.NewFakeManager()
	manager.AddUnit("web.socket", "/unit/websocket")
	discovery := NewDiscovery(manager, configstore.NewMemStore(), newTestLogger())

	assert.Nil(t, discovery.TryRegister(context.Background(), "web.socket", "/unit/websocket"))
	assert.Nil(t, discovery.TryRegister(context.Background(), "data.mount", "/unit/datamount"))
	assert.Nil(t, discovery.TryRegister(context.Background(), "cleanup.timer", "/unit/cleanuptimer"))
}

func TestTryRegister_RejectsUnitsWithoutTraefikSection(t *testing.T) {
	manager := systemdtest.NewFakeManager()
	manager.AddUnit("plain.service", "/unit/plain").
		SetFragmentPath("/lib/systemd/system/plain.service")
	store := configstore.NewMemStore()
	store.AddFile("/lib/systemd/system/plain.service", "[Unit]\nDescription=Plain\n\n[Service]\nExecStart=/bin/true\n")

	discovery := NewDiscovery(manager, store, newTestLogger())

	assert.Nil(t, discovery.TryRegister(context.Background(), "plain.service", "/unit/plain"))
}

func TestTryRegister_TraefikSectionInDropIn(t *testing.T) {
	manager := systemdtest.NewFakeManager()
	manager.AddUnit("web.service", "/unit/web").
		SetDropInPaths("/etc/systemd/system/web.service.d/traefik.conf").
		SetFragmentPath("/lib/systemd/system/web.service")
	store := configstore.NewMemStore()
	store.AddFile("/etc/systemd/system/web.service.d/traefik.conf", "[X-Traefik]\nLabel=foo\n")
	store.AddFile("/lib/systemd/system/web.service", "[Service]\nExecStart=/bin/true\n")

	discovery := NewDiscovery(manager, store, newTestLogger())

	assert.NotNil(t, discovery.TryRegister(context.Background(), "web.service", "/unit/web"))
}

func TestTryRegister_UnreadableSourceIsSkippedNotFatal(t *testing.T) {
	manager := systemdtest.NewFakeManager()
	manager.AddUnit("web.service", "/unit/web").
		SetDropInPaths("/etc/systemd/system/web.service.d/broken.conf").
		SetFragmentPath("/lib/systemd/system/web.service")
	store := &readFailingStore{
		MemStore: configstore.NewMemStore(),
		failPath: "/etc/systemd/system/web.service.d/broken.conf",
	}
	store.AddFile("/etc/systemd/system/web.service.d/broken.conf", "unused")
	store.AddFile("/lib/systemd/system/web.service", traefikUnitText)

	discovery := NewDiscovery(manager, store, newTestLogger())

	// The broken drop-in contributes nothing; the fragment decides.
	assert.NotNil(t, discovery.TryRegister(context.Background(), "web.service", "/unit/web"))
}

func TestTryRegister_ResolutionFailureReturnsNil(t *testing.T) {
	manager := systemdtest.NewFakeManager()
	discovery := NewDiscovery(manager, configstore.NewMemStore(), newTestLogger())

	// No unit registered under this object path.
	assert.Nil(t, discovery.TryRegister(context.Background(), "ghost.service", "/unit/ghost"))
}

func TestListUnits_FiltersToTrackable(t *testing.T) {
	manager := systemdtest.NewFakeManager()
	manager.AddUnit("web.service", "/unit/web").
		SetFragmentPath("/lib/systemd/system/web.service")
	manager.AddUnit("plain.service", "/unit/plain").
		SetFragmentPath("/lib/systemd/system/plain.service")
	manager.AddUnit("data.mount", "/unit/datamount")
	store := configstore.NewMemStore()
	store.AddFile("/lib/systemd/system/web.service", traefikUnitText)
	store.AddFile("/lib/systemd/system/plain.service", "[Service]\nExecStart=/bin/true\n")

	discovery := NewDiscovery(manager, store, newTestLogger())

	registry, err := discovery.ListUnits(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, registry.Len())
	assert.True(t, registry.Contains("web.service"))
}

func TestConfigSources_OrderAndExistenceFilter(t *testing.T) {
	manager := systemdtest.NewFakeManager()
	manager.AddUnit("web.service", "/unit/web").
		SetDropInPaths(
			"/etc/systemd/system/web.service.d/10-first.conf",
			"/etc/systemd/system/web.service.d/20-missing.conf",
			"/etc/systemd/system/web.service.d/30-second.conf",
		).
		SetFragmentPath("/lib/systemd/system/web.service")
	store := configstore.NewMemStore()
	store.AddFile("/etc/systemd/system/web.service.d/10-first.conf", "")
	store.AddFile("/etc/systemd/system/web.service.d/30-second.conf", "")
	store.AddFile("/lib/systemd/system/web.service", "")

	unit, err := manager.GetUnit(context.Background(), "/unit/web")
	require.NoError(t, err)

	sources, err := ConfigSources(context.Background(), unit, store)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"/etc/systemd/system/web.service.d/10-first.conf",
		"/etc/systemd/system/web.service.d/30-second.conf",
		"/lib/systemd/system/web.service",
	}, sources)
}

// readFailingStore fails ReadToString for one path.
type readFailingStore struct {
	*configstore.MemStore
	failPath string
}

func (s *readFailingStore) ReadToString(path string) (string, error) {
	if path == s.failPath {
		return "", assert.AnError
	}
	return s.MemStore.ReadToString(path)
}

package reconciler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/unit-tools/traefik-unit-provider/pkg/configstore"
	"github.com/unit-tools/traefik-unit-provider/pkg/systemd"
	"github.com/unit-tools/traefik-unit-provider/pkg/systemd/systemdtest"
	"github.com/unit-tools/traefik-unit-provider/pkg/tracker"
)

// MockLogger for testing
type MockLogger struct {
	mock.Mock
}

func (m *MockLogger) Debugf(format string, args ...interface{}) {
	m.Called(format, args)
}

func (m *MockLogger) Infof(format string, args ...interface{}) {
	m.Called(format, args)
}

func (m *MockLogger) Warnf(format string, args ...interface{}) {
	m.Called(format, args)
}

func (m *MockLogger) Errorf(format string, args ...interface{}) {
	m.Called(format, args)
}

func newTestLogger() *MockLogger {
	logger := &MockLogger{}
	logger.On("Debugf", mock.Anything, mock.Anything).Maybe()
	logger.On("Infof", mock.Anything, mock.Anything).Maybe()
	logger.On("Warnf", mock.Anything, mock.Anything).Maybe()
	logger.On("Errorf", mock.Anything, mock.Anything).Maybe()
	return logger
}

const webUnitText = "[Unit]\nDescription=Web\n\n[X-Traefik]\nLabel=traefik.http.routers.web.rule=Host(`a.com`)\n"

func newWebFixture(t *testing.T) (*systemdtest.FakeManager, *configstore.MemStore, *Reconciler, *tracker.UnitRecord) {
	t.Helper()
	manager := systemdtest.NewFakeManager()
	manager.AddUnit("web.service", "/unit/web").
		SetFragmentPath("/lib/systemd/system/web.service")
	store := configstore.NewMemStore()
	store.AddFile("/lib/systemd/system/web.service", webUnitText)
	reconciler := NewReconciler(manager, store, "/etc/traefik/dynamic/units", newTestLogger())
	record := &tracker.UnitRecord{Name: "web.service", ObjectPath: "/unit/web"}
	return manager, store, reconciler, record
}

func documentTree(t *testing.T, text string) map[string]interface{} {
	t.Helper()
	var tree map[string]interface{}
	require.NoError(t, yaml.Unmarshal([]byte(text), &tree))
	return tree
}

func TestApply_StartedWritesArtifact(t *testing.T) {
	_, store, reconciler, record := newWebFixture(t)

	require.NoError(t, reconciler.Apply(context.Background(), true, record))

	content, ok := store.Content("/etc/traefik/dynamic/units/web.service.yml")
	require.True(t, ok)

	tree := documentTree(t, content)
	assert.NotContains(t, tree, "traefik")
	rule := tree["http"].(map[string]interface{})["routers"].(map[string]interface{})["web"].(map[string]interface{})["rule"]
	assert.Equal(t, "Host(`a.com`)", rule)
}

func TestApply_RepeatedStartIsIdempotent(t *testing.T) {
	_, store, reconciler, record := newWebFixture(t)

	require.NoError(t, reconciler.Apply(context.Background(), true, record))
	first, ok := store.Content("/etc/traefik/dynamic/units/web.service.yml")
	require.True(t, ok)

	// Label edits without a stop/start cycle are not picked up: the
	// second "started" performs no write.
	store.AddFile("/lib/systemd/system/web.service",
		"[X-Traefik]\nLabel=traefik.http.routers.web.rule=Host(`changed.com`)\n")
	require.NoError(t, reconciler.Apply(context.Background(), true, record))

	second, ok := store.Content("/etc/traefik/dynamic/units/web.service.yml")
	require.True(t, ok)
	assert.Equal(t, first, second)
}

func TestApply_StoppedRemovesArtifact(t *testing.T) {
	_, store, reconciler, record := newWebFixture(t)

	require.NoError(t, reconciler.Apply(context.Background(), true, record))
	require.True(t, store.Exists("/etc/traefik/dynamic/units/web.service.yml"))

	require.NoError(t, reconciler.Apply(context.Background(), false, record))
	assert.False(t, store.Exists("/etc/traefik/dynamic/units/web.service.yml"))
}

func TestApply_StoppedWithoutArtifactIsNoop(t *testing.T) {
	_, store, reconciler, record := newWebFixture(t)

	require.NoError(t, reconciler.Apply(context.Background(), false, record))
	assert.False(t, store.Exists("/etc/traefik/dynamic/units/web.service.yml"))
}

func TestApply_StartAfterStopRecreatesArtifact(t *testing.T) {
	_, store, reconciler, record := newWebFixture(t)

	require.NoError(t, reconciler.Apply(context.Background(), true, record))
	require.NoError(t, reconciler.Apply(context.Background(), false, record))
	require.NoError(t, reconciler.Apply(context.Background(), true, record))

	assert.True(t, store.Exists("/etc/traefik/dynamic/units/web.service.yml"))
}

func TestApply_SanitizesArtifactName(t *testing.T) {
	manager := systemdtest.NewFakeManager()
	manager.AddUnit("my@app!.service", "/unit/myapp").
		SetFragmentPath("/lib/systemd/system/myapp.service")
	store := configstore.NewMemStore()
	store.AddFile("/lib/systemd/system/myapp.service", webUnitText)
	reconciler := NewReconciler(manager, store, "/out", newTestLogger())

	record := &tracker.UnitRecord{Name: "my@app!.service", ObjectPath: "/unit/myapp"}
	require.NoError(t, reconciler.Apply(context.Background(), true, record))

	assert.True(t, store.Exists("/out/my_app_.service.yml"))
}

func TestApply_DropInLabelsPrecedeFragmentLabels(t *testing.T) {
	manager := systemdtest.NewFakeManager()
	manager.AddUnit("web.service", "/unit/web").
		SetDropInPaths("/etc/systemd/system/web.service.d/override.conf").
		SetFragmentPath("/lib/systemd/system/web.service")
	store := configstore.NewMemStore()
	store.AddFile("/etc/systemd/system/web.service.d/override.conf",
		"[X-Traefik]\nLabel=traefik.http.routers.web.rule=Host(`dropin.com`)\n")
	store.AddFile("/lib/systemd/system/web.service",
		"[X-Traefik]\nLabel=traefik.http.routers.web.rule=Host(`fragment.com`)\n")
	reconciler := NewReconciler(manager, store, "/out", newTestLogger())

	record := &tracker.UnitRecord{Name: "web.service", ObjectPath: "/unit/web"}
	require.NoError(t, reconciler.Apply(context.Background(), true, record))

	// Assignments apply in source order, so the fragment (last) wins
	// on the identical path.
	content, ok := store.Content("/out/web.service.yml")
	require.True(t, ok)
	tree := documentTree(t, content)
	rule := tree["http"].(map[string]interface{})["routers"].(map[string]interface{})["web"].(map[string]interface{})["rule"]
	assert.Equal(t, "Host(`fragment.com`)", rule)
}

func TestReconcileAll_WritesForActiveRemovesForInactive(t *testing.T) {
	manager := systemdtest.NewFakeManager()
	manager.AddUnit("up.service", "/unit/up").
		SetFragmentPath("/lib/systemd/system/up.service").
		SetActiveState("active")
	manager.AddUnit("down.service", "/unit/down").
		SetFragmentPath("/lib/systemd/system/down.service").
		SetActiveState("inactive")
	store := configstore.NewMemStore()
	store.AddFile("/lib/systemd/system/up.service", webUnitText)
	store.AddFile("/lib/systemd/system/down.service", webUnitText)
	store.AddFile("/out/down.service.yml", "stale artifact")
	reconciler := NewReconciler(manager, store, "/out", newTestLogger())

	registry := tracker.NewRegistry()
	registry.Insert(&tracker.UnitRecord{Name: "up.service", ObjectPath: "/unit/up"})
	registry.Insert(&tracker.UnitRecord{Name: "down.service", ObjectPath: "/unit/down"})

	require.NoError(t, reconciler.ReconcileAll(context.Background(), registry))

	assert.True(t, store.Exists("/out/up.service.yml"))
	assert.False(t, store.Exists("/out/down.service.yml"))
}

func TestReconcileAll_StateQueryFailureTreatedAsStopped(t *testing.T) {
	manager := systemdtest.NewFakeManager()
	unit := manager.AddUnit("web.service", "/unit/web")
	unit.SetFragmentPath("/lib/systemd/system/web.service")
	unit.StateErr = assert.AnError
	store := configstore.NewMemStore()
	store.AddFile("/lib/systemd/system/web.service", webUnitText)
	store.AddFile("/out/web.service.yml", "stale artifact")
	reconciler := NewReconciler(manager, store, "/out", newTestLogger())

	registry := tracker.NewRegistry()
	registry.Insert(&tracker.UnitRecord{Name: "web.service", ObjectPath: "/unit/web"})

	require.NoError(t, reconciler.ReconcileAll(context.Background(), registry))
	assert.False(t, store.Exists("/out/web.service.yml"))
}

func TestConsume_AppliesEventsInArrivalOrder(t *testing.T) {
	_, store, reconciler, record := newWebFixture(t)
	registry := tracker.NewRegistry()
	registry.Insert(record)

	jobs := make(chan systemd.JobEvent, 4)
	jobs <- systemd.JobEvent{UnitName: "web.service", Started: true}
	jobs <- systemd.JobEvent{UnitName: "unknown.service", Started: true}
	jobs <- systemd.JobEvent{UnitName: "web.service", Started: false}
	close(jobs)

	done := make(chan struct{})
	go func() {
		reconciler.Consume(context.Background(), jobs, registry)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not drain the channel")
	}
	assert.False(t, store.Exists("/etc/traefik/dynamic/units/web.service.yml"))
	assert.False(t, store.Exists("/etc/traefik/dynamic/units/unknown.service.yml"))
}

// Package systemdtest provides an in-memory systemd.Manager for
// deterministic tests: units are scripted, and the notification
// streams are driven by the test through Emit helpers.
package systemdtest

import (
	"context"
	"sync"

	"github.com/unit-tools/traefik-unit-provider/pkg/errors"
	"github.com/unit-tools/traefik-unit-provider/pkg/systemd"
)

// FakeManager implements systemd.Manager over scripted units.
type FakeManager struct {
	mu       sync.Mutex
	units    map[string]*FakeUnit // keyed by object path
	order    []string
	newUnits chan systemd.NewUnit

	ListErr      error
	LoadErr      error
	GetErr       error
	SubscribeErr error
}

func NewFakeManager() *FakeManager {
	return &FakeManager{
		units:    make(map[string]*FakeUnit),
		newUnits: make(chan systemd.NewUnit, 16),
	}
}

// AddUnit registers a unit without emitting a new-unit notification.
func (m *FakeManager) AddUnit(name, objectPath string) *FakeUnit {
	m.mu.Lock()
	defer m.mu.Unlock()
	unit := newFakeUnit(name)
	m.units[objectPath] = unit
	m.order = append(m.order, objectPath)
	return unit
}

// EmitNewUnit delivers a new-unit notification, registering the unit
// first unless it already exists.
func (m *FakeManager) EmitNewUnit(name, objectPath string) *FakeUnit {
	m.mu.Lock()
	unit, ok := m.units[objectPath]
	m.mu.Unlock()
	if !ok {
		unit = m.AddUnit(name, objectPath)
	}
	m.newUnits <- systemd.NewUnit{Name: name, ObjectPath: objectPath}
	return unit
}

// CloseNewUnits ends the new-unit stream.
func (m *FakeManager) CloseNewUnits() {
	close(m.newUnits)
}

func (m *FakeManager) ListUnits(ctx context.Context) ([]systemd.UnitStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	statuses := make([]systemd.UnitStatus, 0, len(m.order))
	for _, path := range m.order {
		statuses = append(statuses, systemd.UnitStatus{
			Name:       m.units[path].name,
			ObjectPath: path,
		})
	}
	return statuses, nil
}

func (m *FakeManager) LoadUnit(ctx context.Context, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.LoadErr != nil {
		return "", m.LoadErr
	}
	for _, path := range m.order {
		if m.units[path].name == name {
			return path, nil
		}
	}
	return "", errors.NewNotFoundError("unit not found", nil).WithContext("unit", name)
}

func (m *FakeManager) GetUnit(ctx context.Context, objectPath string) (systemd.Unit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	unit, ok := m.units[objectPath]
	if !ok {
		return nil, errors.NewNotFoundError("unit not found", nil).WithContext("object_path", objectPath)
	}
	return unit, nil
}

func (m *FakeManager) SubscribeNewUnits(ctx context.Context) (<-chan systemd.NewUnit, error) {
	if m.SubscribeErr != nil {
		return nil, m.SubscribeErr
	}
	return m.newUnits, nil
}

// FakeUnit implements systemd.Unit with scripted properties and a
// test-driven active-state stream.
type FakeUnit struct {
	mu       sync.Mutex
	name     string
	dropIns  []string
	fragment string
	state    string
	states   chan string

	DropInErr    error
	FragmentErr  error
	StateErr     error
	SubscribeErr error
}

func newFakeUnit(name string) *FakeUnit {
	return &FakeUnit{
		name:   name,
		state:  "inactive",
		states: make(chan string, 16),
	}
}

func (u *FakeUnit) SetDropInPaths(paths ...string) *FakeUnit {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.dropIns = paths
	return u
}

func (u *FakeUnit) SetFragmentPath(path string) *FakeUnit {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.fragment = path
	return u
}

// SetActiveState changes the queried state without emitting an event.
func (u *FakeUnit) SetActiveState(state string) *FakeUnit {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.state = state
	return u
}

// EmitActiveState changes the queried state and delivers a
// state-change event on the subscription stream.
func (u *FakeUnit) EmitActiveState(state string) {
	u.SetActiveState(state)
	u.states <- state
}

// CloseActiveStates ends the state-change stream.
func (u *FakeUnit) CloseActiveStates() {
	close(u.states)
}

func (u *FakeUnit) DropInPaths(ctx context.Context) ([]string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.DropInErr != nil {
		return nil, u.DropInErr
	}
	return append([]string(nil), u.dropIns...), nil
}

func (u *FakeUnit) FragmentPath(ctx context.Context) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.FragmentErr != nil {
		return "", u.FragmentErr
	}
	return u.fragment, nil
}

func (u *FakeUnit) ActiveState(ctx context.Context) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.StateErr != nil {
		return "", u.StateErr
	}
	return u.state, nil
}

func (u *FakeUnit) SubscribeActiveState(ctx context.Context) (<-chan string, error) {
	if u.SubscribeErr != nil {
		return nil, u.SubscribeErr
	}
	return u.states, nil
}

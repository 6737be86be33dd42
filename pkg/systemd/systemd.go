// Package systemd models the capability set this provider needs from
// the process supervisor: unit enumeration, unit handle resolution,
// and the two notification streams (new units, per-unit active-state
// changes). Two implementations exist: the D-Bus adapter in this
// package and the in-memory fake in systemdtest.
package systemd

import "context"

// UnitStatus is one row of a unit enumeration.
type UnitStatus struct {
	Name       string
	ObjectPath string
}

// NewUnit is a notification that the supervisor loaded a unit.
type NewUnit struct {
	Name       string
	ObjectPath string
}

// JobEvent is a detected started/stopped transition for a unit.
type JobEvent struct {
	UnitName string
	Started  bool
}

// Manager enumerates and resolves units. Any call may fail with a
// transport error; callers recover locally except SubscribeNewUnits,
// whose failure aborts the owning background task.
type Manager interface {
	ListUnits(ctx context.Context) ([]UnitStatus, error)
	LoadUnit(ctx context.Context, name string) (string, error)
	GetUnit(ctx context.Context, objectPath string) (Unit, error)
	SubscribeNewUnits(ctx context.Context) (<-chan NewUnit, error)
}

// Unit is a resolved unit handle.
type Unit interface {
	DropInPaths(ctx context.Context) ([]string, error)
	FragmentPath(ctx context.Context) (string, error)
	ActiveState(ctx context.Context) (string, error)
	SubscribeActiveState(ctx context.Context) (<-chan string, error)
}

// ActiveStateRunning is the supervisor state that counts as "started".
const ActiveStateRunning = "active"

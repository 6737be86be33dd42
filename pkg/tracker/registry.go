// Package tracker maintains the set of tracked units: discovery of
// units carrying proxy-routing labels, the shared registry, the
// live-unit watcher, and the event multiplexer that merges per-unit
// state-change streams into a single job-event sequence.
package tracker

import "sync"

// UnitRecord identifies one tracked unit. Records are immutable:
// created only by discovery, never mutated, never removed (a process
// restart is the only eviction path).
type UnitRecord struct {
	Name       string
	ObjectPath string
}

// Registry maps unit names to records. Writers only insert, so
// readers never observe a torn or regressed state.
type Registry struct {
	mutex sync.RWMutex
	units map[string]*UnitRecord
}

func NewRegistry() *Registry {
	return &Registry{
		units: make(map[string]*UnitRecord),
	}
}

// Insert adds a record and reports whether it was newly inserted. An
// already-present name is left untouched.
func (r *Registry) Insert(record *UnitRecord) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if _, exists := r.units[record.Name]; exists {
		return false
	}
	r.units[record.Name] = record
	return true
}

func (r *Registry) Get(name string) (*UnitRecord, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	record, ok := r.units[name]
	return record, ok
}

func (r *Registry) Contains(name string) bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	_, ok := r.units[name]
	return ok
}

func (r *Registry) Names() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	names := make([]string, 0, len(r.units))
	for name := range r.units {
		names = append(names, name)
	}
	return names
}

func (r *Registry) Len() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.units)
}

package systemd

import (
	"context"

	"github.com/godbus/dbus/v5"

	"github.com/unit-tools/traefik-unit-provider/pkg/errors"
	"github.com/unit-tools/traefik-unit-provider/pkg/logging"
)

const (
	busName           = "org.freedesktop.systemd1"
	managerPath       = "/org/freedesktop/systemd1"
	managerInterface  = "org.freedesktop.systemd1.Manager"
	unitInterface     = "org.freedesktop.systemd1.Unit"
	propertiesGet     = "org.freedesktop.DBus.Properties.Get"
	propertiesChanged = "org.freedesktop.DBus.Properties.PropertiesChanged"

	// Signal channels handed to godbus must be buffered; a stalled
	// reader would otherwise block the connection's dispatch loop.
	signalBuffer = 64
)

// DBusManager is the live Manager implementation over the system bus.
type DBusManager struct {
	conn   *dbus.Conn
	object dbus.BusObject
	logger logging.Logger
}

// NewDBusManager connects to the system bus and enables the
// supervisor's signal emission (UnitNew, PropertiesChanged).
func NewDBusManager(ctx context.Context, logger logging.Logger) (*DBusManager, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, errors.NewTransportError("failed to connect to system bus", err)
	}

	object := conn.Object(busName, dbus.ObjectPath(managerPath))

	// systemd only broadcasts unit signals to subscribed peers.
	if err := object.CallWithContext(ctx, managerInterface+".Subscribe", 0).Err; err != nil {
		conn.Close()
		return nil, errors.NewTransportError("failed to subscribe to manager signals", err)
	}

	return &DBusManager{
		conn:   conn,
		object: object,
		logger: logger,
	}, nil
}

// Close releases the bus connection.
func (m *DBusManager) Close() error {
	return m.conn.Close()
}

func (m *DBusManager) ListUnits(ctx context.Context) ([]UnitStatus, error) {
	var listed []struct {
		Name        string
		Description string
		LoadState   string
		ActiveState string
		SubState    string
		Followed    string
		Path        dbus.ObjectPath
		JobID       uint32
		JobType     string
		JobPath     dbus.ObjectPath
	}
	call := m.object.CallWithContext(ctx, managerInterface+".ListUnits", 0)
	if err := call.Store(&listed); err != nil {
		return nil, errors.NewTransportError("failed to list units", err)
	}

	units := make([]UnitStatus, 0, len(listed))
	for _, u := range listed {
		units = append(units, UnitStatus{
			Name:       u.Name,
			ObjectPath: string(u.Path),
		})
	}
	return units, nil
}

func (m *DBusManager) LoadUnit(ctx context.Context, name string) (string, error) {
	var path dbus.ObjectPath
	call := m.object.CallWithContext(ctx, managerInterface+".LoadUnit", 0, name)
	if err := call.Store(&path); err != nil {
		return "", errors.NewTransportError("failed to load unit", err).WithContext("unit", name)
	}
	return string(path), nil
}

func (m *DBusManager) GetUnit(ctx context.Context, objectPath string) (Unit, error) {
	if !dbus.ObjectPath(objectPath).IsValid() {
		return nil, errors.NewValidationError("invalid unit object path", nil).WithContext("object_path", objectPath)
	}
	return &dbusUnit{
		conn:   m.conn,
		object: m.conn.Object(busName, dbus.ObjectPath(objectPath)),
		path:   dbus.ObjectPath(objectPath),
		logger: m.logger,
	}, nil
}

func (m *DBusManager) SubscribeNewUnits(ctx context.Context) (<-chan NewUnit, error) {
	match := []dbus.MatchOption{
		dbus.WithMatchInterface(managerInterface),
		dbus.WithMatchMember("UnitNew"),
		dbus.WithMatchObjectPath(dbus.ObjectPath(managerPath)),
	}
	if err := m.conn.AddMatchSignal(match...); err != nil {
		return nil, errors.NewSubscriptionError("failed to match UnitNew signals", err)
	}

	signals := make(chan *dbus.Signal, signalBuffer)
	m.conn.Signal(signals)

	out := make(chan NewUnit)
	go func() {
		defer close(out)
		defer m.conn.RemoveSignal(signals)
		for {
			select {
			case <-ctx.Done():
				return
			case sig, ok := <-signals:
				if !ok {
					return
				}
				if sig.Name != managerInterface+".UnitNew" || len(sig.Body) < 2 {
					continue
				}
				name, nameOK := sig.Body[0].(string)
				path, pathOK := sig.Body[1].(dbus.ObjectPath)
				if !nameOK || !pathOK {
					m.logger.Warnf("Dropping malformed UnitNew signal: %v", sig.Body)
					continue
				}
				select {
				case out <- NewUnit{Name: name, ObjectPath: string(path)}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

type dbusUnit struct {
	conn   *dbus.Conn
	object dbus.BusObject
	path   dbus.ObjectPath
	logger logging.Logger
}

func (u *dbusUnit) property(ctx context.Context, name string, value interface{}) error {
	var variant dbus.Variant
	call := u.object.CallWithContext(ctx, propertiesGet, 0, unitInterface, name)
	if err := call.Store(&variant); err != nil {
		return errors.NewTransportError("failed to get unit property", err).
			WithContext("object_path", string(u.path)).
			WithContext("property", name)
	}
	if err := variant.Store(value); err != nil {
		return errors.NewTransportError("unexpected unit property shape", err).
			WithContext("object_path", string(u.path)).
			WithContext("property", name)
	}
	return nil
}

func (u *dbusUnit) DropInPaths(ctx context.Context) ([]string, error) {
	var paths []string
	if err := u.property(ctx, "DropInPaths", &paths); err != nil {
		return nil, err
	}
	return paths, nil
}

func (u *dbusUnit) FragmentPath(ctx context.Context) (string, error) {
	var path string
	if err := u.property(ctx, "FragmentPath", &path); err != nil {
		return "", err
	}
	return path, nil
}

func (u *dbusUnit) ActiveState(ctx context.Context) (string, error) {
	var state string
	if err := u.property(ctx, "ActiveState", &state); err != nil {
		return "", err
	}
	return state, nil
}

func (u *dbusUnit) SubscribeActiveState(ctx context.Context) (<-chan string, error) {
	match := []dbus.MatchOption{
		dbus.WithMatchObjectPath(u.path),
		dbus.WithMatchInterface("org.freedesktop.DBus.Properties"),
		dbus.WithMatchMember("PropertiesChanged"),
	}
	if err := u.conn.AddMatchSignal(match...); err != nil {
		return nil, errors.NewSubscriptionError("failed to match PropertiesChanged signals", err).
			WithContext("object_path", string(u.path))
	}

	signals := make(chan *dbus.Signal, signalBuffer)
	u.conn.Signal(signals)

	out := make(chan string)
	go func() {
		defer close(out)
		defer u.conn.RemoveSignal(signals)
		for {
			select {
			case <-ctx.Done():
				return
			case sig, ok := <-signals:
				if !ok {
					return
				}
				state, ok := activeStateFromSignal(sig, u.path)
				if !ok {
					continue
				}
				select {
				case out <- state:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// activeStateFromSignal extracts ActiveState from a PropertiesChanged
// signal for the given unit path, if present.
func activeStateFromSignal(sig *dbus.Signal, path dbus.ObjectPath) (string, bool) {
	if sig.Path != path || sig.Name != propertiesChanged || len(sig.Body) < 2 {
		return "", false
	}
	iface, ok := sig.Body[0].(string)
	if !ok || iface != unitInterface {
		return "", false
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return "", false
	}
	variant, ok := changed["ActiveState"]
	if !ok {
		return "", false
	}
	state, ok := variant.Value().(string)
	return state, ok
}

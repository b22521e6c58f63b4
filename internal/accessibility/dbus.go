package accessibility

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/jimfengnpu/everywhere/internal/element"
	"github.com/jimfengnpu/everywhere/internal/logger"
)

// AT-SPI D-Bus constants
const (
	a11yBusService   = "org.a11y.Bus"
	a11yBusPath      = "/org/a11y/bus"
	a11yBusInterface = "org.a11y.Bus"

	registryService   = "org.a11y.atspi.Registry"
	registryPath      = "/org/a11y/atspi/registry"
	registryInterface = "org.a11y.atspi.Registry"
	desktopPath       = "/org/a11y/atspi/accessible/root"
	nullPath          = "/org/a11y/atspi/null"

	accessibleInterface = "org.a11y.atspi.Accessible"
	componentInterface  = "org.a11y.atspi.Component"
	objectEvents        = "org.a11y.atspi.Event.Object"

	coordTypeScreen = uint32(0)
)

// DBusClient talks AT-SPI2 over the accessibility bus.
type DBusClient struct {
	conn    *dbus.Conn
	timeout time.Duration

	mu   sync.Mutex
	pids map[string]int
}

var _ Client = (*DBusClient)(nil)

// Connect asks the session bus for the accessibility bus address and
// connects to it.
func Connect(timeout time.Duration) (*DBusClient, error) {
	log := logger.WithComponent("accessibility")

	session, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("%w: connect session bus: %v", ErrUnavailable, err)
	}
	defer session.Close()

	var addr string
	if err := session.Object(a11yBusService, a11yBusPath).
		Call(a11yBusInterface+".GetAddress", 0).Store(&addr); err != nil {
		return nil, fmt.Errorf("%w: get bus address: %v", ErrUnavailable, err)
	}

	conn, err := dbus.Connect(addr)
	if err != nil {
		return nil, fmt.Errorf("%w: connect %s: %v", ErrUnavailable, addr, err)
	}
	if timeout <= 0 {
		timeout = time.Second
	}
	log.Info().Str("address", addr).Msg("Connected to accessibility bus")
	return &DBusClient{conn: conn, timeout: timeout, pids: make(map[string]int)}, nil
}

func (c *DBusClient) call(ctx context.Context, r Ref, method string, args ...any) *dbus.Call {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.conn.Object(r.Bus, r.Path).CallWithContext(ctx, method, 0, args...)
}

func (c *DBusClient) property(ctx context.Context, r Ref, name string, v any) error {
	call := c.call(ctx, r, "org.freedesktop.DBus.Properties.Get", accessibleInterface, name)
	if call.Err != nil {
		return call.Err
	}
	var variant dbus.Variant
	if err := call.Store(&variant); err != nil {
		return err
	}
	return variant.Store(v)
}

// Desktop implements Client.
func (c *DBusClient) Desktop() Ref { return Ref{Bus: registryService, Path: desktopPath} }

// Children implements Client.
func (c *DBusClient) Children(ctx context.Context, r Ref) ([]Ref, error) {
	var refs []Ref
	if err := c.call(ctx, r, accessibleInterface+".GetChildren").Store(&refs); err != nil {
		return nil, fmt.Errorf("get children of %s%s: %w", r.Bus, r.Path, err)
	}
	return refs, nil
}

// Parent implements Client.
func (c *DBusClient) Parent(ctx context.Context, r Ref) (Ref, error) {
	var parent Ref
	if err := c.property(ctx, r, "Parent", &parent); err != nil {
		return Ref{}, fmt.Errorf("get parent of %s%s: %w", r.Bus, r.Path, err)
	}
	return parent, nil
}

// Role implements Client.
func (c *DBusClient) Role(ctx context.Context, r Ref) (Role, error) {
	var role uint32
	if err := c.call(ctx, r, accessibleInterface+".GetRole").Store(&role); err != nil {
		return RoleInvalid, err
	}
	return Role(role), nil
}

// States implements Client.
func (c *DBusClient) States(ctx context.Context, r Ref) (StateSet, error) {
	var words []uint32
	if err := c.call(ctx, r, accessibleInterface+".GetState").Store(&words); err != nil {
		return 0, err
	}
	return StateSetFromWords(words), nil
}

// Name implements Client.
func (c *DBusClient) Name(ctx context.Context, r Ref) (string, error) {
	var name string
	if err := c.property(ctx, r, "Name", &name); err != nil {
		return "", err
	}
	return name, nil
}

// Interfaces implements Client.
func (c *DBusClient) Interfaces(ctx context.Context, r Ref) ([]string, error) {
	var ifaces []string
	if err := c.call(ctx, r, accessibleInterface+".GetInterfaces").Store(&ifaces); err != nil {
		return nil, err
	}
	return ifaces, nil
}

// Extents implements Client.
func (c *DBusClient) Extents(ctx context.Context, r Ref) (element.Rect, error) {
	var x, y, w, h int32
	if err := c.call(ctx, r, componentInterface+".GetExtents", coordTypeScreen).Store(&x, &y, &w, &h); err != nil {
		return element.Rect{}, err
	}
	return element.Rect{X: int(x), Y: int(y), Width: int(w), Height: int(h)}, nil
}

// Layer implements Client.
func (c *DBusClient) Layer(ctx context.Context, r Ref) (Layer, error) {
	var layer uint32
	if err := c.call(ctx, r, componentInterface+".GetLayer").Store(&layer); err != nil {
		return LayerInvalid, err
	}
	return Layer(layer), nil
}

// MDIZOrder implements Client.
func (c *DBusClient) MDIZOrder(ctx context.Context, r Ref) (int, error) {
	var z int16
	if err := c.call(ctx, r, componentInterface+".GetMDIZOrder").Store(&z); err != nil {
		return 0, err
	}
	return int(z), nil
}

// ProcessID implements Client. Results are cached per bus name.
func (c *DBusClient) ProcessID(ctx context.Context, bus string) (int, error) {
	c.mu.Lock()
	pid, ok := c.pids[bus]
	c.mu.Unlock()
	if ok {
		return pid, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	var raw uint32
	if err := c.conn.BusObject().CallWithContext(ctx, "org.freedesktop.DBus.GetConnectionUnixProcessID", 0, bus).Store(&raw); err != nil {
		return 0, fmt.Errorf("get pid of %s: %w", bus, err)
	}

	c.mu.Lock()
	c.pids[bus] = int(raw)
	c.mu.Unlock()
	return int(raw), nil
}

// FocusEvents implements Client. It registers for focus state changes with
// the registry and forwards every object that gains focus.
func (c *DBusClient) FocusEvents(ctx context.Context) (<-chan Ref, error) {
	log := logger.WithComponent("accessibility")

	registry := c.conn.Object(registryService, registryPath)
	if call := registry.CallWithContext(ctx, registryInterface+".RegisterEvent", 0, "object:state-changed:focused"); call.Err != nil {
		log.Warn().Err(call.Err).Msg("Failed to register focus events with the registry")
	}
	if err := c.conn.AddMatchSignal(
		dbus.WithMatchInterface(objectEvents),
		dbus.WithMatchMember("StateChanged"),
	); err != nil {
		return nil, fmt.Errorf("subscribe to StateChanged: %w", err)
	}

	signals := make(chan *dbus.Signal, 64)
	c.conn.Signal(signals)

	out := make(chan Ref, 16)
	go func() {
		defer close(out)
		defer c.conn.RemoveSignal(signals)
		for {
			select {
			case <-ctx.Done():
				return
			case sig, ok := <-signals:
				if !ok {
					return
				}
				ref, ok := focusedRef(sig)
				if !ok {
					continue
				}
				select {
				case out <- ref:
				default:
					log.Debug().Str("path", string(ref.Path)).Msg("Focus event dropped, listener busy")
				}
			}
		}
	}()
	return out, nil
}

// focusedRef extracts the object from a "focused" StateChanged signal with
// detail1 == 1.
func focusedRef(sig *dbus.Signal) (Ref, bool) {
	if sig == nil || sig.Name != objectEvents+".StateChanged" || len(sig.Body) < 2 {
		return Ref{}, false
	}
	detail, _ := sig.Body[0].(string)
	gained, _ := sig.Body[1].(int32)
	if detail != "focused" || gained != 1 {
		return Ref{}, false
	}
	return Ref{Bus: sig.Sender, Path: sig.Path}, true
}

// Close implements Client.
func (c *DBusClient) Close() error {
	return c.conn.Close()
}

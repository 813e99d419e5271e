package host

import "fmt"

const registryBindOpcode = 0

const (
	registryGlobalEvent       = 0
	registryGlobalRemoveEvent = 1
)

// Global is one advertised registry entry.
type Global struct {
	Name      uint32
	Interface string
	Version   uint32
}

// Registry wraps wl_registry and records every advertised global.
type Registry struct {
	BaseProxy
	globals map[uint32]Global

	// OnGlobal and OnGlobalRemove fire for announcements arriving after the
	// initial roundtrip, such as outputs being plugged.
	OnGlobal       func(g Global)
	OnGlobalRemove func(name uint32)
}

// NewRegistry allocates the registry object; the display sends the
// get_registry request.
func NewRegistry(d *Display) *Registry {
	r := &Registry{globals: make(map[uint32]Global)}
	r.attach(d)
	d.Register(r)
	return r
}

// Dispatch handles wl_registry events.
func (r *Registry) Dispatch(ev *Event) {
	switch ev.Opcode {
	case registryGlobalEvent:
		g := Global{
			Name:      ev.Uint32(),
			Interface: ev.String(),
			Version:   ev.Uint32(),
		}
		if ev.Err() != nil {
			return
		}
		r.globals[g.Name] = g
		if r.OnGlobal != nil {
			r.OnGlobal(g)
		}
	case registryGlobalRemoveEvent:
		name := ev.Uint32()
		delete(r.globals, name)
		if r.OnGlobalRemove != nil {
			r.OnGlobalRemove(name)
		}
	}
}

// Find returns the advertised global for an interface name.
func (r *Registry) Find(iface string) (Global, bool) {
	for _, g := range r.globals {
		if g.Interface == iface {
			return g, true
		}
	}
	return Global{}, false
}

// Bind binds p to the global, capping the bound version at what the
// compositor advertised.
func (r *Registry) Bind(g Global, p Proxy, version uint32) error {
	if version > g.Version {
		version = g.Version
	}
	r.Display().Register(p)
	return r.Display().SendRequest(r, registryBindOpcode,
		g.Name, g.Interface, version, p.ID())
}

// BindInterface looks the interface up and binds it, erroring when the
// compositor does not offer it.
func (r *Registry) BindInterface(iface string, p Proxy, version uint32) error {
	g, ok := r.Find(iface)
	if !ok {
		return fmt.Errorf("compositor does not advertise %s", iface)
	}
	return r.Bind(g, p, version)
}

package guest

import (
	"fmt"

	"github.com/bnema/waybridge/internal/wire"
)

const (
	reqDisplaySync        = 0
	reqDisplayGetRegistry = 1
)

const (
	reqRegistryBind        = 0
	evRegistryGlobal       = 0
	evRegistryGlobalRemove = 1
)

const evCallbackDone = 0

// displayObject is wl_display, always object 1.
type displayObject struct{}

func (displayObject) Request(c *Client, opcode uint16, r *wire.Reader) error {
	switch opcode {
	case reqDisplaySync:
		id := r.Uint32()
		if err := r.Err(); err != nil {
			return err
		}
		// The done event flushes after everything queued before it, which
		// is all a sync promises. The callback dies immediately.
		c.send(wire.NewMessage(id, evCallbackDone).PutUint32(c.server.NextSerial()))
		c.send(wire.NewMessage(1, evDisplayDeleteID).PutUint32(id))
	case reqDisplayGetRegistry:
		id := r.Uint32()
		if err := r.Err(); err != nil {
			return err
		}
		if !c.register(id, &registryObject{id: id}) {
			return nil
		}
		c.registries = append(c.registries, id)
		for _, g := range c.server.globals {
			c.send(wire.NewMessage(id, evRegistryGlobal).
				PutUint32(g.name).PutString(g.iface).PutUint32(g.version))
		}
	default:
		return fmt.Errorf("wl_display request %d not handled", opcode)
	}
	return nil
}

type registryObject struct {
	id uint32
}

func (o *registryObject) Request(c *Client, opcode uint16, r *wire.Reader) error {
	if opcode != reqRegistryBind {
		return fmt.Errorf("wl_registry request %d not handled", opcode)
	}
	name := r.Uint32()
	iface := r.String()
	version := r.Uint32()
	id := r.Uint32()
	if err := r.Err(); err != nil {
		return err
	}
	g := c.server.findGlobal(name)
	if g == nil || g.iface != iface {
		c.PostError(o.id, errInvalidObject, fmt.Sprintf("no global %d of interface %s", name, iface))
		return nil
	}
	if version > g.version {
		c.PostError(o.id, errInvalidMethod,
			fmt.Sprintf("%s version %d exceeds advertised %d", iface, version, g.version))
		return nil
	}
	g.bind(c, id, version)
	return nil
}

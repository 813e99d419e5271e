package guest

import (
	"fmt"

	"github.com/bnema/waybridge/internal/wire"
)

const (
	reqSeatGetPointer  = 0
	reqSeatGetKeyboard = 1
	reqSeatGetTouch    = 2
	reqSeatRelease     = 3

	evSeatCapabilities = 0
	evSeatName         = 1
)

// The seat is advertised without capabilities: input goes straight from
// the host to the guest's windows through the host compositor and
// Xwayland never sees a reason to grab devices here. Clients that ask for
// devices anyway get inert stubs.
func bindSeat(c *Client, id, version uint32) {
	o := &seatObject{id: id}
	if !c.register(id, o) {
		return
	}
	c.send(wire.NewMessage(id, evSeatCapabilities).PutUint32(0))
	if version >= 2 {
		c.send(wire.NewMessage(id, evSeatName).PutString("default"))
	}
}

type seatObject struct {
	id uint32
}

func (o *seatObject) Request(c *Client, opcode uint16, r *wire.Reader) error {
	switch opcode {
	case reqSeatGetPointer, reqSeatGetKeyboard, reqSeatGetTouch:
		id := r.Uint32()
		if err := r.Err(); err != nil {
			return err
		}
		c.register(id, &inertDevice{id: id, kind: opcode})
	case reqSeatRelease:
		c.deleteID(o.id)
	default:
		return fmt.Errorf("wl_seat request %d not handled", opcode)
	}
	return nil
}

// inertDevice stands in for wl_pointer, wl_keyboard and wl_touch. It emits
// nothing and only honors release.
type inertDevice struct {
	id   uint32
	kind uint16
}

func (o *inertDevice) Request(c *Client, opcode uint16, r *wire.Reader) error {
	// wl_pointer.release is opcode 1 behind set_cursor; the others put
	// release first.
	release := uint16(0)
	if o.kind == reqSeatGetPointer {
		release = 1
	}
	if opcode == release {
		c.deleteID(o.id)
		return nil
	}
	return r.Err()
}

package guest

import (
	"fmt"

	"github.com/bnema/waybridge/internal/surface"
	"github.com/bnema/waybridge/internal/transform"
	"github.com/bnema/waybridge/internal/wire"
)

const (
	reqCompositorCreateSurface = 0
	reqCompositorCreateRegion  = 1
)

const (
	reqSurfaceDestroy            = 0
	reqSurfaceAttach             = 1
	reqSurfaceDamage             = 2
	reqSurfaceFrame              = 3
	reqSurfaceSetOpaqueRegion    = 4
	reqSurfaceSetInputRegion     = 5
	reqSurfaceCommit             = 6
	reqSurfaceSetBufferTransform = 7
	reqSurfaceSetBufferScale     = 8
	reqSurfaceDamageBuffer       = 9

	evSurfaceEnter = 0
	evSurfaceLeave = 1
)

const (
	reqRegionDestroy  = 0
	reqRegionAdd      = 1
	reqRegionSubtract = 2
)

func bindCompositor(c *Client, id, version uint32) {
	c.register(id, &compositorObject{})
}

type compositorObject struct{}

func (compositorObject) Request(c *Client, opcode uint16, r *wire.Reader) error {
	switch opcode {
	case reqCompositorCreateSurface:
		id := r.Uint32()
		if err := r.Err(); err != nil {
			return err
		}
		pipe, err := c.server.pipe.CreateSurface(c.server.nextSurfaceKey())
		if err != nil {
			return fmt.Errorf("host surface: %w", err)
		}
		so := &surfaceObject{id: id, pipe: pipe}
		if !c.register(id, so) {
			pipe.Destroy()
			return nil
		}
		c.surfaces[id] = so
		if c.server.OnSurface != nil {
			c.server.OnSurface(c, id, pipe)
		}
	case reqCompositorCreateRegion:
		id := r.Uint32()
		if err := r.Err(); err != nil {
			return err
		}
		c.register(id, &regionObject{id: id})
	default:
		return fmt.Errorf("wl_compositor request %d not handled", opcode)
	}
	return nil
}

// surfaceObject routes wl_surface requests into the pipeline.
type surfaceObject struct {
	id   uint32
	pipe *surface.Surface
}

func (o *surfaceObject) Request(c *Client, opcode uint16, r *wire.Reader) error {
	switch opcode {
	case reqSurfaceDestroy:
		o.pipe.Destroy()
		delete(c.surfaces, o.id)
		c.deleteID(o.id)
		if c.server.OnSurfaceDestroy != nil {
			c.server.OnSurfaceDestroy(c, o.id)
		}
	case reqSurfaceAttach:
		bufID := r.Uint32()
		r.Int32() // dx, always 0 from Xwayland
		r.Int32() // dy
		if err := r.Err(); err != nil {
			return err
		}
		if bufID == 0 {
			o.pipe.Attach(nil)
			return nil
		}
		buf, ok := c.objects[bufID].(*bufferObject)
		if !ok {
			c.PostError(o.id, errInvalidObject, fmt.Sprintf("attach of non-buffer object %d", bufID))
			return nil
		}
		o.pipe.Attach(buf.guestBuffer(c))
	case reqSurfaceDamage:
		rect := readRect(r)
		if err := r.Err(); err != nil {
			return err
		}
		o.pipe.Damage(rect)
	case reqSurfaceFrame:
		cbID := r.Uint32()
		if err := r.Err(); err != nil {
			return err
		}
		o.pipe.Frame(func(serial uint32) {
			c.send(wire.NewMessage(cbID, evCallbackDone).PutUint32(serial))
			c.send(wire.NewMessage(1, evDisplayDeleteID).PutUint32(cbID))
		})
	case reqSurfaceSetOpaqueRegion, reqSurfaceSetInputRegion:
		// Regions only matter to a compositor doing its own input routing
		// or occlusion culling; the host redoes both.
		r.Uint32()
		return r.Err()
	case reqSurfaceCommit:
		if err := o.pipe.Commit(); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
	case reqSurfaceSetBufferTransform:
		if t := r.Int32(); t != 0 {
			c.server.log.Debug("ignoring buffer transform", "surface", o.id, "transform", t)
		}
		return r.Err()
	case reqSurfaceSetBufferScale:
		scale := r.Int32()
		if err := r.Err(); err != nil {
			return err
		}
		o.pipe.SetBufferScale(scale)
	case reqSurfaceDamageBuffer:
		rect := readRect(r)
		if err := r.Err(); err != nil {
			return err
		}
		o.pipe.DamageBuffer(rect)
	default:
		return fmt.Errorf("wl_surface request %d not handled", opcode)
	}
	return nil
}

func (o *surfaceObject) release(c *Client) {
	o.pipe.Destroy()
	if c.server.OnSurfaceDestroy != nil {
		c.server.OnSurfaceDestroy(c, o.id)
	}
}

func readRect(r *wire.Reader) transform.Rect {
	return transform.Rect{
		X:      r.Int32(),
		Y:      r.Int32(),
		Width:  r.Int32(),
		Height: r.Int32(),
	}
}

// regionObject accepts region arithmetic and discards it.
type regionObject struct {
	id uint32
}

func (o *regionObject) Request(c *Client, opcode uint16, r *wire.Reader) error {
	switch opcode {
	case reqRegionDestroy:
		c.deleteID(o.id)
	case reqRegionAdd, reqRegionSubtract:
		readRect(r)
		return r.Err()
	default:
		return fmt.Errorf("wl_region request %d not handled", opcode)
	}
	return nil
}

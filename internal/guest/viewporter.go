package guest

import (
	"fmt"

	"github.com/bnema/waybridge/internal/surface"
	"github.com/bnema/waybridge/internal/wire"
)

const (
	reqViewporterDestroy     = 0
	reqViewporterGetViewport = 1
)

const (
	reqViewportDestroy        = 0
	reqViewportSetSource      = 1
	reqViewportSetDestination = 2
)

func bindViewporter(c *Client, id, version uint32) {
	c.register(id, &viewporterObject{id: id})
}

type viewporterObject struct {
	id uint32
}

func (o *viewporterObject) Request(c *Client, opcode uint16, r *wire.Reader) error {
	switch opcode {
	case reqViewporterDestroy:
		c.deleteID(o.id)
	case reqViewporterGetViewport:
		id := r.Uint32()
		surfaceID := r.Uint32()
		if err := r.Err(); err != nil {
			return err
		}
		so, ok := c.objects[surfaceID].(*surfaceObject)
		if !ok {
			c.PostError(o.id, errInvalidObject,
				fmt.Sprintf("viewport for non-surface object %d", surfaceID))
			return nil
		}
		c.register(id, &viewportObject{id: id, pipe: so.pipe})
	default:
		return fmt.Errorf("wp_viewporter request %d not handled", opcode)
	}
	return nil
}

type viewportObject struct {
	id   uint32
	pipe *surface.Surface
}

func (o *viewportObject) Request(c *Client, opcode uint16, r *wire.Reader) error {
	switch opcode {
	case reqViewportDestroy:
		// Destruction removes the override at the next commit.
		o.pipe.SetViewportSource(0, 0, -1, -1)
		o.pipe.SetViewportDestination(0, 0)
		c.deleteID(o.id)
	case reqViewportSetSource:
		x := r.Fixed()
		y := r.Fixed()
		w := r.Fixed()
		h := r.Fixed()
		if err := r.Err(); err != nil {
			return err
		}
		o.pipe.SetViewportSource(x, y, w, h)
	case reqViewportSetDestination:
		w := r.Int32()
		h := r.Int32()
		if err := r.Err(); err != nil {
			return err
		}
		o.pipe.SetViewportDestination(w, h)
	default:
		return fmt.Errorf("wp_viewport request %d not handled", opcode)
	}
	return nil
}

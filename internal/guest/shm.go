package guest

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/bnema/waybridge/internal/shm"
	"github.com/bnema/waybridge/internal/surface"
	"github.com/bnema/waybridge/internal/wire"
)

const (
	reqShmCreatePool = 0
	evShmFormat      = 0
)

// wl_shm error codes.
const (
	shmErrInvalidFormat = 0
	shmErrInvalidStride = 1
	shmErrInvalidFd     = 2
)

const (
	reqPoolCreateBuffer = 0
	reqPoolDestroy      = 1
	reqPoolResize       = 2
)

const (
	reqBufferDestroy = 0
	evBufferRelease  = 0
)

func bindShm(c *Client, id, version uint32) {
	o := &shmObject{id: id}
	if !c.register(id, o) {
		return
	}
	for _, f := range c.server.formats {
		c.send(wire.NewMessage(id, evShmFormat).PutUint32(f))
	}
}

type shmObject struct {
	id uint32
}

func (o *shmObject) Request(c *Client, opcode uint16, r *wire.Reader) error {
	if opcode != reqShmCreatePool {
		return fmt.Errorf("wl_shm request %d not handled", opcode)
	}
	id := r.Uint32()
	fd := r.Fd()
	size := r.Int32()
	if err := r.Err(); err != nil {
		return err
	}
	if size <= 0 {
		unix.Close(fd)
		c.PostError(o.id, shmErrInvalidStride, fmt.Sprintf("pool size %d", size))
		return nil
	}
	region, err := shm.Map(fd, int(size))
	if err != nil {
		unix.Close(fd)
		c.PostError(o.id, shmErrInvalidFd, fmt.Sprintf("mmap pool: %v", err))
		return nil
	}
	if !c.register(id, &poolObject{id: id, region: region}) {
		region.Unref()
	}
	return nil
}

// poolObject is a wl_shm_pool: one mapped region that buffers carve
// windows out of. Each live buffer holds a reference to the mapping it was
// created against, so resizing can swap in a bigger mapping without
// yanking memory from under older buffers.
type poolObject struct {
	id     uint32
	region *shm.Region
}

func (o *poolObject) Request(c *Client, opcode uint16, r *wire.Reader) error {
	switch opcode {
	case reqPoolCreateBuffer:
		id := r.Uint32()
		offset := r.Int32()
		width := r.Int32()
		height := r.Int32()
		stride := r.Int32()
		format := r.Uint32()
		if err := r.Err(); err != nil {
			return err
		}
		f := shm.Format(format)
		if !f.Supported() {
			c.PostError(o.id, shmErrInvalidFormat, fmt.Sprintf("format %#x", format))
			return nil
		}
		if width <= 0 || height <= 0 || stride < f.Stride(0, width) {
			c.PostError(o.id, shmErrInvalidStride,
				fmt.Sprintf("buffer %dx%d stride %d", width, height, stride))
			return nil
		}
		end := int(offset) + int(stride)*int(height)
		if offset < 0 || end > o.region.Size() {
			c.PostError(o.id, shmErrInvalidStride,
				fmt.Sprintf("buffer extends to %d beyond pool of %d", end, o.region.Size()))
			return nil
		}
		buf := &bufferObject{
			id:     id,
			region: o.region.Ref(),
			offset: offset,
			width:  width,
			height: height,
			stride: stride,
			format: f,
		}
		if !c.register(id, buf) {
			buf.region.Unref()
		}
	case reqPoolDestroy:
		o.region.Unref()
		o.region = nil
		c.deleteID(o.id)
	case reqPoolResize:
		size := r.Int32()
		if err := r.Err(); err != nil {
			return err
		}
		if int(size) <= o.region.Size() {
			return nil
		}
		dup, err := unix.Dup(o.region.Fd())
		if err != nil {
			return fmt.Errorf("dup pool fd: %w", err)
		}
		grown, err := shm.Map(dup, int(size))
		if err != nil {
			unix.Close(dup)
			return fmt.Errorf("grow pool to %d: %w", size, err)
		}
		o.region.Unref()
		o.region = grown
	default:
		return fmt.Errorf("wl_shm_pool request %d not handled", opcode)
	}
	return nil
}

func (o *poolObject) release(c *Client) {
	if o.region != nil {
		o.region.Unref()
		o.region = nil
	}
}

// bufferObject is a wl_buffer carved from a pool mapping.
type bufferObject struct {
	id     uint32
	region *shm.Region
	offset int32
	width  int32
	height int32
	stride int32
	format shm.Format
	dead   bool
}

func (o *bufferObject) Request(c *Client, opcode uint16, r *wire.Reader) error {
	if opcode != reqBufferDestroy {
		return fmt.Errorf("wl_buffer request %d not handled", opcode)
	}
	o.drop()
	c.deleteID(o.id)
	return nil
}

func (o *bufferObject) release(c *Client) {
	o.drop()
}

func (o *bufferObject) drop() {
	if o.dead {
		return
	}
	o.dead = true
	o.region.Unref()
}

// guestBuffer hands the pipeline everything it needs to read the contents
// and to signal release. The release event is suppressed once the buffer
// object or its client died.
func (o *bufferObject) guestBuffer(c *Client) *surface.GuestBuffer {
	return &surface.GuestBuffer{
		Region: o.region,
		Offset: o.offset,
		Width:  o.width,
		Height: o.height,
		Stride: o.stride,
		Format: o.format,
		Release: func() {
			if o.dead || c.closed {
				return
			}
			c.send(wire.NewMessage(o.id, evBufferRelease))
		},
	}
}

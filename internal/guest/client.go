package guest

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/bnema/waybridge/internal/wire"
)

// wl_display error codes.
const (
	errInvalidObject  = 0
	errInvalidMethod  = 1
	errNoMemory       = 2
	errImplementation = 3
)

const (
	evDisplayError    = 0
	evDisplayDeleteID = 1
)

// Client is one guest connection. Its object table and all request
// handling live on the dispatch loop; only the read loop runs elsewhere.
type Client struct {
	server *Server
	conn   *wire.Conn

	objects    map[uint32]Object
	surfaces   map[uint32]*surfaceObject
	registries []uint32
	closed     bool
}

func newClient(s *Server, conn *wire.Conn) *Client {
	c := &Client{
		server:   s,
		conn:     conn,
		objects:  make(map[uint32]Object),
		surfaces: make(map[uint32]*surfaceObject),
	}
	c.objects[1] = displayObject{}
	return c
}

func (c *Client) readLoop() {
	for {
		hdr, body, fds, err := c.conn.ReadRaw()
		if err != nil {
			c.server.loop.Post(c.teardown)
			return
		}
		c.server.loop.Post(func() {
			c.handle(hdr, body, fds)
		})
	}
}

func (c *Client) handle(hdr wire.Header, body []byte, fds []int) {
	if c.closed {
		closeAll(fds)
		return
	}
	obj, ok := c.objects[hdr.Object]
	if !ok {
		closeAll(fds)
		c.PostError(hdr.Object, errInvalidObject, fmt.Sprintf("unknown object %d", hdr.Object))
		return
	}
	queue := fds
	r := wire.NewReader(body, func() (int, bool) {
		if len(queue) == 0 {
			return -1, false
		}
		fd := queue[0]
		queue = queue[1:]
		return fd, true
	})
	err := obj.Request(c, hdr.Opcode, r)
	closeAll(queue)
	if err != nil {
		c.PostError(hdr.Object, errImplementation, err.Error())
	}
}

// register installs a client-allocated object id. Reusing a live id is a
// protocol violation.
func (c *Client) register(id uint32, obj Object) bool {
	if _, taken := c.objects[id]; taken {
		c.PostError(id, errInvalidObject, fmt.Sprintf("object id %d already in use", id))
		return false
	}
	c.objects[id] = obj
	return true
}

// send writes one event, tearing the client down on failure.
func (c *Client) send(m *wire.Message) {
	if c.closed {
		return
	}
	if err := c.conn.WriteMessage(m); err != nil {
		c.server.log.Debug("guest write failed", "error", err)
		c.teardown()
	}
}

// deleteID retires an object id and tells the client it may reuse it.
func (c *Client) deleteID(id uint32) {
	delete(c.objects, id)
	c.send(wire.NewMessage(1, evDisplayDeleteID).PutUint32(id))
}

// PostError sends a fatal protocol error naming the offending object, then
// disconnects the client.
func (c *Client) PostError(objectID uint32, code uint32, msg string) {
	if c.closed {
		return
	}
	c.server.log.Warn("guest protocol error", "object", objectID, "code", code, "message", msg)
	c.send(wire.NewMessage(1, evDisplayError).PutUint32(objectID).PutUint32(code).PutString(msg))
	c.teardown()
}

func (c *Client) announceGlobal(g *globalEntry) {
	for _, reg := range c.registries {
		c.send(wire.NewMessage(reg, evRegistryGlobal).
			PutUint32(g.name).PutString(g.iface).PutUint32(g.version))
	}
}

func (c *Client) retractGlobal(g *globalEntry) {
	for _, reg := range c.registries {
		c.send(wire.NewMessage(reg, evRegistryGlobalRemove).PutUint32(g.name))
	}
}

// teardown releases everything the client owns. Safe to call twice; the
// read loop and write failures both funnel here.
func (c *Client) teardown() {
	if c.closed {
		return
	}
	c.closed = true
	for _, obj := range c.objects {
		if res, ok := obj.(resource); ok {
			res.release(c)
		}
	}
	c.objects = nil
	c.surfaces = nil
	c.conn.Close()
	delete(c.server.clients, c)
	c.server.log.Debug("guest client disconnected")
	if c.server.OnDisconnect != nil {
		c.server.OnDisconnect(c)
	}
}

func closeAll(fds []int) {
	for _, fd := range fds {
		unix.Close(fd)
	}
}

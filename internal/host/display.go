// Package host is the gateway's client connection to the host compositor.
// It carries the display/registry machinery and a hand-written wrapper per
// protocol interface; window, surface and selection logic layers on top.
package host

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/bnema/waybridge/internal/logger"
	"github.com/bnema/waybridge/internal/wire"
)

// Proxy is implemented by every host-side protocol object.
type Proxy interface {
	ID() uint32
	SetID(id uint32)
	Dispatch(ev *Event)
}

// BaseProxy provides the identity plumbing protocol wrappers embed.
type BaseProxy struct {
	id      uint32
	display *Display
}

// ID returns the object ID
func (b *BaseProxy) ID() uint32 {
	return b.id
}

// SetID sets the object ID
func (b *BaseProxy) SetID(id uint32) {
	b.id = id
}

// Display returns the owning display connection.
func (b *BaseProxy) Display() *Display {
	return b.display
}

func (b *BaseProxy) attach(d *Display) {
	b.display = d
}

// FD marks a request argument as a file descriptor to pass out of band.
type FD int

// Event is one decoded host event, detached from the connection's read
// buffer so it can cross into the dispatch loop.
type Event struct {
	Object uint32
	Opcode uint16
	r      *wire.Reader
}

func newEvent(h wire.Header, body []byte, fds []int) *Event {
	pop := func() (int, bool) {
		if len(fds) == 0 {
			return -1, false
		}
		fd := fds[0]
		fds = fds[1:]
		return fd, true
	}
	return &Event{Object: h.Object, Opcode: h.Opcode, r: wire.NewReader(body, pop)}
}

// Uint32 reads the next event argument.
func (e *Event) Uint32() uint32 { return e.r.Uint32() }

// Int32 reads the next event argument.
func (e *Event) Int32() int32 { return e.r.Int32() }

// Fixed reads the next 24.8 fixed-point argument.
func (e *Event) Fixed() float64 { return e.r.Fixed() }

// String reads the next string argument.
func (e *Event) String() string { return e.r.String() }

// Array reads the next array argument.
func (e *Event) Array() []byte { return e.r.Array() }

// Fd takes the next file descriptor attached to this event.
func (e *Event) Fd() int { return e.r.Fd() }

// Err reports whether any argument failed to decode.
func (e *Event) Err() error { return e.r.Err() }

// Display is the wl_display connection: object table, ID allocation and the
// request/event plumbing every wrapper uses.
type Display struct {
	BaseProxy
	conn    *wire.Conn
	objects map[uint32]Proxy
	nextID  uint32

	// OnDisconnect fires on the dispatch loop when the host connection
	// drops or errors. The gateway treats this as fatal.
	OnDisconnect func(err error)

	log interface {
		Debug(msg interface{}, keyvals ...interface{})
		Warn(msg interface{}, keyvals ...interface{})
		Error(msg interface{}, keyvals ...interface{})
	}
}

// NewDisplay wraps an established connection. The display itself is always
// object 1.
func NewDisplay(conn *wire.Conn) *Display {
	d := &Display{
		conn:    conn,
		objects: make(map[uint32]Proxy),
		nextID:  2,
		log:     logger.With("component", "host"),
	}
	d.id = 1
	d.display = d
	d.objects[1] = d
	return d
}

// Connect dials the compositor named by the environment and wraps it.
func Connect() (*Display, error) {
	conn, err := wire.DialDisplay()
	if err != nil {
		return nil, err
	}
	return NewDisplay(conn), nil
}

// Register allocates a client-side ID for p and adds it to the object
// table.
func (d *Display) Register(p Proxy) {
	id := d.nextID
	d.nextID++
	p.SetID(id)
	d.objects[id] = p
}

// RegisterServerID adds an object announced by the compositor (IDs in the
// server range, such as incoming data offers).
func (d *Display) RegisterServerID(p Proxy, id uint32) {
	p.SetID(id)
	d.objects[id] = p
}

// Unregister drops an object from the table.
func (d *Display) Unregister(id uint32) {
	delete(d.objects, id)
}

// SendRequest marshals and writes one request. Arguments map by type:
// uint32/int32 as words, float64 as fixed, string and []byte with padding,
// Proxy as an object ID (nil encodes 0), FD out of band.
func (d *Display) SendRequest(p Proxy, opcode uint16, args ...interface{}) error {
	m := wire.NewMessage(p.ID(), opcode)
	for _, arg := range args {
		switch v := arg.(type) {
		case uint32:
			m.PutUint32(v)
		case int32:
			m.PutInt32(v)
		case float64:
			m.PutFixed(v)
		case string:
			m.PutString(v)
		case []byte:
			m.PutArray(v)
		case FD:
			m.PutFd(int(v))
		case Proxy:
			if v == nil {
				m.PutUint32(0)
			} else {
				m.PutUint32(v.ID())
			}
		case nil:
			m.PutUint32(0)
		default:
			return fmt.Errorf("unsupported request argument %T", arg)
		}
	}
	if err := d.conn.WriteMessage(m); err != nil {
		return fmt.Errorf("request %d on object %d: %w", opcode, p.ID(), err)
	}
	return nil
}

const (
	displaySyncOpcode        = 0
	displayGetRegistryOpcode = 1

	displayErrorEvent    = 0
	displayDeleteIDEvent = 1
)

// Sync installs a callback that fires once the compositor has processed
// everything sent before it.
func (d *Display) Sync(fn func()) error {
	cb := &Callback{Done: func(uint32) { fn() }}
	cb.attach(d)
	d.Register(cb)
	return d.SendRequest(d, displaySyncOpcode, cb.ID())
}

// GetRegistry creates the registry object.
func (d *Display) GetRegistry() (*Registry, error) {
	r := NewRegistry(d)
	if err := d.SendRequest(d, displayGetRegistryOpcode, r.ID()); err != nil {
		return nil, err
	}
	return r, nil
}

// RoundtripSync drives the connection inline until a sync callback fires.
// Only used during startup, before the reader goroutine exists.
func (d *Display) RoundtripSync() error {
	done := false
	if err := d.Sync(func() { done = true }); err != nil {
		return err
	}
	for !done {
		h, r, err := d.conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("roundtrip read: %w", err)
		}
		body := append([]byte(nil), r.Rest()...)
		ev := newEvent(h, body, drainFds(r))
		d.dispatchEvent(ev)
	}
	return nil
}

// Run is the reader loop: decode each event off the socket and hand it to
// the dispatch loop. Blocks until the connection dies; runs on its own
// goroutine.
func (d *Display) Run(post func(func())) {
	for {
		h, body, fds, err := d.conn.ReadRaw()
		if err != nil {
			post(func() {
				if d.OnDisconnect != nil {
					d.OnDisconnect(err)
				}
			})
			return
		}
		ev := newEvent(h, body, fds)
		post(func() { d.dispatchEvent(ev) })
	}
}

func (d *Display) dispatchEvent(ev *Event) {
	p, ok := d.objects[ev.Object]
	if !ok {
		// Events racing object destruction are expected; drop them.
		d.log.Debug("event for unknown object", "object", ev.Object, "opcode", ev.Opcode)
		return
	}
	p.Dispatch(ev)
	if err := ev.Err(); err != nil {
		d.log.Error("event decode failed", "object", ev.Object, "opcode", ev.Opcode, "error", err)
	}
}

// Dispatch handles wl_display's own events.
func (d *Display) Dispatch(ev *Event) {
	switch ev.Opcode {
	case displayErrorEvent:
		object := ev.Uint32()
		code := ev.Uint32()
		message := ev.String()
		d.log.Error("protocol error from compositor", "object", object, "code", code, "message", message)
		if d.OnDisconnect != nil {
			d.OnDisconnect(fmt.Errorf("protocol error on object %d: code %d: %s", object, code, message))
		}
	case displayDeleteIDEvent:
		d.Unregister(ev.Uint32())
	}
}

// Close tears the connection down.
func (d *Display) Close() error {
	return d.conn.Close()
}

func drainFds(r *wire.Reader) []int {
	var fds []int
	for {
		fd := r.Fd()
		if fd < 0 {
			return fds
		}
		fds = append(fds, fd)
	}
}

func closeFd(fd int) {
	unix.Close(fd)
}

// Callback wraps wl_callback.
type Callback struct {
	BaseProxy
	Done func(serial uint32)
}

// Dispatch handles wl_callback events.
func (c *Callback) Dispatch(ev *Event) {
	if ev.Opcode == 0 {
		serial := ev.Uint32()
		c.Display().Unregister(c.ID())
		if c.Done != nil {
			c.Done(serial)
		}
	}
}

package wire

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
)

// Conn is a Wayland connection over a unix stream socket. Reads are
// buffered; file descriptors arriving as SCM_RIGHTS control data are queued
// in arrival order and handed out as messages decode fd arguments.
//
// A Conn is not safe for concurrent reads; each connection gets one reader
// goroutine. Writes are serialized by the caller (the dispatch loop).
type Conn struct {
	uc   *net.UnixConn
	buf  []byte
	head int
	fds  []int
}

// NewConn wraps an accepted or dialed unix connection.
func NewConn(uc *net.UnixConn) *Conn {
	return &Conn{uc: uc}
}

// Dial connects to a Wayland socket path.
func Dial(path string) (*Conn, error) {
	uc, err := net.DialUnix("unix", nil, &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", path, err)
	}
	return NewConn(uc), nil
}

// DialDisplay resolves the conventional environment for a compositor
// socket: WAYLAND_DISPLAY (absolute, or relative to XDG_RUNTIME_DIR),
// defaulting to wayland-0.
func DialDisplay() (*Conn, error) {
	name := os.Getenv("WAYLAND_DISPLAY")
	if name == "" {
		name = "wayland-0"
	}
	if filepath.IsAbs(name) {
		return Dial(name)
	}
	runtime := os.Getenv("XDG_RUNTIME_DIR")
	if runtime == "" {
		return nil, fmt.Errorf("XDG_RUNTIME_DIR not set; cannot locate display %q", name)
	}
	return Dial(filepath.Join(runtime, name))
}

// ReadMessage blocks until one complete message is buffered and returns its
// header and an argument reader. The reader draws fds from this
// connection's received-descriptor queue. The reader and anything aliasing
// its body are valid only until the next ReadMessage call.
func (c *Conn) ReadMessage() (Header, *Reader, error) {
	for {
		avail := len(c.buf) - c.head
		if avail >= HeaderSize {
			h := ParseHeader(c.buf[c.head:])
			if int(h.Size) < HeaderSize {
				return Header{}, nil, fmt.Errorf("malformed size %d on object %d", h.Size, h.Object)
			}
			if avail >= int(h.Size) {
				body := c.buf[c.head+HeaderSize : c.head+int(h.Size)]
				c.head += int(h.Size)
				if c.head == len(c.buf) {
					c.buf = c.buf[:0]
					c.head = 0
				}
				return h, NewReader(body, c.takeFd), nil
			}
		}
		if err := c.fill(); err != nil {
			return Header{}, nil, err
		}
	}
}

// fill reads more data and any attached control messages.
func (c *Conn) fill() error {
	// Compact before growing so the buffer does not creep.
	if c.head > 0 && c.head == len(c.buf) {
		c.buf = c.buf[:0]
		c.head = 0
	}
	data := make([]byte, 4096)
	oob := make([]byte, 256)
	n, oobn, _, _, err := c.uc.ReadMsgUnix(data, oob)
	if err != nil {
		return err
	}
	if oobn > 0 {
		if err := c.parseControl(oob[:oobn]); err != nil {
			return err
		}
	}
	if n == 0 && oobn == 0 {
		return fmt.Errorf("connection closed")
	}
	c.buf = append(c.buf, data[:n]...)
	return nil
}

func (c *Conn) parseControl(oob []byte) error {
	cmsgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return fmt.Errorf("parse control message: %w", err)
	}
	for _, cmsg := range cmsgs {
		fds, err := unix.ParseUnixRights(&cmsg)
		if err != nil {
			continue
		}
		for _, fd := range fds {
			unix.CloseOnExec(fd)
			c.fds = append(c.fds, fd)
		}
	}
	return nil
}

func (c *Conn) takeFd() (int, bool) {
	if len(c.fds) == 0 {
		return -1, false
	}
	fd := c.fds[0]
	c.fds = c.fds[1:]
	return fd, true
}

// ReadRaw reads the next message with its body copied out of the shared
// buffer and every queued descriptor claimed. This is the form reader
// goroutines use when handing messages to another goroutine; ReadMessage
// is for inline decoding.
func (c *Conn) ReadRaw() (Header, []byte, []int, error) {
	h, r, err := c.ReadMessage()
	if err != nil {
		return Header{}, nil, nil, err
	}
	body := append([]byte(nil), r.Rest()...)
	fds := c.fds
	c.fds = nil
	return h, body, fds, nil
}

// WriteMessage finalizes and sends one message, descriptors attached to the
// first byte.
func (c *Conn) WriteMessage(m *Message) error {
	data, fds, err := m.Encode()
	if err != nil {
		return err
	}
	var oob []byte
	if len(fds) > 0 {
		oob = unix.UnixRights(fds...)
	}
	n, _, err := c.uc.WriteMsgUnix(data, oob, nil)
	if err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	// A stream socket may accept the control data with a short payload;
	// push the rest through without resending the descriptors.
	for n < len(data) {
		w, err := c.uc.Write(data[n:])
		if err != nil {
			return fmt.Errorf("write message tail: %w", err)
		}
		n += w
	}
	return nil
}

// SetDeadline bounds future reads and writes.
func (c *Conn) SetDeadline(t time.Time) error {
	return c.uc.SetDeadline(t)
}

// Close shuts the socket down and closes any descriptors still queued.
func (c *Conn) Close() error {
	for _, fd := range c.fds {
		unix.Close(fd)
	}
	c.fds = nil
	return c.uc.Close()
}

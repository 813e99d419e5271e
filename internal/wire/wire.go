// Package wire implements the Wayland wire format: 8-byte message headers,
// little-endian argument marshaling, and unix-socket transport with
// SCM_RIGHTS file-descriptor passing. The gateway speaks this format in
// both directions, as a client of the host compositor and as the server
// for its guest clients, so the codec is role-neutral.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// HeaderSize is the fixed length of every message header: object id, then
// size and opcode packed into one word.
const HeaderSize = 8

// MaxMessageSize is the largest encodable message; the size field is 16
// bits, header included.
const MaxMessageSize = math.MaxUint16

// ErrMessageTooLarge is returned when a message would not fit the 16-bit
// size field.
var ErrMessageTooLarge = errors.New("wire: message exceeds 64 KiB")

// ErrShortMessage is reported by Reader when a decode runs past the body.
var ErrShortMessage = errors.New("wire: truncated message body")

// Header identifies one message on a connection.
type Header struct {
	Object uint32
	Opcode uint16
	Size   uint16
}

// ParseHeader decodes the first HeaderSize bytes of b.
func ParseHeader(b []byte) Header {
	word := binary.LittleEndian.Uint32(b[4:8])
	return Header{
		Object: binary.LittleEndian.Uint32(b[0:4]),
		Opcode: uint16(word & 0xffff),
		Size:   uint16(word >> 16),
	}
}

func putHeader(b []byte, object uint32, opcode uint16, size int) {
	binary.LittleEndian.PutUint32(b[0:4], object)
	binary.LittleEndian.PutUint32(b[4:8], uint32(size)<<16|uint32(opcode))
}

// pad4 rounds a length up to the 32-bit boundary the protocol requires.
func pad4(n int) int {
	return (n + 3) &^ 3
}

// fixedFromFloat converts to the protocol's signed 24.8 representation.
func fixedFromFloat(f float64) int32 {
	return int32(math.Round(f * 256.0))
}

// fixedToFloat converts from signed 24.8.
func fixedToFloat(v int32) float64 {
	return float64(v) / 256.0
}

// Message accumulates one outgoing message. The size field is patched when
// the message is written.
type Message struct {
	buf []byte
	fds []int
}

// NewMessage starts a message for the given object and opcode.
func NewMessage(object uint32, opcode uint16) *Message {
	m := &Message{buf: make([]byte, HeaderSize, 64)}
	putHeader(m.buf, object, opcode, 0)
	return m
}

// PutUint32 appends a 32-bit unsigned argument.
func (m *Message) PutUint32(v uint32) *Message {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	m.buf = append(m.buf, tmp[:]...)
	return m
}

// PutInt32 appends a 32-bit signed argument.
func (m *Message) PutInt32(v int32) *Message {
	return m.PutUint32(uint32(v))
}

// PutFixed appends a 24.8 fixed-point argument.
func (m *Message) PutFixed(f float64) *Message {
	return m.PutInt32(fixedFromFloat(f))
}

// PutString appends a string argument: length including the terminating
// NUL, the bytes, the NUL, padded to 4 bytes.
func (m *Message) PutString(s string) *Message {
	m.PutUint32(uint32(len(s) + 1))
	m.buf = append(m.buf, s...)
	m.buf = append(m.buf, 0)
	for len(m.buf)%4 != 0 {
		m.buf = append(m.buf, 0)
	}
	return m
}

// PutArray appends a byte-array argument, padded to 4 bytes.
func (m *Message) PutArray(b []byte) *Message {
	m.PutUint32(uint32(len(b)))
	m.buf = append(m.buf, b...)
	for len(m.buf)%4 != 0 {
		m.buf = append(m.buf, 0)
	}
	return m
}

// PutFd queues a file descriptor for out-of-band transfer alongside the
// message. Nothing is appended to the body.
func (m *Message) PutFd(fd int) *Message {
	m.fds = append(m.fds, fd)
	return m
}

// Encode patches the header size and returns the wire bytes plus any
// queued descriptors. WriteMessage calls this; tests use it to inspect
// encodings directly.
func (m *Message) Encode() ([]byte, []int, error) {
	if len(m.buf) > MaxMessageSize {
		return nil, nil, fmt.Errorf("%w (%d bytes)", ErrMessageTooLarge, len(m.buf))
	}
	h := ParseHeader(m.buf)
	putHeader(m.buf, h.Object, h.Opcode, len(m.buf))
	return m.buf, m.fds, nil
}

// Reader walks the arguments of one received message. Decoding past the
// body sets a sticky error and returns zero values; callers check Err once
// after pulling every argument.
type Reader struct {
	data []byte
	off  int
	err  error
	// takeFd pops the next in-band file descriptor from the connection's
	// received queue.
	takeFd func() (int, bool)
}

// NewReader wraps a message body. fdSource may be nil for fd-less
// interfaces.
func NewReader(body []byte, fdSource func() (int, bool)) *Reader {
	return &Reader{data: body, takeFd: fdSource}
}

// Err returns the first decode error, if any.
func (r *Reader) Err() error {
	return r.err
}

// Rest returns the undecoded remainder of the body.
func (r *Reader) Rest() []byte {
	return r.data[r.off:]
}

func (r *Reader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if r.off+n > len(r.data) {
		r.err = ErrShortMessage
		return false
	}
	return true
}

// Uint32 decodes a 32-bit unsigned argument.
func (r *Reader) Uint32() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(r.data[r.off:])
	r.off += 4
	return v
}

// Int32 decodes a 32-bit signed argument.
func (r *Reader) Int32() int32 {
	return int32(r.Uint32())
}

// Fixed decodes a 24.8 fixed-point argument.
func (r *Reader) Fixed() float64 {
	return fixedToFloat(r.Int32())
}

// String decodes a string argument.
func (r *Reader) String() string {
	l := int(r.Uint32())
	if l == 0 {
		return ""
	}
	if !r.need(pad4(l)) {
		return ""
	}
	s := string(r.data[r.off : r.off+l-1])
	r.off += pad4(l)
	return s
}

// Array decodes a byte-array argument. The returned slice aliases the
// message body.
func (r *Reader) Array() []byte {
	l := int(r.Uint32())
	if !r.need(pad4(l)) {
		return nil
	}
	b := r.data[r.off : r.off+l]
	r.off += pad4(l)
	return b
}

// Fd pops the next received file descriptor.
func (r *Reader) Fd() int {
	if r.err != nil {
		return -1
	}
	if r.takeFd == nil {
		r.err = errors.New("wire: message carries no file descriptors")
		return -1
	}
	fd, ok := r.takeFd()
	if !ok {
		r.err = errors.New("wire: file descriptor queue empty")
		return -1
	}
	return fd
}

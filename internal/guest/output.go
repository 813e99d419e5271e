package guest

import (
	"fmt"

	"github.com/bnema/waybridge/internal/wire"
)

const (
	reqOutputRelease = 0

	evOutputGeometry = 0
	evOutputMode     = 1
	evOutputDone     = 2
	evOutputScale    = 3
)

const (
	outputModeCurrent   = 0x1
	outputModePreferred = 0x2
)

// OutputDesc describes one host output as guests should see it: position
// and mode in guest pixels, physical size in millimeters.
type OutputDesc struct {
	// HostName is the host compositor's global name for this output,
	// stable for its lifetime.
	HostName uint32

	X, Y          int32
	Width, Height int32
	PhysW, PhysH  int32
	Refresh       int32
	Make, Model   string
}

// AddOutput announces a new output to every client.
func (s *Server) AddOutput(d OutputDesc) {
	desc := d
	g := s.addGlobal("wl_output", 2, func(c *Client, id, version uint32) {
		bindOutput(c, id, version, &desc)
	})
	g.output = &desc
	s.log.Debug("guest output added", "host", d.HostName, "size",
		fmt.Sprintf("%dx%d", d.Width, d.Height))
}

// UpdateOutput replaces an output's geometry. Clients learn about it the
// blunt way, via remove and re-announce, which is what most compositors do
// on mode changes too.
func (s *Server) UpdateOutput(d OutputDesc) {
	s.RemoveOutput(d.HostName)
	s.AddOutput(d)
}

// RemoveOutput retracts the output that mirrors the named host global.
func (s *Server) RemoveOutput(hostName uint32) {
	for _, g := range s.globals {
		if g.output != nil && g.output.HostName == hostName {
			s.removeGlobal(g)
			s.log.Debug("guest output removed", "host", hostName)
			return
		}
	}
}

// Outputs lists the currently announced outputs.
func (s *Server) Outputs() []OutputDesc {
	var out []OutputDesc
	for _, g := range s.globals {
		if g.output != nil {
			out = append(out, *g.output)
		}
	}
	return out
}

func bindOutput(c *Client, id, version uint32, desc *OutputDesc) {
	o := &outputObject{id: id, version: version, desc: desc}
	if !c.register(id, o) {
		return
	}
	c.send(wire.NewMessage(id, evOutputGeometry).
		PutInt32(desc.X).PutInt32(desc.Y).
		PutInt32(desc.PhysW).PutInt32(desc.PhysH).
		PutInt32(0). // subpixel unknown
		PutString(desc.Make).PutString(desc.Model).
		PutInt32(0)) // transform normal
	c.send(wire.NewMessage(id, evOutputMode).
		PutUint32(outputModeCurrent|outputModePreferred).
		PutInt32(desc.Width).PutInt32(desc.Height).PutInt32(desc.Refresh))
	if version >= 2 {
		// Guests always work in their own pixels; scaling happens on the
		// way to the host.
		c.send(wire.NewMessage(id, evOutputScale).PutInt32(1))
		c.send(wire.NewMessage(id, evOutputDone))
	}
}

type outputObject struct {
	id      uint32
	version uint32
	desc    *OutputDesc
}

func (o *outputObject) Request(c *Client, opcode uint16, r *wire.Reader) error {
	if opcode != reqOutputRelease {
		return fmt.Errorf("wl_output request %d not handled", opcode)
	}
	c.deleteID(o.id)
	return nil
}

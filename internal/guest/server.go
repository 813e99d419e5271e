// Package guest serves the gateway's own Wayland display socket. Guest
// clients, Xwayland first among them, connect here and see a small
// compositor: wl_compositor, wl_shm, wl_output, wl_seat and wp_viewporter.
// Surface requests feed the commit pipeline; everything else is answered
// locally.
package guest

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"

	"github.com/bnema/waybridge/internal/dispatch"
	"github.com/bnema/waybridge/internal/logger"
	"github.com/bnema/waybridge/internal/shm"
	"github.com/bnema/waybridge/internal/surface"
	"github.com/bnema/waybridge/internal/wire"
)

// Object is one protocol object in a client's table.
type Object interface {
	// Request handles one decoded request. Returning an error tears the
	// client down with a protocol error; objects that want a specific
	// error post it themselves and return nil.
	Request(c *Client, opcode uint16, r *wire.Reader) error
}

// resource is implemented by objects holding state that outlives the
// protocol message, released when the client goes away.
type resource interface {
	release(c *Client)
}

type globalEntry struct {
	name    uint32
	iface   string
	version uint32
	bind    func(c *Client, id, version uint32)
	output  *OutputDesc
}

// Server owns the listening socket and every connected guest client. All
// fields are touched only from the dispatch loop; the accept and read
// goroutines post into it.
type Server struct {
	path string
	ln   *net.UnixListener
	loop *dispatch.Loop
	pipe *surface.Pipeline
	log  *log.Logger

	clients    map[*Client]struct{}
	globals    []*globalEntry
	nextGlobal uint32
	nextKey    uint64
	serial     uint32
	formats    []uint32

	// OnSurface fires when a client creates a wl_surface, before the
	// client's next request is handled.
	OnSurface func(c *Client, id uint32, s *surface.Surface)
	// OnSurfaceDestroy fires when a surface goes away, whether destroyed
	// explicitly or torn down with its client.
	OnSurfaceDestroy func(c *Client, id uint32)
	// OnDisconnect fires after a client's resources are released.
	OnDisconnect func(c *Client)
}

// NewServer builds a server over the pipeline with the standard globals
// registered. Outputs are added separately as the host advertises them.
func NewServer(loop *dispatch.Loop, pipe *surface.Pipeline) *Server {
	s := &Server{
		loop:    loop,
		pipe:    pipe,
		log:     logger.With("component", "guest"),
		clients: make(map[*Client]struct{}),
		formats: []uint32{uint32(shm.FormatARGB8888), uint32(shm.FormatXRGB8888)},
	}
	s.addGlobal("wl_compositor", 4, bindCompositor)
	s.addGlobal("wl_shm", 1, bindShm)
	s.addGlobal("wp_viewporter", 1, bindViewporter)
	s.addGlobal("wl_seat", 5, bindSeat)
	return s
}

// SetFormats restricts the advertised wl_shm formats, keeping only those
// the copy path can handle.
func (s *Server) SetFormats(formats []uint32) {
	keep := formats[:0:0]
	for _, f := range formats {
		if shm.Format(f).Supported() {
			keep = append(keep, f)
		}
	}
	if len(keep) > 0 {
		s.formats = keep
	}
}

// Listen binds the display socket and starts accepting clients.
func (s *Server) Listen(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("guest socket directory: %w", err)
	}
	// A stale socket from a previous run would shadow us.
	_ = os.Remove(path)
	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return fmt.Errorf("listen on %s: %w", path, err)
	}
	ln.SetUnlinkOnClose(true)
	s.ln = ln
	s.path = path
	go s.acceptLoop()
	s.log.Info("guest display ready", "socket", path)
	return nil
}

// Path returns the bound socket path.
func (s *Server) Path() string {
	return s.path
}

func (s *Server) acceptLoop() {
	for {
		uc, err := s.ln.AcceptUnix()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.log.Error("accept failed", "error", err)
			}
			return
		}
		c := newClient(s, wire.NewConn(uc))
		s.loop.Post(func() {
			s.clients[c] = struct{}{}
			s.log.Debug("guest client connected")
		})
		go c.readLoop()
	}
}

// Close stops accepting and tears down every client.
func (s *Server) Close() {
	if s.ln != nil {
		s.ln.Close()
	}
	s.loop.Post(func() {
		for c := range s.clients {
			c.teardown()
		}
	})
}

// NextSerial returns a fresh event serial. Serials are shared across all
// clients so ordering comparisons hold gateway-wide.
func (s *Server) NextSerial() uint32 {
	s.serial++
	return s.serial
}

func (s *Server) nextSurfaceKey() uint64 {
	s.nextKey++
	return s.nextKey
}

func (s *Server) addGlobal(iface string, version uint32, bind func(c *Client, id, version uint32)) *globalEntry {
	s.nextGlobal++
	g := &globalEntry{name: s.nextGlobal, iface: iface, version: version, bind: bind}
	s.globals = append(s.globals, g)
	for c := range s.clients {
		c.announceGlobal(g)
	}
	return g
}

func (s *Server) removeGlobal(g *globalEntry) {
	for i, e := range s.globals {
		if e == g {
			s.globals = append(s.globals[:i], s.globals[i+1:]...)
			break
		}
	}
	for c := range s.clients {
		c.retractGlobal(g)
	}
}

func (s *Server) findGlobal(name uint32) *globalEntry {
	for _, g := range s.globals {
		if g.name == name {
			return g
		}
	}
	return nil
}

// FindSurface resolves a client-local wl_surface id to its pipeline
// surface. X windows carry this id in their pairing property.
func (s *Server) FindSurface(id uint32) *surface.Surface {
	for c := range s.clients {
		if so, ok := c.surfaces[id]; ok {
			return so.pipe
		}
	}
	return nil
}

// SurfaceOutputChange forwards a host-side enter or leave to whichever
// guest client owns the surface, naming its own wl_output object.
func (s *Server) SurfaceOutputChange(sf *surface.Surface, hostName uint32, entered bool) {
	for c := range s.clients {
		for _, so := range c.surfaces {
			if so.pipe != sf {
				continue
			}
			op := uint16(evSurfaceEnter)
			if !entered {
				op = evSurfaceLeave
			}
			for _, obj := range c.objects {
				out, ok := obj.(*outputObject)
				if ok && out.desc.HostName == hostName {
					c.send(wire.NewMessage(so.id, op).PutUint32(out.id))
				}
			}
			return
		}
	}
}

// Package surface implements the commit pipeline: guest surfaces with
// pending contents and damage, the pools of host-bound output buffers, and
// the copy path that moves pixels from guest shared memory into buffers the
// host compositor reads. The pipeline talks to the host through narrow
// interfaces so the logic is testable without a compositor.
package surface

import (
	"github.com/bnema/waybridge/internal/shm"
	"github.com/bnema/waybridge/internal/transform"
)

// Host abstracts buffer and surface creation on the host connection.
type Host interface {
	// CreateSurface allocates a fresh host surface.
	CreateSurface() (HostSurface, error)
	// CreateBuffer shares region with the host and carves one buffer out
	// of it. The release callback fires when the host is done reading.
	CreateBuffer(region *shm.Region, width, height, stride int32, format shm.Format, release func()) (HostBuffer, error)
}

// HostSurface is the slice of wl_surface/wp_viewport the pipeline drives.
// SetViewportDestination(-1, -1) retracts a previous destination override.
type HostSurface interface {
	Attach(b HostBuffer, x, y int32) error
	Damage(x, y, w, h int32) error
	SetViewportDestination(w, h int32) error
	SetViewportSource(x, y, w, h float64) error
	ClearViewportSource() error
	Frame(done func(serial uint32)) error
	Commit() error
	Destroy() error
}

// HostBuffer is a host-side wl_buffer handle.
type HostBuffer interface {
	Destroy() error
}

// GuestBuffer describes contents a guest attached: a slice of a pool
// region plus pixel geometry, and the hook that tells the guest its memory
// is reusable.
type GuestBuffer struct {
	Region *shm.Region
	Offset int32
	Width  int32
	Height int32
	Stride int32
	Format shm.Format

	// Release signals the guest that the gateway no longer reads the
	// memory. May be nil for buffers whose protocol object died.
	Release func()
}

func (b *GuestBuffer) planeViews() []shm.PlaneView {
	return b.Format.PlaneViews(b.Offset, b.Stride, b.Height)
}

// outputBuffer is one host-bound buffer in a surface's pools, with the
// damage accumulated since it last held current contents, in buffer
// coordinates.
type outputBuffer struct {
	region *shm.Region
	hb     HostBuffer
	width  int32
	height int32
	stride int32
	format shm.Format
	damage []transform.Rect
}

func (ob *outputBuffer) matches(f shm.Format, w, h int32) bool {
	return ob.format == f && ob.width == w && ob.height == h
}

func (ob *outputBuffer) addDamage(r transform.Rect) {
	r = r.Intersect(ob.width, ob.height)
	if r.Empty() {
		return
	}
	for _, d := range ob.damage {
		if d.Contains(r) {
			return
		}
	}
	ob.damage = append(ob.damage, r)
}

func (ob *outputBuffer) fullDamage() {
	ob.damage = []transform.Rect{{X: 0, Y: 0, Width: ob.width, Height: ob.height}}
}

func (ob *outputBuffer) destroy() {
	if ob.hb != nil {
		ob.hb.Destroy()
		ob.hb = nil
	}
	if ob.region != nil {
		ob.region.Unref()
		ob.region = nil
	}
}

// Pipeline owns every guest surface and its commit state.
type Pipeline struct {
	host     Host
	scaler   *transform.Scaler
	surfaces map[uint64]*Surface
}

// NewPipeline builds a pipeline over the given host and scaler.
func NewPipeline(host Host, scaler *transform.Scaler) *Pipeline {
	return &Pipeline{
		host:     host,
		scaler:   scaler,
		surfaces: make(map[uint64]*Surface),
	}
}

// CreateSurface allocates pipeline and host state for a new guest surface.
func (p *Pipeline) CreateSurface(key uint64) (*Surface, error) {
	hs, err := p.host.CreateSurface()
	if err != nil {
		return nil, err
	}
	s := newSurface(p, key, hs)
	p.surfaces[key] = s
	return s, nil
}

// Get returns the surface for key, nil when unknown.
func (p *Pipeline) Get(key uint64) *Surface {
	return p.surfaces[key]
}

// Remove drops a surface from the table after teardown.
func (p *Pipeline) remove(key uint64) {
	delete(p.surfaces, key)
}

// Scaler exposes the shared scaler.
func (p *Pipeline) Scaler() *transform.Scaler {
	return p.scaler
}

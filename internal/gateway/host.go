package gateway

import (
	"fmt"

	"github.com/bnema/waybridge/internal/host"
	"github.com/bnema/waybridge/internal/selection"
	"github.com/bnema/waybridge/internal/shm"
	"github.com/bnema/waybridge/internal/surface"
	"github.com/bnema/waybridge/internal/xwm"
)

// hostAdapter feeds the commit pipeline with host surfaces and buffers.
type hostAdapter struct {
	hc *host.Client
}

func (a *hostAdapter) CreateSurface() (surface.HostSurface, error) {
	s, err := a.hc.Compositor.CreateSurface()
	if err != nil {
		return nil, err
	}
	var vp *host.Viewport
	if a.hc.Viewporter != nil {
		vp, err = a.hc.Viewporter.GetViewport(s)
		if err != nil {
			s.Destroy()
			return nil, err
		}
	}
	return &hostSurface{s: s, vp: vp}, nil
}

func (a *hostAdapter) CreateBuffer(region *shm.Region, width, height, stride int32, format shm.Format, release func()) (surface.HostBuffer, error) {
	pool, err := a.hc.Shm.CreatePool(region.Fd(), int32(region.Size()))
	if err != nil {
		return nil, err
	}
	b, err := pool.CreateBuffer(0, width, height, stride, uint32(format))
	if err != nil {
		pool.Destroy()
		return nil, err
	}
	b.OnRelease = release
	// The buffer keeps the mapping alive host-side; the pool object can go.
	if err := pool.Destroy(); err != nil {
		return nil, err
	}
	return &hostBuffer{b: b}, nil
}

// hostSurface pairs a host wl_surface with its viewport. Without
// wp_viewporter the viewport calls turn into no-ops and the host shows
// guest pixels one to one.
type hostSurface struct {
	s  *host.Surface
	vp *host.Viewport
}

func (hs *hostSurface) Attach(b surface.HostBuffer, x, y int32) error {
	var buf *host.Buffer
	if b != nil {
		hb, ok := b.(*hostBuffer)
		if !ok {
			return fmt.Errorf("attach of foreign buffer type %T", b)
		}
		buf = hb.b
	}
	return hs.s.Attach(buf, x, y)
}

func (hs *hostSurface) Damage(x, y, w, h int32) error {
	return hs.s.Damage(x, y, w, h)
}

func (hs *hostSurface) SetViewportDestination(w, h int32) error {
	if hs.vp == nil {
		return nil
	}
	if w <= 0 || h <= 0 {
		return hs.vp.ClearDestination()
	}
	return hs.vp.SetDestination(w, h)
}

func (hs *hostSurface) SetViewportSource(x, y, w, h float64) error {
	if hs.vp == nil {
		return nil
	}
	return hs.vp.SetSource(x, y, w, h)
}

func (hs *hostSurface) ClearViewportSource() error {
	if hs.vp == nil {
		return nil
	}
	return hs.vp.ClearSource()
}

func (hs *hostSurface) Frame(done func(serial uint32)) error {
	_, err := hs.s.Frame(done)
	return err
}

func (hs *hostSurface) Commit() error {
	return hs.s.Commit()
}

func (hs *hostSurface) Destroy() error {
	var err error
	if hs.vp != nil {
		err = hs.vp.Destroy()
		hs.vp = nil
	}
	if err2 := hs.s.Destroy(); err == nil {
		err = err2
	}
	return err
}

type hostBuffer struct {
	b *host.Buffer
}

func (hb *hostBuffer) Destroy() error {
	return hb.b.Destroy()
}

// clipboardHost lets the selection bridge claim and release the host
// clipboard through the data device.
type clipboardHost struct {
	hc *host.Client
}

func (h *clipboardHost) CreateSource(send func(mime string, fd int), cancelled func()) (selection.Source, error) {
	src, err := h.hc.DataManager.CreateSource()
	if err != nil {
		return nil, err
	}
	src.OnSend = send
	src.OnCancelled = cancelled
	return src, nil
}

func (h *clipboardHost) SetSelection(src selection.Source) error {
	var ds *host.DataSource
	if src != nil {
		var ok bool
		ds, ok = src.(*host.DataSource)
		if !ok {
			return fmt.Errorf("set selection with foreign source type %T", src)
		}
	}
	return h.hc.DataDevice.SetSelection(ds, h.hc.InputSerial())
}

// hostOffer adapts a data offer to the bridge's view of host clipboard
// content.
type hostOffer struct {
	o *host.DataOffer
}

func (o *hostOffer) MimeTypes() []string {
	return o.o.Mimes
}

func (o *hostOffer) Receive(mime string, fd int) error {
	return o.o.Receive(mime, fd)
}

func (o *hostOffer) Destroy() error {
	return o.o.Destroy()
}

// selectionAtoms plucks the clipboard protocol atoms out of the interned
// table.
func selectionAtoms(a xwm.Atoms) selection.AtomSet {
	return selection.AtomSet{
		Clipboard:  a.Clipboard,
		Targets:    a.Targets,
		Timestamp:  a.Timestamp,
		Multiple:   a.Multiple,
		Incr:       a.Incr,
		Utf8String: a.Utf8String,
		Text:       a.Text,
		Property:   a.TransferProperty,
	}
}

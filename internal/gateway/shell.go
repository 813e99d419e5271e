package gateway

import (
	"errors"
	"fmt"

	"github.com/bnema/waybridge/internal/host"
	"github.com/bnema/waybridge/internal/window"
)

var (
	errNoSeat = errors.New("host offers no seat for interactive moves")
	// xdg-shell has no decoration toggle; a decoration protocol would be
	// needed and the wrappers do not bind one.
	errNoDecorationControl = errors.New("host offers no decoration control")
)

// shellAdapter builds host xdg-shell roles for paired windows and routes
// their configure traffic back into the manager. frames tracks live
// toplevels so popups can anchor to their parent's xdg_surface.
type shellAdapter struct {
	hc     *host.Client
	mgr    *window.Manager
	frames map[uint32]*toplevelFrame
}

func newShellAdapter(hc *host.Client) *shellAdapter {
	return &shellAdapter{
		hc:     hc,
		frames: make(map[uint32]*toplevelFrame),
	}
}

func (sh *shellAdapter) backing(w *window.Window) (*hostSurface, error) {
	s := w.Surface()
	if s == nil {
		return nil, fmt.Errorf("window %d has no surface to give a role", w.ID())
	}
	hs, ok := s.Host().(*hostSurface)
	if !ok {
		return nil, fmt.Errorf("window %d surface has foreign host type %T", w.ID(), s.Host())
	}
	return hs, nil
}

func (sh *shellAdapter) CreateToplevel(w *window.Window) (window.Toplevel, error) {
	hs, err := sh.backing(w)
	if err != nil {
		return nil, err
	}
	xdg, err := sh.hc.WmBase.GetXdgSurface(hs.s)
	if err != nil {
		return nil, err
	}
	tl, err := xdg.GetToplevel()
	if err != nil {
		xdg.Destroy()
		return nil, err
	}
	f := &toplevelFrame{shell: sh, id: w.ID(), xdg: xdg, tl: tl}

	// xdg_toplevel.configure carries size and states, then
	// xdg_surface.configure carries the serial that seals the batch. The
	// size latches across serial-only configures, which is what the
	// protocol means by current state.
	tl.OnConfigure = func(width, height int32, states []uint32) {
		f.width, f.height = width, height
		f.states = decodeStates(states)
	}
	xdg.OnConfigure = func(serial uint32) {
		sh.mgr.HandleConfigure(f.id, window.Configure{
			Serial: serial,
			Width:  f.width,
			Height: f.height,
			States: f.states,
		})
	}
	tl.OnClose = func() {
		sh.mgr.Close(f.id)
	}

	sh.frames[w.ID()] = f
	return f, nil
}

func (sh *shellAdapter) CreatePopup(w, parent *window.Window, x, y, width, height int32) (window.Popup, error) {
	parentFrame := sh.frames[parent.ID()]
	if parentFrame == nil {
		return nil, fmt.Errorf("popup parent %d has no host toplevel", parent.ID())
	}
	hs, err := sh.backing(w)
	if err != nil {
		return nil, err
	}
	pos, err := sh.hc.WmBase.CreatePositioner()
	if err != nil {
		return nil, err
	}
	// Anchor a 1x1 rectangle at the popup's parent-relative origin and
	// grow down-right, which reproduces X absolute placement.
	pos.SetSize(width, height)
	pos.SetAnchorRect(x, y, 1, 1)
	pos.SetAnchor(host.AnchorTopLeft)
	pos.SetGravity(host.GravityBottomRight)

	xdg, err := sh.hc.WmBase.GetXdgSurface(hs.s)
	if err != nil {
		pos.Destroy()
		return nil, err
	}
	pp, err := xdg.GetPopup(parentFrame.xdg, pos)
	pos.Destroy()
	if err != nil {
		xdg.Destroy()
		return nil, err
	}
	f := &popupFrame{id: w.ID(), xdg: xdg, popup: pp}

	// Popups get no size from the host; the serial still demands an ack.
	xdg.OnConfigure = func(serial uint32) {
		sh.mgr.HandleConfigure(f.id, window.Configure{Serial: serial})
	}
	pp.OnDone = func() {
		sh.mgr.Unmap(f.id)
	}
	return f, nil
}

// toplevelFrame is the host presence of one managed window.
type toplevelFrame struct {
	shell *shellAdapter
	id    uint32
	xdg   *host.XdgSurface
	tl    *host.Toplevel

	width  int32
	height int32
	states window.HostStates
}

func (f *toplevelFrame) AckConfigure(serial uint32) error {
	return f.xdg.AckConfigure(serial)
}

func (f *toplevelFrame) Destroy() error {
	delete(f.shell.frames, f.id)
	err := f.tl.Destroy()
	if err2 := f.xdg.Destroy(); err == nil {
		err = err2
	}
	return err
}

func (f *toplevelFrame) SetTitle(title string) error {
	return f.tl.SetTitle(title)
}

func (f *toplevelFrame) SetAppID(id string) error {
	return f.tl.SetAppID(id)
}

func (f *toplevelFrame) SetParent(parent window.Toplevel) error {
	pf, ok := parent.(*toplevelFrame)
	if !ok || pf == nil {
		return f.tl.SetParent(nil)
	}
	return f.tl.SetParent(pf.tl)
}

func (f *toplevelFrame) SetMinSize(w, h int32) error {
	return f.tl.SetMinSize(w, h)
}

func (f *toplevelFrame) SetMaxSize(w, h int32) error {
	return f.tl.SetMaxSize(w, h)
}

func (f *toplevelFrame) SetMaximized(on bool) error {
	if on {
		return f.tl.SetMaximized()
	}
	return f.tl.UnsetMaximized()
}

func (f *toplevelFrame) SetFullscreen(on bool) error {
	if on {
		return f.tl.SetFullscreen(nil)
	}
	return f.tl.UnsetFullscreen()
}

func (f *toplevelFrame) SetMinimized() error {
	return f.tl.SetMinimized()
}

func (f *toplevelFrame) SetDecorated(bool) error {
	return errNoDecorationControl
}

func (f *toplevelFrame) Move(serial uint32) error {
	if f.shell.hc.Seat == nil {
		return errNoSeat
	}
	return f.tl.Move(f.shell.hc.Seat, serial)
}

func (f *toplevelFrame) Resize(serial uint32, edge window.ResizeEdge) error {
	if f.shell.hc.Seat == nil {
		return errNoSeat
	}
	return f.tl.Resize(f.shell.hc.Seat, serial, uint32(edge))
}

// popupFrame is the host presence of an override-redirect window.
type popupFrame struct {
	id    uint32
	xdg   *host.XdgSurface
	popup *host.Popup
}

func (f *popupFrame) AckConfigure(serial uint32) error {
	return f.xdg.AckConfigure(serial)
}

func (f *popupFrame) Destroy() error {
	err := f.popup.Destroy()
	if err2 := f.xdg.Destroy(); err == nil {
		err = err2
	}
	return err
}

// decodeStates folds the xdg_toplevel configure state array into flags.
func decodeStates(states []uint32) window.HostStates {
	var st window.HostStates
	for _, s := range states {
		switch s {
		case host.ToplevelStateMaximized:
			st.Maximized = true
		case host.ToplevelStateFullscreen:
			st.Fullscreen = true
		case host.ToplevelStateResizing:
			st.Resizing = true
		case host.ToplevelStateActivated:
			st.Activated = true
		}
	}
	return st
}

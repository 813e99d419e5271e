package gateway

import (
	"github.com/BurntSushi/xgb/xproto"

	"github.com/bnema/waybridge/internal/window"
	"github.com/bnema/waybridge/internal/xwm"
)

// guestConn adapts the X connection to what the window manager needs from
// the guest side.
type guestConn struct {
	x *xwm.Conn
}

func (gc *guestConn) ReadProps(win uint32) window.Props {
	w := xproto.Window(win)
	instance, class := gc.x.Class(w)
	sizes := gc.x.ReadSizeHints(w)
	start := gc.x.ReadStartHints(w)
	protos := gc.x.ReadProtocols(w)
	motif := gc.x.ReadMotifHints(w)
	return window.Props{
		Title:        gc.x.Title(w),
		Instance:     instance,
		Class:        class,
		TransientFor: uint32(gc.x.TransientFor(w)),
		MinWidth:     sizes.MinWidth,
		MinHeight:    sizes.MinHeight,
		MaxWidth:     sizes.MaxWidth,
		MaxHeight:    sizes.MaxHeight,
		Decorated:    motif.Decorated(),
		StartIconic:  start.StartIconic,
		AcceptInput:  start.AcceptInput,
		DeleteWindow: protos.DeleteWindow,
		TakeFocus:    protos.TakeFocus,
		PositionSet:  sizes.PositionSet,
	}
}

func (gc *guestConn) ConfigureWindow(win uint32, x, y, w, h int32) {
	gc.x.ConfigureWindow(xproto.Window(win), x, y, w, h)
}

func (gc *guestConn) SendConfigureNotify(win uint32, x, y, w, h int32) {
	gc.x.SendConfigureNotify(xproto.Window(win), x, y, w, h)
}

func (gc *guestConn) MapWindow(win uint32) {
	gc.x.MapWindow(xproto.Window(win))
}

func (gc *guestConn) SetWMState(win uint32, state window.WMState) {
	gc.x.SetWMState(xproto.Window(win), uint(state))
}

func (gc *guestConn) SetNetStates(win uint32, st window.NetStates) {
	gc.x.SetNetStates(xproto.Window(win), xwm.NetStates{
		MaximizedVert: st.MaximizedVert,
		MaximizedHorz: st.MaximizedHorz,
		Fullscreen:    st.Fullscreen,
		Focused:       st.Focused,
		Hidden:        st.Hidden,
	})
}

func (gc *guestConn) SetFrameExtents(win uint32, left, right, top, bottom int32) {
	gc.x.SetFrameExtents(xproto.Window(win), left, right, top, bottom)
}

func (gc *guestConn) SetFocus(win uint32, accept, takeFocus bool) {
	gc.x.FocusWindow(xproto.Window(win), xwm.Protocols{TakeFocus: takeFocus}, accept)
}

func (gc *guestConn) SetActiveWindow(win uint32) {
	gc.x.SetActiveWindow(xproto.Window(win))
}

func (gc *guestConn) SendDelete(win uint32, hasProtocol bool) {
	gc.x.SendDelete(xproto.Window(win), xwm.Protocols{DeleteWindow: hasProtocol})
}

func (gc *guestConn) SetClientList(wins []uint32) {
	xs := make([]xproto.Window, len(wins))
	for i, w := range wins {
		xs[i] = xproto.Window(w)
	}
	gc.x.SetClientList(xs)
}

// windowEvents turns routed X events into manager calls. All methods run
// on the dispatch loop.
type windowEvents struct {
	mgr   *window.Manager
	atoms xwm.Atoms
	root  xproto.Window
}

func newWindowEvents(xc *xwm.Conn, mgr *window.Manager) *windowEvents {
	return &windowEvents{mgr: mgr, atoms: xc.Atoms, root: xc.Root()}
}

func (h *windowEvents) CreateNotify(ev xproto.CreateNotifyEvent) {
	if ev.Parent != h.root {
		return
	}
	// Windows adopted by the initial scan replay their CreateNotify.
	if h.mgr.Get(uint32(ev.Window)) != nil {
		return
	}
	h.mgr.Create(uint32(ev.Window), window.Geometry{
		X:      int32(ev.X),
		Y:      int32(ev.Y),
		Width:  int32(ev.Width),
		Height: int32(ev.Height),
	}, ev.OverrideRedirect)
}

func (h *windowEvents) DestroyNotify(ev xproto.DestroyNotifyEvent) {
	h.mgr.Destroy(uint32(ev.Window))
}

func (h *windowEvents) MapRequest(ev xproto.MapRequestEvent) {
	h.mgr.MapRequest(uint32(ev.Window))
}

func (h *windowEvents) MapNotify(ev xproto.MapNotifyEvent) {
	h.mgr.MapNotify(uint32(ev.Window))
}

func (h *windowEvents) UnmapNotify(ev xproto.UnmapNotifyEvent) {
	h.mgr.Unmap(uint32(ev.Window))
}

func (h *windowEvents) ConfigureRequest(ev xproto.ConfigureRequestEvent) {
	h.mgr.ConfigureRequest(uint32(ev.Window),
		int32(ev.X), int32(ev.Y), int32(ev.Width), int32(ev.Height),
		configMask(ev.ValueMask))
}

func (h *windowEvents) ConfigureNotify(ev xproto.ConfigureNotifyEvent) {
	h.mgr.SyncGeometry(uint32(ev.Window),
		int32(ev.X), int32(ev.Y), int32(ev.Width), int32(ev.Height))
}

func (h *windowEvents) PropertyNotify(ev xproto.PropertyNotifyEvent) {
	kind, ok := propKindFor(h.atoms, ev.Atom)
	if !ok {
		return
	}
	h.mgr.PropertyChanged(uint32(ev.Window), kind)
}

func (h *windowEvents) ClientMessage(ev xproto.ClientMessageEvent) {
	if ev.Format != 32 {
		return
	}
	data := ev.Data.Data32
	win := uint32(ev.Window)
	switch ev.Type {
	case h.atoms.WlSurfaceID:
		h.mgr.SetSurfaceID(win, data[0])
	case h.atoms.WmChangeState:
		h.mgr.ChangeState(win, data[0])
	case h.atoms.NetWmState:
		h.mgr.NetStateChange(win, data[0],
			stateAtomFor(h.atoms, xproto.Atom(data[1])),
			stateAtomFor(h.atoms, xproto.Atom(data[2])))
	case h.atoms.NetActiveWindow:
		h.mgr.Activate(win)
	case h.atoms.NetWmMoveresize:
		h.mgr.Moveresize(win, int32(data[2]))
	}
}

// configMask translates an X configure request value mask into the
// manager's field mask.
func configMask(valueMask uint16) window.ConfigMask {
	var m window.ConfigMask
	if valueMask&xproto.ConfigWindowX != 0 {
		m |= window.MaskX
	}
	if valueMask&xproto.ConfigWindowY != 0 {
		m |= window.MaskY
	}
	if valueMask&xproto.ConfigWindowWidth != 0 {
		m |= window.MaskWidth
	}
	if valueMask&xproto.ConfigWindowHeight != 0 {
		m |= window.MaskHeight
	}
	return m
}

// propKindFor maps a changed property atom to the kind the manager
// refreshes, false for properties it does not track.
func propKindFor(a xwm.Atoms, atom xproto.Atom) (window.PropKind, bool) {
	switch atom {
	case a.NetWmName, xproto.AtomWmName:
		return window.PropTitle, true
	case xproto.AtomWmClass:
		return window.PropClass, true
	case xproto.AtomWmNormalHints:
		return window.PropNormalHints, true
	case xproto.AtomWmHints:
		return window.PropHints, true
	case a.WmProtocols:
		return window.PropProtocols, true
	case a.MotifWmHints:
		return window.PropMotif, true
	case xproto.AtomWmTransientFor:
		return window.PropTransient, true
	}
	return 0, false
}

// stateAtomFor maps a _NET_WM_STATE property atom to the manager's
// enumeration.
func stateAtomFor(a xwm.Atoms, atom xproto.Atom) window.StateAtom {
	switch atom {
	case a.NetWmStateFullscreen:
		return window.StateAtomFullscreen
	case a.NetWmStateMaxVert:
		return window.StateAtomMaximizedVert
	case a.NetWmStateMaxHorz:
		return window.StateAtomMaximizedHorz
	}
	return window.StateAtomNone
}

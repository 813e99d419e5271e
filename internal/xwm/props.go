package xwm

import (
	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/BurntSushi/xgbutil/ewmh"
	"github.com/BurntSushi/xgbutil/icccm"
)

// Motif hints flag bits, from the Motif window manager conventions. Only
// the decorations field matters to us.
const motifHintDecorations = 1 << 1

// MotifHints is the decoded _MOTIF_WM_HINTS property.
type MotifHints struct {
	Flags       uint32
	Functions   uint32
	Decorations uint32
}

// Decorated reports whether the window wants server-side decorations.
// Absent hints mean decorated.
func (h MotifHints) Decorated() bool {
	if h.Flags&motifHintDecorations == 0 {
		return true
	}
	return h.Decorations != 0
}

func parseMotifHints(raw []uint32) MotifHints {
	var h MotifHints
	if len(raw) >= 1 {
		h.Flags = raw[0]
	}
	if len(raw) >= 2 {
		h.Functions = raw[1]
	}
	if len(raw) >= 3 {
		h.Decorations = raw[2]
	}
	return h
}

// SizeHints carries the WM_NORMAL_HINTS fields we act on. Zero bounds
// mean unconstrained.
type SizeHints struct {
	MinWidth  int32
	MinHeight int32
	MaxWidth  int32
	MaxHeight int32

	// PositionSet reports whether the client asked for its position,
	// which exempts it from placement.
	PositionSet bool
}

// StartHints carries the WM_HINTS fields that shape the initial map.
type StartHints struct {
	StartIconic bool
	AcceptInput bool
}

// Protocols records which WM_PROTOCOLS the client advertised.
type Protocols struct {
	DeleteWindow bool
	TakeFocus    bool
}

// NetStates is the _NET_WM_STATE set we publish on a managed window.
type NetStates struct {
	MaximizedVert bool
	MaximizedHorz bool
	Fullscreen    bool
	Focused       bool
	Hidden        bool
}

// Title follows _NET_WM_NAME with a WM_NAME fallback.
func (c *Conn) Title(win xproto.Window) string {
	name, err := ewmh.WmNameGet(c.xu, win)
	if err != nil || name == "" {
		name, _ = icccm.WmNameGet(c.xu, win)
	}
	return name
}

// Class returns the WM_CLASS instance and class strings.
func (c *Conn) Class(win xproto.Window) (instance, class string) {
	wc, err := icccm.WmClassGet(c.xu, win)
	if err != nil {
		return "", ""
	}
	return wc.Instance, wc.Class
}

// TransientFor returns the WM_TRANSIENT_FOR parent, or 0.
func (c *Conn) TransientFor(win xproto.Window) xproto.Window {
	parent, err := icccm.WmTransientForGet(c.xu, win)
	if err != nil {
		return 0
	}
	return parent
}

// ReadSizeHints decodes WM_NORMAL_HINTS min and max bounds.
func (c *Conn) ReadSizeHints(win xproto.Window) SizeHints {
	var sh SizeHints
	nh, err := icccm.WmNormalHintsGet(c.xu, win)
	if err != nil {
		return sh
	}
	if nh.Flags&icccm.SizeHintPMinSize > 0 {
		sh.MinWidth = int32(nh.MinWidth)
		sh.MinHeight = int32(nh.MinHeight)
	}
	if nh.Flags&icccm.SizeHintPMaxSize > 0 {
		sh.MaxWidth = int32(nh.MaxWidth)
		sh.MaxHeight = int32(nh.MaxHeight)
	}
	sh.PositionSet = nh.Flags&(icccm.SizeHintUSPosition|icccm.SizeHintPPosition) > 0
	return sh
}

// ReadStartHints decodes WM_HINTS. Missing hints accept input and start
// normal.
func (c *Conn) ReadStartHints(win xproto.Window) StartHints {
	sh := StartHints{AcceptInput: true}
	hints, err := icccm.WmHintsGet(c.xu, win)
	if err != nil {
		return sh
	}
	if hints.Flags&icccm.HintState > 0 {
		sh.StartIconic = hints.InitialState == icccm.StateIconic
	}
	if hints.Flags&icccm.HintInput > 0 {
		sh.AcceptInput = hints.Input == 1
	}
	return sh
}

// ReadProtocols decodes WM_PROTOCOLS.
func (c *Conn) ReadProtocols(win xproto.Window) Protocols {
	var p Protocols
	names, err := icccm.WmProtocolsGet(c.xu, win)
	if err != nil {
		return p
	}
	for _, name := range names {
		switch name {
		case "WM_DELETE_WINDOW":
			p.DeleteWindow = true
		case "WM_TAKE_FOCUS":
			p.TakeFocus = true
		}
	}
	return p
}

// ReadMotifHints decodes _MOTIF_WM_HINTS.
func (c *Conn) ReadMotifHints(win xproto.Window) MotifHints {
	reply, err := xproto.GetProperty(c.conn, false, win, c.Atoms.MotifWmHints,
		xproto.GetPropertyTypeAny, 0, 5).Reply()
	if err != nil || reply.Format != 32 {
		return MotifHints{}
	}
	raw := make([]uint32, 0, reply.ValueLen)
	for i := 0; i+4 <= len(reply.Value); i += 4 {
		raw = append(raw, xgb.Get32(reply.Value[i:]))
	}
	return parseMotifHints(raw)
}

// Attributes reports override-redirect and map state for adoption scans.
func (c *Conn) Attributes(win xproto.Window) (overrideRedirect, mapped bool, err error) {
	reply, err := xproto.GetWindowAttributes(c.conn, win).Reply()
	if err != nil {
		return false, false, err
	}
	return reply.OverrideRedirect, reply.MapState == xproto.MapStateViewable, nil
}

// Geometry reads the server-side geometry of a window.
func (c *Conn) Geometry(win xproto.Window) (x, y, w, h int32, err error) {
	reply, err := xproto.GetGeometry(c.conn, xproto.Drawable(win)).Reply()
	if err != nil {
		return 0, 0, 0, 0, err
	}
	return int32(reply.X), int32(reply.Y), int32(reply.Width), int32(reply.Height), nil
}

// Children lists the root's children, oldest first.
func (c *Conn) Children() ([]xproto.Window, error) {
	reply, err := xproto.QueryTree(c.conn, c.root).Reply()
	if err != nil {
		return nil, err
	}
	return reply.Children, nil
}

// ConfigureWindow moves and resizes a managed window, stripping any
// border.
func (c *Conn) ConfigureWindow(win xproto.Window, x, y, w, h int32) {
	xproto.ConfigureWindow(c.conn, win,
		xproto.ConfigWindowX|xproto.ConfigWindowY|
			xproto.ConfigWindowWidth|xproto.ConfigWindowHeight|
			xproto.ConfigWindowBorderWidth,
		[]uint32{uint32(x), uint32(y), uint32(w), uint32(h), 0})
}

// MapWindow maps a window, normally in answer to a MapRequest.
func (c *Conn) MapWindow(win xproto.Window) {
	xproto.MapWindow(c.conn, win)
}

// UnmapWindow hides a window, used when iconifying.
func (c *Conn) UnmapWindow(win xproto.Window) {
	xproto.UnmapWindow(c.conn, win)
}

// SendConfigureNotify tells the client where its window is, for moves the
// server never performed or configures we answered without resizing.
func (c *Conn) SendConfigureNotify(win xproto.Window, x, y, w, h int32) {
	ev := xproto.ConfigureNotifyEvent{
		Event:            win,
		Window:           win,
		AboveSibling:     xproto.WindowNone,
		X:                int16(x),
		Y:                int16(y),
		Width:            uint16(w),
		Height:           uint16(h),
		BorderWidth:      0,
		OverrideRedirect: false,
	}
	xproto.SendEvent(c.conn, false, win,
		xproto.EventMaskStructureNotify, string(ev.Bytes()))
}

// SetWMState publishes the ICCCM WM_STATE property. Use the icccm state
// constants.
func (c *Conn) SetWMState(win xproto.Window, state uint) {
	_ = icccm.WmStateSet(c.xu, win, &icccm.WmState{State: state})
}

// SetNetStates replaces _NET_WM_STATE with the given set.
func (c *Conn) SetNetStates(win xproto.Window, st NetStates) {
	var atoms []xproto.Atom
	if st.MaximizedVert {
		atoms = append(atoms, c.Atoms.NetWmStateMaxVert)
	}
	if st.MaximizedHorz {
		atoms = append(atoms, c.Atoms.NetWmStateMaxHorz)
	}
	if st.Fullscreen {
		atoms = append(atoms, c.Atoms.NetWmStateFullscreen)
	}
	if st.Focused {
		atoms = append(atoms, c.Atoms.NetWmStateFocused)
	}
	if st.Hidden {
		atoms = append(atoms, c.Atoms.NetWmStateHidden)
	}
	data := make([]byte, 4*len(atoms))
	for i, atom := range atoms {
		xgb.Put32(data[i*4:], uint32(atom))
	}
	xproto.ChangeProperty(c.conn, xproto.PropModeReplace, win,
		c.Atoms.NetWmState, xproto.AtomAtom, 32, uint32(len(atoms)), data)
}

// SetActiveWindow publishes _NET_ACTIVE_WINDOW on the root.
func (c *Conn) SetActiveWindow(win xproto.Window) {
	_ = ewmh.ActiveWindowSet(c.xu, win)
}

// SetClientList publishes _NET_CLIENT_LIST on the root.
func (c *Conn) SetClientList(wins []xproto.Window) {
	_ = ewmh.ClientListSet(c.xu, wins)
}

// SetFrameExtents publishes _NET_FRAME_EXTENTS. The host draws any frame,
// so extents are zero, but toolkits read the property when placing popups.
func (c *Conn) SetFrameExtents(win xproto.Window, left, right, top, bottom int32) {
	data := make([]byte, 16)
	xgb.Put32(data, uint32(left))
	xgb.Put32(data[4:], uint32(right))
	xgb.Put32(data[8:], uint32(top))
	xgb.Put32(data[12:], uint32(bottom))
	xproto.ChangeProperty(c.conn, xproto.PropModeReplace, win,
		c.Atoms.NetFrameExtents, xproto.AtomCardinal, 32, 4, data)
}

// FocusWindow moves input focus. Clients advertising WM_TAKE_FOCUS get the
// client message as well, per ICCCM globally active input.
func (c *Conn) FocusWindow(win xproto.Window, p Protocols, accept bool) {
	if accept {
		xproto.SetInputFocus(c.conn, xproto.InputFocusPointerRoot, win,
			xproto.TimeCurrentTime)
	}
	if p.TakeFocus {
		c.sendProtocolMessage(win, c.Atoms.WmTakeFocus)
	}
}

// SendDelete asks a window to close, falling back to killing the client
// when WM_DELETE_WINDOW is not supported.
func (c *Conn) SendDelete(win xproto.Window, p Protocols) {
	if !p.DeleteWindow {
		xproto.KillClient(c.conn, uint32(win))
		return
	}
	c.sendProtocolMessage(win, c.Atoms.WmDeleteWindow)
}

func (c *Conn) sendProtocolMessage(win xproto.Window, protocol xproto.Atom) {
	ev := xproto.ClientMessageEvent{
		Format: 32,
		Window: win,
		Type:   c.Atoms.WmProtocols,
		Data: xproto.ClientMessageDataUnionData32New([]uint32{
			uint32(protocol), uint32(xproto.TimeCurrentTime), 0, 0, 0,
		}),
	}
	xproto.SendEvent(c.conn, false, win, xproto.EventMaskNoEvent,
		string(ev.Bytes()))
}

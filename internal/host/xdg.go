package host

// WmBase wraps xdg_wm_base. Ping is answered inline so the compositor
// never marks the gateway unresponsive.
type WmBase struct {
	BaseProxy
}

const (
	wmBaseDestroyOpcode          = 0
	wmBaseCreatePositionerOpcode = 1
	wmBaseGetXdgSurfaceOpcode    = 2
	wmBasePongOpcode             = 3
)

const wmBasePingEvent = 0

// NewWmBase returns an unbound xdg_wm_base wrapper.
func NewWmBase(d *Display) *WmBase {
	w := &WmBase{}
	w.attach(d)
	return w
}

// GetXdgSurface wraps a wl_surface for shell use.
func (w *WmBase) GetXdgSurface(s *Surface) (*XdgSurface, error) {
	x := &XdgSurface{}
	x.attach(w.Display())
	w.Display().Register(x)
	if err := w.Display().SendRequest(w, wmBaseGetXdgSurfaceOpcode, x.ID(), s); err != nil {
		return nil, err
	}
	return x, nil
}

// CreatePositioner creates a positioner for popup placement.
func (w *WmBase) CreatePositioner() (*Positioner, error) {
	p := &Positioner{}
	p.attach(w.Display())
	w.Display().Register(p)
	if err := w.Display().SendRequest(w, wmBaseCreatePositionerOpcode, p.ID()); err != nil {
		return nil, err
	}
	return p, nil
}

// Dispatch handles xdg_wm_base events.
func (w *WmBase) Dispatch(ev *Event) {
	if ev.Opcode == wmBasePingEvent {
		serial := ev.Uint32()
		if err := w.Display().SendRequest(w, wmBasePongOpcode, serial); err != nil {
			return
		}
	}
}

// XdgSurface wraps xdg_surface.
type XdgSurface struct {
	BaseProxy

	// OnConfigure delivers the serial that must be acked before the next
	// commit takes effect.
	OnConfigure func(serial uint32)
}

const (
	xdgSurfaceDestroyOpcode           = 0
	xdgSurfaceGetToplevelOpcode       = 1
	xdgSurfaceGetPopupOpcode          = 2
	xdgSurfaceSetWindowGeometryOpcode = 3
	xdgSurfaceAckConfigureOpcode      = 4
)

const xdgSurfaceConfigureEvent = 0

// Destroy releases the xdg_surface.
func (x *XdgSurface) Destroy() error {
	err := x.Display().SendRequest(x, xdgSurfaceDestroyOpcode)
	x.Display().Unregister(x.ID())
	return err
}

// GetToplevel assigns the toplevel role.
func (x *XdgSurface) GetToplevel() (*Toplevel, error) {
	t := &Toplevel{}
	t.attach(x.Display())
	x.Display().Register(t)
	if err := x.Display().SendRequest(x, xdgSurfaceGetToplevelOpcode, t.ID()); err != nil {
		return nil, err
	}
	return t, nil
}

// GetPopup assigns the popup role, anchored to parent via the positioner.
func (x *XdgSurface) GetPopup(parent *XdgSurface, pos *Positioner) (*Popup, error) {
	p := &Popup{}
	p.attach(x.Display())
	x.Display().Register(p)
	var parentProxy Proxy
	if parent != nil {
		parentProxy = parent
	}
	if err := x.Display().SendRequest(x, xdgSurfaceGetPopupOpcode, p.ID(), parentProxy, pos); err != nil {
		return nil, err
	}
	return p, nil
}

// SetWindowGeometry declares the visible bounds of the surface.
func (x *XdgSurface) SetWindowGeometry(gx, gy, gw, gh int32) error {
	return x.Display().SendRequest(x, xdgSurfaceSetWindowGeometryOpcode, gx, gy, gw, gh)
}

// AckConfigure acknowledges a configure serial.
func (x *XdgSurface) AckConfigure(serial uint32) error {
	return x.Display().SendRequest(x, xdgSurfaceAckConfigureOpcode, serial)
}

// Dispatch handles xdg_surface events.
func (x *XdgSurface) Dispatch(ev *Event) {
	if ev.Opcode == xdgSurfaceConfigureEvent && x.OnConfigure != nil {
		x.OnConfigure(ev.Uint32())
	}
}

// Toplevel state values carried in configure events.
const (
	ToplevelStateMaximized  = 1
	ToplevelStateFullscreen = 2
	ToplevelStateResizing   = 3
	ToplevelStateActivated  = 4
)

// Resize edge values for xdg_toplevel.resize.
const (
	ResizeEdgeNone        = 0
	ResizeEdgeTop         = 1
	ResizeEdgeBottom      = 2
	ResizeEdgeLeft        = 4
	ResizeEdgeTopLeft     = 5
	ResizeEdgeBottomLeft  = 6
	ResizeEdgeRight       = 8
	ResizeEdgeTopRight    = 9
	ResizeEdgeBottomRight = 10
)

// Toplevel wraps xdg_toplevel.
type Toplevel struct {
	BaseProxy

	// OnConfigure delivers the size and state set the compositor wants.
	// Zero width or height leaves sizing to the client.
	OnConfigure func(width, height int32, states []uint32)
	OnClose     func()
}

const (
	toplevelDestroyOpcode         = 0
	toplevelSetParentOpcode       = 1
	toplevelSetTitleOpcode        = 2
	toplevelSetAppIDOpcode        = 3
	toplevelMoveOpcode            = 5
	toplevelResizeOpcode          = 6
	toplevelSetMaxSizeOpcode      = 7
	toplevelSetMinSizeOpcode      = 8
	toplevelSetMaximizedOpcode    = 9
	toplevelUnsetMaximizedOpcode  = 10
	toplevelSetFullscreenOpcode   = 11
	toplevelUnsetFullscreenOpcode = 12
	toplevelSetMinimizedOpcode    = 13
)

const (
	toplevelConfigureEvent = 0
	toplevelCloseEvent     = 1
)

// Destroy releases the toplevel role.
func (t *Toplevel) Destroy() error {
	err := t.Display().SendRequest(t, toplevelDestroyOpcode)
	t.Display().Unregister(t.ID())
	return err
}

// SetParent stacks this toplevel above parent. Nil clears.
func (t *Toplevel) SetParent(parent *Toplevel) error {
	var p Proxy
	if parent != nil {
		p = parent
	}
	return t.Display().SendRequest(t, toplevelSetParentOpcode, p)
}

// SetTitle sets the window title.
func (t *Toplevel) SetTitle(title string) error {
	return t.Display().SendRequest(t, toplevelSetTitleOpcode, title)
}

// SetAppID sets the application identifier.
func (t *Toplevel) SetAppID(appID string) error {
	return t.Display().SendRequest(t, toplevelSetAppIDOpcode, appID)
}

// Move starts an interactive move using an input serial.
func (t *Toplevel) Move(seat *Seat, serial uint32) error {
	return t.Display().SendRequest(t, toplevelMoveOpcode, seat, serial)
}

// Resize starts an interactive resize from the given edge.
func (t *Toplevel) Resize(seat *Seat, serial uint32, edges uint32) error {
	return t.Display().SendRequest(t, toplevelResizeOpcode, seat, serial, edges)
}

// SetMaxSize declares the largest usable size, 0 meaning unbounded.
func (t *Toplevel) SetMaxSize(w, h int32) error {
	return t.Display().SendRequest(t, toplevelSetMaxSizeOpcode, w, h)
}

// SetMinSize declares the smallest usable size.
func (t *Toplevel) SetMinSize(w, h int32) error {
	return t.Display().SendRequest(t, toplevelSetMinSizeOpcode, w, h)
}

// SetMaximized asks the compositor to maximize.
func (t *Toplevel) SetMaximized() error {
	return t.Display().SendRequest(t, toplevelSetMaximizedOpcode)
}

// UnsetMaximized asks the compositor to restore.
func (t *Toplevel) UnsetMaximized() error {
	return t.Display().SendRequest(t, toplevelUnsetMaximizedOpcode)
}

// SetFullscreen asks for fullscreen, optionally on a specific output.
func (t *Toplevel) SetFullscreen(output *Output) error {
	var p Proxy
	if output != nil {
		p = output
	}
	return t.Display().SendRequest(t, toplevelSetFullscreenOpcode, p)
}

// UnsetFullscreen leaves fullscreen.
func (t *Toplevel) UnsetFullscreen() error {
	return t.Display().SendRequest(t, toplevelUnsetFullscreenOpcode)
}

// SetMinimized asks the compositor to minimize.
func (t *Toplevel) SetMinimized() error {
	return t.Display().SendRequest(t, toplevelSetMinimizedOpcode)
}

// Dispatch handles xdg_toplevel events.
func (t *Toplevel) Dispatch(ev *Event) {
	switch ev.Opcode {
	case toplevelConfigureEvent:
		width := ev.Int32()
		height := ev.Int32()
		raw := ev.Array()
		states := make([]uint32, 0, len(raw)/4)
		for i := 0; i+4 <= len(raw); i += 4 {
			states = append(states,
				uint32(raw[i])|uint32(raw[i+1])<<8|uint32(raw[i+2])<<16|uint32(raw[i+3])<<24)
		}
		if t.OnConfigure != nil {
			t.OnConfigure(width, height, states)
		}
	case toplevelCloseEvent:
		if t.OnClose != nil {
			t.OnClose()
		}
	}
}

// Positioner wraps xdg_positioner.
type Positioner struct {
	BaseProxy
}

const (
	positionerDestroyOpcode       = 0
	positionerSetSizeOpcode       = 1
	positionerSetAnchorRectOpcode = 2
	positionerSetAnchorOpcode     = 3
	positionerSetGravityOpcode    = 4
	positionerSetOffsetOpcode     = 6
)

// Anchor and gravity values shared by popup placement.
const (
	AnchorNone    = 0
	AnchorTopLeft = 5
	GravityNone   = 0
	// Bottom|right keeps override-redirect popups growing down-right the
	// way X clients expect.
	GravityBottomRight = 10
)

// Destroy releases the positioner.
func (p *Positioner) Destroy() error {
	err := p.Display().SendRequest(p, positionerDestroyOpcode)
	p.Display().Unregister(p.ID())
	return err
}

// SetSize declares the popup's size.
func (p *Positioner) SetSize(w, h int32) error {
	return p.Display().SendRequest(p, positionerSetSizeOpcode, w, h)
}

// SetAnchorRect declares the parent-relative anchor rectangle.
func (p *Positioner) SetAnchorRect(x, y, w, h int32) error {
	return p.Display().SendRequest(p, positionerSetAnchorRectOpcode, x, y, w, h)
}

// SetAnchor picks the anchor point on the anchor rectangle.
func (p *Positioner) SetAnchor(anchor uint32) error {
	return p.Display().SendRequest(p, positionerSetAnchorOpcode, anchor)
}

// SetGravity picks the growth direction from the anchor.
func (p *Positioner) SetGravity(gravity uint32) error {
	return p.Display().SendRequest(p, positionerSetGravityOpcode, gravity)
}

// SetOffset nudges the popup relative to the anchor.
func (p *Positioner) SetOffset(x, y int32) error {
	return p.Display().SendRequest(p, positionerSetOffsetOpcode, x, y)
}

// Dispatch handles xdg_positioner events (there are none).
func (p *Positioner) Dispatch(ev *Event) {
	// No events defined for xdg_positioner
}

// Popup wraps xdg_popup.
type Popup struct {
	BaseProxy

	OnConfigure func(x, y, w, h int32)
	OnDone      func()
}

const popupDestroyOpcode = 0

const (
	popupConfigureEvent = 0
	popupDoneEvent      = 1
)

// Destroy releases the popup role.
func (p *Popup) Destroy() error {
	err := p.Display().SendRequest(p, popupDestroyOpcode)
	p.Display().Unregister(p.ID())
	return err
}

// Dispatch handles xdg_popup events.
func (p *Popup) Dispatch(ev *Event) {
	switch ev.Opcode {
	case popupConfigureEvent:
		x := ev.Int32()
		y := ev.Int32()
		w := ev.Int32()
		h := ev.Int32()
		if p.OnConfigure != nil {
			p.OnConfigure(x, y, w, h)
		}
	case popupDoneEvent:
		if p.OnDone != nil {
			p.OnDone()
		}
	}
}

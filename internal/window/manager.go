package window

import (
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/bnema/waybridge/internal/logger"
	"github.com/bnema/waybridge/internal/quirks"
	"github.com/bnema/waybridge/internal/surface"
	"github.com/bnema/waybridge/internal/transform"
)

// Options carries the policy knobs the manager reads from configuration.
type Options struct {
	CenterNewWindows bool
	TitlePrefix      string
	AppIDPrefix      string
	Decorations      bool
}

// Manager owns every window record. All methods must run on the
// dispatch loop.
type Manager struct {
	log    *log.Logger
	shell  Shell
	guest  Guest
	scaler *transform.Scaler
	quirks *quirks.Table
	opts   Options

	windows  map[uint32]*Window
	unpaired map[uint32]*Window
	order    []uint32
	active   *Window

	// Output dimensions in guest pixels, for centering and clamping.
	outputW int32
	outputH int32

	// InputSerial supplies the most recent host input serial, for
	// interactive move and resize requests. Nil means no input yet.
	InputSerial func() uint32

	// Resolver looks pipeline surfaces up by guest protocol id. The
	// gateway installs it.
	Resolver SurfaceResolver
}

// SurfaceResolver resolves a guest wl_surface id to a pipeline surface.
type SurfaceResolver func(wlID uint32) *surface.Surface

// NewManager builds an empty manager.
func NewManager(shell Shell, guest Guest, scaler *transform.Scaler, q *quirks.Table, opts Options) *Manager {
	if q == nil {
		q = &quirks.Table{}
	}
	return &Manager{
		log:      logger.With("component", "window"),
		shell:    shell,
		guest:    guest,
		scaler:   scaler,
		quirks:   q,
		opts:     opts,
		windows:  make(map[uint32]*Window),
		unpaired: make(map[uint32]*Window),
	}
}

// SetOutput records the primary output size in guest pixels.
func (m *Manager) SetOutput(width, height int32) {
	m.outputW, m.outputH = width, height
}

// Count returns the number of tracked windows.
func (m *Manager) Count() int {
	return len(m.windows)
}

// Snapshot lists every window for the control socket, in map order.
func (m *Manager) Snapshot() []Info {
	infos := make([]Info, 0, len(m.order))
	for _, id := range m.order {
		w, ok := m.windows[id]
		if !ok {
			continue
		}
		infos = append(infos, Info{
			ID:       w.id,
			Title:    w.props.Title,
			Class:    w.props.Class,
			State:    w.state.String(),
			Geometry: w.geom,
		})
	}
	return infos
}

// Get returns a window record, nil when unknown.
func (m *Manager) Get(id uint32) *Window {
	return m.windows[id]
}

func (m *Manager) lookup(id uint32, op string) *Window {
	w, ok := m.windows[id]
	if !ok {
		m.log.Debug("ignoring event for unknown window", "op", op, "window", id)
		return nil
	}
	return w
}

// Create registers a new window record in the unmanaged state.
func (m *Manager) Create(id uint32, geom Geometry, overrideRedirect bool) *Window {
	if old, ok := m.windows[id]; ok {
		m.log.Warn("window id reused before destroy", "window", id)
		m.Destroy(old.id)
	}
	w := &Window{
		mgr:      m,
		id:       id,
		state:    Unmanaged,
		geom:     geom,
		override: overrideRedirect,
	}
	m.windows[id] = w
	m.log.Debug("window created", "window", id, "override", overrideRedirect,
		"geometry", fmt.Sprintf("%dx%d+%d+%d", geom.Width, geom.Height, geom.X, geom.Y))
	return w
}

// Destroy removes a window record and its host presence.
func (m *Manager) Destroy(id uint32) {
	w := m.lookup(id, "destroy")
	if w == nil {
		return
	}
	m.teardownHost(w)
	if w.surface != nil {
		w.surface.OnCommit = nil
		w.surface = nil
	}
	if w.surfaceID != 0 {
		delete(m.unpaired, w.surfaceID)
	}
	if m.active == w {
		m.active = nil
		m.guest.SetActiveWindow(0)
	}
	delete(m.windows, id)
	m.dropFromOrder(id)
	m.guest.SetClientList(m.order)
	m.log.Debug("window destroyed", "window", id)
}

// MapRequest manages a window: reads its metadata, places it, maps it
// and, once a surface is paired, creates the host frame.
func (m *Manager) MapRequest(id uint32) {
	w := m.lookup(id, "map-request")
	if w == nil {
		return
	}
	w.props = m.guest.ReadProps(id)
	if ov, ok := m.quirks.Lookup(w.props.Class, w.props.Instance); ok {
		w.quirk = ov
		m.log.Debug("quirks applied", "window", id, "class", w.props.Class)
	}
	w.state = Managed

	m.place(w)
	m.guest.ConfigureWindow(id, w.geom.X, w.geom.Y, w.geom.Width, w.geom.Height)
	m.guest.MapWindow(id)
	m.guest.SetFrameExtents(id, 0, 0, 0, 0)

	if w.props.StartIconic {
		w.state = Iconified
		m.guest.SetWMState(id, IconicState)
	} else {
		w.state = Mapped
		m.guest.SetWMState(id, NormalState)
	}
	m.pushNetStates(w)

	m.order = append(m.order, id)
	m.guest.SetClientList(m.order)

	m.log.Info("window mapped", "window", id, "title", w.props.Title,
		"class", w.props.Class)
	m.tryPair(w)
}

// MapNotify handles windows that mapped without a request, which is how
// override-redirect windows appear.
func (m *Manager) MapNotify(id uint32) {
	w := m.lookup(id, "map-notify")
	if w == nil || !w.override || w.state != Unmanaged {
		return
	}
	w.props = m.guest.ReadProps(id)
	w.state = Mapped
	m.tryPair(w)
}

// Unmap reverses MapRequest: the host frame goes away, the surface is
// held again and the record returns to unmanaged.
func (m *Manager) Unmap(id uint32) {
	w := m.lookup(id, "unmap")
	if w == nil || w.state == Unmanaged {
		return
	}
	m.teardownHost(w)
	if !w.override {
		m.guest.SetWMState(id, WithdrawnState)
	}
	if m.active == w {
		m.active = nil
		m.guest.SetActiveWindow(0)
	}
	w.state = Unmanaged
	w.maximized, w.fullscreen, w.activated = false, false, false
	m.dropFromOrder(id)
	m.guest.SetClientList(m.order)
	m.log.Debug("window unmapped", "window", id)
}

// SetSurfaceID records the guest surface announcement and pairs when the
// surface already exists. The announcement can race the surface creation
// on the other socket, in which case pairing completes in
// SurfaceCreated.
func (m *Manager) SetSurfaceID(id, wlID uint32) {
	w := m.lookup(id, "surface-id")
	if w == nil {
		return
	}
	if w.surfaceID != 0 {
		delete(m.unpaired, w.surfaceID)
	}
	w.surfaceID = wlID
	if s := m.findSurface(wlID); s != nil {
		m.attach(w, s)
		return
	}
	m.unpaired[wlID] = w
}

func (m *Manager) findSurface(wlID uint32) *surface.Surface {
	if m.Resolver == nil {
		return nil
	}
	return m.Resolver(wlID)
}

// SurfaceCreated completes a pairing that raced the announcement.
func (m *Manager) SurfaceCreated(wlID uint32, s *surface.Surface) {
	w, ok := m.unpaired[wlID]
	if !ok {
		return
	}
	delete(m.unpaired, wlID)
	m.attach(w, s)
}

// SurfaceDestroyed drops the pairing when the guest surface dies. The
// host frame cannot outlive the surface it was created for.
func (m *Manager) SurfaceDestroyed(wlID uint32) {
	delete(m.unpaired, wlID)
	for _, w := range m.windows {
		if w.surfaceID == wlID && w.surface != nil {
			w.surface.OnCommit = nil
			w.surface = nil
			w.surfaceID = 0
			m.teardownHost(w)
			return
		}
	}
}

func (m *Manager) attach(w *Window, s *surface.Surface) {
	w.surface = s
	s.OnCommit = func(cw, ch int32) { m.handleCommit(w, cw, ch) }
	if w.quirk.Scale > 0 {
		s.SetDirectScale(w.quirk.Scale, w.quirk.Scale)
	}
	if w.quirk.NoViewport {
		s.DisableViewport()
	}
	m.tryPair(w)
}

// tryPair creates the host frame once the window is mapped and has a
// surface.
func (m *Manager) tryPair(w *Window) {
	if w.frame != nil || w.surface == nil {
		return
	}
	if w.state != Mapped && w.state != Iconified {
		return
	}
	if w.override {
		m.createPopup(w)
		return
	}
	m.createToplevel(w)
}

func (m *Manager) createToplevel(w *Window) {
	tl, err := m.shell.CreateToplevel(w)
	if err != nil {
		m.log.Error("host toplevel creation failed", "window", w.id, "error", err)
		return
	}
	w.toplevel = tl
	w.frame = tl

	m.applyTitle(w)
	m.applyAppID(w)
	m.applySizeHints(w)
	m.applyDecorations(w)
	if parent := m.windows[w.props.TransientFor]; parent != nil && parent.toplevel != nil {
		if err := tl.SetParent(parent.toplevel); err != nil {
			m.log.Warn("set_parent failed", "window", w.id, "error", err)
		}
	}
	if w.maximized {
		_ = tl.SetMaximized(true)
	}
	if w.fullscreen {
		_ = tl.SetFullscreen(true)
	}
	if w.state == Iconified {
		_ = tl.SetMinimized()
	}
	m.log.Debug("host toplevel created", "window", w.id)
	// The host answers with the initial configure; the surface stays
	// held until that is acknowledged.
}

func (m *Manager) createPopup(w *Window) {
	parent := m.popupParent(w)
	if parent == nil {
		// No anchor to position against; a standalone toplevel is the
		// closest the host protocol offers.
		m.createToplevel(w)
		return
	}
	pair := m.scaler.Pair()
	relX, relY := pair.GuestToHostPoint(w.geom.X-parent.geom.X, w.geom.Y-parent.geom.Y)
	pw, ph := pair.GuestToHostSize(w.geom.Width, w.geom.Height)
	popup, err := m.shell.CreatePopup(w, parent, relX, relY, pw, ph)
	if err != nil {
		m.log.Error("host popup creation failed", "window", w.id, "error", err)
		return
	}
	w.frame = popup
	m.log.Debug("host popup created", "window", w.id, "parent", parent.id)
}

func (m *Manager) popupParent(w *Window) *Window {
	if p := m.windows[w.props.TransientFor]; p != nil && p.frame != nil {
		return p
	}
	if m.active != nil && m.active.frame != nil {
		return m.active
	}
	return nil
}

// place centers a window that carried no position hint and clamps it
// onto the output.
func (m *Manager) place(w *Window) {
	if w.props.PositionSet || !m.opts.CenterNewWindows {
		return
	}
	if m.outputW <= 0 || m.outputH <= 0 {
		return
	}
	if w.geom.Width < m.outputW {
		w.geom.X = (m.outputW - w.geom.Width) / 2
	} else {
		w.geom.X = 0
	}
	if w.geom.Height < m.outputH {
		w.geom.Y = (m.outputH - w.geom.Height) / 2
	} else {
		w.geom.Y = 0
	}
}

// HandleConfigure applies a host configure, deferring when a prior one
// is still unacknowledged. Two configures are never in flight toward the
// guest at once; later arrivals overwrite the queued slot.
func (m *Manager) HandleConfigure(id uint32, cfg Configure) {
	w := m.lookup(id, "configure")
	if w == nil {
		return
	}
	w.lastSerial = cfg.Serial
	if w.frame == nil {
		m.log.Debug("configure without host frame", "window", id, "serial", cfg.Serial)
		return
	}
	if w.pending != nil {
		w.next = &cfg
		return
	}
	m.routeConfigure(w, cfg)
}

// routeConfigure drops already-acknowledged serials and stale echoes
// behind the guest-resize barrier, applying everything else.
func (m *Manager) routeConfigure(w *Window, cfg Configure) {
	if cfg.Serial <= w.lastAcked {
		m.log.Debug("configure older than last ack", "window", w.id, "serial", cfg.Serial)
		return
	}
	if w.barrier != 0 && cfg.Serial <= w.barrier {
		// Pre-request state the guest has already moved past.
		// Acknowledge so the host can retire the serial, apply nothing.
		m.ackSerial(w, cfg.Serial)
		return
	}
	m.applyConfigure(w, cfg)
}

func (m *Manager) applyConfigure(w *Window, cfg Configure) {
	w.pending = &cfg
	m.syncStates(w, cfg.States)

	if cfg.Width > 0 && cfg.Height > 0 {
		gw, gh := m.scaler.Pair().HostToGuestSize(cfg.Width, cfg.Height)
		if gw != w.geom.Width || gh != w.geom.Height {
			w.geom.Width, w.geom.Height = gw, gh
			m.guest.ConfigureWindow(w.id, w.geom.X, w.geom.Y, gw, gh)
			// Ack waits for contents of the new size.
			return
		}
		m.guest.SendConfigureNotify(w.id, w.geom.X, w.geom.Y, w.geom.Width, w.geom.Height)
	}
	m.ackPending(w)
}

// ackPending acknowledges the pending configure. With no pending serial
// it is a no-op, so repeated acknowledgements never double-apply.
func (m *Manager) ackPending(w *Window) {
	if w.pending == nil {
		return
	}
	serial := w.pending.Serial
	w.pending = nil
	m.ackSerial(w, serial)
	if w.surface != nil && w.surface.Held() {
		if err := w.surface.Unhold(); err != nil {
			m.log.Error("deferred commit flush failed", "window", w.id, "error", err)
		}
	}
	if w.next != nil {
		next := *w.next
		w.next = nil
		m.routeConfigure(w, next)
	}
}

func (m *Manager) ackSerial(w *Window, serial uint32) {
	if serial <= w.lastAcked || w.frame == nil {
		return
	}
	if err := w.frame.AckConfigure(serial); err != nil {
		m.log.Error("ack_configure failed", "window", w.id, "error", err)
		return
	}
	w.lastAcked = serial
}

// handleCommit runs on every guest commit of the paired surface, with
// the surface-local contents size.
func (m *Manager) handleCommit(w *Window, cw, ch int32) {
	if w.pending == nil {
		return
	}
	if w.pending.Width > 0 && w.pending.Height > 0 {
		gw, gh := m.scaler.Pair().HostToGuestSize(w.pending.Width, w.pending.Height)
		if cw != gw || ch != gh {
			// Contents still at the old size; keep waiting.
			return
		}
	}
	m.ackPending(w)
}

// syncStates folds host-asserted states into the record and the guest
// properties.
func (m *Manager) syncStates(w *Window, st HostStates) {
	w.maximized = st.Maximized
	w.fullscreen = st.Fullscreen

	if st.Activated && !w.activated {
		w.activated = true
		m.activate(w)
		if w.state == Iconified {
			m.deiconify(w)
		}
	} else if !st.Activated && w.activated {
		w.activated = false
		if m.active == w {
			m.active = nil
			m.guest.SetActiveWindow(0)
		}
	}
	m.pushNetStates(w)
}

func (m *Manager) activate(w *Window) {
	if m.active == w {
		return
	}
	if old := m.active; old != nil {
		old.activated = false
		m.pushNetStates(old)
	}
	m.active = w
	m.guest.SetFocus(w.id, w.props.AcceptInput, w.props.TakeFocus)
	m.guest.SetActiveWindow(w.id)
}

func (m *Manager) deiconify(w *Window) {
	w.state = Mapped
	m.guest.SetWMState(w.id, NormalState)
	latched := w.latched
	w.latched = nil
	for _, fn := range latched {
		fn()
	}
	m.pushNetStates(w)
}

func (m *Manager) pushNetStates(w *Window) {
	m.guest.SetNetStates(w.id, NetStates{
		MaximizedVert: w.maximized,
		MaximizedHorz: w.maximized,
		Fullscreen:    w.fullscreen,
		Focused:       w.activated,
		Hidden:        w.state == Iconified,
	})
}

// ConfigureRequest answers a guest-side configure request.
func (m *Manager) ConfigureRequest(id uint32, x, y, width, height int32, mask ConfigMask) {
	w := m.lookup(id, "configure-request")
	if w == nil {
		return
	}
	merged := w.geom
	if mask&MaskX != 0 {
		merged.X = x
	}
	if mask&MaskY != 0 {
		merged.Y = y
	}
	if mask&MaskWidth != 0 {
		merged.Width = width
	}
	if mask&MaskHeight != 0 {
		merged.Height = height
	}

	if w.state == Unmanaged || w.override {
		w.geom = merged
		m.guest.ConfigureWindow(id, merged.X, merged.Y, merged.Width, merged.Height)
		return
	}
	if w.fullscreen || w.maximized {
		// Host owns the geometry; tell the guest nothing moved.
		m.guest.SendConfigureNotify(id, w.geom.X, w.geom.Y, w.geom.Width, w.geom.Height)
		return
	}
	if merged == w.geom {
		m.guest.SendConfigureNotify(id, w.geom.X, w.geom.Y, w.geom.Width, w.geom.Height)
		return
	}
	w.geom = merged
	m.guest.ConfigureWindow(id, merged.X, merged.Y, merged.Width, merged.Height)
	// Host configures already seen describe pre-request geometry; mark
	// them stale. A pending one will never see matching contents now, so
	// retire it immediately.
	w.barrier = w.lastSerial
	m.ackPending(w)
}

// SyncGeometry records server-side geometry changes, which is how
// override-redirect moves are observed.
func (m *Manager) SyncGeometry(id uint32, x, y, width, height int32) {
	w, ok := m.windows[id]
	if !ok {
		return
	}
	w.geom = Geometry{X: x, Y: y, Width: width, Height: height}
}

// ChangeState handles WM_CHANGE_STATE client messages.
func (m *Manager) ChangeState(id uint32, state uint32) {
	w := m.lookup(id, "change-state")
	if w == nil {
		return
	}
	if WMState(state) != IconicState || w.state != Mapped {
		return
	}
	w.state = Iconified
	m.guest.SetWMState(id, IconicState)
	m.pushNetStates(w)
	if w.toplevel != nil {
		if err := w.toplevel.SetMinimized(); err != nil {
			m.log.Error("set_minimized failed", "window", id, "error", err)
		}
	}
	m.log.Debug("window iconified", "window", id)
}

// NetStateChange handles _NET_WM_STATE client messages. Flags are not
// flipped locally; the host confirms through a configure.
func (m *Manager) NetStateChange(id uint32, action uint32, first, second StateAtom) {
	w := m.lookup(id, "net-wm-state")
	if w == nil || w.toplevel == nil {
		return
	}
	for _, atom := range []StateAtom{first, second} {
		switch atom {
		case StateAtomFullscreen:
			desired := resolveAction(action, w.fullscreen)
			if desired == w.fullscreen {
				continue
			}
			m.hostStateChange(w, func() error { return w.toplevel.SetFullscreen(desired) })
		case StateAtomMaximizedVert, StateAtomMaximizedHorz:
			desired := resolveAction(action, w.maximized)
			if desired == w.maximized {
				continue
			}
			m.hostStateChange(w, func() error { return w.toplevel.SetMaximized(desired) })
		}
	}
}

func resolveAction(action uint32, current bool) bool {
	switch action {
	case NetStateAdd:
		return true
	case NetStateRemove:
		return false
	default:
		return !current
	}
}

// hostStateChange forwards immediately when visible and latches while
// iconified, replaying on de-iconify.
func (m *Manager) hostStateChange(w *Window, fn func() error) {
	if w.state == Iconified {
		w.latched = append(w.latched, func() {
			if err := fn(); err != nil {
				m.log.Error("latched state change failed", "window", w.id, "error", err)
			}
		})
		return
	}
	if err := fn(); err != nil {
		m.log.Error("host state change failed", "window", w.id, "error", err)
	}
}

// Activate handles _NET_ACTIVE_WINDOW requests from guest clients. Focus
// belongs to the host, so this only revives iconified windows.
func (m *Manager) Activate(id uint32) {
	w := m.lookup(id, "activate")
	if w == nil {
		return
	}
	if w.state == Iconified {
		m.deiconify(w)
		return
	}
	m.log.Debug("guest activation request ignored", "window", id)
}

// Moveresize handles _NET_WM_MOVERESIZE, mapping it to host interactive
// move or resize with the latest harvested input serial.
func (m *Manager) Moveresize(id uint32, detail int32) {
	w := m.lookup(id, "moveresize")
	if w == nil || w.toplevel == nil {
		return
	}
	if m.InputSerial == nil {
		m.log.Debug("moveresize without input serial", "window", id)
		return
	}
	serial := m.InputSerial()
	switch {
	case detail == MoveresizeMove:
		if err := w.toplevel.Move(serial); err != nil {
			m.log.Error("interactive move failed", "window", id, "error", err)
		}
	case detail == MoveresizeCancel:
		// Nothing to cancel host-side.
	default:
		edge, ok := moveresizeEdges[detail]
		if !ok {
			return
		}
		if err := w.toplevel.Resize(serial, edge); err != nil {
			m.log.Error("interactive resize failed", "window", id, "error", err)
		}
	}
}

// PropertyChanged refreshes guest metadata and forwards what the host
// cares about.
func (m *Manager) PropertyChanged(id uint32, kind PropKind) {
	w, ok := m.windows[id]
	if !ok || w.state == Unmanaged {
		return
	}
	w.props = m.guest.ReadProps(id)
	if w.toplevel == nil {
		return
	}
	switch kind {
	case PropTitle:
		m.applyTitle(w)
	case PropClass:
		m.applyAppID(w)
	case PropNormalHints:
		m.applySizeHints(w)
	case PropMotif:
		m.applyDecorations(w)
	case PropTransient:
		if parent := m.windows[w.props.TransientFor]; parent != nil && parent.toplevel != nil {
			_ = w.toplevel.SetParent(parent.toplevel)
		}
	}
}

// Close asks the guest window to close, on behalf of the host.
func (m *Manager) Close(id uint32) {
	w := m.lookup(id, "close")
	if w == nil {
		return
	}
	m.guest.SendDelete(id, w.props.DeleteWindow)
}

func (m *Manager) applyTitle(w *Window) {
	title := w.props.Title
	if m.opts.TitlePrefix != "" {
		title = m.opts.TitlePrefix + title
	}
	if err := w.toplevel.SetTitle(title); err != nil {
		m.log.Warn("set_title failed", "window", w.id, "error", err)
	}
}

func (m *Manager) applyAppID(w *Window) {
	class := w.props.Class
	if class == "" {
		class = w.props.Instance
	}
	if err := w.toplevel.SetAppID(m.opts.AppIDPrefix + class); err != nil {
		m.log.Warn("set_app_id failed", "window", w.id, "error", err)
	}
}

func (m *Manager) applySizeHints(w *Window) {
	pair := m.scaler.Pair()
	var minW, minH, maxW, maxH int32
	if w.props.MinWidth > 0 && w.props.MinHeight > 0 {
		minW, minH = pair.GuestToHostSize(w.props.MinWidth, w.props.MinHeight)
	}
	if w.props.MaxWidth > 0 && w.props.MaxHeight > 0 {
		maxW, maxH = pair.GuestToHostSize(w.props.MaxWidth, w.props.MaxHeight)
	}
	if err := w.toplevel.SetMinSize(minW, minH); err != nil {
		m.log.Warn("set_min_size failed", "window", w.id, "error", err)
		return
	}
	if err := w.toplevel.SetMaxSize(maxW, maxH); err != nil {
		m.log.Warn("set_max_size failed", "window", w.id, "error", err)
	}
}

func (m *Manager) applyDecorations(w *Window) {
	decorated := m.opts.Decorations && w.props.Decorated && !w.quirk.NoDecorations
	if err := w.toplevel.SetDecorated(decorated); err != nil {
		m.log.Debug("decoration update not applied", "window", w.id, "error", err)
	}
}

func (m *Manager) teardownHost(w *Window) {
	if w.frame != nil {
		if err := w.frame.Destroy(); err != nil {
			m.log.Warn("host frame destroy failed", "window", w.id, "error", err)
		}
	}
	w.frame = nil
	w.toplevel = nil
	w.pending = nil
	w.next = nil
	w.barrier = 0
	w.lastAcked = 0
	w.latched = nil
	if w.surface != nil {
		w.surface.Hold()
	}
}

func (m *Manager) dropFromOrder(id uint32) {
	for i, other := range m.order {
		if other == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			return
		}
	}
}

// Package window drives the lifecycle of guest windows: mapping them to
// host toplevels or popups, relaying configure/ack handshakes in both
// directions and keeping guest-visible window state in step with the
// host compositor. It talks to the X side through the Guest interface
// and to the host through the Shell interface, so the state machine
// itself never touches a socket.
package window

import (
	"github.com/bnema/waybridge/internal/quirks"
	"github.com/bnema/waybridge/internal/surface"
)

// State is the lifecycle position of a window record.
type State int

const (
	// Unmanaged windows exist on the guest server but have no host
	// presence yet.
	Unmanaged State = iota
	// Managed windows passed MapRequest but are not visible yet.
	Managed
	// Mapped windows are visible, with a host frame once paired.
	Mapped
	// Iconified windows are minimized; host-bound state changes latch.
	Iconified
)

func (s State) String() string {
	switch s {
	case Unmanaged:
		return "unmanaged"
	case Managed:
		return "managed"
	case Mapped:
		return "mapped"
	case Iconified:
		return "iconified"
	}
	return "unknown"
}

// WMState values follow ICCCM WM_STATE numbering.
type WMState uint

const (
	WithdrawnState WMState = 0
	NormalState    WMState = 1
	IconicState    WMState = 3
)

// Geometry is a window rectangle in guest pixels.
type Geometry struct {
	X      int32 `json:"x"`
	Y      int32 `json:"y"`
	Width  int32 `json:"width"`
	Height int32 `json:"height"`
}

// Props is the guest-side metadata snapshot read at map time and kept
// fresh through property change notifications.
type Props struct {
	Title        string
	Instance     string
	Class        string
	TransientFor uint32

	MinWidth  int32
	MinHeight int32
	MaxWidth  int32
	MaxHeight int32

	Decorated    bool
	StartIconic  bool
	AcceptInput  bool
	DeleteWindow bool
	TakeFocus    bool
	PositionSet  bool
}

// NetStates is the _NET_WM_STATE set published on a guest window.
type NetStates struct {
	MaximizedVert bool
	MaximizedHorz bool
	Fullscreen    bool
	Focused       bool
	Hidden        bool
}

// HostStates are the window states asserted by a host configure.
type HostStates struct {
	Maximized  bool
	Fullscreen bool
	Resizing   bool
	Activated  bool
}

// Configure is one host configure event. Width and height are in host
// logical units; zero means the client picks.
type Configure struct {
	Serial uint32
	Width  int32
	Height int32
	States HostStates
}

// ResizeEdge matches the xdg_toplevel resize edge encoding.
type ResizeEdge uint32

const (
	EdgeNone        ResizeEdge = 0
	EdgeTop         ResizeEdge = 1
	EdgeBottom      ResizeEdge = 2
	EdgeLeft        ResizeEdge = 4
	EdgeTopLeft     ResizeEdge = 5
	EdgeBottomLeft  ResizeEdge = 6
	EdgeRight       ResizeEdge = 8
	EdgeTopRight    ResizeEdge = 9
	EdgeBottomRight ResizeEdge = 10
)

// MoveresizeDetail values from the _NET_WM_MOVERESIZE client message.
const (
	MoveresizeSizeTopLeft     = 0
	MoveresizeSizeTop         = 1
	MoveresizeSizeTopRight    = 2
	MoveresizeSizeRight       = 3
	MoveresizeSizeBottomRight = 4
	MoveresizeSizeBottom      = 5
	MoveresizeSizeBottomLeft  = 6
	MoveresizeSizeLeft        = 7
	MoveresizeMove            = 8
	MoveresizeCancel          = 11
)

var moveresizeEdges = map[int32]ResizeEdge{
	MoveresizeSizeTopLeft:     EdgeTopLeft,
	MoveresizeSizeTop:         EdgeTop,
	MoveresizeSizeTopRight:    EdgeTopRight,
	MoveresizeSizeRight:       EdgeRight,
	MoveresizeSizeBottomRight: EdgeBottomRight,
	MoveresizeSizeBottom:      EdgeBottom,
	MoveresizeSizeBottomLeft:  EdgeBottomLeft,
	MoveresizeSizeLeft:        EdgeLeft,
}

// StateAtom names the _NET_WM_STATE properties the manager understands.
type StateAtom int

const (
	StateAtomNone StateAtom = iota
	StateAtomFullscreen
	StateAtomMaximizedVert
	StateAtomMaximizedHorz
)

// _NET_WM_STATE client message actions.
const (
	NetStateRemove = 0
	NetStateAdd    = 1
	NetStateToggle = 2
)

// ConfigMask marks which fields of a guest configure request are set.
type ConfigMask uint8

const (
	MaskX ConfigMask = 1 << iota
	MaskY
	MaskWidth
	MaskHeight
)

// PropKind names a guest property the manager tracks.
type PropKind int

const (
	PropTitle PropKind = iota
	PropClass
	PropNormalHints
	PropHints
	PropProtocols
	PropMotif
	PropTransient
)

// Guest is everything the manager needs from the X side.
type Guest interface {
	ReadProps(win uint32) Props
	ConfigureWindow(win uint32, x, y, w, h int32)
	SendConfigureNotify(win uint32, x, y, w, h int32)
	MapWindow(win uint32)
	SetWMState(win uint32, state WMState)
	SetNetStates(win uint32, st NetStates)
	SetFrameExtents(win uint32, left, right, top, bottom int32)
	SetFocus(win uint32, accept, takeFocus bool)
	SetActiveWindow(win uint32)
	SendDelete(win uint32, hasProtocol bool)
	SetClientList(wins []uint32)
}

// Frame is a host window object of either role.
type Frame interface {
	AckConfigure(serial uint32) error
	Destroy() error
}

// Toplevel is a host toplevel window object.
type Toplevel interface {
	Frame
	SetTitle(title string) error
	SetAppID(id string) error
	SetParent(parent Toplevel) error
	SetMinSize(w, h int32) error
	SetMaxSize(w, h int32) error
	SetMaximized(on bool) error
	SetFullscreen(on bool) error
	SetMinimized() error
	SetDecorated(on bool) error
	Move(serial uint32) error
	Resize(serial uint32, edge ResizeEdge) error
}

// Popup is a host popup window object, anchored to a parent.
type Popup interface {
	Frame
}

// Shell creates host window objects for paired surfaces. Popup geometry
// is in host logical units relative to the parent.
type Shell interface {
	CreateToplevel(w *Window) (Toplevel, error)
	CreatePopup(w, parent *Window, x, y, width, height int32) (Popup, error)
}

// Window is one guest window record.
type Window struct {
	mgr *Manager
	id  uint32

	state    State
	geom     Geometry
	override bool
	props    Props
	quirk    quirks.Overrides

	surfaceID uint32
	surface   *surface.Surface

	frame    Frame
	toplevel Toplevel

	// Configure bookkeeping. pending was forwarded to the guest and
	// awaits matching contents; next arrived while pending was open.
	pending    *Configure
	next       *Configure
	lastSerial uint32
	lastAcked  uint32
	barrier    uint32

	maximized  bool
	fullscreen bool
	activated  bool

	// Host-bound state changes deferred while iconified.
	latched []func()
}

// ID returns the guest window id.
func (w *Window) ID() uint32 {
	return w.id
}

// State returns the lifecycle state.
func (w *Window) State() State {
	return w.state
}

// Geometry returns the guest-pixel geometry.
func (w *Window) Geometry() Geometry {
	return w.geom
}

// Title returns the current guest title.
func (w *Window) Title() string {
	return w.props.Title
}

// Class returns the guest WM_CLASS class string.
func (w *Window) Class() string {
	return w.props.Class
}

// OverrideRedirect reports whether the window bypasses management.
func (w *Window) OverrideRedirect() bool {
	return w.override
}

// Surface returns the paired pipeline surface, nil before pairing.
func (w *Window) Surface() *surface.Surface {
	return w.surface
}

// Info is a point-in-time description of a window for the control
// socket.
type Info struct {
	ID       uint32   `json:"id"`
	Title    string   `json:"title"`
	Class    string   `json:"class"`
	State    string   `json:"state"`
	Geometry Geometry `json:"geometry"`
}

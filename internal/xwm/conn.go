// Package xwm speaks X11 as the window manager of the guest X server. It
// owns the connection, the atom table and the event pump; policy lives in
// the window and selection packages, which consume routed events and call
// back into the operations here.
package xwm

import (
	"fmt"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xfixes"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/BurntSushi/xgbutil"
	"github.com/BurntSushi/xgbutil/ewmh"
	"github.com/BurntSushi/xgbutil/xwindow"
	"github.com/charmbracelet/log"

	"github.com/bnema/waybridge/internal/dispatch"
	"github.com/bnema/waybridge/internal/logger"
)

// Atoms is the interned atom set, resolved in one round trip at connect.
type Atoms struct {
	WmProtocols    xproto.Atom
	WmDeleteWindow xproto.Atom
	WmTakeFocus    xproto.Atom
	WmState        xproto.Atom
	WmChangeState  xproto.Atom
	WmS0           xproto.Atom

	NetWmName            xproto.Atom
	NetWmState           xproto.Atom
	NetWmStateMaxVert    xproto.Atom
	NetWmStateMaxHorz    xproto.Atom
	NetWmStateFullscreen xproto.Atom
	NetWmStateFocused    xproto.Atom
	NetWmStateHidden     xproto.Atom
	NetActiveWindow      xproto.Atom
	NetWmMoveresize      xproto.Atom
	NetSupported         xproto.Atom
	NetSupportingWmCheck xproto.Atom
	NetClientList        xproto.Atom
	NetFrameExtents      xproto.Atom

	MotifWmHints xproto.Atom

	WlSurfaceID xproto.Atom

	Clipboard        xproto.Atom
	Targets          xproto.Atom
	Timestamp        xproto.Atom
	Multiple         xproto.Atom
	Incr             xproto.Atom
	Utf8String       xproto.Atom
	Text             xproto.Atom
	TransferProperty xproto.Atom
	ClipboardManager xproto.Atom
}

var atomNames = []string{
	"WM_PROTOCOLS",
	"WM_DELETE_WINDOW",
	"WM_TAKE_FOCUS",
	"WM_STATE",
	"WM_CHANGE_STATE",
	"WM_S0",
	"_NET_WM_NAME",
	"_NET_WM_STATE",
	"_NET_WM_STATE_MAXIMIZED_VERT",
	"_NET_WM_STATE_MAXIMIZED_HORZ",
	"_NET_WM_STATE_FULLSCREEN",
	"_NET_WM_STATE_FOCUSED",
	"_NET_WM_STATE_HIDDEN",
	"_NET_ACTIVE_WINDOW",
	"_NET_WM_MOVERESIZE",
	"_NET_SUPPORTED",
	"_NET_SUPPORTING_WM_CHECK",
	"_NET_CLIENT_LIST",
	"_NET_FRAME_EXTENTS",
	"_MOTIF_WM_HINTS",
	"WL_SURFACE_ID",
	"CLIPBOARD",
	"TARGETS",
	"TIMESTAMP",
	"MULTIPLE",
	"INCR",
	"UTF8_STRING",
	"TEXT",
	"_WAYBRIDGE_SELECTION",
	"CLIPBOARD_MANAGER",
}

func (a *Atoms) assign(values []xproto.Atom) {
	fields := []*xproto.Atom{
		&a.WmProtocols, &a.WmDeleteWindow, &a.WmTakeFocus, &a.WmState,
		&a.WmChangeState, &a.WmS0,
		&a.NetWmName, &a.NetWmState, &a.NetWmStateMaxVert, &a.NetWmStateMaxHorz,
		&a.NetWmStateFullscreen, &a.NetWmStateFocused, &a.NetWmStateHidden,
		&a.NetActiveWindow, &a.NetWmMoveresize, &a.NetSupported,
		&a.NetSupportingWmCheck, &a.NetClientList, &a.NetFrameExtents,
		&a.MotifWmHints,
		&a.WlSurfaceID,
		&a.Clipboard, &a.Targets, &a.Timestamp, &a.Multiple, &a.Incr,
		&a.Utf8String, &a.Text, &a.TransferProperty, &a.ClipboardManager,
	}
	for i, f := range fields {
		*f = values[i]
	}
}

// WindowHandler receives routed window lifecycle events, on the dispatch
// loop.
type WindowHandler interface {
	CreateNotify(ev xproto.CreateNotifyEvent)
	DestroyNotify(ev xproto.DestroyNotifyEvent)
	MapRequest(ev xproto.MapRequestEvent)
	MapNotify(ev xproto.MapNotifyEvent)
	UnmapNotify(ev xproto.UnmapNotifyEvent)
	ConfigureRequest(ev xproto.ConfigureRequestEvent)
	ConfigureNotify(ev xproto.ConfigureNotifyEvent)
	PropertyNotify(ev xproto.PropertyNotifyEvent)
	ClientMessage(ev xproto.ClientMessageEvent)
}

// SelectionHandler receives routed selection traffic, on the dispatch
// loop.
type SelectionHandler interface {
	SelectionOwnerChanged(ev xfixes.SelectionNotifyEvent)
	SelectionRequest(ev xproto.SelectionRequestEvent)
	SelectionNotify(ev xproto.SelectionNotifyEvent)
	SelectionClear(ev xproto.SelectionClearEvent)
	PropertyNotify(ev xproto.PropertyNotifyEvent)
}

// Conn is the window-manager connection to the guest X server.
type Conn struct {
	xu     *xgbutil.XUtil
	conn   *xgb.Conn
	root   xproto.Window
	loop   *dispatch.Loop
	log    *log.Logger
	xfixes bool

	Atoms Atoms

	wmWindow xproto.Window

	// Handlers are nil until the owning subsystems install themselves.
	Windows    WindowHandler
	Selections SelectionHandler

	// OnDisconnect fires once when the X server goes away.
	OnDisconnect func()
}

// Connect opens the display and resolves the atom table. It does not
// claim window management yet; BecomeWM does that.
func Connect(display string, loop *dispatch.Loop) (*Conn, error) {
	xu, err := xgbutil.NewConnDisplay(display)
	if err != nil {
		return nil, fmt.Errorf("connect to X display %q: %w", display, err)
	}
	c := &Conn{
		xu:   xu,
		conn: xu.Conn(),
		root: xu.RootWin(),
		loop: loop,
		log:  logger.With("component", "xwm"),
	}
	if err := c.internAtoms(); err != nil {
		xu.Conn().Close()
		return nil, err
	}
	if err := xfixes.Init(c.conn); err != nil {
		c.log.Warn("xfixes unavailable; clipboard sync disabled", "error", err)
	} else if _, err := xfixes.QueryVersion(c.conn, 5, 0).Reply(); err != nil {
		c.log.Warn("xfixes version query failed", "error", err)
	} else {
		c.xfixes = true
	}
	return c, nil
}

// HasXFixes reports whether the server supports selection ownership
// events. Without them the clipboard bridge cannot run.
func (c *Conn) HasXFixes() bool {
	return c.xfixes
}

// internAtoms resolves the whole named atom table in one round trip.
func (c *Conn) internAtoms() error {
	values, err := c.InternAtoms(atomNames)
	if err != nil {
		return err
	}
	c.Atoms.assign(values)
	return nil
}

// Util exposes the xgbutil handle for the property helpers.
func (c *Conn) Util() *xgbutil.XUtil {
	return c.xu
}

// Root returns the root window.
func (c *Conn) Root() xproto.Window {
	return c.root
}

// WMWindow returns the supporting-check window, 0 before BecomeWM.
func (c *Conn) WMWindow() xproto.Window {
	return c.wmWindow
}

// BecomeWM claims substructure redirect on the root, announces EWMH
// support and takes the WM_S0 manager selection. Fails when another window
// manager is running.
func (c *Conn) BecomeWM() error {
	mask := uint32(xproto.EventMaskSubstructureRedirect |
		xproto.EventMaskSubstructureNotify |
		xproto.EventMaskPropertyChange)
	err := xproto.ChangeWindowAttributesChecked(c.conn, c.root,
		xproto.CwEventMask, []uint32{mask}).Check()
	if err != nil {
		return fmt.Errorf("claim substructure redirect (is another WM running?): %w", err)
	}

	check, err := xwindow.Create(c.xu, c.root)
	if err != nil {
		return fmt.Errorf("create wm check window: %w", err)
	}
	c.wmWindow = check.Id
	if err := ewmh.SupportingWmCheckSet(c.xu, c.root, c.wmWindow); err != nil {
		return fmt.Errorf("set supporting wm check: %w", err)
	}
	if err := ewmh.SupportingWmCheckSet(c.xu, c.wmWindow, c.wmWindow); err != nil {
		return fmt.Errorf("set supporting wm check on self: %w", err)
	}
	if err := ewmh.WmNameSet(c.xu, c.wmWindow, "waybridge"); err != nil {
		return fmt.Errorf("set wm name: %w", err)
	}

	supported := []xproto.Atom{
		c.Atoms.NetWmName,
		c.Atoms.NetWmState,
		c.Atoms.NetWmStateMaxVert,
		c.Atoms.NetWmStateMaxHorz,
		c.Atoms.NetWmStateFullscreen,
		c.Atoms.NetWmStateFocused,
		c.Atoms.NetActiveWindow,
		c.Atoms.NetWmMoveresize,
		c.Atoms.NetSupportingWmCheck,
		c.Atoms.NetClientList,
		c.Atoms.NetFrameExtents,
	}
	data := make([]byte, 4*len(supported))
	for i, atom := range supported {
		xgb.Put32(data[i*4:], uint32(atom))
	}
	xproto.ChangeProperty(c.conn, xproto.PropModeReplace, c.root,
		c.Atoms.NetSupported, xproto.AtomAtom, 32, uint32(len(supported)), data)

	xproto.SetSelectionOwner(c.conn, c.wmWindow, c.Atoms.WmS0, xproto.TimeCurrentTime)
	c.log.Info("managing guest X server", "root", c.root)
	return nil
}

// HelperWindow creates an unmapped 1x1 window for protocol bookkeeping,
// like selection transfers.
func (c *Conn) HelperWindow() (xproto.Window, error) {
	win, err := xwindow.Create(c.xu, c.root)
	if err != nil {
		return 0, fmt.Errorf("create helper window: %w", err)
	}
	if err := win.Listen(xproto.EventMaskPropertyChange); err != nil {
		return 0, fmt.Errorf("listen on helper window: %w", err)
	}
	return win.Id, nil
}

// Run pumps X events into the dispatch loop until the connection drops.
// Call it on its own goroutine.
func (c *Conn) Run() {
	for {
		ev, xerr := c.conn.WaitForEvent()
		if ev == nil && xerr == nil {
			c.loop.Post(func() {
				c.log.Warn("X server connection closed")
				if c.OnDisconnect != nil {
					c.OnDisconnect()
				}
			})
			return
		}
		if xerr != nil {
			c.log.Debug("X error", "error", xerr)
			continue
		}
		event := ev
		c.loop.Post(func() { c.route(event) })
	}
}

func (c *Conn) route(ev xgb.Event) {
	switch e := ev.(type) {
	case xproto.CreateNotifyEvent:
		if c.Windows != nil {
			c.Windows.CreateNotify(e)
		}
	case xproto.DestroyNotifyEvent:
		if c.Windows != nil {
			c.Windows.DestroyNotify(e)
		}
	case xproto.MapRequestEvent:
		if c.Windows != nil {
			c.Windows.MapRequest(e)
		}
	case xproto.MapNotifyEvent:
		if c.Windows != nil {
			c.Windows.MapNotify(e)
		}
	case xproto.UnmapNotifyEvent:
		if c.Windows != nil {
			c.Windows.UnmapNotify(e)
		}
	case xproto.ConfigureRequestEvent:
		if c.Windows != nil {
			c.Windows.ConfigureRequest(e)
		}
	case xproto.ConfigureNotifyEvent:
		if c.Windows != nil {
			c.Windows.ConfigureNotify(e)
		}
	case xproto.PropertyNotifyEvent:
		if c.Windows != nil {
			c.Windows.PropertyNotify(e)
		}
		if c.Selections != nil {
			c.Selections.PropertyNotify(e)
		}
	case xproto.ClientMessageEvent:
		if c.Windows != nil {
			c.Windows.ClientMessage(e)
		}
	case xproto.SelectionRequestEvent:
		if c.Selections != nil {
			c.Selections.SelectionRequest(e)
		}
	case xproto.SelectionNotifyEvent:
		if c.Selections != nil {
			c.Selections.SelectionNotify(e)
		}
	case xproto.SelectionClearEvent:
		if c.Selections != nil {
			c.Selections.SelectionClear(e)
		}
	case xfixes.SelectionNotifyEvent:
		if c.Selections != nil {
			c.Selections.SelectionOwnerChanged(e)
		}
	case xproto.MappingNotifyEvent, xproto.ReparentNotifyEvent:
		// Uninteresting but frequent.
	default:
		c.log.Debug("unrouted X event", "event", fmt.Sprintf("%T", ev))
	}
}

// Sync forces a round trip, so every queued request has been processed by
// the server when it returns.
func (c *Conn) Sync() {
	c.conn.Sync()
}

// Close drops the connection.
func (c *Conn) Close() {
	c.conn.Close()
}

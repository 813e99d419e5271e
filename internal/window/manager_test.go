package window

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/waybridge/internal/shm"
	"github.com/bnema/waybridge/internal/surface"
	"github.com/bnema/waybridge/internal/transform"
)

type nullHost struct{}

func (nullHost) CreateSurface() (surface.HostSurface, error) {
	return nullHostSurface{}, nil
}

func (nullHost) CreateBuffer(region *shm.Region, width, height, stride int32, format shm.Format, release func()) (surface.HostBuffer, error) {
	return nullHostBuffer{}, nil
}

type nullHostSurface struct{}

func (nullHostSurface) Attach(b surface.HostBuffer, x, y int32) error { return nil }
func (nullHostSurface) Damage(x, y, w, h int32) error                 { return nil }
func (nullHostSurface) SetViewportDestination(w, h int32) error       { return nil }
func (nullHostSurface) SetViewportSource(x, y, w, h float64) error    { return nil }
func (nullHostSurface) ClearViewportSource() error                    { return nil }
func (nullHostSurface) Frame(done func(serial uint32)) error          { return nil }
func (nullHostSurface) Commit() error                                 { return nil }
func (nullHostSurface) Destroy() error                                { return nil }

type nullHostBuffer struct{}

func (nullHostBuffer) Destroy() error { return nil }

type deleteCall struct {
	win      uint32
	protocol bool
}

type fakeGuest struct {
	props       map[uint32]Props
	configures  []Geometry
	configureOf []uint32
	notifies    []Geometry
	mapped      []uint32
	wmStates    map[uint32]WMState
	netStates   map[uint32]NetStates
	focused     []uint32
	activeSets  []uint32
	deletes     []deleteCall
	clientList  []uint32
}

func (g *fakeGuest) ReadProps(win uint32) Props { return g.props[win] }

func (g *fakeGuest) ConfigureWindow(win uint32, x, y, w, h int32) {
	g.configureOf = append(g.configureOf, win)
	g.configures = append(g.configures, Geometry{X: x, Y: y, Width: w, Height: h})
}

func (g *fakeGuest) SendConfigureNotify(win uint32, x, y, w, h int32) {
	g.notifies = append(g.notifies, Geometry{X: x, Y: y, Width: w, Height: h})
}

func (g *fakeGuest) MapWindow(win uint32) { g.mapped = append(g.mapped, win) }

func (g *fakeGuest) SetWMState(win uint32, state WMState) { g.wmStates[win] = state }

func (g *fakeGuest) SetNetStates(win uint32, st NetStates) { g.netStates[win] = st }

func (g *fakeGuest) SetFrameExtents(win uint32, l, r, t, b int32) {}

func (g *fakeGuest) SetFocus(win uint32, accept, takeFocus bool) {
	g.focused = append(g.focused, win)
}

func (g *fakeGuest) SetActiveWindow(win uint32) { g.activeSets = append(g.activeSets, win) }

func (g *fakeGuest) SendDelete(win uint32, hasProtocol bool) {
	g.deletes = append(g.deletes, deleteCall{win: win, protocol: hasProtocol})
}

func (g *fakeGuest) SetClientList(wins []uint32) {
	g.clientList = append([]uint32(nil), wins...)
}

type resizeCall struct {
	serial uint32
	edge   ResizeEdge
}

type fakeToplevel struct {
	acks        []uint32
	title       string
	appID       string
	parent      Toplevel
	minW, minH  int32
	maxW, maxH  int32
	maximizes   []bool
	fullscreens []bool
	minimized   int
	decorated   []bool
	moves       []uint32
	resizes     []resizeCall
	destroyed   bool
}

func (t *fakeToplevel) AckConfigure(serial uint32) error { t.acks = append(t.acks, serial); return nil }
func (t *fakeToplevel) Destroy() error                   { t.destroyed = true; return nil }
func (t *fakeToplevel) SetTitle(title string) error      { t.title = title; return nil }
func (t *fakeToplevel) SetAppID(id string) error         { t.appID = id; return nil }
func (t *fakeToplevel) SetParent(p Toplevel) error       { t.parent = p; return nil }

func (t *fakeToplevel) SetMinSize(w, h int32) error {
	t.minW, t.minH = w, h
	return nil
}

func (t *fakeToplevel) SetMaxSize(w, h int32) error {
	t.maxW, t.maxH = w, h
	return nil
}

func (t *fakeToplevel) SetMaximized(on bool) error {
	t.maximizes = append(t.maximizes, on)
	return nil
}

func (t *fakeToplevel) SetFullscreen(on bool) error {
	t.fullscreens = append(t.fullscreens, on)
	return nil
}

func (t *fakeToplevel) SetMinimized() error { t.minimized++; return nil }

func (t *fakeToplevel) SetDecorated(on bool) error {
	t.decorated = append(t.decorated, on)
	return nil
}

func (t *fakeToplevel) Move(serial uint32) error { t.moves = append(t.moves, serial); return nil }

func (t *fakeToplevel) Resize(serial uint32, edge ResizeEdge) error {
	t.resizes = append(t.resizes, resizeCall{serial: serial, edge: edge})
	return nil
}

type fakePopup struct {
	x, y, w, h int32
	acks       []uint32
	destroyed  bool
}

func (p *fakePopup) AckConfigure(serial uint32) error { p.acks = append(p.acks, serial); return nil }
func (p *fakePopup) Destroy() error                   { p.destroyed = true; return nil }

type fakeShell struct {
	toplevels []*fakeToplevel
	popups    []*fakePopup
}

func (s *fakeShell) CreateToplevel(w *Window) (Toplevel, error) {
	tl := &fakeToplevel{}
	s.toplevels = append(s.toplevels, tl)
	return tl, nil
}

func (s *fakeShell) CreatePopup(w, parent *Window, x, y, width, height int32) (Popup, error) {
	p := &fakePopup{x: x, y: y, w: width, h: height}
	s.popups = append(s.popups, p)
	return p, nil
}

type rig struct {
	t     *testing.T
	mgr   *Manager
	guest *fakeGuest
	shell *fakeShell
	pipe  *surface.Pipeline
}

func newRig(t *testing.T, scale float64) *rig {
	scaler := transform.NewScaler(scale)
	pipe := surface.NewPipeline(nullHost{}, scaler)
	g := &fakeGuest{
		props:     make(map[uint32]Props),
		wmStates:  make(map[uint32]WMState),
		netStates: make(map[uint32]NetStates),
	}
	sh := &fakeShell{}
	mgr := NewManager(sh, g, scaler, nil, Options{
		CenterNewWindows: true,
		TitlePrefix:      "[vm] ",
		AppIDPrefix:      "vm.",
		Decorations:      true,
	})
	mgr.SetOutput(1920, 1080)
	mgr.Resolver = func(wlID uint32) *surface.Surface { return pipe.Get(uint64(wlID)) }
	return &rig{t: t, mgr: mgr, guest: g, shell: sh, pipe: pipe}
}

func (r *rig) mapWindow(id uint32, geom Geometry, props Props) *Window {
	r.guest.props[id] = props
	r.mgr.Create(id, geom, false)
	r.mgr.MapRequest(id)
	return r.mgr.Get(id)
}

// pair announces a surface for the window and returns the host toplevel
// the shell produced.
func (r *rig) pair(id, wlID uint32) (*Window, *fakeToplevel) {
	_, err := r.pipe.CreateSurface(uint64(wlID))
	require.NoError(r.t, err)
	r.mgr.SetSurfaceID(id, wlID)
	w := r.mgr.Get(id)
	require.NotEmpty(r.t, r.shell.toplevels, "pairing must create a host toplevel")
	return w, r.shell.toplevels[len(r.shell.toplevels)-1]
}

func TestCenterNewWindow(t *testing.T) {
	r := newRig(t, 1)
	w := r.mapWindow(1, Geometry{Width: 800, Height: 600}, Props{})

	assert.Equal(t, Geometry{X: 560, Y: 240, Width: 800, Height: 600}, w.Geometry(),
		"an 800x600 window centers on a 1920x1080 output")
	require.NotEmpty(t, r.guest.configures)
	assert.Equal(t, Geometry{X: 560, Y: 240, Width: 800, Height: 600},
		r.guest.configures[len(r.guest.configures)-1])
	assert.Equal(t, []uint32{1}, r.guest.mapped)
	assert.Equal(t, NormalState, r.guest.wmStates[1])
	assert.Equal(t, []uint32{1}, r.guest.clientList)
}

func TestPositionHintSkipsCentering(t *testing.T) {
	r := newRig(t, 1)
	w := r.mapWindow(1, Geometry{X: 30, Y: 40, Width: 800, Height: 600},
		Props{PositionSet: true})

	assert.Equal(t, Geometry{X: 30, Y: 40, Width: 800, Height: 600}, w.Geometry())
}

func TestOversizedWindowClampsToOrigin(t *testing.T) {
	r := newRig(t, 1)
	w := r.mapWindow(1, Geometry{X: 100, Y: 100, Width: 2400, Height: 1300}, Props{})

	assert.Equal(t, int32(0), w.Geometry().X)
	assert.Equal(t, int32(0), w.Geometry().Y)
}

func TestPairingAppliesMetadata(t *testing.T) {
	r := newRig(t, 2)
	r.mapWindow(1, Geometry{Width: 800, Height: 600}, Props{
		Title:     "editor",
		Class:     "Editor",
		MinWidth:  400,
		MinHeight: 300,
		MaxWidth:  1600,
		MaxHeight: 1200,
		Decorated: true,
	})
	_, tl := r.pair(1, 7)

	assert.Equal(t, "[vm] editor", tl.title)
	assert.Equal(t, "vm.Editor", tl.appID)
	assert.Equal(t, int32(200), tl.minW, "min size converts to host logical units")
	assert.Equal(t, int32(150), tl.minH)
	assert.Equal(t, int32(800), tl.maxW)
	assert.Equal(t, int32(600), tl.maxH)
	require.NotEmpty(t, tl.decorated)
	assert.True(t, tl.decorated[0])
}

func TestInitialConfigureAcksAndUnholds(t *testing.T) {
	r := newRig(t, 1)
	r.mapWindow(1, Geometry{Width: 800, Height: 600}, Props{})
	w, tl := r.pair(1, 7)
	require.True(t, w.Surface().Held(), "surface stays held until the first ack")

	r.mgr.HandleConfigure(1, Configure{Serial: 1})

	assert.Equal(t, []uint32{1}, tl.acks, "a sizeless configure acks immediately")
	assert.False(t, w.Surface().Held())
}

func TestConfigureResizeWaitsForMatchingCommit(t *testing.T) {
	r := newRig(t, 1)
	r.mapWindow(1, Geometry{Width: 800, Height: 600}, Props{})
	w, tl := r.pair(1, 7)

	r.mgr.HandleConfigure(1, Configure{Serial: 2, Width: 600, Height: 500})

	last := r.guest.configures[len(r.guest.configures)-1]
	assert.Equal(t, Geometry{X: 560, Y: 240, Width: 600, Height: 500}, last,
		"the guest window resizes to the host geometry")
	assert.Empty(t, tl.acks, "no ack until contents match")

	w.Surface().OnCommit(640, 480)
	assert.Empty(t, tl.acks, "a commit at the stale size does not ack")

	w.Surface().OnCommit(600, 500)
	assert.Equal(t, []uint32{2}, tl.acks)
}

func TestRepeatAckIsNoop(t *testing.T) {
	r := newRig(t, 1)
	r.mapWindow(1, Geometry{Width: 800, Height: 600}, Props{})
	w, tl := r.pair(1, 7)

	r.mgr.HandleConfigure(1, Configure{Serial: 2, Width: 600, Height: 500})
	w.Surface().OnCommit(600, 500)
	w.Surface().OnCommit(600, 500)
	w.Surface().OnCommit(600, 500)

	assert.Equal(t, []uint32{2}, tl.acks,
		"commits after the ack never re-acknowledge or double-apply")
}

func TestQueuedConfigureAppliesAfterAck(t *testing.T) {
	r := newRig(t, 1)
	r.mapWindow(1, Geometry{Width: 800, Height: 600}, Props{})
	w, tl := r.pair(1, 7)

	r.mgr.HandleConfigure(1, Configure{Serial: 2, Width: 600, Height: 500})
	r.mgr.HandleConfigure(1, Configure{Serial: 3, Width: 700, Height: 650})

	last := r.guest.configures[len(r.guest.configures)-1]
	assert.Equal(t, int32(600), last.Width,
		"the second configure waits while the first is unacknowledged")

	w.Surface().OnCommit(600, 500)
	require.Equal(t, []uint32{2}, tl.acks)
	last = r.guest.configures[len(r.guest.configures)-1]
	assert.Equal(t, Geometry{X: 560, Y: 240, Width: 700, Height: 650}, last,
		"acking the first applies the queued configure")

	w.Surface().OnCommit(700, 650)
	assert.Equal(t, []uint32{2, 3}, tl.acks, "serials acknowledge in order")
}

func TestGuestResizeDiscardsStaleConfigures(t *testing.T) {
	r := newRig(t, 1)
	r.mapWindow(1, Geometry{Width: 800, Height: 600}, Props{})
	w, tl := r.pair(1, 7)

	r.mgr.HandleConfigure(1, Configure{Serial: 2, Width: 600, Height: 500})
	r.mgr.HandleConfigure(1, Configure{Serial: 3, Width: 620, Height: 520})

	r.mgr.ConfigureRequest(1, 0, 0, 1000, 900, MaskWidth|MaskHeight)

	assert.Equal(t, []uint32{2, 3}, tl.acks,
		"stale serials are acknowledged so the host can retire them")
	assert.Equal(t, Geometry{X: 560, Y: 240, Width: 1000, Height: 900}, w.Geometry(),
		"the guest-requested geometry wins")
	last := r.guest.configures[len(r.guest.configures)-1]
	assert.Equal(t, int32(1000), last.Width,
		"the queued host geometry is never forwarded to the guest")
}

func TestConfigureRequestDeniedUnderHostControl(t *testing.T) {
	r := newRig(t, 1)
	r.mapWindow(1, Geometry{Width: 800, Height: 600}, Props{})
	w, _ := r.pair(1, 7)

	r.mgr.HandleConfigure(1, Configure{
		Serial: 2, Width: 960, Height: 540,
		States: HostStates{Maximized: true},
	})
	w.Surface().OnCommit(960, 540)

	before := len(r.guest.configures)
	r.mgr.ConfigureRequest(1, 10, 10, 300, 300, MaskX|MaskY|MaskWidth|MaskHeight)

	assert.Len(t, r.guest.configures, before, "no geometry change while maximized")
	require.NotEmpty(t, r.guest.notifies)
	assert.Equal(t, Geometry{X: 560, Y: 240, Width: 960, Height: 540},
		r.guest.notifies[len(r.guest.notifies)-1],
		"the guest is told its window kept the host geometry")
}

func TestIconifyLatchesHostStateChanges(t *testing.T) {
	r := newRig(t, 1)
	r.mapWindow(1, Geometry{Width: 800, Height: 600}, Props{})
	w, tl := r.pair(1, 7)
	r.mgr.HandleConfigure(1, Configure{Serial: 1})

	r.mgr.ChangeState(1, uint32(IconicState))
	assert.Equal(t, Iconified, w.State())
	assert.Equal(t, 1, tl.minimized)
	assert.Equal(t, IconicState, r.guest.wmStates[1])
	assert.True(t, r.guest.netStates[1].Hidden)

	r.mgr.NetStateChange(1, NetStateAdd, StateAtomFullscreen, StateAtomNone)
	assert.Empty(t, tl.fullscreens, "host-bound changes latch while iconified")

	r.mgr.HandleConfigure(1, Configure{Serial: 2, States: HostStates{Activated: true}})
	assert.Equal(t, Mapped, w.State())
	assert.Equal(t, []bool{true}, tl.fullscreens, "latched changes replay on de-iconify")
	assert.Equal(t, NormalState, r.guest.wmStates[1])
	assert.False(t, r.guest.netStates[1].Hidden)
}

func TestUnmapKeepsRecordForRemap(t *testing.T) {
	r := newRig(t, 1)
	r.mapWindow(1, Geometry{Width: 800, Height: 600}, Props{})
	w, tl := r.pair(1, 7)
	r.mgr.HandleConfigure(1, Configure{Serial: 1})

	r.mgr.Unmap(1)

	assert.True(t, tl.destroyed)
	assert.Equal(t, Unmanaged, w.State())
	assert.Equal(t, WithdrawnState, r.guest.wmStates[1])
	assert.True(t, w.Surface().Held(), "the surface is held again after unmap")
	assert.Empty(t, r.guest.clientList)
	require.NotNil(t, r.mgr.Get(1), "the record survives an unmap")

	r.mgr.MapRequest(1)
	assert.Len(t, r.shell.toplevels, 2, "remapping creates a fresh host toplevel")
}

func TestDestroyRemovesRecord(t *testing.T) {
	r := newRig(t, 1)
	r.mapWindow(1, Geometry{Width: 800, Height: 600}, Props{})
	_, tl := r.pair(1, 7)

	r.mgr.Destroy(1)

	assert.True(t, tl.destroyed)
	assert.Nil(t, r.mgr.Get(1))
	assert.Zero(t, r.mgr.Count())
}

func TestSurfaceAnnouncementRace(t *testing.T) {
	r := newRig(t, 1)
	r.mapWindow(1, Geometry{Width: 800, Height: 600}, Props{})

	r.mgr.SetSurfaceID(1, 9)
	assert.Empty(t, r.shell.toplevels, "no pairing until the surface exists")

	s, err := r.pipe.CreateSurface(9)
	require.NoError(t, err)
	r.mgr.SurfaceCreated(9, s)

	assert.Len(t, r.shell.toplevels, 1,
		"pairing completes when the surface arrives after the announcement")
}

func TestOverrideRedirectBecomesPopup(t *testing.T) {
	r := newRig(t, 2)
	r.mapWindow(1, Geometry{Width: 800, Height: 600}, Props{})
	r.pair(1, 7)
	r.mgr.HandleConfigure(1, Configure{Serial: 1, States: HostStates{Activated: true}})

	r.mgr.Create(2, Geometry{X: 660, Y: 340, Width: 200, Height: 150}, true)
	r.mgr.MapNotify(2)
	_, err := r.pipe.CreateSurface(8)
	require.NoError(t, err)
	r.mgr.SetSurfaceID(2, 8)

	require.Len(t, r.shell.popups, 1)
	p := r.shell.popups[0]
	parent := r.mgr.Get(1).Geometry()
	assert.Equal(t, int32((660-parent.X)/2), p.x,
		"popup offset is relative to the parent, in host units")
	assert.Equal(t, int32((340-parent.Y)/2), p.y)
	assert.Equal(t, int32(100), p.w)
	assert.Equal(t, int32(75), p.h)
}

func TestCloseUsesDeleteProtocol(t *testing.T) {
	r := newRig(t, 1)
	r.mapWindow(1, Geometry{Width: 800, Height: 600}, Props{DeleteWindow: true})
	r.mapWindow(2, Geometry{Width: 400, Height: 300}, Props{})

	r.mgr.Close(1)
	r.mgr.Close(2)

	require.Len(t, r.guest.deletes, 2)
	assert.Equal(t, deleteCall{win: 1, protocol: true}, r.guest.deletes[0])
	assert.Equal(t, deleteCall{win: 2, protocol: false}, r.guest.deletes[1])
}

func TestMoveresizeUsesHarvestedSerial(t *testing.T) {
	r := newRig(t, 1)
	r.mapWindow(1, Geometry{Width: 800, Height: 600}, Props{})
	_, tl := r.pair(1, 7)
	r.mgr.InputSerial = func() uint32 { return 42 }

	r.mgr.Moveresize(1, MoveresizeMove)
	r.mgr.Moveresize(1, MoveresizeSizeBottomRight)
	r.mgr.Moveresize(1, MoveresizeCancel)

	assert.Equal(t, []uint32{42}, tl.moves)
	require.Len(t, tl.resizes, 1)
	assert.Equal(t, resizeCall{serial: 42, edge: EdgeBottomRight}, tl.resizes[0])
}

func TestActivationFollowsHostConfigure(t *testing.T) {
	r := newRig(t, 1)
	r.mapWindow(1, Geometry{Width: 800, Height: 600}, Props{AcceptInput: true})
	r.pair(1, 7)
	r.mapWindow(2, Geometry{Width: 400, Height: 300}, Props{AcceptInput: true})
	r.pair(2, 8)

	r.mgr.HandleConfigure(1, Configure{Serial: 1, States: HostStates{Activated: true}})
	assert.Equal(t, []uint32{1}, r.guest.focused)
	assert.True(t, r.guest.netStates[1].Focused)

	r.mgr.HandleConfigure(2, Configure{Serial: 1, States: HostStates{Activated: true}})
	assert.Equal(t, []uint32{1, 2}, r.guest.focused)
	assert.False(t, r.guest.netStates[1].Focused,
		"activating a window drops the focused state of the previous one")
	assert.True(t, r.guest.netStates[2].Focused)
}

func TestPropertyChangeRefreshesTitle(t *testing.T) {
	r := newRig(t, 1)
	r.mapWindow(1, Geometry{Width: 800, Height: 600}, Props{Title: "old"})
	_, tl := r.pair(1, 7)
	require.Equal(t, "[vm] old", tl.title)

	r.guest.props[1] = Props{Title: "renamed"}
	r.mgr.PropertyChanged(1, PropTitle)

	assert.Equal(t, "[vm] renamed", tl.title)
}

func TestUnknownWindowEventsAreIgnored(t *testing.T) {
	r := newRig(t, 1)

	r.mgr.MapRequest(99)
	r.mgr.Unmap(99)
	r.mgr.Destroy(99)
	r.mgr.HandleConfigure(99, Configure{Serial: 1})
	r.mgr.ChangeState(99, uint32(IconicState))
	r.mgr.Close(99)

	assert.Empty(t, r.guest.mapped)
	assert.Empty(t, r.guest.deletes)
	assert.Zero(t, r.mgr.Count())
}

func TestSnapshotListsMappedWindows(t *testing.T) {
	r := newRig(t, 1)
	r.mapWindow(1, Geometry{Width: 800, Height: 600}, Props{Title: "first", Class: "A"})
	r.mapWindow(2, Geometry{Width: 400, Height: 300}, Props{Title: "second", Class: "B"})

	infos := r.mgr.Snapshot()

	require.Len(t, infos, 2)
	assert.Equal(t, uint32(1), infos[0].ID)
	assert.Equal(t, "first", infos[0].Title)
	assert.Equal(t, "mapped", infos[0].State)
	assert.Equal(t, uint32(2), infos[1].ID)
}

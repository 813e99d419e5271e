// Package gateway assembles the bridge and runs it. One dispatch loop owns
// all window, surface and selection state; the host compositor connection,
// the guest Wayland server and the X window manager connection all post
// into it. Run returns when the host drops, the guest X server dies, a
// spawned child exits, or the context is canceled.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sys/unix"

	"github.com/bnema/waybridge/internal/config"
	"github.com/bnema/waybridge/internal/dispatch"
	"github.com/bnema/waybridge/internal/guest"
	"github.com/bnema/waybridge/internal/host"
	"github.com/bnema/waybridge/internal/ipc"
	"github.com/bnema/waybridge/internal/logger"
	"github.com/bnema/waybridge/internal/quirks"
	"github.com/bnema/waybridge/internal/selection"
	"github.com/bnema/waybridge/internal/surface"
	"github.com/bnema/waybridge/internal/transform"
	"github.com/bnema/waybridge/internal/window"
	"github.com/bnema/waybridge/internal/xwm"
)

// The guest X server usually starts after the gateway, pointed at the
// Wayland socket the gateway serves, so the first connect attempts may find
// nothing listening yet.
const (
	xConnectTimeout = 10 * time.Second
	xConnectRetry   = 200 * time.Millisecond
)

// Gateway ties the host client, the guest server, the X window manager
// connection and the window manager together around one dispatch loop.
type Gateway struct {
	cfg     *config.Config
	log     *log.Logger
	version string
	started time.Time

	loop    *dispatch.Loop
	hc      *host.Client
	scaler  *transform.Scaler
	pipe    *surface.Pipeline
	guests  *guest.Server
	xc      *xwm.Conn
	mgr     *window.Manager
	bridge  *selection.Bridge
	control *ipc.SocketServer
	child   *exec.Cmd

	// fixedScale pins the global factor at 1 when the host lacks
	// wp_viewporter. Host buffers then show at guest size no matter what,
	// so any other factor would make every coordinate lie.
	fixedScale bool
}

// New builds an unconnected gateway. Run does all the work.
func New(cfg *config.Config, version string) *Gateway {
	return &Gateway{
		cfg:     cfg,
		log:     logger.With("component", "gateway"),
		version: version,
	}
}

// Run connects both sides, takes over window management, and drives the
// dispatch loop until something fatal happens or ctx is canceled. When
// childArgs is non-empty it names a command to spawn with DISPLAY and
// WAYLAND_DISPLAY pointed at the gateway; the child exiting ends Run.
func (g *Gateway) Run(ctx context.Context, childArgs []string) error {
	g.started = time.Now()
	g.loop = dispatch.New()

	var exitErr error
	var exitOnce sync.Once
	fail := func(err error) {
		exitOnce.Do(func() { exitErr = err })
		g.loop.Stop()
	}

	hc, err := host.NewClient()
	if err != nil {
		return fmt.Errorf("connect to host compositor: %w", err)
	}
	g.hc = hc
	defer hc.Close()

	g.setupScaler()
	g.pipe = surface.NewPipeline(&hostAdapter{hc: hc}, g.scaler)

	g.guests = guest.NewServer(g.loop, g.pipe)
	g.guests.SetFormats(hc.Shm.Formats)
	socketPath := guestSocketPath(g.cfg.Sockets.GuestDisplay)
	if err := g.guests.Listen(socketPath); err != nil {
		return err
	}
	defer g.guests.Close()
	g.log.Info("guest display ready", "socket", socketPath)

	xc, err := connectX(g.xDisplay(), g.loop)
	if err != nil {
		return fmt.Errorf("connect to guest X server: %w", err)
	}
	g.xc = xc
	defer xc.Close()
	if err := xc.BecomeWM(); err != nil {
		return err
	}

	qt, err := quirks.Load(config.QuirksPath())
	if err != nil {
		g.log.Warn("quirks table unusable", "error", err)
		qt = &quirks.Table{}
	} else if qt.Len() > 0 {
		g.log.Info("quirks loaded", "rules", qt.Len())
	}

	shell := newShellAdapter(hc)
	g.mgr = window.NewManager(shell, &guestConn{x: xc}, g.scaler, qt, window.Options{
		CenterNewWindows: g.cfg.Display.CenterNewWindows,
		TitlePrefix:      g.cfg.Shell.TitlePrefix,
		AppIDPrefix:      g.cfg.Shell.AppIDPrefix,
		Decorations:      g.cfg.Shell.Decorations,
	})
	shell.mgr = g.mgr
	g.mgr.Resolver = g.guests.FindSurface
	if hc.Seat != nil {
		g.mgr.InputSerial = hc.InputSerial
	}
	xc.Windows = newWindowEvents(xc, g.mgr)

	g.guests.OnSurface = func(_ *guest.Client, id uint32, s *surface.Surface) {
		g.mgr.SurfaceCreated(id, s)
	}
	g.guests.OnSurfaceDestroy = func(_ *guest.Client, id uint32) {
		g.mgr.SurfaceDestroyed(id)
	}

	hc.OnOutputChange = g.outputChanged
	hc.OnOutputRemove = func(name uint32) {
		g.guests.RemoveOutput(name)
		g.refreshManagedOutput()
	}
	hc.EachOutput(g.outputChanged)

	if g.cfg.Selection.Enabled && xc.HasXFixes() && hc.DataDevice != nil {
		g.bridge = selection.New(xc, &clipboardHost{hc: hc}, selectionAtoms(xc.Atoms),
			g.loop, g.cfg.Selection.IncrChunkSize)
		xc.Selections = g.bridge
		hc.DataDevice.OnSelection = func(o *host.DataOffer) {
			if o == nil {
				g.bridge.HostSelection(nil)
				return
			}
			g.bridge.HostSelection(&hostOffer{o: o})
		}
		if err := g.bridge.Start(); err != nil {
			return err
		}
		defer g.bridge.Close()
	} else if g.cfg.Selection.Enabled {
		g.log.Warn("clipboard bridge disabled",
			"xfixes", xc.HasXFixes(), "host_data_device", hc.DataDevice != nil)
	}

	if err := g.adoptExisting(); err != nil {
		g.log.Warn("initial window scan failed", "error", err)
	}

	g.control = ipc.NewSocketServer(config.ControlSocketPath(), g)
	if err := g.control.Start(); err != nil {
		g.log.Warn("control socket unavailable", "error", err)
	} else {
		defer g.control.Stop()
	}

	if len(childArgs) > 0 {
		if err := g.startChild(childArgs, socketPath, fail); err != nil {
			return err
		}
		defer g.stopChild()
	}

	hc.Display.OnDisconnect = func(err error) {
		fail(fmt.Errorf("host connection lost: %w", err))
	}
	xc.OnDisconnect = func() {
		fail(errors.New("guest X server connection closed"))
	}

	go hc.Display.Run(g.loop.Post)
	go xc.Run()

	g.log.Info("gateway running",
		"x_display", g.xDisplay(), "wayland_display", waylandDisplayEnv(socketPath))
	g.loop.Run(ctx)
	return exitErr
}

// setupScaler derives the initial transform factors from config and the
// host's capabilities.
func (g *Gateway) setupScaler() {
	if g.hc.Viewporter == nil {
		if g.cfg.Display.Scale != 0 || g.cfg.Display.DirectScaleX > 0 || g.cfg.Display.DirectScaleY > 0 {
			g.log.Warn("forcing scale 1, host lacks wp_viewporter")
		}
		g.scaler = transform.NewScaler(1)
		g.fixedScale = true
		return
	}
	scale := g.cfg.Display.Scale
	if scale == 0 {
		scale = 1
		if o := g.hc.PrimaryOutput(); o != nil && o.Info.Scale > 1 {
			scale = float64(o.Info.Scale)
		}
	}
	g.scaler = transform.NewScaler(scale)
	if g.cfg.Display.DirectScaleX > 0 || g.cfg.Display.DirectScaleY > 0 {
		g.scaler.SetDirectScale(g.cfg.Display.DirectScaleX, g.cfg.Display.DirectScaleY)
	}
	g.log.Info("scale configured", "scale", g.scaler.Scale())
}

// outputChanged mirrors one host output to the guests, in guest pixels,
// and keeps the scale following the primary output when configured to.
func (g *Gateway) outputChanged(name uint32, o *host.Output) {
	if g.cfg.Display.Scale == 0 && !g.fixedScale && o == g.hc.PrimaryOutput() {
		s := float64(o.Info.Scale)
		if s < 1 {
			s = 1
		}
		if s != g.scaler.Scale() {
			g.scaler.SetScale(s)
			g.log.Info("scale follows host output", "scale", s)
		}
	}

	p := g.scaler.Pair()
	lw, lh := o.LogicalSize()
	w, h := p.HostToGuestSize(lw, lh)
	x, y := p.HostToGuestPoint(o.Info.X, o.Info.Y)
	g.guests.UpdateOutput(guest.OutputDesc{
		HostName: name,
		X:        x,
		Y:        y,
		Width:    w,
		Height:   h,
		PhysW:    o.Info.PhysW,
		PhysH:    o.Info.PhysH,
		Refresh:  o.Info.Refresh,
		Make:     o.Info.Make,
		Model:    o.Info.Model,
	})
	g.refreshManagedOutput()
}

// refreshManagedOutput tells the window manager how big the screen is in
// guest pixels, for centering and fullscreen sizing.
func (g *Gateway) refreshManagedOutput() {
	o := g.hc.PrimaryOutput()
	if o == nil {
		g.mgr.SetOutput(0, 0)
		return
	}
	lw, lh := o.LogicalSize()
	if lw <= 0 || lh <= 0 {
		g.mgr.SetOutput(0, 0)
		return
	}
	w, h := g.scaler.Pair().HostToGuestSize(lw, lh)
	g.mgr.SetOutput(w, h)
}

// adoptExisting manages windows that predate the gateway taking over,
// which happens after a restart against a running X server.
func (g *Gateway) adoptExisting() error {
	children, err := g.xc.Children()
	if err != nil {
		return err
	}
	for _, child := range children {
		if child == g.xc.WMWindow() {
			continue
		}
		override, mapped, err := g.xc.Attributes(child)
		if err != nil {
			continue
		}
		x, y, w, h, err := g.xc.Geometry(child)
		if err != nil {
			continue
		}
		id := uint32(child)
		g.mgr.Create(id, window.Geometry{X: x, Y: y, Width: w, Height: h}, override)
		if mapped {
			if override {
				g.mgr.MapNotify(id)
			} else {
				g.mgr.MapRequest(id)
			}
		}
	}
	if n := g.mgr.Count(); n > 0 {
		g.log.Info("adopted existing windows", "count", n)
	}
	return nil
}

func (g *Gateway) startChild(args []string, socketPath string, fail func(error)) error {
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Env = append(os.Environ(),
		"WAYLAND_DISPLAY="+waylandDisplayEnv(socketPath),
		"DISPLAY="+g.xDisplay(),
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", args[0], err)
	}
	g.child = cmd
	g.log.Info("child started", "command", args[0], "pid", cmd.Process.Pid)
	go func() {
		err := cmd.Wait()
		if err != nil {
			fail(fmt.Errorf("child exited: %w", err))
			return
		}
		fail(nil)
	}()
	return nil
}

func (g *Gateway) stopChild() {
	if g.child == nil || g.child.Process == nil {
		return
	}
	// Already-exited children make Signal return an error, which is fine.
	_ = g.child.Process.Signal(unix.SIGTERM)
}

func (g *Gateway) xDisplay() string {
	if d := g.cfg.Sockets.XDisplay; d != "" {
		return d
	}
	return os.Getenv("DISPLAY")
}

// connectX dials the guest X server, retrying while it boots.
func connectX(display string, loop *dispatch.Loop) (*xwm.Conn, error) {
	deadline := time.Now().Add(xConnectTimeout)
	waited := false
	for {
		xc, err := xwm.Connect(display, loop)
		if err == nil {
			return xc, nil
		}
		if time.Now().After(deadline) {
			return nil, err
		}
		if !waited {
			waited = true
			logger.Info("waiting for guest X server", "display", display)
		}
		time.Sleep(xConnectRetry)
	}
}

// guestSocketPath resolves the configured socket name the same way Wayland
// clients resolve WAYLAND_DISPLAY.
func guestSocketPath(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	if runtime := os.Getenv("XDG_RUNTIME_DIR"); runtime != "" {
		return filepath.Join(runtime, name)
	}
	return filepath.Join(os.TempDir(), name)
}

// waylandDisplayEnv returns the WAYLAND_DISPLAY value for a socket path:
// relative to XDG_RUNTIME_DIR when it lives there, absolute otherwise.
func waylandDisplayEnv(socketPath string) string {
	if runtime := os.Getenv("XDG_RUNTIME_DIR"); runtime != "" {
		if rel, err := filepath.Rel(runtime, socketPath); err == nil &&
			rel != ".." && !strings.HasPrefix(rel, "../") {
			return rel
		}
	}
	return socketPath
}

// Status implements the control socket handler. It hops onto the dispatch
// loop for a coherent snapshot.
func (g *Gateway) Status() ipc.StatusData {
	var st ipc.StatusData
	g.loop.PostAndWait(func() {
		st = ipc.StatusData{
			Version:       g.version,
			UptimeSeconds: int64(time.Since(g.started).Seconds()),
			Windows:       g.mgr.Count(),
			GuestDisplay:  g.guests.Path(),
			HostDisplay:   os.Getenv("WAYLAND_DISPLAY"),
			Scale:         g.scaler.Scale(),
		}
	})
	return st
}

// Windows implements the control socket handler.
func (g *Gateway) Windows() []window.Info {
	var infos []window.Info
	g.loop.PostAndWait(func() {
		infos = g.mgr.Snapshot()
	})
	return infos
}

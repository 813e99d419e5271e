package surface

import (
	"fmt"

	"github.com/bnema/waybridge/internal/logger"
	"github.com/bnema/waybridge/internal/shm"
	"github.com/bnema/waybridge/internal/transform"
)

// Surface carries the commit state of one guest surface: pending contents
// and damage on the guest side, buffer pools and viewport state on the
// host side.
//
// A surface starts out holding commits back. Until something unholds it
// (pairing with a managed window does), guest commits latch their state
// but nothing reaches the host; the first unhold forwards the latest
// latched commit.
type Surface struct {
	p    *Pipeline
	key  uint64
	host HostSurface

	destroyed  bool
	held       bool
	deferred   bool
	noViewport bool

	directScale *transform.ScalePair

	// Pending state, applied at commit.
	pendingBuffer   *GuestBuffer
	pendingAttach   bool
	pendingScale    int32
	pendingViewport *transform.Viewport
	damageSurface   []transform.Rect
	damageBuffer    []transform.Rect
	frameQueue      []func(serial uint32)

	// Current state.
	bufferScale int32
	viewport    transform.Viewport
	width       int32
	height      int32

	busy     []*outputBuffer
	released []*outputBuffer

	// Host-side viewport bookkeeping, so updates go out only on change.
	dstSet     bool
	dstW, dstH int32
	srcSet     bool
	srcX, srcY float64
	srcW, srcH float64

	// OnCommit fires on every guest commit after pending state applies and
	// before anything is forwarded, with the surface-local size. The hook
	// may call Unhold to let this commit through.
	OnCommit func(w, h int32)
}

func newSurface(p *Pipeline, key uint64, host HostSurface) *Surface {
	return &Surface{
		p:           p,
		key:         key,
		host:        host,
		held:        true,
		bufferScale: 1,
		viewport:    transform.NewViewport(),
	}
}

// Key returns the pipeline key.
func (s *Surface) Key() uint64 {
	return s.key
}

// Host returns the host-side surface this one forwards to, for the shell
// layer that assigns it a role.
func (s *Surface) Host() HostSurface {
	return s.host
}

// Held reports whether commits are currently withheld from the host.
func (s *Surface) Held() bool {
	return s.held
}

// Size returns the current contents dimensions in buffer pixels.
func (s *Surface) Size() (int32, int32) {
	return s.width, s.height
}

// SurfaceSize returns the surface-local size of the current contents.
func (s *Surface) SurfaceSize() (int32, int32) {
	if s.width == 0 || s.height == 0 {
		return 0, 0
	}
	return s.currentGeometry().SurfaceSize()
}

// DisableViewport keeps host crop and scale overrides off this surface,
// for applications that misrender behind one.
func (s *Surface) DisableViewport() {
	s.noViewport = true
}

// SetDirectScale installs a per-surface axis scale pair overriding the
// global factor. Non-positive on both axes clears it.
func (s *Surface) SetDirectScale(x, y float64) {
	if x <= 0 && y <= 0 {
		s.directScale = nil
		return
	}
	s.directScale = &transform.ScalePair{X: x, Y: y}
}

func (s *Surface) pair() transform.ScalePair {
	return s.p.scaler.Effective(s.directScale)
}

func (s *Surface) currentGeometry() transform.BufferGeometry {
	return transform.BufferGeometry{
		Width:    s.width,
		Height:   s.height,
		Scale:    s.bufferScale,
		Viewport: s.viewport,
	}
}

// pendingGeometry is the geometry damage should be interpreted against:
// pending state where set, current otherwise.
func (s *Surface) pendingGeometry() transform.BufferGeometry {
	g := s.currentGeometry()
	if s.pendingAttach && s.pendingBuffer != nil {
		g.Width = s.pendingBuffer.Width
		g.Height = s.pendingBuffer.Height
	}
	if s.pendingScale > 0 {
		g.Scale = s.pendingScale
	}
	if s.pendingViewport != nil {
		g.Viewport = *s.pendingViewport
	}
	return g
}

// Attach replaces the pending contents. The previous pending buffer, if
// any, is released back to the guest unused. A nil buffer clears contents.
func (s *Surface) Attach(b *GuestBuffer) {
	if s.destroyed {
		if b != nil && b.Release != nil {
			b.Release()
		}
		return
	}
	if s.pendingAttach && s.pendingBuffer != nil {
		old := s.pendingBuffer
		old.Region.Unref()
		if old.Release != nil {
			old.Release()
		}
	}
	s.pendingBuffer = b
	s.pendingAttach = true
	if b != nil {
		b.Region.Ref()
	}
}

// Damage appends a surface-coordinate damage rectangle.
func (s *Surface) Damage(r transform.Rect) {
	if r.Empty() || s.destroyed {
		return
	}
	s.damageSurface = append(s.damageSurface, r)
	br := s.pendingGeometry().SurfaceRectToBuffer(r)
	s.spreadDamage(br)
}

// DamageBuffer appends a buffer-coordinate damage rectangle.
func (s *Surface) DamageBuffer(r transform.Rect) {
	if r.Empty() || s.destroyed {
		return
	}
	s.damageBuffer = append(s.damageBuffer, r)
	s.spreadDamage(r)
}

// spreadDamage unions a buffer-space rect into every pooled output buffer
// so stale buffers know what to refresh when they come back around.
func (s *Surface) spreadDamage(r transform.Rect) {
	if r.Empty() {
		return
	}
	for _, ob := range s.busy {
		ob.addDamage(r)
	}
	for _, ob := range s.released {
		ob.addDamage(r)
	}
}

// SetBufferScale stages a new buffer scale, applied at commit.
func (s *Surface) SetBufferScale(scale int32) {
	if scale < 1 {
		scale = 1
	}
	s.pendingScale = scale
}

func (s *Surface) stageViewport() *transform.Viewport {
	if s.pendingViewport == nil {
		v := s.viewport
		s.pendingViewport = &v
	}
	return s.pendingViewport
}

// SetViewportSource stages a viewport source rectangle. All negative
// clears it.
func (s *Surface) SetViewportSource(x, y, w, h float64) {
	v := s.stageViewport()
	if w < 0 || h < 0 {
		v.SrcX, v.SrcY, v.SrcW, v.SrcH = 0, 0, -1, -1
		return
	}
	v.SrcX, v.SrcY, v.SrcW, v.SrcH = x, y, w, h
}

// SetViewportDestination stages a viewport destination size. Non-positive
// clears it.
func (s *Surface) SetViewportDestination(w, h int32) {
	v := s.stageViewport()
	if w <= 0 || h <= 0 {
		v.DstWidth, v.DstHeight = 0, 0
		return
	}
	v.DstWidth, v.DstHeight = w, h
}

// Frame queues a frame callback, fired after the contents reach the host,
// or immediately on held surfaces so covered guests keep painting.
func (s *Surface) Frame(done func(serial uint32)) {
	if s.destroyed {
		done(0)
		return
	}
	s.frameQueue = append(s.frameQueue, done)
}

// Unhold lets commits through to the host. If a commit arrived while the
// surface was held, it is forwarded now.
func (s *Surface) Unhold() error {
	if !s.held {
		return nil
	}
	s.held = false
	if s.deferred {
		return s.forward()
	}
	return nil
}

// Hold withholds future commits, used when a window unmaps.
func (s *Surface) Hold() {
	s.held = true
}

// Commit applies pending state and forwards the result to the host unless
// the surface is held.
func (s *Surface) Commit() error {
	if s.destroyed {
		return nil
	}
	if s.pendingScale > 0 {
		s.bufferScale = s.pendingScale
		s.pendingScale = 0
	}
	if s.pendingViewport != nil {
		s.viewport = *s.pendingViewport
		s.pendingViewport = nil
	}
	if s.pendingAttach {
		if s.pendingBuffer != nil {
			s.width = s.pendingBuffer.Width
			s.height = s.pendingBuffer.Height
		} else {
			s.width, s.height = 0, 0
		}
	}

	if s.OnCommit != nil {
		w, h := s.SurfaceSize()
		s.OnCommit(w, h)
	}

	if s.held {
		s.deferred = true
		// Fire frame callbacks so a guest waiting on one keeps going even
		// though nothing reached the host.
		s.fireFramesLocally()
		return nil
	}
	return s.forward()
}

func (s *Surface) fireFramesLocally() {
	frames := s.frameQueue
	s.frameQueue = nil
	for _, fn := range frames {
		fn(0)
	}
}

// forward pushes the applied state to the host: copy damage into an output
// buffer, attach, damage, viewport, commit.
func (s *Surface) forward() error {
	s.deferred = false

	// Contents cleared: detach on the host and stop.
	if s.pendingAttach && s.pendingBuffer == nil {
		s.pendingAttach = false
		s.clearPendingDamage()
		if err := s.host.Attach(nil, 0, 0); err != nil {
			return err
		}
		return s.host.Commit()
	}

	if s.pendingAttach {
		if err := s.forwardContents(); err != nil {
			return err
		}
	} else if s.width > 0 {
		// State-only commit: damage and viewport changes without new
		// contents.
		if err := s.applyViewport(); err != nil {
			return err
		}
		if err := s.reportDamage(); err != nil {
			return err
		}
	}

	s.clearPendingDamage()
	for _, fn := range s.frameQueue {
		frame := fn
		if err := s.host.Frame(frame); err != nil {
			return err
		}
	}
	s.frameQueue = nil
	return s.host.Commit()
}

func (s *Surface) forwardContents() error {
	b := s.pendingBuffer
	if !b.Format.Supported() {
		return fmt.Errorf("unsupported pixel format %#x", uint32(b.Format))
	}

	ob, err := s.acquireOutput(b)
	if err != nil {
		return err
	}

	// Copy every accumulated damage rectangle, plane by plane. The guest
	// region stays referenced for the duration of the copy even if the
	// guest destroys the buffer underneath us.
	srcViews := b.planeViews()
	dstViews := ob.format.PlaneViews(0, ob.stride, ob.height)
	for _, r := range ob.damage {
		shm.CopyRect(ob.region, b.Region, dstViews, srcViews, ob.format, ob.width, ob.height, r)
	}
	ob.damage = nil

	// The pixels are ours now; hand the guest its memory back.
	s.pendingAttach = false
	s.pendingBuffer = nil
	b.Region.Unref()
	if b.Release != nil {
		b.Release()
	}

	if err := s.host.Attach(ob.hb, 0, 0); err != nil {
		return err
	}
	if err := s.applyViewport(); err != nil {
		return err
	}
	if err := s.reportDamage(); err != nil {
		return err
	}
	s.busy = append(s.busy, ob)
	return nil
}

// acquireOutput returns a released buffer matching the contents exactly,
// oldest first, or allocates a fresh one. Released buffers that can never
// match again are destroyed on the way.
func (s *Surface) acquireOutput(b *GuestBuffer) (*outputBuffer, error) {
	keep := s.released[:0]
	var found *outputBuffer
	for _, ob := range s.released {
		switch {
		case found == nil && ob.matches(b.Format, b.Width, b.Height):
			found = ob
		case ob.matches(b.Format, b.Width, b.Height):
			keep = append(keep, ob)
		default:
			ob.destroy()
		}
	}
	s.released = keep
	if found != nil {
		return found, nil
	}

	stride := b.Format.Stride(0, b.Width)
	size := b.Format.Size(b.Width, b.Height)
	region, err := shm.Create(size)
	if err != nil {
		logger.Fatal("output buffer allocation failed", "bytes", size, "error", err)
	}
	ob := &outputBuffer{
		region: region,
		width:  b.Width,
		height: b.Height,
		stride: stride,
		format: b.Format,
	}
	ob.fullDamage()
	hb, err := s.p.host.CreateBuffer(region, b.Width, b.Height, stride, b.Format, func() {
		s.handleRelease(ob)
	})
	if err != nil {
		ob.destroy()
		return nil, err
	}
	ob.hb = hb
	return ob, nil
}

// handleRelease moves a host-released buffer back to the released pool, or
// destroys it when the surface is already gone.
func (s *Surface) handleRelease(ob *outputBuffer) {
	if s.destroyed {
		ob.destroy()
		return
	}
	for i, busy := range s.busy {
		if busy == ob {
			s.busy = append(s.busy[:i], s.busy[i+1:]...)
			s.released = append(s.released, ob)
			return
		}
	}
}

// applyViewport reconciles the host-side crop and scale with the current
// guest state, emitting updates only on change.
func (s *Surface) applyViewport() error {
	if s.noViewport {
		return nil
	}
	// Source rectangle passes through untouched; guest source coordinates
	// address the same pixels the host buffer holds.
	if s.viewport.HasSource() {
		v := s.viewport
		if !s.srcSet || v.SrcX != s.srcX || v.SrcY != s.srcY || v.SrcW != s.srcW || v.SrcH != s.srcH {
			if err := s.host.SetViewportSource(v.SrcX, v.SrcY, v.SrcW, v.SrcH); err != nil {
				return err
			}
			s.srcSet = true
			s.srcX, s.srcY, s.srcW, s.srcH = v.SrcX, v.SrcY, v.SrcW, v.SrcH
		}
	} else if s.srcSet {
		if err := s.host.ClearViewportSource(); err != nil {
			return err
		}
		s.srcSet = false
	}

	sw, sh := s.SurfaceSize()
	if sw == 0 || sh == 0 {
		return nil
	}
	lw, lh := s.pair().GuestToHostSize(sw, sh)
	if lw == s.width && lh == s.height && !s.viewport.HasSource() {
		// Identity mapping; retract any previous override.
		if s.dstSet {
			if err := s.host.SetViewportDestination(-1, -1); err != nil {
				return err
			}
			s.dstSet = false
		}
		return nil
	}
	if !s.dstSet || lw != s.dstW || lh != s.dstH {
		if err := s.host.SetViewportDestination(lw, lh); err != nil {
			return err
		}
		s.dstSet = true
		s.dstW, s.dstH = lw, lh
	}
	return nil
}

// reportDamage converts both accumulators to host surface coordinates and
// reports them, without merging overlaps.
func (s *Surface) reportDamage() error {
	pair := s.pair()
	geom := s.currentGeometry()
	sw, sh := s.SurfaceSize()
	bw, bh := pair.GuestToHostSize(sw, sh)

	for _, r := range s.damageSurface {
		hr := pair.GuestDamageToHost(r, bw, bh)
		if hr.Empty() {
			continue
		}
		if err := s.host.Damage(hr.X, hr.Y, hr.Width, hr.Height); err != nil {
			return err
		}
	}
	for _, r := range s.damageBuffer {
		sr := geom.BufferRectToSurface(r)
		hr := pair.GuestDamageToHost(sr, bw, bh)
		if hr.Empty() {
			continue
		}
		if err := s.host.Damage(hr.X, hr.Y, hr.Width, hr.Height); err != nil {
			return err
		}
	}
	return nil
}

func (s *Surface) clearPendingDamage() {
	s.damageSurface = nil
	s.damageBuffer = nil
}

// Destroy tears the surface down. Busy buffers survive until the host
// releases them and are destroyed at that point.
func (s *Surface) Destroy() {
	if s.destroyed {
		return
	}
	s.destroyed = true
	if s.pendingAttach && s.pendingBuffer != nil {
		b := s.pendingBuffer
		s.pendingBuffer = nil
		b.Region.Unref()
		if b.Release != nil {
			b.Release()
		}
	}
	s.fireFramesLocally()
	for _, ob := range s.released {
		ob.destroy()
	}
	s.released = nil
	s.host.Destroy()
	s.p.remove(s.key)
}

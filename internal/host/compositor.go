package host

// Compositor wraps wl_compositor.
type Compositor struct {
	BaseProxy
}

const compositorCreateSurfaceOpcode = 0

// NewCompositor returns an unbound compositor wrapper; bind it through the
// registry.
func NewCompositor(d *Display) *Compositor {
	c := &Compositor{}
	c.attach(d)
	return c
}

// CreateSurface creates a new host surface.
func (c *Compositor) CreateSurface() (*Surface, error) {
	s := &Surface{}
	s.attach(c.Display())
	c.Display().Register(s)
	if err := c.Display().SendRequest(c, compositorCreateSurfaceOpcode, s.ID()); err != nil {
		return nil, err
	}
	return s, nil
}

// Dispatch handles wl_compositor events (there are none).
func (c *Compositor) Dispatch(ev *Event) {
	// No events defined for wl_compositor
}

// Surface wraps a host wl_surface.
type Surface struct {
	BaseProxy

	// OnEnter fires when the surface lands on an output, with the output's
	// object ID.
	OnEnter func(output uint32)
	OnLeave func(output uint32)
}

const (
	surfaceDestroyOpcode        = 0
	surfaceAttachOpcode         = 1
	surfaceDamageOpcode         = 2
	surfaceFrameOpcode          = 3
	surfaceCommitOpcode         = 6
	surfaceSetBufferScaleOpcode = 8
	surfaceDamageBufferOpcode   = 9
)

const (
	surfaceEnterEvent = 0
	surfaceLeaveEvent = 1
)

// Destroy releases the host surface.
func (s *Surface) Destroy() error {
	err := s.Display().SendRequest(s, surfaceDestroyOpcode)
	s.Display().Unregister(s.ID())
	return err
}

// Attach sets the buffer presented on the next commit.
func (s *Surface) Attach(b *Buffer, x, y int32) error {
	var p Proxy
	if b != nil {
		p = b
	}
	return s.Display().SendRequest(s, surfaceAttachOpcode, p, x, y)
}

// Damage marks a surface-coordinate region as needing repaint.
func (s *Surface) Damage(x, y, w, h int32) error {
	return s.Display().SendRequest(s, surfaceDamageOpcode, x, y, w, h)
}

// DamageBuffer marks a buffer-coordinate region as needing repaint.
func (s *Surface) DamageBuffer(x, y, w, h int32) error {
	return s.Display().SendRequest(s, surfaceDamageBufferOpcode, x, y, w, h)
}

// Frame requests a frame callback.
func (s *Surface) Frame(done func(serial uint32)) (*Callback, error) {
	cb := &Callback{Done: done}
	cb.attach(s.Display())
	s.Display().Register(cb)
	if err := s.Display().SendRequest(s, surfaceFrameOpcode, cb.ID()); err != nil {
		return nil, err
	}
	return cb, nil
}

// SetBufferScale declares the attached buffer's scale factor.
func (s *Surface) SetBufferScale(scale int32) error {
	return s.Display().SendRequest(s, surfaceSetBufferScaleOpcode, scale)
}

// Commit atomically applies the pending surface state.
func (s *Surface) Commit() error {
	return s.Display().SendRequest(s, surfaceCommitOpcode)
}

// Dispatch handles wl_surface events.
func (s *Surface) Dispatch(ev *Event) {
	switch ev.Opcode {
	case surfaceEnterEvent:
		if s.OnEnter != nil {
			s.OnEnter(ev.Uint32())
		}
	case surfaceLeaveEvent:
		if s.OnLeave != nil {
			s.OnLeave(ev.Uint32())
		}
	}
}

package host

// Viewporter wraps wp_viewporter.
type Viewporter struct {
	BaseProxy
}

const viewporterGetViewportOpcode = 1

// NewViewporter returns an unbound wp_viewporter wrapper.
func NewViewporter(d *Display) *Viewporter {
	v := &Viewporter{}
	v.attach(d)
	return v
}

// GetViewport attaches crop/scale state to a surface.
func (v *Viewporter) GetViewport(s *Surface) (*Viewport, error) {
	vp := &Viewport{}
	vp.attach(v.Display())
	v.Display().Register(vp)
	if err := v.Display().SendRequest(v, viewporterGetViewportOpcode, vp.ID(), s); err != nil {
		return nil, err
	}
	return vp, nil
}

// Dispatch handles wp_viewporter events (there are none).
func (v *Viewporter) Dispatch(ev *Event) {
	// No events defined for wp_viewporter
}

// Viewport wraps wp_viewport.
type Viewport struct {
	BaseProxy
}

const (
	viewportDestroyOpcode        = 0
	viewportSetSourceOpcode      = 1
	viewportSetDestinationOpcode = 2
)

// Destroy removes the viewport from its surface.
func (v *Viewport) Destroy() error {
	err := v.Display().SendRequest(v, viewportDestroyOpcode)
	v.Display().Unregister(v.ID())
	return err
}

// SetSource crops the buffer to the given rectangle. All -1 clears it.
func (v *Viewport) SetSource(x, y, w, h float64) error {
	return v.Display().SendRequest(v, viewportSetSourceOpcode, x, y, w, h)
}

// ClearSource removes the source rectangle.
func (v *Viewport) ClearSource() error {
	return v.SetSource(-1, -1, -1, -1)
}

// SetDestination scales the surface to the given logical size.
func (v *Viewport) SetDestination(w, h int32) error {
	return v.Display().SendRequest(v, viewportSetDestinationOpcode, w, h)
}

// ClearDestination removes the destination override.
func (v *Viewport) ClearDestination() error {
	return v.SetDestination(-1, -1)
}

// Dispatch handles wp_viewport events (there are none).
func (v *Viewport) Dispatch(ev *Event) {
	// No events defined for wp_viewport
}

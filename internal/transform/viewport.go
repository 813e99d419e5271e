package transform

import "math"

// Viewport is an active cropping/scaling override on a surface. Source
// coordinates are fractional surface-local units; a negative SrcW or SrcH
// means no source rectangle. DstWidth/DstHeight of zero mean no
// destination override.
type Viewport struct {
	SrcX, SrcY float64
	SrcW, SrcH float64
	DstWidth   int32
	DstHeight  int32
}

// NewViewport returns a viewport with both overrides unset.
func NewViewport() Viewport {
	return Viewport{SrcW: -1, SrcH: -1}
}

// HasSource reports whether a source rectangle is active.
func (v Viewport) HasSource() bool {
	return v.SrcW > 0 && v.SrcH > 0
}

// HasDestination reports whether a destination size is active.
func (v Viewport) HasDestination() bool {
	return v.DstWidth > 0 && v.DstHeight > 0
}

// Active reports whether either override is set.
func (v Viewport) Active() bool {
	return v.HasSource() || v.HasDestination()
}

// BufferGeometry relates a surface's local coordinate space to its attached
// buffer's pixel space, taking the buffer scale and any viewport override
// into account.
type BufferGeometry struct {
	Width, Height int32 // buffer pixels
	Scale         int32 // wl_surface.set_buffer_scale, minimum 1
	Viewport      Viewport
}

func (g BufferGeometry) scale() float64 {
	if g.Scale < 1 {
		return 1
	}
	return float64(g.Scale)
}

// SurfaceSize returns the surface-local dimensions the contents occupy:
// the viewport destination when set, else the source extent, else the
// buffer size divided by the buffer scale.
func (g BufferGeometry) SurfaceSize() (int32, int32) {
	if g.Viewport.HasDestination() {
		return g.Viewport.DstWidth, g.Viewport.DstHeight
	}
	if g.Viewport.HasSource() {
		return ceilMin1(g.Viewport.SrcW), ceilMin1(g.Viewport.SrcH)
	}
	s := g.scale()
	return roundMin1(float64(g.Width) / s), roundMin1(float64(g.Height) / s)
}

// visible returns the buffer-pixel region the surface presents and the
// surface-local size it is presented at.
func (g BufferGeometry) visible() (bx, by, bw, bh, sw, sh float64) {
	s := g.scale()
	if g.Viewport.HasSource() {
		bx = g.Viewport.SrcX * s
		by = g.Viewport.SrcY * s
		bw = g.Viewport.SrcW * s
		bh = g.Viewport.SrcH * s
	} else {
		bw = float64(g.Width)
		bh = float64(g.Height)
	}
	w, h := g.SurfaceSize()
	return bx, by, bw, bh, float64(w), float64(h)
}

// SurfaceRectToBuffer maps a surface-local rectangle into buffer pixels,
// rounded outward and clamped to the buffer. Used to turn surface-space
// damage into copyable pixel regions.
func (g BufferGeometry) SurfaceRectToBuffer(r Rect) Rect {
	bx, by, bw, bh, sw, sh := g.visible()
	if sw <= 0 || sh <= 0 || bw <= 0 || bh <= 0 {
		return Rect{}
	}
	fx := bw / sw
	fy := bh / sh
	x1 := bx + float64(r.X)*fx
	y1 := by + float64(r.Y)*fy
	x2 := bx + float64(r.X+r.Width)*fx
	y2 := by + float64(r.Y+r.Height)*fy
	return outwardRect(x1-1, y1-1, x2+1, y2+1, g.Width, g.Height)
}

// BufferRectToSurface maps a buffer-pixel rectangle back into surface-local
// units, rounded outward and clamped to the surface extent.
func (g BufferGeometry) BufferRectToSurface(r Rect) Rect {
	bx, by, bw, bh, sw, sh := g.visible()
	if sw <= 0 || sh <= 0 || bw <= 0 || bh <= 0 {
		return Rect{}
	}
	fx := sw / bw
	fy := sh / bh
	x1 := (float64(r.X) - bx) * fx
	y1 := (float64(r.Y) - by) * fy
	x2 := (float64(r.X+r.Width) - bx) * fx
	y2 := (float64(r.Y+r.Height) - by) * fy
	w, h := g.SurfaceSize()
	return outwardRect(x1-1, y1-1, x2+1, y2+1, w, h)
}

// FixedToFloat converts a Wayland 24.8 fixed-point value.
func FixedToFloat(f int32) float64 {
	return float64(f) / 256.0
}

// FloatToFixed converts to Wayland 24.8 fixed point.
func FloatToFixed(f float64) int32 {
	return int32(math.Round(f * 256.0))
}

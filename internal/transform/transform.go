// Package transform converts coordinates between the guest pixel space and
// the host logical space. All conversions are pure; nothing here touches a
// socket or a surface.
//
// The convention throughout: a scale factor is "guest pixels per host
// logical unit", so guest-to-host divides and host-to-guest multiplies.
// Converting a value to the other space and back lands within one unit of
// the original.
package transform

import "math"

// Rect is an axis-aligned rectangle. Damage, geometry and viewport
// destinations all travel as Rects; the coordinate space is whatever the
// operation documents.
type Rect struct {
	X, Y          int32
	Width, Height int32
}

// Empty reports whether the rectangle has no area.
func (r Rect) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// Intersect clips r against bounds (0,0,w,h). Degenerate results collapse
// to an empty Rect.
func (r Rect) Intersect(w, h int32) Rect {
	x1 := max32(r.X, 0)
	y1 := max32(r.Y, 0)
	x2 := min32(r.X+r.Width, w)
	y2 := min32(r.Y+r.Height, h)
	if x2 <= x1 || y2 <= y1 {
		return Rect{}
	}
	return Rect{X: x1, Y: y1, Width: x2 - x1, Height: y2 - y1}
}

// Contains reports whether r fully covers other.
func (r Rect) Contains(other Rect) bool {
	return other.X >= r.X && other.Y >= r.Y &&
		other.X+other.Width <= r.X+r.Width &&
		other.Y+other.Height <= r.Y+r.Height
}

// ScalePair is an axis-wise scale factor, guest pixels per host logical
// unit on each axis.
type ScalePair struct {
	X, Y float64
}

func (p ScalePair) valid() ScalePair {
	if p.X <= 0 {
		p.X = 1
	}
	if p.Y <= 0 {
		p.Y = 1
	}
	return p
}

// GuestToHostPoint converts a guest position to host logical space,
// rounding to nearest.
func (p ScalePair) GuestToHostPoint(x, y int32) (int32, int32) {
	p = p.valid()
	return roundi(float64(x) / p.X), roundi(float64(y) / p.Y)
}

// HostToGuestPoint converts a host logical position to guest pixels,
// rounding to nearest.
func (p ScalePair) HostToGuestPoint(x, y int32) (int32, int32) {
	p = p.valid()
	return roundi(float64(x) * p.X), roundi(float64(y) * p.Y)
}

// GuestToHostSize converts guest dimensions to host logical space. The
// result is rounded up and never smaller than 1x1 so a window cannot lose
// its last row of coverage.
func (p ScalePair) GuestToHostSize(w, h int32) (int32, int32) {
	p = p.valid()
	return ceilMin1(float64(w) / p.X), ceilMin1(float64(h) / p.Y)
}

// HostToGuestSize converts host logical dimensions to guest pixels,
// clamped to minimum 1x1.
func (p ScalePair) HostToGuestSize(w, h int32) (int32, int32) {
	p = p.valid()
	return roundMin1(float64(w) * p.X), roundMin1(float64(h) * p.Y)
}

// GuestToHostRect converts position and size together.
func (p ScalePair) GuestToHostRect(r Rect) Rect {
	x, y := p.GuestToHostPoint(r.X, r.Y)
	w, h := p.GuestToHostSize(r.Width, r.Height)
	return Rect{X: x, Y: y, Width: w, Height: h}
}

// HostToGuestRect converts position and size together.
func (p ScalePair) HostToGuestRect(r Rect) Rect {
	x, y := p.HostToGuestPoint(r.X, r.Y)
	w, h := p.HostToGuestSize(r.Width, r.Height)
	return Rect{X: x, Y: y, Width: w, Height: h}
}

// GuestDamageToHost converts a guest-space damage rectangle to host logical
// space: scale, outset by one unit, then round outward (floor the low edge,
// ceil the high edge). The result always covers every source pixel that a
// fractional scale could smear across a unit boundary. Bounds of zero
// disable clamping on that axis.
func (p ScalePair) GuestDamageToHost(r Rect, boundsW, boundsH int32) Rect {
	p = p.valid()
	x1 := float64(r.X)/p.X - 1
	y1 := float64(r.Y)/p.Y - 1
	x2 := float64(r.X+r.Width)/p.X + 1
	y2 := float64(r.Y+r.Height)/p.Y + 1
	return outwardRect(x1, y1, x2, y2, boundsW, boundsH)
}

// Scaler resolves which scale pair applies to a conversion: a per-surface
// direct pair wins, then the process-wide direct pair, then the global
// factor on both axes.
type Scaler struct {
	global float64
	direct *ScalePair
}

// NewScaler returns a Scaler with the given global factor. Factors at or
// below zero fall back to 1.
func NewScaler(scale float64) *Scaler {
	if scale <= 0 {
		scale = 1
	}
	return &Scaler{global: scale}
}

// SetScale replaces the global factor.
func (s *Scaler) SetScale(scale float64) {
	if scale <= 0 {
		scale = 1
	}
	s.global = scale
}

// Scale returns the global factor.
func (s *Scaler) Scale() float64 {
	return s.global
}

// SetDirectScale installs the process-wide axis pair. Zero on both axes
// clears it.
func (s *Scaler) SetDirectScale(x, y float64) {
	if x <= 0 && y <= 0 {
		s.direct = nil
		return
	}
	s.direct = &ScalePair{X: x, Y: y}
}

// Effective picks the pair governing a surface: its own direct pair when
// set, otherwise the process-wide pair, otherwise the global factor.
func (s *Scaler) Effective(surface *ScalePair) ScalePair {
	if surface != nil {
		return surface.valid()
	}
	if s.direct != nil {
		return s.direct.valid()
	}
	return ScalePair{X: s.global, Y: s.global}
}

// Pair is shorthand for Effective(nil).
func (s *Scaler) Pair() ScalePair {
	return s.Effective(nil)
}

func roundi(f float64) int32 {
	return int32(math.Round(f))
}

func ceilMin1(f float64) int32 {
	v := int32(math.Ceil(f))
	if v < 1 {
		v = 1
	}
	return v
}

func roundMin1(f float64) int32 {
	v := roundi(f)
	if v < 1 {
		v = 1
	}
	return v
}

func outwardRect(x1, y1, x2, y2 float64, boundsW, boundsH int32) Rect {
	fx := math.Floor(x1)
	fy := math.Floor(y1)
	cx := math.Ceil(x2)
	cy := math.Ceil(y2)
	r := Rect{
		X:      int32(fx),
		Y:      int32(fy),
		Width:  int32(cx - fx),
		Height: int32(cy - fy),
	}
	if boundsW > 0 && boundsH > 0 {
		r = r.Intersect(boundsW, boundsH)
	}
	return r
}

func max32(a, b int32) int32 {
	if a > b {
		return a
	}
	return b
}

func min32(a, b int32) int32 {
	if a < b {
		return a
	}
	return b
}

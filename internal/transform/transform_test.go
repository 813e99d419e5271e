package transform

import "testing"

func TestPointRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		scale float64
		x, y  int32
	}{
		{"identity", 1.0, 100, 200},
		{"double", 2.0, 101, 203},
		{"fractional", 1.5, 333, 777},
		{"upscale", 0.5, 40, 60},
		{"odd fractional", 1.25, 1919, 1079},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := ScalePair{X: tt.scale, Y: tt.scale}
			hx, hy := p.GuestToHostPoint(tt.x, tt.y)
			gx, gy := p.HostToGuestPoint(hx, hy)
			if diff := gx - tt.x; diff < -1 || diff > 1 {
				t.Errorf("x round trip drifted: %d -> %d -> %d", tt.x, hx, gx)
			}
			if diff := gy - tt.y; diff < -1 || diff > 1 {
				t.Errorf("y round trip drifted: %d -> %d -> %d", tt.y, hy, gy)
			}
		})
	}
}

func TestSizeRoundTrip(t *testing.T) {
	scales := []float64{1.0, 2.0, 1.5, 0.5, 1.25}
	sizes := []struct{ w, h int32 }{
		{800, 600},
		{1, 1},
		{1921, 1081},
		{3, 7},
	}

	for _, scale := range scales {
		p := ScalePair{X: scale, Y: scale}
		for _, sz := range sizes {
			hw, hh := p.GuestToHostSize(sz.w, sz.h)
			gw, gh := p.HostToGuestSize(hw, hh)
			if hw < 1 || hh < 1 {
				t.Errorf("scale %v: size %dx%d collapsed to %dx%d", scale, sz.w, sz.h, hw, hh)
			}
			// The round trip may grow by the ceil but never shrinks below
			// the original minus one unit.
			if gw < sz.w-1 || gh < sz.h-1 {
				t.Errorf("scale %v: size %dx%d -> %dx%d -> %dx%d lost coverage",
					scale, sz.w, sz.h, hw, hh, gw, gh)
			}
		}
	}
}

func TestZeroSizeClampsToOne(t *testing.T) {
	p := ScalePair{X: 2, Y: 2}
	w, h := p.GuestToHostSize(0, 0)
	if w != 1 || h != 1 {
		t.Errorf("expected 1x1, got %dx%d", w, h)
	}
	w, h = p.HostToGuestSize(0, 0)
	if w != 1 || h != 1 {
		t.Errorf("expected 1x1, got %dx%d", w, h)
	}
}

func TestGuestDamageToHost(t *testing.T) {
	tests := []struct {
		name     string
		scale    float64
		in       Rect
		boundsW  int32
		boundsH  int32
		expected Rect
	}{
		{
			name:     "identity outset",
			scale:    1.0,
			in:       Rect{X: 10, Y: 10, Width: 50, Height: 50},
			expected: Rect{X: 9, Y: 9, Width: 52, Height: 52},
		},
		{
			name:     "half scale outset",
			scale:    2.0,
			in:       Rect{X: 10, Y: 10, Width: 50, Height: 50},
			expected: Rect{X: 4, Y: 4, Width: 27, Height: 27},
		},
		{
			name:     "fractional scale rounds outward",
			scale:    1.5,
			in:       Rect{X: 3, Y: 3, Width: 4, Height: 4},
			expected: Rect{X: 1, Y: 1, Width: 5, Height: 5},
		},
		{
			name:     "clamped to bounds",
			scale:    1.0,
			in:       Rect{X: 0, Y: 0, Width: 100, Height: 100},
			boundsW:  50,
			boundsH:  50,
			expected: Rect{X: 0, Y: 0, Width: 50, Height: 50},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := ScalePair{X: tt.scale, Y: tt.scale}
			got := p.GuestDamageToHost(tt.in, tt.boundsW, tt.boundsH)
			if got != tt.expected {
				t.Errorf("got %+v, want %+v", got, tt.expected)
			}
		})
	}
}

func TestDamageNeverUnderCovers(t *testing.T) {
	// Every guest pixel in the damage rect must land inside the converted
	// host rect when mapped individually.
	scales := []float64{1.0, 2.0, 1.5, 1.25, 3.0}
	rects := []Rect{
		{X: 10, Y: 10, Width: 50, Height: 50},
		{X: 1, Y: 1, Width: 1, Height: 1},
		{X: 7, Y: 13, Width: 31, Height: 17},
	}

	for _, scale := range scales {
		p := ScalePair{X: scale, Y: scale}
		for _, r := range rects {
			host := p.GuestDamageToHost(r, 0, 0)
			corners := []struct{ x, y int32 }{
				{r.X, r.Y},
				{r.X + r.Width - 1, r.Y + r.Height - 1},
			}
			for _, c := range corners {
				hx, hy := p.GuestToHostPoint(c.x, c.y)
				if hx < host.X || hx >= host.X+host.Width ||
					hy < host.Y || hy >= host.Y+host.Height {
					t.Errorf("scale %v: corner (%d,%d) -> (%d,%d) outside %+v",
						scale, c.x, c.y, hx, hy, host)
				}
			}
		}
	}
}

func TestScalerEffective(t *testing.T) {
	s := NewScaler(2.0)

	if got := s.Effective(nil); got.X != 2.0 || got.Y != 2.0 {
		t.Errorf("global pair: got %+v", got)
	}

	s.SetDirectScale(1.5, 1.25)
	if got := s.Effective(nil); got.X != 1.5 || got.Y != 1.25 {
		t.Errorf("process direct pair: got %+v", got)
	}

	surface := &ScalePair{X: 3.0, Y: 3.0}
	if got := s.Effective(surface); got.X != 3.0 || got.Y != 3.0 {
		t.Errorf("surface pair: got %+v", got)
	}

	s.SetDirectScale(0, 0)
	if got := s.Effective(nil); got.X != 2.0 || got.Y != 2.0 {
		t.Errorf("cleared direct pair: got %+v", got)
	}
}

func TestScalerRejectsNonPositive(t *testing.T) {
	s := NewScaler(0)
	if s.Scale() != 1 {
		t.Errorf("zero scale should fall back to 1, got %v", s.Scale())
	}
	s.SetScale(-3)
	if s.Scale() != 1 {
		t.Errorf("negative scale should fall back to 1, got %v", s.Scale())
	}
}

func TestRectIntersect(t *testing.T) {
	tests := []struct {
		name     string
		in       Rect
		w, h     int32
		expected Rect
	}{
		{"inside", Rect{10, 10, 20, 20}, 100, 100, Rect{10, 10, 20, 20}},
		{"overhang", Rect{90, 90, 20, 20}, 100, 100, Rect{90, 90, 10, 10}},
		{"negative origin", Rect{-5, -5, 20, 20}, 100, 100, Rect{0, 0, 15, 15}},
		{"disjoint", Rect{200, 200, 10, 10}, 100, 100, Rect{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.in.Intersect(tt.w, tt.h); got != tt.expected {
				t.Errorf("got %+v, want %+v", got, tt.expected)
			}
		})
	}
}

func TestSurfaceRectToBuffer(t *testing.T) {
	tests := []struct {
		name     string
		geom     BufferGeometry
		in       Rect
		expected Rect
	}{
		{
			name:     "unit scale",
			geom:     BufferGeometry{Width: 100, Height: 100, Scale: 1, Viewport: NewViewport()},
			in:       Rect{X: 10, Y: 10, Width: 10, Height: 10},
			expected: Rect{X: 9, Y: 9, Width: 12, Height: 12},
		},
		{
			name:     "buffer scale 2",
			geom:     BufferGeometry{Width: 200, Height: 200, Scale: 2, Viewport: NewViewport()},
			in:       Rect{X: 0, Y: 0, Width: 10, Height: 10},
			expected: Rect{X: 0, Y: 0, Width: 21, Height: 21},
		},
		{
			name: "viewport destination shrink",
			geom: BufferGeometry{
				Width: 100, Height: 100, Scale: 1,
				Viewport: Viewport{SrcW: -1, SrcH: -1, DstWidth: 50, DstHeight: 50},
			},
			in:       Rect{X: 10, Y: 10, Width: 10, Height: 10},
			expected: Rect{X: 19, Y: 19, Width: 22, Height: 22},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.geom.SurfaceRectToBuffer(tt.in); got != tt.expected {
				t.Errorf("got %+v, want %+v", got, tt.expected)
			}
		})
	}
}

func TestBufferRectToSurfaceCovers(t *testing.T) {
	geom := BufferGeometry{Width: 200, Height: 200, Scale: 2, Viewport: NewViewport()}
	buf := Rect{X: 40, Y: 40, Width: 20, Height: 20}
	surf := geom.BufferRectToSurface(buf)
	back := geom.SurfaceRectToBuffer(surf)
	if !back.Contains(buf) {
		t.Errorf("buffer %+v -> surface %+v -> buffer %+v no longer covers the original", buf, surf, back)
	}
}

func TestSurfaceSize(t *testing.T) {
	tests := []struct {
		name string
		geom BufferGeometry
		w, h int32
	}{
		{
			name: "plain",
			geom: BufferGeometry{Width: 640, Height: 480, Scale: 1, Viewport: NewViewport()},
			w:    640, h: 480,
		},
		{
			name: "hidpi",
			geom: BufferGeometry{Width: 640, Height: 480, Scale: 2, Viewport: NewViewport()},
			w:    320, h: 240,
		},
		{
			name: "destination wins",
			geom: BufferGeometry{
				Width: 640, Height: 480, Scale: 2,
				Viewport: Viewport{SrcW: -1, SrcH: -1, DstWidth: 100, DstHeight: 50},
			},
			w: 100, h: 50,
		},
		{
			name: "source extent without destination",
			geom: BufferGeometry{
				Width: 640, Height: 480, Scale: 1,
				Viewport: Viewport{SrcX: 10, SrcY: 10, SrcW: 32.5, SrcH: 16.25},
			},
			w: 33, h: 17,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h := tt.geom.SurfaceSize()
			if w != tt.w || h != tt.h {
				t.Errorf("got %dx%d, want %dx%d", w, h, tt.w, tt.h)
			}
		})
	}
}

func TestFixedConversion(t *testing.T) {
	values := []float64{0, 1, -1, 12.5, 100.25, -7.75}
	for _, v := range values {
		fixed := FloatToFixed(v)
		back := FixedToFloat(fixed)
		if back != v {
			t.Errorf("%v -> %d -> %v", v, fixed, back)
		}
	}
}

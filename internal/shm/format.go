package shm

import "github.com/bnema/waybridge/internal/transform"

// Format is a wl_shm pixel format code.
type Format uint32

// The formats the gateway translates. Single-plane 32-bit RGB plus NV12,
// which arrives from video-decoding guests.
const (
	FormatARGB8888 Format = 0
	FormatXRGB8888 Format = 1
	FormatNV12     Format = 0x3231564e
)

// Plane describes one plane of a format: bytes per pixel and the power-of-
// two subsampling shifts relative to the full image.
type Plane struct {
	Bpp        int32
	SubsampleX uint
	SubsampleY uint
}

var formatPlanes = map[Format][]Plane{
	FormatARGB8888: {{Bpp: 4}},
	FormatXRGB8888: {{Bpp: 4}},
	FormatNV12: {
		{Bpp: 1},                               // Y
		{Bpp: 2, SubsampleX: 1, SubsampleY: 1}, // interleaved CbCr
	},
}

// Supported reports whether the gateway can translate the format.
func (f Format) Supported() bool {
	_, ok := formatPlanes[f]
	return ok
}

// Planes returns the plane layout, nil for unknown formats.
func (f Format) Planes() []Plane {
	return formatPlanes[f]
}

// Stride returns the tightly packed stride of the given plane for an image
// of the given width.
func (f Format) Stride(plane int, width int32) int32 {
	planes := formatPlanes[f]
	if plane >= len(planes) {
		return 0
	}
	p := planes[plane]
	return (width >> p.SubsampleX) * p.Bpp
}

// Size returns the byte size of a tightly packed image, all planes.
func (f Format) Size(width, height int32) int {
	total := 0
	for i, p := range formatPlanes[f] {
		total += int(f.Stride(i, width)) * int(height>>p.SubsampleY)
	}
	return total
}

// PlaneOffset returns the byte offset of a plane in a tightly packed image.
func (f Format) PlaneOffset(plane int, width, height int32) int32 {
	var off int32
	for i, p := range formatPlanes[f] {
		if i == plane {
			break
		}
		off += f.Stride(i, width) * (height >> p.SubsampleY)
	}
	return off
}

// PlaneViews lays the format's planes out from a buffer's base offset and
// row stride. Subsampled planes follow the previous plane directly, sharing
// the stride, which matches how single-fd NV12 pools are carved up.
func (f Format) PlaneViews(offset, stride, height int32) []PlaneView {
	planes := formatPlanes[f]
	views := make([]PlaneView, len(planes))
	off := offset
	for i, p := range planes {
		views[i] = PlaneView{Offset: off, Stride: stride}
		off += stride * (height >> p.SubsampleY)
	}
	return views
}

// PlaneRect shrinks a full-image pixel rectangle to the plane's subsampled
// grid, rounding outward so chroma shared with a damaged luma pixel is
// always rewritten.
func (p Plane) PlaneRect(r transform.Rect) transform.Rect {
	x1 := r.X >> p.SubsampleX
	y1 := r.Y >> p.SubsampleY
	x2 := ceilShift(r.X+r.Width, p.SubsampleX)
	y2 := ceilShift(r.Y+r.Height, p.SubsampleY)
	return transform.Rect{X: x1, Y: y1, Width: x2 - x1, Height: y2 - y1}
}

func ceilShift(v int32, shift uint) int32 {
	mask := int32(1)<<shift - 1
	return (v + mask) >> shift
}

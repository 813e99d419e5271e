package shm

import "github.com/bnema/waybridge/internal/transform"

// PlaneView addresses one plane inside a region: the byte offset where the
// plane starts and its row stride.
type PlaneView struct {
	Offset int32
	Stride int32
}

// CopyRect copies the damage rectangle r (full-image pixel coordinates)
// from src to dst across every plane of the format. Source and destination
// must hold images of the same format and dimensions; their plane layouts
// may differ. Rows outside either mapping are skipped rather than read out
// of bounds.
func CopyRect(dst, src *Region, dstPlanes, srcPlanes []PlaneView, f Format, width, height int32, r transform.Rect) {
	r = r.Intersect(width, height)
	if r.Empty() || dst == nil || src == nil {
		return
	}
	for i, plane := range f.Planes() {
		if i >= len(dstPlanes) || i >= len(srcPlanes) {
			return
		}
		pr := plane.PlaneRect(r)
		copyPlane(dst.Bytes(), src.Bytes(), dstPlanes[i], srcPlanes[i], plane.Bpp, pr)
	}
}

func copyPlane(dst, src []byte, dv, sv PlaneView, bpp int32, r transform.Rect) {
	rowBytes := int(r.Width * bpp)
	if rowBytes <= 0 {
		return
	}
	for y := r.Y; y < r.Y+r.Height; y++ {
		so := int(sv.Offset) + int(y)*int(sv.Stride) + int(r.X*bpp)
		do := int(dv.Offset) + int(y)*int(dv.Stride) + int(r.X*bpp)
		if so < 0 || do < 0 || so+rowBytes > len(src) || do+rowBytes > len(dst) {
			continue
		}
		copy(dst[do:do+rowBytes], src[so:so+rowBytes])
	}
}

// Package imaging has the small grayscale helpers shared by the motion gate
// and the tamper monitor.
package imaging

import (
	"image"

	"golang.org/x/image/draw"
)

// Gray converts img to 8-bit luma, downscaling so the result is at most
// width pixels wide (aspect ratio kept). width <= 0 disables scaling.
func Gray(img image.Image, width int) *image.Gray {
	sb := img.Bounds()
	w, h := sb.Dx(), sb.Dy()
	if width > 0 && w > width {
		h = max(1, h*width/w)
		w = width
	}
	dst := image.NewGray(image.Rect(0, 0, w, h))
	if w == sb.Dx() && h == sb.Dy() {
		draw.Draw(dst, dst.Bounds(), img, sb.Min, draw.Src)
		return dst
	}
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, sb, draw.Src, nil)
	return dst
}

// MeanLuma is the average pixel value of g in [0,255].
func MeanLuma(g *image.Gray) float64 {
	if len(g.Pix) == 0 {
		return 0
	}
	var sum uint64
	for _, p := range g.Pix {
		sum += uint64(p)
	}
	return float64(sum) / float64(len(g.Pix))
}

// DiffFraction returns the fraction of pixels whose absolute difference
// between a and b exceeds delta. Images of different size count as fully
// different.
func DiffFraction(a, b *image.Gray, delta int) float64 {
	if a.Bounds().Size() != b.Bounds().Size() || len(a.Pix) == 0 {
		return 1
	}
	var changed int
	for i := range a.Pix {
		d := int(a.Pix[i]) - int(b.Pix[i])
		if d < 0 {
			d = -d
		}
		if d > delta {
			changed++
		}
	}
	return float64(changed) / float64(len(a.Pix))
}

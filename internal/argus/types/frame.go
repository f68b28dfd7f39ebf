package types

import (
	"image"
	"time"
)

// Frame is a single decoded image from the camera. Frames are shared
// read-only between components once created; nobody mutates Image.
type Frame struct {
	Seq         uint64
	CaptureTime time.Time
	Image       image.Image
}

func (f Frame) Width() int {
	if f.Image == nil {
		return 0
	}
	return f.Image.Bounds().Dx()
}

func (f Frame) Height() int {
	if f.Image == nil {
		return 0
	}
	return f.Image.Bounds().Dy()
}

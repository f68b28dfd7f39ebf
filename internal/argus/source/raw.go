// Package source reads camera frames from an ffmpeg child process.
package source

import (
	"errors"
	"fmt"
	"image"
	"io"
)

var ErrFrameSize = errors.New("invalid frame size")

// RawReader decodes a stream of packed rgb24 frames of a fixed size.
type RawReader struct {
	r    io.Reader
	w, h int
	buf  []byte
}

func NewRawReader(r io.Reader, width, height int) (*RawReader, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrFrameSize, width, height)
	}
	return &RawReader{r: r, w: width, h: height, buf: make([]byte, width*height*3)}, nil
}

// Read returns the next frame. A stream that ends between frames returns
// io.EOF; one that ends mid-frame returns io.ErrUnexpectedEOF.
func (rr *RawReader) Read() (*image.RGBA, error) {
	if _, err := io.ReadFull(rr.r, rr.buf); err != nil {
		return nil, err
	}
	img := image.NewRGBA(image.Rect(0, 0, rr.w, rr.h))
	for i, j := 0, 0; i < len(rr.buf); i, j = i+3, j+4 {
		img.Pix[j] = rr.buf[i]
		img.Pix[j+1] = rr.buf[i+1]
		img.Pix[j+2] = rr.buf[i+2]
		img.Pix[j+3] = 0xff
	}
	return img, nil
}

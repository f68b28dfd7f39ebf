// Package detect talks to an out-of-process object detector. Requests and
// responses are msgpack messages framed by a 4-byte big-endian length.
package detect

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"image/jpeg"
	"io"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/BrandonDHaskell/Argus/internal/argus/types"
)

var (
	// ErrBroken means the stream lost framing (timeout or short read) and
	// cannot be used again.
	ErrBroken      = errors.New("detector connection broken")
	ErrWorker      = errors.New("detector worker error")
	ErrMessageSize = errors.New("detector message too large")
)

// maxMessage bounds a single response; anything larger means the stream is
// out of sync.
const maxMessage = 16 << 20

type request struct {
	Seq       uint64  `msgpack:"seq"`
	Timestamp string  `msgpack:"timestamp"`
	Width     int     `msgpack:"width"`
	Height    int     `msgpack:"height"`
	Format    string  `msgpack:"format"`
	FrameData []byte  `msgpack:"frame_data"`
	Threshold float64 `msgpack:"threshold"`
	Classes   []int   `msgpack:"classes"`
}

type response struct {
	Seq        uint64          `msgpack:"seq"`
	Detections []wireDetection `msgpack:"detections"`
	Error      string          `msgpack:"error"`
	TotalMS    float64         `msgpack:"total_ms"`
}

type wireDetection struct {
	ClassID    int        `msgpack:"class_id"`
	Label      string     `msgpack:"label"`
	Confidence float64    `msgpack:"confidence"`
	BBox       [4]float64 `msgpack:"bbox"` // x1, y1, x2, y2 in pixels
}

// Conn runs one request at a time over a writer/reader pair.
type Conn struct {
	w       io.Writer
	r       io.Reader
	quality int

	mu     sync.Mutex
	broken bool
	last   time.Duration
}

// NewConn wraps w (towards the worker) and r (from the worker). Frames are
// sent as JPEG at the given quality (1-100, default 80).
func NewConn(w io.Writer, r io.Reader, quality int) *Conn {
	if quality <= 0 || quality > 100 {
		quality = 80
	}
	return &Conn{w: w, r: r, quality: quality}
}

// Detect sends f and waits for the matching response. If ctx ends first the
// connection is marked broken, because a late response would desync it.
func (c *Conn) Detect(ctx context.Context, f types.Frame, threshold float64, classes []int) ([]types.Detection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.broken {
		return nil, ErrBroken
	}

	payload, err := c.encode(f, threshold, classes)
	if err != nil {
		return nil, err
	}

	type result struct {
		resp response
		err  error
	}
	done := make(chan result, 1)
	go func() {
		var res result
		if res.err = writeMessage(c.w, payload); res.err == nil {
			res.resp, res.err = readResponse(c.r)
		}
		done <- res
	}()

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		c.broken = true
		return nil, fmt.Errorf("%w: %v", ErrBroken, ctx.Err())
	}
	if res.err != nil {
		c.broken = true
		return nil, fmt.Errorf("%w: %v", ErrBroken, res.err)
	}

	resp := res.resp
	if resp.Seq != f.Seq {
		c.broken = true
		return nil, fmt.Errorf("%w: response for frame %d, expected %d", ErrBroken, resp.Seq, f.Seq)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrWorker, resp.Error)
	}
	c.last = time.Duration(resp.TotalMS * float64(time.Millisecond))

	out := make([]types.Detection, 0, len(resp.Detections))
	for _, d := range resp.Detections {
		out = append(out, types.Detection{
			ClassID:    d.ClassID,
			Label:      d.Label,
			Confidence: d.Confidence,
			BBox:       types.BBox{X1: d.BBox[0], Y1: d.BBox[1], X2: d.BBox[2], Y2: d.BBox[3]},
		})
	}
	return out, nil
}

// Broken reports whether the connection must be replaced.
func (c *Conn) Broken() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.broken
}

// LastLatency is the worker-reported time of the last successful request.
func (c *Conn) LastLatency() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

func (c *Conn) encode(f types.Frame, threshold float64, classes []int) ([]byte, error) {
	var img bytes.Buffer
	if err := jpeg.Encode(&img, f.Image, &jpeg.Options{Quality: c.quality}); err != nil {
		return nil, fmt.Errorf("encode frame %d: %w", f.Seq, err)
	}
	payload, err := msgpack.Marshal(request{
		Seq:       f.Seq,
		Timestamp: f.CaptureTime.UTC().Format(time.RFC3339Nano),
		Width:     f.Width(),
		Height:    f.Height(),
		Format:    "jpeg",
		FrameData: img.Bytes(),
		Threshold: threshold,
		Classes:   classes,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	return payload, nil
}

func writeMessage(w io.Writer, payload []byte) error {
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))
	if _, err := w.Write(prefix[:]); err != nil {
		return fmt.Errorf("write length prefix: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

func readMessage(r io.Reader) ([]byte, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, fmt.Errorf("read length prefix: %w", err)
	}
	n := binary.BigEndian.Uint32(prefix[:])
	if n > maxMessage {
		return nil, fmt.Errorf("%w: %d bytes", ErrMessageSize, n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("read message: %w", err)
	}
	return buf, nil
}

func readResponse(r io.Reader) (response, error) {
	var resp response
	buf, err := readMessage(r)
	if err != nil {
		return resp, err
	}
	if err := msgpack.Unmarshal(buf, &resp); err != nil {
		return resp, fmt.Errorf("decode response: %w", err)
	}
	return resp, nil
}

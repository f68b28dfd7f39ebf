package recorder

import (
	"bytes"
	"fmt"
	"image/jpeg"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"github.com/BrandonDHaskell/Argus/internal/argus/types"
)

// ClipEncoder receives the frames of one session in order.
type ClipEncoder interface {
	WriteFrame(f types.Frame) error
	Close() error
}

// EncoderFactory opens an encoder writing a clip of the given geometry to
// path.
type EncoderFactory func(path string, width, height, fps int) (ClipEncoder, error)

// FFmpeg returns a factory that pipes JPEG frames into an ffmpeg process
// producing H.264 MP4.
func FFmpeg(binary string) EncoderFactory {
	if binary == "" {
		binary = "ffmpeg"
	}
	return func(path string, width, height, fps int) (ClipEncoder, error) {
		cmd := exec.Command(binary,
			"-hide_banner", "-loglevel", "error", "-y",
			"-f", "image2pipe",
			"-framerate", strconv.Itoa(fps),
			"-c:v", "mjpeg",
			"-i", "-",
			"-vf", fmt.Sprintf("scale=%d:%d", width&^1, height&^1),
			"-c:v", "libx264",
			"-preset", "veryfast",
			"-pix_fmt", "yuv420p",
			"-movflags", "+faststart",
			path,
		)
		stderr := &bytes.Buffer{}
		cmd.Stderr = stderr

		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("ffmpeg stdin: %w", err)
		}
		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("start ffmpeg: %w", err)
		}
		return &ffmpegEncoder{cmd: cmd, stdin: stdin, stderr: stderr}, nil
	}
}

type ffmpegEncoder struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *bytes.Buffer
}

func (e *ffmpegEncoder) WriteFrame(f types.Frame) error {
	if err := jpeg.Encode(e.stdin, f.Image, &jpeg.Options{Quality: 85}); err != nil {
		return fmt.Errorf("ffmpeg write frame %d: %w", f.Seq, err)
	}
	return nil
}

func (e *ffmpegEncoder) Close() error {
	_ = e.stdin.Close()
	if err := e.cmd.Wait(); err != nil {
		return fmt.Errorf("ffmpeg exit: %w: %s", err, strings.TrimSpace(e.stderr.String()))
	}
	return nil
}

package source

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BrandonDHaskell/Argus/internal/argus/types"
)

var ErrNoInput = errors.New("source input is required")

type Config struct {
	// Input is an RTSP URL, a video file or a V4L2 device path.
	Input  string
	Width  int
	Height int
	FPS    int // default 10
	// Binary is the ffmpeg executable. Default "ffmpeg".
	Binary string
	// Finite marks a file input: the end of its stream ends the pipeline
	// instead of triggering a reconnect.
	Finite bool
	Now    func() time.Time
}

func (c Config) withDefaults() Config {
	if c.FPS <= 0 {
		c.FPS = 10
	}
	if c.Binary == "" {
		c.Binary = "ffmpeg"
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Args is the ffmpeg command line: decode Input, rescale to Width×Height at
// FPS and write packed rgb24 to stdout.
func (c Config) Args() []string {
	var args []string
	switch {
	case strings.HasPrefix(c.Input, "rtsp://"):
		args = append(args, "-rtsp_transport", "tcp")
	case strings.HasPrefix(c.Input, "/dev/video"):
		args = append(args, "-f", "v4l2")
	case c.Finite:
		args = append(args, "-re")
	}
	return append(args,
		"-loglevel", "error",
		"-i", c.Input,
		"-an",
		"-vf", fmt.Sprintf("fps=%d,scale=%d:%d", c.FPS, c.Width, c.Height),
		"-pix_fmt", "rgb24",
		"-f", "rawvideo",
		"pipe:1",
	)
}

// FFmpeg is a pipeline.FrameSource. The child process is started on the
// first Next and again on the Next after any read failure.
type FFmpeg struct {
	cfg    Config
	logger *log.Logger

	mu     sync.Mutex
	cmd    *exec.Cmd
	reader *RawReader
	seq    uint64
}

func NewFFmpeg(cfg Config, logger *log.Logger) (*FFmpeg, error) {
	cfg = cfg.withDefaults()
	if cfg.Input == "" {
		return nil, ErrNoInput
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrFrameSize, cfg.Width, cfg.Height)
	}
	return &FFmpeg{cfg: cfg, logger: logger}, nil
}

func (s *FFmpeg) Next(ctx context.Context) (types.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd == nil {
		if err := s.startLocked(); err != nil {
			return types.Frame{}, err
		}
	}

	type result struct {
		img *image.RGBA
		err error
	}
	done := make(chan result, 1)
	reader := s.reader
	go func() {
		img, err := reader.Read()
		done <- result{img, err}
	}()

	select {
	case <-ctx.Done():
		// Killing the process unblocks the pending read.
		s.stopLocked()
		<-done
		return types.Frame{}, ctx.Err()
	case res := <-done:
		if res.err != nil {
			s.stopLocked()
			if errors.Is(res.err, io.EOF) && s.cfg.Finite {
				return types.Frame{}, io.EOF
			}
			return types.Frame{}, fmt.Errorf("read frame: %w", res.err)
		}
		s.seq++
		return types.Frame{Seq: s.seq, CaptureTime: s.cfg.Now(), Image: res.img}, nil
	}
}

func (s *FFmpeg) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	return nil
}

func (s *FFmpeg) startLocked() error {
	cmd := exec.Command(s.cfg.Binary, s.cfg.Args()...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", s.cfg.Binary, err)
	}

	reader, err := NewRawReader(bufio.NewReaderSize(stdout, 1<<20), s.cfg.Width, s.cfg.Height)
	if err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return err
	}
	s.cmd = cmd
	s.reader = reader
	s.logger.Printf("source: ffmpeg started (pid=%d, input=%s, %dx%d@%d)",
		cmd.Process.Pid, redact(s.cfg.Input), s.cfg.Width, s.cfg.Height, s.cfg.FPS)

	go func() {
		sc := bufio.NewScanner(stderr)
		for sc.Scan() {
			s.logger.Printf("source: ffmpeg: %s", sc.Text())
		}
	}()
	return nil
}

func (s *FFmpeg) stopLocked() {
	if s.cmd == nil {
		return
	}
	_ = s.cmd.Process.Kill()
	if err := s.cmd.Wait(); err != nil {
		s.logger.Printf("source: ffmpeg exited: %v", err)
	}
	s.cmd = nil
	s.reader = nil
}

// redact hides credentials in an RTSP URL.
func redact(input string) string {
	scheme, rest, ok := strings.Cut(input, "://")
	if !ok {
		return input
	}
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		return scheme + "://***@" + rest[at+1:]
	}
	return input
}

// String describes the source for logs.
func (s *FFmpeg) String() string {
	return "ffmpeg(" + redact(s.cfg.Input) + " " + strconv.Itoa(s.cfg.Width) + "x" + strconv.Itoa(s.cfg.Height) + ")"
}

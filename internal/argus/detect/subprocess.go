package detect

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os/exec"
	"sync"
	"time"

	"github.com/BrandonDHaskell/Argus/internal/argus/types"
)

var ErrNoCommand = errors.New("detector command is required")

type SubprocessConfig struct {
	// Command and Args start the inference worker, e.g.
	// models/run_worker.sh --model yolo11n.onnx.
	Command     string
	Args        []string
	JPEGQuality int
	// StopTimeout bounds the wait for the worker to exit after its stdin is
	// closed before it is killed. Default 2s.
	StopTimeout time.Duration
}

// Subprocess runs the inference worker as a child process and restarts it
// on the next request after the stream breaks.
type Subprocess struct {
	cfg    SubprocessConfig
	logger *log.Logger

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	conn   *Conn
	exited chan struct{}
	starts int
}

func NewSubprocess(cfg SubprocessConfig, logger *log.Logger) (*Subprocess, error) {
	if cfg.Command == "" {
		return nil, ErrNoCommand
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 2 * time.Second
	}
	return &Subprocess{cfg: cfg, logger: logger}, nil
}

func (s *Subprocess) Detect(ctx context.Context, f types.Frame, threshold float64, classes []int) ([]types.Detection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		if err := s.spawnLocked(); err != nil {
			return nil, err
		}
	}
	dets, err := s.conn.Detect(ctx, f, threshold, classes)
	if err != nil && s.conn.Broken() {
		s.logger.Printf("detector: worker stream broken, restarting on next frame: %v", err)
		s.stopLocked()
	}
	return dets, err
}

// Restarts is how many times the worker had to be started again.
func (s *Subprocess) Restarts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return max(0, s.starts-1)
}

func (s *Subprocess) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	return nil
}

func (s *Subprocess) spawnLocked() error {
	// Not CommandContext: a single request's deadline must not kill the
	// worker.
	cmd := exec.Command(s.cfg.Command, s.cfg.Args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("detector stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("detector stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("detector stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start detector %s: %w", s.cfg.Command, err)
	}

	s.starts++
	s.cmd = cmd
	s.stdin = stdin
	s.conn = NewConn(stdin, bufio.NewReader(stdout), s.cfg.JPEGQuality)
	s.exited = make(chan struct{})
	s.logger.Printf("detector: worker started (pid=%d)", cmd.Process.Pid)

	go s.logStderr(stderr)
	go func(exited chan struct{}) {
		err := cmd.Wait()
		close(exited)
		if err != nil {
			s.logger.Printf("detector: worker exited: %v", err)
		}
	}(s.exited)
	return nil
}

func (s *Subprocess) stopLocked() {
	if s.cmd == nil {
		return
	}
	_ = s.stdin.Close()
	select {
	case <-s.exited:
	case <-time.After(s.cfg.StopTimeout):
		_ = s.cmd.Process.Kill()
		<-s.exited
	}
	s.cmd = nil
	s.conn = nil
}

func (s *Subprocess) logStderr(r io.Reader) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		s.logger.Printf("detector: %s", sc.Text())
	}
}

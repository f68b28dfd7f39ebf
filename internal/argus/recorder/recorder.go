// Package recorder turns zone violations into video clips that start a few
// seconds before the first trigger and end a while after the last one.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BrandonDHaskell/Argus/internal/argus/types"
)

var ErrInvalidConfig = errors.New("invalid recorder config")

type State string

const (
	StateIdle       State = "IDLE"
	StateActive     State = "ACTIVE"
	StateFinalizing State = "FINALIZING"
)

// Close reasons reported in finished notices.
const (
	ReasonPostBuffer  = "post_buffer"
	ReasonMaxDuration = "max_duration"
	ReasonShutdown    = "shutdown"
)

type Config struct {
	OutputDir   string
	FPS         int           // default 10
	PreBuffer   time.Duration // default 5s, negative disables
	PostBuffer  time.Duration // default 10s
	MaxDuration time.Duration // default 300s
	// QueueSize bounds the frames waiting for the writer. Default 2×FPS.
	QueueSize int
	// TickInterval is how often the background timer checks the post
	// buffer when frames stop arriving. Default 500ms.
	TickInterval time.Duration
	Now          func() time.Time
}

func (c Config) withDefaults() Config {
	if c.FPS <= 0 {
		c.FPS = 10
	}
	if c.PreBuffer < 0 {
		c.PreBuffer = 0
	} else if c.PreBuffer == 0 {
		c.PreBuffer = 5 * time.Second
	}
	if c.PostBuffer <= 0 {
		c.PostBuffer = 10 * time.Second
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = 300 * time.Second
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 2 * c.FPS
	}
	if c.TickInterval <= 0 {
		c.TickInterval = 500 * time.Millisecond
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

func (c Config) frameDuration() time.Duration {
	return time.Second / time.Duration(c.FPS)
}

// Session is a snapshot of the clip being recorded.
type Session struct {
	ID          string    `json:"id"`
	Zone        string    `json:"zone"`
	Path        string    `json:"path"`
	StartTime   time.Time `json:"start_time"`
	LastTrigger time.Time `json:"last_trigger"`
	FrameCount  int       `json:"frame_count"`
}

// Duration is the clip length implied by its frame count.
func (s Session) Duration(fps int) time.Duration {
	return time.Duration(s.FrameCount) * time.Second / time.Duration(max(fps, 1))
}

type Status struct {
	State         State    `json:"state"`
	Session       *Session `json:"session,omitempty"`
	BufferFill    int      `json:"buffer_fill"`
	BufferCap     int      `json:"buffer_cap"`
	QueueLen      int      `json:"queue_len"`
	Sessions      uint64   `json:"sessions"`
	DroppedFrames uint64   `json:"dropped_frames"`
	Failures      uint64   `json:"failures"`
}

type sessionInfo struct {
	id    string
	zone  string
	path  string
	start time.Time
}

// Recorder owns the ring buffer and session state; a separate writer
// goroutine owns the encoder. They talk only through the queue.
type Recorder struct {
	cfg        Config
	newEncoder EncoderFactory
	logger     *log.Logger

	mu        sync.Mutex
	state     State
	session   *Session
	closingID string
	ring      *ring
	stats     Status
	dropLog   string // session id whose first drop was already reported

	queue   *queue
	notices chan Notice
	cancel  context.CancelFunc
	done    chan struct{}
	timer   chan struct{}
	started bool
}

// New validates cfg and creates the output directory. Call Start before
// feeding frames.
func New(cfg Config, enc EncoderFactory, logger *log.Logger) (*Recorder, error) {
	cfg = cfg.withDefaults()
	if cfg.OutputDir == "" {
		return nil, fmt.Errorf("%w: output dir is required", ErrInvalidConfig)
	}
	if enc == nil {
		return nil, fmt.Errorf("%w: encoder factory is required", ErrInvalidConfig)
	}
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("recorder output dir: %w", err)
	}

	return &Recorder{
		cfg:        cfg,
		newEncoder: enc,
		logger:     logger,
		state:      StateIdle,
		ring:       newRing(int(cfg.PreBuffer / cfg.frameDuration())),
		queue:      newQueue(cfg.QueueSize),
		notices:    make(chan Notice, 64),
		done:       make(chan struct{}),
		timer:      make(chan struct{}),
	}, nil
}

// Start launches the writer and the post-buffer timer.
func (r *Recorder) Start(ctx context.Context) {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.mu.Unlock()

	ctx, r.cancel = context.WithCancel(ctx)
	go r.writeLoop()
	go r.timerLoop(ctx)
}

// Notices delivers session lifecycle events. The channel is buffered; if
// nobody drains it, notices are logged and discarded.
func (r *Recorder) Notices() <-chan Notice { return r.notices }

// Trigger starts a session or extends the current one, returning the
// recording reference (file name) the violation belongs to.
func (r *Recorder) Trigger(v types.ZoneViolation) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == StateActive {
		if v.Timestamp.After(r.session.LastTrigger) {
			r.session.LastTrigger = v.Timestamp
		}
		return filepath.Base(r.session.Path)
	}

	name := fmt.Sprintf("%s_%s.mp4", v.Timestamp.UTC().Format("20060102T150405"), safeName(v.Zone))
	info := sessionInfo{
		id:    uuid.NewString(),
		zone:  v.Zone,
		path:  filepath.Join(r.cfg.OutputDir, name),
		start: v.Timestamp,
	}

	pre := r.ring.drain()
	if limit := r.maxFrames(); len(pre) > limit {
		pre = pre[len(pre)-limit:]
	}
	if len(pre) > 0 {
		info.start = pre[0].CaptureTime
	}

	r.session = &Session{
		ID:          info.id,
		Zone:        info.zone,
		Path:        info.path,
		StartTime:   info.start,
		LastTrigger: v.Timestamp,
		FrameCount:  len(pre),
	}
	r.state = StateActive
	r.stats.Sessions++
	r.queue.push(message{kind: msgOpen, session: info, frames: pre})
	r.notify(Notice{Kind: NoticeStarted, SessionID: info.id, Zone: info.zone, Path: info.path, Time: v.Timestamp, Frames: len(pre)})

	if r.session.FrameCount >= r.maxFrames() {
		r.finalizeLocked(ReasonMaxDuration)
	}
	return name
}

// AddFrame buffers f while idle or hands it to the writer while recording.
func (r *Recorder) AddFrame(f types.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateActive {
		r.ring.push(f)
		return
	}

	if r.queue.push(message{kind: msgFrame, session: sessionInfo{id: r.session.ID}, frame: f}) {
		r.stats.DroppedFrames++
		if r.dropLog != r.session.ID {
			r.dropLog = r.session.ID
			r.logger.Printf("recorder: writer behind, dropping oldest queued frames (session=%s)", r.session.ID)
			r.notify(Notice{Kind: NoticeDropped, SessionID: r.session.ID, Zone: r.session.Zone, Path: r.session.Path, Time: f.CaptureTime})
		}
	}
	r.session.FrameCount++
	if r.session.FrameCount >= r.maxFrames() {
		r.finalizeLocked(ReasonMaxDuration)
	}
}

// Tick closes the session once the post buffer has elapsed since the last
// trigger. The ingestion path calls it with frame time; the background
// timer calls it with wall time.
func (r *Recorder) Tick(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateActive && now.Sub(r.session.LastTrigger) >= r.cfg.PostBuffer {
		r.finalizeLocked(ReasonPostBuffer)
	}
}

func (r *Recorder) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.stats
	st.State = r.state
	st.BufferFill = r.ring.len()
	st.BufferCap = r.ring.cap()
	st.QueueLen = r.queue.len()
	if r.session != nil {
		s := *r.session
		st.Session = &s
	}
	return st
}

// Close finalizes any active session, lets the writer drain and waits for
// it, bounded by ctx.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.state == StateActive {
		r.finalizeLocked(ReasonShutdown)
	}
	started := r.started
	r.mu.Unlock()

	r.queue.close()
	if !started {
		return nil
	}
	r.cancel()

	select {
	case <-r.done:
	case <-ctx.Done():
		return fmt.Errorf("recorder drain: %w", ctx.Err())
	}
	<-r.timer
	return nil
}

func (r *Recorder) maxFrames() int {
	return max(1, int(r.cfg.MaxDuration/r.cfg.frameDuration()))
}

func (r *Recorder) finalizeLocked(reason string) {
	r.queue.push(message{kind: msgClose, session: sessionInfo{id: r.session.ID}, reason: reason})
	r.closingID = r.session.ID
	r.session = nil
	r.state = StateFinalizing
}

// finished is called by the writer once a session's file is closed.
func (r *Recorder) finished(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateFinalizing && r.closingID == id {
		r.state = StateIdle
		r.closingID = ""
	}
}

// abort is called by the writer when a session's file failed.
func (r *Recorder) abort(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.Failures++
	if r.state == StateActive && r.session.ID == id {
		r.session = nil
		r.state = StateIdle
	}
}

func (r *Recorder) notify(n Notice) {
	select {
	case r.notices <- n:
	default:
		r.logger.Printf("recorder: notice channel full, dropped %s notice for session %s", n.Kind, n.SessionID)
	}
}

func (r *Recorder) timerLoop(ctx context.Context) {
	defer close(r.timer)
	t := time.NewTicker(r.cfg.TickInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.Tick(r.cfg.Now())
		}
	}
}

func safeName(zone string) string {
	return strings.Map(func(c rune) rune {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
			return c
		}
		return '_'
	}, zone)
}

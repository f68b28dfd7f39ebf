package recorder

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/BrandonDHaskell/Argus/internal/argus/types"
)

type NoticeKind string

const (
	NoticeStarted  NoticeKind = "started"
	NoticeFinished NoticeKind = "finished"
	NoticeFailed   NoticeKind = "failed"
	NoticeDropped  NoticeKind = "frames_dropped"
)

// Notice reports a session lifecycle event to whoever owns the event log.
type Notice struct {
	Kind      NoticeKind
	SessionID string
	Zone      string
	Path      string
	Time      time.Time
	Frames    int
	Size      int64
	StartTime time.Time
	EndTime   time.Time
	Reason    string
	Err       error
}

// clip is the writer's view of the session it is encoding.
type clip struct {
	info   sessionInfo
	enc    ClipEncoder
	frames int
	first  time.Time
	last   time.Time
	failed bool
}

func (r *Recorder) writeLoop() {
	defer close(r.done)

	var cur *clip
	for {
		m, ok := r.queue.pop()
		if !ok {
			if cur != nil {
				r.closeClip(cur, ReasonShutdown)
			}
			return
		}

		switch m.kind {
		case msgOpen:
			if cur != nil {
				r.closeClip(cur, ReasonShutdown)
			}
			cur = &clip{info: m.session}
			for _, f := range m.frames {
				r.writeFrame(cur, f)
			}
		case msgFrame:
			if cur != nil && cur.info.id == m.session.id {
				r.writeFrame(cur, m.frame)
			}
		case msgClose:
			if cur != nil && cur.info.id == m.session.id {
				r.closeClip(cur, m.reason)
				cur = nil
			}
			r.finished(m.session.id)
		}
	}
}

func (r *Recorder) writeFrame(c *clip, f types.Frame) {
	if c.failed {
		return
	}
	if c.enc == nil {
		enc, err := r.newEncoder(c.info.path, f.Width(), f.Height(), r.cfg.FPS)
		if err != nil {
			r.fail(c, err)
			return
		}
		c.enc = enc
	}
	if err := c.enc.WriteFrame(f); err != nil {
		r.fail(c, err)
		return
	}
	if c.frames == 0 {
		c.first = f.CaptureTime
	}
	c.frames++
	c.last = f.CaptureTime
}

func (r *Recorder) closeClip(c *clip, reason string) {
	if c.failed {
		return
	}
	if c.enc != nil {
		if err := c.enc.Close(); err != nil {
			c.enc = nil
			r.fail(c, err)
			return
		}
	}

	var size int64
	if fi, err := os.Stat(c.info.path); err == nil {
		size = fi.Size()
	}
	r.logger.Printf("recorder: finished %s (%d frames, %s)", c.info.path, c.frames, reason)
	r.notify(Notice{
		Kind:      NoticeFinished,
		SessionID: c.info.id,
		Zone:      c.info.zone,
		Path:      c.info.path,
		Time:      c.last,
		Frames:    c.frames,
		Size:      size,
		StartTime: c.first,
		EndTime:   c.last,
		Reason:    reason,
	})
}

// fail aborts the session: the partial file is renamed to *.incomplete.mp4
// and the ingestion side goes back to IDLE so the next trigger starts a
// fresh session.
func (r *Recorder) fail(c *clip, cause error) {
	c.failed = true
	if c.enc != nil {
		_ = c.enc.Close()
		c.enc = nil
	}

	path := c.info.path
	incomplete := strings.TrimSuffix(path, ".mp4") + ".incomplete.mp4"
	if err := os.Rename(path, incomplete); err == nil {
		path = incomplete
	} else if !errors.Is(err, os.ErrNotExist) {
		r.logger.Printf("recorder: mark incomplete %s: %v", c.info.path, err)
	}

	r.logger.Printf("recorder: session %s aborted: %v", c.info.id, cause)
	r.abort(c.info.id)
	r.notify(Notice{
		Kind:      NoticeFailed,
		SessionID: c.info.id,
		Zone:      c.info.zone,
		Path:      path,
		Time:      c.last,
		Frames:    c.frames,
		StartTime: c.first,
		EndTime:   c.last,
		Err:       cause,
	})
}

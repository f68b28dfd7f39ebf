package pipeline

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/BrandonDHaskell/Argus/internal/argus/recorder"
	"github.com/BrandonDHaskell/Argus/internal/argus/storage"
	"github.com/BrandonDHaskell/Argus/internal/argus/store"
	"github.com/BrandonDHaskell/Argus/internal/argus/types"
)

// drain collects whatever the recorder and sweeper reported since the last
// call, without blocking.
func (p *Pipeline) drain() []store.EventRecord {
	var out []store.EventRecord
	notices := p.deps.Recorder.Notices()
	var reports <-chan storage.Report
	if p.deps.Sweeper != nil {
		reports = p.deps.Sweeper.Reports()
	}

	for {
		select {
		case n := <-notices:
			out = append(out, p.recordingRecord(n))
			continue
		case r := <-reports:
			out = append(out, sweepRecords(r)...)
			continue
		default:
		}
		return out
	}
}

func (p *Pipeline) recordingRecord(n recorder.Notice) store.EventRecord {
	meta := map[string]string{
		"session_id": n.SessionID,
		"zone":       n.Zone,
		"file":       filepath.Base(n.Path),
		"frames":     fmt.Sprint(n.Frames),
	}
	ts := n.Time
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	switch n.Kind {
	case recorder.NoticeStarted:
		return store.SystemRecord(ts, types.EventRecordingStarted, types.SeverityInfo,
			"recording started for zone "+n.Zone, meta)
	case recorder.NoticeFinished:
		if err := p.deps.Storage.TrackFile(n.Path); err != nil {
			p.logger.Printf("pipeline: %v", err)
		}
		meta["size"] = fmt.Sprint(n.Size)
		meta["reason"] = n.Reason
		meta["duration"] = n.EndTime.Sub(n.StartTime).String()
		return store.SystemRecord(ts, types.EventRecordingFinished, types.SeverityInfo,
			"recording finished: "+filepath.Base(n.Path), meta)
	case recorder.NoticeDropped:
		return store.SystemRecord(ts, types.EventFramesDropped, types.SeverityWarning,
			"recording writer fell behind, frames dropped", meta)
	default:
		// Partial files still count against the budget.
		_ = p.deps.Storage.TrackFile(n.Path)
		msg := "recording failed"
		if n.Err != nil {
			msg = fmt.Sprintf("recording failed: %v", n.Err)
		}
		return store.SystemRecord(ts, types.EventRecordingFailed, types.SeverityError, msg, meta)
	}
}

func sweepRecords(r storage.Report) []store.EventRecord {
	var out []store.EventRecord
	res := r.Result
	if len(res.Deleted) > 0 {
		out = append(out, store.SystemRecord(r.At, types.EventStorageSweep, types.SeverityInfo,
			fmt.Sprintf("deleted %d recordings, freed %d bytes", len(res.Deleted), res.Freed),
			map[string]string{
				"before": fmt.Sprint(res.Before),
				"after":  fmt.Sprint(res.After),
				"freed":  fmt.Sprint(res.Freed),
			}))
	}
	if res.Pressure {
		out = append(out, store.SystemRecord(r.At, types.EventStoragePressure, types.SeverityWarning,
			"recordings inside the retention window exceed the storage budget",
			map[string]string{"total_bytes": fmt.Sprint(res.After)}))
	}
	if r.Err != nil {
		out = append(out, store.SystemRecord(r.At, types.EventStorageError, types.SeverityError,
			fmt.Sprintf("storage sweep: %v", r.Err), nil))
	}
	return out
}

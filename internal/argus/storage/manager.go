// Package storage keeps the recordings directory under its byte budget.
package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"
)

var (
	ErrNotWritable   = errors.New("storage directory not writable")
	ErrInvalidConfig = errors.New("invalid storage config")
)

type Config struct {
	Dir      string
	MaxBytes int64
	// RetainFraction is the target fill after an eviction pass, as a
	// fraction of MaxBytes. Default 0.8.
	RetainFraction float64
	// MinRetention protects recent files from eviction. Default 24h;
	// negative protects nothing.
	MinRetention time.Duration
	// Extensions are the file suffixes that count as recordings.
	// Default [".mp4"].
	Extensions []string
	Now        func() time.Time
	// Remove deletes one recording. Default os.Remove.
	Remove func(path string) error
}

func (c Config) withDefaults() Config {
	if c.RetainFraction <= 0 || c.RetainFraction > 1 {
		c.RetainFraction = 0.8
	}
	if c.MinRetention < 0 {
		c.MinRetention = 0
	} else if c.MinRetention == 0 {
		c.MinRetention = 24 * time.Hour
	}
	if len(c.Extensions) == 0 {
		c.Extensions = []string{".mp4"}
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Remove == nil {
		c.Remove = os.Remove
	}
	return c
}

type Entry struct {
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

type Usage struct {
	TotalBytes int64     `json:"total_bytes"`
	MaxBytes   int64     `json:"max_bytes"`
	Files      int       `json:"files"`
	Percent    float64   `json:"percent"`
	Oldest     time.Time `json:"oldest"`
	Newest     time.Time `json:"newest"`
}

type SweepResult struct {
	Before   int64   `json:"before"`
	After    int64   `json:"after"`
	Deleted  []Entry `json:"deleted"`
	Freed    int64   `json:"freed"`
	Pressure bool    `json:"pressure"`
}

// Manager indexes recordings by creation time. The index is built once by
// Scan and then kept current with Track and Sweep.
type Manager struct {
	cfg Config

	sweepMu sync.Mutex // one eviction pass at a time

	mu      sync.Mutex
	entries []Entry // oldest first
	total   int64
}

// NewManager creates the directory if needed and fails if it cannot be
// written.
func NewManager(cfg Config) (*Manager, error) {
	cfg = cfg.withDefaults()
	if cfg.Dir == "" {
		return nil, fmt.Errorf("%w: dir is required", ErrInvalidConfig)
	}
	if cfg.MaxBytes <= 0 {
		return nil, fmt.Errorf("%w: max bytes must be positive", ErrInvalidConfig)
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotWritable, err)
	}
	check, err := os.CreateTemp(cfg.Dir, ".write-check-*")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotWritable, err)
	}
	_ = check.Close()
	_ = os.Remove(check.Name())

	return &Manager{cfg: cfg}, nil
}

// Scan rebuilds the index from the directory contents.
func (m *Manager) Scan() error {
	des, err := os.ReadDir(m.cfg.Dir)
	if err != nil {
		return fmt.Errorf("scan %s: %w", m.cfg.Dir, err)
	}

	var entries []Entry
	var total int64
	for _, de := range des {
		if de.IsDir() || !m.isRecording(de.Name()) {
			continue
		}
		info, err := de.Info()
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return fmt.Errorf("scan %s: %w", de.Name(), err)
		}
		entries = append(entries, Entry{
			Path:      filepath.Join(m.cfg.Dir, de.Name()),
			Size:      info.Size(),
			CreatedAt: info.ModTime(),
		})
		total += info.Size()
	}
	slices.SortStableFunc(entries, byCreated)

	m.mu.Lock()
	m.entries = entries
	m.total = total
	m.mu.Unlock()
	return nil
}

// Track adds a finished recording to the index, or updates its size if it
// is already known.
func (m *Manager) Track(e Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.entries {
		if m.entries[i].Path == e.Path {
			m.total += e.Size - m.entries[i].Size
			m.entries[i].Size = e.Size
			return
		}
	}
	i, _ := slices.BinarySearchFunc(m.entries, e, func(a, b Entry) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return -1 // equal timestamps: insert after existing ones
	})
	m.entries = slices.Insert(m.entries, i, e)
	m.total += e.Size
}

// TrackFile indexes a recording by its on-disk size and modification time.
func (m *Manager) TrackFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("track %s: %w", path, err)
	}
	m.Track(Entry{Path: path, Size: info.Size(), CreatedAt: info.ModTime()})
	return nil
}

// Sweep evicts oldest recordings first while the total exceeds MaxBytes,
// stopping at MaxBytes×RetainFraction. Files younger than MinRetention are
// never deleted; if they alone keep the total over budget the result
// reports Pressure. Delete failures stay in the index and are retried on
// the next sweep.
//
// Victims are chosen under the index lock but deleted without it, so
// Track and Usage never wait on the filesystem.
func (m *Manager) Sweep() (SweepResult, error) {
	m.sweepMu.Lock()
	defer m.sweepMu.Unlock()

	victims, blocked, res := m.pickVictims()
	if len(victims) == 0 {
		m.mu.Lock()
		res.After = m.total
		res.Pressure = blocked && m.total > m.cfg.MaxBytes
		m.mu.Unlock()
		return res, nil
	}

	var errs []error
	removed := make(map[string]bool, len(victims))
	for _, e := range victims {
		if err := m.cfg.Remove(e.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, fmt.Errorf("delete %s: %w", e.Path, err))
			continue
		}
		removed[e.Path] = true
	}

	m.mu.Lock()
	kept := m.entries[:0:0]
	for _, e := range m.entries {
		if removed[e.Path] {
			m.total -= e.Size
			res.Freed += e.Size
			res.Deleted = append(res.Deleted, e)
			continue
		}
		kept = append(kept, e)
	}
	m.entries = kept
	res.After = m.total
	res.Pressure = blocked && m.total > m.cfg.MaxBytes
	m.mu.Unlock()

	return res, errors.Join(errs...)
}

// pickVictims returns the oldest entries whose removal brings the total to
// the retain target. blocked reports that a protected file stopped the
// selection short of it.
func (m *Manager) pickVictims() (victims []Entry, blocked bool, res SweepResult) {
	m.mu.Lock()
	defer m.mu.Unlock()

	res.Before = m.total
	if m.total <= m.cfg.MaxBytes {
		return nil, false, res
	}

	target := int64(float64(m.cfg.MaxBytes) * m.cfg.RetainFraction)
	protectFrom := m.cfg.Now().Add(-m.cfg.MinRetention)

	remaining := m.total
	for _, e := range m.entries {
		if remaining <= target {
			break
		}
		if !e.CreatedAt.Before(protectFrom) {
			blocked = true
			break
		}
		victims = append(victims, e)
		remaining -= e.Size
	}
	return victims, blocked, res
}

func (m *Manager) Usage() Usage {
	m.mu.Lock()
	defer m.mu.Unlock()

	u := Usage{TotalBytes: m.total, MaxBytes: m.cfg.MaxBytes, Files: len(m.entries)}
	if m.cfg.MaxBytes > 0 {
		u.Percent = float64(m.total) * 100 / float64(m.cfg.MaxBytes)
	}
	if len(m.entries) > 0 {
		u.Oldest = m.entries[0].CreatedAt
		u.Newest = m.entries[len(m.entries)-1].CreatedAt
	}
	return u
}

// Entries returns a copy of the index, oldest first.
func (m *Manager) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.entries)
}

func (m *Manager) isRecording(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	for _, ext := range m.cfg.Extensions {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

func byCreated(a, b Entry) int {
	return a.CreatedAt.Compare(b.CreatedAt)
}

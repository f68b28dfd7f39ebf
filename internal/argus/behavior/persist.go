package behavior

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/vmihailenco/msgpack/v5"
)

const profileVersion = 1

type profileFile struct {
	Version int                     `msgpack:"version"`
	Zones   map[string]*zoneProfile `msgpack:"zones"`
}

// Load replaces the in-memory profile with the one on disk. A missing file
// leaves an empty profile and returns nil. An unreadable or undecodable
// file also leaves an empty profile and returns an error wrapping
// ErrCorruptProfile.
func (l *Learner) Load() error {
	if l.cfg.ProfilePath == "" {
		return nil
	}

	data, err := os.ReadFile(l.cfg.ProfilePath)
	if errors.Is(err, fs.ErrNotExist) {
		l.replace(nil)
		return nil
	}
	if err != nil {
		l.replace(nil)
		return fmt.Errorf("%w: read %s: %v", ErrCorruptProfile, l.cfg.ProfilePath, err)
	}

	var pf profileFile
	if err := msgpack.Unmarshal(data, &pf); err != nil {
		l.replace(nil)
		return fmt.Errorf("%w: decode %s: %v", ErrCorruptProfile, l.cfg.ProfilePath, err)
	}
	if pf.Version != profileVersion {
		l.replace(nil)
		return fmt.Errorf("%w: unsupported version %d", ErrCorruptProfile, pf.Version)
	}
	for zone, zp := range pf.Zones {
		if zp == nil {
			delete(pf.Zones, zone)
			continue
		}
		for key, b := range zp.Buckets {
			if _, err := parseSlotKey(key); err != nil || b == nil {
				l.replace(nil)
				return fmt.Errorf("%w: zone %s bucket %q", ErrCorruptProfile, zone, key)
			}
			if b.Periods == nil {
				b.Periods = make(map[string]int)
			}
			b.rederive()
		}
		if zp.Buckets == nil {
			zp.Buckets = make(map[string]*Bucket)
		}
	}
	l.replace(pf.Zones)
	return nil
}

// Save writes the profile to a temp file next to ProfilePath and renames
// it into place, so a crash never leaves a half-written profile.
func (l *Learner) Save() error {
	if l.cfg.ProfilePath == "" {
		return nil
	}

	l.mu.Lock()
	data, err := msgpack.Marshal(profileFile{Version: profileVersion, Zones: l.zones})
	l.mu.Unlock()
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}

	dir := filepath.Dir(l.cfg.ProfilePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir profile dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(l.cfg.ProfilePath)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp profile: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp profile: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp profile: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp profile: %w", err)
	}
	if err := os.Rename(tmpName, l.cfg.ProfilePath); err != nil {
		return fmt.Errorf("rename profile: %w", err)
	}
	return nil
}

func (l *Learner) replace(zones map[string]*zoneProfile) {
	if zones == nil {
		zones = make(map[string]*zoneProfile)
	}
	l.mu.Lock()
	l.zones = zones
	l.reported = make(map[occurrence]map[string]bool)
	l.mu.Unlock()
}

package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"calingest/internal/config"
	appLog "calingest/internal/log"
	"calingest/internal/model"
)

const snapshotDayLayout = "2006-01-02"

// SnapshotStore keeps one JSON blob per (user, day) under
// dir/<user hash>/<YYYY-MM-DD>.json.
type SnapshotStore struct {
	dir string
}

// NewSnapshotStore roots a snapshot store at dir.
func NewSnapshotStore(dir string) *SnapshotStore {
	return &SnapshotStore{dir: dir}
}

// userDir hashes the user id so arbitrary ids are safe path segments.
func (s *SnapshotStore) userDir(user string) string {
	sum := sha256.Sum256([]byte(user))
	return filepath.Join(s.dir, hex.EncodeToString(sum[:8]))
}

// Save writes the snapshot of user for the given day, replacing any
// earlier blob for that day.
func (s *SnapshotStore) Save(user string, day time.Time, entries []model.SnapshotEntry) error {
	if entries == nil {
		entries = []model.SnapshotEntry{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	path := filepath.Join(s.userDir(user), day.Format(snapshotDayLayout)+".json")
	return config.WriteFileAtomic(path, data)
}

// Latest returns the most recent snapshot of user dated strictly before
// day. ok is false when none exists.
func (s *SnapshotStore) Latest(user string, day time.Time) (entries []model.SnapshotEntry, date time.Time, ok bool, err error) {
	days, err := s.days(s.userDir(user))
	if err != nil {
		return nil, time.Time{}, false, err
	}
	limit := day.Format(snapshotDayLayout)
	for i := len(days) - 1; i >= 0; i-- {
		if days[i] >= limit {
			continue
		}
		data, rerr := os.ReadFile(filepath.Join(s.userDir(user), days[i]+".json"))
		if rerr != nil {
			return nil, time.Time{}, false, rerr
		}
		if uerr := json.Unmarshal(data, &entries); uerr != nil {
			return nil, time.Time{}, false, fmt.Errorf("decode snapshot %s: %w", days[i], uerr)
		}
		date, _ = time.Parse(snapshotDayLayout, days[i])
		return entries, date, true, nil
	}
	return nil, time.Time{}, false, nil
}

// DeleteBefore removes every user's blobs dated before cutoff.
func (s *SnapshotStore) DeleteBefore(cutoff time.Time) (int, error) {
	users, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	limit := cutoff.Format(snapshotDayLayout)
	removed := 0
	for _, u := range users {
		if !u.IsDir() {
			continue
		}
		udir := filepath.Join(s.dir, u.Name())
		days, err := s.days(udir)
		if err != nil {
			return removed, err
		}
		for _, d := range days {
			if d >= limit {
				break
			}
			if err := os.Remove(filepath.Join(udir, d+".json")); err != nil && !errors.Is(err, os.ErrNotExist) {
				appLog.Warn("snapshot remove failed", "day", d, "error", err.Error())
				continue
			}
			removed++
		}
	}
	return removed, nil
}

// days lists the snapshot dates in dir, ascending.
func (s *SnapshotStore) days(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		d := strings.TrimSuffix(name, ".json")
		if _, err := time.Parse(snapshotDayLayout, d); err != nil {
			continue
		}
		out = append(out, d)
	}
	sort.Strings(out)
	return out, nil
}

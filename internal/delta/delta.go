// Package delta compares two event snapshots.
package delta

import (
	"sort"

	"calingest/internal/model"
)

// Change is an entry present in both snapshots whose time or content moved.
type Change struct {
	ID             string              `json:"id"`
	Before         model.SnapshotEntry `json:"before"`
	After          model.SnapshotEntry `json:"after"`
	TimeChanged    bool                `json:"time_changed"`
	ContentChanged bool                `json:"content_changed"`
}

// Result is the outcome of Diff. Slices are never nil.
type Result struct {
	Added   []model.SnapshotEntry `json:"added"`
	Removed []model.SnapshotEntry `json:"removed"`
	Changed []Change              `json:"changed"`
}

// Empty reports whether nothing changed.
func (r Result) Empty() bool {
	return len(r.Added) == 0 && len(r.Removed) == 0 && len(r.Changed) == 0
}

// Diff compares prev against next. Entries are matched by id; recurring
// series share an id, so within one id entries with the same start pair up
// first and the leftovers pair in start order (a reschedule). Whatever is
// still unpaired is added or removed. Output is sorted by id, then start.
func Diff(prev, next []model.SnapshotEntry) Result {
	res := Result{
		Added:   []model.SnapshotEntry{},
		Removed: []model.SnapshotEntry{},
		Changed: []Change{},
	}

	before := group(prev)
	after := group(next)

	ids := make([]string, 0, len(before)+len(after))
	for id := range before {
		ids = append(ids, id)
	}
	for id := range after {
		if _, ok := before[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	for _, id := range ids {
		diffID(id, before[id], after[id], &res)
	}
	sort.SliceStable(res.Changed, func(i, j int) bool {
		a, b := res.Changed[i], res.Changed[j]
		if a.ID != b.ID {
			return a.ID < b.ID
		}
		return a.Before.StartUTC.Before(b.Before.StartUTC)
	})
	return res
}

func diffID(id string, old, cur []model.SnapshotEntry, res *Result) {
	usedOld := make([]bool, len(old))
	usedCur := make([]bool, len(cur))

	pair := func(i, j int) {
		usedOld[i], usedCur[j] = true, true
		o, c := old[i], cur[j]
		timeChanged := !o.StartUTC.Equal(c.StartUTC) || !o.EndUTC.Equal(c.EndUTC)
		contentChanged := o.ContentHash != c.ContentHash
		if timeChanged || contentChanged {
			res.Changed = append(res.Changed, Change{
				ID:             id,
				Before:         o,
				After:          c,
				TimeChanged:    timeChanged,
				ContentChanged: contentChanged,
			})
		}
	}

	for i := range old {
		for j := range cur {
			if !usedCur[j] && old[i].StartUTC.Equal(cur[j].StartUTC) {
				pair(i, j)
				break
			}
		}
	}

	j := 0
	for i := range old {
		if usedOld[i] {
			continue
		}
		for j < len(cur) && usedCur[j] {
			j++
		}
		if j == len(cur) {
			break
		}
		pair(i, j)
	}

	for i, o := range old {
		if !usedOld[i] {
			res.Removed = append(res.Removed, o)
		}
	}
	for j, c := range cur {
		if !usedCur[j] {
			res.Added = append(res.Added, c)
		}
	}
}

func group(entries []model.SnapshotEntry) map[string][]model.SnapshotEntry {
	out := make(map[string][]model.SnapshotEntry)
	for _, e := range entries {
		e.StartUTC = e.StartUTC.UTC()
		e.EndUTC = e.EndUTC.UTC()
		out[e.ExternalEventID] = append(out[e.ExternalEventID], e)
	}
	for _, list := range out {
		sort.SliceStable(list, func(i, j int) bool { return list[i].StartUTC.Before(list[j].StartUTC) })
	}
	return out
}

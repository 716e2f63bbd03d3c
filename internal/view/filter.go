package view

import "runview/internal/model"

// FilterState is the active selection on each filter axis. An empty (or
// nil) set on an axis means no restriction on that axis, not "exclude
// everything".
type FilterState struct {
	Levels map[uint8]struct{}
	Tasks  map[string]struct{}
}

// Match reports whether one record passes every active axis.
func (f FilterState) Match(rec model.LogRecord) bool {
	if len(f.Levels) > 0 {
		if _, ok := f.Levels[rec.Level]; !ok {
			return false
		}
	}
	if len(f.Tasks) > 0 {
		if _, ok := f.Tasks[rec.TaskID]; !ok {
			return false
		}
	}
	return true
}

// Apply returns the subsequence of records matching the filter, in the
// original (sequence id) order. Pure: the input is never mutated, and
// the result shares no backing array with it.
func Apply(records []model.LogRecord, f FilterState) []model.LogRecord {
	out := make([]model.LogRecord, 0, len(records))
	for _, rec := range records {
		if f.Match(rec) {
			out = append(out, rec)
		}
	}
	return out
}

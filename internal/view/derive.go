package view

import (
	"time"

	"runview/internal/model"
)

// Row is one record of the filtered sequence plus its presentation-only
// derived fields. The underlying record is untouched.
type Row struct {
	model.LogRecord

	// Delta is the signed time since the previous visible record.
	// Timestamps are not guaranteed monotonic, so the difference may be
	// negative; it is exposed raw so the presentation layer can flag the
	// anomaly rather than having it silently clamped here.
	Delta time.Duration `json:"delta_ns"`

	// HasDelta is false on the first visible row, which has no
	// predecessor in the filtered sequence.
	HasDelta bool `json:"has_delta"`

	Color string `json:"color"`
}

// Derive computes the presentation rows for an already filtered sequence.
// Deltas are measured between adjacent visible records, not adjacent
// records of the canonical collection.
func Derive(filtered []model.LogRecord, colors TaskColorMap) []Row {
	rows := make([]Row, len(filtered))
	for i, rec := range filtered {
		row := Row{
			LogRecord: rec,
			Color:     colors.Color(rec.TaskID),
		}
		if i > 0 {
			row.Delta = rec.Timestamp.Sub(filtered[i-1].Timestamp)
			row.HasDelta = true
		}
		rows[i] = row
	}
	return rows
}

package store

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"runview/internal/model"
	"runview/internal/normalize"
)

// ErrFetchFailed marks a store whose bulk load did not complete. No
// canonical collection exists in this state.
var ErrFetchFailed = errors.New("historical log fetch failed")

const (
	stateEmpty = iota // waiting for the bulk load; appends are queued
	stateReady
	stateFailed
	stateClosed
)

// Store owns the canonical ordered collection of log records for one run.
// It is the single writer: the bulk load goes through Initialize, live
// records through Append, and the two are serialized by the mutex so a
// sequence id is assigned exactly once per successful record.
type Store struct {
	mu      sync.Mutex
	state   int
	fetch   error
	records []model.LogRecord
	pending [][]byte // live payloads received before the bulk load resolved
	nextSeq int

	dec      normalize.Decoder
	appended atomic.Int64
	dropped  atomic.Int64
	log      *slog.Logger
}

// New creates an empty store for one view session.
func New(log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{log: log}
}

// Initialize replaces the store's state with the bulk-fetched records,
// assigning sequence ids in the given order, then flushes any live
// payloads queued while the fetch was in flight. Calling it again (on a
// refetch) replaces everything; no ids or records from the prior state
// survive.
func (s *Store) Initialize(raws []normalize.RawRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == stateClosed {
		return
	}

	s.records = make([]model.LogRecord, 0, len(raws))
	s.nextSeq = 0
	s.fetch = nil
	s.state = stateReady

	for _, raw := range raws {
		rec, err := normalize.Normalize(raw)
		if err != nil {
			s.dropped.Add(1)
			s.log.Warn("dropping malformed historical record", "err", err)
			continue
		}
		s.appendLocked(rec)
	}

	for _, payload := range s.pending {
		s.ingestLocked(payload)
	}
	s.pending = nil
}

// Fail records that the bulk load cannot complete. Queued live payloads
// are discarded: with no canonical collection established there is
// nothing coherent to append to. Later appends are discarded too, until
// a refetch calls Initialize.
func (s *Store) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == stateClosed {
		return
	}
	s.state = stateFailed
	s.fetch = err
	s.pending = nil
}

// Append ingests one serialized live record: decode, normalize, assign
// the next sequence id, append. Before the bulk load resolves the payload
// is queued and applied after Initialize, preserving arrival order.
func (s *Store) Append(payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case stateClosed, stateFailed:
		return
	case stateEmpty:
		buf := make([]byte, len(payload))
		copy(buf, payload)
		s.pending = append(s.pending, buf)
		return
	}

	s.ingestLocked(payload)
}

func (s *Store) ingestLocked(payload []byte) {
	rec, err := s.dec.DecodeAndNormalize(payload)
	if err != nil {
		s.dropped.Add(1)
		s.log.Warn("dropping undecodable live record", "err", err, "bytes", len(payload))
		return
	}
	s.appendLocked(rec)
}

func (s *Store) appendLocked(rec model.LogRecord) {
	rec.SequenceID = s.nextSeq
	s.nextSeq++
	s.records = append(s.records, rec)
	s.appended.Add(1)
}

// Snapshot returns a read-only copy of the canonical collection, or
// ErrFetchFailed while the bulk load is in a failed state.
func (s *Store) Snapshot() ([]model.LogRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == stateFailed {
		return nil, errors.Join(ErrFetchFailed, s.fetch)
	}

	out := make([]model.LogRecord, len(s.records))
	copy(out, s.records)
	return out, nil
}

// Ready reports whether the bulk load has been applied.
func (s *Store) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateReady
}

// Len returns the canonical collection length.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Close ends the session. Appends against a closed store are ignored so
// a late feed delivery cannot land in a stale instance.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = stateClosed
	s.pending = nil
}

// Appended returns the number of records successfully ingested.
func (s *Store) Appended() int64 { return s.appended.Load() }

// Dropped returns the number of records discarded due to decode failure.
func (s *Store) Dropped() int64 { return s.dropped.Load() }

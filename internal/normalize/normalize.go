package normalize

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/valyala/fastjson"

	"runview/internal/model"
)

var (
	ErrNotObject    = errors.New("payload is not a JSON object")
	ErrBadTimestamp = errors.New("missing or unparseable timestamp")
)

// RawRecord is the source shape of one log record, identical for the bulk
// fetch and the live feed. The live feed delivers it serialized; the bulk
// fetch delivers it already structured.
type RawRecord struct {
	Timestamp     string               `json:"timestamp"`
	Level         string               `json:"level"`
	TaskID        string               `json:"task_id"`
	Message       string               `json:"message"`
	FailureDetail *model.FailureDetail `json:"failure_detail,omitempty"`
}

// Normalize converts a raw record into the canonical shape, minus the
// sequence id the store will assign. The timestamp field accepts RFC3339
// text or a unix-nanosecond integer rendered as a string.
func Normalize(raw RawRecord) (model.LogRecord, error) {
	ts, err := parseTimestamp(raw.Timestamp)
	if err != nil {
		return model.LogRecord{}, err
	}

	return model.LogRecord{
		Timestamp:     ts,
		Level:         model.EncodeLevel(raw.Level),
		TaskID:        raw.TaskID,
		Message:       raw.Message,
		FailureDetail: raw.FailureDetail,
	}, nil
}

func parseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, ErrBadTimestamp
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	if nanos, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(0, nanos), nil
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrBadTimestamp, s)
}

// Decoder turns serialized live-feed payloads into raw records.
// Safe for concurrent use (the parser pool handles reuse).
type Decoder struct {
	parsers fastjson.ParserPool
}

// Decode parses one serialized payload into a RawRecord. A structural
// failure (not JSON, not an object) is returned as an error; the caller
// drops the record and continues.
func (d *Decoder) Decode(payload []byte) (RawRecord, error) {
	p := d.parsers.Get()
	defer d.parsers.Put(p)

	v, err := p.ParseBytes(payload)
	if err != nil {
		return RawRecord{}, fmt.Errorf("invalid JSON: %w", err)
	}
	if v.Type() != fastjson.TypeObject {
		return RawRecord{}, ErrNotObject
	}

	raw := RawRecord{
		Level:   string(v.GetStringBytes("level")),
		TaskID:  string(v.GetStringBytes("task_id")),
		Message: string(v.GetStringBytes("message")),
	}

	// Timestamp may arrive as a string or a bare integer.
	if tsv := v.Get("timestamp"); tsv != nil {
		switch tsv.Type() {
		case fastjson.TypeString:
			raw.Timestamp = string(tsv.GetStringBytes())
		case fastjson.TypeNumber:
			raw.Timestamp = strconv.FormatInt(tsv.GetInt64(), 10)
		}
	}

	if fd := v.Get("failure_detail"); fd != nil && fd.Type() == fastjson.TypeObject {
		raw.FailureDetail = &model.FailureDetail{
			Kind:       string(fd.GetStringBytes("kind")),
			Message:    string(fd.GetStringBytes("message")),
			StackTrace: string(fd.GetStringBytes("stack_trace")),
		}
	}

	return raw, nil
}

// DecodeAndNormalize is the live-feed path: decode the payload, then
// normalize it. Either failure is a decode failure for the caller.
func (d *Decoder) DecodeAndNormalize(payload []byte) (model.LogRecord, error) {
	raw, err := d.Decode(payload)
	if err != nil {
		return model.LogRecord{}, err
	}
	return Normalize(raw)
}

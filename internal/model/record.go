package model

import (
	"strings"
	"time"
)

const (
	LevelDebug   = 0
	LevelInfo    = 1
	LevelWarning = 2
	LevelError   = 3
	LevelUnknown = 255
)

// LogRecord is one normalized log line of a run.
// SequenceID is assigned by the store at ingestion time and equals the
// record's position in the canonical collection; it is never reassigned.
type LogRecord struct {
	SequenceID    int            `json:"sequence_id"`
	Timestamp     time.Time      `json:"timestamp"`
	Level         uint8          `json:"level"`
	TaskID        string         `json:"task_id"`
	Message       string         `json:"message"`
	FailureDetail *FailureDetail `json:"failure_detail,omitempty"`
}

// FailureDetail carries the structured error payload present on some records.
type FailureDetail struct {
	Kind       string `json:"kind,omitempty"`
	Message    string `json:"message,omitempty"`
	StackTrace string `json:"stack_trace,omitempty"`
}

// EncodeLevel converts a string level to uint8.
func EncodeLevel(l string) uint8 {
	switch strings.ToUpper(l) {
	case "DEBUG":
		return LevelDebug
	case "INFO":
		return LevelInfo
	case "WARN", "WARNING":
		return LevelWarning
	case "ERROR":
		return LevelError
	default:
		return LevelUnknown
	}
}

// DecodeLevel converts a uint8 level to its display string.
func DecodeLevel(l uint8) string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarning:
		return "WARNING"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

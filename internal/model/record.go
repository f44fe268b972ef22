package model

import (
	"fmt"
	"strings"
	"time"
)

// TimestampLayout is ISO-8601 with a numeric offset, e.g.
// 2024-01-15T10:30:00.5+00:00.
const TimestampLayout = "2006-01-02T15:04:05.999999999-07:00"

// Level is the severity assigned to a record at ingestion.
type Level string

const (
	LevelError Level = "ERROR"
	LevelWarn  Level = "WARN"
	LevelInfo  Level = "INFO"
	LevelDebug Level = "DEBUG"
)

// detectOrder is the fixed keyword priority used by DetectLevel. Position of
// the keyword inside the line does not matter.
var detectOrder = []Level{LevelError, LevelWarn, LevelInfo}

// DetectLevel classifies a raw line by case-insensitive substring search for
// ERROR, then WARN, then INFO. Lines matching none are DEBUG.
func DetectLevel(line string) Level {
	upper := strings.ToUpper(line)
	for _, lvl := range detectOrder {
		if strings.Contains(upper, string(lvl)) {
			return lvl
		}
	}
	return LevelDebug
}

// ParseLevel accepts a level name in any case.
func ParseLevel(s string) (Level, error) {
	switch lvl := Level(strings.ToUpper(strings.TrimSpace(s))); lvl {
	case LevelError, LevelWarn, LevelInfo, LevelDebug:
		return lvl, nil
	}
	return "", fmt.Errorf("unknown level %q", s)
}

// LogRecord is one classified log line. It is built once and passed by value.
type LogRecord struct {
	Timestamp time.Time
	Message   string
	Level     Level
	Source    string // ingestion channel tag
}

// NewRecord builds a record from a raw line received at ts.
func NewRecord(ts time.Time, source, line string) LogRecord {
	return LogRecord{
		Timestamp: ts,
		Message:   strings.TrimSpace(line),
		Level:     DetectLevel(line),
		Source:    source,
	}
}

// Field returns a record field by its wire name. Every record carries
// message, level and source, even when empty; timestamp is absent only when
// unset.
func (r LogRecord) Field(name string) (string, bool) {
	switch name {
	case "timestamp":
		if r.Timestamp.IsZero() {
			return "", false
		}
		return r.Timestamp.Format(TimestampLayout), true
	case "message":
		return r.Message, true
	case "level":
		return string(r.Level), true
	case "source":
		return r.Source, true
	}
	return "", false
}

// String returns the console format: [<timestamp>] [<source>] <LEVEL> <message>
func (r LogRecord) String() string {
	return fmt.Sprintf("[%s] [%s] %s %s", r.Timestamp.UTC().Format(time.RFC3339), r.Source, r.Level, r.Message)
}

// WireRecord is the serialized shape delivered to dashboard subscribers.
type WireRecord struct {
	Timestamp string `json:"timestamp" cbor:"timestamp"`
	Message   string `json:"message" cbor:"message"`
	Level     string `json:"level" cbor:"level"`
	Source    string `json:"source" cbor:"source"`
}

// Wire converts the record to its serialized shape.
func (r LogRecord) Wire() WireRecord {
	return WireRecord{
		Timestamp: r.Timestamp.Format(TimestampLayout),
		Message:   r.Message,
		Level:     string(r.Level),
		Source:    r.Source,
	}
}

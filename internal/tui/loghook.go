package tui

import (
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

const logHookBuffer = 512

// LogEntry is one captured operator log line.
type LogEntry struct {
	Time    time.Time
	Level   logrus.Level
	Message string
	Fields  logrus.Fields
}

// LogHook captures logrus entries for the logs pane. Fire never blocks: when
// the UI falls behind, entries are dropped and counted.
type LogHook struct {
	entries chan LogEntry
	levels  []logrus.Level
	dropped atomic.Int64
}

func NewLogHook() *LogHook {
	return &LogHook{
		entries: make(chan LogEntry, logHookBuffer),
		levels:  logrus.AllLevels,
	}
}

// Levels returns the log levels this hook handles
func (h *LogHook) Levels() []logrus.Level {
	return h.levels
}

// Fire is called when a log entry is made
func (h *LogHook) Fire(entry *logrus.Entry) error {
	fields := make(logrus.Fields, len(entry.Data))
	for k, v := range entry.Data {
		fields[k] = v
	}
	e := LogEntry{Time: entry.Time, Level: entry.Level, Message: entry.Message, Fields: fields}
	select {
	case h.entries <- e:
	default:
		h.dropped.Add(1)
	}
	return nil
}

// Entries is drained by the UI.
func (h *LogHook) Entries() <-chan LogEntry { return h.entries }

// Dropped returns how many entries were discarded.
func (h *LogHook) Dropped() int64 { return h.dropped.Load() }

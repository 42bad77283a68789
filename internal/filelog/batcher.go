// Package filelog mirrors rendered message lines into per-exchange log files,
// batching writes on a fixed cadence.
package filelog

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultThreshold is the flush cadence when none is configured.
const DefaultThreshold = time.Second

// Batcher accumulates lines per destination file and flushes them once the
// accumulated tick time exceeds the threshold. It is owned by the single
// ingest consumer and is not safe for concurrent use.
type Batcher struct {
	threshold time.Duration
	elapsed   time.Duration
	pending   map[string][]string
	order     []string
	log       logrus.FieldLogger
}

func NewBatcher(threshold time.Duration, log logrus.FieldLogger) *Batcher {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Batcher{
		threshold: threshold,
		pending:   make(map[string][]string),
		log:       log,
	}
}

// Add queues one line for path.
func (b *Batcher) Add(path, line string) {
	if _, ok := b.pending[path]; !ok {
		b.order = append(b.order, path)
	}
	b.pending[path] = append(b.pending[path], line)
}

// Pending returns a copy of the lines waiting for path.
func (b *Batcher) Pending(path string) []string {
	return append([]string(nil), b.pending[path]...)
}

// Tick advances the accumulated time and flushes once it exceeds the
// threshold. It reports whether a flush ran.
func (b *Batcher) Tick(elapsed time.Duration) bool {
	b.elapsed += elapsed
	if b.elapsed <= b.threshold {
		return false
	}
	_ = b.Flush()
	return true
}

// Flush writes every pending destination and resets the accumulator.
// A failing destination is logged and its lines are dropped; the others
// are still written.
func (b *Batcher) Flush() error {
	var errs []error
	for _, path := range b.order {
		lines := b.pending[path]
		if len(lines) == 0 {
			continue
		}
		if err := appendLines(path, lines); err != nil {
			b.log.WithError(err).WithField("path", path).Error("Error logging to file")
			errs = append(errs, err)
		}
	}
	b.pending = make(map[string][]string, len(b.order))
	b.order = b.order[:0]
	b.elapsed = 0
	return errors.Join(errs...)
}

// Close flushes whatever is still pending.
func (b *Batcher) Close() error {
	return b.Flush()
}

func appendLines(path string, lines []string) error {
	var sb strings.Builder
	for _, line := range lines {
		sb.WriteString(line)
		sb.WriteByte('\n')
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	if _, err := f.WriteString(sb.String()); err != nil {
		return errors.Join(fmt.Errorf("writing %s: %w", path, err), f.Close())
	}
	return f.Close()
}

package db

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

const defaultBufferSize = 1000

// AsyncWriter provides non-blocking message persistence with a buffered channel
type AsyncWriter struct {
	store     Store
	sessionID int64
	log       logrus.FieldLogger
	ch        chan *MessageRecord
	wg        sync.WaitGroup

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

// NewAsyncWriter creates a new async writer with the given store and session.
// A nil logger discards insert errors.
func NewAsyncWriter(store Store, sessionID int64, log logrus.FieldLogger) *AsyncWriter {
	w := &AsyncWriter{
		store:     store,
		sessionID: sessionID,
		log:       log,
		ch:        make(chan *MessageRecord, defaultBufferSize),
	}
	w.wg.Add(1)
	go w.run()
	return w
}

// Save queues a message for persistence. Non-blocking; drops message if buffer is full.
func (w *AsyncWriter) Save(msg *MessageRecord) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return false
	}
	msg.SessionID = w.sessionID
	select {
	case w.ch <- msg:
		return true
	default:
		w.dropped.Add(1)
		return false
	}
}

// Dropped returns how many messages were discarded because the buffer was full.
func (w *AsyncWriter) Dropped() int64 { return w.dropped.Load() }

func (w *AsyncWriter) run() {
	defer w.wg.Done()
	for msg := range w.ch {
		if _, err := w.store.InsertMessage(context.Background(), msg); err != nil && w.log != nil {
			w.log.WithError(err).WithField("exchange", msg.Exchange).Warn("Archive insert failed")
		}
	}
}

// Close stops accepting messages and waits until the buffer is drained.
func (w *AsyncWriter) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	close(w.ch)
	w.mu.Unlock()
	w.wg.Wait()
}

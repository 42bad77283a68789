package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/epalmerini/burrow/internal/randutil"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

var ErrAlreadySubscribed = errors.New("exchange already has an active worker")

// EngineConfig configures queue naming.
type EngineConfig struct {
	ClientName string
	// SessionScoped appends a per-process suffix to every queue name so that
	// two clients with the same name do not share queues.
	SessionScoped bool
}

// Engine owns the per-exchange workers. At most one worker is active per
// exchange ID at any time.
type Engine struct {
	broker     Broker
	sink       Sink
	pause      *PauseFlag
	log        logrus.FieldLogger
	clientName string
	sessionTag string

	mu      sync.Mutex
	workers map[uuid.UUID]*handle

	// queues counts live workers per queue name whose queue may still exist.
	queuesMu sync.Mutex
	queues   map[string]int

	opened atomic.Uint64
	wg     sync.WaitGroup
}

// handle is the one-shot cancellation for a single worker.
type handle struct {
	cancel chan struct{}
	once   sync.Once
}

func newHandle() *handle { return &handle{cancel: make(chan struct{})} }

func (h *handle) stop() { h.once.Do(func() { close(h.cancel) }) }

func NewEngine(broker Broker, sink Sink, pause *PauseFlag, cfg EngineConfig, log logrus.FieldLogger) *Engine {
	if pause == nil {
		pause = &PauseFlag{}
	}
	if cfg.ClientName == "" {
		cfg.ClientName = "burrow"
	}
	e := &Engine{
		broker:     broker,
		sink:       sink,
		pause:      pause,
		log:        log,
		clientName: cfg.ClientName,
		workers:    make(map[uuid.UUID]*handle),
		queues:     make(map[string]int),
	}
	if cfg.SessionScoped {
		e.sessionTag = randutil.SessionTag()
	}
	return e
}

// Pause returns the flag shared with the workers.
func (e *Engine) Pause() *PauseFlag { return e.pause }

// QueueName derives the queue consumed for an exchange.
func (e *Engine) QueueName(exchange string) string {
	return randutil.Scoped(e.clientName+"."+exchange, e.sessionTag)
}

// Toggle unsubscribes when a worker is active for sub.ID and subscribes
// otherwise. It reports whether the exchange is subscribed afterwards.
func (e *Engine) Toggle(sub Subscription) (bool, error) {
	e.mu.Lock()
	if h, ok := e.workers[sub.ID]; ok {
		delete(e.workers, sub.ID)
		e.mu.Unlock()
		e.log.Infof("Unsubscribing from: %s", sub.Exchange)
		h.stop()
		return false, nil
	}
	h := newHandle()
	e.workers[sub.ID] = h
	e.mu.Unlock()

	if err := e.spawn(sub, h); err != nil {
		return false, err
	}
	return true, nil
}

// Subscribe starts a worker for sub. It fails if one is already active.
func (e *Engine) Subscribe(sub Subscription) error {
	e.mu.Lock()
	if _, ok := e.workers[sub.ID]; ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadySubscribed, sub.Exchange)
	}
	h := newHandle()
	e.workers[sub.ID] = h
	e.mu.Unlock()
	return e.spawn(sub, h)
}

// Unsubscribe signals the worker for id to stop. The worker deletes its queue
// before exiting. It reports whether a worker was active.
func (e *Engine) Unsubscribe(id uuid.UUID) bool {
	e.mu.Lock()
	h, ok := e.workers[id]
	delete(e.workers, id)
	e.mu.Unlock()
	if ok {
		h.stop()
	}
	return ok
}

// Active reports whether a worker is registered for id.
func (e *Engine) Active(id uuid.UUID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.workers[id]
	return ok
}

// ActiveCount returns the number of registered workers.
func (e *Engine) ActiveCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.workers)
}

// Queues returns the queues that were declared for and not yet deleted by
// their workers, sorted by name.
func (e *Engine) Queues() []string {
	e.queuesMu.Lock()
	defer e.queuesMu.Unlock()
	return slices.Sorted(maps.Keys(e.queues))
}

func (e *Engine) spawn(sub Subscription, h *handle) error {
	ch, err := e.broker.OpenChannel()
	if err != nil {
		e.release(sub.ID, h)
		e.log.WithError(err).Errorf("Failed to open channel for %s", sub.Exchange)
		return err
	}

	queue := e.QueueName(sub.Exchange)
	e.log.WithField("exchange", sub.Exchange).Infof("Channel created: %d", e.opened.Add(1))

	e.wg.Add(1)
	go e.run(sub, queue, ch, h)
	return nil
}

// release drops the registration for id only if it still belongs to h.
func (e *Engine) release(id uuid.UUID, h *handle) {
	e.mu.Lock()
	if e.workers[id] == h {
		delete(e.workers, id)
	}
	e.mu.Unlock()
}

func (e *Engine) track(queue string) {
	e.queuesMu.Lock()
	defer e.queuesMu.Unlock()
	e.queues[queue]++
}

func (e *Engine) untrack(queue string) {
	e.queuesMu.Lock()
	defer e.queuesMu.Unlock()
	if e.queues[queue] <= 1 {
		delete(e.queues, queue)
		return
	}
	e.queues[queue]--
}

// Publish sends payload to the exchange with the subscription's routing key.
func (e *Engine) Publish(ctx context.Context, sub Subscription, payload []byte) error {
	ch, err := e.broker.OpenChannel()
	if err != nil {
		return err
	}
	defer ch.Close()

	contentType := "text/plain"
	if json.Valid(payload) {
		contentType = "application/json"
	}

	err = ch.PublishWithContext(ctx, sub.Exchange, sub.RoutingKey, false, false, amqp.Publishing{
		ContentType: contentType,
		Body:        payload,
		Timestamp:   time.Now(),
		AppId:       e.clientName,
	})
	if err != nil {
		return fmt.Errorf("publishing to %s: %w", sub.Exchange, err)
	}
	e.log.Infof("Published %d bytes to: %s", len(payload), sub.Exchange)
	return nil
}

// Shutdown stops all workers and waits for them to exit or for ctx to end.
// Queues a worker did not delete on its way out are then deleted over a
// fresh channel.
func (e *Engine) Shutdown(ctx context.Context) error {
	var errs []error

	e.mu.Lock()
	for id, h := range e.workers {
		h.stop()
		delete(e.workers, id)
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("waiting for workers: %w", ctx.Err()))
	}

	if queues := e.Queues(); len(queues) > 0 {
		ch, err := e.broker.OpenChannel()
		if err != nil {
			errs = append(errs, fmt.Errorf("open cleanup channel: %w", err))
			return errors.Join(errs...)
		}
		for _, q := range queues {
			if _, err := ch.QueueDelete(q, false, false, false); err != nil {
				errs = append(errs, fmt.Errorf("deleting queue %s: %w", q, err))
				continue
			}
			e.untrack(q)
			e.log.Infof("Queue Deleted: %s", q)
		}
		_ = ch.Close()
	}
	return errors.Join(errs...)
}

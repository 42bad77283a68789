package rabbitmq

import (
	"context"
	"errors"
	"io"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

type fakeBroker struct {
	mu          sync.Mutex
	openErr     error
	exchangeErr error
	opened      int
	closed      int
	declared    []string
	deleted     []string
	published   []amqp.Publishing
	consumers   chan chan amqp.Delivery
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{consumers: make(chan chan amqp.Delivery, 64)}
}

func (b *fakeBroker) OpenChannel() (Channel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.openErr != nil {
		return nil, b.openErr
	}
	b.opened++
	return &fakeChannel{b: b}, nil
}

func (b *fakeBroker) Close() error { return nil }

func (b *fakeBroker) deletedQueues() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.deleted)
}

func (b *fakeBroker) declaredQueues() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.declared)
}

func (b *fakeBroker) nextConsumer(t *testing.T) chan amqp.Delivery {
	t.Helper()
	select {
	case c := <-b.consumers:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for consumer")
		return nil
	}
}

type fakeChannel struct {
	b *fakeBroker
}

func (c *fakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	return c.b.exchangeErr
}

func (c *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	c.b.declared = append(c.b.declared, name)
	return amqp.Queue{Name: name}, nil
}

func (c *fakeChannel) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	return nil
}

func (c *fakeChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	d := make(chan amqp.Delivery)
	c.b.consumers <- d
	return d, nil
}

func (c *fakeChannel) QueueDelete(name string, ifUnused, ifEmpty, noWait bool) (int, error) {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	c.b.deleted = append(c.b.deleted, name)
	return 0, nil
}

func (c *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	c.b.published = append(c.b.published, msg)
	return nil
}

func (c *fakeChannel) Close() error {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	c.b.closed++
	return nil
}

type recordingSink struct {
	deliveries chan Delivery
	stops      chan Stop
}

func newRecordingSink() *recordingSink {
	return &recordingSink{
		deliveries: make(chan Delivery, 64),
		stops:      make(chan Stop, 64),
	}
}

func (s *recordingSink) Deliver(d Delivery) { s.deliveries <- d }
func (s *recordingSink) Stopped(st Stop)    { s.stops <- st }

func (s *recordingSink) nextDelivery(t *testing.T) Delivery {
	t.Helper()
	select {
	case d := <-s.deliveries:
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
		return Delivery{}
	}
}

func (s *recordingSink) nextStop(t *testing.T) Stop {
	t.Helper()
	select {
	case st := <-s.stops:
		return st
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for worker exit")
		return Stop{}
	}
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestEngine(b *fakeBroker, s *recordingSink) *Engine {
	return NewEngine(b, s, nil, EngineConfig{ClientName: "burrow"}, quietLogger())
}

func ordersSub() Subscription {
	return Subscription{ID: uuid.New(), Exchange: "orders", Kind: "topic", RoutingKey: "#"}
}

func TestQueueName(t *testing.T) {
	e := newTestEngine(newFakeBroker(), newRecordingSink())
	if got := e.QueueName("orders"); got != "burrow.orders" {
		t.Errorf("QueueName = %q, want burrow.orders", got)
	}

	scoped := NewEngine(newFakeBroker(), newRecordingSink(), nil, EngineConfig{ClientName: "cli", SessionScoped: true}, quietLogger())
	got := scoped.QueueName("orders")
	if !strings.HasPrefix(got, "cli.orders.") || len(got) != len("cli.orders.")+8 {
		t.Errorf("session-scoped QueueName = %q", got)
	}
}

func TestToggle_SubscribeThenUnsubscribe(t *testing.T) {
	b := newFakeBroker()
	s := newRecordingSink()
	e := newTestEngine(b, s)
	sub := ordersSub()

	on, err := e.Toggle(sub)
	if err != nil || !on {
		t.Fatalf("Toggle on = %v, %v", on, err)
	}
	b.nextConsumer(t)
	if !e.Active(sub.ID) {
		t.Fatal("expected active worker")
	}

	on, err = e.Toggle(sub)
	if err != nil || on {
		t.Fatalf("Toggle off = %v, %v", on, err)
	}
	st := s.nextStop(t)
	if !st.Cancelled || st.Err != nil {
		t.Errorf("stop = %+v, want cancelled without error", st)
	}
	if e.ActiveCount() != 0 {
		t.Errorf("ActiveCount = %d, want 0", e.ActiveCount())
	}
	if got := b.deletedQueues(); !slices.Contains(got, "burrow.orders") {
		t.Errorf("deleted = %v, want burrow.orders", got)
	}
}

func TestToggle_ImmediateUnsubscribeLeavesNoQueue(t *testing.T) {
	b := newFakeBroker()
	s := newRecordingSink()
	e := newTestEngine(b, s)
	sub := ordersSub()

	if _, err := e.Toggle(sub); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Toggle(sub); err != nil {
		t.Fatal(err)
	}
	s.nextStop(t)
	if len(b.declaredQueues()) != 0 && !slices.Contains(b.deletedQueues(), "burrow.orders") {
		t.Errorf("declared = %v deleted = %v, queue left behind", b.declaredQueues(), b.deletedQueues())
	}
}

func TestToggle_RapidTogglesKeepOneWorker(t *testing.T) {
	b := newFakeBroker()
	s := newRecordingSink()
	e := newTestEngine(b, s)
	sub := ordersSub()

	for i := 0; i < 20; i++ {
		if _, err := e.Toggle(sub); err != nil {
			t.Fatal(err)
		}
		if n := e.ActiveCount(); n > 1 {
			t.Fatalf("ActiveCount = %d after toggle %d", n, i)
		}
	}
	if e.Active(sub.ID) {
		t.Error("even number of toggles should leave the exchange unsubscribed")
	}

	for i := 0; i < 10; i++ {
		s.nextStop(t)
	}
}

func TestSubscribe_AlreadySubscribed(t *testing.T) {
	b := newFakeBroker()
	e := newTestEngine(b, newRecordingSink())
	sub := ordersSub()

	if err := e.Subscribe(sub); err != nil {
		t.Fatal(err)
	}
	if err := e.Subscribe(sub); !errors.Is(err, ErrAlreadySubscribed) {
		t.Errorf("second Subscribe err = %v, want ErrAlreadySubscribed", err)
	}
}

func TestSubscribe_OpenChannelFailure(t *testing.T) {
	b := newFakeBroker()
	b.openErr = errors.New("channel_max reached")
	e := newTestEngine(b, newRecordingSink())
	sub := ordersSub()

	if err := e.Subscribe(sub); err == nil {
		t.Fatal("expected error")
	}
	if e.Active(sub.ID) {
		t.Error("failed subscribe should not leave a worker registered")
	}
}

func TestWorker_ForwardsDeliveries(t *testing.T) {
	b := newFakeBroker()
	s := newRecordingSink()
	e := newTestEngine(b, s)
	sub := ordersSub()

	if err := e.Subscribe(sub); err != nil {
		t.Fatal(err)
	}
	d := b.nextConsumer(t)

	d <- amqp.Delivery{Body: nil}
	d <- amqp.Delivery{Body: []byte{0xff, 'o', 'k'}, RoutingKey: "orders.created"}

	got := s.nextDelivery(t)
	if got.ExchangeID != sub.ID || got.Exchange != "orders" {
		t.Errorf("delivery = %+v", got)
	}
	if got.Payload != "�ok" {
		t.Errorf("Payload = %q, want lossy decode", got.Payload)
	}
	if got.Timestamp.IsZero() {
		t.Error("Timestamp not filled in")
	}
}

func TestWorker_TimestampIsCaptureTime(t *testing.T) {
	b := newFakeBroker()
	s := newRecordingSink()
	e := newTestEngine(b, s)

	if err := e.Subscribe(ordersSub()); err != nil {
		t.Fatal(err)
	}
	d := b.nextConsumer(t)

	published := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	before := time.Now()
	d <- amqp.Delivery{Body: []byte("late"), Timestamp: published}
	got := s.nextDelivery(t)

	if got.Timestamp.Before(before) {
		t.Errorf("Timestamp = %v, want capture time at or after %v", got.Timestamp, before)
	}
	if !got.PublishedAt.Equal(published) {
		t.Errorf("PublishedAt = %v, want %v", got.PublishedAt, published)
	}
}

func TestWorker_PauseDropsDeliveries(t *testing.T) {
	b := newFakeBroker()
	s := newRecordingSink()
	e := newTestEngine(b, s)

	if err := e.Subscribe(ordersSub()); err != nil {
		t.Fatal(err)
	}
	d := b.nextConsumer(t)

	e.Pause().Set(true)
	d <- amqp.Delivery{Body: []byte("dropped")}
	e.Pause().Set(false)
	d <- amqp.Delivery{Body: []byte("kept")}

	if got := s.nextDelivery(t); got.Payload != "kept" {
		t.Errorf("Payload = %q, want kept", got.Payload)
	}
}

func TestWorker_ExchangeDeclareFailure(t *testing.T) {
	b := newFakeBroker()
	b.exchangeErr = errors.New("PRECONDITION_FAILED")
	s := newRecordingSink()
	e := newTestEngine(b, s)
	sub := ordersSub()

	if err := e.Subscribe(sub); err != nil {
		t.Fatal(err)
	}
	st := s.nextStop(t)
	if st.Cancelled || st.Err == nil {
		t.Errorf("stop = %+v, want uncancelled with error", st)
	}
	if e.Active(sub.ID) {
		t.Error("worker should have released its registration")
	}
	if q := b.declaredQueues(); len(q) != 0 {
		t.Errorf("declared = %v, want none", q)
	}
}

func TestWorker_ConsumerEnded(t *testing.T) {
	b := newFakeBroker()
	s := newRecordingSink()
	e := newTestEngine(b, s)
	sub := ordersSub()

	if err := e.Subscribe(sub); err != nil {
		t.Fatal(err)
	}
	close(b.nextConsumer(t))

	st := s.nextStop(t)
	if !errors.Is(st.Err, ErrConsumerEnded) {
		t.Errorf("Err = %v, want ErrConsumerEnded", st.Err)
	}
	if e.Active(sub.ID) {
		t.Error("worker should have released its registration")
	}
	if len(b.deletedQueues()) != 0 {
		t.Errorf("deleted = %v, want none", b.deletedQueues())
	}
}

func countOf(names []string, name string) int {
	n := 0
	for _, q := range names {
		if q == name {
			n++
		}
	}
	return n
}

func TestShutdown_WorkersDeleteTheirOwnQueues(t *testing.T) {
	b := newFakeBroker()
	s := newRecordingSink()
	e := newTestEngine(b, s)

	orders := ordersSub()
	audit := Subscription{ID: uuid.New(), Exchange: "audit", Kind: "fanout"}
	for _, sub := range []Subscription{orders, audit} {
		if err := e.Subscribe(sub); err != nil {
			t.Fatal(err)
		}
		b.nextConsumer(t)
	}
	if got := e.Queues(); len(got) != 2 || got[0] != "burrow.audit" || got[1] != "burrow.orders" {
		t.Fatalf("Queues = %v", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	deleted := b.deletedQueues()
	for _, q := range []string{"burrow.orders", "burrow.audit"} {
		if n := countOf(deleted, q); n != 1 {
			t.Errorf("%s deleted %d times (%v), want once", q, n, deleted)
		}
	}
	if e.ActiveCount() != 0 || len(e.Queues()) != 0 {
		t.Errorf("ActiveCount = %d, Queues = %v", e.ActiveCount(), e.Queues())
	}
	// Both worker channels plus no sweep channel.
	if b.opened != 2 {
		t.Errorf("opened %d channels, want 2", b.opened)
	}
}

func TestShutdown_SweepsQueuesLeftByEndedWorkers(t *testing.T) {
	b := newFakeBroker()
	s := newRecordingSink()
	e := newTestEngine(b, s)

	if err := e.Subscribe(ordersSub()); err != nil {
		t.Fatal(err)
	}
	close(b.nextConsumer(t))
	s.nextStop(t)

	if got := e.Queues(); len(got) != 1 || got[0] != "burrow.orders" {
		t.Fatalf("Queues = %v, want the orphaned queue", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if got := b.deletedQueues(); len(got) != 1 || got[0] != "burrow.orders" {
		t.Errorf("deleted = %v, want [burrow.orders]", got)
	}
	if len(e.Queues()) != 0 {
		t.Errorf("Queues = %v after sweep", e.Queues())
	}
}

func TestShutdown_NothingDeclared(t *testing.T) {
	b := newFakeBroker()
	b.exchangeErr = errors.New("ACCESS_REFUSED")
	s := newRecordingSink()
	e := newTestEngine(b, s)

	if err := e.Subscribe(ordersSub()); err != nil {
		t.Fatal(err)
	}
	s.nextStop(t)

	if err := e.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if got := b.deletedQueues(); len(got) != 0 {
		t.Errorf("deleted = %v, want none", got)
	}
}

func TestPublish_ContentType(t *testing.T) {
	tests := []struct {
		payload string
		want    string
	}{
		{`{"id":1}`, "application/json"},
		{"plain text", "text/plain"},
	}
	for _, tt := range tests {
		b := newFakeBroker()
		e := newTestEngine(b, newRecordingSink())
		if err := e.Publish(context.Background(), ordersSub(), []byte(tt.payload)); err != nil {
			t.Fatal(err)
		}
		if len(b.published) != 1 || b.published[0].ContentType != tt.want {
			t.Errorf("Publish(%q) = %+v, want content type %s", tt.payload, b.published, tt.want)
		}
		if b.closed != 1 {
			t.Errorf("publish channel not closed")
		}
	}
}

func TestPauseFlag_Toggle(t *testing.T) {
	var p PauseFlag
	if !p.Toggle() || !p.Paused() {
		t.Error("first Toggle should pause")
	}
	if p.Toggle() || p.Paused() {
		t.Error("second Toggle should resume")
	}
}

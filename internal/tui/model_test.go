package tui

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/epalmerini/burrow/internal/buffer"
	"github.com/epalmerini/burrow/internal/config"
	"github.com/epalmerini/burrow/internal/filelog"
	"github.com/epalmerini/burrow/internal/ingest"
	"github.com/epalmerini/burrow/internal/rabbitmq"
	"github.com/epalmerini/burrow/internal/registry"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type fakeEngine struct {
	mu        sync.Mutex
	active    map[uuid.UUID]bool
	toggleErr error
	published map[string][]byte
	shutdowns int
	pause     rabbitmq.PauseFlag
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{active: map[uuid.UUID]bool{}, published: map[string][]byte{}}
}

func (f *fakeEngine) Toggle(sub rabbitmq.Subscription) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.toggleErr != nil {
		return false, f.toggleErr
	}
	if f.active[sub.ID] {
		delete(f.active, sub.ID)
		return false, nil
	}
	f.active[sub.ID] = true
	return true, nil
}

func (f *fakeEngine) Active(id uuid.UUID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active[id]
}

// end simulates a worker that exits on its own and releases its slot.
func (f *fakeEngine) end(id uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.active, id)
}

func (f *fakeEngine) Publish(_ context.Context, sub rabbitmq.Subscription, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published[sub.Exchange] = payload
	return nil
}

func (f *fakeEngine) Shutdown(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutdowns++
	clear(f.active)
	return nil
}

func (f *fakeEngine) Pause() *rabbitmq.PauseFlag { return &f.pause }

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// newTestModel builds a sized model over a config file in a temp dir.
// Autosave runs synchronously.
func newTestModel(t *testing.T, width, height int, entries ...config.Exchange) (model, *fakeEngine) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "burrow.toml")
	seed := &config.FileConfig{Host: "localhost", Exchanges: entries}
	if err := seed.SaveAs(path); err != nil {
		t.Fatalf("seed config: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	log := quietLogger()
	engine := newFakeEngine()
	reg := registry.New(cfg.Exchanges)
	pipeline := &ingest.Pipeline{
		Registry: reg,
		Lines:    buffer.NewLines(cfg.LineCapacity()),
		Batcher:  filelog.NewBatcher(cfg.FlushInterval(), log),
		Workers:  engine,
		Log:      log,
	}

	m := newModel(Options{
		Config:   cfg,
		Registry: reg,
		Engine:   engine,
		Queue:    ingest.NewQueue(),
		Pipeline: pipeline,
		Log:      log,
		Host:     "localhost:5672",
	})
	m.autosave = func(f func()) { f() }

	updated, _ := m.Update(tea.WindowSizeMsg{Width: width, Height: height})
	return updated.(model), engine
}

func keyMsg(k string) tea.KeyMsg {
	switch k {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEscape}
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	case "pgup":
		return tea.KeyMsg{Type: tea.KeyPgUp}
	case "pgdown":
		return tea.KeyMsg{Type: tea.KeyPgDown}
	case " ":
		return tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)}
}

func press(m model, keys ...string) (model, tea.Cmd) {
	var cmd tea.Cmd
	for _, k := range keys {
		var updated tea.Model
		updated, cmd = m.Update(keyMsg(k))
		m = updated.(model)
	}
	return m, cmd
}

func TestToggle_PendingThenUnselected(t *testing.T) {
	m, engine := newTestModel(t, 120, 40, config.Exchange{Name: "orders", Type: "topic", RoutingKey: "#"})
	ex := m.reg.All()[0]

	m, cmd := press(m, "enter")
	if ex.State != registry.PendingSubscription {
		t.Fatalf("state after first toggle = %v, want PendingSubscription", ex.State)
	}
	if cmd != nil {
		t.Error("subscribing should not issue a command")
	}
	if !engine.Active(ex.ID) {
		t.Fatal("engine has no worker after subscribe")
	}

	_, cmd = press(m, " ")
	if ex.State != registry.Unselected {
		t.Fatalf("state after second toggle = %v, want Unselected", ex.State)
	}
	if cmd != nil {
		t.Error("queue deletion belongs to the worker, not a separate command")
	}
	if engine.Active(ex.ID) {
		t.Error("worker still registered after unsubscribe")
	}
}

func TestToggle_SubscribedUnsubscribe(t *testing.T) {
	m, engine := newTestModel(t, 120, 40, config.Exchange{Name: "orders", Type: "topic"})
	ex := m.reg.All()[0]

	m, _ = press(m, "enter")
	m.reg.MarkDelivered(ex.ID)

	_, cmd := press(m, "enter")
	if ex.State != registry.Unselected {
		t.Errorf("state = %v, want Unselected", ex.State)
	}
	if cmd != nil || engine.Active(ex.ID) {
		t.Errorf("cmd = %v active = %v, want neither", cmd, engine.Active(ex.ID))
	}
}

func TestToggle_RestartAfterWorkerEndedGoesPending(t *testing.T) {
	for _, delivered := range []bool{true, false} {
		m, engine := newTestModel(t, 120, 40, config.Exchange{Name: "orders", Type: "topic"})
		ex := m.reg.All()[0]

		m, _ = press(m, "enter")
		if delivered {
			m.reg.MarkDelivered(ex.ID)
		}

		// The worker ends by itself; its Stop is still queued when the user
		// toggles again and a new worker starts.
		engine.end(ex.ID)
		m, _ = press(m, "enter")
		if !engine.Active(ex.ID) {
			t.Fatal("toggle should have started a new worker")
		}
		if ex.State != registry.PendingSubscription {
			t.Fatalf("delivered=%v: state = %v, want PendingSubscription", delivered, ex.State)
		}

		updated, _ := m.Update(eventsMsg{events: []ingest.Event{{Stop: &rabbitmq.Stop{
			ExchangeID: ex.ID,
			Exchange:   ex.Name,
			Err:        rabbitmq.ErrConsumerEnded,
		}}}})
		m = updated.(model)
		if ex.State != registry.PendingSubscription {
			t.Errorf("delivered=%v: stale stop changed state to %v", delivered, ex.State)
		}

		m.Update(eventsMsg{events: []ingest.Event{{Delivery: &rabbitmq.Delivery{
			ExchangeID: ex.ID,
			Exchange:   ex.Name,
			Payload:    "hello",
			Timestamp:  time.Now(),
		}}}})
		if ex.State != registry.Subscribed {
			t.Errorf("delivered=%v: state after first delivery = %v, want Subscribed", delivered, ex.State)
		}
	}
}

func TestToggle_EngineErrorRevertsState(t *testing.T) {
	m, engine := newTestModel(t, 120, 40, config.Exchange{Name: "orders", Type: "topic"})
	engine.toggleErr = errors.New("channel refused")

	m, _ = press(m, "enter")
	if got := m.reg.All()[0].State; got != registry.Unselected {
		t.Errorf("state = %v, want Unselected", got)
	}
	if !m.statusErr || !strings.Contains(m.statusMsg, "channel refused") {
		t.Errorf("status = %q (err=%v), want the engine error", m.statusMsg, m.statusErr)
	}
}

func TestEvents_DeliveryMarksSubscribed(t *testing.T) {
	m, _ := newTestModel(t, 120, 40, config.Exchange{Name: "orders", Type: "topic", Pretty: true})
	ex := m.reg.All()[0]
	m, _ = press(m, "enter")

	updated, cmd := m.Update(eventsMsg{events: []ingest.Event{{Delivery: &rabbitmq.Delivery{
		ExchangeID: ex.ID,
		Exchange:   ex.Name,
		Payload:    `{"id":1}`,
		Timestamp:  time.Now(),
	}}}})
	m = updated.(model)

	if ex.State != registry.Subscribed {
		t.Errorf("state = %v, want Subscribed", ex.State)
	}
	if got := m.pipeline.Lines.Len(); got != 5 {
		t.Errorf("lines = %d, want 5", got)
	}
	if cmd == nil {
		t.Error("expected the model to keep waiting for events")
	}
	if !strings.Contains(m.View(), `"id": 1`) {
		t.Error("view does not show the pretty-printed payload")
	}
}

func TestPause_SwitchesWindowMode(t *testing.T) {
	m, engine := newTestModel(t, 120, 40)

	m, _ = press(m, "p")
	if !engine.pause.Paused() {
		t.Fatal("pause flag not set")
	}
	if m.window.Mode() != buffer.Scroll {
		t.Errorf("mode = %v, want Scroll", m.window.Mode())
	}
	if m.focus != focusMessages {
		t.Error("pausing should focus the messages pane")
	}

	m, _ = press(m, "p")
	if engine.pause.Paused() {
		t.Error("pause flag still set after resume")
	}
	if m.window.Mode() != buffer.Normal {
		t.Errorf("mode = %v, want Normal", m.window.Mode())
	}
}

func TestPause_ScrollKeys(t *testing.T) {
	m, _ := newTestModel(t, 120, 40)
	for i := range 100 {
		m.pipeline.Lines.Push(strings.Repeat("x", i%7))
	}
	height := m.window.Height()
	if height <= 0 {
		t.Fatalf("window height = %d after layout", height)
	}

	// Not paused: scroll keys move the selector, never the window.
	m, _ = press(m, "k", "pgup")
	if got := m.window.Offset(100); got != 0 {
		t.Fatalf("offset while live = %d, want 0", got)
	}

	m, _ = press(m, "p", "k")
	if got := m.window.Offset(100); got != 1 {
		t.Errorf("offset after k = %d, want 1", got)
	}
	m, _ = press(m, "pgup")
	if got := m.window.Offset(100); got != 1+height {
		t.Errorf("offset after pgup = %d, want %d", got, 1+height)
	}
	m, _ = press(m, "j")
	if got := m.window.Offset(100); got != height {
		t.Errorf("offset after j = %d, want %d", got, height)
	}

	m, _ = press(m, "p")
	if got := m.window.Offset(100); got != 0 {
		t.Errorf("offset after resume = %d, want 0", got)
	}
}

func TestSelector_CursorStaysVisible(t *testing.T) {
	var entries []config.Exchange
	for _, n := range []string{"ex00", "ex01", "ex02", "ex03", "ex04", "ex05", "ex06", "ex07", "ex08", "ex09"} {
		entries = append(entries, config.Exchange{Name: n, Type: "fanout"})
	}
	m, _ := newTestModel(t, 80, 10, entries...)
	rows := m.selectorRows()

	m, _ = press(m, "G")
	if m.cursor != 9 {
		t.Fatalf("cursor = %d, want 9", m.cursor)
	}
	if m.cursor < m.top || m.cursor >= m.top+rows {
		t.Errorf("cursor %d outside visible rows [%d, %d)", m.cursor, m.top, m.top+rows)
	}
	if !strings.Contains(m.View(), "> ") {
		t.Error("cursor marker not rendered")
	}

	m, _ = press(m, "g", "g")
	if m.cursor != 0 || m.top != 0 {
		t.Errorf("after gg cursor=%d top=%d, want 0 0", m.cursor, m.top)
	}
}

func TestFilter(t *testing.T) {
	m, _ := newTestModel(t, 120, 40,
		config.Exchange{Name: "gamma", Type: "topic"},
		config.Exchange{Name: "alpha", Type: "topic"},
		config.Exchange{Name: "beta", Type: "topic", Alias: "Beta Orders"},
	)

	names := func(m model) []string {
		var out []string
		for _, ex := range m.visible() {
			out = append(out, ex.DisplayName())
		}
		return out
	}

	if got := names(m); strings.Join(got, ",") != "Beta Orders,alpha,gamma" {
		t.Fatalf("unfiltered = %v", got)
	}

	m, _ = press(m, "/", "o", "R")
	if got := names(m); len(got) != 1 || got[0] != "Beta Orders" {
		t.Errorf("filter 'oR' = %v, want [Beta Orders]", got)
	}

	m, _ = press(m, "enter")
	if m.filtering || m.filter != "oR" {
		t.Errorf("after enter filtering=%v filter=%q, want kept filter", m.filtering, m.filter)
	}

	m, _ = press(m, "f", "esc")
	if m.filter != "" || len(m.visible()) != 3 {
		t.Errorf("after esc filter=%q visible=%d, want cleared", m.filter, len(m.visible()))
	}
	if m.quitting {
		t.Error("esc inside the filter must not quit")
	}
}

func TestEditor_CommitReplacesAndSaves(t *testing.T) {
	m, _ := newTestModel(t, 120, 40, config.Exchange{Name: "orders", Type: "topic", RoutingKey: "#"})
	id := m.reg.All()[0].ID

	// alias is the fourth field
	m, _ = press(m, "e", "j", "j", "j", "e", "o", "r", "d", "enter")
	if m.editor == nil {
		t.Fatal("editor closed before commit")
	}
	if got, _ := m.reg.Get(id); got.Alias != "" {
		t.Fatal("registry changed before commit")
	}

	m, _ = press(m, "enter")
	if m.editor != nil {
		t.Fatal("editor still open after commit")
	}
	ex, _ := m.reg.Get(id)
	if ex.Alias != "ord" {
		t.Errorf("alias = %q, want %q", ex.Alias, "ord")
	}

	saved, err := config.Load(m.cfg.Path())
	if err != nil {
		t.Fatal(err)
	}
	if len(saved.Exchanges) != 1 || saved.Exchanges[0].Alias != "ord" {
		t.Errorf("saved exchanges = %+v, want alias ord", saved.Exchanges)
	}
}

func TestEditor_ToggleAndChoice(t *testing.T) {
	m, _ := newTestModel(t, 120, 40, config.Exchange{Name: "orders", Type: "topic"})
	id := m.reg.All()[0].ID

	// exchange_type: topic -> headers
	m, _ = press(m, "e", "j", "e", "l", "enter")
	// pretty: false -> true
	m, _ = press(m, "j", "j", "j", "e", "enter")

	ex, _ := m.reg.Get(id)
	if ex.Kind != registry.Headers {
		t.Errorf("kind = %q, want headers", ex.Kind)
	}
	if !ex.Pretty {
		t.Error("pretty not toggled")
	}
}

func TestEditor_EscDiscards(t *testing.T) {
	m, _ := newTestModel(t, 120, 40, config.Exchange{Name: "orders", Type: "topic"})
	id := m.reg.All()[0].ID

	m, _ = press(m, "e", "j", "j", "j", "j", "e", "esc")
	if m.editor != nil {
		t.Fatal("editor still open after esc")
	}
	if ex, _ := m.reg.Get(id); ex.Pretty {
		t.Error("discarded edit reached the registry")
	}
	if m.quitting {
		t.Error("esc in the editor must not quit")
	}
}

func TestResize_Clamps(t *testing.T) {
	m, _ := newTestModel(t, 120, 40)

	for range 30 {
		m, _ = press(m, "H")
	}
	if m.splitRatio < minSplit-1e-9 || m.splitRatio > minSplit+1e-9 {
		t.Errorf("ratio = %v, want %v", m.splitRatio, minSplit)
	}

	for range 30 {
		m, _ = press(m, "L")
	}
	if m.splitRatio < maxSplit-1e-9 || m.splitRatio > maxSplit+1e-9 {
		t.Errorf("ratio = %v, want %v", m.splitRatio, maxSplit)
	}
	if m.cfg.UI.SplitRatio != m.splitRatio {
		t.Errorf("config ratio = %v, want %v", m.cfg.UI.SplitRatio, m.splitRatio)
	}
}

func TestLogsPaneToggle(t *testing.T) {
	m, _ := newTestModel(t, 120, 40)
	before := m.contentHeight

	m, _ = press(m, "l")
	if !m.showLogs || m.contentHeight >= before {
		t.Errorf("showLogs=%v contentHeight=%d (was %d)", m.showLogs, m.contentHeight, before)
	}

	updated, _ := m.Update(logMsg{entry: LogEntry{Time: time.Now(), Level: logrus.InfoLevel, Message: "Queue Created: burrow.orders"}})
	m = updated.(model)
	if !strings.Contains(m.View(), "Queue Created: burrow.orders") {
		t.Error("log entry not shown in the logs pane")
	}
}

func TestQuit_ShutsDownFlushesAndSaves(t *testing.T) {
	m, engine := newTestModel(t, 120, 40, config.Exchange{Name: "orders", Type: "topic"})
	logFile := filepath.Join(t.TempDir(), "orders.log")
	m.pipeline.Batcher.Add(logFile, "pending line")
	m.splitRatio = 0.5

	m, cmd := press(m, "q")
	if !m.quitting || cmd == nil {
		t.Fatal("q did not start shutdown")
	}
	if !engine.pause.Paused() {
		t.Error("ingest should be paused during shutdown")
	}

	msg := cmd()
	if _, ok := msg.(shutdownMsg); !ok {
		t.Fatalf("cmd() = %#v, want shutdownMsg", msg)
	}
	if engine.shutdowns != 1 {
		t.Errorf("shutdowns = %d, want 1", engine.shutdowns)
	}

	_, cmd = m.Update(msg)
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected tea.QuitMsg")
	}

	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("log file: %v", err)
	}
	if string(data) != "pending line\n" {
		t.Errorf("log file = %q", data)
	}

	saved, err := config.Load(m.cfg.Path())
	if err != nil {
		t.Fatal(err)
	}
	if saved.UI.SplitRatio != 0.5 {
		t.Errorf("saved split ratio = %v, want 0.5", saved.UI.SplitRatio)
	}
}

func TestPublishCmd(t *testing.T) {
	engine := newFakeEngine()
	sub := rabbitmq.Subscription{Exchange: "orders", RoutingKey: "order.created"}

	msg := publishCmd(engine, sub, "")().(publishedMsg)
	if !errors.Is(msg.err, ErrNoPublishFile) {
		t.Errorf("err = %v, want ErrNoPublishFile", msg.err)
	}

	msg = publishCmd(engine, sub, filepath.Join(t.TempDir(), "missing.json"))().(publishedMsg)
	if msg.err == nil {
		t.Error("expected an error for a missing publish file")
	}

	path := filepath.Join(t.TempDir(), "order.json")
	if err := os.WriteFile(path, []byte(`{"id":1}`), 0644); err != nil {
		t.Fatal(err)
	}
	msg = publishCmd(engine, sub, path)().(publishedMsg)
	if msg.err != nil {
		t.Fatalf("publish: %v", msg.err)
	}
	if got := string(engine.published["orders"]); got != `{"id":1}` {
		t.Errorf("published = %q", got)
	}
}

func TestWaitForEvents_ClosedQueue(t *testing.T) {
	q := ingest.NewQueue()
	q.Close()
	if _, ok := waitForEvents(context.Background(), q)().(queueClosedMsg); !ok {
		t.Error("expected queueClosedMsg from a closed queue")
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"this is too long", 10, "this is..."},
		{"ünïcödé-name", 8, "ünïcö..."},
		{"tiny", 3, "tiny"},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.max); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}

func TestClip(t *testing.T) {
	styled := logErrorStyle.Render("ERRO") + " something went wrong"
	got := clip(styled, 8)
	if !strings.Contains(got, "ERRO") {
		t.Errorf("clip dropped the styled prefix: %q", got)
	}
	if strings.Contains(got, "wrong") {
		t.Errorf("clip(%q, 8) kept text past the width: %q", styled, got)
	}
	if clip("abc", 0) != "abc" {
		t.Error("non-positive width should leave the line alone")
	}
}

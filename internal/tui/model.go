package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/bep/debounce"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/epalmerini/burrow/internal/buffer"
	"github.com/epalmerini/burrow/internal/config"
	"github.com/epalmerini/burrow/internal/ingest"
	"github.com/epalmerini/burrow/internal/rabbitmq"
	"github.com/epalmerini/burrow/internal/registry"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	eventBatch      = 256
	autosaveDelay   = 2 * time.Second
	statusDuration  = 3 * time.Second
	publishTimeout  = 5 * time.Second
	shutdownTimeout = 10 * time.Second

	minSplit  = 0.15
	maxSplit  = 0.85
	splitStep = 0.05
)

// Engine is what the UI needs from the subscription engine.
type Engine interface {
	Toggle(sub rabbitmq.Subscription) (bool, error)
	Active(id uuid.UUID) bool
	Publish(ctx context.Context, sub rabbitmq.Subscription, payload []byte) error
	Shutdown(ctx context.Context) error
	Pause() *rabbitmq.PauseFlag
}

type focus int

const (
	focusSelector focus = iota
	focusMessages
)

var (
	keyAccept    = key.NewBinding(key.WithKeys("enter"))
	keyCancel    = key.NewBinding(key.WithKeys("esc"))
	keyForceQuit = key.NewBinding(key.WithKeys("ctrl+c"))
	keyCloseHelp = key.NewBinding(key.WithKeys("?", "esc", "q"))
)

type model struct {
	cfg      *config.FileConfig
	reg      *registry.Registry
	engine   Engine
	queue    *ingest.Queue
	pipeline *ingest.Pipeline
	hook     *LogHook
	log      logrus.FieldLogger
	host     string

	ctx    context.Context
	cancel context.CancelFunc

	window  buffer.Window
	vimKeys VimKeyState
	logs    logsPane
	editor  *editor
	spinner spinner.Model

	// Selector
	cursor      int
	top         int
	filter      string
	filtering   bool
	filterInput textinput.Model

	focus      focus
	showLogs   bool
	showHelp   bool
	splitRatio float64

	width, height int
	contentHeight int
	selectorWidth int

	statusMsg     string
	statusErr     bool
	statusMsgTime time.Time

	autosave func(func())
	lastTick time.Time
	quitting bool
}

// Tea messages
type eventsMsg struct {
	events []ingest.Event
}

type queueClosedMsg struct{}

type logMsg struct {
	entry LogEntry
}

type tickMsg time.Time

type publishedMsg struct {
	exchange string
	err      error
}

type shutdownMsg struct {
	err error
}

type clearStatusMsg struct{}

func newModel(opts Options) model {
	fi := textinput.New()
	fi.Placeholder = "exchange name..."
	fi.CharLimit = 100
	fi.Width = 30
	fi.Prompt = "Filter: "

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = pendingStyle

	ctx, cancel := context.WithCancel(context.Background())

	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}

	return model{
		cfg:         opts.Config,
		reg:         opts.Registry,
		engine:      opts.Engine,
		queue:       opts.Queue,
		pipeline:    opts.Pipeline,
		hook:        opts.Hook,
		log:         log,
		host:        opts.Host,
		ctx:         ctx,
		cancel:      cancel,
		spinner:     sp,
		filterInput: fi,
		vimKeys:     NewVimKeyState(),
		showLogs:    opts.Config.UI.ShowLogs,
		splitRatio:  opts.Config.SplitRatio(),
		autosave:    debounce.New(autosaveDelay),
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		waitForEvents(m.ctx, m.queue),
		waitForLog(m.hook),
		tick(m.cfg.TickInterval()),
		m.spinner.Tick,
	)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.layout()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case eventsMsg:
		res := m.pipeline.Handle(msg.events)
		if res.StateChanged {
			m.clampCursor()
		}
		return m, waitForEvents(m.ctx, m.queue)

	case queueClosedMsg:
		return m, nil

	case logMsg:
		m.logs.append(msg.entry)
		return m, waitForLog(m.hook)

	case tickMsg:
		now := time.Time(msg)
		elapsed := m.cfg.TickInterval()
		if !m.lastTick.IsZero() {
			elapsed = now.Sub(m.lastTick)
		}
		m.lastTick = now
		m.pipeline.Tick(elapsed)
		return m, tick(m.cfg.TickInterval())

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case publishedMsg:
		if msg.err != nil {
			m.log.WithError(msg.err).WithField("exchange", msg.exchange).Error("Publish failed")
			cmd := m.setStatus("Publish failed: "+msg.err.Error(), true)
			return m, cmd
		}
		cmd := m.setStatus("Published to "+msg.exchange, false)
		return m, cmd

	case shutdownMsg:
		if msg.err != nil {
			m.log.WithError(msg.err).Warn("Shutdown incomplete")
		}
		if err := m.pipeline.Close(); err != nil {
			m.log.WithError(err).Error("Error logging to file")
		}
		m.saveConfig()
		m.cancel()
		return m, tea.Quit

	case clearStatusMsg:
		if time.Since(m.statusMsgTime) >= statusDuration {
			m.statusMsg = ""
		}
		return m, nil
	}

	return m, nil
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.quitting {
		if key.Matches(msg, keyForceQuit) {
			m.cancel()
			return m, tea.Quit
		}
		return m, nil
	}

	if m.showHelp {
		if key.Matches(msg, keyCloseHelp) {
			m.showHelp = false
		}
		return m, nil
	}

	if m.editor != nil {
		return m.handleEditorKey(msg)
	}

	if m.filtering {
		return m.handleFilterKey(msg)
	}

	res := m.vimKeys.ProcessKey(msg.String())
	switch res.Action {
	case actionMoveDown:
		if m.scrolling() {
			for range res.Count {
				m.window.ScrollDown(m.pipeline.Lines.Len())
			}
		} else {
			m.moveCursor(res.Count)
		}
	case actionMoveUp:
		if m.scrolling() {
			for range res.Count {
				m.window.ScrollUp(m.pipeline.Lines.Len())
			}
		} else {
			m.moveCursor(-res.Count)
		}
	case actionGoTop:
		m.cursor = 0
		m.clampCursor()
	case actionGoBottom:
		m.cursor = len(m.visible()) - 1
		m.clampCursor()
	case actionPageUp:
		m.window.PageUp(m.pipeline.Lines.Len())
	case actionPageDown:
		m.window.PageDown(m.pipeline.Lines.Len())
	case actionToggle:
		cmd := m.toggleSelected()
		return m, cmd
	case actionFilter:
		m.filtering = true
		m.filterInput.SetValue(m.filter)
		m.filterInput.CursorEnd()
		cmd := m.filterInput.Focus()
		return m, cmd
	case actionEdit:
		if ex := m.selected(); ex != nil {
			m.editor = newEditor(*ex)
			m.editor.setWidth(m.width - 4)
		}
	case actionPublish:
		if ex := m.selected(); ex != nil {
			return m, publishCmd(m.engine, subscriptionFor(ex), ex.PublishFile)
		}
	case actionPause:
		m.setPaused(m.engine.Pause().Toggle())
	case actionLogs:
		m.showLogs = !m.showLogs
		m.layout()
	case actionFocus:
		if m.focus == focusSelector {
			m.focus = focusMessages
		} else {
			m.focus = focusSelector
		}
	case actionSave:
		m.saveConfig()
		cmd := m.setStatus("Config saved", false)
		return m, cmd
	case actionYank:
		cmd := m.yank()
		return m, cmd
	case actionClear:
		m.pipeline.Lines.Clear()
	case actionResizeLeft:
		m.resize(-splitStep)
	case actionResizeRight:
		m.resize(splitStep)
	case actionHelp:
		m.showHelp = true
	case actionQuit:
		return m.beginShutdown()
	}
	return m, nil
}

func (m model) handleFilterKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keyAccept):
		m.filtering = false
		m.filterInput.Blur()
		return m, nil
	case key.Matches(msg, keyCancel):
		m.filtering = false
		m.filterInput.Blur()
		m.filterInput.SetValue("")
		m.filter = ""
		m.clampCursor()
		return m, nil
	}
	var cmd tea.Cmd
	m.filterInput, cmd = m.filterInput.Update(msg)
	if v := m.filterInput.Value(); v != m.filter {
		m.filter = v
		m.cursor = 0
		m.clampCursor()
	}
	return m, cmd
}

func (m model) handleEditorKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	result, cmd := m.editor.update(msg)
	switch result {
	case editorCommit:
		draft := m.editor.draft
		m.editor = nil
		if err := m.reg.Replace(draft); err != nil {
			m.log.WithError(err).Error("Options not applied")
			cmd := m.setStatus(err.Error(), true)
			return m, cmd
		}
		m.log.WithField("exchange", draft.Name).Info("Exchange options updated")
		m.clampCursor()
		m.scheduleSave()
		return m, nil
	case editorCancel:
		m.editor = nil
		return m, nil
	}
	return m, cmd
}

// toggleSelected flips the subscription of the exchange under the cursor.
// The engine and the registry state change together on this goroutine.
func (m *model) toggleSelected() tea.Cmd {
	ex := m.selected()
	if ex == nil {
		return nil
	}
	started, err := m.engine.Toggle(subscriptionFor(ex))
	if err != nil {
		m.log.WithError(err).WithField("exchange", ex.Name).Error("Subscribe failed")
		_ = m.reg.SetState(ex.ID, registry.Unselected)
		return m.setStatus("Subscribe failed: "+err.Error(), true)
	}
	if started {
		// The previous worker may have ended on its own with its Stop still
		// queued, leaving a stale state behind. Reset before going pending.
		if ex.State != registry.Unselected {
			m.setState(ex, registry.Unselected)
		}
		m.setState(ex, registry.PendingSubscription)
		return nil
	}
	// The worker deletes its own queue on the way out.
	m.setState(ex, registry.Unselected)
	return nil
}

func (m *model) setState(ex *registry.Exchange, to registry.State) {
	if err := m.reg.SetState(ex.ID, to); err != nil {
		m.log.WithError(err).WithField("exchange", ex.Name).Warn("Unexpected selection state")
	}
}

func (m *model) setPaused(paused bool) {
	m.log.Infof("PAUSED: %v", paused)
	if paused {
		m.window.SetMode(buffer.Scroll)
		m.focus = focusMessages
	} else {
		m.window.SetMode(buffer.Normal)
		m.focus = focusSelector
	}
}

func (m model) scrolling() bool {
	return m.focus == focusMessages && m.window.Mode() == buffer.Scroll
}

func (m *model) yank() tea.Cmd {
	lines := m.window.View(m.pipeline.Lines)
	if len(lines) == 0 {
		return m.setStatus("Nothing to copy", true)
	}
	if err := clipboard.WriteAll(strings.Join(lines, "\n")); err != nil {
		return m.setStatus("Copy failed: "+err.Error(), true)
	}
	return m.setStatus(fmt.Sprintf("Copied %d lines", len(lines)), false)
}

func (m *model) resize(delta float64) {
	r := m.splitRatio + delta
	r = min(max(r, minSplit), maxSplit)
	// Keep the ratio on the step grid so repeated presses land on round values.
	m.splitRatio = float64(int(r/splitStep+0.5)) * splitStep
	m.layout()
	m.scheduleSave()
}

func (m model) beginShutdown() (tea.Model, tea.Cmd) {
	m.quitting = true
	m.engine.Pause().Set(true)
	return m, shutdownCmd(m.engine)
}

func (m *model) syncConfig() {
	m.cfg.Exchanges = m.reg.Entries()
	m.cfg.UI.SplitRatio = m.splitRatio
	m.cfg.UI.ShowLogs = m.showLogs
}

func (m *model) saveConfig() {
	m.syncConfig()
	if err := m.cfg.Save(); err != nil {
		m.log.WithError(err).WithField("path", m.cfg.Path()).Error("Config save failed")
		return
	}
	m.log.Infof("Config File Saved: %s", m.cfg.Path())
}

// scheduleSave writes a snapshot of the config once edits settle.
func (m *model) scheduleSave() {
	m.syncConfig()
	snapshot := *m.cfg
	log := m.log
	m.autosave(func() {
		if err := snapshot.Save(); err != nil {
			log.WithError(err).WithField("path", snapshot.Path()).Error("Config save failed")
			return
		}
		log.Debugf("Config File Saved: %s", snapshot.Path())
	})
}

func (m *model) setStatus(msg string, isErr bool) tea.Cmd {
	m.statusMsg = msg
	m.statusErr = isErr
	m.statusMsgTime = time.Now()
	return tea.Tick(statusDuration, func(_ time.Time) tea.Msg {
		return clearStatusMsg{}
	})
}

// Selector

func (m model) visible() []*registry.Exchange {
	return m.reg.Filter(m.filter)
}

func (m model) selected() *registry.Exchange {
	items := m.visible()
	if m.cursor < 0 || m.cursor >= len(items) {
		return nil
	}
	return items[m.cursor]
}

func (m *model) moveCursor(delta int) {
	m.cursor += delta
	m.clampCursor()
}

// clampCursor keeps the cursor on a visible row and scrolls the list so the
// cursor row is on screen.
func (m *model) clampCursor() {
	n := len(m.visible())
	m.cursor = min(max(m.cursor, 0), max(n-1, 0))

	rows := m.selectorRows()
	if m.cursor < m.top {
		m.top = m.cursor
	}
	if rows > 0 && m.cursor >= m.top+rows {
		m.top = m.cursor - rows + 1
	}
	m.top = min(max(m.top, 0), max(n-rows, 0))
}

func (m model) selectorRows() int {
	rows := m.contentHeight - 3
	if m.filtering || m.filter != "" {
		rows--
	}
	return max(rows, 1)
}

func (m *model) layout() {
	if m.width == 0 || m.height == 0 {
		return
	}
	// header, status bar, help bar
	content := m.height - 3
	logsHeight := 0
	if m.showLogs {
		logsHeight = max(content/3, 4)
		content -= logsHeight
	}
	m.contentHeight = max(content, 4)

	m.selectorWidth = max(int(float64(m.width)*m.splitRatio), 20)
	messagesWidth := max(m.width-m.selectorWidth, 20)

	// border (2) and title (1)
	m.window.SetHeight(m.contentHeight - 3)
	m.pipeline.SetWidth(messagesWidth - 2)
	if m.showLogs {
		m.logs.setSize(m.width-2, logsHeight-2)
	}
	if m.editor != nil {
		m.editor.setWidth(m.width - 4)
	}
	m.clampCursor()
}

func subscriptionFor(ex *registry.Exchange) rabbitmq.Subscription {
	return rabbitmq.Subscription{
		ID:         ex.ID,
		Exchange:   ex.Name,
		Kind:       string(ex.Kind),
		RoutingKey: ex.RoutingKey,
	}
}

// View

func (m model) View() string {
	if m.width == 0 {
		return m.spinner.View() + " Loading..."
	}
	if m.showHelp {
		return renderHelpOverlay(m.width, m.height)
	}

	header := headerStyle.Width(m.width - 2).Render("burrow")
	status := m.renderStatusBar()

	var content string
	if m.editor != nil {
		content = lipgloss.Place(m.width, m.contentHeight, lipgloss.Center, lipgloss.Top,
			focusedPaneStyle.Padding(0, 1).Render(m.editor.view()))
	} else {
		selector := m.renderSelector(m.selectorWidth, m.contentHeight)
		messages := m.renderMessages(m.width-m.selectorWidth, m.contentHeight)
		content = lipgloss.JoinHorizontal(lipgloss.Top, selector, messages)
	}

	parts := []string{header, status, content}
	if m.showLogs {
		parts = append(parts, paneStyle.Render(m.logs.view()))
	}
	parts = append(parts, m.renderHelpBar())
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (m model) renderStatusBar() string {
	conn := connectedStyle.Render("● " + m.host)

	var subscribed, pending int
	for _, ex := range m.reg.All() {
		switch ex.State {
		case registry.Subscribed:
			subscribed++
		case registry.PendingSubscription:
			pending++
		}
	}
	counts := statusBarStyle.Render(fmt.Sprintf("Subscribed: %d/%d", subscribed, m.reg.Len()))
	if pending > 0 {
		counts += " " + m.spinner.View() + pendingStyle.Render(fmt.Sprintf("%d pending", pending))
	}

	lines := statusBarStyle.Render(fmt.Sprintf("Lines: %d", m.pipeline.Lines.Len()))

	paused := ""
	if m.engine.Pause().Paused() {
		paused = pausedStyle.Render(" [PAUSED]")
	}

	pendingKeys := ""
	if p := m.vimKeys.Pending(); p != "" {
		pendingKeys = statusBarStyle.Render(" " + p)
	}

	msg := ""
	if m.statusMsg != "" && time.Since(m.statusMsgTime) < statusDuration {
		if m.statusErr {
			msg = "  " + errorMsgStyle.Render(m.statusMsg)
		} else {
			msg = "  " + statusMsgStyle.Render(m.statusMsg)
		}
	}

	return lipgloss.JoinHorizontal(lipgloss.Left,
		conn, paused, pendingKeys, "  │  ", counts, "  │  ", lines, msg)
}

func (m model) renderSelector(width, height int) string {
	style := paneStyle
	if m.focus == focusSelector {
		style = focusedPaneStyle
	}
	inner := width - 2

	items := m.visible()
	var lines []string
	lines = append(lines, paneTitleStyle.Render(fmt.Sprintf("Exchanges (%d)", len(items))))
	if m.filtering {
		lines = append(lines, clip(m.filterInput.View(), inner))
	} else if m.filter != "" {
		lines = append(lines, helpStyle.Render(truncate("/"+m.filter, inner)))
	}

	rows := m.selectorRows()
	end := min(m.top+rows, len(items))
	for i := m.top; i < end; i++ {
		lines = append(lines, renderExchangeRow(items[i], i == m.cursor, inner))
	}

	return style.Width(inner).Height(height - 2).Render(strings.Join(lines, "\n"))
}

func renderExchangeRow(ex *registry.Exchange, isCursor bool, width int) string {
	var glyph string
	var style lipgloss.Style
	switch ex.State {
	case registry.Subscribed:
		glyph, style = "●", subscribedStyle
	case registry.PendingSubscription:
		glyph, style = "◐", pendingStyle
	default:
		glyph, style = "○", unselectedStyle
	}

	marker := "  "
	if isCursor {
		marker = cursorStyle.Render("> ")
	}
	name := truncate(ex.DisplayName(), max(width-4, 4))
	return marker + style.Render(glyph+" "+name)
}

func (m model) renderMessages(width, height int) string {
	style := paneStyle
	if m.focus == focusMessages {
		style = focusedPaneStyle
	}
	inner := width - 2
	total := m.pipeline.Lines.Len()

	title := paneTitleStyle.Render("Messages")
	if m.window.Mode() == buffer.Scroll {
		title += pausedStyle.Render(fmt.Sprintf(" [SCROLL -%d]", m.window.Offset(total)))
	}

	visible := m.window.View(m.pipeline.Lines)
	lines := make([]string, 0, len(visible)+1)
	lines = append(lines, title)
	afterSeparator := false
	for _, l := range visible {
		switch {
		case isSeparator(l):
			l = separatorStyle.Render(l)
			afterSeparator = true
		case afterSeparator:
			l = headerLineStyle.Render(l)
			afterSeparator = false
		}
		lines = append(lines, clip(l, inner))
	}

	return style.Width(inner).Height(height - 2).Render(strings.Join(lines, "\n"))
}

func isSeparator(l string) bool {
	return l != "" && strings.Trim(l, "-") == ""
}

func (m model) renderHelpBar() string {
	if m.filtering {
		return renderHelp([][2]string{{"enter", "keep filter"}, {"esc", "clear"}})
	}
	return renderHelp([][2]string{
		{"j/k", "nav"},
		{"enter", "toggle"},
		{"/", "filter"},
		{"e", "edit"},
		{"n", "publish"},
		{"p", "pause"},
		{"l", "logs"},
		{"s", "save"},
		{"?", "help"},
		{"q", "quit"},
	})
}

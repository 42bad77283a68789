package tui

import (
	"slices"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/epalmerini/burrow/internal/registry"
	"github.com/evertras/bubble-table/table"
)

const (
	colKeyField = "field"
	colKeyValue = "value"
)

type editorState int

const (
	editorBrowse editorState = iota
	editorString
	editorChoice
)

type editorResult int

const (
	editorContinue editorResult = iota
	editorCommit
	editorCancel
)

// editor edits a copy of one exchange. Nothing reaches the registry until
// the copy is committed.
type editor struct {
	draft  registry.Exchange
	table  table.Model
	row    int
	state  editorState
	input  textinput.Model
	choice int
	err    string
}

func newEditor(ex registry.Exchange) *editor {
	in := textinput.New()
	in.CharLimit = 256
	in.Prompt = "> "

	e := &editor{draft: ex, input: in}
	e.table = table.New([]table.Column{
		table.NewColumn(colKeyField, "Option", 20),
		table.NewFlexColumn(colKeyValue, "Value", 1),
	}).
		WithBaseStyle(tableRowStyle).
		BorderRounded().
		HeaderStyle(tableHeaderStyle).
		HighlightStyle(tableCursorStyle).
		Focused(true).
		WithPageSize(len(registry.Fields)).
		WithFooterVisibility(false)
	e.refresh()
	return e
}

func (e *editor) field() registry.Field { return registry.Fields[e.row] }

func (e *editor) refresh() {
	rows := make([]table.Row, 0, len(registry.Fields))
	for _, f := range registry.Fields {
		rows = append(rows, table.NewRow(table.RowData{
			colKeyField: f.Name,
			colKeyValue: f.Get(&e.draft),
		}))
	}
	e.table = e.table.WithRows(rows).WithHighlightedRow(e.row)
}

func (e *editor) setWidth(width int) {
	e.table = e.table.WithTargetWidth(width)
	e.input.Width = max(width-4, 10)
}

func (e *editor) update(msg tea.KeyMsg) (editorResult, tea.Cmd) {
	switch e.state {
	case editorString:
		return e.updateString(msg)
	case editorChoice:
		return e.updateChoice(msg)
	}

	switch msg.String() {
	case "j", "down":
		e.row = min(e.row+1, len(registry.Fields)-1)
	case "k", "up":
		e.row = max(e.row-1, 0)
	case "e":
		return editorContinue, e.beginEdit()
	case "enter":
		return editorCommit, nil
	case "esc", "q":
		return editorCancel, nil
	}
	e.refresh()
	return editorContinue, nil
}

func (e *editor) beginEdit() tea.Cmd {
	e.err = ""
	f := e.field()
	switch f.Kind {
	case registry.EditToggle:
		if err := f.Toggle(&e.draft); err != nil {
			e.err = err.Error()
		}
		e.refresh()
		return nil
	case registry.EditChoice:
		e.choice = max(slices.Index(f.Choices, f.Get(&e.draft)), 0)
		e.state = editorChoice
		return nil
	default:
		e.input.SetValue(f.Get(&e.draft))
		e.input.CursorEnd()
		e.state = editorString
		return e.input.Focus()
	}
}

func (e *editor) updateString(msg tea.KeyMsg) (editorResult, tea.Cmd) {
	switch msg.String() {
	case "enter":
		if err := e.field().Set(&e.draft, strings.TrimSpace(e.input.Value())); err != nil {
			e.err = err.Error()
			return editorContinue, nil
		}
		e.err = ""
		e.input.Blur()
		e.state = editorBrowse
		e.refresh()
		return editorContinue, nil
	case "esc":
		e.input.Blur()
		e.state = editorBrowse
		return editorContinue, nil
	}
	var cmd tea.Cmd
	e.input, cmd = e.input.Update(msg)
	return editorContinue, cmd
}

func (e *editor) updateChoice(msg tea.KeyMsg) (editorResult, tea.Cmd) {
	choices := e.field().Choices
	switch msg.String() {
	case "left", "h", "up", "k":
		e.choice = (e.choice - 1 + len(choices)) % len(choices)
	case "right", "l", "down", "j", "tab":
		e.choice = (e.choice + 1) % len(choices)
	case "enter":
		if err := e.field().Set(&e.draft, choices[e.choice]); err != nil {
			e.err = err.Error()
		}
		e.state = editorBrowse
		e.refresh()
	case "esc":
		e.state = editorBrowse
	}
	return editorContinue, nil
}

func (e *editor) view() string {
	var sb strings.Builder
	sb.WriteString(paneTitleStyle.Render("Options: " + e.draft.DisplayName()))
	sb.WriteString("\n")
	sb.WriteString(e.table.View())
	sb.WriteString("\n")

	switch e.state {
	case editorString:
		sb.WriteString(e.field().Name + "\n")
		sb.WriteString(e.input.View())
	case editorChoice:
		var opts []string
		for i, c := range e.field().Choices {
			if i == e.choice {
				opts = append(opts, activeChoiceStyle.Render("["+c+"]"))
			} else {
				opts = append(opts, choiceStyle.Render(c))
			}
		}
		sb.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, opts...))
	default:
		sb.WriteString(renderHelp([][2]string{
			{"j/k", "move"}, {"e", "edit field"}, {"enter", "apply"}, {"esc", "discard"},
		}))
	}

	if e.err != "" {
		sb.WriteString("\n" + errorMsgStyle.Render(e.err))
	}
	return sb.String()
}

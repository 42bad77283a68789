package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	"github.com/sirupsen/logrus"
)

const maxLogLines = 1000

// logsPane shows the operator log, newest at the bottom.
type logsPane struct {
	viewport viewport.Model
	entries  []LogEntry
	ready    bool
}

func (p *logsPane) setSize(width, height int) {
	if !p.ready {
		p.viewport = viewport.New(width, height)
		p.ready = true
	} else {
		p.viewport.Width = width
		p.viewport.Height = height
	}
	p.refresh()
}

func (p *logsPane) append(e LogEntry) {
	p.entries = append(p.entries, e)
	if len(p.entries) > maxLogLines {
		p.entries = p.entries[len(p.entries)-maxLogLines:]
	}
	p.refresh()
}

func (p *logsPane) refresh() {
	if !p.ready {
		return
	}
	lines := make([]string, len(p.entries))
	for i, e := range p.entries {
		lines[i] = clip(formatLogEntry(e), p.viewport.Width)
	}
	p.viewport.SetContent(strings.Join(lines, "\n"))
	p.viewport.GotoBottom()
}

func (p *logsPane) view() string {
	if !p.ready {
		return ""
	}
	return p.viewport.View()
}

func formatLogEntry(e LogEntry) string {
	var levelStyled string
	switch e.Level {
	case logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel:
		levelStyled = logErrorStyle.Render("ERRO")
	case logrus.WarnLevel:
		levelStyled = logWarnStyle.Render("WARN")
	case logrus.DebugLevel, logrus.TraceLevel:
		levelStyled = logDebugStyle.Render("DEBU")
	default:
		levelStyled = logInfoStyle.Render("INFO")
	}

	msg := e.Message
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var sb strings.Builder
		for _, k := range keys {
			fmt.Fprintf(&sb, " %s=%v", k, e.Fields[k])
		}
		msg += logDebugStyle.Render(sb.String())
	}

	return fmt.Sprintf("%s %s %s", logTimeStyle.Render(e.Time.Format("15:04:05")), levelStyled, msg)
}

package tui

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/epalmerini/burrow/internal/ingest"
	"github.com/epalmerini/burrow/internal/rabbitmq"
)

var ErrNoPublishFile = errors.New("no publish file configured for this exchange")

func waitForEvents(ctx context.Context, q *ingest.Queue) tea.Cmd {
	if q == nil {
		return nil
	}
	return func() tea.Msg {
		events, err := q.Next(ctx, eventBatch)
		if err != nil {
			return queueClosedMsg{}
		}
		return eventsMsg{events: events}
	}
}

func waitForLog(h *LogHook) tea.Cmd {
	if h == nil {
		return nil
	}
	return func() tea.Msg {
		return logMsg{entry: <-h.Entries()}
	}
}

func tick(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func publishCmd(engine Engine, sub rabbitmq.Subscription, path string) tea.Cmd {
	return func() tea.Msg {
		if path == "" {
			return publishedMsg{exchange: sub.Exchange, err: ErrNoPublishFile}
		}
		payload, err := os.ReadFile(path)
		if err != nil {
			return publishedMsg{exchange: sub.Exchange, err: fmt.Errorf("reading publish file: %w", err)}
		}
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		return publishedMsg{exchange: sub.Exchange, err: engine.Publish(ctx, sub, payload)}
	}
}

func shutdownCmd(engine Engine) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return shutdownMsg{err: engine.Shutdown(ctx)}
	}
}

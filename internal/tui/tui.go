package tui

import (
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/epalmerini/burrow/internal/config"
	"github.com/epalmerini/burrow/internal/ingest"
	"github.com/epalmerini/burrow/internal/registry"
	"github.com/sirupsen/logrus"
)

// Options wires the UI to an already connected session. The pipeline must
// not be driven by anything else while Run is active.
type Options struct {
	Config   *config.FileConfig
	Registry *registry.Registry
	Engine   Engine
	Queue    *ingest.Queue
	Pipeline *ingest.Pipeline
	Hook     *LogHook
	Log      logrus.FieldLogger
	// Host is shown in the status bar.
	Host string
}

func (o Options) validate() error {
	switch {
	case o.Config == nil:
		return errors.New("tui: config is required")
	case o.Registry == nil:
		return errors.New("tui: registry is required")
	case o.Engine == nil:
		return errors.New("tui: engine is required")
	case o.Pipeline == nil || o.Pipeline.Lines == nil:
		return errors.New("tui: pipeline is required")
	}
	return nil
}

// Run blocks until the user quits and session teardown has finished.
func Run(opts Options) error {
	if err := opts.validate(); err != nil {
		return err
	}

	p := tea.NewProgram(newModel(opts), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("error running program: %w", err)
	}
	return nil
}

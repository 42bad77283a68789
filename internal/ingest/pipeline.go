package ingest

import (
	"strings"
	"time"

	"github.com/epalmerini/burrow/internal/buffer"
	"github.com/epalmerini/burrow/internal/db"
	"github.com/epalmerini/burrow/internal/filelog"
	"github.com/epalmerini/burrow/internal/proto"
	"github.com/epalmerini/burrow/internal/rabbitmq"
	"github.com/epalmerini/burrow/internal/registry"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Workers reports whether a worker is registered for an exchange.
type Workers interface {
	Active(id uuid.UUID) bool
}

// Archive persists deliveries without blocking.
type Archive interface {
	Save(*db.MessageRecord) bool
}

// Pipeline is the single consumer of the ingest queue. It is the only writer
// of the line buffer, the registry selection state and the batcher, and must
// be driven from one goroutine.
type Pipeline struct {
	Registry *registry.Registry
	Lines    *buffer.Lines
	Batcher  *filelog.Batcher
	Workers  Workers
	Log      logrus.FieldLogger

	// Optional.
	Archive Archive
	Decoder *proto.Decoder

	width int
}

// Result summarises what one Handle call changed.
type Result struct {
	Lines        int
	StateChanged bool
}

// SetWidth sets the separator width, normally the messages pane width.
func (p *Pipeline) SetWidth(w int) { p.width = w }

// Handle applies a batch of events in order.
func (p *Pipeline) Handle(events []Event) Result {
	var res Result
	for _, ev := range events {
		switch {
		case ev.Delivery != nil:
			n, changed := p.deliver(*ev.Delivery)
			res.Lines += n
			res.StateChanged = res.StateChanged || changed
		case ev.Stop != nil:
			res.StateChanged = p.stopped(*ev.Stop) || res.StateChanged
		}
	}
	return res
}

// Tick advances the batcher clock.
func (p *Pipeline) Tick(elapsed time.Duration) {
	p.Batcher.Tick(elapsed)
}

// Close flushes whatever the batcher still holds.
func (p *Pipeline) Close() error {
	return p.Batcher.Close()
}

func (p *Pipeline) deliver(d rabbitmq.Delivery) (int, bool) {
	ex, ok := p.Registry.Get(d.ExchangeID)
	if !ok {
		return 0, false
	}
	changed := p.Registry.MarkDelivered(d.ExchangeID)

	payload := p.payload(ex, d)
	lines, err := Render(ex.DisplayName(), d.Timestamp, payload, ex.Pretty, p.width)
	if err != nil {
		p.Log.WithError(err).WithField("exchange", ex.Name).Warn("Pretty print failed, showing raw payload")
	}
	p.Lines.PushAll(lines)

	if ex.LogFile != "" {
		// The separator is screen-only.
		for _, line := range lines[1:] {
			p.Batcher.Add(ex.LogFile, line)
		}
	}

	if p.Archive != nil {
		p.Archive.Save(&db.MessageRecord{
			Exchange:    ex.Name,
			RoutingKey:  d.RoutingKey,
			Body:        d.Body,
			ContentType: d.ContentType,
			Headers:     d.Headers,
			Timestamp:   d.PublishedAt,
			ConsumedAt:  d.Timestamp,
			ProtoType:   ex.ProtoType,
			MessageID:   d.MessageID,
			AppID:       d.AppID,
		})
	}
	return len(lines), changed
}

func (p *Pipeline) payload(ex *registry.Exchange, d rabbitmq.Delivery) string {
	if p.Decoder == nil {
		return d.Payload
	}
	if ex.ProtoType == "" && !strings.Contains(d.ContentType, "protobuf") {
		return d.Payload
	}
	decoded, err := p.Decoder.DecodeJSON(d.Body, ex.ProtoType, d.RoutingKey)
	if err != nil {
		p.Log.WithError(err).WithField("exchange", ex.Name).Warn("Protobuf decode failed")
		return d.Payload
	}
	return decoded
}

// stopped reverts an exchange to Unselected when its worker went away on its
// own. Requested cancellations and stale notices for an exchange that has a
// newer worker are ignored.
func (p *Pipeline) stopped(s rabbitmq.Stop) bool {
	if s.Cancelled || p.Workers.Active(s.ExchangeID) {
		return false
	}
	ex, ok := p.Registry.Get(s.ExchangeID)
	if !ok || ex.State == registry.Unselected {
		return false
	}
	if s.Err != nil {
		p.Log.WithError(s.Err).WithField("exchange", s.Exchange).Warn("Subscription ended")
	}
	if err := p.Registry.SetState(s.ExchangeID, registry.Unselected); err != nil {
		p.Log.WithError(err).Error("Reverting selection state")
		return false
	}
	return true
}

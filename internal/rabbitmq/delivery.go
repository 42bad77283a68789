package rabbitmq

import (
	"strings"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Subscription identifies what one worker consumes.
type Subscription struct {
	ID         uuid.UUID
	Exchange   string
	Kind       string
	RoutingKey string
}

// Delivery is one received message handed to the ingest side. Timestamp is
// the local capture time. PublishedAt is the publisher's AMQP timestamp and
// is zero when the message carries none.
type Delivery struct {
	ExchangeID  uuid.UUID
	Exchange    string
	RoutingKey  string
	Timestamp   time.Time
	PublishedAt time.Time
	Payload     string
	Body        []byte
	Headers     map[string]any
	ContentType string
	MessageID   string
	AppID       string
}

// Stop reports that a worker exited. Cancelled is true when the exit was
// requested through the engine.
type Stop struct {
	ExchangeID uuid.UUID
	Exchange   string
	Cancelled  bool
	Err        error
}

// Sink receives worker output. Implementations must not block.
type Sink interface {
	Deliver(Delivery)
	Stopped(Stop)
}

func newDelivery(sub Subscription, msg amqp.Delivery) Delivery {
	headers := make(map[string]any, len(msg.Headers))
	for k, v := range msg.Headers {
		headers[k] = v
	}

	return Delivery{
		ExchangeID:  sub.ID,
		Exchange:    sub.Exchange,
		RoutingKey:  msg.RoutingKey,
		Timestamp:   time.Now(),
		PublishedAt: msg.Timestamp,
		Payload:     strings.ToValidUTF8(string(msg.Body), "�"),
		Body:        msg.Body,
		Headers:     headers,
		ContentType: msg.ContentType,
		MessageID:   msg.MessageId,
		AppID:       msg.AppId,
	}
}

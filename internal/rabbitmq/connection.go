package rabbitmq

import (
	"context"
	"fmt"
	"time"

	"github.com/epalmerini/burrow/internal/config"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

const (
	heartbeat      = 30 * time.Second
	channelMax     = 1024
	connectTimeout = 10 * time.Second
)

// Channel is the subset of *amqp.Channel used by the engine. Each worker owns
// exactly one Channel.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	QueueDelete(name string, ifUnused, ifEmpty, noWait bool) (int, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Broker opens independent channels on one physical connection.
type Broker interface {
	OpenChannel() (Channel, error)
	Close() error
}

// Connection wraps the physical AMQP connection.
type Connection struct {
	conn *amqp.Connection
}

// Dial connects with plain credentials, or over TLS with a client identity and
// an explicit trusted root when both pfx_path and pem_file are configured.
func Dial(ctx context.Context, c config.Connection, clientName string, log logrus.FieldLogger) (*Connection, error) {
	props := amqp.NewConnectionProperties()
	props.SetClientConnectionName(clientName)

	cfg := amqp.Config{
		Heartbeat:  heartbeat,
		ChannelMax: channelMax,
		Locale:     "en_US",
		Dial:       amqp.DefaultDial(connectTimeout),
		Properties: props,
	}

	if c.TLS() {
		tlsCfg, err := TLSConfig(ctx, c, OpenSSL)
		if err != nil {
			return nil, err
		}
		cfg.TLSClientConfig = tlsCfg
	}

	conn, err := amqp.DialConfig(c.URL(), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", c.Address(), err)
	}

	if c.TLS() {
		log.Infof("Secure connection to: %s", c.Address())
	} else {
		log.Infof("Connected to: %s", c.Address())
	}

	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	go func() {
		if err, ok := <-closed; ok && err != nil {
			log.WithError(err).Error("Broker connection closed")
		}
	}()

	return &Connection{conn: conn}, nil
}

// OpenChannel opens a new logical channel. A failing channel does not affect
// the connection or other channels.
func (c *Connection) OpenChannel() (Channel, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	return ch, nil
}

func (c *Connection) Close() error {
	if c.conn == nil || c.conn.IsClosed() {
		return nil
	}
	return c.conn.Close()
}

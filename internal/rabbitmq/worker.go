package rabbitmq

import (
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// ErrConsumerEnded is reported when the broker closes the delivery stream.
var ErrConsumerEnded = errors.New("delivery stream closed by broker")

func (e *Engine) run(sub Subscription, queue string, ch Channel, h *handle) {
	defer e.wg.Done()

	log := e.log.WithFields(logrus.Fields{"exchange": sub.Exchange, "queue": queue})
	cancelled, err := e.consume(sub, queue, ch, h, log)

	if cerr := ch.Close(); cerr != nil && !errors.Is(cerr, amqp.ErrClosed) {
		log.WithError(cerr).Debug("Closing channel")
	}
	e.release(sub.ID, h)
	log.Infof("Unsubscribed from: %s", sub.Exchange)

	e.sink.Stopped(Stop{
		ExchangeID: sub.ID,
		Exchange:   sub.Exchange,
		Cancelled:  cancelled,
		Err:        err,
	})
}

// consume runs the declare/bind/consume sequence and then forwards deliveries
// until cancelled. It reports whether the exit was a requested cancellation.
func (e *Engine) consume(sub Subscription, queue string, ch Channel, h *handle, log logrus.FieldLogger) (bool, error) {
	if cancelled(h) {
		return true, nil
	}

	if err := ch.ExchangeDeclare(sub.Exchange, sub.Kind, true, false, false, false, nil); err != nil {
		log.WithError(err).Error("Exchange error")
		return false, fmt.Errorf("declaring exchange %s: %w", sub.Exchange, err)
	}

	if _, err := ch.QueueDeclare(queue, false, false, false, false, nil); err != nil {
		log.WithError(err).Error("Error declaring queue")
		return false, fmt.Errorf("declaring queue %s: %w", queue, err)
	}
	e.track(queue)
	log.Infof("Queue Created: %s", queue)

	if err := ch.QueueBind(queue, sub.RoutingKey, sub.Exchange, false, nil); err != nil {
		log.WithError(err).Error("Error binding queue")
		return false, fmt.Errorf("binding queue %s: %w", queue, err)
	}

	deliveries, err := ch.Consume(queue, "", true, false, false, false, nil)
	if err != nil {
		log.WithError(err).Error("Error creating consumer")
		return false, fmt.Errorf("consuming %s: %w", queue, err)
	}
	log.Infof("Subscribed to: %s", sub.Exchange)

	for {
		// Cancellation wins over a ready delivery.
		if cancelled(h) {
			e.deleteQueue(ch, queue, log)
			return true, nil
		}

		select {
		case <-h.cancel:
			e.deleteQueue(ch, queue, log)
			return true, nil
		case msg, ok := <-deliveries:
			if !ok {
				log.Warn("Consumer ended")
				return false, ErrConsumerEnded
			}
			if len(msg.Body) == 0 || e.pause.Paused() {
				continue
			}
			e.sink.Deliver(newDelivery(sub, msg))
		}
	}
}

func (e *Engine) deleteQueue(ch Channel, queue string, log logrus.FieldLogger) {
	if _, err := ch.QueueDelete(queue, false, false, false); err != nil {
		log.WithError(err).Error("Error deleting queue")
		return
	}
	e.untrack(queue)
	log.Infof("Queue Deleted: %s", queue)
}

func cancelled(h *handle) bool {
	select {
	case <-h.cancel:
		return true
	default:
		return false
	}
}

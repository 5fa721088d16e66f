package queue

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

// AMQPQueue publishes JSON jobs to durable RabbitMQ queues named after the
// topic. Subscribers receive the raw message body.
type AMQPQueue struct {
	conn   *amqp.Connection
	ch     *amqp.Channel
	logger *zap.Logger

	mu       sync.Mutex
	declared map[string]bool
	wg       sync.WaitGroup
}

func NewAMQPQueue(url string, logger *zap.Logger) (*AMQPQueue, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("set prefetch: %w", err)
	}
	return &AMQPQueue{conn: conn, ch: ch, logger: logger, declared: map[string]bool{}}, nil
}

func (q *AMQPQueue) declare(topic string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.declared[topic] {
		return nil
	}
	_, err := q.ch.QueueDeclare(
		topic,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", topic, err)
	}
	q.declared[topic] = true
	return nil
}

func (q *AMQPQueue) Publish(topic string, payload any) error {
	if err := q.declare(topic); err != nil {
		return err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	return q.ch.Publish("", topic, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
}

// Subscribe consumes with manual acks. A failed delivery is requeued once;
// a second failure drops it, since the send queue row itself is the durable
// record and the next dispatch will publish it again.
func (q *AMQPQueue) Subscribe(topic string, handler func(payload any) error) error {
	if err := q.declare(topic); err != nil {
		return err
	}
	msgs, err := q.ch.Consume(topic, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", topic, err)
	}

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		for d := range msgs {
			if err := handler(d.Body); err != nil {
				requeue := !d.Redelivered
				q.logger.Warn("delivery failed",
					zap.String("topic", topic), zap.Bool("requeue", requeue), zap.Error(err))
				if nackErr := d.Nack(false, requeue); nackErr != nil {
					q.logger.Error("nack failed", zap.Error(nackErr))
				}
				continue
			}
			if err := d.Ack(false); err != nil {
				q.logger.Error("ack failed", zap.Error(err))
			}
		}
	}()
	return nil
}

// NotifyClose exposes connection loss so the worker can exit and restart.
func (q *AMQPQueue) NotifyClose() <-chan *amqp.Error {
	return q.conn.NotifyClose(make(chan *amqp.Error, 1))
}

// Close closes the channel, which ends consumer loops, and waits for them.
func (q *AMQPQueue) Close() error {
	chErr := q.ch.Close()
	q.wg.Wait()
	if err := q.conn.Close(); err != nil {
		return err
	}
	return chErr
}

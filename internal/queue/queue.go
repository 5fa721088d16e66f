package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Queue interface
type Queue interface {
	Publish(topic string, payload any) error
	Subscribe(topic string, handler func(payload any) error) error
}

var ErrClosed = errors.New("queue closed")

// InMemoryQueue delivers each published job to every subscriber of the topic
// on its own goroutine and retries failed handlers with linear backoff.
type InMemoryQueue struct {
	MaxRetries int
	Backoff    time.Duration
	Logger     *zap.Logger

	mu       sync.Mutex
	handlers map[string][]func(payload any) error
	closed   bool
	wg       sync.WaitGroup
	done     chan struct{}
}

// NewInMemoryQueue creates a new queue
func NewInMemoryQueue(logger *zap.Logger) *InMemoryQueue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InMemoryQueue{
		MaxRetries: 3,
		Backoff:    500 * time.Millisecond,
		Logger:     logger,
		handlers:   make(map[string][]func(payload any) error),
		done:       make(chan struct{}),
	}
}

// JobPayload wraps a message payload with retry info
type JobPayload struct {
	Topic      string
	Payload    any
	RetryCount int
	MaxRetries int
}

// Publish sends a message to all subscribers
func (q *InMemoryQueue) Publish(topic string, payload any) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	handlers := q.handlers[topic]
	if len(handlers) == 0 {
		return fmt.Errorf("no subscribers for topic %s", topic)
	}

	for _, handler := range handlers {
		job := JobPayload{Topic: topic, Payload: payload, MaxRetries: q.MaxRetries}
		q.wg.Add(1)
		go q.processJob(handler, job)
	}
	return nil
}

// processJob handles retries and errors
func (q *InMemoryQueue) processJob(handler func(payload any) error, job JobPayload) {
	defer q.wg.Done()

	for {
		err := handler(job.Payload)
		if err == nil {
			return
		}

		job.RetryCount++
		if job.RetryCount > job.MaxRetries {
			q.Logger.Error("job permanently failed",
				zap.String("topic", job.Topic), zap.Int("attempts", job.RetryCount), zap.Error(err))
			return
		}
		q.Logger.Warn("job failed, retrying",
			zap.String("topic", job.Topic), zap.Int("attempt", job.RetryCount), zap.Error(err))

		select {
		case <-time.After(time.Duration(job.RetryCount) * q.Backoff):
		case <-q.done:
			return
		}
	}
}

// Subscribe adds a handler for a topic
func (q *InMemoryQueue) Subscribe(topic string, handler func(payload any) error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	q.handlers[topic] = append(q.handlers[topic], handler)
	return nil
}

// Close stops pending retries and waits for running handlers to return.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.done)
	q.mu.Unlock()

	q.wg.Wait()
	return nil
}

// SendJob asks a worker to execute one send-queue item.
type SendJob struct {
	QueueItemID uuid.UUID `json:"queue_item_id"`
}

// DecodeSendJob accepts the shapes a SendJob takes on the in-memory queue
// (the value itself) and on the broker (raw JSON).
func DecodeSendJob(payload any) (SendJob, error) {
	switch p := payload.(type) {
	case SendJob:
		return p, nil
	case *SendJob:
		if p == nil {
			return SendJob{}, errors.New("nil send job")
		}
		return *p, nil
	case uuid.UUID:
		return SendJob{QueueItemID: p}, nil
	case []byte:
		var job SendJob
		if err := json.Unmarshal(p, &job); err != nil {
			return SendJob{}, fmt.Errorf("decode send job: %w", err)
		}
		if job.QueueItemID == uuid.Nil {
			return SendJob{}, errors.New("send job has no queue_item_id")
		}
		return job, nil
	default:
		return SendJob{}, fmt.Errorf("unexpected send job payload %T", payload)
	}
}

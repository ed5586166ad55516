package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/vanshika/fintrace/txnengine/internal/domain"
)

// ErrPublishNacked is returned when the broker refuses a message.
var ErrPublishNacked = errors.New("message was nacked by broker")

// RabbitMQ is the durable broker backend. Each priority tier gets its own
// durable queue; consumers drain tiers in order with basic.get, which keeps
// strict priority across tiers and FIFO within one.
type RabbitMQ struct {
	conn           *amqp.Connection
	confirmTimeout time.Duration
	pollInterval   time.Duration

	mu       sync.Mutex
	ch       *amqp.Channel
	declared map[string]struct{}
	closed   bool
}

// DialRabbitMQ connects to the broker and opens a confirm-mode channel.
func DialRabbitMQ(url string, confirmTimeout, pollInterval time.Duration) (*RabbitMQ, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	q := &RabbitMQ{
		conn:           conn,
		confirmTimeout: confirmTimeout,
		pollInterval:   pollInterval,
		declared:       make(map[string]struct{}),
	}
	if _, err := q.channel(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return q, nil
}

func tierQueue(name string, p domain.Priority) string {
	return fmt.Sprintf("%s.p%d", name, int(p))
}

// channel returns the live channel, reopening it when the broker closed it.
// Callers must hold q.mu.
func (q *RabbitMQ) channel() (*amqp.Channel, error) {
	if q.closed {
		return nil, ErrClosed
	}
	if q.ch != nil && !q.ch.IsClosed() {
		return q.ch, nil
	}
	ch, err := q.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("enable confirms: %w", err)
	}
	q.ch = ch
	q.declared = make(map[string]struct{})
	return ch, nil
}

func (q *RabbitMQ) declare(ch *amqp.Channel, queueName string) error {
	if _, ok := q.declared[queueName]; ok {
		return nil
	}
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare %s: %w", queueName, err)
	}
	q.declared[queueName] = struct{}{}
	return nil
}

func (q *RabbitMQ) Publish(ctx context.Context, name string, payload []byte, priority domain.Priority) error {
	if !priority.Valid() {
		return ErrInvalidPriority
	}

	q.mu.Lock()
	ch, err := q.channel()
	if err == nil {
		err = q.declare(ch, tierQueue(name, priority))
	}
	if err != nil {
		q.mu.Unlock()
		return err
	}

	confirmation, err := ch.PublishWithDeferredConfirmWithContext(ctx, "", tierQueue(name, priority), true, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         payload,
	})
	q.mu.Unlock()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", tierQueue(name, priority), err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, q.confirmTimeout)
	defer cancel()
	acked, err := confirmation.WaitContext(waitCtx)
	if err != nil {
		return fmt.Errorf("await confirm: %w", err)
	}
	if !acked {
		return ErrPublishNacked
	}
	return nil
}

func (q *RabbitMQ) Consume(ctx context.Context, name string, timeout time.Duration) ([]byte, error) {
	return poll(ctx, timeout, q.pollInterval, func(context.Context) ([]byte, error) {
		q.mu.Lock()
		defer q.mu.Unlock()

		ch, err := q.channel()
		if err != nil {
			return nil, err
		}
		for _, p := range domain.Priorities {
			queueName := tierQueue(name, p)
			if err := q.declare(ch, queueName); err != nil {
				return nil, err
			}
			msg, ok, err := ch.Get(queueName, false)
			if err != nil {
				return nil, fmt.Errorf("get from %s: %w", queueName, err)
			}
			if !ok {
				continue
			}
			if err := msg.Ack(false); err != nil {
				return nil, fmt.Errorf("ack from %s: %w", queueName, err)
			}
			return msg.Body, nil
		}
		return nil, nil
	})
}

func (q *RabbitMQ) Size(ctx context.Context, name string) (int64, error) {
	sizes, err := q.SizeByPriority(ctx, name)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, n := range sizes {
		total += n
	}
	return total, nil
}

func (q *RabbitMQ) SizeByPriority(_ context.Context, name string) (map[domain.Priority]int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	ch, err := q.channel()
	if err != nil {
		return nil, err
	}
	sizes := emptySizes()
	for _, p := range domain.Priorities {
		info, err := ch.QueueDeclare(tierQueue(name, p), true, false, false, false, nil)
		if err != nil {
			return nil, fmt.Errorf("inspect %s: %w", tierQueue(name, p), err)
		}
		sizes[p] = int64(info.Messages)
	}
	return sizes, nil
}

func (q *RabbitMQ) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	if q.ch != nil {
		_ = q.ch.Close()
	}
	return q.conn.Close()
}

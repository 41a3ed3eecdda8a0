// Package service provides the domain event publishers.  Publishing is best
// effort: failures are logged and never fail the request that caused the
// event.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/samber/oops"

	"github.com/iliyamo/habit-tracker/internal/queue"
)

// EventPublisher delivers committed domain events.
type EventPublisher interface {
	Publish(ctx context.Context, ev queue.HabitEvent) error
}

// NopPublisher drops every event.  It is used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, queue.HabitEvent) error { return nil }

// AMQPPublisher publishes events to the habit.events queue.  The
// connection is opened on first use and re-opened after any failure.
type AMQPPublisher struct {
	URL string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewAMQPPublisher(url string) *AMQPPublisher {
	return &AMQPPublisher{URL: url}
}

// Publish marshals ev and publishes it as a persistent message through the
// default exchange.
func (p *AMQPPublisher) Publish(ctx context.Context, ev queue.HabitEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return oops.Code("EVENT_MARSHAL_FAILED").Wrap(err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	ch, err := p.channel()
	if err != nil {
		return oops.Code("AMQP_CONNECT_FAILED").With("queue", queue.EventQueueName).Wrap(err)
	}
	err = ch.PublishWithContext(ctx,
		"",                   // default exchange
		queue.EventQueueName, // routing key = queue name
		false,                // mandatory
		false,                // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			Type:         string(ev.Type),
			Body:         body,
		},
	)
	if err != nil {
		p.reset()
		return oops.Code("AMQP_PUBLISH_FAILED").With("event", string(ev.Type)).Wrap(err)
	}
	return nil
}

// Close releases the broker connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reset()
	return nil
}

// channel returns the open channel, dialing when needed.  Callers hold mu.
func (p *AMQPPublisher) channel() (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	p.reset()
	conn, err := amqp.Dial(p.URL)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	// durable so messages survive broker restarts
	if _, err := ch.QueueDeclare(queue.EventQueueName, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	p.conn, p.ch = conn, ch
	return ch, nil
}

func (p *AMQPPublisher) reset() {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

// AsyncPublisher hands events to a background worker so that a slow or
// unreachable broker never delays a response.  Events that arrive while
// the buffer is full are dropped with a warning.
type AsyncPublisher struct {
	next    EventPublisher
	timeout time.Duration
	events  chan queue.HabitEvent
	done    chan struct{}

	mu     sync.RWMutex
	closed bool
}

// ErrPublisherClosed is returned by Publish after Close.
var ErrPublisherClosed = errors.New("event publisher closed")

// NewAsyncPublisher starts the worker.  Close must be called to stop it.
func NewAsyncPublisher(next EventPublisher, buffer int, timeout time.Duration) *AsyncPublisher {
	p := &AsyncPublisher{
		next:    next,
		timeout: timeout,
		events:  make(chan queue.HabitEvent, buffer),
		done:    make(chan struct{}),
	}
	go p.run()
	return p
}

// Publish enqueues ev and returns immediately.  After Close the event is
// dropped and ErrPublisherClosed returned.
func (p *AsyncPublisher) Publish(ctx context.Context, ev queue.HabitEvent) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPublisherClosed
	}
	select {
	case p.events <- ev:
	default:
		slog.WarnContext(ctx, "event buffer full, dropping event", "event", string(ev.Type))
	}
	return nil
}

// Close stops accepting events, waits for buffered ones to be delivered
// and returns.
func (p *AsyncPublisher) Close() error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.events)
	}
	p.mu.Unlock()
	<-p.done
	return nil
}

func (p *AsyncPublisher) run() {
	defer close(p.done)
	for ev := range p.events {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		if err := p.next.Publish(ctx, ev); err != nil {
			slog.Warn("publish event failed", "event", string(ev.Type), "error", err)
		}
		cancel()
	}
}

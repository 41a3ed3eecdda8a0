package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// EventLogFile is the file, inside the consumer's log directory, that
// events are appended to.
const EventLogFile = "habit-events.log"

// StartEventConsumer connects to RabbitMQ, declares the habit.events queue
// (durable) and appends every message to logDir/habit-events.log.  It
// reconnects with exponential backoff until ctx is cancelled, which is the
// only way it returns.  Messages that cannot be processed are rejected
// without requeue so one bad payload cannot wedge the queue.
func StartEventConsumer(ctx context.Context, url, logDir string) error {
	backoff := time.Second
	for {
		conn, err := amqp.Dial(url)
		if err != nil {
			slog.Warn("event consumer: dial failed", "error", err, "retry_in", backoff)
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			backoff = min(backoff*2, 30*time.Second)
			continue
		}
		backoff = time.Second

		err = consumeLoop(ctx, conn, logDir)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Warn("event consumer: consume loop ended, reconnecting", "error", err)
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func consumeLoop(ctx context.Context, conn *amqp.Connection, logDir string) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		slog.Warn("event consumer: set QoS failed", "error", err)
	}
	if _, err := ch.QueueDeclare(EventQueueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.ConsumeWithContext(ctx, EventQueueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for d := range msgs {
		if err := handleMessage(d.Body, logDir); err != nil {
			slog.Error("event consumer: handle message failed", "error", err)
			_ = d.Nack(false, false)
			continue
		}
		_ = d.Ack(false)
	}
	return errors.New("deliveries channel closed")
}

func handleMessage(body []byte, logDir string) error {
	var ev HabitEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if ev.Type == "" || ev.AccountID == "" {
		return errors.New("event without type or account")
	}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", logDir, err)
	}
	f, err := os.OpenFile(filepath.Join(logDir, EventLogFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(formatEvent(ev)); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}

// formatEvent renders one single-line, human-friendly log record.
func formatEvent(ev HabitEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s | account_id=%s", ev.OccurredAt.UTC().Format(time.RFC3339), ev.Type, ev.AccountID)
	if ev.HabitID != "" {
		fmt.Fprintf(&b, " | habit_id=%s", ev.HabitID)
	}
	if ev.HabitName != "" {
		fmt.Fprintf(&b, " | habit=%q", ev.HabitName)
	}
	if ev.Date != "" {
		fmt.Fprintf(&b, " | date=%s", ev.Date)
	}
	if ev.Status != "" {
		fmt.Fprintf(&b, " | status=%s", ev.Status)
	}
	b.WriteByte('\n')
	return b.String()
}

// sleep waits for d or until ctx is done, reporting whether the full
// duration elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

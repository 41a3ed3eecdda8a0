// Package queue defines the domain events exchanged over the message broker
// and the consumer that records them.
package queue

import "time"

// EventQueueName is the durable queue every habit event is routed to.
const EventQueueName = "habit.events"

// EventType names what happened.
type EventType string

const (
	EventAccountRegistered EventType = "account.registered"
	EventHabitCreated      EventType = "habit.created"
	EventHabitRenamed      EventType = "habit.renamed"
	EventHabitDeleted      EventType = "habit.deleted"
	EventEntryTracked      EventType = "entry.tracked"
)

// HabitEvent is published after a state change has been committed.  It
// carries enough for downstream consumers to log or aggregate without
// reading the store.
type HabitEvent struct {
	Type       EventType `json:"type"`
	AccountID  string    `json:"account_id"`
	HabitID    string    `json:"habit_id,omitempty"`
	HabitName  string    `json:"habit_name,omitempty"`
	Date       string    `json:"date,omitempty"`
	Status     string    `json:"status,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

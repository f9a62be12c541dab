package model

import (
	"encoding/json"
	"time"
)

// TaskName identifies the kind of asynchronous work a task carries.
// The worker registers one handler per name.
type TaskName string

const (
	TaskNameAggregateScreeningEvent  TaskName = "aggregateScreeningEvent"
	TaskNameTriggerWebhook           TaskName = "triggerWebhook"
	TaskNameReserve                  TaskName = "reserve"
	TaskNameCancelPendingReservation TaskName = "cancelPendingReservation"
	TaskNameCancelReservation        TaskName = "cancelReservation"
)

// TaskStatus is the claim state of a task. Transitions are
// one-directional except Running→Ready, which the retry sweep uses to
// hand a stale attempt back to the pool while tries remain.
type TaskStatus string

const (
	TaskStatusReady    TaskStatus = "Ready"
	TaskStatusRunning  TaskStatus = "Running"
	TaskStatusExecuted TaskStatus = "Executed"
	TaskStatusAborted  TaskStatus = "Aborted"
)

// TaskExecutionResult records the outcome of one attempt. Results
// accumulate on every attempt regardless of success.
type TaskExecutionResult struct {
	ExecutedAt time.Time `json:"executed_at"`
	Error      string    `json:"error,omitempty"`
}

// Task is a durable, independently retryable unit of asynchronous
// work with a bounded number of attempts and a scheduled earliest-run
// time (RunsAt). RemainingNumberOfTries is decremented on every claim
// and never increases; Project scopes the queue for multi-tenant
// deployments. Data is the handler payload, opaque JSON.
type Task struct {
	ID                     string
	Name                   TaskName
	Project                string
	Status                 TaskStatus
	RunsAt                 time.Time
	RemainingNumberOfTries int
	NumberOfTried          int
	LastTriedAt            *time.Time
	ExecutionResults       []TaskExecutionResult
	Data                   json.RawMessage
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// Task payloads produced by the orchestrator and consumed by the
// worker. Each is marshalled into Task.Data.

// AggregateScreeningEventPayload asks the worker to recount seat
// availability for an event after reservations changed.
type AggregateScreeningEventPayload struct {
	EventID string `json:"event_id"`
}

// TriggerWebhookPayload asks the worker to notify a subscriber about
// a transaction outcome.
type TriggerWebhookPayload struct {
	Recipient string          `json:"recipient"` // subscriber URL
	Purpose   string          `json:"purpose"`
	Object    json.RawMessage `json:"object"`
}

// ReservePayload settles the reservations of a confirmed transaction.
type ReservePayload struct {
	TransactionID     string   `json:"transaction_id"`
	ReservationNumber string   `json:"reservation_number"`
	ReservationIDs    []string `json:"reservation_ids"`
}

// CancelPendingReservationPayload cancels the reservation documents
// of a cancelled or expired transaction.
type CancelPendingReservationPayload struct {
	TransactionID  string   `json:"transaction_id"`
	ReservationIDs []string `json:"reservation_ids"`
}

// CancelReservationPayload cancels a single confirmed reservation.
type CancelReservationPayload struct {
	ReservationID string `json:"reservation_id"`
}

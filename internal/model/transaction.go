package model

import "time"

// TransactionStatus is the lifecycle state of a reserve transaction.
// InProgress is the only non-terminal status; Confirmed, Canceled and
// Expired are terminal. Canceled and Expired converge on the same
// compensation path.
type TransactionStatus string

const (
	TransactionStatusInProgress TransactionStatus = "InProgress"
	TransactionStatusConfirmed  TransactionStatus = "Confirmed"
	TransactionStatusCanceled   TransactionStatus = "Canceled"
	TransactionStatusExpired    TransactionStatus = "Expired"
)

// RateLimitHold records a rate-limit lock acquired during a
// transaction so that cancellation can release exactly the windows
// this transaction claimed and nothing else.
type RateLimitHold struct {
	Scope         string    `json:"scope"`
	UnitInSeconds int64     `json:"unit_in_seconds"`
	StartDate     time.Time `json:"start_date"`
	Holder        string    `json:"holder"` // the reservation number
}

// TransactionObject is the mutable payload of an in-progress reserve
// transaction: the tentative reservations built so far and the
// rate-limit holds backing them. It is persisted as one JSON document
// column and rewritten whenever reservations are appended.
type TransactionObject struct {
	Reservations   []Reservation   `json:"reservations"`
	RateLimitHolds []RateLimitHold `json:"rate_limit_holds,omitempty"`
	EventID        string          `json:"event_id,omitempty"`
}

// PotentialActions are the downstream task payloads computed at
// confirmation time and exported to the task queue afterwards.
type PotentialActions struct {
	Reserve         []Reservation `json:"reserve,omitempty"`
	TriggerWebhooks []string      `json:"trigger_webhooks,omitempty"` // recipient URLs
}

// ReserveTransaction drives the tentative-then-terminal booking
// workflow. The orchestrator owns its lifecycle; the lock stores only
// ever see its ID (as a seat-lock holder), never the record itself.
// TransactionNumber comes from the numbering service and doubles as
// the reservation number. TasksExported guards against exporting the
// potential actions twice. All timestamps are UTC.
type ReserveTransaction struct {
	ID                string
	TransactionNumber string
	Status            TransactionStatus
	Object            TransactionObject
	PotentialActions  *PotentialActions
	TasksExported     bool
	ExpiresAt         time.Time
	StartedAt         time.Time
	EndedAt           *time.Time
}

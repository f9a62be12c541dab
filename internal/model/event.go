package model

import "time"

// EventType discriminates the kinds of event the engine can reserve
// against. The orchestrator switches exhaustively on this value; an
// unknown type is rejected as an argument error rather than handled
// by a default branch.
type EventType string

const (
	EventTypeScreeningEvent       EventType = "ScreeningEvent"       // a single screening in a hall
	EventTypeScreeningEventSeries EventType = "ScreeningEventSeries" // a recurring series (not directly reservable)
)

// EventStatus reflects the scheduling state of an event.
type EventStatus string

const (
	EventStatusScheduled   EventStatus = "EventScheduled"
	EventStatusCancelled   EventStatus = "EventCancelled"
	EventStatusPostponed   EventStatus = "EventPostponed"
	EventStatusRescheduled EventStatus = "EventRescheduled"
)

// Location describes where an event takes place. The capacity is a
// pointer so that nil represents an unbounded venue; when set, the
// seat-lock store enforces it as the maximum number of concurrent
// holds for the event.
type Location struct {
	BranchCode              string // venue branch code
	Name                    string // human-readable venue name
	MaximumAttendeeCapacity *int   // nil means no capacity bound
}

// Event is the catalog view of a reservable event as returned by the
// event catalog collaborator. Only the fields the reservation engine
// inspects are modelled; everything else stays in the catalog.
// Seat-lock expiry derives from EndDate, and OfferCatalogID points at
// the offer catalog holding the event's ticket offers.
type Event struct {
	ID             string
	Type           EventType
	Name           string
	Status         EventStatus
	StartDate      time.Time
	EndDate        time.Time
	Location       Location
	OfferCatalogID string
}

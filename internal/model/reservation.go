package model

import "time"

// ReservationType discriminates reservation payloads. EventReservation
// is a booking for a single screening; ReservationPackage bundles
// several reservations under one umbrella and is not produced by the
// booking workflow itself.
type ReservationType string

const (
	ReservationTypeEventReservation   ReservationType = "EventReservation"
	ReservationTypeReservationPackage ReservationType = "ReservationPackage"
)

// ReservationStatus is the lifecycle state of a reservation. The only
// legal transitions are Pending→Confirmed and Pending→Cancelled;
// terminal states never revert.
type ReservationStatus string

const (
	ReservationStatusPending   ReservationStatus = "ReservationPending"
	ReservationStatusConfirmed ReservationStatus = "ReservationConfirmed"
	ReservationStatusCancelled ReservationStatus = "ReservationCancelled"
)

// PriceComponent is one line of a reservation's price breakdown: the
// ticket type's unit charge plus any add-on charges.
type PriceComponent struct {
	Name       string `json:"name"`
	PriceCents int64  `json:"price_cents"`
}

// ReservedTicket captures what was actually reserved: the ticket type
// at time of booking and, for seated events, the concrete seat.
// ItemID is set instead of Seat for non-seated inventory.
type ReservedTicket struct {
	TicketTypeID   string    `json:"ticket_type_id"`
	TicketTypeName string    `json:"ticket_type_name"`
	Seat           *SeatSpec `json:"seat,omitempty"`
	ItemID         string    `json:"item_id,omitempty"`
}

// EventRef is the denormalized slice of the event a reservation is
// for. It is embedded rather than referenced so that reservations
// remain readable after catalog changes.
type EventRef struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
}

// Reservation records one ticket reserved under a transaction. It is
// created Pending by the orchestrator and driven to a terminal status
// by Confirm or Cancel, never both and never back. ReservationNumber
// is shared by all reservations of one transaction and is also the
// rate-limit lock holder. PriceCents is the total of PriceComponents.
type Reservation struct {
	ID                string            `json:"id"`
	ReservationNumber string            `json:"reservation_number"`
	Type              ReservationType   `json:"type"`
	Status            ReservationStatus `json:"status"`
	ReservedTicket    ReservedTicket    `json:"reserved_ticket"`
	ReservationFor    EventRef          `json:"reservation_for"`
	PriceCents        int64             `json:"price_cents"`
	PriceComponents   []PriceComponent  `json:"price_components,omitempty"`
	CheckedIn         bool              `json:"checked_in"`
	Attended          bool              `json:"attended"`
}

package model

import "time"

// RateLimitSpec configures reservation-frequency limiting for a
// ticket type. A rate-limited ticket type may be reserved at most
// once per fixed time window: the window is UnitInSeconds wide and
// keyed by Scope, so two ticket types sharing a scope contend for the
// same windows.
type RateLimitSpec struct {
	Scope         string // key segment identifying the limited resource, usually the ticket type id
	UnitInSeconds int64  // width of one rate-limit window
}

// TicketType describes a sellable ticket category resolved from the
// offer catalog. MembershipOnly types require the accepted offer to
// reference a valid program membership.
type TicketType struct {
	ID             string
	Name           string
	ChargeCents    int64
	RateLimit      *RateLimitSpec
	MembershipOnly bool
}

// TicketOffer links a purchasable offer to its ticket type. Offers
// are what callers accept; ticket types carry pricing and limits.
type TicketOffer struct {
	ID           string // offer identifier
	TicketTypeID string // referenced ticket type
	ValidFrom    *time.Time
	ValidThrough *time.Time
}

// SeatSpec identifies one physical seat in the venue. The seat-lock
// store encodes it as the hash field "section:number".
type SeatSpec struct {
	SeatSection string `json:"seat_section"`
	SeatNumber  string `json:"seat_number"`
}

// OfferItem is the unit of inventory a lock call operates on: either
// a ticketed seat or a non-seated inventory item carrying its own id.
// Exactly one of Seat and ItemID is expected to be set; when ItemID
// is set it wins as the lock field.
type OfferItem struct {
	Seat   *SeatSpec `json:"seat,omitempty"`
	ItemID string    `json:"item_id,omitempty"`
}

// AcceptedOffer is one line of a reservation request: the offer the
// caller accepts plus the concrete seat or item and any membership
// reference required by the ticket type.
type AcceptedOffer struct {
	TicketOfferID string    `json:"ticket_offer_id"`
	Seat          *SeatSpec `json:"seat,omitempty"`
	ItemID        string    `json:"item_id,omitempty"`
	MembershipID  string    `json:"membership_id,omitempty"`
	AccessCode    string    `json:"access_code,omitempty"`
	AddOnIDs      []string  `json:"add_on_ids,omitempty"`
}

// Item returns the inventory unit this accepted offer claims.
func (a AcceptedOffer) Item() OfferItem {
	return OfferItem{Seat: a.Seat, ItemID: a.ItemID}
}

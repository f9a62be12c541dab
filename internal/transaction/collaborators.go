package transaction

import (
	"context"
	"time"

	"github.com/cinetick/reservation-engine/internal/model"
	"github.com/cinetick/reservation-engine/internal/ratelimit"
	"github.com/cinetick/reservation-engine/internal/task"
)

// The orchestrator's collaborators are declared where they are
// consumed so tests can substitute hand-written fakes. Catalogs,
// numbering and audit logging are external systems; the lock stores
// and repositories are the engine's own components behind the same
// narrow interfaces.

// EventCatalog resolves events from the catalog system.
type EventCatalog interface {
	FindByID(ctx context.Context, id string) (*model.Event, error)
}

// OfferCatalog resolves ticket offers and ticket types.
type OfferCatalog interface {
	// FindTicketTypesByCatalogID lists the ticket types of an offer
	// catalog.
	FindTicketTypesByCatalogID(ctx context.Context, catalogID string) ([]model.TicketType, error)
	// SearchTicketOffers lists the offers purchasable for an event.
	SearchTicketOffers(ctx context.Context, eventID string) ([]model.TicketOffer, error)
}

// MembershipCatalog resolves programme memberships referenced by
// membership-only ticket types.
type MembershipCatalog interface {
	FindByID(ctx context.Context, id string) (*model.ProgramMembership, error)
}

// NumberingService issues unique transaction/reservation numbers. It
// is opaque: one call, one fresh number, or an error when the service
// is exhausted.
type NumberingService interface {
	Publish(ctx context.Context) (string, error)
}

// AuditLog records the start, completion or abandonment of an
// orchestrator action. Implementations must not fail the caller;
// auditing is observability, not control flow.
type AuditLog interface {
	Start(ctx context.Context, action string)
	Complete(ctx context.Context, action string)
	GiveUp(ctx context.Context, action string, reason error)
}

// SeatLocker is the slice of the seat-lock store the orchestrator
// uses.
type SeatLocker interface {
	Lock(ctx context.Context, eventID string, items []model.OfferItem, holder string, expires time.Time) error
	LockIfNotLimitExceeded(ctx context.Context, eventID string, items []model.OfferItem, holder string, expires time.Time, maximum int) error
	Unlock(ctx context.Context, eventID string, item model.OfferItem) error
	Holder(ctx context.Context, eventID string, item model.OfferItem) (string, bool, error)
}

// RateLimiter is the slice of the offer rate limiter the orchestrator
// uses.
type RateLimiter interface {
	Lock(ctx context.Context, keys []ratelimit.Key) error
	Unlock(ctx context.Context, keys []ratelimit.Key) error
	Holder(ctx context.Context, key ratelimit.Key) (string, bool, error)
}

// ReservationStore persists reservation documents.
type ReservationStore interface {
	CreateBulk(ctx context.Context, reservations []model.Reservation) error
	Cancel(ctx context.Context, id string) (bool, error)
	ConfirmByNumber(ctx context.Context, reservationNumber string) error
}

// TransactionStore persists reserve transaction records.
type TransactionStore interface {
	Start(ctx context.Context, tx *model.ReserveTransaction) error
	FindByID(ctx context.Context, id string) (*model.ReserveTransaction, error)
	FindInProgressByID(ctx context.Context, id string) (*model.ReserveTransaction, error)
	FindInProgressByNumber(ctx context.Context, number string) (*model.ReserveTransaction, error)
	UpdateObject(ctx context.Context, id string, object model.TransactionObject) error
	Confirm(ctx context.Context, id string, actions model.PotentialActions) error
	Cancel(ctx context.Context, id string) error
	MakeExpired(ctx context.Context) ([]string, error)
	FindOneTasksUnexported(ctx context.Context) (*model.ReserveTransaction, error)
	MarkTasksExported(ctx context.Context, id string) error
}

// TaskStore schedules asynchronous follow-up work.
type TaskStore interface {
	Save(ctx context.Context, attrs task.NewTask) (*model.Task, error)
}

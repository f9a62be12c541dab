package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/cinetick/reservation-engine/internal/model"
)

// WebhookPublisher hands a webhook payload to the delivery channel.
// The AMQP publisher in internal/service implements it.
type WebhookPublisher interface {
	Publish(ctx context.Context, payload model.TriggerWebhookPayload) error
}

// ReservationSettler settles reservation documents.
type ReservationSettler interface {
	ConfirmByNumber(ctx context.Context, reservationNumber string) error
	Cancel(ctx context.Context, id string) (bool, error)
	CountByEvent(ctx context.Context, eventID string, status model.ReservationStatus) (int64, error)
}

// PendingCanceller runs the compensation path of a terminal
// transaction. The orchestrator implements it.
type PendingCanceller interface {
	CancelPendingReservations(ctx context.Context, transactionID string) error
}

// AvailabilityCounter reads seat-lock occupancy for aggregation.
type AvailabilityCounter interface {
	CountUnavailableOffers(ctx context.Context, eventID string) (int64, error)
}

// NewTriggerWebhookHandler delivers a TriggerWebhook payload through
// the publisher.
func NewTriggerWebhookHandler(publisher WebhookPublisher) Handler {
	return func(ctx context.Context, t *model.Task) error {
		var payload model.TriggerWebhookPayload
		if err := json.Unmarshal(t.Data, &payload); err != nil {
			return fmt.Errorf("unmarshal webhook payload: %w", err)
		}
		return publisher.Publish(ctx, payload)
	}
}

// NewReserveHandler settles the reservations of a confirmed
// transaction. Confirming an already-confirmed number is a no-op, so
// re-delivery is safe.
func NewReserveHandler(reservations ReservationSettler) Handler {
	return func(ctx context.Context, t *model.Task) error {
		var payload model.ReservePayload
		if err := json.Unmarshal(t.Data, &payload); err != nil {
			return fmt.Errorf("unmarshal reserve payload: %w", err)
		}
		return reservations.ConfirmByNumber(ctx, payload.ReservationNumber)
	}
}

// NewCancelPendingReservationHandler releases the holds of a
// cancelled or expired transaction and cancels its pending
// reservation documents.
func NewCancelPendingReservationHandler(canceller PendingCanceller) Handler {
	return func(ctx context.Context, t *model.Task) error {
		var payload model.CancelPendingReservationPayload
		if err := json.Unmarshal(t.Data, &payload); err != nil {
			return fmt.Errorf("unmarshal cancel payload: %w", err)
		}
		return canceller.CancelPendingReservations(ctx, payload.TransactionID)
	}
}

// NewCancelReservationHandler cancels one reservation document.
func NewCancelReservationHandler(reservations ReservationSettler) Handler {
	return func(ctx context.Context, t *model.Task) error {
		var payload model.CancelReservationPayload
		if err := json.Unmarshal(t.Data, &payload); err != nil {
			return fmt.Errorf("unmarshal cancel reservation payload: %w", err)
		}
		_, err := reservations.Cancel(ctx, payload.ReservationID)
		return err
	}
}

// NewAggregateScreeningEventHandler recounts an event's held offers
// and confirmed reservations after a booking changed, logging the
// availability snapshot for downstream consumers.
func NewAggregateScreeningEventHandler(seats AvailabilityCounter, reservations ReservationSettler) Handler {
	return func(ctx context.Context, t *model.Task) error {
		var payload model.AggregateScreeningEventPayload
		if err := json.Unmarshal(t.Data, &payload); err != nil {
			return fmt.Errorf("unmarshal aggregate payload: %w", err)
		}
		held, err := seats.CountUnavailableOffers(ctx, payload.EventID)
		if err != nil {
			return err
		}
		confirmed, err := reservations.CountByEvent(ctx, payload.EventID, model.ReservationStatusConfirmed)
		if err != nil {
			return err
		}
		log.Printf("worker: event %s availability: held=%d confirmed=%d", payload.EventID, held, confirmed)
		return nil
	}
}

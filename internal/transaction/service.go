// Package transaction implements the reservation-transaction
// orchestrator: the hold → confirm/cancel workflow composing the
// seat-lock store, the offer rate limiter, the task queue and the
// durable reservation stores. There is no cross-resource two-phase
// commit; each step is an independent write with explicit
// compensating actions on later failure.
package transaction

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/cinetick/reservation-engine/internal/errs"
	"github.com/cinetick/reservation-engine/internal/model"
	"github.com/cinetick/reservation-engine/internal/ratelimit"
	"github.com/cinetick/reservation-engine/internal/task"
)

// Config carries the orchestrator's tunables. Zero values fall back
// to the defaults applied by NewService.
type Config struct {
	// AdvanceBookingDays bounds how far ahead of an event's start a
	// reservation may be made. Default 93.
	AdvanceBookingDays int
	// TransactionTTL is how long a started transaction stays
	// InProgress before the expiry sweep may close it. Default 15m.
	TransactionTTL time.Duration
	// SeatLockMargin is added to the event end date when computing
	// the seat-lock expiry, so locks outlive the event slightly and
	// then self-expire. Default 24h.
	SeatLockMargin time.Duration
	// TaskTries is the retry budget given to scheduled follow-up
	// tasks. Default 10.
	TaskTries int
	// Project scopes scheduled tasks for multi-tenant queues.
	Project string
	// WebhookSubscribers lists recipient URLs notified after
	// reservations change.
	WebhookSubscribers []string
}

func (c Config) withDefaults() Config {
	if c.AdvanceBookingDays <= 0 {
		c.AdvanceBookingDays = 93
	}
	if c.TransactionTTL <= 0 {
		c.TransactionTTL = 15 * time.Minute
	}
	if c.SeatLockMargin <= 0 {
		c.SeatLockMargin = 24 * time.Hour
	}
	if c.TaskTries <= 0 {
		c.TaskTries = 10
	}
	return c
}

// Service is the orchestrator. All dependencies are injected; the
// service holds no connection state of its own.
type Service struct {
	events       EventCatalog
	offers       OfferCatalog
	memberships  MembershipCatalog
	numbering    NumberingService
	audit        AuditLog
	seats        SeatLocker
	limiter      RateLimiter
	reservations ReservationStore
	transactions TransactionStore
	tasks        TaskStore
	cfg          Config
}

// NewService wires an orchestrator from its collaborators.
func NewService(
	events EventCatalog,
	offers OfferCatalog,
	memberships MembershipCatalog,
	numbering NumberingService,
	audit AuditLog,
	seats SeatLocker,
	limiter RateLimiter,
	reservations ReservationStore,
	transactions TransactionStore,
	tasks TaskStore,
	cfg Config,
) *Service {
	return &Service{
		events:       events,
		offers:       offers,
		memberships:  memberships,
		numbering:    numbering,
		audit:        audit,
		seats:        seats,
		limiter:      limiter,
		reservations: reservations,
		transactions: transactions,
		tasks:        tasks,
		cfg:          cfg.withDefaults(),
	}
}

// StartParams are the inputs to Start. TransactionNumber is optional;
// when empty a number is obtained from the numbering service. When
// EventID and AcceptedOffers are both set, Start chains directly into
// AddReservations.
type StartParams struct {
	TransactionNumber string
	ExpiresAt         time.Time
	EventID           string
	AcceptedOffers    []model.AcceptedOffer
}

// Ref addresses a transaction by id or by issued number. Exactly one
// field should be set; ID wins when both are.
type Ref struct {
	ID     string
	Number string
}

// Start creates an InProgress reserve transaction. A duplicate-key
// race on the transaction number surfaces as errs.ErrConflict, which
// is benign: the caller may re-fetch and proceed.
func (s *Service) Start(ctx context.Context, params StartParams) (*model.ReserveTransaction, error) {
	s.audit.Start(ctx, "start")

	number := params.TransactionNumber
	if number == "" {
		issued, err := s.numbering.Publish(ctx)
		if err != nil {
			err = fmt.Errorf("%w: numbering service: %v", errs.ErrServiceUnavailable, err)
			s.audit.GiveUp(ctx, "start", err)
			return nil, err
		}
		number = issued
	}

	now := time.Now().UTC()
	expires := params.ExpiresAt
	if expires.IsZero() {
		expires = now.Add(s.cfg.TransactionTTL)
	}
	tx := &model.ReserveTransaction{
		ID:                uuid.NewString(),
		TransactionNumber: number,
		Status:            model.TransactionStatusInProgress,
		ExpiresAt:         expires.UTC(),
		StartedAt:         now,
	}
	if err := s.transactions.Start(ctx, tx); err != nil {
		s.audit.GiveUp(ctx, "start", err)
		return nil, err
	}

	if params.EventID != "" && len(params.AcceptedOffers) > 0 {
		if _, err := s.AddReservations(ctx, tx.ID, params.EventID, params.AcceptedOffers); err != nil {
			s.audit.GiveUp(ctx, "start", err)
			return tx, err
		}
	}

	s.audit.Complete(ctx, "start")
	return tx, nil
}

// AddReservations runs the booking workflow for one batch of accepted
// offers: validate, build tentative reservations, acquire rate-limit
// holds, persist the tentative state, acquire seat locks
// (capacity-checked when the venue declares one), persist the Pending
// reservation documents, and schedule follow-up tasks.
//
// Compensation rule: any rate-limit hold acquired by this call is
// released before a later-step error propagates, so a failed attempt
// never leaves a window claimed with no reservation behind it. Seat
// locks acquired by this call are likewise rolled back when the
// document write fails.
func (s *Service) AddReservations(ctx context.Context, txID, eventID string, accepted []model.AcceptedOffer) ([]model.Reservation, error) {
	s.audit.Start(ctx, "addReservations")
	reservations, err := s.addReservations(ctx, txID, eventID, accepted)
	if err != nil {
		s.audit.GiveUp(ctx, "addReservations", err)
		return nil, err
	}
	s.audit.Complete(ctx, "addReservations")
	return reservations, nil
}

func (s *Service) addReservations(ctx context.Context, txID, eventID string, accepted []model.AcceptedOffer) ([]model.Reservation, error) {
	if txID == "" {
		return nil, errs.NewArgumentNull("transactionId")
	}
	if eventID == "" {
		return nil, errs.NewArgumentNull("eventId")
	}
	if len(accepted) == 0 {
		return nil, errs.NewArgumentNull("acceptedOffers")
	}

	tx, err := s.transactions.FindInProgressByID(ctx, txID)
	if err != nil {
		return nil, err
	}

	event, err := s.validateEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}

	reservations, limitKeys, holds, err := s.buildReservations(ctx, tx, event, accepted)
	if err != nil {
		return nil, err
	}

	// Rate-limit holds come first: they are the cheapest to roll
	// back and failing here leaves nothing else to compensate.
	if err := s.limiter.Lock(ctx, limitKeys); err != nil {
		return nil, err
	}

	object := tx.Object
	object.EventID = event.ID
	object.Reservations = append(object.Reservations, reservations...)
	object.RateLimitHolds = append(object.RateLimitHolds, holds...)
	if err := s.transactions.UpdateObject(ctx, tx.ID, object); err != nil {
		s.releaseLimitKeys(ctx, limitKeys)
		return nil, err
	}

	items := make([]model.OfferItem, 0, len(accepted))
	for _, a := range accepted {
		items = append(items, a.Item())
	}
	lockExpires := event.EndDate.Add(s.cfg.SeatLockMargin)
	if capacity := event.Location.MaximumAttendeeCapacity; capacity != nil {
		err = s.seats.LockIfNotLimitExceeded(ctx, event.ID, items, tx.ID, lockExpires, *capacity)
	} else {
		err = s.seats.Lock(ctx, event.ID, items, tx.ID, lockExpires)
	}
	if err != nil {
		s.releaseLimitKeys(ctx, limitKeys)
		return nil, err
	}

	if err := s.reservations.CreateBulk(ctx, reservations); err != nil {
		for _, item := range items {
			if uerr := s.seats.Unlock(ctx, event.ID, item); uerr != nil {
				log.Printf("transaction: rollback seat unlock failed: %v", uerr)
			}
		}
		s.releaseLimitKeys(ctx, limitKeys)
		return nil, err
	}

	s.scheduleFollowUps(ctx, tx, event.ID, "addReservations")
	return reservations, nil
}

// validateEvent checks the event is a reservable kind, not cancelled,
// not already over, and within the advance-booking window.
func (s *Service) validateEvent(ctx context.Context, eventID string) (*model.Event, error) {
	event, err := s.events.FindByID(ctx, eventID)
	if err != nil {
		return nil, err
	}

	switch event.Type {
	case model.EventTypeScreeningEvent:
		// reservable
	case model.EventTypeScreeningEventSeries:
		return nil, errs.NewArgument("eventId", "a screening event series is not directly reservable")
	default:
		return nil, errs.NewArgument("eventId", fmt.Sprintf("unknown event type %q", event.Type))
	}

	if event.Status == model.EventStatusCancelled {
		return nil, errs.NewArgument("eventId", "the event is cancelled")
	}
	now := time.Now().UTC()
	if event.EndDate.Before(now) {
		return nil, errs.NewArgument("eventId", "the event has already ended")
	}
	window := time.Duration(s.cfg.AdvanceBookingDays) * 24 * time.Hour
	if event.StartDate.After(now.Add(window)) {
		return nil, errs.NewArgument("eventId", "the event starts outside the advance booking window")
	}
	return event, nil
}

// buildReservations resolves every accepted offer against the
// catalogs, validates memberships, and produces the tentative
// reservation records together with the rate-limit keys and hold
// records they require.
func (s *Service) buildReservations(ctx context.Context, tx *model.ReserveTransaction, event *model.Event, accepted []model.AcceptedOffer) ([]model.Reservation, []ratelimit.Key, []model.RateLimitHold, error) {
	ticketOffers, err := s.offers.SearchTicketOffers(ctx, event.ID)
	if err != nil {
		return nil, nil, nil, err
	}
	offersByID := make(map[string]model.TicketOffer, len(ticketOffers))
	for _, o := range ticketOffers {
		offersByID[o.ID] = o
	}

	ticketTypes, err := s.offers.FindTicketTypesByCatalogID(ctx, event.OfferCatalogID)
	if err != nil {
		return nil, nil, nil, err
	}
	typesByID := make(map[string]model.TicketType, len(ticketTypes))
	for _, t := range ticketTypes {
		typesByID[t.ID] = t
	}

	now := time.Now().UTC()
	eventRef := model.EventRef{
		ID:        event.ID,
		Name:      event.Name,
		StartDate: event.StartDate,
		EndDate:   event.EndDate,
	}

	reservations := make([]model.Reservation, 0, len(accepted))
	var limitKeys []ratelimit.Key
	var holds []model.RateLimitHold
	for _, a := range accepted {
		offer, ok := offersByID[a.TicketOfferID]
		if !ok {
			return nil, nil, nil, errs.NewNotFound("ticket offer", a.TicketOfferID)
		}
		ticketType, ok := typesByID[offer.TicketTypeID]
		if !ok {
			return nil, nil, nil, errs.NewNotFound("ticket type", offer.TicketTypeID)
		}

		if ticketType.MembershipOnly {
			if err := s.validateMembership(ctx, a, now); err != nil {
				return nil, nil, nil, err
			}
		}

		components := []model.PriceComponent{{Name: ticketType.Name, PriceCents: ticketType.ChargeCents}}
		total := ticketType.ChargeCents
		for _, addOnID := range a.AddOnIDs {
			addOnOffer, ok := offersByID[addOnID]
			if !ok {
				return nil, nil, nil, errs.NewNotFound("add-on offer", addOnID)
			}
			addOnType, ok := typesByID[addOnOffer.TicketTypeID]
			if !ok {
				return nil, nil, nil, errs.NewNotFound("ticket type", addOnOffer.TicketTypeID)
			}
			components = append(components, model.PriceComponent{Name: addOnType.Name, PriceCents: addOnType.ChargeCents})
			total += addOnType.ChargeCents
		}

		reservations = append(reservations, model.Reservation{
			ID:                uuid.NewString(),
			ReservationNumber: tx.TransactionNumber,
			Type:              model.ReservationTypeEventReservation,
			Status:            model.ReservationStatusPending,
			ReservedTicket: model.ReservedTicket{
				TicketTypeID:   ticketType.ID,
				TicketTypeName: ticketType.Name,
				Seat:           a.Seat,
				ItemID:         a.ItemID,
			},
			ReservationFor:  eventRef,
			PriceCents:      total,
			PriceComponents: components,
		})

		if rl := ticketType.RateLimit; rl != nil {
			scope := rl.Scope
			if scope == "" {
				scope = ticketType.ID
			}
			key := ratelimit.Key{
				Scope:         scope,
				UnitInSeconds: rl.UnitInSeconds,
				StartDate:     event.StartDate,
				Holder:        tx.TransactionNumber,
			}
			limitKeys = append(limitKeys, key)
			holds = append(holds, model.RateLimitHold{
				Scope:         scope,
				UnitInSeconds: rl.UnitInSeconds,
				StartDate:     event.StartDate,
				Holder:        tx.TransactionNumber,
			})
		}
	}
	return reservations, limitKeys, holds, nil
}

func (s *Service) validateMembership(ctx context.Context, a model.AcceptedOffer, now time.Time) error {
	if a.MembershipID == "" {
		return errs.NewArgumentNull("membershipId")
	}
	membership, err := s.memberships.FindByID(ctx, a.MembershipID)
	if err != nil {
		return err
	}
	if !membership.ValidAt(now) {
		return errs.NewArgument("membershipId", "the membership is outside its validity period")
	}
	if membership.AccessCodeHash != "" {
		if err := bcrypt.CompareHashAndPassword([]byte(membership.AccessCodeHash), []byte(a.AccessCode)); err != nil {
			return errs.NewArgument("accessCode", "the access code does not match")
		}
	}
	return nil
}

func (s *Service) releaseLimitKeys(ctx context.Context, keys []ratelimit.Key) {
	if len(keys) == 0 {
		return
	}
	if err := s.limiter.Unlock(ctx, keys); err != nil {
		log.Printf("transaction: rollback rate-limit unlock failed: %v", err)
	}
}

// Confirm drives an InProgress transaction to Confirmed, settles its
// reservations, and stores the potential actions exported as tasks
// later. Seat and rate-limit locks are deliberately left in place:
// they are released only by explicit cancellation or by TTL expiry.
func (s *Service) Confirm(ctx context.Context, ref Ref, purpose string) (*model.ReserveTransaction, error) {
	s.audit.Start(ctx, "confirm")

	tx, err := s.findInProgress(ctx, ref)
	if err != nil {
		s.audit.GiveUp(ctx, "confirm", err)
		return nil, err
	}

	confirmed := make([]model.Reservation, len(tx.Object.Reservations))
	copy(confirmed, tx.Object.Reservations)
	for i := range confirmed {
		confirmed[i].Status = model.ReservationStatusConfirmed
	}
	actions := model.PotentialActions{
		Reserve:         confirmed,
		TriggerWebhooks: s.cfg.WebhookSubscribers,
	}

	if err := s.transactions.Confirm(ctx, tx.ID, actions); err != nil {
		s.audit.GiveUp(ctx, "confirm", err)
		return nil, err
	}
	if err := s.reservations.ConfirmByNumber(ctx, tx.TransactionNumber); err != nil {
		s.audit.GiveUp(ctx, "confirm", err)
		return nil, err
	}

	tx.Status = model.TransactionStatusConfirmed
	tx.PotentialActions = &actions
	s.scheduleFollowUps(ctx, tx, tx.Object.EventID, purpose)
	s.audit.Complete(ctx, "confirm")
	return tx, nil
}

// Cancel drives an InProgress transaction to Canceled and runs the
// compensation path: conditionally release every hold and cancel the
// pending reservation documents. The same notification and
// re-aggregation tasks as on success are scheduled so downstream
// read-models converge.
func (s *Service) Cancel(ctx context.Context, ref Ref) (*model.ReserveTransaction, error) {
	s.audit.Start(ctx, "cancel")

	tx, err := s.findInProgress(ctx, ref)
	if err != nil {
		s.audit.GiveUp(ctx, "cancel", err)
		return nil, err
	}

	if err := s.transactions.Cancel(ctx, tx.ID); err != nil {
		s.audit.GiveUp(ctx, "cancel", err)
		return nil, err
	}
	if err := s.compensate(ctx, tx); err != nil {
		s.audit.GiveUp(ctx, "cancel", err)
		return nil, err
	}

	tx.Status = model.TransactionStatusCanceled
	s.scheduleFollowUps(ctx, tx, tx.Object.EventID, "cancel")
	s.audit.Complete(ctx, "cancel")
	return tx, nil
}

// CancelPendingReservations runs the compensation path for a
// transaction that is already terminal (typically Expired). The
// worker invokes it from a CancelPendingReservation task.
func (s *Service) CancelPendingReservations(ctx context.Context, transactionID string) error {
	tx, err := s.transactions.FindByID(ctx, transactionID)
	if err != nil {
		return err
	}
	if tx.Status == model.TransactionStatusInProgress || tx.Status == model.TransactionStatusConfirmed {
		return errs.NewArgument("transactionId", fmt.Sprintf("cannot cancel pending reservations of a %s transaction", tx.Status))
	}
	return s.compensate(ctx, tx)
}

// compensate releases seat locks held by this transaction, releases
// rate-limit windows held by its reservation number, and cancels any
// pending reservation documents. Every release is conditional on the
// current holder: a lock may have expired and been re-acquired by a
// later transaction, and a blind release would steal that
// transaction's legitimate hold.
func (s *Service) compensate(ctx context.Context, tx *model.ReserveTransaction) error {
	eventID := tx.Object.EventID

	for _, res := range tx.Object.Reservations {
		item := model.OfferItem{Seat: res.ReservedTicket.Seat, ItemID: res.ReservedTicket.ItemID}
		holder, held, err := s.seats.Holder(ctx, eventID, item)
		if err != nil {
			return err
		}
		if held && holder == tx.ID {
			if err := s.seats.Unlock(ctx, eventID, item); err != nil {
				return err
			}
		}

		if _, err := s.reservations.Cancel(ctx, res.ID); err != nil {
			return err
		}
	}

	for _, hold := range tx.Object.RateLimitHolds {
		key := ratelimit.Key{
			Scope:         hold.Scope,
			UnitInSeconds: hold.UnitInSeconds,
			StartDate:     hold.StartDate,
			Holder:        hold.Holder,
		}
		holder, held, err := s.limiter.Holder(ctx, key)
		if err != nil {
			return err
		}
		if held && holder == hold.Holder {
			if err := s.limiter.Unlock(ctx, []ratelimit.Key{key}); err != nil {
				return err
			}
		}
	}
	return nil
}

// MakeExpired sweeps InProgress transactions past their expiry to
// Expired. Their compensation runs asynchronously via the exported
// CancelPendingReservation tasks.
func (s *Service) MakeExpired(ctx context.Context) ([]string, error) {
	return s.transactions.MakeExpired(ctx)
}

// ExportTasksByID emits the follow-up task payloads appropriate for
// the transaction's terminal status: a Reserve task on Confirmed,
// CancelPendingReservation on Canceled or Expired.
func (s *Service) ExportTasksByID(ctx context.Context, transactionID string) error {
	tx, err := s.transactions.FindByID(ctx, transactionID)
	if err != nil {
		return err
	}

	reservationIDs := make([]string, 0, len(tx.Object.Reservations))
	for _, res := range tx.Object.Reservations {
		reservationIDs = append(reservationIDs, res.ID)
	}

	switch tx.Status {
	case model.TransactionStatusConfirmed:
		_, err = s.tasks.Save(ctx, task.NewTask{
			Name:                   model.TaskNameReserve,
			Project:                s.cfg.Project,
			RunsAt:                 time.Now().UTC(),
			RemainingNumberOfTries: s.cfg.TaskTries,
			Data: model.ReservePayload{
				TransactionID:     tx.ID,
				ReservationNumber: tx.TransactionNumber,
				ReservationIDs:    reservationIDs,
			},
		})
	case model.TransactionStatusCanceled, model.TransactionStatusExpired:
		_, err = s.tasks.Save(ctx, task.NewTask{
			Name:                   model.TaskNameCancelPendingReservation,
			Project:                s.cfg.Project,
			RunsAt:                 time.Now().UTC(),
			RemainingNumberOfTries: s.cfg.TaskTries,
			Data: model.CancelPendingReservationPayload{
				TransactionID:  tx.ID,
				ReservationIDs: reservationIDs,
			},
		})
	case model.TransactionStatusInProgress:
		return errs.NewArgument("transactionId", "the transaction is still in progress")
	default:
		return errs.NewArgument("transactionId", fmt.Sprintf("unknown transaction status %q", tx.Status))
	}
	if err != nil {
		return err
	}
	return s.transactions.MarkTasksExported(ctx, tx.ID)
}

// ExportTasks exports follow-up tasks for one terminal transaction
// that has none yet. It reports whether it found one, so a sweep loop
// can drain the backlog.
func (s *Service) ExportTasks(ctx context.Context) (bool, error) {
	tx, err := s.transactions.FindOneTasksUnexported(ctx)
	if err != nil {
		return false, err
	}
	if tx == nil {
		return false, nil
	}
	if err := s.ExportTasksByID(ctx, tx.ID); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) findInProgress(ctx context.Context, ref Ref) (*model.ReserveTransaction, error) {
	if ref.ID != "" {
		return s.transactions.FindInProgressByID(ctx, ref.ID)
	}
	if ref.Number != "" {
		return s.transactions.FindInProgressByNumber(ctx, ref.Number)
	}
	return nil, errs.NewArgumentNull("transaction reference")
}

// scheduleFollowUps queues the webhook notifications and the
// availability re-aggregation for the event. Scheduling is
// best-effort: the booking state is already durable, and a failed
// schedule is logged rather than unwinding the workflow.
func (s *Service) scheduleFollowUps(ctx context.Context, tx *model.ReserveTransaction, eventID, purpose string) {
	now := time.Now().UTC()

	object, err := json.Marshal(map[string]interface{}{
		"transaction_id":     tx.ID,
		"transaction_number": tx.TransactionNumber,
		"status":             tx.Status,
		"event_id":           eventID,
	})
	if err != nil {
		log.Printf("transaction: marshal webhook object: %v", err)
		return
	}

	for _, recipient := range s.cfg.WebhookSubscribers {
		if _, err := s.tasks.Save(ctx, task.NewTask{
			Name:                   model.TaskNameTriggerWebhook,
			Project:                s.cfg.Project,
			RunsAt:                 now,
			RemainingNumberOfTries: s.cfg.TaskTries,
			Data: model.TriggerWebhookPayload{
				Recipient: recipient,
				Purpose:   purpose,
				Object:    object,
			},
		}); err != nil {
			log.Printf("transaction: schedule webhook task: %v", err)
		}
	}

	if eventID != "" {
		if _, err := s.tasks.Save(ctx, task.NewTask{
			Name:                   model.TaskNameAggregateScreeningEvent,
			Project:                s.cfg.Project,
			RunsAt:                 now,
			RemainingNumberOfTries: s.cfg.TaskTries,
			Data:                   model.AggregateScreeningEventPayload{EventID: eventID},
		}); err != nil {
			log.Printf("transaction: schedule aggregate task: %v", err)
		}
	}
}

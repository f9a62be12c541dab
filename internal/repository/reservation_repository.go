package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cinetick/reservation-engine/internal/errs"
	"github.com/cinetick/reservation-engine/internal/model"
)

// ReservationRepo provides data access to the reservations table.
// Reservation documents are created Pending by the orchestrator and
// moved to a terminal status exactly once; the status guard in every
// update enforces that transitions never reverse. All timestamps are
// stored in UTC. SQL uses plain placeholders and parameterized times
// so the same statements run on MySQL in production and SQLite in
// tests.
type ReservationRepo struct {
	db *sql.DB
}

// NewReservationRepo returns a ReservationRepo bound to the provided
// database.
func NewReservationRepo(db *sql.DB) *ReservationRepo { return &ReservationRepo{db: db} }

const reservationColumns = `id, reservation_number, type, status, ticket_type_id, ticket_type_name,
       seat_section, seat_number, item_id, event_id, event_name, event_start, event_end,
       price_cents, price_components, checked_in, attended, created_at, updated_at`

// CreateBulk inserts the given reservations in one statement. Each
// reservation must already carry its ID, number and Pending status;
// the orchestrator builds them before acquiring seat locks. Passing
// an empty slice has no effect and returns nil.
func (r *ReservationRepo) CreateBulk(ctx context.Context, reservations []model.Reservation) error {
	if len(reservations) == 0 {
		return nil
	}
	query := `INSERT INTO reservations (id, reservation_number, type, status, ticket_type_id, ticket_type_name,
              seat_section, seat_number, item_id, event_id, event_name, event_start, event_end,
              price_cents, price_components, checked_in, attended, created_at, updated_at) VALUES `
	now := time.Now().UTC()
	args := make([]interface{}, 0, len(reservations)*19)
	for i, res := range reservations {
		if i > 0 {
			query += ","
		}
		query += "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0, ?, ?)"
		components, err := json.Marshal(res.PriceComponents)
		if err != nil {
			return fmt.Errorf("marshal price components: %w", err)
		}
		var section, number interface{}
		if res.ReservedTicket.Seat != nil {
			section = res.ReservedTicket.Seat.SeatSection
			number = res.ReservedTicket.Seat.SeatNumber
		}
		args = append(args,
			res.ID, res.ReservationNumber, string(res.Type), string(res.Status),
			res.ReservedTicket.TicketTypeID, res.ReservedTicket.TicketTypeName,
			section, number, nullableString(res.ReservedTicket.ItemID),
			res.ReservationFor.ID, res.ReservationFor.Name,
			res.ReservationFor.StartDate.UTC(), res.ReservationFor.EndDate.UTC(),
			res.PriceCents, string(components), now, now,
		)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert reservations: %w", err)
	}
	return nil
}

// FindByID loads one reservation.
func (r *ReservationRepo) FindByID(ctx context.Context, id string) (*model.Reservation, error) {
	q := `SELECT ` + reservationColumns + ` FROM reservations WHERE id = ?`
	res, err := scanReservation(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NewNotFound("reservation", id)
	}
	if err != nil {
		return nil, fmt.Errorf("select reservation: %w", err)
	}
	return res, nil
}

// CountByEvent counts reservations for an event with the given
// status. The aggregation task uses it to snapshot demand.
func (r *ReservationRepo) CountByEvent(ctx context.Context, eventID string, status model.ReservationStatus) (int64, error) {
	const q = `SELECT COUNT(*) FROM reservations WHERE event_id = ? AND status = ?`
	var n int64
	if err := r.db.QueryRowContext(ctx, q, eventID, string(status)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count reservations: %w", err)
	}
	return n, nil
}

// Cancel marks one reservation Cancelled if it still exists and is
// not already terminal. It reports whether a row changed; a missing
// document is not an error, because the compensation path calls this
// blindly for every reservation of a failed transaction.
func (r *ReservationRepo) Cancel(ctx context.Context, id string) (bool, error) {
	const q = `UPDATE reservations SET status = ?, updated_at = ? WHERE id = ? AND status = ?`
	res, err := r.db.ExecContext(ctx, q,
		string(model.ReservationStatusCancelled), time.Now().UTC(),
		id, string(model.ReservationStatusPending))
	if err != nil {
		return false, fmt.Errorf("cancel reservation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("cancel reservation: %w", err)
	}
	return n > 0, nil
}

// ConfirmByNumber moves every Pending reservation sharing the
// reservation number to Confirmed. Pending is the only status the
// update touches, so re-running the operation is harmless.
func (r *ReservationRepo) ConfirmByNumber(ctx context.Context, reservationNumber string) error {
	const q = `UPDATE reservations SET status = ?, updated_at = ?
               WHERE reservation_number = ? AND status = ?`
	if _, err := r.db.ExecContext(ctx, q,
		string(model.ReservationStatusConfirmed), time.Now().UTC(),
		reservationNumber, string(model.ReservationStatusPending)); err != nil {
		return fmt.Errorf("confirm reservations: %w", err)
	}
	return nil
}

// CheckIn flags a confirmed reservation as checked in at the venue.
func (r *ReservationRepo) CheckIn(ctx context.Context, id string) error {
	return r.setFlag(ctx, id, "checked_in")
}

// Attend flags a confirmed reservation as attended.
func (r *ReservationRepo) Attend(ctx context.Context, id string) error {
	return r.setFlag(ctx, id, "attended")
}

func (r *ReservationRepo) setFlag(ctx context.Context, id, column string) error {
	q := `UPDATE reservations SET ` + column + ` = 1, updated_at = ? WHERE id = ? AND status = ?`
	res, err := r.db.ExecContext(ctx, q, time.Now().UTC(), id, string(model.ReservationStatusConfirmed))
	if err != nil {
		return fmt.Errorf("update reservation %s: %w", column, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update reservation %s: %w", column, err)
	}
	if n == 0 {
		return errs.NewNotFound("confirmed reservation", id)
	}
	return nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanReservation(row rowScanner) (*model.Reservation, error) {
	var (
		res              model.Reservation
		typ, status      string
		section, number  sql.NullString
		itemID           sql.NullString
		components       string
		checkedIn        bool
		attended         bool
		createdAt        time.Time
		updatedAt        time.Time
	)
	if err := row.Scan(
		&res.ID, &res.ReservationNumber, &typ, &status,
		&res.ReservedTicket.TicketTypeID, &res.ReservedTicket.TicketTypeName,
		&section, &number, &itemID,
		&res.ReservationFor.ID, &res.ReservationFor.Name,
		&res.ReservationFor.StartDate, &res.ReservationFor.EndDate,
		&res.PriceCents, &components, &checkedIn, &attended, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}
	res.Type = model.ReservationType(typ)
	res.Status = model.ReservationStatus(status)
	if section.Valid || number.Valid {
		res.ReservedTicket.Seat = &model.SeatSpec{
			SeatSection: section.String,
			SeatNumber:  number.String,
		}
	}
	if itemID.Valid {
		res.ReservedTicket.ItemID = itemID.String
	}
	if err := json.Unmarshal([]byte(components), &res.PriceComponents); err != nil {
		return nil, fmt.Errorf("unmarshal price components: %w", err)
	}
	res.CheckedIn = checkedIn
	res.Attended = attended
	res.ReservationFor.StartDate = res.ReservationFor.StartDate.UTC()
	res.ReservationFor.EndDate = res.ReservationFor.EndDate.UTC()
	return &res, nil
}

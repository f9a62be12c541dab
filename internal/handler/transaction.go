package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/cinetick/reservation-engine/internal/errs"
	"github.com/cinetick/reservation-engine/internal/model"
	"github.com/cinetick/reservation-engine/internal/transaction"
)

// Booker is the slice of the orchestrator the transaction handler
// drives.
type Booker interface {
	Start(ctx context.Context, params transaction.StartParams) (*model.ReserveTransaction, error)
	AddReservations(ctx context.Context, txID, eventID string, accepted []model.AcceptedOffer) ([]model.Reservation, error)
	Confirm(ctx context.Context, ref transaction.Ref, purpose string) (*model.ReserveTransaction, error)
	Cancel(ctx context.Context, ref transaction.Ref) (*model.ReserveTransaction, error)
}

// TransactionHandler exposes the reserve-transaction lifecycle over
// HTTP.
type TransactionHandler struct {
	booker Booker
}

// NewTransactionHandler returns a handler backed by the given booker.
func NewTransactionHandler(b Booker) *TransactionHandler {
	return &TransactionHandler{booker: b}
}

type startRequest struct {
	TransactionNumber string                `json:"transaction_number"`
	ExpiresAt         time.Time             `json:"expires_at" validate:"required"`
	EventID           string                `json:"event_id"`
	AcceptedOffers    []model.AcceptedOffer `json:"accepted_offers"`
}

type transactionResponse struct {
	ID                string              `json:"id"`
	TransactionNumber string              `json:"transaction_number"`
	Status            string              `json:"status"`
	ExpiresAt         time.Time           `json:"expires_at"`
	Reservations      []model.Reservation `json:"reservations,omitempty"`
}

func toResponse(tx *model.ReserveTransaction) transactionResponse {
	return transactionResponse{
		ID:                tx.ID,
		TransactionNumber: tx.TransactionNumber,
		Status:            string(tx.Status),
		ExpiresAt:         tx.ExpiresAt,
		Reservations:      tx.Object.Reservations,
	}
}

// Start opens a reserve transaction. When the body carries an event
// and accepted offers the first reservations are placed in the same
// call.
func (h *TransactionHandler) Start(c echo.Context) error {
	var req startRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	tx, err := h.booker.Start(c.Request().Context(), transaction.StartParams{
		TransactionNumber: req.TransactionNumber,
		ExpiresAt:         req.ExpiresAt,
		EventID:           req.EventID,
		AcceptedOffers:    req.AcceptedOffers,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, toResponse(tx))
}

type addReservationsRequest struct {
	EventID        string                `json:"event_id" validate:"required"`
	AcceptedOffers []model.AcceptedOffer `json:"accepted_offers" validate:"required,min=1"`
}

// AddReservations locks the requested seats and appends pending
// reservations to an in-progress transaction.
func (h *TransactionHandler) AddReservations(c echo.Context) error {
	var req addReservationsRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	reservations, err := h.booker.AddReservations(c.Request().Context(), c.Param("id"), req.EventID, req.AcceptedOffers)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"reservations": reservations})
}

type confirmRequest struct {
	Purpose string `json:"purpose"`
}

// Confirm settles an in-progress transaction.
func (h *TransactionHandler) Confirm(c echo.Context) error {
	var req confirmRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	tx, err := h.booker.Confirm(c.Request().Context(), transaction.Ref{ID: c.Param("id")}, req.Purpose)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, toResponse(tx))
}

// Cancel aborts an in-progress transaction and releases its holds.
func (h *TransactionHandler) Cancel(c echo.Context) error {
	tx, err := h.booker.Cancel(c.Request().Context(), transaction.Ref{ID: c.Param("id")})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, toResponse(tx))
}

// writeError maps domain errors onto HTTP statuses. Anything
// unrecognized is a 500 with a generic body so internals do not leak.
func writeError(c echo.Context, err error) error {
	switch {
	case errs.IsArgument(err):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	case errs.IsNotFound(err):
		return c.JSON(http.StatusNotFound, echo.Map{"error": err.Error()})
	case errors.Is(err, errs.ErrAlreadyInUse):
		return c.JSON(http.StatusConflict, echo.Map{"error": "offer already in use"})
	case errors.Is(err, errs.ErrConflict):
		return c.JSON(http.StatusConflict, echo.Map{"error": "conflicting request"})
	case errors.Is(err, errs.ErrRateLimitExceeded):
		return c.JSON(http.StatusTooManyRequests, echo.Map{"error": "offer rate limit exceeded"})
	case errors.Is(err, errs.ErrServiceUnavailable):
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "upstream unavailable"})
	default:
		c.Logger().Errorf("transaction handler: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
}

package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/cinetick/reservation-engine/internal/model"
)

// SeatAvailability reads the lock store for an event.
type SeatAvailability interface {
	UnavailableOffers(ctx context.Context, eventID string) ([]model.OfferItem, error)
	CountUnavailableOffers(ctx context.Context, eventID string) (int64, error)
}

// AvailabilityHandler serves the public unavailable-offers view that
// seat maps poll while customers pick seats.
type AvailabilityHandler struct {
	seats SeatAvailability
}

// NewAvailabilityHandler returns a handler reading the given store.
func NewAvailabilityHandler(seats SeatAvailability) *AvailabilityHandler {
	return &AvailabilityHandler{seats: seats}
}

type unavailableOffer struct {
	SeatSection string `json:"seat_section,omitempty"`
	SeatNumber  string `json:"seat_number,omitempty"`
	ItemID      string `json:"item_id,omitempty"`
}

// GetUnavailableOffers lists the currently held offers of one event.
func (h *AvailabilityHandler) GetUnavailableOffers(c echo.Context) error {
	eventID := c.Param("id")
	if eventID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "missing event id"})
	}

	ctx := c.Request().Context()
	items, err := h.seats.UnavailableOffers(ctx, eventID)
	if err != nil {
		return writeError(c, err)
	}

	offers := make([]unavailableOffer, 0, len(items))
	for _, it := range items {
		o := unavailableOffer{ItemID: it.ItemID}
		if it.Seat != nil {
			o.SeatSection = it.Seat.SeatSection
			o.SeatNumber = it.Seat.SeatNumber
		}
		offers = append(offers, o)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"event_id": eventID,
		"count":    len(offers),
		"offers":   offers,
	})
}

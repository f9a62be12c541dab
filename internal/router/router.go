// Package router wires the booking API's routes to their handlers.
package router

import (
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/cinetick/reservation-engine/internal/config"
	"github.com/cinetick/reservation-engine/internal/handler"
	"github.com/cinetick/reservation-engine/internal/middleware"
)

// Register mounts every route of the engine on the given Echo
// instance. Booking endpoints sit behind JWT auth; the availability
// endpoint is public but throttled.
func Register(
	e *echo.Echo,
	tx *handler.TransactionHandler,
	availability *handler.AvailabilityHandler,
	jwtSecret string,
	rlCfg config.RateLimitConfig,
	rdb *redis.Client,
) {
	e.GET("/healthz", handler.Health)

	public := e.Group("/v1")
	public.Use(middleware.NewTokenBucket(rlCfg, rdb))
	public.GET("/events/:id/offers/unavailable", availability.GetUnavailableOffers)

	booking := e.Group("/v1")
	booking.Use(middleware.JWTAuth(jwtSecret))
	booking.POST("/transactions", tx.Start)
	booking.POST("/transactions/:id/reservations", tx.AddReservations)
	booking.PUT("/transactions/:id/confirm", tx.Confirm)
	booking.PUT("/transactions/:id/cancel", tx.Cancel)
}

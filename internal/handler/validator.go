// Package handler contains the HTTP handlers of the booking API.
package handler

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

// Validator adapts go-playground/validator to Echo's Validator
// interface so handlers can call c.Validate on bound request bodies.
type Validator struct {
	validate *validator.Validate
}

// NewValidator returns a ready validator.
func NewValidator() *Validator {
	return &Validator{validate: validator.New()}
}

// Validate implements echo.Validator. Struct-tag violations come back
// as a 400 with the validator's message.
func (v *Validator) Validate(i interface{}) error {
	if err := v.validate.Struct(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

// Package validator provides validation infrastructure for the application.
// This is part of the platform layer and contains no business logic.
package validator

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validator wraps the go-playground validator for structured validation.
// Using a struct allows for dependency injection and easier testing.
type Validator struct {
	v *validator.Validate
}

// New creates a new Validator instance with the domain rules registered.
func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("funnelstage", validateFunnelStage)
	return &Validator{v: v}
}

var funnelStages = map[string]struct{}{
	"WELCOME": {}, "CONNECTION": {}, "TRIGGER_PHASE": {}, "HOT_TALK": {}, "PREVIEW": {},
	"SALES_PITCH": {}, "NEGOTIATION": {}, "CLOSING": {}, "PAYMENT_CHECK": {}, "PAYMENT_CONFIRMED": {},
}

// validateFunnelStage accepts empty values; combine with required when needed.
func validateFunnelStage(fl validator.FieldLevel) bool {
	value := strings.ToUpper(strings.TrimSpace(fl.Field().String()))
	if value == "" {
		return true
	}
	_, ok := funnelStages[value]
	return ok
}

// Struct validates a struct based on validation tags.
func (val *Validator) Struct(s any) error {
	return val.v.Struct(s)
}

// Var validates a single variable against a tag.
func (val *Validator) Var(field any, tag string) error {
	return val.v.Var(field, tag)
}

// RegisterValidation registers a custom validation function.
func (val *Validator) RegisterValidation(tag string, fn validator.Func) error {
	return val.v.RegisterValidation(tag, fn)
}

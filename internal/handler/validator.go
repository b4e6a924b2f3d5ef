package handler

import (
	validatorv10 "github.com/go-playground/validator/v10"
)

// Validator adapts go-playground/validator to echo.Validator.
type Validator struct {
	v *validatorv10.Validate
}

func NewValidator() *Validator {
	return &Validator{v: validatorv10.New(validatorv10.WithRequiredStructEnabled())}
}

func (v *Validator) Validate(i interface{}) error {
	return v.v.Struct(i)
}

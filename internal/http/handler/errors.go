package handler

import "ontoreason.app/engine/internal/apperr"

// validationErr wraps a gin binding error as a VALIDATION apperr so it maps
// to HTTP 400 through the same envelope path as a service-level failure.
func validationErr(err error) error {
	return apperr.Wrap(apperr.Validation, "invalid request body", err)
}

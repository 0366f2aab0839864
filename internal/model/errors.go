package model

import "errors"

// Error classes shared across packages. Callers wrap them with context and
// classify with errors.Is; the HTTP layer maps each class to one status code.
var (
	ErrValidation   = errors.New("validation failed")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrUpstream     = errors.New("upstream provider failed")
	ErrInternal     = errors.New("internal error")
	ErrUnauthorized = errors.New("unauthorized")
)

package model

import "errors"

var (
	// ErrNotFound is returned when a resource is not found.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when a resource already exists.
	ErrAlreadyExists = errors.New("already exists")
	// ErrNotValid is returned when a resource is not valid.
	ErrNotValid = errors.New("not valid")
	// ErrUnauthenticated is returned when there is no valid session for the operation.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden is returned when the identity can't access the resource.
	ErrForbidden = errors.New("forbidden")
	// ErrRateLimited is returned when too many requests have been made in a short period.
	ErrRateLimited = errors.New("rate limited")
)

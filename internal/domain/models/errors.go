package models

import "errors"

var (
	// ErrInvalidArgument is returned when a request is rejected before any work starts.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrInvalidRange is returned for an entry range whose min is not below its max.
	ErrInvalidRange = errors.New("invalid range")
	// ErrNotFound is returned for unknown ids.
	ErrNotFound = errors.New("not found")
	// ErrInvalidSchedule is returned for malformed trading calendar configuration.
	ErrInvalidSchedule = errors.New("invalid schedule config")
	// ErrBusy is returned when a singleton run is already in progress.
	ErrBusy = errors.New("already running")
)

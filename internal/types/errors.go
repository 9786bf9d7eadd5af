package types

import "errors"

// ErrNotFound is returned by mutations that target a record that does not exist.
// Plain lookups return (nil, nil) instead.
var ErrNotFound = errors.New("not found")

// ErrAlreadyResolved is returned when a correction targets an anomaly that is no longer ACTIVE
var ErrAlreadyResolved = errors.New("anomaly already resolved")

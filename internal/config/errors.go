package config

import "errors"

// ErrNotFound is returned when a requested resource does not exist in the store.
var ErrNotFound = errors.New("not found")

// ErrExists is returned when an insert would violate a uniqueness constraint.
var ErrExists = errors.New("already exists")

// Package repository defines the typed persistence contracts for every
// entity in the control plane. Concrete implementations live in
// internal/repository/postgres; callers depend only on these interfaces
// so tests can supply fakes/sqlmock doubles.
package repository

import "errors"

// ErrNotFound is returned by Get-style methods when no row matches.
var ErrNotFound = errors.New("repository: not found")

// ErrAlreadyExists is returned when a unique constraint (e.g. idempotency
// key, lead email per org) would be violated by an insert.
var ErrAlreadyExists = errors.New("repository: already exists")

// Package store declares the persistence ports. Implementations live in
// the memory, sqlite and redis subpackages.
package store

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("already exists")
	ErrAttemptNotPending = errors.New("verification attempt is not pending")
)

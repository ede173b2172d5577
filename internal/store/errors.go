package store

import "errors"

var (
	// ErrNotFound is returned when no entity exists for the given id.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned when a compare-and-swap precondition fails.
	// The caller should re-read and retry.
	ErrConflict = errors.New("store: conflict")
	// ErrBusy is returned after bounded CAS retries keep conflicting.
	ErrBusy = errors.New("store: busy")
)

// casRetries bounds internal retry loops before surfacing ErrBusy.
const casRetries = 3

// RetryCAS runs fn up to casRetries times while it returns ErrConflict.
// Any other error (or success) is returned as-is; persistent conflict
// becomes ErrBusy.
func RetryCAS(fn func() error) error {
	var err error
	for i := 0; i < casRetries; i++ {
		err = fn()
		if !errors.Is(err, ErrConflict) {
			return err
		}
	}
	return ErrBusy
}

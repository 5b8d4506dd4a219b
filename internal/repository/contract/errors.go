package contract

import (
	"errors"
	"fmt"
)

var (
	// ErrStoreUnavailable wraps any failure of the backing store.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrStateCorrupt is returned when a persisted session cannot be decoded.
	ErrStateCorrupt = errors.New("session state corrupt")
)

// StoreError tags err as ErrStoreUnavailable unless it already is.
func StoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrStateCorrupt) {
		return err
	}
	return fmt.Errorf("%s: %w: %v", op, ErrStoreUnavailable, err)
}

package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrUnavailable covers connection failures and non-success replies.
	ErrUnavailable = errors.New("inference backend unavailable")
	// ErrTimeout is returned when the caller's deadline expired first.
	ErrTimeout = errors.New("inference backend timed out")
)

// Classify wraps a transport-level error into ErrTimeout or ErrUnavailable.
// Errors that already carry one of them are returned as is.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, ErrUnavailable) {
		return err
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%s: %w: %v", op, ErrTimeout, err)
	}
	return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
}

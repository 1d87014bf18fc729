package delivery

import (
	"errors"
	"fmt"
)

var (
	ErrRecipientBlocked     = errors.New("recipient blocked after repeated delivery failures")
	ErrConfigurationMissing = errors.New("transport configuration missing")
	ErrStopped              = errors.New("delivery queue stopped")
)

// TransportError is a carrier-side failure (network, auth, protocol).
// The queue retries it up to the attempt cap.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	if e.Op == "" {
		return "transport: " + e.Err.Error()
	}
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// NoRetry marks an error as permanent.
//
// The queue fails the item on the first such error instead of requeueing it:
//
//	return delivery.Receipt{}, delivery.NoRetry(fmt.Errorf("bad address %q", to))
func NoRetry(err error) error {
	if err == nil {
		return nil
	}
	return noRetryError{err: err}
}

// IsNoRetry reports whether err is wrapped with NoRetry.
func IsNoRetry(err error) bool {
	var e noRetryError
	return errors.As(err, &e)
}

type noRetryError struct{ err error }

func (e noRetryError) Error() string { return e.err.Error() }
func (e noRetryError) Unwrap() error { return e.err }

package feed

import (
	"errors"
	"fmt"
)

var errChannelDropped = errors.New("push channel dropped")

// FetchError wraps a failed snapshot or secondary lookup. Recoverable: the
// surface shows an error state, nothing auto-retries.
type FetchError struct {
	Scope Scope
	Err   error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Scope.Key(), e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// SubscriptionError wraps a push channel that failed to open or dropped
// after the single reconnect attempt.
type SubscriptionError struct {
	Scope Scope
	Err   error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("subscription %s: %v", e.Scope.Key(), e.Err)
}

func (e *SubscriptionError) Unwrap() error { return e.Err }

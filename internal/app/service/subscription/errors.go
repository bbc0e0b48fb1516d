package subscription

import "errors"

var (
	ErrSubscriptionNotFound       = errors.New("subscription not found")
	ErrAccountNotFound            = errors.New("account not found")
	ErrExistingActiveSubscription = errors.New("account already holds an active subscription")
	// ErrConcurrentTransitionLost means another writer advanced the row first.
	ErrConcurrentTransitionLost = errors.New("subscription changed concurrently")
	ErrInvalidTransition        = errors.New("transition not allowed from current status")
	ErrStaleEvent               = errors.New("event older than the last applied event")
	ErrDuplicateEvent           = errors.New("event already applied")
	ErrSubscriptionEnded        = errors.New("subscription term has ended")
	ErrPlanNotPurchasable       = errors.New("plan cannot be purchased")
)

// IsNoop reports whether err means the requested change is already reflected
// or was overtaken, so the caller should treat it as success.
func IsNoop(err error) bool {
	return errors.Is(err, ErrDuplicateEvent) ||
		errors.Is(err, ErrStaleEvent) ||
		errors.Is(err, ErrConcurrentTransitionLost)
}

package billing

import (
	"errors"
	"strings"
)

var (
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrPlanNotFound         = errors.New("plan not found")
	ErrAutoRenewalNotFound  = errors.New("auto-renewal not found")
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrPreferencesNotFound  = errors.New("billing preferences not found")

	// ErrVerificationInProgress is returned when another worker holds the verification lock
	ErrVerificationInProgress = errors.New("payment verification already in progress")

	// ErrUsageUnavailable is returned by TenantDirectory when usage cannot be fetched
	ErrUsageUnavailable = errors.New("tenant usage unavailable")
)

// ValidationError is a rejected operation. It is never retried.
type ValidationError struct {
	Reasons []string
}

// NewValidationError creates a validation error with one or more reasons
func NewValidationError(reasons ...string) *ValidationError {
	return &ValidationError{Reasons: reasons}
}

func (e *ValidationError) Error() string {
	return strings.Join(e.Reasons, "; ")
}

// IsValidation reports whether err is or wraps a *ValidationError
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsNotFound reports whether err is one of the not-found sentinels
func IsNotFound(err error) bool {
	return errors.Is(err, ErrSubscriptionNotFound) ||
		errors.Is(err, ErrPlanNotFound) ||
		errors.Is(err, ErrAutoRenewalNotFound) ||
		errors.Is(err, ErrPaymentNotFound) ||
		errors.Is(err, ErrPreferencesNotFound)
}

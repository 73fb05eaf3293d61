package shared

import "errors"

var (
	// ErrNotFound indicates a missing medication, cart, or transfer.
	ErrNotFound = errors.New("not found")
	// ErrInsufficientStock indicates the bulk store cannot cover an issue.
	ErrInsufficientStock = errors.New("insufficient bulk stock")
	// ErrInsufficientActiveStock indicates an active store cannot cover a transfer.
	ErrInsufficientActiveStock = errors.New("insufficient active store stock")
	// ErrInsufficientDispensaryStock indicates a dispensary cannot cover a dispense.
	ErrInsufficientDispensaryStock = errors.New("insufficient dispensary stock")
	// ErrInvalidTransition indicates an action that violates a status workflow.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrAuthorizationRequired indicates an NHIA prescription lacks an authorization code.
	ErrAuthorizationRequired = errors.New("authorization code required")
	// ErrAuthorizationInvalid indicates the desk office rejected the authorization code.
	ErrAuthorizationInvalid = errors.New("authorization code invalid")
	// ErrCartExists indicates a prescription already has an open cart.
	ErrCartExists = errors.New("prescription already has an active cart")
	// ErrConflict indicates a concurrent mutation detected at commit.
	ErrConflict = errors.New("concurrent modification conflict")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("validation failed")
	// ErrForbidden indicates the principal's role does not permit the action.
	ErrForbidden = errors.New("forbidden")
)

// IsInsufficientStock reports whether the error is a stock shortfall on
// any inventory tier.
func IsInsufficientStock(err error) bool {
	return errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrInsufficientActiveStock) ||
		errors.Is(err, ErrInsufficientDispensaryStock)
}

// UserSafeMessage returns a message suitable for API consumers. Domain
// sentinels carry their own wording; anything else is masked.
func UserSafeMessage(err error) string {
	for _, known := range []error{
		ErrNotFound, ErrInsufficientStock, ErrInsufficientActiveStock,
		ErrInsufficientDispensaryStock, ErrInvalidTransition,
		ErrAuthorizationRequired, ErrAuthorizationInvalid,
		ErrCartExists, ErrConflict, ErrValidation, ErrForbidden,
	} {
		if errors.Is(err, known) {
			return err.Error()
		}
	}
	return "internal error"
}

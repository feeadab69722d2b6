package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy for the execution core. Callers match with errors.Is; call
// sites add context with fmt.Errorf and %w so the category survives wrapping.
var (
	// ErrInvariantViolation signals a broken data-model invariant. Fatal to
	// the operation, never retried.
	ErrInvariantViolation = errors.New("invariant violation")

	// ErrCurrencyMismatch is an invariant violation raised by arithmetic
	// between two Money values of different currencies.
	ErrCurrencyMismatch = fmt.Errorf("%w: currency mismatch", ErrInvariantViolation)

	// ErrStateMismatch signals an event addressed to a different entity than
	// the one it was applied to.
	ErrStateMismatch = errors.New("state mismatch")

	// ErrMissingCurrency signals a balance query that could not resolve a
	// currency, neither explicitly nor from the account's base currency.
	ErrMissingCurrency = errors.New("missing currency")

	// ErrInvalidStateTransition signals an event applied to an entity whose
	// current state does not permit it. The entity is left unchanged.
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// ErrMissingCollaborator signals a dependent call made before a required
	// engine registration was completed.
	ErrMissingCollaborator = errors.New("missing collaborator")

	// ErrProtocolViolation signals a venue report that contradicts an
	// already-established fact, such as a second venue order id.
	ErrProtocolViolation = errors.New("protocol violation")
)

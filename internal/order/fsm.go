// Package order implements the event-sourced order entity: a strict finite
// state machine driven by applying lifecycle events, with invariants on
// legal transitions, terminal states and venue identity.
package order

import (
	"fmt"

	"github.com/meridianhq/meridian/internal/domain"
)

// Status is an order lifecycle state. UpdateRejected and CancelRejected
// are transient: an order passes through them while a venue rejection
// resolves back to the resting status, but never rests on them.
type Status uint8

const (
	StatusInitialized Status = iota + 1
	StatusDenied
	StatusSubmitted
	StatusRejected
	StatusAccepted
	StatusTriggered
	StatusPendingUpdate
	StatusPendingCancel
	StatusUpdateRejected
	StatusCancelRejected
	StatusPartiallyFilled
	StatusFilled
	StatusCanceled
	StatusExpired
)

// String returns the canonical record encoding for the status
func (s Status) String() string {
	switch s {
	case StatusInitialized:
		return "INITIALIZED"
	case StatusDenied:
		return "DENIED"
	case StatusSubmitted:
		return "SUBMITTED"
	case StatusRejected:
		return "REJECTED"
	case StatusAccepted:
		return "ACCEPTED"
	case StatusTriggered:
		return "TRIGGERED"
	case StatusPendingUpdate:
		return "PENDING_UPDATE"
	case StatusPendingCancel:
		return "PENDING_CANCEL"
	case StatusUpdateRejected:
		return "UPDATE_REJECTED"
	case StatusCancelRejected:
		return "CANCEL_REJECTED"
	case StatusPartiallyFilled:
		return "PARTIALLY_FILLED"
	case StatusFilled:
		return "FILLED"
	case StatusCanceled:
		return "CANCELED"
	case StatusExpired:
		return "EXPIRED"
	default:
		return "UNKNOWN"
	}
}

// StatusFromString parses the canonical record encoding
func StatusFromString(s string) (Status, error) {
	switch s {
	case "INITIALIZED":
		return StatusInitialized, nil
	case "DENIED":
		return StatusDenied, nil
	case "SUBMITTED":
		return StatusSubmitted, nil
	case "REJECTED":
		return StatusRejected, nil
	case "ACCEPTED":
		return StatusAccepted, nil
	case "TRIGGERED":
		return StatusTriggered, nil
	case "PENDING_UPDATE":
		return StatusPendingUpdate, nil
	case "PENDING_CANCEL":
		return StatusPendingCancel, nil
	case "UPDATE_REJECTED":
		return StatusUpdateRejected, nil
	case "CANCEL_REJECTED":
		return StatusCancelRejected, nil
	case "PARTIALLY_FILLED":
		return StatusPartiallyFilled, nil
	case "FILLED":
		return StatusFilled, nil
	case "CANCELED":
		return StatusCanceled, nil
	case "EXPIRED":
		return StatusExpired, nil
	default:
		return 0, fmt.Errorf("unknown order status %q", s)
	}
}

// IsTerminal reports whether the status ends the order's lifecycle. An
// order in a terminal status rejects all further events. This is also the
// completion set the strategy runtime releases stop-loss and take-profit
// registrations on.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusDenied, StatusRejected, StatusCanceled, StatusExpired, StatusFilled:
		return true
	default:
		return false
	}
}

// IsWorking reports whether the order is live at the venue
func (s Status) IsWorking() bool {
	switch s {
	case StatusAccepted, StatusTriggered, StatusPendingUpdate, StatusPendingCancel, StatusPartiallyFilled:
		return true
	default:
		return false
	}
}

// IsPending reports whether the order awaits a venue decision on a modify
// or cancel request.
func (s Status) IsPending() bool {
	return s == StatusPendingUpdate || s == StatusPendingCancel
}

// Trigger identifies the lifecycle event kind driving a transition
type Trigger uint8

const (
	TriggerDenied Trigger = iota + 1
	TriggerSubmitted
	TriggerRejected
	TriggerAccepted
	TriggerTriggered
	TriggerPendingUpdate
	TriggerPendingCancel
	TriggerModifyRejected
	TriggerCancelRejected
	TriggerUpdated
	TriggerCanceled
	TriggerExpired
	TriggerPartialFill
	TriggerFill
)

// String returns the trigger name used in transition errors
func (t Trigger) String() string {
	switch t {
	case TriggerDenied:
		return "Denied"
	case TriggerSubmitted:
		return "Submitted"
	case TriggerRejected:
		return "Rejected"
	case TriggerAccepted:
		return "Accepted"
	case TriggerTriggered:
		return "Triggered"
	case TriggerPendingUpdate:
		return "PendingUpdate"
	case TriggerPendingCancel:
		return "PendingCancel"
	case TriggerModifyRejected:
		return "ModifyRejected"
	case TriggerCancelRejected:
		return "CancelRejected"
	case TriggerUpdated:
		return "Updated"
	case TriggerCanceled:
		return "Canceled"
	case TriggerExpired:
		return "Expired"
	case TriggerPartialFill:
		return "PartialFill"
	case TriggerFill:
		return "Fill"
	default:
		return "Unknown"
	}
}

// transitions maps each trigger to its legal source statuses and fixed
// target. Triggers resolving to a non-fixed target (the saved resting
// status) set restorePrevious instead.
var transitions = map[Trigger]struct {
	sources         []Status
	target          Status
	restorePrevious bool
	transient       Status // intermediate status passed through, if any
}{
	TriggerDenied:    {sources: []Status{StatusInitialized}, target: StatusDenied},
	TriggerSubmitted: {sources: []Status{StatusInitialized}, target: StatusSubmitted},
	TriggerRejected:  {sources: []Status{StatusSubmitted}, target: StatusRejected},
	TriggerAccepted:  {sources: []Status{StatusSubmitted}, target: StatusAccepted},
	TriggerTriggered: {
		sources: []Status{StatusAccepted, StatusPendingUpdate, StatusPendingCancel},
		target:  StatusTriggered,
	},
	TriggerPendingUpdate: {
		sources: []Status{StatusAccepted, StatusTriggered, StatusPartiallyFilled},
		target:  StatusPendingUpdate,
	},
	TriggerPendingCancel: {
		sources: []Status{StatusAccepted, StatusTriggered, StatusPartiallyFilled, StatusPendingUpdate},
		target:  StatusPendingCancel,
	},
	TriggerModifyRejected: {
		sources:         []Status{StatusPendingUpdate},
		restorePrevious: true,
		transient:       StatusUpdateRejected,
	},
	TriggerCancelRejected: {
		sources:         []Status{StatusPendingCancel},
		restorePrevious: true,
		transient:       StatusCancelRejected,
	},
	TriggerUpdated: {
		sources:         []Status{StatusAccepted, StatusTriggered, StatusPartiallyFilled, StatusPendingUpdate},
		restorePrevious: true,
	},
	TriggerCanceled: {
		sources: []Status{StatusAccepted, StatusTriggered, StatusPartiallyFilled, StatusPendingUpdate, StatusPendingCancel},
		target:  StatusCanceled,
	},
	TriggerExpired: {
		sources: []Status{StatusAccepted, StatusTriggered, StatusPartiallyFilled, StatusPendingUpdate, StatusPendingCancel},
		target:  StatusExpired,
	},
	TriggerPartialFill: {
		sources: []Status{StatusSubmitted, StatusAccepted, StatusTriggered, StatusPartiallyFilled, StatusPendingUpdate, StatusPendingCancel},
		target:  StatusPartiallyFilled,
	},
	TriggerFill: {
		sources: []Status{StatusSubmitted, StatusAccepted, StatusTriggered, StatusPartiallyFilled, StatusPendingUpdate, StatusPendingCancel},
		target:  StatusFilled,
	},
}

// Transition resolves the status an order in `from` moves to when a
// trigger fires. `previous` is the resting status saved when the order
// entered a pending state; triggers that unwind a pending request resolve
// back to it, except an Updated applied outside a pending state, which
// leaves the status where it is.
func Transition(from, previous Status, trigger Trigger) (Status, error) {
	rule, ok := transitions[trigger]
	if !ok {
		return 0, fmt.Errorf("%w: unknown trigger %s", domain.ErrInvalidStateTransition, trigger)
	}

	legal := false
	for _, s := range rule.sources {
		if s == from {
			legal = true
			break
		}
	}
	if !legal {
		return 0, fmt.Errorf("%w: %s not allowed from %s", domain.ErrInvalidStateTransition, trigger, from)
	}

	if !rule.restorePrevious {
		return rule.target, nil
	}
	if from.IsPending() {
		return previous, nil
	}
	return from, nil
}

// TransientFor returns the transient status a trigger passes through, or
// zero when the trigger resolves directly.
func TransientFor(trigger Trigger) (Status, bool) {
	rule, ok := transitions[trigger]
	if !ok || rule.transient == 0 {
		return 0, false
	}
	return rule.transient, true
}

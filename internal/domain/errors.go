package domain

import "errors"

// Sentinel errors shared across modules. Services wrap these with
// fmt.Errorf("...: %w", ...) and the HTTP layer maps them to status
// codes with errors.Is.
var (
	// ErrValidation covers malformed or out-of-range request input.
	ErrValidation = errors.New("validation failed")

	// ErrUnknownUser - the referenced user does not exist.
	ErrUnknownUser = errors.New("unknown user")

	// ErrUnknownInstrument - the referenced stock or company does not exist.
	ErrUnknownInstrument = errors.New("unknown instrument")

	// ErrSuspended - the trader has an active suspension covering the stock.
	ErrSuspended = errors.New("trader is suspended")

	// ErrOutsideWindow - the action is only allowed during trading hours.
	ErrOutsideWindow = errors.New("outside trading window")

	// ErrDailyCountExceeded - the per-trader daily order count limit is hit.
	ErrDailyCountExceeded = errors.New("daily trade limit exceeded")

	// ErrDailyAmountExceeded - the per-trader daily traded amount limit is hit.
	ErrDailyAmountExceeded = errors.New("daily trade amount limit exceeded")

	// ErrInsufficientCash - the buyer cannot cover cost plus fee.
	ErrInsufficientCash = errors.New("insufficient cash")

	// ErrInsufficientShares - the seller's net long position is too small.
	ErrInsufficientShares = errors.New("insufficient shares")

	// ErrInventoryExhausted - company inventory cannot cover the request.
	ErrInventoryExhausted = errors.New("company inventory exhausted")

	// ErrConflict - the operation contradicts current state, for example
	// cancelling an already filled order.
	ErrConflict = errors.New("conflicting state")

	// ErrAlreadyDisbursed - the dividend was already paid out.
	ErrAlreadyDisbursed = errors.New("dividend already disbursed")

	// ErrNoEligibleHoldings - no holding met the dividend eligibility rule.
	ErrNoEligibleHoldings = errors.New("no eligible holdings")

	// ErrResourceBusy - a per-stock lock could not be acquired in time.
	ErrResourceBusy = errors.New("resource busy")

	// ErrForbidden - the caller's role does not permit the action.
	ErrForbidden = errors.New("forbidden")
)

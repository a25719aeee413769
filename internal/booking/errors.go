package booking

import "errors"

var (
	ErrMissingPickup       = errors.New("pickup location is required")
	ErrMissingDropoff      = errors.New("dropoff location is required")
	ErrMissingVehicle      = errors.New("select a vehicle type")
	ErrInsufficientBalance = errors.New("wallet balance is too low for this trip")
	ErrActiveOrderExists   = errors.New("an order is already active")
	ErrNoActiveOrder       = errors.New("no active order")
)

// HintTopUp asks the UI to offer the wallet top-up screen.
const HintTopUp = "top_up"

// ValidationError blocks a booking before anything is sent. Hint names the
// screen that resolves the problem, if any.
type ValidationError struct {
	Reason error
	Hint   string
}

func (e *ValidationError) Error() string { return e.Reason.Error() }

func (e *ValidationError) Unwrap() error { return e.Reason }

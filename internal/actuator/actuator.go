package actuator

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotInitialized reports that the servo driver never attached.
	ErrNotInitialized = errors.New("actuator not initialized")
)

// DriveError wraps a hardware fault from one motion phase.
type DriveError struct {
	Phase string
	Err   error
}

func (e *DriveError) Error() string {
	return fmt.Sprintf("drive failure in %s phase: %v", e.Phase, e.Err)
}

func (e *DriveError) Unwrap() error { return e.Err }

// Driver abstracts pulse-width position control of the dispense servo.
//
// Implementations must be safe for sequential use; the Feeder guarantees
// calls are never concurrent.
type Driver interface {
	MoveToRest() error
	MoveToDispense() error
	// Release detaches the servo so it does not consume power or hold
	// torque between feeds.
	Release() error
}

// Timing holds the hold durations of the three-phase motion. The values
// are tunables, not a contract.
type Timing struct {
	RestSettle   time.Duration
	DispenseHold time.Duration
	ReturnSettle time.Duration
}

// DefaultTiming matches the mechanics of the stock dispenser drum.
func DefaultTiming() Timing {
	return Timing{
		RestSettle:   500 * time.Millisecond,
		DispenseHold: time.Second,
		ReturnSettle: 500 * time.Millisecond,
	}
}

func (t Timing) withDefaults() Timing {
	d := DefaultTiming()
	if t.RestSettle > 0 {
		d.RestSettle = t.RestSettle
	}
	if t.DispenseHold > 0 {
		d.DispenseHold = t.DispenseHold
	}
	if t.ReturnSettle > 0 {
		d.ReturnSettle = t.ReturnSettle
	}
	return d
}

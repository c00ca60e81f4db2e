package softi2c

import (
	"errors"
	"fmt"
)

// ErrBusBusy is returned when a request is issued while the engine still runs a transaction.
var ErrBusBusy = fmt.Errorf("I2C engine is busy (command not completed)")

// ErrInvalidWidth is returned for register widths the engine does not support.
var ErrInvalidWidth = errors.New("unsupported register width")

// ErrNack signals that the device did not acknowledge the address or a written byte.
var ErrNack = errors.New("NACK received")

// ErrBusStuck signals that the clock or data line stays low after recovery.
var ErrBusStuck = errors.New("bus stuck low")

// ErrSequence is reported when a channel failed during the acquisition script.
var ErrSequence = errors.New("acquisition sequence failed")

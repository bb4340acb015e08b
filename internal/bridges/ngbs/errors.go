package ngbs

import "errors"

// Domain errors for the bridge package.
var (
	// ErrDeviceNotManaged is returned when a command or request targets a
	// device the bridge is not running.
	ErrDeviceNotManaged = errors.New("bridge: device not managed")

	// ErrDeviceManaged is returned when adding a device that is already running.
	ErrDeviceManaged = errors.New("bridge: device already managed")

	// ErrUnknownCommand is returned for a command name the bridge does not know.
	ErrUnknownCommand = errors.New("bridge: unknown command")

	// ErrInvalidParameters is returned when command parameters are missing
	// or have the wrong type.
	ErrInvalidParameters = errors.New("bridge: invalid parameters")

	// ErrNoFeed is returned when no feed is configured for a device kind.
	ErrNoFeed = errors.New("bridge: no feed for device kind")
)

package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when a device ID does not exist.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrDeviceExists is returned when the ID, or the thermostat on its
	// controller, is already paired.
	ErrDeviceExists = errors.New("device: already exists")

	// ErrInvalidDevice is returned when device validation fails.
	ErrInvalidDevice = errors.New("device: invalid")

	// ErrInvalidKind is returned when the driver kind is not recognised.
	ErrInvalidKind = errors.New("device: invalid kind")

	// ErrInvalidAddress is returned when the controller address does not
	// parse or does not fit the kind.
	ErrInvalidAddress = errors.New("device: invalid address")

	// ErrInvalidName is returned when a device name is empty or too long.
	ErrInvalidName = errors.New("device: invalid name")

	// ErrInvalidSlug is returned when a slug format is invalid.
	ErrInvalidSlug = errors.New("device: invalid slug")

	// ErrInvalidSettings is returned when a setting value is malformed.
	ErrInvalidSettings = errors.New("device: invalid settings")

	// ErrInvalidHealthStatus is returned for an unknown health status.
	ErrInvalidHealthStatus = errors.New("device: invalid health status")
)

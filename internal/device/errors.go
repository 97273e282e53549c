package device

import (
	"errors"
	"fmt"
)

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrUnsupportedMethod) {
//	    // handle unsupported method
//	}
var (
	// ErrUnknownDeviceType is returned when a device type is not registered.
	ErrUnknownDeviceType = errors.New("device: unknown device type")

	// ErrInvalidConnectionParams is returned when an address or token fails validation.
	ErrInvalidConnectionParams = errors.New("device: invalid connection params")

	// ErrInvalidID is returned when a caller-supplied device ID is malformed.
	ErrInvalidID = errors.New("device: invalid id")

	// ErrMalformedRecord is returned when a serialized record is missing or
	// mistypes a required field.
	ErrMalformedRecord = errors.New("device: malformed record")

	// ErrUnsupportedMethod is returned when a method is absent from the type's schema.
	ErrUnsupportedMethod = errors.New("device: unsupported method")

	// ErrInvalidArguments is returned when call arguments do not match the method schema.
	ErrInvalidArguments = errors.New("device: invalid arguments")

	// ErrBridge marks a fault raised by the boundary call. The outcome on the
	// physical device is indeterminate.
	ErrBridge = errors.New("device: bridge error")

	// ErrNotDispatched marks a call a Caller gave up on before it reached the
	// boundary, typically because ctx ended while waiting for the call slot.
	// The device was not contacted.
	ErrNotDispatched = errors.New("device: call not dispatched")

	// ErrInvalidSchema is returned when capability metadata fails shape checks.
	ErrInvalidSchema = errors.New("device: invalid capability schema")

	// ErrDeviceNotFound is returned when a device ID does not exist in a store.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrDeviceExists is returned when creating a device with an ID that already exists.
	ErrDeviceExists = errors.New("device: already exists")
)

// Error is a local validation failure with field-level detail.
// Kind is one of the package sentinels and is exposed through Unwrap.
type Error struct {
	Kind    error
	Field   string
	Message string
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%v: %s: %s", e.Kind, e.Field, e.Message)
	}
	return fmt.Sprintf("%v: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Kind }

func newError(kind error, field, format string, args ...any) *Error {
	return &Error{Kind: kind, Field: field, Message: fmt.Sprintf(format, args...)}
}

// BridgeError is a fault reported by the boundary. Error returns the
// diagnostic text exactly as the boundary produced it. Cause, when set, is
// the Caller's original error, so errors.Is still sees context errors.
type BridgeError struct {
	Method  string
	Message string
	Cause   error
}

func (e *BridgeError) Error() string { return e.Message }

func (e *BridgeError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrBridge}
	}
	return []error{ErrBridge, e.Cause}
}

// KindOf returns the package sentinel an error belongs to, or nil if the
// error did not originate from this package.
func KindOf(err error) error {
	var berr *BridgeError
	if errors.As(err, &berr) {
		return ErrBridge
	}
	for _, kind := range []error{
		ErrUnknownDeviceType,
		ErrInvalidConnectionParams,
		ErrInvalidID,
		ErrMalformedRecord,
		ErrUnsupportedMethod,
		ErrInvalidArguments,
		ErrBridge,
		ErrNotDispatched,
		ErrInvalidSchema,
		ErrDeviceNotFound,
		ErrDeviceExists,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

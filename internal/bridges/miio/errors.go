package miio

import "errors"

// Domain errors for the Miio bridge package.
var (
	// ErrNotRunning is returned when a call is attempted while the helper
	// process is not attached.
	ErrNotRunning = errors.New("miio: helper not running")

	// ErrHelperExited is returned to every pending call when the helper
	// process exits before answering.
	ErrHelperExited = errors.New("miio: helper exited")

	// ErrProtocol is returned when the helper sends a response that cannot
	// be decoded.
	ErrProtocol = errors.New("miio: malformed helper response")

	// ErrConversion is returned when a library result has no Value form.
	ErrConversion = errors.New("miio: result conversion failed")

	// ErrInvalidCommand is returned when an MQTT command payload is unusable.
	ErrInvalidCommand = errors.New("miio: invalid command message")

	// ErrBusy is returned when the command queue is full.
	ErrBusy = errors.New("miio: command queue full")
)

// Fault is an error raised inside the device library. Its text is the
// library's diagnostic, unmodified.
type Fault struct {
	// Type is the library's exception class name, if known.
	Type string `json:"type,omitempty"`

	// Message is the diagnostic text.
	Message string `json:"message"`
}

// Error returns the diagnostic text verbatim.
func (f *Fault) Error() string {
	return f.Message
}

package miio

import "context"

// CallRequest is one method call forwarded to the device library.
// Args use the library's dynamic convention: nil, bool, json.Number,
// float64, string, []any and map[string]any.
type CallRequest struct {
	DeviceType string `json:"device_type"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	Method     string `json:"method"`
	Args       []any  `json:"args"`
}

// LibraryParam describes one positional parameter as reported by the library.
type LibraryParam struct {
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	Optional bool   `json:"optional,omitempty"`
	Variadic bool   `json:"variadic,omitempty"`
}

// LibraryMethod describes one public callable of a device class.
type LibraryMethod struct {
	Name      string         `json:"name"`
	Params    []LibraryParam `json:"params"`
	Signature string         `json:"signature,omitempty"`
}

// LibraryType is one device class with its callable methods.
type LibraryType struct {
	Name    string          `json:"name"`
	Methods []LibraryMethod `json:"methods"`
}

// Library is the seam to the external device-control library.
// Implementations must surface library faults as *Fault.
type Library interface {
	// Call invokes a method on a device class instance built from the
	// request's type, address and token.
	Call(ctx context.Context, req CallRequest) (any, error)

	// ListTypesWithSchema enumerates the supported device classes.
	ListTypesWithSchema(ctx context.Context) ([]LibraryType, error)

	// Reentrant reports whether concurrent calls are safe.
	Reentrant() bool
}

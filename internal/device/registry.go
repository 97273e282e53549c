package device

import (
	"iter"
	"slices"
	"strings"
)

// Logger defines the logging interface used by the device package.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// TypeRegistry is the closed set of device types the bridge can construct,
// each with its capability schema.
//
// A registry is built once from the device library's metadata and never
// changes afterwards, so all methods are safe for concurrent use without
// locking. It is passed explicitly to Factory and Invoker.
type TypeRegistry struct {
	types   []DeviceType // sorted
	schemas map[DeviceType]CapabilitySchema
	byFold  map[string]DeviceType
}

// NewTypeRegistry validates schemas and freezes them into a registry.
// Returns ErrInvalidSchema for empty names, duplicate types or methods,
// unknown parameter kinds, or a variadic parameter that is not last.
func NewTypeRegistry(schemas []TypeSchema) (*TypeRegistry, error) {
	r := &TypeRegistry{
		types:   make([]DeviceType, 0, len(schemas)),
		schemas: make(map[DeviceType]CapabilitySchema, len(schemas)),
		byFold:  make(map[string]DeviceType, len(schemas)),
	}

	for _, ts := range schemas {
		if _, dup := r.schemas[ts.Type]; dup {
			return nil, newError(ErrInvalidSchema, string(ts.Type), "duplicate device type")
		}
		cs, err := validateTypeSchema(ts)
		if err != nil {
			return nil, err
		}
		r.schemas[ts.Type] = cs
		r.types = append(r.types, ts.Type)
		r.byFold[strings.ToLower(string(ts.Type))] = ts.Type
	}

	slices.Sort(r.types)
	return r, nil
}

// ListTypes returns every registered device type in sorted order.
// The returned slice is a fresh copy.
func (r *TypeRegistry) ListTypes() []DeviceType {
	return slices.Clone(r.types)
}

// Types returns a lazy sequence over the registered device types in sorted
// order. The sequence can be ranged over any number of times.
func (r *TypeRegistry) Types() iter.Seq[DeviceType] {
	return slices.Values(r.types)
}

// Len returns the number of registered types.
func (r *TypeRegistry) Len() int {
	return len(r.types)
}

// Has reports whether t is registered.
func (r *TypeRegistry) Has(t DeviceType) bool {
	_, ok := r.schemas[t]
	return ok
}

// SchemaFor returns the capability schema of a registered type.
// Returns ErrUnknownDeviceType if t is not registered.
func (r *TypeRegistry) SchemaFor(t DeviceType) (CapabilitySchema, error) {
	cs, ok := r.schemas[t]
	if !ok {
		return CapabilitySchema{}, newError(ErrUnknownDeviceType, "device_type", "%q is not registered", t)
	}
	return cs, nil
}

// Lookup validates free text against the registered set. An exact match is
// preferred; otherwise a case-insensitive match is accepted.
// Returns ErrUnknownDeviceType if nothing matches.
func (r *TypeRegistry) Lookup(name string) (DeviceType, error) {
	if t := DeviceType(name); r.Has(t) {
		return t, nil
	}
	if t, ok := r.byFold[strings.ToLower(strings.TrimSpace(name))]; ok {
		return t, nil
	}
	return "", newError(ErrUnknownDeviceType, "device_type", "%q is not registered", name)
}

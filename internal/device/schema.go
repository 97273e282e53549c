package device

import (
	"slices"
	"strings"
)

// ParamSpec describes one positional parameter of a device method.
type ParamSpec struct {
	Name     string `json:"name" yaml:"name"`
	Kind     Kind   `json:"kind" yaml:"kind"`
	Optional bool   `json:"optional,omitempty" yaml:"optional,omitempty"`
	Variadic bool   `json:"variadic,omitempty" yaml:"variadic,omitempty"`
}

// MethodSchema describes a callable method and its positional parameters.
// Signature carries the library's own rendering of the signature for
// diagnostics, e.g. "(brightness: int, transition: int = 0)".
type MethodSchema struct {
	Name      string      `json:"name" yaml:"name"`
	Params    []ParamSpec `json:"params" yaml:"params"`
	Signature string      `json:"signature,omitempty" yaml:"signature,omitempty"`
}

// Arity returns the minimum and maximum number of positional arguments.
// A negative maximum means the method is variadic.
func (m MethodSchema) Arity() (minArgs, maxArgs int) {
	for _, p := range m.Params {
		if p.Variadic {
			return minArgs, -1
		}
		maxArgs++
		if !p.Optional {
			minArgs = maxArgs
		}
	}
	return minArgs, maxArgs
}

// TypeSchema pairs a device type with the methods it supports.
// It is the input form used to build a TypeRegistry.
type TypeSchema struct {
	Type    DeviceType     `json:"type" yaml:"type"`
	Methods []MethodSchema `json:"methods" yaml:"methods"`
}

// CapabilitySchema is the frozen method table for one device type.
type CapabilitySchema struct {
	typ     DeviceType
	methods map[string]MethodSchema
}

// Type returns the device type the schema describes.
func (c CapabilitySchema) Type() DeviceType { return c.typ }

// Method returns the schema for a method name.
func (c CapabilitySchema) Method(name string) (MethodSchema, bool) {
	m, ok := c.methods[name]
	if !ok {
		return MethodSchema{}, false
	}
	m.Params = slices.Clone(m.Params)
	return m, true
}

// Methods returns the supported method names in sorted order.
func (c CapabilitySchema) Methods() []string {
	names := make([]string, 0, len(c.methods))
	for name := range c.methods {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Len returns the number of supported methods.
func (c CapabilitySchema) Len() int { return len(c.methods) }

// validateTypeSchema checks the shape of a single type entry.
func validateTypeSchema(ts TypeSchema) (CapabilitySchema, error) {
	if strings.TrimSpace(string(ts.Type)) == "" {
		return CapabilitySchema{}, newError(ErrInvalidSchema, "type", "device type name cannot be empty")
	}

	methods := make(map[string]MethodSchema, len(ts.Methods))
	for _, m := range ts.Methods {
		if strings.TrimSpace(m.Name) == "" {
			return CapabilitySchema{}, newError(ErrInvalidSchema, string(ts.Type), "method name cannot be empty")
		}
		if _, dup := methods[m.Name]; dup {
			return CapabilitySchema{}, newError(ErrInvalidSchema, string(ts.Type)+"."+m.Name, "duplicate method")
		}
		for i, p := range m.Params {
			if !ValidKind(p.Kind) {
				return CapabilitySchema{}, newError(ErrInvalidSchema, string(ts.Type)+"."+m.Name,
					"parameter %d has unknown kind %q", i, p.Kind)
			}
			if p.Variadic && i != len(m.Params)-1 {
				return CapabilitySchema{}, newError(ErrInvalidSchema, string(ts.Type)+"."+m.Name,
					"variadic parameter %q must be last", p.Name)
			}
		}
		m.Params = slices.Clone(m.Params)
		methods[m.Name] = m
	}

	return CapabilitySchema{typ: ts.Type, methods: methods}, nil
}

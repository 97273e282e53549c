package device

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const draft2020 = "https://json-schema.org/draft/2020-12/schema"

var validationPrinter = message.NewPrinter(language.English)

// argValidator checks positional arguments against a method's parameters
// using a JSON Schema compiled per method. Compiled schemas are cached for
// the lifetime of the validator.
type argValidator struct {
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

func newArgValidator() *argValidator {
	return &argValidator{
		cache: make(map[string]*jsonschema.Schema),
	}
}

// validate returns ErrInvalidArguments if args do not fit m.
func (v *argValidator) validate(t DeviceType, m MethodSchema, args []Value) error {
	minArgs, maxArgs := m.Arity()
	if len(args) < minArgs || (maxArgs >= 0 && len(args) > maxArgs) {
		return newError(ErrInvalidArguments, m.Name, "%s", arityMessage(minArgs, maxArgs, len(args)))
	}

	for i, a := range args {
		if !a.finite() {
			return newError(ErrInvalidArguments, m.Name, "%s: NaN and infinite numbers are not allowed", argLabel(m, i))
		}
	}

	compiled, err := v.compile(t, m)
	if err != nil {
		return err
	}

	instance := make([]any, len(args))
	for i, a := range args {
		instance[i] = a.Interface()
	}

	if err := compiled.Validate(instance); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return newError(ErrInvalidArguments, m.Name, "%s", describeValidation(ve, m))
		}
		return newError(ErrInvalidArguments, m.Name, "%v", err)
	}
	return nil
}

func arityMessage(minArgs, maxArgs, got int) string {
	switch {
	case maxArgs < 0:
		return fmt.Sprintf("expected at least %d arguments, got %d", minArgs, got)
	case minArgs == maxArgs:
		return fmt.Sprintf("expected %d arguments, got %d", minArgs, got)
	default:
		return fmt.Sprintf("expected %d to %d arguments, got %d", minArgs, maxArgs, got)
	}
}

// describeValidation flattens the deepest validation causes into one line.
func describeValidation(ve *jsonschema.ValidationError, m MethodSchema) string {
	leaf := ve
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}
	pos := "arguments"
	if len(leaf.InstanceLocation) > 0 {
		pos = "argument " + leaf.InstanceLocation[0]
		var idx int
		if _, err := fmt.Sscanf(leaf.InstanceLocation[0], "%d", &idx); err == nil {
			pos = argLabel(m, idx)
		}
	}
	return fmt.Sprintf("%s: %s", pos, leaf.ErrorKind.LocalizedString(validationPrinter))
}

// argLabel names positional argument idx, using the parameter name when
// one exists. Extra arguments take the variadic parameter's name.
func argLabel(m MethodSchema, idx int) string {
	switch {
	case idx < len(m.Params) && !m.Params[idx].Variadic:
		return fmt.Sprintf("argument %d (%s)", idx, m.Params[idx].Name)
	case len(m.Params) > 0 && m.Params[len(m.Params)-1].Variadic:
		return fmt.Sprintf("argument %d (%s)", idx, m.Params[len(m.Params)-1].Name)
	default:
		return fmt.Sprintf("argument %d", idx)
	}
}

func (v *argValidator) compile(t DeviceType, m MethodSchema) (*jsonschema.Schema, error) {
	key := string(t) + "." + m.Name

	v.mu.RLock()
	if s, ok := v.cache[key]; ok {
		v.mu.RUnlock()
		return s, nil
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()

	// Double-check after acquiring write lock
	if s, ok := v.cache[key]; ok {
		return s, nil
	}

	raw, err := json.Marshal(argumentsSchema(m))
	if err != nil {
		return nil, fmt.Errorf("encoding argument schema for %s: %w", key, err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decoding argument schema for %s: %w", key, err)
	}

	url := "args/" + key + ".json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("adding argument schema for %s: %w", key, err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compiling argument schema for %s: %w", key, err)
	}

	v.cache[key] = compiled
	return compiled, nil
}

// argumentsSchema renders a method's parameter list as a JSON Schema for the
// positional argument array.
func argumentsSchema(m MethodSchema) map[string]any {
	minArgs, maxArgs := m.Arity()

	prefix := make([]any, 0, len(m.Params))
	var rest any = false
	for _, p := range m.Params {
		if p.Variadic {
			rest = kindSchema(p.Kind, p.Optional)
			break
		}
		prefix = append(prefix, kindSchema(p.Kind, p.Optional))
	}

	s := map[string]any{
		"$schema":  draft2020,
		"type":     "array",
		"minItems": minArgs,
		"items":    rest,
	}
	if len(prefix) > 0 {
		s["prefixItems"] = prefix
	}
	if maxArgs >= 0 {
		s["maxItems"] = maxArgs
	}
	return s
}

// kindSchema maps a parameter kind to its JSON Schema. Optional parameters
// also accept null, which the library treats as "use the default".
func kindSchema(k Kind, optional bool) any {
	var typ string
	switch k {
	case KindNull:
		typ = "null"
	case KindBool:
		typ = "boolean"
	case KindInt:
		typ = "integer"
	case KindFloat:
		typ = "number"
	case KindString:
		typ = "string"
	case KindList:
		typ = "array"
	case KindMap:
		typ = "object"
	default:
		return true
	}
	if optional && typ != "null" {
		return map[string]any{"type": []any{typ, "null"}}
	}
	return map[string]any{"type": typ}
}

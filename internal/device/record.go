package device

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Record field names.
const (
	FieldID         = "id"
	FieldDeviceType = "device_type"
	FieldAddress    = "address"
	FieldToken      = "token"
)

// recordFields lists the required fields in the order they are checked.
var recordFields = []string{FieldID, FieldDeviceType, FieldAddress, FieldToken}

// Record is the flat serialized form of a Device. Unknown keys are carried
// but ignored on reconstruction.
type Record map[string]any

// Record returns the serialized form of d. Factory.FromRecord is its exact
// inverse for any Device produced by a Factory over the same registry.
func (d Device) Record() Record {
	return Record{
		FieldID:         d.id,
		FieldDeviceType: string(d.typ),
		FieldAddress:    d.conn.Address,
		FieldToken:      d.conn.Token,
	}
}

// FromRecord reconstructs a Device from its serialized form.
// Returns ErrMalformedRecord when a required field is missing, empty or not
// a string; ErrUnknownDeviceType when the type is not registered; and
// ErrInvalidConnectionParams when the address or token does not validate.
func (f *Factory) FromRecord(rec Record) (Device, error) {
	fields := make(map[string]string, len(recordFields))
	for _, name := range recordFields {
		raw, ok := rec[name]
		if !ok {
			return Device{}, newError(ErrMalformedRecord, name, "missing field")
		}
		s, ok := raw.(string)
		if !ok {
			return Device{}, newError(ErrMalformedRecord, name, "expected string, got %T", raw)
		}
		if s == "" {
			return Device{}, newError(ErrMalformedRecord, name, "empty field")
		}
		fields[name] = s
	}

	if err := ValidateID(fields[FieldID]); err != nil {
		return Device{}, newError(ErrMalformedRecord, FieldID, "%v", err)
	}

	return f.build(fields[FieldID], DeviceType(fields[FieldDeviceType]), ConnectionParams{
		Address: fields[FieldAddress],
		Token:   fields[FieldToken],
	})
}

// UnmarshalYAML keeps scalar nodes as their literal text so that a numeric
// looking token or ID survives decoding as a string. Non-scalar values are
// decoded normally and rejected later as malformed.
func (r *Record) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("%w: expected mapping, got %s", ErrMalformedRecord, nodeKindName(node.Kind))
	}
	out := make(Record, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]
		switch {
		case val.Kind == yaml.ScalarNode && val.Tag == "!!null":
			out[key.Value] = nil
		case val.Kind == yaml.ScalarNode:
			out[key.Value] = val.Value
		default:
			var v any
			if err := val.Decode(&v); err != nil {
				return fmt.Errorf("decoding %q: %w", key.Value, err)
			}
			out[key.Value] = v
		}
	}
	*r = out
	return nil
}

func nodeKindName(k yaml.Kind) string {
	switch k {
	case yaml.DocumentNode:
		return "document"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	default:
		return "mapping"
	}
}

// MarshalRecord encodes a record as indented JSON.
func MarshalRecord(rec Record) ([]byte, error) {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding record: %w", err)
	}
	return data, nil
}

// UnmarshalRecord decodes a JSON record. Syntax errors and non-object
// documents are reported as ErrMalformedRecord.
func UnmarshalRecord(data []byte) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var rec Record
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: record is null", ErrMalformedRecord)
	}
	return rec, nil
}

// SaveFile writes d's record to path as pretty-printed JSON with owner-only
// permissions, since the record contains the device token.
func SaveFile(path string, d Device) error {
	data, err := MarshalRecord(d.Record())
	if err != nil {
		return err
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".device-*.json")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck // no-op after successful rename

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("setting permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing record file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("renaming record file: %w", err)
	}
	return nil
}

// LoadFile reads a JSON record from path and reconstructs the Device.
func (f *Factory) LoadFile(path string) (Device, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from operator configuration
	if err != nil {
		return Device{}, fmt.Errorf("reading record file: %w", err)
	}
	rec, err := UnmarshalRecord(data)
	if err != nil {
		return Device{}, err
	}
	return f.FromRecord(rec)
}

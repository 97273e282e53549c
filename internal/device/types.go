package device

import (
	"fmt"
	"log/slog"
)

// DeviceType names a family of Miio devices known to the device library,
// e.g. "Yeelight" or "ChuangmiPlug".
type DeviceType string //nolint:revive // device.DeviceType is clearer than device.Type in calling code

// redacted replaces secrets in every rendering of connection parameters.
const redacted = "[REDACTED]"

// ConnectionParams holds what the device library needs to reach a device.
// Address is a host or IP with an optional ":port"; Token is the device's
// shared secret and is never rendered by String or LogValue.
type ConnectionParams struct {
	Address string
	Token   string
}

// String implements fmt.Stringer with the token redacted.
func (c ConnectionParams) String() string {
	return fmt.Sprintf("{address=%s token=%s}", c.Address, redactToken(c.Token))
}

// GoString keeps %#v from leaking the token.
func (c ConnectionParams) GoString() string {
	return fmt.Sprintf("device.ConnectionParams{Address:%q, Token:%q}", c.Address, redactToken(c.Token))
}

// LogValue implements slog.LogValuer with the token redacted.
func (c ConnectionParams) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("address", c.Address),
		slog.String("token", redactToken(c.Token)),
	)
}

func redactToken(token string) string {
	if token == "" {
		return ""
	}
	return redacted
}

// Device is an immutable handle naming one physical Miio device.
//
// Devices are created only through Factory, which guarantees the type is
// registered and the connection parameters are well formed. A Device holds
// no sockets or library objects, so it is cheap to copy and compare.
type Device struct {
	id   string
	typ  DeviceType
	conn ConnectionParams
}

// ID returns the device's stable identifier.
func (d Device) ID() string { return d.id }

// Type returns the device type.
func (d Device) Type() DeviceType { return d.typ }

// Connection returns the connection parameters.
func (d Device) Connection() ConnectionParams { return d.conn }

// Address returns the device's network address.
func (d Device) Address() string { return d.conn.Address }

// IsZero reports whether d is the zero Device, i.e. was not built by a Factory.
func (d Device) IsZero() bool { return d == Device{} }

// String implements fmt.Stringer. The token is redacted.
func (d Device) String() string {
	return fmt.Sprintf("%s(%s @ %s)", d.typ, d.id, d.conn.Address)
}

// GoString keeps %#v from leaking the token.
func (d Device) GoString() string {
	return fmt.Sprintf("device.Device{id:%q, typ:%q, conn:%#v}", d.id, d.typ, d.conn)
}

// LogValue implements slog.LogValuer. The token is redacted.
func (d Device) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", d.id),
		slog.String("type", string(d.typ)),
		slog.String("address", d.conn.Address),
	)
}

package miio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-miio/internal/device"
)

// MQTT message types exchanged between Core and the miio bridge.

// Protocol is the protocol identifier used in topics and messages.
const Protocol = "miio"

// CommandMessage is sent from Core to invoke a device method.
// Topic: graylogic/command/miio/{device_id}
type CommandMessage struct {
	// ID uniquely identifies this command for correlation with acknowledgments.
	ID string `json:"id"`

	// Timestamp is when the command was issued (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp,omitzero"`

	// DeviceID is the target device. Defaults to the topic suffix.
	DeviceID string `json:"device_id"`

	// Method is the library method name, e.g. "on" or "set_brightness".
	Method string `json:"method"`

	// Args are the positional arguments.
	Args []device.Value `json:"args,omitempty"`

	// TimeoutMS bounds how long the bridge waits for the result. The call
	// itself is not cancelled.
	TimeoutMS int `json:"timeout_ms,omitempty"`

	// Source indicates where the command originated.
	Source string `json:"source,omitempty"`
}

// AckStatus represents the outcome of a command.
type AckStatus string

const (
	// AckSucceeded indicates the library call completed.
	AckSucceeded AckStatus = "succeeded"

	// AckFailed indicates the command was rejected before reaching the device.
	AckFailed AckStatus = "failed"

	// AckIndeterminate indicates the call may or may not have taken effect.
	AckIndeterminate AckStatus = "indeterminate"
)

// AckMessage is sent from the bridge to acknowledge a command.
// Topic: graylogic/ack/miio/{device_id}
type AckMessage struct {
	CommandID string        `json:"command_id"`
	Timestamp time.Time     `json:"timestamp"`
	DeviceID  string        `json:"device_id"`
	Method    string        `json:"method"`
	Status    AckStatus     `json:"status"`
	Protocol  string        `json:"protocol"`
	Result    *device.Value `json:"result,omitempty"`
	Error     *AckError     `json:"error,omitempty"`
}

// AckError contains error details for unsuccessful commands.
type AckError struct {
	// Code is the error code (e.g., "UNSUPPORTED_METHOD").
	Code string `json:"code"`

	// Message is the error text. Library diagnostics are passed verbatim.
	Message string `json:"message"`

	// Field names the offending input, if any.
	Field string `json:"field,omitempty"`
}

// Error codes for command failures.
const (
	ErrCodeInvalidCommand     = "INVALID_COMMAND"
	ErrCodeDeviceNotFound     = "DEVICE_NOT_FOUND"
	ErrCodeUnknownDeviceType  = "UNKNOWN_DEVICE_TYPE"
	ErrCodeInvalidConnection  = "INVALID_CONNECTION"
	ErrCodeUnsupportedMethod  = "UNSUPPORTED_METHOD"
	ErrCodeInvalidArguments   = "INVALID_ARGUMENTS"
	ErrCodeBridgeError        = "BRIDGE_ERROR"
	ErrCodeTimeout            = "TIMEOUT"
	ErrCodeBusy               = "BRIDGE_BUSY"
	ErrCodeInternal           = "INTERNAL_ERROR"
	ErrCodeInvalidRequest     = "INVALID_REQUEST"
	ErrCodeUnsupportedRequest = "UNSUPPORTED_ACTION"
)

// NewAckMessage creates a successful acknowledgment.
func NewAckMessage(cmd CommandMessage, result device.Value) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		DeviceID:  cmd.DeviceID,
		Method:    cmd.Method,
		Status:    AckSucceeded,
		Protocol:  Protocol,
		Result:    &result,
	}
}

// NewAckError creates an acknowledgment describing err. Errors that may
// have reached the device are reported as indeterminate.
func NewAckError(cmd CommandMessage, err error) AckMessage {
	code, status := classify(err)
	ae := &AckError{Code: code, Message: err.Error()}

	var derr *device.Error
	if errors.As(err, &derr) {
		ae.Field = derr.Field
	}

	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		DeviceID:  cmd.DeviceID,
		Method:    cmd.Method,
		Status:    status,
		Protocol:  Protocol,
		Error:     ae,
	}
}

// classify maps an error to an ack code and status.
func classify(err error) (string, AckStatus) {
	switch {
	case errors.Is(err, ErrInvalidCommand), errors.Is(err, device.ErrMalformedRecord):
		return ErrCodeInvalidCommand, AckFailed
	case errors.Is(err, ErrBusy):
		return ErrCodeBusy, AckFailed
	case errors.Is(err, device.ErrDeviceNotFound):
		return ErrCodeDeviceNotFound, AckFailed
	case errors.Is(err, device.ErrUnknownDeviceType):
		return ErrCodeUnknownDeviceType, AckFailed
	case errors.Is(err, device.ErrInvalidConnectionParams):
		return ErrCodeInvalidConnection, AckFailed
	case errors.Is(err, device.ErrUnsupportedMethod):
		return ErrCodeUnsupportedMethod, AckFailed
	case errors.Is(err, device.ErrInvalidArguments):
		return ErrCodeInvalidArguments, AckFailed
	case errors.Is(err, device.ErrNotDispatched):
		// Never reached the device, so the outcome is known.
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrCodeTimeout, AckFailed
		}
		return ErrCodeInternal, AckFailed
	case errors.Is(err, context.DeadlineExceeded):
		return ErrCodeTimeout, AckIndeterminate
	case errors.Is(err, device.ErrBridge):
		return ErrCodeBridgeError, AckIndeterminate
	default:
		return ErrCodeInternal, AckFailed
	}
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthOffline  HealthStatus = "offline"
	HealthStarting HealthStatus = "starting"
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports the bridge's operational status.
// Topic: graylogic/health/miio
// QoS: 1, Retained: Yes
type HealthMessage struct {
	Bridge         string        `json:"bridge"`
	Timestamp      time.Time     `json:"timestamp"`
	Status         HealthStatus  `json:"status"`
	Version        string        `json:"version,omitempty"`
	UptimeSeconds  int64         `json:"uptime_seconds"`
	Library        *LibraryState `json:"library,omitempty"`
	Statistics     *BridgeStats  `json:"statistics,omitempty"`
	DevicesManaged int           `json:"devices_managed"`
	TypesKnown     int           `json:"types_known"`
	Reason         string        `json:"reason,omitempty"`
}

// LibraryState describes the device library's process.
type LibraryState struct {
	Running      bool   `json:"running"`
	MiioVersion  string `json:"miio_version,omitempty"`
	RestartCount int    `json:"restart_count"`
	LastError    string `json:"last_error,omitempty"`
}

// NewLWTMessage creates a Last Will and Testament message for MQTT.
func NewLWTMessage(bridgeID string) HealthMessage {
	return HealthMessage{
		Bridge:    bridgeID,
		Timestamp: time.Now().UTC(),
		Status:    HealthOffline,
		Reason:    "unexpected_disconnect",
	}
}

// RequestMessage is sent from Core for request/response operations.
// Topic: graylogic/request/miio/{request_id}
type RequestMessage struct {
	RequestID string `json:"request_id"`

	// Action is one of "list_types", "describe_type", "list_devices".
	Action string `json:"action"`

	// DeviceType is the type for "describe_type".
	DeviceType string `json:"device_type,omitempty"`
}

// ResponseMessage answers a RequestMessage.
// Topic: graylogic/response/miio/{request_id}
type ResponseMessage struct {
	RequestID string         `json:"request_id"`
	Timestamp time.Time      `json:"timestamp"`
	Success   bool           `json:"success"`
	Data      map[string]any `json:"data,omitempty"`
	Error     *AckError      `json:"error,omitempty"`
}

// Topic helpers

// TopicPrefix is the base topic for all Gray Logic messages.
const TopicPrefix = "graylogic"

// CommandTopic returns the topic for commands to a device.
// Example: graylogic/command/miio/desk-plug
func CommandTopic(deviceID string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefix, Protocol, deviceID)
}

// CommandSubscribeTopic returns the subscription pattern for all commands.
func CommandSubscribeTopic() string {
	return fmt.Sprintf("%s/command/%s/+", TopicPrefix, Protocol)
}

// AckTopic returns the topic for command acknowledgments.
func AckTopic(deviceID string) string {
	return fmt.Sprintf("%s/ack/%s/%s", TopicPrefix, Protocol, deviceID)
}

// HealthTopic returns the topic for bridge health.
func HealthTopic() string {
	return fmt.Sprintf("%s/health/%s", TopicPrefix, Protocol)
}

// RequestTopic returns the topic for a request.
func RequestTopic(requestID string) string {
	return fmt.Sprintf("%s/request/%s/%s", TopicPrefix, Protocol, requestID)
}

// RequestSubscribeTopic returns the subscription pattern for all requests.
func RequestSubscribeTopic() string {
	return fmt.Sprintf("%s/request/%s/+", TopicPrefix, Protocol)
}

// ResponseTopic returns the topic for a response.
func ResponseTopic(requestID string) string {
	return fmt.Sprintf("%s/response/%s/%s", TopicPrefix, Protocol, requestID)
}

// decodeCommand parses a command payload. The device ID falls back to the
// topic suffix.
func decodeCommand(topicDeviceID string, payload []byte) (CommandMessage, error) {
	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return cmd, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	if cmd.DeviceID == "" {
		cmd.DeviceID = topicDeviceID
	}
	switch {
	case cmd.ID == "":
		return cmd, fmt.Errorf("%w: missing id", ErrInvalidCommand)
	case cmd.DeviceID != topicDeviceID:
		return cmd, fmt.Errorf("%w: device_id %q does not match topic", ErrInvalidCommand, cmd.DeviceID)
	case cmd.Method == "":
		return cmd, fmt.Errorf("%w: missing method", ErrInvalidCommand)
	case cmd.TimeoutMS < 0:
		return cmd, fmt.Errorf("%w: negative timeout_ms", ErrInvalidCommand)
	}
	return cmd, nil
}

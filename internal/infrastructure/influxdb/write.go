package influxdb

import (
	"context"
	"errors"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/gray-logic-miio/internal/device"
)

// MeasurementInvocation holds one point per device method invocation.
const MeasurementInvocation = "miio_invocation"

// Outcome tag values. Failures that carry a device error kind use the
// kind's name instead, see outcomeOf.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeTimeout   = "timeout"
	OutcomeCancelled = "cancelled"
	OutcomeError     = "error"
)

var outcomeNames = map[error]string{
	device.ErrUnknownDeviceType:       "unknown_device_type",
	device.ErrInvalidConnectionParams: "invalid_connection_params",
	device.ErrInvalidID:               "invalid_id",
	device.ErrMalformedRecord:         "malformed_record",
	device.ErrUnsupportedMethod:       "unsupported_method",
	device.ErrInvalidArguments:        "invalid_arguments",
	device.ErrBridge:                  "bridge_error",
	device.ErrInvalidSchema:           "invalid_schema",
	device.ErrDeviceNotFound:          "device_not_found",
	device.ErrDeviceExists:            "device_exists",
}

// RecordInvocation writes one miio_invocation point. It satisfies
// device.Recorder, so the client can be handed to Invoker.SetRecorder.
//
// Tags are device_id, device_type, method and outcome; fields are
// duration_ms and args. The device token is never written.
func (c *Client) RecordInvocation(inv device.Invocation) {
	c.WritePointWithTime(MeasurementInvocation,
		map[string]string{
			"device_id":   inv.Device.ID(),
			"device_type": string(inv.Device.Type()),
			"method":      inv.Method,
			"outcome":     outcomeOf(inv.Err),
		},
		map[string]interface{}{
			"duration_ms": float64(inv.Duration) / float64(time.Millisecond),
			"args":        inv.Args,
		},
		inv.Started,
	)
}

// WritePointWithTime writes a point with an explicit timestamp. Writes are
// batched and non-blocking; they are dropped while disconnected.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, timestamp))
	c.written.Add(1)
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return OutcomeSucceeded
	case errors.Is(err, context.DeadlineExceeded):
		return OutcomeTimeout
	case errors.Is(err, context.Canceled):
		return OutcomeCancelled
	}
	if name, ok := outcomeNames[device.KindOf(err)]; ok {
		return name
	}
	return OutcomeError
}

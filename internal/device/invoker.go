package device

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// Caller performs the boundary call to the device library. It is
// implemented by bridges/miio.Bridge; tests substitute doubles.
//
// The Device is passed whole because the library constructs its device
// object from the type as well as the connection parameters.
type Caller interface {
	Call(ctx context.Context, d Device, method string, args []Value) (Value, error)
}

// Invocation summarises one completed Invoke for telemetry.
// Err is nil on success; otherwise KindOf(Err) classifies it.
type Invocation struct {
	Device   Device
	Method   string
	Args     int
	Started  time.Time
	Duration time.Duration
	Err      error
}

// Recorder receives a summary of every invocation that reached the
// boundary or was rejected locally.
type Recorder interface {
	RecordInvocation(inv Invocation)
}

// InvokerStats holds invocation counters for monitoring.
type InvokerStats struct {
	Invocations uint64
	Succeeded   uint64
	Rejected    uint64 // local validation failures, no boundary call made
	Faulted     uint64 // boundary faults, outcome indeterminate
	Abandoned   uint64 // ctx ended before the Caller dispatched the call
}

// Invoker validates method calls against the capability schema and
// delegates them to a Caller.
//
// Invoke never retries: a boundary fault may have been acted on by the
// device, so only the caller can decide whether a repeat is safe.
type Invoker struct {
	registry *TypeRegistry
	caller   Caller
	args     *argValidator
	logger   Logger
	recorder Recorder

	invocations atomic.Uint64
	succeeded   atomic.Uint64
	rejected    atomic.Uint64
	faulted     atomic.Uint64
	abandoned   atomic.Uint64
}

// NewInvoker creates an invoker that validates against registry and calls
// through caller.
func NewInvoker(registry *TypeRegistry, caller Caller) *Invoker {
	return &Invoker{
		registry: registry,
		caller:   caller,
		args:     newArgValidator(),
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the invoker.
func (inv *Invoker) SetLogger(logger Logger) {
	inv.logger = logger
}

// SetRecorder sets the telemetry recorder. Pass nil to disable.
func (inv *Invoker) SetRecorder(r Recorder) {
	inv.recorder = r
}

// Check runs the local validation steps of Invoke without calling the
// device: the type must be registered, the method must be in its schema, and
// the arguments must match the method's parameters.
func (inv *Invoker) Check(d Device, method string, args ...Value) (MethodSchema, error) {
	schema, err := inv.registry.SchemaFor(d.Type())
	if err != nil {
		return MethodSchema{}, err
	}
	m, ok := schema.Method(method)
	if !ok {
		return MethodSchema{}, newError(ErrUnsupportedMethod, method, "%s does not support %q", d.Type(), method)
	}
	if err := inv.args.validate(d.Type(), m, args); err != nil {
		return MethodSchema{}, err
	}
	return m, nil
}

// Invoke validates and performs a method call on d.
//
// Local failures (ErrUnknownDeviceType, ErrUnsupportedMethod,
// ErrInvalidArguments) are returned without any boundary call. A Caller
// error wrapping ErrNotDispatched is returned as is. Any other error from
// the Caller is returned as a *BridgeError whose message is the boundary's
// diagnostic text, unchanged.
func (inv *Invoker) Invoke(ctx context.Context, d Device, method string, args ...Value) (Value, error) {
	start := time.Now()
	inv.invocations.Add(1)

	if _, err := inv.Check(d, method, args...); err != nil {
		inv.rejected.Add(1)
		inv.logger.Debug("invocation rejected", "device", d, "method", method, "error", err)
		inv.record(d, method, len(args), start, err)
		return Value{}, err
	}

	result, err := inv.caller.Call(ctx, d, method, args)
	if errors.Is(err, ErrNotDispatched) {
		inv.abandoned.Add(1)
		inv.logger.Debug("invocation abandoned", "device", d, "method", method, "error", err)
		inv.record(d, method, len(args), start, err)
		return Value{}, err
	}
	if err != nil {
		berr := toBridgeError(method, err)
		inv.faulted.Add(1)
		inv.logger.Warn("invocation faulted", "device", d, "method", method, "error", berr.Message)
		inv.record(d, method, len(args), start, berr)
		return Value{}, berr
	}

	inv.succeeded.Add(1)
	inv.logger.Debug("invocation succeeded", "device", d, "method", method,
		"duration_ms", time.Since(start).Milliseconds())
	inv.record(d, method, len(args), start, nil)
	return result, nil
}

func toBridgeError(method string, err error) *BridgeError {
	var berr *BridgeError
	if errors.As(err, &berr) {
		return berr
	}
	return &BridgeError{Method: method, Message: err.Error(), Cause: err}
}

func (inv *Invoker) record(d Device, method string, nargs int, start time.Time, err error) {
	if inv.recorder == nil {
		return
	}
	inv.recorder.RecordInvocation(Invocation{
		Device:   d,
		Method:   method,
		Args:     nargs,
		Started:  start,
		Duration: time.Since(start),
		Err:      err,
	})
}

// Stats returns current invocation counters.
func (inv *Invoker) Stats() InvokerStats {
	return InvokerStats{
		Invocations: inv.invocations.Load(),
		Succeeded:   inv.succeeded.Load(),
		Rejected:    inv.rejected.Load(),
		Faulted:     inv.faulted.Load(),
		Abandoned:   inv.abandoned.Load(),
	}
}

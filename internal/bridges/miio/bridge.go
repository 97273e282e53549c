package miio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/nerrad567/gray-logic-miio/internal/device"
)

// Logger is the logging interface used by the bridge package.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Bridge adapts a Library to device.Caller. It converts typed arguments to
// the library's dynamic form and converts results back.
//
// When the library is not reentrant, at most one library call is in flight
// at a time. A caller whose context ends while queued gives up its turn; a
// call already handed to the library is never cancelled.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	lib Library
	sem chan struct{} // nil when calls may overlap

	calls     atomic.Uint64
	faults    atomic.Uint64
	abandoned atomic.Uint64
	inFlight  atomic.Int64

	logger   Logger
	loggerMu sync.RWMutex
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	// Library is the device-control library. Required.
	Library Library

	// Serialize forces one-at-a-time calls even for a reentrant library.
	Serialize bool

	// Logger is optional.
	Logger Logger
}

// BridgeStats is a snapshot of bridge counters.
type BridgeStats struct {
	Calls      uint64 `json:"calls"`
	Faults     uint64 `json:"faults"`
	Abandoned  uint64 `json:"abandoned"`
	InFlight   int64  `json:"in_flight"`
	Serialized bool   `json:"serialized"`
}

var _ device.Caller = (*Bridge)(nil)

// NewBridge creates a bridge over the given library.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.Library == nil {
		return nil, errors.New("miio: library is required")
	}

	b := &Bridge{
		lib:    opts.Library,
		logger: opts.Logger,
	}
	if opts.Serialize || !opts.Library.Reentrant() {
		b.sem = make(chan struct{}, 1)
	}
	return b, nil
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
}

// Call implements device.Caller.
func (b *Bridge) Call(ctx context.Context, d device.Device, method string, args []device.Value) (device.Value, error) {
	release, err := b.acquire(ctx)
	if err != nil {
		b.abandoned.Add(1)
		return device.Value{}, fmt.Errorf("%w: waiting for call slot: %w", device.ErrNotDispatched, err)
	}
	defer release()

	req := CallRequest{
		DeviceType: string(d.Type()),
		Address:    d.Address(),
		Token:      d.Connection().Token,
		Method:     method,
		Args:       toDynamic(args),
	}

	b.calls.Add(1)
	b.inFlight.Add(1)
	result, err := b.lib.Call(ctx, req)
	b.inFlight.Add(-1)

	if err != nil {
		b.faults.Add(1)
		b.logDebug("library call failed", "device", d, "method", method, "error", err)
		return device.Value{}, err
	}

	v, err := device.ValueOf(result)
	if err != nil {
		b.faults.Add(1)
		return device.Value{}, fmt.Errorf("%w: %s.%s: %v", ErrConversion, d.Type(), method, err)
	}
	return v, nil
}

// TypeSchemas asks the library for its device classes and converts them to
// registry input. Parameter kinds the registry does not know become "any".
func (b *Bridge) TypeSchemas(ctx context.Context) ([]device.TypeSchema, error) {
	release, err := b.acquire(ctx)
	if err != nil {
		return nil, err
	}
	types, err := b.lib.ListTypesWithSchema(ctx)
	release()
	if err != nil {
		return nil, fmt.Errorf("listing library types: %w", err)
	}

	schemas := make([]device.TypeSchema, 0, len(types))
	for _, lt := range types {
		ts := device.TypeSchema{
			Type:    device.DeviceType(lt.Name),
			Methods: make([]device.MethodSchema, 0, len(lt.Methods)),
		}
		for _, lm := range lt.Methods {
			ms := device.MethodSchema{
				Name:      lm.Name,
				Signature: lm.Signature,
				Params:    make([]device.ParamSpec, 0, len(lm.Params)),
			}
			for _, lp := range lm.Params {
				kind := device.Kind(lp.Kind)
				if !device.ValidKind(kind) {
					b.logDebug("unknown parameter kind", "type", lt.Name, "method", lm.Name, "param", lp.Name, "kind", lp.Kind)
					kind = device.KindAny
				}
				ms.Params = append(ms.Params, device.ParamSpec{
					Name:     lp.Name,
					Kind:     kind,
					Optional: lp.Optional,
					Variadic: lp.Variadic,
				})
			}
			ts.Methods = append(ts.Methods, ms)
		}
		schemas = append(schemas, ts)
	}
	return schemas, nil
}

// LoadRegistry builds a TypeRegistry from the library's device classes.
func (b *Bridge) LoadRegistry(ctx context.Context) (*device.TypeRegistry, error) {
	schemas, err := b.TypeSchemas(ctx)
	if err != nil {
		return nil, err
	}
	registry, err := device.NewTypeRegistry(schemas)
	if err != nil {
		return nil, err
	}
	b.logInfo("type registry loaded", "types", registry.Len())
	return registry, nil
}

// Stats returns a snapshot of the bridge counters.
func (b *Bridge) Stats() BridgeStats {
	return BridgeStats{
		Calls:      b.calls.Load(),
		Faults:     b.faults.Load(),
		Abandoned:  b.abandoned.Load(),
		InFlight:   b.inFlight.Load(),
		Serialized: b.sem != nil,
	}
}

// acquire waits for the call slot when calls are serialized.
func (b *Bridge) acquire(ctx context.Context) (func(), error) {
	if b.sem == nil {
		return func() {}, nil
	}
	select {
	case b.sem <- struct{}{}:
		return func() { <-b.sem }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func toDynamic(args []device.Value) []any {
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = a.Interface()
	}
	return out
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

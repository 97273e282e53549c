// Package device provides the typed Miio device model for the miio bridge.
//
// A Device is a small immutable value naming a physical Miio device: an
// identifier, a device type registered with the external device-control
// library, and the connection parameters (address and token) the library
// needs to reach it. The package validates and constructs devices, gates
// method invocations against the per-type capability schema, and serializes
// devices to flat records for persistence and interchange.
//
// # Architecture
//
//	┌───────────────────────────────────────────────────────────────────────┐
//	│                            device package                             │
//	│                                                                       │
//	│  ┌────────────────┐   ┌────────────────┐   ┌────────────────────────┐ │
//	│  │  TypeRegistry  │◀──│    Factory     │   │        Invoker         │ │
//	│  │ (registry.go)  │   │  (factory.go)  │   │      (invoker.go)      │ │
//	│  │                │   │                │   │                        │ │
//	│  │ • type set     │   │ • validation   │   │ • schema gating        │ │
//	│  │ • schemas      │   │ • records      │   │ • argument shapes      │ │
//	│  └────────────────┘   └────────────────┘   │ • Caller delegation    │ │
//	│          ▲                                  └───────────┬────────────┘ │
//	│          └──────────────────────────────────────────────┘              │
//	└────────────────────────────────────────────────────────┼──────────────┘
//	                                                         ▼
//	                                        bridges/miio.Bridge (Caller)
//
// # Key Types
//
//   - DeviceType: tag naming a family of devices (e.g. "Yeelight")
//   - ConnectionParams: address and token; the token is always redacted in logs
//   - Device: immutable handle created only by Factory
//   - Value: statically typed argument/result value
//   - CapabilitySchema: per-type method table with parameter shapes
//
// # Usage
//
//	registry, err := device.NewTypeRegistry(schemas)
//	if err != nil {
//	    return err
//	}
//	factory := device.NewFactory(registry)
//	invoker := device.NewInvoker(registry, bridge)
//
//	lamp, err := factory.Create("Yeelight", device.ConnectionParams{
//	    Address: "192.168.1.40",
//	    Token:   token,
//	})
//	if err != nil {
//	    return err
//	}
//	result, err := invoker.Invoke(ctx, lamp, "set_brightness", device.Int(40))
//
// # Errors
//
// Local validation failures (ErrUnknownDeviceType, ErrInvalidConnectionParams,
// ErrMalformedRecord, ErrUnsupportedMethod, ErrInvalidArguments) are detected
// before any boundary call. ErrBridge marks a fault raised at or beyond the
// boundary; such a fault is indeterminate because the physical device may
// have acted before the fault was reported. A call the Caller dropped
// before dispatch (ErrNotDispatched, usually wrapping the context error)
// never reached the device and is not a bridge fault.
//
// # Thread Safety
//
// Device, TypeRegistry and Factory are immutable after construction and safe
// for concurrent use. Invoker is safe for concurrent use; whether boundary
// calls run in parallel is decided by the Caller.
package device

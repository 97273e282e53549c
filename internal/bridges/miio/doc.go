// Package miio connects the device core to python-miio.
//
// It supplies the device.Caller used by device.Invoker, the python-miio
// helper process behind it, and an MQTT command service for Core.
//
// # Architecture
//
//	┌────────────┐  MQTT   ┌──────────────────┐  stdio JSON  ┌──────────────┐  UDP
//	│ Gray Logic │◄───────►│ Service          │◄────────────►│ miio helper  │◄─────► devices
//	│    Core    │         │ Invoker → Bridge │              │ (python-miio)│
//	└────────────┘         └──────────────────┘              └──────────────┘
//
// # Library Seam
//
// Library is the only path to the device library. Bridge adapts it to
// device.Caller: typed arguments go out as JSON-compatible values, results
// come back as device.Value, and library faults come back as *Fault with
// the library's text unmodified. A non-reentrant library sees one call at a
// time. Calls are never retried.
//
// PythonLibrary runs the embedded helper under process.Manager. The helper
// reads one request per line and answers in order:
//
//	{"id": 7, "op": "call", "call": {"device_type": "ChuangmiPlug", "address": "10.0.0.5",
//	 "token": "...", "method": "on", "args": []}}
//	{"id": 7, "ok": true, "result": ["ok"]}
//
// A helper that cannot import python-miio exits with ExitConfig and is not
// restarted.
//
// # Topics
//
//   - graylogic/command/miio/{device_id}: CommandMessage in
//   - graylogic/ack/miio/{device_id}: AckMessage out
//   - graylogic/request/miio/{request_id}: RequestMessage in
//   - graylogic/response/miio/{request_id}: ResponseMessage out
//   - graylogic/health/miio: HealthMessage out, retained
//
// An ack's status is "succeeded", "failed" (rejected locally, the device was
// not contacted) or "indeterminate" (the call reached the library and its
// effect is unknown).
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple goroutines.
package miio

package device

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
)

func TestInvoke_PlugOnSucceeds(t *testing.T) {
	f := newTestFactory(t)
	caller := NewMockCaller()
	caller.result = func(Device, string, []Value) (Value, error) { return List(String("ok")), nil }
	inv := NewInvoker(f.Registry(), caller)

	d := mustCreate(t, f, "d1", "plug", "10.0.0.5")

	got, err := inv.Invoke(context.Background(), d, "on")
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if !got.Equal(List(String("ok"))) {
		t.Errorf("Invoke() = %v, want [\"ok\"]", got)
	}
	if caller.CallCount() != 1 {
		t.Errorf("boundary calls = %d, want 1", caller.CallCount())
	}
	last := caller.LastCall()
	if last.Device != d || last.Method != "on" || len(last.Args) != 0 {
		t.Errorf("LastCall() = %+v, want on() for d1", last)
	}
}

func TestInvoke_BridgeFaultVerbatim(t *testing.T) {
	f := newTestFactory(t)
	caller := NewMockCaller()
	caller.result = faultWith("timeout")
	inv := NewInvoker(f.Registry(), caller)

	d := mustCreate(t, f, "d1", "plug", "10.0.0.5")

	_, err := inv.Invoke(context.Background(), d, "on")
	if !errors.Is(err, ErrBridge) {
		t.Fatalf("Invoke() error = %v, want ErrBridge", err)
	}
	var berr *BridgeError
	if !errors.As(err, &berr) {
		t.Fatalf("Invoke() error type = %T, want *BridgeError", err)
	}
	if berr.Message != "timeout" {
		t.Errorf("BridgeError.Message = %q, want %q", berr.Message, "timeout")
	}
	if err.Error() != "timeout" {
		t.Errorf("Error() = %q, want %q", err.Error(), "timeout")
	}
	if berr.Method != "on" {
		t.Errorf("BridgeError.Method = %q, want %q", berr.Method, "on")
	}
	if caller.CallCount() != 1 {
		t.Errorf("boundary calls = %d, want exactly 1 (no retry)", caller.CallCount())
	}
}

func TestInvoke_PassesThroughBridgeError(t *testing.T) {
	f := newTestFactory(t)
	caller := NewMockCaller()
	want := &BridgeError{Method: "on", Message: "DeviceException: Unable to discover the device 10.0.0.5"}
	caller.result = func(Device, string, []Value) (Value, error) {
		return Value{}, fmt.Errorf("wrapped: %w", want)
	}
	inv := NewInvoker(f.Registry(), caller)

	_, err := inv.Invoke(context.Background(), mustCreate(t, f, "d1", "plug", "10.0.0.5"), "on")
	if err != want {
		t.Errorf("Invoke() error = %v, want the original *BridgeError", err)
	}
}

func TestInvoke_UnsupportedMethod(t *testing.T) {
	f := newTestFactory(t)
	caller := NewMockCaller()
	inv := NewInvoker(f.Registry(), caller)

	d := mustCreate(t, f, "d1", "plug", "10.0.0.5")

	_, err := inv.Invoke(context.Background(), d, "set_brightness", Int(10))
	if !errors.Is(err, ErrUnsupportedMethod) {
		t.Fatalf("Invoke() error = %v, want ErrUnsupportedMethod", err)
	}
	var derr *Error
	if !errors.As(err, &derr) || derr.Field != "set_brightness" {
		t.Errorf("Invoke() error field = %+v, want set_brightness", derr)
	}
	if caller.CallCount() != 0 {
		t.Errorf("boundary calls = %d, want 0", caller.CallCount())
	}
}

func TestInvoke_UnknownType(t *testing.T) {
	caller := NewMockCaller()
	inv := NewInvoker(newTestRegistry(t), caller)

	// A device built against a wider registry is unknown to this one.
	wider, err := NewTypeRegistry(append(testSchemas(), TypeSchema{Type: "AirPurifier"}))
	if err != nil {
		t.Fatalf("NewTypeRegistry() error = %v", err)
	}
	d := mustCreate(t, NewFactory(wider), "p1", "AirPurifier", "10.0.0.9")

	_, err = inv.Invoke(context.Background(), d, "status")
	if !errors.Is(err, ErrUnknownDeviceType) {
		t.Errorf("Invoke() error = %v, want ErrUnknownDeviceType", err)
	}
	if caller.CallCount() != 0 {
		t.Errorf("boundary calls = %d, want 0", caller.CallCount())
	}
}

func TestInvoke_ArgumentGating(t *testing.T) {
	f := newTestFactory(t)
	lamp := mustCreate(t, f, "lamp", "Yeelight", "192.168.1.40")
	vac := mustCreate(t, f, "vac", "RoborockVacuum", "192.168.1.41")

	tests := []struct {
		name    string
		device  Device
		method  string
		args    []Value
		wantErr bool
		wantMsg string
	}{
		{name: "zero-arg method given one", device: lamp, method: "on", args: []Value{Int(1)}, wantErr: true, wantMsg: "expected 0 arguments, got 1"},
		{name: "missing required", device: lamp, method: "set_brightness", wantErr: true, wantMsg: "expected 1 to 2 arguments, got 0"},
		{name: "too many", device: lamp, method: "set_brightness", args: []Value{Int(1), Int(2), Int(3)}, wantErr: true},
		{name: "required only", device: lamp, method: "set_brightness", args: []Value{Int(40)}},
		{name: "required and optional", device: lamp, method: "set_brightness", args: []Value{Int(40), Int(500)}},
		{name: "optional as null", device: lamp, method: "set_brightness", args: []Value{Int(40), Null()}},
		{name: "string for int", device: lamp, method: "set_brightness", args: []Value{String("40")}, wantErr: true, wantMsg: "argument 0 (level)"},
		{name: "float for int", device: lamp, method: "set_brightness", args: []Value{Float(40.5)}, wantErr: true},
		{name: "null for required", device: lamp, method: "set_brightness", args: []Value{Null()}, wantErr: true},
		{name: "list param", device: lamp, method: "set_rgb", args: []Value{List(Int(255), Int(0), Int(0))}},
		{name: "map for list", device: lamp, method: "set_rgb", args: []Value{Map(map[string]Value{"r": Int(255)})}, wantErr: true},
		{name: "string param", device: lamp, method: "set_name", args: []Value{String("desk")}},
		{name: "variadic empty", device: lamp, method: "send", args: []Value{String("get_prop")}},
		{name: "variadic many", device: lamp, method: "send", args: []Value{String("get_prop"), String("power"), Int(1), Bool(true)}},
		{name: "variadic missing required", device: lamp, method: "send", wantErr: true, wantMsg: "at least 1"},
		{name: "int accepted for float", device: vac, method: "set_fan_speed", args: []Value{Int(60)}},
		{name: "float param", device: vac, method: "set_fan_speed", args: []Value{Float(60.5)}},
		{name: "bool for float", device: vac, method: "set_fan_speed", args: []Value{Bool(true)}, wantErr: true},
		{name: "map param", device: vac, method: "configure", args: []Value{Map(map[string]Value{"mode": String("quiet")}), Bool(true)}},
		{name: "string for bool", device: vac, method: "configure", args: []Value{Map(nil), String("yes")}, wantErr: true, wantMsg: "argument 1 (dry_run)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			caller := NewMockCaller()
			inv := NewInvoker(f.Registry(), caller)

			_, err := inv.Invoke(context.Background(), tt.device, tt.method, tt.args...)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidArguments) {
					t.Fatalf("Invoke() error = %v, want ErrInvalidArguments", err)
				}
				if tt.wantMsg != "" && !strings.Contains(err.Error(), tt.wantMsg) {
					t.Errorf("Invoke() error = %q, want it to contain %q", err.Error(), tt.wantMsg)
				}
				if caller.CallCount() != 0 {
					t.Errorf("boundary calls = %d, want 0", caller.CallCount())
				}
				return
			}
			if err != nil {
				t.Fatalf("Invoke() error = %v", err)
			}
			if caller.CallCount() != 1 {
				t.Errorf("boundary calls = %d, want 1", caller.CallCount())
			}
		})
	}
}

func TestInvoke_RejectsNonFiniteNumbers(t *testing.T) {
	f := newTestFactory(t)
	lamp := mustCreate(t, f, "lamp", "Yeelight", "192.168.1.40")
	vac := mustCreate(t, f, "vac", "RoborockVacuum", "192.168.1.41")

	tests := []struct {
		name    string
		device  Device
		method  string
		args    []Value
		wantMsg string
	}{
		{name: "NaN", device: vac, method: "set_fan_speed", args: []Value{Float(math.NaN())}, wantMsg: "argument 0 (speed)"},
		{name: "positive infinity", device: vac, method: "set_fan_speed", args: []Value{Float(math.Inf(1))}, wantMsg: "argument 0 (speed)"},
		{name: "negative infinity", device: vac, method: "set_fan_speed", args: []Value{Float(math.Inf(-1))}, wantMsg: "argument 0 (speed)"},
		{name: "nested in list", device: lamp, method: "set_rgb", args: []Value{List(Int(255), Float(math.NaN()), Int(0))}, wantMsg: "argument 0 (rgb)"},
		{name: "nested in map", device: vac, method: "configure", args: []Value{Map(map[string]Value{"speed": Float(math.Inf(1))})}, wantMsg: "argument 0 (settings)"},
		{name: "variadic any", device: lamp, method: "send", args: []Value{String("set_bright"), Float(math.NaN())}, wantMsg: "argument 1 (parameters)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			caller := NewMockCaller()
			inv := NewInvoker(f.Registry(), caller)

			_, err := inv.Invoke(context.Background(), tt.device, tt.method, tt.args...)
			if KindOf(err) != ErrInvalidArguments {
				t.Fatalf("Invoke() error = %v, want ErrInvalidArguments", err)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("Invoke() error = %q, want it to contain %q", err.Error(), tt.wantMsg)
			}
			if caller.CallCount() != 0 {
				t.Errorf("boundary calls = %d, want 0", caller.CallCount())
			}
			if stats := inv.Stats(); stats.Rejected != 1 || stats.Faulted != 0 {
				t.Errorf("Stats() = %+v, want 1 rejected", stats)
			}
		})
	}
}

func TestInvoke_NotDispatchedIsReturnedAsIs(t *testing.T) {
	f := newTestFactory(t)
	caller := NewMockCaller()
	caller.result = func(Device, string, []Value) (Value, error) {
		return Value{}, fmt.Errorf("%w: waiting for call slot: %w", ErrNotDispatched, context.DeadlineExceeded)
	}
	inv := NewInvoker(f.Registry(), caller)

	_, err := inv.Invoke(context.Background(), mustCreate(t, f, "d1", "plug", "10.0.0.5"), "on")
	if !errors.Is(err, context.DeadlineExceeded) || !errors.Is(err, ErrNotDispatched) {
		t.Fatalf("Invoke() error = %v, want ErrNotDispatched wrapping DeadlineExceeded", err)
	}
	if errors.Is(err, ErrBridge) || KindOf(err) != ErrNotDispatched {
		t.Errorf("Invoke() error kind = %v, want ErrNotDispatched", KindOf(err))
	}
	if stats := inv.Stats(); stats.Abandoned != 1 || stats.Faulted != 0 {
		t.Errorf("Stats() = %+v, want 1 abandoned and no faults", stats)
	}
}

func TestInvoke_BridgeErrorKeepsCause(t *testing.T) {
	f := newTestFactory(t)
	caller := NewMockCaller()
	caller.result = func(Device, string, []Value) (Value, error) {
		return Value{}, context.DeadlineExceeded
	}
	inv := NewInvoker(f.Registry(), caller)

	_, err := inv.Invoke(context.Background(), mustCreate(t, f, "d1", "plug", "10.0.0.5"), "on")
	if !errors.Is(err, ErrBridge) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Invoke() error = %v, want ErrBridge with DeadlineExceeded cause", err)
	}
	if KindOf(err) != ErrBridge {
		t.Errorf("KindOf() = %v, want ErrBridge", KindOf(err))
	}
	if err.Error() != context.DeadlineExceeded.Error() {
		t.Errorf("Error() = %q, want the cause's text", err.Error())
	}
}

func TestInvoke_ConcurrentDistinctDevices(t *testing.T) {
	f := newTestFactory(t)
	caller := NewMockCaller()
	caller.result = func(d Device, method string, _ []Value) (Value, error) {
		return Map(map[string]Value{"id": String(d.ID()), "method": String(method)}), nil
	}
	inv := NewInvoker(f.Registry(), caller)

	const n = 32
	devices := make([]Device, n)
	for i := range devices {
		devices[i] = mustCreate(t, f, fmt.Sprintf("plug-%02d", i), "plug", fmt.Sprintf("10.0.0.%d", i+1))
	}

	results := make([]Value, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := range devices {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = inv.Invoke(context.Background(), devices[i], "status")
		}(i)
	}
	wg.Wait()

	if caller.overlap.Load() {
		t.Fatal("boundary observed overlapping calls")
	}
	if caller.CallCount() != n {
		t.Fatalf("boundary calls = %d, want %d", caller.CallCount(), n)
	}
	for i := range n {
		if errs[i] != nil {
			t.Errorf("Invoke(%d) error = %v", i, errs[i])
			continue
		}
		want := Map(map[string]Value{"id": String(devices[i].ID()), "method": String("status")})
		if !results[i].Equal(want) {
			t.Errorf("Invoke(%d) = %v, want %v", i, results[i], want)
		}
	}
	if got := inv.Stats(); got.Invocations != n || got.Succeeded != n {
		t.Errorf("Stats() = %+v, want %d invocations all succeeded", got, n)
	}
}

func TestInvoke_RecordsTelemetry(t *testing.T) {
	f := newTestFactory(t)
	caller := NewMockCaller()
	inv := NewInvoker(f.Registry(), caller)
	rec := &MockRecorder{}
	inv.SetRecorder(rec)

	d := mustCreate(t, f, "d1", "plug", "10.0.0.5")
	ctx := context.Background()

	if _, err := inv.Invoke(ctx, d, "on"); err != nil {
		t.Fatalf("Invoke(on) error = %v", err)
	}
	_, _ = inv.Invoke(ctx, d, "dance")
	caller.result = faultWith("timeout")
	_, _ = inv.Invoke(ctx, d, "off")

	got := rec.All()
	if len(got) != 3 {
		t.Fatalf("recorded %d invocations, want 3", len(got))
	}
	wantKinds := []error{nil, ErrUnsupportedMethod, ErrBridge}
	for i, want := range wantKinds {
		if kind := KindOf(got[i].Err); kind != want {
			t.Errorf("invocation %d kind = %v, want %v", i, kind, want)
		}
		if got[i].Device != d {
			t.Errorf("invocation %d device = %v, want %v", i, got[i].Device, d)
		}
	}

	stats := inv.Stats()
	if stats.Invocations != 3 || stats.Succeeded != 1 || stats.Rejected != 1 || stats.Faulted != 1 {
		t.Errorf("Stats() = %+v, want 3/1/1/1", stats)
	}
}

func TestCheck_NoBoundaryCall(t *testing.T) {
	f := newTestFactory(t)
	caller := NewMockCaller()
	inv := NewInvoker(f.Registry(), caller)
	lamp := mustCreate(t, f, "lamp", "Yeelight", "192.168.1.40")

	m, err := inv.Check(lamp, "set_brightness", Int(10))
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if m.Signature != "(level: int, transition: int = 0)" {
		t.Errorf("Check() signature = %q", m.Signature)
	}
	if caller.CallCount() != 0 {
		t.Errorf("boundary calls = %d, want 0", caller.CallCount())
	}
}

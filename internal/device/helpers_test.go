package device

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// testSchemas is a small capability table used across the package tests.
func testSchemas() []TypeSchema {
	return []TypeSchema{
		{
			Type: "plug",
			Methods: []MethodSchema{
				{Name: "on", Signature: "()"},
				{Name: "off", Signature: "()"},
				{Name: "status", Signature: "()"},
			},
		},
		{
			Type: "Yeelight",
			Methods: []MethodSchema{
				{Name: "on", Signature: "()"},
				{
					Name:      "set_brightness",
					Params:    []ParamSpec{{Name: "level", Kind: KindInt}, {Name: "transition", Kind: KindInt, Optional: true}},
					Signature: "(level: int, transition: int = 0)",
				},
				{
					Name:      "set_rgb",
					Params:    []ParamSpec{{Name: "rgb", Kind: KindList}},
					Signature: "(rgb: Tuple[int, int, int])",
				},
				{
					Name:      "set_name",
					Params:    []ParamSpec{{Name: "name", Kind: KindString}},
					Signature: "(name: str)",
				},
				{
					Name:      "send",
					Params:    []ParamSpec{{Name: "command", Kind: KindString}, {Name: "parameters", Kind: KindAny, Variadic: true}},
					Signature: "(command: str, *parameters)",
				},
			},
		},
		{
			Type: "RoborockVacuum",
			Methods: []MethodSchema{
				{Name: "start", Signature: "()"},
				{
					Name:      "set_fan_speed",
					Params:    []ParamSpec{{Name: "speed", Kind: KindFloat}},
					Signature: "(speed: float)",
				},
				{
					Name:      "configure",
					Params:    []ParamSpec{{Name: "settings", Kind: KindMap}, {Name: "dry_run", Kind: KindBool, Optional: true}},
					Signature: "(settings: dict, dry_run: bool = False)",
				},
			},
		},
	}
}

func newTestRegistry(t testing.TB) *TypeRegistry {
	t.Helper()
	reg, err := NewTypeRegistry(testSchemas())
	if err != nil {
		t.Fatalf("NewTypeRegistry() error = %v", err)
	}
	return reg
}

func newTestFactory(t testing.TB) *Factory {
	t.Helper()
	return NewFactory(newTestRegistry(t))
}

func mustCreate(t testing.TB, f *Factory, id string, typ DeviceType, addr string) Device {
	t.Helper()
	d, err := f.CreateWithID(id, typ, ConnectionParams{Address: addr, Token: "abc"})
	if err != nil {
		t.Fatalf("CreateWithID(%q, %q) error = %v", id, typ, err)
	}
	return d
}

// MockCaller is a test implementation of Caller.
// It counts calls and detects overlapping calls when serialize is set.
type MockCaller struct {
	mu        sync.Mutex
	serialize sync.Mutex
	calls     []mockCall

	result   func(d Device, method string, args []Value) (Value, error)
	delay    time.Duration
	inFlight atomic.Int32
	overlap  atomic.Bool
}

type mockCall struct {
	Device Device
	Method string
	Args   []Value
}

func NewMockCaller() *MockCaller {
	return &MockCaller{
		result: func(Device, string, []Value) (Value, error) { return Null(), nil },
	}
}

func (m *MockCaller) Call(_ context.Context, d Device, method string, args []Value) (Value, error) {
	m.serialize.Lock()
	defer m.serialize.Unlock()

	if m.inFlight.Add(1) > 1 {
		m.overlap.Store(true)
	}
	defer m.inFlight.Add(-1)

	m.mu.Lock()
	m.calls = append(m.calls, mockCall{Device: d, Method: method, Args: args})
	m.mu.Unlock()

	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	return m.result(d, method, args)
}

func (m *MockCaller) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *MockCaller) LastCall() mockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return mockCall{}
	}
	return m.calls[len(m.calls)-1]
}

// faultWith returns a result function that fails every call with msg.
func faultWith(msg string) func(Device, string, []Value) (Value, error) {
	return func(Device, string, []Value) (Value, error) {
		return Value{}, errors.New(msg)
	}
}

// MockRecorder collects invocation summaries.
type MockRecorder struct {
	mu          sync.Mutex
	invocations []Invocation
}

func (m *MockRecorder) RecordInvocation(inv Invocation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invocations = append(m.invocations, inv)
}

func (m *MockRecorder) All() []Invocation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Invocation, len(m.invocations))
	copy(out, m.invocations)
	return out
}

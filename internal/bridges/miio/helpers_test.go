package miio

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-miio/internal/device"
)

// testTypes is the library metadata used across the package tests.
func testTypes() []LibraryType {
	return []LibraryType{
		{
			Name: "plug",
			Methods: []LibraryMethod{
				{Name: "on", Signature: "()"},
				{Name: "off", Signature: "()"},
				{Name: "status", Signature: "()"},
			},
		},
		{
			Name: "Yeelight",
			Methods: []LibraryMethod{
				{
					Name:      "set_brightness",
					Params:    []LibraryParam{{Name: "level", Kind: "int"}, {Name: "transition", Kind: "int", Optional: true}},
					Signature: "(level: int, transition: int = 0)",
				},
				{
					Name:      "set_name",
					Params:    []LibraryParam{{Name: "name", Kind: "string"}},
					Signature: "(name: str)",
				},
				{
					Name:      "set_scene",
					Params:    []LibraryParam{{Name: "scene", Kind: "SceneType"}, {Name: "vals", Kind: "any", Variadic: true}},
					Signature: "(scene: SceneType, *vals)",
				},
			},
		},
	}
}

// MockLibrary is a test implementation of Library. Calls are recorded and
// overlapping calls are counted.
type MockLibrary struct {
	mu        sync.Mutex
	reentrant bool
	types     []LibraryType
	typesErr  error
	calls     []CallRequest

	// result produces the outcome of a call. Defaults to ["ok"].
	result func(ctx context.Context, req CallRequest) (any, error)

	inFlight atomic.Int32
	overlap  atomic.Int32
}

func NewMockLibrary() *MockLibrary {
	return &MockLibrary{types: testTypes()}
}

func (m *MockLibrary) Call(ctx context.Context, req CallRequest) (any, error) {
	if m.inFlight.Add(1) > 1 {
		m.overlap.Add(1)
	}
	defer m.inFlight.Add(-1)

	m.mu.Lock()
	m.calls = append(m.calls, req)
	result := m.result
	m.mu.Unlock()

	if result == nil {
		return []any{"ok"}, nil
	}
	return result(ctx, req)
}

func (m *MockLibrary) ListTypesWithSchema(context.Context) ([]LibraryType, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.types, m.typesErr
}

func (m *MockLibrary) Reentrant() bool { return m.reentrant }

func (m *MockLibrary) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *MockLibrary) LastCall() CallRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return CallRequest{}
	}
	return m.calls[len(m.calls)-1]
}

// testStack wires a mock library through Bridge, TypeRegistry, Factory and
// Invoker.
type testStack struct {
	lib      *MockLibrary
	bridge   *Bridge
	registry *device.TypeRegistry
	factory  *device.Factory
	invoker  *device.Invoker
}

func newTestStack(t *testing.T, lib *MockLibrary) *testStack {
	t.Helper()
	b, err := NewBridge(BridgeOptions{Library: lib})
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}
	reg, err := b.LoadRegistry(context.Background())
	if err != nil {
		t.Fatalf("LoadRegistry() error = %v", err)
	}
	return &testStack{
		lib:      lib,
		bridge:   b,
		registry: reg,
		factory:  device.NewFactory(reg),
		invoker:  device.NewInvoker(reg, b),
	}
}

func (s *testStack) device(t *testing.T, id string, typ device.DeviceType, address string) device.Device {
	t.Helper()
	d, err := s.factory.CreateWithID(id, typ, device.ConnectionParams{Address: address, Token: "abc"})
	if err != nil {
		t.Fatalf("CreateWithID(%s) error = %v", id, err)
	}
	return d
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func decodeJSON[T any](t *testing.T, payload []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		t.Fatalf("decoding %s: %v", payload, err)
	}
	return v
}

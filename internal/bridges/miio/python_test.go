package miio

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// stubHelper speaks the helper protocol without python-miio.
const stubHelper = `
import json, sys
for line in sys.stdin:
    req = json.loads(line)
    op = req["op"]
    if op == "ping":
        resp = {"ok": True, "result": {"miio_version": "stub", "python_version": "3", "types": 1}}
    elif op == "types":
        resp = {"ok": True, "result": [{"name": "plug", "methods": [{"name": "on", "params": [], "signature": "()"}]}]}
    elif req["call"]["method"] == "on":
        resp = {"ok": True, "result": {"token_seen": req["call"]["token"] == "abc", "args": req["call"]["args"]}}
    else:
        resp = {"ok": False, "error": {"type": "DeviceException", "message": "timeout"}}
    resp["id"] = req["id"]
    sys.stdout.write(json.dumps(resp) + "\n")
    sys.stdout.flush()
`

func requirePython(t *testing.T) string {
	t.Helper()
	python, err := exec.LookPath("python3")
	if err != nil {
		t.Skip("python3 not available")
	}
	return python
}

func TestPythonLibrary_StubHelper(t *testing.T) {
	python := requirePython(t)
	script := filepath.Join(t.TempDir(), "stub.py")
	if err := os.WriteFile(script, []byte(stubHelper), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lib := NewPythonLibrary(PythonConfig{Python: python, HelperPath: script, StartupTimeout: 10 * time.Second}, nil)
	if err := lib.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer lib.Stop()

	if info := lib.Info(); info.MiioVersion != "stub" || info.Types != 1 {
		t.Errorf("Info() = %+v", info)
	}
	if !lib.IsRunning() {
		t.Error("IsRunning() = false after Start")
	}

	b, err := NewBridge(BridgeOptions{Library: lib})
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}
	reg, err := b.LoadRegistry(ctx)
	if err != nil || !reg.Has("plug") {
		t.Fatalf("LoadRegistry() = %v, %v", reg, err)
	}

	got, err := lib.Call(ctx, CallRequest{DeviceType: "plug", Address: "10.0.0.5", Token: "abc", Method: "on", Args: []any{}})
	if err != nil {
		t.Fatalf("Call(on) error = %v", err)
	}
	if m, ok := got.(map[string]any); !ok || m["token_seen"] != true {
		t.Errorf("Call(on) = %#v", got)
	}

	_, err = lib.Call(ctx, CallRequest{DeviceType: "plug", Method: "off"})
	if err == nil || err.Error() != "timeout" {
		t.Errorf("Call(off) error = %v, want verbatim timeout", err)
	}

	if err := lib.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	if _, err := lib.Call(ctx, CallRequest{Method: "on"}); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Call() after Stop error = %v, want ErrNotRunning", err)
	}
}

func TestPythonLibrary_MissingMiio(t *testing.T) {
	python := requirePython(t)
	if exec.Command(python, "-c", "import miio").Run() == nil {
		t.Skip("python-miio is installed")
	}

	lib := NewPythonLibrary(PythonConfig{Python: python, StartupTimeout: 10 * time.Second}, nil)
	err := lib.Start(context.Background())
	if err == nil {
		lib.Stop()
		t.Fatal("Start() error = nil, want helper failure")
	}
	if !strings.Contains(err.Error(), "not ready") {
		t.Errorf("Start() error = %v", err)
	}
	if lib.IsRunning() {
		t.Error("IsRunning() = true after failed start")
	}
}

func TestPythonLibrary_Environment(t *testing.T) {
	t.Setenv("PYTHONPATH", "/opt/site")
	lib := NewPythonLibrary(PythonConfig{PythonPath: []string{"/src/python-miio"}}, nil)

	env := lib.environment()
	want := "PYTHONPATH=/src/python-miio" + string(os.PathListSeparator) + "/opt/site"
	found := false
	for _, kv := range env {
		if kv == want {
			found = true
		}
	}
	if !found {
		t.Errorf("environment() = %v, want %s", env, want)
	}
	if lib.cfg.Python != defaultPython || lib.cfg.StartupTimeout != defaultStartupTimeout {
		t.Errorf("defaults not applied: %+v", lib.cfg)
	}
}

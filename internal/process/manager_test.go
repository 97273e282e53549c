package process

import (
	"bufio"
	"context"
	"errors"
	"io"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"
)

// eventLog collects lifecycle events.
type eventLog struct {
	mu     sync.Mutex
	events []Event
	ch     chan Event
}

func newEventLog() *eventLog {
	return &eventLog{ch: make(chan Event, 32)}
}

func (l *eventLog) record(ev Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
	l.ch <- ev
}

// waitFor returns the first event of the given kind.
func (l *eventLog) waitFor(t *testing.T, kind EventKind) Event {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case ev := <-l.ch:
			if ev.Kind == kind {
				return ev
			}
		case <-timeout:
			t.Fatalf("no %s event", kind)
		}
	}
}

func TestNewManager_Defaults(t *testing.T) {
	m := NewManager(Config{Name: "helper", Binary: "/usr/bin/python3"})

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"Backoff.Initial", m.config.Backoff.Initial, 5 * time.Second},
		{"Backoff.Max", m.config.Backoff.Max, 5 * time.Minute},
		{"StableThreshold", m.config.StableThreshold, 2 * time.Minute},
		{"GracefulTimeout", m.config.GracefulTimeout, 10 * time.Second},
		{"HealthCheckInterval", m.config.HealthCheckInterval, 30 * time.Second},
		{"HealthCheckTimeout", m.config.HealthCheckTimeout, 5 * time.Second},
		{"MaxHealthFailures", m.config.MaxHealthFailures, 3},
		{"TailLines", m.config.TailLines, 20},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
	if m.Status() != StatusStopped {
		t.Errorf("Status() = %q, want %q", m.Status(), StatusStopped)
	}
}

func TestNewManager_KeepsCustomValues(t *testing.T) {
	m := NewManager(Config{
		Name:            "helper",
		Binary:          "python3",
		Backoff:         Backoff{Initial: 10 * time.Second},
		GracefulTimeout: 30 * time.Second,
	})

	if m.config.Backoff.Initial != 10*time.Second {
		t.Errorf("Backoff.Initial = %v, want 10s", m.config.Backoff.Initial)
	}
	if m.config.Backoff.Max != 5*time.Minute {
		t.Errorf("Backoff.Max = %v, want default 5m", m.config.Backoff.Max)
	}
	if m.config.GracefulTimeout != 30*time.Second {
		t.Errorf("GracefulTimeout = %v, want 30s", m.config.GracefulTimeout)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("miio-helper", "python3", []string{"-u", "helper.py"})

	if !cfg.RestartOnFailure {
		t.Error("RestartOnFailure = false, want true")
	}
	if cfg.MaxRestartAttempts != 10 {
		t.Errorf("MaxRestartAttempts = %d, want 10", cfg.MaxRestartAttempts)
	}
	if !slices.Equal(cfg.Args, []string{"-u", "helper.py"}) {
		t.Errorf("Args = %v", cfg.Args)
	}
}

func TestBackoff_Delay(t *testing.T) {
	b := Backoff{Initial: time.Second, Max: 30 * time.Second}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{40, 30 * time.Second},
	}
	for _, tt := range tests {
		if got := b.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestIsRecoverable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, true},
		{"plain error", errors.New("exit status 1"), true},
		{"recoverable exit", &ExitError{Name: "helper", Code: 1}, true},
		{"permanent exit", &ExitError{Name: "helper", Code: 78, Permanent: true}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRecoverable(tt.err); got != tt.want {
				t.Errorf("IsRecoverable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExitError_Message(t *testing.T) {
	err := &ExitError{Name: "miio-helper", Code: 78, Permanent: true, LastOutput: "python-miio is not importable"}
	want := "miio-helper exited with permanent failure code 78: python-miio is not importable"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestTail(t *testing.T) {
	tl := newTail(3)
	if tl.Last() != "" || len(tl.Lines()) != 0 {
		t.Fatal("new tail not empty")
	}

	for _, line := range []string{"a", "b", "c", "d"} {
		tl.add(line)
	}
	if got := tl.Lines(); !slices.Equal(got, []string{"b", "c", "d"}) {
		t.Errorf("Lines() = %v, want [b c d]", got)
	}
	if tl.Last() != "d" {
		t.Errorf("Last() = %q, want d", tl.Last())
	}

	tl.reset()
	if len(tl.Lines()) != 0 {
		t.Errorf("Lines() after reset = %v", tl.Lines())
	}
}

func TestManager_StopWhenNotStarted(t *testing.T) {
	m := NewManager(Config{Name: "helper", Binary: "/bin/true"})
	if err := m.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

func TestManager_StartAndStop(t *testing.T) {
	events := newEventLog()
	m := NewManager(Config{
		Name:            "sleeper",
		Binary:          "/bin/sleep",
		Args:            []string{"60"},
		GracefulTimeout: 2 * time.Second,
		OnEvent:         events.record,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if started := events.waitFor(t, EventStarted); started.PID == 0 {
		t.Error("started event has no PID")
	}
	if !m.IsRunning() || m.PID() == 0 {
		t.Fatalf("IsRunning() = %v, PID() = %d after Start()", m.IsRunning(), m.PID())
	}
	if err := m.Start(ctx); err == nil {
		t.Error("second Start() expected error, got nil")
	}

	if err := m.Stop(); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	if exited := events.waitFor(t, EventExited); exited.Err != nil {
		t.Errorf("requested stop reported error %v", exited.Err)
	}
	if m.Status() != StatusStopped {
		t.Errorf("Status() = %q, want %q", m.Status(), StatusStopped)
	}
	if m.PID() != 0 {
		t.Errorf("PID() = %d after Stop()", m.PID())
	}
}

func TestManager_StartWithInvalidBinary(t *testing.T) {
	m := NewManager(Config{Name: "missing", Binary: "/nonexistent/python3"})

	if err := m.Start(context.Background()); err == nil {
		t.Fatal("Start() with invalid binary expected error, got nil")
	}
	if m.Status() != StatusFailed {
		t.Errorf("Status() = %q, want %q", m.Status(), StatusFailed)
	}
	if m.LastError() == nil {
		t.Error("LastError() = nil")
	}
	if err := m.Stop(); err != nil {
		t.Errorf("Stop() after failed start error = %v", err)
	}
}

func TestManager_OnStdio(t *testing.T) {
	type pipes struct {
		stdin  io.WriteCloser
		stdout io.Reader
	}
	attached := make(chan pipes, 1)

	m := NewManager(Config{
		Name:            "cat",
		Binary:          "/bin/cat",
		GracefulTimeout: 2 * time.Second,
		OnStdio: func(stdin io.WriteCloser, stdout io.Reader) {
			attached <- pipes{stdin: stdin, stdout: stdout}
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer m.Stop()

	var p pipes
	select {
	case p = <-attached:
	case <-time.After(2 * time.Second):
		t.Fatal("OnStdio was not called")
	}

	if _, err := io.WriteString(p.stdin, "{\"op\":\"ping\"}\n"); err != nil {
		t.Fatalf("write stdin: %v", err)
	}
	line, err := bufio.NewReader(p.stdout).ReadString('\n')
	if err != nil {
		t.Fatalf("read stdout: %v", err)
	}
	if line != "{\"op\":\"ping\"}\n" {
		t.Errorf("echoed line = %q", line)
	}
}

func TestManager_PermanentExitCarriesStderr(t *testing.T) {
	events := newEventLog()
	m := NewManager(Config{
		Name:               "miio-helper",
		Binary:             "/bin/sh",
		Args:               []string{"-c", "echo 'python-miio is not importable' >&2; exit 78"},
		RestartOnFailure:   true,
		Backoff:            Backoff{Initial: 10 * time.Millisecond},
		PermanentExitCodes: []int{78},
		OnEvent:            events.record,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	gaveUp := events.waitFor(t, EventGaveUp)
	var exitErr *ExitError
	if !errors.As(gaveUp.Err, &exitErr) || exitErr.Code != 78 || !exitErr.Permanent {
		t.Fatalf("gave up with %v, want permanent *ExitError code 78", gaveUp.Err)
	}
	if exitErr.LastOutput != "python-miio is not importable" {
		t.Errorf("LastOutput = %q", exitErr.LastOutput)
	}
	if !strings.Contains(m.LastError().Error(), "not importable") {
		t.Errorf("LastError() = %v", m.LastError())
	}
	if m.RestartCount() != 0 {
		t.Errorf("RestartCount() = %d, want 0", m.RestartCount())
	}
	if m.Status() != StatusFailed {
		t.Errorf("Status() = %q, want %q", m.Status(), StatusFailed)
	}
	if got := m.StderrTail(); !slices.Equal(got, []string{"python-miio is not importable"}) {
		t.Errorf("StderrTail() = %v", got)
	}
}

func TestManager_RestartsUntilLimit(t *testing.T) {
	events := newEventLog()
	m := NewManager(Config{
		Name:               "flaky",
		Binary:             "/bin/sh",
		Args:               []string{"-c", "exit 1"},
		RestartOnFailure:   true,
		Backoff:            Backoff{Initial: 10 * time.Millisecond, Max: 20 * time.Millisecond},
		MaxRestartAttempts: 2,
		PermanentExitCodes: []int{78},
		OnEvent:            events.record,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	for want := 1; want <= 2; want++ {
		if got := events.waitFor(t, EventRestarting).Attempt; got != want {
			t.Errorf("restart attempt = %d, want %d", got, want)
		}
	}
	gaveUp := events.waitFor(t, EventGaveUp)
	if gaveUp.Attempt != 3 {
		t.Errorf("gave up at attempt %d, want 3", gaveUp.Attempt)
	}
	var exitErr *ExitError
	if !errors.As(gaveUp.Err, &exitErr) || exitErr.Permanent {
		t.Errorf("gave up with %v, want recoverable *ExitError", gaveUp.Err)
	}
}

func TestManager_StopDuringBackoff(t *testing.T) {
	events := newEventLog()
	m := NewManager(Config{
		Name:             "flaky",
		Binary:           "/bin/sh",
		Args:             []string{"-c", "exit 1"},
		RestartOnFailure: true,
		Backoff:          Backoff{Initial: time.Hour},
		OnEvent:          events.record,
	})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	events.waitFor(t, EventRestarting)

	stopped := make(chan error, 1)
	go func() { stopped <- m.Stop() }()
	select {
	case err := <-stopped:
		if err != nil {
			t.Errorf("Stop() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() waited out the backoff")
	}
	if m.Status() != StatusStopped {
		t.Errorf("Status() = %q, want %q", m.Status(), StatusStopped)
	}
}

func TestManager_HealthCheckKillsHungProcess(t *testing.T) {
	events := newEventLog()
	m := NewManager(Config{
		Name:                "hung",
		Binary:              "/bin/sleep",
		Args:                []string{"60"},
		HealthCheck:         func(context.Context) error { return errors.New("no pong") },
		HealthCheckInterval: 10 * time.Millisecond,
		MaxHealthFailures:   2,
		OnEvent:             events.record,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	exited := events.waitFor(t, EventExited)
	if exited.Err == nil || !strings.Contains(exited.Err.Error(), "failed health checks") {
		t.Errorf("exit error = %v, want health check kill", exited.Err)
	}
	if m.Status() != StatusFailed {
		t.Errorf("Status() = %q, want %q", m.Status(), StatusFailed)
	}
}

func TestManager_Stats(t *testing.T) {
	m := NewManager(Config{Name: "helper", Binary: "/bin/true"})

	stats := m.Stats()
	if stats.Name != "helper" || stats.Status != StatusStopped {
		t.Errorf("Stats() = %+v", stats)
	}
	if stats.PID != 0 || stats.Uptime != 0 || stats.LastError != "" {
		t.Errorf("Stats() of a stopped manager = %+v", stats)
	}
}

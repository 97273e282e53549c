package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Status represents the current state of a managed process.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusFailed   Status = "failed"
)

// Logger defines the logging interface for the process manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// run is one execution of the process.
type run struct {
	cmd     *exec.Cmd
	started time.Time
	exited  chan error
}

// Manager supervises one child process: it starts it, restarts it after
// recoverable failures, watches its health and stops it on request.
//
// Thread Safety: All methods are safe for concurrent use.
type Manager struct {
	config Config
	logger Logger
	stderr *tail

	mu            sync.RWMutex
	current       *run
	status        Status
	restartCount  int
	lastError     error
	stopRequested bool
	stopCh        chan struct{} // closed by Stop
	done          chan struct{} // closed when supervise returns
}

// NewManager creates a manager. Zero durations in cfg take the defaults of
// DefaultConfig.
func NewManager(cfg Config) *Manager {
	cfg = cfg.withDefaults()
	return &Manager{
		config: cfg,
		logger: noopLogger{},
		stderr: newTail(cfg.TailLines),
		status: StatusStopped,
	}
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logger = logger
}

func (m *Manager) log() Logger {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.logger
}

// Start launches the process and supervises it until Stop or until ctx is
// cancelled. A launch failure, such as a missing binary, is returned
// directly and is not retried.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.status == StatusRunning || m.status == StatusStarting {
		m.mu.Unlock()
		return fmt.Errorf("process %s is already running", m.config.Name)
	}
	m.status = StatusStarting
	m.stopRequested = false
	m.restartCount = 0
	m.lastError = nil
	m.stopCh = make(chan struct{})
	m.done = make(chan struct{})
	done := m.done
	m.mu.Unlock()

	if err := m.launch(ctx); err != nil {
		m.mu.Lock()
		m.status = StatusFailed
		m.lastError = err
		m.mu.Unlock()
		close(done)
		return err
	}

	go m.supervise(ctx, done)
	return nil
}

// launch starts one run of the process and its output readers.
func (m *Manager) launch(ctx context.Context) error {
	log := m.log()
	log.Info("starting process",
		"name", m.config.Name,
		"binary", m.config.Binary,
		"args", m.config.Args,
	)

	cmd := exec.CommandContext(ctx, m.config.Binary, m.config.Args...) //nolint:gosec // binary comes from operator configuration
	// Own process group so Stop reaches grandchildren too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if m.config.Env != nil {
		cmd.Env = append(os.Environ(), m.config.Env...)
	}

	var stdin io.WriteCloser
	var err error
	if m.config.OnStdio != nil {
		if stdin, err = cmd.StdinPipe(); err != nil {
			return fmt.Errorf("creating stdin pipe: %w", err)
		}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("creating stderr pipe: %w", err)
	}

	m.stderr.reset()
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", m.config.Name, err)
	}

	r := &run{cmd: cmd, started: time.Now(), exited: make(chan error, 1)}

	// Pipes must be drained before Wait closes them.
	drained := make([]chan struct{}, 0, 2)
	stderrDone := make(chan struct{})
	drained = append(drained, stderrDone)
	go func() {
		err := scanLines(stderr, func(line string) {
			m.stderr.add(line)
			m.log().Warn("process stderr", "name", m.config.Name, "output", line)
		}, stderrDone)
		if err != nil {
			m.log().Debug("stderr closed", "name", m.config.Name, "error", err)
		}
	}()
	if m.config.OnStdio != nil {
		m.config.OnStdio(stdin, stdout)
	} else {
		stdoutDone := make(chan struct{})
		drained = append(drained, stdoutDone)
		go func() {
			scanLines(stdout, func(line string) { //nolint:errcheck // stream ends with the process
				m.log().Debug("process stdout", "name", m.config.Name, "output", line)
			}, stdoutDone)
		}()
	}
	go func() {
		for _, ch := range drained {
			<-ch
		}
		r.exited <- cmd.Wait()
	}()

	m.mu.Lock()
	m.current = r
	m.status = StatusRunning
	m.mu.Unlock()

	log.Info("process started", "name", m.config.Name, "pid", cmd.Process.Pid)
	m.emit(Event{Kind: EventStarted, PID: cmd.Process.Pid})
	return nil
}

func (m *Manager) emit(ev Event) {
	if m.config.OnEvent == nil {
		return
	}
	ev.Name = m.config.Name
	m.config.OnEvent(ev)
}

// supervise waits on each run and decides whether to restart.
func (m *Manager) supervise(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		m.mu.RLock()
		r := m.current
		m.mu.RUnlock()

		dog := &watchdog{
			name:        m.config.Name,
			check:       m.config.HealthCheck,
			interval:    m.config.HealthCheckInterval,
			timeout:     m.config.HealthCheckTimeout,
			maxFailures: m.config.MaxHealthFailures,
			logger:      m.log(),
		}
		err := dog.wait(ctx, r.exited, func() {
			if r.cmd.Process != nil {
				r.cmd.Process.Kill() //nolint:errcheck // already exiting is fine
			}
		})

		m.mu.Lock()
		if m.stopRequested {
			m.status = StatusStopped
			m.mu.Unlock()
			m.log().Info("process stopped as requested", "name", m.config.Name)
			m.emit(Event{Kind: EventExited})
			return
		}
		err = classifyExit(m.config.Name, err, m.config.PermanentExitCodes, m.stderr.Last())
		if err == nil {
			err = fmt.Errorf("%s exited unexpectedly", m.config.Name)
		}
		m.status = StatusFailed
		m.lastError = err
		if time.Since(r.started) >= m.config.StableThreshold {
			m.restartCount = 0
		}
		m.mu.Unlock()

		m.log().Warn("process exited unexpectedly", "name", m.config.Name, "error", err)
		m.emit(Event{Kind: EventExited, Err: err})

		attempt, ok := m.shouldRestart(ctx, err)
		if !ok {
			return
		}
		if !m.sleepBeforeRestart(ctx, attempt) {
			return
		}
		if err := m.launch(ctx); err != nil {
			m.mu.Lock()
			m.status = StatusFailed
			m.lastError = err
			m.mu.Unlock()
			m.log().Error("failed to restart process", "name", m.config.Name, "error", err)
			m.emit(Event{Kind: EventGaveUp, Attempt: attempt, Err: err})
			return
		}
	}
}

// shouldRestart applies the restart policy to an unexpected exit and
// returns the attempt number when a restart is due.
func (m *Manager) shouldRestart(ctx context.Context, err error) (int, bool) {
	log := m.log()
	switch {
	case ctx.Err() != nil:
		log.Info("context cancelled, not restarting", "name", m.config.Name)
		return 0, false
	case !m.config.RestartOnFailure:
		log.Info("restart disabled, not restarting", "name", m.config.Name)
		return 0, false
	case !IsRecoverable(err):
		log.Error("process failed permanently, not restarting", "name", m.config.Name, "error", err)
		m.emit(Event{Kind: EventGaveUp, Err: err})
		return 0, false
	}

	m.mu.Lock()
	m.restartCount++
	attempt := m.restartCount
	m.mu.Unlock()

	if m.config.MaxRestartAttempts > 0 && attempt > m.config.MaxRestartAttempts {
		log.Error("max restart attempts reached", "name", m.config.Name, "attempts", attempt-1)
		m.emit(Event{Kind: EventGaveUp, Attempt: attempt, Err: err})
		return 0, false
	}
	return attempt, true
}

// sleepBeforeRestart waits out the backoff. It reports false when Stop or
// ctx cancellation intervened.
func (m *Manager) sleepBeforeRestart(ctx context.Context, attempt int) bool {
	delay := m.config.Backoff.Delay(attempt)
	m.log().Info("restarting process", "name", m.config.Name, "attempt", attempt, "delay", delay)
	m.emit(Event{Kind: EventRestarting, Attempt: attempt})

	m.mu.RLock()
	stopCh := m.stopCh
	m.mu.RUnlock()

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-stopCh:
	case <-timer.C:
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopRequested {
		m.status = StatusStopped
		return false
	}
	m.status = StatusStarting
	return true
}

// Stop sends SIGTERM to the process group, then SIGKILL after
// GracefulTimeout, and waits for supervision to end.
func (m *Manager) Stop() error {
	m.mu.Lock()
	// Set before the status check so a restart in backoff is abandoned.
	if !m.stopRequested && m.stopCh != nil {
		close(m.stopCh)
	}
	m.stopRequested = true
	done := m.done
	r := m.current
	running := m.status == StatusRunning
	m.mu.Unlock()

	if done == nil {
		return nil
	}
	if !running || r == nil || r.cmd.Process == nil {
		select {
		case <-done:
		case <-time.After(m.config.GracefulTimeout):
		}
		return nil
	}

	log := m.log()
	pid := r.cmd.Process.Pid
	log.Info("stopping process", "name", m.config.Name, "pid", pid)

	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		log.Warn("failed to send SIGTERM to process group", "name", m.config.Name, "error", err)
	}

	timer := time.NewTimer(m.config.GracefulTimeout)
	defer timer.Stop()
	select {
	case <-done:
		log.Info("process stopped gracefully", "name", m.config.Name)
		return nil
	case <-timer.C:
		log.Warn("graceful shutdown timeout, sending SIGKILL", "name", m.config.Name, "timeout", m.config.GracefulTimeout)
	}

	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("killing process group %s: %w", m.config.Name, err)
	}
	<-done
	log.Info("process killed", "name", m.config.Name)
	return nil
}

// Status returns the current status of the managed process.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// IsRunning returns true if the process is currently running.
func (m *Manager) IsRunning() bool {
	return m.Status() == StatusRunning
}

// LastError returns what ended the most recent failed run.
func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastError
}

// RestartCount returns the number of consecutive restarts.
func (m *Manager) RestartCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.restartCount
}

// StderrTail returns the last stderr lines of the current or latest run.
func (m *Manager) StderrTail() []string {
	return m.stderr.Lines()
}

// PID returns the process ID, or 0 if not running.
func (m *Manager) PID() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.status == StatusRunning && m.current != nil && m.current.cmd.Process != nil {
		return m.current.cmd.Process.Pid
	}
	return 0
}

// Stats is a snapshot of the managed process.
type Stats struct {
	Name         string        `json:"name"`
	Status       Status        `json:"status"`
	PID          int           `json:"pid,omitempty"`
	Uptime       time.Duration `json:"uptime,omitempty"`
	RestartCount int           `json:"restart_count"`
	LastError    string        `json:"last_error,omitempty"`
}

// Stats returns current statistics for the process.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{
		Name:         m.config.Name,
		Status:       m.status,
		RestartCount: m.restartCount,
	}
	if m.status == StatusRunning && m.current != nil {
		if m.current.cmd.Process != nil {
			stats.PID = m.current.cmd.Process.Pid
		}
		stats.Uptime = time.Since(m.current.started)
	}
	if m.lastError != nil {
		stats.LastError = m.lastError.Error()
	}
	return stats
}

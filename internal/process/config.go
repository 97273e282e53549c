package process

import (
	"context"
	"io"
	"time"
)

// Config describes a supervised child process.
type Config struct {
	// Name identifies the process in logs, events and errors.
	Name string

	// Binary is the executable to run, resolved through PATH when it has
	// no separator.
	Binary string

	// Args are passed to Binary.
	Args []string

	// Env entries (key=value) are appended to the parent's environment.
	// Nil inherits the parent's environment unchanged.
	Env []string

	// RestartOnFailure restarts the process after an unexpected exit.
	RestartOnFailure bool

	// Backoff spaces consecutive restarts.
	Backoff Backoff

	// StableThreshold is how long a run must last before a failure resets
	// the restart count and backoff.
	StableThreshold time.Duration

	// MaxRestartAttempts limits consecutive restarts. 0 means unlimited.
	MaxRestartAttempts int

	// PermanentExitCodes mark exits a restart cannot fix, e.g. a missing
	// dependency. The process is left failed.
	PermanentExitCodes []int

	// GracefulTimeout is how long Stop waits after SIGTERM before SIGKILL.
	GracefulTimeout time.Duration

	// HealthCheck, if set, is run every HealthCheckInterval while the
	// process is up. After MaxHealthFailures consecutive failures the
	// process is killed and handled as a crash.
	HealthCheck         func(ctx context.Context) error
	HealthCheckInterval time.Duration
	HealthCheckTimeout  time.Duration
	MaxHealthFailures   int

	// OnStdio, if set, receives stdin and stdout on every (re)start. The
	// callee owns both: stdout must be drained until EOF, and stdin is
	// closed by the callee or when the process exits. Without OnStdio,
	// stdout is logged.
	OnStdio func(stdin io.WriteCloser, stdout io.Reader)

	// OnEvent, if set, is called synchronously for every lifecycle event.
	OnEvent func(Event)

	// TailLines is how many trailing stderr lines are kept for exit
	// diagnostics.
	TailLines int
}

// Backoff is an exponential restart delay: Initial for the first restart,
// doubling per consecutive restart, capped at Max.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
}

// Delay returns the wait before restart attempt n (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	delay := b.Initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= b.Max || delay <= 0 {
			return b.Max
		}
	}
	return min(delay, b.Max)
}

// DefaultConfig returns a Config that restarts the process on failure.
func DefaultConfig(name, binary string, args []string) Config {
	return Config{
		Name:             name,
		Binary:           binary,
		Args:             args,
		RestartOnFailure: true,
		Backoff: Backoff{
			Initial: 5 * time.Second,
			Max:     5 * time.Minute,
		},
		StableThreshold:     2 * time.Minute,
		MaxRestartAttempts:  10,
		GracefulTimeout:     10 * time.Second,
		HealthCheckInterval: 30 * time.Second,
		HealthCheckTimeout:  5 * time.Second,
		MaxHealthFailures:   3,
		TailLines:           20,
	}
}

// withDefaults fills zero durations and limits.
func (c Config) withDefaults() Config {
	d := DefaultConfig(c.Name, c.Binary, c.Args)
	if c.Backoff.Initial <= 0 {
		c.Backoff.Initial = d.Backoff.Initial
	}
	if c.Backoff.Max <= 0 {
		c.Backoff.Max = max(d.Backoff.Max, c.Backoff.Initial)
	}
	if c.StableThreshold <= 0 {
		c.StableThreshold = d.StableThreshold
	}
	if c.GracefulTimeout <= 0 {
		c.GracefulTimeout = d.GracefulTimeout
	}
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = d.HealthCheckInterval
	}
	if c.HealthCheckTimeout <= 0 {
		c.HealthCheckTimeout = d.HealthCheckTimeout
	}
	if c.MaxHealthFailures <= 0 {
		c.MaxHealthFailures = d.MaxHealthFailures
	}
	if c.TailLines <= 0 {
		c.TailLines = d.TailLines
	}
	return c
}

// EventKind names a lifecycle transition.
type EventKind string

const (
	EventStarted    EventKind = "started"
	EventExited     EventKind = "exited"
	EventRestarting EventKind = "restarting"
	EventGaveUp     EventKind = "gave_up"
)

// Event is passed to Config.OnEvent.
type Event struct {
	Kind EventKind
	Name string

	// PID is set for EventStarted.
	PID int

	// Attempt is the restart attempt for EventRestarting and EventGaveUp.
	Attempt int

	// Err is the exit cause for EventExited and EventGaveUp. It is nil
	// when the exit was requested through Stop.
	Err error
}

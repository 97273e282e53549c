package miio

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-miio/internal/process"
)

// helperSource is the python-miio helper run by PythonLibrary.
//
//go:embed helper.py
var helperSource []byte

// ExitConfig is the helper's exit code when python-miio cannot be imported.
// The process manager treats it as permanent and does not restart.
const ExitConfig = 78

// Python library defaults.
const (
	defaultPython         = "python3"
	defaultStartupTimeout = 30 * time.Second
	helperFileName        = "miio_helper.py"
	healthPingTimeout     = 5 * time.Second
)

// PythonConfig configures the python-miio helper process.
type PythonConfig struct {
	// Python is the interpreter. Default: python3.
	Python string

	// HelperPath overrides the embedded helper script.
	HelperPath string

	// PythonPath entries are prepended to PYTHONPATH, e.g. a python-miio
	// source checkout.
	PythonPath []string

	// StartupTimeout bounds the first ping, which waits for python-miio to
	// import and enumerate its device classes.
	StartupTimeout time.Duration

	// RestartDelay, MaxRestartAttempts and HealthCheckInterval are passed
	// to the process manager. Zero values keep its defaults.
	RestartDelay        time.Duration
	MaxRestartAttempts  int
	HealthCheckInterval time.Duration
}

// HelperInfo is the helper's answer to a ping.
type HelperInfo struct {
	MiioVersion   string `json:"miio_version"`
	PythonVersion string `json:"python_version"`
	Types         int    `json:"types"`
}

// PythonLibrary is a Library backed by a long-lived python-miio helper
// process speaking newline-delimited JSON over stdio. The helper handles one
// request at a time, so the library is not reentrant.
type PythonLibrary struct {
	cfg    PythonConfig
	conn   *helperConn
	proc   *process.Manager
	tmpDir string
	info   HelperInfo

	mu     sync.Mutex
	logger Logger
}

var _ Library = (*PythonLibrary)(nil)

// NewPythonLibrary creates a library; call Start before use.
func NewPythonLibrary(cfg PythonConfig, logger Logger) *PythonLibrary {
	if cfg.Python == "" {
		cfg.Python = defaultPython
	}
	if cfg.StartupTimeout == 0 {
		cfg.StartupTimeout = defaultStartupTimeout
	}
	return &PythonLibrary{
		cfg:    cfg,
		conn:   newHelperConn(logger),
		logger: logger,
	}
}

// Start launches the helper and waits until it answers a ping. The helper
// lives until Stop or until ctx is cancelled.
func (p *PythonLibrary) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.proc != nil {
		return errors.New("miio: helper already started")
	}

	script := p.cfg.HelperPath
	if script == "" {
		dir, err := os.MkdirTemp("", "miio-helper-*")
		if err != nil {
			return fmt.Errorf("creating helper directory: %w", err)
		}
		script = filepath.Join(dir, helperFileName)
		if err := os.WriteFile(script, helperSource, 0o600); err != nil {
			os.RemoveAll(dir) //nolint:errcheck // best-effort cleanup
			return fmt.Errorf("writing helper script: %w", err)
		}
		p.tmpDir = dir
	}

	pcfg := process.DefaultConfig("miio-helper", p.cfg.Python, []string{"-u", script})
	pcfg.Env = p.environment()
	pcfg.PermanentExitCodes = []int{ExitConfig}
	pcfg.OnStdio = p.conn.attach
	pcfg.HealthCheck = p.healthCheck
	if p.cfg.RestartDelay > 0 {
		pcfg.Backoff.Initial = p.cfg.RestartDelay
	}
	if p.cfg.MaxRestartAttempts > 0 {
		pcfg.MaxRestartAttempts = p.cfg.MaxRestartAttempts
	}
	if p.cfg.HealthCheckInterval > 0 {
		pcfg.HealthCheckInterval = p.cfg.HealthCheckInterval
	}
	pcfg.OnEvent = p.onProcessEvent

	proc := process.NewManager(pcfg)
	if p.logger != nil {
		proc.SetLogger(p.logger)
	}
	if err := proc.Start(ctx); err != nil {
		p.cleanup()
		return fmt.Errorf("starting miio helper: %w", err)
	}
	p.proc = proc

	pingCtx, cancel := context.WithTimeout(ctx, p.cfg.StartupTimeout)
	defer cancel()
	info, err := p.ping(pingCtx)
	if err != nil {
		p.stopLocked()
		if lastErr := proc.LastError(); lastErr != nil {
			return fmt.Errorf("miio helper not ready: %w (%v)", err, lastErr)
		}
		return fmt.Errorf("miio helper not ready: %w", err)
	}
	p.info = info

	p.logInfo("miio helper ready",
		"miio_version", info.MiioVersion,
		"python_version", info.PythonVersion,
		"types", info.Types,
	)
	return nil
}

// Stop terminates the helper. Pending calls fail with ErrHelperExited.
func (p *PythonLibrary) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopLocked()
}

func (p *PythonLibrary) stopLocked() error {
	var err error
	if p.proc != nil {
		err = p.proc.Stop()
		p.proc = nil
	}
	p.conn.close()
	p.cleanup()
	return err
}

func (p *PythonLibrary) onProcessEvent(ev process.Event) {
	switch ev.Kind {
	case process.EventRestarting:
		p.logWarn("restarting miio helper", "attempt", ev.Attempt)
	case process.EventGaveUp:
		p.logWarn("miio helper will not be restarted", "error", ev.Err)
	}
}

func (p *PythonLibrary) cleanup() {
	if p.tmpDir != "" {
		os.RemoveAll(p.tmpDir) //nolint:errcheck // best-effort cleanup
		p.tmpDir = ""
	}
}

// Call implements Library.
func (p *PythonLibrary) Call(ctx context.Context, req CallRequest) (any, error) {
	resp, err := p.request(ctx, opCall, &req)
	if err != nil {
		return nil, err
	}
	if len(resp.Result) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(resp.Result))
	dec.UseNumber()
	var result any
	if err := dec.Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	return result, nil
}

// ListTypesWithSchema implements Library.
func (p *PythonLibrary) ListTypesWithSchema(ctx context.Context) ([]LibraryType, error) {
	resp, err := p.request(ctx, opTypes, nil)
	if err != nil {
		return nil, err
	}
	var types []LibraryType
	if err := json.Unmarshal(resp.Result, &types); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	return types, nil
}

// Reentrant implements Library. The helper is single-threaded.
func (p *PythonLibrary) Reentrant() bool { return false }

// Info returns what the helper reported at startup.
func (p *PythonLibrary) Info() HelperInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.info
}

// IsRunning reports whether the helper process is up and attached.
func (p *PythonLibrary) IsRunning() bool {
	p.mu.Lock()
	proc := p.proc
	p.mu.Unlock()
	return proc != nil && proc.IsRunning() && p.conn.attached()
}

// Stats returns the helper process statistics.
func (p *PythonLibrary) Stats() process.Stats {
	p.mu.Lock()
	proc := p.proc
	p.mu.Unlock()
	if proc == nil {
		return process.Stats{Name: "miio-helper", Status: process.StatusStopped}
	}
	return proc.Stats()
}

func (p *PythonLibrary) ping(ctx context.Context) (HelperInfo, error) {
	resp, err := p.request(ctx, opPing, nil)
	if err != nil {
		return HelperInfo{}, err
	}
	var info HelperInfo
	if err := json.Unmarshal(resp.Result, &info); err != nil {
		return HelperInfo{}, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	return info, nil
}

// healthCheck pings an idle helper. A helper busy with a device call is
// judged by process liveness alone, since device timeouts can exceed the
// check deadline.
func (p *PythonLibrary) healthCheck(ctx context.Context) error {
	if p.conn.busy() {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, healthPingTimeout)
	defer cancel()
	_, err := p.ping(ctx)
	return err
}

func (p *PythonLibrary) request(ctx context.Context, op string, call *CallRequest) (helperResponse, error) {
	resp, err := p.conn.roundTrip(ctx, op, call)
	if err != nil {
		return helperResponse{}, err
	}
	if !resp.OK {
		if resp.Error == nil {
			return helperResponse{}, fmt.Errorf("%w: failure without error detail", ErrProtocol)
		}
		return helperResponse{}, resp.Error
	}
	return resp, nil
}

func (p *PythonLibrary) environment() []string {
	env := []string{"PYTHONUNBUFFERED=1", "PYTHONIOENCODING=utf-8"}
	paths := append([]string(nil), p.cfg.PythonPath...)
	if existing := os.Getenv("PYTHONPATH"); existing != "" {
		paths = append(paths, existing)
	}
	if len(paths) > 0 {
		env = append(env, "PYTHONPATH="+strings.Join(paths, string(os.PathListSeparator)))
	}
	return env
}

func (p *PythonLibrary) logInfo(msg string, keysAndValues ...any) {
	if p.logger != nil {
		p.logger.Info(msg, keysAndValues...)
	}
}

func (p *PythonLibrary) logWarn(msg string, keysAndValues ...any) {
	if p.logger != nil {
		p.logger.Warn(msg, keysAndValues...)
	}
}

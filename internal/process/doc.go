// Package process supervises a long-running child process.
//
// The miio bridge uses it to keep the python-miio helper alive: the helper
// is started with its stdin and stdout handed to the caller for a line
// protocol, restarted with exponential backoff after a crash, killed when
// its health check keeps failing, and left down when it exits with a code
// that marks a configuration problem (a missing python-miio install).
//
// The last stderr lines of each run are kept, and the newest one is carried
// in ExitError so a startup failure reports the helper's own diagnosis.
//
//	cfg := process.DefaultConfig("miio-helper", "python3", []string{"-u", script})
//	cfg.PermanentExitCodes = []int{78}
//	cfg.OnStdio = conn.attach
//	cfg.HealthCheck = ping
//
//	mgr := process.NewManager(cfg)
//	if err := mgr.Start(ctx); err != nil {
//	    return err
//	}
//	defer mgr.Stop()
package process

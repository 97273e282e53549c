package process

import (
	"errors"
	"fmt"
	"os/exec"
	"slices"
)

// RecoverableError is implemented by errors that know whether a restart
// could help.
type RecoverableError interface {
	error
	IsRecoverable() bool
}

// IsRecoverable reports whether a process failure should be retried.
// Errors are recoverable unless they implement RecoverableError and say otherwise.
func IsRecoverable(err error) bool {
	var re RecoverableError
	if errors.As(err, &re) {
		return re.IsRecoverable()
	}
	return true
}

// ExitError is a non-zero exit of a supervised process.
type ExitError struct {
	Name string
	Code int

	// Permanent is set when Code is one of Config.PermanentExitCodes.
	Permanent bool

	// LastOutput is the last line the process wrote to stderr.
	LastOutput string

	Err error
}

func (e *ExitError) Error() string {
	var msg string
	if e.Permanent {
		msg = fmt.Sprintf("%s exited with permanent failure code %d", e.Name, e.Code)
	} else {
		msg = fmt.Sprintf("%s exited with code %d", e.Name, e.Code)
	}
	if e.LastOutput != "" {
		msg += ": " + e.LastOutput
	}
	return msg
}

func (e *ExitError) Unwrap() error { return e.Err }

// IsRecoverable implements RecoverableError.
func (e *ExitError) IsRecoverable() bool { return !e.Permanent }

// classifyExit turns an exec exit status into an *ExitError. Other errors,
// such as a killed watchdog victim, pass through.
func classifyExit(name string, err error, permanent []int, lastOutput string) error {
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) || exitErr.ExitCode() < 0 {
		return err
	}
	code := exitErr.ExitCode()
	return &ExitError{
		Name:       name,
		Code:       code,
		Permanent:  slices.Contains(permanent, code),
		LastOutput: lastOutput,
		Err:        err,
	}
}

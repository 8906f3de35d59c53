package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	ps "github.com/mitchellh/go-ps"
)

// DefaultTerminateTimeout bounds the whole SIGTERM then SIGKILL sequence.
const DefaultTerminateTimeout = 2 * time.Second

const pollInterval = 50 * time.Millisecond

// ProcessTable is the host's view of other processes.
type ProcessTable interface {
	// Alive reports whether pid names a running process.
	Alive(pid int) (bool, error)

	// SameProgram reports whether pid is running and runs this program.
	// A recycled PID held by anything else is not a session owner.
	SameProgram(pid int) (bool, error)

	// Signal delivers sig to pid.
	Signal(pid int, sig os.Signal) error
}

// OSProcessTable uses the real process table.
type OSProcessTable struct {
	// Program is the executable name session owners run as. Empty means
	// the current process's executable.
	Program string
}

// Alive looks pid up in the process list.
func (OSProcessTable) Alive(pid int) (bool, error) {
	p, err := ps.FindProcess(pid)
	if err != nil {
		return false, fmt.Errorf("session: find process %d: %w", pid, err)
	}
	return p != nil, nil
}

// SameProgram compares pid's executable name with Program.
func (t OSProcessTable) SameProgram(pid int) (bool, error) {
	p, err := ps.FindProcess(pid)
	if err != nil {
		return false, fmt.Errorf("session: find process %d: %w", pid, err)
	}
	if p == nil {
		return false, nil
	}
	return sameExecutable(p.Executable(), t.program()), nil
}

func (t OSProcessTable) program() string {
	if t.Program != "" {
		return t.Program
	}
	exe, err := os.Executable()
	if err != nil {
		return ""
	}
	return filepath.Base(exe)
}

// sameExecutable matches a name as the process list reports it, which
// Linux truncates to 15 bytes, against a full executable name.
func sameExecutable(reported, program string) bool {
	if reported == "" || program == "" {
		return false
	}
	if reported == program {
		return true
	}
	return len(reported) >= 15 && strings.HasPrefix(program, reported)
}

// Signal sends sig to pid.
func (OSProcessTable) Signal(pid int, sig os.Signal) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Signal(sig)
}

// Terminate asks pid to exit with SIGTERM and escalates to SIGKILL after
// half of timeout. It returns nil once the process is gone and
// ErrStillAlive if it outlives timeout.
func Terminate(ctx context.Context, procs ProcessTable, pid int, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultTerminateTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if gone, err := signalAndWait(ctx, procs, pid, syscall.SIGTERM, timeout/2); gone || err != nil {
		return err
	}
	if gone, err := signalAndWait(ctx, procs, pid, syscall.SIGKILL, timeout); gone || err != nil {
		return err
	}
	return fmt.Errorf("%w: pid %d", ErrStillAlive, pid)
}

// signalAndWait sends sig and polls until pid is gone, wait elapses or ctx
// ends.
func signalAndWait(ctx context.Context, procs ProcessTable, pid int, sig os.Signal, wait time.Duration) (bool, error) {
	if err := procs.Signal(pid, sig); err != nil {
		if errors.Is(err, os.ErrProcessDone) || errors.Is(err, syscall.ESRCH) {
			return true, nil
		}
		return false, fmt.Errorf("session: signal %d: %w", pid, err)
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	deadline := time.Now().Add(wait)

	for {
		alive, err := procs.Alive(pid)
		if err != nil {
			return false, err
		}
		if !alive {
			return true, nil
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, nil
		case <-ticker.C:
		}
	}
}

// TerminateOwner stops the process recorded in marker and removes the
// marker. A marker naming a dead process, or a process running another
// program, is removed as stale without signalling. It returns the
// recorded PID, or ErrNoMarker.
func TerminateOwner(ctx context.Context, marker *Marker, procs ProcessTable, timeout time.Duration) (int, error) {
	owner, err := marker.Read()
	if err != nil {
		return 0, err
	}
	owned, err := procs.SameProgram(owner)
	if err != nil {
		return owner, err
	}
	if owned {
		if err := Terminate(ctx, procs, owner, timeout); err != nil {
			return owner, &ResourceBusyError{Resource: "marker " + marker.Path(), PID: owner, Err: err}
		}
	}
	if _, err := marker.RemoveIfOwner(owner); err != nil {
		return owner, err
	}
	return owner, nil
}
